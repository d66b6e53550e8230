package config

import (
	"os"
	"path/filepath"
)

// WardenPath returns the root directory for Warden data.
// It uses $WARDEN_PATH if set, otherwise defaults to ~/.warden.
func WardenPath() string {
	if v := os.Getenv("WARDEN_PATH"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".warden")
	}
	return filepath.Join(home, ".warden")
}

// ConfigPath returns the path to the Warden config file.
func ConfigPath() string {
	return filepath.Join(WardenPath(), "config.jsonc")
}

// DotenvPath returns the path to the Warden .env file.
func DotenvPath() string {
	return filepath.Join(WardenPath(), ".env")
}
