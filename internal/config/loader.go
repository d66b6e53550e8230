package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/marcozac/go-jsonc"
)

var envTemplateRe = regexp.MustCompile(`\$\{\{\s*\.Env\.(\w+)\s*\}\}`)

// Load reads a JSONC config file, strips comments, expands ${{ .Env.VAR }} templates,
// unmarshals it into Config, and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand environment variable templates (before stripping, since templates are in strings)
	expanded := expandEnvTemplates(string(data))

	// Strip JSONC comments and unmarshal
	var cfg Config
	if err := jsonc.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// Default returns the configuration used when no config file exists.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// expandEnvTemplates replaces ${{ .Env.VAR }} with the env var value.
func expandEnvTemplates(s string) string {
	return envTemplateRe.ReplaceAllStringFunc(s, func(match string) string {
		parts := envTemplateRe.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		return os.Getenv(parts[1])
	})
}

// applyDefaults fills in zero-value fields with sensible defaults.
func applyDefaults(cfg *Config) {
	if cfg.Engine.ProgressHistoryLimit == 0 {
		cfg.Engine.ProgressHistoryLimit = 50
	}
	if cfg.Engine.MonitorInterval == 0 {
		cfg.Engine.MonitorInterval = Duration(15 * time.Second)
	}
	if cfg.Engine.RetentionWindow == 0 {
		cfg.Engine.RetentionWindow = Duration(time.Hour)
	}
	if cfg.Engine.CleanupSchedule == "" {
		cfg.Engine.CleanupSchedule = "*/5 * * * *"
	}
	if cfg.Events.BufferSize == 0 {
		cfg.Events.BufferSize = 1024
	}
	if cfg.Storage.EventLogPath == "" {
		cfg.Storage.EventLogPath = filepath.Join(WardenPath(), "events.db")
	}
	if cfg.Storage.Retention == 0 {
		cfg.Storage.Retention = Duration(7 * 24 * time.Hour)
	}
	if cfg.Heartbeat.Path == "" {
		cfg.Heartbeat.Path = filepath.Join(WardenPath(), "heartbeat.json")
	}
	if cfg.Heartbeat.Interval == 0 {
		cfg.Heartbeat.Interval = Duration(30 * time.Second)
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}
