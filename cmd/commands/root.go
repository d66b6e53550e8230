package commands

import (
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"warden/internal/config"
)

// NewRootCommand returns the top-level CLI command.
func NewRootCommand() *cli.Command {
	return &cli.Command{
		Name:  "warden",
		Usage: "Checkpoint-based supervision for long-running game automation tasks",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to config file",
				Value:   config.ConfigPath(),
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable debug logging",
			},
		},
		Commands: []*cli.Command{
			NewDemoCommand(),
			NewStatusCommand(),
			NewEventsCommand(),
		},
	}
}

// loadConfig reads the config file named by the --config flag, falling
// back to defaults when it does not exist, and applies log settings.
func loadConfig(cmd *cli.Command) *config.Config {
	configPath := cmd.String("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Warn("config not found, using defaults", "path", configPath, "error", err)
		cfg = config.Default()
	}

	level := parseLevel(cfg.Log.Level)
	if cmd.Bool("debug") {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	return cfg
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
