package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"

	"warden/internal/heartbeat"
)

// NewStatusCommand returns the status subcommand.
func NewStatusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show Warden engine status",
		Action: func(_ context.Context, cmd *cli.Command) error {
			cfg := loadConfig(cmd)

			status, hb, err := heartbeat.Check(cfg.Heartbeat.Path, 2*time.Minute)
			if err != nil {
				return fmt.Errorf("check heartbeat: %w", err)
			}

			switch status {
			case heartbeat.StatusAlive:
				fmt.Printf("Engine: ALIVE (PID %d, uptime %s)\n", hb.PID, hb.Uptime)
				fmt.Printf("Tasks: %d running, %d awaiting feedback\n", hb.RunningTasks, hb.AwaitingFeedback)
			case heartbeat.StatusStale:
				fmt.Printf("Engine: STALE (PID %d, last heartbeat %s ago)\n",
					hb.PID, time.Since(hb.Timestamp).Truncate(time.Second))
			case heartbeat.StatusDead:
				fmt.Println("Engine: NOT RUNNING")
			}

			return nil
		},
	}
}
