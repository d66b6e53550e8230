package commands

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"warden/internal/storage"
)

// NewEventsCommand returns the events subcommand, which queries the
// persistent event log.
func NewEventsCommand() *cli.Command {
	return &cli.Command{
		Name:  "events",
		Usage: "Query the persistent event log",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "task",
				Usage: "Filter by task id",
			},
			&cli.StringFlag{
				Name:  "type",
				Usage: "Filter by event type (e.g. task.checkpoint)",
			},
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of events to show",
				Value: 50,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg := loadConfig(cmd)

			el, err := storage.Open(cfg.Storage.EventLogPath, nil)
			if err != nil {
				return fmt.Errorf("open event log: %w", err)
			}
			defer el.Close()

			logged, err := el.Query(ctx, storage.QueryOpts{
				TaskID: cmd.String("task"),
				Type:   cmd.String("type"),
				Limit:  int(cmd.Int("limit")),
			})
			if err != nil {
				return fmt.Errorf("query event log: %w", err)
			}

			if len(logged) == 0 {
				fmt.Println("no events recorded")
				return nil
			}

			for _, e := range logged {
				line := fmt.Sprintf("%s  %-20s", e.CreatedAt.Format("2006-01-02 15:04:05"), e.Type)
				if e.TaskID != "" {
					line += "  " + e.TaskID
				}
				fmt.Println(line)
			}
			return nil
		},
	}
}
