package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/urfave/cli/v3"

	"warden/internal/events"
	"warden/internal/gamestate"
	"warden/internal/heartbeat"
	"warden/internal/scheduler"
	"warden/internal/storage"
	"warden/internal/tasks"
)

// NewDemoCommand returns the demo subcommand. It runs a scripted fishing
// trip through the full engine: world updates, progress reports, one
// checkpoint, a supervised resume, and a final diff summary.
func NewDemoCommand() *cli.Command {
	return &cli.Command{
		Name:   "demo",
		Usage:  "Run a scripted supervision scenario",
		Action: runDemo,
	}
}

func runDemo(ctx context.Context, cmd *cli.Command) error {
	cfg := loadConfig(cmd)

	bus := events.NewBus(cfg.Events.BufferSize)
	defer bus.Close()

	el, err := storage.Open(cfg.Storage.EventLogPath, bus)
	if err != nil {
		slog.Warn("event log disabled", "error", err)
		el = nil
	} else {
		defer el.Close()
	}

	provider := gamestate.NewScriptedProvider()
	stopBridge := provider.Subscribe(func(s *gamestate.Snapshot) {
		bus.Publish(events.NewTypedEvent(events.SourceWorld, events.WorldUpdatedPayload{Tick: s.Tick}))
	})
	defer stopBridge()

	script := demoScript()
	provider.Advance(script[0])

	registry := tasks.NewRegistry(tasks.RegistryConfig{
		Provider:        provider,
		Bus:             bus,
		ProgressLimit:   cfg.Engine.ProgressHistoryLimit,
		MonitorInterval: cfg.Engine.MonitorInterval.Duration(),
	})
	runner := tasks.NewRunner(registry)

	hb := heartbeat.NewWriter(cfg.Heartbeat.Path, cfg.Heartbeat.Interval.Duration(), registry.Counts)
	hb.Start()
	defer hb.Stop()

	sched := scheduler.New()
	if err := sched.Add("reap-tasks", cfg.Engine.CleanupSchedule, func() {
		registry.Cleanup(cfg.Engine.RetentionWindow.Duration())
	}); err != nil {
		return err
	}
	if el != nil {
		if err := sched.Add("prune-events", cfg.Engine.CleanupSchedule, func() {
			el.Prune(cfg.Storage.Retention.Duration())
		}); err != nil {
			return err
		}
	}
	sched.Start()
	defer sched.Stop()

	unsubscribe := bus.Subscribe(func(e events.Event) {
		if p, ok := events.ExtractPayload[events.TaskProgressPayload](e); ok {
			fmt.Printf("  [%s] %s %s\n", p.TaskID, p.Status, p.Detail)
			for _, line := range p.Summary {
				fmt.Printf("      %s\n", line)
			}
		}
	}, events.EventTaskProgress)
	defer unsubscribe()

	id, _, err := runner.Start("demo", "catch lobsters at Karamja", demoProcedure(provider, script))
	if err != nil {
		return err
	}
	fmt.Printf("started %s\n", id)

	report, err := waitForTask(ctx, registry, id, tasks.StatusAwaitingFeedback)
	if err != nil {
		return err
	}
	fmt.Printf("\ncheckpoint: %s\n", report.CheckpointReason)
	fmt.Printf("world: %s\n", report.WorldState)
	fmt.Println("since start:")
	for _, line := range report.DiffFromStart.Summary {
		fmt.Printf("  %s\n", line)
	}

	if _, err := registry.ContinueTask(id, "bank at Port Sarim"); err != nil {
		return err
	}
	fmt.Println("\nresumed with new instructions")

	report, err = waitForTask(ctx, registry, id, tasks.StatusCompleted)
	if err != nil {
		return err
	}
	fmt.Printf("\nresult: %s (%.1fs)\n", report.Result, float64(report.ElapsedMs)/1000)
	return nil
}

// demoProcedure simulates a fishing script acting on the world. Each
// iteration advances the scripted snapshots as if the game had moved on.
func demoProcedure(provider *gamestate.ScriptedProvider, script []*gamestate.Snapshot) tasks.Procedure {
	return func(tc *tasks.Context) (string, error) {
		tc.SetAction("fishing")

		for _, snap := range script[1 : len(script)-1] {
			if !tc.ShouldContinue() {
				return "", errors.New(tc.AbortReason())
			}
			provider.Advance(snap)
			tc.ReportProgress(fmt.Sprintf("%d lobsters caught", countLobsters(snap)))
			time.Sleep(200 * time.Millisecond)
		}

		res := tc.Checkpoint("inventory full")
		if res.Abort {
			return "", errors.New(res.Reason)
		}
		if res.NewInstructions != "" {
			tc.Log("new instructions: %s", res.NewInstructions)
		}

		tc.SetAction("banking")
		provider.Advance(script[len(script)-1])
		return "26 lobsters banked", nil
	}
}

func countLobsters(s *gamestate.Snapshot) int {
	for _, it := range s.Inventory {
		if it.Name == "Raw lobster" {
			return it.Count
		}
	}
	return 0
}

// demoScript is the canned world history the demo plays back.
func demoScript() []*gamestate.Snapshot {
	at := gamestate.Point{X: 2924, Y: 3147}
	skills := func(xp int64, level int) []gamestate.Skill {
		return []gamestate.Skill{
			{Name: "Fishing", Experience: xp, Level: level},
			{Name: "Hitpoints", Experience: 1154, Level: 10},
		}
	}
	inv := func(lobsters int) []gamestate.Item {
		items := []gamestate.Item{{ID: 303, Name: "Lobster pot", Count: 1}}
		if lobsters > 0 {
			items = append(items, gamestate.Item{ID: 377, Name: "Raw lobster", Count: lobsters})
		}
		return items
	}

	return []*gamestate.Snapshot{
		{Tick: 100, Player: gamestate.PlayerState{Position: at}, Skills: skills(50000, 41), Inventory: inv(0)},
		{Tick: 150, Player: gamestate.PlayerState{Position: at}, Skills: skills(50810, 41), Inventory: inv(9),
			Messages: []gamestate.Message{{Tick: 140, Text: "You catch a lobster."}}},
		{Tick: 200, Player: gamestate.PlayerState{Position: at}, Skills: skills(51620, 41), Inventory: inv(18)},
		{Tick: 250, Player: gamestate.PlayerState{Position: at}, Skills: skills(52340, 42), Inventory: inv(26)},
		{Tick: 320, Player: gamestate.PlayerState{Position: gamestate.Point{X: 3045, Y: 3234}},
			Skills: skills(52340, 42), Inventory: inv(0)},
	}
}

// waitForTask polls the registry until the task reaches the wanted
// status, the task terminates some other way, or ctx is done.
func waitForTask(ctx context.Context, registry *tasks.Registry, id string, want tasks.Status) (tasks.StatusReport, error) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return tasks.StatusReport{}, ctx.Err()
		case <-ticker.C:
			report, err := registry.Status(id)
			if err != nil {
				return tasks.StatusReport{}, err
			}
			if report.Status == want {
				return report, nil
			}
			if report.Status.Terminal() {
				return report, fmt.Errorf("task %s ended as %s: %s", id, report.Status, report.Error)
			}
		}
	}
}
