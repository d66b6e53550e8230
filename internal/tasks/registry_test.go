package tasks

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"warden/internal/gamestate"
)

func newTestRegistry() (*Registry, *gamestate.ScriptedProvider) {
	provider := gamestate.NewScriptedProvider()
	provider.Advance(&gamestate.Snapshot{
		Tick: 100,
		Player: gamestate.PlayerState{
			Position: gamestate.Point{X: 3200, Y: 3200},
		},
		Skills: []gamestate.Skill{
			{Name: "Hitpoints", Experience: 1154, Level: 10},
		},
	})
	return NewRegistry(RegistryConfig{Provider: provider}), provider
}

func waitForStatus(t *testing.T, reg *Registry, id string, want Status) StatusReport {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		report, err := reg.Status(id)
		if err == nil && report.Status == want {
			return report
		}
		time.Sleep(5 * time.Millisecond)
	}
	report, _ := reg.Status(id)
	t.Fatalf("task %s never reached %s, last seen %s", id, want, report.Status)
	return StatusReport{}
}

func TestCheckpointResumeOrder(t *testing.T) {
	reg, _ := newTestRegistry()
	runner := NewRunner(reg)

	id, _, err := runner.Start("tester", "bank trip", func(tc *Context) (string, error) {
		if res := tc.Checkpoint("at the bank"); res.Abort {
			return "", errors.New(res.Reason)
		}
		if res := tc.Checkpoint("inventory full"); res.Abort {
			return "", errors.New(res.Reason)
		}
		return "trip done", nil
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	report := waitForStatus(t, reg, id, StatusAwaitingFeedback)
	if report.CheckpointReason != "at the bank" {
		t.Fatalf("expected first checkpoint, got %q", report.CheckpointReason)
	}

	res, err := reg.ContinueTask(id, "deposit everything")
	if err != nil {
		t.Fatalf("continue: %v", err)
	}
	if !res.Continue || res.NewInstructions != "deposit everything" {
		t.Errorf("unexpected resolution %+v", res)
	}

	report = waitForStatus(t, reg, id, StatusAwaitingFeedback)
	if report.CheckpointReason != "inventory full" {
		t.Fatalf("expected second checkpoint, got %q", report.CheckpointReason)
	}
	if report.CheckpointCount != 2 {
		t.Errorf("expected checkpoint count 2, got %d", report.CheckpointCount)
	}

	if _, err := reg.ContinueTask(id, ""); err != nil {
		t.Fatalf("continue: %v", err)
	}

	report = waitForStatus(t, reg, id, StatusCompleted)
	if report.Result != "trip done" {
		t.Errorf("expected result, got %q", report.Result)
	}
}

func TestAbortWhilePaused(t *testing.T) {
	reg, _ := newTestRegistry()
	runner := NewRunner(reg)

	id, _, err := runner.Start("tester", "woodcutting", func(tc *Context) (string, error) {
		res := tc.Checkpoint("axe broke")
		if res.Abort {
			return "", fmt.Errorf("stopped: %s", res.Reason)
		}
		return "logs chopped", nil
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	waitForStatus(t, reg, id, StatusAwaitingFeedback)

	if err := reg.AbortTask(id, "player requested stop"); err != nil {
		t.Fatalf("abort: %v", err)
	}

	report := waitForStatus(t, reg, id, StatusAborted)
	if report.Status != StatusAborted {
		t.Fatalf("expected aborted, got %s", report.Status)
	}

	// The body returning an error after the abort must not flip the task
	// to failed. Give the goroutine time to settle.
	time.Sleep(50 * time.Millisecond)
	report, err = reg.Status(id)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if report.Status != StatusAborted {
		t.Errorf("abort is terminal, got %s", report.Status)
	}

	// Nor may any explicit settlement override it.
	if err := reg.CompleteTask(id, "nope"); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected invalid transition, got %v", err)
	}
	if err := reg.FailTask(id, errors.New("nope")); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected invalid transition, got %v", err)
	}
}

func TestAbortWhileRunning(t *testing.T) {
	reg, _ := newTestRegistry()
	runner := NewRunner(reg)

	release := make(chan struct{})
	resolved := make(chan CheckpointResult, 1)

	id, _, err := runner.Start("tester", "mining", func(tc *Context) (string, error) {
		<-release
		res := tc.Checkpoint("pickaxe check")
		resolved <- res
		if res.Abort {
			return "", errors.New(res.Reason)
		}
		return "ores mined", nil
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	if err := reg.AbortTask(id, "world hop"); err != nil {
		t.Fatalf("abort: %v", err)
	}
	close(release)

	select {
	case res := <-resolved:
		if !res.Abort || res.Reason != "world hop" {
			t.Errorf("expected abort resolution, got %+v", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("checkpoint never resolved after abort")
	}

	waitForStatus(t, reg, id, StatusAborted)
}

func TestContinueRejectsWrongState(t *testing.T) {
	reg, _ := newTestRegistry()

	if _, err := reg.ContinueTask("task_missing", ""); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("expected not found, got %v", err)
	}

	task, _ := reg.Register("tester", "fishing")
	if _, err := reg.ContinueTask(task.ID, ""); !errors.Is(err, ErrNotAwaitingFeedback) {
		t.Errorf("expected not awaiting feedback, got %v", err)
	}

	report, err := reg.Status(task.ID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if report.Status != StatusRunning {
		t.Errorf("rejected resume must not change state, got %s", report.Status)
	}
}

func TestAbortTerminalTaskIsNoop(t *testing.T) {
	reg, _ := newTestRegistry()

	task, _ := reg.Register("tester", "smithing")
	if err := reg.CompleteTask(task.ID, "bars smithed"); err != nil {
		t.Fatalf("complete: %v", err)
	}

	if err := reg.AbortTask(task.ID, "too late"); err != nil {
		t.Fatalf("abort on terminal task: %v", err)
	}

	report, _ := reg.Status(task.ID)
	if report.Status != StatusCompleted || report.Result != "bars smithed" {
		t.Errorf("terminal outcome must be preserved, got %s %q", report.Status, report.Result)
	}
}

func TestCleanupEvictsOnlyOldTerminal(t *testing.T) {
	reg, _ := newTestRegistry()

	done, _ := reg.Register("tester", "finished job")
	if err := reg.CompleteTask(done.ID, "ok"); err != nil {
		t.Fatalf("complete: %v", err)
	}
	live, _ := reg.Register("tester", "live job")

	if n := reg.Cleanup(time.Hour); n != 0 {
		t.Errorf("nothing old enough yet, evicted %d", n)
	}

	if n := reg.Cleanup(0); n != 1 {
		t.Errorf("expected 1 eviction, got %d", n)
	}
	if _, err := reg.Status(done.ID); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("evicted task should be gone, got %v", err)
	}
	if _, err := reg.Status(live.ID); err != nil {
		t.Errorf("running task must survive cleanup: %v", err)
	}

	// Idempotent: a second sweep finds nothing.
	if n := reg.Cleanup(0); n != 0 {
		t.Errorf("expected 0 evictions on second sweep, got %d", n)
	}
}

func TestListTasks(t *testing.T) {
	reg, _ := newTestRegistry()
	runner := NewRunner(reg)

	first, _ := reg.Register("alice", "first")

	id, _, err := runner.Start("bob", "second", func(tc *Context) (string, error) {
		res := tc.Checkpoint("waiting")
		if res.Abort {
			return "", errors.New(res.Reason)
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	waitForStatus(t, reg, id, StatusAwaitingFeedback)

	infos := reg.ListTasks()
	if len(infos) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(infos))
	}
	byID := make(map[string]TaskInfo)
	for _, info := range infos {
		byID[info.ID] = info
	}
	if !byID[id].NeedsFeedback {
		t.Error("suspended task should need feedback")
	}
	if byID[first.ID].NeedsFeedback {
		t.Error("running task should not need feedback")
	}

	if _, err := reg.ContinueTask(id, ""); err != nil {
		t.Fatalf("continue: %v", err)
	}
	waitForStatus(t, reg, id, StatusCompleted)
}

func TestRunnerRecoversPanic(t *testing.T) {
	reg, _ := newTestRegistry()
	runner := NewRunner(reg)

	id, _, err := runner.Start("tester", "buggy", func(tc *Context) (string, error) {
		panic("index out of range")
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	report := waitForStatus(t, reg, id, StatusFailed)
	if !strings.Contains(report.Error, "panic") {
		t.Errorf("expected panic in error, got %q", report.Error)
	}
}

func TestRunnerFailsOnError(t *testing.T) {
	reg, _ := newTestRegistry()
	runner := NewRunner(reg)

	id, _, err := runner.Start("tester", "doomed", func(tc *Context) (string, error) {
		return "", errors.New("out of supplies")
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	report := waitForStatus(t, reg, id, StatusFailed)
	if report.Error != "out of supplies" {
		t.Errorf("expected error message, got %q", report.Error)
	}
}

func TestCountsTracksLifecycle(t *testing.T) {
	reg, _ := newTestRegistry()
	runner := NewRunner(reg)

	reg.Register("tester", "running one")

	id, _, err := runner.Start("tester", "paused one", func(tc *Context) (string, error) {
		res := tc.Checkpoint("pause")
		if res.Abort {
			return "", errors.New(res.Reason)
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	waitForStatus(t, reg, id, StatusAwaitingFeedback)

	running, awaiting := reg.Counts()
	if running != 1 || awaiting != 1 {
		t.Errorf("expected 1 running and 1 awaiting, got %d and %d", running, awaiting)
	}

	if _, err := reg.ContinueTask(id, ""); err != nil {
		t.Fatalf("continue: %v", err)
	}
	waitForStatus(t, reg, id, StatusCompleted)
}
