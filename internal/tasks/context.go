package tasks

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"warden/internal/diff"
	"warden/internal/events"
	"warden/internal/gamestate"
)

const (
	// defaultProgressLimit bounds the progress history.
	defaultProgressLimit = 50

	// defaultMonitorInterval is the minimum spacing between background
	// monitor reports.
	defaultMonitorInterval = 15 * time.Second

	// recentProgressTail is how many reports a status composite carries.
	recentProgressTail = 10
)

// CheckpointHandler suspends the calling task until the controller
// produces a result. A nil handler puts the context in direct-execution
// mode where every checkpoint is an immediate continue.
type CheckpointHandler func(reason string, status StatusReport) (CheckpointResult, error)

// ContextConfig holds dependencies for creating a task Context.
type ContextConfig struct {
	TaskID          string
	Description     string
	Provider        gamestate.Provider
	Bus             *events.Bus // optional
	Handler         CheckpointHandler
	ProgressLimit   int
	MonitorInterval time.Duration
}

// Context is the single per-task object a task body interacts with. It
// owns the snapshots taken at task start and at the last checkpoint, and
// carries the liveness flag task bodies must poll at loop boundaries.
type Context struct {
	taskID          string
	description     string
	provider        gamestate.Provider
	bus             *events.Bus
	handler         CheckpointHandler
	progressLimit   int
	monitorInterval time.Duration
	startedAt       time.Time

	mu                 sync.Mutex
	liveness           Status
	abortReason        string
	action             string
	startSnapshot      *gamestate.Snapshot
	checkpointSnapshot *gamestate.Snapshot
	checkpointCount    int
	progress           []ProgressReport
	transcript         []string
	lastMonitor        time.Time
	finished           bool
	unsubscribe        func()
}

// NewContext creates a Context and subscribes it to world updates. The
// caller must eventually call Cleanup.
func NewContext(cfg ContextConfig) *Context {
	if cfg.ProgressLimit <= 0 {
		cfg.ProgressLimit = defaultProgressLimit
	}
	if cfg.MonitorInterval <= 0 {
		cfg.MonitorInterval = defaultMonitorInterval
	}

	now := time.Now()
	c := &Context{
		taskID:          cfg.TaskID,
		description:     cfg.Description,
		provider:        cfg.Provider,
		bus:             cfg.Bus,
		handler:         cfg.Handler,
		progressLimit:   cfg.ProgressLimit,
		monitorInterval: cfg.MonitorInterval,
		startedAt:       now,
		liveness:        StatusRunning,
		lastMonitor:     now,
	}

	if c.provider != nil {
		c.startSnapshot = c.provider.CurrentSnapshot()
		c.checkpointSnapshot = c.startSnapshot
		c.unsubscribe = c.provider.Subscribe(c.onWorldUpdate)
	}
	return c
}

// TaskID returns the owning task's id.
func (c *Context) TaskID() string { return c.taskID }

// SetAction records the current high-level action and emits a starting
// progress report.
func (c *Context) SetAction(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.action = name
	c.emitLocked("starting", "", nil)
}

// ReportProgress appends to the bounded progress history and mirrors the
// detail into the transcript. It never blocks and never checks liveness.
func (c *Context) ReportProgress(detail string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.emitLocked("working", detail, nil)
}

// Log appends a line to the task transcript.
func (c *Context) Log(msg string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.appendLogLocked("info", msg, args...)
}

// Warn appends a warning line to the task transcript.
func (c *Context) Warn(msg string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.appendLogLocked("warn", msg, args...)
}

// Transcript returns a copy of the captured log lines.
func (c *Context) Transcript() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.transcript))
	copy(out, c.transcript)
	return out
}

// Checkpoint is the suspension primitive. It snapshots status, advances
// the last-checkpoint snapshot pointer, and hands control to the
// registered handler. With no handler it is a pass-through continue. A
// handler failure degrades to continue: supervision must never crash the
// supervised task.
func (c *Context) Checkpoint(reason string) CheckpointResult {
	c.mu.Lock()
	c.checkpointCount++
	c.appendLogLocked("info", "checkpoint: "+reason)
	statusSnap := c.reportLocked(StatusAwaitingFeedback)
	statusSnap.CheckpointReason = reason
	if c.provider != nil {
		c.checkpointSnapshot = c.provider.CurrentSnapshot()
	}
	handler := c.handler
	c.mu.Unlock()

	if handler == nil {
		return CheckpointResult{Continue: true}
	}

	res, err := invokeHandler(handler, reason, statusSnap)
	if err != nil {
		slog.Warn("checkpoint handler failed, continuing",
			"task_id", c.taskID, "reason", reason, "error", err)
		c.Log("checkpoint handler failed: %v", err)
		return CheckpointResult{Continue: true}
	}

	if res.Abort {
		c.abort(res.Reason)
	}
	return res
}

func invokeHandler(handler CheckpointHandler, reason string, status StatusReport) (res CheckpointResult, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("checkpoint handler panic: %v", p)
		}
	}()
	return handler(reason, status)
}

// ShouldContinue reports whether the task body should keep going. Task
// bodies must poll this at loop boundaries; nothing ever preempts them.
func (c *Context) ShouldContinue() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.liveness == StatusRunning
}

// AbortReason returns the recorded abort reason, if any.
func (c *Context) AbortReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.abortReason
}

// abort latches the liveness flag. Irreversible.
func (c *Context) abort(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.liveness != StatusRunning {
		return
	}
	c.liveness = StatusAborted
	c.abortReason = reason
	c.appendLogLocked("warn", "aborted: "+reason)
}

// DiffFromStart diffs the start snapshot against the live world.
func (c *Context) DiffFromStart() diff.Diff {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.diffFromLocked(c.startSnapshot)
}

// DiffSinceCheckpoint diffs the last checkpoint snapshot against the
// live world.
func (c *Context) DiffSinceCheckpoint() diff.Diff {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.diffFromLocked(c.checkpointSnapshot)
}

func (c *Context) diffFromLocked(base *gamestate.Snapshot) diff.Diff {
	if c.provider == nil {
		return diff.Diff{}
	}
	return diff.Compute(base, c.provider.CurrentSnapshot())
}

// Report builds the point-in-time status composite, labeled with the
// lifecycle status the registry holds for this task.
func (c *Context) Report(lifecycle Status) StatusReport {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reportLocked(lifecycle)
}

func (c *Context) reportLocked(lifecycle Status) StatusReport {
	var current *gamestate.Snapshot
	if c.provider != nil {
		current = c.provider.CurrentSnapshot()
	}

	tail := c.progress
	if len(tail) > recentProgressTail {
		tail = tail[len(tail)-recentProgressTail:]
	}
	recent := make([]ProgressReport, len(tail))
	copy(recent, tail)

	return StatusReport{
		TaskID:              c.taskID,
		Description:         c.description,
		Status:              lifecycle,
		ElapsedMs:           time.Since(c.startedAt).Milliseconds(),
		CheckpointCount:     c.checkpointCount,
		DiffFromStart:       diff.Compute(c.startSnapshot, current),
		DiffSinceCheckpoint: diff.Compute(c.checkpointSnapshot, current),
		RecentProgress:      recent,
		WorldState:          renderWorldState(current),
	}
}

// Complete emits the final progress report for a successful run. Safe to
// call once; later calls are ignored.
func (c *Context) Complete(result string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finished {
		return
	}
	c.finished = true
	if c.liveness == StatusRunning {
		c.liveness = StatusCompleted
	}
	c.emitLocked("completed", result, c.diffFromLocked(c.startSnapshot).Summary)
}

// Fail emits the final progress report for a failed run. Safe to call
// once; later calls are ignored.
func (c *Context) Fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.finished {
		return
	}
	c.finished = true
	if c.liveness == StatusRunning {
		c.liveness = StatusFailed
	}
	detail := ""
	if err != nil {
		detail = err.Error()
	}
	c.emitLocked("failed", detail, nil)
}

// Cleanup releases the world-update subscription. Safe to call multiple
// times and after termination.
func (c *Context) Cleanup() {
	c.mu.Lock()
	u := c.unsubscribe
	c.unsubscribe = nil
	c.mu.Unlock()

	if u != nil {
		u()
	}
}

// onWorldUpdate opportunistically reports the non-empty diff since the
// last checkpoint, at most once per monitor interval, so long-running
// stretches between checkpoints stay visible to the controller.
func (c *Context) onWorldUpdate(s *gamestate.Snapshot) {
	c.mu.Lock()
	if c.liveness != StatusRunning || c.finished {
		c.mu.Unlock()
		return
	}
	if time.Since(c.lastMonitor) < c.monitorInterval {
		c.mu.Unlock()
		return
	}
	base := c.checkpointSnapshot
	c.mu.Unlock()

	d := diff.Compute(base, s)
	if d.Empty() {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastMonitor = time.Now()
	c.emitLocked("monitoring", "", d.Summary)
}

// emitLocked appends a progress report (bounded), mirrors it into the
// transcript, and publishes it to the bus. Callers hold c.mu.
func (c *Context) emitLocked(status, detail string, summary []string) {
	report := ProgressReport{
		Ts:          time.Now(),
		Action:      c.action,
		Status:      status,
		Detail:      detail,
		DiffSummary: summary,
	}
	c.progress = append(c.progress, report)
	if len(c.progress) > c.progressLimit {
		c.progress = c.progress[len(c.progress)-c.progressLimit:]
	}

	line := status
	if c.action != "" {
		line += " " + c.action
	}
	if detail != "" {
		line += ": " + detail
	}
	c.transcript = append(c.transcript, fmt.Sprintf("%s %s", report.Ts.Format(time.RFC3339), line))

	if c.bus != nil {
		c.bus.Publish(events.NewTypedEventForTask(events.SourceTask, events.TaskProgressPayload{
			TaskID:  c.taskID,
			Action:  c.action,
			Status:  status,
			Detail:  detail,
			Summary: summary,
		}, c.taskID))
	}
}

// appendLogLocked appends a formatted transcript line and publishes it.
// Callers hold c.mu.
func (c *Context) appendLogLocked(level, msg string, args ...any) {
	if len(args) > 0 {
		msg = fmt.Sprintf(msg, args...)
	}
	c.transcript = append(c.transcript, fmt.Sprintf("%s [%s] %s", time.Now().Format(time.RFC3339), level, msg))

	if c.bus != nil {
		c.bus.Publish(events.NewTypedEventForTask(events.SourceTask, events.TaskLogPayload{
			TaskID: c.taskID,
			Level:  level,
			Line:   msg,
		}, c.taskID))
	}
}

// renderWorldState formats the live world state for status composites.
func renderWorldState(s *gamestate.Snapshot) string {
	if s == nil {
		return "no world state observed"
	}

	hp := "?"
	if sk, ok := s.SkillByName("Hitpoints"); ok {
		hp = fmt.Sprintf("%d", sk.Level)
	}

	state := fmt.Sprintf("tick %d | pos (%d, %d) | hp %s | %d inventory slot(s) | %d npc(s) nearby",
		s.Tick, s.Player.Position.X, s.Player.Position.Y, hp, len(s.Inventory), len(s.NPCs))
	if s.Player.InCombat {
		state += " | in combat"
	}
	if s.DialogOpen {
		state += " | dialog open"
	}
	if s.ShopOpen {
		state += " | shop open"
	}
	return state
}
