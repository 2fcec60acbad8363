package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/me/blocksched/internal/sequencer"
	"github.com/me/blocksched/internal/store"
	"github.com/me/blocksched/pkg/model"
)

// Config holds scheduler configuration.
type Config struct {
	// StepTime is the interval between ticks.
	StepTime time.Duration
	// MaxTicks stops RunUntilIdle after this many ticks; 0 means no limit.
	MaxTicks int
	// AutoResume makes RunUntilIdle log a breakpoint pause and continue
	// instead of waiting for a debugger to step.
	AutoResume bool
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{StepTime: time.Second / 60}
}

// Loop owns a Runtime and its Sequencer. Every access to the runtime goes
// through the loop's mutex: ticks, debugger commands and snapshots.
type Loop struct {
	rt     *sequencer.Runtime
	seq    *sequencer.Sequencer
	store  store.Store
	config Config
	logger *slog.Logger

	mu      sync.Mutex
	runID   string
	ticks   int
	retired int
	state   model.RunState

	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// NewLoop creates a new scheduler loop. st may be nil, in which case nothing
// is persisted.
func NewLoop(rt *sequencer.Runtime, seq *sequencer.Sequencer, st store.Store, cfg Config, logger *slog.Logger) *Loop {
	if cfg.StepTime <= 0 {
		cfg.StepTime = DefaultConfig().StepTime
	}
	return &Loop{
		rt:     rt,
		seq:    seq,
		store:  st,
		config: cfg,
		logger: logger.With("component", "scheduler"),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Begin records a new run of program and returns its id.
func (l *Loop) Begin(ctx context.Context, program string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.runID = "run_" + uuid.New().String()
	l.ticks = 0
	l.retired = 0
	l.state = model.RunStateRunning
	if l.store != nil {
		run := &model.Run{
			ID:        l.runID,
			Program:   program,
			State:     model.RunStateRunning,
			CreatedAt: time.Now().UTC(),
		}
		if err := l.store.CreateRun(ctx, run); err != nil {
			return "", fmt.Errorf("create run: %w", err)
		}
	}
	l.logger.Info("run started", "run_id", l.runID, "program", program, "threads", len(l.rt.Threads))
	return l.runID, nil
}

// Start begins the tick loop. Blocks until ctx is cancelled or Stop is called.
// The run is finished on the way out.
func (l *Loop) Start(ctx context.Context) error {
	l.logger.Info("scheduler started", "step_time", l.config.StepTime)
	ticker := time.NewTicker(l.config.StepTime)
	defer ticker.Stop()
	defer close(l.doneCh)

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("scheduler stopping (context cancelled)")
			l.finish(context.WithoutCancel(ctx), l.endState())
			return ctx.Err()
		case <-l.stopCh:
			l.logger.Info("scheduler stopping (stop called)")
			l.finish(ctx, l.endState())
			return nil
		case <-ticker.C:
			if err := l.Tick(ctx); err != nil {
				l.logger.Error("tick error", "error", err)
			}
		}
	}
}

// Stop gracefully shuts down the scheduler and waits for the current tick to finish.
func (l *Loop) Stop() error {
	l.stopOnce.Do(func() { close(l.stopCh) })
	<-l.doneCh
	return nil
}

// Tick steps every thread once, clears the redraw request and records the
// threads that finished.
func (l *Loop) Tick(ctx context.Context) error {
	l.mu.Lock()
	retired := l.seq.StepThreads()
	l.rt.RedrawRequested = false
	l.ticks++
	l.retired += len(retired)
	tick, runID := l.ticks, l.runID
	records := l.retiredRecords(retired, tick)
	l.mu.Unlock()

	for _, th := range retired {
		l.logger.Debug("thread retired", "thread_id", th.ID, "top_block", th.TopBlock, "killed", th.IsKilled(), "tick", tick)
	}

	if l.store == nil || runID == "" || len(records) == 0 {
		return nil
	}
	if err := l.store.RecordRetired(ctx, records); err != nil {
		return fmt.Errorf("record retired: %w", err)
	}
	return nil
}

// RunUntilIdle ticks at StepTime until no thread is left, MaxTicks is reached
// or ctx is cancelled, then finishes the run. In turbo mode ticks are not
// paced.
func (l *Loop) RunUntilIdle(ctx context.Context) (model.RunState, error) {
	ticker := time.NewTicker(l.config.StepTime)
	defer ticker.Stop()

	for {
		if l.Idle() {
			return l.finish(ctx, model.RunStateCompleted)
		}
		if l.config.MaxTicks > 0 && l.Ticks() >= l.config.MaxTicks {
			l.logger.Warn("tick limit reached", "max_ticks", l.config.MaxTicks, "threads", l.ThreadCount())
			return l.finish(ctx, model.RunStateStopped)
		}

		if err := l.Tick(ctx); err != nil {
			if _, ferr := l.finish(ctx, model.RunStateFailed); ferr != nil {
				err = errors.Join(err, ferr)
			}
			return model.RunStateFailed, err
		}
		if l.config.AutoResume {
			l.resumeIfPaused()
		}

		if l.turbo() {
			if err := ctx.Err(); err != nil {
				l.finish(context.WithoutCancel(ctx), model.RunStateStopped)
				return model.RunStateStopped, err
			}
			continue
		}
		select {
		case <-ctx.Done():
			l.finish(context.WithoutCancel(ctx), model.RunStateStopped)
			return model.RunStateStopped, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Do runs fn with exclusive access to the runtime, between ticks.
func (l *Loop) Do(fn func(rt *sequencer.Runtime)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fn(l.rt)
}

// Idle reports whether every thread has finished.
func (l *Loop) Idle() bool {
	return l.ThreadCount() == 0
}

// ThreadCount returns the number of live threads.
func (l *Loop) ThreadCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.rt.Threads)
}

// Retired returns the number of threads retired so far.
func (l *Loop) Retired() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.retired
}

// Ticks returns the number of ticks run so far.
func (l *Loop) Ticks() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ticks
}

// RunID returns the id of the current run, empty before Begin.
func (l *Loop) RunID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.runID
}

// Threads returns a snapshot of the live threads in scheduling order.
func (l *Loop) Threads() []model.ThreadInfo {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]model.ThreadInfo, 0, len(l.rt.Threads))
	for _, th := range l.rt.Threads {
		info := model.ThreadInfo{
			ID:       th.ID,
			Target:   targetName(th),
			TopBlock: string(th.TopBlock),
			Status:   th.Status.String(),
			Current:  th == l.rt.CurrentThread,
		}
		for _, e := range th.Stack() {
			info.Stack = append(info.Stack, e.String())
		}
		if f := th.PeekFrame(); f != nil {
			info.Warp = f.WarpMode
		}
		out = append(out, info)
	}
	return out
}

// DebugState returns the debugger and mode flags.
func (l *Loop) DebugState() model.DebugState {
	l.mu.Lock()
	defer l.mu.Unlock()

	ds := model.DebugState{
		SingleStep:  l.rt.SingleStepMode,
		Breakpoints: l.rt.BreakpointsEnabled,
		Turbo:       l.rt.TurboMode,
		Threads:     len(l.rt.Threads),
		Tick:        l.ticks,
	}
	if l.rt.CurrentThread != nil {
		ds.CurrentThread = l.rt.CurrentThread.ID
	}
	return ds
}

func (l *Loop) resumeIfPaused() {
	l.mu.Lock()
	defer l.mu.Unlock()
	rt := l.rt
	if !rt.SingleStepMode {
		return
	}
	var stack []string
	thread := ""
	if th := rt.CurrentThread; th != nil {
		thread = th.ID
		for _, e := range th.Stack() {
			stack = append(stack, e.String())
		}
	}
	l.logger.Info("paused at breakpoint, resuming", "thread_id", thread, "stack", stack, "tick", l.ticks)
	rt.SingleStepMode = false
	rt.DoStep = false
	rt.CurrentThread = nil
}

func (l *Loop) turbo() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rt.TurboMode
}

func (l *Loop) endState() model.RunState {
	if l.Idle() {
		return model.RunStateCompleted
	}
	return model.RunStateStopped
}

// finish moves the run into state once; later calls return the state
// already reached.
func (l *Loop) finish(ctx context.Context, state model.RunState) (model.RunState, error) {
	l.mu.Lock()
	if l.state != model.RunStateRunning {
		defer l.mu.Unlock()
		if l.state == "" {
			return state, nil
		}
		return l.state, nil
	}
	l.state = state
	runID, ticks := l.runID, l.ticks
	l.mu.Unlock()

	l.logger.Info("run finished", "run_id", runID, "state", state, "ticks", ticks)
	if l.store == nil {
		return state, nil
	}
	if err := l.store.FinishRun(ctx, runID, state, ticks, time.Now().UTC()); err != nil {
		return state, fmt.Errorf("finish run: %w", err)
	}
	return state, nil
}

func (l *Loop) retiredRecords(threads []*sequencer.Thread, tick int) []*model.RetiredThread {
	if len(threads) == 0 {
		return nil
	}
	now := time.Now().UTC()
	out := make([]*model.RetiredThread, 0, len(threads))
	for _, th := range threads {
		out = append(out, &model.RetiredThread{
			RunID:     l.runID,
			ThreadID:  th.ID,
			Target:    targetName(th),
			TopBlock:  string(th.TopBlock),
			Killed:    th.IsKilled(),
			Tick:      tick,
			RetiredAt: now,
		})
	}
	return out
}

func targetName(th *sequencer.Thread) string {
	if th.Target == nil {
		return ""
	}
	return th.Target.Name()
}
