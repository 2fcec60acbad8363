// Package sequencer schedules block-program threads. Each tick it walks the
// runtime's thread list, stepping every runnable thread through the
// primitive executor until the tick's work budget is spent or no thread is
// left running.
package sequencer

import (
	"context"
	"log/slog"
	"time"

	"github.com/me/blocksched/internal/graph"
	"github.com/me/blocksched/internal/logging"
)

const (
	// DefaultWarpBudget bounds how long a warped thread may keep re-entering
	// itself before it must hand control back.
	DefaultWarpBudget = 500 * time.Millisecond

	// workFraction is the share of the step time spent running threads; the
	// rest is left to the caller (rendering, I/O).
	workFraction = 0.75
)

// Executor performs the effect of the block on top of a thread's stack. It
// may change the thread's status, push or pop levels, or leave both alone to
// mean "advance to the next block". It must keep stack and frames the same
// length, which holds as long as it only uses Thread methods.
type Executor interface {
	Execute(s *Sequencer, th *Thread)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(s *Sequencer, th *Thread)

// Execute calls f(s, th).
func (f ExecutorFunc) Execute(s *Sequencer, th *Thread) { f(s, th) }

// Graph is the read-only view of the program the sequencer needs.
type Graph interface {
	Block(id graph.BlockID) (*graph.Block, bool)
	Branch(id graph.BlockID, n int) (graph.BlockID, bool)
	ProcedureDefinition(procCode string) (graph.BlockID, bool)
}

// Option configures a Sequencer.
type Option func(*Sequencer)

// WithClock replaces the wall clock, mostly for tests.
func WithClock(c Clock) Option {
	return func(s *Sequencer) {
		s.clock = c
	}
}

// WithWarpBudget overrides DefaultWarpBudget.
func WithWarpBudget(d time.Duration) Option {
	return func(s *Sequencer) {
		s.warpBudget = d
	}
}

// Sequencer steps the threads of a Runtime.
type Sequencer struct {
	rt         *Runtime
	graph      Graph
	exec       Executor
	clock      Clock
	warpBudget time.Duration
	logger     *slog.Logger

	prof profilerFrames
}

type profilerFrames struct {
	p          Profiler
	inner      int
	stepThread int
	execute    int
	retire     int
}

// New creates a Sequencer for rt.
func New(rt *Runtime, g Graph, exec Executor, logger *slog.Logger, opts ...Option) *Sequencer {
	s := &Sequencer{
		rt:         rt,
		graph:      g,
		exec:       exec,
		clock:      wallClock{},
		warpBudget: DefaultWarpBudget,
		logger:     logger.With("component", "sequencer"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Runtime returns the scheduling context.
func (s *Sequencer) Runtime() *Runtime { return s.rt }

// Graph returns the program graph.
func (s *Sequencer) Graph() Graph { return s.graph }

// Clock returns the sequencer's time source.
func (s *Sequencer) Clock() Clock { return s.clock }

// StepThreads runs one tick and returns the threads that finished during it,
// in the order they were found finished.
func (s *Sequencer) StepThreads() []*Thread {
	rt := s.rt
	if n := rt.settle(); n > 0 {
		s.trace("pending settled", "resumed", n)
	}
	s.syncProfiler()

	workBudget := time.Duration(float64(rt.CurrentStepTime) * workFraction)
	timer := NewTimer(s.clock)

	// -1: no pass ran yet, assume something is runnable.
	numActive := -1
	firstPass := true
	var retired []*Thread

	for len(rt.Threads) > 0 &&
		numActive != 0 &&
		timer.Elapsed() < workBudget &&
		(rt.TurboMode || !rt.RedrawRequested) {

		if rt.SingleStepMode {
			if !rt.DoStep {
				break
			}
			rt.DoStep = false
			s.validateCurrent()
		}

		if s.prof.p != nil {
			s.prof.p.Start(s.prof.inner, nil)
		}

		numActive = 0
		compact := false

		for i := 0; i < len(rt.Threads); i++ {
			th := rt.Threads[i]
			if th.Done() {
				compact = true
				continue
			}
			if th.Status == StatusYieldTick && firstPass {
				th.Status = StatusRunning
			}
			if !th.Status.Runnable() {
				continue
			}

			if rt.SingleStepMode {
				if rt.CurrentThread == nil {
					rt.CurrentThread = th
					rt.NextThreadIndex = i
				}
				if rt.CurrentThread != th {
					continue
				}
			}

			hadCurrent := rt.CurrentThread != nil
			rt.ActiveThread = th
			if s.prof.p != nil {
				s.prof.p.Start(s.prof.stepThread, nil)
			}
			s.StepThread(th)
			if s.prof.p != nil {
				s.prof.p.Stop()
			}
			rt.ActiveThread = nil

			if hadCurrent && rt.CurrentThread == nil {
				s.adoptNextCurrent(i)
			}

			th.warpTimer = nil
			if th.Status == StatusRunning {
				numActive++
			}
			if th.Done() {
				compact = true
			}
			if rt.SingleStepMode {
				break
			}
		}

		if s.prof.p != nil {
			s.prof.p.Stop()
		}

		firstPass = false

		if compact {
			retired = s.compact(retired)
		}
	}

	return retired
}

// StepThread advances th as far as the scheduling policy allows.
func (s *Sequencer) StepThread(th *Thread) {
	rt := s.rt

	if top, ok := th.PeekStack(); ok && top.IsNoBlock() {
		th.PopStack()
		if th.StackLen() == 0 {
			th.Status = StatusDone
			s.trace("empty script done", "thread_id", th.ID)
			return
		}
	}

	for {
		top, ok := th.PeekStack()
		if !ok || top.IsNoBlock() {
			return
		}

		warpMode := th.PeekFrame().WarpMode
		if warpMode && th.warpTimer == nil {
			th.warpTimer = NewTimer(s.clock)
		}

		if th.Target == nil {
			s.trace("orphaned thread retired", "thread_id", th.ID)
			s.RetireThread(th)
			return
		}

		current := top.ID()
		s.execute(th, current)

		if rt.BreakpointsEnabled {
			if blk, ok := s.graph.Block(current); ok && blk.Tag == graph.TagBreakpoint {
				s.logger.Debug("breakpoint hit", "thread_id", th.ID, "block", current)
				rt.SingleStepMode = true
				rt.CurrentThread = th
			}
		}

		switch th.Status {
		case StatusYield:
			th.Status = StatusRunning
			if warpMode && !rt.SingleStepMode && !s.warpExpired(th) {
				continue
			}
			s.trace("yield", "thread_id", th.ID, "block", current)
			rt.CurrentThread = nil
			return

		case StatusPromiseWait, StatusYieldTick:
			s.trace("suspend", "thread_id", th.ID, "block", current, "status", th.Status)
			rt.CurrentThread = nil
			return

		case StatusDone:
			rt.CurrentThread = nil
			return
		}

		if after, ok := th.PeekStack(); ok && after == top {
			s.goToNextBlock(th)
		}

		for {
			after, ok := th.PeekStack()
			if ok && !after.IsNoBlock() {
				break
			}
			th.PopStack()
			if th.StackLen() == 0 {
				th.Status = StatusDone
				rt.CurrentThread = nil
				s.trace("thread done", "thread_id", th.ID)
				return
			}
			frame := th.PeekFrame()
			warpMode = frame.WarpMode
			if frame.IsLoop {
				if !warpMode || rt.SingleStepMode || s.warpExpired(th) {
					return
				}
				break
			}
			if frame.WaitingOnReporter {
				return
			}
			s.goToNextBlock(th)
		}

		if rt.SingleStepMode {
			return
		}
	}
}

func (s *Sequencer) execute(th *Thread, block graph.BlockID) {
	if s.prof.p != nil {
		s.prof.p.Start(s.prof.execute, block)
	}
	s.exec.Execute(s, th)
	if s.prof.p != nil {
		s.prof.p.Stop()
	}
}

// goToNextBlock replaces the top of the stack with its next sibling, or
// NoBlock at the end of the level.
func (s *Sequencer) goToNextBlock(th *Thread) {
	top, ok := th.PeekStack()
	if !ok || top.IsNoBlock() {
		return
	}
	var next graph.BlockID
	if blk, ok := s.graph.Block(top.ID()); ok {
		next = blk.Next
	}
	th.ReuseStackForNextBlock(BlockEntry(next))
}

func (s *Sequencer) warpExpired(th *Thread) bool {
	return th.warpTimer == nil || th.warpTimer.Elapsed() > s.warpBudget
}

// validateCurrent forgets a debugger thread that can no longer run, so the
// next runnable thread in list order is adopted instead.
func (s *Sequencer) validateCurrent() {
	rt := s.rt
	th := rt.CurrentThread
	if th == nil {
		return
	}
	if th.Done() || !(th.Status.Runnable() || th.Status == StatusYieldTick) || !s.listed(th) {
		rt.CurrentThread = nil
	}
}

func (s *Sequencer) listed(th *Thread) bool {
	for _, t := range s.rt.Threads {
		if t == th {
			return true
		}
	}
	return false
}

// adoptNextCurrent scans forward from the thread at index i, wrapping
// around, for the next runnable thread and makes it the debugger's current
// thread. The thread at i itself is considered last.
func (s *Sequencer) adoptNextCurrent(i int) {
	rt := s.rt
	n := len(rt.Threads)
	for k := 1; k <= n; k++ {
		j := (i + k) % n
		th := rt.Threads[j]
		if !th.Done() && th.Status.Runnable() {
			rt.CurrentThread = th
			rt.NextThreadIndex = j
			return
		}
	}
	rt.CurrentThread = nil
	rt.NextThreadIndex = 0
}

// compact moves finished threads out of the runtime, keeping the relative
// order of the survivors, and appends them to retired.
func (s *Sequencer) compact(retired []*Thread) []*Thread {
	rt := s.rt
	live := make([]*Thread, 0, len(rt.Threads))
	for _, th := range rt.Threads {
		if th.Done() {
			retired = append(retired, th)
			if s.prof.p != nil {
				s.prof.p.Increment(s.prof.retire)
			}
			continue
		}
		if th == rt.CurrentThread {
			rt.NextThreadIndex = len(live)
		}
		live = append(live, th)
	}
	rt.Threads = live
	return retired
}

// syncProfiler resolves frame ids when the runtime's profiler changes.
func (s *Sequencer) syncProfiler() {
	p := s.rt.Profiler
	if p == s.prof.p {
		return
	}
	s.prof = profilerFrames{p: p}
	if p == nil {
		return
	}
	s.prof.inner = p.FrameID("Sequencer.stepThreads#inner")
	s.prof.stepThread = p.FrameID("Sequencer.stepThread")
	s.prof.execute = p.FrameID("execute")
	s.prof.retire = p.FrameID("Sequencer.retired")
}

func (s *Sequencer) trace(msg string, args ...any) {
	ctx := context.Background()
	if !s.logger.Enabled(ctx, logging.LevelTrace) {
		return
	}
	s.logger.Log(ctx, logging.LevelTrace, msg, args...)
}
