// Package primitives implements the block opcodes the sequencer executes:
// control flow, procedure calls, variables and a minimal sprite.
package primitives

import (
	"io"
	"log/slog"

	"github.com/me/blocksched/internal/graph"
	"github.com/me/blocksched/internal/sequencer"
)

// Executor runs the block on top of a thread's stack by dispatching on its
// opcode. Unknown opcodes are reported once and otherwise ignored.
type Executor struct {
	registry *Registry
	eval     *Evaluator
	out      io.Writer
	logger   *slog.Logger
	warned   map[graph.Opcode]bool
}

// NewExecutor creates an Executor with the built-in primitives registered.
// Output of "say" blocks goes to out.
func NewExecutor(out io.Writer, logger *slog.Logger) *Executor {
	reg := NewRegistry(logger)
	RegisterBuiltins(reg)
	return NewExecutorWithRegistry(reg, out, logger)
}

// NewExecutorWithRegistry creates an Executor dispatching through reg.
func NewExecutorWithRegistry(reg *Registry, out io.Writer, logger *slog.Logger) *Executor {
	if out == nil {
		out = io.Discard
	}
	return &Executor{
		registry: reg,
		eval:     NewEvaluator(),
		out:      out,
		logger:   logger.With("component", "primitives"),
		warned:   make(map[graph.Opcode]bool),
	}
}

// Execute implements sequencer.Executor.
func (e *Executor) Execute(s *sequencer.Sequencer, th *sequencer.Thread) {
	top, ok := th.PeekStack()
	if !ok || top.IsNoBlock() {
		return
	}
	b, ok := s.Graph().Block(top.ID())
	if !ok {
		e.logger.Warn("block not in program", "thread_id", th.ID, "block", top.ID())
		return
	}
	fn, err := e.registry.Get(b.Opcode)
	if err != nil {
		if !e.warned[b.Opcode] {
			e.warned[b.Opcode] = true
			e.logger.Warn("unknown opcode, treating as no-op", "opcode", b.Opcode, "block", b.ID)
		}
		return
	}
	fn(&Util{exec: e, seq: s, th: th}, b)
}

// Util is the view of the scheduler a primitive works through.
type Util struct {
	exec *Executor
	seq  *sequencer.Sequencer
	th   *sequencer.Thread
}

// Thread returns the thread being stepped.
func (u *Util) Thread() *sequencer.Thread { return u.th }

// Runtime returns the scheduling context.
func (u *Util) Runtime() *sequencer.Runtime { return u.seq.Runtime() }

// Sprite returns the thread's target as a sprite, nil for other targets.
func (u *Util) Sprite() *Sprite {
	sp, _ := u.th.Target.(*Sprite)
	return sp
}

// Frame returns the execution frame of the current block.
func (u *Util) Frame() *sequencer.Frame { return u.th.PeekFrame() }

// StartBranch enters branch n of the current block.
func (u *Util) StartBranch(n int, isLoop bool) { u.seq.StepToBranch(u.th, n, isLoop) }

// StartProcedure enters the definition of procCode.
func (u *Util) StartProcedure(procCode string) { u.seq.StepToProcedure(u.th, procCode) }

// Yield hands control back; the current block runs again on resume.
func (u *Util) Yield() { u.th.Status = sequencer.StatusYield }

// YieldTick parks the thread until the next tick.
func (u *Util) YieldTick() { u.th.Status = sequencer.StatusYieldTick }

// RequestRedraw asks the sequencer to end the tick so a frame can be drawn.
func (u *Util) RequestRedraw() { u.seq.Runtime().RedrawRequested = true }

// Input evaluates the named input of b in the thread's scope. Evaluation
// errors are logged and read as nil.
func (u *Util) Input(b *graph.Block, name string) any {
	scope := Scope{Args: u.th.Params()}
	if sp := u.Sprite(); sp != nil {
		scope.Vars = sp.Variables
	}
	if u.th.Target != nil {
		scope.Target = u.th.Target.Name()
	}
	raw, _ := b.Input(name)
	v, err := u.exec.eval.Eval(raw, scope)
	if err != nil {
		u.exec.logger.Warn("input evaluation failed",
			"thread_id", u.th.ID, "block", b.ID, "input", name, "error", err)
		return nil
	}
	return v
}

// Number evaluates an input as a number.
func (u *Util) Number(b *graph.Block, name string) float64 { return ToNumber(u.Input(b, name)) }

// Bool evaluates an input as a boolean.
func (u *Util) Bool(b *graph.Block, name string) bool { return ToBool(u.Input(b, name)) }

// String evaluates an input as text.
func (u *Util) String(b *graph.Block, name string) string { return ToString(u.Input(b, name)) }
