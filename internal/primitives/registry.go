package primitives

import (
	"fmt"
	"log/slog"

	"github.com/me/blocksched/internal/graph"
)

// Func implements one opcode. It runs with the block on top of the thread's
// stack and reports its effect through u.
type Func func(u *Util, b *graph.Block)

// Registry maps opcodes to their implementations.
// Registration happens at startup before concurrent access, so no mutex is needed.
type Registry struct {
	funcs  map[graph.Opcode]Func
	logger *slog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		funcs:  make(map[graph.Opcode]Func),
		logger: logger.With("component", "primitive-registry"),
	}
}

// Register adds fn under op, replacing any earlier registration.
func (r *Registry) Register(op graph.Opcode, fn Func) {
	r.funcs[op] = fn
	r.logger.Debug("primitive registered", "opcode", op)
}

// Get returns the implementation of op or an error if none is registered.
func (r *Registry) Get(op graph.Opcode) (Func, error) {
	fn, ok := r.funcs[op]
	if !ok {
		return nil, fmt.Errorf("no primitive registered for opcode %q", op)
	}
	return fn, nil
}

// Len returns the number of registered opcodes.
func (r *Registry) Len() int {
	return len(r.funcs)
}

// RegisterBuiltins adds every built-in primitive to r.
func RegisterBuiltins(r *Registry) {
	r.Register(graph.OpWhenFlagClicked, noop)
	r.Register(graph.OpProcedureDefinition, noop)
	r.Register(graph.OpBreakpoint, noop)
	r.Register(graph.OpProcedureCall, procedureCall)

	r.Register("control_repeat", repeat)
	r.Register("control_forever", forever)
	r.Register("control_repeat_until", repeatUntil)
	r.Register("control_if", ifThen)
	r.Register("control_if_else", ifElse)
	r.Register("control_wait", wait)
	r.Register("control_wait_until", waitUntil)
	r.Register("control_yield", yield)
	r.Register("control_sleep_async", sleepAsync)
	r.Register("control_stop", stop)

	r.Register("data_setvariableto", setVariable)
	r.Register("data_changevariableby", changeVariable)
	r.Register("looks_say", say)
	r.Register("motion_changexby", changeX)
	r.Register("motion_changeyby", changeY)
}

func noop(*Util, *graph.Block) {}
