package sequencer

import (
	"context"
	"errors"
	"sync"
)

// ErrCancelled is the result of a Pending that was cancelled before it
// settled.
var ErrCancelled = errors.New("pending operation cancelled")

type pendingState int

const (
	pendingOpen pendingState = iota
	pendingResolved
	pendingRejected
	pendingCancelled
)

// Pending is the handle of an asynchronous operation a thread is parked on.
// Resolve, Reject and Cancel may be called from any goroutine; the thread is
// moved back to StatusRunning by the next StepThreads call on its runtime.
type Pending struct {
	rt     *Runtime
	th     *Thread
	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	state pendingState
	value any
	err   error
}

// Context is cancelled once the operation is no longer awaited, either
// because it settled or because the thread was retired.
func (p *Pending) Context() context.Context {
	return p.ctx
}

// Resolve settles the operation with v. It reports false if the operation
// had already settled or was cancelled.
func (p *Pending) Resolve(v any) bool {
	return p.settle(pendingResolved, v, nil)
}

// Reject settles the operation with err.
func (p *Pending) Reject(err error) bool {
	return p.settle(pendingRejected, nil, err)
}

// Cancel abandons the operation. The thread is not resumed.
func (p *Pending) Cancel() {
	p.mu.Lock()
	if p.state == pendingOpen {
		p.state = pendingCancelled
		p.err = ErrCancelled
	}
	p.mu.Unlock()
	p.cancel()
}

// Result returns the settled value or error.
func (p *Pending) Result() (any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.value, p.err
}

func (p *Pending) settle(state pendingState, v any, err error) bool {
	p.mu.Lock()
	if p.state != pendingOpen {
		p.mu.Unlock()
		return false
	}
	p.state = state
	p.value = v
	p.err = err
	p.mu.Unlock()

	p.rt.post(p)
	return true
}

func (p *Pending) cancelled() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state == pendingCancelled
}
