package scheduler

import "context"

// Scheduler drives a program's threads tick by tick.
type Scheduler interface {
	// Start begins the tick loop. Blocks until ctx is cancelled or Stop is called.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the scheduler.
	Stop() error

	// Tick runs a single scheduling iteration. Used for testing.
	Tick(ctx context.Context) error
}

var _ Scheduler = (*Loop)(nil)
