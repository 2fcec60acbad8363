package model

import "time"

// Run is one execution of a program, from green flag until every thread has
// finished or the run is stopped.
type Run struct {
	ID          string     `json:"id"`
	Program     string     `json:"program"`
	State       RunState   `json:"state"`
	Ticks       int        `json:"ticks"`
	Retired     int        `json:"retired"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at"`
}

// RetiredThread records a thread that left the thread list.
type RetiredThread struct {
	RunID     string    `json:"run_id"`
	ThreadID  string    `json:"thread_id"`
	Target    string    `json:"target"`
	TopBlock  string    `json:"top_block"`
	Killed    bool      `json:"killed"`
	Tick      int       `json:"tick"`
	RetiredAt time.Time `json:"retired_at"`
}

// ThreadInfo is a snapshot of a live thread.
type ThreadInfo struct {
	ID       string   `json:"id"`
	Target   string   `json:"target"`
	TopBlock string   `json:"top_block"`
	Status   string   `json:"status"`
	Stack    []string `json:"stack"`
	Warp     bool     `json:"warp"`
	Current  bool     `json:"current"`
}

// DebugState is a snapshot of the scheduler's debugger and mode flags.
type DebugState struct {
	SingleStep    bool   `json:"single_step"`
	Breakpoints   bool   `json:"breakpoints"`
	Turbo         bool   `json:"turbo"`
	CurrentThread string `json:"current_thread,omitempty"`
	Threads       int    `json:"threads"`
	Tick          int    `json:"tick"`
}
