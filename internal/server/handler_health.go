package server

import (
	"net/http"
	"runtime"
	"time"
)

type healthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	GoVersion string `json:"go_version"`
	Uptime    string `json:"uptime"`
	Scheduler string `json:"scheduler"`
	Store     string `json:"store"`
	RunID     string `json:"run_id,omitempty"`
	Tick      int    `json:"tick"`
	Threads   int    `json:"threads"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	ds := s.loop.DebugState()
	sched := "running"
	switch {
	case ds.Threads == 0:
		sched = "idle"
	case ds.SingleStep:
		sched = "paused"
	}
	st := "disabled"
	if s.store != nil {
		st = "sqlite"
	}

	respondOK(w, reqID, healthResponse{
		Status:    "healthy",
		Version:   "0.1.0",
		GoVersion: runtime.Version(),
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Scheduler: sched,
		Store:     st,
		RunID:     s.loop.RunID(),
		Tick:      ds.Tick,
		Threads:   ds.Threads,
	})
}
