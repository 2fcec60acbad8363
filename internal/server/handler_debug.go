package server

import (
	"net/http"

	"github.com/me/blocksched/internal/sequencer"
	"github.com/me/blocksched/pkg/model"
)

type toggleRequest struct {
	Enabled *bool `json:"enabled"`
}

func (s *Server) handleListThreads(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	respondOK(w, reqID, s.loop.Threads())
}

func (s *Server) handleDebugState(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	respondOK(w, reqID, s.loop.DebugState())
}

// handlePause enters single-step mode. The next step adopts the first
// runnable thread unless a breakpoint already chose one.
// POST /api/v1/debug/pause
func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	s.loop.Do(func(rt *sequencer.Runtime) {
		rt.SingleStepMode = true
		rt.DoStep = false
	})
	s.logger.Info("debugger paused")
	respondOK(w, reqID, s.loop.DebugState())
}

// handleStep requests one block of progress on the current thread.
// POST /api/v1/debug/step
func (s *Server) handleStep(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	paused := true
	s.loop.Do(func(rt *sequencer.Runtime) {
		if !rt.SingleStepMode {
			paused = false
			return
		}
		rt.DoStep = true
	})
	if !paused {
		respondError(w, reqID, http.StatusConflict, model.NewConflictError("scheduler is not paused"))
		return
	}
	respondOK(w, reqID, s.loop.DebugState())
}

// POST /api/v1/debug/resume
func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	s.loop.Do(func(rt *sequencer.Runtime) {
		rt.SingleStepMode = false
		rt.DoStep = false
		rt.CurrentThread = nil
	})
	s.logger.Info("debugger resumed")
	respondOK(w, reqID, s.loop.DebugState())
}

// PUT /api/v1/debug/breakpoints
func (s *Server) handleSetBreakpoints(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	enabled, ok := s.readToggle(w, r, reqID)
	if !ok {
		return
	}
	s.loop.Do(func(rt *sequencer.Runtime) { rt.BreakpointsEnabled = enabled })
	respondOK(w, reqID, s.loop.DebugState())
}

// PUT /api/v1/turbo
func (s *Server) handleSetTurbo(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	enabled, ok := s.readToggle(w, r, reqID)
	if !ok {
		return
	}
	s.loop.Do(func(rt *sequencer.Runtime) { rt.TurboMode = enabled })
	respondOK(w, reqID, s.loop.DebugState())
}

func (s *Server) readToggle(w http.ResponseWriter, r *http.Request, reqID string) (bool, bool) {
	var req toggleRequest
	if !decodeJSON(w, r, reqID, &req) {
		return false, false
	}
	if req.Enabled == nil {
		respondError(w, reqID, http.StatusBadRequest,
			model.NewValidationError("missing required field",
				model.FieldError{Field: "enabled", Message: "enabled is required"}))
		return false, false
	}
	return *req.Enabled, true
}

type profileResponse struct {
	Frames any `json:"frames"`
}

// GET /api/v1/profile
func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	if !s.profiler.Enabled() {
		respondError(w, reqID, http.StatusConflict, model.NewConflictError("profiling is disabled"))
		return
	}
	var report any
	s.loop.Do(func(*sequencer.Runtime) { report = s.profiler.Report() })
	respondOK(w, reqID, profileResponse{Frames: report})
}
