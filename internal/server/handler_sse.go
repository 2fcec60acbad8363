package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

type threadsEvent struct {
	Tick    int `json:"tick"`
	Threads any `json:"threads"`
}

// handleSSEThreads streams thread snapshots via Server-Sent Events, one per
// tick that passed since the last poll.
// GET /api/v1/sse/threads
func (s *Server) handleSSEThreads(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	lastTick := s.loop.Ticks()
	if err := sendSSEEvent(w, flusher, "init", threadsEvent{Tick: lastTick, Threads: s.loop.Threads()}); err != nil {
		s.logger.Debug("sse client disconnected", "error", err)
		return
	}

	ticker := time.NewTicker(s.sseEvery)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			tick := s.loop.Ticks()
			if tick == lastTick {
				fmt.Fprintf(w, ": heartbeat\n\n")
				flusher.Flush()
				continue
			}
			lastTick = tick
			threads := s.loop.Threads()
			if err := sendSSEEvent(w, flusher, "update", threadsEvent{Tick: tick, Threads: threads}); err != nil {
				s.logger.Debug("sse client disconnected")
				return
			}
			if len(threads) == 0 {
				sendSSEEvent(w, flusher, "complete", threadsEvent{Tick: tick, Threads: threads})
				return
			}
		}
	}
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData)
	if err != nil {
		return err
	}

	flusher.Flush()
	return nil
}
