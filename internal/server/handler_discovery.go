package server

import "net/http"

type endpointInfo struct {
	Path        string   `json:"path"`
	Methods     []string `json:"methods"`
	Description string   `json:"description"`
}

type discoveryResponse struct {
	Name        string         `json:"name"`
	Version     string         `json:"version"`
	Description string         `json:"description"`
	Endpoints   []endpointInfo `json:"endpoints"`
}

func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	respondOK(w, reqID, discoveryResponse{
		Name:        "blocksched API",
		Version:     "v1",
		Description: "Block program scheduler: thread inspection, single-step debugging and run history",
		Endpoints: []endpointInfo{
			{"/api/v1/health", []string{"GET"}, "Server health and scheduler state"},
			{"/api/v1/threads", []string{"GET"}, "Live threads in scheduling order"},
			{"/api/v1/turbo", []string{"PUT"}, "Enable or disable turbo mode"},
			{"/api/v1/profile", []string{"GET"}, "Scheduler profiler report"},
			{"/api/v1/debug", []string{"GET"}, "Debugger state"},
			{"/api/v1/debug/pause", []string{"POST"}, "Enter single-step mode"},
			{"/api/v1/debug/step", []string{"POST"}, "Advance the current thread by one block"},
			{"/api/v1/debug/resume", []string{"POST"}, "Leave single-step mode"},
			{"/api/v1/debug/breakpoints", []string{"PUT"}, "Enable or disable breakpoints"},
			{"/api/v1/runs/{id}", []string{"GET"}, "Run detail"},
			{"/api/v1/runs/{id}/retired", []string{"GET"}, "Threads retired during a run"},
			{"/api/v1/sse/threads", []string{"GET"}, "Stream thread snapshots via Server-Sent Events"},
		},
	})
}
