// Package server hosts the engine's progress endpoint: the index page, the
// snapshot websocket, and a throughput readout. Routing goes through
// gorilla/mux; the websocket/index handling is delegated to
// progress.Broadcaster, which rides fastview's generic publisher.
package server

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/Ghastn/terastructure/internal/progress"
	"github.com/Ghastn/terastructure/internal/worker"
)

// Server serves the live-progress dashboard for one inference run: the
// index page, the snapshot websocket, and a throughput counter. This is
// intentionally a single small server for one concurrent viewer at a time
// (see progress.Broadcaster's doc comment), not a general multi-tenant
// dashboard.
type Server struct {
	addr   string
	bcast  *progress.Broadcaster
	shared *worker.Shared
}

// NewServer returns a Server that will broadcast snapshots published to
// bcast and report shared's throughput counter at /throughput.
func NewServer(addr string, bcast *progress.Broadcaster, shared *worker.Shared) *Server {
	return &Server{addr: addr, bcast: bcast, shared: shared}
}

// Serve blocks, serving the dashboard until ListenAndServe returns an error.
func (s *Server) Serve() error {
	r := mux.NewRouter()
	r.HandleFunc("/", s.bcast.ServeIndex).Methods(http.MethodGet)
	r.HandleFunc("/ws", s.bcast.ServeWS)
	r.HandleFunc("/throughput", s.serveThroughput).Methods(http.MethodGet)

	if err := http.ListenAndServe(s.addr, r); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// serveThroughput reports the total number of individuals processed so far
// across all workers, read from the shared AtomicFloat64 without any lock.
func (s *Server) serveThroughput(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	processed := 0.0
	if s.shared != nil && s.shared.Processed != nil {
		processed = s.shared.Processed.AtomicRead()
	}
	fmt.Fprintf(w, "%.0f\n", processed)
}
