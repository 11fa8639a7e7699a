// Package statusapi exposes the sync layer's status contract to the
// rendering layer over a local HTTP endpoint: a read-only snapshot for
// the banner plus the manual "Check Connection" and "Sync Now" triggers.
package statusapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/erauner12/toolbridge-offline/internal/connectivity"
	"github.com/erauner12/toolbridge-offline/internal/syncer"
)

// Server holds dependencies for the status handlers
type Server struct {
	Monitor      *connectivity.Monitor
	Orchestrator *syncer.Orchestrator
}

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode json response")
	}
}

// Routes creates the local status router
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(200)
		w.Write([]byte("ok"))
	})

	r.Get("/status", s.Status)
	r.Post("/check", s.CheckConnection)
	r.Post("/sync", s.SyncNow)

	return r
}

// Status handles GET /status and returns the banner snapshot
func (s *Server) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Orchestrator.Status(r.Context()))
}

// CheckConnection handles POST /check: an explicit user-triggered probe
func (s *Server) CheckConnection(w http.ResponseWriter, r *http.Request) {
	online := s.Monitor.Check(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"online": online,
		"state":  s.Monitor.State(),
	})
}

// SyncNow handles POST /sync: the manual drain trigger. Responds
// immediately; progress is visible through GET /status.
func (s *Server) SyncNow(w http.ResponseWriter, r *http.Request) {
	s.Orchestrator.Kick()
	writeJSON(w, http.StatusAccepted, map[string]any{"queued": true})
}
