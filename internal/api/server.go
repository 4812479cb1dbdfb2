// Package api exposes the sync and import engines over HTTP. Handlers stay
// thin: validation and response shaping here, semantics in the engines.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/sanyamjain04/plane/internal/storage"
)

const (
	headerWorkspaceID = "X-Workspace-ID"
	headerActorID     = "X-Actor-ID"
)

type Server struct {
	syncEngine   SyncEngine
	importEngine ImportEngine
	jobs         JobReader
	integrations IntegrationStore
	conflicts    ConflictStore
	mappings     MappingStore
	clients      ProviderClients
	publisher    Publisher
	pool         TaskSubmitter
	logger       *slog.Logger
}

func NewServer(
	syncEngine SyncEngine,
	importEngine ImportEngine,
	jobs JobReader,
	integrations IntegrationStore,
	conflicts ConflictStore,
	mappings MappingStore,
	clients ProviderClients,
	publisher Publisher,
	pool TaskSubmitter,
	logger *slog.Logger,
) *Server {
	return &Server{
		syncEngine:   syncEngine,
		importEngine: importEngine,
		jobs:         jobs,
		integrations: integrations,
		conflicts:    conflicts,
		mappings:     mappings,
		clients:      clients,
		publisher:    publisher,
		pool:         pool,
		logger:       logger.With("component", "api"),
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)

	mux.HandleFunc("GET /api/integrations", s.handleListIntegrations)
	mux.HandleFunc("POST /api/integrations/{id}/sync", s.handleTriggerSync)
	mux.HandleFunc("POST /api/integrations/{id}/push", s.handleTriggerPush)
	mux.HandleFunc("POST /api/integrations/{id}/enabled", s.handleSetEnabled)
	mux.HandleFunc("GET /api/integrations/{id}/repositories", s.handleListRepositories)
	mux.HandleFunc("GET /api/integrations/{id}/conflicts", s.handleListConflicts)
	mux.HandleFunc("GET /api/integrations/{id}/mappings", s.handleListMappings)

	mux.HandleFunc("POST /api/conflicts/{id}/resolve", s.handleResolveConflict)
	mux.HandleFunc("DELETE /api/mappings/{id}", s.handleDeleteMapping)

	mux.HandleFunc("POST /api/imports", s.handleStartImport)
	mux.HandleFunc("GET /api/imports/{id}", s.handleGetImport)
	mux.HandleFunc("GET /api/imports/{id}/batches", s.handleListBatches)
	mux.HandleFunc("POST /api/imports/{id}/cancel", s.handleCancelImport)

	return s.logRequests(mux)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// writeStoreError maps storage sentinels to HTTP statuses.
func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		s.writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, storage.ErrDuplicateBinding):
		s.writeError(w, http.StatusConflict, "identity already bound")
	case errors.Is(err, storage.ErrJobNotCancellable):
		s.writeError(w, http.StatusConflict, "job is not cancellable")
	default:
		s.logger.Error("request failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func actor(r *http.Request) string {
	return r.Header.Get(headerActorID)
}

// detach bounds work that outlives the HTTP exchange. The parent is the
// worker's context, not the request's, so pool shutdown still cancels an
// in-flight pass.
func detach(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, timeout)
}
