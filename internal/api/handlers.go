package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/sanyamjain04/plane/internal/domain"
	"github.com/sanyamjain04/plane/internal/importer"
	"github.com/sanyamjain04/plane/internal/sync"
	"github.com/sanyamjain04/plane/internal/worker"
)

// syncTaskTimeout bounds a background pull pass submitted from a handler.
const syncTaskTimeout = 10 * time.Minute

func (s *Server) handleListIntegrations(w http.ResponseWriter, r *http.Request) {
	workspaceID := r.Header.Get(headerWorkspaceID)
	if workspaceID == "" {
		s.writeError(w, http.StatusBadRequest, "missing "+headerWorkspaceID+" header")
		return
	}
	integrations, err := s.integrations.ListByWorkspace(r.Context(), workspaceID)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"integrations": integrations})
}

// handleTriggerSync queues a pull pass for one repository and returns
// immediately; progress is observable through the checkpoint and conflicts.
func (s *Server) handleTriggerSync(w http.ResponseWriter, r *http.Request) {
	integrationID := r.PathValue("id")

	var req struct {
		Repository string `json:"repository"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Repository == "" {
		s.writeError(w, http.StatusBadRequest, "repository is required")
		return
	}

	// Fail fast on unknown or disabled integrations before queueing.
	integ, err := s.integrations.Get(r.Context(), integrationID)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if !integ.Enabled {
		s.writeError(w, http.StatusConflict, "integration is disabled")
		return
	}

	repoRef := req.Repository
	task := worker.Task{
		Name: "sync.pull",
		Run: func(ctx context.Context) {
			ctx, cancel := detach(ctx, syncTaskTimeout)
			defer cancel()
			if _, err := s.syncEngine.Pull(ctx, integrationID, repoRef); err != nil {
				s.logger.Error("background pull failed",
					"integration_id", integrationID,
					"repo", repoRef,
					"error", err,
				)
			}
		},
	}
	if err := s.pool.Submit(task); err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "sync queue is full, retry later")
		return
	}

	s.writeJSON(w, http.StatusAccepted, map[string]string{
		"status":     "queued",
		"repository": repoRef,
	})
}

func (s *Server) handleTriggerPush(w http.ResponseWriter, r *http.Request) {
	integrationID := r.PathValue("id")

	var req struct {
		Repository string `json:"repository"`
		EntityType string `json:"entityType"`
		InternalID string `json:"internalId"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.Repository == "" || req.InternalID == "" {
		s.writeError(w, http.StatusBadRequest, "repository and internalId are required")
		return
	}
	entityType := domain.EntityType(req.EntityType)
	if entityType == "" {
		entityType = domain.EntityIssue
	}

	err := s.syncEngine.Push(r.Context(), integrationID, req.Repository, entityType, req.InternalID)
	if errors.Is(err, sync.ErrIntegrationDisabled) {
		s.writeError(w, http.StatusConflict, "integration is disabled")
		return
	}
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "pushed"})
}

func (s *Server) handleSetEnabled(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := s.integrations.SetEnabled(r.Context(), r.PathValue("id"), req.Enabled); err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"enabled": req.Enabled})
}

func (s *Server) handleListRepositories(w http.ResponseWriter, r *http.Request) {
	integ, err := s.integrations.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	client, err := s.clients.ClientFor(r.Context(), integ)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}

	repos, next, err := client.ListRepositories(r.Context(), r.URL.Query().Get("pageToken"))
	if err != nil {
		s.logger.Error("list repositories failed", "integration_id", integ.ID, "error", err)
		s.writeError(w, http.StatusBadGateway, "provider request failed")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"repositories":  repos,
		"nextPageToken": next,
	})
}

func (s *Server) handleListConflicts(w http.ResponseWriter, r *http.Request) {
	conflicts, err := s.conflicts.ListByIntegration(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"conflicts": conflicts})
}

func (s *Server) handleListMappings(w http.ResponseWriter, r *http.Request) {
	mappings, err := s.mappings.ListByIntegration(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"mappings": mappings})
}

func (s *Server) handleResolveConflict(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Resolution string `json:"resolution"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	resolution := domain.ConflictResolution(req.Resolution)
	switch resolution {
	case domain.ConflictKeepInternal, domain.ConflictKeepExternal, domain.ConflictManual:
	default:
		s.writeError(w, http.StatusBadRequest, "resolution must be keep_internal, keep_external or manual")
		return
	}

	if err := s.conflicts.Resolve(r.Context(), r.PathValue("id"), resolution, actor(r), time.Now().UTC()); err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"resolution": string(resolution)})
}

// handleDeleteMapping unlinks an internal entity from its external
// counterpart. Both records survive; only the binding is removed, and the
// removal is announced for audit.
func (s *Server) handleDeleteMapping(w http.ResponseWriter, r *http.Request) {
	mappingID := r.PathValue("id")

	m, err := s.mappings.Get(r.Context(), mappingID)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if err := s.mappings.Delete(r.Context(), mappingID); err != nil {
		s.writeStoreError(w, err)
		return
	}

	ev := domain.Event{
		Kind:          domain.EventMappingDeleted,
		IntegrationID: m.IntegrationID,
		EntityType:    m.EntityType,
		InternalID:    m.InternalID,
		ExternalID:    m.ExternalID,
		Actor:         actor(r),
		Timestamp:     time.Now().UTC(),
	}
	if err := s.publisher.Publish(r.Context(), ev); err != nil {
		s.logger.Warn("publish event failed", "kind", ev.Kind, "error", err)
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleStartImport(w http.ResponseWriter, r *http.Request) {
	workspaceID := r.Header.Get(headerWorkspaceID)
	if workspaceID == "" {
		s.writeError(w, http.StatusBadRequest, "missing "+headerWorkspaceID+" header")
		return
	}

	var req struct {
		ProjectID    string          `json:"projectId"`
		SourceKind   string          `json:"sourceKind"`
		SourceConfig json.RawMessage `json:"sourceConfig"`
	}
	if err := decodeBody(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if req.ProjectID == "" || req.SourceKind == "" {
		s.writeError(w, http.StatusBadRequest, "projectId and sourceKind are required")
		return
	}

	jobID, err := s.importEngine.StartJob(r.Context(), workspaceID, req.ProjectID, req.SourceKind, actor(r), req.SourceConfig)
	if errors.Is(err, importer.ErrUnknownSource) {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"jobId": jobID})
}

func (s *Server) handleGetImport(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleListBatches(w http.ResponseWriter, r *http.Request) {
	batches, err := s.jobs.ListBatches(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"batches": batches})
}

func (s *Server) handleCancelImport(w http.ResponseWriter, r *http.Request) {
	if err := s.importEngine.Cancel(r.Context(), r.PathValue("id")); err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}
