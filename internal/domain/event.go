package domain

import (
	"encoding/json"
	"time"
)

// Event kinds published to collaborators (activity feeds, notifications).
const (
	EventEntitySynced     = "entity.synced"
	EventConflictDetected = "conflict.detected"
	EventMappingDeleted   = "mapping.deleted"
	EventImportFinished   = "import.finished"
)

// Event is the message emitted on the broker for every externally visible
// sync/import outcome.
type Event struct {
	Kind          string          `json:"kind"`
	WorkspaceID   string          `json:"workspace_id,omitempty"`
	IntegrationID string          `json:"integration_id,omitempty"`
	EntityType    EntityType      `json:"entity_type,omitempty"`
	InternalID    string          `json:"internal_id,omitempty"`
	ExternalID    string          `json:"external_id,omitempty"`
	JobID         string          `json:"job_id,omitempty"`
	Actor         string          `json:"actor,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
}
