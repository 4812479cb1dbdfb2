package domain

import (
	"encoding/json"
	"time"
)

// EntityType discriminates the internal record kinds that can be linked to
// an external counterpart.
type EntityType string

const (
	EntityIssue      EntityType = "issue"
	EntityComment    EntityType = "comment"
	EntityRepository EntityType = "repository"
)

// Issue states. External providers with a richer state model are mapped onto
// these two; provider-only detail is kept in ExternalMetadata.
const (
	IssueStateOpen   = "open"
	IssueStateClosed = "closed"
)

type Issue struct {
	ID          string
	WorkspaceID string
	ProjectID   string
	Title       string
	Description string
	State       string
	Labels      []string
	// Revision increments on every internal mutation. It is the internal
	// side's sync marker, rendered as a string in mappings.
	Revision         int64
	ExternalMetadata json.RawMessage
	CreatedBy        string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type Comment struct {
	ID               string
	WorkspaceID      string
	IssueID          string
	Body             string
	Author           string
	Revision         int64
	ExternalMetadata json.RawMessage
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type Repository struct {
	ID               string
	WorkspaceID      string
	ProjectID        string
	Name             string
	FullName         string
	URL              string
	ExternalMetadata json.RawMessage
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type Module struct {
	ID          string
	WorkspaceID string
	ProjectID   string
	Name        string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Snapshot is a point-in-time view of one side of a synced entity, used for
// conflict detection and audit. Revision is the side's opaque sync marker;
// Data is the serialized entity content at that revision.
type Snapshot struct {
	Revision string          `json:"revision"`
	Data     json.RawMessage `json:"data"`
}
