package domain

import "time"

// Mapping is the durable identity bridge between one internal entity and its
// external counterpart within one integration. Within an integration's scope
// the mapping is a bijection: an external id binds to exactly one internal id
// per entity type, and vice versa.
type Mapping struct {
	ID            string     `db:"id"`
	IntegrationID string     `db:"integration_id"`
	EntityType    EntityType `db:"entity_type"`
	InternalID    string     `db:"internal_id"`
	ExternalID    string     `db:"external_id"`
	// RepoRef is the provider-side repository the entity lives in, needed to
	// address the entity on push.
	RepoRef string `db:"repo_ref"`
	// InternalRevision and ExternalRevision are the last-synced markers for
	// each side. They are opaque and compared for equality only.
	InternalRevision string    `db:"internal_revision"`
	ExternalRevision string    `db:"external_revision"`
	LastSyncedAt     time.Time `db:"last_synced_at"`
	CreatedAt        time.Time `db:"created_at"`
}

// Checkpoint records pull progress for one (integration, repository) pair so
// an interrupted pull resumes mid-listing instead of restarting.
type Checkpoint struct {
	ID            int64     `db:"id"`
	IntegrationID string    `db:"integration_id"`
	RepoRef       string    `db:"repo_ref"`
	Cursor        string    `db:"cursor"`
	LastSyncedAt  time.Time `db:"last_synced_at"`
	TotalSynced   int64     `db:"total_synced"`
}

// SyncTarget is one (integration, repository) pair eligible for a background
// refresh pull.
type SyncTarget struct {
	IntegrationID string `db:"integration_id"`
	RepoRef       string `db:"repo_ref"`
}
