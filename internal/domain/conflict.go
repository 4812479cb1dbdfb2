package domain

import "time"

type ConflictResolution string

const (
	ConflictUnresolved   ConflictResolution = "unresolved"
	ConflictKeepInternal ConflictResolution = "keep_internal"
	ConflictKeepExternal ConflictResolution = "keep_external"
	ConflictManual       ConflictResolution = "manual"
)

// Conflict records a divergence where both sides of a mapping changed since
// the last synced snapshot. Conflicts are never auto-merged; resolution is an
// explicit action that sets Resolution and ResolvedAt.
type Conflict struct {
	ID               string             `db:"id"`
	MappingID        string             `db:"mapping_id"`
	InternalSnapshot Snapshot           `db:"-"`
	ExternalSnapshot Snapshot           `db:"-"`
	DetectedAt       time.Time          `db:"detected_at"`
	Resolution       ConflictResolution `db:"resolution"`
	ResolvedAt       *time.Time         `db:"resolved_at"`
	ResolvedBy       string             `db:"resolved_by"`
}
