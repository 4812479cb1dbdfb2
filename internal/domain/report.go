package domain

import "time"

// SyncReport holds per-pass counters for one Pull or Push pass.
type SyncReport struct {
	IntegrationID string
	RepoRef       string
	Fetched       int
	Created       int
	Updated       int
	Skipped       int
	Conflicts     int
	Errors        int
	Duration      time.Duration
}
