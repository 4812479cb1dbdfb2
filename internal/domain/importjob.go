package domain

import (
	"encoding/json"
	"time"
)

type JobStatus string

const (
	JobQueued          JobStatus = "queued"
	JobRunning         JobStatus = "running"
	JobCompleted       JobStatus = "completed"
	JobPartiallyFailed JobStatus = "partially_failed"
	JobFailed          JobStatus = "failed"
	JobCancelled       JobStatus = "cancelled"
)

// Terminal reports whether no further batches will be processed for a job in
// this status.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobCompleted, JobPartiallyFailed, JobFailed, JobCancelled:
		return true
	}
	return false
}

// ImportJob is one bulk-import run. Counts and the checkpoint cursor are only
// advanced after the corresponding batch has been durably sealed, so a crash
// mid-batch re-fetches the same page.
type ImportJob struct {
	ID          string `db:"id"`
	WorkspaceID string `db:"workspace_id"`
	ProjectID   string `db:"project_id"`
	SourceKind  string `db:"source_kind"`
	// SourceConfig is source-specific and opaque to the job engine.
	SourceConfig json.RawMessage `db:"source_config"`
	// TotalItems stays nil until the source reports an overall count.
	TotalItems *int64 `db:"total_items"`
	Processed  int64  `db:"processed"`
	Succeeded  int64  `db:"succeeded"`
	Failed     int64  `db:"failed"`
	// Cursor is the source-defined resumption token for the next page.
	Cursor          string     `db:"cursor"`
	Status          JobStatus  `db:"status"`
	CancelRequested bool       `db:"cancel_requested"`
	CreatedBy       string     `db:"created_by"`
	CreatedAt       time.Time  `db:"created_at"`
	CompletedAt     *time.Time `db:"completed_at"`
}

// MappingScope is the synthetic integration id under which this job's dedup
// mappings are recorded. It is stable across resumes of the same logical
// import target, which is what makes batch replay idempotent per record.
func (j *ImportJob) MappingScope() string {
	return "import:" + j.SourceKind + ":" + j.ProjectID
}

type ItemResult string

const (
	ItemCreated          ItemResult = "created"
	ItemUpdated          ItemResult = "updated"
	ItemSkippedDuplicate ItemResult = "skipped_duplicate"
	ItemFailed           ItemResult = "failed"
)

// ItemOutcome is the per-record result inside a sealed batch. Reason is set
// only for failed items.
type ItemOutcome struct {
	DedupKey string     `json:"dedup_key"`
	Result   ItemResult `json:"result"`
	Reason   string     `json:"reason,omitempty"`
}

// ImportBatch is one processed source page. Batches are immutable once
// sealed; a replayed page appends a new batch rather than mutating the old
// one.
type ImportBatch struct {
	ID        string        `db:"id"`
	JobID     string        `db:"job_id"`
	Seq       int64         `db:"seq"`
	ItemCount int           `db:"item_count"`
	Outcomes  []ItemOutcome `db:"-"`
	SealedAt  time.Time     `db:"sealed_at"`
}

// Tally returns (succeeded, failed) counts across the batch's outcomes.
func (b *ImportBatch) Tally() (succeeded, failed int64) {
	for _, o := range b.Outcomes {
		if o.Result == ItemFailed {
			failed++
		} else {
			succeeded++
		}
	}
	return succeeded, failed
}
