// Package importer manages long-running bulk-import jobs: batching,
// checkpointing, per-record accounting and crash-safe resumption.
package importer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sanyamjain04/plane/internal/config"
	"github.com/sanyamjain04/plane/internal/domain"
	"github.com/sanyamjain04/plane/internal/provider"
	"github.com/sanyamjain04/plane/internal/retry"
	"github.com/sanyamjain04/plane/internal/storage"
)

// ErrUnknownSource is returned when a job names a source kind no factory was
// registered for.
var ErrUnknownSource = errors.New("unknown import source kind")

// errRevisionRace marks a lost compare-and-swap on a mapping's revision
// markers; the losing update rolls back instead of overwriting.
var errRevisionRace = errors.New("mapping revision moved concurrently")

// SourceFactory builds a Source for one job from its source configuration.
type SourceFactory func(ctx context.Context, job *domain.ImportJob) (Source, error)

type Engine struct {
	jobs      JobStore
	mappings  MappingStore
	entities  EntityStore
	txManager TransactionManager
	publisher Publisher
	logger    *slog.Logger
	retry     retry.Policy

	mu      sync.RWMutex
	sources map[string]SourceFactory
}

func NewEngine(
	jobs JobStore,
	mappings MappingStore,
	entities EntityStore,
	txManager TransactionManager,
	publisher Publisher,
	logger *slog.Logger,
	cfg config.ImporterConfig,
) *Engine {
	return &Engine{
		jobs:      jobs,
		mappings:  mappings,
		entities:  entities,
		txManager: txManager,
		publisher: publisher,
		logger:    logger.With("component", "importer"),
		retry: retry.Policy{
			MaxAttempts:    cfg.Retry.MaxAttempts,
			InitialBackoff: cfg.Retry.InitialBackoff,
			MaxBackoff:     cfg.Retry.MaxBackoff,
		},
		sources: make(map[string]SourceFactory),
	}
}

func (e *Engine) RegisterSource(kind string, factory SourceFactory) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sources[kind] = factory
}

func (e *Engine) sourceFactory(kind string) (SourceFactory, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	f, ok := e.sources[kind]
	return f, ok
}

// StartJob records a Queued job and returns its id. The job is picked up by
// a worker; nothing runs synchronously.
func (e *Engine) StartJob(ctx context.Context, workspaceID, projectID, sourceKind, actor string, sourceConfig json.RawMessage) (string, error) {
	if _, ok := e.sourceFactory(sourceKind); !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownSource, sourceKind)
	}

	job := &domain.ImportJob{
		ID:           uuid.NewString(),
		WorkspaceID:  workspaceID,
		ProjectID:    projectID,
		SourceKind:   sourceKind,
		SourceConfig: sourceConfig,
		Status:       domain.JobQueued,
		CreatedBy:    actor,
		CreatedAt:    time.Now().UTC(),
	}
	if err := e.jobs.Create(ctx, job); err != nil {
		return "", fmt.Errorf("create import job: %w", err)
	}

	e.logger.Info("import job queued",
		"job_id", job.ID,
		"workspace_id", workspaceID,
		"project_id", projectID,
		"source_kind", sourceKind,
	)
	return job.ID, nil
}

// Cancel flags a job for cooperative cancellation. The in-flight batch, if
// any, completes and seals before the job transitions to Cancelled.
func (e *Engine) Cancel(ctx context.Context, jobID string) error {
	return e.jobs.RequestCancel(ctx, jobID)
}

// RunNext claims and runs one queued job to a terminal or resumable state.
// Returns storage.ErrNoQueuedJob when the queue is empty.
func (e *Engine) RunNext(ctx context.Context) error {
	job, err := e.jobs.ClaimNextQueued(ctx)
	if err != nil {
		return err
	}
	return e.run(ctx, job)
}

func (e *Engine) run(ctx context.Context, job *domain.ImportJob) error {
	logger := e.logger.With("job_id", job.ID, "source_kind", job.SourceKind)

	factory, ok := e.sourceFactory(job.SourceKind)
	if !ok {
		return e.finish(ctx, job, domain.JobFailed, logger)
	}
	src, err := factory(ctx, job)
	if err != nil {
		logger.Error("build source failed", "error", err)
		return e.finish(ctx, job, domain.JobFailed, logger)
	}

	seq, err := e.jobs.NextBatchSeq(ctx, job.ID)
	if err != nil {
		return fmt.Errorf("next batch seq: %w", err)
	}

	logger.Info("import job running", "resume_cursor", job.Cursor != "", "batch_seq", seq)

	for {
		cancelled, err := e.jobs.IsCancelRequested(ctx, job.ID)
		if err != nil {
			return fmt.Errorf("check cancellation: %w", err)
		}
		if cancelled {
			return e.finish(ctx, job, domain.JobCancelled, logger)
		}

		var page *Page
		err = e.retry.Do(ctx, logger, "fetch page", func() error {
			var ferr error
			page, ferr = src.FetchPage(ctx, job.Cursor)
			return ferr
		})
		if err != nil {
			if provider.IsPermanent(err) || provider.IsTransient(err) {
				// Source unreachable after retries: the job fails as a
				// whole; already-sealed batches stay on record.
				logger.Error("source unreachable", "error", err)
				return e.finish(ctx, job, domain.JobFailed, logger)
			}
			return fmt.Errorf("fetch page: %w", err)
		}

		if page.Total != nil {
			job.TotalItems = page.Total
		}

		batch := &domain.ImportBatch{
			ID:        uuid.NewString(),
			JobID:     job.ID,
			Seq:       seq,
			ItemCount: len(page.Records),
			Outcomes:  make([]domain.ItemOutcome, 0, len(page.Records)),
			SealedAt:  time.Now().UTC(),
		}
		for i := range page.Records {
			batch.Outcomes = append(batch.Outcomes, e.processRecord(ctx, job, &page.Records[i], logger))
		}

		succeeded, failed := batch.Tally()
		job.Processed += int64(len(page.Records))
		job.Succeeded += succeeded
		job.Failed += failed
		job.Cursor = page.NextCursor

		batch.SealedAt = time.Now().UTC()
		if err := e.jobs.SealBatch(ctx, job, batch); err != nil {
			return fmt.Errorf("seal batch %d: %w", seq, err)
		}
		logger.Info("batch sealed",
			"seq", seq,
			"items", batch.ItemCount,
			"succeeded", succeeded,
			"failed", failed,
		)
		seq++

		if page.Done {
			status := domain.JobCompleted
			if job.Failed > 0 {
				status = domain.JobPartiallyFailed
			}
			return e.finish(ctx, job, status, logger)
		}
	}
}

func (e *Engine) processRecord(ctx context.Context, job *domain.ImportJob, rec *Record, logger *slog.Logger) domain.ItemOutcome {
	outcome, err := e.applyRecord(ctx, job, rec)
	if err != nil {
		logger.Warn("record failed", "dedup_key", rec.DedupKey, "error", err)
		return domain.ItemOutcome{DedupKey: rec.DedupKey, Result: domain.ItemFailed, Reason: err.Error()}
	}
	return domain.ItemOutcome{DedupKey: rec.DedupKey, Result: outcome}
}

func (e *Engine) applyRecord(ctx context.Context, job *domain.ImportJob, rec *Record) (domain.ItemResult, error) {
	if rec.DedupKey == "" {
		return "", errors.New("validation: missing dedup key")
	}

	switch rec.Kind {
	case RecordModule:
		return e.applyModuleRecord(ctx, job, rec)
	case RecordIssue, "":
		return e.applyIssueRecord(ctx, job, rec)
	default:
		return "", fmt.Errorf("validation: unknown record kind %q", rec.Kind)
	}
}

func (e *Engine) applyModuleRecord(ctx context.Context, job *domain.ImportJob, rec *Record) (domain.ItemResult, error) {
	name := rec.Module
	if name == "" {
		name = rec.Title
	}
	if name == "" {
		return "", errors.New("validation: module record without a name")
	}
	_, created, err := e.entities.EnsureModule(ctx, job.WorkspaceID, job.ProjectID, name)
	if err != nil {
		return "", err
	}
	if created {
		return domain.ItemCreated, nil
	}
	return domain.ItemSkippedDuplicate, nil
}

func (e *Engine) applyIssueRecord(ctx context.Context, job *domain.ImportJob, rec *Record) (domain.ItemResult, error) {
	if rec.Title == "" {
		return "", errors.New("validation: issue record without a title")
	}

	scope := job.MappingScope()
	m, err := e.mappings.ResolveInternal(ctx, scope, domain.EntityIssue, rec.DedupKey)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return "", err
	}

	if m != nil {
		if m.ExternalRevision == rec.Fingerprint {
			return domain.ItemSkippedDuplicate, nil
		}
		issue, err := e.entities.GetIssue(ctx, m.InternalID)
		if err != nil {
			return "", err
		}
		issue.Title = rec.Title
		issue.Description = rec.Description
		issue.State = normalizeState(rec.State)
		issue.Labels = rec.Labels
		issue.ExternalMetadata = rec.Metadata
		issue.Revision++
		issue.UpdatedAt = time.Now().UTC()
		newInternal := strconv.FormatInt(issue.Revision, 10)

		err = e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
			if err := e.entities.UpdateIssue(txCtx, issue); err != nil {
				return err
			}
			ok, err := e.mappings.CompareAndSwapRevisions(txCtx, m.ID, m.InternalRevision, m.ExternalRevision, newInternal, rec.Fingerprint, time.Now().UTC())
			if err != nil {
				return err
			}
			if !ok {
				return errRevisionRace
			}
			return nil
		})
		if err != nil {
			return "", err
		}
		return domain.ItemUpdated, nil
	}

	now := time.Now().UTC()
	issue := &domain.Issue{
		ID:               uuid.NewString(),
		WorkspaceID:      job.WorkspaceID,
		ProjectID:        job.ProjectID,
		Title:            rec.Title,
		Description:      rec.Description,
		State:            normalizeState(rec.State),
		Labels:           rec.Labels,
		Revision:         1,
		ExternalMetadata: rec.Metadata,
		CreatedBy:        rec.CreatedBy,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	mapping := &domain.Mapping{
		ID:               uuid.NewString(),
		IntegrationID:    scope,
		EntityType:       domain.EntityIssue,
		InternalID:       issue.ID,
		ExternalID:       rec.DedupKey,
		InternalRevision: "1",
		ExternalRevision: rec.Fingerprint,
		LastSyncedAt:     now,
		CreatedAt:        now,
	}

	err = e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := e.entities.CreateIssue(txCtx, issue); err != nil {
			return err
		}
		if err := e.mappings.Upsert(txCtx, mapping); err != nil {
			return err
		}
		if rec.Module != "" {
			module, _, err := e.entities.EnsureModule(txCtx, job.WorkspaceID, job.ProjectID, rec.Module)
			if err != nil {
				return err
			}
			return e.entities.AddIssueToModule(txCtx, module.ID, issue.ID)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return domain.ItemCreated, nil
}

func (e *Engine) finish(ctx context.Context, job *domain.ImportJob, status domain.JobStatus, logger *slog.Logger) error {
	completedAt := time.Now().UTC()
	if err := e.jobs.Finish(ctx, job.ID, status, completedAt); err != nil {
		return fmt.Errorf("finish job: %w", err)
	}
	logger.Info("import job finished",
		"status", status,
		"processed", job.Processed,
		"succeeded", job.Succeeded,
		"failed", job.Failed,
	)
	if e.publisher != nil {
		ev := domain.Event{
			Kind:        domain.EventImportFinished,
			WorkspaceID: job.WorkspaceID,
			JobID:       job.ID,
			Timestamp:   completedAt,
		}
		if err := e.publisher.Publish(ctx, ev); err != nil {
			logger.Warn("publish event failed", "kind", ev.Kind, "error", err)
		}
	}
	return nil
}

func normalizeState(state string) string {
	if state == domain.IssueStateClosed {
		return domain.IssueStateClosed
	}
	return domain.IssueStateOpen
}
