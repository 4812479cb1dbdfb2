// Package sync orchestrates pull (remote to internal) and push (internal to
// remote) passes for one integration, mediated by the identity mapping store.
package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/sanyamjain04/plane/internal/config"
	"github.com/sanyamjain04/plane/internal/domain"
	"github.com/sanyamjain04/plane/internal/provider"
	"github.com/sanyamjain04/plane/internal/retry"
	"github.com/sanyamjain04/plane/internal/storage"
)

// ErrIntegrationDisabled is returned when a sync pass is requested for a
// disabled integration.
var ErrIntegrationDisabled = errors.New("integration is disabled")

// errRevisionRace marks a lost compare-and-swap on a mapping's revision
// markers; the loser records a conflict instead of overwriting.
var errRevisionRace = errors.New("mapping revision moved concurrently")

type Engine struct {
	integrations IntegrationStore
	mappings     MappingStore
	conflicts    ConflictStore
	checkpoints  CheckpointStore
	entities     EntityStore
	txManager    TransactionManager
	clients      ProviderClients
	publisher    Publisher
	logger       *slog.Logger
	retry        retry.Policy
	maxPages     int
}

func NewEngine(
	integrations IntegrationStore,
	mappings MappingStore,
	conflicts ConflictStore,
	checkpoints CheckpointStore,
	entities EntityStore,
	txManager TransactionManager,
	clients ProviderClients,
	publisher Publisher,
	logger *slog.Logger,
	cfg config.SyncConfig,
) *Engine {
	return &Engine{
		integrations: integrations,
		mappings:     mappings,
		conflicts:    conflicts,
		checkpoints:  checkpoints,
		entities:     entities,
		txManager:    txManager,
		clients:      clients,
		publisher:    publisher,
		logger:       logger.With("component", "sync"),
		retry: retry.Policy{
			MaxAttempts:    cfg.Retry.MaxAttempts,
			InitialBackoff: cfg.Retry.InitialBackoff,
			MaxBackoff:     cfg.Retry.MaxBackoff,
		},
		maxPages: cfg.MaxPagesPerPass,
	}
}

// Pull pages through remote issues for one repository and reconciles each
// one against its internal counterpart. Items are processed in pagination
// order; a failing item is counted and skipped, not fatal to the pass. The
// page cursor is checkpointed after every page so an interrupted pass
// resumes mid-listing.
func (e *Engine) Pull(ctx context.Context, integrationID, repoRef string) (*domain.SyncReport, error) {
	start := time.Now()
	report := &domain.SyncReport{IntegrationID: integrationID, RepoRef: repoRef}
	logger := e.logger.With("integration_id", integrationID, "repo", repoRef)

	integ, client, err := e.clientFor(ctx, integrationID)
	if err != nil {
		return nil, err
	}

	repo, err := e.ensureRepository(ctx, integ, client, repoRef, report)
	if err != nil {
		return report, fmt.Errorf("ensure repository: %w", err)
	}

	cp, err := e.checkpoints.Get(ctx, integrationID, repoRef)
	if err != nil {
		return report, fmt.Errorf("load checkpoint: %w", err)
	}
	since := cp.LastSyncedAt
	token := cp.Cursor

	logger.Info("starting pull", "since", since, "resume_cursor", token != "")

	pages := 0
	synced := report.Created + report.Updated
	for {
		var issues []provider.RemoteIssue
		var next string
		err := e.retry.Do(ctx, logger, "list issues", func() error {
			var lerr error
			issues, next, lerr = client.ListIssues(ctx, repoRef, since, token)
			return lerr
		})
		if err != nil {
			report.Duration = time.Since(start)
			return report, fmt.Errorf("list issues: %w", err)
		}
		report.Fetched += len(issues)

		for i := range issues {
			remote := &issues[i]
			err := e.retry.Do(ctx, logger, "pull issue", func() error {
				return e.pullIssue(ctx, integ, client, repo, repoRef, remote, report)
			})
			if err != nil {
				report.Errors++
				logger.Error("pull issue failed", "external_id", remote.ID, "error", err)
			}
		}

		// Seal progress before moving on so a crash resumes at this page
		// boundary. The counters are cumulative for the pass, so only this
		// page's delta is added.
		cp.Cursor = next
		cp.TotalSynced += int64(report.Created + report.Updated - synced)
		synced = report.Created + report.Updated
		if err := e.checkpoints.Update(ctx, cp); err != nil {
			report.Duration = time.Since(start)
			return report, fmt.Errorf("update checkpoint: %w", err)
		}

		token = next
		if token == "" {
			break
		}
		pages++
		if e.maxPages > 0 && pages >= e.maxPages {
			logger.Info("page budget reached, pass will resume from cursor")
			break
		}
	}

	if token == "" {
		cp.LastSyncedAt = start
		cp.Cursor = ""
		if err := e.checkpoints.Update(ctx, cp); err != nil {
			report.Duration = time.Since(start)
			return report, fmt.Errorf("finalize checkpoint: %w", err)
		}
	}

	report.Duration = time.Since(start)
	logger.Info("pull completed",
		"fetched", report.Fetched,
		"created", report.Created,
		"updated", report.Updated,
		"skipped", report.Skipped,
		"conflicts", report.Conflicts,
		"errors", report.Errors,
		"duration", report.Duration,
	)
	return report, nil
}

// Push mirrors one internal entity to its external counterpart, creating it
// remotely when no mapping exists yet.
func (e *Engine) Push(ctx context.Context, integrationID, repoRef string, entityType domain.EntityType, internalID string) error {
	logger := e.logger.With("integration_id", integrationID, "internal_id", internalID)

	integ, client, err := e.clientFor(ctx, integrationID)
	if err != nil {
		return err
	}

	switch entityType {
	case domain.EntityIssue:
		return e.pushIssue(ctx, integ, client, repoRef, internalID, logger)
	case domain.EntityComment:
		return e.pushComment(ctx, integ, client, repoRef, internalID, logger)
	default:
		return fmt.Errorf("push: unsupported entity type %q", entityType)
	}
}

func (e *Engine) clientFor(ctx context.Context, integrationID string) (*domain.Integration, provider.Client, error) {
	integ, err := e.integrations.Get(ctx, integrationID)
	if err != nil {
		return nil, nil, fmt.Errorf("load integration: %w", err)
	}
	if !integ.Enabled {
		return nil, nil, ErrIntegrationDisabled
	}
	client, err := e.clients.ClientFor(ctx, integ)
	if err != nil {
		return nil, nil, fmt.Errorf("provider client: %w", err)
	}
	return integ, client, nil
}

// ensureRepository resolves or creates the internal repository record and its
// mapping for the pulled repo.
func (e *Engine) ensureRepository(ctx context.Context, integ *domain.Integration, client provider.Client, repoRef string, report *domain.SyncReport) (*domain.Repository, error) {
	m, err := e.mappings.ResolveInternal(ctx, integ.ID, domain.EntityRepository, repoRef)
	if err == nil {
		return e.entities.GetRepository(ctx, m.InternalID)
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	var remote *provider.RemoteRepository
	err = e.retry.Do(ctx, e.logger, "get repository", func() error {
		var lerr error
		remote, lerr = client.GetRepository(ctx, repoRef)
		return lerr
	})
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	repo := &domain.Repository{
		ID:               uuid.NewString(),
		WorkspaceID:      integ.WorkspaceID,
		Name:             remote.Name,
		FullName:         remote.FullName,
		URL:              remote.URL,
		ExternalMetadata: remote.Metadata,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	mapping := &domain.Mapping{
		ID:               uuid.NewString(),
		IntegrationID:    integ.ID,
		EntityType:       domain.EntityRepository,
		InternalID:       repo.ID,
		ExternalID:       repoRef,
		RepoRef:          repoRef,
		InternalRevision: "1",
		ExternalRevision: remote.ID,
		LastSyncedAt:     now,
		CreatedAt:        now,
	}

	err = e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := e.entities.CreateRepository(txCtx, repo); err != nil {
			return fmt.Errorf("create repository: %w", err)
		}
		return e.mappings.Upsert(txCtx, mapping)
	})
	if err != nil {
		return nil, err
	}
	report.Created++
	e.publish(ctx, domain.Event{
		Kind:          domain.EventEntitySynced,
		WorkspaceID:   integ.WorkspaceID,
		IntegrationID: integ.ID,
		EntityType:    domain.EntityRepository,
		InternalID:    repo.ID,
		ExternalID:    repoRef,
	})
	return repo, nil
}

func (e *Engine) pullIssue(ctx context.Context, integ *domain.Integration, client provider.Client, repo *domain.Repository, repoRef string, remote *provider.RemoteIssue, report *domain.SyncReport) error {
	m, err := e.mappings.ResolveInternal(ctx, integ.ID, domain.EntityIssue, remote.ID)
	if errors.Is(err, storage.ErrNotFound) {
		issueID, err := e.createIssueFromRemote(ctx, integ, repo, repoRef, remote)
		if err != nil {
			return err
		}
		report.Created++
		return e.pullComments(ctx, integ, client, repoRef, remote.ID, issueID, report)
	}
	if err != nil {
		return err
	}

	// Common case on repeated polls: the remote side has not moved.
	if m.ExternalRevision == remote.Revision {
		report.Skipped++
		return nil
	}

	issue, err := e.entities.GetIssue(ctx, m.InternalID)
	if err != nil {
		return err
	}

	decision := Resolve(issueSnapshot(issue), remoteIssueSnapshot(remote), mappingBaseline(m))
	switch decision {
	case DecisionRecordUnresolved:
		if err := e.recordConflict(ctx, integ, m, issueSnapshot(issue), remoteIssueSnapshot(remote)); err != nil {
			return err
		}
		report.Conflicts++
		return nil
	case DecisionKeepExternal:
		// fall through to apply below
	default:
		report.Skipped++
		return nil
	}

	applyRemoteIssue(issue, remote)
	issue.Revision++
	issue.UpdatedAt = time.Now().UTC()
	newInternal := strconv.FormatInt(issue.Revision, 10)

	err = e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := e.entities.UpdateIssue(txCtx, issue); err != nil {
			return fmt.Errorf("update issue: %w", err)
		}
		ok, err := e.mappings.CompareAndSwapRevisions(txCtx, m.ID, m.InternalRevision, m.ExternalRevision, newInternal, remote.Revision, time.Now().UTC())
		if err != nil {
			return err
		}
		if !ok {
			return errRevisionRace
		}
		return nil
	})
	if errors.Is(err, errRevisionRace) {
		if cerr := e.recordConflict(ctx, integ, m, issueSnapshot(issue), remoteIssueSnapshot(remote)); cerr != nil {
			return cerr
		}
		report.Conflicts++
		return nil
	}
	if err != nil {
		return err
	}

	report.Updated++
	e.publish(ctx, domain.Event{
		Kind:          domain.EventEntitySynced,
		WorkspaceID:   integ.WorkspaceID,
		IntegrationID: integ.ID,
		EntityType:    domain.EntityIssue,
		InternalID:    issue.ID,
		ExternalID:    remote.ID,
	})
	return e.pullComments(ctx, integ, client, repoRef, remote.ID, issue.ID, report)
}

func (e *Engine) createIssueFromRemote(ctx context.Context, integ *domain.Integration, repo *domain.Repository, repoRef string, remote *provider.RemoteIssue) (string, error) {
	now := time.Now().UTC()
	issue := &domain.Issue{
		ID:               uuid.NewString(),
		WorkspaceID:      integ.WorkspaceID,
		ProjectID:        repo.ProjectID,
		Title:            remote.Title,
		Description:      remote.Body,
		State:            remote.State,
		Labels:           remote.Labels,
		Revision:         1,
		ExternalMetadata: remote.Metadata,
		CreatedBy:        remote.Author,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	mapping := &domain.Mapping{
		ID:               uuid.NewString(),
		IntegrationID:    integ.ID,
		EntityType:       domain.EntityIssue,
		InternalID:       issue.ID,
		ExternalID:       remote.ID,
		RepoRef:          repoRef,
		InternalRevision: "1",
		ExternalRevision: remote.Revision,
		LastSyncedAt:     now,
		CreatedAt:        now,
	}

	err := e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := e.entities.CreateIssue(txCtx, issue); err != nil {
			return fmt.Errorf("create issue: %w", err)
		}
		return e.mappings.Upsert(txCtx, mapping)
	})
	if err != nil {
		return "", err
	}

	e.publish(ctx, domain.Event{
		Kind:          domain.EventEntitySynced,
		WorkspaceID:   integ.WorkspaceID,
		IntegrationID: integ.ID,
		EntityType:    domain.EntityIssue,
		InternalID:    issue.ID,
		ExternalID:    remote.ID,
	})
	return issue.ID, nil
}

func (e *Engine) pullComments(ctx context.Context, integ *domain.Integration, client provider.Client, repoRef, issueExternalID, issueInternalID string, report *domain.SyncReport) error {
	token := ""
	for {
		comments, next, err := client.ListComments(ctx, repoRef, issueExternalID, token)
		if err != nil {
			return fmt.Errorf("list comments: %w", err)
		}
		for i := range comments {
			if err := e.pullComment(ctx, integ, repoRef, issueInternalID, &comments[i], report); err != nil {
				report.Errors++
				e.logger.Error("pull comment failed", "external_id", comments[i].ID, "error", err)
			}
		}
		if next == "" {
			return nil
		}
		token = next
	}
}

func (e *Engine) pullComment(ctx context.Context, integ *domain.Integration, repoRef, issueInternalID string, remote *provider.RemoteComment, report *domain.SyncReport) error {
	m, err := e.mappings.ResolveInternal(ctx, integ.ID, domain.EntityComment, remote.ID)
	if errors.Is(err, storage.ErrNotFound) {
		now := time.Now().UTC()
		comment := &domain.Comment{
			ID:               uuid.NewString(),
			WorkspaceID:      integ.WorkspaceID,
			IssueID:          issueInternalID,
			Body:             remote.Body,
			Author:           remote.Author,
			Revision:         1,
			ExternalMetadata: remote.Metadata,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		mapping := &domain.Mapping{
			ID:               uuid.NewString(),
			IntegrationID:    integ.ID,
			EntityType:       domain.EntityComment,
			InternalID:       comment.ID,
			ExternalID:       remote.ID,
			RepoRef:          repoRef,
			InternalRevision: "1",
			ExternalRevision: remote.Revision,
			LastSyncedAt:     now,
			CreatedAt:        now,
		}
		err := e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
			if err := e.entities.CreateComment(txCtx, comment); err != nil {
				return fmt.Errorf("create comment: %w", err)
			}
			return e.mappings.Upsert(txCtx, mapping)
		})
		if err != nil {
			return err
		}
		report.Created++
		return nil
	}
	if err != nil {
		return err
	}

	if m.ExternalRevision == remote.Revision {
		report.Skipped++
		return nil
	}

	comment, err := e.entities.GetComment(ctx, m.InternalID)
	if err != nil {
		return err
	}

	decision := Resolve(commentSnapshot(comment), remoteCommentSnapshot(remote), mappingBaseline(m))
	if decision == DecisionRecordUnresolved {
		if err := e.recordConflict(ctx, integ, m, commentSnapshot(comment), remoteCommentSnapshot(remote)); err != nil {
			return err
		}
		report.Conflicts++
		return nil
	}
	if decision != DecisionKeepExternal {
		report.Skipped++
		return nil
	}

	comment.Body = remote.Body
	comment.ExternalMetadata = remote.Metadata
	comment.Revision++
	comment.UpdatedAt = time.Now().UTC()
	newInternal := strconv.FormatInt(comment.Revision, 10)

	err = e.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		if err := e.entities.UpdateComment(txCtx, comment); err != nil {
			return fmt.Errorf("update comment: %w", err)
		}
		ok, err := e.mappings.CompareAndSwapRevisions(txCtx, m.ID, m.InternalRevision, m.ExternalRevision, newInternal, remote.Revision, time.Now().UTC())
		if err != nil {
			return err
		}
		if !ok {
			return errRevisionRace
		}
		return nil
	})
	if errors.Is(err, errRevisionRace) {
		if cerr := e.recordConflict(ctx, integ, m, commentSnapshot(comment), remoteCommentSnapshot(remote)); cerr != nil {
			return cerr
		}
		report.Conflicts++
		return nil
	}
	if err != nil {
		return err
	}
	report.Updated++
	return nil
}

func (e *Engine) pushIssue(ctx context.Context, integ *domain.Integration, client provider.Client, repoRef, internalID string, logger *slog.Logger) error {
	issue, err := e.entities.GetIssue(ctx, internalID)
	if err != nil {
		return fmt.Errorf("load issue: %w", err)
	}
	internalRev := strconv.FormatInt(issue.Revision, 10)

	m, err := e.mappings.ResolveExternal(ctx, integ.ID, domain.EntityIssue, internalID)
	if errors.Is(err, storage.ErrNotFound) {
		var remote *provider.RemoteIssue
		err := e.retry.Do(ctx, logger, "create remote issue", func() error {
			var lerr error
			remote, lerr = client.CreateIssue(ctx, repoRef, provider.IssueDraft{
				Title:  issue.Title,
				Body:   issue.Description,
				State:  issue.State,
				Labels: issue.Labels,
			})
			return lerr
		})
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		mapping := &domain.Mapping{
			ID:               uuid.NewString(),
			IntegrationID:    integ.ID,
			EntityType:       domain.EntityIssue,
			InternalID:       issue.ID,
			ExternalID:       remote.ID,
			RepoRef:          repoRef,
			InternalRevision: internalRev,
			ExternalRevision: remote.Revision,
			LastSyncedAt:     now,
			CreatedAt:        now,
		}
		if err := e.mappings.Upsert(ctx, mapping); err != nil {
			return err
		}
		e.publish(ctx, domain.Event{
			Kind:          domain.EventEntitySynced,
			WorkspaceID:   integ.WorkspaceID,
			IntegrationID: integ.ID,
			EntityType:    domain.EntityIssue,
			InternalID:    issue.ID,
			ExternalID:    remote.ID,
		})
		logger.Info("pushed new issue", "external_id", remote.ID)
		return nil
	}
	if err != nil {
		return err
	}

	// Internal side unchanged since last sync: nothing to push.
	if m.InternalRevision == internalRev {
		return nil
	}

	var newExternal string
	err = e.retry.Do(ctx, logger, "update remote issue", func() error {
		var lerr error
		newExternal, lerr = client.UpdateIssue(ctx, m.RepoRef, m.ExternalID, provider.IssuePatch{
			Title:  &issue.Title,
			Body:   &issue.Description,
			State:  &issue.State,
			Labels: &issue.Labels,
		})
		return lerr
	})
	if err != nil {
		return err
	}

	ok, err := e.mappings.CompareAndSwapRevisions(ctx, m.ID, m.InternalRevision, m.ExternalRevision, internalRev, newExternal, time.Now().UTC())
	if err != nil {
		return err
	}
	if !ok {
		// A concurrent pull advanced the mapping; surface the divergence
		// instead of overwriting it.
		if cerr := e.recordConflict(ctx, integ, m, issueSnapshot(issue), domain.Snapshot{Revision: newExternal}); cerr != nil {
			return cerr
		}
		return nil
	}

	logger.Info("pushed issue update", "external_id", m.ExternalID)
	return nil
}

func (e *Engine) pushComment(ctx context.Context, integ *domain.Integration, client provider.Client, repoRef, internalID string, logger *slog.Logger) error {
	comment, err := e.entities.GetComment(ctx, internalID)
	if err != nil {
		return fmt.Errorf("load comment: %w", err)
	}

	if _, err := e.mappings.ResolveExternal(ctx, integ.ID, domain.EntityComment, internalID); err == nil {
		// Comment edits are not pushed; the provider capability set only
		// covers comment creation.
		return nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return err
	}

	issueMapping, err := e.mappings.ResolveExternal(ctx, integ.ID, domain.EntityIssue, comment.IssueID)
	if err != nil {
		return fmt.Errorf("resolve parent issue mapping: %w", err)
	}

	var remote *provider.RemoteComment
	err = e.retry.Do(ctx, logger, "create remote comment", func() error {
		var lerr error
		remote, lerr = client.CreateComment(ctx, issueMapping.RepoRef, issueMapping.ExternalID, comment.Body)
		return lerr
	})
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	return e.mappings.Upsert(ctx, &domain.Mapping{
		ID:               uuid.NewString(),
		IntegrationID:    integ.ID,
		EntityType:       domain.EntityComment,
		InternalID:       comment.ID,
		ExternalID:       remote.ID,
		RepoRef:          issueMapping.RepoRef,
		InternalRevision: strconv.FormatInt(comment.Revision, 10),
		ExternalRevision: remote.Revision,
		LastSyncedAt:     now,
		CreatedAt:        now,
	})
}

func (e *Engine) recordConflict(ctx context.Context, integ *domain.Integration, m *domain.Mapping, internal, external domain.Snapshot) error {
	conflict := &domain.Conflict{
		ID:               uuid.NewString(),
		MappingID:        m.ID,
		InternalSnapshot: internal,
		ExternalSnapshot: external,
		DetectedAt:       time.Now().UTC(),
		Resolution:       domain.ConflictUnresolved,
	}
	if err := e.conflicts.Create(ctx, conflict); err != nil {
		return fmt.Errorf("record conflict: %w", err)
	}
	e.publish(ctx, domain.Event{
		Kind:          domain.EventConflictDetected,
		WorkspaceID:   integ.WorkspaceID,
		IntegrationID: integ.ID,
		EntityType:    m.EntityType,
		InternalID:    m.InternalID,
		ExternalID:    m.ExternalID,
	})
	return nil
}

// publish is best-effort: a broker outage must not fail a sync pass.
func (e *Engine) publish(ctx context.Context, ev domain.Event) {
	if e.publisher == nil {
		return
	}
	ev.Timestamp = time.Now().UTC()
	if err := e.publisher.Publish(ctx, ev); err != nil {
		e.logger.Warn("publish event failed", "kind", ev.Kind, "error", err)
	}
}

func applyRemoteIssue(issue *domain.Issue, remote *provider.RemoteIssue) {
	issue.Title = remote.Title
	issue.Description = remote.Body
	issue.State = remote.State
	issue.Labels = remote.Labels
	issue.ExternalMetadata = remote.Metadata
}

func issueSnapshot(issue *domain.Issue) domain.Snapshot {
	data, _ := json.Marshal(issue)
	return domain.Snapshot{Revision: strconv.FormatInt(issue.Revision, 10), Data: data}
}

func commentSnapshot(comment *domain.Comment) domain.Snapshot {
	data, _ := json.Marshal(comment)
	return domain.Snapshot{Revision: strconv.FormatInt(comment.Revision, 10), Data: data}
}

func remoteIssueSnapshot(remote *provider.RemoteIssue) domain.Snapshot {
	data, _ := json.Marshal(remote)
	return domain.Snapshot{Revision: remote.Revision, Data: data}
}

func remoteCommentSnapshot(remote *provider.RemoteComment) domain.Snapshot {
	data, _ := json.Marshal(remote)
	return domain.Snapshot{Revision: remote.Revision, Data: data}
}

func mappingBaseline(m *domain.Mapping) Baseline {
	return Baseline{
		Internal: domain.Snapshot{Revision: m.InternalRevision},
		External: domain.Snapshot{Revision: m.ExternalRevision},
	}
}
