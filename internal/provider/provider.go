// Package provider defines the capability interface a provider adapter
// implements. The sync and import engines only see this interface; adding a
// provider means implementing it, never branching on a provider kind inside
// the engines.
package provider

//go:generate mockgen -source=provider.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"encoding/json"
	"time"
)

// RemoteIssue is a provider issue normalized to the fields the internal model
// understands. Provider-only fields are preserved verbatim in Metadata so
// round-tripping does not lose data.
type RemoteIssue struct {
	ID       string
	Title    string
	Body     string
	State    string
	Labels   []string
	Author   string
	Revision string
	Metadata json.RawMessage
}

type RemoteComment struct {
	ID       string
	IssueID  string
	Body     string
	Author   string
	Revision string
	Metadata json.RawMessage
}

type RemoteRepository struct {
	ID       string
	Name     string
	FullName string
	URL      string
	Metadata json.RawMessage
}

// IssueDraft is the payload for creating a remote issue.
type IssueDraft struct {
	Title  string
	Body   string
	State  string
	Labels []string
}

// IssuePatch carries only the fields to change; nil means leave untouched.
type IssuePatch struct {
	Title  *string
	Body   *string
	State  *string
	Labels *[]string
}

// RateLimit is the provider's reported call budget.
type RateLimit struct {
	Remaining int
	ResetAt   time.Time
}

// Client is the capability set a provider adapter implements. All listings
// are cursor-paginated: an empty returned token means no further pages, and
// tokens are opaque so engines can persist them as resumption checkpoints.
type Client interface {
	ListRepositories(ctx context.Context, pageToken string) ([]RemoteRepository, string, error)
	GetRepository(ctx context.Context, repoRef string) (*RemoteRepository, error)
	ListIssues(ctx context.Context, repoRef string, since time.Time, pageToken string) ([]RemoteIssue, string, error)
	CreateIssue(ctx context.Context, repoRef string, draft IssueDraft) (*RemoteIssue, error)
	UpdateIssue(ctx context.Context, repoRef, externalID string, patch IssuePatch) (string, error)
	ListComments(ctx context.Context, repoRef, issueExternalID, pageToken string) ([]RemoteComment, string, error)
	CreateComment(ctx context.Context, repoRef, issueExternalID, body string) (*RemoteComment, error)
	RateLimit(ctx context.Context) (RateLimit, error)
}
