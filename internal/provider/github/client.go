// Package github implements provider.Client against the GitHub REST API.
//
// Field mapping between the provider model and the internal model:
//
//	issue.number      -> external id (decimal string)
//	issue.title       -> Title
//	issue.body        -> Body
//	issue.state       -> State ("open" | "closed", unchanged)
//	issue.labels[]    -> Labels (names only)
//	issue.updated_at  -> Revision (RFC 3339 Nano)
//
// Fields the internal model has no home for (html_url, assignees, milestone,
// locked, author login) are carried verbatim in the metadata blob.
package github

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"sync"
	"time"

	"github.com/sanyamjain04/plane/internal/provider"
)

const defaultBaseURL = "https://api.github.com"

var nextLinkRe = regexp.MustCompile(`<([^>]+)>;\s*rel="next"`)

// Config holds GitHub adapter configuration.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	// PageSize is the per_page value for listings.
	PageSize int
	// RateLimitFloor is the low-water mark: when the reported remaining
	// budget drops to or below it, calls pause until the reset time instead
	// of burning the last requests and failing.
	RateLimitFloor int
}

// Client talks to one GitHub installation with one token.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	pageSize   int
	floor      int
	logger     *slog.Logger

	mu   sync.Mutex
	rate provider.RateLimit
}

func New(cfg Config, logger *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.PageSize == 0 {
		cfg.PageSize = 100
	}
	if cfg.RateLimitFloor == 0 {
		cfg.RateLimitFloor = 10
	}
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    cfg.BaseURL,
		token:      cfg.Token,
		pageSize:   cfg.PageSize,
		floor:      cfg.RateLimitFloor,
		logger:     logger.With("provider", "github"),
	}
}

func (c *Client) ListRepositories(ctx context.Context, pageToken string) ([]provider.RemoteRepository, string, error) {
	u := pageToken
	if u == "" {
		u = fmt.Sprintf("%s/user/repos?per_page=%d", c.baseURL, c.pageSize)
	}

	var repos []apiRepository
	next, err := c.getJSON(ctx, "github.list_repositories", u, &repos)
	if err != nil {
		return nil, "", err
	}

	out := make([]provider.RemoteRepository, 0, len(repos))
	for _, r := range repos {
		out = append(out, toRemoteRepository(r))
	}
	return out, next, nil
}

func (c *Client) GetRepository(ctx context.Context, repoRef string) (*provider.RemoteRepository, error) {
	u := fmt.Sprintf("%s/repos/%s", c.baseURL, repoRef)

	var repo apiRepository
	if _, err := c.getJSON(ctx, "github.get_repository", u, &repo); err != nil {
		return nil, err
	}
	r := toRemoteRepository(repo)
	return &r, nil
}

func (c *Client) ListIssues(ctx context.Context, repoRef string, since time.Time, pageToken string) ([]provider.RemoteIssue, string, error) {
	u := pageToken
	if u == "" {
		q := url.Values{}
		q.Set("state", "all")
		q.Set("per_page", strconv.Itoa(c.pageSize))
		if !since.IsZero() {
			q.Set("since", since.UTC().Format(time.RFC3339))
		}
		u = fmt.Sprintf("%s/repos/%s/issues?%s", c.baseURL, repoRef, q.Encode())
	}

	var issues []apiIssue
	next, err := c.getJSON(ctx, "github.list_issues", u, &issues)
	if err != nil {
		return nil, "", err
	}

	out := make([]provider.RemoteIssue, 0, len(issues))
	for _, is := range issues {
		ri, err := toRemoteIssue(is)
		if err != nil {
			return nil, "", provider.Permanent("github.list_issues", err)
		}
		out = append(out, ri)
	}
	return out, next, nil
}

func (c *Client) CreateIssue(ctx context.Context, repoRef string, draft provider.IssueDraft) (*provider.RemoteIssue, error) {
	const op = "github.create_issue"
	u := fmt.Sprintf("%s/repos/%s/issues", c.baseURL, repoRef)

	payload := map[string]any{
		"title":  draft.Title,
		"body":   draft.Body,
		"labels": draft.Labels,
	}
	var created apiIssue
	if err := c.sendJSON(ctx, op, http.MethodPost, u, payload, &created); err != nil {
		return nil, err
	}

	// The create endpoint cannot set state; a closed draft needs a follow-up
	// patch.
	if draft.State == "closed" && created.State != "closed" {
		closed := "closed"
		rev, err := c.UpdateIssue(ctx, repoRef, strconv.FormatInt(created.Number, 10), provider.IssuePatch{State: &closed})
		if err != nil {
			return nil, err
		}
		created.State = "closed"
		ri, merr := toRemoteIssue(created)
		if merr != nil {
			return nil, provider.Permanent(op, merr)
		}
		ri.Revision = rev
		return &ri, nil
	}

	ri, err := toRemoteIssue(created)
	if err != nil {
		return nil, provider.Permanent(op, err)
	}
	return &ri, nil
}

func (c *Client) UpdateIssue(ctx context.Context, repoRef, externalID string, patch provider.IssuePatch) (string, error) {
	const op = "github.update_issue"
	u := fmt.Sprintf("%s/repos/%s/issues/%s", c.baseURL, repoRef, externalID)

	payload := map[string]any{}
	if patch.Title != nil {
		payload["title"] = *patch.Title
	}
	if patch.Body != nil {
		payload["body"] = *patch.Body
	}
	if patch.State != nil {
		payload["state"] = *patch.State
	}
	if patch.Labels != nil {
		payload["labels"] = *patch.Labels
	}

	var updated apiIssue
	if err := c.sendJSON(ctx, op, http.MethodPatch, u, payload, &updated); err != nil {
		return "", err
	}
	return updated.UpdatedAt.Format(time.RFC3339Nano), nil
}

func (c *Client) ListComments(ctx context.Context, repoRef, issueExternalID, pageToken string) ([]provider.RemoteComment, string, error) {
	u := pageToken
	if u == "" {
		u = fmt.Sprintf("%s/repos/%s/issues/%s/comments?per_page=%d", c.baseURL, repoRef, issueExternalID, c.pageSize)
	}

	var comments []apiComment
	next, err := c.getJSON(ctx, "github.list_comments", u, &comments)
	if err != nil {
		return nil, "", err
	}

	out := make([]provider.RemoteComment, 0, len(comments))
	for _, cm := range comments {
		rc, err := toRemoteComment(cm, issueExternalID)
		if err != nil {
			return nil, "", provider.Permanent("github.list_comments", err)
		}
		out = append(out, rc)
	}
	return out, next, nil
}

func (c *Client) CreateComment(ctx context.Context, repoRef, issueExternalID, body string) (*provider.RemoteComment, error) {
	const op = "github.create_comment"
	u := fmt.Sprintf("%s/repos/%s/issues/%s/comments", c.baseURL, repoRef, issueExternalID)

	var created apiComment
	if err := c.sendJSON(ctx, op, http.MethodPost, u, map[string]string{"body": body}, &created); err != nil {
		return nil, err
	}
	rc, err := toRemoteComment(created, issueExternalID)
	if err != nil {
		return nil, provider.Permanent(op, err)
	}
	return &rc, nil
}

func (c *Client) RateLimit(ctx context.Context) (provider.RateLimit, error) {
	u := fmt.Sprintf("%s/rate_limit", c.baseURL)

	var rl apiRateLimit
	if _, err := c.getJSON(ctx, "github.rate_limit", u, &rl); err != nil {
		return provider.RateLimit{}, err
	}
	state := provider.RateLimit{
		Remaining: rl.Resources.Core.Remaining,
		ResetAt:   time.Unix(rl.Resources.Core.Reset, 0),
	}
	c.mu.Lock()
	c.rate = state
	c.mu.Unlock()
	return state, nil
}

// getJSON performs a GET, decodes the body into out and returns the next-page
// token from the Link header.
func (c *Client) getJSON(ctx context.Context, op, url string, out any) (string, error) {
	resp, err := c.do(ctx, op, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return "", provider.Permanent(op, fmt.Errorf("decode response: %w", err))
	}
	return nextPageToken(resp.Header.Get("Link")), nil
}

func (c *Client) sendJSON(ctx context.Context, op, method, url string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return provider.Permanent(op, fmt.Errorf("marshal payload: %w", err))
	}

	resp, err := c.do(ctx, op, method, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return provider.Permanent(op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

func (c *Client) do(ctx context.Context, op, method, url string, body io.Reader) (*http.Response, error) {
	if err := c.waitForBudget(ctx, op); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, provider.Permanent(op, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, provider.Transient(op, err)
	}

	c.observeRateHeaders(resp)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
	statusErr := fmt.Errorf("unexpected status %s: %s", resp.Status, respBody)

	if isRateLimited(resp) || resp.StatusCode >= 500 {
		return nil, provider.Transient(op, statusErr)
	}
	return nil, provider.Permanent(op, statusErr)
}

// waitForBudget pauses until the rate-limit window resets when the last
// observed remaining budget is at or below the low-water mark.
func (c *Client) waitForBudget(ctx context.Context, op string) error {
	c.mu.Lock()
	rate := c.rate
	c.mu.Unlock()

	if rate.ResetAt.IsZero() || rate.Remaining > c.floor {
		return nil
	}
	wait := time.Until(rate.ResetAt)
	if wait <= 0 {
		return nil
	}

	c.logger.Warn("rate limit low, pausing",
		"op", op,
		"remaining", rate.Remaining,
		"reset_at", rate.ResetAt,
	)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(wait):
		return nil
	}
}

func (c *Client) observeRateHeaders(resp *http.Response) {
	remaining := resp.Header.Get("X-RateLimit-Remaining")
	reset := resp.Header.Get("X-RateLimit-Reset")
	if remaining == "" || reset == "" {
		return
	}
	rem, err := strconv.Atoi(remaining)
	if err != nil {
		return
	}
	resetUnix, err := strconv.ParseInt(reset, 10, 64)
	if err != nil {
		return
	}
	c.mu.Lock()
	c.rate = provider.RateLimit{Remaining: rem, ResetAt: time.Unix(resetUnix, 0)}
	c.mu.Unlock()
}

func isRateLimited(resp *http.Response) bool {
	if resp.StatusCode == http.StatusTooManyRequests {
		return true
	}
	return resp.StatusCode == http.StatusForbidden && resp.Header.Get("X-RateLimit-Remaining") == "0"
}

// nextPageToken extracts the rel="next" URL from a Link header. The URL is
// the opaque cursor threaded back to the engines.
func nextPageToken(linkHeader string) string {
	if linkHeader == "" {
		return ""
	}
	matches := nextLinkRe.FindStringSubmatch(linkHeader)
	if len(matches) >= 2 {
		return matches[1]
	}
	return ""
}

func toRemoteIssue(is apiIssue) (provider.RemoteIssue, error) {
	labels := make([]string, 0, len(is.Labels))
	for _, l := range is.Labels {
		labels = append(labels, l.Name)
	}
	assignees := make([]string, 0, len(is.Assignees))
	for _, a := range is.Assignees {
		assignees = append(assignees, a.Login)
	}
	meta := issueMetadata{
		Number:    is.Number,
		HTMLURL:   is.HTMLURL,
		Author:    is.User.Login,
		Assignees: assignees,
		Locked:    is.Locked,
		CreatedAt: is.CreatedAt,
		UpdatedAt: is.UpdatedAt,
	}
	if is.Milestone != nil {
		meta.Milestone = is.Milestone.Title
	}
	rawMeta, err := json.Marshal(meta)
	if err != nil {
		return provider.RemoteIssue{}, fmt.Errorf("marshal issue metadata: %w", err)
	}
	return provider.RemoteIssue{
		ID:       strconv.FormatInt(is.Number, 10),
		Title:    is.Title,
		Body:     is.Body,
		State:    is.State,
		Labels:   labels,
		Author:   is.User.Login,
		Revision: is.UpdatedAt.Format(time.RFC3339Nano),
		Metadata: rawMeta,
	}, nil
}

func toRemoteComment(cm apiComment, issueExternalID string) (provider.RemoteComment, error) {
	rawMeta, err := json.Marshal(commentMetadata{
		HTMLURL:   cm.HTMLURL,
		CreatedAt: cm.CreatedAt,
		UpdatedAt: cm.UpdatedAt,
	})
	if err != nil {
		return provider.RemoteComment{}, fmt.Errorf("marshal comment metadata: %w", err)
	}
	return provider.RemoteComment{
		ID:       strconv.FormatInt(cm.ID, 10),
		IssueID:  issueExternalID,
		Body:     cm.Body,
		Author:   cm.User.Login,
		Revision: cm.UpdatedAt.Format(time.RFC3339Nano),
		Metadata: rawMeta,
	}, nil
}

func toRemoteRepository(r apiRepository) provider.RemoteRepository {
	meta, _ := json.Marshal(map[string]any{
		"owner":   r.Owner.Login,
		"private": r.Private,
	})
	return provider.RemoteRepository{
		ID:       strconv.FormatInt(r.ID, 10),
		Name:     r.Name,
		FullName: r.FullName,
		URL:      r.HTMLURL,
		Metadata: meta,
	}
}
