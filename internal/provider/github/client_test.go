package github

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanyamjain04/plane/internal/provider"
)

func testClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
	c := New(Config{
		BaseURL:  srv.URL,
		Token:    "test-token",
		PageSize: 2,
	}, logger)
	return c, srv
}

func TestListIssues_MapsFields(t *testing.T) {
	updated := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/repos/octo/repo/issues", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		assert.Equal(t, "all", r.URL.Query().Get("state"))
		assert.Equal(t, "2", r.URL.Query().Get("per_page"))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `[{
			"number": 7,
			"title": "broken build",
			"body": "details",
			"state": "open",
			"locked": true,
			"html_url": "https://github.com/octo/repo/issues/7",
			"labels": [{"name": "bug"}, {"name": "ci"}],
			"user": {"login": "octocat"},
			"updated_at": %q,
			"created_at": %q
		}]`, updated.Format(time.RFC3339), updated.Format(time.RFC3339))
	}))

	issues, next, err := c.ListIssues(context.Background(), "octo/repo", time.Time{}, "")

	require.NoError(t, err)
	assert.Empty(t, next)
	require.Len(t, issues, 1)

	is := issues[0]
	assert.Equal(t, "7", is.ID)
	assert.Equal(t, "broken build", is.Title)
	assert.Equal(t, "open", is.State)
	assert.Equal(t, []string{"bug", "ci"}, is.Labels)
	assert.Equal(t, "octocat", is.Author)
	assert.Equal(t, updated.Format(time.RFC3339Nano), is.Revision)
	// Provider-only fields survive in the metadata blob.
	assert.Contains(t, string(is.Metadata), "html_url")
	assert.Contains(t, string(is.Metadata), "octocat")
}

func TestListIssues_FollowsLinkHeader(t *testing.T) {
	var base string
	c, srv := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("page") == "2" {
			fmt.Fprint(w, `[{"number": 2, "title": "second", "user": {"login": "a"}}]`)
			return
		}
		w.Header().Set("Link", fmt.Sprintf(`<%s/repos/octo/repo/issues?page=2>; rel="next", <%s/repos/octo/repo/issues?page=9>; rel="last"`, base, base))
		fmt.Fprint(w, `[{"number": 1, "title": "first", "user": {"login": "a"}}]`)
	}))
	base = srv.URL

	ctx := context.Background()

	issues, next, err := c.ListIssues(ctx, "octo/repo", time.Time{}, "")
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, "1", issues[0].ID)
	require.NotEmpty(t, next)

	// The token is the rel="next" URL itself; feeding it back fetches page 2.
	issues, next, err = c.ListIssues(ctx, "octo/repo", time.Time{}, next)
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, "2", issues[0].ID)
	assert.Empty(t, next)
}

func TestListIssues_SinceParameter(t *testing.T) {
	since := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, since.Format(time.RFC3339), r.URL.Query().Get("since"))
		fmt.Fprint(w, `[]`)
	}))

	_, _, err := c.ListIssues(context.Background(), "octo/repo", since, "")
	require.NoError(t, err)
}

func TestCreateIssue_ClosedDraftGetsFollowUpPatch(t *testing.T) {
	var patched bool
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.Method {
		case http.MethodPost:
			fmt.Fprint(w, `{"number": 9, "title": "done already", "state": "open", "user": {"login": "a"}, "updated_at": "2024-03-01T12:00:00Z"}`)
		case http.MethodPatch:
			patched = true
			assert.Equal(t, "/repos/octo/repo/issues/9", r.URL.Path)
			fmt.Fprint(w, `{"number": 9, "title": "done already", "state": "closed", "user": {"login": "a"}, "updated_at": "2024-03-01T12:00:05Z"}`)
		}
	}))

	created, err := c.CreateIssue(context.Background(), "octo/repo", provider.IssueDraft{
		Title: "done already",
		State: "closed",
	})

	require.NoError(t, err)
	assert.True(t, patched)
	assert.Equal(t, "closed", created.State)
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		headers   map[string]string
		transient bool
	}{
		{"server error", http.StatusBadGateway, nil, true},
		{"too many requests", http.StatusTooManyRequests, nil, true},
		{"rate limited 403", http.StatusForbidden, map[string]string{"X-RateLimit-Remaining": "0", "X-RateLimit-Reset": "99999999999"}, true},
		{"plain forbidden", http.StatusForbidden, nil, false},
		{"not found", http.StatusNotFound, nil, false},
		{"unauthorized", http.StatusUnauthorized, nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				for k, v := range tt.headers {
					w.Header().Set(k, v)
				}
				w.WriteHeader(tt.status)
			}))

			_, err := c.GetRepository(context.Background(), "octo/repo")

			require.Error(t, err)
			assert.Equal(t, tt.transient, provider.IsTransient(err))
			assert.Equal(t, !tt.transient, provider.IsPermanent(err))
		})
	}
}

func TestRateLimitHeadersObserved(t *testing.T) {
	reset := time.Now().Add(time.Hour).Unix()
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Remaining", "42")
		w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", reset))
		fmt.Fprint(w, `{"id": 1, "name": "repo", "full_name": "octo/repo", "owner": {"login": "octo"}}`)
	}))

	_, err := c.GetRepository(context.Background(), "octo/repo")
	require.NoError(t, err)

	c.mu.Lock()
	rate := c.rate
	c.mu.Unlock()
	assert.Equal(t, 42, rate.Remaining)
	assert.Equal(t, reset, rate.ResetAt.Unix())
}

func TestWaitForBudget_RespectsContext(t *testing.T) {
	c, _ := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{}`)
	}))

	// Budget exhausted with a far-future reset: the next call must park until
	// cancelled rather than spend the remaining requests.
	c.mu.Lock()
	c.rate = provider.RateLimit{Remaining: 0, ResetAt: time.Now().Add(time.Hour)}
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := c.GetRepository(ctx, "octo/repo")

	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestNextPageToken(t *testing.T) {
	assert.Equal(t, "", nextPageToken(""))
	assert.Equal(t, "", nextPageToken(`<https://x/page=3>; rel="last"`))
	assert.Equal(t,
		"https://api.github.com/repos/o/r/issues?page=2",
		nextPageToken(`<https://api.github.com/repos/o/r/issues?page=2>; rel="next", <https://x?page=9>; rel="last"`),
	)
}
