package importer

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanyamjain04/plane/internal/domain"
)

func payloadJob(t *testing.T, cfg string) *domain.ImportJob {
	t.Helper()
	return &domain.ImportJob{
		ID:           "job-1",
		WorkspaceID:  "ws-1",
		ProjectID:    "proj-1",
		SourceKind:   SourceKindPayload,
		SourceConfig: json.RawMessage(cfg),
		CreatedBy:    "user-1",
	}
}

func TestPayloadSource_ModulesPrecedeIssues(t *testing.T) {
	src, err := NewPayloadSource(context.Background(), payloadJob(t, `{
		"modules": [{"name": "Backlog"}],
		"issues": [{"external_key": "k-1", "title": "first", "module": "Backlog"}]
	}`))
	require.NoError(t, err)

	page, err := src.FetchPage(context.Background(), "")
	require.NoError(t, err)

	require.Len(t, page.Records, 2)
	assert.Equal(t, RecordModule, page.Records[0].Kind)
	assert.Equal(t, "module:Backlog", page.Records[0].DedupKey)
	assert.Equal(t, RecordIssue, page.Records[1].Kind)
	assert.Equal(t, "k-1", page.Records[1].DedupKey)
	assert.True(t, page.Done)
	require.NotNil(t, page.Total)
	assert.Equal(t, int64(2), *page.Total)
}

func TestPayloadSource_Pagination(t *testing.T) {
	src, err := NewPayloadSource(context.Background(), payloadJob(t, `{
		"page_size": 2,
		"issues": [
			{"external_key": "k-1", "title": "a"},
			{"external_key": "k-2", "title": "b"},
			{"external_key": "k-3", "title": "c"}
		]
	}`))
	require.NoError(t, err)

	ctx := context.Background()

	page, err := src.FetchPage(ctx, "")
	require.NoError(t, err)
	assert.Len(t, page.Records, 2)
	assert.False(t, page.Done)
	assert.Equal(t, "2", page.NextCursor)

	page, err = src.FetchPage(ctx, page.NextCursor)
	require.NoError(t, err)
	assert.Len(t, page.Records, 1)
	assert.Equal(t, "k-3", page.Records[0].DedupKey)
	assert.True(t, page.Done)
	assert.Empty(t, page.NextCursor)
}

func TestPayloadSource_MissingKeyFallsBackToContentHash(t *testing.T) {
	cfg := `{"issues": [{"title": "untitled key", "description": "body"}]}`

	src, err := NewPayloadSource(context.Background(), payloadJob(t, cfg))
	require.NoError(t, err)
	page, err := src.FetchPage(context.Background(), "")
	require.NoError(t, err)

	require.Len(t, page.Records, 1)
	key := page.Records[0].DedupKey
	assert.Contains(t, key, "issue:")

	// Same content yields the same key, so replays dedup.
	src2, err := NewPayloadSource(context.Background(), payloadJob(t, cfg))
	require.NoError(t, err)
	page2, err := src2.FetchPage(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, key, page2.Records[0].DedupKey)
}

func TestPayloadSource_BadConfig(t *testing.T) {
	_, err := NewPayloadSource(context.Background(), payloadJob(t, `{not json`))
	assert.Error(t, err)
}

func TestPayloadSource_BadCursor(t *testing.T) {
	src, err := NewPayloadSource(context.Background(), payloadJob(t, `{"issues": []}`))
	require.NoError(t, err)

	_, err = src.FetchPage(context.Background(), "not-a-number")
	assert.Error(t, err)
}
