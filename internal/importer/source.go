package importer

import (
	"context"
	"encoding/json"
)

type RecordKind string

const (
	RecordIssue  RecordKind = "issue"
	RecordModule RecordKind = "module"
)

// Record is one source item normalized for import. DedupKey must be stable
// across re-fetches of the same page so batch replay after a crash is
// idempotent; Fingerprint changes iff the record's content changes.
type Record struct {
	Kind        RecordKind
	DedupKey    string
	Fingerprint string
	Title       string
	Description string
	State       string
	Labels      []string
	// Module names the module this issue belongs to, or the module itself
	// for RecordModule records.
	Module    string
	Metadata  json.RawMessage
	CreatedBy string
}

// Page is one fetched source page. NextCursor is the opaque resumption token
// for the following page; Done signals the source is exhausted.
type Page struct {
	Records    []Record
	NextCursor string
	Done       bool
	// Total is the overall item count when the source knows it, nil
	// otherwise.
	Total *int64
}

// Source yields import records page by page. FetchPage with the same cursor
// must return the same logical page so replays stay idempotent.
type Source interface {
	Kind() string
	FetchPage(ctx context.Context, cursor string) (*Page, error)
}
