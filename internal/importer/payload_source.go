package importer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/sanyamjain04/plane/internal/domain"
	"github.com/sanyamjain04/plane/internal/provider"
)

// SourceKindPayload imports records embedded directly in the job's source
// configuration, which is how bulk-create requests (issues and modules posted
// in the request body) run through the same batching machinery as remote
// imports.
const SourceKindPayload = "payload"

const defaultPayloadPageSize = 100

type payloadConfig struct {
	Issues   []payloadIssue  `json:"issues"`
	Modules  []payloadModule `json:"modules"`
	PageSize int             `json:"page_size"`
}

type payloadIssue struct {
	// ExternalKey is the caller-supplied dedup key; records without one are
	// keyed by a content hash.
	ExternalKey string          `json:"external_key"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
	State       string          `json:"state"`
	Labels      []string        `json:"labels"`
	Module      string          `json:"module"`
	Metadata    json.RawMessage `json:"metadata"`
}

type payloadModule struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// PayloadSource paginates over an in-memory record list with an integer
// offset cursor.
type PayloadSource struct {
	records  []Record
	pageSize int
}

// NewPayloadSource is the SourceFactory for SourceKindPayload.
func NewPayloadSource(_ context.Context, job *domain.ImportJob) (Source, error) {
	var cfg payloadConfig
	if err := json.Unmarshal(job.SourceConfig, &cfg); err != nil {
		return nil, provider.Permanent("payload.parse_config", err)
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = defaultPayloadPageSize
	}

	records := make([]Record, 0, len(cfg.Modules)+len(cfg.Issues))
	// Modules first so issue records can link to them within the same job.
	for _, m := range cfg.Modules {
		records = append(records, Record{
			Kind:        RecordModule,
			DedupKey:    "module:" + m.Name,
			Fingerprint: fingerprint(m),
			Module:      m.Name,
			Description: m.Description,
			CreatedBy:   job.CreatedBy,
		})
	}
	for _, is := range cfg.Issues {
		key := is.ExternalKey
		if key == "" {
			key = "issue:" + fingerprint(is)
		}
		records = append(records, Record{
			Kind:        RecordIssue,
			DedupKey:    key,
			Fingerprint: fingerprint(is),
			Title:       is.Title,
			Description: is.Description,
			State:       is.State,
			Labels:      is.Labels,
			Module:      is.Module,
			Metadata:    is.Metadata,
			CreatedBy:   job.CreatedBy,
		})
	}

	return &PayloadSource{records: records, pageSize: cfg.PageSize}, nil
}

func (s *PayloadSource) Kind() string { return SourceKindPayload }

func (s *PayloadSource) FetchPage(_ context.Context, cursor string) (*Page, error) {
	offset := 0
	if cursor != "" {
		n, err := strconv.Atoi(cursor)
		if err != nil {
			return nil, provider.Permanent("payload.parse_cursor", fmt.Errorf("bad cursor %q: %w", cursor, err))
		}
		offset = n
	}
	if offset > len(s.records) {
		offset = len(s.records)
	}

	end := offset + s.pageSize
	if end > len(s.records) {
		end = len(s.records)
	}
	total := int64(len(s.records))

	page := &Page{
		Records: s.records[offset:end],
		Total:   &total,
		Done:    end == len(s.records),
	}
	if !page.Done {
		page.NextCursor = strconv.Itoa(end)
	}
	return page, nil
}

// fingerprint hashes a record's content so re-imports of unchanged records
// dedup to SkippedDuplicate.
func fingerprint(v any) string {
	data, _ := json.Marshal(v)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
