package ingest

import (
	"context"
	"time"
)

// Fetcher retrieves the full text for a content URL. Failures should be
// returned as *FetchError so callers can tell Blocked from Transient.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// Summarizer condenses fetched text. Errors are non-fatal to the pipeline.
type Summarizer interface {
	Summarize(ctx context.Context, req SummaryRequest) (Summary, error)
	Close() error
}

// Writer persists content records and the ingestion log.
type Writer interface {
	UpsertVideo(ctx context.Context, rec VideoRecord) (string, error)
	UpsertArticle(ctx context.Context, rec ArticleRecord) (string, error)
	LogEvent(ctx context.Context, entry LogEntry) (string, error)
	Close() error
}

// Reader serves the read paths used by display tools.
type Reader interface {
	Recent(ctx context.Context, kind Kind, limit int) ([]Record, error)
	Search(ctx context.Context, kind Kind, query string, limit int) ([]Record, error)
}

// DedupStore remembers the last processed content hash per URL.
type DedupStore interface {
	GetStoredHash(ctx context.Context, url string) (string, bool, error)
	HasChanged(ctx context.Context, url, hash string) (bool, error)
	MarkProcessed(ctx context.Context, url, hash string) error
	Close() error
}

// Discoverer lists candidate items from one source descriptor.
type Discoverer interface {
	Name() string
	Discover(ctx context.Context, since time.Time) ([]DiscoveredItem, error)
}

// MetadataResolver fills in item metadata for an ad-hoc URL.
type MetadataResolver interface {
	Resolve(ctx context.Context, url string) (DiscoveredItem, error)
}

// Hasher computes content digests for deduplication.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run identifiers.
type IDGenerator interface {
	NewID() (string, error)
}
