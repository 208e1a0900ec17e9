package harvest

import (
	"context"
	"errors"
)

// ErrRetriesExhausted is returned by a capped fetcher when every attempt failed.
var ErrRetriesExhausted = errors.New("fetch retries exhausted")

// QuotaSource reports the remote service's remaining request quota.
type QuotaSource interface {
	Quota(ctx context.Context) (Quota, error)
}

// Gate blocks until the remote quota allows another request.
type Gate interface {
	AwaitCapacity(ctx context.Context) error
}

// Searcher runs one search page through the retrying fetcher.
type Searcher interface {
	Search(ctx context.Context, query string, page int) (SearchPage, error)
}

// ContentFetcher retrieves the content payload for one search item.
type ContentFetcher interface {
	Content(ctx context.Context, contentURL string) (ContentPayload, error)
}

// Resolver materializes search items into artifacts.
type Resolver interface {
	ResolveMany(ctx context.Context, items []SearchResultItem) []Resolution
}

// Resolution is the per-item outcome of ResolveMany. Err is set when the item
// could not be resolved and must be skipped.
type Resolution struct {
	Artifact ResolvedArtifact
	Err      error
}

// Repository is the persistence collaborator. Every call is atomic.
type Repository interface {
	CreateSchemaIfAbsent(ctx context.Context) error
	ExistsByIdentifier(ctx context.Context, identifier string) (bool, error)
	InsertIgnoringConflict(ctx context.Context, record Record) (bool, error)
	// InsertBatch stores records in a single transaction, silently skipping
	// identifiers that already exist, and returns how many rows were added.
	InsertBatch(ctx context.Context, records []Record) (int, error)
	Count(ctx context.Context) (int64, error)
	Close() error
}

// CheckpointStore durably records crawl progress.
type CheckpointStore interface {
	// Load returns the stored state and false when nothing has been saved yet.
	Load(ctx context.Context) (CrawlState, bool, error)
	Save(ctx context.Context, state CrawlState) error
}

// Partitioner generates the ordered, gapless partition sequence.
type Partitioner interface {
	First() SearchPartition
	// Next returns the partition after p and false once the sequence is done.
	Next(p SearchPartition) (SearchPartition, bool)
	// Contains reports whether p lies within the configured bounds.
	Contains(p SearchPartition) bool
}
