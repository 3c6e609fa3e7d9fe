package crawler

import (
	"context"
	"time"

	"github.com/JakeFAU/cromap-crawler/internal/progress"
)

// PageHandler turns list and record pages into typed results. Implementations
// must be safe to call concurrently and to re-invoke for the same URL.
type PageHandler interface {
	ScrapeList(ctx context.Context, url string) ([]Link, error)
	ScrapeRecord(ctx context.Context, url string) (Record, error)
}

// FetchCache memoizes parsed results by URL.
type FetchCache interface {
	// Resolve returns the cached result for url or runs fetch on a miss. The
	// boolean reports whether fetch was invoked.
	Resolve(ctx context.Context, url string, fetch func(context.Context) (Result, error)) (Result, bool, error)
}

// RecordIndex admits each distinct record once.
type RecordIndex interface {
	Insert(record Record) (string, error)
	Count() int
}

// Publisher pushes notifications about admitted records.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// ProgressReporter receives crawl milestones. Emit must not block.
type ProgressReporter interface {
	Emit(evt progress.Event)
}

// Hasher computes digests for deduplication.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs.
type IDGenerator interface {
	NewID() (string, error)
}
