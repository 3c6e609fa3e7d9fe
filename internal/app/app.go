// Package app builds and owns the long-lived services of a crawl run: blob
// storage, the fetch cache, the dedup index, the page handler, optional sinks,
// and the progress hub.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	gcstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/cromap-crawler/internal/cache"
	"github.com/JakeFAU/cromap-crawler/internal/clock/system"
	"github.com/JakeFAU/cromap-crawler/internal/config"
	"github.com/JakeFAU/cromap-crawler/internal/crawler"
	"github.com/JakeFAU/cromap-crawler/internal/dedup"
	collyfetcher "github.com/JakeFAU/cromap-crawler/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/cromap-crawler/internal/fetcher/headless"
	"github.com/JakeFAU/cromap-crawler/internal/hash/sha256"
	"github.com/JakeFAU/cromap-crawler/internal/id/uuid"
	"github.com/JakeFAU/cromap-crawler/internal/logging"
	"github.com/JakeFAU/cromap-crawler/internal/policy/ratelimit"
	"github.com/JakeFAU/cromap-crawler/internal/progress"
	"github.com/JakeFAU/cromap-crawler/internal/progress/sinks"
	memorypublisher "github.com/JakeFAU/cromap-crawler/internal/publisher/memory"
	pubsubpublisher "github.com/JakeFAU/cromap-crawler/internal/publisher/pubsub"
	"github.com/JakeFAU/cromap-crawler/internal/scrape"
	"github.com/JakeFAU/cromap-crawler/internal/storage"
	"github.com/JakeFAU/cromap-crawler/internal/storage/gcs"
	"github.com/JakeFAU/cromap-crawler/internal/storage/local"
	"github.com/JakeFAU/cromap-crawler/internal/storage/memory"
	"github.com/JakeFAU/cromap-crawler/internal/storage/postgres"
)

// RecordSink mirrors a dedup export into an external store.
type RecordSink interface {
	InsertRecords(ctx context.Context, records map[string]crawler.Record) (int, error)
}

// App holds the services shared by a single crawl or report invocation.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	runID  string

	blobs     storage.BlobStore
	cache     *cache.Cache
	index     *dedup.Index
	handler   crawler.PageHandler
	publisher crawler.Publisher
	records   RecordSink
	hub       *progress.Hub
	clock     crawler.Clock

	closers []func(context.Context) error
}

type options struct {
	blobs     storage.BlobStore
	fetcher   scrape.PageFetcher
	handler   crawler.PageHandler
	publisher crawler.Publisher
	records   RecordSink
	progress  io.Writer
	clock     crawler.Clock
	ids       crawler.IDGenerator
}

// Option overrides a service the App would otherwise build from config.
type Option func(*options)

// WithBlobStore replaces the configured storage backend.
func WithBlobStore(s storage.BlobStore) Option {
	return func(o *options) { o.blobs = s }
}

// WithPageFetcher replaces the configured HTTP or headless transport.
func WithPageFetcher(f scrape.PageFetcher) Option {
	return func(o *options) { o.fetcher = f }
}

// WithPageHandler replaces the scrape handler entirely.
func WithPageHandler(h crawler.PageHandler) Option {
	return func(o *options) { o.handler = h }
}

// WithPublisher replaces the configured Pub/Sub publisher.
func WithPublisher(p crawler.Publisher) Option {
	return func(o *options) { o.publisher = p }
}

// WithRecordSink replaces the configured Postgres mirror.
func WithRecordSink(r RecordSink) Option {
	return func(o *options) { o.records = r }
}

// WithProgressOutput sets where the dot indicator is written (default stderr).
func WithProgressOutput(w io.Writer) Option {
	return func(o *options) { o.progress = w }
}

// WithClock overrides the clock stamped on progress events.
func WithClock(c crawler.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithIDGenerator overrides how the run ID is minted (default UUID v7).
func WithIDGenerator(g crawler.IDGenerator) Option {
	return func(o *options) { o.ids = g }
}

// New builds every service named by cfg and loads persisted crawl state. On
// error, anything already opened is closed.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (a *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := options{progress: os.Stderr, ids: uuid.New()}
	for _, opt := range opts {
		opt(&o)
	}

	runID, err := o.ids.NewID()
	if err != nil {
		return nil, fmt.Errorf("generate run id: %w", err)
	}
	logger = logging.ForRun(logger, runID)

	a = &App{cfg: cfg, logger: logger, runID: runID, clock: o.clock}
	if a.clock == nil {
		a.clock = system.New()
	}
	defer func() {
		if err != nil {
			a.closeAll(context.Background())
			a = nil
		}
	}()

	a.blobs = o.blobs
	if a.blobs == nil {
		var closeBlobs func() error
		if a.blobs, closeBlobs, err = NewBlobStore(ctx, cfg.Storage); err != nil {
			return a, err
		}
		a.closers = append(a.closers, func(context.Context) error { return closeBlobs() })
	}

	a.hub = progress.NewHub(progress.Config{Logger: logger.Named("progress")},
		sinks.NewLogSink(logger.Named("progress")),
		sinks.NewDotSink(o.progress),
	)
	a.closers = append(a.closers, a.hub.Close)

	a.cache = cache.New(a.blobs, cache.Config{
		Path:            cfg.Cache.Path,
		CheckpointEvery: cfg.Cache.CheckpointEvery,
	}, logger.Named("cache"), cache.WithProgress(a.hub))
	if err = a.cache.Load(ctx); err != nil {
		return a, fmt.Errorf("load fetch cache: %w", err)
	}

	if cfg.Dedup.Resume {
		if a.index, err = dedup.Load(ctx, a.blobs, cfg.Dedup.Path, sha256.New()); err != nil {
			return a, fmt.Errorf("load dedup index: %w", err)
		}
	} else {
		a.index = dedup.New(sha256.New())
	}

	a.handler = o.handler
	if a.handler == nil {
		fetcher := o.fetcher
		if fetcher == nil {
			if fetcher, err = a.newFetcher(); err != nil {
				return a, err
			}
		}
		limiter := ratelimit.New(ratelimit.Config{
			RequestsPerSecond: cfg.HTTP.RequestsPerSecond,
			Burst:             cfg.HTTP.Burst,
		})
		a.handler = scrape.NewHandler(fetcher,
			scrape.WithLimiter(limiter),
			scrape.WithLogger(logger.Named("scrape")),
		)
	}

	a.publisher = o.publisher
	if a.publisher == nil {
		if a.publisher, err = a.newPublisher(ctx); err != nil {
			return a, err
		}
	}

	a.records = o.records
	if a.records == nil && cfg.DB.DSN != "" {
		if a.records, err = a.newRecordStore(ctx); err != nil {
			return a, err
		}
	}

	logger.Info("application services initialized",
		zap.String("storage", cfg.Storage.Backend),
		zap.Int("cached_urls", a.cache.Len()),
		zap.Int("indexed_records", a.index.Count()),
		zap.Bool("headless", cfg.Headless.Enabled),
		zap.Bool("publisher", a.publisher != nil),
		zap.Bool("record_mirror", a.records != nil),
	)
	return a, nil
}

// NewBlobStore opens the backend selected by sc. The returned close function
// releases any client the backend holds.
func NewBlobStore(ctx context.Context, sc config.StorageConfig) (storage.BlobStore, func() error, error) {
	noop := func() error { return nil }
	switch sc.Backend {
	case config.BackendMemory:
		return memory.NewBlobStore(), noop, nil
	case config.BackendGCS:
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("create gcs client: %w", err)
		}
		store, err := gcs.New(client, gcs.Config{Bucket: sc.GCSBucket, Prefix: sc.Prefix})
		if err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("init gcs store: %w", err)
		}
		return store, client.Close, nil
	case config.BackendLocal, "":
		store, err := local.New(local.Config{BaseDir: filepath.Join(sc.BaseDir, sc.Prefix)})
		if err != nil {
			return nil, nil, fmt.Errorf("init local store: %w", err)
		}
		return store, noop, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage backend: %s", sc.Backend)
	}
}

func (a *App) newFetcher() (scrape.PageFetcher, error) {
	if !a.cfg.Headless.Enabled {
		return collyfetcher.New(collyfetcher.Config{
			UserAgent:     a.cfg.HTTP.UserAgent,
			RespectRobots: a.cfg.HTTP.RespectRobots,
			Timeout:       a.cfg.HTTPTimeout(),
		}), nil
	}
	f, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
		MaxParallel:       a.cfg.Headless.MaxParallel,
		UserAgent:         a.cfg.HTTP.UserAgent,
		NavigationTimeout: a.cfg.NavTimeout(),
		SettleDelay:       a.cfg.SettleDelay(),
		ExecPath:          a.cfg.Headless.ExecPath,
	})
	if err != nil {
		return nil, fmt.Errorf("init headless fetcher: %w", err)
	}
	a.closers = append(a.closers, func(context.Context) error {
		f.Close()
		return nil
	})
	return f, nil
}

func (a *App) newPublisher(ctx context.Context) (crawler.Publisher, error) {
	pc := a.cfg.PubSub
	switch {
	case pc.ProjectID != "":
		p, err := pubsubpublisher.New(ctx, pubsubpublisher.Config{ProjectID: pc.ProjectID, TopicName: pc.TopicName})
		if err != nil {
			return nil, fmt.Errorf("init pubsub publisher: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return p.Close() })
		return p, nil
	case pc.TopicName != "":
		p := memorypublisher.New()
		a.closers = append(a.closers, func(context.Context) error {
			a.logger.Info("notifications recorded without a pubsub project",
				zap.String("topic", pc.TopicName),
				zap.Int("messages", p.CountTopic(pc.TopicName)))
			return nil
		})
		return p, nil
	default:
		return nil, nil
	}
}

func (a *App) newRecordStore(ctx context.Context) (RecordSink, error) {
	store, err := postgres.NewRecordStore(ctx, postgres.RecordStoreConfig{
		DSN:      a.cfg.DB.DSN,
		Table:    a.cfg.DB.Table,
		MaxConns: a.cfg.DB.MaxConns,
	})
	if err != nil {
		return nil, fmt.Errorf("init record store: %w", err)
	}
	a.closers = append(a.closers, func(context.Context) error {
		store.Close()
		return nil
	})
	if err := store.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure record schema: %w", err)
	}
	return store, nil
}

// Logger returns the run-scoped logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// RunID identifies this invocation in logs and progress events.
func (a *App) RunID() string { return a.runID }

// Index returns the dedup index being filled by this run.
func (a *App) Index() *dedup.Index { return a.index }

// Cache returns the fetch cache.
func (a *App) Cache() *cache.Cache { return a.cache }

// Blobs returns the storage backend holding the cache and the export.
func (a *App) Blobs() storage.BlobStore { return a.blobs }

// NewEngine assembles a frontier engine over the App's services.
func (a *App) NewEngine() (*crawler.Engine, error) {
	opts := []crawler.Option{
		crawler.WithLogger(a.logger.Named("engine")),
		crawler.WithProgress(a.hub),
		crawler.WithClock(a.clock),
		crawler.WithRunID(a.runID),
	}
	if a.publisher != nil {
		opts = append(opts, crawler.WithPublisher(a.publisher))
	}
	engine, err := crawler.NewEngine(a.cfg.EngineConfig(), a.handler, a.cache, a.index, opts...)
	if err != nil {
		return nil, fmt.Errorf("build engine: %w", err)
	}
	return engine, nil
}

// Crawl drives engine from the configured seed. The dedup export is written,
// and mirrored when a record sink is configured, only after the frontier
// drains.
func (a *App) Crawl(ctx context.Context, engine *crawler.Engine) (crawler.Stats, error) {
	stats, err := engine.Run(ctx, a.cfg.Seed())
	if err != nil {
		return stats, fmt.Errorf("run crawl: %w", err)
	}
	if err := dedup.Save(ctx, a.blobs, a.cfg.Dedup.Path, a.index); err != nil {
		return stats, err
	}
	if a.records != nil {
		n, err := a.records.InsertRecords(ctx, a.index.Export())
		if err != nil {
			return stats, fmt.Errorf("mirror records: %w", err)
		}
		a.logger.Info("records mirrored", zap.Int("inserted", n), zap.Int("total", a.index.Count()))
	}
	return stats, nil
}

// PersistCache writes the fetch cache regardless of how the crawl ended.
func (a *App) PersistCache(ctx context.Context) error {
	if err := a.cache.Persist(ctx); err != nil {
		return fmt.Errorf("persist fetch cache: %w", err)
	}
	return nil
}

// Close flushes progress output and releases every opened client.
func (a *App) Close(ctx context.Context) error {
	return a.closeAll(ctx)
}

func (a *App) closeAll(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
