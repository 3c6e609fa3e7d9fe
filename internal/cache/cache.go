// Package cache memoizes parsed crawl results by URL and persists them so an
// interrupted crawl can resume without refetching.
package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/cromap-crawler/internal/crawler"
	"github.com/JakeFAU/cromap-crawler/internal/metrics"
	"github.com/JakeFAU/cromap-crawler/internal/progress"
	"github.com/JakeFAU/cromap-crawler/internal/storage"
)

// Defaults for Config.
const (
	DefaultPath            = "memory.json"
	DefaultCheckpointEvery = 100
)

// Config controls where the cache lives and how often it checkpoints.
type Config struct {
	// Path is the object path of the cache inside the blob store.
	Path string `mapstructure:"path"`
	// CheckpointEvery persists the cache after this many successful fetches.
	// Zero or negative disables periodic checkpoints.
	CheckpointEvery int `mapstructure:"checkpoint_every"`
}

// Cache maps URLs to results. Entries are written once, on the first
// successful fetch, and never updated or removed.
type Cache struct {
	store    storage.BlobStore
	cfg      Config
	logger   *zap.Logger
	progress progress.Emitter

	mu      sync.RWMutex
	entries map[string]crawler.Result
	fetches int

	group     singleflight.Group
	persistMu sync.Mutex
}

// Option customizes a Cache.
type Option func(*Cache)

// WithProgress emits a CHECKPOINT event after every persist.
func WithProgress(emitter progress.Emitter) Option {
	return func(c *Cache) {
		c.progress = emitter
	}
}

// New returns an empty cache backed by store.
func New(store storage.BlobStore, cfg Config, logger *zap.Logger, opts ...Option) *Cache {
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Cache{
		store:   store,
		cfg:     cfg,
		logger:  logger,
		entries: make(map[string]crawler.Result),
	}
	for _, opt := range opts {
		opt(c)
	}
	metrics.Init()
	return c
}

// Load replaces the in-memory entries with the persisted cache. A missing
// object leaves the cache empty; a corrupt one is an error.
func (c *Cache) Load(ctx context.Context) error {
	data, err := c.store.GetObject(ctx, c.cfg.Path)
	if errors.Is(err, storage.ErrNotFound) {
		c.logger.Info("no fetch cache found, starting cold", zap.String("path", c.cfg.Path))
		return nil
	}
	if err != nil {
		return fmt.Errorf("load fetch cache: %w", err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode fetch cache %s: %w", c.cfg.Path, err)
	}
	entries := make(map[string]crawler.Result, len(raw))
	for url, blob := range raw {
		res, err := crawler.UnmarshalResult(blob)
		if err != nil {
			return fmt.Errorf("decode fetch cache entry %q: %w", url, err)
		}
		entries[url] = res
	}

	c.mu.Lock()
	c.entries = entries
	c.mu.Unlock()
	c.logger.Info("fetch cache loaded", zap.String("path", c.cfg.Path), zap.Int("entries", len(entries)))
	return nil
}

// Get returns the cached result for url.
func (c *Cache) Get(url string) (crawler.Result, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	res, ok := c.entries[url]
	return res, ok
}

// Put records res for url unless an entry already exists.
func (c *Cache) Put(url string, res crawler.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[url]; ok {
		return
	}
	c.entries[url] = res
}

// Len reports the number of cached URLs.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Fetches reports how many successful fetches this cache has recorded.
func (c *Cache) Fetches() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fetches
}

type resolved struct {
	res     crawler.Result
	fetched bool
}

// Resolve returns the cached result for url, or runs fetch and caches its
// result. Concurrent misses for the same url share one fetch. Failed fetches
// are not cached. A checkpoint failure is returned wrapped in
// crawler.ErrPersist together with the fetched result.
func (c *Cache) Resolve(ctx context.Context, url string, fetch func(context.Context) (crawler.Result, error)) (crawler.Result, bool, error) {
	if res, ok := c.Get(url); ok {
		return res, false, nil
	}
	var persistErr error
	v, err, _ := c.group.Do(url, func() (any, error) {
		if res, ok := c.Get(url); ok {
			return resolved{res: res}, nil
		}
		res, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		if res == nil {
			return nil, fmt.Errorf("fetch %s: %w: empty result", url, crawler.ErrParse)
		}
		if due := c.record(url, res); due {
			persistErr = c.Persist(context.WithoutCancel(ctx))
		}
		return resolved{res: res, fetched: true}, nil
	})
	if err != nil {
		return nil, false, err
	}
	out := v.(resolved) //nolint:forcetypeassert // only resolved values are returned above
	return out.res, out.fetched, persistErr
}

// record caches a fetched result and reports whether a checkpoint is due.
func (c *Cache) record(url string, res crawler.Result) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[url]; !ok {
		c.entries[url] = res
	}
	c.fetches++
	return c.cfg.CheckpointEvery > 0 && c.fetches%c.cfg.CheckpointEvery == 0
}

// Persist writes the whole cache to the blob store.
func (c *Cache) Persist(ctx context.Context) error {
	c.persistMu.Lock()
	defer c.persistMu.Unlock()

	start := time.Now()
	data, n, err := c.encode()
	if err == nil {
		_, err = c.store.PutObject(ctx, c.cfg.Path, storage.ContentTypeJSON, bytes.NewReader(data))
	}
	metrics.ObserveCheckpoint(err)
	if err != nil {
		c.emit(n, err)
		return fmt.Errorf("%w: write fetch cache %s: %w", crawler.ErrPersist, c.cfg.Path, err)
	}
	c.logger.Debug("fetch cache persisted",
		zap.String("path", c.cfg.Path),
		zap.Int("entries", n),
		zap.Duration("dur", time.Since(start)),
	)
	c.emit(n, nil)
	return nil
}

func (c *Cache) encode() ([]byte, int, error) {
	c.mu.RLock()
	snapshot := make(map[string]json.RawMessage, len(c.entries))
	var err error
	for url, res := range c.entries {
		snapshot[url], err = crawler.MarshalResult(res)
		if err != nil {
			break
		}
	}
	c.mu.RUnlock()
	if err != nil {
		return nil, 0, err
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return nil, 0, fmt.Errorf("encode fetch cache: %w", err)
	}
	return data, len(snapshot), nil
}

func (c *Cache) emit(entries int, err error) {
	if c.progress == nil {
		return
	}
	evt := progress.Event{
		TS:    time.Now().UTC(),
		Stage: progress.StageCheckpoint,
		Size:  entries,
		URL:   c.cfg.Path,
	}
	if err != nil {
		evt.Note = err.Error()
	}
	c.progress.Emit(evt)
}
