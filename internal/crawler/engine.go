package crawler

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/cromap-crawler/internal/metrics"
	"github.com/JakeFAU/cromap-crawler/internal/progress"
)

// Stats summarizes a crawl run.
type Stats struct {
	Batches    int `json:"batches"`
	Dispatched int `json:"dispatched"`
	Expanded   int `json:"expanded"`
	Discovered int `json:"discovered"`
	Extracted  int `json:"extracted"`
	Failed     int `json:"failed"`
	Fetched    int `json:"fetched"`
	CacheHits  int `json:"cache_hits"`
	Admitted   int `json:"admitted"`
	Duplicates int `json:"duplicates"`
	Pending    int `json:"pending"`
}

// Engine drives the batched frontier crawl. A single goroutine owns the
// frontier; each batch fans out one goroutine per link and is joined before
// the next batch starts.
type Engine struct {
	cfg       Config
	base      *url.URL
	handler   PageHandler
	cache     FetchCache
	index     RecordIndex
	publisher Publisher
	progress  ProgressReporter
	clock     Clock
	runID     string
	logger    *zap.Logger

	mu    sync.Mutex
	stats Stats
}

// Option customizes an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *zap.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithProgress routes crawl milestones to reporter.
func WithProgress(reporter ProgressReporter) Option {
	return func(e *Engine) {
		e.progress = reporter
	}
}

// WithPublisher announces every admitted record through p.
func WithPublisher(p Publisher) Option {
	return func(e *Engine) {
		e.publisher = p
	}
}

// WithClock overrides the time source used for progress events.
func WithClock(c Clock) Option {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

// WithRunID tags progress events with the given run identifier.
func WithRunID(id string) Option {
	return func(e *Engine) {
		e.runID = id
	}
}

// NewEngine wires an Engine from its collaborators.
func NewEngine(cfg Config, handler PageHandler, cache FetchCache, index RecordIndex, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if handler == nil || cache == nil || index == nil {
		return nil, errors.New("engine requires a page handler, fetch cache and record index")
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	e := &Engine{
		cfg:     cfg,
		base:    base,
		handler: handler,
		cache:   cache,
		index:   index,
		clock:   systemClock{},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	metrics.Init()
	return e, nil
}

// Snapshot returns the current counters. It is safe for concurrent use.
func (e *Engine) Snapshot() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// Run crawls from seed until the frontier drains. Per-link failures are logged
// and dropped; only context cancellation and persistence failures end the
// crawl early. Counters start from zero on every call, so an Engine may be
// reused for a second pass over a warm cache.
func (e *Engine) Run(ctx context.Context, seed Link) (Stats, error) {
	e.update(func(s *Stats) { *s = Stats{} })
	root := seed
	front := newFrontier(e.cfg.Order, &root)
	started := e.clock.Now()
	e.emit(progress.Event{Stage: progress.StageCrawlStart, URL: seed.Href, Pending: front.Len()})
	e.logger.Info("crawl started",
		zap.String("seed", seed.Href),
		zap.Int("batch_size", e.cfg.BatchSize),
		zap.String("order", string(e.cfg.Order)),
	)

	for front.Len() > 0 {
		if err := ctx.Err(); err != nil {
			return e.Snapshot(), fmt.Errorf("crawl canceled: %w", err)
		}
		batch := front.Take(e.cfg.BatchSize)
		batchStart := e.clock.Now()
		e.update(func(s *Stats) { s.Dispatched += len(batch) })

		var fatal error
		for out := range e.dispatch(ctx, batch) {
			if err := e.fold(ctx, front, out); err != nil && fatal == nil {
				fatal = err
			}
		}
		e.settleBatch(len(batch), front.Len(), e.clock.Now().Sub(batchStart))
		if fatal != nil {
			e.logger.Error("crawl aborted", zap.Error(fatal))
			return e.Snapshot(), fatal
		}
	}

	stats := e.Snapshot()
	elapsed := e.clock.Now().Sub(started)
	e.emit(progress.Event{Stage: progress.StageCrawlDone, Admitted: stats.Admitted, Dur: elapsed})
	e.logger.Info("crawl finished",
		zap.Int("pages_fetched", stats.Fetched),
		zap.Int("cache_hits", stats.CacheHits),
		zap.Int("records_indexed", e.index.Count()),
		zap.Int("duplicates", stats.Duplicates),
		zap.Int("failed", stats.Failed),
		zap.Duration("elapsed", elapsed),
	)
	return stats, nil
}

type outcome struct {
	link    *Link
	result  Result
	fetched bool
	err     error
}

// dispatch processes every link concurrently and returns their outcomes in
// settle order once the whole batch has finished.
func (e *Engine) dispatch(ctx context.Context, batch []*Link) <-chan outcome {
	outcomes := make(chan outcome, len(batch))
	var g errgroup.Group
	g.SetLimit(e.cfg.BatchSize)
	for _, link := range batch {
		g.Go(func() error {
			outcomes <- e.process(ctx, link)
			return nil
		})
	}
	_ = g.Wait() //nolint:errcheck // tasks report failures through outcomes
	close(outcomes)
	return outcomes
}

func (e *Engine) process(ctx context.Context, link *Link) outcome {
	out := outcome{link: link}
	target, err := resolveHref(e.base, link)
	if err != nil {
		out.err = fmt.Errorf("%w: %w", ErrParse, err)
		return out
	}
	if e.cfg.ItemTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.ItemTimeout)
		defer cancel()
	}
	out.result, out.fetched, out.err = e.cache.Resolve(ctx, target, func(fetchCtx context.Context) (Result, error) {
		return e.fetch(fetchCtx, link.Kind, target)
	})
	return out
}

// fetch invokes the page handler but stops waiting once ctx ends, so a hung
// handler turns into a failed item instead of a stalled batch.
func (e *Engine) fetch(ctx context.Context, kind LinkKind, target string) (Result, error) {
	type reply struct {
		res Result
		err error
	}
	done := make(chan reply, 1)
	go func() {
		res, err := e.invoke(ctx, kind, target)
		done <- reply{res: res, err: err}
	}()
	select {
	case r := <-done:
		return r.res, r.err
	case <-ctx.Done():
		return nil, fmt.Errorf("fetch %s: %w: %w", target, ErrTransport, ctx.Err())
	}
}

func (e *Engine) invoke(ctx context.Context, kind LinkKind, target string) (Result, error) {
	switch {
	case kind.Expands():
		links, err := e.handler.ScrapeList(ctx, target)
		if err != nil {
			return nil, fmt.Errorf("scrape list %s: %w", target, err)
		}
		return LinkList(links), nil
	case kind == KindRecord:
		record, err := e.handler.ScrapeRecord(ctx, target)
		if err != nil {
			return nil, fmt.Errorf("scrape record %s: %w", target, err)
		}
		return Extracted{Record: record}, nil
	default:
		return nil, fmt.Errorf("%w: unknown link kind %q", ErrParse, kind)
	}
}

// fold applies one outcome on the coordinating goroutine. It returns an error
// only when the crawl must stop.
func (e *Engine) fold(ctx context.Context, front *frontier, out outcome) error {
	if out.err != nil {
		if errors.Is(out.err, ErrPersist) {
			return out.err
		}
		e.fail(out.link, out.err)
		return nil
	}
	metrics.ObserveResolve(string(out.link.Kind), out.fetched)
	e.update(func(s *Stats) {
		if out.fetched {
			s.Fetched++
		} else {
			s.CacheHits++
		}
	})

	switch res := out.result.(type) {
	case LinkList:
		if !out.link.Kind.Expands() {
			e.fail(out.link, fmt.Errorf("%w: got links for a %s link", ErrParse, out.link.Kind))
			return nil
		}
		children := make([]*Link, 0, len(res))
		for _, child := range res {
			children = append(children, child.WithOrigin(out.link))
		}
		front.Add(children)
		e.update(func(s *Stats) {
			s.Expanded++
			s.Discovered += len(children)
		})
	case Extracted:
		if out.link.Kind != KindRecord {
			e.fail(out.link, fmt.Errorf("%w: got a record for a %s link", ErrParse, out.link.Kind))
			return nil
		}
		e.update(func(s *Stats) { s.Extracted++ })
		e.admit(ctx, out.link, res.Record)
	default:
		e.fail(out.link, fmt.Errorf("%w: unsupported result %T", ErrParse, out.result))
	}
	return nil
}

// admit enriches a record with its region and offers it to the index.
func (e *Engine) admit(ctx context.Context, link *Link, record Record) {
	region, err := ResolveRegion(link)
	if err != nil {
		e.fail(link, err)
		return
	}
	record.Region = region

	fingerprint, err := e.index.Insert(record)
	switch {
	case errors.Is(err, ErrDuplicateKey):
		metrics.ObserveAdmission("duplicate")
		e.update(func(s *Stats) { s.Duplicates++ })
		return
	case err != nil:
		e.fail(link, fmt.Errorf("index record: %w", err))
		return
	}
	metrics.ObserveAdmission("admitted")
	e.update(func(s *Stats) { s.Admitted++ })
	e.publish(ctx, fingerprint, record)
}

type admittedRecord struct {
	Fingerprint string `json:"fingerprint"`
	Record      Record `json:"record"`
}

func (e *Engine) publish(ctx context.Context, fingerprint string, record Record) {
	if e.publisher == nil {
		return
	}
	id, err := e.publisher.Publish(ctx, e.cfg.PublishTopic, admittedRecord{Fingerprint: fingerprint, Record: record})
	if err != nil {
		e.logger.Warn("publish record failed", zap.String("fingerprint", fingerprint), zap.Error(err))
		return
	}
	e.logger.Debug("record published", zap.String("fingerprint", fingerprint), zap.String("message_id", id))
}

func (e *Engine) fail(link *Link, err error) {
	reason := failureReason(err)
	metrics.ObserveFailure(string(link.Kind), reason)
	e.update(func(s *Stats) { s.Failed++ })
	e.logger.Error("crawl item failed",
		zap.String("name", link.Name),
		zap.String("href", link.Href),
		zap.String("kind", string(link.Kind)),
		zap.String("reason", reason),
		zap.Error(err),
	)
	e.emit(progress.Event{Stage: progress.StageItemFailed, URL: link.Href, Note: err.Error()})
}

func (e *Engine) settleBatch(size, pending int, elapsed time.Duration) {
	var batchNo int
	e.update(func(s *Stats) {
		s.Batches++
		s.Pending = pending
		batchNo = s.Batches
	})
	metrics.ObserveBatch(size, pending, elapsed)
	e.emit(progress.Event{
		Stage:   progress.StageBatchDone,
		Batch:   batchNo,
		Size:    size,
		Pending: pending,
		Dur:     elapsed,
	})
}

func (e *Engine) emit(evt progress.Event) {
	if e.progress == nil {
		return
	}
	evt.RunID = e.runID
	evt.TS = e.clock.Now()
	e.progress.Emit(evt)
}

func (e *Engine) update(fn func(*Stats)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	fn(&e.stats)
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, ErrUnresolvableContext):
		return "unresolvable_context"
	case errors.Is(err, ErrParse):
		return "parse"
	case errors.Is(err, ErrTransport):
		return "transport"
	default:
		return "other"
	}
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}
