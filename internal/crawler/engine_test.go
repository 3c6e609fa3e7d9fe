package crawler_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/cromap-crawler/internal/cache"
	"github.com/JakeFAU/cromap-crawler/internal/clock/system"
	"github.com/JakeFAU/cromap-crawler/internal/crawler"
	"github.com/JakeFAU/cromap-crawler/internal/dedup"
	"github.com/JakeFAU/cromap-crawler/internal/progress"
	"github.com/JakeFAU/cromap-crawler/internal/storage"
	"github.com/JakeFAU/cromap-crawler/internal/storage/memory"
)

const baseURL = "https://dir.example"

var seed = crawler.NewLink("Directory", baseURL+"/directory", crawler.KindRoot)

// fakeSite serves list and record pages from maps keyed by absolute URL.
type fakeSite struct {
	lists   map[string][]crawler.Link
	records map[string]crawler.Record
	fail    map[string]error
	hang    map[string]bool

	mu    sync.Mutex
	calls []string
}

func newFakeSite() *fakeSite {
	return &fakeSite{
		lists:   map[string][]crawler.Link{},
		records: map[string]crawler.Record{},
		fail:    map[string]error{},
		hang:    map[string]bool{},
	}
}

func (s *fakeSite) visit(ctx context.Context, url string) error {
	s.mu.Lock()
	s.calls = append(s.calls, url)
	s.mu.Unlock()
	if s.hang[url] {
		<-ctx.Done()
		return ctx.Err()
	}
	return s.fail[url]
}

func (s *fakeSite) ScrapeList(ctx context.Context, url string) ([]crawler.Link, error) {
	if err := s.visit(ctx, url); err != nil {
		return nil, err
	}
	links, ok := s.lists[url]
	if !ok {
		return nil, fmt.Errorf("%w: no list at %s", crawler.ErrParse, url)
	}
	return append([]crawler.Link(nil), links...), nil
}

func (s *fakeSite) ScrapeRecord(ctx context.Context, url string) (crawler.Record, error) {
	if err := s.visit(ctx, url); err != nil {
		return crawler.Record{}, err
	}
	rec, ok := s.records[url]
	if !ok {
		return crawler.Record{}, fmt.Errorf("%w: no record at %s", crawler.ErrParse, url)
	}
	return rec, nil
}

func (s *fakeSite) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

// usDESite is a directory with two countries, one state, and one record
// reachable twice under the United States.
func usDESite() *fakeSite {
	site := newFakeSite()
	site.lists[seed.Href] = []crawler.Link{
		crawler.NewLink("United States", "/country/us", crawler.KindRegion),
		crawler.NewLink("Germany", "/country/de", crawler.KindRegion),
	}
	site.lists[baseURL+"/country/us"] = []crawler.Link{
		crawler.NewLink("Acme CRO", "/cro/acme", crawler.KindRecord),
		crawler.NewLink("California", "/state/ca", crawler.KindSubRegion),
	}
	site.lists[baseURL+"/state/ca"] = []crawler.Link{
		crawler.NewLink("Globex Research", "/cro/globex", crawler.KindRecord),
		crawler.NewLink("Acme CRO", "/cro/acme", crawler.KindRecord),
	}
	site.lists[baseURL+"/country/de"] = []crawler.Link{
		crawler.NewLink("Initech GmbH", "https://dir.example/cro/initech", crawler.KindRecord),
	}
	site.records[baseURL+"/cro/acme"] = crawler.Record{
		Name:         "Acme CRO",
		Website:      "https://acme.example",
		Attributes:   map[string]string{"website": "https://acme.example"},
		Descriptions: []string{"Preclinical oncology."},
	}
	site.records[baseURL+"/cro/globex"] = crawler.Record{Name: "Globex Research", Website: "https://globex.example"}
	site.records[baseURL+"/cro/initech"] = crawler.Record{Name: "Initech GmbH", Website: "https://initech.example"}
	return site
}

type eventRecorder struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *eventRecorder) Emit(evt progress.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *eventRecorder) batchSizes() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	var sizes []int
	for _, evt := range r.events {
		if evt.Stage == progress.StageBatchDone {
			sizes = append(sizes, evt.Size)
		}
	}
	return sizes
}

func (r *eventRecorder) stamps() []time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]time.Time, 0, len(r.events))
	for _, evt := range r.events {
		out = append(out, evt.TS)
	}
	return out
}

func (r *eventRecorder) count(stage progress.Stage) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, evt := range r.events {
		if evt.Stage == stage {
			n++
		}
	}
	return n
}

type fakePublisher struct {
	mu       sync.Mutex
	payloads []any
}

func (p *fakePublisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.payloads = append(p.payloads, payload)
	return fmt.Sprintf("%s-%d", topic, len(p.payloads)), nil
}

func newEngine(t *testing.T, handler crawler.PageHandler, fc crawler.FetchCache, idx crawler.RecordIndex, mutate func(*crawler.Config), opts ...crawler.Option) *crawler.Engine {
	t.Helper()
	cfg := crawler.Config{BaseURL: baseURL, BatchSize: crawler.DefaultBatchSize, ItemTimeout: time.Second}
	if mutate != nil {
		mutate(&cfg)
	}
	engine, err := crawler.NewEngine(cfg, handler, fc, idx, opts...)
	require.NoError(t, err)
	return engine
}

func regionsByName(export map[string]crawler.Record) map[string]string {
	out := map[string]string{}
	for _, rec := range export {
		out[rec.Name] = rec.Region
	}
	return out
}

func TestRunUSDEScenario(t *testing.T) {
	t.Parallel()

	site := usDESite()
	idx := dedup.New(nil)
	pub := &fakePublisher{}
	events := &eventRecorder{}
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	engine := newEngine(t, site, cache.New(memory.NewBlobStore(), cache.Config{}, nil), idx, nil,
		crawler.WithPublisher(pub), crawler.WithProgress(events), crawler.WithRunID("run-1"),
		crawler.WithClock(system.NewFrozen(start)))

	stats, err := engine.Run(context.Background(), seed)
	require.NoError(t, err)

	assert.Equal(t, map[string]string{
		"Acme CRO":        "united_states",
		"Globex Research": "united_states",
		"Initech GmbH":    "germany",
	}, regionsByName(idx.Export()))
	assert.Equal(t, 3, idx.Count())
	assert.Equal(t, 3, stats.Admitted)
	assert.Equal(t, 1, stats.Duplicates)
	assert.Equal(t, 0, stats.Failed)
	assert.Equal(t, 4, stats.Expanded)
	assert.Equal(t, 4, stats.Extracted)
	assert.Equal(t, 8, stats.Dispatched)
	assert.Equal(t, 0, stats.Pending)
	assert.Len(t, pub.payloads, 3)

	// The second /cro/acme link is served from the cache.
	assert.Equal(t, 7, stats.Fetched)
	assert.Equal(t, 1, stats.CacheHits)
	assert.Len(t, site.Calls(), 7)

	assert.Equal(t, 1, events.count(progress.StageCrawlDone))
	assert.Equal(t, stats.Batches, events.count(progress.StageBatchDone))
	assert.Equal(t, stats, engine.Snapshot())
	for _, ts := range events.stamps() {
		assert.Equal(t, start, ts)
	}
}

func TestRunResetsStatsOnRerun(t *testing.T) {
	t.Parallel()

	site := usDESite()
	idx := dedup.New(nil)
	engine := newEngine(t, site, cache.New(memory.NewBlobStore(), cache.Config{}, nil), idx, nil)

	first, err := engine.Run(context.Background(), seed)
	require.NoError(t, err)
	require.Equal(t, 7, first.Fetched)

	second, err := engine.Run(context.Background(), seed)
	require.NoError(t, err)
	assert.Len(t, site.Calls(), 7)
	assert.Equal(t, 0, second.Fetched)
	assert.Equal(t, first.Dispatched, second.CacheHits)
	assert.Equal(t, first.Dispatched, second.Dispatched)
	assert.Equal(t, first.Batches, second.Batches)
	assert.Equal(t, 0, second.Admitted)
	assert.Equal(t, 4, second.Duplicates)
	assert.Equal(t, 3, idx.Count())
	assert.Equal(t, second, engine.Snapshot())
}

func TestRunBatchesAtMostBatchSize(t *testing.T) {
	t.Parallel()

	site := newFakeSite()
	site.lists[seed.Href] = []crawler.Link{crawler.NewLink("United States", "/country/us", crawler.KindRegion)}
	var records []crawler.Link
	for i := range 10 {
		href := fmt.Sprintf("/cro/%d", i)
		records = append(records, crawler.NewLink(fmt.Sprintf("CRO %d", i), href, crawler.KindRecord))
		site.records[baseURL+href] = crawler.Record{Name: fmt.Sprintf("CRO %d", i)}
	}
	site.lists[baseURL+"/country/us"] = records

	events := &eventRecorder{}
	idx := dedup.New(nil)
	engine := newEngine(t, site, cache.New(memory.NewBlobStore(), cache.Config{}, nil), idx, nil, crawler.WithProgress(events))

	stats, err := engine.Run(context.Background(), seed)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1, 4, 4, 2}, events.batchSizes())
	assert.Equal(t, 5, stats.Batches)
	assert.Equal(t, 10, idx.Count())
}

func TestRunWarmCacheIsIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := memory.NewBlobStore()

	first := cache.New(store, cache.Config{}, nil)
	firstIdx := dedup.New(nil)
	_, err := newEngine(t, usDESite(), first, firstIdx, nil).Run(ctx, seed)
	require.NoError(t, err)
	require.NoError(t, first.Persist(ctx))

	warm := cache.New(store, cache.Config{}, nil)
	require.NoError(t, warm.Load(ctx))

	handler := &mockHandler{}
	secondIdx := dedup.New(nil)
	stats, err := newEngine(t, handler, warm, secondIdx, nil).Run(ctx, seed)
	require.NoError(t, err)

	handler.AssertNotCalled(t, "ScrapeList", mock.Anything, mock.Anything)
	handler.AssertNotCalled(t, "ScrapeRecord", mock.Anything, mock.Anything)
	assert.Equal(t, 0, stats.Fetched)
	assert.Equal(t, firstIdx.Export(), secondIdx.Export())
}

func TestRunIsolatesFailures(t *testing.T) {
	t.Parallel()

	site := usDESite()
	site.fail[baseURL+"/cro/globex"] = fmt.Errorf("%w: status 503", crawler.ErrTransport)
	site.hang[baseURL+"/country/de"] = true

	events := &eventRecorder{}
	fc := cache.New(memory.NewBlobStore(), cache.Config{}, nil)
	idx := dedup.New(nil)
	engine := newEngine(t, site, fc, idx, func(cfg *crawler.Config) {
		cfg.ItemTimeout = 50 * time.Millisecond
	}, crawler.WithProgress(events))

	stats, err := engine.Run(context.Background(), seed)
	require.NoError(t, err)

	assert.Equal(t, map[string]string{"Acme CRO": "united_states"}, regionsByName(idx.Export()))
	assert.Equal(t, 2, stats.Failed)
	assert.Equal(t, 2, events.count(progress.StageItemFailed))

	_, cached := fc.Get(baseURL + "/cro/globex")
	assert.False(t, cached, "failed fetches must not be cached")
	_, cached = fc.Get(baseURL + "/country/de")
	assert.False(t, cached)
}

func TestRunRecordWithoutRegionFails(t *testing.T) {
	t.Parallel()

	site := newFakeSite()
	site.lists[seed.Href] = []crawler.Link{crawler.NewLink("Orphan", "/cro/orphan", crawler.KindRecord)}
	site.records[baseURL+"/cro/orphan"] = crawler.Record{Name: "Orphan"}

	idx := dedup.New(nil)
	stats, err := newEngine(t, site, cache.New(memory.NewBlobStore(), cache.Config{}, nil), idx, nil).Run(context.Background(), seed)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 0, idx.Count())
}

func TestRunCachedShapeMismatchFails(t *testing.T) {
	t.Parallel()

	site := newFakeSite()
	site.lists[seed.Href] = []crawler.Link{crawler.NewLink("United States", "/country/us", crawler.KindRegion)}
	fc := cache.New(memory.NewBlobStore(), cache.Config{}, nil)
	fc.Put(baseURL+"/country/us", crawler.Extracted{Record: crawler.Record{Name: "Not a list"}})

	idx := dedup.New(nil)
	stats, err := newEngine(t, site, fc, idx, nil).Run(context.Background(), seed)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 0, idx.Count())
}

func TestRunFrontierOrder(t *testing.T) {
	t.Parallel()

	build := func() *fakeSite {
		site := newFakeSite()
		site.lists[seed.Href] = []crawler.Link{
			crawler.NewLink("A", "/country/a", crawler.KindRegion),
			crawler.NewLink("B", "/country/b", crawler.KindRegion),
		}
		site.lists[baseURL+"/country/a"] = []crawler.Link{
			crawler.NewLink("a1", "/cro/a1", crawler.KindRecord),
			crawler.NewLink("a2", "/cro/a2", crawler.KindRecord),
		}
		site.lists[baseURL+"/country/b"] = []crawler.Link{crawler.NewLink("b1", "/cro/b1", crawler.KindRecord)}
		for _, name := range []string{"a1", "a2", "b1"} {
			site.records[baseURL+"/cro/"+name] = crawler.Record{Name: name}
		}
		return site
	}
	paths := func(calls []string) []string {
		out := make([]string, 0, len(calls))
		for _, c := range calls {
			out = append(out, c[len(baseURL):])
		}
		return out
	}

	tests := map[crawler.FrontierOrder][]string{
		crawler.OrderPrepend: {"/directory", "/country/a", "/cro/a1", "/cro/a2", "/country/b", "/cro/b1"},
		crawler.OrderFIFO:    {"/directory", "/country/a", "/country/b", "/cro/a1", "/cro/a2", "/cro/b1"},
	}
	for order, want := range tests {
		t.Run(string(order), func(t *testing.T) {
			t.Parallel()
			site := build()
			_, err := newEngine(t, site, cache.New(memory.NewBlobStore(), cache.Config{}, nil), dedup.New(nil),
				func(cfg *crawler.Config) {
					cfg.BatchSize = 1
					cfg.Order = order
				}).Run(context.Background(), seed)
			require.NoError(t, err)
			assert.Equal(t, want, paths(site.Calls()))
		})
	}
}

func TestRunAbortsOnPersistFailure(t *testing.T) {
	t.Parallel()

	fc := cache.New(brokenStore{}, cache.Config{CheckpointEvery: 1}, nil)
	idx := dedup.New(nil)
	stats, err := newEngine(t, usDESite(), fc, idx, nil).Run(context.Background(), seed)
	require.ErrorIs(t, err, crawler.ErrPersist)
	assert.Equal(t, 1, stats.Batches)
	assert.Equal(t, 0, idx.Count())
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	site := usDESite()
	_, err := newEngine(t, site, cache.New(memory.NewBlobStore(), cache.Config{}, nil), dedup.New(nil), nil).Run(ctx, seed)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, site.Calls())
}

func TestNewEngineValidates(t *testing.T) {
	t.Parallel()

	fc := cache.New(memory.NewBlobStore(), cache.Config{}, nil)
	cases := map[string]crawler.Config{
		"relative base": {BaseURL: "/dir", BatchSize: 4},
		"zero batch":    {BaseURL: baseURL},
		"bad order":     {BaseURL: baseURL, BatchSize: 4, Order: "random"},
		"neg timeout":   {BaseURL: baseURL, BatchSize: 4, ItemTimeout: -time.Second},
	}
	for name, cfg := range cases {
		_, err := crawler.NewEngine(cfg, newFakeSite(), fc, dedup.New(nil))
		assert.Error(t, err, name)
	}
	_, err := crawler.NewEngine(crawler.Config{BaseURL: baseURL, BatchSize: 4}, nil, fc, dedup.New(nil))
	assert.Error(t, err)
}

// mockHandler fails the test through testify if it is ever called without an
// expectation.
type mockHandler struct {
	mock.Mock
}

func (m *mockHandler) ScrapeList(ctx context.Context, url string) ([]crawler.Link, error) {
	args := m.Called(ctx, url)
	links, _ := args.Get(0).([]crawler.Link)
	return links, args.Error(1)
}

func (m *mockHandler) ScrapeRecord(ctx context.Context, url string) (crawler.Record, error) {
	args := m.Called(ctx, url)
	rec, _ := args.Get(0).(crawler.Record)
	return rec, args.Error(1)
}

type brokenStore struct{}

func (brokenStore) PutObject(context.Context, string, string, io.Reader) (string, error) {
	return "", errors.New("read-only file system")
}

func (brokenStore) GetObject(context.Context, string) ([]byte, error) {
	return nil, storage.ErrNotFound
}

func TestSnapshotConcurrentWithRun(t *testing.T) {
	t.Parallel()

	engine := newEngine(t, usDESite(), cache.New(memory.NewBlobStore(), cache.Config{}, nil), dedup.New(nil), nil)
	done := make(chan struct{})
	var seen []int
	go func() {
		defer close(done)
		for range 50 {
			seen = append(seen, engine.Snapshot().Dispatched)
		}
	}()
	_, err := engine.Run(context.Background(), seed)
	require.NoError(t, err)
	<-done
	assert.True(t, sort.IntsAreSorted(seen))
}
