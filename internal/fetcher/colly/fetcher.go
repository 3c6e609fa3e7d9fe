// Package collyfetcher downloads directory pages over plain HTTP using gocolly.
package collyfetcher

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/JakeFAU/cromap-crawler/internal/crawler"
	"github.com/JakeFAU/cromap-crawler/internal/metrics"
)

const transportName = "http"

// Config controls collector behavior.
type Config struct {
	UserAgent     string
	RespectRobots bool
	Timeout       time.Duration
	// Headers are added to every request.
	Headers http.Header
}

// Fetcher implements scrape.PageFetcher. Each request runs on a clone of a
// shared base collector so concurrent fetches never share callbacks.
type Fetcher struct {
	cfg           Config
	baseCollector *colly.Collector
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

type fetchResult struct {
	status int
	body   []byte
	err    error
}

// New builds a Fetcher with a pooled transport.
func New(cfg Config) *Fetcher {
	c := colly.NewCollector(colly.Async(false), colly.AllowURLRevisit())
	c.WithTransport(newHTTPTransport())
	metrics.Init()
	return &Fetcher{cfg: cfg, baseCollector: c}
}

// FetchPage GETs url and returns the body. Network failures and non-2xx
// responses are reported as crawler.ErrTransport.
func (f *Fetcher) FetchPage(ctx context.Context, url string) ([]byte, error) {
	var result fetchResult
	collector := f.buildCollector()
	f.configureCollectorHooks(collector, &result)

	status, err := f.runCollector(ctx, collector, url, &result)
	metrics.ObservePageFetch(url, transportName, status)
	if err != nil {
		return nil, err
	}
	return result.body, nil
}

func (f *Fetcher) buildCollector() *colly.Collector {
	collector := f.baseCollector.Clone()
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.IgnoreRobotsTxt = !f.cfg.RespectRobots
	timeout := f.cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	collector.SetRequestTimeout(timeout)
	return collector
}

func (f *Fetcher) configureCollectorHooks(hooks collectorHooks, result *fetchResult) {
	hooks.OnRequest(func(r *colly.Request) {
		for key, values := range f.cfg.Headers {
			for _, v := range values {
				r.Headers.Add(key, v)
			}
		}
	})

	hooks.OnResponse(func(r *colly.Response) {
		result.status = r.StatusCode
		result.body = append([]byte(nil), r.Body...)
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil {
			result.status = r.StatusCode
		}
		result.err = err
	})
}

// runCollector visits url and returns the response status. result must not
// be read when ctx ends first since the visit may still be running.
func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, url string, result *fetchResult) (int, error) {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(url)
	}()

	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("fetch %s: %w: %w", url, crawler.ErrTransport, ctx.Err())
	case err := <-done:
		if result.err != nil {
			return result.status, fmt.Errorf("fetch %s: %w: status %d: %w", url, crawler.ErrTransport, result.status, result.err)
		}
		if err != nil {
			return result.status, fmt.Errorf("fetch %s: %w: %w", url, crawler.ErrTransport, err)
		}
		if result.status < 200 || result.status > 299 {
			return result.status, fmt.Errorf("fetch %s: %w: status %d", url, crawler.ErrTransport, result.status)
		}
		return result.status, nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
