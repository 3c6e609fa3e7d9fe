// Package scrape implements the directory page handler: it downloads pages
// through a PageFetcher and extracts links and records with goquery.
package scrape

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/cromap-crawler/internal/crawler"
)

// PageFetcher downloads the HTML of a page.
type PageFetcher interface {
	FetchPage(ctx context.Context, url string) ([]byte, error)
}

// Waiter paces requests before they are issued.
type Waiter interface {
	Wait(ctx context.Context, url string) error
}

// Handler implements crawler.PageHandler.
type Handler struct {
	fetcher PageFetcher
	limiter Waiter
	logger  *zap.Logger
}

// Option customizes a Handler.
type Option func(*Handler)

// WithLimiter paces every fetch through w.
func WithLimiter(w Waiter) Option {
	return func(h *Handler) {
		h.limiter = w
	}
}

// WithLogger sets the handler logger.
func WithLogger(logger *zap.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewHandler builds a Handler over fetcher.
func NewHandler(fetcher PageFetcher, opts ...Option) *Handler {
	h := &Handler{fetcher: fetcher, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ScrapeList fetches a country, state or root page and returns its entries.
func (h *Handler) ScrapeList(ctx context.Context, url string) ([]crawler.Link, error) {
	body, err := h.fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	links, err := ParseList(body)
	if err != nil {
		return nil, fmt.Errorf("parse list %s: %w", url, err)
	}
	h.logger.Debug("list page scraped", zap.String("url", url), zap.Int("links", len(links)))
	return links, nil
}

// ScrapeRecord fetches a record page and extracts the organization.
func (h *Handler) ScrapeRecord(ctx context.Context, url string) (crawler.Record, error) {
	body, err := h.fetch(ctx, url)
	if err != nil {
		return crawler.Record{}, err
	}
	record, err := ParseRecord(body)
	if err != nil {
		return crawler.Record{}, fmt.Errorf("parse record %s: %w", url, err)
	}
	h.logger.Debug("record page scraped", zap.String("url", url), zap.String("name", record.Name))
	return record, nil
}

func (h *Handler) fetch(ctx context.Context, url string) ([]byte, error) {
	if h.limiter != nil {
		if err := h.limiter.Wait(ctx, url); err != nil {
			return nil, fmt.Errorf("%w: %w", crawler.ErrTransport, err)
		}
	}
	body, err := h.fetcher.FetchPage(ctx, url)
	if err != nil {
		return nil, err
	}
	return body, nil
}
