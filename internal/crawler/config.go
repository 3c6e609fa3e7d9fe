package crawler

import (
	"fmt"
	"net/url"
	"time"
)

// Default engine settings.
const (
	DefaultBatchSize   = 4
	DefaultItemTimeout = 60 * time.Second
)

// Config captures every knob that influences a crawl run.
type Config struct {
	// BaseURL resolves root-relative hrefs found on list pages.
	BaseURL string
	// BatchSize is the number of links dispatched concurrently per round.
	BatchSize int
	// ItemTimeout bounds a single dispatch; zero disables the bound.
	ItemTimeout time.Duration
	// Order controls where expanded children are queued.
	Order FrontierOrder
	// PublishTopic is passed to the Publisher for each admitted record.
	PublishTopic string
}

// Validate checks for obviously bad configuration combinations.
func (c Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("crawler.base_url must be set")
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("crawler.base_url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("crawler.base_url must be absolute, got %q", c.BaseURL)
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("crawler.batch_size must be > 0")
	}
	if c.ItemTimeout < 0 {
		return fmt.Errorf("crawler.item_timeout must be >= 0")
	}
	switch c.Order {
	case "", OrderPrepend, OrderFIFO:
	default:
		return fmt.Errorf("crawler.order must be %q or %q, got %q", OrderPrepend, OrderFIFO, c.Order)
	}
	return nil
}

// resolveHref turns a link href into the URL to fetch. Root links and
// absolute hrefs are used verbatim; everything else is resolved against base.
func resolveHref(base *url.URL, link *Link) (string, error) {
	if link.Kind == KindRoot {
		return link.Href, nil
	}
	ref, err := url.Parse(link.Href)
	if err != nil {
		return "", fmt.Errorf("parse href %q: %w", link.Href, err)
	}
	if ref.IsAbs() {
		return link.Href, nil
	}
	return base.ResolveReference(ref).String(), nil
}
