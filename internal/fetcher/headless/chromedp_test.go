package headless

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/cromap-crawler/internal/crawler"
)

func TestNewChromedpValidation(t *testing.T) {
	t.Parallel()

	_, err := NewChromedp(Config{MaxParallel: -1})
	require.Error(t, err)

	fetcher, err := NewChromedp(Config{MaxParallel: 2})
	require.NoError(t, err)
	defer fetcher.Close()
	assert.Equal(t, 2, cap(fetcher.limiter))
	assert.Equal(t, defaultNavTimeout, fetcher.cfg.NavigationTimeout)
}

func TestAcquireHonorsContext(t *testing.T) {
	t.Parallel()

	fetcher, err := NewChromedp(Config{MaxParallel: 1})
	require.NoError(t, err)
	defer fetcher.Close()

	require.NoError(t, fetcher.acquire(context.Background()))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err = fetcher.acquire(ctx)
	require.ErrorIs(t, err, crawler.ErrTransport)

	fetcher.release()
	require.NoError(t, fetcher.acquire(context.Background()))
	fetcher.release()
}

func TestDocumentStatusIgnoresSubresources(t *testing.T) {
	t.Parallel()

	status := &documentStatus{}
	status.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeDocument,
		Response: &network.Response{Status: 404},
	})
	status.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeImage,
		Response: &network.Response{Status: 200},
	})
	status.captureEvent("not an event")
	assert.Equal(t, 404, status.get())
}

func TestFetchPageRendersDocument(t *testing.T) {
	if _, err := exec.LookPath("google-chrome"); err != nil {
		if _, err := exec.LookPath("chromium"); err != nil {
			t.Skip("chrome is not installed")
		}
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><body><div class="panel-heading">Acme</div></body></html>`))
	}))
	defer srv.Close()

	fetcher, err := NewChromedp(Config{MaxParallel: 1, NavigationTimeout: 20 * time.Second})
	require.NoError(t, err)
	defer fetcher.Close()

	body, err := fetcher.FetchPage(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Contains(t, string(body), "panel-heading")

	_, err = fetcher.FetchPage(context.Background(), srv.URL+"/missing")
	require.ErrorIs(t, err, crawler.ErrTransport)
}
