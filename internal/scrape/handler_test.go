package scrape

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/cromap-crawler/internal/crawler"
)

type mockFetcher struct {
	mock.Mock
}

func (m *mockFetcher) FetchPage(ctx context.Context, url string) ([]byte, error) {
	args := m.Called(ctx, url)
	body, _ := args.Get(0).([]byte)
	return body, args.Error(1)
}

type mockWaiter struct {
	mock.Mock
}

func (m *mockWaiter) Wait(ctx context.Context, url string) error {
	return m.Called(ctx, url).Error(0)
}

func TestHandlerScrapeList(t *testing.T) {
	t.Parallel()

	fetcher := &mockFetcher{}
	waiter := &mockWaiter{}
	url := "https://dir.example/directory"
	waiter.On("Wait", mock.Anything, url).Return(nil).Once()
	fetcher.On("FetchPage", mock.Anything, url).Return([]byte(listPage), nil).Once()

	h := NewHandler(fetcher, WithLimiter(waiter))
	links, err := h.ScrapeList(context.Background(), url)
	require.NoError(t, err)
	assert.Len(t, links, 4)
	fetcher.AssertExpectations(t)
	waiter.AssertExpectations(t)
}

func TestHandlerScrapeRecord(t *testing.T) {
	t.Parallel()

	fetcher := &mockFetcher{}
	url := "https://dir.example/directory/cro/acme"
	fetcher.On("FetchPage", mock.Anything, url).Return([]byte(recordPage), nil)

	rec, err := NewHandler(fetcher).ScrapeRecord(context.Background(), url)
	require.NoError(t, err)
	assert.Equal(t, "Acme Preclinical", rec.Name)
	assert.Equal(t, "https://acme.example", rec.Website)
}

func TestHandlerPropagatesErrors(t *testing.T) {
	t.Parallel()

	fetcher := &mockFetcher{}
	fetcher.On("FetchPage", mock.Anything, "https://dir.example/down").
		Return(nil, errors.Join(crawler.ErrTransport, errors.New("status 503")))
	fetcher.On("FetchPage", mock.Anything, "https://dir.example/blank").
		Return([]byte(`<html></html>`), nil)

	h := NewHandler(fetcher)
	_, err := h.ScrapeRecord(context.Background(), "https://dir.example/down")
	require.ErrorIs(t, err, crawler.ErrTransport)

	_, err = h.ScrapeRecord(context.Background(), "https://dir.example/blank")
	require.ErrorIs(t, err, crawler.ErrParse)
}

func TestHandlerLimiterFailure(t *testing.T) {
	t.Parallel()

	fetcher := &mockFetcher{}
	waiter := &mockWaiter{}
	waiter.On("Wait", mock.Anything, mock.Anything).Return(context.DeadlineExceeded)

	_, err := NewHandler(fetcher, WithLimiter(waiter)).ScrapeList(context.Background(), "https://dir.example/")
	require.ErrorIs(t, err, crawler.ErrTransport)
	fetcher.AssertNotCalled(t, "FetchPage", mock.Anything, mock.Anything)
}
