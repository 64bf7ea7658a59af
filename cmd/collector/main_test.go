package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"ravedigest/internal/config"
	"ravedigest/internal/feed"
	"ravedigest/internal/logging"
	"ravedigest/internal/retry"
	"ravedigest/internal/store"
)

type fakeCollectorBus struct {
	mu      sync.Mutex
	seen    map[string]bool
	appends int
}

func newFakeCollectorBus() *fakeCollectorBus {
	return &fakeCollectorBus{seen: map[string]bool{}}
}

func (f *fakeCollectorBus) Append(ctx context.Context, stream string, fields map[string]string, maxLen int64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appends++
	return "1-1", nil
}

func (f *fakeCollectorBus) SIsMember(ctx context.Context, set, value string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seen[value], nil
}

func (f *fakeCollectorBus) SAdd(ctx context.Context, set, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen[value] = true
	return nil
}

type fakeCollectorStore struct {
	inserted map[string]bool
}

func (f *fakeCollectorStore) InsertArticleIfAbsent(ctx context.Context, a store.Article) error {
	if f.inserted[a.URL] {
		return store.ErrDuplicateURL
	}
	f.inserted[a.URL] = true
	return nil
}

type fakeFetcher struct {
	entries []feed.Entry
	err     error
}

func (f *fakeFetcher) Fetch(ctx context.Context, feedURL, source string) ([]feed.Entry, error) {
	return f.entries, f.err
}

func newTestCollector(t *testing.T, fetcher feedFetcher) (*collector, *fakeCollectorBus, *fakeCollectorStore) {
	t.Helper()
	b := newFakeCollectorBus()
	s := &fakeCollectorStore{inserted: map[string]bool{}}
	c := &collector{
		cfg: &config.Config{Service: config.Service{
			RSSFeeds:        []config.FeedSource{{URL: "http://feed.example/rss", Source: "example"}},
			StreamMaxLength: 1000,
		}},
		bus:     b,
		store:   s,
		fetcher: fetcher,
		limiter: rate.NewLimiter(rate.Inf, 1),
		log:     logging.New("collector-test", false),
		retry:   retry.Config{MaxRetries: 0, BaseDelay: time.Millisecond, BackoffFactor: 1, MaxDelay: time.Millisecond},
	}
	return c, b, s
}

func TestPublishIfNew_SkipsURLAlreadyInSeenSet(t *testing.T) {
	c, b, s := newTestCollector(t, &fakeFetcher{})
	require.NoError(t, b.SAdd(context.Background(), "seen_urls", "http://example.com/a"))

	ok := c.publishIfNew(context.Background(), feed.Entry{ID: "1", URL: "http://example.com/a", Title: "A"})

	assert.False(t, ok)
	assert.Empty(t, s.inserted)
	assert.Equal(t, 0, b.appends)
}

func TestPublishIfNew_InsertsAndPublishesNewEntry(t *testing.T) {
	c, b, s := newTestCollector(t, &fakeFetcher{})

	ok := c.publishIfNew(context.Background(), feed.Entry{ID: "1", URL: "http://example.com/b", Title: "B"})

	assert.True(t, ok)
	assert.True(t, s.inserted["http://example.com/b"])
	assert.Equal(t, 1, b.appends)
	assert.True(t, b.seen["http://example.com/b"])
}

func TestHandleCollect_CountsSkippedAndCollected(t *testing.T) {
	entries := []feed.Entry{
		{ID: "1", URL: "http://example.com/new", Title: "New"},
		{ID: "2", URL: "http://example.com/dup", Title: "Dup"},
	}
	c, b, _ := newTestCollector(t, &fakeFetcher{entries: entries})
	require.NoError(t, b.SAdd(context.Background(), "seen_urls", "http://example.com/dup"))

	req := httptest.NewRequest(http.MethodPost, "/collect/rss", nil)
	rec := httptest.NewRecorder()
	c.handleCollect(rec, req)

	var result collectResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&result))
	assert.Equal(t, 1, result.TotalCollected)
	assert.Equal(t, 1, result.TotalSkipped)
	assert.Equal(t, 0, result.TotalErrors)
	assert.Equal(t, 1, result.FeedsProcessed)
}

func TestHandleCollect_CountsFetchErrors(t *testing.T) {
	c, _, _ := newTestCollector(t, &fakeFetcher{err: errors.New("feed down")})

	req := httptest.NewRequest(http.MethodPost, "/collect/rss", nil)
	rec := httptest.NewRecorder()
	c.handleCollect(rec, req)

	var result collectResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&result))
	assert.Equal(t, 0, result.TotalCollected)
	assert.Equal(t, 1, result.TotalErrors)
}
