// Command collector polls the configured RSS feeds, skips URLs already on
// file, and appends a raw_articles message per new entry.
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/time/rate"

	"ravedigest/internal/bus"
	"ravedigest/internal/config"
	"ravedigest/internal/feed"
	"ravedigest/internal/httpapi"
	"ravedigest/internal/logging"
	"ravedigest/internal/messages"
	"ravedigest/internal/retry"
	"ravedigest/internal/store"
)

const (
	rawArticlesStream = "raw_articles"
	seenURLsSet       = "seen_urls"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New("collector", false).Errorf("config: %v", err)
		os.Exit(1)
	}
	log := logging.New("collector", cfg.Service.JSONLogs)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := bus.New(ctx, bus.Options{URL: cfg.Redis.URL, Timeout: cfg.Redis.Timeout})
	if err != nil {
		log.Errorf("bus: %v", err)
		os.Exit(1)
	}
	defer b.Close()

	db, err := store.New(ctx, store.Config{
		URL:             cfg.Database.URL,
		MaxConns:        int32(cfg.Database.MaxOpenConns),
		MaxConnLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		log.Errorf("store: %v", err)
		os.Exit(1)
	}
	defer db.Close()

	c := &collector{
		cfg:     cfg,
		bus:     b,
		store:   db,
		fetcher: feed.NewFetcher(),
		limiter: rate.NewLimiter(rate.Limit(2), 5),
		log:     log,
		retry:   retry.Default(),
	}

	checker := httpapi.NewChecker("collector", 5*time.Second,
		httpapi.Check{Name: "database", Critical: true, Probe: db.Ping},
		httpapi.Check{Name: "redis", Critical: true, Probe: b.Ping},
	)

	router := mux.NewRouter()
	checker.Register(router, "collect")
	router.HandleFunc("/collect/rss", c.handleCollect).Methods(http.MethodGet, http.MethodPost)

	srv := &http.Server{Addr: ":8001", Handler: router}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Infof("listening on %s", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Errorf("server: %v", err)
		os.Exit(1)
	}
}

// collectorBus is the narrow slice of *bus.Bus the Collector depends on,
// broken out (per the worker package's streamBus precedent) so handleCollect
// can be driven by a fake in tests.
type collectorBus interface {
	Append(ctx context.Context, stream string, fields map[string]string, maxLen int64) (string, error)
	SIsMember(ctx context.Context, set, value string) (bool, error)
	SAdd(ctx context.Context, set, value string) error
}

// collectorStore is the narrow slice of *store.Store the Collector depends on.
type collectorStore interface {
	InsertArticleIfAbsent(ctx context.Context, a store.Article) error
}

// feedFetcher is the narrow slice of *feed.Fetcher the Collector depends on.
type feedFetcher interface {
	Fetch(ctx context.Context, feedURL, source string) ([]feed.Entry, error)
}

type collector struct {
	cfg     *config.Config
	bus     collectorBus
	store   collectorStore
	fetcher feedFetcher
	limiter *rate.Limiter
	log     *logging.Logger
	retry   retry.Config
}

type collectResult struct {
	Status         string `json:"status"`
	TotalCollected int    `json:"total_collected"`
	TotalSkipped   int    `json:"total_skipped"`
	TotalErrors    int    `json:"total_errors"`
	FeedsProcessed int    `json:"feeds_processed"`
}

// handleCollect polls every configured feed once and publishes a
// raw_articles message for each entry not already on file, per the spec's
// "insert-if-absent, then publish" Collector operation.
func (c *collector) handleCollect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	result := collectResult{Status: "ok"}

	for _, src := range c.cfg.Service.RSSFeeds {
		if err := c.limiter.Wait(ctx); err != nil {
			break
		}
		result.FeedsProcessed++

		var entries []feed.Entry
		err := retry.Do(ctx, c.retry, func(ctx context.Context) error {
			fetched, ferr := c.fetcher.Fetch(ctx, src.URL, src.Source)
			entries = fetched
			return ferr
		})
		if err != nil {
			c.log.Errorf("fetch %s: %v", src.URL, err)
			result.TotalErrors++
			continue
		}

		for _, e := range entries {
			if c.publishIfNew(ctx, e) {
				result.TotalCollected++
			} else {
				result.TotalSkipped++
			}
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(result)
}

// publishIfNew checks the bus-backed seen_urls set before touching the
// store, per the spec's §4.3 step 2 `member?(seen_urls, url)` check; the
// store's unique-URL constraint remains the source of truth for a
// concurrent race, but the set check avoids a redundant write on the
// common path.
func (c *collector) publishIfNew(ctx context.Context, e feed.Entry) bool {
	seen, err := c.bus.SIsMember(ctx, seenURLsSet, e.URL)
	if err != nil {
		c.log.Errorf("check seen_urls %s: %v", e.URL, err)
	} else if seen {
		return false
	}

	var publishedAt string
	if e.PublishedAt != nil {
		publishedAt = messages.FormatTime(*e.PublishedAt)
	}

	err = c.store.InsertArticleIfAbsent(ctx, store.Article{
		ID:          e.ID,
		Title:       e.Title,
		URL:         e.URL,
		Summary:     e.Summary,
		Categories:  e.Categories,
		PublishedAt: e.PublishedAt,
		Source:      e.Source,
	})
	if err == store.ErrDuplicateURL {
		return false
	}
	if err != nil {
		c.log.Errorf("insert article %s: %v", e.URL, err)
		return false
	}

	if err := c.bus.SAdd(ctx, seenURLsSet, e.URL); err != nil {
		c.log.Errorf("mark seen_urls %s: %v", e.URL, err)
	}

	raw := messages.RawArticle{
		ID:          e.ID,
		Title:       e.Title,
		URL:         e.URL,
		Summary:     e.Summary,
		Categories:  e.Categories,
		PublishedAt: publishedAt,
		Source:      e.Source,
	}
	err = retry.Do(ctx, c.retry, func(ctx context.Context) error {
		_, aerr := c.bus.Append(ctx, rawArticlesStream, raw.Fields(), c.cfg.Service.StreamMaxLength)
		return aerr
	})
	if err != nil {
		c.log.Errorf("publish article %s: %v", e.URL, err)
		return false
	}
	return true
}
