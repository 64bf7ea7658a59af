// Command publisher (the "notion worker") consumes digest_stream and pushes
// each digest to the external knowledge base, guarded by an idempotency key
// so redelivery never creates a duplicate page.
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

	"ravedigest/internal/bus"
	"ravedigest/internal/config"
	"ravedigest/internal/httpapi"
	"ravedigest/internal/kb"
	"ravedigest/internal/logging"
	"ravedigest/internal/messages"
	"ravedigest/internal/retry"
	"ravedigest/internal/store"
	"ravedigest/internal/worker"
)

const (
	digestStream       = "digest_stream"
	consumerName       = "publisher-1"
	publishedKeyPrefix = "digest_published:"
	publishedKeyTTL    = 24 * time.Hour
)

// publishRetry is the knowledge-base post policy: three attempts in total
// (two retries) with the default exponential backoff between them.
func publishRetry() retry.Config {
	cfg := retry.Default()
	cfg.MaxRetries = 2
	return cfg
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New("publisher", false).Errorf("config: %v", err)
		os.Exit(1)
	}
	log := logging.New("publisher", cfg.Service.JSONLogs)

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

	p := &publisher{
		cfg:       cfg,
		bus:       b,
		store:     db,
		publisher: kb.New(&http.Client{Timeout: cfg.Service.HTTPTimeout}, cfg.Notion.APIKey, cfg.Notion.DBID),
		retry:     publishRetry(),
		log:       log,
	}

	group := cfg.Service.ConsumerGroupPrefix + "-notion"
	loop := worker.New(worker.DefaultConfig(digestStream, group, consumerName), b, p.handle, log)
	go loop.Run(ctx)

	checker := httpapi.NewChecker("notion_worker", 5*time.Second,
		httpapi.Check{Name: "database", Critical: true, Probe: db.Ping},
		httpapi.Check{Name: "redis", Critical: true, Probe: b.Ping},
	)

	router := mux.NewRouter()
	checker.Register(router, "notion")
	router.HandleFunc("/notion/status", p.handleStatus(group)).Methods(http.MethodGet)

	srv := &http.Server{Addr: ":8004", Handler: router}
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

// publisherBus is the narrow slice of *bus.Bus the Publisher depends on.
type publisherBus interface {
	Get(ctx context.Context, key string) (string, error)
	SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error
	DrainStatus(ctx context.Context, stream, group string) (bus.StreamStatus, error)
}

// digestReader is the narrow slice of *store.Store the Publisher depends on.
type digestReader interface {
	GetDigestByID(ctx context.Context, id string) (*store.Digest, error)
}

// kbPublisher is the narrow slice of *kb.Client the Publisher depends on.
type kbPublisher interface {
	Publish(ctx context.Context, page kb.Page) (string, error)
}

type publisher struct {
	cfg       *config.Config
	bus       publisherBus
	store     digestReader
	publisher kbPublisher
	retry     retry.Config
	log       *logging.Logger
}

// handle publishes one digest_stream message to the knowledge base, skipping
// digests already marked published — the spec's "digest_published:<id>,
// TTL 86400s" idempotency guard.
func (p *publisher) handle(ctx context.Context, msg bus.Message) error {
	ready, err := messages.ParseDigestReady(msg.Fields)
	if err != nil {
		return err
	}

	key := publishedKeyPrefix + ready.DigestID
	already, err := p.bus.Get(ctx, key)
	if err != nil {
		return err
	}
	if already != "" {
		p.log.Infof("digest %s already published, skipping", ready.DigestID)
		return nil
	}

	d, err := p.store.GetDigestByID(ctx, ready.DigestID)
	if err == store.ErrNotFound {
		p.log.Errorf("digest %s not found, nothing to publish", ready.DigestID)
		return nil
	}
	if err != nil {
		return err
	}

	page := kb.Page{
		Title:      d.Title,
		URL:        d.URL,
		Source:     d.Source,
		Summary:    d.Summary,
		InsertedAt: messages.FormatTime(d.InsertedAt),
		Blocks:     kb.ArticleBlocks(d.Summary),
	}

	err = retry.Do(ctx, p.retry, func(ctx context.Context) error {
		_, perr := p.publisher.Publish(ctx, page)
		return perr
	})
	if err != nil {
		return err
	}

	return p.bus.SetWithTTL(ctx, key, "1", publishedKeyTTL)
}

func (p *publisher) handleStatus(group string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, err := p.bus.DrainStatus(r.Context(), digestStream, group)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if !status.Exists {
			http.Error(w, "notion_worker: consumer group not found", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"is_idle":           status.IsDrained(),
			"last_generated_id": status.LastGeneratedID,
			"last_delivered_id": status.LastDeliveredID,
			"pending_messages":  status.PendingCount,
		})
	}
}
