// Command composer ranks developer-focused articles, renders a Markdown
// digest, persists it, and publishes a digest_stream message announcing it.
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"ravedigest/internal/bus"
	"ravedigest/internal/config"
	"ravedigest/internal/digest"
	"ravedigest/internal/httpapi"
	"ravedigest/internal/logging"
	"ravedigest/internal/messages"
	"ravedigest/internal/store"
	"ravedigest/internal/worker"
)

const (
	enrichedArticlesStream = "enriched_articles"
	digestStream           = "digest_stream"
	consumerName           = "composer-1"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New("composer", false).Errorf("config: %v", err)
		os.Exit(1)
	}
	log := logging.New("composer", cfg.Service.JSONLogs)

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

	renderer, err := digest.NewRenderer(cfg.Service.DigestTemplateDir)
	if err != nil {
		log.Errorf("template: %v", err)
		os.Exit(1)
	}

	c := &composer{cfg: cfg, bus: b, store: db, renderer: renderer, log: log}

	group := cfg.Service.ConsumerGroupPrefix + "-composer"
	loop := worker.New(worker.DefaultConfig(enrichedArticlesStream, group, consumerName), b, c.handle, log)
	go loop.Run(ctx)

	checker := httpapi.NewChecker("composer", 5*time.Second,
		httpapi.Check{Name: "database", Critical: true, Probe: db.Ping},
		httpapi.Check{Name: "redis", Critical: true, Probe: b.Ping},
	)

	router := mux.NewRouter()
	checker.Register(router, "compose")
	router.HandleFunc("/compose", c.handleCompose).Methods(http.MethodPost)

	srv := &http.Server{Addr: ":8003", Handler: router}
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

// composerBus is the narrow slice of *bus.Bus the Composer depends on.
type composerBus interface {
	Append(ctx context.Context, stream string, fields map[string]string, maxLen int64) (string, error)
}

// digestStore is the narrow slice of *store.Store the Composer depends on.
type digestStore interface {
	TopDeveloperFocusedArticles(ctx context.Context, limit int) ([]store.Article, error)
	InsertDigest(ctx context.Context, d store.Digest) error
}

// digestRenderer is the narrow slice of *digest.Renderer the Composer depends on.
type digestRenderer interface {
	Render(articles []store.Article) (string, error)
}

type composer struct {
	cfg      *config.Config
	bus      composerBus
	store    digestStore
	renderer digestRenderer
	log      *logging.Logger
}

// handle is the stream-consumer side of the Composer: one enriched_articles
// message triggers a full rank→render→validate→persist→publish pass, per
// the spec's "trigger on every enriched article" design. A malformed payload
// is rejected so the message stays pending instead of being acked.
func (c *composer) handle(ctx context.Context, msg bus.Message) error {
	if _, err := messages.ParseEnrichedArticle(msg.Fields); err != nil {
		return err
	}
	_, err := c.compose(ctx)
	return err
}

// handleCompose is the HTTP-triggered equivalent of handle, run by the
// Scheduler's batched POST /compose call; it runs the identical pipeline
// outside the stream handler.
func (c *composer) handleCompose(w http.ResponseWriter, r *http.Request) {
	out, err := c.compose(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if out == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(*out)
}

// compose ranks the top developer-focused articles, renders and validates a
// digest, persists it, and announces it on digest_stream. It returns a nil
// *digestOut (and nil error) when there is nothing to compose yet.
func (c *composer) compose(ctx context.Context) (*digestOut, error) {
	articles, err := c.store.TopDeveloperFocusedArticles(ctx, c.cfg.Service.MaxArticlesPerDigest)
	if err != nil {
		return nil, err
	}
	if len(articles) == 0 {
		return nil, nil
	}

	body, err := c.renderer.Render(articles)
	if err != nil {
		c.log.Errorf("render: %v", err)
		return nil, err
	}
	if err := digest.Validate(body); err != nil {
		c.log.Errorf("validate: %v", err)
		return nil, err
	}

	id := uuid.NewString()
	title := "Daily Developer Digest"
	source := "AI-Tech"
	url := "/digests/" + id
	d := store.Digest{ID: id, Title: title, URL: url, Summary: body, Source: source}
	if err := c.store.InsertDigest(ctx, d); err != nil {
		c.log.Errorf("persist digest: %v", err)
		return nil, err
	}

	ready := messages.DigestReady{
		DigestID:   id,
		Title:      title,
		Summary:    body,
		URL:        url,
		Source:     source,
		InsertedAt: messages.FormatTime(time.Now()),
	}
	if _, err := c.bus.Append(ctx, digestStream, ready.Fields(), c.cfg.Service.StreamMaxLength); err != nil {
		c.log.Errorf("publish digest: %v", err)
		return nil, err
	}

	return &digestOut{DigestID: id, Title: title, Summary: body, URL: url, Source: source}, nil
}

// digestOut mirrors the spec's DigestOut response body.
type digestOut struct {
	DigestID string `json:"digest_id"`
	Title    string `json:"title"`
	Summary  string `json:"summary"`
	URL      string `json:"url"`
	Source   string `json:"source"`
}
