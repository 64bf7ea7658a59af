// Command analyzer consumes raw_articles, extracts and summarizes each
// article's content, classifies it for developer relevance, and republishes
// it to enriched_articles.
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
	"ravedigest/internal/classify"
	"ravedigest/internal/config"
	"ravedigest/internal/extract"
	"ravedigest/internal/httpapi"
	"ravedigest/internal/llm"
	"ravedigest/internal/logging"
	"ravedigest/internal/messages"
	"ravedigest/internal/retry"
	"ravedigest/internal/store"
	"ravedigest/internal/worker"
)

const (
	rawArticlesStream      = "raw_articles"
	enrichedArticlesStream = "enriched_articles"
	consumerName           = "analyzer-1"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New("analyzer", false).Errorf("config: %v", err)
		os.Exit(1)
	}
	log := logging.New("analyzer", cfg.Service.JSONLogs)

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

	a := &analyzer{
		cfg:        cfg,
		bus:        b,
		store:      db,
		extractor:  extract.New(cfg.Service.HTTPTimeout),
		summarizer: llm.New(llm.Config(cfg.OpenAI)),
		retry:      retry.Default(),
		log:        log,
	}

	group := cfg.Service.ConsumerGroupPrefix + "-analyzer"
	loop := worker.New(worker.DefaultConfig(rawArticlesStream, group, consumerName), b, a.handle, log)
	go loop.Run(ctx)

	checker := httpapi.NewChecker("analyzer", 5*time.Second,
		httpapi.Check{Name: "database", Critical: true, Probe: db.Ping},
		httpapi.Check{Name: "redis", Critical: true, Probe: b.Ping},
	)

	router := mux.NewRouter()
	checker.Register(router, "analyzer")
	router.HandleFunc("/analyzer/status", a.handleStatus(group)).Methods(http.MethodGet)

	srv := &http.Server{Addr: ":8002", Handler: router}
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

// analyzerBus is the narrow slice of *bus.Bus the Analyzer depends on.
type analyzerBus interface {
	Append(ctx context.Context, stream string, fields map[string]string, maxLen int64) (string, error)
	DrainStatus(ctx context.Context, stream, group string) (bus.StreamStatus, error)
}

// enrichmentStore is the narrow slice of *store.Store the Analyzer depends on.
type enrichmentStore interface {
	UpsertEnrichment(ctx context.Context, id, title, url, source, llmSummary string, relevance float64, developerFocus bool) error
}

// articleExtractor is the narrow slice of *extract.Extractor the Analyzer depends on.
type articleExtractor interface {
	Extract(ctx context.Context, rawURL string) (string, error)
}

// summarizer is the narrow slice of *llm.Summarizer the Analyzer depends on.
type summarizer interface {
	Summarize(ctx context.Context, text string) (string, error)
}

type analyzer struct {
	cfg        *config.Config
	bus        analyzerBus
	store      enrichmentStore
	extractor  articleExtractor
	summarizer summarizer
	retry      retry.Config
	log        *logging.Logger
}

// handle enriches one raw_articles message: fetch full text, summarize,
// classify, persist, and republish. Extraction and summarization are each
// wrapped in the spec's per-call retry policy so a transient fetch or LLM
// failure does not fail the whole message.
func (a *analyzer) handle(ctx context.Context, msg bus.Message) error {
	raw, err := messages.ParseRawArticle(msg.Fields)
	if err != nil {
		return err
	}

	var fullText string
	err = retry.Do(ctx, a.retry, func(ctx context.Context) error {
		text, ferr := a.extractor.Extract(ctx, raw.URL)
		fullText = text
		return ferr
	})
	if err != nil {
		return err
	}

	var llmSummary string
	err = retry.Do(ctx, a.retry, func(ctx context.Context) error {
		summary, serr := a.summarizer.Summarize(ctx, fullText)
		llmSummary = summary
		return serr
	})
	if err != nil {
		return err
	}

	developerFocus := classify.DeveloperFocus(raw.Title, llmSummary, a.cfg.Service.DeveloperKeywords, a.cfg.Service.CosineSimilarityThreshold)
	relevance := classify.RelevanceScore(fullText, llmSummary)

	if err := a.store.UpsertEnrichment(ctx, raw.ID, raw.Title, raw.URL, raw.Source, llmSummary, relevance, developerFocus); err != nil {
		return err
	}

	enriched := messages.EnrichedArticle{RawArticle: raw, RelevanceScore: relevance, DeveloperFocus: developerFocus}
	enriched.Summary = llmSummary
	_, err = a.bus.Append(ctx, enrichedArticlesStream, enriched.Fields(), a.cfg.Service.StreamMaxLength)
	return err
}

func (a *analyzer) handleStatus(group string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, err := a.bus.DrainStatus(r.Context(), rawArticlesStream, group)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if !status.Exists {
			http.Error(w, "analyzer: consumer group not found", http.StatusNotFound)
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
