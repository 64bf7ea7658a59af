// Command scheduler triggers the daily pipeline run: collect, wait for the
// analyzer to drain, compose, then wait for the publisher to drain —
// generalizing the distilled-from services/scheduler/src/main.py's
// schedule.every().day.at("08:30") cron plus tenacity-retried HTTP trigger
// and drain-poll calls into a robfig/cron job running alongside the HTTP
// server under one cancellable context.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"ravedigest/internal/config"
	"ravedigest/internal/httpapi"
	"ravedigest/internal/logging"
	"ravedigest/internal/retry"
)

const (
	drainPollInterval = 10 * time.Second
	drainPollAttempts = 35
	dailyCronSpec     = "30 8 * * *"
)

// collectorRetry is the Collector trigger's "retry 3x, fixed 5s backoff"
// policy (§4.7 step 1) — a backoff factor of 1 keeps Delay's exponential
// term constant across attempts, so every retry waits exactly BaseDelay.
func collectorRetry() retry.Config {
	return retry.Config{MaxRetries: 3, BaseDelay: 5 * time.Second, BackoffFactor: 1.0, MaxDelay: 5 * time.Second}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.New("scheduler", false).Errorf("config: %v", err)
		os.Exit(1)
	}
	log := logging.New("scheduler", cfg.Service.JSONLogs)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s := &scheduler{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Service.HTTPTimeout},
		retry:      retry.Default(),
		log:        log,
	}

	c := cron.New()
	if _, err := c.AddFunc(dailyCronSpec, func() { s.runOnce(ctx) }); err != nil {
		log.Errorf("schedule daily job: %v", err)
		os.Exit(1)
	}

	checker := httpapi.NewChecker("scheduler", 5*time.Second)
	router := mux.NewRouter()
	checker.Register(router, "")
	router.HandleFunc("/trigger", func(w http.ResponseWriter, r *http.Request) {
		go s.runOnce(context.Background())
		w.WriteHeader(http.StatusAccepted)
	}).Methods(http.MethodPost)

	srv := &http.Server{Addr: ":8005", Handler: router}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		c.Start()
		<-gctx.Done()
		<-c.Stop().Done()
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		log.Infof("listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Errorf("scheduler exited with error: %v", err)
		os.Exit(1)
	}
}

type scheduler struct {
	cfg        *config.Config
	httpClient *http.Client
	retry      retry.Config
	log        *logging.Logger
}

// runOnce drives one full pipeline pass: trigger the collector, wait for the
// analyzer to drain raw_articles, trigger the composer, then wait for the
// publisher to drain digest_stream.
func (s *scheduler) runOnce(ctx context.Context) {
	s.log.Infof("starting scheduled pipeline run")

	if err := s.trigger(ctx, http.MethodGet, s.cfg.Scheduler.CollectorURL+"/collect/rss", collectorRetry()); err != nil {
		s.log.Errorf("trigger collector: %v", err)
		return
	}

	if err := s.waitForDrain(ctx, s.cfg.Scheduler.AnalyzerURL+"/analyzer/status"); err != nil {
		s.log.Errorf("wait for analyzer drain: %v", err)
		return
	}

	if err := s.trigger(ctx, http.MethodPost, s.cfg.Scheduler.ComposerURL+"/compose", s.retry); err != nil {
		s.log.Errorf("trigger composer: %v", err)
		return
	}

	if err := s.waitForDrain(ctx, s.cfg.Scheduler.NotionWorkerURL+"/notion/status"); err != nil {
		s.log.Errorf("wait for publisher drain: %v", err)
		return
	}

	s.log.Infof("scheduled pipeline run complete")
}

func (s *scheduler) trigger(ctx context.Context, method, url string, cfg retry.Config) error {
	return retry.Do(ctx, cfg, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, method, url, nil)
		if err != nil {
			return err
		}
		resp, err := s.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 400 {
			return fmt.Errorf("trigger %s: status %d", url, resp.StatusCode)
		}
		return nil
	})
}

// waitForDrain polls statusURL every drainPollInterval, up to
// drainPollAttempts times, for {"is_idle": true}, per the spec's 10s /
// 35-attempt drain-poll contract.
func (s *scheduler) waitForDrain(ctx context.Context, statusURL string) error {
	for attempt := 0; attempt < drainPollAttempts; attempt++ {
		idle, err := s.isIdle(ctx, statusURL)
		if err == nil && idle {
			return nil
		}
		if err != nil {
			s.log.Warnf("poll %s: %v", statusURL, err)
		}
		select {
		case <-time.After(drainPollInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("scheduler: %s did not drain within %d attempts", statusURL, drainPollAttempts)
}

func (s *scheduler) isIdle(ctx context.Context, statusURL string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, statusURL, nil)
	if err != nil {
		return false, err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return false, fmt.Errorf("status %d", resp.StatusCode)
	}

	var body struct {
		IsIdle bool `json:"is_idle"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return false, err
	}
	return body.IsIdle, nil
}
