package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/nadmax/siteqa/internal/alert"
	"github.com/nadmax/siteqa/internal/answer"
	"github.com/nadmax/siteqa/internal/config"
	"github.com/nadmax/siteqa/internal/extract"
	"github.com/nadmax/siteqa/internal/queue"
	"github.com/nadmax/siteqa/internal/store"
	"github.com/nadmax/siteqa/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := zerolog.New(os.Stderr)
		boot.Fatal().Err(err).Msg("invalid configuration")
	}
	log := newLogger(cfg.Production).With().Str("service", "siteqa-worker").Logger()

	st, err := connectStore(cfg.PostgresDSN, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to Postgres")
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close store")
		}
	}()

	q, err := connectQueue(cfg.RedisAddr, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to Redis")
	}
	defer func() {
		if err := q.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close queue")
		}
	}()

	extractor := extract.New(log)
	if cfg.BrowserPath != "" {
		extractor.SetBrowserPath(cfg.BrowserPath)
	}

	generator := answer.New(answer.Config{
		APIKey:  cfg.GroqAPIKey,
		BaseURL: cfg.GroqBaseURL,
		Model:   cfg.GroqModel,
	}, log)

	var mailer alert.Mailer = alert.NopMailer{}
	if cfg.EmailAPIKey != "" && cfg.AlertAddress != "" {
		mailer = alert.NewSendGridMailer(cfg.EmailAPIKey, cfg.FromAddress, cfg.AlertAddress, log)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := worker.NewProcessor(q, st, extractor, generator, mailer, cfg.WorkerCount, log)
	p.Start(ctx)

	go collectQueueMetrics(ctx, q, log)

	metricsSrv := &http.Server{Addr: ":" + cfg.MetricsPort, Handler: promhttp.Handler()}
	go func() {
		log.Info().Str("port", cfg.MetricsPort).Msg("metrics listening")
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("shutting down worker")
	cancel()
	p.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("metrics shutdown failed")
	}
}

func newLogger(production bool) zerolog.Logger {
	if production {
		return zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
}

func connectStore(dsn string, log zerolog.Logger) (*store.PostgresStore, error) {
	var st *store.PostgresStore
	operation := func() error {
		var err error
		st, err = store.NewPostgresStore(dsn)
		if err != nil {
			log.Warn().Err(err).Msg("Postgres not ready, retrying")
		}
		return err
	}
	if err := backoff.Retry(operation, backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5)); err != nil {
		return nil, err
	}
	return st, nil
}

func connectQueue(addr string, log zerolog.Logger) (*queue.Queue, error) {
	var q *queue.Queue
	operation := func() error {
		var err error
		q, err = queue.New(addr, nil)
		if err != nil {
			log.Warn().Err(err).Msg("Redis not ready, retrying")
		}
		return err
	}
	if err := backoff.Retry(operation, backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5)); err != nil {
		return nil, err
	}
	return q, nil
}
