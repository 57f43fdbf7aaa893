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
	"github.com/rs/zerolog"

	"github.com/nadmax/siteqa/internal/api"
	"github.com/nadmax/siteqa/internal/auth"
	"github.com/nadmax/siteqa/internal/config"
	"github.com/nadmax/siteqa/internal/queue"
	"github.com/nadmax/siteqa/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		boot := zerolog.New(os.Stderr)
		boot.Fatal().Err(err).Msg("invalid configuration")
	}
	log := newLogger(cfg.Production).With().Str("service", "siteqa-server").Logger()

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

	a := api.New(api.Options{
		Store:         st,
		Queue:         q,
		Verifier:      auth.NewStaticVerifier(cfg.APITokens),
		AllowedOrigin: cfg.AllowedOrigin,
		Production:    cfg.Production,
		Log:           log,
	})

	go func() {
		log.Info().Str("port", cfg.Port).Msg("server listening")
		if err := a.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("shutdown failed")
	}
}

func newLogger(production bool) zerolog.Logger {
	if production {
		return zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
}

// connectStore retries with exponential backoff so the process survives a
// database that comes up slightly later than it does.
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
