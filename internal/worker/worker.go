// Package worker runs the processing pipeline: it consumes queue
// entries, drives extraction and answer generation, and persists every
// state transition to the task store.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/nadmax/siteqa/internal/alert"
	"github.com/nadmax/siteqa/internal/answer"
	"github.com/nadmax/siteqa/internal/extract"
	"github.com/nadmax/siteqa/internal/metrics"
	"github.com/nadmax/siteqa/internal/queue"
	"github.com/nadmax/siteqa/internal/store"
	"github.com/nadmax/siteqa/internal/task"
)

type Extractor interface {
	Extract(ctx context.Context, url string) (*extract.Result, error)
}

type Generator interface {
	Generate(ctx context.Context, question, content, title, url string) (*answer.Result, error)
}

type Processor struct {
	queue     *queue.Queue
	store     store.TaskStore
	extractor Extractor
	generator Generator
	alerts    alert.Mailer
	log       zerolog.Logger

	sem          *semaphore.Weighted
	pollInterval time.Duration
	reapInterval time.Duration
	stop         chan struct{}
	stopOnce     sync.Once
	wg           sync.WaitGroup
}

func NewProcessor(q *queue.Queue, s store.TaskStore, x Extractor, g Generator, mailer alert.Mailer, concurrency int, log zerolog.Logger) *Processor {
	if concurrency <= 0 {
		concurrency = 5
	}
	if mailer == nil {
		mailer = alert.NopMailer{}
	}
	return &Processor{
		queue:        q,
		store:        s,
		extractor:    x,
		generator:    g,
		alerts:       mailer,
		log:          log.With().Str("component", "processor").Logger(),
		sem:          semaphore.NewWeighted(int64(concurrency)),
		pollInterval: time.Second,
		reapInterval: 30 * time.Second,
		stop:         make(chan struct{}),
	}
}

func (p *Processor) SetPollInterval(d time.Duration) {
	p.pollInterval = d
}

// Start launches the dequeue loop and the lease reaper. It returns
// immediately; call Stop for a graceful drain.
func (p *Processor) Start(ctx context.Context) {
	p.wg.Add(2)
	go p.run(ctx)
	go p.reapLoop(ctx)
	p.log.Info().Msg("processor started")
}

// Stop waits for in-flight pipelines to finish.
func (p *Processor) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
	p.wg.Wait()
	p.log.Info().Msg("processor stopped")
}

func (p *Processor) run(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		default:
		}

		// The semaphore is the sole concurrency limiter: at most N
		// pipelines run at once and dequeueing pauses while all N slots
		// are busy.
		if err := p.sem.Acquire(ctx, 1); err != nil {
			return
		}

		e, err := p.queue.Dequeue(ctx)
		if err != nil {
			p.sem.Release(1)
			p.log.Error().Err(err).Msg("dequeue failed")
			p.sleep()
			continue
		}
		if e == nil {
			p.sem.Release(1)
			p.sleep()
			continue
		}

		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			defer p.sem.Release(1)
			p.process(ctx, e)
		}()
	}
}

func (p *Processor) sleep() {
	select {
	case <-p.stop:
	case <-time.After(p.pollInterval):
	}
}

func (p *Processor) reapLoop(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		case <-ticker.C:
			n, err := p.queue.Reap(ctx)
			if err != nil {
				p.log.Error().Err(err).Msg("lease reap failed")
				continue
			}
			if n > 0 {
				p.log.Warn().Int("entries", n).Msg("redelivered entries with expired leases")
			}
		}
	}
}

// process runs one entry through pending→processing→{completed|failed}.
// Terminal store writes are fenced on lease ownership so a redelivered
// duplicate cannot be raced by a stale pipeline.
func (p *Processor) process(ctx context.Context, e *queue.Entry) {
	metrics.WorkersBusy.Inc()
	defer metrics.WorkersBusy.Dec()

	log := p.log.With().
		Str("task_id", e.TaskID).
		Str("entry_id", e.ID).
		Int("attempt", e.Attempt).
		Logger()
	log.Info().Str("url", e.URL).Msg("processing task")

	// An entry whose task record is gone is a ghost: log and drop, never
	// retry it.
	if _, err := p.store.Get(ctx, e.TaskID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Warn().Msg("dropping entry for deleted task")
			p.discard(ctx, e, "task record no longer exists", log)
			return
		}
		p.nack(ctx, e, "store read failed: "+err.Error(), log)
		return
	}

	processing := task.StatusProcessing
	if err := p.store.Update(ctx, e.TaskID, store.Update{Status: &processing}); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Warn().Msg("dropping entry for deleted task")
			p.discard(ctx, e, "task record no longer exists", log)
			return
		}
		p.nack(ctx, e, "store write failed: "+err.Error(), log)
		return
	}

	extractStart := time.Now()
	ext, err := p.extractor.Extract(ctx, e.URL)
	metrics.RecordExtraction(time.Since(extractStart))
	if err != nil {
		log.Error().Err(err).Msg("extraction failed")
		metrics.RecordTaskFailed("extraction")
		// The user-visible status must reflect this attempt before the
		// queue decides about redelivery.
		p.writeFailure(ctx, e, err.Error(), log)
		p.nack(ctx, e, err.Error(), log)
		return
	}
	log.Info().Int("chars", len(ext.Content)).Str("title", ext.Title).Msg("page extracted")

	generateStart := time.Now()
	gen, err := p.generator.Generate(ctx, e.Question, ext.Content, ext.Title, ext.URL)
	if err != nil {
		log.Error().Err(err).Msg("generation failed")
		metrics.RecordTaskFailed("generation")
		p.writeFailure(ctx, e, err.Error(), log)

		var genErr *answer.Error
		if errors.As(err, &genErr) && genErr.Kind == answer.KindAuth {
			// A bad credential will not heal with retries; page the
			// operators instead of burning attempts.
			if alertErr := p.alerts.Send("siteqa: inference credential rejected", err.Error()); alertErr != nil {
				log.Error().Err(alertErr).Msg("failed to send operator alert")
			}
			p.discard(ctx, e, err.Error(), log)
			return
		}
		p.nack(ctx, e, err.Error(), log)
		return
	}
	metrics.RecordGeneration(time.Since(generateStart), gen.TokensUsed)

	owns, err := p.queue.Owns(ctx, e)
	if err != nil {
		log.Error().Err(err).Msg("lease check failed")
		return
	}
	if !owns {
		log.Warn().Msg("lease lost, discarding pipeline result")
		return
	}

	completed := task.StatusCompleted
	update := store.Update{
		Status: &completed,
		Answer: &gen.Answer,
		Extraction: &task.Extraction{
			Title:      ext.Title,
			Content:    ext.Content,
			URL:        ext.URL,
			Timestamp:  ext.Timestamp,
			Model:      gen.Model,
			TokensUsed: gen.TokensUsed,
		},
		ClearError: true,
	}
	if err := p.store.Update(ctx, e.TaskID, update); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Deleted mid-flight: a logged no-op, not a failure.
			log.Warn().Msg("task deleted while processing, dropping result")
			p.discard(ctx, e, "task record no longer exists", log)
			return
		}
		p.nack(ctx, e, "store write failed: "+err.Error(), log)
		return
	}

	if err := p.queue.Ack(ctx, e); err != nil {
		if errors.Is(err, queue.ErrLeaseLost) {
			log.Warn().Msg("lease lost after completion write")
			return
		}
		log.Error().Err(err).Msg("ack failed")
		return
	}

	metrics.TasksCompleted.Inc()
	log.Info().Int("tokens_used", gen.TokensUsed).Msg("task completed")
}

// writeFailure records the failure on the task unless the lease was
// already taken over by a redelivered duplicate.
func (p *Processor) writeFailure(ctx context.Context, e *queue.Entry, message string, log zerolog.Logger) {
	owns, err := p.queue.Owns(ctx, e)
	if err != nil {
		log.Error().Err(err).Msg("lease check failed")
		return
	}
	if !owns {
		log.Warn().Msg("lease lost, skipping failure write")
		return
	}

	failed := task.StatusFailed
	update := store.Update{
		Status:          &failed,
		Error:           &message,
		ClearAnswer:     true,
		ClearExtraction: true,
	}
	if err := p.store.Update(ctx, e.TaskID, update); err != nil && !errors.Is(err, store.ErrNotFound) {
		log.Error().Err(err).Msg("failed to record task failure")
	}
}

func (p *Processor) nack(ctx context.Context, e *queue.Entry, reason string, log zerolog.Logger) {
	retrying, err := p.queue.Nack(ctx, e, reason)
	if err != nil {
		if errors.Is(err, queue.ErrLeaseLost) {
			log.Warn().Msg("lease lost before nack")
			return
		}
		log.Error().Err(err).Msg("nack failed")
		return
	}
	if retrying {
		metrics.TasksRetried.Inc()
		log.Info().Msg("entry scheduled for retry")
	} else {
		log.Error().Msg("entry permanently failed, attempts exhausted")
	}
}

func (p *Processor) discard(ctx context.Context, e *queue.Entry, reason string, log zerolog.Logger) {
	if err := p.queue.Discard(ctx, e, reason); err != nil && !errors.Is(err, queue.ErrLeaseLost) {
		log.Error().Err(err).Msg("discard failed")
	}
}
