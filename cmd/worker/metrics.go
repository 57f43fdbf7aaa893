package main

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/nadmax/siteqa/internal/metrics"
	"github.com/nadmax/siteqa/internal/queue"
)

// collectQueueMetrics keeps the queue depth gauges current.
func collectQueueMetrics(ctx context.Context, q *queue.Queue, log zerolog.Logger) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats, err := q.GetStats(ctx)
			if err != nil {
				log.Error().Err(err).Msg("failed to read queue stats for metrics")
				continue
			}
			metrics.UpdateQueueDepth(stats.Scheduled, stats.Processing)
		}
	}
}
