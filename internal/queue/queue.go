// Package queue implements the Redis-backed work distribution channel
// between task submission and the worker pool. Delivery is at-least-once:
// a dequeued entry is leased to one worker and redelivered only if the
// lease expires before it is acknowledged.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyEntries    = "siteqa:entries"
	keyScheduled  = "siteqa:scheduled"
	keyProcessing = "siteqa:processing"
	keyCompleted  = "siteqa:completed"
	keyFailed     = "siteqa:failed"

	// How many ready candidates a single Dequeue inspects before giving up.
	claimBatch = 8
)

var (
	// ErrLeaseLost means another worker took over the entry after this
	// worker's lease expired. The caller must not write terminal state.
	ErrLeaseLost = errors.New("queue: entry lease lost")

	ErrMalformedEntry = errors.New("queue: malformed entry payload")
)

type Options struct {
	MaxAttempts   int           // delivery attempts before an entry is terminally failed
	BackoffBase   time.Duration // first retry delay, doubled per attempt
	Lease         time.Duration // how long a worker may hold an entry unacknowledged
	KeepCompleted int           // terminal log retention
	KeepFailed    int
}

func defaultOptions() Options {
	return Options{
		MaxAttempts:   3,
		BackoffBase:   5 * time.Second,
		Lease:         2 * time.Minute,
		KeepCompleted: 100,
		KeepFailed:    50,
	}
}

type Queue struct {
	client *redis.Client
	opts   Options
}

func New(redisAddr string, opts *Options) (*Queue, error) {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	o := defaultOptions()
	if opts != nil {
		if opts.MaxAttempts > 0 {
			o.MaxAttempts = opts.MaxAttempts
		}
		if opts.BackoffBase > 0 {
			o.BackoffBase = opts.BackoffBase
		}
		if opts.Lease > 0 {
			o.Lease = opts.Lease
		}
		if opts.KeepCompleted > 0 {
			o.KeepCompleted = opts.KeepCompleted
		}
		if opts.KeepFailed > 0 {
			o.KeepFailed = opts.KeepFailed
		}
	}

	return &Queue{client: client, opts: o}, nil
}

// Enqueue durably appends an entry, ready for immediate delivery.
func (q *Queue) Enqueue(ctx context.Context, e *Entry) error {
	return q.schedule(ctx, e, time.Now())
}

func (q *Queue) schedule(ctx context.Context, e *Entry, readyAt time.Time) error {
	entryJSON, err := e.ToJSON()
	if err != nil {
		return err
	}

	if err := q.client.HSet(ctx, keyEntries, e.ID, entryJSON).Err(); err != nil {
		return err
	}
	return q.client.ZAdd(ctx, keyScheduled, redis.Z{
		Score:  float64(readyAt.UnixMilli()),
		Member: e.ID,
	}).Err()
}

// Dequeue claims one ready entry and leases it to the caller. Returns
// (nil, nil) when nothing is ready. Malformed payloads are discarded to
// the failed log instead of being handed out.
func (q *Queue) Dequeue(ctx context.Context) (*Entry, error) {
	now := time.Now()
	ids, err := q.client.ZRangeByScore(ctx, keyScheduled, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: claimBatch,
	}).Result()
	if err != nil {
		return nil, err
	}

	for _, id := range ids {
		removed, err := q.client.ZRem(ctx, keyScheduled, id).Result()
		if err != nil {
			return nil, err
		}
		if removed == 0 {
			// Another worker claimed it first.
			continue
		}

		entryJSON, err := q.client.HGet(ctx, keyEntries, id).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, err
		}

		e, err := EntryFromJSON(entryJSON)
		if err != nil {
			q.discardRaw(ctx, id, "malformed entry: "+err.Error())
			continue
		}

		leaseExpiry := now.Add(q.opts.Lease)
		if err := q.client.ZAdd(ctx, keyProcessing, redis.Z{
			Score:  float64(leaseExpiry.UnixMilli()),
			Member: e.ID,
		}).Err(); err != nil {
			return nil, err
		}
		return e, nil
	}

	return nil, nil
}

// Ack marks an entry successfully consumed and records it in the bounded
// completed log. Fails with ErrLeaseLost if the lease was reaped.
func (q *Queue) Ack(ctx context.Context, e *Entry) error {
	removed, err := q.client.ZRem(ctx, keyProcessing, e.ID).Result()
	if err != nil {
		return err
	}
	if removed == 0 {
		return ErrLeaseLost
	}

	if err := q.client.HDel(ctx, keyEntries, e.ID).Err(); err != nil {
		return err
	}
	return q.pushTerminal(ctx, keyCompleted, q.opts.KeepCompleted, TerminalRecord{
		Entry:      *e,
		Outcome:    "completed",
		FinishedAt: time.Now().UTC(),
	})
}

// Nack reports a failed handling attempt. The entry is rescheduled with
// exponential backoff until the attempt ceiling is reached, then moved to
// the bounded failed log. Returns true while a retry is still pending.
func (q *Queue) Nack(ctx context.Context, e *Entry, reason string) (bool, error) {
	removed, err := q.client.ZRem(ctx, keyProcessing, e.ID).Result()
	if err != nil {
		return false, err
	}
	if removed == 0 {
		return false, ErrLeaseLost
	}

	e.Attempt++
	if e.Attempt >= q.opts.MaxAttempts {
		if err := q.client.HDel(ctx, keyEntries, e.ID).Err(); err != nil {
			return false, err
		}
		err := q.pushTerminal(ctx, keyFailed, q.opts.KeepFailed, TerminalRecord{
			Entry:      *e,
			Outcome:    "failed",
			Reason:     reason,
			FinishedAt: time.Now().UTC(),
		})
		return false, err
	}

	delay := q.opts.BackoffBase << (e.Attempt - 1)
	return true, q.schedule(ctx, e, time.Now().Add(delay))
}

// Discard drops an entry without consuming a retry, for failures that no
// amount of redelivery can fix (e.g. a rejected credential).
func (q *Queue) Discard(ctx context.Context, e *Entry, reason string) error {
	removed, err := q.client.ZRem(ctx, keyProcessing, e.ID).Result()
	if err != nil {
		return err
	}
	if removed == 0 {
		return ErrLeaseLost
	}

	if err := q.client.HDel(ctx, keyEntries, e.ID).Err(); err != nil {
		return err
	}
	return q.pushTerminal(ctx, keyFailed, q.opts.KeepFailed, TerminalRecord{
		Entry:      *e,
		Outcome:    "failed",
		Reason:     reason,
		FinishedAt: time.Now().UTC(),
	})
}

// Owns reports whether the caller still holds the lease on an entry.
// Workers check this before writing terminal task state so that a
// redelivered duplicate cannot race a stale pipeline.
func (q *Queue) Owns(ctx context.Context, e *Entry) (bool, error) {
	err := q.client.ZScore(ctx, keyProcessing, e.ID).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Reap returns entries whose lease expired to the scheduled set so they
// can be redelivered. Called periodically by the worker pool.
func (q *Queue) Reap(ctx context.Context) (int, error) {
	now := time.Now()
	ids, err := q.client.ZRangeByScore(ctx, keyProcessing, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, err
	}

	reaped := 0
	for _, id := range ids {
		removed, err := q.client.ZRem(ctx, keyProcessing, id).Result()
		if err != nil {
			return reaped, err
		}
		if removed == 0 {
			continue
		}
		if err := q.client.ZAdd(ctx, keyScheduled, redis.Z{
			Score:  float64(now.UnixMilli()),
			Member: id,
		}).Err(); err != nil {
			return reaped, err
		}
		reaped++
	}
	return reaped, nil
}

type Stats struct {
	Scheduled  int64 `json:"scheduled"`
	Processing int64 `json:"processing"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
}

func (q *Queue) GetStats(ctx context.Context) (*Stats, error) {
	scheduled, err := q.client.ZCard(ctx, keyScheduled).Result()
	if err != nil {
		return nil, err
	}
	processing, err := q.client.ZCard(ctx, keyProcessing).Result()
	if err != nil {
		return nil, err
	}
	completed, err := q.client.LLen(ctx, keyCompleted).Result()
	if err != nil {
		return nil, err
	}
	failed, err := q.client.LLen(ctx, keyFailed).Result()
	if err != nil {
		return nil, err
	}

	return &Stats{
		Scheduled:  scheduled,
		Processing: processing,
		Completed:  completed,
		Failed:     failed,
	}, nil
}

// RecentCompleted returns the newest-first terminal log of acknowledged
// entries, bounded by the retention policy.
func (q *Queue) RecentCompleted(ctx context.Context, limit int64) ([]TerminalRecord, error) {
	return q.recentTerminal(ctx, keyCompleted, limit)
}

func (q *Queue) RecentFailed(ctx context.Context, limit int64) ([]TerminalRecord, error) {
	return q.recentTerminal(ctx, keyFailed, limit)
}

func (q *Queue) recentTerminal(ctx context.Context, key string, limit int64) ([]TerminalRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	raw, err := q.client.LRange(ctx, key, 0, limit-1).Result()
	if err != nil {
		return nil, err
	}

	records := make([]TerminalRecord, 0, len(raw))
	for _, item := range raw {
		var rec TerminalRecord
		if err := rec.unmarshal(item); err != nil {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

func (q *Queue) pushTerminal(ctx context.Context, key string, keep int, rec TerminalRecord) error {
	data, err := rec.marshal()
	if err != nil {
		return err
	}
	if err := q.client.LPush(ctx, key, data).Err(); err != nil {
		return err
	}
	return q.client.LTrim(ctx, key, 0, int64(keep-1)).Err()
}

// discardRaw removes an undecodable payload and leaves a trace in the
// failed log so the defect is observable.
func (q *Queue) discardRaw(ctx context.Context, id, reason string) {
	_ = q.client.HDel(ctx, keyEntries, id).Err()
	_ = q.pushTerminal(ctx, keyFailed, q.opts.KeepFailed, TerminalRecord{
		Entry:      Entry{ID: id},
		Outcome:    "failed",
		Reason:     reason,
		FinishedAt: time.Now().UTC(),
	})
}

func (q *Queue) Close() error {
	return q.client.Close()
}
