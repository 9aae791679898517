// Package dedup tracks submitted job names so re-scheduled fan-outs do not
// enqueue the same job twice.
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hsrmk/skystack/internal/logger"
)

// Tracker remembers submitted job names for a bounded window.
type Tracker struct {
	client *redis.Client
	ttl    time.Duration
	logger logger.Logger
}

// NewTracker creates a tracker. Entries expire after ttl, which should cover
// the longest scheduling horizon plus delivery slack.
func NewTracker(client *redis.Client, ttl time.Duration, log logger.Logger) *Tracker {
	return &Tracker{
		client: client,
		ttl:    ttl,
		logger: log,
	}
}

func (t *Tracker) key(jobName string) string {
	return fmt.Sprintf("scheduled:job:%s", jobName)
}

// Seen reports whether the job name was already submitted. Redis errors are
// logged and treated as not seen: a duplicate enqueue is recoverable, a
// silently dropped job is not.
func (t *Tracker) Seen(ctx context.Context, jobName string) bool {
	key := t.key(jobName)

	exists, err := t.client.Exists(ctx, key).Result()
	if err != nil {
		t.logger.Error("redis error checking job",
			logger.String("job_name", jobName),
			logger.Error(err),
		)
		return false
	}

	if exists == 1 {
		t.logger.Debug("job already submitted", logger.String("job_name", jobName))
		return true
	}
	return false
}

// Mark records a submitted job name.
func (t *Tracker) Mark(ctx context.Context, jobName string) error {
	key := t.key(jobName)

	if err := t.client.Set(ctx, key, "1", t.ttl).Err(); err != nil {
		t.logger.Error("redis error marking job",
			logger.String("job_name", jobName),
			logger.Error(err),
		)
		return err
	}
	return nil
}

// Clear forgets one job name, re-enabling submission.
func (t *Tracker) Clear(ctx context.Context, jobName string) error {
	if err := t.client.Del(ctx, t.key(jobName)).Err(); err != nil {
		t.logger.Error("redis error clearing job",
			logger.String("job_name", jobName),
			logger.Error(err),
		)
		return err
	}
	return nil
}

// FlushAll removes every tracked job name. Uses SCAN rather than FLUSHDB so
// unrelated keys in the same database survive.
func (t *Tracker) FlushAll(ctx context.Context) error {
	const scanBatchSize = 100

	pattern := "scheduled:job:*"
	var cursor uint64
	var deletedCount int

	for {
		keys, next, err := t.client.Scan(ctx, cursor, pattern, scanBatchSize).Result()
		if err != nil {
			return fmt.Errorf("scan keys: %w", err)
		}

		if len(keys) > 0 {
			deleted, delErr := t.client.Del(ctx, keys...).Result()
			if delErr != nil {
				return fmt.Errorf("delete keys: %w", delErr)
			}
			deletedCount += int(deleted)
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	t.logger.Info("flushed job dedup cache", logger.Int("keys_deleted", deletedCount))
	return nil
}
