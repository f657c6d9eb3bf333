// Package redis implements queue.Queue on Redis lists.
//
// Three lists back the queue: <prefix>:pending, <prefix>:processing and
// <prefix>:dead. Producers push onto the left of pending and consumers move
// entries from its right end onto processing with LMOVE/BLMOVE, so a claim
// is a single atomic server-side step and several delivery processes can
// share one queue.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v4"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/gazette-ingest/internal/gazette"
	"github.com/JakeFAU/gazette-ingest/internal/queue"
)

// DefaultPrefix namespaces queue keys.
const DefaultPrefix = "gazette:queue"

// Options configures the Redis connection.
type Options struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	// ConnectAttempts bounds the startup ping retries.
	ConnectAttempts uint
}

// Queue is a Redis-backed queue.Queue.
type Queue struct {
	client     goredis.UniversalClient
	pending    string
	processing string
	dead       string
	logger     *zap.Logger
}

var _ queue.Queue = (*Queue)(nil)

// New connects to Redis and verifies the connection with a retried PING.
func New(ctx context.Context, opts Options, logger *zap.Logger) (*Queue, error) {
	if opts.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	if opts.ConnectAttempts == 0 {
		opts.ConnectAttempts = 5
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	q := NewWithClient(client, opts.Prefix, logger)

	err := retry.Do(
		func() error { return client.Ping(ctx).Err() },
		retry.Context(ctx),
		retry.Attempts(opts.ConnectAttempts),
		retry.Delay(200*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			q.logger.Warn("redis ping failed", zap.Uint("attempt", n+1), zap.Error(err))
		}),
	)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", opts.Addr, err)
	}
	return q, nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client goredis.UniversalClient, prefix string, logger *zap.Logger) *Queue {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{
		client:     client,
		pending:    prefix + ":pending",
		processing: prefix + ":processing",
		dead:       prefix + ":dead",
		logger:     logger,
	}
}

// Enqueue pushes item onto the pending list.
func (q *Queue) Enqueue(ctx context.Context, item gazette.QueueItem) error {
	raw, err := gazette.EncodeQueueItem(queue.Pending(item))
	if err != nil {
		return err
	}
	if err := q.client.LPush(ctx, q.pending, raw).Err(); err != nil {
		return fmt.Errorf("enqueue %s: %w", item.FileName, err)
	}
	return nil
}

// Claim moves the oldest pending entry to processing. Redis accepts whole
// seconds for blocking moves, so timeouts below one second wait one second.
func (q *Queue) Claim(ctx context.Context, timeout time.Duration) (queue.Lease, bool, error) {
	if err := ctx.Err(); err != nil {
		return queue.Lease{}, false, fmt.Errorf("claim canceled: %w", err)
	}
	var cmd *goredis.StringCmd
	if timeout > 0 {
		cmd = q.client.BLMove(ctx, q.pending, q.processing, "RIGHT", "LEFT", timeout)
	} else {
		cmd = q.client.LMove(ctx, q.pending, q.processing, "RIGHT", "LEFT")
	}
	raw, err := cmd.Result()
	if errors.Is(err, goredis.Nil) {
		return queue.Lease{}, false, nil
	}
	if err != nil {
		return queue.Lease{}, false, fmt.Errorf("claim: %w", err)
	}

	item, err := gazette.DecodeQueueItem([]byte(raw))
	if err != nil {
		if moveErr := q.swap(ctx, raw, q.dead, []byte(raw)); moveErr != nil {
			q.logger.Error("failed to dead-letter corrupt entry", zap.Error(moveErr))
		}
		return queue.Lease{}, false, fmt.Errorf("%w: %w", queue.ErrCorruptItem, err)
	}
	item.Status = gazette.StatusProcessing
	return queue.Lease{Item: item, Receipt: raw}, true, nil
}

// Ack removes the claimed entry from processing.
func (q *Queue) Ack(ctx context.Context, lease queue.Lease) error {
	if err := q.client.LRem(ctx, q.processing, 1, lease.Receipt).Err(); err != nil {
		return fmt.Errorf("ack %s: %w", lease.Item.FileName, err)
	}
	return nil
}

// Requeue replaces the claimed entry with item on pending.
func (q *Queue) Requeue(ctx context.Context, lease queue.Lease, item gazette.QueueItem) error {
	raw, err := gazette.EncodeQueueItem(queue.Pending(item))
	if err != nil {
		return err
	}
	if err := q.swap(ctx, lease.Receipt, q.pending, raw); err != nil {
		return fmt.Errorf("requeue %s: %w", item.FileName, err)
	}
	return nil
}

// DeadLetter replaces the claimed entry with item on the dead-letter list.
func (q *Queue) DeadLetter(ctx context.Context, lease queue.Lease, item gazette.QueueItem) error {
	raw, err := gazette.EncodeQueueItem(queue.Dead(item))
	if err != nil {
		return err
	}
	if err := q.swap(ctx, lease.Receipt, q.dead, raw); err != nil {
		return fmt.Errorf("dead-letter %s: %w", item.FileName, err)
	}
	return nil
}

// swap removes receipt from processing and pushes raw onto dst in one
// MULTI/EXEC transaction.
func (q *Queue) swap(ctx context.Context, receipt, dst string, raw []byte) error {
	_, err := q.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.LRem(ctx, q.processing, 1, receipt)
		pipe.LPush(ctx, dst, raw)
		return nil
	})
	return err
}

// RecoverProcessing moves every processing entry back to the consuming end
// of pending, oldest claim first.
func (q *Queue) RecoverProcessing(ctx context.Context) (int, error) {
	moved := 0
	for {
		err := q.client.LMove(ctx, q.processing, q.pending, "LEFT", "RIGHT").Err()
		if errors.Is(err, goredis.Nil) {
			break
		}
		if err != nil {
			return moved, fmt.Errorf("recover processing: %w", err)
		}
		moved++
	}
	if moved > 0 {
		q.logger.Info("recovered in-flight items", zap.Int("count", moved))
	}
	return moved, nil
}

// ReplayDeadLetters moves accepted dead-lettered entries back to pending.
func (q *Queue) ReplayDeadLetters(ctx context.Context, accept func(gazette.QueueItem) bool) (int, error) {
	entries, err := q.client.LRange(ctx, q.dead, 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("list dead letters: %w", err)
	}
	replayed := 0
	for _, raw := range entries {
		item, err := gazette.DecodeQueueItem([]byte(raw))
		if err != nil {
			q.logger.Warn("skipping undecodable dead letter", zap.Error(err))
			continue
		}
		if !accept(item) {
			continue
		}
		data, err := gazette.EncodeQueueItem(queue.Replayed(item))
		if err != nil {
			return replayed, err
		}
		_, err = q.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.LRem(ctx, q.dead, 1, raw)
			pipe.LPush(ctx, q.pending, data)
			return nil
		})
		if err != nil {
			return replayed, fmt.Errorf("replay %s: %w", item.FileName, err)
		}
		replayed++
	}
	return replayed, nil
}

// Names returns the file names present in any list.
func (q *Queue) Names(ctx context.Context) (map[string]struct{}, error) {
	names := make(map[string]struct{})
	for _, key := range []string{q.pending, q.processing, q.dead} {
		entries, err := q.client.LRange(ctx, key, 0, -1).Result()
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", key, err)
		}
		for _, raw := range entries {
			item, err := gazette.DecodeQueueItem([]byte(raw))
			if err != nil {
				continue
			}
			names[item.FileName] = struct{}{}
		}
	}
	return names, nil
}

// Depths reports the length of each list.
func (q *Queue) Depths(ctx context.Context) (queue.Depths, error) {
	var pending, processing, dead *goredis.IntCmd
	_, err := q.client.Pipelined(ctx, func(pipe goredis.Pipeliner) error {
		pending = pipe.LLen(ctx, q.pending)
		processing = pipe.LLen(ctx, q.processing)
		dead = pipe.LLen(ctx, q.dead)
		return nil
	})
	if err != nil {
		return queue.Depths{}, fmt.Errorf("queue depths: %w", err)
	}
	return queue.Depths{
		Pending:    pending.Val(),
		Processing: processing.Val(),
		DeadLetter: dead.Val(),
	}, nil
}

// Close releases the client.
func (q *Queue) Close() error {
	if err := q.client.Close(); err != nil {
		return fmt.Errorf("close redis: %w", err)
	}
	return nil
}
