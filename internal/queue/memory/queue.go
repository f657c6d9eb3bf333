// Package memory provides a queue.Queue for local development and tests.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/JakeFAU/gazette-ingest/internal/gazette"
	"github.com/JakeFAU/gazette-ingest/internal/queue"
)

// Queue keeps the three item sets in process memory. Entries are held in
// their wire form so leases behave the same way as the Redis implementation.
type Queue struct {
	mu         sync.Mutex
	pending    []string // oldest first
	processing []string // newest claim first
	dead       []string
	notify     chan struct{}
	closed     bool
}

// NewQueue constructs an empty queue.
func NewQueue() *Queue {
	return &Queue{notify: make(chan struct{}, 1)}
}

var _ queue.Queue = (*Queue)(nil)

// Enqueue appends item to the pending set.
func (q *Queue) Enqueue(ctx context.Context, item gazette.QueueItem) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("enqueue canceled: %w", err)
	}
	raw, err := gazette.EncodeQueueItem(queue.Pending(item))
	if err != nil {
		return err
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return fmt.Errorf("enqueue %s: queue closed", item.FileName)
	}
	q.pending = append(q.pending, string(raw))
	q.mu.Unlock()
	q.signal()
	return nil
}

// Claim moves the oldest pending entry to processing, waiting up to timeout.
func (q *Queue) Claim(ctx context.Context, timeout time.Duration) (queue.Lease, bool, error) {
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}
	for {
		if err := ctx.Err(); err != nil {
			return queue.Lease{}, false, fmt.Errorf("claim canceled: %w", err)
		}
		raw, ok, err := q.tryClaim()
		if err != nil {
			return queue.Lease{}, false, err
		}
		if ok {
			return decodeLease(q, raw)
		}
		if deadline == nil {
			return queue.Lease{}, false, nil
		}
		select {
		case <-ctx.Done():
			return queue.Lease{}, false, fmt.Errorf("claim canceled: %w", ctx.Err())
		case <-deadline:
			return queue.Lease{}, false, nil
		case <-q.notify:
		}
	}
}

func (q *Queue) tryClaim() (string, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return "", false, fmt.Errorf("claim: queue closed")
	}
	if len(q.pending) == 0 {
		return "", false, nil
	}
	raw := q.pending[0]
	q.pending = q.pending[1:]
	q.processing = append([]string{raw}, q.processing...)
	return raw, true, nil
}

func decodeLease(q *Queue, raw string) (queue.Lease, bool, error) {
	item, err := gazette.DecodeQueueItem([]byte(raw))
	if err != nil {
		q.mu.Lock()
		q.processing = remove(q.processing, raw)
		q.dead = append(q.dead, raw)
		q.mu.Unlock()
		return queue.Lease{}, false, fmt.Errorf("%w: %w", queue.ErrCorruptItem, err)
	}
	item.Status = gazette.StatusProcessing
	return queue.Lease{Item: item, Receipt: raw}, true, nil
}

// Ack drops a claimed entry.
func (q *Queue) Ack(_ context.Context, lease queue.Lease) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.processing = remove(q.processing, lease.Receipt)
	return nil
}

// Requeue swaps a claimed entry for item at the back of pending.
func (q *Queue) Requeue(_ context.Context, lease queue.Lease, item gazette.QueueItem) error {
	raw, err := gazette.EncodeQueueItem(queue.Pending(item))
	if err != nil {
		return err
	}
	q.mu.Lock()
	q.processing = remove(q.processing, lease.Receipt)
	q.pending = append(q.pending, string(raw))
	q.mu.Unlock()
	q.signal()
	return nil
}

// DeadLetter swaps a claimed entry for item in the dead-letter set.
func (q *Queue) DeadLetter(_ context.Context, lease queue.Lease, item gazette.QueueItem) error {
	raw, err := gazette.EncodeQueueItem(queue.Dead(item))
	if err != nil {
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.processing = remove(q.processing, lease.Receipt)
	q.dead = append(q.dead, string(raw))
	return nil
}

// RecoverProcessing puts every processing entry back at the head of pending.
func (q *Queue) RecoverProcessing(_ context.Context) (int, error) {
	q.mu.Lock()
	moved := len(q.processing)
	recovered := slices.Clone(q.processing)
	slices.Reverse(recovered)
	q.pending = append(recovered, q.pending...)
	q.processing = nil
	q.mu.Unlock()
	if moved > 0 {
		q.signal()
	}
	return moved, nil
}

// ReplayDeadLetters moves accepted dead-lettered items back to pending.
// accept runs without the lock held, since it may touch the file system.
func (q *Queue) ReplayDeadLetters(_ context.Context, accept func(gazette.QueueItem) bool) (int, error) {
	q.mu.Lock()
	snapshot := slices.Clone(q.dead)
	q.mu.Unlock()

	type replay struct{ raw, data string }
	var accepted []replay
	for _, raw := range snapshot {
		item, err := gazette.DecodeQueueItem([]byte(raw))
		if err != nil || !accept(item) {
			continue
		}
		data, err := gazette.EncodeQueueItem(queue.Replayed(item))
		if err != nil {
			return 0, err
		}
		accepted = append(accepted, replay{raw: raw, data: string(data)})
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	replayed := 0
	for _, r := range accepted {
		idx := slices.Index(q.dead, r.raw)
		if idx < 0 {
			continue
		}
		q.dead = slices.Delete(q.dead, idx, idx+1)
		q.pending = append(q.pending, r.data)
		replayed++
	}
	if replayed > 0 {
		q.signal()
	}
	return replayed, nil
}

// Names returns the file names present in any set.
func (q *Queue) Names(_ context.Context) (map[string]struct{}, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	names := make(map[string]struct{})
	for _, set := range [][]string{q.pending, q.processing, q.dead} {
		for _, raw := range set {
			item, err := gazette.DecodeQueueItem([]byte(raw))
			if err != nil {
				continue
			}
			names[item.FileName] = struct{}{}
		}
	}
	return names, nil
}

// Depths reports the size of each set.
func (q *Queue) Depths(_ context.Context) (queue.Depths, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return queue.Depths{
		Pending:    int64(len(q.pending)),
		Processing: int64(len(q.processing)),
		DeadLetter: int64(len(q.dead)),
	}, nil
}

// Close rejects further enqueues and claims.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	return nil
}

func (q *Queue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func remove(set []string, raw string) []string {
	if i := slices.Index(set, raw); i >= 0 {
		return slices.Delete(set, i, i+1)
	}
	return set
}
