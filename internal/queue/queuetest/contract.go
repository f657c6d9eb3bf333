// Package queuetest holds behavior checks shared by every queue.Queue
// implementation.
package queuetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/gazette-ingest/internal/gazette"
	"github.com/JakeFAU/gazette-ingest/internal/queue"
)

// Factory returns an empty queue for one subtest.
type Factory func(t *testing.T) queue.Queue

// Item builds a pending queue item for name.
func Item(name string) gazette.QueueItem {
	return gazette.QueueItem{
		FilePath:   "/data/out/" + name,
		FileName:   name,
		DetectedAt: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
		Size:       128,
		Status:     gazette.StatusPending,
	}
}

// Run exercises the queue contract against implementations built by newQueue.
func Run(t *testing.T, newQueue Factory) {
	t.Helper()

	t.Run("ClaimIsFIFO", func(t *testing.T) {
		q := newQueue(t)
		ctx := context.Background()
		for _, name := range []string{"a.json", "b.json", "c.json"} {
			require.NoError(t, q.Enqueue(ctx, Item(name)))
		}
		for _, want := range []string{"a.json", "b.json", "c.json"} {
			lease, ok, err := q.Claim(ctx, 0)
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, want, lease.Item.FileName)
			require.Equal(t, gazette.StatusProcessing, lease.Item.Status)
			require.NoError(t, q.Ack(ctx, lease))
		}
		_, ok, err := q.Claim(ctx, 0)
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("ClaimWaitsForItem", func(t *testing.T) {
		q := newQueue(t)
		ctx := context.Background()
		_, ok, err := q.Claim(ctx, 50*time.Millisecond)
		require.NoError(t, err)
		require.False(t, ok)

		require.NoError(t, q.Enqueue(ctx, Item("late.json")))
		lease, ok, err := q.Claim(ctx, time.Second)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, "late.json", lease.Item.FileName)
	})

	t.Run("SingleSetMembership", func(t *testing.T) {
		q := newQueue(t)
		ctx := context.Background()
		require.NoError(t, q.Enqueue(ctx, Item("one.json")))
		requireDepths(t, q, 1, 0, 0)

		lease, ok, err := q.Claim(ctx, 0)
		require.NoError(t, err)
		require.True(t, ok)
		requireDepths(t, q, 0, 1, 0)

		item := lease.Item
		item.RetryCount++
		require.NoError(t, q.Requeue(ctx, lease, item))
		requireDepths(t, q, 1, 0, 0)

		lease, ok, err = q.Claim(ctx, 0)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, 1, lease.Item.RetryCount)

		item = lease.Item
		item.LastError = "boom"
		item.LastErrorCode = 500
		require.NoError(t, q.DeadLetter(ctx, lease, item))
		requireDepths(t, q, 0, 0, 1)
	})

	t.Run("RecoverProcessingRestoresOrder", func(t *testing.T) {
		q := newQueue(t)
		ctx := context.Background()
		for _, name := range []string{"a.json", "b.json", "c.json"} {
			require.NoError(t, q.Enqueue(ctx, Item(name)))
		}
		for range 2 {
			_, ok, err := q.Claim(ctx, 0)
			require.NoError(t, err)
			require.True(t, ok)
		}
		requireDepths(t, q, 1, 2, 0)

		moved, err := q.RecoverProcessing(ctx)
		require.NoError(t, err)
		require.Equal(t, 2, moved)
		requireDepths(t, q, 3, 0, 0)

		for _, want := range []string{"a.json", "b.json", "c.json"} {
			lease, ok, err := q.Claim(ctx, 0)
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, want, lease.Item.FileName)
		}
	})

	t.Run("NamesCoversAllSets", func(t *testing.T) {
		q := newQueue(t)
		ctx := context.Background()
		for _, name := range []string{"p.json", "w.json", "d.json"} {
			require.NoError(t, q.Enqueue(ctx, Item(name)))
		}
		_, _, err := q.Claim(ctx, 0)
		require.NoError(t, err)
		lease, _, err := q.Claim(ctx, 0)
		require.NoError(t, err)
		require.NoError(t, q.DeadLetter(ctx, lease, lease.Item))

		names, err := q.Names(ctx)
		require.NoError(t, err)
		require.Len(t, names, 3)
		for _, name := range []string{"p.json", "w.json", "d.json"} {
			require.Contains(t, names, name)
		}
	})

	t.Run("ReplayDeadLetters", func(t *testing.T) {
		q := newQueue(t)
		ctx := context.Background()
		for _, name := range []string{"keep.json", "skip.json"} {
			require.NoError(t, q.Enqueue(ctx, Item(name)))
			lease, ok, err := q.Claim(ctx, 0)
			require.NoError(t, err)
			require.True(t, ok)
			item := lease.Item
			item.RetryCount = 5
			item.LastError = "exhausted"
			require.NoError(t, q.DeadLetter(ctx, lease, item))
		}

		replayed, err := q.ReplayDeadLetters(ctx, func(item gazette.QueueItem) bool {
			require.Equal(t, gazette.StatusDeadLettered, item.Status)
			return item.FileName == "keep.json"
		})
		require.NoError(t, err)
		require.Equal(t, 1, replayed)
		requireDepths(t, q, 1, 0, 1)

		lease, ok, err := q.Claim(ctx, 0)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, "keep.json", lease.Item.FileName)
		require.Zero(t, lease.Item.RetryCount)
		require.Empty(t, lease.Item.LastError)
	})

	t.Run("ClaimHonorsContext", func(t *testing.T) {
		q := newQueue(t)
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, _, err := q.Claim(ctx, time.Second)
		require.ErrorIs(t, err, context.Canceled)
	})
}

func requireDepths(t *testing.T, q queue.Queue, pending, processing, dead int64) {
	t.Helper()
	got, err := q.Depths(context.Background())
	require.NoError(t, err)
	require.Equal(t, queue.Depths{Pending: pending, Processing: processing, DeadLetter: dead}, got)
}
