// Package queue defines the durable queue that sits between the record
// producer and the delivery worker.
//
// An item lives in exactly one of three sets at a time: pending, processing,
// or dead-lettered. Claiming moves an item atomically from pending to
// processing; every claim is later resolved by Ack, Requeue, or DeadLetter.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/JakeFAU/gazette-ingest/internal/gazette"
)

// ErrCorruptItem is returned by Claim when the claimed entry cannot be
// decoded. The entry has already been moved to the dead-letter set.
var ErrCorruptItem = errors.New("corrupt queue entry")

// Lease is a claimed item. Receipt identifies the exact entry held in the
// processing set and must be handed back when the claim is resolved.
type Lease struct {
	Item    gazette.QueueItem
	Receipt string
}

// Depths reports the size of each set.
type Depths struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	DeadLetter int64 `json:"deadLetter"`
}

// Queue is the durable item store shared by producers and delivery workers.
type Queue interface {
	// Enqueue appends item to the pending set.
	Enqueue(ctx context.Context, item gazette.QueueItem) error
	// Claim moves the oldest pending item to processing. It waits up to
	// timeout for one to arrive; ok is false when none did.
	Claim(ctx context.Context, timeout time.Duration) (lease Lease, ok bool, err error)
	// Ack drops a claimed item after a terminal success.
	Ack(ctx context.Context, lease Lease) error
	// Requeue replaces a claimed item with item in the pending set.
	Requeue(ctx context.Context, lease Lease, item gazette.QueueItem) error
	// DeadLetter replaces a claimed item with item in the dead-letter set.
	DeadLetter(ctx context.Context, lease Lease, item gazette.QueueItem) error
	// RecoverProcessing returns every processing entry to pending, ahead of
	// newer pending work. It runs once at worker start.
	RecoverProcessing(ctx context.Context) (int, error)
	// ReplayDeadLetters moves dead-lettered items for which accept returns
	// true back to pending with their retry count reset.
	ReplayDeadLetters(ctx context.Context, accept func(gazette.QueueItem) bool) (int, error)
	// Names returns the file names present in any of the three sets.
	Names(ctx context.Context) (map[string]struct{}, error)
	// Depths reports the size of each set.
	Depths(ctx context.Context) (Depths, error)
	Close() error
}

// Pending returns item prepared for the pending set.
func Pending(item gazette.QueueItem) gazette.QueueItem {
	item.Status = gazette.StatusPending
	return item
}

// Replayed returns a dead-lettered item reset for another delivery attempt.
func Replayed(item gazette.QueueItem) gazette.QueueItem {
	item.Status = gazette.StatusPending
	item.RetryCount = 0
	item.LastError = ""
	item.LastErrorCode = 0
	return item
}

// Dead returns item prepared for the dead-letter set.
func Dead(item gazette.QueueItem) gazette.QueueItem {
	item.Status = gazette.StatusDeadLettered
	return item
}
