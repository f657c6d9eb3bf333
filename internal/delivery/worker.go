package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"strconv"
	"time"

	"github.com/avast/retry-go/v4"
	"go.uber.org/zap"

	"github.com/JakeFAU/gazette-ingest/internal/gazette"
	"github.com/JakeFAU/gazette-ingest/internal/metrics"
	"github.com/JakeFAU/gazette-ingest/internal/queue"
)

// ArchivePrefix is the blob path prefix for dead-lettered payloads.
const ArchivePrefix = "dead-letters"

// Config controls Worker behavior.
type Config struct {
	WorkerID     string
	MaxRetries   int
	ClaimTimeout time.Duration
	// IdleBackoff is the pause after a queue error before polling again.
	IdleBackoff time.Duration
	Backoff     Backoff
}

// Outcome describes how one claimed item was resolved.
type Outcome struct {
	FileName   string
	Status     gazette.ItemStatus
	RetryCount int
	Err        error
}

// Worker is the single sequential consumer of the delivery queue.
type Worker struct {
	queue     queue.Queue
	deliverer Deliverer
	failures  FailureMirror
	mirror    FailureMirror
	archive   gazette.BlobStore
	alerts    gazette.AlertSink
	clock     gazette.Clock
	ids       gazette.IDGenerator
	cfg       Config
	logger    *zap.Logger
}

// NewWorker wires a Worker. mirror, archive and alerts are optional.
func NewWorker(
	q queue.Queue,
	deliverer Deliverer,
	failures FailureMirror,
	mirror FailureMirror,
	archive gazette.BlobStore,
	alerts gazette.AlertSink,
	clock gazette.Clock,
	ids gazette.IDGenerator,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.ClaimTimeout <= 0 {
		cfg.ClaimTimeout = 5 * time.Second
	}
	if cfg.IdleBackoff <= 0 {
		cfg.IdleBackoff = time.Second
	}
	if cfg.Backoff.Base == 0 {
		cfg.Backoff = DefaultBackoff()
	}
	return &Worker{
		queue:     q,
		deliverer: deliverer,
		failures:  failures,
		mirror:    mirror,
		archive:   archive,
		alerts:    alerts,
		clock:     clock,
		ids:       ids,
		cfg:       cfg,
		logger:    logger.With(zap.String("worker_id", cfg.WorkerID)),
	}
}

// Run recovers items left in processing by a previous run, then consumes
// the queue until ctx is canceled. A single item never stops the loop.
func (w *Worker) Run(ctx context.Context) error {
	moved, err := w.queue.RecoverProcessing(ctx)
	if err != nil {
		return fmt.Errorf("recover processing items: %w", err)
	}
	w.logger.Info("delivery worker started", zap.Int("recovered", moved))

	for {
		if ctx.Err() != nil {
			w.logger.Info("delivery worker stopping")
			return nil
		}
		w.reportDepths(ctx)

		outcome, ok, err := w.ProcessNext(ctx)
		switch {
		case err != nil && ctx.Err() != nil:
			w.logger.Info("delivery worker stopping", zap.String("in_flight", outcome.FileName))
			return nil
		case errors.Is(err, queue.ErrCorruptItem):
			w.logger.Warn("dropped corrupt queue entry", zap.Error(err))
		case err != nil:
			w.logger.Error("queue operation failed", zap.Error(err))
			if sleepErr := w.clock.Sleep(ctx, w.cfg.IdleBackoff); sleepErr != nil {
				return nil
			}
		case ok:
			w.logger.Debug("item resolved",
				zap.String("file", outcome.FileName),
				zap.String("status", string(outcome.Status)),
				zap.Int("retry_count", outcome.RetryCount),
			)
		}
	}
}

// ProcessNext claims and resolves at most one item. ok is false when the
// claim timed out with nothing to do.
func (w *Worker) ProcessNext(ctx context.Context) (Outcome, bool, error) {
	lease, ok, err := w.queue.Claim(ctx, w.cfg.ClaimTimeout)
	if err != nil || !ok {
		return Outcome{}, false, err
	}
	outcome, err := w.process(ctx, lease)
	return outcome, true, err
}

func (w *Worker) process(ctx context.Context, lease queue.Lease) (Outcome, error) {
	start := w.clock.Now()
	item := lease.Item

	data, err := os.ReadFile(item.FilePath)
	if err != nil {
		verr := fmt.Errorf("%w: read source file: %w", gazette.ErrValidation, err)
		return w.deadLetter(ctx, lease, item, nil, "", verr, start)
	}
	rec, err := gazette.DecodeRecord(data)
	if err != nil {
		return w.deadLetter(ctx, lease, item, data, "", fmt.Errorf("%w: %w", gazette.ErrValidation, err), start)
	}
	payload, err := Normalize(rec, w.logger)
	if err != nil {
		return w.deadLetter(ctx, lease, item, data, rec.RecordID, err, start)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return w.deadLetter(ctx, lease, item, data, rec.RecordID, fmt.Errorf("%w: encode payload: %w", gazette.ErrValidation, err), start)
	}

	deliverErr := w.deliverer.Deliver(ctx, item, body)
	switch {
	case IsDelivered(deliverErr):
		return w.delivered(ctx, lease, item, deliverErr)
	case gazette.IsRetryable(deliverErr) && item.RetryCount < w.cfg.MaxRetries:
		return w.requeue(ctx, lease, item, deliverErr)
	default:
		return w.deadLetter(ctx, lease, item, data, rec.RecordID, deliverErr, start)
	}
}

func (w *Worker) delivered(ctx context.Context, lease queue.Lease, item gazette.QueueItem, deliverErr error) (Outcome, error) {
	if err := w.queue.Ack(ctx, lease); err != nil {
		return Outcome{FileName: item.FileName, Status: gazette.StatusProcessing}, err
	}
	w.removeSource(item)
	outcome := "delivered"
	if deliverErr != nil {
		outcome = "duplicate"
	}
	metrics.ObserveDelivery(outcome, ClassNone)
	w.logger.Info("record delivered",
		zap.String("file", item.FileName),
		zap.Int("retry_count", item.RetryCount),
		zap.Bool("duplicate", deliverErr != nil),
	)
	return Outcome{FileName: item.FileName, Status: gazette.StatusDelivered, RetryCount: item.RetryCount}, nil
}

func (w *Worker) requeue(ctx context.Context, lease queue.Lease, item gazette.QueueItem, deliverErr error) (Outcome, error) {
	class := ClassOf(deliverErr)
	delay := w.cfg.Backoff.Delay(class, item.RetryCount)
	metrics.ObserveDelivery("requeued", class)
	metrics.ObserveBackoff(class, delay)
	w.logger.Warn("delivery failed, backing off",
		zap.String("file", item.FileName),
		zap.String("class", class),
		zap.Int("retry_count", item.RetryCount),
		zap.Duration("delay", delay),
		zap.Error(deliverErr),
	)

	// The lease stays in processing while sleeping; a crash here is undone
	// by RecoverProcessing on the next start.
	if err := w.clock.Sleep(ctx, delay); err != nil {
		return Outcome{FileName: item.FileName, Status: gazette.StatusProcessing, RetryCount: item.RetryCount, Err: deliverErr}, err
	}

	next := item
	next.RetryCount++
	next.LastError = deliverErr.Error()
	next.LastErrorCode = StatusCodeOf(deliverErr)
	if err := w.queue.Requeue(ctx, lease, next); err != nil {
		return Outcome{FileName: item.FileName, Status: gazette.StatusProcessing, RetryCount: item.RetryCount, Err: deliverErr}, err
	}
	return Outcome{FileName: item.FileName, Status: gazette.StatusPending, RetryCount: next.RetryCount, Err: deliverErr}, nil
}

func (w *Worker) deadLetter(
	ctx context.Context,
	lease queue.Lease,
	item gazette.QueueItem,
	data []byte,
	recordID string,
	cause error,
	start time.Time,
) (Outcome, error) {
	now := w.clock.Now()
	class := ClassOf(cause)
	code := StatusCodeOf(cause)

	archiveURI := w.archivePayload(ctx, item, data)

	id, err := w.ids.NewID()
	if err != nil {
		w.logger.Warn("failure id generation failed", zap.Error(err))
	}
	rec := gazette.FailureRecord{
		ID:                   id,
		FileName:             item.FileName,
		FilePath:             item.FilePath,
		RecordID:             recordID,
		WorkerID:             w.cfg.WorkerID,
		DetectedAt:           item.DetectedAt,
		FailedAt:             now,
		ProcessingDurationMS: now.Sub(start).Milliseconds(),
		RetryCount:           item.RetryCount,
		ErrorClass:           class,
		ErrorCode:            code,
		ErrorMessage:         cause.Error(),
		ArchiveURI:           archiveURI,
	}
	if !item.DetectedAt.IsZero() {
		rec.TotalDurationMS = now.Sub(item.DetectedAt).Milliseconds()
	}
	if err := w.failures.RecordFailure(ctx, rec); err != nil {
		w.logger.Error("failure log write failed", zap.String("file", item.FileName), zap.Error(err))
	}
	if w.mirror != nil {
		if err := w.mirror.RecordFailure(ctx, rec); err != nil {
			w.logger.Warn("failure mirror write failed", zap.String("file", item.FileName), zap.Error(err))
		}
	}

	dead := item
	dead.LastError = cause.Error()
	dead.LastErrorCode = code
	if err := w.queue.DeadLetter(ctx, lease, dead); err != nil {
		return Outcome{FileName: item.FileName, Status: gazette.StatusProcessing, RetryCount: item.RetryCount, Err: cause}, err
	}
	w.removeSource(item)
	metrics.ObserveDelivery("dead_lettered", class)

	w.logger.Error("record dead-lettered",
		zap.String("file", item.FileName),
		zap.String("class", class),
		zap.Int("code", code),
		zap.Int("retry_count", item.RetryCount),
		zap.Error(cause),
	)
	w.raiseAlert(ctx, rec)
	return Outcome{FileName: item.FileName, Status: gazette.StatusDeadLettered, RetryCount: item.RetryCount, Err: cause}, nil
}

func (w *Worker) archivePayload(ctx context.Context, item gazette.QueueItem, data []byte) string {
	if w.archive == nil || data == nil {
		return ""
	}
	var uri string
	err := retry.Do(
		func() error {
			var err error
			uri, err = w.archive.PutObject(ctx, ArchivePath(item.FileName), "application/json", data)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(100*time.Millisecond),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		w.logger.Warn("payload archive failed", zap.String("file", item.FileName), zap.Error(err))
		return ""
	}
	return uri
}

func (w *Worker) raiseAlert(ctx context.Context, rec gazette.FailureRecord) {
	if w.alerts == nil {
		return
	}
	alert := gazette.Alert{
		Severity:  gazette.SeverityCritical,
		Component: "delivery",
		Message:   "record dead-lettered",
		Fields: map[string]string{
			"file":        rec.FileName,
			"error_class": rec.ErrorClass,
			"error_code":  strconv.Itoa(rec.ErrorCode),
			"retry_count": strconv.Itoa(rec.RetryCount),
			"archive_uri": rec.ArchiveURI,
		},
		At: rec.FailedAt,
	}
	if err := w.alerts.Alert(ctx, alert); err != nil {
		w.logger.Warn("alert delivery failed", zap.Error(err))
	}
}

func (w *Worker) removeSource(item gazette.QueueItem) {
	if err := os.Remove(item.FilePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		w.logger.Warn("source file removal failed", zap.String("path", item.FilePath), zap.Error(err))
	}
}

func (w *Worker) reportDepths(ctx context.Context) {
	depths, err := w.queue.Depths(ctx)
	if err != nil {
		return
	}
	metrics.SetQueueDepth("pending", depths.Pending)
	metrics.SetQueueDepth("processing", depths.Processing)
	metrics.SetQueueDepth("dead", depths.DeadLetter)
}

// ArchivePath returns the blob path of a dead-lettered payload.
func ArchivePath(fileName string) string {
	return path.Join(ArchivePrefix, fileName)
}
