// Package orchestrator spreads a date range over a pool of scraping workers
// and records progress in a crash-safe JSON ledger.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/gazette-ingest/internal/gazette"
	"github.com/JakeFAU/gazette-ingest/internal/metrics"
)

// Runner scrapes one date at a time.
type Runner interface {
	Run(ctx context.Context, date gazette.Date) (int, error)
	Close()
}

// SessionFactory builds the session owned by one worker.
type SessionFactory func(ctx context.Context, workerID string) (Runner, error)

// Config controls the orchestrator.
type Config struct {
	Workers      int
	DateTimeout  time.Duration
	MaxRetries   int
	PollInterval time.Duration
	// IdleTimeout is how long a worker waits on an empty date queue before
	// it finishes.
	IdleTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.DateTimeout <= 0 {
		c.DateTimeout = 300 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 30 * time.Second
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = time.Second
	}
}

// Orchestrator runs a date range to completion.
type Orchestrator struct {
	factory SessionFactory
	store   *Store
	alerts  gazette.AlertSink
	clock   gazette.Clock
	cfg     Config
	logger  *zap.Logger

	mu      sync.Mutex
	tracker *tracker
}

// New builds an Orchestrator. alerts may be nil.
func New(
	factory SessionFactory,
	store *Store,
	alerts gazette.AlertSink,
	clock gazette.Clock,
	cfg Config,
	logger *zap.Logger,
) (*Orchestrator, error) {
	if factory == nil {
		return nil, errors.New("session factory is required")
	}
	if store == nil {
		return nil, errors.New("ledger store is required")
	}
	if clock == nil {
		return nil, errors.New("clock is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.applyDefaults()
	return &Orchestrator{
		factory: factory,
		store:   store,
		alerts:  alerts,
		clock:   clock,
		cfg:     cfg,
		logger:  logger,
	}, nil
}

// Snapshot returns a copy of the current ledger, or nil before Run.
func (o *Orchestrator) Snapshot() *Ledger {
	o.mu.Lock()
	t := o.tracker
	o.mu.Unlock()
	if t == nil {
		if l, ok, err := o.store.Load(); err == nil && ok {
			return l
		}
		return nil
	}
	return t.snapshot()
}

// Run processes every pending date in [start, end]. It returns when all
// workers have finished or ctx is canceled; in both cases the ledger is
// saved before returning.
func (o *Orchestrator) Run(ctx context.Context, start, end gazette.Date) error {
	if end.Before(start) {
		return fmt.Errorf("end date %s is before start date %s", end, start)
	}
	ledger, ok, err := o.store.Load()
	if err != nil {
		return err
	}
	if ok {
		ledger.Extend(start, end)
		o.logger.Info("resuming from ledger", zap.String("path", o.store.Path()))
	} else {
		ledger = NewLedger(start, end, o.cfg.Workers)
	}
	ledger.Metadata.WorkerCount = o.cfg.Workers

	t := &tracker{
		ledger:     ledger,
		store:      o.store,
		clock:      o.clock,
		maxRetries: o.cfg.MaxRetries,
		logger:     o.logger,
	}
	o.mu.Lock()
	o.tracker = t
	o.mu.Unlock()

	pending := inRange(ledger.PendingDates(), start, end)
	if len(pending) == 0 {
		o.logger.Info("no pending dates", zap.String("start", start.String()), zap.String("end", end.String()))
		return t.persist()
	}
	if err := t.persist(); err != nil {
		return err
	}

	dates := make(chan gazette.Date, len(pending))
	for _, d := range pending {
		dates <- d
	}
	o.logger.Info("orchestration started",
		zap.Int("pending_dates", len(pending)),
		zap.Int("workers", o.cfg.Workers),
	)

	workCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	for i := 1; i <= o.cfg.Workers; i++ {
		id := "worker-" + strconv.Itoa(i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.runWorker(workCtx, t, id, dates)
		}()
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	ticker := time.NewTicker(o.cfg.PollInterval)
	defer ticker.Stop()
loop:
	for {
		select {
		case <-ticker.C:
			o.logProgress(t, len(dates))
		case <-done:
			break loop
		case <-ctx.Done():
			o.logger.Info("shutdown requested, stopping workers")
			break loop
		}
	}

	cancel()
	<-done
	o.logProgress(t, len(dates))
	if err := t.persist(); err != nil {
		return fmt.Errorf("final ledger save: %w", err)
	}
	return nil
}

func (o *Orchestrator) runWorker(ctx context.Context, t *tracker, id string, dates chan gazette.Date) {
	logger := o.logger.With(zap.String("worker_id", id))
	session, err := o.factory(ctx, id)
	if err != nil {
		logger.Error("session start failed", zap.Error(err))
		t.setWorker(id, WorkerError)
		o.raiseAlert(ctx, id, gazette.Date{}, "session start failed", err)
		return
	}
	defer session.Close()

	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()
	t.setWorker(id, WorkerIdle)

	for {
		var date gazette.Date
		select {
		case <-ctx.Done():
			t.setWorker(id, WorkerIdle)
			return
		case date = <-dates:
		case <-time.After(o.cfg.IdleTimeout):
			t.setWorker(id, WorkerCompleted)
			logger.Info("worker finished")
			return
		}

		if !o.processDate(ctx, t, session, id, date, dates, logger) {
			return
		}
	}
}

// processDate runs one date and reports whether the worker may continue.
func (o *Orchestrator) processDate(
	ctx context.Context,
	t *tracker,
	session Runner,
	id string,
	date gazette.Date,
	dates chan<- gazette.Date,
	logger *zap.Logger,
) bool {
	t.start(id, date)
	logger = logger.With(zap.String("date", date.String()))

	dateCtx, cancel := context.WithTimeout(ctx, o.cfg.DateTimeout)
	records, err := session.Run(dateCtx, date)
	timedOut := errors.Is(dateCtx.Err(), context.DeadlineExceeded)
	cancel()

	switch {
	case err == nil:
		t.succeed(id, date, records)
		metrics.ObserveDate("processed")
		logger.Info("date processed", zap.Int("records", records))
		return true

	case ctx.Err() != nil:
		t.release(id, date)
		t.setWorker(id, WorkerIdle)
		logger.Info("date interrupted by shutdown")
		return false

	case timedOut:
		derr := dateFailure(err, true, o.cfg.DateTimeout)
		retry, attempts := t.timeout(id, date)
		metrics.ObserveDate("timeout")
		logger.Warn("date timed out", zap.Int("attempts", attempts), zap.Bool("requeued", retry), zap.Error(derr))
		if retry {
			dates <- date
		} else {
			o.raiseAlert(ctx, id, date, "date abandoned after repeated timeouts", derr)
		}
		return true

	case errors.Is(err, gazette.ErrSessionFatal):
		t.release(id, date)
		t.setWorker(id, WorkerError)
		dates <- date
		metrics.ObserveDate("worker_failed")
		logger.Error("session failed, worker stopping", zap.Error(err))
		o.raiseAlert(ctx, id, date, "scraping session failed", err)
		return false

	default:
		derr := dateFailure(err, false, o.cfg.DateTimeout)
		t.fail(id, date, err)
		metrics.ObserveDate("failed")
		logger.Error("date dropped", zap.Error(derr))
		o.raiseAlert(ctx, id, date, "date dropped after processing error", derr)
		return true
	}
}

// dateFailure classifies a failed date. Timeouts wrap gazette.ErrDateTimeout
// and are retried up to the cap; anything else wraps
// gazette.ErrDateProcessing and is not retried within the run.
func dateFailure(err error, timedOut bool, budget time.Duration) error {
	if timedOut {
		return fmt.Errorf("%w after %s: %w", gazette.ErrDateTimeout, budget, err)
	}
	return fmt.Errorf("%w: %w", gazette.ErrDateProcessing, err)
}

func (o *Orchestrator) logProgress(t *tracker, queued int) {
	snap := t.snapshot()
	working := 0
	for _, w := range snap.Workers {
		if w.Status == WorkerWorking {
			working++
		}
	}
	o.logger.Info("orchestration progress",
		zap.Int("processed_dates", snap.Metadata.ProcessedDates),
		zap.Int("total_dates", snap.Metadata.TotalDates),
		zap.Int("total_records", snap.Metadata.TotalRecords),
		zap.Int("queued_dates", queued),
		zap.Int("working", working),
	)
}

func (o *Orchestrator) raiseAlert(ctx context.Context, workerID string, date gazette.Date, msg string, err error) {
	if o.alerts == nil {
		return
	}
	fields := map[string]string{"worker_id": workerID, "error": err.Error()}
	if !date.IsZero() {
		fields["date"] = date.String()
	}
	alert := gazette.Alert{
		Severity:  gazette.SeverityWarning,
		Component: "orchestrator",
		Message:   msg,
		Fields:    fields,
		At:        o.clock.Now(),
	}
	// The run context may already be canceled; the alert should still go out.
	if aerr := o.alerts.Alert(context.WithoutCancel(ctx), alert); aerr != nil {
		o.logger.Warn("alert delivery failed", zap.Error(aerr))
	}
}

func inRange(dates []gazette.Date, start, end gazette.Date) []gazette.Date {
	out := dates[:0]
	for _, d := range dates {
		if !d.Before(start) && !d.After(end) {
			out = append(out, d)
		}
	}
	return out
}
