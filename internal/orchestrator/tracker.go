package orchestrator

import (
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/gazette-ingest/internal/gazette"
)

// tracker owns the ledger. Every mutation and the save that follows it run
// under one mutex, so two outcomes never interleave in the file.
type tracker struct {
	mu         sync.Mutex
	ledger     *Ledger
	store      *Store
	clock      gazette.Clock
	maxRetries int
	logger     *zap.Logger
}

func (t *tracker) worker(id string) *WorkerProgress {
	w, ok := t.ledger.Workers[id]
	if !ok {
		w = &WorkerProgress{WorkerID: id, Status: WorkerIdle}
		t.ledger.Workers[id] = w
	}
	return w
}

func (t *tracker) entry(d gazette.Date) *DateStatus {
	s, ok := t.ledger.Dates[d.String()]
	if !ok {
		s = &DateStatus{Date: d}
		t.ledger.Dates[d.String()] = s
	}
	return s
}

// setWorker records a worker state change.
func (t *tracker) setWorker(id string, status WorkerStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	w := t.worker(id)
	w.Status = status
	if status != WorkerWorking {
		w.CurrentDate = ""
	}
	t.persistLocked()
}

// start marks d as taken by worker id.
func (t *tracker) start(id string, d gazette.Date) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clock.Now()
	s := t.entry(d)
	s.WorkerID = id
	s.StartTime = &now
	s.EndTime = nil
	w := t.worker(id)
	w.Status = WorkerWorking
	w.CurrentDate = d.String()
	t.persistLocked()
}

// succeed marks d processed and clears any earlier error.
func (t *tracker) succeed(id string, d gazette.Date, records int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clock.Now()
	s := t.entry(d)
	s.Processed = true
	s.Error = ""
	s.RecordsFound = records
	s.EndTime = &now
	w := t.worker(id)
	w.DatesProcessed++
	w.TotalRecords += records
	w.CurrentDate = ""
	t.persistLocked()
}

// timeout records a timed-out attempt and reports whether d may be retried.
func (t *tracker) timeout(id string, d gazette.Date) (retry bool, attempts int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clock.Now()
	s := t.entry(d)
	s.Processed = false
	s.Error = TimeoutError
	s.RetryCount++
	s.EndTime = &now
	t.worker(id).CurrentDate = ""
	t.persistLocked()
	return s.RetryCount < t.maxRetries, s.RetryCount
}

// fail records a non-retryable scraping error for d.
func (t *tracker) fail(id string, d gazette.Date, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.clock.Now()
	s := t.entry(d)
	s.Processed = false
	s.Error = err.Error()
	s.EndTime = &now
	t.worker(id).CurrentDate = ""
	t.persistLocked()
}

// release returns d to the unstarted state after an interrupted attempt.
func (t *tracker) release(id string, d gazette.Date) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.entry(d)
	s.WorkerID = ""
	s.StartTime = nil
	t.worker(id).CurrentDate = ""
	t.persistLocked()
}

func (t *tracker) persist() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.saveLocked()
}

func (t *tracker) persistLocked() {
	if err := t.saveLocked(); err != nil {
		t.logger.Error("ledger save failed", zap.String("path", t.store.Path()), zap.Error(err))
	}
}

func (t *tracker) saveLocked() error {
	t.ledger.Metadata.LastUpdated = t.clock.Now()
	t.ledger.Recount()
	return t.store.Save(t.ledger)
}

func (t *tracker) snapshot() *Ledger {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ledger.Clone()
}
