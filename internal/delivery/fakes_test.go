package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/gazette-ingest/internal/gazette"
	"github.com/JakeFAU/gazette-ingest/internal/queue/memory"
)

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	c.sleeps = append(c.sleeps, d)
	return nil
}

func (c *fakeClock) slept() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

type fakeIDGen struct {
	mu sync.Mutex
	n  int
}

func (g *fakeIDGen) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("failure-%d", g.n), nil
}

// scriptedDeliverer answers with errs in order, then succeeds.
type scriptedDeliverer struct {
	mu       sync.Mutex
	clock    *fakeClock
	errs     []error
	attempts []time.Time
	bodies   [][]byte
}

func (d *scriptedDeliverer) Deliver(_ context.Context, _ gazette.QueueItem, body []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.attempts = append(d.attempts, d.clock.Now())
	d.bodies = append(d.bodies, body)
	if len(d.errs) == 0 {
		return nil
	}
	err := d.errs[0]
	if len(d.errs) > 1 {
		d.errs = d.errs[1:]
	} else if err != nil {
		// The last scripted error repeats forever.
		d.errs = []error{err}
	}
	return err
}

func (d *scriptedDeliverer) attemptTimes() []time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]time.Time(nil), d.attempts...)
}

type recordingMirror struct {
	mu      sync.Mutex
	records []gazette.FailureRecord
}

func (m *recordingMirror) RecordFailure(_ context.Context, rec gazette.FailureRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

type fakeArchive struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeArchive() *fakeArchive {
	return &fakeArchive{objects: make(map[string][]byte)}
}

func (a *fakeArchive) PutObject(_ context.Context, path, _ string, data []byte) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.objects[path] = append([]byte(nil), data...)
	return "mem://" + path, nil
}

func (a *fakeArchive) GetObject(_ context.Context, path string) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	data, ok := a.objects[path]
	if !ok {
		return nil, os.ErrNotExist
	}
	return data, nil
}

type recordingAlerts struct {
	mu     sync.Mutex
	alerts []gazette.Alert
}

func (r *recordingAlerts) Alert(_ context.Context, alert gazette.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, alert)
	return nil
}

func validRecord() gazette.Record {
	return gazette.Record{
		RecordID:  "0001234-56.2024.8.26.0100",
		Date:      "15/03/2024",
		Narrative: "Expeça-se precatório; valor R$ 1.234,56",
		Parties:   []string{"Fazenda do Estado", "Maria Silva"},
		Counsel:   []string{"João Souza OAB/SP 123"},
		Amount:    "R$ 1.234,56",
		Source:    gazette.RecordSource{VolumeID: "15", IssueID: "3840", NotebookID: "12", PageNumber: 2},
	}
}

type harness struct {
	dir       string
	queue     *memory.Queue
	clock     *fakeClock
	deliverer *scriptedDeliverer
	failures  *FailureLog
	mirror    *recordingMirror
	archive   *fakeArchive
	alerts    *recordingAlerts
	worker    *Worker
}

func newHarness(t *testing.T, errs ...error) *harness {
	t.Helper()
	dir := t.TempDir()
	failures, err := NewFailureLog(filepath.Join(dir, "failures"))
	require.NoError(t, err)
	clock := newFakeClock()
	h := &harness{
		dir:       dir,
		queue:     memory.NewQueue(),
		clock:     clock,
		deliverer: &scriptedDeliverer{clock: clock, errs: errs},
		failures:  failures,
		mirror:    &recordingMirror{},
		archive:   newFakeArchive(),
		alerts:    &recordingAlerts{},
	}
	h.worker = NewWorker(
		h.queue,
		h.deliverer,
		h.failures,
		h.mirror,
		h.archive,
		h.alerts,
		h.clock,
		&fakeIDGen{},
		Config{WorkerID: "delivery-test", MaxRetries: 5, ClaimTimeout: time.Millisecond},
		nil,
	)
	return h
}

func (h *harness) writeRecord(t *testing.T, name string, rec gazette.Record) gazette.QueueItem {
	t.Helper()
	data, err := json.Marshal(rec)
	require.NoError(t, err)
	path := filepath.Join(h.dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	item := gazette.QueueItem{
		FilePath:   path,
		FileName:   name,
		DetectedAt: h.clock.Now(),
		Size:       int64(len(data)),
		Status:     gazette.StatusPending,
	}
	require.NoError(t, h.queue.Enqueue(context.Background(), item))
	return item
}

// drain processes items until the queue is empty and returns the last outcome.
func (h *harness) drain(t *testing.T) Outcome {
	t.Helper()
	var last Outcome
	for range 50 {
		outcome, ok, err := h.worker.ProcessNext(context.Background())
		require.NoError(t, err)
		if !ok {
			return last
		}
		last = outcome
	}
	t.Fatal("queue did not drain")
	return last
}
