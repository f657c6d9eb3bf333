package producer

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/gazette-ingest/internal/gazette"
	"github.com/JakeFAU/gazette-ingest/internal/queue/memory"
)

type fakeClock struct{}

func (fakeClock) Now() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC) }

func (fakeClock) Sleep(context.Context, time.Duration) error { return nil }

func recordJSON(t *testing.T, id string) []byte {
	t.Helper()
	data, err := json.Marshal(gazette.Record{
		RecordID:  id,
		Date:      "2025-01-02",
		Narrative: "Processo " + id,
		Parties:   []string{"A", "B"},
	})
	require.NoError(t, err)
	return data
}

func newTestProducer(t *testing.T) (*Producer, *memory.Queue, string) {
	t.Helper()
	dir := t.TempDir()
	q := memory.NewQueue()
	p, err := New(q, dir, fakeClock{}, nil)
	require.NoError(t, err)
	return p, q, dir
}

func TestEligible(t *testing.T) {
	t.Parallel()

	require.True(t, Eligible("2025-01-02_x.json"))
	require.False(t, Eligible("2025-01-02_x.json.tmp"))
	require.False(t, Eligible(".2025-01-02_x.json"))
	require.False(t, Eligible("notes.txt"))
}

func TestScanSkipsQueuedAndIncompleteFiles(t *testing.T) {
	t.Parallel()

	p, q, dir := newTestProducer(t)
	ctx := context.Background()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.json"), recordJSON(t, "a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.json"), recordJSON(t, "b"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "partial.json"), []byte(`{"record_id":"p"`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "c.json.tmp"), recordJSON(t, "c"), 0o644))

	// b.json was enqueued and dead-lettered by a previous run.
	prior := gazette.QueueItem{FilePath: filepath.Join(dir, "b.json"), FileName: "b.json", Status: gazette.StatusPending}
	require.NoError(t, q.Enqueue(ctx, prior))
	lease, _, err := q.Claim(ctx, 0)
	require.NoError(t, err)
	require.NoError(t, q.DeadLetter(ctx, lease, lease.Item))

	n, err := p.Scan(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	lease, ok, err := q.Claim(ctx, 0)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "a.json", lease.Item.FileName)
	require.Equal(t, fakeClock{}.Now(), lease.Item.DetectedAt)
	require.Positive(t, lease.Item.Size)

	// A second scan within the same run must not enqueue a.json again.
	n, err = p.Scan(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestConsiderRetriesIncompleteFile(t *testing.T) {
	t.Parallel()

	p, q, dir := newTestProducer(t)
	ctx := context.Background()
	path := filepath.Join(dir, "late.json")

	require.NoError(t, os.WriteFile(path, []byte(`{"record_id":`), 0o644))
	ok, err := p.Consider(ctx, path)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, os.WriteFile(path, recordJSON(t, "late"), 0o644))
	ok, err = p.Consider(ctx, path)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = p.Consider(ctx, path)
	require.NoError(t, err)
	require.False(t, ok)

	depths, err := q.Depths(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), depths.Pending)
}

func TestConsiderRequeuesRewrittenFileAfterDelivery(t *testing.T) {
	t.Parallel()

	p, q, dir := newTestProducer(t)
	ctx := context.Background()
	path := filepath.Join(dir, "2025-01-02_x.json")

	require.NoError(t, os.WriteFile(path, recordJSON(t, "x"), 0o644))
	ok, err := p.Consider(ctx, path)
	require.NoError(t, err)
	require.True(t, ok)

	lease, ok, err := q.Claim(ctx, 0)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, q.Ack(ctx, lease))
	require.NoError(t, os.Remove(path))

	// A retried date rewrites the same record file.
	require.NoError(t, os.WriteFile(path, recordJSON(t, "x"), 0o644))
	ok, err = p.Consider(ctx, path)
	require.NoError(t, err)
	require.True(t, ok)

	depths, err := q.Depths(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), depths.Pending)

	// While it is pending, further events for the file are ignored.
	ok, err = p.Consider(ctx, path)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRunEnqueuesRenamedFiles(t *testing.T) {
	t.Parallel()

	p, q, dir := newTestProducer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	select {
	case <-p.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not start")
	}

	tmp := filepath.Join(dir, "new.json.tmp")
	require.NoError(t, os.WriteFile(tmp, recordJSON(t, "new"), 0o644))
	require.NoError(t, os.Rename(tmp, filepath.Join(dir, "new.json")))

	require.Eventually(t, func() bool {
		names, err := q.Names(context.Background())
		return err == nil && len(names) == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, "dir", fakeClock{}, nil)
	require.Error(t, err)
	_, err = New(memory.NewQueue(), "", fakeClock{}, nil)
	require.Error(t, err)
}
