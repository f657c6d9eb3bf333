package delivery

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/gazette-ingest/internal/gazette"
	"github.com/JakeFAU/gazette-ingest/internal/queue"
)

func serverError() error {
	return &gazette.DeliveryError{Kind: gazette.ErrTransientDelivery, StatusCode: 503, Msg: "unavailable"}
}

func TestWorkerDeliversAndRemovesSource(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	item := h.writeRecord(t, "2024-03-15_a.json", validRecord())

	outcome := h.drain(t)
	require.Equal(t, gazette.StatusDelivered, outcome.Status)
	require.Zero(t, outcome.RetryCount)
	require.NoFileExists(t, item.FilePath)

	var payload Payload
	require.NoError(t, json.Unmarshal(h.deliverer.bodies[0], &payload))
	require.Equal(t, "2024-03-15T00:00:00Z", payload.Date)
	require.Equal(t, int64(123456), payload.AmountCents)
	require.NotContains(t, payload.Narrative, ";")

	depths, err := h.queue.Depths(context.Background())
	require.NoError(t, err)
	require.Equal(t, queue.Depths{}, depths)
}

func TestWorkerMissingPartiesDeadLettersWithoutRetry(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	rec := validRecord()
	rec.Parties = nil
	item := h.writeRecord(t, "2024-03-15_b.json", rec)

	outcome := h.drain(t)
	require.Equal(t, gazette.StatusDeadLettered, outcome.Status)
	require.Zero(t, outcome.RetryCount)
	require.ErrorIs(t, outcome.Err, gazette.ErrValidation)
	require.NoFileExists(t, item.FilePath)
	require.Empty(t, h.deliverer.attemptTimes())
	require.Empty(t, h.clock.slept())

	require.Len(t, h.mirror.records, 1)
	failure := h.mirror.records[0]
	require.Equal(t, ClassValidation, failure.ErrorClass)
	require.Equal(t, "mem://dead-letters/2024-03-15_b.json", failure.ArchiveURI)
	require.Len(t, h.alerts.alerts, 1)
	require.Equal(t, gazette.SeverityCritical, h.alerts.alerts[0].Severity)

	depths, err := h.queue.Depths(context.Background())
	require.NoError(t, err)
	require.Equal(t, queue.Depths{DeadLetter: 1}, depths)
}

func TestWorkerRetriesServerErrorThenDelivers(t *testing.T) {
	t.Parallel()

	h := newHarness(t, serverError(), nil)
	item := h.writeRecord(t, "2024-03-15_c.json", validRecord())

	first, ok, err := h.worker.ProcessNext(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, gazette.StatusPending, first.Status)
	require.FileExists(t, item.FilePath)

	outcome := h.drain(t)
	require.Equal(t, gazette.StatusDelivered, outcome.Status)
	require.Equal(t, 1, outcome.RetryCount)

	attempts := h.deliverer.attemptTimes()
	require.Len(t, attempts, 2)
	require.GreaterOrEqual(t, attempts[1].Sub(attempts[0]), 2*time.Second)
	require.NoFileExists(t, item.FilePath)
}

func TestWorkerExhaustsRetries(t *testing.T) {
	t.Parallel()

	h := newHarness(t, serverError())
	item := h.writeRecord(t, "2024-03-15_d.json", validRecord())

	outcome := h.drain(t)
	require.Equal(t, gazette.StatusDeadLettered, outcome.Status)
	require.Equal(t, 5, outcome.RetryCount)
	require.Len(t, h.deliverer.attemptTimes(), 6)
	require.Equal(t, []time.Duration{
		2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second, 32 * time.Second,
	}, h.clock.slept())
	require.NoFileExists(t, item.FilePath)

	require.Len(t, h.mirror.records, 1)
	require.Equal(t, 503, h.mirror.records[0].ErrorCode)
	require.Equal(t, ClassServer, h.mirror.records[0].ErrorClass)
	require.Equal(t, 5, h.mirror.records[0].RetryCount)
}

func TestWorkerRateLimitUsesLongerBackoff(t *testing.T) {
	t.Parallel()

	limited := &gazette.DeliveryError{Kind: gazette.ErrRateLimited, StatusCode: 429, Msg: "slow down"}
	h := newHarness(t, limited, nil)
	h.writeRecord(t, "2024-03-15_e.json", validRecord())

	outcome := h.drain(t)
	require.Equal(t, gazette.StatusDelivered, outcome.Status)
	require.Equal(t, []time.Duration{4 * time.Second}, h.clock.slept())
}

func TestWorkerTerminalResponses(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		err    error
		status gazette.ItemStatus
	}{
		{name: "duplicate", err: ClassifyStatus(409, "exists"), status: gazette.StatusDelivered},
		{name: "bad request", err: ClassifyStatus(400, "bad"), status: gazette.StatusDeadLettered},
		{name: "not found", err: ClassifyStatus(404, "gone"), status: gazette.StatusDeadLettered},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			h := newHarness(t, tt.err)
			item := h.writeRecord(t, "2024-03-15_f.json", validRecord())
			outcome := h.drain(t)
			require.Equal(t, tt.status, outcome.Status)
			require.Zero(t, outcome.RetryCount)
			require.Empty(t, h.clock.slept())
			require.NoFileExists(t, item.FilePath)
		})
	}
}

func TestWorkerWritesDailyFailureLog(t *testing.T) {
	t.Parallel()

	h := newHarness(t, ClassifyStatus(422, "unprocessable"))
	h.writeRecord(t, "2024-03-15_g.json", validRecord())
	h.drain(t)

	path := h.failures.PathFor(gazette.FailureRecord{FailedAt: h.clock.Now()})
	require.Contains(t, path, "2025-03-10.jsonl")
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	scanner := bufio.NewScanner(f)
	require.True(t, scanner.Scan())
	var rec gazette.FailureRecord
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
	require.Equal(t, "2024-03-15_g.json", rec.FileName)
	require.Equal(t, 422, rec.ErrorCode)
	require.Equal(t, ClassPermanent, rec.ErrorClass)
	require.Equal(t, "failure-1", rec.ID)
	require.Equal(t, "0001234-56.2024.8.26.0100", rec.RecordID)
	require.False(t, scanner.Scan())
}

func TestWorkerRunRecoversProcessingItems(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	item := h.writeRecord(t, "2024-03-15_h.json", validRecord())

	// Simulate a crash after the claim.
	_, ok, err := h.queue.Claim(context.Background(), 0)
	require.NoError(t, err)
	require.True(t, ok)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- h.worker.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, err := os.Stat(item.FilePath)
		return os.IsNotExist(err)
	}, 2*time.Second, 10*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	require.Len(t, h.deliverer.attemptTimes(), 1)
}

func TestWorkerCanceledBackoffLeavesItemInProcessing(t *testing.T) {
	t.Parallel()

	h := newHarness(t, serverError())
	h.writeRecord(t, "2024-03-15_i.json", validRecord())

	lease, ok, err := h.queue.Claim(context.Background(), 0)
	require.NoError(t, err)
	require.True(t, ok)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	outcome, err := h.worker.process(ctx, lease)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, gazette.StatusProcessing, outcome.Status)

	depths, err := h.queue.Depths(context.Background())
	require.NoError(t, err)
	require.Equal(t, queue.Depths{Processing: 1}, depths)
}

func TestReplayDeadLettersRestoresFromArchive(t *testing.T) {
	t.Parallel()

	h := newHarness(t, ClassifyStatus(404, "gone"))
	item := h.writeRecord(t, "2024-03-15_j.json", validRecord())
	h.drain(t)
	require.NoFileExists(t, item.FilePath)

	n, err := ReplayDeadLetters(context.Background(), h.queue, h.archive, nil)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.FileExists(t, item.FilePath)

	lease, ok, err := h.queue.Claim(context.Background(), 0)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, item.FileName, lease.Item.FileName)
	require.Zero(t, lease.Item.RetryCount)
}

func TestReplayDeadLettersKeepsUnrecoverable(t *testing.T) {
	t.Parallel()

	h := newHarness(t, ClassifyStatus(404, "gone"))
	h.writeRecord(t, "2024-03-15_k.json", validRecord())
	h.drain(t)

	n, err := ReplayDeadLetters(context.Background(), h.queue, nil, nil)
	require.NoError(t, err)
	require.Zero(t, n)
	depths, err := h.queue.Depths(context.Background())
	require.NoError(t, err)
	require.Equal(t, queue.Depths{DeadLetter: 1}, depths)
}
