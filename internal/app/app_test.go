package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/gazette-ingest/internal/config"
	"github.com/JakeFAU/gazette-ingest/internal/session"
	"github.com/JakeFAU/gazette-ingest/internal/stitch"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Server.Port = 0
	cfg.Queue.Backend = "memory"
	cfg.Archive.BaseDir = filepath.Join(dir, "archive")
	cfg.Session.OutputDir = filepath.Join(dir, "records")
	cfg.Orchestrator.LedgerPath = filepath.Join(dir, "progress.json")
	cfg.Delivery.FailureLogDir = filepath.Join(dir, "failures")
	cfg.Source.BaseURL = "https://gazette.example.com"
	return cfg
}

func TestNewBuildsLogAlerts(t *testing.T) {
	t.Parallel()
	a, err := New(context.Background(), testConfig(t), nil)
	require.NoError(t, err)
	t.Cleanup(a.Close)
	require.NotNil(t, a.Alerts())
	require.NotNil(t, a.Logger())
	require.NotNil(t, a.Clock())
}

func TestQueueIsOpenedOnce(t *testing.T) {
	t.Parallel()
	a, err := New(context.Background(), testConfig(t), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(a.Close)

	q1, err := a.Queue(context.Background())
	require.NoError(t, err)
	q2, err := a.Queue(context.Background())
	require.NoError(t, err)
	require.Same(t, q1, q2)
}

func TestQueueRejectsUnknownBackend(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	cfg.Queue.Backend = "kafka"
	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	_, err = a.Queue(context.Background())
	require.ErrorContains(t, err, "unknown queue backend")
}

func TestArchiveBackends(t *testing.T) {
	t.Parallel()
	a, err := New(context.Background(), testConfig(t), nil)
	require.NoError(t, err)
	archive, err := a.Archive(context.Background())
	require.NoError(t, err)
	require.NotNil(t, archive)

	uri, err := archive.PutObject(context.Background(), "dead-letters/a.json", "application/json", []byte(`{}`))
	require.NoError(t, err)
	require.Contains(t, uri, "file://")
	data, err := archive.GetObject(context.Background(), "dead-letters/a.json")
	require.NoError(t, err)
	require.Equal(t, `{}`, string(data))

	cfg := testConfig(t)
	cfg.Archive.Backend = "none"
	none, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	archive, err = none.Archive(context.Background())
	require.NoError(t, err)
	require.Nil(t, archive)
}

func TestFailureMirrorDisabledWithoutDSN(t *testing.T) {
	t.Parallel()
	a, err := New(context.Background(), testConfig(t), nil)
	require.NoError(t, err)
	mirror, err := a.FailureMirror(context.Background())
	require.NoError(t, err)
	require.Nil(t, mirror)
}

func TestDeliveryWorkerRequiresEndpoint(t *testing.T) {
	t.Parallel()
	a, err := New(context.Background(), testConfig(t), nil)
	require.NoError(t, err)
	_, err = a.DeliveryWorker(context.Background())
	require.ErrorContains(t, err, "delivery.endpoint")
}

func TestDeliveryWorkerWiring(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	cfg.Delivery.Endpoint = "https://ingest.example.com/v1/records"
	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	t.Cleanup(a.Close)

	w, err := a.DeliveryWorker(context.Background())
	require.NoError(t, err)
	require.NotNil(t, w)
	require.DirExists(t, cfg.Delivery.FailureLogDir)
}

func TestOrchestratorRequiresSource(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	cfg.Source.BaseURL = ""
	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	_, err = a.Orchestrator()
	require.ErrorContains(t, err, "source.base_url")
}

func TestOrchestratorWiring(t *testing.T) {
	t.Parallel()
	a, err := New(context.Background(), testConfig(t), nil)
	require.NoError(t, err)
	o, err := a.Orchestrator()
	require.NoError(t, err)
	require.NotNil(t, o)
}

func TestSessionFactoryBuildsHTTPSession(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	patterns, err := stitch.NewPatterns(cfg.PatternConfig())
	require.NoError(t, err)

	runner, err := a.sessionFactory(patterns)(context.Background(), "worker-1")
	require.NoError(t, err)
	t.Cleanup(runner.Close)
	require.IsType(t, &session.Session{}, runner)
	require.DirExists(t, cfg.Session.OutputDir)
}

func TestStatusServer(t *testing.T) {
	t.Parallel()
	cfg := testConfig(t)
	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	require.Nil(t, a.StatusServer(nil, nil))

	cfg.Server.Port = 9090
	a, err = New(context.Background(), cfg, nil)
	require.NoError(t, err)
	srv := a.StatusServer(nil, nil)
	require.NotNil(t, srv)
	require.Equal(t, ":9090", srv.Addr)
	require.NotNil(t, srv.Handler)
	a.ServeStatus(context.Background(), nil)
}
