// Package app initializes and holds long-lived application services, acting
// as a dependency injection container for the CLI commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/gazette-ingest/internal/alert"
	"github.com/JakeFAU/gazette-ingest/internal/api"
	"github.com/JakeFAU/gazette-ingest/internal/clock/system"
	"github.com/JakeFAU/gazette-ingest/internal/config"
	"github.com/JakeFAU/gazette-ingest/internal/delivery"
	collyfetcher "github.com/JakeFAU/gazette-ingest/internal/fetcher/colly"
	"github.com/JakeFAU/gazette-ingest/internal/fetcher/headless"
	"github.com/JakeFAU/gazette-ingest/internal/gazette"
	"github.com/JakeFAU/gazette-ingest/internal/id/uuid"
	"github.com/JakeFAU/gazette-ingest/internal/metrics"
	"github.com/JakeFAU/gazette-ingest/internal/orchestrator"
	"github.com/JakeFAU/gazette-ingest/internal/queue"
	queueMemory "github.com/JakeFAU/gazette-ingest/internal/queue/memory"
	queueRedis "github.com/JakeFAU/gazette-ingest/internal/queue/redis"
	"github.com/JakeFAU/gazette-ingest/internal/session"
	"github.com/JakeFAU/gazette-ingest/internal/stitch"
	"github.com/JakeFAU/gazette-ingest/internal/storage/gcs"
	"github.com/JakeFAU/gazette-ingest/internal/storage/local"
	"github.com/JakeFAU/gazette-ingest/internal/storage/postgres"
)

// Archive stores and reads back dead-letter payloads.
type Archive interface {
	gazette.BlobStore
	delivery.ArchiveReader
}

// App holds the shared, long-lived services. Backends are opened on first
// use so each command only connects to what it needs.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	clock  gazette.Clock
	ids    *uuid.Generator
	alerts gazette.AlertSink

	queue   queue.Queue
	archive Archive
	opened  bool
	mirror  delivery.FailureMirror

	closers []func()
}

// New builds the App. Only the alert sinks are connected eagerly.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	a := &App{
		cfg:    cfg,
		logger: logger,
		clock:  system.New(),
		ids:    uuid.New(),
	}
	sinks := alert.Multi{alert.NewLogSink(logger)}
	if cfg.Alerts.PubSubProject != "" {
		client, err := pubsub.NewClient(ctx, cfg.Alerts.PubSubProject)
		if err != nil {
			return nil, fmt.Errorf("connect pubsub: %w", err)
		}
		sink, err := alert.NewPubSubSink(client, cfg.Alerts.PubSubTopic)
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		a.onClose(func() {
			sink.Close()
			if err := client.Close(); err != nil {
				logger.Warn("pubsub client close failed", zap.Error(err))
			}
		})
		sinks = append(sinks, sink)
		logger.Info("pubsub alerts enabled", zap.String("topic", cfg.Alerts.PubSubTopic))
	}
	a.alerts = sinks
	return a, nil
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config { return a.cfg }

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Clock returns the wall clock.
func (a *App) Clock() gazette.Clock { return a.clock }

// IDs returns the UUIDv7 generator.
func (a *App) IDs() gazette.IDGenerator { return a.ids }

// Alerts returns the configured alert fan-out.
func (a *App) Alerts() gazette.AlertSink { return a.alerts }

// Queue opens the configured durable queue.
func (a *App) Queue(ctx context.Context) (queue.Queue, error) {
	if a.queue != nil {
		return a.queue, nil
	}
	var q queue.Queue
	switch a.cfg.Queue.Backend {
	case "memory":
		a.logger.Warn("using in-memory queue; items do not survive restarts")
		q = queueMemory.NewQueue()
	case "redis":
		rq, err := queueRedis.New(ctx, queueRedis.Options{
			Addr:     a.cfg.Queue.RedisAddr,
			Password: a.cfg.Queue.RedisPassword,
			DB:       a.cfg.Queue.RedisDB,
			Prefix:   a.cfg.Queue.Prefix,
		}, a.logger.Named("queue"))
		if err != nil {
			return nil, fmt.Errorf("open redis queue: %w", err)
		}
		q = rq
	default:
		return nil, fmt.Errorf("unknown queue backend %q", a.cfg.Queue.Backend)
	}
	a.queue = q
	a.onClose(func() {
		if err := q.Close(); err != nil {
			a.logger.Warn("queue close failed", zap.Error(err))
		}
	})
	return q, nil
}

// Archive opens the dead-letter payload archive; it returns nil when the
// archive is disabled.
func (a *App) Archive(ctx context.Context) (Archive, error) {
	if a.opened {
		return a.archive, nil
	}
	switch a.cfg.Archive.Backend {
	case "none":
	case "local":
		store, err := local.New(local.Config{BaseDir: a.cfg.Archive.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("open local archive: %w", err)
		}
		a.archive = store
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("connect gcs: %w", err)
		}
		store, err := gcs.New(client, gcs.Config{Bucket: a.cfg.Archive.GCSBucket, Prefix: a.cfg.Archive.Prefix})
		if err != nil {
			_ = client.Close()
			return nil, err
		}
		a.onClose(func() {
			if err := client.Close(); err != nil {
				a.logger.Warn("gcs client close failed", zap.Error(err))
			}
		})
		a.archive = store
	default:
		return nil, fmt.Errorf("unknown archive backend %q", a.cfg.Archive.Backend)
	}
	a.opened = true
	return a.archive, nil
}

// FailureMirror connects the Postgres failure mirror; it returns nil when
// no DSN is configured.
func (a *App) FailureMirror(ctx context.Context) (delivery.FailureMirror, error) {
	if a.mirror != nil || a.cfg.DB.DSN == "" {
		return a.mirror, nil
	}
	store, err := postgres.NewFailureStore(ctx, postgres.FailureStoreConfig{
		DSN:             a.cfg.DB.DSN,
		Table:           a.cfg.DB.Table,
		MaxConns:        a.cfg.DB.MaxConns,
		MinConns:        a.cfg.DB.MinConns,
		MaxConnLifetime: a.cfg.DB.MaxConnLifetime,
	})
	if err != nil {
		return nil, err
	}
	a.onClose(store.Close)
	a.mirror = store
	return store, nil
}

// DeliveryWorker assembles the delivery worker and its dependencies.
func (a *App) DeliveryWorker(ctx context.Context) (*delivery.Worker, error) {
	if err := a.cfg.ValidateDelivery(); err != nil {
		return nil, err
	}
	q, err := a.Queue(ctx)
	if err != nil {
		return nil, err
	}
	archive, err := a.Archive(ctx)
	if err != nil {
		return nil, err
	}
	mirror, err := a.FailureMirror(ctx)
	if err != nil {
		return nil, err
	}
	failures, err := delivery.NewFailureLog(a.cfg.Delivery.FailureLogDir)
	if err != nil {
		return nil, err
	}

	workerID := a.cfg.Delivery.WorkerID
	if workerID == "" {
		if workerID, err = a.ids.WorkerID("delivery"); err != nil {
			return nil, err
		}
	}
	client, err := delivery.NewClient(delivery.ClientConfig{
		Endpoint: a.cfg.Delivery.Endpoint,
		APIKey:   a.cfg.Delivery.APIKey,
		WorkerID: workerID,
		Timeout:  config.Seconds(a.cfg.Delivery.TimeoutSeconds),
	}, nil, a.clock)
	if err != nil {
		return nil, err
	}

	var blobs gazette.BlobStore
	if archive != nil {
		blobs = archive
	}
	return delivery.NewWorker(q, client, failures, mirror, blobs, a.alerts, a.clock, a.ids, delivery.Config{
		WorkerID:     workerID,
		MaxRetries:   a.cfg.Delivery.MaxRetries,
		ClaimTimeout: config.Seconds(a.cfg.Delivery.ClaimTimeoutSeconds),
		Backoff: delivery.Backoff{
			Base:                a.cfg.Delivery.BackoffBase,
			RateLimitMultiplier: 2,
			RateLimitCap:        config.Seconds(a.cfg.Delivery.RateLimitCapSeconds),
			ConnectionCap:       config.Seconds(a.cfg.Delivery.ConnectionCapSeconds),
			DefaultCap:          config.Seconds(a.cfg.Delivery.DefaultCapSeconds),
		},
	}, a.logger.Named("delivery")), nil
}

// Orchestrator assembles the date orchestrator with one scraping session
// per worker.
func (a *App) Orchestrator() (*orchestrator.Orchestrator, error) {
	if err := a.cfg.ValidateSource(); err != nil {
		return nil, err
	}
	patterns, err := stitch.NewPatterns(a.cfg.PatternConfig())
	if err != nil {
		return nil, err
	}
	oc := a.cfg.Orchestrator
	return orchestrator.New(
		a.sessionFactory(patterns),
		orchestrator.NewStore(oc.LedgerPath),
		a.alerts,
		a.clock,
		orchestrator.Config{
			Workers:      oc.Workers,
			DateTimeout:  config.Seconds(oc.DateTimeoutSeconds),
			MaxRetries:   oc.MaxRetries,
			PollInterval: config.Seconds(oc.PollIntervalSeconds),
			IdleTimeout:  time.Duration(oc.IdleTimeoutMs) * time.Millisecond,
		},
		a.logger.Named("orchestrator"),
	)
}

func (a *App) sessionFactory(patterns stitch.Patterns) orchestrator.SessionFactory {
	src := a.cfg.Source
	return func(_ context.Context, workerID string) (orchestrator.Runner, error) {
		logger := a.logger.Named("session").With(zap.String("worker_id", workerID))
		lister, err := collyfetcher.New(collyfetcher.Config{
			BaseURL:       src.BaseURL,
			PagePath:      src.PagePath,
			ListPath:      src.ListPath,
			UserAgent:     src.UserAgent,
			RespectRobots: src.RespectRobots,
			Timeout:       config.Seconds(src.TimeoutSeconds),
		})
		if err != nil {
			return nil, err
		}

		var fetcher gazette.PageFetcher = lister
		var closeFetcher func()
		if src.Headless {
			browser, err := headless.NewChromedp(headless.Config{
				MaxParallel:       src.HeadlessParallel,
				UserAgent:         src.UserAgent,
				NavigationTimeout: config.Seconds(src.NavTimeoutSeconds),
				PageURL:           lister.PageURL,
			})
			if err != nil {
				return nil, fmt.Errorf("%w: start browser: %v", gazette.ErrSessionFatal, err)
			}
			fetcher = browser
			closeFetcher = browser.Close
		}

		s, err := session.New(fetcher, lister, patterns, a.clock, session.Config{
			OutputDir:         a.cfg.Session.OutputDir,
			CacheSize:         a.cfg.Session.CacheSize,
			RequestsPerSecond: a.cfg.Session.RequestsPerSecond,
			Burst:             a.cfg.Session.Burst,
			Stitch:            a.cfg.StitchThresholds(),
		}, logger)
		if err != nil {
			if closeFetcher != nil {
				closeFetcher()
			}
			return nil, err
		}
		if closeFetcher != nil {
			s.OnClose(closeFetcher)
		}
		return s, nil
	}
}

// StatusServer builds the operator HTTP server, or nil when server.port is
// zero. Either source may be nil.
func (a *App) StatusServer(ledger api.LedgerSource, q api.QueueInspector) *http.Server {
	if a.cfg.Server.Port == 0 {
		return nil
	}
	opts := api.Options{APIKey: a.cfg.Server.APIKey, Logger: a.logger.Named("api")}
	if ledger != nil {
		opts.Ledger = ledger
	}
	if q != nil {
		opts.Queue = q
	}
	return &http.Server{
		Addr:              ":" + strconv.Itoa(a.cfg.Server.Port),
		Handler:           api.NewServer(opts).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// ServeStatus runs srv until ctx is done. A nil srv is a no-op.
func (a *App) ServeStatus(ctx context.Context, srv *http.Server) {
	if srv == nil {
		return
	}
	go func() {
		a.logger.Info("status server started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("status server error", zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("status server shutdown failed", zap.Error(err))
		}
	}()
}

// Close shuts down every opened backend in reverse order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
	// Sync fails on some terminals; there is nowhere left to report it.
	_ = a.logger.Sync()
}

func (a *App) onClose(fn func()) {
	a.closers = append(a.closers, fn)
}
