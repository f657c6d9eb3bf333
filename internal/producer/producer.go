// Package producer turns finished record files in the output directory into
// queue items.
package producer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/JakeFAU/gazette-ingest/internal/gazette"
	"github.com/JakeFAU/gazette-ingest/internal/queue"
)

// Producer watches a directory and enqueues each complete record file that
// the queue does not currently hold.
type Producer struct {
	queue  queue.Queue
	dir    string
	clock  gazette.Clock
	logger *zap.Logger

	// known holds names this producer enqueued or found queued. An entry is
	// dropped once the queue no longer holds the name.
	mu    sync.Mutex
	known map[string]struct{}

	ready chan struct{}
}

// New builds a Producer for dir.
func New(q queue.Queue, dir string, clock gazette.Clock, logger *zap.Logger) (*Producer, error) {
	if q == nil {
		return nil, errors.New("queue is required")
	}
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("output directory is required")
	}
	if clock == nil {
		return nil, errors.New("clock is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Producer{
		queue:  q,
		dir:    dir,
		clock:  clock,
		logger: logger,
		known:  make(map[string]struct{}),
		ready:  make(chan struct{}),
	}, nil
}

// Ready is closed once the watcher is installed.
func (p *Producer) Ready() <-chan struct{} {
	return p.ready
}

// Run watches the directory until ctx is canceled. The watch is installed
// before the startup scan so files that land during the scan are not missed.
func (p *Producer) Run(ctx context.Context) error {
	if err := os.MkdirAll(p.dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() {
		if err := watcher.Close(); err != nil {
			p.logger.Warn("watcher close failed", zap.Error(err))
		}
	}()
	if err := watcher.Add(p.dir); err != nil {
		return fmt.Errorf("watch %s: %w", p.dir, err)
	}
	close(p.ready)

	if _, err := p.Scan(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if _, err := p.Consider(ctx, event.Name); err != nil {
				p.logger.Error("enqueue failed", zap.String("path", event.Name), zap.Error(err))
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			p.logger.Warn("watcher error", zap.Error(err))
		}
	}
}

// Scan enqueues eligible files already in the directory that the queue does
// not hold in any set.
func (p *Producer) Scan(ctx context.Context) (int, error) {
	names, err := p.queue.Names(ctx)
	if err != nil {
		return 0, fmt.Errorf("list queued names: %w", err)
	}
	p.mu.Lock()
	for name := range names {
		p.known[name] = struct{}{}
	}
	p.mu.Unlock()

	entries, err := os.ReadDir(p.dir)
	if err != nil {
		return 0, fmt.Errorf("read output dir: %w", err)
	}
	enqueued := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ok, err := p.Consider(ctx, filepath.Join(p.dir, entry.Name()))
		if err != nil {
			return enqueued, err
		}
		if ok {
			enqueued++
		}
	}
	p.logger.Info("startup scan complete", zap.Int("enqueued", enqueued), zap.Int("already_queued", len(names)))
	return enqueued, nil
}

// Consider enqueues path when it is an eligible, complete record file whose
// name is not in any queue set. A name that was delivered and later written
// again is enqueued again. Files that fail to parse are left for a later
// write event.
func (p *Producer) Consider(ctx context.Context, path string) (bool, error) {
	name := filepath.Base(path)
	if !Eligible(name) {
		return false, nil
	}
	held, err := p.held(ctx, name)
	if err != nil {
		return false, err
	}
	if held {
		return false, nil
	}

	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return false, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return false, nil
	}
	if _, err := gazette.DecodeRecord(data); err != nil {
		p.logger.Debug("record file not complete yet", zap.String("file", name), zap.Error(err))
		return false, nil
	}

	p.mu.Lock()
	if _, seen := p.known[name]; seen {
		p.mu.Unlock()
		return false, nil
	}
	p.known[name] = struct{}{}
	p.mu.Unlock()

	item := gazette.QueueItem{
		FilePath:   path,
		FileName:   name,
		DetectedAt: p.clock.Now(),
		Size:       info.Size(),
		Status:     gazette.StatusPending,
	}
	if err := p.queue.Enqueue(ctx, item); err != nil {
		p.mu.Lock()
		delete(p.known, name)
		p.mu.Unlock()
		return false, err
	}
	p.logger.Info("record enqueued", zap.String("file", name), zap.Int64("size", info.Size()))
	return true, nil
}

// held reports whether the queue still holds name. The queue is consulted
// only for names seen before; stale entries are forgotten.
func (p *Producer) held(ctx context.Context, name string) (bool, error) {
	p.mu.Lock()
	_, seen := p.known[name]
	p.mu.Unlock()
	if !seen {
		return false, nil
	}
	names, err := p.queue.Names(ctx)
	if err != nil {
		return false, fmt.Errorf("list queued names: %w", err)
	}
	if _, ok := names[name]; ok {
		return true, nil
	}
	p.mu.Lock()
	delete(p.known, name)
	p.mu.Unlock()
	return false, nil
}

// Eligible reports whether name looks like a finished record file.
func Eligible(name string) bool {
	return strings.HasSuffix(name, ".json") && !strings.HasPrefix(name, ".")
}
