package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/JakeFAU/gazette-ingest/internal/gazette"
)

// FailureMirror receives a copy of each failure record, e.g. a database.
type FailureMirror interface {
	RecordFailure(ctx context.Context, rec gazette.FailureRecord) error
}

// FailureLog appends failure records to one JSON-lines file per UTC day.
type FailureLog struct {
	dir string
	mu  sync.Mutex
}

// NewFailureLog creates dir if needed.
func NewFailureLog(dir string) (*FailureLog, error) {
	if dir == "" {
		return nil, fmt.Errorf("failure log directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create failure log dir: %w", err)
	}
	return &FailureLog{dir: dir}, nil
}

// PathFor returns the log file that holds records failed at rec.FailedAt.
func (l *FailureLog) PathFor(rec gazette.FailureRecord) string {
	return filepath.Join(l.dir, rec.FailedAt.UTC().Format("2006-01-02")+".jsonl")
}

// RecordFailure appends rec as one line.
func (l *FailureLog) RecordFailure(_ context.Context, rec gazette.FailureRecord) error {
	line, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode failure record: %w", err)
	}
	line = append(line, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()
	f, err := os.OpenFile(l.PathFor(rec), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open failure log: %w", err)
	}
	if _, err := f.Write(line); err != nil {
		_ = f.Close()
		return fmt.Errorf("append failure log: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close failure log: %w", err)
	}
	return nil
}
