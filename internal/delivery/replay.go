package delivery

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/JakeFAU/gazette-ingest/internal/gazette"
	"github.com/JakeFAU/gazette-ingest/internal/queue"
)

// ArchiveReader reads back archived payloads.
type ArchiveReader interface {
	GetObject(ctx context.Context, path string) ([]byte, error)
}

// ReplayDeadLetters moves dead-lettered items back to pending for another
// delivery attempt. Source files removed at dead-letter time are restored
// from archive when possible; items whose payload cannot be found stay in
// the dead-letter set.
func ReplayDeadLetters(ctx context.Context, q queue.Queue, archive ArchiveReader, logger *zap.Logger) (int, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	accept := func(item gazette.QueueItem) bool {
		if _, err := os.Stat(item.FilePath); err == nil {
			return true
		}
		if archive == nil {
			logger.Warn("dead letter has no source file and no archive", zap.String("file", item.FileName))
			return false
		}
		if err := restore(ctx, archive, item); err != nil {
			logger.Warn("dead letter payload restore failed", zap.String("file", item.FileName), zap.Error(err))
			return false
		}
		return true
	}
	n, err := q.ReplayDeadLetters(ctx, accept)
	if err != nil {
		return n, fmt.Errorf("replay dead letters: %w", err)
	}
	logger.Info("dead letters replayed", zap.Int("count", n))
	return n, nil
}

func restore(ctx context.Context, archive ArchiveReader, item gazette.QueueItem) error {
	data, err := archive.GetObject(ctx, ArchivePath(item.FileName))
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return errors.New("archived payload is empty")
	}
	if err := os.MkdirAll(filepath.Dir(item.FilePath), 0o755); err != nil {
		return fmt.Errorf("create source dir: %w", err)
	}
	tmp := item.FilePath + ".restore.tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write restored payload: %w", err)
	}
	if err := os.Rename(tmp, item.FilePath); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename restored payload: %w", err)
	}
	return nil
}
