package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/GoDuraStore/go-dura-store/models"
)

// FilesystemSink writes each batch as a JSON-lines file named after the
// batch id. A duplicate write replaces the file with identical content, so
// re-archival after a crash is harmless.
type FilesystemSink struct {
	dir    string
	logger models.Logger
}

func NewFilesystemSink(dir string, logger models.Logger) (*FilesystemSink, error) {
	if dir == "" {
		return nil, fmt.Errorf("archive directory must be specified")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}
	return &FilesystemSink{dir: dir, logger: logger}, nil
}

func (s *FilesystemSink) Archive(ctx context.Context, batch *models.ArchiveBatch) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("context canceled: %w", ctx.Err())
	default:
	}

	final := filepath.Join(s.dir, batch.BatchID+".jsonl")
	tmp := final + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("failed to create archive file: %w", err)
	}

	enc := json.NewEncoder(f)
	for i := range batch.Records {
		if err := enc.Encode(&batch.Records[i]); err != nil {
			// One unreadable record must not abandon the batch.
			s.logger.Warn("skipping unarchivable record",
				"batch_id", batch.BatchID,
				"key", batch.Records[i].Key,
				"error", fmt.Errorf("%w: %w", models.ErrSerialization, err))
			continue
		}
	}

	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("failed to sync archive file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to close archive file: %w", err)
	}

	// Rename is atomic on POSIX filesystems; a re-archive of the same batch
	// id replaces the file with the same content.
	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to finalize archive file: %w", err)
	}

	s.logger.Debug("archived batch to filesystem",
		"batch_id", batch.BatchID,
		"records", len(batch.Records),
		"path", final)

	return nil
}

func (s *FilesystemSink) Close() error {
	return nil
}
