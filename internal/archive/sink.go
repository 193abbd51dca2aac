package archive

import (
	"context"
	"fmt"

	"github.com/GoDuraStore/go-dura-store/models"
)

// Sink is a durable, append-only cold-storage target records are written to
// before deletion. Duplicate writes with the same batch id must be tolerated:
// a crash between archive and delete makes the next reclamation pass
// re-archive the same batch under the same id.
type Sink interface {
	// Archive writes a batch. Must be durable before it returns.
	Archive(ctx context.Context, batch *models.ArchiveBatch) error

	// Close releases sink resources.
	Close() error
}

// NewSink constructs the configured sink, or nil when archival is disabled.
func NewSink(config models.ArchiveConfig, logger models.Logger) (Sink, error) {
	switch config.Provider {
	case models.ArchiveProviderNone:
		return nil, nil
	case models.ArchiveProviderFilesystem:
		return NewFilesystemSink(config.Dir, logger)
	case models.ArchiveProviderRedis:
		return NewRedisSink(config, logger)
	default:
		return nil, fmt.Errorf("unsupported archive provider: %s", config.Provider)
	}
}
