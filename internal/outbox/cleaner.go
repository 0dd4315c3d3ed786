package outbox

import (
	"context"
	"time"

	"herald/internal/logger"
	"herald/pkg/metrics"
)

const cleanupPageSize = 1000

// Cleaner deletes rows that can no longer change once they are older than
// the retention window. It is meant to be driven by a worker.Periodic.
type Cleaner struct {
	repo      Repository
	retention time.Duration
	logger    logger.Logger
	now       func() time.Time
}

func NewCleaner(repo Repository, retention time.Duration, log logger.Logger) *Cleaner {
	return &Cleaner{
		repo:      repo,
		retention: retention,
		logger:    log.With("component", "outbox_cleaner"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Run deletes page by page until a short page shows nothing is left.
func (c *Cleaner) Run(ctx context.Context) error {
	cutoff := c.now().Add(-c.retention)

	var total int64
	for {
		n, err := c.repo.DeleteTerminalBefore(ctx, cutoff, cleanupPageSize)
		if err != nil {
			return err
		}
		total += n
		metrics.AddCleanupDeleted(n)

		if n < cleanupPageSize || ctx.Err() != nil {
			break
		}
	}

	if total > 0 {
		c.logger.Infow("Removed settled outbox messages", "deleted", total, "cutoff", cutoff)
	}
	return nil
}
