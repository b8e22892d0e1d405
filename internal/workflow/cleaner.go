package workflow

import (
	"context"
	"log/slog"
	"os"
	"time"

	"instaweb/internal/config"
	"instaweb/internal/logging"
	"instaweb/internal/progress"
	"instaweb/internal/queue"
)

// cleanerInterval is how often expired jobs are swept.
const cleanerInterval = time.Minute

// Cleaner removes expired job files and their queue rows.
type Cleaner struct {
	cfg       *config.Config
	store     *queue.Store
	logger    *slog.Logger
	hub       *progress.Hub
	retention time.Duration
}

// NewCleaner constructs a cleaner honoring the configured retention window.
func NewCleaner(cfg *config.Config, store *queue.Store, logger *slog.Logger, hub *progress.Hub) *Cleaner {
	return &Cleaner{
		cfg:       cfg,
		store:     store,
		logger:    logging.NewComponentLogger(logger, "cleaner"),
		hub:       hub,
		retention: time.Duration(cfg.Downloads.RetentionMinutes) * time.Minute,
	}
}

// Run sweeps on a fixed schedule until the context ends.
func (c *Cleaner) Run(ctx context.Context) {
	ticker := time.NewTicker(cleanerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if removed, err := c.Sweep(ctx); err != nil {
				c.logger.Warn("cleanup sweep failed",
					logging.Error(err),
					logging.String(logging.FieldEventType, "cleanup_failed"),
				)
			} else if removed > 0 {
				c.logger.Info("removed expired jobs", logging.Int("count", removed))
			}
		}
	}
}

// Sweep deletes files and rows for jobs past the retention cutoff and
// returns how many jobs were removed.
func (c *Cleaner) Sweep(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-c.retention)
	jobs, err := c.store.ExpiredJobs(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, job := range jobs {
		if job.FilePath != "" {
			if err := os.Remove(job.FilePath); err != nil && !os.IsNotExist(err) {
				c.logger.Warn("failed to remove expired file",
					logging.Error(err),
					logging.Int64(logging.FieldJobID, job.ID),
					logging.String("file", job.FilePath),
				)
				continue
			}
		}
		if job.TempDir != "" {
			if err := os.RemoveAll(job.TempDir); err != nil {
				c.logger.Warn("failed to remove temp dir",
					logging.Error(err),
					logging.Int64(logging.FieldJobID, job.ID),
				)
			}
		}
		if _, err := c.store.Remove(ctx, job.ID); err != nil {
			c.logger.Warn("failed to remove expired job",
				logging.Error(err),
				logging.Int64(logging.FieldJobID, job.ID),
			)
			continue
		}
		c.hub.Forget(job.Token)
		removed++
	}
	return removed, nil
}
