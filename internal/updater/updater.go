// Package updater periodically runs yt-dlp's self-updater so the daemon can
// keep pace with Instagram site changes without restarts.
package updater

import (
	"context"
	"log/slog"
	"time"

	"instaweb/internal/config"
	"instaweb/internal/logging"
	"instaweb/internal/services/ytdlp"
)

// Runner triggers yt-dlp self-updates on a fixed interval.
type Runner struct {
	cfg      *config.Config
	logger   *slog.Logger
	client   ytdlp.Client
	interval time.Duration
}

// New constructs a Runner. Returns nil when auto-update is disabled, which
// callers treat as "nothing to start".
func New(cfg *config.Config, logger *slog.Logger, client ytdlp.Client) *Runner {
	if !cfg.Tools.AutoUpdate {
		return nil
	}
	return &Runner{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "updater"),
		client:   client,
		interval: time.Duration(cfg.Tools.UpdateIntervalMinutes) * time.Minute,
	}
}

// Run updates immediately, then on every interval tick until the context ends.
func (r *Runner) Run(ctx context.Context) {
	if r == nil {
		return
	}
	r.update(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.update(ctx)
		}
	}
}

func (r *Runner) update(ctx context.Context) {
	output, err := r.client.Update(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		r.logger.Warn("yt-dlp self-update failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "ytdlp_update_failed"),
			logging.String(logging.FieldErrorHint, "check network access and binary permissions"),
		)
		return
	}
	r.logger.Info("yt-dlp self-update finished", logging.String("output", output))
}
