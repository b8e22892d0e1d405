// Package download implements the workflow stage that turns a queued job
// into a finished media file on disk.
package download

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"instaweb/internal/config"
	"instaweb/internal/instagram"
	"instaweb/internal/logging"
	"instaweb/internal/media/ffprobe"
	"instaweb/internal/progress"
	"instaweb/internal/queue"
	"instaweb/internal/services"
	"instaweb/internal/services/ytdlp"
	"instaweb/internal/stage"
)

var downloadProbe = ffprobe.Inspect

// Downloader fetches Instagram media with yt-dlp and finalizes the file.
type Downloader struct {
	store  *queue.Store
	cfg    *config.Config
	logger *slog.Logger
	client ytdlp.Client
	hub    *progress.Hub
}

// New constructs a Downloader backed by the yt-dlp CLI.
func New(store *queue.Store, cfg *config.Config, logger *slog.Logger, hub *progress.Hub) *Downloader {
	return NewWithClient(store, cfg, logger, hub, ytdlp.NewCLI(ytdlp.WithBinary(cfg.YtDlpBinary())))
}

// NewWithClient constructs a Downloader with an explicit client, used by tests.
func NewWithClient(store *queue.Store, cfg *config.Config, logger *slog.Logger, hub *progress.Hub, client ytdlp.Client) *Downloader {
	return &Downloader{
		store:  store,
		cfg:    cfg,
		logger: logging.NewComponentLogger(logger, "download"),
		client: client,
		hub:    hub,
	}
}

// Prepare validates the job URL and stages its working directory.
func (d *Downloader) Prepare(ctx context.Context, job *queue.Job) error {
	post, err := instagram.ValidateURL(job.SourceURL)
	if err != nil {
		return services.Wrap(services.ErrValidation, "download", "validate url", "", err)
	}
	job.SourceURL = post.URL

	tempDir := filepath.Join(d.cfg.Paths.DownloadDir, "tmp", fmt.Sprintf("job-%d", job.ID))
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return services.Wrap(services.ErrConfiguration, "download", "create temp dir", "", err)
	}
	job.TempDir = tempDir

	if d.cfg.Tools.Cookies != "" {
		cookiesPath := filepath.Join(tempDir, "cookies.txt")
		if err := os.WriteFile(cookiesPath, []byte(d.cfg.Tools.Cookies), 0o600); err != nil {
			return services.Wrap(services.ErrConfiguration, "download", "write cookies", "", err)
		}
		job.UsedCookies = true
	}
	job.UsedProxy = d.cfg.Tools.Proxy != ""

	job.SetProgress("Starting", "Preparing download", 0)
	return nil
}

// Execute runs yt-dlp, probes the result, and moves it into its final home.
func (d *Downloader) Execute(ctx context.Context, job *queue.Job) error {
	if job.TempDir == "" {
		return services.Wrap(services.ErrValidation, "download", "execute", "job was not prepared", nil)
	}
	post, err := instagram.ValidateURL(job.SourceURL)
	if err != nil {
		return services.Wrap(services.ErrValidation, "download", "validate url", "", err)
	}

	req := ytdlp.Request{
		URL:            job.SourceURL,
		OutputDir:      job.TempDir,
		Format:         job.Format,
		BaseName:       job.Token,
		Proxy:          d.cfg.Tools.Proxy,
		FFmpegLocation: d.cfg.Tools.FFmpeg,
	}
	if job.UsedCookies {
		req.CookiesFile = filepath.Join(job.TempDir, "cookies.txt")
	}

	d.logger.Info("launching yt-dlp",
		logging.Int64(logging.FieldJobID, job.ID),
		logging.String(logging.FieldJobToken, job.Token),
		logging.String("url", job.SourceURL),
		logging.String("format", job.Format),
	)

	const persistInterval = time.Second
	var lastPersisted time.Time
	outputPath, err := d.client.Download(ctx, req, func(update ytdlp.ProgressUpdate) {
		job.ProgressStage = "Downloading"
		job.ProgressPercent = update.Percent
		job.DownloadedBytes = update.DownloadedBytes
		job.TotalBytes = update.TotalBytes
		job.ETASeconds = update.ETASeconds
		job.ProgressMessage = progressMessage(update)

		d.publish(job)
		if time.Since(lastPersisted) >= persistInterval {
			if err := d.store.Update(ctx, job); err != nil {
				d.logger.Warn("failed to persist progress", logging.Error(err))
			} else {
				lastPersisted = time.Now()
			}
		}
	})
	if err != nil {
		return services.Wrap(services.ErrExternalTool, "download", "run yt-dlp", "", err)
	}

	finalName := post.Title() + filepath.Ext(outputPath)
	finalPath := filepath.Join(d.cfg.Paths.DownloadDir, job.Token+filepath.Ext(outputPath))
	if err := moveFile(outputPath, finalPath); err != nil {
		return services.Wrap(services.ErrConfiguration, "download", "finalize file", "", err)
	}

	info, err := os.Stat(finalPath)
	if err != nil {
		return services.Wrap(services.ErrConfiguration, "download", "stat output", "", err)
	}

	if result, probeErr := downloadProbe(ctx, d.cfg.FFprobeBinary(), finalPath); probeErr != nil {
		d.logger.Warn("ffprobe inspection failed", logging.Error(probeErr))
	} else {
		job.DurationSeconds = result.DurationSeconds()
	}

	if err := os.RemoveAll(job.TempDir); err != nil {
		d.logger.Warn("failed to remove temp dir", logging.Error(err))
	}
	job.TempDir = ""

	job.SetReady(finalPath, finalName, info.Size())
	d.publish(job)
	d.logger.Info("download complete",
		logging.Int64(logging.FieldJobID, job.ID),
		logging.String("file", finalPath),
		logging.Int64("size_bytes", info.Size()),
	)
	return nil
}

// HealthCheck verifies yt-dlp is resolvable and the download dir is writable.
func (d *Downloader) HealthCheck(ctx context.Context) stage.Health {
	const name = "download"
	if _, err := exec.LookPath(d.cfg.YtDlpBinary()); err != nil {
		return stage.Unhealthy(name, fmt.Sprintf("yt-dlp not found: %v", err))
	}
	if err := unix.Access(d.cfg.Paths.DownloadDir, unix.W_OK); err != nil {
		return stage.Unhealthy(name, fmt.Sprintf("download dir not writable: %v", err))
	}
	return stage.Healthy(name)
}

func (d *Downloader) publish(job *queue.Job) {
	if d.hub == nil {
		return
	}
	d.hub.Publish(job.Token, progress.Snapshot{
		Status:          string(job.Status),
		Stage:           job.ProgressStage,
		Percent:         job.ProgressPercent,
		Message:         job.ProgressMessage,
		DownloadedBytes: job.DownloadedBytes,
		TotalBytes:      job.TotalBytes,
		ETASeconds:      job.ETASeconds,
		Error:           job.ErrorMessage,
	})
}

func progressMessage(update ytdlp.ProgressUpdate) string {
	if update.TotalBytes > 0 {
		if update.ETASeconds > 0 {
			return fmt.Sprintf("%s of %s (%ds left)", formatBytes(update.DownloadedBytes), formatBytes(update.TotalBytes), update.ETASeconds)
		}
		return fmt.Sprintf("%s of %s", formatBytes(update.DownloadedBytes), formatBytes(update.TotalBytes))
	}
	if update.DownloadedBytes > 0 {
		return formatBytes(update.DownloadedBytes) + " downloaded"
	}
	return strings.TrimSpace(update.Stage)
}

func formatBytes(count int64) string {
	const unit = 1024
	if count < unit {
		return fmt.Sprintf("%d B", count)
	}
	div, exp := int64(unit), 0
	for n := count / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(count)/float64(div), "KMGTPE"[exp])
}

// moveFile renames when possible and falls back to copy for cross-device moves.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	} else if !errors.Is(err, unix.EXDEV) {
		return err
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	if err := os.WriteFile(dst, data, 0o644); err != nil {
		return err
	}
	return os.Remove(src)
}

var _ stage.Handler = (*Downloader)(nil)
