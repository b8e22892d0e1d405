package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"instaweb/internal/config"
	"instaweb/internal/logging"
	"instaweb/internal/progress"
	"instaweb/internal/queue"
	"instaweb/internal/stage"
)

// Manager coordinates the download worker pool.
type Manager struct {
	cfg          *config.Config
	store        *queue.Store
	logger       *slog.Logger
	hub          *progress.Hub
	handler      stage.Handler
	pollInterval time.Duration
	workers      int

	heartbeat *HeartbeatMonitor
	cleaner   *Cleaner

	mu      sync.RWMutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	lastErr error
	lastJob *queue.Job
}

// NewManager constructs a workflow manager. The worker pool size equals the
// configured concurrent download limit.
func NewManager(cfg *config.Config, store *queue.Store, logger *slog.Logger, hub *progress.Hub, handler stage.Handler) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Manager{
		cfg:          cfg,
		store:        store,
		logger:       logging.NewComponentLogger(logger, "workflow"),
		hub:          hub,
		handler:      handler,
		pollInterval: time.Duration(cfg.Workflow.QueuePollInterval) * time.Second,
		workers:      cfg.RateLimit.Concurrent,
		heartbeat: NewHeartbeatMonitor(
			store,
			logger,
			time.Duration(cfg.Workflow.HeartbeatInterval)*time.Second,
			time.Duration(cfg.Workflow.HeartbeatTimeout)*time.Second,
		),
		cleaner: NewCleaner(cfg, store, logger, hub),
	}
}

// Start resets abandoned jobs and begins background processing.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("workflow already running")
	}
	if m.handler == nil {
		m.mu.Unlock()
		return errors.New("download stage not configured")
	}

	if reset, err := m.store.ResetStuckDownloads(ctx); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("reset stuck downloads: %w", err)
	} else if reset > 0 {
		m.logger.Info("reset stuck downloads from previous run", logging.Int64("count", reset))
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.wg.Add(m.workers + 1)
	m.mu.Unlock()

	for i := 0; i < m.workers; i++ {
		go m.runWorker(runCtx, i)
	}
	go func() {
		defer m.wg.Done()
		m.cleaner.Run(runCtx)
	}()

	m.logger.Info("workflow started", logging.Int("workers", m.workers))
	return nil
}

// Stop terminates background processing and waits for completion.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
	m.logger.Info("workflow stopped")
}

func (m *Manager) runWorker(ctx context.Context, index int) {
	defer m.wg.Done()
	logger := m.logger.With(logging.Int("worker", index))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		// One worker is enough to sweep stale heartbeats each cycle.
		if index == 0 {
			if err := m.heartbeat.ReclaimStaleJobs(ctx, logger); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("reclaim stale downloads failed; stuck jobs may remain",
					logging.Error(err),
					logging.String(logging.FieldEventType, "heartbeat_reclaim_failed"),
					logging.String(logging.FieldErrorHint, "check job database access"),
				)
			}
		}

		job, err := m.store.ClaimNextPending(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			m.setLastError(err)
			logger.Error("failed to claim next job",
				logging.Error(err),
				logging.String(logging.FieldEventType, "queue_fetch_failed"),
				logging.String(logging.FieldErrorHint, "check job database access"),
			)
			m.waitOrShutdown(ctx, time.Duration(m.cfg.Workflow.ErrorRetryInterval)*time.Second)
			continue
		}
		if job == nil {
			m.waitOrShutdown(ctx, m.pollInterval)
			continue
		}

		if err := m.processJob(ctx, logger, job); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
		}
	}
}

func (m *Manager) processJob(ctx context.Context, logger *slog.Logger, job *queue.Job) error {
	jobLogger := logger.With(
		logging.Int64(logging.FieldJobID, job.ID),
		logging.String(logging.FieldJobToken, job.Token),
	)
	jobStart := time.Now()
	jobLogger.Info("job started",
		logging.String(logging.FieldEventType, "job_start"),
		logging.String("url", job.SourceURL),
		logging.String("format", job.Format),
	)
	m.publish(job)

	if err := m.handler.Prepare(ctx, job); err != nil {
		m.handleJobFailure(ctx, jobLogger, job, err)
		return err
	}
	if err := m.store.Update(ctx, job); err != nil {
		wrapped := fmt.Errorf("persist job preparation: %w", err)
		jobLogger.Error("failed to persist job preparation", logging.Error(wrapped))
		m.setLastError(wrapped)
		return wrapped
	}

	execErr := m.executeWithHeartbeat(ctx, job)
	if execErr != nil {
		if errors.Is(execErr, context.Canceled) {
			jobLogger.Debug("job interrupted by shutdown")
			m.failInterruptedJob(jobLogger, job)
			return execErr
		}
		m.handleJobFailure(ctx, jobLogger, job, execErr)
		return execErr
	}

	job.LastHeartbeat = nil
	if err := m.store.Update(ctx, job); err != nil {
		wrapped := fmt.Errorf("persist job result: %w", err)
		jobLogger.Error("failed to persist job result", logging.Error(wrapped))
		m.setLastError(wrapped)
		return wrapped
	}
	m.publish(job)
	m.setLastJob(job)
	jobLogger.Info("job completed",
		logging.String(logging.FieldEventType, "job_complete"),
		logging.String("file", job.Filename),
		logging.Duration("job_duration", time.Since(jobStart)),
	)
	return nil
}

func (m *Manager) executeWithHeartbeat(ctx context.Context, job *queue.Job) error {
	hbCtx, hbCancel := context.WithCancel(ctx)
	var hbWG sync.WaitGroup
	hbWG.Add(1)
	go m.heartbeat.StartLoop(hbCtx, &hbWG, job.ID)

	execErr := m.handler.Execute(ctx, job)
	hbCancel()
	hbWG.Wait()
	return execErr
}

func (m *Manager) handleJobFailure(ctx context.Context, logger *slog.Logger, job *queue.Job, jobErr error) {
	message := strings.TrimSpace(jobErr.Error())
	if message == "" {
		message = "download failed"
	}
	job.SetFailed(message)
	m.setLastError(jobErr)

	logger.Error("job failed",
		logging.Error(jobErr),
		logging.String(logging.FieldEventType, "job_failure"),
		logging.String("error_message", message),
	)

	if err := m.store.Update(ctx, job); err != nil {
		if errors.Is(err, context.Canceled) {
			logger.Debug("daemon shutting down, could not persist job failure")
		} else {
			logger.Error("failed to persist job failure", logging.Error(err))
		}
	}
	m.publish(job)
	m.setLastJob(job)
}

// failInterruptedJob persists a shutdown-interrupted job as failed so it does
// not linger in the downloading state until a heartbeat reclaim. The worker
// context is already canceled, so persistence runs on its own deadline.
func (m *Manager) failInterruptedJob(logger *slog.Logger, job *queue.Job) {
	job.SetFailed(queue.DaemonStopReason)

	persistCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.store.Update(persistCtx, job); err != nil {
		logger.Warn("failed to persist interrupted job", logging.Error(err))
		return
	}
	m.publish(job)
	m.setLastJob(job)
}

func (m *Manager) publish(job *queue.Job) {
	if m.hub == nil || job == nil {
		return
	}
	m.hub.Publish(job.Token, progress.Snapshot{
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

func (m *Manager) waitOrShutdown(ctx context.Context, wait time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(wait):
	}
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

func (m *Manager) setLastJob(job *queue.Job) {
	m.mu.Lock()
	if job != nil {
		copy := *job
		m.lastJob = &copy
	} else {
		m.lastJob = nil
	}
	m.mu.Unlock()
}
