package workflow

import (
	"context"

	"instaweb/internal/logging"
	"instaweb/internal/queue"
	"instaweb/internal/stage"
)

// StatusSummary represents lightweight workflow diagnostics.
type StatusSummary struct {
	Running     bool
	Workers     int
	LastError   string
	LastJob     *queue.Job
	ActiveJob   *queue.Job
	QueueStats  map[queue.Status]int
	StageHealth stage.Health
}

// Status returns the latest workflow information.
func (m *Manager) Status(ctx context.Context) StatusSummary {
	m.mu.RLock()
	running := m.running
	lastErr := m.lastErr
	lastJob := m.lastJob
	m.mu.RUnlock()

	stats, err := m.store.Stats(ctx)
	if err != nil {
		m.logger.Warn("failed to read queue stats", logging.Error(err))
	}
	active, err := m.store.NextForStatuses(ctx, queue.StatusDownloading)
	if err != nil {
		m.logger.Warn("failed to read active job", logging.Error(err))
	}

	summary := StatusSummary{
		Running:    running,
		Workers:    m.workers,
		ActiveJob:  active,
		QueueStats: stats,
	}
	if m.handler != nil {
		summary.StageHealth = m.handler.HealthCheck(ctx)
	}
	if lastErr != nil {
		summary.LastError = lastErr.Error()
	}
	if lastJob != nil {
		copy := *lastJob
		summary.LastJob = &copy
	}
	return summary
}
