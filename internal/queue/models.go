package queue

import (
	"strings"
	"time"
)

// Status represents the lifecycle of a download job.
type Status string

const (
	StatusPending     Status = "pending"
	StatusDownloading Status = "downloading"
	StatusReady       Status = "ready"
	StatusFailed      Status = "failed"
)

// DaemonStopReason is the error message set when jobs are failed due to daemon shutdown.
const DaemonStopReason = "Daemon stopped"

var allStatuses = []Status{
	StatusPending,
	StatusDownloading,
	StatusReady,
	StatusFailed,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// Job represents a download job persisted in SQLite.
type Job struct {
	ID              int64
	Token           string
	SourceURL       string
	Format          string
	ClientIP        string
	UsedCookies     bool
	UsedProxy       bool
	Status          Status
	TempDir         string
	FilePath        string
	Filename        string
	SizeBytes       int64
	DurationSeconds float64
	ProgressStage   string
	ProgressPercent float64
	ProgressMessage string
	DownloadedBytes int64
	TotalBytes      int64
	ETASeconds      int64
	ErrorMessage    string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	LastHeartbeat   *time.Time
}

// HealthSummary describes aggregated job counts per key lifecycle states.
type HealthSummary struct {
	Total       int
	Pending     int
	Downloading int
	Ready       int
	Failed      int
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsProcessing returns true when the status reflects an in-flight download.
func (j Job) IsProcessing() bool {
	return j.Status == StatusDownloading
}

// IsTerminal returns true when the job will not change state again.
func (j Job) IsTerminal() bool {
	return j.Status == StatusReady || j.Status == StatusFailed
}

// SetProgress updates the progress fields atomically.
func (j *Job) SetProgress(stage, message string, percent float64) {
	j.ProgressStage = stage
	j.ProgressMessage = message
	j.ProgressPercent = percent
}

// SetFailed marks the job as failed with the given user-facing message.
// Clears the heartbeat and resets progress.
func (j *Job) SetFailed(message string) {
	j.Status = StatusFailed
	j.ErrorMessage = message
	j.ProgressPercent = 0
	j.ProgressMessage = message
	j.ProgressStage = "Failed"
	j.LastHeartbeat = nil
}

// SetReady records the produced file and marks the job complete.
func (j *Job) SetReady(filePath, filename string, sizeBytes int64) {
	j.Status = StatusReady
	j.FilePath = filePath
	j.Filename = filename
	j.SizeBytes = sizeBytes
	j.ProgressPercent = 100
	j.ProgressStage = "Ready"
	j.ProgressMessage = "Download complete"
	j.ErrorMessage = ""
	j.LastHeartbeat = nil
}
