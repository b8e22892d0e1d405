package daemon

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"instaweb/internal/instagram"
	"instaweb/internal/logging"
	"instaweb/internal/progress"
	"instaweb/internal/queue"
)

//go:embed web/index.html
var indexHTML []byte

// eventsPollInterval bounds how stale an event stream can get when the
// progress hub has no snapshot for a job.
const eventsPollInterval = 500 * time.Millisecond

type startRequest struct {
	URL    string `json:"url"`
	Format string `json:"format"`
	APIKey string `json:"api_key"`
}

type jobView struct {
	JobID           string  `json:"job_id"`
	Status          string  `json:"status"`
	URL             string  `json:"url"`
	Format          string  `json:"format"`
	Stage           string  `json:"stage,omitempty"`
	Percent         float64 `json:"percent"`
	Message         string  `json:"message,omitempty"`
	DownloadedBytes int64   `json:"downloaded_bytes,omitempty"`
	TotalBytes      int64   `json:"total_bytes,omitempty"`
	ETASeconds      int64   `json:"eta_seconds,omitempty"`
	Error           string  `json:"error,omitempty"`
	Filename        string  `json:"filename,omitempty"`
	SizeBytes       int64   `json:"size_bytes,omitempty"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
	CreatedAt       string  `json:"created_at"`
	UpdatedAt       string  `json:"updated_at"`
}

func viewFromJob(job *queue.Job) jobView {
	return jobView{
		JobID:           job.Token,
		Status:          string(job.Status),
		URL:             job.SourceURL,
		Format:          job.Format,
		Stage:           job.ProgressStage,
		Percent:         job.ProgressPercent,
		Message:         job.ProgressMessage,
		DownloadedBytes: job.DownloadedBytes,
		TotalBytes:      job.TotalBytes,
		ETASeconds:      job.ETASeconds,
		Error:           job.ErrorMessage,
		Filename:        job.Filename,
		SizeBytes:       job.SizeBytes,
		DurationSeconds: job.DurationSeconds,
		CreatedAt:       job.CreatedAt.Format(time.RFC3339),
		UpdatedAt:       job.UpdatedAt.Format(time.RFC3339),
	}
}

func snapshotFromJob(job *queue.Job) progress.Snapshot {
	return progress.Snapshot{
		Status:          string(job.Status),
		Stage:           job.ProgressStage,
		Percent:         job.ProgressPercent,
		Message:         job.ProgressMessage,
		DownloadedBytes: job.DownloadedBytes,
		TotalBytes:      job.TotalBytes,
		ETASeconds:      job.ETASeconds,
		Error:           job.ErrorMessage,
		UpdatedAt:       job.UpdatedAt,
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		s.writeError(w, http.StatusNotFound, "not found")
		return
	}
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(indexHTML)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	health, err := s.daemon.JobHealth(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"jobs":   health.Total,
	})
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req startRequest
	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "application/json") {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	} else {
		if err := r.ParseForm(); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid form body")
			return
		}
		req.URL = r.FormValue("url")
		req.Format = r.FormValue("format")
		req.APIKey = r.FormValue("api_key")
	}

	if s.cfg.Server.APIKey != "" {
		supplied := requestAPIKey(r)
		if supplied == "" {
			supplied = strings.TrimSpace(req.APIKey)
		}
		if supplied != s.cfg.Server.APIKey {
			s.writeError(w, http.StatusUnauthorized, "invalid API key")
			return
		}
	}

	post, err := instagram.ValidateURL(req.URL)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	format := strings.ToLower(strings.TrimSpace(req.Format))
	if format == "" {
		format = s.cfg.Downloads.DefaultFormat
	}
	if format != "mp4" && format != "mp3" {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported format %q", req.Format))
		return
	}

	// The limiter only sees well-formed requests; a rejected URL must not
	// count against the client's window.
	ip := clientIP(r, s.cfg.Server.TrustProxyHeaders)
	if !s.limiter.Allow(ip) {
		retry := s.limiter.Retry(ip)
		w.Header().Set("Retry-After", strconv.Itoa(int(retry.Seconds())+1))
		s.writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
		return
	}

	job, err := s.store.NewJob(r.Context(), queue.NewJobParams{
		SourceURL:   post.URL,
		Format:      format,
		ClientIP:    ip,
		UsedCookies: s.cfg.Tools.Cookies != "",
		UsedProxy:   s.cfg.Tools.Proxy != "",
	})
	if err != nil {
		s.log().Error("failed to enqueue job", logging.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to enqueue job")
		return
	}
	s.hub.Publish(job.Token, snapshotFromJob(job))
	s.log().Info("job enqueued",
		logging.Int64(logging.FieldJobID, job.ID),
		logging.String(logging.FieldJobToken, job.Token),
		logging.String("url", job.SourceURL),
		logging.String("format", job.Format),
	)

	s.writeJSON(w, http.StatusAccepted, map[string]string{
		"job_id": job.Token,
		"status": string(job.Status),
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	token := strings.TrimPrefix(r.URL.Path, "/events/")
	if token == "" || strings.Contains(token, "/") {
		s.writeError(w, http.StatusNotFound, "unknown job")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	job, err := s.store.GetByToken(r.Context(), token)
	if err != nil {
		s.log().Warn("event stream lookup failed", logging.Error(err))
		return
	}
	if job == nil {
		writeEvent(w, progress.Snapshot{Status: "unknown"})
		flusher.Flush()
		return
	}

	last := snapshotFromJob(job)
	writeEvent(w, last)
	flusher.Flush()
	if isTerminal(last.Status) {
		return
	}

	var since uint64
	if snap, ok := s.hub.Latest(token); ok {
		since = snap.Sequence
	}

	for {
		waitCtx, cancel := context.WithTimeout(r.Context(), eventsPollInterval)
		snap, found, err := s.hub.Await(waitCtx, token, since)
		cancel()
		if err != nil && r.Context().Err() != nil {
			return
		}

		if !found {
			// The hub forgets swept jobs; fall back to the store.
			job, storeErr := s.store.GetByToken(r.Context(), token)
			if storeErr != nil {
				return
			}
			if job == nil {
				writeEvent(w, progress.Snapshot{Status: "unknown"})
				flusher.Flush()
				return
			}
			snap = snapshotFromJob(job)
		} else {
			since = snap.Sequence
		}

		if snap.Status != last.Status || snap.Percent != last.Percent || snap.Message != last.Message {
			writeEvent(w, snap)
			flusher.Flush()
			last = snap
		}
		if isTerminal(snap.Status) {
			return
		}
	}
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	token := strings.TrimPrefix(r.URL.Path, "/download/")
	if token == "" || strings.Contains(token, "/") {
		s.writeError(w, http.StatusNotFound, "unknown job")
		return
	}

	job, err := s.store.GetByToken(r.Context(), token)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if job == nil {
		s.writeError(w, http.StatusNotFound, "unknown job")
		return
	}
	if job.Status != queue.StatusReady {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("job is not ready (status %s)", job.Status))
		return
	}

	filename := job.Filename
	if filename == "" {
		filename = "download." + strings.ToLower(strings.TrimSpace(job.Format))
	}
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	http.ServeFile(w, r, job.FilePath)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	status := s.daemon.Status(r.Context())

	type dependencyView struct {
		Name      string `json:"name"`
		Command   string `json:"command"`
		Optional  bool   `json:"optional"`
		Available bool   `json:"available"`
		Detail    string `json:"detail,omitempty"`
	}
	dependencies := make([]dependencyView, 0, len(status.Dependencies))
	for _, dep := range status.Dependencies {
		dependencies = append(dependencies, dependencyView{
			Name:      dep.Name,
			Command:   dep.Command,
			Optional:  dep.Optional,
			Available: dep.Available,
			Detail:    dep.Detail,
		})
	}

	stats := make(map[string]int, len(status.Workflow.QueueStats))
	for st, count := range status.Workflow.QueueStats {
		stats[string(st)] = count
	}

	payload := map[string]any{
		"running":         status.Running,
		"workers":         status.Workflow.Workers,
		"last_error":      status.Workflow.LastError,
		"queue":           stats,
		"job_db_path":     status.JobDBPath,
		"lock_file":       status.LockFilePath,
		"stage_ready":     status.Workflow.StageHealth.Ready,
		"stage_detail":    status.Workflow.StageHealth.Detail,
		"dependencies":    dependencies,
		"tracked_clients": s.limiter.Size(),
	}
	if status.Workflow.ActiveJob != nil {
		payload["active_job"] = viewFromJob(status.Workflow.ActiveJob)
	}
	s.writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var statuses []queue.Status
	for _, value := range r.URL.Query()["status"] {
		status, ok := queue.ParseStatus(value)
		if !ok {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown status %q", value))
			return
		}
		statuses = append(statuses, status)
	}

	jobs, err := s.daemon.ListJobs(r.Context(), statuses)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	views := make([]jobView, 0, len(jobs))
	for _, job := range jobs {
		views = append(views, viewFromJob(job))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"jobs": views})
}

func (s *Server) handleJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	idStr := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
	if idStr == "" || strings.Contains(idStr, "/") {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}
	job, err := s.store.GetByID(r.Context(), id)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if job == nil {
		s.writeError(w, http.StatusNotFound, "job not found")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"job": viewFromJob(job)})
}

func writeEvent(w http.ResponseWriter, snap progress.Snapshot) {
	payload, err := json.Marshal(snap)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", payload)
}

func isTerminal(status string) bool {
	return status == string(queue.StatusReady) ||
		status == string(queue.StatusFailed) ||
		status == "unknown"
}
