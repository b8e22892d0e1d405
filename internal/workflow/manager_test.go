package workflow_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"instaweb/internal/logging"
	"instaweb/internal/progress"
	"instaweb/internal/queue"
	"instaweb/internal/stage"
	"instaweb/internal/testsupport"
	"instaweb/internal/workflow"
)

type stubHandler struct {
	prepareErr error
	executeErr error
	executed   atomic.Int64
}

func (s *stubHandler) Prepare(ctx context.Context, job *queue.Job) error {
	if s.prepareErr != nil {
		return s.prepareErr
	}
	job.SetProgress("Starting", "Preparing download", 0)
	return nil
}

func (s *stubHandler) Execute(ctx context.Context, job *queue.Job) error {
	s.executed.Add(1)
	if s.executeErr != nil {
		return s.executeErr
	}
	job.SetReady("/tmp/out/"+job.Token+".mp4", "clip.mp4", 1024)
	return nil
}

func (s *stubHandler) HealthCheck(ctx context.Context) stage.Health {
	return stage.Healthy("download")
}

func waitForStatus(t *testing.T, store *queue.Store, id int64, want queue.Status) *queue.Job {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		job, err := store.GetByID(context.Background(), id)
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if job != nil && job.Status == want {
			return job
		}
		time.Sleep(25 * time.Millisecond)
	}
	t.Fatalf("job %d never reached status %s", id, want)
	return nil
}

func TestManagerProcessesJobToReady(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.RateLimit.Concurrent = 1
	store := testsupport.MustOpenStore(t, cfg)
	hub := progress.NewHub()
	handler := &stubHandler{}
	manager := workflow.NewManager(cfg, store, logging.NewNop(), hub, handler)

	job := testsupport.NewJob(t, store, "https://www.instagram.com/reel/MGR000001/", "mp4")

	if err := manager.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(manager.Stop)

	done := waitForStatus(t, store, job.ID, queue.StatusReady)
	if done.Filename != "clip.mp4" {
		t.Fatalf("unexpected filename: %q", done.Filename)
	}
	if handler.executed.Load() != 1 {
		t.Fatalf("expected exactly one execution, got %d", handler.executed.Load())
	}

	snap, ok := hub.Latest(job.Token)
	if !ok || snap.Status != string(queue.StatusReady) {
		t.Fatalf("unexpected hub snapshot: %#v ok=%v", snap, ok)
	}
}

func TestManagerFailedDownloadNeverBecomesReady(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.RateLimit.Concurrent = 1
	store := testsupport.MustOpenStore(t, cfg)
	hub := progress.NewHub()
	handler := &stubHandler{executeErr: errors.New("network dropped mid-transfer")}
	manager := workflow.NewManager(cfg, store, logging.NewNop(), hub, handler)

	job := testsupport.NewJob(t, store, "https://www.instagram.com/reel/MGR000002/", "mp4")

	if err := manager.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(manager.Stop)

	failed := waitForStatus(t, store, job.ID, queue.StatusFailed)
	if failed.ErrorMessage == "" {
		t.Fatal("expected failure message to be recorded")
	}
	if failed.ProgressStage != "Failed" {
		t.Fatalf("unexpected progress stage: %q", failed.ProgressStage)
	}

	snap, ok := hub.Latest(job.Token)
	if !ok || snap.Status != string(queue.StatusFailed) || snap.Error == "" {
		t.Fatalf("unexpected hub snapshot: %#v ok=%v", snap, ok)
	}

	status := manager.Status(context.Background())
	if status.LastError == "" {
		t.Fatal("expected last error in status summary")
	}
}

func TestManagerPrepareFailureMarksJobFailed(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.RateLimit.Concurrent = 1
	store := testsupport.MustOpenStore(t, cfg)
	handler := &stubHandler{prepareErr: errors.New("invalid url")}
	manager := workflow.NewManager(cfg, store, logging.NewNop(), progress.NewHub(), handler)

	job := testsupport.NewJob(t, store, "https://www.instagram.com/reel/MGR000003/", "mp4")

	if err := manager.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(manager.Stop)

	waitForStatus(t, store, job.ID, queue.StatusFailed)
	if handler.executed.Load() != 0 {
		t.Fatal("execute must not run after prepare failure")
	}
}

type blockingHandler struct {
	started chan struct{}
	once    sync.Once
}

func (b *blockingHandler) Prepare(ctx context.Context, job *queue.Job) error { return nil }

func (b *blockingHandler) Execute(ctx context.Context, job *queue.Job) error {
	b.once.Do(func() { close(b.started) })
	<-ctx.Done()
	return ctx.Err()
}

func (b *blockingHandler) HealthCheck(ctx context.Context) stage.Health {
	return stage.Healthy("download")
}

func TestManagerShutdownMarksInterruptedJobFailed(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.RateLimit.Concurrent = 1
	store := testsupport.MustOpenStore(t, cfg)
	hub := progress.NewHub()
	handler := &blockingHandler{started: make(chan struct{})}
	manager := workflow.NewManager(cfg, store, logging.NewNop(), hub, handler)

	job := testsupport.NewJob(t, store, "https://www.instagram.com/reel/MGR000005/", "mp4")

	if err := manager.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case <-handler.started:
	case <-time.After(10 * time.Second):
		t.Fatal("worker never picked up the job")
	}

	status := manager.Status(context.Background())
	if status.ActiveJob == nil || status.ActiveJob.ID != job.ID {
		t.Fatalf("expected active job %d in status, got %#v", job.ID, status.ActiveJob)
	}

	manager.Stop()

	stopped, err := store.GetByID(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if stopped.Status != queue.StatusFailed {
		t.Fatalf("interrupted job status = %s, want failed", stopped.Status)
	}
	if stopped.ErrorMessage != queue.DaemonStopReason {
		t.Fatalf("interrupted job error = %q, want %q", stopped.ErrorMessage, queue.DaemonStopReason)
	}

	snap, ok := hub.Latest(job.Token)
	if !ok || snap.Status != string(queue.StatusFailed) {
		t.Fatalf("unexpected hub snapshot: %#v ok=%v", snap, ok)
	}
}

func TestManagerStartGuards(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)

	manager := workflow.NewManager(cfg, store, logging.NewNop(), progress.NewHub(), nil)
	if err := manager.Start(context.Background()); err == nil {
		t.Fatal("expected error when stage handler is missing")
	}

	manager = workflow.NewManager(cfg, store, logging.NewNop(), progress.NewHub(), &stubHandler{})
	if err := manager.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(manager.Stop)
	if err := manager.Start(context.Background()); err == nil {
		t.Fatal("expected error when already running")
	}
}

func TestManagerStatusReportsQueueAndHealth(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	manager := workflow.NewManager(cfg, store, logging.NewNop(), progress.NewHub(), &stubHandler{})

	testsupport.NewJob(t, store, "https://www.instagram.com/reel/MGR000004/", "mp4")

	status := manager.Status(context.Background())
	if status.Running {
		t.Fatal("expected manager to be stopped")
	}
	if status.QueueStats[queue.StatusPending] != 1 {
		t.Fatalf("unexpected queue stats: %#v", status.QueueStats)
	}
	if !status.StageHealth.Ready {
		t.Fatalf("expected healthy stage, got %#v", status.StageHealth)
	}
}
