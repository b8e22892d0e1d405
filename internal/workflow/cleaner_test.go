package workflow_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"instaweb/internal/logging"
	"instaweb/internal/progress"
	"instaweb/internal/queue"
	"instaweb/internal/testsupport"
	"instaweb/internal/workflow"
)

func TestSweepRemovesExpiredTerminalJobs(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Downloads.RetentionMinutes = 0
	store := testsupport.MustOpenStore(t, cfg)
	hub := progress.NewHub()
	cleaner := workflow.NewCleaner(cfg, store, logging.NewNop(), hub)

	ctx := context.Background()
	ready := testsupport.NewJob(t, store, "https://www.instagram.com/reel/CLN000001/", "mp4")
	filePath := filepath.Join(cfg.Paths.DownloadDir, ready.Token+".mp4")
	testsupport.WriteFile(t, filePath, 128)
	ready.SetReady(filePath, "clip.mp4", 128)
	if err := store.Update(ctx, ready); err != nil {
		t.Fatalf("Update: %v", err)
	}
	hub.Publish(ready.Token, progress.Snapshot{Status: string(queue.StatusReady)})

	pending := testsupport.NewJob(t, store, "https://www.instagram.com/reel/CLN000002/", "mp4")

	// Zero retention expires terminal jobs as soon as updated_at is in the past.
	time.Sleep(50 * time.Millisecond)
	removed, err := cleaner.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 removed job, got %d", removed)
	}

	if _, err := os.Stat(filePath); !os.IsNotExist(err) {
		t.Fatalf("expected file removed, stat err=%v", err)
	}
	if job, _ := store.GetByID(ctx, ready.ID); job != nil {
		t.Fatal("expected expired job row removed")
	}
	if _, ok := hub.Latest(ready.Token); ok {
		t.Fatal("expected hub snapshot forgotten")
	}
	if job, _ := store.GetByID(ctx, pending.ID); job == nil {
		t.Fatal("pending job must survive the sweep")
	}
}

func TestSweepKeepsJobsInsideRetention(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Downloads.RetentionMinutes = 30
	store := testsupport.MustOpenStore(t, cfg)
	cleaner := workflow.NewCleaner(cfg, store, logging.NewNop(), progress.NewHub())

	ctx := context.Background()
	ready := testsupport.NewJob(t, store, "https://www.instagram.com/reel/CLN000003/", "mp4")
	filePath := filepath.Join(cfg.Paths.DownloadDir, ready.Token+".mp4")
	testsupport.WriteFile(t, filePath, 64)
	ready.SetReady(filePath, "clip.mp4", 64)
	if err := store.Update(ctx, ready); err != nil {
		t.Fatalf("Update: %v", err)
	}

	removed, err := cleaner.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if removed != 0 {
		t.Fatalf("expected no removals inside retention, got %d", removed)
	}
	if _, err := os.Stat(filePath); err != nil {
		t.Fatalf("expected file kept: %v", err)
	}
}

func TestSweepToleratesMissingFiles(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Downloads.RetentionMinutes = 0
	store := testsupport.MustOpenStore(t, cfg)
	cleaner := workflow.NewCleaner(cfg, store, logging.NewNop(), progress.NewHub())

	ctx := context.Background()
	ready := testsupport.NewJob(t, store, "https://www.instagram.com/reel/CLN000004/", "mp4")
	ready.SetReady(filepath.Join(cfg.Paths.DownloadDir, "already-gone.mp4"), "clip.mp4", 64)
	if err := store.Update(ctx, ready); err != nil {
		t.Fatalf("Update: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	removed, err := cleaner.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected job removed despite missing file, got %d", removed)
	}
}
