package download

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"instaweb/internal/logging"
	"instaweb/internal/media/ffprobe"
	"instaweb/internal/progress"
	"instaweb/internal/queue"
	"instaweb/internal/services"
	"instaweb/internal/services/ytdlp"
	"instaweb/internal/testsupport"
)

type fakeClient struct {
	updates []ytdlp.ProgressUpdate
	err     error
	payload []byte
	gotReq  ytdlp.Request
}

func (f *fakeClient) Download(ctx context.Context, req ytdlp.Request, fn func(ytdlp.ProgressUpdate)) (string, error) {
	f.gotReq = req
	for _, update := range f.updates {
		if fn != nil {
			fn(update)
		}
	}
	if f.err != nil {
		return "", f.err
	}
	path := filepath.Join(req.OutputDir, req.BaseName+"."+req.Format)
	if err := os.WriteFile(path, f.payload, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func (f *fakeClient) Update(ctx context.Context) (string, error)  { return "", nil }
func (f *fakeClient) Version(ctx context.Context) (string, error) { return "test", nil }

func TestPrepareRejectsInvalidURL(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	dl := NewWithClient(store, cfg, logging.NewNop(), nil, &fakeClient{})

	job := testsupport.NewJob(t, store, "https://example.com/reel/NOPE/", "mp4")
	err := dl.Prepare(context.Background(), job)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestPrepareStagesTempDirAndCookies(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithCookies("# Netscape HTTP Cookie File\n"))
	store := testsupport.MustOpenStore(t, cfg)
	dl := NewWithClient(store, cfg, logging.NewNop(), nil, &fakeClient{})

	job := testsupport.NewJob(t, store, "https://www.instagram.com/reel/PREP12345/?igsh=x", "mp4")
	if err := dl.Prepare(context.Background(), job); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if job.SourceURL != "https://www.instagram.com/reel/PREP12345/" {
		t.Fatalf("expected normalized url, got %q", job.SourceURL)
	}
	if job.TempDir == "" {
		t.Fatal("expected temp dir to be assigned")
	}
	if _, err := os.Stat(job.TempDir); err != nil {
		t.Fatalf("temp dir missing: %v", err)
	}
	if !job.UsedCookies {
		t.Fatal("expected cookies to be staged")
	}
	cookiesPath := filepath.Join(job.TempDir, "cookies.txt")
	info, err := os.Stat(cookiesPath)
	if err != nil {
		t.Fatalf("cookies file missing: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("expected cookies mode 0600, got %v", info.Mode().Perm())
	}
}

func TestExecuteProducesReadyJob(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	hub := progress.NewHub()
	client := &fakeClient{
		payload: []byte("media-bytes"),
		updates: []ytdlp.ProgressUpdate{
			{Percent: 50, DownloadedBytes: 512, TotalBytes: 1024, ETASeconds: 3, Stage: "downloading"},
			{Percent: 100, DownloadedBytes: 1024, TotalBytes: 1024, Stage: "finished"},
		},
	}
	dl := NewWithClient(store, cfg, logging.NewNop(), hub, client)

	originalProbe := downloadProbe
	downloadProbe = func(ctx context.Context, binary, path string) (ffprobe.Result, error) {
		return ffprobe.Result{Format: ffprobe.Format{Duration: "12.5"}}, nil
	}
	t.Cleanup(func() { downloadProbe = originalProbe })

	ctx := context.Background()
	job := testsupport.NewJob(t, store, "https://www.instagram.com/reel/EXEC12345/", "mp4")
	if err := dl.Prepare(ctx, job); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	tempDir := job.TempDir
	if err := dl.Execute(ctx, job); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if job.Status != queue.StatusReady {
		t.Fatalf("expected ready job, got %s", job.Status)
	}
	wantPath := filepath.Join(cfg.Paths.DownloadDir, job.Token+".mp4")
	if job.FilePath != wantPath {
		t.Fatalf("expected file at %q, got %q", wantPath, job.FilePath)
	}
	if _, err := os.Stat(wantPath); err != nil {
		t.Fatalf("final file missing: %v", err)
	}
	if job.Filename != "Instagram Reel EXEC12345.mp4" {
		t.Fatalf("unexpected filename: %q", job.Filename)
	}
	if job.SizeBytes != int64(len("media-bytes")) {
		t.Fatalf("unexpected size: %d", job.SizeBytes)
	}
	if job.DurationSeconds != 12.5 {
		t.Fatalf("unexpected duration: %f", job.DurationSeconds)
	}
	if _, err := os.Stat(tempDir); !os.IsNotExist(err) {
		t.Fatalf("expected temp dir removed, stat err=%v", err)
	}

	snap, ok := hub.Latest(job.Token)
	if !ok || snap.Status != string(queue.StatusReady) || snap.Percent != 100 {
		t.Fatalf("unexpected hub snapshot: %#v ok=%v", snap, ok)
	}
	if client.gotReq.BaseName != job.Token {
		t.Fatalf("expected token as base name, got %q", client.gotReq.BaseName)
	}
}

func TestExecuteWrapsClientFailure(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	client := &fakeClient{err: errors.New("ERROR: login required")}
	dl := NewWithClient(store, cfg, logging.NewNop(), progress.NewHub(), client)

	ctx := context.Background()
	job := testsupport.NewJob(t, store, "https://www.instagram.com/reel/FAIL12345/", "mp4")
	if err := dl.Prepare(ctx, job); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	err := dl.Execute(ctx, job)
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected external tool error, got %v", err)
	}
	if job.Status == queue.StatusReady {
		t.Fatal("failed download must never be ready")
	}
}

func TestExecuteRequiresPrepare(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	dl := NewWithClient(store, cfg, logging.NewNop(), nil, &fakeClient{})

	job := testsupport.NewJob(t, store, "https://www.instagram.com/reel/RAW000001/", "mp4")
	if err := dl.Execute(context.Background(), job); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error for unprepared job, got %v", err)
	}
}

func TestHealthCheck(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinaries())
	store := testsupport.MustOpenStore(t, cfg)
	dl := NewWithClient(store, cfg, logging.NewNop(), nil, &fakeClient{})

	if health := dl.HealthCheck(context.Background()); !health.Ready {
		t.Fatalf("expected healthy stage, got %#v", health)
	}

	cfg.Tools.YtDlp = filepath.Join(t.TempDir(), "missing-yt-dlp")
	if health := dl.HealthCheck(context.Background()); health.Ready {
		t.Fatal("expected unhealthy stage when yt-dlp is missing")
	}
}
