package ytdlp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

var commandContext = exec.CommandContext

// ProgressUpdate captures yt-dlp download progress events.
type ProgressUpdate struct {
	Percent         float64
	DownloadedBytes int64
	TotalBytes      int64
	ETASeconds      int64
	Stage           string
}

// Request describes one download invocation.
type Request struct {
	// URL is the normalized Instagram content URL.
	URL string
	// OutputDir receives the finished file.
	OutputDir string
	// Format selects the output container: "mp4" or "mp3".
	Format string
	// BaseName is the output file stem. Defaults to "download".
	BaseName string
	// CookiesFile points at a Netscape-format cookie jar, when set.
	CookiesFile string
	// Proxy is forwarded to yt-dlp's --proxy flag, when set.
	Proxy string
	// FFmpegLocation pins the ffmpeg binary used for merging, when set.
	FFmpegLocation string
}

// Client defines yt-dlp download behaviour.
type Client interface {
	Download(ctx context.Context, req Request, progress func(ProgressUpdate)) (string, error)
	Update(ctx context.Context) (string, error)
	Version(ctx context.Context) (string, error)
}

// Option configures the CLI client.
type Option func(*CLI)

// WithBinary overrides the default binary name.
func WithBinary(binary string) Option {
	return func(c *CLI) {
		if binary != "" {
			c.binary = binary
		}
	}
}

// CLI wraps the yt-dlp command-line downloader.
type CLI struct {
	binary string
}

// NewCLI constructs a CLI client using defaults.
func NewCLI(opts ...Option) *CLI {
	cli := &CLI{binary: "yt-dlp"}
	for _, opt := range opts {
		opt(cli)
	}
	return cli
}

// Download launches yt-dlp and returns the path of the produced file.
func (c *CLI) Download(ctx context.Context, req Request, progress func(ProgressUpdate)) (string, error) {
	if strings.TrimSpace(req.URL) == "" {
		return "", errors.New("url required")
	}
	outputDir := strings.TrimSpace(req.OutputDir)
	if outputDir == "" {
		return "", errors.New("output directory required")
	}
	format := strings.TrimSpace(req.Format)
	switch format {
	case "mp4", "mp3":
	default:
		return "", fmt.Errorf("unsupported format %q", req.Format)
	}
	base := strings.TrimSpace(req.BaseName)
	if base == "" {
		base = "download"
	}

	args := []string{
		"--newline",
		"--no-playlist",
		"--progress-template", "download:%(progress)j",
		"-o", filepath.Join(outputDir, base+".%(ext)s"),
	}
	if format == "mp3" {
		args = append(args, "-x", "--audio-format", "mp3")
	} else {
		args = append(args, "-f", "bv*+ba/b", "--merge-output-format", "mp4")
	}
	if req.FFmpegLocation != "" {
		args = append(args, "--ffmpeg-location", req.FFmpegLocation)
	}
	if req.CookiesFile != "" {
		args = append(args, "--cookies", req.CookiesFile)
	}
	if req.Proxy != "" {
		args = append(args, "--proxy", req.Proxy)
	}
	args = append(args, req.URL)

	cmd := commandContext(ctx, c.binary, args...) //nolint:gosec
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("stdout pipe: %w", err)
	}
	cmd.Stderr = cmd.Stdout
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("start yt-dlp: %w", err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		var payload struct {
			Status             string  `json:"status"`
			DownloadedBytes    int64   `json:"downloaded_bytes"`
			TotalBytes         float64 `json:"total_bytes"`
			TotalBytesEstimate float64 `json:"total_bytes_estimate"`
			ETA                float64 `json:"eta"`
		}
		if err := json.Unmarshal(line, &payload); err != nil {
			continue
		}
		if progress != nil {
			progress(buildUpdate(payload.Status, payload.DownloadedBytes, payload.TotalBytes, payload.TotalBytesEstimate, payload.ETA))
		}
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("read yt-dlp output: %w", err)
	}

	if err := cmd.Wait(); err != nil {
		return "", fmt.Errorf("yt-dlp failed: %w", err)
	}

	return findOutput(outputDir, base, format)
}

// Update runs yt-dlp's self-updater and returns its output.
func (c *CLI) Update(ctx context.Context) (string, error) {
	output, err := commandContext(ctx, c.binary, "-U").CombinedOutput() //nolint:gosec
	if err != nil {
		return "", fmt.Errorf("yt-dlp update: %w: %s", err, strings.TrimSpace(string(output)))
	}
	return strings.TrimSpace(string(output)), nil
}

// Version returns the installed yt-dlp version string.
func (c *CLI) Version(ctx context.Context) (string, error) {
	output, err := commandContext(ctx, c.binary, "--version").CombinedOutput() //nolint:gosec
	if err != nil {
		return "", fmt.Errorf("yt-dlp version: %w: %s", err, strings.TrimSpace(string(output)))
	}
	return strings.TrimSpace(string(output)), nil
}

func buildUpdate(status string, downloaded int64, total, estimate, eta float64) ProgressUpdate {
	update := ProgressUpdate{
		DownloadedBytes: downloaded,
		ETASeconds:      int64(eta),
		Stage:           status,
	}
	size := total
	if size <= 0 {
		size = estimate
	}
	if size > 0 {
		update.TotalBytes = int64(size)
		update.Percent = float64(downloaded) / size * 100
		if update.Percent > 100 {
			update.Percent = 100
		}
	}
	if status == "finished" {
		update.Percent = 100
	}
	return update
}

// findOutput locates the produced file. The expected extension is checked
// first; merges can briefly produce intermediate extensions, so fall back to
// any non-partial file sharing the stem.
func findOutput(outputDir, base, format string) (string, error) {
	expected := filepath.Join(outputDir, base+"."+format)
	if _, err := os.Stat(expected); err == nil {
		return expected, nil
	}

	matches, err := filepath.Glob(filepath.Join(outputDir, base+".*"))
	if err != nil {
		return "", fmt.Errorf("scan output dir: %w", err)
	}
	for _, match := range matches {
		switch filepath.Ext(match) {
		case ".part", ".ytdl", ".temp":
			continue
		}
		return match, nil
	}
	return "", fmt.Errorf("yt-dlp produced no output for %q in %s", base, outputDir)
}

var _ Client = (*CLI)(nil)
