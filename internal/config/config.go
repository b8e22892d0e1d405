package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Server contains the HTTP listener configuration.
type Server struct {
	Bind              string `toml:"bind"`
	APIKey            string `toml:"api_key"`
	TrustProxyHeaders bool   `toml:"trust_proxy_headers"`
}

// Paths contains directory configuration.
type Paths struct {
	DownloadDir string `toml:"download_dir"`
	LogDir      string `toml:"log_dir"`
}

// Downloads contains download lifecycle configuration.
type Downloads struct {
	RetentionMinutes int    `toml:"retention_minutes"`
	DefaultFormat    string `toml:"default_format"`
}

// Tools contains external tool configuration.
type Tools struct {
	FFmpeg                string `toml:"ffmpeg"`
	YtDlp                 string `toml:"ytdlp"`
	Cookies               string `toml:"cookies"`
	Proxy                 string `toml:"proxy"`
	AutoUpdate            bool   `toml:"auto_update"`
	UpdateIntervalMinutes int    `toml:"update_interval_minutes"`
}

// RateLimit contains per-client request limiting configuration.
type RateLimit struct {
	Requests      int `toml:"requests"`
	WindowSeconds int `toml:"window_seconds"`
	Concurrent    int `toml:"concurrent"`
}

// Workflow contains worker timing and interval configuration.
type Workflow struct {
	QueuePollInterval  int `toml:"queue_poll_interval"`
	ErrorRetryInterval int `toml:"error_retry_interval"`
	HeartbeatInterval  int `toml:"heartbeat_interval"`
	HeartbeatTimeout   int `toml:"heartbeat_timeout"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Config encapsulates all configuration values for instaweb.
//
// Sections by subsystem:
//   - Server: bind address, API key protection, proxy header trust
//   - Paths: download staging and log directories
//   - Downloads: temp file retention and default output format
//   - Tools: ffmpeg/yt-dlp locations, cookies, proxy, self-update
//   - RateLimit: per-IP request budget and worker concurrency
//   - Workflow: poll intervals and heartbeat timing
//   - Logging: log format, level, and retention
type Config struct {
	Server    Server    `toml:"server"`
	Paths     Paths     `toml:"paths"`
	Downloads Downloads `toml:"downloads"`
	Tools     Tools     `toml:"tools"`
	RateLimit RateLimit `toml:"ratelimit"`
	Workflow  Workflow  `toml:"workflow"`
	Logging   Logging   `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/instaweb/config.toml")
}

// Load locates, parses, and validates a configuration file. Environment
// overrides are applied after parsing, and the returned config has all path
// fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.applyEnvOverrides(os.Getenv); err != nil {
		return nil, "", false, err
	}
	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("instaweb.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

func (c *Config) normalize() error {
	for _, field := range []*string{&c.Paths.DownloadDir, &c.Paths.LogDir} {
		expanded, err := expandPath(*field)
		if err != nil {
			return err
		}
		*field = expanded
	}
	c.Server.Bind = strings.TrimSpace(c.Server.Bind)
	c.Server.APIKey = strings.TrimSpace(c.Server.APIKey)
	c.Downloads.DefaultFormat = strings.ToLower(strings.TrimSpace(c.Downloads.DefaultFormat))
	c.Tools.FFmpeg = strings.TrimSpace(c.Tools.FFmpeg)
	c.Tools.YtDlp = strings.TrimSpace(c.Tools.YtDlp)
	c.Tools.Proxy = strings.TrimSpace(c.Tools.Proxy)
	return nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DownloadDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// Port returns the TCP port parsed from the server bind address.
func (c *Config) Port() (int, error) {
	_, portStr, err := net.SplitHostPort(c.Server.Bind)
	if err != nil {
		return 0, fmt.Errorf("parse bind address %q: %w", c.Server.Bind, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return 0, fmt.Errorf("parse bind port %q: %w", portStr, err)
	}
	return port, nil
}

// FFmpegBinary returns the ffmpeg executable used by yt-dlp postprocessing.
func (c *Config) FFmpegBinary() string {
	if c.Tools.FFmpeg != "" {
		return c.Tools.FFmpeg
	}
	return "ffmpeg"
}

// FFprobeBinary returns the ffprobe executable used for media inspection.
// When ffmpeg is pinned to an explicit path, ffprobe is expected alongside it.
func (c *Config) FFprobeBinary() string {
	if c.Tools.FFmpeg != "" {
		return filepath.Join(filepath.Dir(c.Tools.FFmpeg), "ffprobe")
	}
	return "ffprobe"
}

// YtDlpBinary returns the yt-dlp executable name.
func (c *Config) YtDlpBinary() string {
	if c.Tools.YtDlp != "" {
		return c.Tools.YtDlp
	}
	return "yt-dlp"
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
