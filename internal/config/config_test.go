package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	if err := cfg.applyEnvOverrides(func(string) string { return "" }); err != nil {
		t.Fatalf("applyEnvOverrides: %v", err)
	}
	if err := cfg.normalize(); err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config failed validation: %v", err)
	}
	port, err := cfg.Port()
	if err != nil {
		t.Fatalf("Port: %v", err)
	}
	if port != 5000 {
		t.Fatalf("expected default port 5000, got %d", port)
	}
}

func TestLoadParsesFileAndExpandsPaths(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	contents := strings.Join([]string{
		"[server]",
		`bind = "127.0.0.1:8080"`,
		"[paths]",
		`download_dir = "` + filepath.Join(dir, "dl") + `"`,
		`log_dir = "` + filepath.Join(dir, "logs") + `"`,
	}, "\n")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, resolved, exists, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !exists {
		t.Fatal("expected config file to be reported as existing")
	}
	if resolved != path {
		t.Fatalf("expected resolved path %q, got %q", path, resolved)
	}
	if cfg.Server.Bind != "127.0.0.1:8080" {
		t.Fatalf("unexpected bind: %q", cfg.Server.Bind)
	}
	if !filepath.IsAbs(cfg.Paths.DownloadDir) {
		t.Fatalf("expected absolute download dir, got %q", cfg.Paths.DownloadDir)
	}
}

func TestLoadRejectsMalformedConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[server\nbind ="), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, _, _, err := Load(path); err == nil {
		t.Fatal("expected parse error for malformed config")
	}
}

func TestPortEnvOverrideRewritesBind(t *testing.T) {
	cfg := Default()
	env := map[string]string{EnvPort: "9000"}
	if err := cfg.applyEnvOverrides(func(key string) string { return env[key] }); err != nil {
		t.Fatalf("applyEnvOverrides: %v", err)
	}
	if cfg.Server.Bind != "0.0.0.0:9000" {
		t.Fatalf("expected bind rewritten to 0.0.0.0:9000, got %q", cfg.Server.Bind)
	}
}

func TestPortEnvOverrideRejectsInvalidValues(t *testing.T) {
	for _, value := range []string{"zero", "-1", "0", "70000"} {
		cfg := Default()
		env := map[string]string{EnvPort: value}
		if err := cfg.applyEnvOverrides(func(key string) string { return env[key] }); err == nil {
			t.Fatalf("expected error for PORT=%q", value)
		}
	}
}

func TestEnvOverridesApplyToolAndRateLimitSettings(t *testing.T) {
	cfg := Default()
	env := map[string]string{
		EnvAPIKey:              "secret",
		EnvCookies:             "# Netscape HTTP Cookie File",
		EnvFFmpegPath:          "/opt/ffmpeg/bin/ffmpeg",
		EnvRateLimitCount:      "9",
		EnvRateLimitWindow:     "120",
		EnvRateLimitConcurrent: "2",
		EnvYtDlpAutoUpdate:     "true",
		EnvYtDlpUpdateInterval: "15",
	}
	if err := cfg.applyEnvOverrides(func(key string) string { return env[key] }); err != nil {
		t.Fatalf("applyEnvOverrides: %v", err)
	}
	if cfg.Server.APIKey != "secret" {
		t.Fatalf("api key override not applied: %q", cfg.Server.APIKey)
	}
	if cfg.Tools.FFmpeg != "/opt/ffmpeg/bin/ffmpeg" {
		t.Fatalf("ffmpeg override not applied: %q", cfg.Tools.FFmpeg)
	}
	if cfg.RateLimit.Requests != 9 || cfg.RateLimit.WindowSeconds != 120 || cfg.RateLimit.Concurrent != 2 {
		t.Fatalf("rate limit overrides not applied: %+v", cfg.RateLimit)
	}
	if !cfg.Tools.AutoUpdate || cfg.Tools.UpdateIntervalMinutes != 15 {
		t.Fatalf("updater overrides not applied: %+v", cfg.Tools)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty bind", func(c *Config) { c.Server.Bind = "" }},
		{"bind without port", func(c *Config) { c.Server.Bind = "0.0.0.0" }},
		{"bind port out of range", func(c *Config) { c.Server.Bind = "0.0.0.0:99999" }},
		{"unknown format", func(c *Config) { c.Downloads.DefaultFormat = "avi" }},
		{"zero retention", func(c *Config) { c.Downloads.RetentionMinutes = 0 }},
		{"zero rate limit", func(c *Config) { c.RateLimit.Requests = 0 }},
		{"heartbeat timeout below interval", func(c *Config) {
			c.Workflow.HeartbeatInterval = 30
			c.Workflow.HeartbeatTimeout = 30
		}},
	}
	for _, tc := range cases {
		cfg := Default()
		if err := cfg.normalize(); err != nil {
			t.Fatalf("%s: normalize: %v", tc.name, err)
		}
		tc.mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
	}
}

func TestCreateSampleWritesParsableConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if err := CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	if _, _, exists, err := Load(path); err != nil || !exists {
		t.Fatalf("expected sample config to load, exists=%v err=%v", exists, err)
	}
}
