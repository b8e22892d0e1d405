package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Environment variable names honored at load time. These mirror the knobs the
// deployment descriptor and its runtime environment expose.
const (
	EnvPort                = "PORT"
	EnvAPIKey              = "INSTAWEB_API_KEY"
	EnvCookies             = "INSTAGRAM_COOKIES"
	EnvFFmpegPath          = "FFMPEG_PATH"
	EnvRateLimitCount      = "RATE_LIMIT_COUNT"
	EnvRateLimitWindow     = "RATE_LIMIT_WINDOW"
	EnvRateLimitConcurrent = "RATE_LIMIT_CONCURRENT"
	EnvYtDlpAutoUpdate     = "YTDLP_AUTO_UPDATE"
	EnvYtDlpUpdateInterval = "YTDLP_UPDATE_INTERVAL_MIN"
)

func (c *Config) applyEnvOverrides(getenv func(string) string) error {
	if value := strings.TrimSpace(getenv(EnvPort)); value != "" {
		port, err := strconv.Atoi(value)
		if err != nil || port < 1 || port > 65535 {
			return fmt.Errorf("%s: %q is not a valid TCP port", EnvPort, value)
		}
		host := "0.0.0.0"
		if h, _, err := net.SplitHostPort(strings.TrimSpace(c.Server.Bind)); err == nil && h != "" {
			host = h
		}
		c.Server.Bind = net.JoinHostPort(host, strconv.Itoa(port))
	}
	if value := getenv(EnvAPIKey); value != "" {
		c.Server.APIKey = value
	}
	if value := getenv(EnvCookies); value != "" {
		c.Tools.Cookies = value
	}
	if value := strings.TrimSpace(getenv(EnvFFmpegPath)); value != "" {
		c.Tools.FFmpeg = value
	}
	if value := strings.TrimSpace(getenv(EnvRateLimitCount)); value != "" {
		count, err := strconv.Atoi(value)
		if err != nil || count < 1 {
			return fmt.Errorf("%s: %q is not a positive integer", EnvRateLimitCount, value)
		}
		c.RateLimit.Requests = count
	}
	if value := strings.TrimSpace(getenv(EnvRateLimitWindow)); value != "" {
		window, err := strconv.Atoi(value)
		if err != nil || window < 1 {
			return fmt.Errorf("%s: %q is not a positive integer", EnvRateLimitWindow, value)
		}
		c.RateLimit.WindowSeconds = window
	}
	if value := strings.TrimSpace(getenv(EnvRateLimitConcurrent)); value != "" {
		concurrent, err := strconv.Atoi(value)
		if err != nil || concurrent < 1 {
			return fmt.Errorf("%s: %q is not a positive integer", EnvRateLimitConcurrent, value)
		}
		c.RateLimit.Concurrent = concurrent
	}
	if value := strings.TrimSpace(getenv(EnvYtDlpAutoUpdate)); value != "" {
		switch strings.ToLower(value) {
		case "1", "true", "yes":
			c.Tools.AutoUpdate = true
		default:
			c.Tools.AutoUpdate = false
		}
	}
	if value := strings.TrimSpace(getenv(EnvYtDlpUpdateInterval)); value != "" {
		minutes, err := strconv.Atoi(value)
		if err != nil || minutes < 1 {
			return fmt.Errorf("%s: %q is not a positive integer", EnvYtDlpUpdateInterval, value)
		}
		c.Tools.UpdateIntervalMinutes = minutes
	}
	return nil
}
