package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateDownloads(); err != nil {
		return err
	}
	if err := c.validateRateLimit(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateTools(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateServer() error {
	bind := strings.TrimSpace(c.Server.Bind)
	if bind == "" {
		return errors.New("server.bind must be set")
	}
	_, portStr, err := net.SplitHostPort(bind)
	if err != nil {
		return fmt.Errorf("server.bind %q must be host:port: %w", bind, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("server.bind port %q must be a valid TCP port", portStr)
	}
	return nil
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.DownloadDir) == "" {
		return errors.New("paths.download_dir must be set")
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		return errors.New("paths.log_dir must be set")
	}
	return nil
}

func (c *Config) validateDownloads() error {
	if c.Downloads.RetentionMinutes < 1 {
		return errors.New("downloads.retention_minutes must be at least 1")
	}
	switch c.Downloads.DefaultFormat {
	case "mp4", "mp3":
		return nil
	default:
		return fmt.Errorf("downloads.default_format %q must be mp4 or mp3", c.Downloads.DefaultFormat)
	}
}

func (c *Config) validateRateLimit() error {
	if c.RateLimit.Requests < 1 {
		return errors.New("ratelimit.requests must be at least 1")
	}
	if c.RateLimit.WindowSeconds < 1 {
		return errors.New("ratelimit.window_seconds must be at least 1")
	}
	if c.RateLimit.Concurrent < 1 {
		return errors.New("ratelimit.concurrent must be at least 1")
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if c.Workflow.QueuePollInterval < 1 {
		return errors.New("workflow.queue_poll_interval must be at least 1 second")
	}
	if c.Workflow.ErrorRetryInterval < 1 {
		return errors.New("workflow.error_retry_interval must be at least 1 second")
	}
	if c.Workflow.HeartbeatInterval < 1 {
		return errors.New("workflow.heartbeat_interval must be at least 1 second")
	}
	if c.Workflow.HeartbeatTimeout <= c.Workflow.HeartbeatInterval {
		return errors.New("workflow.heartbeat_timeout must exceed workflow.heartbeat_interval")
	}
	return nil
}

func (c *Config) validateTools() error {
	if c.Tools.AutoUpdate && c.Tools.UpdateIntervalMinutes < 1 {
		return errors.New("tools.update_interval_minutes must be at least 1 when auto_update is enabled")
	}
	return nil
}
