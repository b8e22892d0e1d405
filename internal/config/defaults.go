package config

const (
	defaultBind                  = "0.0.0.0:5000"
	defaultDownloadDir           = "~/.local/share/instaweb/downloads"
	defaultLogDir                = "~/.local/share/instaweb/logs"
	defaultRetentionMinutes      = 30
	defaultFormat                = "mp4"
	defaultUpdateIntervalMinutes = 60
	defaultRateLimitRequests     = 5
	defaultRateLimitWindow       = 3600
	defaultRateLimitConcurrent   = 3
	defaultQueuePollInterval     = 2
	defaultErrorRetryInterval    = 10
	defaultHeartbeatInterval     = 15
	defaultHeartbeatTimeout      = 120
	defaultLogFormat             = "console"
	defaultLogLevel              = "info"
	defaultLogRetentionDays      = 14
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Server: Server{
			Bind:              defaultBind,
			TrustProxyHeaders: true,
		},
		Paths: Paths{
			DownloadDir: defaultDownloadDir,
			LogDir:      defaultLogDir,
		},
		Downloads: Downloads{
			RetentionMinutes: defaultRetentionMinutes,
			DefaultFormat:    defaultFormat,
		},
		Tools: Tools{
			UpdateIntervalMinutes: defaultUpdateIntervalMinutes,
		},
		RateLimit: RateLimit{
			Requests:      defaultRateLimitRequests,
			WindowSeconds: defaultRateLimitWindow,
			Concurrent:    defaultRateLimitConcurrent,
		},
		Workflow: Workflow{
			QueuePollInterval:  defaultQueuePollInterval,
			ErrorRetryInterval: defaultErrorRetryInterval,
			HeartbeatInterval:  defaultHeartbeatInterval,
			HeartbeatTimeout:   defaultHeartbeatTimeout,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
