package config

const (
	defaultUploadDir              = "~/.local/share/bundlex/uploads"
	defaultOutputDir              = "~/.local/share/bundlex/extractions"
	defaultLogDir                 = "~/.local/share/bundlex/logs"
	defaultAPIBind                = "127.0.0.1:8347"
	defaultMaxUploadBytes         = 500 * 1024 * 1024
	defaultRateLimitPerMinute     = 10
	defaultRateLimitWindowSeconds = 60
	defaultMaxPendingJobs         = 32
	defaultWorkerCount            = 2
	defaultPollIntervalSeconds    = 2
	defaultJobTimeoutSeconds      = 900
	defaultCleanupIntervalSeconds = 3600
	defaultRetentionHours         = 24
	defaultBundleBinary           = "bundletool"
	defaultLogFormat              = "console"
	defaultLogLevel               = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			UploadDir: defaultUploadDir,
			OutputDir: defaultOutputDir,
			LogDir:    defaultLogDir,
			APIBind:   defaultAPIBind,
		},
		Server: Server{
			MaxUploadBytes:         defaultMaxUploadBytes,
			RateLimitEnabled:       true,
			RateLimitPerMinute:     defaultRateLimitPerMinute,
			RateLimitWindowSeconds: defaultRateLimitWindowSeconds,
		},
		Queue: Queue{
			MaxPendingJobs:      defaultMaxPendingJobs,
			WorkerCount:         defaultWorkerCount,
			PollIntervalSeconds: defaultPollIntervalSeconds,
			JobTimeoutSeconds:   defaultJobTimeoutSeconds,
		},
		Janitor: Janitor{
			CleanupIntervalSeconds: defaultCleanupIntervalSeconds,
			RetentionHours:         defaultRetentionHours,
		},
		Tools: Tools{
			BundleBinary: defaultBundleBinary,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
