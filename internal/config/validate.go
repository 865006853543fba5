package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateServer(); err != nil {
		return err
	}
	if err := c.validateQueue(); err != nil {
		return err
	}
	if err := c.validateJanitor(); err != nil {
		return err
	}
	if err := c.validateTools(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePaths() error {
	if c.Paths.UploadDir == "" {
		return errors.New("paths.upload_dir must be set")
	}
	if c.Paths.OutputDir == "" {
		return errors.New("paths.output_dir must be set")
	}
	if c.Paths.LogDir == "" {
		return errors.New("paths.log_dir must be set")
	}
	if c.Paths.APIBind == "" {
		return errors.New("paths.api_bind must be set")
	}
	return nil
}

func (c *Config) validateServer() error {
	if c.Server.MaxUploadBytes <= 0 {
		return errors.New("server.max_upload_bytes must be positive")
	}
	if c.Server.RateLimitEnabled {
		if c.Server.RateLimitPerMinute <= 0 {
			return errors.New("server.rate_limit_per_minute must be positive when rate limiting is enabled")
		}
		if c.Server.RateLimitWindowSeconds <= 0 {
			return errors.New("server.rate_limit_window_seconds must be positive when rate limiting is enabled")
		}
	}
	return nil
}

func (c *Config) validateQueue() error {
	if c.Queue.MaxPendingJobs <= 0 {
		return errors.New("queue.max_pending_jobs must be positive")
	}
	if c.Queue.WorkerCount <= 0 {
		return errors.New("queue.worker_count must be positive")
	}
	if c.Queue.WorkerCount > 64 {
		return fmt.Errorf("queue.worker_count %d is unreasonably large", c.Queue.WorkerCount)
	}
	if c.Queue.PollIntervalSeconds <= 0 {
		return errors.New("queue.poll_interval_seconds must be positive")
	}
	if c.Queue.JobTimeoutSeconds <= 0 {
		return errors.New("queue.job_timeout_seconds must be positive")
	}
	return nil
}

func (c *Config) validateJanitor() error {
	if c.Janitor.CleanupIntervalSeconds <= 0 {
		return errors.New("janitor.cleanup_interval_seconds must be positive")
	}
	if c.Janitor.RetentionHours <= 0 {
		return errors.New("janitor.retention_hours must be positive")
	}
	return nil
}

func (c *Config) validateTools() error {
	if c.Tools.BundleBinary == "" {
		return errors.New("tools.bundle_binary must be set")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "", "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}
