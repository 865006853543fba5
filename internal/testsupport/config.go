package testsupport

import (
	"os"
	"path/filepath"
	"testing"

	"bundlex/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.UploadDir = filepath.Join(base, "uploads")
	cfgVal.Paths.OutputDir = filepath.Join(base, "extractions")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.APIBind = "127.0.0.1:0"
	cfgVal.Queue.PollIntervalSeconds = 1
	cfgVal.Server.RateLimitEnabled = false

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithMaxPendingJobs overrides the admission ceiling on the test config.
func WithMaxPendingJobs(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Queue.MaxPendingJobs = n
	}
}

// WithWorkerCount overrides the worker pool size on the test config.
func WithWorkerCount(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Queue.WorkerCount = n
	}
}

// WithRateLimit enables upload rate limiting with the given budget.
func WithRateLimit(perMinute, windowSeconds int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Server.RateLimitEnabled = true
		b.cfg.Server.RateLimitPerMinute = perMinute
		b.cfg.Server.RateLimitWindowSeconds = windowSeconds
	}
}

// WithStubbedBinary writes an executable shell script under a per-test bin
// directory, points tools.bundle_binary at it, and prepends the directory to
// PATH. The script body is supplied by the caller.
func WithStubbedBinary(script string) ConfigOption {
	return func(b *configBuilder) {
		binDir := filepath.Join(b.baseDir, "bin")
		if err := os.MkdirAll(binDir, 0o755); err != nil {
			b.t.Fatalf("mkdir bin dir: %v", err)
		}
		target := filepath.Join(binDir, "bundletool")
		if err := os.WriteFile(target, []byte(script), 0o755); err != nil {
			b.t.Fatalf("write stub bundletool: %v", err)
		}
		b.cfg.Tools.BundleBinary = target

		oldPath := os.Getenv("PATH")
		if err := os.Setenv("PATH", binDir+string(os.PathListSeparator)+oldPath); err != nil {
			b.t.Fatalf("set PATH: %v", err)
		}
		b.t.Cleanup(func() {
			_ = os.Setenv("PATH", oldPath)
		})
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.UploadDir)
}
