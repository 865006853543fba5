// Package daemon composes the store, worker pool, janitor, and HTTP API into
// the single-instance bundlexd process.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync/atomic"

	"github.com/gofrs/flock"

	"bundlex/internal/api"
	"bundlex/internal/bundle"
	"bundlex/internal/cancellation"
	"bundlex/internal/config"
	"bundlex/internal/deps"
	"bundlex/internal/janitor"
	"bundlex/internal/logging"
	"bundlex/internal/queue"
	"bundlex/internal/storage"
	"bundlex/internal/worker"
)

// Daemon coordinates the background services and enforces single-instance
// execution.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *queue.Store
	files    *storage.Manager
	registry *cancellation.Registry
	pool     *worker.Pool
	janitor  *janitor.Janitor
	service  *api.Service
	server   *apiServer

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	cancel  context.CancelFunc
}

// New constructs a daemon around an opened store and a bundletool client.
func New(cfg *config.Config, store *queue.Store, client bundle.Client, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || store == nil || client == nil {
		return nil, errors.New("daemon requires config, store, and bundle client")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	files := storage.NewManager(cfg)
	registry := cancellation.NewRegistry()

	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    store,
		files:    files,
		registry: registry,
		pool:     worker.NewPool(cfg, store, client, files, registry, logger),
		janitor:  janitor.New(cfg, store, files, logger),
		service:  api.NewService(cfg, store, files, registry, logger),
		lockPath: filepath.Join(cfg.Paths.LogDir, "bundlexd.lock"),
	}
	d.lock = flock.New(d.lockPath)
	d.server = newAPIServer(cfg, d.service, logger)
	return d, nil
}

// Start acquires the daemon lock, repairs interrupted sessions, and launches
// the workers, janitor, and HTTP API.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another bundlexd instance is already running")
	}

	for _, status := range deps.CheckBinaries(deps.Required(d.cfg)) {
		if !status.Available {
			d.logger.Warn("external dependency unavailable",
				logging.Args(logging.String("name", status.Name), logging.String("detail", status.Detail))...)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	if repaired, err := d.store.ResetStuck(runCtx); err != nil {
		d.releaseStart()
		return fmt.Errorf("reset stuck sessions: %w", err)
	} else if repaired > 0 {
		d.logger.Warn("failed sessions interrupted by previous shutdown",
			logging.Args(logging.Int64("sessions", repaired))...)
	}

	if err := d.pool.Start(runCtx); err != nil {
		d.releaseStart()
		return fmt.Errorf("start worker pool: %w", err)
	}
	if err := d.janitor.Start(runCtx); err != nil {
		d.pool.Stop()
		d.releaseStart()
		return fmt.Errorf("start janitor: %w", err)
	}
	if err := d.server.start(runCtx); err != nil {
		d.janitor.Stop()
		d.pool.Stop()
		d.releaseStart()
		return fmt.Errorf("start api server: %w", err)
	}

	d.running.Store(true)
	d.logger.Info("bundlexd started", logging.Args(logging.String("lock", d.lockPath))...)
	return nil
}

func (d *Daemon) releaseStart() {
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	_ = d.lock.Unlock()
}

// Stop halts background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}

	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.server.stop()
	d.janitor.Stop()
	d.pool.Stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Args(logging.Error(err))...)
	}
	d.running.Store(false)
	d.logger.Info("bundlexd stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Addr returns the bound API address, empty until Start succeeds.
func (d *Daemon) Addr() string {
	return d.server.addr()
}

// Service exposes the session operations for in-process callers.
func (d *Daemon) Service() *api.Service {
	return d.service
}
