// Package janitor periodically removes expired sessions and orphaned session
// directories left behind by crashes.
package janitor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"bundlex/internal/config"
	"bundlex/internal/logging"
	"bundlex/internal/queue"
	"bundlex/internal/storage"
)

// Janitor owns the retention sweep loop.
type Janitor struct {
	store     *queue.Store
	files     *storage.Manager
	logger    *slog.Logger
	interval  time.Duration
	retention time.Duration
	now       func() time.Time

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option adjusts janitor behaviour.
type Option func(*Janitor)

// WithNow overrides the clock. Tests use it to age sessions instantly.
func WithNow(now func() time.Time) Option {
	return func(j *Janitor) {
		if now != nil {
			j.now = now
		}
	}
}

// New wires a janitor from configuration.
func New(cfg *config.Config, store *queue.Store, files *storage.Manager, logger *slog.Logger, opts ...Option) *Janitor {
	j := &Janitor{
		store:     store,
		files:     files,
		logger:    logging.NewComponentLogger(logger, "janitor"),
		interval:  time.Duration(cfg.Janitor.CleanupIntervalSeconds) * time.Second,
		retention: time.Duration(cfg.Janitor.RetentionHours) * time.Hour,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Start launches the sweep loop.
func (j *Janitor) Start(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.cancel != nil {
		return errors.New("janitor already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	j.cancel = cancel

	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		ticker := time.NewTicker(j.interval)
		defer ticker.Stop()
		for {
			select {
			case <-runCtx.Done():
				return
			case <-ticker.C:
				if removed, err := j.SweepOnce(runCtx); err != nil {
					j.logger.Error("sweep failed", logging.Args(logging.Error(err))...)
				} else if removed > 0 {
					j.logger.Info("sweep removed sessions", logging.Args(logging.Int("removed", removed))...)
				}
			}
		}
	}()
	j.logger.Info("janitor started",
		logging.Args(
			logging.Duration("interval", j.interval),
			logging.Duration("retention", j.retention),
		)...)
	return nil
}

// Stop halts the sweep loop.
func (j *Janitor) Stop() {
	j.mu.Lock()
	cancel := j.cancel
	j.cancel = nil
	j.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	j.wg.Wait()
}

// SweepOnce runs a single retention pass: expired sessions are deleted along
// with their files, then directories without a session row are removed.
func (j *Janitor) SweepOnce(ctx context.Context) (int, error) {
	cutoff := j.now().Add(-j.retention)

	expired, err := j.store.ListExpired(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, session := range expired {
		// Re-checked inside the DELETE so a poll arriving after the listing
		// keeps its session alive.
		ok, err := j.store.RemoveIfExpired(ctx, session.ID, cutoff)
		if err != nil {
			j.logger.Error("remove expired session",
				logging.Args(
					logging.String(logging.FieldSessionID, session.ID),
					logging.Error(err),
				)...)
			continue
		}
		if !ok {
			continue
		}
		if err := j.files.Release(session.ID); err != nil {
			j.logger.Warn("release expired session files",
				logging.Args(
					logging.String(logging.FieldSessionID, session.ID),
					logging.Error(err),
				)...)
		}
		removed++
	}

	if err := j.sweepOrphans(ctx); err != nil {
		return removed, err
	}
	return removed, nil
}

func (j *Janitor) sweepOrphans(ctx context.Context) error {
	ids, err := j.files.SessionDirs()
	if err != nil {
		return err
	}
	for _, id := range ids {
		exists, err := j.store.Exists(ctx, id)
		if err != nil {
			return err
		}
		if exists {
			continue
		}
		if err := j.files.Release(id); err != nil {
			j.logger.Warn("release orphan dir",
				logging.Args(
					logging.String(logging.FieldSessionID, id),
					logging.Error(err),
				)...)
			continue
		}
		j.logger.Info("removed orphan session dir", logging.Args(logging.String(logging.FieldSessionID, id))...)
	}
	return nil
}
