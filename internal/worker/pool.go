// Package worker runs the pool of goroutines that drain the job queue and
// drive bundletool for each claimed session.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"sync"
	"time"

	"bundlex/internal/bundle"
	"bundlex/internal/cancellation"
	"bundlex/internal/config"
	"bundlex/internal/logging"
	"bundlex/internal/queue"
	"bundlex/internal/storage"
)

// Pool coordinates a fixed number of workers over the shared store.
type Pool struct {
	store    *queue.Store
	client   bundle.Client
	files    *storage.Manager
	registry *cancellation.Registry
	logger   *slog.Logger

	workerCount  int
	pollInterval time.Duration
	jobTimeout   time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewPool wires a pool from configuration and shared collaborators.
func NewPool(
	cfg *config.Config,
	store *queue.Store,
	client bundle.Client,
	files *storage.Manager,
	registry *cancellation.Registry,
	logger *slog.Logger,
) *Pool {
	return &Pool{
		store:        store,
		client:       client,
		files:        files,
		registry:     registry,
		logger:       logging.NewComponentLogger(logger, "worker"),
		workerCount:  cfg.Queue.WorkerCount,
		pollInterval: time.Duration(cfg.Queue.PollIntervalSeconds) * time.Second,
		jobTimeout:   time.Duration(cfg.Queue.JobTimeoutSeconds) * time.Second,
	}
}

// Start launches the workers. It returns immediately; workers run until the
// context is cancelled or Stop is called.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return errors.New("pool already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	for i := 0; i < p.workerCount; i++ {
		workerID := i + 1
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.workerLoop(runCtx, workerID)
		}()
	}
	p.logger.Info("worker pool started", logging.Args(logging.Int("workers", p.workerCount))...)
	return nil
}

// Stop halts the workers and waits for in-flight jobs to unwind.
func (p *Pool) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	p.wg.Wait()
	p.logger.Info("worker pool stopped")
}

func (p *Pool) workerLoop(ctx context.Context, workerID int) {
	log := p.logger.With(logging.Int(logging.FieldWorkerID, workerID))
	for {
		if ctx.Err() != nil {
			return
		}
		job, err := p.store.ClaimNext(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Error("claim failed", logging.Args(logging.Error(err))...)
			p.waitForWork(ctx)
			continue
		}
		if job == nil {
			p.waitForWork(ctx)
			continue
		}
		p.run(ctx, log, job)
	}
}

// waitForWork blocks until new work is signalled, the poll interval elapses,
// or the context ends.
func (p *Pool) waitForWork(ctx context.Context) {
	timer := time.NewTimer(p.pollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-p.store.Wake():
	case <-timer.C:
	}
}

func (p *Pool) run(ctx context.Context, log *slog.Logger, job *queue.Job) {
	sessionID := job.SessionID
	log = log.With(
		logging.String(logging.FieldSessionID, sessionID),
		logging.String(logging.FieldJobKind, string(job.Kind)),
	)

	defer func() {
		if r := recover(); r != nil {
			log.Error("job panicked",
				logging.Args(
					logging.Any("panic", r),
					logging.String("stack", string(debug.Stack())),
				)...)
			if err := p.store.MarkError(ctx, sessionID, queue.ErrorKindInternal, fmt.Sprintf("internal failure: %v", r)); err != nil {
				log.Error("record panic failure", logging.Args(logging.Error(err))...)
			}
		}
		p.registry.Forget(sessionID)
	}()

	session, err := p.store.GetByID(ctx, sessionID)
	if err != nil {
		log.Error("load session", logging.Args(logging.Error(err))...)
		return
	}
	if session == nil {
		log.Warn("claimed job for vanished session")
		return
	}
	if p.registry.Cancelled(sessionID) {
		p.finishCancelled(ctx, log, sessionID)
		return
	}

	jobCtx, cancelJob := context.WithTimeout(ctx, p.jobTimeout)
	defer cancelJob()

	sessionLog := logging.NewNop()
	if session.KeepSessionLog {
		fileLog, closeLog, err := logging.NewSessionLogger(p.files.SessionLogPath(sessionID))
		if err != nil {
			log.Warn("open session log", logging.Args(logging.Error(err))...)
		} else {
			sessionLog = fileLog
			defer func() { _ = closeLog() }()
		}
	}

	progressFn := func(update bundle.ProgressUpdate) {
		if p.registry.Cancelled(sessionID) {
			cancelJob()
			return
		}
		sessionLog.Debug("progress",
			logging.Args(
				logging.Int("percent", int(update.Percent)),
				logging.String("stage", update.Stage),
				logging.String("message", update.Message),
			)...)
		if err := p.store.SetProgress(ctx, sessionID, int(update.Percent)); err != nil {
			log.Warn("record progress", logging.Args(logging.Error(err))...)
		}
	}

	started := time.Now()
	log.Info("job started")
	sessionLog.Info("job started",
		logging.Args(
			logging.String(logging.FieldJobKind, string(job.Kind)),
			logging.String("bundle", session.BundlePath),
		)...)

	switch job.Kind {
	case queue.KindExtract:
		p.runExtract(ctx, jobCtx, log, session, progressFn)
	default:
		p.runAnalyze(ctx, jobCtx, log, session, progressFn)
	}
	elapsed := time.Since(started)
	log.Info("job finished", logging.Args(logging.Duration("elapsed", elapsed))...)
	sessionLog.Info("job finished", logging.Args(logging.Duration("elapsed", elapsed))...)
}

func (p *Pool) runAnalyze(ctx, jobCtx context.Context, log *slog.Logger, session *queue.Session, progressFn func(bundle.ProgressUpdate)) {
	meta, err := p.client.Analyze(jobCtx, session.BundlePath, progressFn)
	if p.finishFailure(ctx, log, session.ID, err) {
		return
	}

	payload, err := json.Marshal(meta)
	if err != nil {
		p.markError(ctx, log, session.ID, queue.ErrorKindInternal, fmt.Sprintf("encode metadata: %v", err))
		return
	}
	if err := p.store.MarkAnalyzed(ctx, session.ID, string(payload)); err != nil {
		p.logTerminalConflict(log, err)
	}
}

func (p *Pool) runExtract(ctx, jobCtx context.Context, log *slog.Logger, session *queue.Session, progressFn func(bundle.ProgressUpdate)) {
	var selection bundle.Selection
	if session.SelectionJSON != "" {
		if err := json.Unmarshal([]byte(session.SelectionJSON), &selection); err != nil {
			p.markError(ctx, log, session.ID, queue.ErrorKindInternal, fmt.Sprintf("decode selection: %v", err))
			return
		}
	}

	outputDir := p.files.OutputDir(session.ID)
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		p.markError(ctx, log, session.ID, queue.ErrorKindInternal, fmt.Sprintf("create output dir: %v", err))
		return
	}

	archive, err := p.client.Extract(jobCtx, session.BundlePath, outputDir, selection, progressFn)
	if p.finishFailure(ctx, log, session.ID, err) {
		return
	}

	if err := p.store.MarkExtracted(ctx, session.ID, archive); err != nil {
		p.logTerminalConflict(log, err)
	}
}

// finishFailure resolves cancellation, timeout, and capability failures. It
// reports true when the job should not proceed to a success transition.
func (p *Pool) finishFailure(ctx context.Context, log *slog.Logger, sessionID string, err error) bool {
	switch {
	case p.registry.Cancelled(sessionID):
		p.finishCancelled(ctx, log, sessionID)
		return true
	case err == nil:
		return false
	case errors.Is(err, context.DeadlineExceeded):
		p.markError(ctx, log, sessionID, queue.ErrorKindTimeout,
			fmt.Sprintf("job exceeded %s", p.jobTimeout))
		return true
	case errors.Is(err, context.Canceled):
		// Daemon shutdown. Leave the session in flight; ResetStuck repairs
		// it on the next start.
		log.Warn("job interrupted by shutdown")
		return true
	default:
		p.markError(ctx, log, sessionID, queue.ErrorKindCapability, err.Error())
		return true
	}
}

func (p *Pool) finishCancelled(ctx context.Context, log *slog.Logger, sessionID string) {
	if err := p.store.MarkCancelled(ctx, sessionID); err != nil && !errors.Is(err, queue.ErrAlreadyTerminal) {
		log.Error("mark cancelled", logging.Args(logging.Error(err))...)
		return
	}
	if err := p.files.Release(sessionID); err != nil {
		log.Warn("release cancelled session files", logging.Args(logging.Error(err))...)
	}
	log.Info("job cancelled")
}

func (p *Pool) markError(ctx context.Context, log *slog.Logger, sessionID, kind, message string) {
	if err := p.store.MarkError(ctx, sessionID, kind, message); err != nil {
		p.logTerminalConflict(log, err)
		return
	}
	log.Warn("job failed",
		logging.Args(
			logging.String("error_kind", kind),
			logging.String("reason", message),
		)...)
}

// logTerminalConflict downgrades lost races against a cancel to a log line.
func (p *Pool) logTerminalConflict(log *slog.Logger, err error) {
	if errors.Is(err, queue.ErrAlreadyTerminal) {
		log.Info("session reached a terminal state before the job result landed")
		return
	}
	log.Error("persist job result", logging.Args(logging.Error(err))...)
}
