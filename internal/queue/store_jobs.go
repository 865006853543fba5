package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Load reports the pending job count and in-flight session count.
func (s *Store) Load(ctx context.Context) (pending, inFlight int, err error) {
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM jobs`)
	if err := row.Scan(&pending); err != nil {
		return 0, 0, fmt.Errorf("count pending jobs: %w", err)
	}
	row = s.db.QueryRowContext(
		ctx,
		`SELECT COUNT(1) FROM sessions WHERE status IN (?, ?)`,
		StatusAnalyzing,
		StatusExtracting,
	)
	if err := row.Scan(&inFlight); err != nil {
		return 0, 0, fmt.Errorf("count in-flight sessions: %w", err)
	}
	return pending, inFlight, nil
}

// Admit reports whether the queue can accept another job right now. Callers
// check before creating a session; Enqueue re-checks inside its transaction.
func (s *Store) Admit(ctx context.Context) error {
	pending, inFlight, err := s.Load(ctx)
	if err != nil {
		return err
	}
	if pending+inFlight >= s.maxPending {
		return fmt.Errorf("%w: %d jobs against ceiling %d", ErrQueueFull, pending+inFlight, s.maxPending)
	}
	return nil
}

// Enqueue appends a job for the session and resets the session into the
// queued state for the given phase. Extraction jobs require a completed
// analysis with recorded metadata; selectionJSON narrows what an extraction
// job pulls out and is ignored for analysis jobs.
func (s *Store) Enqueue(ctx context.Context, sessionID string, kind Kind, selectionJSON string) (*Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin enqueue tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var pending, inFlight int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM jobs`).Scan(&pending); err != nil {
		return nil, fmt.Errorf("count pending jobs: %w", err)
	}
	if err := tx.QueryRowContext(
		ctx,
		`SELECT COUNT(1) FROM sessions WHERE status IN (?, ?)`,
		StatusAnalyzing,
		StatusExtracting,
	).Scan(&inFlight); err != nil {
		return nil, fmt.Errorf("count in-flight sessions: %w", err)
	}
	if pending+inFlight >= s.maxPending {
		return nil, fmt.Errorf("%w: %d jobs against ceiling %d", ErrQueueFull, pending+inFlight, s.maxPending)
	}

	row := tx.QueryRowContext(ctx, `SELECT status, metadata_json FROM sessions WHERE id = ?`, sessionID)
	var (
		statusStr string
		metadata  sql.NullString
	)
	if err := row.Scan(&statusStr, &metadata); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read session for enqueue: %w", err)
	}
	status := Status(statusStr)

	var queued int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM jobs WHERE session_id = ?`, sessionID).Scan(&queued); err != nil {
		return nil, fmt.Errorf("check existing job: %w", err)
	}
	if queued > 0 {
		return nil, fmt.Errorf("%w: session %s", ErrAlreadyQueued, sessionID)
	}

	switch kind {
	case KindAnalyze:
		if status != StatusQueued {
			return nil, fmt.Errorf("%w: session %s is %s", ErrAlreadyTerminal, sessionID, status)
		}
	case KindExtract:
		if status != StatusCompleted || !metadata.Valid || metadata.String == "" {
			return nil, fmt.Errorf("%w: session %s is %s", ErrPhaseNotReady, sessionID, status)
		}
	default:
		return nil, fmt.Errorf("unknown job kind %q", kind)
	}

	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)

	res, err := tx.ExecContext(
		ctx,
		`INSERT INTO jobs (session_id, kind, created_at) VALUES (?, ?, ?)`,
		sessionID,
		kind,
		timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	jobID, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}

	if kind == KindExtract {
		if _, err := tx.ExecContext(
			ctx,
			`UPDATE sessions
             SET kind = ?, status = ?, progress = 0, selection_json = ?, archive_path = NULL,
                 error_message = NULL, error_kind = NULL, last_touched_at = ?
             WHERE id = ?`,
			KindExtract,
			StatusQueued,
			nullableString(selectionJSON),
			timestamp,
			sessionID,
		); err != nil {
			return nil, fmt.Errorf("reset session for extraction: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit enqueue: %w", err)
	}

	s.signalWake()
	return &Job{ID: jobID, SessionID: sessionID, Kind: kind, CreatedAt: now}, nil
}

// ClaimNext atomically removes the oldest pending job and moves its session
// into the matching in-flight state. It returns (nil, nil) when the queue is
// empty. Jobs whose session vanished or left the queued state are discarded
// and the next candidate is tried.
func (s *Store) ClaimNext(ctx context.Context) (*Job, error) {
	for {
		job, claimed, err := s.claimOldest(ctx)
		if err != nil {
			return nil, err
		}
		if job == nil {
			return nil, nil
		}
		if claimed {
			return job, nil
		}
	}
}

func (s *Store) claimOldest(ctx context.Context) (*Job, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("begin claim tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `SELECT id, session_id, kind, created_at FROM jobs ORDER BY id LIMIT 1`)
	var (
		job        Job
		kindStr    string
		createdRaw string
	)
	if err := row.Scan(&job.ID, &job.SessionID, &kindStr, &createdRaw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("select oldest job: %w", err)
	}
	job.Kind = Kind(kindStr)
	if created, err := parseTimeString(createdRaw); err == nil {
		job.CreatedAt = created
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, job.ID); err != nil {
		return nil, false, fmt.Errorf("delete claimed job: %w", err)
	}

	res, err := tx.ExecContext(
		ctx,
		`UPDATE sessions
         SET status = ?, kind = ?, progress = 0, error_message = NULL, error_kind = NULL,
             last_touched_at = ?
         WHERE id = ? AND status = ?`,
		ProcessingStatus(job.Kind),
		job.Kind,
		time.Now().UTC().Format(time.RFC3339Nano),
		job.SessionID,
		StatusQueued,
	)
	if err != nil {
		return nil, false, fmt.Errorf("mark session processing: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("rows affected: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("commit claim: %w", err)
	}
	return &job, affected > 0, nil
}

// RemovePending drops the session's pending job if one exists, returning
// whether a job was removed. Used when a queued session is cancelled.
func (s *Store) RemovePending(ctx context.Context, sessionID string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE session_id = ?`, sessionID)
	if err != nil {
		return false, fmt.Errorf("remove pending job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// Position derives the session's 1-based place in the pending queue along
// with the total pending count. A session with no pending job reports
// position -1 and total 0.
func (s *Store) Position(ctx context.Context, sessionID string) (position, total int, err error) {
	row := s.db.QueryRowContext(ctx, `SELECT id FROM jobs WHERE session_id = ?`, sessionID)
	var jobID int64
	if err := row.Scan(&jobID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return -1, 0, nil
		}
		return 0, 0, fmt.Errorf("find session job: %w", err)
	}

	row = s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM jobs WHERE id <= ?`, jobID)
	if err := row.Scan(&position); err != nil {
		return 0, 0, fmt.Errorf("derive position: %w", err)
	}
	row = s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM jobs`)
	if err := row.Scan(&total); err != nil {
		return 0, 0, fmt.Errorf("count pending jobs: %w", err)
	}
	return position, total, nil
}
