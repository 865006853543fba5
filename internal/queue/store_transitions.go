package queue

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Status transitions are guarded in SQL so a racing cancel or janitor sweep
// can never be overwritten: the WHERE clause names the only states the
// transition may leave, and zero affected rows means the session moved on.

// MarkProcessing moves a queued session into the in-flight state for its job
// kind. Workers call this when claiming.
func (s *Store) MarkProcessing(ctx context.Context, id string, kind Kind) error {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE sessions
         SET status = ?, kind = ?, progress = 0, error_message = NULL, error_kind = NULL,
             last_touched_at = ?
         WHERE id = ? AND status = ?`,
		ProcessingStatus(kind),
		kind,
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
		StatusQueued,
	)
	if err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}
	return s.checkTransition(ctx, res, id)
}

// MarkAnalyzed records successful analysis metadata and completes the phase.
func (s *Store) MarkAnalyzed(ctx context.Context, id, metadataJSON string) error {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE sessions
         SET status = ?, progress = 100, metadata_json = ?, last_touched_at = ?
         WHERE id = ? AND status = ?`,
		StatusCompleted,
		metadataJSON,
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
		StatusAnalyzing,
	)
	if err != nil {
		return fmt.Errorf("mark analyzed: %w", err)
	}
	return s.checkTransition(ctx, res, id)
}

// MarkExtracted records the finished archive and completes the phase.
func (s *Store) MarkExtracted(ctx context.Context, id, archivePath string) error {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE sessions
         SET status = ?, progress = 100, archive_path = ?, last_touched_at = ?
         WHERE id = ? AND status = ?`,
		StatusCompleted,
		archivePath,
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
		StatusExtracting,
	)
	if err != nil {
		return fmt.Errorf("mark extracted: %w", err)
	}
	return s.checkTransition(ctx, res, id)
}

// MarkError fails the current phase with a classified error.
func (s *Store) MarkError(ctx context.Context, id, errorKind, message string) error {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE sessions
         SET status = ?, error_kind = ?, error_message = ?, last_touched_at = ?
         WHERE id = ? AND status IN (?, ?, ?)`,
		StatusError,
		errorKind,
		message,
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
		StatusQueued,
		StatusAnalyzing,
		StatusExtracting,
	)
	if err != nil {
		return fmt.Errorf("mark error: %w", err)
	}
	return s.checkTransition(ctx, res, id)
}

// MarkCancelled moves a non-terminal session to cancelled. Once set, no later
// worker write can flip the session back to completed or error.
func (s *Store) MarkCancelled(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE sessions
         SET status = ?, error_message = ?, last_touched_at = ?
         WHERE id = ? AND status IN (?, ?, ?)`,
		StatusCancelled,
		CancelledMessage,
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
		StatusQueued,
		StatusAnalyzing,
		StatusExtracting,
	)
	if err != nil {
		return fmt.Errorf("mark cancelled: %w", err)
	}
	return s.checkTransition(ctx, res, id)
}

// checkTransition maps a zero-row guarded update to the right sentinel.
func (s *Store) checkTransition(ctx context.Context, res sql.Result, id string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}
	session, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if session == nil {
		return ErrNotFound
	}
	return fmt.Errorf("%w: session %s is %s", ErrAlreadyTerminal, id, session.Status)
}
