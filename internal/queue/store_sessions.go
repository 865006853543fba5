package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NewSessionParams captures the fields recorded when an upload is accepted.
type NewSessionParams struct {
	OriginalFilename string
	UploadDir        string
	BundlePath       string
	AllowRetention   bool
	KeepSessionLog   bool
}

// NewSession inserts a freshly uploaded session in the queued state.
func (s *Store) NewSession(ctx context.Context, params NewSessionParams) (*Session, error) {
	id := uuid.NewString()
	now := time.Now().UTC()
	timestamp := now.Format(time.RFC3339Nano)

	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO sessions (
            id, kind, status, progress, original_filename, upload_dir, bundle_path,
            allow_retention, keep_session_log, created_at, last_touched_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id,
		KindAnalyze,
		StatusQueued,
		0,
		nullableString(params.OriginalFilename),
		nullableString(params.UploadDir),
		nullableString(params.BundlePath),
		boolToInt(params.AllowRetention),
		boolToInt(params.KeepSessionLog),
		timestamp,
		timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}

	return s.GetByID(ctx, id)
}

// GetByID fetches a session by identifier. A missing session yields (nil, nil).
func (s *Store) GetByID(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	session, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	return session, nil
}

// Update persists changes to an existing session and refreshes its
// last-touched timestamp.
func (s *Store) Update(ctx context.Context, session *Session) error {
	if session == nil {
		return errors.New("session is nil")
	}
	session.LastTouchedAt = time.Now().UTC()
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE sessions
         SET kind = ?, status = ?, progress = ?, metadata_json = ?, selection_json = ?, archive_path = ?,
             error_message = ?, error_kind = ?, original_filename = ?, upload_dir = ?,
             bundle_path = ?, allow_retention = ?, keep_session_log = ?, last_touched_at = ?
         WHERE id = ?`,
		session.Kind,
		session.Status,
		session.Progress,
		nullableString(session.MetadataJSON),
		nullableString(session.SelectionJSON),
		nullableString(session.ArchivePath),
		nullableString(session.ErrorMessage),
		nullableString(session.ErrorKind),
		nullableString(session.OriginalFilename),
		nullableString(session.UploadDir),
		nullableString(session.BundlePath),
		boolToInt(session.AllowRetention),
		boolToInt(session.KeepSessionLog),
		session.LastTouchedAt.Format(time.RFC3339Nano),
		session.ID,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	return nil
}

// Touch refreshes the last-touched timestamp, deferring retention cleanup.
func (s *Store) Touch(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE sessions SET last_touched_at = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
	)
	if err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetProgress updates the progress percentage without a full read-modify-write.
func (s *Store) SetProgress(ctx context.Context, id string, progress int) error {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE sessions SET progress = ?, last_touched_at = ? WHERE id = ?`,
		progress,
		time.Now().UTC().Format(time.RFC3339Nano),
		id,
	)
	if err != nil {
		return fmt.Errorf("set progress: %w", err)
	}
	return nil
}

// List returns sessions filtered by status set (or all sessions when no status
// is provided), oldest first.
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Session, error) {
	var (
		rows *sql.Rows
		err  error
	)

	baseQuery := `SELECT ` + sessionColumns + ` FROM sessions`
	orderClause := ` ORDER BY created_at`

	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		query := baseQuery + ` WHERE status IN (` + placeholders + `)` + orderClause
		rows, err = s.db.QueryContext(ctx, query, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// Remove deletes a session by identifier. Pending jobs cascade.
func (s *Store) Remove(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}
