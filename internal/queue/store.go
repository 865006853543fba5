package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"bundlex/internal/config"
)

// Store manages session and job persistence backed by SQLite.
type Store struct {
	db         *sql.DB
	path       string
	maxPending int
	wake       chan struct{}
}

// Open initializes or connects to the session database.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := filepath.Join(cfg.Paths.LogDir, "sessions.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{
		db:         db,
		path:       dbPath,
		maxPending: cfg.Queue.MaxPendingJobs,
		wake:       make(chan struct{}, 1),
	}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// Wake returns a channel that receives a signal whenever work is enqueued.
// Idle workers select on it alongside their poll timer.
func (s *Store) Wake() <-chan struct{} {
	return s.wake
}

func (s *Store) signalWake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

const sessionColumns = "id, kind, status, progress, metadata_json, selection_json, archive_path, error_message, error_kind, original_filename, upload_dir, bundle_path, allow_retention, keep_session_log, created_at, last_touched_at"

func scanSession(scanner interface{ Scan(dest ...any) error }) (*Session, error) {
	var (
		id               string
		kind             string
		statusStr        string
		progress         int
		metadata         sql.NullString
		selection        sql.NullString
		archivePath      sql.NullString
		errorMessage     sql.NullString
		errorKind        sql.NullString
		originalFilename sql.NullString
		uploadDir        sql.NullString
		bundlePath       sql.NullString
		allowRetention   sql.NullInt64
		keepSessionLog   sql.NullInt64
		createdRaw       sql.NullString
		touchedRaw       sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&kind,
		&statusStr,
		&progress,
		&metadata,
		&selection,
		&archivePath,
		&errorMessage,
		&errorKind,
		&originalFilename,
		&uploadDir,
		&bundlePath,
		&allowRetention,
		&keepSessionLog,
		&createdRaw,
		&touchedRaw,
	); err != nil {
		return nil, err
	}

	session := &Session{
		ID:               id,
		Kind:             Kind(kind),
		Status:           Status(statusStr),
		Progress:         progress,
		MetadataJSON:     metadata.String,
		SelectionJSON:    selection.String,
		ArchivePath:      archivePath.String,
		ErrorMessage:     errorMessage.String,
		ErrorKind:        errorKind.String,
		OriginalFilename: originalFilename.String,
		UploadDir:        uploadDir.String,
		BundlePath:       bundlePath.String,
	}
	if allowRetention.Valid {
		session.AllowRetention = allowRetention.Int64 != 0
	}
	if keepSessionLog.Valid {
		session.KeepSessionLog = keepSessionLog.Int64 != 0
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		session.CreatedAt = created
	}
	if touched, err := parseTimeString(touchedRaw.String); err == nil {
		session.LastTouchedAt = touched
	}
	return session, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func boolToInt(value bool) int {
	if value {
		return 1
	}
	return 0
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
