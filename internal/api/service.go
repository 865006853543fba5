// Package api implements the session operations exposed over HTTP: upload
// admission, status polling, extraction requests, cancellation, download
// resolution, and queue introspection. The daemon package owns the HTTP
// surface itself; this package owns the semantics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"

	"bundlex/internal/bundle"
	"bundlex/internal/cancellation"
	"bundlex/internal/config"
	"bundlex/internal/logging"
	"bundlex/internal/queue"
	"bundlex/internal/storage"
)

// bundleExtensions are the file types accepted as the primary bundle, in
// detection priority order.
var bundleExtensions = []string{".unity3d", ".bundle", ".unitybundle", ".assetbundle", ".ab", ".assets"}

// companionExtensions are accepted alongside a bundle but never as primary.
var companionExtensions = map[string]struct{}{
	".manifest": {},
	".meta":     {},
	".txt":      {},
	".ress":     {},
	".resource": {},
	".dat":      {},
	".bin":      {},
	".bytes":    {},
	".json":     {},
	".xml":      {},
	".yaml":     {},
	".csv":      {},
	".shader":   {},
}

// Service carries the collaborators shared by all session operations.
type Service struct {
	cfg      *config.Config
	store    *queue.Store
	files    *storage.Manager
	registry *cancellation.Registry
	logger   *slog.Logger
}

// NewService wires a Service.
func NewService(cfg *config.Config, store *queue.Store, files *storage.Manager, registry *cancellation.Registry, logger *slog.Logger) *Service {
	return &Service{
		cfg:      cfg,
		store:    store,
		files:    files,
		registry: registry,
		logger:   logging.NewComponentLogger(logger, "api"),
	}
}

// UploadFile is one part of a multipart upload.
type UploadFile struct {
	Filename string
	Content  io.Reader
}

// UploadRequest captures an upload with its session flags.
type UploadRequest struct {
	Files          []UploadFile
	AllowRetention bool
	KeepSessionLog bool
}

// Upload validates and stages an upload, creates the session, and enqueues
// its analysis job.
func (s *Service) Upload(ctx context.Context, req UploadRequest) (*UploadResponse, error) {
	if len(req.Files) == 0 {
		return nil, fmt.Errorf("%w: upload requires at least one file", ErrValidation)
	}

	primary := -1
	for _, ext := range bundleExtensions {
		for i, file := range req.Files {
			if strings.EqualFold(filepath.Ext(file.Filename), ext) {
				primary = i
				break
			}
		}
		if primary >= 0 {
			break
		}
	}
	if primary < 0 {
		return nil, ErrNoBundleFile
	}
	for _, file := range req.Files {
		ext := strings.ToLower(filepath.Ext(file.Filename))
		if isBundleExtension(ext) {
			continue
		}
		if _, ok := companionExtensions[ext]; !ok {
			return nil, fmt.Errorf("%w: file type %q is not accepted", ErrValidation, ext)
		}
	}

	// Checked again inside Enqueue; this early check keeps rejected uploads
	// from writing any bytes to disk.
	if err := s.store.Admit(ctx); err != nil {
		return nil, err
	}

	session, err := s.store.NewSession(ctx, queue.NewSessionParams{
		OriginalFilename: storage.SanitizeFilename(req.Files[primary].Filename),
		AllowRetention:   req.AllowRetention,
		KeepSessionLog:   req.KeepSessionLog,
	})
	if err != nil {
		return nil, err
	}

	abort := func(cause error) (*UploadResponse, error) {
		if _, err := s.store.Remove(ctx, session.ID); err != nil {
			s.logger.Error("remove aborted session", logging.Args(logging.Error(err))...)
		}
		if err := s.files.Release(session.ID); err != nil {
			s.logger.Warn("release aborted session files", logging.Args(logging.Error(err))...)
		}
		return nil, cause
	}

	var bundlePath string
	for i, file := range req.Files {
		path, _, err := s.files.SaveUpload(session.ID, file.Filename, file.Content)
		if err != nil {
			return abort(err)
		}
		if i == primary {
			bundlePath = path
		}
	}

	session.UploadDir = s.files.UploadDir(session.ID)
	session.BundlePath = bundlePath
	if err := s.store.Update(ctx, session); err != nil {
		return abort(err)
	}

	if _, err := s.store.Enqueue(ctx, session.ID, queue.KindAnalyze, ""); err != nil {
		return abort(err)
	}

	position, total, err := s.store.Position(ctx, session.ID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("upload accepted",
		logging.Args(
			logging.String(logging.FieldSessionID, session.ID),
			logging.String("filename", session.OriginalFilename),
			logging.Int("queue_position", position),
		)...)

	return &UploadResponse{
		SessionID:     session.ID,
		Status:        string(queue.StatusQueued),
		QueuePosition: position,
		TotalQueued:   total,
	}, nil
}

// Status answers a poll for the session's current phase. Polling counts as
// activity and defers retention cleanup.
func (s *Service) Status(ctx context.Context, sessionID string) (*StatusResponse, error) {
	session, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if err := s.store.Touch(ctx, sessionID); err != nil && !errors.Is(err, queue.ErrNotFound) {
		return nil, err
	}

	resp := &StatusResponse{
		SessionID:     session.ID,
		Kind:          string(session.Kind),
		Status:        string(session.Status),
		Progress:      session.Progress,
		Error:         session.ErrorMessage,
		ErrorKind:     session.ErrorKind,
		DownloadReady: session.DownloadReady(),
	}
	// Queue coordinates only make sense while the session is still waiting.
	if session.Status == queue.StatusQueued {
		position, total, err := s.store.Position(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		resp.QueuePosition = position
		resp.TotalQueued = total
	}
	if session.MetadataJSON != "" {
		resp.Metadata = json.RawMessage(session.MetadataJSON)
	}
	return resp, nil
}

// Extract validates a selection against the recorded metadata and enqueues
// the extraction job.
func (s *Service) Extract(ctx context.Context, sessionID string, selection bundle.Selection) (*ExtractResponse, error) {
	session, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if !selection.Empty() && session.MetadataJSON != "" {
		var meta bundle.Metadata
		if err := json.Unmarshal([]byte(session.MetadataJSON), &meta); err == nil {
			if err := validateSelection(selection, &meta); err != nil {
				return nil, err
			}
		}
	}

	selectionJSON := ""
	if !selection.Empty() {
		payload, err := json.Marshal(selection)
		if err != nil {
			return nil, fmt.Errorf("encode selection: %w", err)
		}
		selectionJSON = string(payload)
	}

	if _, err := s.store.Enqueue(ctx, sessionID, queue.KindExtract, selectionJSON); err != nil {
		return nil, err
	}

	position, total, err := s.store.Position(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return &ExtractResponse{
		SessionID:     sessionID,
		Status:        string(queue.StatusQueued),
		QueuePosition: position,
		TotalQueued:   total,
	}, nil
}

// Cancel stops a session. Queued sessions are cancelled immediately and
// their files released; in-flight sessions are flagged for the owning worker
// to observe at its next checkpoint.
func (s *Service) Cancel(ctx context.Context, sessionID string) (*CancelResponse, error) {
	session, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.IsTerminal() {
		return nil, fmt.Errorf("%w: session %s is %s", queue.ErrAlreadyTerminal, sessionID, session.Status)
	}

	if session.Status == queue.StatusQueued {
		// Flag before removing the job: a worker that claims it in this
		// window stops at its pre-run check instead of invoking the tool.
		s.registry.Request(sessionID)
		removed, err := s.store.RemovePending(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if removed {
			// The job never reached a worker, so nothing else clears the flag.
			s.registry.Forget(sessionID)
		}
		if err := s.store.MarkCancelled(ctx, sessionID); err != nil && !errors.Is(err, queue.ErrAlreadyTerminal) {
			return nil, err
		}
		if err := s.files.Release(sessionID); err != nil {
			s.logger.Warn("release cancelled session files",
				logging.Args(
					logging.String(logging.FieldSessionID, sessionID),
					logging.Error(err),
				)...)
		}
		s.logger.Info("queued session cancelled", logging.Args(logging.String(logging.FieldSessionID, sessionID))...)
		return &CancelResponse{
			SessionID: sessionID,
			Status:    string(queue.StatusCancelled),
			Message:   "session cancelled",
		}, nil
	}

	s.registry.Request(sessionID)
	s.logger.Info("cancellation requested for running session", logging.Args(logging.String(logging.FieldSessionID, sessionID))...)
	return &CancelResponse{
		SessionID: sessionID,
		Status:    string(session.Status),
		Message:   "cancellation requested; the job stops at its next checkpoint",
	}, nil
}

// DownloadHandle resolves a finished archive for serving. Release must be
// called once the bytes have been sent; it removes the session when the
// uploader declined retention.
type DownloadHandle struct {
	Path     string
	Filename string
	Release  func()
}

// Download resolves the session's archive.
func (s *Service) Download(ctx context.Context, sessionID string) (*DownloadHandle, error) {
	session, err := s.load(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.DownloadReady() {
		return nil, fmt.Errorf("%w: session %s is %s", ErrNotReady, sessionID, session.Status)
	}
	if err := s.store.Touch(ctx, sessionID); err != nil && !errors.Is(err, queue.ErrNotFound) {
		return nil, err
	}

	stem := strings.TrimSuffix(session.OriginalFilename, filepath.Ext(session.OriginalFilename))
	if stem == "" {
		stem = sessionID
	}

	handle := &DownloadHandle{
		Path:     session.ArchivePath,
		Filename: stem + "_assets.zip",
		Release:  func() {},
	}
	if !session.AllowRetention {
		id := sessionID
		handle.Release = func() {
			if _, err := s.store.Remove(context.Background(), id); err != nil {
				s.logger.Error("remove served session", logging.Args(logging.Error(err))...)
			}
			if err := s.files.Release(id); err != nil {
				s.logger.Warn("release served session files", logging.Args(logging.Error(err))...)
			}
			s.logger.Info("session cleaned after download", logging.Args(logging.String(logging.FieldSessionID, id))...)
		}
	}
	return handle, nil
}

// Queue lists sessions with aggregate counts, optionally filtered by status.
func (s *Service) Queue(ctx context.Context, statuses ...queue.Status) (*QueueResponse, error) {
	sessions, err := s.store.List(ctx, statuses...)
	if err != nil {
		return nil, err
	}
	health, err := s.store.Health(ctx)
	if err != nil {
		return nil, err
	}

	resp := &QueueResponse{Health: healthCounts(health)}
	for _, session := range sessions {
		resp.Sessions = append(resp.Sessions, summarize(session))
	}
	return resp, nil
}

// Health reports daemon liveness and database state.
func (s *Service) Health(ctx context.Context) (*HealthResponse, error) {
	db, err := s.store.CheckHealth(ctx)
	if err != nil {
		return &HealthResponse{
			Status:       "degraded",
			DatabaseOK:   false,
			DatabasePath: db.DBPath,
		}, nil
	}
	counts, err := s.store.Health(ctx)
	if err != nil {
		return nil, err
	}
	return &HealthResponse{
		Status:         "ok",
		DatabaseOK:     db.DatabaseReadable && db.IntegrityCheck,
		DatabasePath:   db.DBPath,
		SessionCounts:  healthCounts(counts),
		PendingCancels: s.registry.Len(),
	}, nil
}

func (s *Service) load(ctx context.Context, sessionID string) (*queue.Session, error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, fmt.Errorf("%w: session id required", ErrValidation)
	}
	session, err := s.store.GetByID(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, queue.ErrNotFound
	}
	return session, nil
}

func isBundleExtension(ext string) bool {
	for _, candidate := range bundleExtensions {
		if ext == candidate {
			return true
		}
	}
	return false
}

func validateSelection(selection bundle.Selection, meta *bundle.Metadata) error {
	indices := make(map[int]struct{}, len(meta.Assets))
	for _, asset := range meta.Assets {
		indices[asset.Index] = struct{}{}
	}
	for _, index := range selection.Indices {
		if _, ok := indices[index]; !ok {
			return fmt.Errorf("%w: unknown asset index %d", ErrValidation, index)
		}
	}

	known := make(map[string]struct{}, len(meta.AssetClasses))
	for _, class := range meta.AssetClasses {
		known[strings.ToLower(class.Class)] = struct{}{}
	}
	for _, class := range selection.Classes {
		if _, ok := known[strings.ToLower(class)]; !ok {
			return fmt.Errorf("%w: unknown asset class %q", ErrValidation, class)
		}
	}

	ids := make(map[int64]struct{}, len(meta.Assets))
	for _, asset := range meta.Assets {
		ids[asset.PathID] = struct{}{}
	}
	for _, id := range selection.PathIDs {
		if _, ok := ids[id]; !ok {
			return fmt.Errorf("%w: unknown asset path id %d", ErrValidation, id)
		}
	}
	return nil
}
