// Package storage owns the on-disk layout for session files: the per-session
// upload directory, the per-session extraction output directory, and their
// removal once a session ends or expires.
package storage

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"bundlex/internal/config"
)

// ErrUploadTooLarge indicates the upload exceeded the configured byte ceiling.
var ErrUploadTooLarge = errors.New("upload exceeds size limit")

// Manager resolves and maintains session directories.
type Manager struct {
	uploadRoot string
	outputRoot string
	logRoot    string
	maxBytes   int64
}

// NewManager builds a Manager from configuration.
func NewManager(cfg *config.Config) *Manager {
	return &Manager{
		uploadRoot: cfg.Paths.UploadDir,
		outputRoot: cfg.Paths.OutputDir,
		logRoot:    filepath.Join(cfg.Paths.LogDir, "sessions"),
		maxBytes:   cfg.Server.MaxUploadBytes,
	}
}

// UploadDir returns the staging directory for a session.
func (m *Manager) UploadDir(sessionID string) string {
	return filepath.Join(m.uploadRoot, sessionID)
}

// OutputDir returns the extraction directory for a session.
func (m *Manager) OutputDir(sessionID string) string {
	return filepath.Join(m.outputRoot, sessionID)
}

// SessionLogPath returns where the per-session processing log is written
// when the uploader asked for one.
func (m *Manager) SessionLogPath(sessionID string) string {
	return filepath.Join(m.logRoot, sessionID+".log")
}

// SaveUpload streams an uploaded file into the session's staging directory
// and returns the stored path along with the byte count. The filename is
// reduced to a safe base name before use.
func (m *Manager) SaveUpload(sessionID, filename string, src io.Reader) (string, int64, error) {
	dir := m.UploadDir(sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", 0, fmt.Errorf("create upload dir: %w", err)
	}

	target := filepath.Join(dir, SanitizeFilename(filename))
	dst, err := os.Create(target)
	if err != nil {
		return "", 0, fmt.Errorf("create upload file: %w", err)
	}

	written, err := io.Copy(dst, io.LimitReader(src, m.maxBytes+1))
	closeErr := dst.Close()
	if err != nil {
		_ = os.Remove(target)
		return "", 0, fmt.Errorf("write upload: %w", err)
	}
	if closeErr != nil {
		_ = os.Remove(target)
		return "", 0, fmt.Errorf("close upload: %w", closeErr)
	}
	if written > m.maxBytes {
		_ = os.Remove(target)
		return "", 0, fmt.Errorf("%w: limit %d bytes", ErrUploadTooLarge, m.maxBytes)
	}
	return target, written, nil
}

// Release removes every file belonging to the session, including its
// processing log when one was written.
func (m *Manager) Release(sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return errors.New("session id required")
	}
	var firstErr error
	for _, dir := range []string{m.UploadDir(sessionID), m.OutputDir(sessionID)} {
		if err := os.RemoveAll(dir); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("remove %s: %w", dir, err)
		}
	}
	if err := os.Remove(m.SessionLogPath(sessionID)); err != nil && !errors.Is(err, os.ErrNotExist) && firstErr == nil {
		firstErr = fmt.Errorf("remove session log: %w", err)
	}
	return firstErr
}

// SessionDirs lists the session identifiers that currently have directories
// on disk, across both the upload and output roots.
func (m *Manager) SessionDirs() ([]string, error) {
	seen := make(map[string]struct{})
	var ids []string
	for _, root := range []string{m.uploadRoot, m.outputRoot} {
		entries, err := os.ReadDir(root)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, fmt.Errorf("read %s: %w", root, err)
		}
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			if _, ok := seen[entry.Name()]; ok {
				continue
			}
			seen[entry.Name()] = struct{}{}
			ids = append(ids, entry.Name())
		}
	}
	return ids, nil
}

// SanitizeFilename reduces an uploaded filename to a safe base name.
func SanitizeFilename(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	base = strings.TrimSpace(base)
	base = strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', '\x00':
			return '_'
		}
		return r
	}, base)
	if base == "" || base == "." || base == ".." {
		return "upload.bin"
	}
	return base
}
