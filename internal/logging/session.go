package logging

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// NewSessionLogger opens an append-mode per-session processing log and
// returns a debug-level console logger writing to it, along with the file
// closer. The file lives for as long as the session's other artifacts.
func NewSessionLogger(path string) (*slog.Logger, func() error, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("ensure session log dir: %w", err)
		}
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o664)
	if err != nil {
		return nil, nil, fmt.Errorf("open session log %s: %w", path, err)
	}

	levelVar := new(slog.LevelVar)
	levelVar.Set(slog.LevelDebug)
	return slog.New(newConsoleHandler(file, levelVar)), file.Close, nil
}
