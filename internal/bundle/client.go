package bundle

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

var commandContext = exec.CommandContext

// ErrNoResult indicates the tool exited cleanly without reporting a result.
var ErrNoResult = errors.New("bundletool produced no result")

// Client defines bundletool behaviour.
type Client interface {
	Analyze(ctx context.Context, bundlePath string, progress func(ProgressUpdate)) (*Metadata, error)
	Extract(ctx context.Context, bundlePath, outputDir string, selection Selection, progress func(ProgressUpdate)) (string, error)
}

// Option configures the CLI client.
type Option func(*CLI)

// WithBinary overrides the default binary name.
func WithBinary(binary string) Option {
	return func(c *CLI) {
		if binary != "" {
			c.binary = binary
		}
	}
}

// CLI wraps the bundletool command-line analyzer/extractor.
type CLI struct {
	binary string
}

// NewCLI constructs a CLI client using defaults.
func NewCLI(opts ...Option) *CLI {
	cli := &CLI{binary: "bundletool"}
	for _, opt := range opts {
		opt(cli)
	}
	return cli
}

// toolEvent is one line of bundletool --progress-json output. Progress lines
// carry percent/stage/message; the final line carries result or error.
type toolEvent struct {
	Percent float64          `json:"percent"`
	Stage   string           `json:"stage"`
	Message string           `json:"message"`
	Result  *json.RawMessage `json:"result"`
	Error   string           `json:"error"`
}

// Analyze inspects a bundle and returns its metadata.
func (c *CLI) Analyze(ctx context.Context, bundlePath string, progress func(ProgressUpdate)) (*Metadata, error) {
	if bundlePath == "" {
		return nil, errors.New("bundle path required")
	}

	args := []string{"analyze", "--input", bundlePath, "--progress-json"}
	result, err := c.run(ctx, args, progress)
	if err != nil {
		return nil, fmt.Errorf("bundletool analyze failed: %w", err)
	}
	if result == nil {
		return nil, ErrNoResult
	}

	var meta Metadata
	if err := json.Unmarshal(*result, &meta); err != nil {
		return nil, fmt.Errorf("decode analysis result: %w", err)
	}
	if meta.BundleInfo.Filename == "" {
		meta.BundleInfo.Filename = filepath.Base(bundlePath)
	}
	if meta.AnalyzedAt.IsZero() {
		meta.AnalyzedAt = time.Now().UTC()
	}
	return &meta, nil
}

// Extract writes the selected assets into outputDir and returns the archive
// path the tool reports.
func (c *CLI) Extract(ctx context.Context, bundlePath, outputDir string, selection Selection, progress func(ProgressUpdate)) (string, error) {
	if bundlePath == "" {
		return "", errors.New("bundle path required")
	}
	if strings.TrimSpace(outputDir) == "" {
		return "", errors.New("output directory required")
	}

	args := []string{"extract", "--input", bundlePath, "--output", outputDir, "--progress-json"}
	if len(selection.Indices) > 0 {
		indices := make([]string, len(selection.Indices))
		for i, index := range selection.Indices {
			indices[i] = strconv.Itoa(index)
		}
		args = append(args, "--indices", strings.Join(indices, ","))
	}
	if len(selection.Classes) > 0 {
		args = append(args, "--classes", strings.Join(selection.Classes, ","))
	}
	if len(selection.PathIDs) > 0 {
		ids := make([]string, len(selection.PathIDs))
		for i, id := range selection.PathIDs {
			ids[i] = strconv.FormatInt(id, 10)
		}
		args = append(args, "--path-ids", strings.Join(ids, ","))
	}

	result, err := c.run(ctx, args, progress)
	if err != nil {
		return "", fmt.Errorf("bundletool extract failed: %w", err)
	}
	if result == nil {
		return "", ErrNoResult
	}

	var payload struct {
		Archive string `json:"archive"`
	}
	if err := json.Unmarshal(*result, &payload); err != nil {
		return "", fmt.Errorf("decode extraction result: %w", err)
	}
	if payload.Archive == "" {
		return "", ErrNoResult
	}
	return payload.Archive, nil
}

func (c *CLI) run(ctx context.Context, args []string, progress func(ProgressUpdate)) (*json.RawMessage, error) {
	cmd := commandContext(ctx, c.binary, args...) //nolint:gosec
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	cmd.Stderr = cmd.Stdout
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", c.binary, err)
	}

	var (
		result  *json.RawMessage
		toolErr string
	)
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		var event toolEvent
		if err := json.Unmarshal(line, &event); err != nil {
			continue
		}
		if event.Result != nil {
			raw := make(json.RawMessage, len(*event.Result))
			copy(raw, *event.Result)
			result = &raw
			continue
		}
		if event.Error != "" {
			toolErr = event.Error
			continue
		}
		if progress != nil {
			progress(ProgressUpdate{Percent: event.Percent, Stage: event.Stage, Message: event.Message})
		}
	}
	if err := scanner.Err(); err != nil {
		_ = cmd.Wait()
		return nil, fmt.Errorf("read tool output: %w", err)
	}

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if toolErr != "" {
			return nil, fmt.Errorf("%s: %w", toolErr, err)
		}
		return nil, err
	}
	return result, nil
}

var _ Client = (*CLI)(nil)
