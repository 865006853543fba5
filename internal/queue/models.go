package queue

import (
	"strings"
	"time"
)

// Status represents the lifecycle of a session.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusAnalyzing  Status = "analyzing"
	StatusExtracting Status = "extracting"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
	StatusCancelled  Status = "cancelled"
)

// Kind identifies which phase a queued job runs.
type Kind string

const (
	KindAnalyze Kind = "analyze"
	KindExtract Kind = "extract"
)

// ErrorKind classifies why a session entered the error state.
const (
	ErrorKindCapability = "capability"
	ErrorKindTimeout    = "timeout"
	ErrorKindInternal   = "internal"
)

// CancelledMessage is the error message recorded when a user cancels a session.
const CancelledMessage = "Cancelled by user"

var allStatuses = []Status{
	StatusQueued,
	StatusAnalyzing,
	StatusExtracting,
	StatusCompleted,
	StatusError,
	StatusCancelled,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

var processingStatuses = map[Status]struct{}{
	StatusAnalyzing:  {},
	StatusExtracting: {},
}

var terminalStatuses = map[Status]struct{}{
	StatusCompleted: {},
	StatusError:     {},
	StatusCancelled: {},
}

// Session represents an upload lifecycle persisted in SQLite.
//
// A session passes through two phases: analysis after upload, and an optional
// extraction phase re-entered from completed. Kind records which phase the
// current status describes.
type Session struct {
	ID               string
	Kind             Kind
	Status           Status
	Progress         int
	MetadataJSON     string
	SelectionJSON    string
	ArchivePath      string
	ErrorMessage     string
	ErrorKind        string
	OriginalFilename string
	UploadDir        string
	BundlePath       string
	AllowRetention   bool
	KeepSessionLog   bool
	CreatedAt        time.Time
	LastTouchedAt    time.Time
}

// Job is a pending unit of work awaiting a worker claim.
type Job struct {
	ID        int64
	SessionID string
	Kind      Kind
	CreatedAt time.Time
}

// HealthSummary describes aggregated session counts per key lifecycle states.
type HealthSummary struct {
	Total      int
	Queued     int
	Processing int
	Completed  int
	Errored    int
	Cancelled  int
}

// DatabaseHealth captures diagnostic information about the session database.
type DatabaseHealth struct {
	DBPath           string
	DatabaseExists   bool
	DatabaseReadable bool
	TableExists      bool
	TotalSessions    int
	IntegrityCheck   bool
	Error            string
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// ParseKind converts a string into a known Kind.
func ParseKind(value string) (Kind, bool) {
	switch Kind(strings.ToLower(strings.TrimSpace(value))) {
	case KindAnalyze:
		return KindAnalyze, true
	case KindExtract:
		return KindExtract, true
	default:
		return "", false
	}
}

// IsProcessing returns true when the status reflects an in-flight job.
func (s Session) IsProcessing() bool {
	_, ok := processingStatuses[s.Status]
	return ok
}

// IsTerminal reports whether the session has finished its current phase.
// Completed analysis counts as terminal even though an extraction may later
// re-queue the session.
func (s Session) IsTerminal() bool {
	_, ok := terminalStatuses[s.Status]
	return ok
}

// IsCancellable reports whether a cancel request can still take effect.
func (s Session) IsCancellable() bool {
	return !s.IsTerminal()
}

// DownloadReady reports whether the session holds a finished archive.
func (s Session) DownloadReady() bool {
	return s.Kind == KindExtract && s.Status == StatusCompleted && s.ArchivePath != ""
}

// ProcessingStatus returns the in-flight status matching a job kind.
func ProcessingStatus(kind Kind) Status {
	if kind == KindExtract {
		return StatusExtracting
	}
	return StatusAnalyzing
}

// IsProcessingStatus reports whether a status reflects an in-flight job.
func IsProcessingStatus(status Status) bool {
	_, ok := processingStatuses[status]
	return ok
}

// IsTerminalStatus reports whether a status ends the current phase.
func IsTerminalStatus(status Status) bool {
	_, ok := terminalStatuses[status]
	return ok
}
