package api

import (
	"encoding/json"
	"time"

	"bundlex/internal/queue"
)

// UploadResponse is returned when an upload is accepted into the queue.
type UploadResponse struct {
	SessionID     string `json:"session_id"`
	Status        string `json:"status"`
	QueuePosition int    `json:"queue_position"`
	TotalQueued   int    `json:"total_queued"`
}

// StatusResponse answers an analysis poll. The queue fields are present only
// while the session is still queued.
type StatusResponse struct {
	SessionID     string          `json:"session_id"`
	Kind          string          `json:"kind"`
	Status        string          `json:"status"`
	Progress      int             `json:"progress"`
	QueuePosition int             `json:"queue_position,omitempty"`
	TotalQueued   int             `json:"total_queued,omitempty"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
	Error         string          `json:"error,omitempty"`
	ErrorKind     string          `json:"error_kind,omitempty"`
	DownloadReady bool            `json:"download_ready"`
}

// ExtractResponse acknowledges an accepted extraction request.
type ExtractResponse struct {
	SessionID     string `json:"session_id"`
	Status        string `json:"status"`
	QueuePosition int    `json:"queue_position"`
	TotalQueued   int    `json:"total_queued"`
}

// CancelResponse reports the effect of a cancel request.
type CancelResponse struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
	Message   string `json:"message"`
}

// SessionSummary is one row of the queue listing.
type SessionSummary struct {
	SessionID   string `json:"session_id"`
	Filename    string `json:"filename"`
	Kind        string `json:"kind"`
	Status      string `json:"status"`
	Progress    int    `json:"progress"`
	CreatedAt   string `json:"created_at"`
	LastTouched string `json:"last_touched"`
}

// QueueResponse lists sessions with aggregate counts.
type QueueResponse struct {
	Sessions []SessionSummary `json:"sessions"`
	Health   HealthCounts     `json:"health"`
}

// HealthCounts mirrors queue.HealthSummary for JSON output.
type HealthCounts struct {
	Total      int `json:"total"`
	Queued     int `json:"queued"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Errored    int `json:"errored"`
	Cancelled  int `json:"cancelled"`
}

// HealthResponse answers the daemon health probe.
type HealthResponse struct {
	Status         string       `json:"status"`
	DatabaseOK     bool         `json:"database_ok"`
	DatabasePath   string       `json:"database_path"`
	SessionCounts  HealthCounts `json:"session_counts"`
	PendingCancels int          `json:"pending_cancels"`
}

func summarize(session *queue.Session) SessionSummary {
	return SessionSummary{
		SessionID:   session.ID,
		Filename:    session.OriginalFilename,
		Kind:        string(session.Kind),
		Status:      string(session.Status),
		Progress:    session.Progress,
		CreatedAt:   session.CreatedAt.UTC().Format(time.RFC3339),
		LastTouched: session.LastTouchedAt.UTC().Format(time.RFC3339),
	}
}

func healthCounts(summary queue.HealthSummary) HealthCounts {
	return HealthCounts{
		Total:      summary.Total,
		Queued:     summary.Queued,
		Processing: summary.Processing,
		Completed:  summary.Completed,
		Errored:    summary.Errored,
		Cancelled:  summary.Cancelled,
	}
}
