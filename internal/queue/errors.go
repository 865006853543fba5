package queue

import "errors"

var (
	// ErrNotFound indicates no session exists for the given identifier.
	ErrNotFound = errors.New("session not found")

	// ErrQueueFull indicates the admission ceiling has been reached.
	ErrQueueFull = errors.New("queue is full")

	// ErrAlreadyTerminal indicates a transition was requested on a session
	// whose current phase already finished.
	ErrAlreadyTerminal = errors.New("session already terminal")

	// ErrPhaseNotReady indicates an extraction was requested before analysis
	// completed successfully.
	ErrPhaseNotReady = errors.New("analysis has not completed")

	// ErrAlreadyQueued indicates the session already has a pending job.
	ErrAlreadyQueued = errors.New("session already queued")
)
