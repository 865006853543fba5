// Package cancellation tracks user cancel requests for in-flight sessions.
//
// Cancellation is cooperative: the HTTP layer records a request here and the
// owning worker observes it at its next progress checkpoint. Flags are
// set-once, so a session that has been cancelled can never be un-cancelled.
package cancellation

import "sync"

// Registry is a set-once collection of cancelled session identifiers.
type Registry struct {
	mu    sync.Mutex
	flags map[string]struct{}
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{flags: make(map[string]struct{})}
}

// Request marks the session as cancelled. It reports whether this call was
// the first to do so; repeat requests are idempotent.
func (r *Registry) Request(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.flags[sessionID]; ok {
		return false
	}
	r.flags[sessionID] = struct{}{}
	return true
}

// Cancelled reports whether a cancel has been requested for the session.
func (r *Registry) Cancelled(sessionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.flags[sessionID]
	return ok
}

// Forget drops the flag once the session has reached a terminal state and
// been persisted, keeping the registry from growing without bound.
func (r *Registry) Forget(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.flags, sessionID)
}

// Len returns the number of outstanding cancel flags.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.flags)
}
