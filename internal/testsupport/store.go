package testsupport

import (
	"context"
	"testing"

	"bundlex/internal/config"
	"bundlex/internal/queue"
)

// MustOpenStore opens a queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// NewSession creates an uploaded session for tests using the provided store.
func NewSession(t testing.TB, store *queue.Store, filename string) *queue.Session {
	t.Helper()

	session, err := store.NewSession(context.Background(), queue.NewSessionParams{
		OriginalFilename: filename,
		AllowRetention:   true,
	})
	if err != nil {
		t.Fatalf("store.NewSession: %v", err)
	}
	return session
}
