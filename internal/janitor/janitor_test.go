package janitor_test

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"bundlex/internal/janitor"
	"bundlex/internal/logging"
	"bundlex/internal/queue"
	"bundlex/internal/storage"
	"bundlex/internal/testsupport"
)

func TestSweepRemovesExpiredSessionsAndFiles(t *testing.T) {
	ctx := context.Background()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	files := storage.NewManager(cfg)

	session := testsupport.NewSession(t, store, "bundle.unity3d")
	if _, _, err := files.SaveUpload(session.ID, "bundle.unity3d", strings.NewReader("x")); err != nil {
		t.Fatalf("SaveUpload: %v", err)
	}

	// A clock far in the future puts every session past retention.
	future := func() time.Time { return time.Now().Add(48 * time.Hour) }
	j := janitor.New(cfg, store, files, logging.NewNop(), janitor.WithNow(future))

	removed, err := j.SweepOnce(ctx)
	if err != nil {
		t.Fatalf("SweepOnce: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected one removal, got %d", removed)
	}

	exists, err := store.Exists(ctx, session.ID)
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if exists {
		t.Fatal("expected session row to be gone")
	}
	if _, err := os.Stat(files.UploadDir(session.ID)); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("expected upload dir to be removed")
	}
}

func TestSweepSparesInFlightSessions(t *testing.T) {
	ctx := context.Background()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	files := storage.NewManager(cfg)

	session := testsupport.NewSession(t, store, "bundle.unity3d")
	if _, err := store.Enqueue(ctx, session.ID, queue.KindAnalyze, ""); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, err := store.ClaimNext(ctx); err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}

	future := func() time.Time { return time.Now().Add(48 * time.Hour) }
	j := janitor.New(cfg, store, files, logging.NewNop(), janitor.WithNow(future))

	if _, err := j.SweepOnce(ctx); err != nil {
		t.Fatalf("SweepOnce: %v", err)
	}
	exists, err := store.Exists(ctx, session.ID)
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if !exists {
		t.Fatal("in-flight session must survive the sweep")
	}
}

func TestSweepSparesFreshSessions(t *testing.T) {
	ctx := context.Background()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	files := storage.NewManager(cfg)

	session := testsupport.NewSession(t, store, "bundle.unity3d")

	j := janitor.New(cfg, store, files, logging.NewNop())
	removed, err := j.SweepOnce(ctx)
	if err != nil {
		t.Fatalf("SweepOnce: %v", err)
	}
	if removed != 0 {
		t.Fatalf("expected no removals, got %d", removed)
	}
	exists, err := store.Exists(ctx, session.ID)
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if !exists {
		t.Fatal("fresh session must survive the sweep")
	}
}

func TestSweepRemovesOrphanDirs(t *testing.T) {
	ctx := context.Background()
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	files := storage.NewManager(cfg)

	if _, _, err := files.SaveUpload("ghost", "bundle.unity3d", strings.NewReader("x")); err != nil {
		t.Fatalf("SaveUpload: %v", err)
	}

	j := janitor.New(cfg, store, files, logging.NewNop())
	if _, err := j.SweepOnce(ctx); err != nil {
		t.Fatalf("SweepOnce: %v", err)
	}
	if _, err := os.Stat(files.UploadDir("ghost")); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("expected orphan dir to be removed")
	}
}
