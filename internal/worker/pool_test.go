package worker_test

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"bundlex/internal/bundle"
	"bundlex/internal/cancellation"
	"bundlex/internal/config"
	"bundlex/internal/logging"
	"bundlex/internal/queue"
	"bundlex/internal/storage"
	"bundlex/internal/testsupport"
	"bundlex/internal/worker"
)

type fakeClient struct {
	analyze func(ctx context.Context, bundlePath string, progress func(bundle.ProgressUpdate)) (*bundle.Metadata, error)
	extract func(ctx context.Context, bundlePath, outputDir string, selection bundle.Selection, progress func(bundle.ProgressUpdate)) (string, error)
}

func (f *fakeClient) Analyze(ctx context.Context, bundlePath string, progress func(bundle.ProgressUpdate)) (*bundle.Metadata, error) {
	if f.analyze == nil {
		return &bundle.Metadata{}, nil
	}
	return f.analyze(ctx, bundlePath, progress)
}

func (f *fakeClient) Extract(ctx context.Context, bundlePath, outputDir string, selection bundle.Selection, progress func(bundle.ProgressUpdate)) (string, error) {
	if f.extract == nil {
		return outputDir + "/session.zip", nil
	}
	return f.extract(ctx, bundlePath, outputDir, selection, progress)
}

type fixture struct {
	cfg      *config.Config
	store    *queue.Store
	files    *storage.Manager
	registry *cancellation.Registry
	pool     *worker.Pool
}

func newFixture(t *testing.T, cfg *config.Config, client bundle.Client) *fixture {
	t.Helper()

	store := testsupport.MustOpenStore(t, cfg)
	files := storage.NewManager(cfg)
	registry := cancellation.NewRegistry()
	pool := worker.NewPool(cfg, store, client, files, registry, logging.NewNop())

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("pool.Start: %v", err)
	}
	t.Cleanup(pool.Stop)

	return &fixture{cfg: cfg, store: store, files: files, registry: registry, pool: pool}
}

func waitForStatus(t *testing.T, store *queue.Store, id string, want queue.Status) *queue.Session {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		session, err := store.GetByID(context.Background(), id)
		if err != nil {
			t.Fatalf("GetByID: %v", err)
		}
		if session != nil && session.Status == want {
			return session
		}
		time.Sleep(10 * time.Millisecond)
	}
	session, _ := store.GetByID(context.Background(), id)
	t.Fatalf("session never reached %s, last seen %+v", want, session)
	return nil
}

func TestPoolAnalyzesQueuedSession(t *testing.T) {
	client := &fakeClient{
		analyze: func(ctx context.Context, bundlePath string, progress func(bundle.ProgressUpdate)) (*bundle.Metadata, error) {
			progress(bundle.ProgressUpdate{Percent: 40, Stage: "objects"})
			return &bundle.Metadata{
				BundleInfo: bundle.BundleInfo{Signature: "UnityFS", ObjectCount: 1},
				Assets:     []bundle.Asset{{Index: 0, PathID: 1, Name: "logo", Class: "Texture2D"}},
			}, nil
		},
	}
	f := newFixture(t, testsupport.NewConfig(t), client)

	session := testsupport.NewSession(t, f.store, "bundle.unity3d")
	if _, err := f.store.Enqueue(context.Background(), session.ID, queue.KindAnalyze, ""); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	done := waitForStatus(t, f.store, session.ID, queue.StatusCompleted)
	if done.Progress != 100 {
		t.Fatalf("expected 100%% progress, got %d", done.Progress)
	}
	if done.MetadataJSON == "" {
		t.Fatal("expected metadata to be persisted")
	}
}

func TestPoolExtractsWithSelection(t *testing.T) {
	var gotSelection bundle.Selection
	client := &fakeClient{
		extract: func(ctx context.Context, bundlePath, outputDir string, selection bundle.Selection, progress func(bundle.ProgressUpdate)) (string, error) {
			gotSelection = selection
			return outputDir + "/assets.zip", nil
		},
	}
	f := newFixture(t, testsupport.NewConfig(t), client)
	ctx := context.Background()

	session := testsupport.NewSession(t, f.store, "bundle.unity3d")
	if _, err := f.store.Enqueue(ctx, session.ID, queue.KindAnalyze, ""); err != nil {
		t.Fatalf("Enqueue analyze: %v", err)
	}
	waitForStatus(t, f.store, session.ID, queue.StatusCompleted)

	if _, err := f.store.Enqueue(ctx, session.ID, queue.KindExtract, `{"selected_assets":[0],"classes":["Texture2D"],"path_ids":[1]}`); err != nil {
		t.Fatalf("Enqueue extract: %v", err)
	}
	done := waitForStatus(t, f.store, session.ID, queue.StatusCompleted)

	if !done.DownloadReady() {
		t.Fatalf("expected download-ready session, got %+v", done)
	}
	if done.ArchivePath != f.files.OutputDir(session.ID)+"/assets.zip" {
		t.Fatalf("unexpected archive path %q", done.ArchivePath)
	}
	if len(gotSelection.Indices) != 1 || gotSelection.Indices[0] != 0 {
		t.Fatalf("selected assets not forwarded: %+v", gotSelection)
	}
	if len(gotSelection.Classes) != 1 || gotSelection.Classes[0] != "Texture2D" {
		t.Fatalf("selection not forwarded: %+v", gotSelection)
	}
	if len(gotSelection.PathIDs) != 1 || gotSelection.PathIDs[0] != 1 {
		t.Fatalf("path ids not forwarded: %+v", gotSelection)
	}
}

func TestPoolWritesSessionLogWhenRequested(t *testing.T) {
	client := &fakeClient{
		analyze: func(ctx context.Context, bundlePath string, progress func(bundle.ProgressUpdate)) (*bundle.Metadata, error) {
			progress(bundle.ProgressUpdate{Percent: 50, Stage: "objects", Message: "walking objects"})
			return &bundle.Metadata{}, nil
		},
	}
	f := newFixture(t, testsupport.NewConfig(t), client)
	ctx := context.Background()

	logged, err := f.store.NewSession(ctx, queue.NewSessionParams{
		OriginalFilename: "bundle.unity3d",
		AllowRetention:   true,
		KeepSessionLog:   true,
	})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	plain := testsupport.NewSession(t, f.store, "bundle.unity3d")

	for _, id := range []string{logged.ID, plain.ID} {
		if _, err := f.store.Enqueue(ctx, id, queue.KindAnalyze, ""); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	waitForStatus(t, f.store, logged.ID, queue.StatusCompleted)
	waitForStatus(t, f.store, plain.ID, queue.StatusCompleted)

	// The final log line lands just after the status flips.
	logPath := f.files.SessionLogPath(logged.ID)
	var content []byte
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		content, _ = os.ReadFile(logPath)
		if strings.Contains(string(content), "job finished") {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	for _, want := range []string{"job started", "walking objects", "job finished"} {
		if !strings.Contains(string(content), want) {
			t.Fatalf("expected %q in session log %q", want, content)
		}
	}

	if _, err := os.Stat(f.files.SessionLogPath(plain.ID)); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("session log must only be written when requested")
	}
}

func TestPoolRecordsTimeout(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Queue.JobTimeoutSeconds = 1
	client := &fakeClient{
		analyze: func(ctx context.Context, bundlePath string, progress func(bundle.ProgressUpdate)) (*bundle.Metadata, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	f := newFixture(t, cfg, client)

	session := testsupport.NewSession(t, f.store, "bundle.unity3d")
	if _, err := f.store.Enqueue(context.Background(), session.ID, queue.KindAnalyze, ""); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	failed := waitForStatus(t, f.store, session.ID, queue.StatusError)
	if failed.ErrorKind != queue.ErrorKindTimeout {
		t.Fatalf("expected timeout error kind, got %q", failed.ErrorKind)
	}
}

func TestPoolSkipsPreCancelledSession(t *testing.T) {
	called := false
	client := &fakeClient{
		analyze: func(ctx context.Context, bundlePath string, progress func(bundle.ProgressUpdate)) (*bundle.Metadata, error) {
			called = true
			return &bundle.Metadata{}, nil
		},
	}
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	files := storage.NewManager(cfg)
	registry := cancellation.NewRegistry()
	pool := worker.NewPool(cfg, store, client, files, registry, logging.NewNop())

	session := testsupport.NewSession(t, store, "bundle.unity3d")
	if _, err := store.Enqueue(context.Background(), session.ID, queue.KindAnalyze, ""); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	registry.Request(session.ID)

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("pool.Start: %v", err)
	}
	t.Cleanup(pool.Stop)

	cancelled := waitForStatus(t, store, session.ID, queue.StatusCancelled)
	if cancelled.ErrorMessage != queue.CancelledMessage {
		t.Fatalf("expected cancellation message, got %q", cancelled.ErrorMessage)
	}
	if called {
		t.Fatal("capability must not run for a pre-cancelled session")
	}
	if registry.Cancelled(session.ID) {
		t.Fatal("expected registry flag to be cleared")
	}
}

func TestPoolObservesCancelAtCheckpoint(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	files := storage.NewManager(cfg)
	registry := cancellation.NewRegistry()

	session := testsupport.NewSession(t, store, "bundle.unity3d")
	if err := os.MkdirAll(files.UploadDir(session.ID), 0o755); err != nil {
		t.Fatalf("mkdir upload dir: %v", err)
	}

	sessionID := session.ID
	client := &fakeClient{
		analyze: func(ctx context.Context, bundlePath string, progress func(bundle.ProgressUpdate)) (*bundle.Metadata, error) {
			progress(bundle.ProgressUpdate{Percent: 10})
			// Cancel lands between checkpoints; the next one aborts the job.
			registry.Request(sessionID)
			progress(bundle.ProgressUpdate{Percent: 20})
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}

	if _, err := store.Enqueue(context.Background(), session.ID, queue.KindAnalyze, ""); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	pool := worker.NewPool(cfg, store, client, files, registry, logging.NewNop())
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("pool.Start: %v", err)
	}
	t.Cleanup(pool.Stop)

	waitForStatus(t, store, session.ID, queue.StatusCancelled)
	if _, err := os.Stat(files.UploadDir(session.ID)); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("expected cancelled session files to be released")
	}
}

func TestPoolRecoversFromPanic(t *testing.T) {
	panicked := false
	client := &fakeClient{
		analyze: func(ctx context.Context, bundlePath string, progress func(bundle.ProgressUpdate)) (*bundle.Metadata, error) {
			if !panicked {
				panicked = true
				panic("boom")
			}
			return &bundle.Metadata{}, nil
		},
	}
	f := newFixture(t, testsupport.NewConfig(t), client)
	ctx := context.Background()

	first := testsupport.NewSession(t, f.store, "bundle.unity3d")
	if _, err := f.store.Enqueue(ctx, first.ID, queue.KindAnalyze, ""); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	failed := waitForStatus(t, f.store, first.ID, queue.StatusError)
	if failed.ErrorKind != queue.ErrorKindInternal {
		t.Fatalf("expected internal error kind, got %q", failed.ErrorKind)
	}

	second := testsupport.NewSession(t, f.store, "bundle.unity3d")
	if _, err := f.store.Enqueue(ctx, second.ID, queue.KindAnalyze, ""); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	waitForStatus(t, f.store, second.ID, queue.StatusCompleted)
}
