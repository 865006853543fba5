package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"bundlex/internal/api"
	"bundlex/internal/bundle"
	"bundlex/internal/cancellation"
	"bundlex/internal/config"
	"bundlex/internal/logging"
	"bundlex/internal/queue"
	"bundlex/internal/storage"
	"bundlex/internal/testsupport"
)

type fixture struct {
	cfg      *config.Config
	store    *queue.Store
	files    *storage.Manager
	registry *cancellation.Registry
	svc      *api.Service
}

func newFixture(t *testing.T, opts ...testsupport.ConfigOption) *fixture {
	t.Helper()

	cfg := testsupport.NewConfig(t, opts...)
	store := testsupport.MustOpenStore(t, cfg)
	files := storage.NewManager(cfg)
	registry := cancellation.NewRegistry()
	svc := api.NewService(cfg, store, files, registry, logging.NewNop())
	return &fixture{cfg: cfg, store: store, files: files, registry: registry, svc: svc}
}

func (f *fixture) upload(t *testing.T, names ...string) *api.UploadResponse {
	t.Helper()

	req := api.UploadRequest{AllowRetention: true}
	for _, name := range names {
		req.Files = append(req.Files, api.UploadFile{Filename: name, Content: strings.NewReader("payload")})
	}
	resp, err := f.svc.Upload(context.Background(), req)
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	return resp
}

const analyzedMetadata = `{"bundle_info":{"signature":"UnityFS","object_count":2},` +
	`"assets":[{"index":0,"path_id":1,"name":"logo","class":"Texture2D"},{"index":1,"path_id":2,"name":"strings","class":"TextAsset"}],` +
	`"asset_classes":[{"class":"Texture2D","count":1},{"class":"TextAsset","count":1}]}`

// completeAnalysis drives the claimed session to a completed analysis.
func (f *fixture) completeAnalysis(t *testing.T, sessionID string) {
	t.Helper()

	ctx := context.Background()
	job, err := f.store.ClaimNext(ctx)
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if job == nil || job.SessionID != sessionID {
		t.Fatalf("expected claim for %s, got %+v", sessionID, job)
	}
	if err := f.store.MarkAnalyzed(ctx, sessionID, analyzedMetadata); err != nil {
		t.Fatalf("MarkAnalyzed: %v", err)
	}
}

func TestUploadCreatesQueuedSession(t *testing.T) {
	f := newFixture(t)

	resp := f.upload(t, "bundle.unity3d", "bundle.manifest")
	if resp.Status != string(queue.StatusQueued) {
		t.Fatalf("expected queued upload, got %q", resp.Status)
	}
	if resp.QueuePosition != 1 || resp.TotalQueued != 1 {
		t.Fatalf("expected position 1/1, got %d/%d", resp.QueuePosition, resp.TotalQueued)
	}

	session, err := f.store.GetByID(context.Background(), resp.SessionID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if filepath.Base(session.BundlePath) != "bundle.unity3d" {
		t.Fatalf("expected primary bundle path, got %q", session.BundlePath)
	}
	if _, err := os.Stat(session.BundlePath); err != nil {
		t.Fatalf("expected staged bundle on disk: %v", err)
	}
	if _, err := os.Stat(filepath.Join(session.UploadDir, "bundle.manifest")); err != nil {
		t.Fatalf("expected companion file on disk: %v", err)
	}
}

func TestUploadWithoutBundleRejected(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Upload(context.Background(), api.UploadRequest{
		Files: []api.UploadFile{{Filename: "readme.manifest", Content: strings.NewReader("x")}},
	})
	if !errors.Is(err, api.ErrNoBundleFile) {
		t.Fatalf("expected ErrNoBundleFile, got %v", err)
	}
}

func TestUploadRejectsUnknownFileTypes(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Upload(context.Background(), api.UploadRequest{
		Files: []api.UploadFile{
			{Filename: "bundle.unity3d", Content: strings.NewReader("x")},
			{Filename: "tool.exe", Content: strings.NewReader("x")},
		},
	})
	if !errors.Is(err, api.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestUploadQueueFullLeavesNoTrace(t *testing.T) {
	f := newFixture(t, testsupport.WithMaxPendingJobs(1))

	f.upload(t, "first.unity3d")

	_, err := f.svc.Upload(context.Background(), api.UploadRequest{
		Files: []api.UploadFile{{Filename: "second.unity3d", Content: strings.NewReader("x")}},
	})
	if !errors.Is(err, queue.ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}

	ids, err := f.files.SessionDirs()
	if err != nil {
		t.Fatalf("SessionDirs: %v", err)
	}
	if len(ids) != 1 {
		t.Fatalf("rejected upload must not leave files, got dirs %v", ids)
	}
}

func TestStatusReflectsLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp := f.upload(t, "bundle.unity3d")

	status, err := f.svc.Status(ctx, resp.SessionID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.Status != string(queue.StatusQueued) || status.QueuePosition != 1 {
		t.Fatalf("unexpected queued view: %+v", status)
	}

	f.completeAnalysis(t, resp.SessionID)

	status, err = f.svc.Status(ctx, resp.SessionID)
	if err != nil {
		t.Fatalf("Status after analysis: %v", err)
	}
	if status.Status != string(queue.StatusCompleted) || status.Progress != 100 {
		t.Fatalf("unexpected completed view: %+v", status)
	}
	if len(status.Metadata) == 0 {
		t.Fatal("expected metadata in completed view")
	}
	if status.QueuePosition != 0 || status.TotalQueued != 0 {
		t.Fatalf("queue fields must be dropped once dequeued, got %d/%d", status.QueuePosition, status.TotalQueued)
	}
	if status.DownloadReady {
		t.Fatal("analysis completion must not report a downloadable archive")
	}
}

func TestStatusUnknownSession(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Status(context.Background(), "missing")
	if !errors.Is(err, queue.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCancelQueuedSessionReleasesFiles(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp := f.upload(t, "bundle.unity3d")

	cancelResp, err := f.svc.Cancel(ctx, resp.SessionID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if cancelResp.Status != string(queue.StatusCancelled) {
		t.Fatalf("expected cancelled, got %q", cancelResp.Status)
	}
	if f.registry.Cancelled(resp.SessionID) {
		t.Fatal("cancelling an unclaimed queued session must not leave a registry flag")
	}

	if _, err := os.Stat(f.files.UploadDir(resp.SessionID)); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("expected upload dir to be released")
	}
	job, err := f.store.ClaimNext(ctx)
	if err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}
	if job != nil {
		t.Fatalf("expected empty queue after cancel, got %+v", job)
	}

	if _, err := f.svc.Cancel(ctx, resp.SessionID); !errors.Is(err, queue.ErrAlreadyTerminal) {
		t.Fatalf("expected ErrAlreadyTerminal on repeat cancel, got %v", err)
	}
}

func TestCancelRunningSessionFlagsRegistry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp := f.upload(t, "bundle.unity3d")
	if _, err := f.store.ClaimNext(ctx); err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}

	cancelResp, err := f.svc.Cancel(ctx, resp.SessionID)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if cancelResp.Status != string(queue.StatusAnalyzing) {
		t.Fatalf("running cancel must not flip status, got %q", cancelResp.Status)
	}
	if !f.registry.Cancelled(resp.SessionID) {
		t.Fatal("expected cancel flag in the registry")
	}
}

func TestExtractValidatesSelection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp := f.upload(t, "bundle.unity3d")
	f.completeAnalysis(t, resp.SessionID)

	_, err := f.svc.Extract(ctx, resp.SessionID, bundle.Selection{Classes: []string{"Mesh"}})
	if !errors.Is(err, api.ErrValidation) {
		t.Fatalf("expected ErrValidation for unknown class, got %v", err)
	}
	_, err = f.svc.Extract(ctx, resp.SessionID, bundle.Selection{PathIDs: []int64{99}})
	if !errors.Is(err, api.ErrValidation) {
		t.Fatalf("expected ErrValidation for unknown path id, got %v", err)
	}
	_, err = f.svc.Extract(ctx, resp.SessionID, bundle.Selection{Indices: []int{5}})
	if !errors.Is(err, api.ErrValidation) {
		t.Fatalf("expected ErrValidation for unknown asset index, got %v", err)
	}

	extractResp, err := f.svc.Extract(ctx, resp.SessionID, bundle.Selection{Classes: []string{"Texture2D"}})
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if extractResp.QueuePosition != 1 {
		t.Fatalf("expected queued extraction, got %+v", extractResp)
	}

	session, err := f.store.GetByID(ctx, resp.SessionID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if session.Kind != queue.KindExtract || session.SelectionJSON == "" {
		t.Fatalf("expected extract phase with stored selection, got %+v", session)
	}
}

func TestExtractStoresSelectedIndices(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	resp := f.upload(t, "bundle.unity3d")
	f.completeAnalysis(t, resp.SessionID)

	if _, err := f.svc.Extract(ctx, resp.SessionID, bundle.Selection{Indices: []int{0, 1}}); err != nil {
		t.Fatalf("Extract: %v", err)
	}
	session, err := f.store.GetByID(ctx, resp.SessionID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	var stored bundle.Selection
	if err := json.Unmarshal([]byte(session.SelectionJSON), &stored); err != nil {
		t.Fatalf("decode stored selection: %v", err)
	}
	if len(stored.Indices) != 2 || stored.Indices[0] != 0 || stored.Indices[1] != 1 {
		t.Fatalf("indices not persisted: %+v", stored)
	}
}

func TestExtractBeforeAnalysisRejected(t *testing.T) {
	f := newFixture(t)

	resp := f.upload(t, "bundle.unity3d")
	_, err := f.svc.Extract(context.Background(), resp.SessionID, bundle.Selection{})
	if !errors.Is(err, queue.ErrPhaseNotReady) {
		t.Fatalf("expected ErrPhaseNotReady, got %v", err)
	}
}

func TestDownloadCleansUpWhenRetentionDeclined(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	req := api.UploadRequest{
		Files:          []api.UploadFile{{Filename: "bundle.unity3d", Content: strings.NewReader("payload")}},
		AllowRetention: false,
	}
	resp, err := f.svc.Upload(ctx, req)
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	f.completeAnalysis(t, resp.SessionID)
	if _, err := f.svc.Extract(ctx, resp.SessionID, bundle.Selection{}); err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if _, err := f.store.ClaimNext(ctx); err != nil {
		t.Fatalf("ClaimNext: %v", err)
	}

	archiveDir := f.files.OutputDir(resp.SessionID)
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		t.Fatalf("mkdir output: %v", err)
	}
	archivePath := filepath.Join(archiveDir, "assets.zip")
	if err := os.WriteFile(archivePath, []byte("zipbytes"), 0o644); err != nil {
		t.Fatalf("write archive: %v", err)
	}
	if err := f.store.MarkExtracted(ctx, resp.SessionID, archivePath); err != nil {
		t.Fatalf("MarkExtracted: %v", err)
	}

	handle, err := f.svc.Download(ctx, resp.SessionID)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if handle.Path != archivePath {
		t.Fatalf("unexpected archive path %q", handle.Path)
	}
	if handle.Filename != "bundle_assets.zip" {
		t.Fatalf("unexpected download name %q", handle.Filename)
	}

	handle.Release()
	exists, err := f.store.Exists(ctx, resp.SessionID)
	if err != nil {
		t.Fatalf("Exists: %v", err)
	}
	if exists {
		t.Fatal("expected session to be removed after download without retention")
	}
	if _, err := os.Stat(archiveDir); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("expected output dir to be released")
	}
}

func TestDownloadBeforeExtractionRejected(t *testing.T) {
	f := newFixture(t)

	resp := f.upload(t, "bundle.unity3d")
	f.completeAnalysis(t, resp.SessionID)

	_, err := f.svc.Download(context.Background(), resp.SessionID)
	if !errors.Is(err, api.ErrNotReady) {
		t.Fatalf("expected ErrNotReady, got %v", err)
	}
}

func TestQueueListsSessionsWithHealth(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first := f.upload(t, "a.unity3d")
	f.upload(t, "b.unity3d")
	f.completeAnalysis(t, first.SessionID)

	view, err := f.svc.Queue(ctx)
	if err != nil {
		t.Fatalf("Queue: %v", err)
	}
	if len(view.Sessions) != 2 {
		t.Fatalf("expected two sessions, got %d", len(view.Sessions))
	}
	if view.Health.Total != 2 || view.Health.Completed != 1 || view.Health.Queued != 1 {
		t.Fatalf("unexpected health counts: %+v", view.Health)
	}
}
