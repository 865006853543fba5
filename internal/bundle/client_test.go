package bundle_test

import (
	"context"
	"strings"
	"testing"

	"bundlex/internal/bundle"
	"bundlex/internal/testsupport"
)

const stubScript = `#!/bin/sh
case "$1" in
analyze)
  echo '{"percent":10,"stage":"header","message":"reading header"}'
  echo '{"percent":60,"stage":"objects","message":"walking objects"}'
  echo '{"result":{"bundle_info":{"filename":"bundle.unity3d","size_bytes":264,"signature":"UnityFS","compression":"lz4","unity_version":"2021.3.1f1","platform":"StandaloneWindows64","object_count":2},"assets":[{"index":0,"path_id":1,"name":"logo","class":"Texture2D","estimated_size":128},{"index":1,"path_id":2,"name":"strings","class":"TextAsset","estimated_size":32}],"asset_classes":[{"class":"Texture2D","count":1},{"class":"TextAsset","count":1}]}}'
  ;;
extract)
  echo '{"percent":50,"stage":"assets","message":"writing assets"}'
  echo '{"result":{"archive":"/tmp/out/session.zip"}}'
  ;;
esac
`

const argEchoScript = `#!/bin/sh
echo "{\"result\":{\"archive\":\"$*\"}}"
`

const failingScript = `#!/bin/sh
echo '{"error":"unsupported bundle signature"}'
exit 2
`

func TestAnalyzeParsesMetadataAndForwardsProgress(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinary(stubScript))
	client := bundle.NewCLI(bundle.WithBinary(cfg.Tools.BundleBinary))

	var updates []bundle.ProgressUpdate
	meta, err := client.Analyze(context.Background(), "/tmp/in/bundle.unity3d", func(update bundle.ProgressUpdate) {
		updates = append(updates, update)
	})
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if meta.BundleInfo.Signature != "UnityFS" {
		t.Fatalf("expected UnityFS signature, got %q", meta.BundleInfo.Signature)
	}
	if meta.BundleInfo.ObjectCount != 2 || len(meta.Assets) != 2 {
		t.Fatalf("unexpected inventory: %+v", meta)
	}
	if len(meta.AssetClasses) != 2 {
		t.Fatalf("expected two class summaries, got %d", len(meta.AssetClasses))
	}
	if meta.AnalyzedAt.IsZero() {
		t.Fatal("expected analyzed_at to be stamped")
	}
	if len(updates) != 2 {
		t.Fatalf("expected two progress updates, got %d", len(updates))
	}
	if updates[1].Percent != 60 || updates[1].Stage != "objects" {
		t.Fatalf("unexpected progress payload: %+v", updates[1])
	}
}

func TestExtractReturnsArchivePath(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinary(stubScript))
	client := bundle.NewCLI(bundle.WithBinary(cfg.Tools.BundleBinary))

	selection := bundle.Selection{Classes: []string{"Texture2D"}, PathIDs: []int64{1}}
	archive, err := client.Extract(context.Background(), "/tmp/in/bundle.unity3d", "/tmp/out", selection, nil)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if archive != "/tmp/out/session.zip" {
		t.Fatalf("unexpected archive path %q", archive)
	}
}

func TestExtractForwardsSelectionFlags(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinary(argEchoScript))
	client := bundle.NewCLI(bundle.WithBinary(cfg.Tools.BundleBinary))

	selection := bundle.Selection{Indices: []int{0, 2}, Classes: []string{"Texture2D"}, PathIDs: []int64{1}}
	archive, err := client.Extract(context.Background(), "/tmp/in/bundle.unity3d", "/tmp/out", selection, nil)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	for _, want := range []string{"--indices 0,2", "--classes Texture2D", "--path-ids 1"} {
		if !strings.Contains(archive, want) {
			t.Fatalf("expected %q in tool arguments %q", want, archive)
		}
	}
}

func TestToolFailureSurfacesErrorMessage(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithStubbedBinary(failingScript))
	client := bundle.NewCLI(bundle.WithBinary(cfg.Tools.BundleBinary))

	_, err := client.Analyze(context.Background(), "/tmp/in/bundle.unity3d", nil)
	if err == nil {
		t.Fatal("expected failure")
	}
	if !strings.Contains(err.Error(), "unsupported bundle signature") {
		t.Fatalf("expected tool error message, got %v", err)
	}
}

func TestAnalyzeRequiresInput(t *testing.T) {
	client := bundle.NewCLI()
	if _, err := client.Analyze(context.Background(), "", nil); err == nil {
		t.Fatal("expected error for empty bundle path")
	}
}

func TestDisplayClassName(t *testing.T) {
	cases := map[string]string{
		"":          "Unknown",
		"texture2d": "Texture2d",
		"TextAsset": "TextAsset",
		"shader":    "Shader",
	}
	for in, want := range cases {
		if got := bundle.DisplayClassName(in); got != want {
			t.Fatalf("DisplayClassName(%q) = %q, want %q", in, got, want)
		}
	}
}
