package testsupport

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

// WriteBundleFixture writes a file that carries a plausible bundle signature
// followed by filler bytes, returning its path.
func WriteBundleFixture(t testing.TB, dir, name string) string {
	t.Helper()

	var buf bytes.Buffer
	buf.WriteString("UnityFS\x00")
	buf.Write(bytes.Repeat([]byte{0xAB}, 256))

	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir fixture dir: %v", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write bundle fixture: %v", err)
	}
	return path
}
