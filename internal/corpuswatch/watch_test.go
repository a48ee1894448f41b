package corpuswatch

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcherReportsNewFile(t *testing.T) {
	dir := t.TempDir()

	w, err := New(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer w.Close()

	files := w.NewFiles()

	target := filepath.Join(dir, "seed1.bin")
	if err := os.WriteFile(target, []byte("hello"), 0o644); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}

	select {
	case got := <-files:
		if filepath.Clean(got) != filepath.Clean(target) {
			t.Fatalf("expected %s, got %s", target, got)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for new-file notification")
	}
}
