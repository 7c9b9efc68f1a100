package setup

import (
	"os"
	"path/filepath"
	"testing"
)

func TestEnsureDirsAndVerify(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	dirs := []string{filepath.Join(root, "scratch"), filepath.Join(root, "records", "nested")}
	if err := EnsureDirs(dirs...); err != nil {
		t.Fatalf("EnsureDirs() error = %v", err)
	}
	if err := Verify("", dirs...); err != nil {
		t.Fatalf("Verify() error = %v", err)
	}
}

func TestVerifyReportsMissingTool(t *testing.T) {
	t.Parallel()

	if err := Verify("cask-missing-build-tool", t.TempDir()); err == nil {
		t.Fatal("Verify() error = nil for a missing tool")
	}
	if err := Verify("", filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatal("Verify() error = nil for a missing directory")
	}
}

func TestClearScratchKeepsRoot(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	stale := filepath.Join(root, "a1", "src")
	if err := os.MkdirAll(stale, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	if err := ClearScratch(root); err != nil {
		t.Fatalf("ClearScratch() error = %v", err)
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		t.Fatalf("root removed: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("root still has %d entries", len(entries))
	}
	if err := ClearScratch(filepath.Join(root, "missing")); err != nil {
		t.Fatalf("ClearScratch(missing) error = %v", err)
	}
}
