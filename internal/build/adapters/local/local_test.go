package local

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cochaviz/cask/internal/artifacts"
	"github.com/cochaviz/cask/internal/build"
	"github.com/cochaviz/cask/internal/templates"
)

func writeSourceTree(t *testing.T) string {
	t.Helper()

	root := t.TempDir()
	files := map[string]string{
		"package.json":                          `{"name":"agents"}`,
		"package-lock.json":                     `{"lockfileVersion":3}`,
		"src/lib/agents/base/AgentRunner.js":    "module.exports = {};\n",
		"src/lib/agents/qa/QAAgent.js":          "module.exports = {};\n",
		"src/lib/agents/docker/README.md":       "notes\n",
		"src/lib/other/ignored.js":              "ignored\n",
		"src/lib/agents/typescript/.keep":       "",
		"src/lib/agents/typescript/nested/a.ts": "export {};\n",
	}
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", rel, err)
		}
	}
	return root
}

func testPlan(id string) build.BuildPlan {
	return build.BuildPlan{
		BuildID:  "build-1",
		Agent:    build.AgentDescriptor{ID: id, CapabilityProfile: templates.ProfileDefault},
		ImageTag: build.ImageTag(id),
		Manifest: "FROM node:20-alpine\n",
	}
}

func TestPrepareCreatesPerAgentDirectory(t *testing.T) {
	t.Parallel()

	root := filepath.Join(t.TempDir(), ".docker-build")
	preparer := &ScratchPreparer{Root: root}

	buildContext, err := preparer.Prepare(context.Background(), testPlan("a1"))
	if err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	if want := filepath.Join(root, "a1"); buildContext.Dir() != want {
		t.Fatalf("Dir() = %q, want %q", buildContext.Dir(), want)
	}
	if info, err := os.Stat(buildContext.Dir()); err != nil || !info.IsDir() {
		t.Fatalf("context dir missing: %v", err)
	}

	if err := buildContext.Cleanup(); err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if _, err := os.Stat(buildContext.Dir()); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("context dir still present after cleanup: %v", err)
	}
}

func TestPrepareRemovesStaleContents(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	stale := filepath.Join(root, "a1", "leftover.txt")
	if err := os.MkdirAll(filepath.Dir(stale), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(stale, []byte("old"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	if _, err := (&ScratchPreparer{Root: root}).Prepare(context.Background(), testPlan("a1")); err != nil {
		t.Fatalf("Prepare() error = %v", err)
	}
	if _, err := os.Stat(stale); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("stale file survived Prepare: %v", err)
	}
}

func TestPrepareFailsWhenRootIsAFile(t *testing.T) {
	t.Parallel()

	root := filepath.Join(t.TempDir(), "root")
	if err := os.WriteFile(root, nil, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := (&ScratchPreparer{Root: root}).Prepare(context.Background(), testPlan("a1")); err == nil {
		t.Fatal("Prepare() error = nil, want error")
	}
}

func TestCleanupToleratesMissingDirectory(t *testing.T) {
	t.Parallel()

	buildContext := NewScratchContext(filepath.Join(t.TempDir(), "gone"))
	if err := buildContext.Cleanup(); err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if err := buildContext.Cleanup(); err != nil {
		t.Fatalf("second Cleanup() error = %v", err)
	}
}

func TestStageCopiesInputsInOrder(t *testing.T) {
	t.Parallel()

	sourceRoot := writeSourceTree(t)
	buildContext := NewScratchContext(t.TempDir())
	stager := &SourceStager{SourceRoot: sourceRoot}

	staged, err := stager.Stage(context.Background(), testPlan("a1"), buildContext)
	if err != nil {
		t.Fatalf("Stage() error = %v", err)
	}

	if staged[0].Path != "package.json" || staged[1].Path != "package-lock.json" {
		t.Fatalf("dependency manifests not staged first: %+v", staged[:2])
	}
	last := staged[len(staged)-1]
	manifest := staged[len(staged)-2]
	if manifest.Kind != artifacts.ManifestArtifact || manifest.Path != templates.ManifestFilename {
		t.Fatalf("manifest artifact = %+v", manifest)
	}
	if last.Kind != artifacts.ProbeArtifact || last.Path != templates.HealthProbeFilename {
		t.Fatalf("probe artifact = %+v", last)
	}

	counts := artifacts.Count(staged)
	if counts[artifacts.SourceArtifact] != 5 {
		t.Fatalf("source artifacts = %d, want 5 (%+v)", counts[artifacts.SourceArtifact], staged)
	}

	for _, rel := range []string{
		"package.json",
		"package-lock.json",
		"Dockerfile",
		"healthcheck.js",
		"src/lib/agents/base/AgentRunner.js",
		"src/lib/agents/typescript/nested/a.ts",
	} {
		if _, err := os.Stat(filepath.Join(buildContext.Dir(), filepath.FromSlash(rel))); err != nil {
			t.Fatalf("expected %s in context: %v", rel, err)
		}
	}
	if _, err := os.Stat(filepath.Join(buildContext.Dir(), "src", "lib", "other")); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("sibling of the source subtree was copied: %v", err)
	}

	dockerfile, err := os.ReadFile(filepath.Join(buildContext.Dir(), "Dockerfile"))
	if err != nil {
		t.Fatalf("read Dockerfile: %v", err)
	}
	if string(dockerfile) != "FROM node:20-alpine\n" {
		t.Fatalf("Dockerfile = %q", dockerfile)
	}
	probe, err := os.ReadFile(filepath.Join(buildContext.Dir(), "healthcheck.js"))
	if err != nil {
		t.Fatalf("read probe: %v", err)
	}
	if !strings.Contains(string(probe), "3000") {
		t.Fatalf("probe does not target port 3000:\n%s", probe)
	}
}

func TestStageMissingDependencyManifestFails(t *testing.T) {
	t.Parallel()

	sourceRoot := writeSourceTree(t)
	if err := os.Remove(filepath.Join(sourceRoot, "package-lock.json")); err != nil {
		t.Fatalf("remove: %v", err)
	}
	buildContext := NewScratchContext(t.TempDir())

	_, err := (&SourceStager{SourceRoot: sourceRoot}).Stage(context.Background(), testPlan("a1"), buildContext)
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("Stage() error = %v, want fs.ErrNotExist", err)
	}
	if _, err := os.Stat(filepath.Join(buildContext.Dir(), "Dockerfile")); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("manifest written despite staging failure: %v", err)
	}
}

func TestStageFollowsFileSymlinksAndSkipsDirectorySymlinks(t *testing.T) {
	t.Parallel()

	sourceRoot := writeSourceTree(t)
	agents := filepath.Join(sourceRoot, "src", "lib", "agents")
	if err := os.Symlink(filepath.Join(agents, "qa", "QAAgent.js"), filepath.Join(agents, "alias.js")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	if err := os.Symlink(filepath.Join(sourceRoot, "src", "lib", "other"), filepath.Join(agents, "linked")); err != nil {
		t.Skipf("symlinks unavailable: %v", err)
	}
	buildContext := NewScratchContext(t.TempDir())

	if _, err := (&SourceStager{SourceRoot: sourceRoot}).Stage(context.Background(), testPlan("a1"), buildContext); err != nil {
		t.Fatalf("Stage() error = %v", err)
	}

	info, err := os.Lstat(filepath.Join(buildContext.Dir(), "src", "lib", "agents", "alias.js"))
	if err != nil {
		t.Fatalf("alias.js not staged: %v", err)
	}
	if !info.Mode().IsRegular() {
		t.Fatalf("alias.js mode = %v, want regular file", info.Mode())
	}
	if _, err := os.Lstat(filepath.Join(buildContext.Dir(), "src", "lib", "agents", "linked")); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("directory symlink was staged: %v", err)
	}
}

func TestStageCustomSubdirAndDependencies(t *testing.T) {
	t.Parallel()

	sourceRoot := writeSourceTree(t)
	buildContext := NewScratchContext(t.TempDir())
	stager := &SourceStager{
		SourceRoot:      sourceRoot,
		SourceSubdir:    "src/lib/other",
		DependencyFiles: []string{"package.json"},
	}

	staged, err := stager.Stage(context.Background(), testPlan("a1"), buildContext)
	if err != nil {
		t.Fatalf("Stage() error = %v", err)
	}
	counts := artifacts.Count(staged)
	if counts[artifacts.DependencyArtifact] != 1 || counts[artifacts.SourceArtifact] != 1 {
		t.Fatalf("Count() = %v", counts)
	}
	if _, err := os.Stat(filepath.Join(buildContext.Dir(), "src", "lib", "other", "ignored.js")); err != nil {
		t.Fatalf("custom subdir not staged: %v", err)
	}
}

func TestStageRejectsEscapingPaths(t *testing.T) {
	t.Parallel()

	sourceRoot := writeSourceTree(t)
	buildContext := NewScratchContext(t.TempDir())

	if _, err := (&SourceStager{SourceRoot: sourceRoot, DependencyFiles: []string{"../secret"}}).Stage(context.Background(), testPlan("a1"), buildContext); err == nil {
		t.Fatal("Stage() with escaping dependency error = nil")
	}
	if _, err := (&SourceStager{SourceRoot: sourceRoot, SourceSubdir: "../"}).Stage(context.Background(), testPlan("a1"), buildContext); err == nil {
		t.Fatal("Stage() with escaping subdir error = nil")
	}
}

func TestStageHonoursCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := (&SourceStager{SourceRoot: writeSourceTree(t)}).Stage(ctx, testPlan("a1"), NewScratchContext(t.TempDir()))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Stage() error = %v, want context.Canceled", err)
	}
}
