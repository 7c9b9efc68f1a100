package docker

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/cochaviz/cask/internal/build"
	"github.com/cochaviz/cask/internal/build/adapters/local"
)

type stubRunner struct {
	workdir string
	argv    []string
	code    int
	err     error
}

func (r *stubRunner) Run(_ context.Context, workdir string, argv []string) (int, error) {
	r.workdir = workdir
	r.argv = argv
	return r.code, r.err
}

func testPlan() build.BuildPlan {
	return build.BuildPlan{
		BuildID:  "b1",
		Agent:    build.AgentDescriptor{ID: "a1", CapabilityProfile: "default"},
		ImageTag: build.ImageTag("a1"),
	}
}

func TestCLIDriverCommand(t *testing.T) {
	t.Parallel()

	driver := &CLIDriver{}
	want := []string{"docker", "build", "-t", "agent-a1:latest", "."}
	if got := driver.Command(testPlan()); !slices.Equal(got, want) {
		t.Fatalf("Command() = %v, want %v", got, want)
	}

	plan := testPlan()
	plan.Platform = "linux/arm64"
	driver = &CLIDriver{Tool: "podman", ExtraArgs: []string{"--pull"}}
	want = []string{"podman", "build", "-t", "agent-a1:latest", "--platform", "linux/arm64", "--pull", "."}
	if got := driver.Command(plan); !slices.Equal(got, want) {
		t.Fatalf("Command() = %v, want %v", got, want)
	}
}

func TestCLIDriverRunsInContextDir(t *testing.T) {
	t.Parallel()

	runner := &stubRunner{}
	dir := t.TempDir()
	driver := &CLIDriver{Runner: runner}

	if err := driver.Build(context.Background(), testPlan(), local.NewScratchContext(dir)); err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if runner.workdir != dir {
		t.Fatalf("workdir = %q, want %q", runner.workdir, dir)
	}
}

func TestCLIDriverNonzeroExit(t *testing.T) {
	t.Parallel()

	driver := &CLIDriver{Runner: &stubRunner{code: 1}}
	err := driver.Build(context.Background(), testPlan(), local.NewScratchContext(t.TempDir()))

	var exitErr *build.ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("Build() error = %v, want *build.ExitError", err)
	}
	if exitErr.Code != 1 || exitErr.Tool != "docker" {
		t.Fatalf("ExitError = %+v", exitErr)
	}
}

func TestCLIDriverRunnerError(t *testing.T) {
	t.Parallel()

	driver := &CLIDriver{Runner: &stubRunner{code: -1, err: context.DeadlineExceeded}}
	err := driver.Build(context.Background(), testPlan(), local.NewScratchContext(t.TempDir()))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Build() error = %v, want DeadlineExceeded", err)
	}
	var exitErr *build.ExitError
	if errors.As(err, &exitErr) {
		t.Fatalf("runner failure reported as exit error: %v", err)
	}
}

func TestCLIDriverCheck(t *testing.T) {
	t.Parallel()

	if err := (&CLIDriver{Tool: "cask-missing-build-tool"}).Check(); err == nil {
		t.Fatal("Check() error = nil for missing tool")
	}
}
