//go:build unix

package docker

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestExecRunnerReportsExitCode(t *testing.T) {
	t.Parallel()

	var stdout bytes.Buffer
	runner := &ExecRunner{Stdout: &stdout, Stderr: &stdout}
	dir := t.TempDir()

	code, err := runner.Run(context.Background(), dir, []string{"sh", "-c", "echo \"$PWD\"; exit 3"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if code != 3 {
		t.Fatalf("Run() code = %d, want 3", code)
	}
	if !strings.Contains(stdout.String(), dir) {
		t.Fatalf("command did not run in %s: %q", dir, stdout.String())
	}
}

func TestExecRunnerSuccess(t *testing.T) {
	t.Parallel()

	code, err := (&ExecRunner{Stdout: &bytes.Buffer{}, Stderr: &bytes.Buffer{}}).Run(context.Background(), t.TempDir(), []string{"true"})
	if err != nil || code != 0 {
		t.Fatalf("Run() = %d, %v; want 0, nil", code, err)
	}
}

func TestExecRunnerKillsProcessGroupOnTimeout(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	runner := &ExecRunner{Stdout: &bytes.Buffer{}, Stderr: &bytes.Buffer{}, WaitDelay: time.Second}
	start := time.Now()
	// The background sleep holds the output pipe open; only a group kill
	// lets Run return promptly.
	code, err := runner.Run(ctx, t.TempDir(), []string{"sh", "-c", "sleep 30 & sleep 30"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Run() error = %v, want DeadlineExceeded", err)
	}
	if code != -1 {
		t.Fatalf("Run() code = %d, want -1", code)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("Run() took %s after timeout", elapsed)
	}
}

func TestExecRunnerMissingBinary(t *testing.T) {
	t.Parallel()

	code, err := (&ExecRunner{}).Run(context.Background(), t.TempDir(), []string{"cask-missing-build-tool"})
	if err == nil || code != -1 {
		t.Fatalf("Run() = %d, %v; want -1 and an error", code, err)
	}
	if _, err := (&ExecRunner{}).Run(context.Background(), t.TempDir(), nil); err == nil {
		t.Fatal("Run(nil) error = nil")
	}
}
