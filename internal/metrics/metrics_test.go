package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestBuildMetricsCountsOutcomes(t *testing.T) {
	t.Parallel()

	m := New()
	m.BuildStarted("default")
	m.BuildStarted("operations")
	if got := testutil.ToFloat64(m.inFlight); got != 2 {
		t.Fatalf("in flight = %v, want 2", got)
	}

	m.BuildFinished("default", "succeeded", 3*time.Second)
	m.BuildFinished("operations", "failed", time.Second)
	m.CleanupFailed()

	if got := testutil.ToFloat64(m.inFlight); got != 0 {
		t.Fatalf("in flight = %v, want 0", got)
	}
	if got := testutil.ToFloat64(m.builds.WithLabelValues("default", "succeeded")); got != 1 {
		t.Fatalf("default/succeeded = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.builds.WithLabelValues("operations", "failed")); got != 1 {
		t.Fatalf("operations/failed = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.cleanupFailures); got != 1 {
		t.Fatalf("cleanup failures = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(m.duration); got != 2 {
		t.Fatalf("duration series = %d, want 2", got)
	}
}

func TestBuildMetricsWriteTextfile(t *testing.T) {
	t.Parallel()

	m := New()
	m.BuildStarted("default")
	m.BuildFinished("default", "succeeded", time.Second)

	path := filepath.Join(t.TempDir(), "cask.prom")
	if err := m.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile() error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read textfile: %v", err)
	}
	want := `cask_image_builds_total{profile="default",status="succeeded"} 1`
	if !strings.Contains(string(data), want) {
		t.Fatalf("textfile missing %q:\n%s", want, data)
	}
}
