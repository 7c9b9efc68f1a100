package build

import (
	"context"
	"time"

	"github.com/cochaviz/cask/internal/artifacts"
)

// TemplateSource resolves a capability profile to manifest text.
type TemplateSource interface {
	GetTemplate(profile string) string
}

// ContextPreparer creates the scratch directory for one build.
type ContextPreparer interface {
	Prepare(ctx context.Context, plan BuildPlan) (BuildContext, error)
}

// BuildContext is a staging directory exclusively owned by one build.
type BuildContext interface {
	Dir() string
	Cleanup() error
}

// ArtifactStager populates a build context.
type ArtifactStager interface {
	Stage(ctx context.Context, plan BuildPlan, buildContext BuildContext) ([]artifacts.Artifact, error)
}

// BuildDriver drives the external tool that turns a staged context into an image.
// A tool that runs and fails must be reported as *ExitError.
type BuildDriver interface {
	Build(ctx context.Context, plan BuildPlan, buildContext BuildContext) error
}

// CommandRunner runs argv in workdir and returns its exit code. err is non-nil
// only when the process could not be started or was interrupted.
type CommandRunner interface {
	Run(ctx context.Context, workdir string, argv []string) (exitCode int, err error)
}

// RecordRepository persists build history. Save must upsert by record ID.
// Lookups of unknown ids return ErrRecordNotFound. Lists are newest first.
type RecordRepository interface {
	Save(ctx context.Context, record BuildRecord) error
	Get(ctx context.Context, buildID string) (BuildRecord, error)
	LatestForAgent(ctx context.Context, agentID string) (BuildRecord, error)
	ListByAgent(ctx context.Context, agentID string) ([]BuildRecord, error)
	List(ctx context.Context, limit int) ([]BuildRecord, error)
}

// Observer receives build lifecycle events, typically for metrics.
type Observer interface {
	BuildStarted(profile string)
	BuildFinished(profile string, status string, elapsed time.Duration)
	CleanupFailed()
}
