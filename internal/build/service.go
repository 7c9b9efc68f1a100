package build

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cochaviz/cask/arch"
	"github.com/cochaviz/cask/internal/artifacts"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// ImageBuilder turns an agent descriptor into a tagged container image.
//
// Builds for distinct agent ids may run concurrently. Two concurrent builds
// for the same id share a context directory and must be serialized by the
// caller.
type ImageBuilder struct {
	Logger    *slog.Logger
	Templates TemplateSource
	Preparer  ContextPreparer
	Stager    ArtifactStager
	Driver    BuildDriver
	// Records and Observer are optional.
	Records  RecordRepository
	Observer Observer
	// Timeout bounds the build tool only. Zero disables it.
	Timeout time.Duration
	// MaxConcurrent caps in-flight builds. Zero means unlimited.
	MaxConcurrent int64

	slotsOnce sync.Once
	slots     *semaphore.Weighted
}

// BuildAgentImage stages a build context for the agent, runs the build tool in
// it and returns the resulting image tag. The context directory is removed
// before returning, whatever the outcome. Every error is a *BuildError.
func (b *ImageBuilder) BuildAgentImage(ctx context.Context, agent AgentDescriptor) (string, error) {
	if err := b.validate(); err != nil {
		return "", &BuildError{AgentID: agent.ID, Kind: ErrMisconfigured, Err: err}
	}
	if err := agent.Validate(); err != nil {
		return "", &BuildError{AgentID: agent.ID, Kind: ErrInvalidAgent, Err: err}
	}

	plan, err := b.plan(agent)
	if err != nil {
		return "", &BuildError{AgentID: agent.ID, Kind: ErrInvalidAgent, Err: err}
	}

	logger := b.logger().With(
		"agent", agent.ID,
		"profile", agent.CapabilityProfile,
		"build_id", plan.BuildID,
	)

	record := BuildRecord{
		ID:        plan.BuildID,
		AgentID:   agent.ID,
		Profile:   agent.CapabilityProfile,
		ImageTag:  plan.ImageTag,
		Platform:  plan.Platform,
		Status:    BuildStatusPending,
		StartedAt: time.Now().UTC(),
	}
	b.saveRecord(ctx, logger, record)

	if slots := b.semaphore(); slots != nil {
		if err := slots.Acquire(ctx, 1); err != nil {
			return "", b.finish(ctx, logger, &record, &BuildError{
				AgentID: agent.ID,
				Kind:    ErrCancelled,
				Err:     err,
			})
		}
		defer slots.Release(1)
	}

	started := time.Now()
	if b.Observer != nil {
		b.Observer.BuildStarted(agent.CapabilityProfile)
	}
	record.Status = BuildStatusRunning
	b.saveRecord(ctx, logger, record)
	logger.Info("starting agent image build", "tag", plan.ImageTag)

	err = b.run(ctx, logger, plan, &record)
	if b.Observer != nil {
		status := BuildStatusSucceeded
		if err != nil {
			status = statusFor(err)
		}
		b.Observer.BuildFinished(agent.CapabilityProfile, string(status), time.Since(started))
	}
	if err != nil {
		return "", b.finish(ctx, logger, &record, err)
	}

	b.finish(ctx, logger, &record, nil)
	logger.Info("agent image built", "tag", plan.ImageTag, "duration", time.Since(started).Round(time.Millisecond))
	return plan.ImageTag, nil
}

// run executes steps that own a build context. Cleanup is deferred so it runs
// on every path once the context exists.
func (b *ImageBuilder) run(ctx context.Context, logger *slog.Logger, plan BuildPlan, record *BuildRecord) (err error) {
	buildContext, err := b.Preparer.Prepare(ctx, plan)
	if err != nil {
		return &BuildError{AgentID: plan.Agent.ID, Kind: ErrContextCreation, Err: err}
	}
	defer func() {
		if cleanupErr := buildContext.Cleanup(); cleanupErr != nil {
			logger.Warn("failed to remove build context", "dir", buildContext.Dir(), "error", cleanupErr)
			if b.Observer != nil {
				b.Observer.CleanupFailed()
			}
			return
		}
		logger.Debug("build context removed", "dir", buildContext.Dir())
	}()
	logger.Debug("build context prepared", "dir", buildContext.Dir())

	staged, err := b.Stager.Stage(ctx, plan, buildContext)
	if err != nil {
		kind := ErrStaging
		if ctx.Err() != nil {
			kind = ErrCancelled
		}
		return &BuildError{AgentID: plan.Agent.ID, Kind: kind, Err: err}
	}
	record.Artifacts = staged
	logger.Info("build context staged", "artifacts", len(staged), "sources", artifacts.Count(staged)[artifacts.SourceArtifact])

	driverCtx := ctx
	if b.Timeout > 0 {
		var cancel context.CancelFunc
		driverCtx, cancel = context.WithTimeout(ctx, b.Timeout)
		defer cancel()
	}
	if err := b.Driver.Build(driverCtx, plan, buildContext); err != nil {
		return b.classifyDriverError(ctx, plan.Agent.ID, err)
	}
	return nil
}

func (b *ImageBuilder) classifyDriverError(parent context.Context, agentID string, err error) error {
	var exitErr *ExitError
	switch {
	case errors.As(err, &exitErr):
		return &BuildError{AgentID: agentID, Kind: ErrBuildTool, ExitCode: exitErr.Code, Err: err}
	case parent.Err() != nil && errors.Is(err, context.Canceled):
		return &BuildError{AgentID: agentID, Kind: ErrCancelled, ExitCode: -1, Err: err}
	case errors.Is(err, context.DeadlineExceeded):
		return &BuildError{
			AgentID:  agentID,
			Kind:     ErrBuildTool,
			ExitCode: -1,
			Err:      fmt.Errorf("build tool did not finish within %s: %w", b.Timeout, err),
		}
	default:
		return &BuildError{AgentID: agentID, Kind: ErrBuildTool, ExitCode: -1, Err: err}
	}
}

// finish stamps the terminal status on record, persists it and logs failures.
func (b *ImageBuilder) finish(ctx context.Context, logger *slog.Logger, record *BuildRecord, err error) error {
	record.FinishedAt = time.Now().UTC()
	record.Status = BuildStatusSucceeded
	if err != nil {
		record.Status = statusFor(err)
		record.Error = err.Error()
		var buildErr *BuildError
		if errors.As(err, &buildErr) {
			record.ExitCode = buildErr.ExitCode
		}
		logger.Error("agent image build failed", "status", record.Status, "exit_code", record.ExitCode, "error", err)
	}
	b.saveRecord(ctx, logger, *record)
	return err
}

func (b *ImageBuilder) saveRecord(ctx context.Context, logger *slog.Logger, record BuildRecord) {
	if b.Records == nil {
		return
	}
	if err := b.Records.Save(context.WithoutCancel(ctx), record); err != nil {
		logger.Warn("failed to save build record", "status", record.Status, "error", err)
	}
}

func (b *ImageBuilder) plan(agent AgentDescriptor) (BuildPlan, error) {
	plan := BuildPlan{
		BuildID:  uuid.New().String(),
		Agent:    agent,
		ImageTag: ImageTag(agent.ID),
		Manifest: b.Templates.GetTemplate(agent.CapabilityProfile),
	}
	if plan.Manifest == "" {
		return BuildPlan{}, fmt.Errorf("no template for profile %q", agent.CapabilityProfile)
	}
	if agent.Platform != "" {
		a, err := arch.Parse(agent.Platform)
		if err != nil {
			return BuildPlan{}, err
		}
		plan.Platform = a.Platform()
	}
	return plan, nil
}

func (b *ImageBuilder) validate() error {
	switch {
	case b.Templates == nil:
		return errors.New("image builder has no template source configured")
	case b.Preparer == nil:
		return errors.New("image builder has no context preparer configured")
	case b.Stager == nil:
		return errors.New("image builder has no artifact stager configured")
	case b.Driver == nil:
		return errors.New("image builder has no build driver configured")
	case b.MaxConcurrent < 0:
		return fmt.Errorf("max concurrent builds must not be negative, got %d", b.MaxConcurrent)
	}
	return nil
}

func (b *ImageBuilder) semaphore() *semaphore.Weighted {
	b.slotsOnce.Do(func() {
		if b.MaxConcurrent > 0 {
			b.slots = semaphore.NewWeighted(b.MaxConcurrent)
		}
	})
	return b.slots
}

func (b *ImageBuilder) logger() *slog.Logger {
	if b.Logger != nil {
		return b.Logger
	}
	return slog.Default()
}

func statusFor(err error) BuildStatus {
	if errors.Is(err, ErrCancelled) {
		return BuildStatusCancelled
	}
	return BuildStatusFailed
}
