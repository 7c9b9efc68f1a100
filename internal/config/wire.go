package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/cochaviz/cask/internal/build"
	"github.com/cochaviz/cask/internal/build/adapters/docker"
	"github.com/cochaviz/cask/internal/build/adapters/local"
	"github.com/cochaviz/cask/internal/build/repositories"
	"github.com/cochaviz/cask/internal/logging"
	"github.com/cochaviz/cask/internal/metrics"
	"github.com/cochaviz/cask/internal/setup"
	"github.com/cochaviz/cask/internal/templates"
)

// Pipeline bundles the wired builder with the collaborators callers query
// directly.
type Pipeline struct {
	Builder  *build.ImageBuilder
	Registry *templates.Registry
	// Records is nil when history is disabled.
	Records build.RecordRepository
	Metrics *metrics.BuildMetrics

	closers []func() error
}

// Close releases database handles and engine connections.
func (p *Pipeline) Close() error {
	var errs error
	for i := len(p.closers) - 1; i >= 0; i-- {
		errs = errors.Join(errs, p.closers[i]())
	}
	p.closers = nil
	return errs
}

// NewRegistry renders the built-in templates over the configured base layer
// and registers the configured profile extensions.
func NewRegistry(cfg Config) (*templates.Registry, error) {
	opts := []templates.Option{templates.WithDependencyFiles(cfg.DependencyFiles...)}
	if len(cfg.SystemPackages) > 0 {
		opts = append(opts, templates.WithSystemPackages(cfg.SystemPackages...))
	}
	registry := templates.NewRegistry(cfg.BaseImage, opts...)
	if err := registry.Register(cfg.Profiles...); err != nil {
		return nil, fmt.Errorf("register profiles: %w", err)
	}
	return registry, nil
}

// NewRecordRepository opens the configured history store. The returned close
// function is never nil.
func NewRecordRepository(cfg RecordsConfig) (build.RecordRepository, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Driver {
	case RecordsJSON:
		return &repositories.LocalRecordRepository{BaseDir: cfg.Path}, noop, nil
	case RecordsSQLite:
		if err := setup.EnsureDirs(filepath.Dir(cfg.Path)); err != nil {
			return nil, noop, err
		}
		repo, err := repositories.NewSQLiteRecordRepository(cfg.Path)
		if err != nil {
			return nil, noop, fmt.Errorf("open build history %s: %w", cfg.Path, err)
		}
		return repo, repo.Close, nil
	case RecordsNone:
		return nil, noop, nil
	default:
		return nil, noop, fmt.Errorf("unknown records driver %q", cfg.Driver)
	}
}

// NewPipeline wires an ImageBuilder from cfg.
func NewPipeline(ctx context.Context, cfg Config, logger *slog.Logger) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger = logging.Ensure(logger).With("component", "config")

	scratchRoot, err := filepath.Abs(cfg.ScratchRoot)
	if err != nil {
		return nil, fmt.Errorf("resolve scratch root: %w", err)
	}
	sourceRoot, err := filepath.Abs(cfg.SourceRoot)
	if err != nil {
		return nil, fmt.Errorf("resolve source root: %w", err)
	}

	registry, err := NewRegistry(cfg)
	if err != nil {
		return nil, err
	}

	pipeline := &Pipeline{
		Registry: registry,
		Metrics:  metrics.New(),
	}

	records, closeRecords, err := NewRecordRepository(cfg.Records)
	if err != nil {
		return nil, err
	}
	pipeline.Records = records
	pipeline.closers = append(pipeline.closers, closeRecords)

	driver, err := newDriver(ctx, cfg, logger, pipeline)
	if err != nil {
		pipeline.Close()
		return nil, err
	}

	pipeline.Builder = &build.ImageBuilder{
		Logger:    logger.With("service", "build"),
		Templates: registry,
		Preparer:  &local.ScratchPreparer{Root: scratchRoot},
		Stager: &local.SourceStager{
			SourceRoot:      sourceRoot,
			SourceSubdir:    cfg.SourceSubdir,
			DependencyFiles: registry.Base().DependencyFiles,
		},
		Driver:        driver,
		Records:       records,
		Observer:      pipeline.Metrics,
		Timeout:       cfg.BuildTimeout,
		MaxConcurrent: cfg.MaxConcurrentBuilds,
	}

	logger.Debug("build pipeline wired",
		"driver", cfg.Driver,
		"scratch_root", scratchRoot,
		"source_root", sourceRoot,
		"records", cfg.Records.Driver,
		"profiles", len(registry.Profiles()),
	)
	return pipeline, nil
}

func newDriver(ctx context.Context, cfg Config, logger *slog.Logger, pipeline *Pipeline) (build.BuildDriver, error) {
	switch cfg.Driver {
	case DriverEngine:
		client, err := docker.NewEngineClient(ctx)
		if err != nil {
			return nil, err
		}
		pipeline.closers = append(pipeline.closers, client.Close)
		return &docker.EngineDriver{
			Client: client,
			Verify: cfg.VerifyImages,
			Logger: logger.With("driver", "docker-engine"),
		}, nil
	default:
		return &docker.CLIDriver{
			Tool:      cfg.Tool,
			ExtraArgs: cfg.ToolArgs,
			Runner:    &docker.ExecRunner{},
			Logger:    logger.With("driver", cfg.Tool),
		}, nil
	}
}
