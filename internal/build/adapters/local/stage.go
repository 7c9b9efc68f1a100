package local

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/cochaviz/cask/internal/artifacts"
	"github.com/cochaviz/cask/internal/build"
	"github.com/cochaviz/cask/internal/templates"
)

// DefaultSourceSubdir is the agent source tree copied into every context.
const DefaultSourceSubdir = "src/lib/agents"

var _ build.ArtifactStager = (*SourceStager)(nil)

// SourceStager copies the agent sources and generated files into a build context.
type SourceStager struct {
	// SourceRoot is the project checkout. It is never written to.
	SourceRoot string
	// SourceSubdir is relative to SourceRoot and keeps its relative path in the
	// context. Defaults to DefaultSourceSubdir.
	SourceSubdir string
	// DependencyFiles are copied from SourceRoot to the context root. Every one
	// of them must exist.
	DependencyFiles []string
}

// Stage populates the context in a fixed order: dependency manifests, the
// source subtree, the build manifest, then the health probe.
func (s *SourceStager) Stage(ctx context.Context, plan build.BuildPlan, buildContext build.BuildContext) ([]artifacts.Artifact, error) {
	if s.SourceRoot == "" {
		return nil, errors.New("source root is not configured")
	}
	dir := buildContext.Dir()
	staged := []artifacts.Artifact{}

	for _, file := range s.dependencyFiles() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rel := filepath.ToSlash(filepath.Clean(file))
		if !filepath.IsLocal(rel) {
			return nil, fmt.Errorf("dependency file %q is outside the source root", file)
		}
		dst := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return nil, fmt.Errorf("create directory for %s: %w", rel, err)
		}
		artifact, err := artifacts.CopyFile(artifacts.DependencyArtifact, rel, filepath.Join(s.SourceRoot, filepath.FromSlash(rel)), dst, 0o644)
		if err != nil {
			return nil, fmt.Errorf("copy dependency manifest %s: %w", rel, err)
		}
		staged = append(staged, artifact)
	}

	sources, err := s.copyTree(ctx, dir)
	if err != nil {
		return nil, err
	}
	staged = append(staged, sources...)

	manifest, err := artifacts.WriteFile(
		artifacts.ManifestArtifact,
		templates.ManifestFilename,
		filepath.Join(dir, templates.ManifestFilename),
		[]byte(plan.Manifest),
		0o644,
	)
	if err != nil {
		return nil, fmt.Errorf("write build manifest: %w", err)
	}
	staged = append(staged, manifest)

	probe, err := artifacts.WriteFile(
		artifacts.ProbeArtifact,
		templates.HealthProbeFilename,
		filepath.Join(dir, templates.HealthProbeFilename),
		[]byte(templates.HealthProbe()),
		0o644,
	)
	if err != nil {
		return nil, fmt.Errorf("write health probe: %w", err)
	}
	staged = append(staged, probe)

	return staged, nil
}

// copyTree mirrors SourceRoot/SourceSubdir into the context. Symlinks to files
// are copied as regular files; symlinks to directories are skipped.
func (s *SourceStager) copyTree(ctx context.Context, dir string) ([]artifacts.Artifact, error) {
	subdir := filepath.Clean(filepath.FromSlash(s.sourceSubdir()))
	if !filepath.IsLocal(subdir) {
		return nil, fmt.Errorf("source subdir %q is outside the source root", s.SourceSubdir)
	}
	srcRoot := filepath.Join(s.SourceRoot, subdir)

	info, err := os.Stat(srcRoot)
	if err != nil {
		return nil, fmt.Errorf("stat source tree: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("source tree %q is not a directory", srcRoot)
	}

	staged := []artifacts.Artifact{}
	err = filepath.WalkDir(srcRoot, func(current string, entry fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(s.SourceRoot, current)
		if err != nil {
			return err
		}
		dst := filepath.Join(dir, rel)

		if entry.IsDir() {
			return os.MkdirAll(dst, 0o755)
		}
		if entry.Type()&fs.ModeSymlink == 0 && !entry.Type().IsRegular() {
			return nil
		}

		// Stat follows symlinks.
		target, err := os.Stat(current)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", rel, err)
		}
		if !target.Mode().IsRegular() {
			return nil
		}
		perm := fs.FileMode(0o644)
		if target.Mode().Perm()&0o111 != 0 {
			perm = 0o755
		}
		artifact, err := artifacts.CopyFile(artifacts.SourceArtifact, path.Clean(filepath.ToSlash(rel)), current, dst, perm)
		if err != nil {
			return fmt.Errorf("copy %s: %w", rel, err)
		}
		staged = append(staged, artifact)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("copy source tree: %w", err)
	}
	return staged, nil
}

func (s *SourceStager) sourceSubdir() string {
	if s.SourceSubdir == "" {
		return DefaultSourceSubdir
	}
	return s.SourceSubdir
}

func (s *SourceStager) dependencyFiles() []string {
	if s.DependencyFiles == nil {
		return templates.DefaultDependencyFiles
	}
	return s.DependencyFiles
}
