package local

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/cochaviz/cask/internal/build"
)

// Ensure ScratchPreparer implements the ContextPreparer interface.
var _ build.ContextPreparer = (*ScratchPreparer)(nil)

// ScratchPreparer hands out one directory per agent under Root.
type ScratchPreparer struct {
	Root string
}

// Prepare creates <Root>/<agent id>. Leftovers from an interrupted earlier
// build of the same agent are removed first.
func (p *ScratchPreparer) Prepare(ctx context.Context, plan build.BuildPlan) (build.BuildContext, error) {
	if p.Root == "" {
		return nil, errors.New("scratch root is not configured")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dir := filepath.Join(p.Root, plan.Agent.ID)
	if filepath.Dir(dir) != filepath.Clean(p.Root) {
		return nil, fmt.Errorf("agent id %q escapes scratch root", plan.Agent.ID)
	}

	if err := os.RemoveAll(dir); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("remove stale build context %q: %w", dir, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create build context: %w", err)
	}

	return &ScratchContext{dir: dir}, nil
}

var _ build.BuildContext = (*ScratchContext)(nil)

// ScratchContext is a build context backed by a plain directory.
type ScratchContext struct {
	dir string
}

// NewScratchContext wraps an existing directory.
func NewScratchContext(dir string) *ScratchContext {
	return &ScratchContext{dir: dir}
}

func (c *ScratchContext) Dir() string {
	return c.dir
}

// Cleanup removes the directory tree. A directory that is already gone is not
// an error.
func (c *ScratchContext) Cleanup() error {
	if c.dir == "" {
		return nil
	}
	if err := os.RemoveAll(c.dir); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove build context: %w", err)
	}
	return nil
}
