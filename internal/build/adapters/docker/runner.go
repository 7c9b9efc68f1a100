package docker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/cochaviz/cask/internal/build"
)

var _ build.CommandRunner = (*ExecRunner)(nil)

// defaultWaitDelay bounds how long Wait keeps draining output after the
// process group has been killed.
const defaultWaitDelay = 5 * time.Second

// ExecRunner runs commands as child processes with their output streamed live.
// When ctx ends the child's whole process group is killed.
type ExecRunner struct {
	Stdout    io.Writer
	Stderr    io.Writer
	WaitDelay time.Duration
}

// Run starts argv in workdir and waits for it. A process that exits on its own
// yields its exit code and a nil error.
func (r *ExecRunner) Run(ctx context.Context, workdir string, argv []string) (int, error) {
	if len(argv) == 0 {
		return -1, errors.New("no command provided")
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = workdir
	cmd.Stdout = r.stdout()
	cmd.Stderr = r.stderr()
	cmd.WaitDelay = r.WaitDelay
	if cmd.WaitDelay == 0 {
		cmd.WaitDelay = defaultWaitDelay
	}
	killProcessGroup(cmd)

	err := cmd.Run()
	if err == nil {
		return 0, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return -1, fmt.Errorf("%s interrupted: %w", argv[0], ctxErr)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.Exited() {
		return exitErr.ExitCode(), nil
	}
	return -1, fmt.Errorf("run %s: %w", argv[0], err)
}

func (r *ExecRunner) stdout() io.Writer {
	if r.Stdout != nil {
		return r.Stdout
	}
	return os.Stdout
}

func (r *ExecRunner) stderr() io.Writer {
	if r.Stderr != nil {
		return r.Stderr
	}
	return os.Stderr
}
