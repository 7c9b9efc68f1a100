package docker

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/cochaviz/cask/internal/build"
)

// DefaultTool is the build CLI used when none is configured.
const DefaultTool = "docker"

var lookPath = exec.LookPath

// Ensure CLIDriver satisfies the build driver interface.
var _ build.BuildDriver = (*CLIDriver)(nil)

// CLIDriver builds images by invoking a docker-compatible CLI inside the
// build context.
type CLIDriver struct {
	// Tool is the binary to run, e.g. "docker" or "podman".
	Tool string
	// ExtraArgs are inserted before the context argument.
	ExtraArgs []string
	Runner    build.CommandRunner
	Logger    *slog.Logger
}

func (d *CLIDriver) logger() *slog.Logger {
	if d != nil && d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

// Command returns the argv used to build plan.
func (d *CLIDriver) Command(plan build.BuildPlan) []string {
	argv := []string{d.tool(), "build", "-t", plan.ImageTag}
	if plan.Platform != "" {
		argv = append(argv, "--platform", plan.Platform)
	}
	argv = append(argv, d.ExtraArgs...)
	return append(argv, ".")
}

// Build runs the tool with the context directory as working directory.
func (d *CLIDriver) Build(ctx context.Context, plan build.BuildPlan, buildContext build.BuildContext) error {
	argv := d.Command(plan)
	d.logger().Info("running build tool",
		"command", strings.Join(argv, " "),
		"dir", buildContext.Dir(),
	)

	runner := d.Runner
	if runner == nil {
		runner = &ExecRunner{}
	}

	code, err := runner.Run(ctx, buildContext.Dir(), argv)
	if err != nil {
		return err
	}
	if code != 0 {
		return &build.ExitError{Tool: d.tool(), Code: code}
	}
	return nil
}

func (d *CLIDriver) tool() string {
	if d.Tool == "" {
		return DefaultTool
	}
	return d.Tool
}

// Check reports whether the tool can be found on PATH.
func (d *CLIDriver) Check() error {
	if _, err := lookPath(d.tool()); err != nil {
		return fmt.Errorf("build tool %q not found: %w", d.tool(), err)
	}
	return nil
}
