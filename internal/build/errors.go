package build

import (
	"errors"
	"fmt"
)

// Failure kinds reported by ImageBuilder. Match them with errors.Is.
var (
	ErrInvalidAgent    = errors.New("invalid agent descriptor")
	ErrContextCreation = errors.New("build context creation failed")
	ErrStaging         = errors.New("artifact staging failed")
	ErrBuildTool       = errors.New("build tool failed")
	ErrCancelled       = errors.New("build cancelled")
	ErrMisconfigured   = errors.New("image builder is not configured")
)

// ErrRecordNotFound is returned by record repositories for unknown builds.
var ErrRecordNotFound = errors.New("build record not found")

// BuildError is returned for every failed BuildAgentImage call.
type BuildError struct {
	AgentID string
	Kind    error
	// ExitCode is the build tool's exit code for ErrBuildTool, -1 when the tool
	// did not exit on its own (timeout, spawn failure), and 0 otherwise.
	ExitCode int
	Err      error
}

func (e *BuildError) Error() string {
	reason := e.Kind.Error()
	if e.Err != nil {
		reason = fmt.Sprintf("%s: %v", reason, e.Err)
	}
	return fmt.Sprintf("agent image build failed for agent %s: %s", e.AgentID, reason)
}

func (e *BuildError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// ExitError reports a build tool that ran to completion with a nonzero code.
type ExitError struct {
	Tool string
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s exited with code %d", e.Tool, e.Code)
}
