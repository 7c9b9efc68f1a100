package build

import (
	"fmt"
	"regexp"
	"time"

	"github.com/cochaviz/cask/arch"
	"github.com/cochaviz/cask/internal/artifacts"

	"github.com/google/go-containerregistry/pkg/name"
)

// BuildStatus captures overall lifecycle states for an image build run.
type BuildStatus string

// Supported build statuses.
const (
	BuildStatusPending   BuildStatus = "pending"
	BuildStatusRunning   BuildStatus = "running"
	BuildStatusSucceeded BuildStatus = "succeeded"
	BuildStatusFailed    BuildStatus = "failed"
	BuildStatusCancelled BuildStatus = "cancelled"
)

// Terminal reports whether no further transitions are expected.
func (s BuildStatus) Terminal() bool {
	return s == BuildStatusSucceeded || s == BuildStatusFailed || s == BuildStatusCancelled
}

const maxAgentIDLength = 128

// agentIDPattern accepts ids that are both a single path element and a valid
// image repository component.
var agentIDPattern = regexp.MustCompile(`^[a-z0-9]+(?:(?:[._]|__|-+)[a-z0-9]+)*$`)

// AgentDescriptor identifies the agent an image is built for.
type AgentDescriptor struct {
	ID                string
	CapabilityProfile string
	// Platform optionally pins the target architecture ("arm64", "linux/amd64").
	Platform string
}

// Validate checks the descriptor can be used to name a build context and tag.
func (a AgentDescriptor) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("agent id is required")
	}
	if len(a.ID) > maxAgentIDLength {
		return fmt.Errorf("agent id exceeds %d characters", maxAgentIDLength)
	}
	if !agentIDPattern.MatchString(a.ID) {
		return fmt.Errorf("agent id %q must be lowercase alphanumerics separated by '.', '_' or '-'", a.ID)
	}
	if _, err := name.NewTag(ImageTag(a.ID)); err != nil {
		return fmt.Errorf("agent id %q does not form a valid image tag: %w", a.ID, err)
	}
	if a.Platform != "" {
		if _, err := arch.Parse(a.Platform); err != nil {
			return err
		}
	}
	return nil
}

// ImageTag returns the deterministic tag for an agent id.
func ImageTag(agentID string) string {
	return "agent-" + agentID + ":latest"
}

// BuildPlan holds everything resolved for one build before any I/O happens.
type BuildPlan struct {
	BuildID  string
	Agent    AgentDescriptor
	ImageTag string
	Manifest string
	// Platform is the normalized "linux/<arch>" value, empty for the tool default.
	Platform string
}

// BuildRecord is the history entry kept for every build attempt.
type BuildRecord struct {
	ID         string               `json:"id"`
	AgentID    string               `json:"agent_id"`
	Profile    string               `json:"profile"`
	ImageTag   string               `json:"image_tag"`
	Platform   string               `json:"platform,omitempty"`
	Status     BuildStatus          `json:"status"`
	ExitCode   int                  `json:"exit_code"`
	Error      string               `json:"error,omitempty"`
	Artifacts  []artifacts.Artifact `json:"artifacts,omitempty"`
	StartedAt  time.Time            `json:"started_at"`
	FinishedAt time.Time            `json:"finished_at,omitempty"`
}

// Duration returns how long a finished build took, or zero while it runs.
func (r BuildRecord) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
