package build

import (
	"strings"
	"testing"
)

func TestAgentDescriptorValidateAcceptsPlainIDs(t *testing.T) {
	t.Parallel()

	for _, agent := range []AgentDescriptor{
		{ID: "a1"},
		{ID: "agent.x_y-z"},
		{ID: "qa__runner"},
		{ID: "ops--2"},
		{ID: "7"},
		{ID: strings.Repeat("a", maxAgentIDLength)},
		{ID: "a1", CapabilityProfile: "unknown-xyz"},
		{ID: "a1", Platform: "aarch64"},
		{ID: "a1", Platform: "linux/amd64"},
	} {
		if err := agent.Validate(); err != nil {
			t.Errorf("Validate(%q, platform %q) error = %v", agent.ID, agent.Platform, err)
		}
	}
}

func TestAgentDescriptorValidateRejectsBadIDs(t *testing.T) {
	t.Parallel()

	for _, id := range []string{
		"",
		"A1",
		"a/b",
		"../escape",
		".hidden",
		"-a",
		"a-",
		"a..b",
		"a b",
		"a:tag",
		strings.Repeat("a", maxAgentIDLength+1),
	} {
		if err := (AgentDescriptor{ID: id}).Validate(); err == nil {
			t.Errorf("Validate(%q) error = nil", id)
		}
	}
}

func TestAgentDescriptorValidateRejectsUnknownPlatform(t *testing.T) {
	t.Parallel()

	err := AgentDescriptor{ID: "a1", Platform: "sparc"}.Validate()
	if err == nil || !strings.Contains(err.Error(), "sparc") {
		t.Fatalf("Validate() error = %v, want unsupported architecture", err)
	}
}

func TestImageTagIsDeterministic(t *testing.T) {
	t.Parallel()

	if got := ImageTag("a1"); got != "agent-a1:latest" {
		t.Fatalf("ImageTag() = %q", got)
	}
	if ImageTag("a4") == ImageTag("a5") {
		t.Fatal("distinct ids produced the same tag")
	}
}
