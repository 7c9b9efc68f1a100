package templates

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Principal is the unprivileged account an agent process runs as.
type Principal struct {
	Name string
	UID  int
	GID  int
}

// HealthCheck describes the HEALTHCHECK directive of the base layer.
type HealthCheck struct {
	Interval    time.Duration
	Timeout     time.Duration
	StartPeriod time.Duration
	Retries     int
	Command     string
}

// BaseLayer holds the directives every agent image shares. The rendered order is
// fixed: runtime image, system packages, workdir, dependency manifests,
// production install, workspace copy, principal creation and switch, health check.
type BaseLayer struct {
	RuntimeImage    string
	SystemPackages  []string
	WorkDir         string
	DependencyFiles []string
	InstallCommand  string
	Principal       Principal
	HealthCheck     HealthCheck
}

// ProfileExtension adds tooling and an entrypoint on top of a BaseLayer.
// PrivilegedInstall commands run as root; the renderer switches back to the base
// principal before the entrypoint.
type ProfileExtension struct {
	Name              string   `yaml:"name"`
	Description       string   `yaml:"description,omitempty"`
	PrivilegedInstall []string `yaml:"install,omitempty"`
	Entrypoint        []string `yaml:"entrypoint"`
}

// Validate checks the extension is renderable.
func (e ProfileExtension) Validate() error {
	if strings.TrimSpace(e.Name) == "" {
		return fmt.Errorf("profile name is required")
	}
	if len(e.Entrypoint) == 0 {
		return fmt.Errorf("profile %q: entrypoint is required", e.Name)
	}
	for _, command := range e.PrivilegedInstall {
		if strings.TrimSpace(command) == "" {
			return fmt.Errorf("profile %q: empty install command", e.Name)
		}
	}
	return nil
}

// Render produces the build manifest for base extended by ext.
func Render(base BaseLayer, ext ProfileExtension) string {
	var b strings.Builder
	writeBase(&b, base)

	if len(ext.PrivilegedInstall) > 0 {
		b.WriteString("\n")
		if ext.Description != "" {
			fmt.Fprintf(&b, "# %s\n", ext.Description)
		}
		b.WriteString("USER root\n")
		for _, command := range ext.PrivilegedInstall {
			fmt.Fprintf(&b, "RUN %s\n", command)
		}
		fmt.Fprintf(&b, "USER %s\n", base.Principal.Name)
	}

	b.WriteString("\n# Entry point\n")
	fmt.Fprintf(&b, "CMD %s\n", execForm(ext.Entrypoint))
	return b.String()
}

func writeBase(b *strings.Builder, base BaseLayer) {
	fmt.Fprintf(b, "FROM %s\n", base.RuntimeImage)

	if len(base.SystemPackages) > 0 {
		b.WriteString("\n# Install build dependencies\n")
		fmt.Fprintf(b, "RUN apk add --no-cache %s\n", strings.Join(base.SystemPackages, " "))
	}

	fmt.Fprintf(b, "\nWORKDIR %s\n", base.WorkDir)

	b.WriteString("\n# Copy dependency manifests\n")
	fmt.Fprintf(b, "COPY %s ./\n", strings.Join(base.DependencyFiles, " "))
	b.WriteString("\n# Install production dependencies\n")
	fmt.Fprintf(b, "RUN %s\n", base.InstallCommand)

	b.WriteString("\n# Copy agent workspace\nCOPY . .\n")

	p := base.Principal
	b.WriteString("\n# Create non-root user\n")
	fmt.Fprintf(b, "RUN addgroup -g %d -S %s && \\\n    adduser -S -u %d -G %s %s\n", p.GID, p.Name, p.UID, p.Name, p.Name)
	fmt.Fprintf(b, "USER %s\n", p.Name)

	hc := base.HealthCheck
	b.WriteString("\n# Health check\n")
	fmt.Fprintf(b, "HEALTHCHECK --interval=%s --timeout=%s --start-period=%s --retries=%d \\\n  CMD %s\n",
		dockerDuration(hc.Interval), dockerDuration(hc.Timeout), dockerDuration(hc.StartPeriod), hc.Retries, hc.Command)
}

// execForm renders argv as the JSON exec form understood by CMD/ENTRYPOINT.
func execForm(argv []string) string {
	encoded, err := json.Marshal(argv)
	if err != nil {
		// []string always marshals.
		panic(err)
	}
	return strings.ReplaceAll(string(encoded), `","`, `", "`)
}

// dockerDuration formats d the way Dockerfile flags are written: 30s, 1m, 500ms.
func dockerDuration(d time.Duration) string {
	if d%time.Minute == 0 && d >= time.Minute {
		return fmt.Sprintf("%dm", int(d/time.Minute))
	}
	if d%time.Second == 0 {
		return fmt.Sprintf("%ds", int(d/time.Second))
	}
	return fmt.Sprintf("%dms", int(d/time.Millisecond))
}
