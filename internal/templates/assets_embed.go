package templates

import (
	_ "embed"
	"strconv"
	"strings"
)

const (
	// ManifestFilename is the name the build tool expects at the context root.
	ManifestFilename = "Dockerfile"
	// HealthProbeFilename is the probe the base layer HEALTHCHECK invokes.
	HealthProbeFilename = "healthcheck.js"
	// HealthProbePort is the loopback port the probe listens on.
	HealthProbePort = 3000
)

//go:embed assets/healthcheck.js
var embeddedHealthProbe string

// HealthProbe returns the generated probe script. It starts a listener on
// HealthProbePort and exits 0 once a request to it succeeds.
func HealthProbe() string {
	return strings.ReplaceAll(embeddedHealthProbe, "{{PORT}}", strconv.Itoa(HealthProbePort))
}
