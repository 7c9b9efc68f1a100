package templates

import "time"

// Built-in profile names.
const (
	ProfileDefault          = "default"
	ProfileLanguageTooling  = "language-tooling"
	ProfileQualityAssurance = "quality-assurance"
	ProfileOperations       = "operations"
)

const (
	// DefaultRuntimeImage is used when no base runtime image is configured.
	DefaultRuntimeImage = "node:20-alpine"
	defaultWorkDir      = "/agent"
	defaultInstall      = "npm ci --only=production"
)

// DefaultDependencyFiles are the manifests needed to reproduce a production install.
var DefaultDependencyFiles = []string{"package.json", "package-lock.json"}

// NewBaseLayer returns the shared base layer for runtimeImage. A nil
// dependencyFiles slice selects DefaultDependencyFiles.
func NewBaseLayer(runtimeImage string, dependencyFiles []string) BaseLayer {
	if runtimeImage == "" {
		runtimeImage = DefaultRuntimeImage
	}
	if len(dependencyFiles) == 0 {
		dependencyFiles = DefaultDependencyFiles
	}

	return BaseLayer{
		RuntimeImage:    runtimeImage,
		SystemPackages:  []string{"python3", "make", "g++", "git"},
		WorkDir:         defaultWorkDir,
		DependencyFiles: append([]string(nil), dependencyFiles...),
		InstallCommand:  defaultInstall,
		Principal:       Principal{Name: "agent", UID: 1001, GID: 1001},
		HealthCheck: HealthCheck{
			Interval:    30 * time.Second,
			Timeout:     3 * time.Second,
			StartPeriod: 40 * time.Second,
			Retries:     3,
			Command:     "node " + HealthProbeFilename + " || exit 1",
		},
	}
}

func builtinExtensions() []ProfileExtension {
	return []ProfileExtension{
		{
			Name:       ProfileDefault,
			Entrypoint: []string{"node", "dist/agents/base/AgentRunner.js"},
		},
		{
			Name:              ProfileLanguageTooling,
			Description:       "Install TypeScript globally",
			PrivilegedInstall: []string{"npm install -g typescript @types/node"},
			Entrypoint:        []string{"node", "dist/agents/specialized/TypeScriptAgent.js"},
		},
		{
			Name:              ProfileQualityAssurance,
			Description:       "Install testing tools",
			PrivilegedInstall: []string{"npm install -g jest playwright"},
			Entrypoint:        []string{"node", "dist/agents/specialized/QAAgent.js"},
		},
		{
			Name:              ProfileOperations,
			Description:       "Install deployment tools",
			PrivilegedInstall: []string{"apk add --no-cache docker-cli curl"},
			Entrypoint:        []string{"node", "dist/agents/specialized/DevOpsAgent.js"},
		},
	}
}
