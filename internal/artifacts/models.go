package artifacts

// ArtifactKind classifies a file staged into a build context.
type ArtifactKind string

const (
	ManifestArtifact   ArtifactKind = "manifest"   // Rendered build manifest
	DependencyArtifact ArtifactKind = "dependency" // Package/lock descriptors
	SourceArtifact     ArtifactKind = "source"     // Files from the agent source tree
	ProbeArtifact      ArtifactKind = "probe"      // Generated health probe
)

// Artifact describes one staged file. Path is relative to the context root and
// always uses forward slashes.
type Artifact struct {
	Kind     ArtifactKind `json:"kind"`
	Path     string       `json:"path"`
	Size     int64        `json:"size"`
	Checksum string       `json:"checksum,omitempty"`
}
