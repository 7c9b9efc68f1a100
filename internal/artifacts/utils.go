package artifacts

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
)

// CopyFile copies src to dst with the given permissions and returns the
// artifact describing dst. The checksum is computed while copying.
func CopyFile(kind ArtifactKind, relPath, src, dst string, perm os.FileMode) (Artifact, error) {
	in, err := os.Open(src)
	if err != nil {
		return Artifact{}, err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return Artifact{}, err
	}

	hash := sha256.New()
	size, err := io.Copy(io.MultiWriter(out, hash), in)
	if err != nil {
		out.Close()
		return Artifact{}, err
	}
	if err := out.Close(); err != nil {
		return Artifact{}, err
	}

	return Artifact{
		Kind:     kind,
		Path:     relPath,
		Size:     size,
		Checksum: "sha256:" + hex.EncodeToString(hash.Sum(nil)),
	}, nil
}

// WriteFile writes content to dst and returns the artifact describing it.
func WriteFile(kind ArtifactKind, relPath, dst string, content []byte, perm os.FileMode) (Artifact, error) {
	if err := os.WriteFile(dst, content, perm); err != nil {
		return Artifact{}, err
	}
	sum := sha256.Sum256(content)
	return Artifact{
		Kind:     kind,
		Path:     relPath,
		Size:     int64(len(content)),
		Checksum: "sha256:" + hex.EncodeToString(sum[:]),
	}, nil
}

// Count returns the number of artifacts of each kind.
func Count(staged []Artifact) map[ArtifactKind]int {
	counts := make(map[ArtifactKind]int)
	for _, artifact := range staged {
		counts[artifact.Kind]++
	}
	return counts
}
