package setup

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/cochaviz/cask/internal/logging"
)

var packageLogger *slog.Logger

// SetLogger configures the logger used by setup operations. Nil restores the
// process default.
func SetLogger(logger *slog.Logger) {
	packageLogger = logger
}

func getLogger() *slog.Logger {
	return logging.Ensure(packageLogger).With("component", "setup")
}

var ConfigDir = "/etc/cask"
var StorageDir = "/var/lib/cask/"

// DefaultConfigFile is read when no --config flag is given and the file exists.
func DefaultConfigFile() string {
	return filepath.Join(ConfigDir, "config.yaml")
}

// EnsureDirs creates every directory that does not exist yet.
func EnsureDirs(dirs ...string) error {
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
		getLogger().Debug("directory ready", "dir", dir)
	}
	return nil
}

// Verify checks that tool is on PATH and every directory is writable.
// An empty tool skips the PATH check.
func Verify(tool string, dirs ...string) error {
	var errs error
	if tool != "" {
		if _, err := exec.LookPath(tool); err != nil {
			errs = errors.Join(errs, fmt.Errorf("build tool %q not found: %w", tool, err))
		}
	}
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		probe, err := os.CreateTemp(dir, ".cask-verify-*")
		if err != nil {
			errs = errors.Join(errs, fmt.Errorf("directory %s is not writable: %w", dir, err))
			continue
		}
		probe.Close()
		os.Remove(probe.Name())
	}
	return errs
}

// ClearScratch removes every leftover build context below root. The root
// itself is kept.
func ClearScratch(root string) error {
	getLogger().Info("clearing stale build contexts", "root", root)

	entries, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return err
	}
	for _, entry := range entries {
		path := filepath.Join(root, entry.Name())
		if err := os.RemoveAll(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove %s: %w", path, err)
		}
	}
	return nil
}
