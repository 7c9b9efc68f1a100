// Package config loads cask settings and wires the build pipeline from them.
//
// Values are layered: built-in defaults, then an optional YAML file, then
// variables from .env files, then the process environment (CASK_ prefix).
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/cochaviz/cask/internal/build/adapters/local"
	"github.com/cochaviz/cask/internal/logging"
	"github.com/cochaviz/cask/internal/setup"
	"github.com/cochaviz/cask/internal/templates"

	env "github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment variable name.
const EnvPrefix = "CASK_"

// Build drivers.
const (
	DriverCLI    = "cli"
	DriverEngine = "engine"
)

// Record stores.
const (
	RecordsJSON   = "json"
	RecordsSQLite = "sqlite"
	RecordsNone   = "none"
)

const (
	DefaultBuildTimeout        = 30 * time.Minute
	DefaultMaxConcurrentBuilds = 4
	DefaultScratchRoot         = ".docker-build"
)

// Config holds every setting of the build pipeline.
type Config struct {
	BaseImage       string   `yaml:"base_image" env:"BASE_IMAGE"`
	SystemPackages  []string `yaml:"system_packages" env:"SYSTEM_PACKAGES" envSeparator:","`
	DependencyFiles []string `yaml:"dependency_files" env:"DEPENDENCY_FILES" envSeparator:","`

	SourceRoot   string `yaml:"source_root" env:"SOURCE_ROOT"`
	SourceSubdir string `yaml:"source_subdir" env:"SOURCE_SUBDIR"`
	ScratchRoot  string `yaml:"scratch_root" env:"SCRATCH_ROOT"`

	// Driver selects the docker CLI ("cli") or the Engine API ("engine").
	Driver       string        `yaml:"driver" env:"DRIVER"`
	Tool         string        `yaml:"tool" env:"TOOL"`
	ToolArgs     []string      `yaml:"tool_args" env:"TOOL_ARGS" envSeparator:","`
	VerifyImages bool          `yaml:"verify_images" env:"VERIFY_IMAGES"`
	BuildTimeout time.Duration `yaml:"build_timeout" env:"BUILD_TIMEOUT"`
	// MaxConcurrentBuilds of zero removes the limit.
	MaxConcurrentBuilds int64 `yaml:"max_concurrent_builds" env:"MAX_CONCURRENT_BUILDS"`

	Records     RecordsConfig `yaml:"records" envPrefix:"RECORDS_"`
	MetricsFile string        `yaml:"metrics_file" env:"METRICS_FILE"`

	LogLevel  string `yaml:"log_level" env:"LOG_LEVEL"`
	LogFormat string `yaml:"log_format" env:"LOG_FORMAT"`

	// ProfilesFile points at additional profile extensions in YAML.
	ProfilesFile string                       `yaml:"profiles_file" env:"PROFILES_FILE"`
	Profiles     []templates.ProfileExtension `yaml:"profiles"`
}

// RecordsConfig selects where build history is kept.
type RecordsConfig struct {
	Driver string `yaml:"driver" env:"DRIVER"`
	Path   string `yaml:"path" env:"PATH"`
}

// Default returns the configuration used when nothing else is set.
func Default() Config {
	return Config{
		BaseImage:           templates.DefaultRuntimeImage,
		DependencyFiles:     append([]string(nil), templates.DefaultDependencyFiles...),
		SourceRoot:          ".",
		SourceSubdir:        local.DefaultSourceSubdir,
		ScratchRoot:         DefaultScratchRoot,
		Driver:              DriverCLI,
		Tool:                "docker",
		BuildTimeout:        DefaultBuildTimeout,
		MaxConcurrentBuilds: DefaultMaxConcurrentBuilds,
		Records: RecordsConfig{
			Driver: RecordsJSON,
			Path:   filepath.Join(setup.StorageDir, "builds"),
		},
		LogLevel:  "info",
		LogFormat: "cli",
	}
}

// Load builds a Config from path (optional), the given .env files and the
// process environment. Missing .env files are ignored.
func Load(path string, dotenvFiles ...string) (Config, error) {
	for _, file := range dotenvFiles {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", file, err)
		}
	}
	return load(path, env.ToMap(os.Environ()))
}

func load(path string, environment map[string]string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		decoder.KnownFields(true)
		if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return Config{}, fmt.Errorf("decode config %s: %w", path, err)
		}
	}

	// Profiles are only read from YAML.
	profiles := cfg.Profiles
	if err := env.ParseWithOptions(&cfg, env.Options{
		Prefix:      EnvPrefix,
		Environment: environment,
	}); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}
	cfg.Profiles = profiles

	if cfg.ProfilesFile != "" {
		extra, err := templates.LoadProfiles(cfg.ProfilesFile)
		if err != nil {
			return Config{}, err
		}
		cfg.Profiles = append(cfg.Profiles, extra...)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the pipeline cannot run with.
func (c Config) Validate() error {
	var errs []error

	if err := templates.ValidateRuntimeImage(c.BaseImage); err != nil {
		errs = append(errs, err)
	}
	if c.SourceRoot == "" {
		errs = append(errs, errors.New("source_root is required"))
	}
	if c.ScratchRoot == "" {
		errs = append(errs, errors.New("scratch_root is required"))
	}
	switch c.Driver {
	case DriverCLI:
		if c.Tool == "" {
			errs = append(errs, errors.New("tool is required for the cli driver"))
		}
	case DriverEngine:
	default:
		errs = append(errs, fmt.Errorf("unknown driver %q (want %s or %s)", c.Driver, DriverCLI, DriverEngine))
	}
	if c.BuildTimeout < 0 {
		errs = append(errs, fmt.Errorf("build_timeout must not be negative, got %s", c.BuildTimeout))
	}
	if c.MaxConcurrentBuilds < 0 {
		errs = append(errs, fmt.Errorf("max_concurrent_builds must not be negative, got %d", c.MaxConcurrentBuilds))
	}
	switch c.Records.Driver {
	case RecordsJSON, RecordsSQLite:
		if c.Records.Path == "" {
			errs = append(errs, fmt.Errorf("records.path is required for the %s store", c.Records.Driver))
		}
	case RecordsNone:
	default:
		errs = append(errs, fmt.Errorf("unknown records driver %q", c.Records.Driver))
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	if _, err := logging.ParseMode(c.LogFormat); err != nil {
		errs = append(errs, err)
	}
	for _, ext := range c.Profiles {
		if err := ext.Validate(); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
	}
	return nil
}
