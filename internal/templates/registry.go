// Package templates renders the build manifests agent images are built from.
// Every manifest is a shared base layer followed by a capability profile
// extension, and profiles are looked up by name in a Registry.
package templates

import (
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/google/go-containerregistry/pkg/name"
)

// Registry maps capability profiles to rendered build manifests. It is safe for
// concurrent use; lookups take a read lock and registration a write lock.
type Registry struct {
	base BaseLayer

	mu        sync.RWMutex
	manifests map[string]string
}

// Option adjusts the base layer before the built-in profiles are rendered.
type Option func(*BaseLayer)

// WithDependencyFiles overrides the dependency manifests copied into the image.
// The files are listed by name in the COPY directive, not matched by a glob, so
// every one of them must exist in the source root: a missing file fails staging
// before the build tool runs. An empty list keeps DefaultDependencyFiles.
func WithDependencyFiles(files ...string) Option {
	return func(b *BaseLayer) {
		if len(files) > 0 {
			b.DependencyFiles = append([]string(nil), files...)
		}
	}
}

// WithSystemPackages overrides the packages installed in the base layer.
func WithSystemPackages(packages ...string) Option {
	return func(b *BaseLayer) {
		b.SystemPackages = append([]string(nil), packages...)
	}
}

// NewRegistry renders the base layer for baseRuntimeImage and registers the
// built-in profiles.
func NewRegistry(baseRuntimeImage string, opts ...Option) *Registry {
	base := NewBaseLayer(baseRuntimeImage, nil)
	for _, opt := range opts {
		opt(&base)
	}

	r := &Registry{
		base:      base,
		manifests: make(map[string]string),
	}
	for _, ext := range builtinExtensions() {
		r.manifests[ext.Name] = Render(base, ext)
	}
	return r
}

// ValidateRuntimeImage reports whether image is a well-formed image reference.
func ValidateRuntimeImage(image string) error {
	if _, err := name.ParseReference(image); err != nil {
		return fmt.Errorf("invalid base runtime image %q: %w", image, err)
	}
	return nil
}

// Base returns a copy of the base layer the registry renders profiles over.
func (r *Registry) Base() BaseLayer {
	base := r.base
	base.SystemPackages = slices.Clone(r.base.SystemPackages)
	base.DependencyFiles = slices.Clone(r.base.DependencyFiles)
	return base
}

// GetTemplate returns the manifest registered for profile, falling back to the
// default profile for unknown names.
func (r *Registry) GetTemplate(profile string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if manifest, ok := r.manifests[profile]; ok {
		return manifest
	}
	return r.manifests[ProfileDefault]
}

// Has reports whether profile is registered.
func (r *Registry) Has(profile string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.manifests[profile]
	return ok
}

// AddTemplate registers manifest under name, replacing any previous entry.
func (r *Registry) AddTemplate(name, manifest string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.manifests[name] = manifest
}

// AddProfile renders ext over the registry's base layer and registers it.
func (r *Registry) AddProfile(ext ProfileExtension) error {
	if err := ext.Validate(); err != nil {
		return err
	}
	r.AddTemplate(ext.Name, Render(r.base, ext))
	return nil
}

// ListTemplates returns a copy of every registered manifest keyed by profile.
func (r *Registry) ListTemplates() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return maps.Clone(r.manifests)
}

// Profiles returns the registered profile names in sorted order.
func (r *Registry) Profiles() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return slices.Sorted(maps.Keys(r.manifests))
}
