package templates

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type profileFile struct {
	Profiles []ProfileExtension `yaml:"profiles"`
}

// LoadProfiles reads profile extensions from a YAML document of the form:
//
//	profiles:
//	  - name: data-science
//	    description: Install notebook tooling
//	    install: ["pip install jupyter"]
//	    entrypoint: ["node", "dist/agents/specialized/DataAgent.js"]
func LoadProfiles(path string) ([]ProfileExtension, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read profiles %s: %w", path, err)
	}
	return ParseProfiles(data)
}

// ParseProfiles decodes and validates profile extensions from YAML.
func ParseProfiles(data []byte) ([]ProfileExtension, error) {
	var file profileFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode profiles: %w", err)
	}

	seen := make(map[string]struct{}, len(file.Profiles))
	for _, ext := range file.Profiles {
		if err := ext.Validate(); err != nil {
			return nil, err
		}
		if _, dup := seen[ext.Name]; dup {
			return nil, fmt.Errorf("profile %q defined more than once", ext.Name)
		}
		seen[ext.Name] = struct{}{}
	}
	return file.Profiles, nil
}

// Register adds every extension to the registry in order.
func (r *Registry) Register(exts ...ProfileExtension) error {
	for _, ext := range exts {
		if err := r.AddProfile(ext); err != nil {
			return err
		}
	}
	return nil
}
