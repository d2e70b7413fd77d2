// Package config provides configuration loading utilities for flavor overlays.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/fairyhunter13/ai-inference-pipeline/internal/domain"
)

// FlavorSpec is one flavor entry in the overlay YAML file.
type FlavorSpec struct {
	Name           string   `yaml:"name"`
	FileInputs     int      `yaml:"file_inputs"`
	ParamsRequired bool     `yaml:"params_required"`
	Artifact       string   `yaml:"artifact"`
	ArtifactExt    string   `yaml:"artifact_ext"`
	MIMEPrefixes   []string `yaml:"mime_prefixes"`
	TaskQueue      string   `yaml:"task_queue"`
	ResultQueue    string   `yaml:"result_queue"`
}

// FlavorsYAML represents the structure of the flavor overlay file.
type FlavorsYAML struct {
	Flavors []FlavorSpec `yaml:"flavors"`
}

// BuildRegistry returns the flavor registry: the built-in defaults with the
// overlay file applied on top. A missing file is not an error; deployments
// without custom flavors simply run the defaults.
func BuildRegistry(path string) (*domain.Registry, error) {
	reg := domain.DefaultRegistry()
	if path == "" {
		return reg, nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("op=config.BuildRegistry: %w", err)
	}
	if _, err := os.Stat(absPath); os.IsNotExist(err) {
		return reg, nil
	}

	// #nosec G304 -- Configuration files are expected to be safe
	content, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("op=config.BuildRegistry: read %s: %w", path, err)
	}

	var overlay FlavorsYAML
	if err := yaml.Unmarshal(content, &overlay); err != nil {
		return nil, fmt.Errorf("op=config.BuildRegistry: parse %s: %w", path, err)
	}

	for _, spec := range overlay.Flavors {
		fl := domain.Flavor{
			Name:           spec.Name,
			FileInputs:     spec.FileInputs,
			ParamsRequired: spec.ParamsRequired,
			Artifact:       domain.ArtifactKind(spec.Artifact),
			ArtifactExt:    spec.ArtifactExt,
			MIMEPrefixes:   spec.MIMEPrefixes,
			TaskQueue:      spec.TaskQueue,
			ResultQueue:    spec.ResultQueue,
		}
		if fl.Artifact == "" {
			fl.Artifact = domain.ArtifactInline
		}
		if err := reg.Register(fl); err != nil {
			return nil, fmt.Errorf("op=config.BuildRegistry: flavor %q: %w", spec.Name, err)
		}
	}
	return reg, nil
}
