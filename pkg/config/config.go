// Package config provides configuration loading and management for voxface.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"voxface/pkg/deface"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Deface parameters
	Deface struct {
		// ReductionFactor is the voxelation block size: either a single
		// value applied to all axes or one value per axis
		ReductionFactor []int `yaml:"reductionFactor"`

		// SplineOrder is the interpolation order for the downsample pass (0-5)
		SplineOrder int `yaml:"splineOrder"`

		// FaceFractionAnterior is the anterior fraction of the head
		// treated as facial, in (0,1]
		FaceFractionAnterior float64 `yaml:"faceFractionAnterior"`

		// FaceFractionInferior is the inferior fraction of the head
		// treated as facial, in (0,1]
		FaceFractionInferior float64 `yaml:"faceFractionInferior"`

		// BlendMarginVoxels is the width of the feathered transition band
		BlendMarginVoxels int `yaml:"blendMarginVoxels"`
	} `yaml:"deface"`

	// Output parameters
	Output struct {
		// SaveIntermediates determines whether to save the blend mask and
		// voxelated volume alongside the defaced output
		SaveIntermediates bool `yaml:"saveIntermediates"`

		// IntermediateDir is the directory for intermediate volumes
		IntermediateDir string `yaml:"intermediateDir"`

		// QCDir is the directory for tri-planar QC snapshots; empty
		// disables QC rendering
		QCDir string `yaml:"qcDir"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	defaults := deface.DefaultParams()
	cfg.Deface.ReductionFactor = []int{defaults.ReductionFactor[0]}
	cfg.Deface.SplineOrder = defaults.SplineOrder
	cfg.Deface.FaceFractionAnterior = defaults.FaceFractionAnterior
	cfg.Deface.FaceFractionInferior = defaults.FaceFractionInferior
	cfg.Deface.BlendMarginVoxels = defaults.BlendMarginVoxels

	cfg.Output.SaveIntermediates = false
	cfg.Output.IntermediateDir = "intermediate_results"
	cfg.Output.QCDir = ""
	cfg.Output.Verbose = true

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Parse YAML
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	// Marshal config to YAML
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	// Write to file
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}

// Params converts the configuration into pipeline parameters. The
// reduction factor list may hold one value (applied to every axis) or
// three per-axis values.
func (cfg *Config) Params() (*deface.Params, error) {
	p := deface.DefaultParams()

	switch len(cfg.Deface.ReductionFactor) {
	case 0:
		// keep default
	case 1:
		f := cfg.Deface.ReductionFactor[0]
		p.ReductionFactor = [3]int{f, f, f}
	case 3:
		copy(p.ReductionFactor[:], cfg.Deface.ReductionFactor)
	default:
		return nil, fmt.Errorf("reductionFactor must have 1 or 3 entries, got %d",
			len(cfg.Deface.ReductionFactor))
	}

	p.SplineOrder = cfg.Deface.SplineOrder
	p.FaceFractionAnterior = cfg.Deface.FaceFractionAnterior
	p.FaceFractionInferior = cfg.Deface.FaceFractionInferior
	p.BlendMarginVoxels = cfg.Deface.BlendMarginVoxels
	p.SaveIntermediates = cfg.Output.SaveIntermediates

	return p, nil
}
