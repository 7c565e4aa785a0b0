// Package config provides configuration loading and management for dtiseed.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"dtiseed/pkg/field"
	"dtiseed/pkg/header"
	"dtiseed/pkg/seeding"
)

// Output formats.
const (
	FormatBincode = "bincode"
	FormatSQLite  = "sqlite"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("config: invalid")

// Config represents the application configuration loaded from YAML
type Config struct {
	// Input describes the tensor volume
	Input struct {
		// Width, Height and Depth are the grid dimensions in voxels
		Width  int `yaml:"width"`
		Height int `yaml:"height"`
		Depth  int `yaml:"depth"`

		// LittleEndian is set when samples are stored little-endian (default big-endian)
		LittleEndian bool `yaml:"littleEndian"`

		// DataFile is a raw tensor file, a .nii/.nii.gz image or a gs:// object
		DataFile string `yaml:"dataFile"`

		// Header is an optional header file providing sizes, endianness and data file
		Header string `yaml:"header"`
	} `yaml:"input"`

	// Seeding parameters
	Seeding struct {
		// NumSeedingPoints is how many seeding points to generate
		NumSeedingPoints int `yaml:"numSeedingPoints"`

		// StepSize is the lattice spacing used when searching for seeding points
		StepSize int `yaml:"stepSize"`

		// FAVolumeProductThreshold is the minimum FA product over a candidate's neighborhood
		FAVolumeProductThreshold float64 `yaml:"faVolumeProductThreshold"`

		// MaxSteps bounds the length of simulated streamlines
		MaxSteps int `yaml:"maxSteps"`
	} `yaml:"seeding"`

	// Processing parameters
	Processing struct {
		// NumCores specifies how many CPU cores to use for parallel processing
		NumCores int `yaml:"numCores"`

		// FAEpsilon is the anisotropy at or below which a voxel gets no direction
		FAEpsilon float64 `yaml:"faEpsilon"`

		// StrictShape turns a sample count mismatch into an error
		StrictShape bool `yaml:"strictShape"`
	} `yaml:"processing"`

	// Output parameters
	Output struct {
		// File is where the result record is written
		File string `yaml:"file"`

		// Format is bincode or sqlite
		Format string `yaml:"format"`

		// SaveFASlices writes JPEG slices of the FA map
		SaveFASlices bool `yaml:"saveFASlices"`

		// SlicesDir is where FA slices are written
		SlicesDir string `yaml:"slicesDir"`

		// Verbose enables debug logging
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Seeding.NumSeedingPoints = 10
	cfg.Seeding.StepSize = 2
	cfg.Seeding.FAVolumeProductThreshold = 0.01
	cfg.Seeding.MaxSteps = 1000

	cfg.Processing.NumCores = runtime.NumCPU() // Use all available cores by default
	cfg.Processing.FAEpsilon = 0
	cfg.Processing.StrictShape = false

	cfg.Output.File = "out.bincode"
	cfg.Output.Format = FormatBincode
	cfg.Output.SaveFASlices = false
	cfg.Output.SlicesDir = "fa_slices"
	cfg.Output.Verbose = false

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, errors.Wrap(err, "error reading config file")
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "error parsing config file")
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrap(err, "error creating config directory")
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return errors.Wrap(err, "error marshaling config")
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return errors.Wrap(err, "error writing config file")
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	return SaveConfig(DefaultConfig(), configPath)
}

// ApplyHeader copies the dimensions, endianness and data file of h into the
// input section. Fields the header does not set are left alone, and a data
// file already set in the config is kept.
func (c *Config) ApplyHeader(h *header.Header) {
	if h.HasSizes {
		c.Input.Width = h.Width
		c.Input.Height = h.Height
		c.Input.Depth = h.Depth
	}
	if h.HasEndian {
		c.Input.LittleEndian = h.LittleEndian
	}
	if c.Input.DataFile == "" {
		c.Input.DataFile = h.DataFile
	}
}

// Validate checks the configuration before any work is done. Grid
// dimensions may be zero for NIfTI inputs, which carry their own.
func (c *Config) Validate() error {
	if c.Input.DataFile == "" {
		return errors.Wrap(ErrInvalidConfig, "no input data file")
	}
	if c.Input.Width < 0 || c.Input.Height < 0 || c.Input.Depth < 0 {
		return errors.Wrapf(ErrInvalidConfig, "negative dimensions %dx%dx%d",
			c.Input.Width, c.Input.Height, c.Input.Depth)
	}
	if c.Seeding.NumSeedingPoints < 0 {
		return errors.Wrapf(ErrInvalidConfig, "numSeedingPoints %d", c.Seeding.NumSeedingPoints)
	}
	if c.Seeding.StepSize < 1 {
		return errors.Wrapf(ErrInvalidConfig, "stepSize %d", c.Seeding.StepSize)
	}
	if c.Seeding.MaxSteps < 1 {
		return errors.Wrapf(ErrInvalidConfig, "maxSteps %d", c.Seeding.MaxSteps)
	}
	if c.Processing.FAEpsilon < 0 {
		return errors.Wrapf(ErrInvalidConfig, "faEpsilon %g", c.Processing.FAEpsilon)
	}
	switch c.Output.Format {
	case FormatBincode, FormatSQLite:
	default:
		return errors.Wrapf(ErrInvalidConfig, "unknown output format %q", c.Output.Format)
	}
	if c.Output.File == "" {
		return errors.Wrap(ErrInvalidConfig, "no output file")
	}
	return nil
}

// SeedingParams returns the seed search parameters.
func (c *Config) SeedingParams() seeding.Params {
	return seeding.Params{
		NumPoints:       c.Seeding.NumSeedingPoints,
		StepSize:        c.Seeding.StepSize,
		FAAreaThreshold: c.Seeding.FAVolumeProductThreshold,
		MaxSteps:        c.Seeding.MaxSteps,
		NumWorkers:      c.Processing.NumCores,
	}
}

// BuildOptions returns the field builder options.
func (c *Config) BuildOptions() field.BuildOptions {
	return field.BuildOptions{
		FAEpsilon:   c.Processing.FAEpsilon,
		NumWorkers:  c.Processing.NumCores,
		StrictShape: c.Processing.StrictShape,
	}
}
