package psffit

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the YAML configuration consumed by the psffit command.
type Config struct {
	Exposure   ExposureConfig       `yaml:"exposure"`
	Catalog    string               `yaml:"catalog"`
	Determiner *PsfDeterminerParams `yaml:"determiner"`
	Output     OutputConfig         `yaml:"output"`
}

// ExposureConfig describes the input FITS exposure and its noise model.
type ExposureConfig struct {
	Path      string  `yaml:"path"`
	Gain      float64 `yaml:"gain"`
	ReadNoise float64 `yaml:"read_noise"`
}

// OutputConfig names optional diagnostic artifacts.
type OutputConfig struct {
	CellOverlay   string `yaml:"cell_overlay"`
	PsfMosaic     string `yaml:"psf_mosaic"`
	MosaicNx      int    `yaml:"mosaic_nx"`
	MosaicNy      int    `yaml:"mosaic_ny"`
	Magnification int    `yaml:"magnification"`
}

// LoadConfig loads the configuration from a YAML file. Determiner fields not
// present in the file keep their defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	config := Config{
		Determiner: NewPsfDeterminerParams(),
		Output: OutputConfig{
			MosaicNx:      5,
			MosaicNy:      5,
			Magnification: 4,
		},
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}

	if config.Exposure.Path == "" {
		return nil, fmt.Errorf("exposure.path is required")
	}
	if config.Catalog == "" {
		return nil, fmt.Errorf("catalog is required")
	}
	if err := config.Determiner.Validate(); err != nil {
		return nil, fmt.Errorf("determiner config: %w", err)
	}

	return &config, nil
}
