package psffit

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write config fixture: %v", err)
	}
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	path := writeConfig(t, `exposure:
  path: /data/exp.fits
  gain: 1.5
catalog: /data/stars.csv
determiner:
  n_eigen_components: 4
  kernel_size: 21
output:
  psf_mosaic: psf.jpg
`)

	config, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if config.Exposure.Path != "/data/exp.fits" {
		t.Errorf("exposure path: got %q", config.Exposure.Path)
	}
	if config.Exposure.Gain != 1.5 {
		t.Errorf("gain: got %v, want 1.5", config.Exposure.Gain)
	}
	if config.Determiner.NEigenComponents != 4 {
		t.Errorf("nEigenComponents: got %d, want 4", config.Determiner.NEigenComponents)
	}
	if config.Determiner.KernelSize != 21 {
		t.Errorf("kernelSize: got %d, want 21", config.Determiner.KernelSize)
	}

	// Unset determiner fields keep their defaults.
	if config.Determiner.SpatialOrder != 2 {
		t.Errorf("spatialOrder default: got %d, want 2", config.Determiner.SpatialOrder)
	}
	if config.Determiner.Lam != 0.05 {
		t.Errorf("lam default: got %v, want 0.05", config.Determiner.Lam)
	}
	if config.Output.MosaicNx != 5 || config.Output.MosaicNy != 5 {
		t.Errorf("mosaic grid default: got %dx%d, want 5x5",
			config.Output.MosaicNx, config.Output.MosaicNy)
	}
}

func TestLoadConfigMissingFields(t *testing.T) {
	path := writeConfig(t, "catalog: /data/stars.csv\n")
	if _, err := LoadConfig(path); err == nil {
		t.Error("missing exposure path must be rejected")
	}

	path = writeConfig(t, "exposure:\n  path: /data/exp.fits\n")
	if _, err := LoadConfig(path); err == nil {
		t.Error("missing catalog must be rejected")
	}
}

func TestLoadConfigInvalidDeterminer(t *testing.T) {
	path := writeConfig(t, `exposure:
  path: /data/exp.fits
catalog: /data/stars.csv
determiner:
  n_eigen_components: 0
`)
	if _, err := LoadConfig(path); err == nil {
		t.Error("invalid determiner parameters must be rejected")
	}
}

func TestLoadConfigNotFound(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file must be reported")
	}
}
