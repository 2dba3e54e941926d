package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	defaults "github.com/radiometric/daqstore/config"
	"github.com/radiometric/daqstore/internal/daq"
	derr "github.com/radiometric/daqstore/internal/errors"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	if cfg.Directory != defaults.DefaultDataDir {
		t.Errorf("Directory = %q", cfg.Directory)
	}
	if cfg.MaxFileSize != defaults.DefaultMaxFileSize {
		t.Errorf("MaxFileSize = %d", cfg.MaxFileSize)
	}
	if cfg.RawRMSThreshold != defaults.DefaultRawRMSThreshold {
		t.Errorf("RawRMSThreshold = %f", cfg.RawRMSThreshold)
	}
	if !cfg.AppendIntegrated {
		t.Error("AppendIntegrated should default to true")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestLoadYAML(t *testing.T) {
	content := `
directory: /tmp/daq
max_filesize: 1048576
raw_rms_threshold: 42.5
warmup_discard: 3
continuous_period: 5m
description: "test run"
observation:
  target: "zenith"
modes:
  raw:
    antennas: 16
    pols: 2
    samples_per_block: 2048
  correlation:
    channels: 1
    antennas: 4
    samples_per_block: 1
delivery:
  capacity: 128
  poll_interval: 250ms
rate_monitor:
  enabled: true
  interface: eno1
catalog:
  enabled: false
`
	path := filepath.Join(t.TempDir(), "daqstore.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Directory != "/tmp/daq" {
		t.Errorf("Directory = %q", cfg.Directory)
	}
	if cfg.RawRMSThreshold != 42.5 {
		t.Errorf("RawRMSThreshold = %f", cfg.RawRMSThreshold)
	}
	if cfg.ContinuousPeriod != 5*time.Minute {
		t.Errorf("ContinuousPeriod = %v", cfg.ContinuousPeriod)
	}
	if cfg.Observation["target"] != "zenith" {
		t.Errorf("Observation = %v", cfg.Observation)
	}
	if cfg.Delivery.Capacity != 128 || cfg.Delivery.PollInterval != 250*time.Millisecond {
		t.Errorf("Delivery = %+v", cfg.Delivery)
	}
	if cfg.RateMonitor.Interface != "eno1" {
		t.Errorf("RateMonitor.Interface = %q", cfg.RateMonitor.Interface)
	}
	if cfg.Catalog.Enabled {
		t.Error("catalog should be disabled")
	}

	raw := cfg.ModeSchema(daq.ModeRawVoltage)
	if raw.Antennas != 16 || raw.SamplesPerBlock != 2048 {
		t.Errorf("raw schema = %+v", raw)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err == nil {
		t.Fatal("Load accepted a missing file")
	}
	// Callers fall back to defaults on a missing file, so the wrapped error
	// must still match fs.ErrNotExist.
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("Load error = %v, want fs.ErrNotExist in chain", err)
	}
}

func TestValidateMissingDirectory(t *testing.T) {
	cfg := Default()
	cfg.Directory = ""
	if err := cfg.Validate(); !errors.Is(err, derr.ErrMissingField) {
		t.Fatalf("Validate error = %v, want ErrMissingField", err)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"no directory":      "directory: \"\"\nmax_filesize: 1\n",
		"bad max_filesize":  "max_filesize: 0\n",
		"negative warmup":   "warmup_discard: -1\n",
		"unknown mode":      "modes:\n  warble:\n    antennas: 2\n",
		"incomplete schema": "modes:\n  raw:\n    samples_per_block: 16\n",
	}
	for name, content := range cases {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("write config: %v", err)
		}
		if _, err := Load(path); err == nil {
			t.Errorf("%s: accepted", name)
		}
	}
}

func TestModeSchemaDerivations(t *testing.T) {
	cfg := Default()
	cfg.Modes = map[string]daq.Schema{
		"correlation": {Channels: 1, Antennas: 4, SamplesPerBlock: 1},
	}

	corr := cfg.ModeSchema(daq.ModeCorrelation)
	if corr.DType != daq.Complex64 {
		t.Errorf("correlation dtype = %v", corr.DType)
	}
	if corr.Stokes != 4 {
		t.Errorf("Stokes = %d, want default 4", corr.Stokes)
	}
	if corr.Baselines != daq.BaselineCount(4) {
		t.Errorf("Baselines = %d, want %d", corr.Baselines, daq.BaselineCount(4))
	}

	// An unconfigured mode still yields a usable dtype and block length.
	beam := cfg.ModeSchema(daq.ModeBeam)
	if beam.DType != daq.CInt16 {
		t.Errorf("beam dtype = %v", beam.DType)
	}
	if beam.SamplesPerBlock != defaults.DefaultSamplesPerBlock {
		t.Errorf("beam samples_per_block = %d", beam.SamplesPerBlock)
	}
}

func TestCatalogDir(t *testing.T) {
	cfg := Default()
	cfg.Directory = "/data"
	if got := cfg.CatalogDir(); got != "/data/catalog" {
		t.Errorf("CatalogDir = %q", got)
	}

	cfg.Catalog.Dir = "/elsewhere"
	if got := cfg.CatalogDir(); got != "/elsewhere" {
		t.Errorf("CatalogDir override = %q", got)
	}
}
