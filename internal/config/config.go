// Package config defines the immutable acquisition configuration.
//
// A single Config is constructed once at startup (from YAML and/or flags)
// and handed by reference to every component at construction time. Nothing
// mutates it afterwards.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	defaults "github.com/radiometric/daqstore/config"
	"github.com/radiometric/daqstore/internal/daq"
	derr "github.com/radiometric/daqstore/internal/errors"
)

// Config is the complete daqstore configuration.
type Config struct {
	// Directory is the root directory for persisted products.
	Directory string `yaml:"directory"`

	// MaxFileSize caps the on-disk size of one partition file in bytes.
	MaxFileSize int64 `yaml:"max_filesize"`

	// AppendIntegrated selects append (true) or overwrite (false) semantics
	// for integrated products. Overwrite seals the current partition and
	// starts a fresh one per block.
	AppendIntegrated bool `yaml:"append_integrated"`

	// RawRMSThreshold gates raw voltage buffers; -1 disables the gate.
	RawRMSThreshold float64 `yaml:"raw_rms_threshold"`

	// WarmupDiscard is the number of leading buffers discarded per tile for
	// warm-up gated modes.
	WarmupDiscard int `yaml:"warmup_discard"`

	// ContinuousPeriod re-seals continuous-channel partitions on a fixed
	// interval. Zero disables periodic re-sealing.
	ContinuousPeriod time.Duration `yaml:"continuous_period"`

	// Description is a free-text description embedded in every partition.
	Description string `yaml:"description"`

	// Observation holds free-form observation metadata embedded in every
	// partition container.
	Observation map[string]string `yaml:"observation"`

	// Modes holds per-mode schema counts keyed by canonical mode name.
	Modes map[string]daq.Schema `yaml:"modes"`

	// Delivery configures the downstream delivery buffer.
	Delivery DeliveryConfig `yaml:"delivery"`

	// RateMonitor configures the interface counter monitor.
	RateMonitor RateMonitorConfig `yaml:"rate_monitor"`

	// Catalog configures the parquet block catalog.
	Catalog CatalogConfig `yaml:"catalog"`
}

// DeliveryConfig configures the downstream delivery buffer.
type DeliveryConfig struct {
	// Capacity bounds the buffer depth; oldest entries are dropped when full.
	Capacity int `yaml:"capacity"`

	// PollInterval is the period of the drain loop.
	PollInterval time.Duration `yaml:"poll_interval"`
}

// RateMonitorConfig configures the interface counter monitor.
type RateMonitorConfig struct {
	// Enabled enables the monitor loop.
	Enabled bool `yaml:"enabled"`

	// Interval is the counter sampling period.
	Interval time.Duration `yaml:"interval"`

	// Interface is the NIC sampled by the procfs source.
	Interface string `yaml:"interface"`

	// SNMP optionally samples counters from a switch port instead of procfs.
	SNMP SNMPSourceConfig `yaml:"snmp"`
}

// SNMPSourceConfig configures the SNMP counter source (IF-MIB).
type SNMPSourceConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Host      string `yaml:"host"`
	Port      uint16 `yaml:"port"`
	Community string `yaml:"community"`
	IfIndex   int    `yaml:"if_index"`
	TimeoutMs uint32 `yaml:"timeout_ms"`
	Retries   int    `yaml:"retries"`
}

// CatalogConfig configures the parquet block catalog.
type CatalogConfig struct {
	// Enabled enables block catalog recording.
	Enabled bool `yaml:"enabled"`

	// Dir is the catalog directory. Defaults to {Directory}/catalog.
	Dir string `yaml:"dir"`

	// FlushInterval is how often buffered records are flushed to parquet.
	FlushInterval time.Duration `yaml:"flush_interval"`

	// FlushRows triggers a flush when this many records have accumulated.
	FlushRows int `yaml:"flush_rows"`
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Default returns a configuration with documented defaults.
func Default() *Config {
	return &Config{
		Directory:        defaults.DefaultDataDir,
		MaxFileSize:      defaults.DefaultMaxFileSize,
		AppendIntegrated: true,
		RawRMSThreshold:  defaults.DefaultRawRMSThreshold,
		WarmupDiscard:    defaults.DefaultWarmupDiscard,
		ContinuousPeriod: defaults.DefaultContinuousPeriod,
		Description:      "daqstore acquisition",
		Delivery: DeliveryConfig{
			Capacity:     defaults.DefaultDeliveryCapacity,
			PollInterval: defaults.DefaultDeliveryPollInterval,
		},
		RateMonitor: RateMonitorConfig{
			Enabled:   true,
			Interval:  defaults.DefaultRateInterval,
			Interface: defaults.DefaultRateInterface,
		},
		Catalog: CatalogConfig{
			Enabled:       true,
			FlushInterval: defaults.DefaultCatalogFlushInterval,
			FlushRows:     defaults.DefaultCatalogFlushRows,
		},
	}
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if c.Directory == "" {
		return fmt.Errorf("%w: directory", derr.ErrMissingField)
	}
	if c.MaxFileSize <= 0 {
		return fmt.Errorf("max_filesize must be positive, got %d", c.MaxFileSize)
	}
	if c.WarmupDiscard < 0 {
		return fmt.Errorf("warmup_discard must not be negative, got %d", c.WarmupDiscard)
	}
	if c.Delivery.Capacity <= 0 {
		return fmt.Errorf("delivery.capacity must be positive, got %d", c.Delivery.Capacity)
	}
	if c.Delivery.PollInterval <= 0 {
		return fmt.Errorf("delivery.poll_interval must be positive")
	}
	for name, schema := range c.Modes {
		mode, err := daq.ParseMode(name)
		if err != nil {
			return err
		}
		s := schema
		s.DType = mode.DefaultDType()
		if mode == daq.ModeCorrelation {
			if s.Stokes == 0 {
				s.Stokes = 4
			}
			if s.Baselines == 0 {
				s.Baselines = daq.BaselineCount(s.Antennas)
			}
		}
		if err := s.Validate(mode); err != nil {
			return fmt.Errorf("modes.%s: %w", name, err)
		}
	}
	return nil
}

// ModeSchema returns the schema for a mode, filling in the mode's default
// dtype, derived baseline count and a default samples-per-block when the
// configuration leaves them unset.
func (c *Config) ModeSchema(mode daq.ProductMode) daq.Schema {
	s, ok := c.Modes[mode.String()]
	if !ok {
		s = daq.Schema{}
	}
	s.DType = mode.DefaultDType()
	if s.SamplesPerBlock == 0 {
		s.SamplesPerBlock = defaults.DefaultSamplesPerBlock
	}
	if mode == daq.ModeCorrelation {
		if s.Stokes == 0 {
			s.Stokes = 4
		}
		if s.Baselines == 0 {
			s.Baselines = daq.BaselineCount(s.Antennas)
		}
	}
	return s
}

// CatalogDir returns the catalog directory.
func (c *Config) CatalogDir() string {
	if c.Catalog.Dir != "" {
		return c.Catalog.Dir
	}
	return c.Directory + "/catalog"
}
