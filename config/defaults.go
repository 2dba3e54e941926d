// Package config provides configuration defaults and utilities
// for the daqstore application.
//
// This package defines all configurable constants with documented defaults.
// Users can override these values via config.yaml or command-line flags.
package config

import "time"

// =============================================================================
// Storage Defaults
// =============================================================================

const (
	// DefaultDataDir is the root directory for persisted products.
	// Override via config: directory
	DefaultDataDir = "/var/lib/daqstore/data"

	// DefaultMaxFileSize caps the on-disk size of a single partition file.
	// When the next block would exceed this, the partition is sealed and a
	// fresh one is configured.
	// Override via config: max_filesize
	DefaultMaxFileSize = 1 * 1024 * 1024 * 1024 // 1 GiB

	// DefaultSamplesPerBlock is the sample-axis length of one ingested block
	// when a mode does not specify its own.
	// Override via config: modes.<mode>.samples_per_block
	DefaultSamplesPerBlock = 1024
)

// =============================================================================
// Admission Policy Defaults
// =============================================================================

const (
	// DefaultRawRMSThreshold gates raw voltage buffers. A value of -1
	// disables the gate entirely.
	// Override via config: raw_rms_threshold
	DefaultRawRMSThreshold = -1.0

	// DefaultWarmupDiscard is the number of leading buffers per tile that are
	// counted but dropped for continuous, integrated-channel and station-beam
	// streams, avoiding partial-acquisition artifacts at stream start.
	// Override via config: warmup_discard
	DefaultWarmupDiscard = 2

	// DefaultContinuousPeriod is the re-seal interval for continuous-channel
	// partitions. Zero keeps appending until the size cap seals the file.
	// Override via config: continuous_period
	DefaultContinuousPeriod = 0 * time.Second
)

// =============================================================================
// Delivery Defaults
// =============================================================================

const (
	// DefaultDeliveryCapacity bounds the delivery buffer depth. When full,
	// the oldest entry is dropped and counted.
	// Override via config: delivery.capacity
	DefaultDeliveryCapacity = 4096

	// DefaultDeliveryPollInterval is the period of the drain loop that
	// forwards accumulated entries to the downstream client.
	// Override via config: delivery.poll_interval
	DefaultDeliveryPollInterval = 500 * time.Millisecond
)

// =============================================================================
// Rate Monitor Defaults
// =============================================================================

const (
	// DefaultRateInterval is the sampling period of the interface counter
	// monitor.
	// Override via config: rate_monitor.interval
	DefaultRateInterval = 2 * time.Second

	// DefaultRateInterface is the network interface sampled by the procfs
	// counter source.
	// Override via config: rate_monitor.interface
	DefaultRateInterface = "eth0"

	// DefaultSketchAccuracy is the DDSketch relative accuracy used for the
	// RMS and ingest-latency distributions (0.01 = 1% error).
	DefaultSketchAccuracy = 0.01
)

// =============================================================================
// Catalog Defaults
// =============================================================================

const (
	// DefaultCatalogFlushInterval is how often buffered block records are
	// flushed to a parquet catalog file.
	// Override via config: catalog.flush_interval
	DefaultCatalogFlushInterval = 30 * time.Second

	// DefaultCatalogFlushRows triggers a flush when this many block records
	// have accumulated, regardless of the interval.
	DefaultCatalogFlushRows = 10000
)
