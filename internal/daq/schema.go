package daq

import "fmt"

// Schema holds the fixed dimension counts of a FileSet. All counts are set
// at first-write time and must not change for the lifetime of the FileSet.
type Schema struct {
	Channels        int     `json:"channels" yaml:"channels"`
	Antennas        int     `json:"antennas" yaml:"antennas"`
	Pols            int     `json:"pols" yaml:"pols"`
	SamplesPerBlock int     `json:"samples_per_block" yaml:"samples_per_block"`
	Baselines       int     `json:"baselines,omitempty" yaml:"baselines"`
	Stokes          int     `json:"stokes,omitempty" yaml:"stokes"`
	DType           DType   `json:"dtype" yaml:"-"`
	SamplingInterval float64 `json:"sampling_interval" yaml:"sampling_interval"`
}

// BaselineCount returns the number of baselines for an antenna count,
// including autocorrelations.
func BaselineCount(antennas int) int {
	return antennas * (antennas + 1) / 2
}

// ElemsPerSample returns the number of dtype elements making up one logical
// sample of the given mode. The sample axis itself is excluded.
func (s Schema) ElemsPerSample(mode ProductMode) int {
	switch mode {
	case ModeRawVoltage, ModeAntennaBuffer:
		return s.Antennas * s.Pols
	case ModeChannelized, ModeContinuousChannel, ModeIntegratedChannel:
		return s.Channels * s.Antennas * s.Pols
	case ModeBeam, ModeIntegratedBeam:
		return s.Channels * s.Pols
	case ModeStationBeam:
		return s.Channels * s.Pols
	case ModeCorrelation:
		return s.Channels * s.Baselines * s.Stokes
	default:
		return 0
	}
}

// Validate checks the schema against the requirements of the given mode.
func (s Schema) Validate(mode ProductMode) error {
	if s.SamplesPerBlock <= 0 {
		return fmt.Errorf("samples_per_block must be positive, got %d", s.SamplesPerBlock)
	}
	switch mode {
	case ModeRawVoltage, ModeAntennaBuffer:
		if s.Antennas <= 0 || s.Pols <= 0 {
			return fmt.Errorf("%s requires antennas and pols, got %d/%d", mode, s.Antennas, s.Pols)
		}
	case ModeChannelized, ModeContinuousChannel, ModeIntegratedChannel:
		if s.Channels <= 0 || s.Antennas <= 0 || s.Pols <= 0 {
			return fmt.Errorf("%s requires channels, antennas and pols, got %d/%d/%d",
				mode, s.Channels, s.Antennas, s.Pols)
		}
	case ModeBeam, ModeIntegratedBeam, ModeStationBeam:
		if s.Channels <= 0 || s.Pols <= 0 {
			return fmt.Errorf("%s requires channels and pols, got %d/%d", mode, s.Channels, s.Pols)
		}
	case ModeCorrelation:
		if s.Channels <= 0 || s.Baselines <= 0 || s.Stokes <= 0 {
			return fmt.Errorf("%s requires channels, baselines and stokes, got %d/%d/%d",
				mode, s.Channels, s.Baselines, s.Stokes)
		}
	default:
		return fmt.Errorf("unknown mode %d", int(mode))
	}
	return nil
}
