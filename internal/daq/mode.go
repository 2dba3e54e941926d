package daq

import (
	"fmt"

	derr "github.com/radiometric/daqstore/internal/errors"
)

// ProductMode identifies the telemetry product type of a delivered buffer.
// The mode selects the dataset schema, element dtype and admission policy.
type ProductMode int

const (
	// ModeRawVoltage stores unprocessed antenna voltages.
	ModeRawVoltage ProductMode = iota

	// ModeChannelized stores burst channelized voltages.
	ModeChannelized

	// ModeContinuousChannel stores a continuously streamed single channel.
	ModeContinuousChannel

	// ModeIntegratedChannel stores integrated channel power.
	ModeIntegratedChannel

	// ModeBeam stores burst tile beam data.
	ModeBeam

	// ModeIntegratedBeam stores integrated tile beam power.
	ModeIntegratedBeam

	// ModeStationBeam stores the integrated station beam.
	ModeStationBeam

	// ModeCorrelation stores correlation matrices (baselines x stokes).
	ModeCorrelation

	// ModeAntennaBuffer stores antenna buffer playback data.
	ModeAntennaBuffer
)

// String returns the canonical short name of the mode. The name is embedded
// in partition filenames and in delivery events.
func (m ProductMode) String() string {
	switch m {
	case ModeRawVoltage:
		return "raw"
	case ModeChannelized:
		return "channel"
	case ModeContinuousChannel:
		return "channel_cont"
	case ModeIntegratedChannel:
		return "channel_integ"
	case ModeBeam:
		return "beam"
	case ModeIntegratedBeam:
		return "beam_integ"
	case ModeStationBeam:
		return "station"
	case ModeCorrelation:
		return "correlation"
	case ModeAntennaBuffer:
		return "antenna_buffer"
	default:
		return fmt.Sprintf("unknown(%d)", int(m))
	}
}

// ParseMode parses a canonical mode name.
func ParseMode(s string) (ProductMode, error) {
	for _, m := range AllModes() {
		if m.String() == s {
			return m, nil
		}
	}
	return ModeRawVoltage, fmt.Errorf("%w: %q", derr.ErrInvalidMode, s)
}

// AllModes returns every product mode in declaration order.
func AllModes() []ProductMode {
	return []ProductMode{
		ModeRawVoltage,
		ModeChannelized,
		ModeContinuousChannel,
		ModeIntegratedChannel,
		ModeBeam,
		ModeIntegratedBeam,
		ModeStationBeam,
		ModeCorrelation,
		ModeAntennaBuffer,
	}
}

// DefaultDType returns the native element type the capture engine delivers
// for this mode.
func (m ProductMode) DefaultDType() DType {
	switch m {
	case ModeRawVoltage, ModeAntennaBuffer:
		return Int8
	case ModeChannelized:
		return CInt8
	case ModeContinuousChannel, ModeBeam:
		return CInt16
	case ModeIntegratedChannel:
		return Uint16
	case ModeIntegratedBeam:
		return Uint32
	case ModeStationBeam:
		return Float64
	case ModeCorrelation:
		return Complex64
	default:
		return Int8
	}
}

// RMSGated reports whether buffers of this mode are subject to the RMS
// admission threshold.
func (m ProductMode) RMSGated() bool {
	return m == ModeRawVoltage || m == ModeAntennaBuffer
}

// WarmupGated reports whether the first buffers of this mode's stream are
// discarded to avoid partial-acquisition artifacts.
func (m ProductMode) WarmupGated() bool {
	switch m {
	case ModeContinuousChannel, ModeIntegratedChannel, ModeStationBeam:
		return true
	default:
		return false
	}
}

// PerTile reports whether FileSets of this mode are keyed by tile.
// Station-level products use a single global key.
func (m ProductMode) PerTile() bool {
	switch m {
	case ModeStationBeam, ModeCorrelation:
		return false
	default:
		return true
	}
}
