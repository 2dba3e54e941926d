package daq

// ModeMetadata is the tagged metadata union attached to a delivered buffer.
// Each product mode has its own concrete type carrying exactly the fields
// that mode requires. All variants expose a source identifier (tile or
// station) and the capture engine's packet counter.
type ModeMetadata interface {
	// SourceID returns the tile or station id the buffer originates from.
	SourceID() int
	// PacketCount returns the number of network packets assembled into the
	// buffer.
	PacketCount() uint32

	modeMetadata()
}

// VoltageMeta describes raw voltage and antenna buffer deliveries.
type VoltageMeta struct {
	Tile       int    `json:"tile"`
	Packets    uint32 `json:"packets"`
	Saturation uint32 `json:"saturation"`
	Antennas   int    `json:"antennas"`
	Pols       int    `json:"pols"`
}

func (m VoltageMeta) SourceID() int       { return m.Tile }
func (m VoltageMeta) PacketCount() uint32 { return m.Packets }
func (m VoltageMeta) modeMetadata()       {}

// ChannelMeta describes channelized deliveries (burst, continuous and
// integrated).
type ChannelMeta struct {
	Tile       int    `json:"tile"`
	Channel    int    `json:"channel"`
	Packets    uint32 `json:"packets"`
	Saturation uint32 `json:"saturation"`
	Channels   int    `json:"channels"`
	Antennas   int    `json:"antennas"`
	Pols       int    `json:"pols"`
}

func (m ChannelMeta) SourceID() int       { return m.Tile }
func (m ChannelMeta) PacketCount() uint32 { return m.Packets }
func (m ChannelMeta) modeMetadata()       {}

// BeamMeta describes tile beam deliveries (burst and integrated).
type BeamMeta struct {
	Tile       int    `json:"tile"`
	Packets    uint32 `json:"packets"`
	Saturation uint32 `json:"saturation"`
	Channels   int    `json:"channels"`
	Pols       int    `json:"pols"`
}

func (m BeamMeta) SourceID() int       { return m.Tile }
func (m BeamMeta) PacketCount() uint32 { return m.Packets }
func (m BeamMeta) modeMetadata()       {}

// StationMeta describes integrated station beam deliveries.
type StationMeta struct {
	Station    int    `json:"station"`
	Packets    uint32 `json:"packets"`
	Saturation uint32 `json:"saturation"`
	Channels   int    `json:"channels"`
	Pols       int    `json:"pols"`
}

func (m StationMeta) SourceID() int       { return m.Station }
func (m StationMeta) PacketCount() uint32 { return m.Packets }
func (m StationMeta) modeMetadata()       {}

// CorrelationMeta describes correlation matrix deliveries.
type CorrelationMeta struct {
	Station   int    `json:"station"`
	Channel   int    `json:"channel"`
	Packets   uint32 `json:"packets"`
	Baselines int    `json:"baselines"`
	Stokes    int    `json:"stokes"`
}

func (m CorrelationMeta) SourceID() int       { return m.Station }
func (m CorrelationMeta) PacketCount() uint32 { return m.Packets }
func (m CorrelationMeta) modeMetadata()       {}
