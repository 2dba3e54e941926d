// Package consumer dispatches delivered buffers to the storage engine.
//
// One consumer per product mode: starting a mode registers a callback with
// the capture engine, and every delivered buffer then flows through the
// mode's admission policy (RMS gate, warm-up discard), its transform
// (sample-major reshape, correlation reorder) and one Ingest call. A
// failing buffer is logged and reported on the delivery error channel; the
// consumer keeps running.
package consumer

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/radiometric/daqstore/internal/capture"
	"github.com/radiometric/daqstore/internal/catalog"
	"github.com/radiometric/daqstore/internal/config"
	"github.com/radiometric/daqstore/internal/daq"
	"github.com/radiometric/daqstore/internal/delivery"
	derr "github.com/radiometric/daqstore/internal/errors"
	"github.com/radiometric/daqstore/internal/logging"
	"github.com/radiometric/daqstore/internal/persister"
	"github.com/radiometric/daqstore/internal/ratemonitor"
	"github.com/radiometric/daqstore/internal/reorder"
)

var log = logging.Component("consumer")

// Options carries the optional collaborators of a Dispatch.
type Options struct {
	// Stats, when set, receives per-buffer RMS, latency and clip counts.
	Stats *ratemonitor.SignalStats

	// Catalog, when set, records one row per persisted block.
	Catalog *catalog.Writer
}

// Dispatch owns the per-mode consumers. Start and Stop are serialized;
// buffer processing runs on the capture engine's delivery threads, one
// stream per mode.
type Dispatch struct {
	mu     sync.Mutex
	cfg    *config.Config
	engine capture.Engine
	store  *persister.Store
	deliv  *delivery.Buffer
	stats  *ratemonitor.SignalStats
	cat    *catalog.Writer

	states map[daq.ProductMode]*consumerState
}

// consumerState is the running state of one mode's consumer.
type consumerState struct {
	mu sync.Mutex

	mode   daq.ProductMode
	schema daq.Schema
	handle capture.Handle

	// reorder is set for the correlation mode only. Deliveries for one mode
	// arrive on a single engine thread, so the engine's scratch grid needs
	// no further locking.
	reorder *reorder.Engine

	// warmupSeen counts deliveries per source id for warm-up gated modes.
	warmupSeen map[int]int

	// partStart tracks, per fileset key, when the current partition was
	// started. Used for the periodic re-seal of continuous products.
	partStart map[string]time.Time

	inflight sync.WaitGroup
	stopped  bool
}

// New creates a dispatcher over the given capture engine and store.
func New(cfg *config.Config, engine capture.Engine, store *persister.Store, deliv *delivery.Buffer, opts Options) *Dispatch {
	return &Dispatch{
		cfg:    cfg,
		engine: engine,
		store:  store,
		deliv:  deliv,
		stats:  opts.Stats,
		cat:    opts.Catalog,
		states: make(map[daq.ProductMode]*consumerState),
	}
}

// Consumer is the handle returned by Start for one running mode.
type Consumer struct {
	d    *Dispatch
	mode daq.ProductMode
}

// Mode returns the product mode the handle controls.
func (c *Consumer) Mode() daq.ProductMode { return c.mode }

// Stop stops the mode's consumer, equivalent to Dispatch.Stop.
func (c *Consumer) Stop() error { return c.d.Stop(c.mode) }

// Start launches the consumer for one mode. Starting an already-running
// mode is rejected with a consumer state error and changes nothing.
func (d *Dispatch) Start(mode daq.ProductMode) (*Consumer, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.states[mode]; ok {
		log.Info("start rejected, consumer already running", "mode", mode.String())
		return nil, fmt.Errorf("%w: %s", derr.ErrConsumerRunning, mode)
	}

	schema := d.cfg.ModeSchema(mode)
	if err := schema.Validate(mode); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", derr.ErrInvalidConfig, mode, err)
	}

	st := &consumerState{
		mode:       mode,
		schema:     schema,
		warmupSeen: make(map[int]int),
		partStart:  make(map[string]time.Time),
	}

	if mode == daq.ModeCorrelation {
		eng, err := reorder.New(schema.Antennas, schema.Stokes)
		if err != nil {
			return nil, err
		}
		if eng.Baselines() != schema.Baselines {
			return nil, fmt.Errorf("%w: %d baselines configured, %d derived from %d antennas",
				derr.ErrInvalidConfig, schema.Baselines, eng.Baselines(), schema.Antennas)
		}
		st.reorder = eng
	}

	handle, err := d.engine.Register(capture.RegistrationConfig{
		Mode:   mode,
		DType:  schema.DType,
		Schema: schema,
	}, func(buf daq.Buffer) {
		d.process(st, buf)
	})
	if err != nil {
		return nil, fmt.Errorf("register %s consumer: %w", mode, err)
	}
	st.handle = handle

	d.states[mode] = st
	if len(d.states) == 1 {
		d.deliv.Start()
	}

	log.Info("consumer started", "mode", mode.String(),
		"samples_per_block", schema.SamplesPerBlock, "dtype", schema.DType.String())
	return &Consumer{d: d, mode: mode}, nil
}

// Stop stops one mode's consumer: no further deliveries are accepted,
// in-flight ingests finish, and the mode's FileSets are sealed. Stopping a
// mode that is not running is a no-op.
func (d *Dispatch) Stop(mode daq.ProductMode) error {
	d.mu.Lock()
	st, ok := d.states[mode]
	if !ok {
		d.mu.Unlock()
		log.Info("stop ignored, consumer not running", "mode", mode.String())
		return nil
	}
	delete(d.states, mode)
	last := len(d.states) == 0
	d.mu.Unlock()

	st.mu.Lock()
	st.stopped = true
	st.mu.Unlock()

	if err := st.handle.Unregister(); err != nil {
		log.Warn("unregister failed", "mode", mode.String(), "error", err)
	}
	st.inflight.Wait()

	err := d.store.CloseMode(mode)
	if last {
		d.deliv.Stop()
	}

	log.Info("consumer stopped", "mode", mode.String())
	return err
}

// StopAll stops every running consumer.
func (d *Dispatch) StopAll() error {
	d.mu.Lock()
	modes := make([]daq.ProductMode, 0, len(d.states))
	for mode := range d.states {
		modes = append(modes, mode)
	}
	d.mu.Unlock()

	var first error
	for _, mode := range modes {
		if err := d.Stop(mode); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Running reports whether the mode's consumer is active.
func (d *Dispatch) Running(mode daq.ProductMode) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.states[mode]
	return ok
}

// Active returns the running modes in declaration order.
func (d *Dispatch) Active() []daq.ProductMode {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []daq.ProductMode
	for _, mode := range daq.AllModes() {
		if _, ok := d.states[mode]; ok {
			out = append(out, mode)
		}
	}
	return out
}

// OnBuffer feeds one buffer directly into a running consumer, bypassing the
// capture engine. Used by file replay and tests. Buffers for modes without
// a running consumer are dropped.
func (d *Dispatch) OnBuffer(buf daq.Buffer) bool {
	d.mu.Lock()
	st, ok := d.states[buf.Mode]
	d.mu.Unlock()

	if !ok {
		return false
	}
	d.process(st, buf)
	return true
}

// process runs one buffer through admission, transform and ingest. Errors
// never stop the consumer: they are logged, counted and surfaced on the
// delivery error channel.
func (d *Dispatch) process(st *consumerState, buf daq.Buffer) {
	st.mu.Lock()
	if st.stopped {
		st.mu.Unlock()
		return
	}
	st.inflight.Add(1)
	st.mu.Unlock()
	defer st.inflight.Done()

	started := time.Now()
	mode, schema := st.mode, st.schema

	expected := schema.ElemsPerSample(mode) * schema.SamplesPerBlock * schema.DType.Size()
	if len(buf.Data) != expected {
		err := fmt.Errorf("%w: %s buffer holds %d elements (%d bytes), schema wants %d bytes",
			derr.ErrSchemaMismatch, mode, buf.Elements(), len(buf.Data), expected)
		d.fail(mode, err)
		return
	}

	src := 0
	if buf.Metadata != nil {
		src = buf.Metadata.SourceID()
	}

	// Warm-up discard: the first buffers of a continuous stream carry
	// partial-integration artifacts and are dropped per source. Station-level
	// products are a single stream and share one counter.
	if mode.WarmupGated() && d.cfg.WarmupDiscard > 0 {
		warmKey := 0
		if mode.PerTile() {
			warmKey = src
		}
		st.mu.Lock()
		st.warmupSeen[warmKey]++
		n := st.warmupSeen[warmKey]
		st.mu.Unlock()
		if n <= d.cfg.WarmupDiscard {
			log.Debug("warm-up buffer discarded", "mode", mode.String(), "source", src, "seen", n)
			return
		}
	}

	clipped := schema.DType.CountClipped(buf.Data)

	// RMS gate: admit a raw buffer only if at least one antenna/pol stream
	// rises above the threshold. Threshold -1 disables the gate.
	if mode.RMSGated() && d.cfg.RawRMSThreshold > -1 {
		groups := schema.Antennas * schema.Pols
		rms := rmsPerGroup(buf.Data, groups, schema.SamplesPerBlock)
		if !anyAbove(rms, d.cfg.RawRMSThreshold) {
			log.Debug("buffer below RMS threshold, dropped",
				"mode", mode.String(), "source", src, "rms_max", maxOf(rms))
			return
		}
		if d.stats != nil {
			d.stats.RecordRMS(mode, maxOf(rms))
		}
	}

	data, err := d.transform(st, buf)
	if err != nil {
		d.fail(mode, err)
		return
	}

	key := fileSetKey(mode, src, buf.Metadata)
	appendBlock := d.appendPolicy(st, key, started)

	fs, err := d.store.Configure(mode, key, schema)
	if err != nil {
		d.fail(mode, err)
		return
	}

	res, err := fs.Ingest(data, buf.Timestamp, buf.SampleTimestamps, appendBlock)
	if err != nil {
		d.fail(mode, err)
		return
	}

	elapsed := time.Since(started)
	d.deliv.Push(delivery.Event{
		Mode:         mode.String(),
		Filename:     res.Filename,
		MetadataJSON: blockMetaJSON(buf, res, clipped),
	})

	if d.stats != nil {
		d.stats.RecordIngest(mode, elapsed)
		d.stats.RecordClipped(mode, clipped)
	}
	if d.cat != nil {
		rec := catalog.BlockRecord{
			Mode:        mode.String(),
			Key:         key,
			Tile:        int32(src),
			PartitionID: int32(res.PartitionID),
			Offset:      res.Offset,
			TimestampMs: int64(buf.Timestamp * 1000),
			Filename:    res.Filename,
			Clipped:     int64(clipped),
			IngestMs:    float64(elapsed.Microseconds()) / 1000,
		}
		if buf.Metadata != nil {
			rec.Packets = int64(buf.Metadata.PacketCount())
			rec.Saturation = int64(saturationOf(buf.Metadata))
		}
		if err := d.cat.Record(rec); err != nil {
			log.Warn("catalog record failed", "mode", mode.String(), "error", err)
		}
	}
}

// fail logs one buffer failure and surfaces it downstream.
func (d *Dispatch) fail(mode daq.ProductMode, err error) {
	log.Error("buffer dropped", "mode", mode.String(), "error", err)
	d.deliv.PushError(err)
}

// transform converts the delivered span into the persisted layout. For the
// correlation mode every matrix is reordered into canonical baseline order;
// every other mode is transposed from group-major to sample-major.
func (d *Dispatch) transform(st *consumerState, buf daq.Buffer) ([]byte, error) {
	schema := st.schema

	if st.mode != daq.ModeCorrelation {
		groups := schema.ElemsPerSample(st.mode)
		return sampleMajor(buf.Data, groups, schema.SamplesPerBlock, schema.DType.Size()), nil
	}

	per := schema.Channels * schema.Baselines * schema.Stokes
	in := decodeComplex64(buf.Data)
	out := make([]complex64, len(in))
	for s := 0; s < schema.SamplesPerBlock; s++ {
		if err := st.reorder.ReorderChannels(schema.Channels, in[s*per:(s+1)*per], out[s*per:(s+1)*per]); err != nil {
			return nil, err
		}
	}
	return encodeComplex64(out), nil
}

// appendPolicy decides whether this block appends to the current partition.
// Integrated products follow the configured append/overwrite policy; the
// continuous channel product is re-sealed on a fixed period.
func (d *Dispatch) appendPolicy(st *consumerState, key string, now time.Time) bool {
	switch st.mode {
	case daq.ModeIntegratedChannel, daq.ModeIntegratedBeam, daq.ModeStationBeam:
		return d.cfg.AppendIntegrated
	case daq.ModeContinuousChannel:
		if d.cfg.ContinuousPeriod <= 0 {
			return true
		}
		st.mu.Lock()
		defer st.mu.Unlock()
		start, ok := st.partStart[key]
		if !ok {
			// First block for this key goes into a fresh partition anyway;
			// just start the clock.
			st.partStart[key] = now
			return true
		}
		if now.Sub(start) >= d.cfg.ContinuousPeriod {
			st.partStart[key] = now
			return false
		}
		return true
	default:
		return true
	}
}

// fileSetKey derives the dataset key: tile products key by tile, station
// products by station, correlation products by channel.
func fileSetKey(mode daq.ProductMode, src int, md daq.ModeMetadata) string {
	switch mode {
	case daq.ModeCorrelation:
		if cm, ok := md.(daq.CorrelationMeta); ok {
			return fmt.Sprintf("ch%d", cm.Channel)
		}
		return "ch0"
	case daq.ModeStationBeam:
		return fmt.Sprintf("st%d", src)
	default:
		return fmt.Sprintf("t%d", src)
	}
}

// saturationOf extracts the capture engine's saturation counter where the
// mode's metadata carries one.
func saturationOf(md daq.ModeMetadata) uint32 {
	switch m := md.(type) {
	case daq.VoltageMeta:
		return m.Saturation
	case daq.ChannelMeta:
		return m.Saturation
	case daq.BeamMeta:
		return m.Saturation
	case daq.StationMeta:
		return m.Saturation
	default:
		return 0
	}
}

// blockMeta is the delivery event payload describing one persisted block.
type blockMeta struct {
	Mode        string           `json:"mode"`
	Timestamp   float64          `json:"timestamp"`
	PartitionID int              `json:"partition_id"`
	Offset      int64            `json:"offset"`
	Clipped     int              `json:"clipped"`
	Metadata    daq.ModeMetadata `json:"metadata,omitempty"`
}

func blockMetaJSON(buf daq.Buffer, res persister.IngestResult, clipped int) string {
	js, err := json.Marshal(blockMeta{
		Mode:        buf.Mode.String(),
		Timestamp:   buf.Timestamp,
		PartitionID: res.PartitionID,
		Offset:      res.Offset,
		Clipped:     clipped,
		Metadata:    buf.Metadata,
	})
	if err != nil {
		return "{}"
	}
	return string(js)
}

// decodeComplex64 reads little-endian float32 pairs.
func decodeComplex64(data []byte) []complex64 {
	out := make([]complex64, len(data)/8)
	for i := range out {
		re := math.Float32frombits(binary.LittleEndian.Uint32(data[i*8:]))
		im := math.Float32frombits(binary.LittleEndian.Uint32(data[i*8+4:]))
		out[i] = complex(re, im)
	}
	return out
}

// encodeComplex64 writes little-endian float32 pairs.
func encodeComplex64(values []complex64) []byte {
	out := make([]byte, len(values)*8)
	for i, v := range values {
		binary.LittleEndian.PutUint32(out[i*8:], math.Float32bits(real(v)))
		binary.LittleEndian.PutUint32(out[i*8+4:], math.Float32bits(imag(v)))
	}
	return out
}
