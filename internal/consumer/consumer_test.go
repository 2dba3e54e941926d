package consumer

import (
	"errors"
	"strings"
	"testing"

	"github.com/radiometric/daqstore/internal/capture"
	"github.com/radiometric/daqstore/internal/config"
	"github.com/radiometric/daqstore/internal/daq"
	"github.com/radiometric/daqstore/internal/delivery"
	derr "github.com/radiometric/daqstore/internal/errors"
	"github.com/radiometric/daqstore/internal/persister"
)

type fixture struct {
	cfg      *config.Config
	engine   *capture.Manual
	store    *persister.Store
	deliv    *delivery.Buffer
	dispatch *Dispatch
}

func newFixture(t *testing.T, mutate func(*config.Config)) *fixture {
	t.Helper()

	cfg := config.Default()
	cfg.Directory = t.TempDir()
	cfg.Modes = map[string]daq.Schema{
		"raw":           {Antennas: 2, Pols: 2, SamplesPerBlock: 4},
		"channel_integ": {Channels: 2, Antennas: 2, Pols: 2, SamplesPerBlock: 2},
		"correlation":   {Channels: 1, Antennas: 2, Stokes: 1, SamplesPerBlock: 1},
	}
	if mutate != nil {
		mutate(cfg)
	}

	store, err := persister.NewFromConfig(cfg)
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	engine := capture.NewManual()
	deliv := delivery.New(cfg.Delivery.Capacity)
	dispatch := New(cfg, engine, store, deliv, Options{})

	return &fixture{cfg: cfg, engine: engine, store: store, deliv: deliv, dispatch: dispatch}
}

// rawBuffer builds a group-major raw buffer where element (g, s) encodes
// both coordinates, so the sample-major transpose can be verified.
func rawBuffer(groups, samples int) []byte {
	out := make([]byte, groups*samples)
	for g := 0; g < groups; g++ {
		for s := 0; s < samples; s++ {
			out[g*samples+s] = byte(g*10 + s)
		}
	}
	return out
}

func TestStartStopLifecycle(t *testing.T) {
	f := newFixture(t, nil)

	handle, err := f.dispatch.Start(daq.ModeRawVoltage)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if handle.Mode() != daq.ModeRawVoltage {
		t.Fatalf("handle mode = %v", handle.Mode())
	}
	if !f.dispatch.Running(daq.ModeRawVoltage) {
		t.Fatal("consumer not running after Start")
	}
	if f.deliv.Status() != delivery.StatusListening {
		t.Fatalf("delivery status = %v, want listening", f.deliv.Status())
	}

	// A second Start is rejected and changes nothing.
	if _, err := f.dispatch.Start(daq.ModeRawVoltage); !errors.Is(err, derr.ErrConsumerRunning) {
		t.Fatalf("double Start: got %v, want ErrConsumerRunning", err)
	}
	if !f.dispatch.Running(daq.ModeRawVoltage) {
		t.Fatal("rejected Start stopped the consumer")
	}

	if err := handle.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if f.dispatch.Running(daq.ModeRawVoltage) {
		t.Fatal("consumer still running after Stop")
	}
	if f.deliv.Status() != delivery.StatusStopped {
		t.Fatalf("delivery status = %v, want stopped", f.deliv.Status())
	}

	// Stopping again is a no-op.
	if err := f.dispatch.Stop(daq.ModeRawVoltage); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}

func TestRawIngestAndTranspose(t *testing.T) {
	f := newFixture(t, nil)

	if _, err := f.dispatch.Start(daq.ModeRawVoltage); err != nil {
		t.Fatalf("Start: %v", err)
	}

	md := daq.VoltageMeta{Tile: 3, Packets: 42}
	if !f.engine.Deliver(daq.ModeRawVoltage, daq.Int8, rawBuffer(4, 4), 100.0, md) {
		t.Fatal("Deliver found no registered callback")
	}

	events := f.deliv.Drain()
	if len(events) != 1 {
		t.Fatalf("got %d delivery events, want 1", len(events))
	}
	ev := events[0]
	if ev.Mode != "raw" {
		t.Fatalf("event mode = %q, want raw", ev.Mode)
	}
	if !strings.Contains(ev.MetadataJSON, `"tile":3`) {
		t.Fatalf("event metadata missing tile: %s", ev.MetadataJSON)
	}
	if !strings.Contains(ev.MetadataJSON, `"partition_id":0`) {
		t.Fatalf("event metadata missing partition: %s", ev.MetadataJSON)
	}

	if err := f.dispatch.Stop(daq.ModeRawVoltage); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	// Reopen read-only and verify the persisted layout is sample-major.
	fs, err := persister.Open(f.cfg.Directory, daq.ModeRawVoltage, "t3")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	data, _, err := fs.Read(persister.Selector{Offset: 0, Count: 4})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	for s := 0; s < 4; s++ {
		for g := 0; g < 4; g++ {
			if got, want := data[s*4+g], byte(g*10+s); got != want {
				t.Fatalf("sample %d group %d = %d, want %d", s, g, got, want)
			}
		}
	}
}

func TestPendingEventsSurviveStop(t *testing.T) {
	f := newFixture(t, nil)

	if _, err := f.dispatch.Start(daq.ModeRawVoltage); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !f.engine.Deliver(daq.ModeRawVoltage, daq.Int8, rawBuffer(4, 4), 100.0, daq.VoltageMeta{}) {
		t.Fatal("Deliver found no registered callback")
	}

	// Stopping the last consumer must not discard the block notification
	// pushed since the last poll; the shutdown drain still forwards it.
	if err := f.dispatch.Stop(daq.ModeRawVoltage); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := f.deliv.Drain(); len(got) != 1 {
		t.Fatalf("drained %d events after Stop, want 1", len(got))
	}
}

func TestRMSGate(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		cfg.RawRMSThreshold = 50
	})

	if _, err := f.dispatch.Start(daq.ModeRawVoltage); err != nil {
		t.Fatalf("Start: %v", err)
	}
	md := daq.VoltageMeta{Tile: 0}

	// Constant value 10: every antenna/pol RMS is 10, below the threshold.
	quiet := make([]byte, 16)
	for i := range quiet {
		quiet[i] = 10
	}
	f.engine.Deliver(daq.ModeRawVoltage, daq.Int8, quiet, 100.0, md)
	if got := f.deliv.Drain(); got != nil {
		t.Fatalf("quiet buffer produced %d events, want drop", len(got))
	}

	// Constant value 100: RMS 100 clears the threshold on every stream.
	loud := make([]byte, 16)
	for i := range loud {
		loud[i] = 100
	}
	f.engine.Deliver(daq.ModeRawVoltage, daq.Int8, loud, 102.0, md)
	if got := f.deliv.Drain(); len(got) != 1 {
		t.Fatalf("loud buffer produced %d events, want 1", len(got))
	}
}

func TestRMSGateDisabledByDefault(t *testing.T) {
	f := newFixture(t, nil) // default threshold -1

	if _, err := f.dispatch.Start(daq.ModeRawVoltage); err != nil {
		t.Fatalf("Start: %v", err)
	}

	quiet := make([]byte, 16) // all zeros, RMS 0
	f.engine.Deliver(daq.ModeRawVoltage, daq.Int8, quiet, 100.0, daq.VoltageMeta{})
	if got := f.deliv.Drain(); len(got) != 1 {
		t.Fatalf("got %d events, want 1 with gate disabled", len(got))
	}
}

func TestWarmupDiscardPerTile(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config) {
		cfg.WarmupDiscard = 2
	})

	if _, err := f.dispatch.Start(daq.ModeIntegratedChannel); err != nil {
		t.Fatalf("Start: %v", err)
	}

	block := make([]byte, 2*2*2*2*2) // channels*antennas*pols*spb*uint16
	for i := 0; i < 3; i++ {
		f.engine.Deliver(daq.ModeIntegratedChannel, daq.Uint16, block, 100.0+float64(i),
			daq.ChannelMeta{Tile: 0})
	}
	if got := f.deliv.Drain(); len(got) != 1 {
		t.Fatalf("tile 0: %d events after 3 buffers, want 1", len(got))
	}

	// Tile 1 has its own warm-up counter: its first buffer is discarded
	// even though tile 0 already warmed up.
	f.engine.Deliver(daq.ModeIntegratedChannel, daq.Uint16, block, 110.0, daq.ChannelMeta{Tile: 1})
	if got := f.deliv.Drain(); got != nil {
		t.Fatalf("tile 1 first buffer produced %d events, want discard", len(got))
	}
}

func TestCorrelationReorderOnIngest(t *testing.T) {
	f := newFixture(t, nil)

	if _, err := f.dispatch.Start(daq.ModeCorrelation); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Native lower-triangular order: (0,0), (1,0), (1,1).
	native := encodeComplex64([]complex64{
		complex(1, 0),
		complex(2, 5),
		complex(3, 0),
	})
	md := daq.CorrelationMeta{Station: 0, Channel: 5, Baselines: 3, Stokes: 1}
	if !f.engine.Deliver(daq.ModeCorrelation, daq.Complex64, native, 100.0, md) {
		t.Fatal("Deliver found no registered callback")
	}
	if got := f.deliv.Drain(); len(got) != 1 {
		t.Fatalf("got %d events, want 1", len(got))
	}

	if err := f.dispatch.Stop(daq.ModeCorrelation); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	// Correlation FileSets are keyed by channel.
	fs, err := persister.Open(f.cfg.Directory, daq.ModeCorrelation, "ch5")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	data, _, err := fs.Read(persister.Selector{Offset: 0, Count: 1})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	got := decodeComplex64(data)
	want := []complex64{complex(1, 0), complex(2, -5), complex(3, 0)}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("matrix[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestBadBufferIsIsolated(t *testing.T) {
	f := newFixture(t, nil)

	if _, err := f.dispatch.Start(daq.ModeRawVoltage); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Wrong size: rejected, reported, and the consumer keeps running.
	f.engine.Deliver(daq.ModeRawVoltage, daq.Int8, make([]byte, 7), 100.0, daq.VoltageMeta{})
	if got := f.deliv.Drain(); got != nil {
		t.Fatalf("bad buffer produced %d events", len(got))
	}
	errs := f.deliv.DrainErrors()
	if len(errs) != 1 || !errors.Is(errs[0], derr.ErrSchemaMismatch) {
		t.Fatalf("error channel = %v, want one ErrSchemaMismatch", errs)
	}

	f.engine.Deliver(daq.ModeRawVoltage, daq.Int8, rawBuffer(4, 4), 101.0, daq.VoltageMeta{})
	if got := f.deliv.Drain(); len(got) != 1 {
		t.Fatalf("good buffer after failure produced %d events, want 1", len(got))
	}
}

func TestStopUnregistersCallback(t *testing.T) {
	f := newFixture(t, nil)

	if _, err := f.dispatch.Start(daq.ModeRawVoltage); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := f.dispatch.Stop(daq.ModeRawVoltage); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if f.engine.Deliver(daq.ModeRawVoltage, daq.Int8, rawBuffer(4, 4), 100.0, daq.VoltageMeta{}) {
		t.Fatal("engine still had a callback after Stop")
	}
}

func TestOnBufferWithoutConsumer(t *testing.T) {
	f := newFixture(t, nil)

	buf := daq.NewBuffer(daq.ModeRawVoltage, daq.Int8, rawBuffer(4, 4), 100.0, daq.VoltageMeta{})
	if f.dispatch.OnBuffer(buf) {
		t.Fatal("OnBuffer accepted a buffer for a stopped mode")
	}
}

func TestStopAll(t *testing.T) {
	f := newFixture(t, nil)

	for _, mode := range []daq.ProductMode{daq.ModeRawVoltage, daq.ModeIntegratedChannel} {
		if _, err := f.dispatch.Start(mode); err != nil {
			t.Fatalf("Start %s: %v", mode, err)
		}
	}
	if got := len(f.dispatch.Active()); got != 2 {
		t.Fatalf("Active() = %d modes, want 2", got)
	}

	if err := f.dispatch.StopAll(); err != nil {
		t.Fatalf("StopAll: %v", err)
	}
	if got := len(f.dispatch.Active()); got != 0 {
		t.Fatalf("Active() = %d modes after StopAll, want 0", got)
	}
}
