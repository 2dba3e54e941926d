package ratemonitor

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/radiometric/daqstore/internal/daq"
	daqtest "github.com/radiometric/daqstore/internal/testing"
)

// stepSource returns a canned sequence of counter snapshots.
type stepSource struct {
	mu    sync.Mutex
	steps []Counters
	i     int
}

func (s *stepSource) Counters(ctx context.Context) (Counters, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.steps[s.i]
	if s.i < len(s.steps)-1 {
		s.i++
	}
	return c, nil
}

func TestMonitorPublishesDeltaRates(t *testing.T) {
	src := &stepSource{steps: []Counters{
		{BytesRecv: 0, PacketsRecv: 0, PacketsDrop: 0},
		{BytesRecv: 1_000_000, PacketsRecv: 1000, PacketsDrop: 5},
		{BytesRecv: 2_000_000, PacketsRecv: 2000, PacketsDrop: 5},
	}}

	m := New(src, 20*time.Millisecond)
	m.Start(context.Background())
	defer m.Stop()

	err := daqtest.Eventually(2*time.Second, 5*time.Millisecond, func() bool {
		return m.Rates().BytesPerSec > 0
	})
	if err != nil {
		t.Fatal(err)
	}

	r := m.Rates()
	if r.BytesPerSec <= 0 || r.PacketsPerSec <= 0 {
		t.Fatalf("rates not positive: %+v", r)
	}
	if r.SampledAt.IsZero() {
		t.Fatal("SampledAt not set")
	}
}

func TestDeltaRateHandlesCounterReset(t *testing.T) {
	// A counter going backwards (reboot, wrap) reports zero, not a huge
	// negative rate.
	if got := deltaRate(1000, 10, 1.0); got != 0 {
		t.Fatalf("deltaRate after reset = %f, want 0", got)
	}
	if got := deltaRate(10, 1010, 2.0); got != 500 {
		t.Fatalf("deltaRate = %f, want 500", got)
	}
}

func TestMonitorStartStopIdempotent(t *testing.T) {
	src := &stepSource{steps: []Counters{{}}}
	m := New(src, 10*time.Millisecond)

	m.Stop() // not running: no-op
	m.Start(context.Background())
	m.Start(context.Background()) // already running: no-op
	m.Stop()
	m.Stop()
}

func TestProcNetSourceParsing(t *testing.T) {
	content := `Inter-|   Receive                                                |  Transmit
 face |bytes    packets errs drop fifo frame compressed multicast|bytes    packets errs drop fifo colls carrier compressed
    lo:  123456     789    0    0    0     0          0         0   123456     789    0    0    0     0       0          0
  eth0: 98765432   54321    2    7    0     0          0         0        0       0    0    0    0     0       0          0
`
	path := filepath.Join(t.TempDir(), "net_dev")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	src := &ProcNetSource{Interface: "eth0", Path: path}
	c, err := src.Counters(context.Background())
	if err != nil {
		t.Fatalf("Counters: %v", err)
	}
	if c.BytesRecv != 98765432 || c.PacketsRecv != 54321 || c.PacketsDrop != 7 {
		t.Fatalf("parsed %+v", c)
	}

	missing := &ProcNetSource{Interface: "eth9", Path: path}
	if _, err := missing.Counters(context.Background()); err == nil {
		t.Fatal("missing interface accepted")
	}
}

func TestSignalStatsSnapshot(t *testing.T) {
	s := NewSignalStats(0.01)

	for i := 1; i <= 100; i++ {
		s.RecordRMS(daq.ModeRawVoltage, float64(i))
	}
	s.RecordIngest(daq.ModeRawVoltage, 10*time.Millisecond)
	s.RecordClipped(daq.ModeRawVoltage, 7)
	s.RecordClipped(daq.ModeRawVoltage, 0) // ignored

	snaps := s.Snapshot()
	if len(snaps) != 1 {
		t.Fatalf("got %d snapshots, want 1", len(snaps))
	}
	snap := snaps[0]
	if snap.Mode != "raw" {
		t.Fatalf("snapshot mode = %q, want raw", snap.Mode)
	}
	if snap.RMSCount != 100 {
		t.Fatalf("RMSCount = %d, want 100", snap.RMSCount)
	}
	// DDSketch guarantees 1% relative accuracy.
	if snap.RMSP50 < 45 || snap.RMSP50 > 55 {
		t.Fatalf("RMSP50 = %f, want about 50", snap.RMSP50)
	}
	if snap.RMSP99 < 94 || snap.RMSP99 > 101 {
		t.Fatalf("RMSP99 = %f, want about 99", snap.RMSP99)
	}
	if snap.ClippedElems != 7 {
		t.Fatalf("ClippedElems = %d, want 7", snap.ClippedElems)
	}
	if snap.LatencyP50 <= 0 {
		t.Fatalf("LatencyP50 = %f, want positive", snap.LatencyP50)
	}
}

func TestSignalStatsPerModeIsolation(t *testing.T) {
	s := NewSignalStats(0.01)
	s.RecordRMS(daq.ModeRawVoltage, 10)
	s.RecordClipped(daq.ModeAntennaBuffer, 3)

	snaps := s.Snapshot()
	if len(snaps) != 2 {
		t.Fatalf("got %d snapshots, want 2", len(snaps))
	}
	// Snapshot order follows mode declaration order.
	if snaps[0].Mode != "raw" || snaps[1].Mode != "antenna_buffer" {
		t.Fatalf("snapshot order: %s, %s", snaps[0].Mode, snaps[1].Mode)
	}
	if snaps[1].RMSCount != 0 || snaps[1].ClippedElems != 3 {
		t.Fatalf("antenna_buffer snapshot: %+v", snaps[1])
	}
}
