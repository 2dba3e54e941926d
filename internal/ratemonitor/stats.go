package ratemonitor

import (
	"sync"
	"time"

	"github.com/DataDog/sketches-go/ddsketch"

	"github.com/radiometric/daqstore/internal/daq"
)

// SignalStats aggregates per-buffer signal statistics reported by the
// consumers: RMS of admitted raw buffers and ingest latency. Distributions
// are kept per mode in DDSketches so percentiles stay cheap at high buffer
// rates. The registry is flat, keyed by ProductMode.
type SignalStats struct {
	mu       sync.Mutex
	accuracy float64
	rms      map[daq.ProductMode]*ddsketch.DDSketch
	latency  map[daq.ProductMode]*ddsketch.DDSketch
	clipped  map[daq.ProductMode]int64
}

// StatsSnapshot is one published view of a mode's distributions.
type StatsSnapshot struct {
	Mode         string
	RMSCount     int64
	RMSP50       float64
	RMSP95       float64
	RMSP99       float64
	LatencyP50   float64
	LatencyP95   float64
	LatencyP99   float64
	ClippedElems int64
}

// NewSignalStats creates the aggregator with the given DDSketch relative
// accuracy.
func NewSignalStats(accuracy float64) *SignalStats {
	if accuracy <= 0 {
		accuracy = 0.01
	}
	return &SignalStats{
		accuracy: accuracy,
		rms:      make(map[daq.ProductMode]*ddsketch.DDSketch),
		latency:  make(map[daq.ProductMode]*ddsketch.DDSketch),
		clipped:  make(map[daq.ProductMode]int64),
	}
}

func (s *SignalStats) sketch(m map[daq.ProductMode]*ddsketch.DDSketch, mode daq.ProductMode) *ddsketch.DDSketch {
	sk, ok := m[mode]
	if !ok {
		var err error
		sk, err = ddsketch.NewDefaultDDSketch(s.accuracy)
		if err != nil {
			return nil
		}
		m[mode] = sk
	}
	return sk
}

// RecordRMS records one per-buffer RMS value.
func (s *SignalStats) RecordRMS(mode daq.ProductMode, rms float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sk := s.sketch(s.rms, mode); sk != nil {
		sk.Add(rms)
	}
}

// RecordIngest records one ingest latency observation.
func (s *SignalStats) RecordIngest(mode daq.ProductMode, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sk := s.sketch(s.latency, mode); sk != nil {
		sk.Add(d.Seconds())
	}
}

// RecordClipped accumulates clipped element counts.
func (s *SignalStats) RecordClipped(mode daq.ProductMode, n int) {
	if n == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clipped[mode] += int64(n)
}

// Snapshot publishes per-mode distribution summaries.
func (s *SignalStats) Snapshot() []StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[daq.ProductMode]bool)
	for mode := range s.rms {
		seen[mode] = true
	}
	for mode := range s.latency {
		seen[mode] = true
	}
	for mode := range s.clipped {
		seen[mode] = true
	}

	var out []StatsSnapshot
	for _, mode := range daq.AllModes() {
		if !seen[mode] {
			continue
		}
		snap := StatsSnapshot{Mode: mode.String(), ClippedElems: s.clipped[mode]}
		if sk := s.rms[mode]; sk != nil {
			snap.RMSCount = int64(sk.GetCount())
			snap.RMSP50 = quantile(sk, 0.5)
			snap.RMSP95 = quantile(sk, 0.95)
			snap.RMSP99 = quantile(sk, 0.99)
		}
		if sk := s.latency[mode]; sk != nil {
			snap.LatencyP50 = quantile(sk, 0.5)
			snap.LatencyP95 = quantile(sk, 0.95)
			snap.LatencyP99 = quantile(sk, 0.99)
		}
		out = append(out, snap)
	}
	return out
}

func quantile(sk *ddsketch.DDSketch, q float64) float64 {
	v, err := sk.GetValueAtQuantile(q)
	if err != nil {
		return 0
	}
	return v
}
