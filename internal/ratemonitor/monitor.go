package ratemonitor

import (
	"context"
	"sync"
	"time"

	"github.com/radiometric/daqstore/internal/logging"
)

var log = logging.Component("ratemonitor")

// Rates holds the published throughput gauges.
type Rates struct {
	BytesPerSec   float64
	PacketsPerSec float64
	DropsPerSec   float64
	SampledAt     time.Time
}

// Monitor periodically samples a CounterSource and publishes delta rates.
// Stop ends the loop on its next iteration boundary; the loop is never
// preempted mid-sleep.
type Monitor struct {
	mu     sync.RWMutex
	source CounterSource
	rates  Rates

	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
	running  bool
}

// New creates a monitor over the given source.
func New(source CounterSource, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Monitor{source: source, interval: interval}
}

// Start launches the sampling loop. Starting a running monitor is a no-op.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}
	m.running = true

	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})

	go m.loop(ctx)
}

// Stop signals the loop and waits for it to finish its current iteration.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel, done := m.cancel, m.done
	m.mu.Unlock()

	cancel()
	<-done
}

// Rates returns the most recently published gauges.
func (m *Monitor) Rates() Rates {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rates
}

func (m *Monitor) loop(ctx context.Context) {
	defer close(m.done)

	prev, err := m.source.Counters(ctx)
	if err != nil {
		log.Warn("initial counter snapshot failed", "error", err)
	}
	prevAt := time.Now()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		cur, err := m.source.Counters(ctx)
		if err != nil {
			log.Warn("counter snapshot failed", "error", err)
			continue
		}
		now := time.Now()
		dt := now.Sub(prevAt).Seconds()
		if dt <= 0 {
			continue
		}

		rates := Rates{
			BytesPerSec:   deltaRate(prev.BytesRecv, cur.BytesRecv, dt),
			PacketsPerSec: deltaRate(prev.PacketsRecv, cur.PacketsRecv, dt),
			DropsPerSec:   deltaRate(prev.PacketsDrop, cur.PacketsDrop, dt),
			SampledAt:     now,
		}

		m.mu.Lock()
		m.rates = rates
		m.mu.Unlock()

		prev, prevAt = cur, now
	}
}

// deltaRate handles counter resets (reboot, wrap) by reporting zero for the
// affected interval instead of a huge negative delta.
func deltaRate(prev, cur uint64, dt float64) float64 {
	if cur < prev {
		return 0
	}
	return float64(cur-prev) / dt
}
