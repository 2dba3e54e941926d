// Package ratemonitor samples cumulative network-interface counters on a
// fixed period and publishes throughput and loss gauges, plus DDSketch
// distributions of signal statistics reported by the consumers.
//
// The monitor is independent of the acquisition pipeline: it only reads
// shared counters through a CounterSource and never touches the persister.
package ratemonitor

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Counters is one snapshot of cumulative interface counters.
type Counters struct {
	BytesRecv   uint64
	PacketsRecv uint64
	PacketsDrop uint64
}

// CounterSource produces cumulative counter snapshots.
type CounterSource interface {
	Counters(ctx context.Context) (Counters, error)
}

// SourceFunc adapts a function to the CounterSource interface.
type SourceFunc func(ctx context.Context) (Counters, error)

// Counters implements CounterSource.
func (f SourceFunc) Counters(ctx context.Context) (Counters, error) { return f(ctx) }

// ProcNetSource reads cumulative counters for one interface from
// /proc/net/dev.
type ProcNetSource struct {
	Interface string

	// Path overrides the procfs location, for tests.
	Path string
}

// Counters implements CounterSource.
func (s *ProcNetSource) Counters(ctx context.Context) (Counters, error) {
	path := s.Path
	if path == "" {
		path = "/proc/net/dev"
	}

	f, err := os.Open(path)
	if err != nil {
		return Counters{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		name, rest, ok := strings.Cut(line, ":")
		if !ok || strings.TrimSpace(name) != s.Interface {
			continue
		}

		// Receive columns: bytes packets errs drop fifo frame compressed multicast
		fields := strings.Fields(rest)
		if len(fields) < 4 {
			return Counters{}, fmt.Errorf("short /proc/net/dev line for %s", s.Interface)
		}

		bytes, err := strconv.ParseUint(fields[0], 10, 64)
		if err != nil {
			return Counters{}, fmt.Errorf("parse bytes: %w", err)
		}
		packets, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return Counters{}, fmt.Errorf("parse packets: %w", err)
		}
		drops, err := strconv.ParseUint(fields[3], 10, 64)
		if err != nil {
			return Counters{}, fmt.Errorf("parse drops: %w", err)
		}

		return Counters{BytesRecv: bytes, PacketsRecv: packets, PacketsDrop: drops}, nil
	}
	if err := scanner.Err(); err != nil {
		return Counters{}, err
	}

	return Counters{}, fmt.Errorf("interface %s not found in %s", s.Interface, path)
}
