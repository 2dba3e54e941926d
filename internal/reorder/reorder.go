// Package reorder converts correlation matrices from the capture engine's
// native baseline ordering into canonical ordering.
//
// The correlator emits one value per (antenna pair, stokes product) in
// lower-triangular scan order: pairs (i, j) with 0 <= j <= i < A, row-major
// by i, each value conjugated relative to the canonical convention. Readers
// expect canonical upper-triangular order: pairs (i, j) with 0 <= i <= j < A.
//
// The engine conjugates every element, scatters the input through an
// A x A x S grid and gathers it back out in canonical order. The mapping is
// a bijection: every used grid cell is written exactly once and read exactly
// once per matrix.
package reorder

import (
	"fmt"

	derr "github.com/radiometric/daqstore/internal/errors"
)

// Engine reorders correlation matrices for a fixed antenna and stokes
// count. The scatter grid is allocated once and reused across buffers; an
// Engine is not safe for concurrent use.
type Engine struct {
	antennas  int
	stokes    int
	baselines int
	grid      []complex64
}

// New creates a reorder engine for the given antenna and stokes counts.
func New(antennas, stokes int) (*Engine, error) {
	if antennas <= 0 || stokes <= 0 {
		return nil, fmt.Errorf("%w: antennas=%d stokes=%d", derr.ErrInvalidConfig, antennas, stokes)
	}
	return &Engine{
		antennas:  antennas,
		stokes:    stokes,
		baselines: antennas * (antennas + 1) / 2,
		grid:      make([]complex64, antennas*antennas*stokes),
	}, nil
}

// Baselines returns the number of baselines per channel.
func (e *Engine) Baselines() int { return e.baselines }

// Reorder converts one complete baselines x stokes matrix in place of the
// output slice. in and out must both hold exactly Baselines()*stokes
// elements; in is not modified, and in == out is not supported.
func (e *Engine) Reorder(in, out []complex64) error {
	want := e.baselines * e.stokes
	if len(in) != want {
		return fmt.Errorf("%w: got %d elements, want %d", derr.ErrReorderCount, len(in), want)
	}
	if len(out) != want {
		return fmt.Errorf("%w: output holds %d elements, want %d", derr.ErrReorderCount, len(out), want)
	}

	a, s := e.antennas, e.stokes

	// Scatter: walk the native lower-triangular input order, conjugating
	// into grid cell [j, i, :] for each consumed pair (i, j), j <= i.
	src := 0
	for i := 0; i < a; i++ {
		for j := 0; j <= i; j++ {
			dst := (j*a + i) * s
			for k := 0; k < s; k++ {
				v := in[src]
				e.grid[dst+k] = complex(real(v), -imag(v))
				src++
			}
		}
	}

	// Gather: canonical upper-triangular order (i, j), i <= j.
	dst := 0
	for i := 0; i < a; i++ {
		for j := i; j < a; j++ {
			cell := (i*a + j) * s
			copy(out[dst:dst+s], e.grid[cell:cell+s])
			dst += s
		}
	}

	return nil
}

// ReorderChannels applies Reorder to every channel of a flat
// channels x baselines x stokes buffer.
func (e *Engine) ReorderChannels(channels int, in, out []complex64) error {
	per := e.baselines * e.stokes
	if len(in) != channels*per {
		return fmt.Errorf("%w: got %d elements, want %d", derr.ErrReorderCount, len(in), channels*per)
	}
	if len(out) != len(in) {
		return fmt.Errorf("%w: output holds %d elements, want %d", derr.ErrReorderCount, len(out), len(in))
	}
	for c := 0; c < channels; c++ {
		if err := e.Reorder(in[c*per:(c+1)*per], out[c*per:(c+1)*per]); err != nil {
			return err
		}
	}
	return nil
}
