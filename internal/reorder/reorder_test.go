package reorder

import (
	"errors"
	"testing"

	derr "github.com/radiometric/daqstore/internal/errors"
)

func TestReorderTwoAntennas(t *testing.T) {
	// A=2, S=1. Native lower-triangular order delivers (0,0), (1,0), (1,1);
	// canonical upper-triangular order is (0,0), (0,1), (1,1). The cross
	// term moves to the middle and is conjugated.
	eng, err := New(2, 1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if eng.Baselines() != 3 {
		t.Fatalf("Baselines() = %d, want 3", eng.Baselines())
	}

	in := []complex64{
		complex(1, 0), // (0,0) autocorrelation
		complex(2, 5), // (1,0) cross term
		complex(3, 0), // (1,1) autocorrelation
	}
	out := make([]complex64, 3)
	if err := eng.Reorder(in, out); err != nil {
		t.Fatalf("Reorder: %v", err)
	}

	want := []complex64{
		complex(1, 0),  // (0,0)
		complex(2, -5), // (0,1) = conj of native (1,0)
		complex(3, 0),  // (1,1)
	}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("out[%d] = %v, want %v", i, out[i], want[i])
		}
	}
}

func TestReorderIsBijective(t *testing.T) {
	// Every input element must land in the output exactly once, for a
	// larger matrix with multiple stokes products.
	const antennas, stokes = 4, 2
	eng, err := New(antennas, stokes)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	n := eng.Baselines() * stokes
	in := make([]complex64, n)
	for i := range in {
		in[i] = complex(float32(i), float32(i)+0.5)
	}
	out := make([]complex64, n)
	if err := eng.Reorder(in, out); err != nil {
		t.Fatalf("Reorder: %v", err)
	}

	seen := make(map[float32]int, n)
	for _, v := range out {
		seen[real(v)]++
		if imag(v) != -(real(v) + 0.5) {
			t.Fatalf("element %v not conjugated", v)
		}
	}
	for i := 0; i < n; i++ {
		if seen[float32(i)] != 1 {
			t.Fatalf("input element %d appears %d times in output", i, seen[float32(i)])
		}
	}
}

func TestReorderAutocorrelationsStayPut(t *testing.T) {
	// Autocorrelation (i,i) occupies the same baseline index in both
	// orderings when the matrix is walked in order.
	const antennas = 3
	eng, err := New(antennas, 1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	in := make([]complex64, eng.Baselines())
	// Native lower-triangular index of (i,i) is i*(i+1)/2 + i.
	for i := 0; i < antennas; i++ {
		in[i*(i+1)/2+i] = complex(float32(100+i), 0)
	}
	out := make([]complex64, eng.Baselines())
	if err := eng.Reorder(in, out); err != nil {
		t.Fatalf("Reorder: %v", err)
	}

	// Canonical upper-triangular index of (i,i): rows above contribute
	// (antennas - r) entries each.
	idx := 0
	for i := 0; i < antennas; i++ {
		if got := out[idx]; got != complex(float32(100+i), 0) {
			t.Fatalf("autocorrelation %d = %v", i, got)
		}
		idx += antennas - i
	}
}

func TestReorderChannels(t *testing.T) {
	const antennas, stokes, channels = 2, 2, 3
	eng, err := New(antennas, stokes)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	per := eng.Baselines() * stokes
	in := make([]complex64, channels*per)
	for c := 0; c < channels; c++ {
		for i := 0; i < per; i++ {
			in[c*per+i] = complex(float32(c*1000+i), 0)
		}
	}
	out := make([]complex64, len(in))
	if err := eng.ReorderChannels(channels, in, out); err != nil {
		t.Fatalf("ReorderChannels: %v", err)
	}

	// Channels never mix: every output element keeps its channel tag.
	for c := 0; c < channels; c++ {
		for i := 0; i < per; i++ {
			v := int(real(out[c*per+i]))
			if v/1000 != c {
				t.Fatalf("channel %d slot %d holds element %d from channel %d", c, i, v, v/1000)
			}
		}
	}
}

func TestReorderCountMismatch(t *testing.T) {
	eng, err := New(2, 1)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := eng.Reorder(make([]complex64, 2), make([]complex64, 3)); !errors.Is(err, derr.ErrReorderCount) {
		t.Fatalf("short input: got %v, want ErrReorderCount", err)
	}
	if err := eng.Reorder(make([]complex64, 3), make([]complex64, 2)); !errors.Is(err, derr.ErrReorderCount) {
		t.Fatalf("short output: got %v, want ErrReorderCount", err)
	}
}

func TestNewRejectsBadCounts(t *testing.T) {
	if _, err := New(0, 1); !errors.Is(err, derr.ErrInvalidConfig) {
		t.Fatalf("zero antennas: got %v, want ErrInvalidConfig", err)
	}
	if _, err := New(2, 0); !errors.Is(err, derr.ErrInvalidConfig) {
		t.Fatalf("zero stokes: got %v, want ErrInvalidConfig", err)
	}
}
