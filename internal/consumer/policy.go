package consumer

import "math"

// sampleMajor transposes a group-major delivered span ([group][sample])
// into the persister's sample-major block layout ([sample][group]). The
// capture engine delivers the sample axis last; the persister wants it
// first so that FileSet-wide sample offsets stay pure arithmetic.
func sampleMajor(data []byte, groups, samples, elemSize int) []byte {
	out := make([]byte, len(data))
	for g := 0; g < groups; g++ {
		for s := 0; s < samples; s++ {
			src := (g*samples + s) * elemSize
			dst := (s*groups + g) * elemSize
			copy(out[dst:dst+elemSize], data[src:src+elemSize])
		}
	}
	return out
}

// rmsPerGroup computes the RMS over the sample axis for every
// (antenna, polarisation) group of a group-major int8 span.
func rmsPerGroup(data []byte, groups, samples int) []float64 {
	out := make([]float64, groups)
	for g := 0; g < groups; g++ {
		sum := 0.0
		base := g * samples
		for s := 0; s < samples; s++ {
			v := float64(int8(data[base+s]))
			sum += v * v
		}
		out[g] = math.Sqrt(sum / float64(samples))
	}
	return out
}

// anyAbove reports whether any value exceeds the threshold.
func anyAbove(values []float64, threshold float64) bool {
	for _, v := range values {
		if v > threshold {
			return true
		}
	}
	return false
}

// maxOf returns the largest value, or 0 for an empty slice.
func maxOf(values []float64) float64 {
	m := 0.0
	for _, v := range values {
		if v > m {
			m = v
		}
	}
	return m
}
