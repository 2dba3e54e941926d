package daq

// Buffer is one delivered unit of telemetry: an owned byte span plus its
// element dtype, block timestamp and mode metadata. Buffers are produced at
// the capture boundary, consumed exactly once by the dispatcher, and never
// persisted directly.
type Buffer struct {
	Mode      ProductMode
	DType     DType
	Data      []byte
	Timestamp float64 // seconds since epoch, block base time

	// SampleTimestamps optionally carries a per-sample timestamp vector
	// supplied by the capture engine. When nil, the persister synthesizes
	// timestamps from the block base time and the sampling interval.
	SampleTimestamps []float64

	Metadata ModeMetadata
}

// NewBuffer builds an owned Buffer from a raw delivered span. The span is
// copied: the capture engine may reuse or free its memory as soon as the
// callback returns, so nothing downstream is allowed to alias it.
func NewBuffer(mode ProductMode, dtype DType, raw []byte, ts float64, md ModeMetadata) Buffer {
	data := make([]byte, len(raw))
	copy(data, raw)
	return Buffer{
		Mode:      mode,
		DType:     dtype,
		Data:      data,
		Timestamp: ts,
		Metadata:  md,
	}
}

// Elements returns the number of dtype elements in the buffer.
func (b *Buffer) Elements() int {
	size := b.DType.Size()
	if size == 0 {
		return 0
	}
	return len(b.Data) / size
}
