package persister

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"

	"github.com/edsrzf/mmap-go"

	"github.com/radiometric/daqstore/internal/daq"
	derr "github.com/radiometric/daqstore/internal/errors"
)

// Partition is one physical container file belonging to a FileSet.
// A partition opened for write is "active"; once sealed it never accepts
// another block. Reads always go through a separate read-only handle.
type Partition struct {
	path   string
	file   *os.File
	mode   daq.ProductMode
	attrs  Attributes
	layout layout

	blockCount int64
	sealed     bool
}

// createPartition creates a fresh active partition at path. Creation is
// exclusive: an existing file of the same name is a persistence error.
func createPartition(path string, mode daq.ProductMode, attrs Attributes) (*Partition, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("%w: create partition %s: %v", derr.ErrPersistence, path, err)
	}

	header, err := encodeHeader(attrs)
	if err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("%w: %v", derr.ErrPersistence, err)
	}

	if _, err := f.Write(header); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("%w: write header: %v", derr.ErrPersistence, err)
	}

	return &Partition{
		path:   path,
		file:   f,
		mode:   mode,
		attrs:  attrs,
		layout: newLayout(mode, attrs.Schema, int64(len(header))),
	}, nil
}

// writeBlock writes one complete block of samples plus its timestamp vector
// at the next block position and flushes. len(samples) must equal the
// schema's block sample size; len(timestamps) must equal samples_per_block.
func (p *Partition) writeBlock(samples []byte, timestamps []float64) (int64, error) {
	if p.sealed {
		return 0, derr.ErrPartitionSealed
	}

	l := p.layout
	if int64(len(samples)) != l.samplesPerBlock*l.sampleBytes {
		return 0, fmt.Errorf("%w: block is %d bytes, schema requires %d",
			derr.ErrSchemaMismatch, len(samples), l.samplesPerBlock*l.sampleBytes)
	}
	if int64(len(timestamps)) != l.samplesPerBlock {
		return 0, fmt.Errorf("%w: %d timestamps for %d samples",
			derr.ErrSchemaMismatch, len(timestamps), l.samplesPerBlock)
	}

	off := l.blockOffset(p.blockCount)
	if _, err := p.file.WriteAt(samples, off); err != nil {
		return 0, fmt.Errorf("%w: write samples: %v", derr.ErrPersistence, err)
	}

	tsBuf := make([]byte, len(timestamps)*8)
	for i, ts := range timestamps {
		binary.LittleEndian.PutUint64(tsBuf[i*8:], math.Float64bits(ts))
	}
	if _, err := p.file.WriteAt(tsBuf, off+l.samplesPerBlock*l.sampleBytes); err != nil {
		return 0, fmt.Errorf("%w: write timestamps: %v", derr.ErrPersistence, err)
	}

	if err := p.file.Sync(); err != nil {
		return 0, fmt.Errorf("%w: sync: %v", derr.ErrPersistence, err)
	}

	writtenAt := p.blockCount * l.samplesPerBlock
	p.blockCount++
	return writtenAt, nil
}

// wouldExceed reports whether appending one more block would push the
// container past maxSize.
func (p *Partition) wouldExceed(maxSize int64) bool {
	return p.layout.size(p.blockCount+1) > maxSize
}

// seal closes the partition for writing. Idempotent.
func (p *Partition) seal() error {
	if p.sealed {
		return nil
	}
	p.sealed = true

	if p.file == nil {
		return nil
	}
	if err := p.file.Sync(); err != nil {
		p.file.Close()
		return fmt.Errorf("%w: seal sync: %v", derr.ErrPersistence, err)
	}
	if err := p.file.Close(); err != nil {
		return fmt.Errorf("%w: seal close: %v", derr.ErrPersistence, err)
	}
	p.file = nil
	return nil
}

// partitionReader is a read-only, memory-mapped view of a partition.
type partitionReader struct {
	path   string
	file   *os.File
	data   mmap.MMap
	attrs  Attributes
	layout layout
	blocks int64
}

// openPartition maps an existing partition read-only, verifying the root
// sentinel. The block count is derived from the file size; a trailing
// incomplete block is ignored.
func openPartition(path string, mode daq.ProductMode) (*partitionReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open partition %s: %v", derr.ErrPersistence, path, err)
	}

	attrs, dataOff, err := readHeader(f)
	if err != nil {
		f.Close()
		return nil, err
	}

	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: stat: %v", derr.ErrPersistence, err)
	}

	l := newLayout(mode, attrs.Schema, dataOff)
	blocks := int64(0)
	if l.blockBytes > 0 {
		blocks = (stat.Size() - dataOff) / l.blockBytes
	}

	var data mmap.MMap
	if stat.Size() > 0 {
		data, err = mmap.Map(f, mmap.RDONLY, 0)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("%w: mmap: %v", derr.ErrPersistence, err)
		}
	}

	return &partitionReader{
		path:   path,
		file:   f,
		data:   data,
		attrs:  attrs,
		layout: l,
		blocks: blocks,
	}, nil
}

// samples returns the number of complete samples held by the partition.
func (r *partitionReader) samples() int64 {
	return r.blocks * r.layout.samplesPerBlock
}

// readSamples copies count samples starting at the partition-local sample
// offset into dst, which must be count*sampleBytes long.
func (r *partitionReader) readSamples(local, count int64, dst []byte) error {
	if local < 0 || local+count > r.samples() {
		return fmt.Errorf("%w: local range [%d,%d) exceeds %d samples",
			derr.ErrOffsetOutOfRange, local, local+count, r.samples())
	}

	l := r.layout
	written := int64(0)
	for s := local; s < local+count; {
		// Copy the contiguous run to the end of the current block.
		runEnd := (s/l.samplesPerBlock + 1) * l.samplesPerBlock
		if runEnd > local+count {
			runEnd = local + count
		}
		n := runEnd - s
		src := l.sampleOffset(s)
		copy(dst[written*l.sampleBytes:], r.data[src:src+n*l.sampleBytes])
		written += n
		s = runEnd
	}
	return nil
}

// readTimestamps copies count per-sample timestamps starting at the
// partition-local sample offset into dst.
func (r *partitionReader) readTimestamps(local, count int64, dst []float64) error {
	if local < 0 || local+count > r.samples() {
		return fmt.Errorf("%w: local range [%d,%d) exceeds %d samples",
			derr.ErrOffsetOutOfRange, local, local+count, r.samples())
	}

	for i := int64(0); i < count; i++ {
		off := r.layout.tsOffset(local + i)
		dst[i] = math.Float64frombits(binary.LittleEndian.Uint64(r.data[off:]))
	}
	return nil
}

// close unmaps and closes the reader. No dangling handles survive a read.
func (r *partitionReader) close() error {
	var first error
	if r.data != nil {
		if err := r.data.Unmap(); err != nil {
			first = err
		}
		r.data = nil
	}
	if r.file != nil {
		if err := r.file.Close(); err != nil && first == nil {
			first = err
		}
		r.file = nil
	}
	return first
}
