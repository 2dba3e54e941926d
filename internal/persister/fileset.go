package persister

import (
	"fmt"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/radiometric/daqstore/internal/daq"
	derr "github.com/radiometric/daqstore/internal/errors"
)

// PartitionInfo is one entry of a FileSet's partition index.
type PartitionInfo struct {
	ID         int
	BaseTS     float64
	BlockCount int64
	Path       string
}

// Selector describes a read request. Exactly one form applies:
// offset+count (Count > 0) or a [StartTS, EndTS) timestamp range.
// Channels optionally narrows the channel axis to an index set; it is
// ignored for modes without a channel axis.
type Selector struct {
	Offset int64
	Count  int64

	StartTS float64
	EndTS   float64

	Channels []int
}

// IngestResult reports where a block landed, for traceability.
type IngestResult struct {
	PartitionID int
	Offset      int64 // FileSet-local sample offset of the block
	Filename    string
}

// FileSet is the durable, schema-fixed dataset for one (mode, key) pair.
// All mutating access is serialized by an internal lock: two concurrent
// buffers for the same mode and key never interleave ingests.
type FileSet struct {
	mu sync.Mutex

	mode        daq.ProductMode
	key         string
	dir         string
	schema      daq.Schema
	maxFileSize int64
	description string
	observation map[string]string

	active   *Partition
	parts    []PartitionInfo
	nextID   int
	readOnly bool
	closed   bool
}

// Mode returns the product mode of the FileSet.
func (fs *FileSet) Mode() daq.ProductMode { return fs.mode }

// Key returns the tile/channel key of the FileSet.
func (fs *FileSet) Key() string { return fs.key }

// Schema returns the fixed schema counts.
func (fs *FileSet) Schema() daq.Schema { return fs.schema }

// Partitions returns a copy of the partition index, in partition order.
func (fs *FileSet) Partitions() []PartitionInfo {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	out := make([]PartitionInfo, len(fs.parts))
	copy(out, fs.parts)
	return out
}

// TotalSamples returns the FileSet-wide sample count.
func (fs *FileSet) TotalSamples() int64 {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.totalSamplesLocked()
}

func (fs *FileSet) totalSamplesLocked() int64 {
	spb := int64(fs.schema.SamplesPerBlock)
	total := int64(0)
	for _, p := range fs.parts {
		total += p.BlockCount * spb
	}
	return total
}

// partitionName builds the container filename: mode, key, base timestamp
// and partition id are all encoded.
func (fs *FileSet) partitionName(baseTS float64, id int) string {
	ts := strconv.FormatFloat(baseTS, 'f', 3, 64)
	return fmt.Sprintf("%s_%s_%s_p%04d.daq", fs.mode, fs.key, ts, id)
}

// rotateLocked seals any active partition and configures a fresh one.
func (fs *FileSet) rotateLocked(baseTS float64) error {
	if fs.active != nil {
		if err := fs.active.seal(); err != nil {
			return err
		}
		fs.active = nil
	}

	id := fs.nextID
	attrs := Attributes{
		Mode:            fs.mode.String(),
		Key:             fs.key,
		Schema:          fs.schema,
		PartitionID:     id,
		BaseTimestamp:   baseTS,
		Description:     fs.description,
		SoftwareVersion: Version,
		CreatedUnixMs:   time.Now().UnixMilli(),
		Observation:     fs.observation,
	}

	path := filepath.Join(fs.dir, fs.partitionName(baseTS, id))
	p, err := createPartition(path, fs.mode, attrs)
	if err != nil {
		return err
	}

	fs.active = p
	fs.nextID = id + 1
	fs.parts = append(fs.parts, PartitionInfo{ID: id, BaseTS: baseTS, Path: path})
	return nil
}

// Ingest writes one block. With appendBlock=false, or when no partition is
// active, the current partition is sealed and a fresh one is configured
// first; the same happens when the block would push the container past the
// size cap. Per-sample timestamps are taken from sampleTS when supplied and
// synthesized from ts and the sampling interval otherwise.
func (fs *FileSet) Ingest(data []byte, ts float64, sampleTS []float64, appendBlock bool) (IngestResult, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.closed {
		return IngestResult{}, derr.ErrStoreClosed
	}
	if fs.readOnly {
		return IngestResult{}, fmt.Errorf("%w: fileset opened read-only", derr.ErrPersistence)
	}

	if !appendBlock || fs.active == nil {
		if err := fs.rotateLocked(ts); err != nil {
			return IngestResult{}, err
		}
	} else if fs.active.wouldExceed(fs.maxFileSize) {
		if err := fs.rotateLocked(ts); err != nil {
			return IngestResult{}, err
		}
	}

	spb := fs.schema.SamplesPerBlock
	timestamps := sampleTS
	if timestamps == nil {
		timestamps = make([]float64, spb)
		for i := range timestamps {
			timestamps[i] = ts + float64(i)*fs.schema.SamplingInterval
		}
	} else if len(timestamps) != spb {
		return IngestResult{}, fmt.Errorf("%w: %d supplied timestamps for %d samples",
			derr.ErrSchemaMismatch, len(timestamps), spb)
	}

	// FileSet-local offset of the block: samples in all earlier partitions
	// plus the write position inside the active one.
	earlier := fs.totalSamplesLocked()

	if _, err := fs.active.writeBlock(data, timestamps); err != nil {
		return IngestResult{}, err
	}

	last := &fs.parts[len(fs.parts)-1]
	last.BlockCount = fs.active.blockCount

	return IngestResult{
		PartitionID: fs.active.attrs.PartitionID,
		Offset:      earlier,
		Filename:    fs.active.path,
	}, nil
}

// span is one resolved (partition, local range) piece of a read.
type span struct {
	part  PartitionInfo
	local int64
	count int64
}

// resolve maps a selector to an ordered list of partition-local ranges.
// No I/O happens here; an empty resolution is a read query error.
func (fs *FileSet) resolve(sel Selector) ([]span, error) {
	spb := int64(fs.schema.SamplesPerBlock)

	offset, count := sel.Offset, sel.Count
	switch {
	case count > 0 && sel.EndTS != 0:
		return nil, fmt.Errorf("%w: both offset and timestamp forms set", derr.ErrMalformedSelector)
	case count > 0:
		if offset < 0 {
			return nil, fmt.Errorf("%w: negative offset %d", derr.ErrMalformedSelector, offset)
		}
	case sel.EndTS > sel.StartTS:
		if fs.schema.SamplingInterval <= 0 {
			return nil, fmt.Errorf("%w: timestamp selector requires a sampling interval", derr.ErrMalformedSelector)
		}
		// Resolve the time range to a FileSet-wide sample range using each
		// partition's base timestamp and the synthetic sample spacing.
		offset, count = fs.timeRangeToSamples(sel.StartTS, sel.EndTS)
		if count <= 0 {
			return nil, fmt.Errorf("%w: no samples in [%f,%f)", derr.ErrEmptyResolution, sel.StartTS, sel.EndTS)
		}
	default:
		return nil, fmt.Errorf("%w: neither offset+count nor timestamp range", derr.ErrMalformedSelector)
	}

	total := fs.totalSamplesLocked()
	if offset >= total || offset+count > total {
		return nil, fmt.Errorf("%w: [%d,%d) of %d samples", derr.ErrOffsetOutOfRange, offset, offset+count, total)
	}

	var spans []span
	cursor := int64(0)
	for _, p := range fs.parts {
		pSamples := p.BlockCount * spb
		if pSamples == 0 {
			continue
		}
		start, end := cursor, cursor+pSamples
		if end <= offset || start >= offset+count {
			cursor = end
			continue
		}
		lo := max64(offset, start)
		hi := min64(offset+count, end)
		spans = append(spans, span{part: p, local: lo - start, count: hi - lo})
		cursor = end
	}

	if len(spans) == 0 {
		return nil, fmt.Errorf("%w: offset %d count %d", derr.ErrEmptyResolution, offset, count)
	}
	return spans, nil
}

// timeRangeToSamples converts [startTS, endTS) to a FileSet-wide sample
// range under the synthetic timestamp model.
func (fs *FileSet) timeRangeToSamples(startTS, endTS float64) (int64, int64) {
	spb := int64(fs.schema.SamplesPerBlock)
	interval := fs.schema.SamplingInterval

	first, last := int64(-1), int64(-1)
	cursor := int64(0)
	for _, p := range fs.parts {
		pSamples := p.BlockCount * spb
		for i := int64(0); i < pSamples; i++ {
			t := p.BaseTS + float64(i)*interval
			if t >= startTS && t < endTS {
				if first < 0 {
					first = cursor + i
				}
				last = cursor + i
			}
		}
		cursor += pSamples
	}
	if first < 0 {
		return 0, 0
	}
	return first, last - first + 1
}

// Read resolves the selector, opens each covered partition read-only,
// copies the sample and timestamp ranges in partition order and closes all
// handles. The result is sample-major: count x (narrowed dims) x channels
// worth of raw elements plus the matching timestamp vector.
func (fs *FileSet) Read(sel Selector) ([]byte, []float64, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	spans, err := fs.resolve(sel)
	if err != nil {
		return nil, nil, err
	}

	sampleBytes := int64(fs.schema.ElemsPerSample(fs.mode) * fs.schema.DType.Size())
	total := int64(0)
	for _, s := range spans {
		total += s.count
	}

	data := make([]byte, total*sampleBytes)
	timestamps := make([]float64, total)

	written := int64(0)
	for _, s := range spans {
		r, err := openPartition(s.part.Path, fs.mode)
		if err != nil {
			return nil, nil, err
		}
		if err := r.readSamples(s.local, s.count, data[written*sampleBytes:]); err != nil {
			r.close()
			return nil, nil, err
		}
		if err := r.readTimestamps(s.local, s.count, timestamps[written:written+s.count]); err != nil {
			r.close()
			return nil, nil, err
		}
		if err := r.close(); err != nil {
			return nil, nil, fmt.Errorf("%w: close reader: %v", derr.ErrPersistence, err)
		}
		written += s.count
	}

	if len(sel.Channels) > 0 {
		data, err = fs.narrowChannels(data, total, sel.Channels)
		if err != nil {
			return nil, nil, err
		}
	}

	return data, timestamps, nil
}

// narrowChannels gathers the selected channel sub-blocks out of every
// sample. Modes without a channel axis reject the narrowing.
func (fs *FileSet) narrowChannels(data []byte, samples int64, channels []int) ([]byte, error) {
	nchan := fs.schema.Channels
	switch fs.mode {
	case daq.ModeRawVoltage, daq.ModeAntennaBuffer:
		return nil, fmt.Errorf("%w: %s has no channel axis", derr.ErrMalformedSelector, fs.mode)
	}

	elemSize := fs.schema.DType.Size()
	sampleBytes := fs.schema.ElemsPerSample(fs.mode) * elemSize
	chanBytes := sampleBytes / nchan

	for _, c := range channels {
		if c < 0 || c >= nchan {
			return nil, fmt.Errorf("%w: channel %d of %d", derr.ErrOffsetOutOfRange, c, nchan)
		}
	}

	out := make([]byte, samples*int64(len(channels)*chanBytes))
	for s := int64(0); s < samples; s++ {
		srcBase := s * int64(sampleBytes)
		dstBase := s * int64(len(channels)*chanBytes)
		for i, c := range channels {
			src := srcBase + int64(c*chanBytes)
			dst := dstBase + int64(i*chanBytes)
			copy(out[dst:dst+int64(chanBytes)], data[src:src+int64(chanBytes)])
		}
	}
	return out, nil
}

// Close seals the active partition and releases the FileSet. Idempotent.
func (fs *FileSet) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.closed {
		return nil
	}
	fs.closed = true

	if fs.active != nil {
		err := fs.active.seal()
		fs.active = nil
		return err
	}
	return nil
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
