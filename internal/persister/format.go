// Package persister implements the partitioned storage engine.
//
// Each FileSet owns an ordered series of partition files. A partition is a
// self-describing binary container:
//
//   - Preamble: 8 bytes magic + 4 bytes version + 4 bytes attribute length
//   - Attributes: JSON-encoded schema counts, identity and observation
//     metadata
//   - Blocks: repeated [samples][timestamps] regions, one per ingested block
//
// Within a block, samples are laid out sample-major: all elements of sample
// i precede the elements of sample i+1. The per-sample timestamp vector
// (float64, seconds) follows the sample region. Block sizes are fixed by the
// schema, so every logical sample position maps to a file offset by pure
// arithmetic.
package persister

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/radiometric/daqstore/internal/daq"
	derr "github.com/radiometric/daqstore/internal/errors"
)

const (
	containerMagic   = 0x4441515054420001 // "DAQPTB" + version 1
	containerVersion = 1
	preambleSize     = 16 // 8 bytes magic + 4 bytes version + 4 bytes attribute length

	// maxAttrLen bounds the attribute region on reopen so a corrupt length
	// field cannot trigger a huge allocation.
	maxAttrLen = 1 << 20
)

// Version is the software version embedded in partition attributes.
// Set at build time via ldflags in the daemon.
var Version = "dev"

// Attributes is the self-describing header embedded in every partition.
type Attributes struct {
	Mode            string            `json:"mode"`
	Key             string            `json:"key"`
	Schema          daq.Schema        `json:"schema"`
	PartitionID     int               `json:"partition_id"`
	BaseTimestamp   float64           `json:"base_timestamp"`
	Description     string            `json:"description"`
	SoftwareVersion string            `json:"software_version"`
	CreatedUnixMs   int64             `json:"created_unix_ms"`
	Observation     map[string]string `json:"observation,omitempty"`
}

// layout holds the derived offset arithmetic for one partition.
type layout struct {
	samplesPerBlock int64
	sampleBytes     int64 // bytes of one logical sample
	blockBytes      int64 // samples region + timestamp region
	dataOff         int64 // file offset of block 0
}

func newLayout(mode daq.ProductMode, schema daq.Schema, dataOff int64) layout {
	spb := int64(schema.SamplesPerBlock)
	sampleBytes := int64(schema.ElemsPerSample(mode) * schema.DType.Size())
	return layout{
		samplesPerBlock: spb,
		sampleBytes:     sampleBytes,
		blockBytes:      spb*sampleBytes + spb*8,
		dataOff:         dataOff,
	}
}

// sampleOffset returns the file offset of the given partition-local sample.
func (l layout) sampleOffset(sample int64) int64 {
	block := sample / l.samplesPerBlock
	pos := sample % l.samplesPerBlock
	return l.dataOff + block*l.blockBytes + pos*l.sampleBytes
}

// tsOffset returns the file offset of the timestamp of the given sample.
func (l layout) tsOffset(sample int64) int64 {
	block := sample / l.samplesPerBlock
	pos := sample % l.samplesPerBlock
	return l.dataOff + block*l.blockBytes + l.samplesPerBlock*l.sampleBytes + pos*8
}

// blockOffset returns the file offset of block b's sample region.
func (l layout) blockOffset(b int64) int64 {
	return l.dataOff + b*l.blockBytes
}

// size returns the container size after blockCount complete blocks.
func (l layout) size(blockCount int64) int64 {
	return l.dataOff + blockCount*l.blockBytes
}

// encodeHeader serializes the preamble and attribute region.
func encodeHeader(attrs Attributes) ([]byte, error) {
	attrJSON, err := json.Marshal(attrs)
	if err != nil {
		return nil, fmt.Errorf("marshal attributes: %w", err)
	}

	buf := make([]byte, preambleSize+len(attrJSON))
	binary.LittleEndian.PutUint64(buf[0:8], containerMagic)
	binary.LittleEndian.PutUint32(buf[8:12], containerVersion)
	binary.LittleEndian.PutUint32(buf[12:16], uint32(len(attrJSON)))
	copy(buf[preambleSize:], attrJSON)

	return buf, nil
}

// readHeader verifies the root sentinel and decodes the attribute region.
// Returns the attributes and the offset of block 0.
func readHeader(r io.ReaderAt) (Attributes, int64, error) {
	var preamble [preambleSize]byte
	if _, err := r.ReadAt(preamble[:], 0); err != nil {
		return Attributes{}, 0, fmt.Errorf("%w: read preamble: %v", derr.ErrCorruptPartition, err)
	}

	magic := binary.LittleEndian.Uint64(preamble[0:8])
	if magic != containerMagic {
		return Attributes{}, 0, fmt.Errorf("%w: bad magic %#x", derr.ErrCorruptPartition, magic)
	}

	version := binary.LittleEndian.Uint32(preamble[8:12])
	if version != containerVersion {
		return Attributes{}, 0, fmt.Errorf("%w: unsupported version %d", derr.ErrCorruptPartition, version)
	}

	attrLen := binary.LittleEndian.Uint32(preamble[12:16])
	if attrLen == 0 || attrLen > maxAttrLen {
		return Attributes{}, 0, fmt.Errorf("%w: implausible attribute length %d", derr.ErrCorruptPartition, attrLen)
	}

	attrJSON := make([]byte, attrLen)
	if _, err := r.ReadAt(attrJSON, preambleSize); err != nil {
		return Attributes{}, 0, fmt.Errorf("%w: read attributes: %v", derr.ErrCorruptPartition, err)
	}

	var attrs Attributes
	if err := json.Unmarshal(attrJSON, &attrs); err != nil {
		return Attributes{}, 0, fmt.Errorf("%w: decode attributes: %v", derr.ErrCorruptPartition, err)
	}

	return attrs, preambleSize + int64(attrLen), nil
}
