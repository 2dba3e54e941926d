// Package catalog records one row per persisted block in parquet files and
// answers provenance queries over them with DuckDB.
//
// The catalog is advisory: losing it never loses science data, since every
// partition container is self-describing. It exists so operators can answer
// "which files and offsets cover mode M, key K, [t0,t1)" without walking
// every container header.
package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"

	derr "github.com/radiometric/daqstore/internal/errors"
	"github.com/radiometric/daqstore/internal/logging"
)

var log = logging.Component("catalog")

// BlockRecord is one persisted-block row.
type BlockRecord struct {
	Mode        string  `parquet:"mode,zstd"`
	Key         string  `parquet:"key,zstd"`
	Tile        int32   `parquet:"tile"`
	PartitionID int32   `parquet:"partition_id"`
	Offset      int64   `parquet:"offset"`
	TimestampMs int64   `parquet:"timestamp_ms"`
	Filename    string  `parquet:"filename,zstd"`
	Packets     int64   `parquet:"packets"`
	Saturation  int64   `parquet:"saturation"`
	Clipped     int64   `parquet:"clipped"`
	IngestMs    float64 `parquet:"ingest_ms"`
}

// Options configures the catalog writer.
type Options struct {
	// Dir is the catalog directory.
	Dir string

	// FlushInterval flushes buffered rows at least this often.
	FlushInterval time.Duration

	// FlushRows flushes when this many rows have accumulated.
	FlushRows int
}

// Writer accumulates block records and flushes them to one parquet file per
// flush.
type Writer struct {
	mu      sync.Mutex
	opts    Options
	rows    []BlockRecord
	seq     int
	closed  bool
	written int64

	cancel chan struct{}
	done   chan struct{}
}

// NewWriter creates the catalog writer and starts its flush loop.
func NewWriter(opts Options) (*Writer, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("%w: catalog dir not set", derr.ErrInvalidConfig)
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create catalog dir: %w", err)
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 30 * time.Second
	}
	if opts.FlushRows <= 0 {
		opts.FlushRows = 10000
	}

	w := &Writer{
		opts:   opts,
		cancel: make(chan struct{}),
		done:   make(chan struct{}),
	}
	go w.flushLoop()
	return w, nil
}

// Record buffers one block record; a full buffer triggers an inline flush.
func (w *Writer) Record(rec BlockRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return derr.ErrCatalogClosed
	}
	w.rows = append(w.rows, rec)
	if len(w.rows) >= w.opts.FlushRows {
		return w.flushLocked()
	}
	return nil
}

// Flush writes buffered rows out immediately.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return derr.ErrCatalogClosed
	}
	return w.flushLocked()
}

// RowsWritten returns the total number of rows flushed so far.
func (w *Writer) RowsWritten() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.written
}

// Close flushes remaining rows and stops the flush loop. Idempotent.
func (w *Writer) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	err := w.flushLocked()
	w.mu.Unlock()

	close(w.cancel)
	<-w.done
	return err
}

func (w *Writer) flushLoop() {
	defer close(w.done)
	ticker := time.NewTicker(w.opts.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.cancel:
			return
		case <-ticker.C:
			w.mu.Lock()
			if !w.closed {
				if err := w.flushLocked(); err != nil {
					log.Error("periodic flush failed", "error", err)
				}
			}
			w.mu.Unlock()
		}
	}
}

// flushLocked writes the buffered rows to a fresh parquet file. Caller
// holds w.mu.
func (w *Writer) flushLocked() error {
	if len(w.rows) == 0 {
		return nil
	}

	name := fmt.Sprintf("blocks_%s_%04d.parquet", time.Now().UTC().Format("2006-01-02_15-04-05"), w.seq)
	path := filepath.Join(w.opts.Dir, name)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create catalog file: %w", err)
	}

	pw := parquet.NewGenericWriter[BlockRecord](f, parquet.Compression(zstdCodec()))
	if _, err := pw.Write(w.rows); err != nil {
		pw.Close()
		f.Close()
		return fmt.Errorf("write catalog rows: %w", err)
	}
	if err := pw.Close(); err != nil {
		f.Close()
		return fmt.Errorf("close catalog writer: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close catalog file: %w", err)
	}

	w.written += int64(len(w.rows))
	w.seq++
	w.rows = w.rows[:0]
	return nil
}

func zstdCodec() compress.Codec {
	return &parquet.Zstd
}

// ReadAll reads every record of one catalog parquet file, oldest first.
// Used by tests and small tooling; real queries go through the Service.
func ReadAll(path string) ([]BlockRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog file: %w", err)
	}
	defer f.Close()

	pr := parquet.NewGenericReader[BlockRecord](f)
	defer pr.Close()

	rows := make([]BlockRecord, pr.NumRows())
	n, err := pr.Read(rows)
	if err != nil && n == 0 {
		return nil, fmt.Errorf("read catalog rows: %w", err)
	}
	return rows[:n], nil
}
