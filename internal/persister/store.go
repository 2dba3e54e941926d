package persister

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/radiometric/daqstore/internal/config"
	"github.com/radiometric/daqstore/internal/daq"
	derr "github.com/radiometric/daqstore/internal/errors"
	"github.com/radiometric/daqstore/internal/logging"
)

var log = logging.Component("persister")

// Options configures a Store.
type Options struct {
	// RootDir is the root directory for all FileSets. Must exist.
	RootDir string

	// MaxFileSize caps the on-disk size of one partition file.
	MaxFileSize int64

	// Description is embedded in every partition container.
	Description string

	// Observation holds free-form observation metadata embedded in every
	// partition container.
	Observation map[string]string
}

// Store is the storage engine facade. It owns one FileSet per (mode, key)
// and serializes access per FileSet; FileSets for different keys proceed in
// parallel.
type Store struct {
	mu       sync.RWMutex
	opts     Options
	filesets map[string]*FileSet
	closed   bool
}

// New creates a Store. The root directory must already exist; a missing
// directory is a configuration error surfaced before any consumer starts.
func New(opts Options) (*Store, error) {
	info, err := os.Stat(opts.RootDir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", derr.ErrMissingDirectory, opts.RootDir)
	}
	if opts.MaxFileSize <= 0 {
		return nil, fmt.Errorf("%w: max file size %d", derr.ErrInvalidConfig, opts.MaxFileSize)
	}

	return &Store{
		opts:     opts,
		filesets: make(map[string]*FileSet),
	}, nil
}

// NewFromConfig creates a Store from the daemon configuration.
func NewFromConfig(cfg *config.Config) (*Store, error) {
	return New(Options{
		RootDir:     cfg.Directory,
		MaxFileSize: cfg.MaxFileSize,
		Description: cfg.Description,
		Observation: cfg.Observation,
	})
}

func fileSetKey(mode daq.ProductMode, key string) string {
	return mode.String() + "/" + key
}

// Configure returns the FileSet for (mode, key), creating it lazily on
// first use. Schema counts are fixed at that point: a later Configure with
// different counts is rejected.
func (s *Store) Configure(mode daq.ProductMode, key string, schema daq.Schema) (*FileSet, error) {
	if err := schema.Validate(mode); err != nil {
		return nil, fmt.Errorf("%w: %v", derr.ErrInvalidConfig, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, derr.ErrStoreClosed
	}

	id := fileSetKey(mode, key)
	if fs, ok := s.filesets[id]; ok {
		if fs.schema != schema {
			return nil, fmt.Errorf("%w: fileset %s", derr.ErrSchemaImmutable, id)
		}
		return fs, nil
	}

	dir := filepath.Join(s.opts.RootDir, mode.String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create %s: %v", derr.ErrPersistence, dir, err)
	}

	fs := &FileSet{
		mode:        mode,
		key:         key,
		dir:         dir,
		schema:      schema,
		maxFileSize: s.opts.MaxFileSize,
		description: s.opts.Description,
		observation: s.opts.Observation,
	}
	s.filesets[id] = fs

	log.Info("fileset configured", "mode", mode.String(), "key", key,
		"samples_per_block", schema.SamplesPerBlock, "dtype", schema.DType.String())
	return fs, nil
}

// Get returns an already-configured FileSet.
func (s *Store) Get(mode daq.ProductMode, key string) (*FileSet, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fs, ok := s.filesets[fileSetKey(mode, key)]
	return fs, ok
}

// CloseMode seals and releases every FileSet of the given mode. The
// FileSets are recreated fresh on the next Configure.
func (s *Store) CloseMode(mode daq.ProductMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var first error
	prefix := mode.String() + "/"
	for id, fs := range s.filesets {
		if !strings.HasPrefix(id, prefix) {
			continue
		}
		if err := fs.Close(); err != nil && first == nil {
			first = err
		}
		delete(s.filesets, id)
	}
	return first
}

// Close seals and releases all FileSets.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	var first error
	for id, fs := range s.filesets {
		if err := fs.Close(); err != nil && first == nil {
			first = err
		}
		delete(s.filesets, id)
	}
	return first
}

// Open reconstructs a read-only FileSet from the containers on disk,
// verifying every partition header. This lets a reader process run range
// reads against a finished acquisition without the writing daemon.
func Open(rootDir string, mode daq.ProductMode, key string) (*FileSet, error) {
	dir := filepath.Join(rootDir, mode.String())
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", derr.ErrMissingDirectory, dir)
	}

	prefix := mode.String() + "_" + key + "_"
	var parts []PartitionInfo
	var schema daq.Schema
	haveSchema := false

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".daq") {
			continue
		}

		path := filepath.Join(dir, name)
		r, err := openPartition(path, mode)
		if err != nil {
			return nil, err
		}
		if r.attrs.Key != key {
			r.close()
			continue
		}
		if !haveSchema {
			schema = r.attrs.Schema
			haveSchema = true
		} else if r.attrs.Schema != schema {
			r.close()
			return nil, fmt.Errorf("%w: partition %s disagrees with fileset schema",
				derr.ErrSchemaMismatch, name)
		}

		parts = append(parts, PartitionInfo{
			ID:         r.attrs.PartitionID,
			BaseTS:     r.attrs.BaseTimestamp,
			BlockCount: r.blocks,
			Path:       path,
		})
		if err := r.close(); err != nil {
			return nil, fmt.Errorf("%w: close reader: %v", derr.ErrPersistence, err)
		}
	}

	if len(parts) == 0 {
		return nil, fmt.Errorf("%w: no partitions for %s/%s under %s",
			derr.ErrEmptyResolution, mode, key, rootDir)
	}

	sort.Slice(parts, func(i, j int) bool { return parts[i].ID < parts[j].ID })

	return &FileSet{
		mode:     mode,
		key:      key,
		dir:      dir,
		schema:   schema,
		parts:    parts,
		nextID:   parts[len(parts)-1].ID + 1,
		readOnly: true,
	}, nil
}
