package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/marcboeker/go-duckdb"

	derr "github.com/radiometric/daqstore/internal/errors"
)

// Service answers provenance queries over the parquet catalog with DuckDB.
type Service struct {
	dir string
	db  *sql.DB
}

// BlockQuery selects block records.
type BlockQuery struct {
	Mode      string
	Key       string // empty matches all keys
	StartTime time.Time
	EndTime   time.Time
	Limit     int
}

// NewService opens an in-memory DuckDB over the catalog directory.
func NewService(dir string) (*Service, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	return &Service{dir: dir, db: db}, nil
}

// Close releases the database.
func (s *Service) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Blocks returns the block records matching the query, ordered by
// timestamp then partition then offset.
func (s *Service) Blocks(ctx context.Context, q BlockQuery) ([]BlockRecord, error) {
	pattern := filepath.Join(s.dir, "*.parquet")

	var sb strings.Builder
	sb.WriteString(`
		SELECT mode, key, tile, partition_id, "offset", timestamp_ms,
		       filename, packets, saturation, clipped, ingest_ms
		FROM read_parquet($1)
		WHERE mode = $2
		  AND timestamp_ms >= $3
		  AND timestamp_ms < $4
	`)
	args := []any{pattern, q.Mode, q.StartTime.UnixMilli(), q.EndTime.UnixMilli()}

	if q.Key != "" {
		sb.WriteString(" AND key = $5")
		args = append(args, q.Key)
	}
	sb.WriteString(` ORDER BY timestamp_ms, partition_id, "offset"`)
	if q.Limit > 0 {
		sb.WriteString(fmt.Sprintf(" LIMIT %d", q.Limit))
	}

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		// An empty catalog directory yields a read_parquet error, not an
		// empty result set.
		if strings.Contains(err.Error(), "No files found") {
			return nil, nil
		}
		return nil, derr.Wrap(err, "catalog query")
	}
	defer rows.Close()

	var out []BlockRecord
	for rows.Next() {
		var r BlockRecord
		if err := rows.Scan(&r.Mode, &r.Key, &r.Tile, &r.PartitionID, &r.Offset,
			&r.TimestampMs, &r.Filename, &r.Packets, &r.Saturation, &r.Clipped, &r.IngestMs); err != nil {
			return nil, derr.Wrap(err, "scan catalog row")
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Coverage summarizes, per (key, partition), the block count and time span
// the catalog records for a mode.
type Coverage struct {
	Key         string
	PartitionID int32
	Blocks      int64
	FirstMs     int64
	LastMs      int64
	Filename    string
}

// CoverageForMode aggregates coverage per key and partition.
func (s *Service) CoverageForMode(ctx context.Context, mode string) ([]Coverage, error) {
	pattern := filepath.Join(s.dir, "*.parquet")

	rows, err := s.db.QueryContext(ctx, `
		SELECT key, partition_id, count(*) AS blocks,
		       min(timestamp_ms) AS first_ms, max(timestamp_ms) AS last_ms,
		       max(filename) AS filename
		FROM read_parquet($1)
		WHERE mode = $2
		GROUP BY key, partition_id
		ORDER BY key, partition_id
	`, pattern, mode)
	if err != nil {
		if strings.Contains(err.Error(), "No files found") {
			return nil, nil
		}
		return nil, derr.Wrap(err, "coverage query")
	}
	defer rows.Close()

	var out []Coverage
	for rows.Next() {
		var c Coverage
		if err := rows.Scan(&c.Key, &c.PartitionID, &c.Blocks, &c.FirstMs, &c.LastMs, &c.Filename); err != nil {
			return nil, derr.Wrap(err, "scan coverage row")
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
