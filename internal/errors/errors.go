// Package errors consolidates error definitions for the daqstore project.
//
// This file provides:
// - Sentinel errors for all error conditions
// - Error category checking functions
// - Convenience wrappers around the standard errors package
//
// The categories mirror the acquisition failure taxonomy: configuration
// errors are fatal to Start, consumer-state errors are rejected no-ops,
// persistence errors drop the triggering buffer but keep the consumer
// running, and read-query errors are returned to the reader without any
// state mutation.
package errors

import (
	"errors"
	"fmt"
)

// ============================================================================
// Sentinel errors
// ============================================================================

var (
	// Configuration errors - fatal to Start, the consumer does not start.
	ErrInvalidConfig    = errors.New("invalid configuration")
	ErrMissingDirectory = errors.New("storage directory does not exist")
	ErrMissingField     = errors.New("missing required field")
	ErrSchemaMismatch   = errors.New("schema mismatch")
	ErrSchemaImmutable  = errors.New("schema counts are fixed after first configure")
	ErrInvalidDType     = errors.New("invalid element dtype")
	ErrInvalidMode      = errors.New("invalid product mode")

	// Consumer state errors - rejected, non-fatal.
	ErrConsumerRunning = errors.New("consumer is already running")
	ErrConsumerStopped = errors.New("consumer is already stopped")

	// Persistence errors - the triggering buffer is dropped, acquisition continues.
	ErrPersistence      = errors.New("persistence failure")
	ErrCorruptPartition = errors.New("corrupt partition container")
	ErrPartitionSealed  = errors.New("partition is sealed")
	ErrStoreClosed      = errors.New("persister store is closed")

	// Read query errors - returned to the caller of Read, no state mutation.
	ErrOffsetOutOfRange  = errors.New("offset out of range")
	ErrEmptyResolution   = errors.New("no partitions match the selector")
	ErrMalformedSelector = errors.New("malformed selector")

	// Reorder invariant errors - the buffer is rejected before any write.
	ErrReorderCount = errors.New("correlation element count mismatch")

	// Catalog errors.
	ErrCatalogClosed = errors.New("catalog is closed")
)

// ============================================================================
// Helper functions for error checking
// ============================================================================

// Is is a convenience wrapper for errors.Is
var Is = errors.Is

// New is a convenience wrapper for errors.New
var New = errors.New

// IsConfiguration returns true if err is a configuration error.
func IsConfiguration(err error) bool {
	return errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrMissingDirectory) ||
		errors.Is(err, ErrMissingField) ||
		errors.Is(err, ErrSchemaMismatch) ||
		errors.Is(err, ErrSchemaImmutable) ||
		errors.Is(err, ErrInvalidDType) ||
		errors.Is(err, ErrInvalidMode)
}

// IsConsumerState returns true if err is a consumer lifecycle error.
func IsConsumerState(err error) bool {
	return errors.Is(err, ErrConsumerRunning) ||
		errors.Is(err, ErrConsumerStopped)
}

// IsPersistence returns true if err is a persistence error.
func IsPersistence(err error) bool {
	return errors.Is(err, ErrPersistence) ||
		errors.Is(err, ErrCorruptPartition) ||
		errors.Is(err, ErrPartitionSealed) ||
		errors.Is(err, ErrStoreClosed)
}

// IsReadQuery returns true if err is a read query error.
func IsReadQuery(err error) bool {
	return errors.Is(err, ErrOffsetOutOfRange) ||
		errors.Is(err, ErrEmptyResolution) ||
		errors.Is(err, ErrMalformedSelector)
}

// ============================================================================
// Error wrapping utilities
// ============================================================================

// Wrap wraps an error with additional context.
// Returns nil if err is nil.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", msg, err)
}

// Wrapf wraps an error with formatted context.
// Returns nil if err is nil.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}
