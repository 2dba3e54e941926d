// Package daq defines the core data types shared by the acquisition system.
//
// Key types:
//   - ProductMode: the telemetry category (raw, channelized, beam, ...)
//   - DType: element type of a delivered buffer
//   - Buffer: one delivered unit of telemetry with timestamp and metadata
//   - ModeMetadata: per-mode tagged metadata union
//   - Schema: fixed per-FileSet dimension counts
package daq
