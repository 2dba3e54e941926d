// Package capture defines the boundary to the external packet-capture
// engine.
//
// The engine delivers buffers asynchronously, on threads it owns, through a
// registered callback. The span handed to the callback is only valid for
// the duration of the call: the boundary copies it into an owned
// daq.Buffer before anything downstream runs. Nothing in this repository
// ever holds the raw span past the callback.
package capture

import (
	"fmt"
	"sync"

	"github.com/radiometric/daqstore/internal/daq"
)

// Callback receives owned buffers from the capture boundary.
type Callback func(buf daq.Buffer)

// RegistrationConfig is the per-mode registration handed to the engine.
type RegistrationConfig struct {
	Mode   daq.ProductMode
	DType  daq.DType
	Schema daq.Schema
}

// Handle represents one active registration.
type Handle interface {
	// Unregister detaches the callback. After Unregister returns no further
	// deliveries are made for this registration.
	Unregister() error
}

// Engine is the consumed interface of the packet-capture engine.
type Engine interface {
	// Register attaches a callback for one product mode. The engine treats
	// the delivered data as opaque and already validated.
	Register(cfg RegistrationConfig, cb Callback) (Handle, error)
}

// =============================================================================
// Manual engine
// =============================================================================

// Manual is an in-process Engine for tests and file replay. Deliveries are
// driven explicitly through Deliver, which performs the same owned-copy
// discipline a real capture boundary would.
type Manual struct {
	mu        sync.Mutex
	callbacks map[daq.ProductMode]Callback
}

// NewManual creates an empty manual engine.
func NewManual() *Manual {
	return &Manual{callbacks: make(map[daq.ProductMode]Callback)}
}

// Register implements Engine.
func (m *Manual) Register(cfg RegistrationConfig, cb Callback) (Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.callbacks[cfg.Mode]; ok {
		return nil, fmt.Errorf("mode %s already registered", cfg.Mode)
	}
	m.callbacks[cfg.Mode] = cb
	return &manualHandle{engine: m, mode: cfg.Mode}, nil
}

// Deliver copies the raw span into an owned buffer and invokes the
// registered callback synchronously. Returns false if no callback is
// registered for the mode.
func (m *Manual) Deliver(mode daq.ProductMode, dtype daq.DType, raw []byte, ts float64, md daq.ModeMetadata) bool {
	m.mu.Lock()
	cb, ok := m.callbacks[mode]
	m.mu.Unlock()

	if !ok {
		return false
	}
	cb(daq.NewBuffer(mode, dtype, raw, ts, md))
	return true
}

type manualHandle struct {
	engine *Manual
	mode   daq.ProductMode
}

func (h *manualHandle) Unregister() error {
	h.engine.mu.Lock()
	defer h.engine.mu.Unlock()
	delete(h.engine.callbacks, h.mode)
	return nil
}
