// Package sqlite provides the public API for the SQLite store backend.
// This package exposes the factory function for creating SQLite backends
// while keeping implementation details internal.
package sqlite

import (
	"github.com/mesh-intelligence/quotebot/internal/sqlite"
	"github.com/mesh-intelligence/quotebot/pkg/types"
)

// NewBackend creates a new SQLite backend instance.
// The backend is not attached; call Attach with a Config to initialize.
//
// Example:
//
//	backend := sqlite.NewBackend()
//	config := types.DefaultConfig()
//	config.DataDir = ".quotebot"
//	err := backend.Attach(config)
//	defer backend.Detach()
func NewBackend() types.Store {
	return sqlite.NewBackend()
}
