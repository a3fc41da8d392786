// Package realtime broadcasts package state changes to connected clients.
package realtime

import (
	"context"

	"github.com/quillsign/quillsign/internal/model"
)

// Emitter pushes a package state-change event to connected clients.
// Best-effort: callers log failures and continue.
type Emitter interface {
	// EmitPackageUpdate broadcasts the package's current state.
	EmitPackageUpdate(ctx context.Context, pkg *model.Package) error
}

// NopEmitter discards all events.
type NopEmitter struct{}

// EmitPackageUpdate implements Emitter.
func (NopEmitter) EmitPackageUpdate(context.Context, *model.Package) error { return nil }
