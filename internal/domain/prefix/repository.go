// Package prefix holds the active prefix configuration per code kind and
// performs period rollover and administrator rotation.
package prefix

import (
	"context"

	"codealloc/internal/core/code"
)

// Repository persists the active prefix per kind plus an append-only history
// of superseded prefixes.
type Repository interface {
	// GetActive returns the active prefix of kind or an apperror.CodeNotFound error.
	GetActive(ctx context.Context, kind code.Kind) (*code.PrefixConfig, error)

	// Initialize stores cfg as the active prefix unless one already exists.
	// It returns the active prefix after the call and whether cfg was stored.
	Initialize(ctx context.Context, cfg code.PrefixConfig) (*code.PrefixConfig, bool, error)

	// Replace atomically swaps current for next if current is still the
	// active version, appending current to the history log. When another
	// writer got there first it returns apperror.CodeConcurrentModification
	// and changes nothing.
	Replace(ctx context.Context, current *code.PrefixConfig, next code.PrefixConfig) (*code.PrefixConfig, error)

	// History returns superseded prefixes of kind, newest first.
	History(ctx context.Context, kind code.Kind, limit int) ([]code.PrefixConfig, error)
}

// RotationAuditor records prefix changes alongside the rotation itself.
type RotationAuditor interface {
	RecordRotation(ctx context.Context, previous, next *code.PrefixConfig) error
}
