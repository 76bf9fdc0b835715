package memory

import (
	"context"
	"sync"
	"time"

	"codealloc/internal/core/apperror"
	"codealloc/internal/core/code"
	"codealloc/internal/domain/prefix"
)

// PrefixRepo is an in-memory prefix.Repository.
type PrefixRepo struct {
	mu      sync.RWMutex
	active  map[code.Kind]code.PrefixConfig
	history map[code.Kind][]code.PrefixConfig
	now     func() time.Time
}

var _ prefix.Repository = (*PrefixRepo)(nil)

// NewPrefixRepo creates an empty repository.
func NewPrefixRepo() *PrefixRepo {
	return &PrefixRepo{
		active:  make(map[code.Kind]code.PrefixConfig),
		history: make(map[code.Kind][]code.PrefixConfig),
		now:     time.Now,
	}
}

// GetActive returns the active prefix of kind.
func (r *PrefixRepo) GetActive(_ context.Context, kind code.Kind) (*code.PrefixConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cfg, ok := r.active[kind]
	if !ok {
		return nil, apperror.NewNotFound("prefix", string(kind))
	}
	return &cfg, nil
}

// Initialize stores cfg unless kind already has an active prefix.
func (r *PrefixRepo) Initialize(_ context.Context, cfg code.PrefixConfig) (*code.PrefixConfig, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.active[cfg.Kind]; ok {
		return &cur, false, nil
	}
	cfg.Version = 1
	if cfg.CreatedAt.IsZero() {
		cfg.CreatedAt = r.now().UTC()
	}
	r.active[cfg.Kind] = cfg
	return &cfg, true, nil
}

// Replace swaps current for next if current.Version is still active.
func (r *PrefixRepo) Replace(_ context.Context, current *code.PrefixConfig, next code.PrefixConfig) (*code.PrefixConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.active[current.Kind]
	if !ok || cur.Version != current.Version {
		return nil, apperror.NewConcurrentModification("prefix", string(current.Kind))
	}

	now := r.now().UTC()
	cur.SupersededAt = &now
	r.history[cur.Kind] = append(r.history[cur.Kind], cur)

	next.Version = cur.Version + 1
	if next.CreatedAt.IsZero() {
		next.CreatedAt = now
	}
	r.active[next.Kind] = next
	return &next, nil
}

// History returns superseded prefixes, newest first.
func (r *PrefixRepo) History(_ context.Context, kind code.Kind, limit int) ([]code.PrefixConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	h := r.history[kind]
	out := make([]code.PrefixConfig, 0, min(limit, len(h)))
	for i := len(h) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, h[i])
	}
	return out, nil
}
