// Package registry holds the in-memory set of registered patterns,
// mirrored from the store at startup and kept in lockstep with every
// store-level pattern insert/delete so the consumer's hot path never
// touches SQL to decide whether a new output should be indexed.
package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/kupochain/indexer/internal/store"
	"github.com/kupochain/indexer/pkg/chain"
)

// Registry is a concurrency-safe snapshot of the patterns currently
// persisted in the store.
type Registry struct {
	mu       sync.RWMutex
	patterns map[string]chain.Pattern
	store    store.Store
}

// New loads the initial pattern set from the store.
func New(ctx context.Context, s store.Store) (*Registry, error) {
	existing, err := s.ListPatterns(ctx)
	if err != nil {
		return nil, fmt.Errorf("registry: load patterns: %w", err)
	}
	r := &Registry{patterns: make(map[string]chain.Pattern, len(existing)), store: s}
	for _, p := range existing {
		r.patterns[p.String()] = p
	}
	return r, nil
}

// Snapshot returns the currently registered patterns. The returned slice
// is a copy; callers may not mutate the registry's internal state.
func (r *Registry) Snapshot() []chain.Pattern {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]chain.Pattern, 0, len(r.patterns))
	for _, p := range r.patterns {
		out = append(out, p)
	}
	return out
}

// Len returns the number of registered patterns.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.patterns)
}

// Matches reports whether any registered pattern selects the given output.
func (r *Registry) Matches(address string, policies map[string]map[string]uint64, txID string, outputIx uint32) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, p := range r.patterns {
		if p.Matches(address, policies, txID, outputIx) {
			return true
		}
	}
	return false
}

// Insert persists and registers new patterns in one step: the store write
// and the in-memory update happen under the same lock so a concurrent
// Matches call never observes the store write without the in-memory one
// or vice versa.
func (r *Registry) Insert(ctx context.Context, patterns []chain.Pattern) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.store.InsertPatterns(ctx, patterns); err != nil {
		return err
	}
	for _, p := range patterns {
		r.patterns[p.String()] = p
	}
	return nil
}

// Delete removes a pattern registration and reports how many rows were
// removed (0 or 1). Unlike DELETE /matches, removing a pattern has no
// overlap guard: it only stops the pattern from selecting new outputs
// going forward and has no bearing on rows already indexed.
func (r *Registry) Delete(ctx context.Context, pattern chain.Pattern) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n, err := r.store.DeletePattern(ctx, pattern)
	if err != nil {
		return 0, err
	}
	delete(r.patterns, pattern.String())
	return n, nil
}
