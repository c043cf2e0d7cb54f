package adapters

import (
	"fmt"
	"maps"
	"slices"
	"sync"

	models "github.com/Cogwheel-Validator/spectra-intents/pathfinder/models"
)

// Registry maps chain names to adapters. Lookups share the lock, registration
// takes it exclusively.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]ChainAdapter
}

func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]ChainAdapter)}
}

// Register adds a. A second adapter for the same chain name is refused.
func (r *Registry) Register(a ChainAdapter) error {
	name := a.ChainName()
	if name == "" {
		return fmt.Errorf("adapter has an empty chain name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.adapters[name]; exists {
		return fmt.Errorf("adapter for %s already registered", name)
	}
	r.adapters[name] = a
	log.Info().Str("chain", name).Str("chainID", a.ChainID()).Msg("Registered adapter")
	return nil
}

// Lookup returns the adapter for a chain name.
func (r *Registry) Lookup(name string) (ChainAdapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	if !ok {
		return nil, models.NewError(models.KindUnsupportedChain, fmt.Sprintf("no adapter for chain %s", name))
	}
	return a, nil
}

// Remove drops the adapter for name and reports whether one was registered.
func (r *Registry) Remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.adapters[name]
	delete(r.adapters, name)
	return ok
}

// Chains lists the chain names with an adapter, sorted.
func (r *Registry) Chains() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.adapters))
}
