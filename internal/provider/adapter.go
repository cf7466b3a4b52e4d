package provider

import (
	"context"
	"sync"
)

// Adapter generates one asset from a prompt using vendor credentials.
// Each adapter is a black box over one vendor API: it returns an asset
// reference (usually a URL) or an error.
type Adapter interface {
	Generate(ctx context.Context, credential, prompt string, options map[string]string) (string, error)
}

// AdapterFunc adapts a plain function to the Adapter interface
type AdapterFunc func(ctx context.Context, credential, prompt string, options map[string]string) (string, error)

// Generate implements Adapter
func (f AdapterFunc) Generate(ctx context.Context, credential, prompt string, options map[string]string) (string, error) {
	return f(ctx, credential, prompt, options)
}

// Adapters is a registry of adapter implementations keyed by engine id,
// so adding a vendor is additive rather than another switch arm
type Adapters struct {
	mu   sync.RWMutex
	byID map[string]Adapter
}

// NewAdapters creates an empty adapter registry
func NewAdapters() *Adapters {
	return &Adapters{byID: make(map[string]Adapter)}
}

// Register registers an adapter under an engine id, replacing any
// previous registration
func (a *Adapters) Register(id string, adapter Adapter) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.byID[id] = adapter
}

// Get returns the adapter registered for an engine id
func (a *Adapters) Get(id string) (Adapter, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	adapter, ok := a.byID[id]
	return adapter, ok
}
