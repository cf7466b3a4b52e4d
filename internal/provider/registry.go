package provider

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/brandmill/brandmill/internal/store"
	"github.com/brandmill/brandmill/pkg/models"
)

// Registry is the per-user runtime view of configured providers. It is a
// pure read/write layer over the state store and is tier-agnostic:
// whether a user's tier permits an engine is the quota gate's concern,
// not the registry's.
type Registry struct {
	store store.Store
}

// Selection is the resolved provider for one generation call
type Selection struct {
	ProviderID string
	Credential string
}

// categoryState is the persisted per-(user, category) provider state
type categoryState struct {
	Credentials map[string]string `json:"credentials,omitempty"`
	Active      string            `json:"active,omitempty"`
}

// NewRegistry creates a registry over the given store
func NewRegistry(s store.Store) *Registry {
	return &Registry{store: s}
}

func stateKey(userID string, category models.Category) string {
	return store.UserKey(userID, "providers", string(category))
}

func (r *Registry) loadState(ctx context.Context, userID string, category models.Category) (*categoryState, error) {
	raw, err := r.store.Get(ctx, stateKey(userID, category))
	if err != nil {
		return nil, fmt.Errorf("failed to load provider state: %w", err)
	}

	state := &categoryState{Credentials: make(map[string]string)}
	if raw == "" {
		return state, nil
	}

	if err := json.Unmarshal([]byte(raw), state); err != nil {
		return nil, fmt.Errorf("failed to parse provider state: %w", err)
	}
	if state.Credentials == nil {
		state.Credentials = make(map[string]string)
	}

	return state, nil
}

func (r *Registry) saveState(ctx context.Context, userID string, category models.Category, state *categoryState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal provider state: %w", err)
	}
	if err := r.store.Set(ctx, stateKey(userID, category), string(raw)); err != nil {
		return fmt.Errorf("failed to save provider state: %w", err)
	}
	return nil
}

// SetCredential stores a credential for a known provider
func (r *Registry) SetCredential(ctx context.Context, userID string, category models.Category, providerID, credential string) error {
	entry, ok := Lookup(providerID)
	if !ok || entry.Category != category {
		return fmt.Errorf("unknown provider %s for category %s", providerID, category)
	}
	if credential == "" {
		return fmt.Errorf("credential must not be empty")
	}

	state, err := r.loadState(ctx, userID, category)
	if err != nil {
		return err
	}

	state.Credentials[providerID] = credential
	return r.saveState(ctx, userID, category, state)
}

// RemoveCredential removes a provider's credential. The active selection
// is left untouched: resolution silently falls back to the first
// remaining configured provider.
func (r *Registry) RemoveCredential(ctx context.Context, userID string, category models.Category, providerID string) error {
	state, err := r.loadState(ctx, userID, category)
	if err != nil {
		return err
	}

	delete(state.Credentials, providerID)
	return r.saveState(ctx, userID, category, state)
}

// SetActive designates the user's default provider for a category
func (r *Registry) SetActive(ctx context.Context, userID string, category models.Category, providerID string) error {
	entry, ok := Lookup(providerID)
	if !ok || entry.Category != category {
		return fmt.Errorf("unknown provider %s for category %s", providerID, category)
	}

	state, err := r.loadState(ctx, userID, category)
	if err != nil {
		return err
	}

	state.Active = providerID
	return r.saveState(ctx, userID, category, state)
}

// Resolve picks the provider for the next generation call. With a
// desired engine it returns that engine or NoProviderConfigured when its
// credential is absent. Otherwise: the active provider if it has a
// credential, else the first configured provider in catalog declaration
// order, else NoProviderConfigured.
func (r *Registry) Resolve(ctx context.Context, userID string, category models.Category, desired string) (*Selection, error) {
	state, err := r.loadState(ctx, userID, category)
	if err != nil {
		return nil, err
	}

	if desired != "" {
		if cred := state.Credentials[desired]; cred != "" {
			return &Selection{ProviderID: desired, Credential: cred}, nil
		}
		return nil, &models.GenerationError{
			Kind:    models.ErrNoProviderConfigured,
			Message: fmt.Sprintf("no credential configured for %s", desired),
			Hint:    fmt.Sprintf("add an API key for %s in provider settings", desired),
		}
	}

	if state.Active != "" {
		if cred := state.Credentials[state.Active]; cred != "" {
			return &Selection{ProviderID: state.Active, Credential: cred}, nil
		}
	}

	for _, entry := range Catalog(category) {
		if cred := state.Credentials[entry.ID]; cred != "" {
			return &Selection{ProviderID: entry.ID, Credential: cred}, nil
		}
	}

	return nil, &models.GenerationError{
		Kind:    models.ErrNoProviderConfigured,
		Message: fmt.Sprintf("no %s provider configured", category),
		Hint:    fmt.Sprintf("add an API key for a %s provider in provider settings", category),
	}
}

// List returns the resolution view of a category for one user
func (r *Registry) List(ctx context.Context, userID string, category models.Category) ([]models.ProviderConfig, error) {
	state, err := r.loadState(ctx, userID, category)
	if err != nil {
		return nil, err
	}

	var configs []models.ProviderConfig
	for _, entry := range Catalog(category) {
		configs = append(configs, models.ProviderConfig{
			ID:             entry.ID,
			Category:       entry.Category,
			HasCredentials: state.Credentials[entry.ID] != "",
			Active:         state.Active == entry.ID,
			MinTier:        entry.MinTier,
		})
	}

	return configs, nil
}
