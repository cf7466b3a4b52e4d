package store

import (
	"context"
	"fmt"
	"strings"
)

// Kind identifies how a key's data is stored
type Kind string

// Key kinds
const (
	KindNone  Kind = "none"
	KindValue Kind = "value"
	KindList  Kind = "list"
)

// Store is the injectable persistence interface for all per-user state:
// provider credentials, active-provider selections, usage events, credit
// balances and webhook registrations. Scalar state lives in value keys;
// the usage ledger lives in append-only list keys. A miss is not an
// error: Get returns the empty string for absent keys.
type Store interface {
	// Get retrieves a value key, returning "" when the key is absent
	Get(ctx context.Context, key string) (string, error)

	// Set writes a value key
	Set(ctx context.Context, key string, value string) error

	// Delete removes a key of any kind
	Delete(ctx context.Context, key string) error

	// Append appends an entry to a list key, creating it if absent
	Append(ctx context.Context, key string, value string) error

	// Range returns all entries of a list key in append order
	Range(ctx context.Context, key string) ([]string, error)

	// Keys returns all keys with the given prefix
	Keys(ctx context.Context, prefix string) ([]string, error)

	// KindOf reports how the given key is stored
	KindOf(ctx context.Context, key string) (Kind, error)

	// Ping verifies the backing store is reachable
	Ping(ctx context.Context) error

	// Close releases the backing connection
	Close() error
}

// UserKey builds a namespaced key for per-user state
func UserKey(userID string, parts ...string) string {
	return fmt.Sprintf("user:%s:%s", userID, strings.Join(parts, ":"))
}

// UserPrefix returns the key prefix owning all of a user's state
func UserPrefix(userID string) string {
	return fmt.Sprintf("user:%s:", userID)
}
