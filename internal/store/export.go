package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// SnapshotVersion is the current export document version
const SnapshotVersion = 1

// Snapshot is an opaque, loss-free export of one user's persisted state:
// provider credentials and active selections, usage events, credit
// balance and webhook registrations. Importing a snapshot into a fresh
// store reproduces identical quota and admission decisions.
type Snapshot struct {
	Version    int                 `json:"version"`
	UserID     string              `json:"user_id"`
	ExportedAt time.Time           `json:"exported_at"`
	Values     map[string]string   `json:"values,omitempty"`
	Lists      map[string][]string `json:"lists,omitempty"`
}

// Export captures all of a user's state from the store
func Export(ctx context.Context, s Store, userID string) (*Snapshot, error) {
	keys, err := s.Keys(ctx, UserPrefix(userID))
	if err != nil {
		return nil, fmt.Errorf("failed to list user keys: %w", err)
	}
	sort.Strings(keys)

	snap := &Snapshot{
		Version:    SnapshotVersion,
		UserID:     userID,
		ExportedAt: time.Now().UTC(),
		Values:     make(map[string]string),
		Lists:      make(map[string][]string),
	}

	for _, key := range keys {
		kind, err := s.KindOf(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("failed to inspect key %s: %w", key, err)
		}

		switch kind {
		case KindValue:
			value, err := s.Get(ctx, key)
			if err != nil {
				return nil, fmt.Errorf("failed to export key %s: %w", key, err)
			}
			snap.Values[key] = value
		case KindList:
			entries, err := s.Range(ctx, key)
			if err != nil {
				return nil, fmt.Errorf("failed to export list %s: %w", key, err)
			}
			snap.Lists[key] = entries
		case KindNone:
			// Key expired between scan and read
		}
	}

	return snap, nil
}

// Import restores a user's state into the store. Existing state for the
// user is removed first so the result matches the snapshot exactly.
func Import(ctx context.Context, s Store, snap *Snapshot) error {
	if snap == nil {
		return fmt.Errorf("nil snapshot")
	}
	if snap.Version != SnapshotVersion {
		return fmt.Errorf("unsupported snapshot version %d", snap.Version)
	}

	// Every key must belong to the snapshot's user: an import must never
	// write outside that namespace, and the clear below must actually
	// cover what gets written.
	prefix := UserPrefix(snap.UserID)
	for key := range snap.Values {
		if !strings.HasPrefix(key, prefix) {
			return fmt.Errorf("snapshot key %s does not belong to user %s", key, snap.UserID)
		}
	}
	for key := range snap.Lists {
		if !strings.HasPrefix(key, prefix) {
			return fmt.Errorf("snapshot key %s does not belong to user %s", key, snap.UserID)
		}
	}

	if err := Clear(ctx, s, snap.UserID); err != nil {
		return fmt.Errorf("failed to clear existing state: %w", err)
	}

	for key, value := range snap.Values {
		if err := s.Set(ctx, key, value); err != nil {
			return fmt.Errorf("failed to import key %s: %w", key, err)
		}
	}

	for key, entries := range snap.Lists {
		for _, entry := range entries {
			if err := s.Append(ctx, key, entry); err != nil {
				return fmt.Errorf("failed to import list %s: %w", key, err)
			}
		}
	}

	return nil
}

// Clear removes all of a user's state from the store
func Clear(ctx context.Context, s Store, userID string) error {
	keys, err := s.Keys(ctx, UserPrefix(userID))
	if err != nil {
		return fmt.Errorf("failed to list user keys: %w", err)
	}

	for _, key := range keys {
		if err := s.Delete(ctx, key); err != nil {
			return fmt.Errorf("failed to delete key %s: %w", key, err)
		}
	}

	return nil
}
