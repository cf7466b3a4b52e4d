// Package ledger records generation events and derives rolling monthly
// usage counts from them. The ledger is append-only: events are never
// mutated or deleted, and every count is computed fresh from the event
// log at query time so month boundaries never go stale.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/brandmill/brandmill/internal/logging"
	"github.com/brandmill/brandmill/internal/store"
	"github.com/brandmill/brandmill/pkg/models"
)

// Ledger is the per-user usage event log over the state store
type Ledger struct {
	store  store.Store
	logger *logging.Logger
}

// New creates a ledger over the given store
func New(s store.Store, logger *logging.Logger) *Ledger {
	return &Ledger{store: s, logger: logger}
}

func usageKey(userID string) string {
	return store.UserKey(userID, "usage")
}

// Append records one generation event. Duplicate calls produce duplicate
// counted events by design: each call represents one real generation.
func (l *Ledger) Append(ctx context.Context, event models.UsageEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	raw, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal usage event: %w", err)
	}

	if err := l.store.Append(ctx, usageKey(event.UserID), string(raw)); err != nil {
		return fmt.Errorf("failed to append usage event: %w", err)
	}

	return nil
}

// Events returns all of a user's usage events in append order
func (l *Ledger) Events(ctx context.Context, userID string) ([]models.UsageEvent, error) {
	entries, err := l.store.Range(ctx, usageKey(userID))
	if err != nil {
		return nil, fmt.Errorf("failed to read usage events: %w", err)
	}

	events := make([]models.UsageEvent, 0, len(entries))
	for _, entry := range entries {
		var event models.UsageEvent
		if err := json.Unmarshal([]byte(entry), &event); err != nil {
			// A corrupt entry must not poison every count
			l.logger.WithError(err).WithUserID(userID).Warn("Skipping unreadable usage event")
			continue
		}
		events = append(events, event)
	}

	return events, nil
}

// CountSince returns the number of events of a category recorded at or
// after the given instant
func (l *Ledger) CountSince(ctx context.Context, userID string, category models.Category, since time.Time) (int, error) {
	events, err := l.Events(ctx, userID)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, event := range events {
		if event.Category == category && !event.CreatedAt.Before(since) {
			count++
		}
	}

	return count, nil
}

// CountThisMonth returns the number of events of a category in the
// current calendar month
func (l *Ledger) CountThisMonth(ctx context.Context, userID string, category models.Category) (int, error) {
	return l.CountSince(ctx, userID, category, MonthStart(time.Now()))
}

// MonthStart returns the first instant of the calendar month containing
// t. Month windows are computed in UTC so counts do not shift with the
// server's local timezone; it is recomputed at every query, never
// cached.
func MonthStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
