// Package credits maintains the per-user credit balance debited by
// metered generations. Balances never go negative: debits clamp at zero.
package credits

import (
	"context"
	"fmt"
	"strconv"

	"github.com/brandmill/brandmill/internal/store"
)

// Book manages per-user credit balances over the state store
type Book struct {
	store store.Store
}

// NewBook creates a credit book over the given store
func NewBook(s store.Store) *Book {
	return &Book{store: s}
}

func balanceKey(userID string) string {
	return store.UserKey(userID, "credits")
}

// Balance returns a user's current credit balance. A user with no
// recorded balance has zero credits.
func (b *Book) Balance(ctx context.Context, userID string) (int, error) {
	raw, err := b.store.Get(ctx, balanceKey(userID))
	if err != nil {
		return 0, fmt.Errorf("failed to read credit balance: %w", err)
	}
	if raw == "" {
		return 0, nil
	}

	balance, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("failed to parse credit balance %q: %w", raw, err)
	}

	return balance, nil
}

// Debit subtracts credits from a user's balance, clamping at zero, and
// returns the new balance
func (b *Book) Debit(ctx context.Context, userID string, amount int) (int, error) {
	if amount < 0 {
		return 0, fmt.Errorf("debit amount must not be negative")
	}

	balance, err := b.Balance(ctx, userID)
	if err != nil {
		return 0, err
	}

	balance -= amount
	if balance < 0 {
		balance = 0
	}

	if err := b.store.Set(ctx, balanceKey(userID), strconv.Itoa(balance)); err != nil {
		return 0, fmt.Errorf("failed to write credit balance: %w", err)
	}

	return balance, nil
}

// Credit adds purchased credits to a user's balance and returns the new
// balance
func (b *Book) Credit(ctx context.Context, userID string, amount int) (int, error) {
	if amount < 0 {
		return 0, fmt.Errorf("credit amount must not be negative")
	}

	balance, err := b.Balance(ctx, userID)
	if err != nil {
		return 0, err
	}

	balance += amount
	if err := b.store.Set(ctx, balanceKey(userID), strconv.Itoa(balance)); err != nil {
		return 0, fmt.Errorf("failed to write credit balance: %w", err)
	}

	return balance, nil
}
