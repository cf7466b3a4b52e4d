package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/brandmill/brandmill/pkg/models"
)

// Repository provides usage archive operations
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// MonthlyUsage is one row of the per-user monthly usage report
type MonthlyUsage struct {
	Month    time.Time       `json:"month"`
	Category models.Category `json:"category"`
	Events   int64           `json:"events"`
	Credits  int64           `json:"credits"`
}

// InsertUsageEvent archives one usage event. Inserting the same event id
// twice is a no-op so queue redeliveries stay harmless.
func (r *Repository) InsertUsageEvent(ctx context.Context, event *models.UsageEvent) error {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}

	query := `
		INSERT INTO usage_events (id, user_id, category, engine, credits, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING
	`

	_, err := r.db.Pool.Exec(ctx, query,
		event.ID, event.UserID, string(event.Category), event.Engine,
		event.Credits, event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert usage event: %w", err)
	}

	return nil
}

// CountEventsSince counts archived events of a category for a user at or
// after the given instant
func (r *Repository) CountEventsSince(ctx context.Context, userID string, category models.Category, since time.Time) (int64, error) {
	query := `
		SELECT COUNT(*)
		FROM usage_events
		WHERE user_id = $1 AND category = $2 AND created_at >= $3
	`

	var count int64
	err := r.db.Pool.QueryRow(ctx, query, userID, string(category), since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count usage events: %w", err)
	}

	return count, nil
}

// MonthlyUsageReport returns per-month event and credit totals for a
// user, newest month first
func (r *Repository) MonthlyUsageReport(ctx context.Context, userID string, months int) ([]MonthlyUsage, error) {
	query := `
		SELECT date_trunc('month', created_at) AS month,
		       category,
		       COUNT(*) AS events,
		       COALESCE(SUM(credits), 0) AS credits
		FROM usage_events
		WHERE user_id = $1
		  AND created_at >= date_trunc('month', now()) - ($2 || ' months')::interval
		GROUP BY month, category
		ORDER BY month DESC, category
	`

	rows, err := r.db.Pool.Query(ctx, query, userID, months)
	if err != nil {
		return nil, fmt.Errorf("failed to query monthly usage: %w", err)
	}
	defer rows.Close()

	var report []MonthlyUsage
	for rows.Next() {
		var row MonthlyUsage
		var category string
		if err := rows.Scan(&row.Month, &category, &row.Events, &row.Credits); err != nil {
			return nil, fmt.Errorf("failed to scan monthly usage row: %w", err)
		}
		row.Category = models.Category(category)
		report = append(report, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read monthly usage rows: %w", err)
	}

	return report, nil
}
