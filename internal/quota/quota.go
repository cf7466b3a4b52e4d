// Package quota admits or rejects generation attempts before any network
// call is made, combining the capability matrix with fresh usage counts
// from the ledger.
package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/brandmill/brandmill/internal/capability"
	"github.com/brandmill/brandmill/internal/ledger"
	"github.com/brandmill/brandmill/internal/logging"
	"github.com/brandmill/brandmill/internal/metrics"
	"github.com/brandmill/brandmill/internal/provider"
	"github.com/brandmill/brandmill/pkg/models"
)

// Gate evaluates admission decisions. The check here and the ledger
// append after a successful generation are intentionally not atomic:
// counters live client-side without a central lock, so two truly
// concurrent calls can both observe room under the limit. That soft
// overshoot is an accepted property of the design, not a race to fix.
type Gate struct {
	matrix *capability.Matrix
	ledger *ledger.Ledger
	logger *logging.Logger
}

// NewGate creates a quota gate
func NewGate(matrix *capability.Matrix, l *ledger.Ledger, logger *logging.Logger) *Gate {
	return &Gate{matrix: matrix, ledger: l, logger: logger}
}

// Admit decides whether a generation request may proceed. It returns nil
// on admission or a typed GenerationError describing the rejection.
func (g *Gate) Admit(ctx context.Context, req models.GenerationRequest) error {
	rec := g.matrix.LimitsFor(req.Tier)

	// Monthly video quota, derived fresh from the ledger at every check
	if req.Category == models.CategoryVideo && !capability.IsUnlimited(rec.MonthlyVideoLimit) {
		used, err := g.ledger.CountSince(ctx, req.UserID, models.CategoryVideo, ledger.MonthStart(time.Now()))
		if err != nil {
			return fmt.Errorf("failed to count monthly usage: %w", err)
		}

		if used >= rec.MonthlyVideoLimit {
			g.logger.LogQuotaDecision(req.UserID, string(req.Category), string(req.Tier), false, "quota_exceeded")
			metrics.QuotaRejectionsTotal.WithLabelValues(string(models.ErrQuotaExceeded)).Inc()
			return &models.GenerationError{
				Kind:    models.ErrQuotaExceeded,
				Message: fmt.Sprintf("monthly video limit of %d reached", rec.MonthlyVideoLimit),
				Hint:    "upgrade your plan to raise the monthly video limit",
				Limit:   rec.MonthlyVideoLimit,
			}
		}
	}

	// Engine-level tier requirements for an explicitly requested engine.
	// Implied engines are validated again after resolution, still before
	// any network call.
	if req.Engine != "" {
		if err := g.AdmitEngine(req.UserID, req.Tier, req.Category, req.Engine); err != nil {
			return err
		}
	}

	g.logger.LogQuotaDecision(req.UserID, string(req.Category), string(req.Tier), true, "")
	return nil
}

// AdmitEngine validates the engine-level tier requirements for one
// engine, whether requested explicitly or implied by provider
// resolution. A nil return admits the engine.
func (g *Gate) AdmitEngine(userID string, tier models.Tier, category models.Category, engine string) error {
	entry, ok := provider.Lookup(engine)
	if !ok {
		return nil
	}

	if !provider.TierSatisfies(tier, entry.MinTier) || !g.matrix.CanUseProvider(tier, engine) {
		g.logger.LogQuotaDecision(userID, string(category), string(tier), false, "tier_insufficient")
		metrics.QuotaRejectionsTotal.WithLabelValues(string(models.ErrTierInsufficient)).Inc()
		return &models.GenerationError{
			Kind:    models.ErrTierInsufficient,
			Message: fmt.Sprintf("engine %s requires the %s tier or higher", engine, entry.MinTier),
			Hint:    "upgrade your plan to unlock this engine",
		}
	}

	return nil
}
