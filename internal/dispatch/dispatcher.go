// Package dispatch routes admitted generation requests to the right
// provider adapter, applies the per-category fallback policy, and does
// the post-success accounting: ledger append, credit debit, archive
// publish and auto-post notification.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/brandmill/brandmill/internal/capability"
	"github.com/brandmill/brandmill/internal/credits"
	"github.com/brandmill/brandmill/internal/ledger"
	"github.com/brandmill/brandmill/internal/logging"
	"github.com/brandmill/brandmill/internal/metrics"
	"github.com/brandmill/brandmill/internal/provider"
	"github.com/brandmill/brandmill/internal/quota"
	"github.com/brandmill/brandmill/internal/tracing"
	"github.com/brandmill/brandmill/pkg/models"
)

// UsagePublisher publishes usage events for asynchronous archiving
type UsagePublisher interface {
	PublishUsageEvent(ctx context.Context, event *models.UsageEvent) error
}

// AssetMirror copies a generated asset to durable storage and returns
// the durable URL
type AssetMirror interface {
	MirrorAsset(ctx context.Context, userID, assetURL string) (string, error)
}

// Notifier delivers auto-post notifications for completed generations
type Notifier interface {
	Notify(ctx context.Context, userID, event string, data interface{}) error
}

// Config holds dispatcher configuration
type Config struct {
	FallbackBaseURL string
}

// Deps bundles the dispatcher's collaborators. Publisher, Mirror and
// Notifier are optional; a nil value disables that side channel.
type Deps struct {
	Gate      *quota.Gate
	Registry  *provider.Registry
	Adapters  *provider.Adapters
	Matrix    *capability.Matrix
	Ledger    *ledger.Ledger
	Credits   *credits.Book
	Logger    *logging.Logger
	Publisher UsagePublisher
	Mirror    AssetMirror
	Notifier  Notifier
}

// Dispatcher coordinates a generation call end to end
type Dispatcher struct {
	cfg  Config
	deps Deps
}

// New creates a generation dispatcher
func New(cfg Config, deps Deps) *Dispatcher {
	return &Dispatcher{cfg: cfg, deps: deps}
}

// Generate runs one generation request through admission, provider
// resolution, the adapter call and the fallback policy. A nil error
// always comes with a usable asset; a non-nil error is a typed
// GenerationError (or a wrapped infrastructure error) and leaves no
// ledger entry and no debit behind.
func (d *Dispatcher) Generate(ctx context.Context, req models.GenerationRequest) (*models.GenerationResult, error) {
	started := time.Now()

	// In-flight generations are never cancelled: once admitted, the work
	// completes and is ledgered and debited even if the caller has gone
	// away. The ledger records usage truth, not caller interest.
	ctx = context.WithoutCancel(ctx)

	span, ctx := tracing.StartSpan(ctx, "dispatch.Generate")
	defer tracing.FinishSpan(span)
	tracing.SetTag(span, "category", string(req.Category))
	tracing.SetTag(span, "user_id", req.UserID)

	if !req.Category.Valid() {
		return nil, fmt.Errorf("unknown generation category %q", req.Category)
	}

	// Admission happens before any network call
	if err := d.deps.Gate.Admit(ctx, req); err != nil {
		tracing.LogError(span, err)
		metrics.GenerationsTotal.WithLabelValues(string(req.Category), req.Engine, "rejected").Inc()
		return nil, err
	}

	assetURL, engineUsed, err := d.callProvider(ctx, req)

	isFallback := false
	if err != nil {
		assetURL, engineUsed, err = d.applyFallback(req, err)
		if err != nil {
			tracing.LogError(span, err)
			metrics.GenerationsTotal.WithLabelValues(string(req.Category), req.Engine, "error").Inc()
			return nil, err
		}
		isFallback = true
		metrics.GenerationFallbacksTotal.WithLabelValues(string(req.Category)).Inc()
	}

	cost := 0
	if !isFallback {
		cost = d.deps.Matrix.CostFor(engineUsed, req.Tier)
	}

	result := &models.GenerationResult{
		AssetURL:    assetURL,
		EngineUsed:  engineUsed,
		CostCredits: cost,
		Fallback:    isFallback,
		GeneratedAt: time.Now().UTC(),
	}

	d.mirrorAsset(ctx, req, result)
	d.settle(ctx, req, result, time.Since(started))

	metrics.GenerationsTotal.WithLabelValues(string(req.Category), engineUsed, "success").Inc()
	return result, nil
}

// callProvider resolves a provider and invokes its adapter
func (d *Dispatcher) callProvider(ctx context.Context, req models.GenerationRequest) (string, string, error) {
	sel, err := d.deps.Registry.Resolve(ctx, req.UserID, req.Category, req.Engine)
	if err != nil {
		return "", "", err
	}

	// Resolution is tier-agnostic and may imply an engine the user never
	// named. Entitlements are checked again for the resolved engine, still
	// before any network call.
	if err := d.deps.Gate.AdmitEngine(req.UserID, req.Tier, req.Category, sel.ProviderID); err != nil {
		return "", "", err
	}

	adapter, ok := d.deps.Adapters.Get(sel.ProviderID)
	if !ok {
		return "", "", &models.GenerationError{
			Kind:    models.ErrProviderCallFailed,
			Message: fmt.Sprintf("no adapter registered for %s", sel.ProviderID),
		}
	}

	start := time.Now()
	assetURL, err := adapter.Generate(ctx, sel.Credential, req.Prompt, req.Options)
	duration := time.Since(start)

	d.deps.Logger.LogProviderCall(sel.ProviderID, string(req.Category), duration, err)
	metrics.ProviderCallDuration.WithLabelValues(sel.ProviderID, string(req.Category)).Observe(duration.Seconds())

	if err != nil {
		return "", "", &models.GenerationError{
			Kind:    models.ErrProviderCallFailed,
			Message: fmt.Sprintf("%s call failed", sel.ProviderID),
			Hint:    "the provider rejected the call; check its status page or retry",
			Err:     err,
		}
	}
	if assetURL == "" {
		return "", "", &models.GenerationError{
			Kind:    models.ErrProviderCallFailed,
			Message: fmt.Sprintf("%s returned an empty asset reference", sel.ProviderID),
		}
	}

	return assetURL, sel.ProviderID, nil
}

// applyFallback maps a provider failure to the category's fallback
// policy. Only the image category has a keyless fallback; it always
// succeeds and is always free.
func (d *Dispatcher) applyFallback(req models.GenerationRequest, cause error) (string, string, error) {
	switch req.Category {
	case models.CategoryImage:
		// Images always recover locally: no usable provider (missing
		// credentials or below the engine's tier) and adapter failures
		// all land on the keyless fallback.
		return FallbackImageURL(d.cfg.FallbackBaseURL, req.Prompt), FallbackEngine, nil

	case models.CategoryVideo:
		// Resolution outcomes surface with their own kind; only real
		// provider failures become "unavailable".
		if models.IsKind(cause, models.ErrNoProviderConfigured) || models.IsKind(cause, models.ErrTierInsufficient) {
			return "", "", cause
		}
		return "", "", &models.GenerationError{
			Kind:    models.ErrGenerationUnavailable,
			Message: "video generation is unavailable right now",
			Hint:    "no fallback exists for video; retry once the provider recovers",
			Err:     cause,
		}

	default:
		// llm and voice surface the typed cause unchanged: the hint set
		// at resolution or call time already distinguishes "no provider
		// configured" from "provider call failed".
		return "", "", cause
	}
}

// mirrorAsset copies the asset to durable storage when a mirror is
// configured, keeping the original URL on any failure
func (d *Dispatcher) mirrorAsset(ctx context.Context, req models.GenerationRequest, result *models.GenerationResult) {
	if d.deps.Mirror == nil || result.Fallback {
		return
	}

	mirrored, err := d.deps.Mirror.MirrorAsset(ctx, req.UserID, result.AssetURL)
	if err != nil {
		d.deps.Logger.WithError(err).WithUserID(req.UserID).Warn("Asset mirroring failed; returning provider URL")
		metrics.AssetsMirroredTotal.WithLabelValues("error").Inc()
		return
	}

	metrics.AssetsMirroredTotal.WithLabelValues("success").Inc()
	result.AssetURL = mirrored
}

// settle does the post-success accounting: ledger append then credit
// debit, in that order, each best-effort. A persistence failure must
// never block returning the already-produced asset.
func (d *Dispatcher) settle(ctx context.Context, req models.GenerationRequest, result *models.GenerationResult, duration time.Duration) {
	// The id is minted here so the ledger entry and the published copy
	// carry the same one; the archive dedupes redeliveries on it.
	event := models.UsageEvent{
		ID:        uuid.New().String(),
		UserID:    req.UserID,
		Category:  req.Category,
		Engine:    result.EngineUsed,
		Credits:   result.CostCredits,
		CreatedAt: result.GeneratedAt,
	}

	if err := d.deps.Ledger.Append(ctx, event); err != nil {
		d.deps.Logger.WithError(err).WithUserID(req.UserID).Warn("Usage ledger append failed; returning asset anyway")
	}

	if result.CostCredits > 0 {
		if _, err := d.deps.Credits.Debit(ctx, req.UserID, result.CostCredits); err != nil {
			d.deps.Logger.WithError(err).WithUserID(req.UserID).Warn("Credit debit failed; returning asset anyway")
		} else {
			metrics.CreditsDebitedTotal.WithLabelValues(result.EngineUsed, string(req.Tier)).Add(float64(result.CostCredits))
		}
	}

	if d.deps.Publisher != nil {
		if err := d.deps.Publisher.PublishUsageEvent(ctx, &event); err != nil {
			d.deps.Logger.WithError(err).WithUserID(req.UserID).Warn("Usage event publish failed")
		} else {
			metrics.UsageEventsPublishedTotal.Inc()
		}
	}

	if d.deps.Notifier != nil && d.deps.Matrix.HasFeature(req.Tier, capability.FeatureAutoPost) {
		if err := d.deps.Notifier.Notify(ctx, req.UserID, models.WebhookEventGenerationCompleted, result); err != nil {
			d.deps.Logger.WithError(err).WithUserID(req.UserID).Warn("Auto-post notification failed")
		}
	}

	d.deps.Logger.LogGeneration(req.UserID, string(req.Category), result.EngineUsed,
		result.CostCredits, result.Fallback, duration)
}

// BatchOutcome is the result of one item in a batch generation
type BatchOutcome struct {
	Index  int                      `json:"index"`
	Result *models.GenerationResult `json:"result,omitempty"`
	Err    error                    `json:"-"`
}

// GenerateBatch runs several generation requests in parallel. Items are
// independent and failure-isolated: one item's failure never aborts its
// siblings, and all outcomes are gathered before returning.
func (d *Dispatcher) GenerateBatch(ctx context.Context, reqs []models.GenerationRequest) []BatchOutcome {
	outcomes := make([]BatchOutcome, len(reqs))

	var wg sync.WaitGroup
	for i, req := range reqs {
		wg.Add(1)
		go func(i int, req models.GenerationRequest) {
			defer wg.Done()
			result, err := d.Generate(ctx, req)
			outcomes[i] = BatchOutcome{Index: i, Result: result, Err: err}
		}(i, req)
	}
	wg.Wait()

	return outcomes
}
