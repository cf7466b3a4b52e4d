package dispatch

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandmill/brandmill/internal/capability"
	"github.com/brandmill/brandmill/internal/credits"
	"github.com/brandmill/brandmill/internal/ledger"
	"github.com/brandmill/brandmill/internal/logging"
	"github.com/brandmill/brandmill/internal/provider"
	"github.com/brandmill/brandmill/internal/quota"
	"github.com/brandmill/brandmill/internal/store"
	"github.com/brandmill/brandmill/pkg/models"
)

const fallbackBase = "https://img.test/fallback"

type testEnv struct {
	dispatcher *Dispatcher
	registry   *provider.Registry
	adapters   *provider.Adapters
	ledger     *ledger.Ledger
	credits    *credits.Book
}

func setupTestEnv(t *testing.T) *testEnv {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}

	s, err := store.NewRedisStore(mr.Host(), mr.Server().Addr().Port, "", 0)
	if err != nil {
		mr.Close()
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() {
		s.Close()
		mr.Close()
	})

	logger, err := logging.NewDefaultLogger()
	require.NoError(t, err)

	matrix := capability.NewMatrix()
	l := ledger.New(s, logger)
	book := credits.NewBook(s)
	registry := provider.NewRegistry(s)
	adapters := provider.NewAdapters()

	d := New(Config{FallbackBaseURL: fallbackBase}, Deps{
		Gate:     quota.NewGate(matrix, l, logger),
		Registry: registry,
		Adapters: adapters,
		Matrix:   matrix,
		Ledger:   l,
		Credits:  book,
		Logger:   logger,
	})

	return &testEnv{
		dispatcher: d,
		registry:   registry,
		adapters:   adapters,
		ledger:     l,
		credits:    book,
	}
}

func staticAdapter(assetURL string) provider.Adapter {
	return provider.AdapterFunc(func(ctx context.Context, credential, prompt string, options map[string]string) (string, error) {
		return assetURL, nil
	})
}

func failingAdapter(msg string) provider.Adapter {
	return provider.AdapterFunc(func(ctx context.Context, credential, prompt string, options map[string]string) (string, error) {
		return "", errors.New(msg)
	})
}

func TestGenerate_ImageFallbackWhenNoProviderConfigured(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	result, err := env.dispatcher.Generate(ctx, models.GenerationRequest{
		Category: models.CategoryImage,
		Prompt:   "blue sneakers with red laces",
		UserID:   "u1",
		Tier:     models.TierFree,
	})
	require.NoError(t, err)

	assert.True(t, result.Fallback)
	assert.Equal(t, FallbackEngine, result.EngineUsed)
	assert.Equal(t, 0, result.CostCredits)
	assert.Equal(t, fallbackBase+"/blue,sneakers", result.AssetURL)

	// The fallback is a real output: it is ledgered at zero cost
	events, err := env.ledger.Events(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, 0, events[0].Credits)

	// And it never debits
	balance, err := env.credits.Balance(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 0, balance)
}

func TestGenerate_ImageFallbackWhenAdapterFails(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.registry.SetCredential(ctx, "u1", models.CategoryImage, "stability", "key"))
	env.adapters.Register("stability", failingAdapter("upstream 500"))

	result, err := env.dispatcher.Generate(ctx, models.GenerationRequest{
		Category: models.CategoryImage,
		Prompt:   "minimal espresso poster",
		UserID:   "u1",
		Tier:     models.TierPro,
	})
	require.NoError(t, err)

	assert.True(t, result.Fallback)
	assert.True(t, strings.HasPrefix(result.AssetURL, fallbackBase+"/"))
}

func TestGenerate_ImageSuccessUsesProvider(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.registry.SetCredential(ctx, "u1", models.CategoryImage, "stability", "key"))
	env.adapters.Register("stability", staticAdapter("https://cdn.stability.test/a.png"))

	result, err := env.dispatcher.Generate(ctx, models.GenerationRequest{
		Category: models.CategoryImage,
		Prompt:   "minimal espresso poster",
		UserID:   "u1",
		Tier:     models.TierPro,
	})
	require.NoError(t, err)

	assert.False(t, result.Fallback)
	assert.Equal(t, "stability", result.EngineUsed)
	assert.Equal(t, "https://cdn.stability.test/a.png", result.AssetURL)
}

func TestGenerate_VideoNoProviderSurfaces(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	_, err := env.dispatcher.Generate(ctx, models.GenerationRequest{
		Category: models.CategoryVideo,
		Prompt:   "product teaser",
		UserID:   "u1",
		Tier:     models.TierPro,
	})
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.ErrNoProviderConfigured))

	// A purely failed attempt leaves no ledger entry
	events, err2 := env.ledger.Events(ctx, "u1")
	require.NoError(t, err2)
	assert.Empty(t, events)
}

func TestGenerate_VideoAdapterFailureIsUnavailable(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.registry.SetCredential(ctx, "u1", models.CategoryVideo, "luma", "key"))
	env.adapters.Register("luma", failingAdapter("render farm down"))

	_, err := env.dispatcher.Generate(ctx, models.GenerationRequest{
		Category: models.CategoryVideo,
		Prompt:   "product teaser",
		UserID:   "u1",
		Tier:     models.TierPro,
	})
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.ErrGenerationUnavailable))

	events, err2 := env.ledger.Events(ctx, "u1")
	require.NoError(t, err2)
	assert.Empty(t, events)
}

func TestGenerate_LLMErrorsCarryDistinctHints(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	// No provider configured
	_, err := env.dispatcher.Generate(ctx, models.GenerationRequest{
		Category: models.CategoryLLM,
		Prompt:   "write a tagline",
		UserID:   "u1",
		Tier:     models.TierPro,
	})
	require.Error(t, err)
	noProvider, ok := models.AsGenerationError(err)
	require.True(t, ok)
	assert.Equal(t, models.ErrNoProviderConfigured, noProvider.Kind)
	assert.Contains(t, noProvider.Hint, "API key")

	// Provider call failed
	require.NoError(t, env.registry.SetCredential(ctx, "u1", models.CategoryLLM, "openai", "key"))
	env.adapters.Register("openai", failingAdapter("429 too many requests"))

	_, err = env.dispatcher.Generate(ctx, models.GenerationRequest{
		Category: models.CategoryLLM,
		Prompt:   "write a tagline",
		UserID:   "u1",
		Tier:     models.TierPro,
	})
	require.Error(t, err)
	callFailed, ok := models.AsGenerationError(err)
	require.True(t, ok)
	assert.Equal(t, models.ErrProviderCallFailed, callFailed.Kind)
	assert.NotEqual(t, noProvider.Hint, callFailed.Hint)
}

func TestGenerate_TierDependentDebit(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	env.adapters.Register("luma", staticAdapter("https://cdn.luma.test/v.mp4"))

	// Hunter tier: entry engine debits exactly 1
	require.NoError(t, env.registry.SetCredential(ctx, "hunter-user", models.CategoryVideo, "luma", "key"))
	_, err := env.credits.Credit(ctx, "hunter-user", 10)
	require.NoError(t, err)

	result, err := env.dispatcher.Generate(ctx, models.GenerationRequest{
		Category: models.CategoryVideo,
		Engine:   "luma",
		Prompt:   "product teaser",
		UserID:   "hunter-user",
		Tier:     models.TierHunter,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.CostCredits)

	balance, err := env.credits.Balance(ctx, "hunter-user")
	require.NoError(t, err)
	assert.Equal(t, 9, balance)

	// Agency tier: the same engine debits 0
	require.NoError(t, env.registry.SetCredential(ctx, "agency-user", models.CategoryVideo, "luma", "key"))
	_, err = env.credits.Credit(ctx, "agency-user", 10)
	require.NoError(t, err)

	result, err = env.dispatcher.Generate(ctx, models.GenerationRequest{
		Category: models.CategoryVideo,
		Engine:   "luma",
		Prompt:   "product teaser",
		UserID:   "agency-user",
		Tier:     models.TierAgency,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, result.CostCredits)

	balance, err = env.credits.Balance(ctx, "agency-user")
	require.NoError(t, err)
	assert.Equal(t, 10, balance)
}

func TestGenerate_QuotaRejectionBeforeProviderCall(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	var calls atomic.Int32
	env.adapters.Register("luma", provider.AdapterFunc(func(ctx context.Context, credential, prompt string, options map[string]string) (string, error) {
		calls.Add(1)
		return "https://cdn.luma.test/v.mp4", nil
	}))
	require.NoError(t, env.registry.SetCredential(ctx, "u1", models.CategoryVideo, "luma", "key"))

	limit := capability.NewMatrix().LimitsFor(models.TierFree).MonthlyVideoLimit

	for i := 0; i < limit; i++ {
		_, err := env.dispatcher.Generate(ctx, models.GenerationRequest{
			Category: models.CategoryVideo,
			Prompt:   "teaser",
			UserID:   "u1",
			Tier:     models.TierFree,
		})
		require.NoError(t, err)
	}

	_, err := env.dispatcher.Generate(ctx, models.GenerationRequest{
		Category: models.CategoryVideo,
		Prompt:   "teaser",
		UserID:   "u1",
		Tier:     models.TierFree,
	})
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.ErrQuotaExceeded))

	// The rejected request never reached the adapter
	assert.Equal(t, int32(limit), calls.Load())
}

func TestGenerate_ImpliedPremiumEngineRejectedOnFreeTier(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	// The only configured video credential is a premium engine. The
	// request names no engine, so resolution implies it.
	var calls atomic.Int32
	env.adapters.Register("runway", provider.AdapterFunc(func(ctx context.Context, credential, prompt string, options map[string]string) (string, error) {
		calls.Add(1)
		return "https://cdn.runway.test/v.mp4", nil
	}))
	require.NoError(t, env.registry.SetCredential(ctx, "u1", models.CategoryVideo, "runway", "key"))

	_, err := env.dispatcher.Generate(ctx, models.GenerationRequest{
		Category: models.CategoryVideo,
		Prompt:   "product teaser",
		UserID:   "u1",
		Tier:     models.TierFree,
	})
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.ErrTierInsufficient))

	// Rejected before any network call, and never ledgered or debited
	assert.Zero(t, calls.Load())
	events, err2 := env.ledger.Events(ctx, "u1")
	require.NoError(t, err2)
	assert.Empty(t, events)
}

func TestGenerate_ImpliedIneligibleImageEngineFallsBack(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	// flux is outside the free tier's provider allow-list; with it as the
	// only configured image engine, the request lands on the keyless
	// fallback instead of the premium adapter.
	var calls atomic.Int32
	env.adapters.Register("flux", provider.AdapterFunc(func(ctx context.Context, credential, prompt string, options map[string]string) (string, error) {
		calls.Add(1)
		return "https://cdn.flux.test/a.png", nil
	}))
	require.NoError(t, env.registry.SetCredential(ctx, "u1", models.CategoryImage, "flux", "key"))

	result, err := env.dispatcher.Generate(ctx, models.GenerationRequest{
		Category: models.CategoryImage,
		Prompt:   "minimal espresso poster",
		UserID:   "u1",
		Tier:     models.TierFree,
	})
	require.NoError(t, err)

	assert.True(t, result.Fallback)
	assert.Equal(t, FallbackEngine, result.EngineUsed)
	assert.Equal(t, 0, result.CostCredits)
	assert.Zero(t, calls.Load())
}

type capturingPublisher struct {
	events []*models.UsageEvent
}

func (p *capturingPublisher) PublishUsageEvent(ctx context.Context, event *models.UsageEvent) error {
	p.events = append(p.events, event)
	return nil
}

func TestGenerate_PublishedEventSharesLedgerID(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	pub := &capturingPublisher{}
	env.dispatcher.deps.Publisher = pub

	require.NoError(t, env.registry.SetCredential(ctx, "u1", models.CategoryImage, "stability", "key"))
	env.adapters.Register("stability", staticAdapter("https://cdn.stability.test/a.png"))

	_, err := env.dispatcher.Generate(ctx, models.GenerationRequest{
		Category: models.CategoryImage,
		Prompt:   "poster",
		UserID:   "u1",
		Tier:     models.TierPro,
	})
	require.NoError(t, err)

	events, err := env.ledger.Events(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Len(t, pub.events, 1)

	// The archive dedupes redeliveries on the event id, so the published
	// copy must carry the same id the ledger recorded.
	assert.NotEmpty(t, events[0].ID)
	assert.Equal(t, events[0].ID, pub.events[0].ID)
	assert.Equal(t, events[0].CreatedAt, pub.events[0].CreatedAt)
}

func TestGenerate_SettlesAfterCallerGoneAway(t *testing.T) {
	env := setupTestEnv(t)

	require.NoError(t, env.registry.SetCredential(context.Background(), "u1", models.CategoryVideo, "luma", "key"))
	env.adapters.Register("luma", staticAdapter("https://cdn.luma.test/v.mp4"))
	_, err := env.credits.Credit(context.Background(), "u1", 10)
	require.NoError(t, err)

	// The caller disconnected before the result came back; the work still
	// completes and the accounting still lands.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := env.dispatcher.Generate(ctx, models.GenerationRequest{
		Category: models.CategoryVideo,
		Prompt:   "product teaser",
		UserID:   "u1",
		Tier:     models.TierHunter,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.CostCredits)

	events, err := env.ledger.Events(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, events, 1)

	balance, err := env.credits.Balance(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 9, balance)
}

type erroringPublisher struct{}

func (erroringPublisher) PublishUsageEvent(ctx context.Context, event *models.UsageEvent) error {
	return errors.New("broker unreachable")
}

func TestGenerate_PublisherFailureIsBestEffort(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	env.dispatcher.deps.Publisher = erroringPublisher{}

	require.NoError(t, env.registry.SetCredential(ctx, "u1", models.CategoryImage, "stability", "key"))
	env.adapters.Register("stability", staticAdapter("https://cdn.stability.test/a.png"))

	result, err := env.dispatcher.Generate(ctx, models.GenerationRequest{
		Category: models.CategoryImage,
		Prompt:   "poster",
		UserID:   "u1",
		Tier:     models.TierPro,
	})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.stability.test/a.png", result.AssetURL)
}

func TestGenerateBatch_FailureIsolation(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	require.NoError(t, env.registry.SetCredential(ctx, "u1", models.CategoryImage, "stability", "key"))
	require.NoError(t, env.registry.SetCredential(ctx, "u1", models.CategoryLLM, "openai", "key"))
	env.adapters.Register("stability", staticAdapter("https://cdn.stability.test/a.png"))
	env.adapters.Register("openai", failingAdapter("upstream down"))

	reqs := []models.GenerationRequest{
		{Category: models.CategoryImage, Prompt: "poster one", UserID: "u1", Tier: models.TierPro},
		{Category: models.CategoryLLM, Prompt: "tagline", UserID: "u1", Tier: models.TierPro},
		{Category: models.CategoryImage, Prompt: "poster two", UserID: "u1", Tier: models.TierPro},
	}

	outcomes := env.dispatcher.GenerateBatch(ctx, reqs)
	require.Len(t, outcomes, 3)

	// Outcomes stay in request order
	assert.Equal(t, 0, outcomes[0].Index)
	assert.Equal(t, 2, outcomes[2].Index)

	// The failing llm item does not abort its siblings
	assert.NoError(t, outcomes[0].Err)
	assert.Error(t, outcomes[1].Err)
	assert.NoError(t, outcomes[2].Err)
	assert.NotNil(t, outcomes[0].Result)
	assert.NotNil(t, outcomes[2].Result)
}

func TestGenerate_UnknownCategoryRejected(t *testing.T) {
	env := setupTestEnv(t)

	_, err := env.dispatcher.Generate(context.Background(), models.GenerationRequest{
		Category: models.Category("audio"),
		Prompt:   "jingle",
		UserID:   "u1",
		Tier:     models.TierPro,
	})
	assert.Error(t, err)
}
