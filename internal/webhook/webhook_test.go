package webhook

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandmill/brandmill/internal/logging"
	"github.com/brandmill/brandmill/internal/store"
	"github.com/brandmill/brandmill/pkg/models"
)

func setupTestService(t *testing.T) (*Service, *Repository, func()) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	st, err := store.NewRedisStore(mr.Host(), mr.Server().Addr().Port, "", 0)
	if err != nil {
		mr.Close()
		t.Fatalf("Failed to create store: %v", err)
	}

	logger, err := logging.NewDefaultLogger()
	require.NoError(t, err)

	repo := NewRepository(st)
	return NewService(repo, logger), repo, func() {
		st.Close()
		mr.Close()
	}
}

func TestRepositoryCreateListDelete(t *testing.T) {
	_, repo, cleanup := setupTestService(t)
	defer cleanup()

	ctx := context.Background()

	wh := &models.Webhook{
		UserID:   "user-1",
		URL:      "https://example.com/hooks",
		Events:   models.WebhookEvents{GenerationCompleted: true},
		IsActive: true,
	}
	require.NoError(t, repo.Create(ctx, wh))
	assert.NotEmpty(t, wh.ID)

	webhooks, err := repo.List(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, webhooks, 1)
	assert.Equal(t, wh.URL, webhooks[0].URL)

	// Other users see nothing
	others, err := repo.List(ctx, "user-2")
	require.NoError(t, err)
	assert.Empty(t, others)

	require.NoError(t, repo.Delete(ctx, "user-1", wh.ID))
	webhooks, err = repo.List(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, webhooks)
}

func TestRepositorySetActive(t *testing.T) {
	_, repo, cleanup := setupTestService(t)
	defer cleanup()

	ctx := context.Background()

	wh := &models.Webhook{
		UserID:   "user-1",
		URL:      "https://example.com/hooks",
		IsActive: true,
	}
	require.NoError(t, repo.Create(ctx, wh))
	require.NoError(t, repo.SetActive(ctx, "user-1", wh.ID, false))

	webhooks, err := repo.List(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, webhooks, 1)
	assert.False(t, webhooks[0].IsActive)

	err = repo.SetActive(ctx, "user-1", "no-such-id", true)
	assert.Error(t, err)
}

func TestNotifyDeliversSignedPayload(t *testing.T) {
	svc, repo, cleanup := setupTestService(t)
	defer cleanup()

	ctx := context.Background()

	received := make(chan *http.Request, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clone := r.Clone(context.Background())
		received <- clone
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	wh := &models.Webhook{
		UserID:   "user-1",
		URL:      server.URL,
		Events:   models.WebhookEvents{GenerationCompleted: true},
		Secret:   "test-secret",
		IsActive: true,
	}
	require.NoError(t, repo.Create(ctx, wh))

	err := svc.Notify(ctx, "user-1", models.WebhookEventGenerationCompleted, map[string]string{
		"asset_url": "https://cdn.example.com/a.png",
	})
	require.NoError(t, err)

	select {
	case req := <-received:
		assert.Equal(t, models.WebhookEventGenerationCompleted, req.Header.Get("X-Webhook-Event"))
		assert.NotEmpty(t, req.Header.Get("X-Webhook-Delivery"))
		assert.Contains(t, req.Header.Get("X-Webhook-Signature"), "sha256=")
	case <-time.After(2 * time.Second):
		t.Fatal("Webhook was never delivered")
	}

	// Delivery record lands asynchronously after the response
	assert.Eventually(t, func() bool {
		deliveries, err := repo.Deliveries(ctx, "user-1")
		return err == nil && len(deliveries) == 1 &&
			deliveries[0].Status == models.WebhookDeliveryStatusDelivered
	}, 2*time.Second, 20*time.Millisecond)
}

func TestNotifySkipsInactiveAndUnsubscribed(t *testing.T) {
	svc, repo, cleanup := setupTestService(t)
	defer cleanup()

	ctx := context.Background()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	inactive := &models.Webhook{
		UserID:   "user-1",
		URL:      server.URL,
		Events:   models.WebhookEvents{GenerationCompleted: true},
		IsActive: false,
	}
	require.NoError(t, repo.Create(ctx, inactive))

	unsubscribed := &models.Webhook{
		UserID:   "user-1",
		URL:      server.URL,
		Events:   models.WebhookEvents{QuotaExceeded: true},
		IsActive: true,
	}
	require.NoError(t, repo.Create(ctx, unsubscribed))

	require.NoError(t, svc.Notify(ctx, "user-1", models.WebhookEventGenerationCompleted, nil))

	time.Sleep(200 * time.Millisecond)
	assert.Zero(t, calls.Load())

	deliveries, err := repo.Deliveries(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, deliveries)
}

func TestSign(t *testing.T) {
	payload := []byte(`{"event":"generation.completed"}`)

	signature := Sign(payload, "test-secret")
	assert.Contains(t, signature, "sha256=")

	// Deterministic for the same payload and secret
	assert.Equal(t, signature, Sign(payload, "test-secret"))
	assert.NotEqual(t, signature, Sign(payload, "other-secret"))
}
