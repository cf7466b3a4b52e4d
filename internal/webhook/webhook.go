package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/brandmill/brandmill/internal/logging"
	"github.com/brandmill/brandmill/internal/metrics"
	"github.com/brandmill/brandmill/internal/store"
	"github.com/brandmill/brandmill/pkg/models"
)

const (
	webhooksKey   = "webhooks"
	deliveriesKey = "webhook_deliveries"

	maxAttempts = 3
)

// retryDelays spaces the in-process delivery attempts.
var retryDelays = []time.Duration{0, 5 * time.Second, 15 * time.Second}

// Repository persists webhook registrations and delivery records in the
// per-user key namespace, so export and import carry them along with the
// rest of a user's state.
type Repository struct {
	store store.Store
}

// NewRepository creates a webhook repository over the given store
func NewRepository(st store.Store) *Repository {
	return &Repository{store: st}
}

// List returns all webhooks registered by a user
func (r *Repository) List(ctx context.Context, userID string) ([]models.Webhook, error) {
	raw, err := r.store.Get(ctx, store.UserKey(userID, webhooksKey))
	if err != nil {
		return nil, fmt.Errorf("failed to read webhooks: %w", err)
	}
	if raw == "" {
		return nil, nil
	}

	var webhooks []models.Webhook
	if err := json.Unmarshal([]byte(raw), &webhooks); err != nil {
		return nil, fmt.Errorf("failed to decode webhooks: %w", err)
	}
	return webhooks, nil
}

// Create registers a webhook for a user, assigning its ID and timestamps
func (r *Repository) Create(ctx context.Context, wh *models.Webhook) error {
	webhooks, err := r.List(ctx, wh.UserID)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	wh.ID = uuid.New().String()
	wh.CreatedAt = now
	wh.UpdatedAt = now

	webhooks = append(webhooks, *wh)
	return r.save(ctx, wh.UserID, webhooks)
}

// Delete removes a webhook registration. Removing an unknown ID is a no-op.
func (r *Repository) Delete(ctx context.Context, userID, webhookID string) error {
	webhooks, err := r.List(ctx, userID)
	if err != nil {
		return err
	}

	kept := webhooks[:0]
	for _, wh := range webhooks {
		if wh.ID != webhookID {
			kept = append(kept, wh)
		}
	}
	if len(kept) == 0 {
		return r.store.Delete(ctx, store.UserKey(userID, webhooksKey))
	}
	return r.save(ctx, userID, kept)
}

// SetActive toggles a webhook without removing its registration
func (r *Repository) SetActive(ctx context.Context, userID, webhookID string, active bool) error {
	webhooks, err := r.List(ctx, userID)
	if err != nil {
		return err
	}

	found := false
	for i := range webhooks {
		if webhooks[i].ID == webhookID {
			webhooks[i].IsActive = active
			webhooks[i].UpdatedAt = time.Now().UTC()
			found = true
		}
	}
	if !found {
		return fmt.Errorf("webhook %s not found", webhookID)
	}
	return r.save(ctx, userID, webhooks)
}

// RecordDelivery appends a delivery record to the user's delivery log
func (r *Repository) RecordDelivery(ctx context.Context, userID string, delivery *models.WebhookDelivery) error {
	data, err := json.Marshal(delivery)
	if err != nil {
		return fmt.Errorf("failed to marshal delivery: %w", err)
	}
	if err := r.store.Append(ctx, store.UserKey(userID, deliveriesKey), string(data)); err != nil {
		return fmt.Errorf("failed to record delivery: %w", err)
	}
	return nil
}

// Deliveries returns a user's delivery records in append order
func (r *Repository) Deliveries(ctx context.Context, userID string) ([]models.WebhookDelivery, error) {
	entries, err := r.store.Range(ctx, store.UserKey(userID, deliveriesKey))
	if err != nil {
		return nil, fmt.Errorf("failed to read deliveries: %w", err)
	}

	deliveries := make([]models.WebhookDelivery, 0, len(entries))
	for _, entry := range entries {
		var d models.WebhookDelivery
		if err := json.Unmarshal([]byte(entry), &d); err != nil {
			continue
		}
		deliveries = append(deliveries, d)
	}
	return deliveries, nil
}

func (r *Repository) save(ctx context.Context, userID string, webhooks []models.Webhook) error {
	data, err := json.Marshal(webhooks)
	if err != nil {
		return fmt.Errorf("failed to marshal webhooks: %w", err)
	}
	if err := r.store.Set(ctx, store.UserKey(userID, webhooksKey), string(data)); err != nil {
		return fmt.Errorf("failed to save webhooks: %w", err)
	}
	return nil
}

// Service handles signed webhook delivery for generation events
type Service struct {
	client *http.Client
	repo   *Repository
	logger *logging.Logger
}

// NewService creates a new webhook service
func NewService(repo *Repository, logger *logging.Logger) *Service {
	return &Service{
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		repo:   repo,
		logger: logger,
	}
}

// Notify fans an event out to the user's active, subscribed webhooks.
// Delivery runs in the background; the caller is never blocked on a slow
// or unreachable endpoint.
func (s *Service) Notify(ctx context.Context, userID, event string, data interface{}) error {
	webhooks, err := s.repo.List(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to get webhooks: %w", err)
	}

	payload := models.WebhookEvent{
		Event:     event,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	for _, wh := range webhooks {
		if !wh.IsActive || !wh.Events.Subscribed(event) {
			continue
		}

		delivery := &models.WebhookDelivery{
			ID:        uuid.New().String(),
			WebhookID: wh.ID,
			Event:     event,
			Payload:   string(payloadBytes),
			Status:    models.WebhookDeliveryStatusPending,
			CreatedAt: time.Now().UTC(),
		}

		go s.deliver(context.Background(), userID, wh, delivery, payloadBytes)
	}

	return nil
}

// deliver attempts delivery with backoff, then records the final outcome
func (s *Service) deliver(ctx context.Context, userID string, wh models.Webhook, delivery *models.WebhookDelivery, payload []byte) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if delay := retryDelays[attempt]; delay > 0 {
			time.Sleep(delay)
		}
		delivery.RetryCount = attempt

		statusCode, body, err := s.attempt(ctx, wh, delivery, payload)
		delivery.StatusCode = statusCode
		delivery.ResponseBody = body

		if err == nil {
			delivery.Status = models.WebhookDeliveryStatusDelivered
			break
		}
		delivery.Status = models.WebhookDeliveryStatusFailed
		s.logger.WithError(err).WithUserID(userID).
			WithField("webhook_id", wh.ID).
			WithField("attempt", attempt+1).
			Warn("Webhook delivery attempt failed")
	}

	now := time.Now().UTC()
	delivery.CompletedAt = &now
	metrics.WebhookDeliveriesTotal.WithLabelValues(delivery.Status).Inc()

	if err := s.repo.RecordDelivery(ctx, userID, delivery); err != nil {
		s.logger.WithError(err).WithUserID(userID).Warn("Failed to record webhook delivery")
	}
}

func (s *Service) attempt(ctx context.Context, wh models.Webhook, delivery *models.WebhookDelivery, payload []byte) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, wh.URL, bytes.NewReader(payload))
	if err != nil {
		return 0, "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Brandmill-Webhook/1.0")
	req.Header.Set("X-Webhook-Event", delivery.Event)
	req.Header.Set("X-Webhook-Delivery", delivery.ID)

	if wh.Secret != "" {
		req.Header.Set("X-Webhook-Signature", Sign(payload, wh.Secret))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, string(body), fmt.Errorf("endpoint returned status %d", resp.StatusCode)
	}
	return resp.StatusCode, string(body), nil
}

// Sign computes the HMAC-SHA256 signature header value for a payload
func Sign(payload []byte, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}
