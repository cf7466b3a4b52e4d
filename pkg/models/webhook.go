package models

import "time"

// Webhook represents a user-registered notification endpoint
type Webhook struct {
	ID        string        `json:"id"`
	UserID    string        `json:"user_id"`
	URL       string        `json:"url" binding:"required,url"`
	Events    WebhookEvents `json:"events"`
	Secret    string        `json:"secret,omitempty"`
	IsActive  bool          `json:"is_active"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// WebhookEvents holds the events a webhook subscribes to
type WebhookEvents struct {
	GenerationCompleted bool `json:"generation_completed"`
	GenerationFailed    bool `json:"generation_failed"`
	QuotaExceeded       bool `json:"quota_exceeded"`
}

// Subscribed reports whether the webhook wants the named event.
func (we WebhookEvents) Subscribed(event string) bool {
	switch event {
	case WebhookEventGenerationCompleted:
		return we.GenerationCompleted
	case WebhookEventGenerationFailed:
		return we.GenerationFailed
	case WebhookEventQuotaExceeded:
		return we.QuotaExceeded
	}
	return false
}

// WebhookDelivery represents a webhook delivery attempt
type WebhookDelivery struct {
	ID           string     `json:"id"`
	WebhookID    string     `json:"webhook_id"`
	Event        string     `json:"event"`
	Payload      string     `json:"payload"`
	Status       string     `json:"status"`
	StatusCode   int        `json:"status_code"`
	ResponseBody string     `json:"response_body,omitempty"`
	RetryCount   int        `json:"retry_count"`
	CreatedAt    time.Time  `json:"created_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// WebhookDeliveryStatus constants
const (
	WebhookDeliveryStatusPending   = "pending"
	WebhookDeliveryStatusDelivered = "delivered"
	WebhookDeliveryStatusFailed    = "failed"
)

// WebhookEvent represents the payload sent to webhooks
type WebhookEvent struct {
	Event     string      `json:"event"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// Webhook event types
const (
	WebhookEventGenerationCompleted = "generation.completed"
	WebhookEventGenerationFailed    = "generation.failed"
	WebhookEventQuotaExceeded       = "quota.exceeded"
)
