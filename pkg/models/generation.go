package models

import (
	"time"
)

// Category identifies a generation domain
type Category string

// Category constants
const (
	CategoryLLM   Category = "llm"
	CategoryImage Category = "image"
	CategoryVoice Category = "voice"
	CategoryVideo Category = "video"
)

// AllCategories lists every generation category
var AllCategories = []Category{CategoryLLM, CategoryImage, CategoryVoice, CategoryVideo}

// Valid reports whether the category is a known category
func (c Category) Valid() bool {
	switch c {
	case CategoryLLM, CategoryImage, CategoryVoice, CategoryVideo:
		return true
	}
	return false
}

// GenerationRequest describes one generation attempt. Engine is optional;
// when empty the user's active provider (or the first configured one) for
// the category is used.
type GenerationRequest struct {
	Category Category          `json:"category" binding:"required"`
	Engine   string            `json:"engine,omitempty"`
	Prompt   string            `json:"prompt" binding:"required"`
	UserID   string            `json:"user_id" binding:"required"`
	Tier     Tier              `json:"tier" binding:"required"`
	Options  map[string]string `json:"options,omitempty"`
}

// GenerationResult is the normalized outcome of a successful generation
type GenerationResult struct {
	AssetURL    string    `json:"asset_url"`
	EngineUsed  string    `json:"engine_used"`
	CostCredits int       `json:"cost_credits"`
	Fallback    bool      `json:"fallback"`
	GeneratedAt time.Time `json:"generated_at"`
}

// UsageEvent is one immutable ledger entry. Events are only ever appended;
// monthly counts are derived fresh from the event log at query time.
type UsageEvent struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Category  Category  `json:"category"`
	Engine    string    `json:"engine"`
	Credits   int       `json:"credits"`
	CreatedAt time.Time `json:"created_at"`
}

// ProviderConfig is the resolution view of one vendor within one category
type ProviderConfig struct {
	ID             string   `json:"id"`
	Category       Category `json:"category"`
	HasCredentials bool     `json:"has_credentials"`
	Active         bool     `json:"active"`
	MinTier        Tier     `json:"min_tier"`
}
