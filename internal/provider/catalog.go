// Package provider resolves which vendor services a generation call:
// a static catalog of known vendors per category, a registry of adapter
// implementations looked up by id, and a per-user credential registry
// over the state store.
package provider

import (
	"github.com/brandmill/brandmill/pkg/models"
)

// Entry describes one vendor in the static catalog. Catalog declaration
// order is the deterministic scan order when no active provider is set.
type Entry struct {
	ID       string
	Category models.Category
	MinTier  models.Tier
}

// catalog lists every known vendor. Adding a provider means adding a
// line here and registering its adapter; nothing else changes.
var catalog = []Entry{
	// LLM
	{ID: "openai", Category: models.CategoryLLM, MinTier: models.TierFree},
	{ID: "anthropic", Category: models.CategoryLLM, MinTier: models.TierFree},
	{ID: "gemini", Category: models.CategoryLLM, MinTier: models.TierFree},

	// Image
	{ID: "dalle", Category: models.CategoryImage, MinTier: models.TierFree},
	{ID: "stability", Category: models.CategoryImage, MinTier: models.TierFree},
	{ID: "flux", Category: models.CategoryImage, MinTier: models.TierPro},

	// Voice
	{ID: "elevenlabs", Category: models.CategoryVoice, MinTier: models.TierFree},
	{ID: "playht", Category: models.CategoryVoice, MinTier: models.TierPro},

	// Video
	{ID: "luma", Category: models.CategoryVideo, MinTier: models.TierFree},
	{ID: "runway", Category: models.CategoryVideo, MinTier: models.TierHunter},
	{ID: "kling", Category: models.CategoryVideo, MinTier: models.TierHunter},
}

// Catalog returns the catalog entries for a category in declaration order
func Catalog(category models.Category) []Entry {
	var entries []Entry
	for _, e := range catalog {
		if e.Category == category {
			entries = append(entries, e)
		}
	}
	return entries
}

// Lookup finds a catalog entry by engine id
func Lookup(engineID string) (Entry, bool) {
	for _, e := range catalog {
		if e.ID == engineID {
			return e, true
		}
	}
	return Entry{}, false
}
