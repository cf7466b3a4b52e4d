// Package capability holds the static subscription-tier entitlement
// table. The matrix is loaded once at process start and never mutated;
// every limit, feature flag, workflow grant and per-engine credit cost
// lives in one table so adding a tier or changing a limit is a single
// edit.
package capability

import (
	"github.com/brandmill/brandmill/pkg/models"
)

// Unlimited marks a limit with no cap. It is a sentinel, never a large
// integer: all comparisons must treat it as +infinity.
const Unlimited = -1

// Feature identifies a tier-gated product feature
type Feature string

// Feature flags
const (
	FeatureBulkExtraction  Feature = "bulk_extraction"
	FeatureWhiteLabel      Feature = "white_label"
	FeatureWorkflowEditing Feature = "workflow_editing"
	FeatureAutoPost        Feature = "auto_post"
)

// Record describes the entitlements of one tier. Providers nil means all
// providers are selectable; an empty or populated slice is an allow-list.
type Record struct {
	MonthlyExtractionLimit int
	MonthlyVideoLimit      int
	Workflows              []string
	Providers              []string
	Features               map[Feature]bool
	// CreditCosts maps engine id to the credit cost on this tier. An
	// engine absent from the map costs nothing. Cost is a function of
	// (engine, tier), not of engine alone: the same engine can be
	// metered on one tier and free on another.
	CreditCosts map[string]int
}

// Matrix answers entitlement queries against the static tier table
type Matrix struct {
	records map[models.Tier]Record
}

// NewMatrix creates the default capability matrix
func NewMatrix() *Matrix {
	return &Matrix{records: defaultRecords()}
}

// LimitsFor returns the capability record for a tier. Unknown tiers get
// the free record as a safe default.
func (m *Matrix) LimitsFor(tier models.Tier) Record {
	if rec, ok := m.records[tier]; ok {
		return rec
	}
	return m.records[models.TierFree]
}

// HasFeature reports whether a tier includes a feature
func (m *Matrix) HasFeature(tier models.Tier, feature Feature) bool {
	return m.LimitsFor(tier).Features[feature]
}

// CanUseWorkflow reports whether a tier may run the given workflow
func (m *Matrix) CanUseWorkflow(tier models.Tier, workflowID string) bool {
	for _, id := range m.LimitsFor(tier).Workflows {
		if id == workflowID {
			return true
		}
	}
	return false
}

// CanUseProvider reports whether a tier's provider allow-list includes
// the engine. A nil list means all providers are allowed.
func (m *Matrix) CanUseProvider(tier models.Tier, engine string) bool {
	allowed := m.LimitsFor(tier).Providers
	if allowed == nil {
		return true
	}
	for _, id := range allowed {
		if id == engine {
			return true
		}
	}
	return false
}

// ExtractionsRemaining reports whether a tier has monthly extractions
// left given the count already used this month
func (m *Matrix) ExtractionsRemaining(tier models.Tier, usedThisMonth int) bool {
	limit := m.LimitsFor(tier).MonthlyExtractionLimit
	if IsUnlimited(limit) {
		return true
	}
	return usedThisMonth < limit
}

// CostFor returns the credit cost of an engine on a tier. An engine
// absent from the tier's cost table costs nothing.
func (m *Matrix) CostFor(engine string, tier models.Tier) int {
	return m.LimitsFor(tier).CreditCosts[engine]
}

// IsUnlimited reports whether a limit value means no cap
func IsUnlimited(limit int) bool {
	return limit == Unlimited
}

// defaultRecords builds the production tier table. Entitlements are not
// monotonic across tiers: the entry video engine is metered on hunter
// but free again on agency.
func defaultRecords() map[models.Tier]Record {
	return map[models.Tier]Record{
		models.TierFree: {
			MonthlyExtractionLimit: 10,
			MonthlyVideoLimit:      3,
			Workflows:              []string{"social-post"},
			Providers: []string{
				"openai", "dalle", "stability", "elevenlabs", "luma",
			},
			Features: map[Feature]bool{},
			CreditCosts: map[string]int{
				"luma": 0,
			},
		},
		models.TierPro: {
			MonthlyExtractionLimit: 100,
			MonthlyVideoLimit:      10,
			Workflows:              []string{"social-post", "product-launch", "ad-campaign"},
			Providers:              nil, // all
			Features: map[Feature]bool{
				FeatureBulkExtraction: true,
			},
			CreditCosts: map[string]int{
				"luma": 0,
			},
		},
		models.TierHunter: {
			MonthlyExtractionLimit: 1000,
			MonthlyVideoLimit:      50,
			Workflows: []string{
				"social-post", "product-launch", "ad-campaign",
				"brand-audit", "ugc-script",
			},
			Providers: nil, // all
			Features: map[Feature]bool{
				FeatureBulkExtraction:  true,
				FeatureWorkflowEditing: true,
				FeatureAutoPost:        true,
			},
			CreditCosts: map[string]int{
				"luma":   1,
				"runway": 5,
				"kling":  5,
			},
		},
		models.TierAgency: {
			MonthlyExtractionLimit: Unlimited,
			MonthlyVideoLimit:      Unlimited,
			Workflows: []string{
				"social-post", "product-launch", "ad-campaign",
				"brand-audit", "ugc-script",
			},
			Providers: nil, // all
			Features: map[Feature]bool{
				FeatureBulkExtraction:  true,
				FeatureWhiteLabel:      true,
				FeatureWorkflowEditing: true,
				FeatureAutoPost:        true,
			},
			CreditCosts: map[string]int{
				"luma":   0,
				"runway": 0,
				"kling":  0,
			},
		},
	}
}
