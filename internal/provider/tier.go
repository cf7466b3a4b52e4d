package provider

import (
	"github.com/brandmill/brandmill/pkg/models"
)

// tierOrder is the ordering used solely for minimum-tier checks on
// provider selection. Feature entitlements are deliberately not derived
// from this order; they live in the capability table.
var tierOrder = []models.Tier{
	models.TierFree,
	models.TierPro,
	models.TierHunter,
	models.TierAgency,
}

func tierRank(t models.Tier) int {
	for i, tier := range tierOrder {
		if tier == t {
			return i
		}
	}
	return 0 // unknown tiers rank as free
}

// TierSatisfies reports whether a user's tier meets an engine's minimum
// tier requirement
func TierSatisfies(tier, min models.Tier) bool {
	return tierRank(tier) >= tierRank(min)
}
