package models

// Tier identifies a subscription level
type Tier string

// Tier constants, ordered by entitlement breadth. Entitlements are not
// strictly nested across tiers (per-engine credit cost can drop to zero
// at the top), so tiers must never be compared numerically; consult the
// capability table instead.
const (
	TierFree   Tier = "free"
	TierPro    Tier = "pro"
	TierHunter Tier = "hunter"
	TierAgency Tier = "agency"
)

// AllTiers lists every known tier
var AllTiers = []Tier{TierFree, TierPro, TierHunter, TierAgency}

// ParseTier parses a tier string, returning TierFree for unknown values
// as a safe default
func ParseTier(s string) Tier {
	switch Tier(s) {
	case TierFree, TierPro, TierHunter, TierAgency:
		return Tier(s)
	default:
		return TierFree
	}
}

// Valid reports whether the tier is a known tier
func (t Tier) Valid() bool {
	switch t {
	case TierFree, TierPro, TierHunter, TierAgency:
		return true
	}
	return false
}
