package capability

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/brandmill/brandmill/pkg/models"
)

func TestLimitsFor_UnknownTierDefaultsToFree(t *testing.T) {
	m := NewMatrix()

	rec := m.LimitsFor(models.Tier("enterprise"))
	free := m.LimitsFor(models.TierFree)

	assert.Equal(t, free.MonthlyVideoLimit, rec.MonthlyVideoLimit)
	assert.Equal(t, free.MonthlyExtractionLimit, rec.MonthlyExtractionLimit)
}

func TestHasFeature(t *testing.T) {
	m := NewMatrix()

	tests := []struct {
		tier    models.Tier
		feature Feature
		want    bool
	}{
		{models.TierFree, FeatureBulkExtraction, false},
		{models.TierPro, FeatureBulkExtraction, true},
		{models.TierPro, FeatureAutoPost, false},
		{models.TierHunter, FeatureAutoPost, true},
		{models.TierHunter, FeatureWhiteLabel, false},
		{models.TierAgency, FeatureWhiteLabel, true},
	}

	for _, tt := range tests {
		got := m.HasFeature(tt.tier, tt.feature)
		if got != tt.want {
			t.Errorf("HasFeature(%s, %s) = %v, want %v", tt.tier, tt.feature, got, tt.want)
		}
	}
}

func TestCanUseWorkflow(t *testing.T) {
	m := NewMatrix()

	assert.True(t, m.CanUseWorkflow(models.TierFree, "social-post"))
	assert.False(t, m.CanUseWorkflow(models.TierFree, "brand-audit"))
	assert.True(t, m.CanUseWorkflow(models.TierHunter, "brand-audit"))
	assert.False(t, m.CanUseWorkflow(models.TierPro, "unknown-workflow"))
}

func TestCanUseProvider(t *testing.T) {
	m := NewMatrix()

	// Free tier has an allow-list
	assert.True(t, m.CanUseProvider(models.TierFree, "luma"))
	assert.False(t, m.CanUseProvider(models.TierFree, "runway"))

	// Paid tiers allow all providers
	assert.True(t, m.CanUseProvider(models.TierPro, "runway"))
	assert.True(t, m.CanUseProvider(models.TierAgency, "kling"))
}

func TestExtractionsRemaining(t *testing.T) {
	m := NewMatrix()

	free := m.LimitsFor(models.TierFree)

	assert.True(t, m.ExtractionsRemaining(models.TierFree, free.MonthlyExtractionLimit-1))
	assert.False(t, m.ExtractionsRemaining(models.TierFree, free.MonthlyExtractionLimit))
	assert.False(t, m.ExtractionsRemaining(models.TierFree, free.MonthlyExtractionLimit+100))

	// Unlimited must behave as +infinity, never as a large integer
	assert.True(t, m.ExtractionsRemaining(models.TierAgency, 0))
	assert.True(t, m.ExtractionsRemaining(models.TierAgency, 1<<40))
}

func TestCostFor_TierDependentCosts(t *testing.T) {
	m := NewMatrix()

	// Entry engine: free on free/pro, metered on hunter, free again on agency
	assert.Equal(t, 0, m.CostFor("luma", models.TierFree))
	assert.Equal(t, 0, m.CostFor("luma", models.TierPro))
	assert.Equal(t, 1, m.CostFor("luma", models.TierHunter))
	assert.Equal(t, 0, m.CostFor("luma", models.TierAgency))

	// Premium engines: metered on hunter, free on agency
	assert.Equal(t, 5, m.CostFor("runway", models.TierHunter))
	assert.Equal(t, 0, m.CostFor("runway", models.TierAgency))

	// Engines absent from the table cost nothing
	assert.Equal(t, 0, m.CostFor("stability", models.TierHunter))
}

func TestIsUnlimited(t *testing.T) {
	assert.True(t, IsUnlimited(Unlimited))
	assert.False(t, IsUnlimited(0))
	assert.False(t, IsUnlimited(1000000))
}
