package index

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jengu/pricing-core/internal/store"
)

func floatPtr(v float64) *float64 { return &v }

func TestPriceCompetitivenessScoreRewardsCheapPrices(t *testing.T) {
	score := priceCompetitivenessScore(10, 90, 150)
	assert.Equal(t, 90.0, score)
}

func TestPriceCompetitivenessScorePenalizesAboveP90(t *testing.T) {
	samePercentile := 95.0
	abovePenaltyScore := priceCompetitivenessScore(samePercentile, 200, 150) // price > p90
	noPenaltyScore := priceCompetitivenessScore(samePercentile, 140, 150)    // price <= p90
	assert.Less(t, abovePenaltyScore, noPenaltyScore)
}

func TestPositioningScoreNeutralWithoutRatings(t *testing.T) {
	assert.Equal(t, 50.0, positioningScore(0, 0, 0, 0))
}

func TestPositioningScoreBlendsStarAndReview(t *testing.T) {
	// 5-star average (normalized to 100) blended with a review score of 80.
	score := positioningScore(5, 1, 80, 1)
	assert.Equal(t, 90.0, score)
}

func TestMarketPositionBuckets(t *testing.T) {
	assert.Equal(t, "budget", marketPosition(10))
	assert.Equal(t, "mid-market", marketPosition(40))
	assert.Equal(t, "premium", marketPosition(60))
	assert.Equal(t, "ultra-premium", marketPosition(95))
}

func TestAdvantagesAndWeaknessesTagsExtremeComponents(t *testing.T) {
	idx := &store.NeighborhoodIndex{PriceCompetitiveness: 80, Value: 50, Positioning: 10}
	advantages, weaknesses := advantagesAndWeaknesses(idx)
	assert.Equal(t, []string{"price_competitiveness"}, advantages)
	assert.Equal(t, []string{"positioning"}, weaknesses)
}

func TestClampBoundsToZeroAndHundred(t *testing.T) {
	assert.Equal(t, 0.0, clamp(-5))
	assert.Equal(t, 100.0, clamp(150))
	assert.Equal(t, 42.0, clamp(42))
}

func TestNewEngineAppliesDefaultWeights(t *testing.T) {
	e := NewEngine(nil)
	require.Equal(t, 0.4, e.Weights.PriceCompetitiveness)
	require.Equal(t, 0.3, e.Weights.Value)
	require.Equal(t, 0.3, e.Weights.Positioning)
}
