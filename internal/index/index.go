// Package index computes the daily neighborhood-competitiveness snapshot
// of spec.md §4.J: percentile positioning of a property's price against
// its competitor graph, blended into component and overall scores.
package index

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/jengu/pricing-core/internal/store"
)

// ErrInsufficientData is returned (not a generic error) when a property
// has fewer than minCompetitors edges, matching spec.md §4.J's
// "well-typed insufficient_data outcome".
var ErrInsufficientData = errors.New("insufficient_data: fewer than 3 competitors in graph")

const minCompetitors = 3

// defaultWeights are the default overall_index weights from spec.md §4.J
// step 5: price_competitiveness 0.4, value 0.3, positioning 0.3.
var defaultWeights = Weights{PriceCompetitiveness: 0.4, Value: 0.3, Positioning: 0.3}

// Weights controls how the three component scores combine into
// overall_index. Exposed so callers can experiment without recompiling.
type Weights struct {
	PriceCompetitiveness float64
	Value                float64
	Positioning          float64
}

// Engine computes and persists neighborhood-index snapshots.
type Engine struct {
	Graph   *store.CompetitorGraphRepository
	Weights Weights
}

func NewEngine(graph *store.CompetitorGraphRepository) *Engine {
	return &Engine{Graph: graph, Weights: defaultWeights}
}

// Compute implements spec.md §4.J steps 1-8 for property p's price on
// date, persisting the resulting snapshot via SaveIndex.
func (e *Engine) Compute(propertyID string, price float64, date string) (*store.NeighborhoodIndex, error) {
	competitors, err := e.Graph.Graph(propertyID)
	if err != nil {
		return nil, fmt.Errorf("load competitor graph for %q: %w", propertyID, err)
	}
	if len(competitors) < minCompetitors {
		return nil, ErrInsufficientData
	}

	prices := make([]float64, 0, len(competitors))
	var starSum, reviewSum float64
	var starCount, reviewCount int
	for _, c := range competitors {
		if c.LatestPrice != nil {
			prices = append(prices, *c.LatestPrice)
		}
		if c.StarRating != nil {
			starSum += *c.StarRating
			starCount++
		}
		if c.ReviewScore != nil {
			reviewSum += *c.ReviewScore
			reviewCount++
		}
	}
	if len(prices) < minCompetitors {
		return nil, ErrInsufficientData
	}
	sort.Float64s(prices)

	p10 := stat.Quantile(0.10, stat.Empirical, prices, nil)
	p50 := stat.Quantile(0.50, stat.Empirical, prices, nil)
	p90 := stat.Quantile(0.90, stat.Empirical, prices, nil)
	pricePercentile := stat.CDF(price, stat.Empirical, prices, nil) * 100

	priceCompetitiveness := priceCompetitivenessScore(pricePercentile, price, p90)
	positioning := positioningScore(starSum, starCount, reviewSum, reviewCount)
	value := valueScore(priceCompetitiveness, positioning)

	w := e.Weights
	overall := clamp(w.PriceCompetitiveness*priceCompetitiveness + w.Value*value + w.Positioning*positioning)

	idx := &store.NeighborhoodIndex{
		PropertyID:           propertyID,
		IndexDate:            date,
		OverallIndex:         overall,
		PriceCompetitiveness: priceCompetitiveness,
		Value:                value,
		Positioning:          positioning,
		MarketPosition:       marketPosition(pricePercentile),
		CompetitorsAnalyzed:  len(competitors),
		P10:                  p10,
		P50:                  p50,
		P90:                  p90,
		PricePercentile:      pricePercentile,
	}
	idx.Advantages, idx.Weaknesses = advantagesAndWeaknesses(idx)

	if err := e.applyDeltas(idx, date); err != nil {
		return nil, err
	}

	if err := e.Graph.SaveIndex(idx); err != nil {
		return nil, fmt.Errorf("save neighborhood index for %q: %w", propertyID, err)
	}
	return idx, nil
}

// priceCompetitivenessScore is 100 minus the price percentile, so a
// cheaper price always scores higher, and the score is halved once price
// exceeds p90. Closeness to p50 is not rewarded.
func priceCompetitivenessScore(pricePercentile, price, p90 float64) float64 {
	score := 100 - pricePercentile
	if price > p90 {
		score *= 0.5
	}
	return clamp(score)
}

// positioningScore reflects how well-regarded the competitive set is,
// normalizing star_rating (0-5 scale) and review_score (0-100 scale)
// onto a shared 0-100 range.
func positioningScore(starSum float64, starCount int, reviewSum float64, reviewCount int) float64 {
	var parts []float64
	if starCount > 0 {
		parts = append(parts, (starSum/float64(starCount))/5*100)
	}
	if reviewCount > 0 {
		parts = append(parts, reviewSum/float64(reviewCount))
	}
	if len(parts) == 0 {
		return 50 // neutral when the graph carries no ratings at all
	}
	var sum float64
	for _, v := range parts {
		sum += v
	}
	return clamp(sum / float64(len(parts)))
}

// valueScore blends price competitiveness and market positioning: a
// property only scores well on "value" if it is both cheap relative to
// the market and sitting in a well-regarded neighborhood.
func valueScore(priceCompetitiveness, positioning float64) float64 {
	return clamp((priceCompetitiveness + positioning) / 2)
}

func marketPosition(pricePercentile float64) string {
	switch {
	case pricePercentile <= 25:
		return "budget"
	case pricePercentile <= 50:
		return "mid-market"
	case pricePercentile <= 75:
		return "premium"
	default:
		return "ultra-premium"
	}
}

// advantagesAndWeaknesses tags each component score in the top or bottom
// quartile relative to the 0-100 scale (spec.md §4.J step 8).
func advantagesAndWeaknesses(idx *store.NeighborhoodIndex) (advantages, weaknesses []string) {
	components := map[string]float64{
		"price_competitiveness": idx.PriceCompetitiveness,
		"value":                 idx.Value,
		"positioning":           idx.Positioning,
	}
	for name, score := range components {
		switch {
		case score >= 75:
			advantages = append(advantages, name)
		case score <= 25:
			weaknesses = append(weaknesses, name)
		}
	}
	sort.Strings(advantages)
	sort.Strings(weaknesses)
	return advantages, weaknesses
}

func (e *Engine) applyDeltas(idx *store.NeighborhoodIndex, date string) error {
	for _, lookback := range []struct {
		days int
		set  func(*float64)
	}{
		{1, func(d *float64) { idx.Delta1d = d }},
		{7, func(d *float64) { idx.Delta7d = d }},
		{30, func(d *float64) { idx.Delta30d = d }},
	} {
		prior, err := e.Graph.PriorIndex(idx.PropertyID, date, lookback.days)
		if err != nil {
			return fmt.Errorf("load prior index (%dd) for %q: %w", lookback.days, idx.PropertyID, err)
		}
		if prior == nil {
			continue
		}
		delta := idx.OverallIndex - prior.OverallIndex
		lookback.set(&delta)
	}
	return nil
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// Today is a tiny seam so callers needing "as of now" can be swapped in
// tests; Compute itself takes an explicit date and never calls time.Now.
var Today = func() string { return time.Now().UTC().Format("2006-01-02") }
