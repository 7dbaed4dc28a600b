// Package competitor builds a property's competitor graph (spec.md §3.6):
// up to N nearby comparable listings with distance, star-rating, and
// review-score, refreshed by the competitor_scrape job. The data source
// itself is external and unspecified by the distilled spec — generalized
// here the same way internal/geocode generalizes its own unspecified
// provider, with an Unconfigured default that fails validation instead of
// silently fabricating competitor data.
package competitor

import (
	"context"

	"github.com/jengu/pricing-core/internal/apperr"
	"github.com/jengu/pricing-core/internal/store"
)

// MaxCompetitors is the default cap on a property's competitor set
// (spec.md §3.6).
const MaxCompetitors = 30

// Candidate is one nearby listing returned by a Source, before it is
// truncated to MaxCompetitors and persisted as a store.Competitor.
type Candidate struct {
	CompetitorID string
	DistanceKM   *float64
	StarRating   *float64
	ReviewScore  *float64
	LatestPrice  *float64
}

// Source looks up nearby comparable listings for a property's coordinates.
type Source interface {
	Nearby(ctx context.Context, latitude, longitude float64, limit int) ([]Candidate, error)
}

// Unconfigured is the default Source: it always fails, matching the
// unresolved "where do competitor listings come from" question until a
// real provider is wired in.
type Unconfigured struct{}

func (Unconfigured) Nearby(ctx context.Context, latitude, longitude float64, limit int) ([]Candidate, error) {
	return nil, apperr.Validation("competitor source not configured")
}

// Scraper refreshes a property's competitor graph from a Source.
type Scraper struct {
	Source Source
	Graph  *store.CompetitorGraphRepository
}

// Refresh fetches up to MaxCompetitors nearby listings for property and
// atomically replaces its stored competitor graph.
func (s *Scraper) Refresh(ctx context.Context, property *store.Property) (int, error) {
	if !property.HasCoordinates() {
		return 0, apperr.Validation("property %q has no coordinates to scrape competitors for", property.PropertyID)
	}

	candidates, err := s.Source.Nearby(ctx, *property.Latitude, *property.Longitude, MaxCompetitors)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindOf(err), err, "fetch competitors for property %q", property.PropertyID)
	}
	if len(candidates) > MaxCompetitors {
		candidates = candidates[:MaxCompetitors]
	}

	out := make([]*store.Competitor, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, &store.Competitor{
			PropertyID:   property.PropertyID,
			CompetitorID: c.CompetitorID,
			DistanceKM:   c.DistanceKM,
			StarRating:   c.StarRating,
			ReviewScore:  c.ReviewScore,
			LatestPrice:  c.LatestPrice,
		})
	}

	if err := s.Graph.ReplaceGraph(property.PropertyID, out); err != nil {
		return 0, apperr.Internal("replace competitor graph for property %q: %v", property.PropertyID, err)
	}
	return len(out), nil
}
