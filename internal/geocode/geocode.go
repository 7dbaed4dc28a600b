// Package geocode resolves a free-form location string to coordinates.
// It is a supplement (SPEC_FULL.md §3.4): the distilled spec leaves the
// string form of a competitor-scrape job's location input unimplemented
// ("TODO: Geocode" in the original), and its resolution is to treat the
// string form as a required-input error until a real geocoder is wired.
package geocode

import (
	"context"

	"github.com/jengu/pricing-core/internal/apperr"
)

// Coordinates is the resolved location.
type Coordinates struct {
	Latitude  float64
	Longitude float64
	Timezone  string
}

// Resolver looks up coordinates for a free-form location string.
type Resolver interface {
	Resolve(ctx context.Context, location string) (Coordinates, error)
}

// Unconfigured is the default Resolver: it always fails validation,
// matching the Open Question's resolution — a string `location` is a
// required-input error, not a silently-ignored field, until a provider
// is wired in.
type Unconfigured struct{}

func (Unconfigured) Resolve(ctx context.Context, location string) (Coordinates, error) {
	return Coordinates{}, apperr.Validation("geocoding not configured; pass {latitude,longitude} instead of a location string")
}
