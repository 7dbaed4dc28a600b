// Package store persists the domain entities pricing rows, properties,
// and the competitor graph to the shared SQLite database.
package store

import "time"

// EnrichmentStatus is the property enrichment state machine (spec.md §3.2).
type EnrichmentStatus string

const (
	EnrichmentNone       EnrichmentStatus = "none"
	EnrichmentPending    EnrichmentStatus = "pending"
	EnrichmentProcessing EnrichmentStatus = "processing"
	EnrichmentCompleted  EnrichmentStatus = "completed"
	EnrichmentFailed     EnrichmentStatus = "failed"
)

// CanTransition reports whether moving from s to next is a legal step in
// the enrichment state machine: none/failed/completed → pending →
// processing → {completed, failed}.
func (s EnrichmentStatus) CanTransition(next EnrichmentStatus) bool {
	switch s {
	case EnrichmentNone, EnrichmentFailed, EnrichmentCompleted:
		return next == EnrichmentPending
	case EnrichmentPending:
		return next == EnrichmentProcessing
	case EnrichmentProcessing:
		return next == EnrichmentCompleted || next == EnrichmentFailed
	default:
		return false
	}
}

// Property is a hospitality property with geocoordinates and enrichment
// state (spec.md §3.2).
type Property struct {
	PropertyID       string
	UserID           string
	Latitude         *float64
	Longitude        *float64
	CountryCode      *string
	EnrichmentStatus EnrichmentStatus
	EnrichedAt       *time.Time
	EnrichmentError  *string
	NextScrapeAt     *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// HasCoordinates reports whether the property has both lat/lon set.
func (p *Property) HasCoordinates() bool {
	return p.Latitude != nil && p.Longitude != nil
}

// PricingRow is one date × property pricing observation, with the
// enrichment block populated by internal/enrichment (spec.md §3.1).
type PricingRow struct {
	RowID       string
	PropertyID  string
	UserID      string
	StayDate    string // calendar date, YYYY-MM-DD
	Price       float64
	Occupancy   *float64

	Temperature        *float64
	Precipitation      *float64
	WeatherCode        *int
	WeatherDescription *string
	SunshineHours      *float64
	DayOfWeek          *int
	Month              *int
	Season             *string
	IsWeekend          *bool
	IsHoliday          *bool
	HolidayName        *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsEnriched reports whether temperature, the first field populated by
// enrichment, is already set — used to decide whether a row still needs
// a weather lookup.
func (r *PricingRow) IsEnriched() bool {
	return r.Temperature != nil
}

// Competitor is one edge in a property's competitor graph (spec.md §3.6).
type Competitor struct {
	PropertyID    string
	CompetitorID  string
	DistanceKM    *float64
	StarRating    *float64
	ReviewScore   *float64
	LatestPrice   *float64
	LatestPriceAt *time.Time
}

// NeighborhoodIndex is one day's competitive-index snapshot for a
// property (spec.md §3.6).
type NeighborhoodIndex struct {
	PropertyID           string
	IndexDate            string
	OverallIndex         float64
	PriceCompetitiveness float64
	Value                float64
	Positioning          float64
	MarketPosition       string
	CompetitorsAnalyzed  int
	P10, P50, P90        float64
	PricePercentile      float64
	Delta1d              *float64
	Delta7d              *float64
	Delta30d             *float64
	Advantages           []string
	Weaknesses           []string
	CreatedAt            time.Time
}
