package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/jengu/pricing-core/internal/apperr"
)

// PropertyRepository persists Property rows to the properties table.
type PropertyRepository struct {
	db *sql.DB
}

func NewPropertyRepository(db *sql.DB) *PropertyRepository {
	return &PropertyRepository{db: db}
}

// Upsert inserts or replaces a property row. The owner (user_id) is
// treated as immutable by callers; this repository does not enforce it.
func (r *PropertyRepository) Upsert(p *Property) error {
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	_, err := r.db.Exec(`
		INSERT INTO properties (property_id, user_id, latitude, longitude, country_code,
			enrichment_status, enriched_at, enrichment_error, next_scrape_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(property_id) DO UPDATE SET
			latitude=excluded.latitude, longitude=excluded.longitude, country_code=excluded.country_code,
			enrichment_status=excluded.enrichment_status, enriched_at=excluded.enriched_at,
			enrichment_error=excluded.enrichment_error, next_scrape_at=excluded.next_scrape_at,
			updated_at=excluded.updated_at`,
		p.PropertyID, p.UserID, p.Latitude, p.Longitude, p.CountryCode,
		string(p.EnrichmentStatus), formatTimePtr(p.EnrichedAt), p.EnrichmentError,
		formatTimePtr(p.NextScrapeAt), p.CreatedAt.Format(time.RFC3339), p.UpdatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("upsert property: %w", err)
	}
	return nil
}

// Get loads a property by id, returning apperr.NotFound if absent.
func (r *PropertyRepository) Get(propertyID string) (*Property, error) {
	row := r.db.QueryRow(`
		SELECT property_id, user_id, latitude, longitude, country_code, enrichment_status,
			enriched_at, enrichment_error, next_scrape_at, created_at, updated_at
		FROM properties WHERE property_id = ?`, propertyID)
	p, err := scanProperty(row)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("property %q not found", propertyID)
	}
	if err != nil {
		return nil, fmt.Errorf("get property: %w", err)
	}
	return p, nil
}

// TransitionStatus applies the enrichment_status state machine, failing
// with apperr.Conflict if the transition is illegal.
func (r *PropertyRepository) TransitionStatus(propertyID string, next EnrichmentStatus, errMsg *string) error {
	p, err := r.Get(propertyID)
	if err != nil {
		return err
	}
	if !p.EnrichmentStatus.CanTransition(next) {
		return apperr.Conflict("cannot transition property %q from %s to %s", propertyID, p.EnrichmentStatus, next)
	}
	p.EnrichmentStatus = next
	p.EnrichmentError = errMsg
	if next == EnrichmentCompleted {
		now := time.Now().UTC()
		p.EnrichedAt = &now
	}
	return r.Upsert(p)
}

// DueForScrape returns properties whose next_scrape_at is at or before
// now (or never set), used by the competitor-daily schedule.
func (r *PropertyRepository) DueForScrape(limit int) ([]*Property, error) {
	rows, err := r.db.Query(`
		SELECT property_id, user_id, latitude, longitude, country_code, enrichment_status,
			enriched_at, enrichment_error, next_scrape_at, created_at, updated_at
		FROM properties
		WHERE next_scrape_at IS NULL OR next_scrape_at <= ?
		ORDER BY next_scrape_at IS NULL DESC, next_scrape_at ASC
		LIMIT ?`, time.Now().UTC().Format(time.RFC3339), limit)
	if err != nil {
		return nil, fmt.Errorf("query due-for-scrape properties: %w", err)
	}
	defer rows.Close()
	return collectProperties(rows)
}

// WithoutGraph returns properties that have coordinates but no
// competitor graph yet, up to limit, for the graph-build schedule.
func (r *PropertyRepository) WithoutGraph(limit int) ([]*Property, error) {
	rows, err := r.db.Query(`
		SELECT p.property_id, p.user_id, p.latitude, p.longitude, p.country_code, p.enrichment_status,
			p.enriched_at, p.enrichment_error, p.next_scrape_at, p.created_at, p.updated_at
		FROM properties p
		WHERE p.latitude IS NOT NULL AND p.longitude IS NOT NULL
		AND NOT EXISTS (SELECT 1 FROM competitors c WHERE c.property_id = p.property_id)
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query properties without graph: %w", err)
	}
	defer rows.Close()
	return collectProperties(rows)
}

// WithGraph returns every property that has at least one competitor edge,
// used by the neighborhood-index-daily schedule.
func (r *PropertyRepository) WithGraph() ([]*Property, error) {
	rows, err := r.db.Query(`
		SELECT p.property_id, p.user_id, p.latitude, p.longitude, p.country_code, p.enrichment_status,
			p.enriched_at, p.enrichment_error, p.next_scrape_at, p.created_at, p.updated_at
		FROM properties p
		WHERE EXISTS (SELECT 1 FROM competitors c WHERE c.property_id = p.property_id)`)
	if err != nil {
		return nil, fmt.Errorf("query properties with graph: %w", err)
	}
	defer rows.Close()
	return collectProperties(rows)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProperty(s scanner) (*Property, error) {
	var p Property
	var status string
	var enrichedAt, nextScrapeAt, createdAt, updatedAt sql.NullString
	err := s.Scan(&p.PropertyID, &p.UserID, &p.Latitude, &p.Longitude, &p.CountryCode, &status,
		&enrichedAt, &p.EnrichmentError, &nextScrapeAt, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	p.EnrichmentStatus = EnrichmentStatus(status)
	p.EnrichedAt = parseTimePtr(enrichedAt)
	p.NextScrapeAt = parseTimePtr(nextScrapeAt)
	if t, err := time.Parse(time.RFC3339, createdAt.String); err == nil {
		p.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339, updatedAt.String); err == nil {
		p.UpdatedAt = t
	}
	return &p, nil
}

func collectProperties(rows *sql.Rows) ([]*Property, error) {
	var out []*Property
	for rows.Next() {
		p, err := scanProperty(rows)
		if err != nil {
			return nil, fmt.Errorf("scan property: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339)
}

func parseTimePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s.String)
	if err != nil {
		return nil
	}
	return &t
}
