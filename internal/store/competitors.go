package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// CompetitorGraphRepository persists the competitor edges and daily
// neighborhood-index snapshots described in spec.md §3.6.
type CompetitorGraphRepository struct {
	db *sql.DB
}

func NewCompetitorGraphRepository(db *sql.DB) *CompetitorGraphRepository {
	return &CompetitorGraphRepository{db: db}
}

// ReplaceGraph overwrites a property's competitor set atomically.
func (r *CompetitorGraphRepository) ReplaceGraph(propertyID string, competitors []*Competitor) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("begin replace-graph transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM competitors WHERE property_id = ?`, propertyID); err != nil {
		return fmt.Errorf("clear existing graph: %w", err)
	}
	for _, c := range competitors {
		_, err := tx.Exec(`
			INSERT INTO competitors (property_id, competitor_id, distance_km, star_rating, review_score, latest_price, latest_price_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			propertyID, c.CompetitorID, c.DistanceKM, c.StarRating, c.ReviewScore, c.LatestPrice, formatTimePtr(c.LatestPriceAt))
		if err != nil {
			return fmt.Errorf("insert competitor %q: %w", c.CompetitorID, err)
		}
	}
	return tx.Commit()
}

// Graph returns the competitor set for a property (up to spec.md's default
// cap of 30, enforced by callers that build the graph).
func (r *CompetitorGraphRepository) Graph(propertyID string) ([]*Competitor, error) {
	rows, err := r.db.Query(`
		SELECT property_id, competitor_id, distance_km, star_rating, review_score, latest_price, latest_price_at
		FROM competitors WHERE property_id = ?`, propertyID)
	if err != nil {
		return nil, fmt.Errorf("query competitor graph: %w", err)
	}
	defer rows.Close()

	var out []*Competitor
	for rows.Next() {
		var c Competitor
		var latestPriceAt sql.NullString
		if err := rows.Scan(&c.PropertyID, &c.CompetitorID, &c.DistanceKM, &c.StarRating, &c.ReviewScore,
			&c.LatestPrice, &latestPriceAt); err != nil {
			return nil, fmt.Errorf("scan competitor: %w", err)
		}
		c.LatestPriceAt = parseTimePtr(latestPriceAt)
		out = append(out, &c)
	}
	return out, rows.Err()
}

// HasGraph reports whether a property already has at least one competitor edge.
func (r *CompetitorGraphRepository) HasGraph(propertyID string) (bool, error) {
	var count int
	err := r.db.QueryRow(`SELECT COUNT(*) FROM competitors WHERE property_id = ?`, propertyID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check graph existence: %w", err)
	}
	return count > 0, nil
}

// SaveIndex persists one day's neighborhood-index snapshot.
func (r *CompetitorGraphRepository) SaveIndex(idx *NeighborhoodIndex) error {
	idx.CreatedAt = time.Now().UTC()
	advantages := strings.Join(idx.Advantages, ",")
	weaknesses := strings.Join(idx.Weaknesses, ",")
	_, err := r.db.Exec(`
		INSERT INTO neighborhood_index (property_id, index_date, overall_index, price_competitiveness,
			value_score, positioning, market_position, competitors_analyzed, p10, p50, p90,
			price_percentile, delta_1d, delta_7d, delta_30d, advantages, weaknesses, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(property_id, index_date) DO UPDATE SET
			overall_index=excluded.overall_index, price_competitiveness=excluded.price_competitiveness,
			value_score=excluded.value_score, positioning=excluded.positioning,
			market_position=excluded.market_position, competitors_analyzed=excluded.competitors_analyzed,
			p10=excluded.p10, p50=excluded.p50, p90=excluded.p90, price_percentile=excluded.price_percentile,
			delta_1d=excluded.delta_1d, delta_7d=excluded.delta_7d, delta_30d=excluded.delta_30d,
			advantages=excluded.advantages, weaknesses=excluded.weaknesses`,
		idx.PropertyID, idx.IndexDate, idx.OverallIndex, idx.PriceCompetitiveness, idx.Value, idx.Positioning,
		idx.MarketPosition, idx.CompetitorsAnalyzed, idx.P10, idx.P50, idx.P90, idx.PricePercentile,
		idx.Delta1d, idx.Delta7d, idx.Delta30d, advantages, weaknesses, idx.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("save neighborhood index: %w", err)
	}
	return nil
}

// Latest returns the most recent neighborhood-index row for a property.
func (r *CompetitorGraphRepository) Latest(propertyID string) (*NeighborhoodIndex, error) {
	row := r.db.QueryRow(`
		SELECT property_id, index_date, overall_index, price_competitiveness, value_score, positioning,
			market_position, competitors_analyzed, p10, p50, p90, price_percentile, delta_1d, delta_7d,
			delta_30d, advantages, weaknesses, created_at
		FROM neighborhood_index WHERE property_id = ? ORDER BY index_date DESC LIMIT 1`, propertyID)
	return scanIndex(row)
}

// Trend returns up to `days` most recent index rows, oldest first.
func (r *CompetitorGraphRepository) Trend(propertyID string, days int) ([]*NeighborhoodIndex, error) {
	rows, err := r.db.Query(`
		SELECT property_id, index_date, overall_index, price_competitiveness, value_score, positioning,
			market_position, competitors_analyzed, p10, p50, p90, price_percentile, delta_1d, delta_7d,
			delta_30d, advantages, weaknesses, created_at
		FROM neighborhood_index WHERE property_id = ? ORDER BY index_date DESC LIMIT ?`, propertyID, days)
	if err != nil {
		return nil, fmt.Errorf("query index trend: %w", err)
	}
	defer rows.Close()

	var out []*NeighborhoodIndex
	for rows.Next() {
		idx, err := scanIndexRows(rows)
		if err != nil {
			return nil, fmt.Errorf("scan index row: %w", err)
		}
		out = append(out, idx)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, rows.Err()
}

// PriorIndex looks up the index row exactly `daysAgo` days before date,
// used to compute Δ1d/Δ7d/Δ30d.
func (r *CompetitorGraphRepository) PriorIndex(propertyID, date string, daysAgo int) (*NeighborhoodIndex, error) {
	t, err := time.Parse("2006-01-02", date)
	if err != nil {
		return nil, fmt.Errorf("parse index date %q: %w", date, err)
	}
	target := t.AddDate(0, 0, -daysAgo).Format("2006-01-02")
	row := r.db.QueryRow(`
		SELECT property_id, index_date, overall_index, price_competitiveness, value_score, positioning,
			market_position, competitors_analyzed, p10, p50, p90, price_percentile, delta_1d, delta_7d,
			delta_30d, advantages, weaknesses, created_at
		FROM neighborhood_index WHERE property_id = ? AND index_date = ?`, propertyID, target)
	idx, err := scanIndex(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return idx, err
}

func scanIndex(row *sql.Row) (*NeighborhoodIndex, error) {
	var idx NeighborhoodIndex
	var advantages, weaknesses, createdAt string
	err := row.Scan(&idx.PropertyID, &idx.IndexDate, &idx.OverallIndex, &idx.PriceCompetitiveness, &idx.Value,
		&idx.Positioning, &idx.MarketPosition, &idx.CompetitorsAnalyzed, &idx.P10, &idx.P50, &idx.P90,
		&idx.PricePercentile, &idx.Delta1d, &idx.Delta7d, &idx.Delta30d, &advantages, &weaknesses, &createdAt)
	if err != nil {
		return nil, err
	}
	idx.Advantages = splitNonEmpty(advantages)
	idx.Weaknesses = splitNonEmpty(weaknesses)
	idx.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &idx, nil
}

func scanIndexRows(rows *sql.Rows) (*NeighborhoodIndex, error) {
	var idx NeighborhoodIndex
	var advantages, weaknesses, createdAt string
	err := rows.Scan(&idx.PropertyID, &idx.IndexDate, &idx.OverallIndex, &idx.PriceCompetitiveness, &idx.Value,
		&idx.Positioning, &idx.MarketPosition, &idx.CompetitorsAnalyzed, &idx.P10, &idx.P50, &idx.P90,
		&idx.PricePercentile, &idx.Delta1d, &idx.Delta7d, &idx.Delta30d, &advantages, &weaknesses, &createdAt)
	if err != nil {
		return nil, err
	}
	idx.Advantages = splitNonEmpty(advantages)
	idx.Weaknesses = splitNonEmpty(weaknesses)
	idx.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	return &idx, nil
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

// MarshalJSON-friendly accessor kept for the HTTP layer.
func (idx *NeighborhoodIndex) ToJSON() ([]byte, error) {
	return json.Marshal(idx)
}
