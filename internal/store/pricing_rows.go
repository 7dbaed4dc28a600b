package store

import (
	"database/sql"
	"fmt"
	"time"
)

// PricingRowRepository persists PricingRow records, keyed uniquely by
// (property_id, stay_date) per spec.md §3.1.
type PricingRowRepository struct {
	db *sql.DB
}

func NewPricingRowRepository(db *sql.DB) *PricingRowRepository {
	return &PricingRowRepository{db: db}
}

// Insert creates a new row. Callers are responsible for generating RowID.
func (r *PricingRowRepository) Insert(row *PricingRow) error {
	now := time.Now().UTC()
	row.CreatedAt, row.UpdatedAt = now, now
	_, err := r.db.Exec(`
		INSERT INTO pricing_rows (row_id, property_id, user_id, stay_date, price, occupancy, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		row.RowID, row.PropertyID, row.UserID, row.StayDate, row.Price, row.Occupancy,
		now.Format(time.RFC3339), now.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("insert pricing row: %w", err)
	}
	return nil
}

// ForProperty returns every row belonging to a property, ordered by date.
func (r *PricingRowRepository) ForProperty(propertyID string) ([]*PricingRow, error) {
	rows, err := r.db.Query(`
		SELECT row_id, property_id, user_id, stay_date, price, occupancy,
			temperature, precipitation, weather_code, weather_description, sunshine_hours,
			day_of_week, month, season, is_weekend, is_holiday, holiday_name, created_at, updated_at
		FROM pricing_rows WHERE property_id = ? ORDER BY stay_date`, propertyID)
	if err != nil {
		return nil, fmt.Errorf("query pricing rows: %w", err)
	}
	defer rows.Close()

	var out []*PricingRow
	for rows.Next() {
		pr, err := scanPricingRow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pricing row: %w", err)
		}
		out = append(out, pr)
	}
	return out, rows.Err()
}

// UpsertEnrichmentNullOnly writes enrichment fields for row but only for
// columns that are currently NULL, implementing the idempotence clause in
// spec.md §4.C step 5 ("existing non-null values are preserved").
func (r *PricingRowRepository) UpsertEnrichmentNullOnly(row *PricingRow) error {
	_, err := r.db.Exec(`
		UPDATE pricing_rows SET
			temperature         = COALESCE(temperature, ?),
			precipitation       = COALESCE(precipitation, ?),
			weather_code        = COALESCE(weather_code, ?),
			weather_description = COALESCE(weather_description, ?),
			sunshine_hours      = COALESCE(sunshine_hours, ?),
			day_of_week         = COALESCE(day_of_week, ?),
			month               = COALESCE(month, ?),
			season              = COALESCE(season, ?),
			is_weekend          = COALESCE(is_weekend, ?),
			is_holiday          = COALESCE(is_holiday, ?),
			holiday_name        = COALESCE(holiday_name, ?),
			updated_at          = ?
		WHERE row_id = ?`,
		row.Temperature, row.Precipitation, row.WeatherCode, row.WeatherDescription, row.SunshineHours,
		row.DayOfWeek, row.Month, row.Season, boolPtrToInt(row.IsWeekend), boolPtrToInt(row.IsHoliday),
		row.HolidayName, time.Now().UTC().Format(time.RFC3339), row.RowID)
	if err != nil {
		return fmt.Errorf("upsert enrichment fields for row %q: %w", row.RowID, err)
	}
	return nil
}

func scanPricingRow(rows *sql.Rows) (*PricingRow, error) {
	var pr PricingRow
	var isWeekend, isHoliday sql.NullInt64
	var createdAt, updatedAt string
	err := rows.Scan(&pr.RowID, &pr.PropertyID, &pr.UserID, &pr.StayDate, &pr.Price, &pr.Occupancy,
		&pr.Temperature, &pr.Precipitation, &pr.WeatherCode, &pr.WeatherDescription, &pr.SunshineHours,
		&pr.DayOfWeek, &pr.Month, &pr.Season, &isWeekend, &isHoliday, &pr.HolidayName, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	pr.IsWeekend = intToBoolPtr(isWeekend)
	pr.IsHoliday = intToBoolPtr(isHoliday)
	pr.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	pr.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &pr, nil
}

func boolPtrToInt(b *bool) any {
	if b == nil {
		return nil
	}
	if *b {
		return 1
	}
	return 0
}

func intToBoolPtr(n sql.NullInt64) *bool {
	if !n.Valid {
		return nil
	}
	v := n.Int64 != 0
	return &v
}
