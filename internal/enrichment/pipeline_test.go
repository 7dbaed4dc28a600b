package enrichment

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jengu/pricing-core/internal/fetchers"
	"github.com/jengu/pricing-core/internal/store"
)

func TestEnrichRowPopulatesTemporalAndWeatherFields(t *testing.T) {
	p := &Pipeline{Log: zerolog.Nop()}
	row := &store.PricingRow{RowID: "row-1", StayDate: "2024-06-15"}

	weather := map[string]fetchers.DailyWeather{
		"2024-06-15": {Date: "2024-06-15", Temperature: 21.5, Precipitation: 0, WeatherCode: 0, SunshineHours: 9},
	}

	err := p.enrichRow(row, weather, nil)
	require.NoError(t, err)

	assert.Equal(t, 21.5, *row.Temperature)
	assert.Equal(t, "Clear", *row.WeatherDescription)
	require.NotNil(t, row.DayOfWeek)
	assert.Equal(t, 5, *row.DayOfWeek) // 2024-06-15 is a Saturday
	assert.True(t, *row.IsWeekend)
	assert.Equal(t, "Summer", *row.Season)
	assert.False(t, *row.IsHoliday)
}

func TestEnrichRowMarksHoliday(t *testing.T) {
	p := &Pipeline{Log: zerolog.Nop()}
	row := &store.PricingRow{RowID: "row-2", StayDate: "2024-01-01"}

	holidays := map[int]map[string]string{
		2024: {"2024-01-01": "New Year's Day"},
	}

	err := p.enrichRow(row, nil, holidays)
	require.NoError(t, err)

	require.NotNil(t, row.IsHoliday)
	assert.True(t, *row.IsHoliday)
	require.NotNil(t, row.HolidayName)
	assert.Equal(t, "New Year's Day", *row.HolidayName)
}

func TestDateRangeSpansMinAndMax(t *testing.T) {
	rows := []*store.PricingRow{
		{StayDate: "2024-06-10"},
		{StayDate: "2024-06-01"},
		{StayDate: "2024-06-20"},
	}
	start, end := dateRange(rows)
	assert.Equal(t, "2024-06-01", start)
	assert.Equal(t, "2024-06-20", end)
}

func TestYearsInCollectsDistinctYears(t *testing.T) {
	rows := []*store.PricingRow{
		{StayDate: "2024-12-31"},
		{StayDate: "2025-01-01"},
		{StayDate: "2025-06-01"},
	}
	years := yearsIn(rows)
	assert.Len(t, years, 2)
	_, hasPrev := years[2024]
	_, hasNext := years[2025]
	assert.True(t, hasPrev)
	assert.True(t, hasNext)
}

func TestRunSkipsAlreadyEnrichedRows(t *testing.T) {
	p := &Pipeline{Log: zerolog.Nop(), AutoAnalytics: true}
	lat, lon := 10.0, 20.0
	property := &store.Property{PropertyID: "prop-1", Latitude: &lat, Longitude: &lon}

	temp := 18.0
	rows := []*store.PricingRow{{RowID: "row-3", StayDate: "2024-06-15", Temperature: &temp}}

	// No Rows/Queue/Cache wired: if Run tried to touch any of them for an
	// already-enriched row, this would panic on a nil pointer.
	result, err := p.Run(nil, property, rows, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, result.RowsEnriched)
}

func TestEncodeDecodePayloadRoundTrip(t *testing.T) {
	type payload struct {
		PropertyID string `msgpack:"property_id"`
	}
	encoded, err := encodePayload(payload{PropertyID: "prop-1"})
	require.NoError(t, err)

	var decoded payload
	require.NoError(t, decodePayload(encoded, &decoded))
	assert.Equal(t, "prop-1", decoded.PropertyID)
}

func TestTTLForToday(t *testing.T) {
	today := time.Now().UTC().Format("2006-01-02")
	assert.Equal(t, 24*time.Hour, fetchers.TTLFor(today))
	assert.Equal(t, time.Duration(0), fetchers.TTLFor("2000-01-01"))
}
