package enrichment

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/jengu/pricing-core/internal/apperr"
	"github.com/jengu/pricing-core/internal/cache"
	"github.com/jengu/pricing-core/internal/fetchers"
	"github.com/jengu/pricing-core/internal/geocode"
	"github.com/jengu/pricing-core/internal/queue"
	"github.com/jengu/pricing-core/internal/store"
)

// analyticsEnqueuer is the narrow slice of queue.Queue the pipeline needs
// to auto-chain an analytics job, kept separate so tests can stub it.
type analyticsEnqueuer interface {
	Enqueue(queueName string, jobName queue.JobName, payload []byte, opts queue.EnqueueOptions) (string, error)
}

// Pipeline runs the per-row weather/holiday/temporal enrichment of
// spec.md §4.C end to end: resolve coordinates, fetch weather and
// holidays (through the content-addressed cache), map each row's fields,
// persist with null-only idempotence, and auto-chain analytics.
type Pipeline struct {
	Properties *store.PropertyRepository
	Rows       *store.PricingRowRepository
	Cache      *cache.Cache
	Weather    *fetchers.WeatherClient
	Holiday    *fetchers.HolidayClient
	Geocoder   geocode.Resolver
	Queue      analyticsEnqueuer

	AutoAnalytics bool // ENABLE_AUTO_ANALYTICS, spec.md §6.5
	Log           zerolog.Logger
}

// Result summarizes one Run call for the job's return_value.
type Result struct {
	RowsEnriched int `json:"rows_enriched"`
	RowsFailed   int `json:"rows_failed"`
}

// Run enriches every row in rows belonging to property, persisting
// results with null-only idempotence (re-running never overwrites an
// already-enriched field, spec.md §4.C step 5 / §8 invariant 4), and
// auto-enqueues an analytics_summary job once at least one row changed
// (scenario S7).
func (p *Pipeline) Run(ctx context.Context, property *store.Property, rows []*store.PricingRow, progress *queue.ProgressReporter) (Result, error) {
	var result Result

	if !property.HasCoordinates() {
		coords, err := p.resolveCoordinates(ctx, property)
		if err != nil {
			return result, apperr.Wrap(apperr.KindOf(err), err, "resolve coordinates for property %q", property.PropertyID)
		}
		property.Latitude = &coords.Latitude
		property.Longitude = &coords.Longitude
	}

	pending := make([]*store.PricingRow, 0, len(rows))
	for _, r := range rows {
		if !r.IsEnriched() {
			pending = append(pending, r)
		}
	}
	if len(pending) == 0 {
		return result, nil
	}

	startDate, endDate := dateRange(pending)
	weatherByDate, err := p.fetchWeather(ctx, *property.Latitude, *property.Longitude, startDate, endDate)
	if err != nil {
		return result, err
	}

	holidaysByYear := make(map[int]map[string]string)
	if property.CountryCode != nil && p.Holiday != nil {
		for year := range yearsIn(pending) {
			holidays, err := p.fetchHolidays(ctx, *property.CountryCode, year)
			if err != nil {
				p.Log.Warn().Err(err).Int("year", year).Msg("holiday fetch failed, continuing without holiday data")
				continue
			}
			holidaysByYear[year] = holidays
		}
	}

	for i, row := range pending {
		if err := p.enrichRow(row, weatherByDate, holidaysByYear); err != nil {
			result.RowsFailed++
			p.Log.Warn().Err(err).Str("row_id", row.RowID).Msg("enrich row failed")
			continue
		}
		if err := p.Rows.UpsertEnrichmentNullOnly(row); err != nil {
			result.RowsFailed++
			continue
		}
		result.RowsEnriched++
		if progress != nil {
			progress.Report(i+1, len(pending), fmt.Sprintf("enriched row %s", row.StayDate))
		}
	}

	if p.AutoAnalytics && result.RowsEnriched > 0 && p.Queue != nil {
		payload, _ := encodePayload(map[string]string{"property_id": property.PropertyID})
		if _, err := p.Queue.Enqueue(queue.QueueAnalytics, queue.JobNameAnalyticsSummary, payload, queue.EnqueueOptions{Priority: queue.PriorityLow}); err != nil {
			p.Log.Warn().Err(err).Msg("failed to auto-enqueue analytics job")
		}
	}

	return result, nil
}

func (p *Pipeline) resolveCoordinates(ctx context.Context, property *store.Property) (geocode.Coordinates, error) {
	if p.Geocoder == nil {
		return geocode.Coordinates{}, apperr.Validation("property %q has no coordinates and no geocoder is configured", property.PropertyID)
	}
	return p.Geocoder.Resolve(ctx, property.PropertyID)
}

func (p *Pipeline) fetchWeather(ctx context.Context, lat, lon float64, start, end string) (map[string]fetchers.DailyWeather, error) {
	key := cache.Fingerprint("weather", fmt.Sprintf("%.4f", lat), fmt.Sprintf("%.4f", lon), start, end)
	ttl := fetchers.TTLFor(end)

	raw, err := p.Cache.GetOrFetch(ctx, "weather", key, ttl, func(ctx context.Context) ([]byte, error) {
		days, err := p.Weather.FetchRange(ctx, lat, lon, start, end)
		if err != nil {
			return nil, err
		}
		return encodePayload(days)
	})
	if err != nil {
		return nil, err
	}

	var days []fetchers.DailyWeather
	if err := decodePayload(raw, &days); err != nil {
		return nil, apperr.Internal("decode cached weather: %v", err)
	}

	byDate := make(map[string]fetchers.DailyWeather, len(days))
	for _, d := range days {
		byDate[d.Date] = d
	}
	return byDate, nil
}

func (p *Pipeline) fetchHolidays(ctx context.Context, countryCode string, year int) (map[string]string, error) {
	key := cache.Fingerprint("holiday", countryCode, fmt.Sprintf("%d", year))

	raw, err := p.Cache.GetOrFetch(ctx, "holiday", key, fetchers.HolidayCacheTTLDays*24*time.Hour, func(ctx context.Context) ([]byte, error) {
		holidays, err := p.Holiday.FetchYear(ctx, countryCode, year)
		if err != nil {
			return nil, err
		}
		return encodePayload(holidays)
	})
	if err != nil {
		return nil, err
	}

	var holidays []fetchers.Holiday
	if err := decodePayload(raw, &holidays); err != nil {
		return nil, apperr.Internal("decode cached holidays: %v", err)
	}

	byDate := make(map[string]string, len(holidays))
	for _, h := range holidays {
		byDate[h.Date] = h.Name
	}
	return byDate, nil
}

func (p *Pipeline) enrichRow(row *store.PricingRow, weather map[string]fetchers.DailyWeather, holidaysByYear map[int]map[string]string) error {
	date, err := time.Parse("2006-01-02", row.StayDate)
	if err != nil {
		return apperr.Validation("invalid stay_date %q: %v", row.StayDate, err)
	}

	if w, ok := weather[row.StayDate]; ok {
		temp, precip, code, sun := w.Temperature, w.Precipitation, w.WeatherCode, w.SunshineHours
		desc := MapWeatherCode(code)
		row.Temperature = &temp
		row.Precipitation = &precip
		row.WeatherCode = &code
		row.WeatherDescription = &desc
		row.SunshineHours = &sun
	}

	dow := DayOfWeek(date)
	month := int(date.Month())
	season := Season(date.Month())
	weekend := IsWeekend(dow)
	row.DayOfWeek = &dow
	row.Month = &month
	row.Season = &season
	row.IsWeekend = &weekend

	isHoliday := false
	if names, ok := holidaysByYear[date.Year()]; ok {
		if name, found := names[row.StayDate]; found {
			isHoliday = true
			row.HolidayName = &name
		}
	}
	row.IsHoliday = &isHoliday

	return nil
}

func dateRange(rows []*store.PricingRow) (start, end string) {
	start, end = rows[0].StayDate, rows[0].StayDate
	for _, r := range rows[1:] {
		if r.StayDate < start {
			start = r.StayDate
		}
		if r.StayDate > end {
			end = r.StayDate
		}
	}
	return start, end
}

func yearsIn(rows []*store.PricingRow) map[int]struct{} {
	years := make(map[int]struct{})
	for _, r := range rows {
		if t, err := time.Parse("2006-01-02", r.StayDate); err == nil {
			years[t.Year()] = struct{}{}
		}
	}
	return years
}
