package fetchers

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
)

// Holiday is one public holiday entry for a country/year.
type Holiday struct {
	Date string `json:"date"`
	Name string `json:"localName"`
}

// HolidayClient fetches a country's public holidays for a year
// (spec.md §4.B, §3.4's holiday cache).
type HolidayClient struct {
	*httpClient
	baseURL string
}

func NewHolidayClient(cfg Config, log zerolog.Logger) *HolidayClient {
	return &HolidayClient{
		httpClient: newHTTPClient(cfg, log, "holiday"),
		baseURL:    "https://date.nager.at/api/v3/PublicHolidays",
	}
}

// FetchYear returns every public holiday for countryCode in year.
func (c *HolidayClient) FetchYear(ctx context.Context, countryCode string, year int) ([]Holiday, error) {
	url := fmt.Sprintf("%s/%d/%s", c.baseURL, year, countryCode)
	var holidays []Holiday
	if err := c.doJSON(ctx, url, &holidays); err != nil {
		return nil, err
	}
	return holidays, nil
}

// HolidayCacheTTLDays is the fixed holiday cache TTL from spec.md §3.4,
// in days.
const HolidayCacheTTLDays = 365
