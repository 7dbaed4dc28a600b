// Package enrichment implements the per-row weather/holiday/temporal
// enrichment algorithm of spec.md §4.C.
package enrichment

// MapWeatherCode converts a WMO weather code into the human description
// used by downstream pricing analytics (spec.md §4.C, scenario S1). It
// returns the description only; severity comes from WeatherSeverity.
func MapWeatherCode(code int) string {
	switch code {
	case 0:
		return "Clear"
	case 1, 2, 3:
		return "Partly Cloudy"
	case 45, 48:
		return "Foggy"
	case 51, 53, 55, 56, 57:
		return "Drizzle"
	case 61, 63, 65, 66, 67, 80, 81, 82:
		return "Rainy"
	case 71, 73, 75, 77, 85, 86:
		return "Snowy"
	case 95, 96, 99:
		return "Thunderstorm"
	default:
		return "Cloudy"
	}
}

// WeatherSeverity ranks a description 0 (best) .. 4 (worst), per spec.md
// §4.C's severity table.
func WeatherSeverity(description string) int {
	switch description {
	case "Clear":
		return 0
	case "Partly Cloudy":
		return 1
	case "Drizzle":
		return 2
	case "Foggy", "Rainy":
		return 3
	case "Thunderstorm", "Snowy":
		return 4
	default:
		return 1 // Cloudy, treated as mild
	}
}
