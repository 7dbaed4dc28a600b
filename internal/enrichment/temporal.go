package enrichment

import "time"

// Season is the Northern-hemisphere season mapping from spec.md §4.C.
func Season(month time.Month) string {
	switch month {
	case time.December, time.January, time.February:
		return "Winter"
	case time.March, time.April, time.May:
		return "Spring"
	case time.June, time.July, time.August:
		return "Summer"
	default:
		return "Fall"
	}
}

// IsWeekend reports whether dow, in DayOfWeek's Monday=0..Sunday=6
// numbering, is 5 or 6 (Saturday or Sunday); 2024-06-15 is a Saturday
// with dow=5.
func IsWeekend(dow int) bool {
	return dow == 5 || dow == 6
}

// DayOfWeek returns spec.md's 0..6 day-of-week index for date, where
// Monday=0 .. Sunday=6, which yields dow=5 for Saturday as S2 requires.
func DayOfWeek(t time.Time) int {
	switch t.Weekday() {
	case time.Monday:
		return 0
	case time.Tuesday:
		return 1
	case time.Wednesday:
		return 2
	case time.Thursday:
		return 3
	case time.Friday:
		return 4
	case time.Saturday:
		return 5
	default: // Sunday
		return 6
	}
}
