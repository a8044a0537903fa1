package checkin

import "time"

// DefaultStudyDays is the study length used when none is configured.
const DefaultStudyDays = 7

// CurrentDay returns the 1-based study day for now, clamped to [1, totalDays].
// Both instants are reduced to their calendar date in now's location, so
// the result only changes at local midnight. A start date in the future
// yields day 1.
func CurrentDay(startDate *time.Time, now time.Time, totalDays int) (int, error) {
	if totalDays < 1 {
		return 0, configErrorf("study length must be at least one day, got %d", totalDays)
	}
	if startDate == nil || startDate.IsZero() {
		return 0, ErrMissingStartDate
	}
	day := daysBetween(startDate.In(now.Location()), now) + 1
	if day < 1 {
		day = 1
	}
	if day > totalDays {
		day = totalDays
	}
	return day, nil
}

// daysBetween counts calendar dates from a to b. Dates are compared in UTC
// so 23h and 25h DST days still count as one.
func daysBetween(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	ua := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	ub := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(ub.Sub(ua) / (24 * time.Hour))
}
