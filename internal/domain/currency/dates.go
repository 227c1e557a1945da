package currency

import "time"

// MinRateDate is the earliest date rates are looked up for.
var MinRateDate = time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)

// EffectiveDate clamps date into the retrievable window: dates before
// MinRateDate become MinRateDate, dates on or after today become yesterday.
// A zero date is treated as today.
func EffectiveDate(date, now time.Time) time.Time {
	today := truncateDay(now)
	if date.IsZero() {
		date = today
	}
	day := truncateDay(date)

	switch {
	case day.Before(MinRateDate):
		return MinRateDate
	case !day.Before(today):
		return today.AddDate(0, 0, -1)
	default:
		return day
	}
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
