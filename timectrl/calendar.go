package timectrl

import (
	"math"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"
)

// Epoch is the calendar instant at which elapsed simulation time is zero.
var Epoch = time.Date(2000, time.January, 1, 12, 0, 0, 0, time.UTC)

const dayDuration = 24 * time.Hour

// SimDate converts elapsed simulated days into a calendar time.
func SimDate(elapsedDays float64) time.Time {
	if math.IsNaN(elapsedDays) || elapsedDays < 0 {
		elapsedDays = 0
	}
	whole, frac := math.Modf(elapsedDays)
	return Epoch.AddDate(0, 0, int(whole)).Add(time.Duration(frac * float64(dayDuration)))
}

// JulianDate returns the Julian day number of t (UTC, second resolution).
func JulianDate(t time.Time) float64 {
	t = t.UTC()
	year, month, day := t.Date()
	hour, min, sec := t.Clock()
	return satellite.JDay(year, int(month), day, hour, min, sec)
}

// FormatDate renders t as dd/mm/yyyy.
func FormatDate(t time.Time) string {
	return t.UTC().Format("02/01/2006")
}
