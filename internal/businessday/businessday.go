// Package businessday computes the reporting day boundary, which starts at a
// fixed cutover hour in a fixed-offset reference timezone rather than at
// midnight.
package businessday

import (
	"fmt"
	"time"
)

// Window is one 24-hour business-day window. Start is inclusive, End is
// exclusive, and both are expressed in the calculator's reference timezone.
type Window struct {
	Date  time.Time `json:"date"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Calculator classifies timestamps into business dates. It is pure and safe
// for concurrent use.
type Calculator struct {
	cutoverHour int
	loc         *time.Location
}

// NewCalculator creates a calculator for the given cutover hour and reference
// timezone offset. A fixed-offset zone is used deliberately so the window
// never drifts across DST changes.
func NewCalculator(cutoverHour, tzOffsetHours int) *Calculator {
	name := fmt.Sprintf("UTC%+d", tzOffsetHours)
	return &Calculator{
		cutoverHour: cutoverHour,
		loc:         time.FixedZone(name, tzOffsetHours*3600),
	}
}

// Location returns the reference timezone.
func (c *Calculator) Location() *time.Location {
	return c.loc
}

// BusinessDate returns the business date t falls into, normalized to midnight
// in the reference timezone. Instants before the cutover hour belong to the
// previous calendar date.
func (c *Calculator) BusinessDate(t time.Time) time.Time {
	local := t.In(c.loc)
	date := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, c.loc)
	if local.Hour() < c.cutoverHour {
		date = date.AddDate(0, 0, -1)
	}
	return date
}

// Window returns the business-day window containing t.
func (c *Calculator) Window(t time.Time) Window {
	return c.WindowForDate(c.BusinessDate(t))
}

// WindowForDate returns the window [date @ cutover, date+1 @ cutover) for a
// business date. The end is computed as an exact 24h offset from the start,
// which holds because the reference zone is fixed-offset.
func (c *Calculator) WindowForDate(date time.Time) Window {
	local := date.In(c.loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), c.cutoverHour, 0, 0, 0, c.loc)
	return Window{
		Date:  time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, c.loc),
		Start: start,
		End:   start.Add(24 * time.Hour),
	}
}
