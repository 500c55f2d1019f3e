// Package proration holds the pure calendar and legal-table helpers used to
// prorate salaries over a payroll period.
package proration

import (
	"fmt"
	"strings"
	"time"
)

// Periodicity enumerates the supported payroll period lengths.
type Periodicity string

const (
	PeriodicityWeekly   Periodicity = "weekly"
	PeriodicityBiweekly Periodicity = "biweekly"
	PeriodicityMonthly  Periodicity = "monthly"
)

const (
	// NominalMonthDays is the legal month length used as proration denominator.
	NominalMonthDays = 30
	// FallbackWorkedDays is returned when a monthly window cannot be measured.
	FallbackWorkedDays = 30

	weeklyWorkedDays   = 7
	biweeklyWorkedDays = 15
	dateLayout         = "2006-01-02"
)

// IsValid reports whether p is a known periodicity.
func (p Periodicity) IsValid() bool {
	switch p {
	case PeriodicityWeekly, PeriodicityBiweekly, PeriodicityMonthly:
		return true
	default:
		return false
	}
}

// ParsePeriodicity normalises user input into a Periodicity.
func ParsePeriodicity(raw string) (Periodicity, error) {
	p := Periodicity(strings.ToLower(strings.TrimSpace(raw)))
	if !p.IsValid() {
		return "", fmt.Errorf("proration: unknown periodicity %q", raw)
	}
	return p, nil
}

// Window describes the date range and periodicity of a payroll period.
type Window struct {
	Start       time.Time
	End         time.Time
	Periodicity Periodicity
}

// Contains reports whether d falls within the window, inclusive on both ends.
func (w Window) Contains(d time.Time) bool {
	day := truncate(d)
	return !day.Before(truncate(w.Start)) && !day.After(truncate(w.End))
}

// Overlaps reports whether two windows share at least one day.
func (w Window) Overlaps(other Window) bool {
	return !truncate(w.End).Before(truncate(other.Start)) && !truncate(other.End).Before(truncate(w.Start))
}

// WorkedDays returns the payable days for the window.
//
// Weekly and biweekly periods pay their nominal length regardless of the
// calendar. Monthly periods pay the inclusive calendar span; a window whose
// dates are missing or inverted falls back to FallbackWorkedDays.
func WorkedDays(w Window) int {
	switch w.Periodicity {
	case PeriodicityBiweekly:
		return biweeklyWorkedDays
	case PeriodicityWeekly:
		return weeklyWorkedDays
	}
	if w.Start.IsZero() || w.End.IsZero() || w.End.Before(w.Start) {
		return FallbackWorkedDays
	}
	return CalendarDaysBetween(w.Start, w.End)
}

// WorkedDaysFromStrings parses ISO dates and applies WorkedDays.
func WorkedDaysFromStrings(periodicity Periodicity, start, end string) int {
	s, errStart := time.Parse(dateLayout, strings.TrimSpace(start))
	e, errEnd := time.Parse(dateLayout, strings.TrimSpace(end))
	if errStart != nil || errEnd != nil {
		s, e = time.Time{}, time.Time{}
	}
	return WorkedDays(Window{Start: s, End: e, Periodicity: periodicity})
}

// CalendarDaysBetween returns the inclusive number of days from start to end.
// An end date before start yields 0.
func CalendarDaysBetween(start, end time.Time) int {
	s := truncate(start)
	e := truncate(end)
	if e.Before(s) {
		return 0
	}
	// Whole UTC days avoid DST drift.
	return int(e.Sub(s).Hours()/24) + 1
}

// CalendarDaysBetweenStrings is CalendarDaysBetween over ISO dates.
func CalendarDaysBetweenStrings(start, end string) (int, error) {
	s, err := time.Parse(dateLayout, strings.TrimSpace(start))
	if err != nil {
		return 0, fmt.Errorf("proration: parse start %q: %w", start, err)
	}
	e, err := time.Parse(dateLayout, strings.TrimSpace(end))
	if err != nil {
		return 0, fmt.Errorf("proration: parse end %q: %w", end, err)
	}
	return CalendarDaysBetween(s, e), nil
}

func truncate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Date builds a UTC calendar date.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}
