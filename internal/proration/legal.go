package proration

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// DivisorStep is one row of the monthly-hours divisor table.
type DivisorStep struct {
	EffectiveFrom time.Time
	Hours         int
}

// RateStep is one row of a progressive surcharge schedule.
type RateStep struct {
	EffectiveFrom time.Time
	Rate          decimal.Decimal
}

// SurchargeKind identifies a legal surcharge category.
type SurchargeKind string

const (
	SurchargeOvertimeDay         SurchargeKind = "overtime_day"
	SurchargeOvertimeNight       SurchargeKind = "overtime_night"
	SurchargeNight               SurchargeKind = "night"
	SurchargeSundayHoliday       SurchargeKind = "sunday_holiday"
	SurchargeSundayOvertimeDay   SurchargeKind = "sunday_overtime_day"
	SurchargeSundayOvertimeNight SurchargeKind = "sunday_overtime_night"
)

// IsOvertime reports whether the kind pays the ordinary hour plus a premium.
func (k SurchargeKind) IsOvertime() bool {
	switch k {
	case SurchargeOvertimeDay, SurchargeOvertimeNight, SurchargeSundayOvertimeDay, SurchargeSundayOvertimeNight:
		return true
	default:
		return false
	}
}

// Tables groups the effective-date tables used by the legal lookups.
// The zero value is not usable; start from DefaultTables.
type Tables struct {
	HourlyDivisor []DivisorStep
	Surcharges    map[SurchargeKind][]RateStep
}

// DefaultTables returns the statutory schedule: the weekly working-hours
// reduction (48h down to 42h) and the progressive Sunday/holiday premium.
func DefaultTables() Tables {
	return Tables{
		HourlyDivisor: []DivisorStep{
			{EffectiveFrom: time.Time{}, Hours: 240},
			{EffectiveFrom: Date(2023, time.July, 15), Hours: 235},
			{EffectiveFrom: Date(2024, time.July, 15), Hours: 230},
			{EffectiveFrom: Date(2025, time.July, 15), Hours: 220},
			{EffectiveFrom: Date(2026, time.July, 15), Hours: 210},
		},
		Surcharges: map[SurchargeKind][]RateStep{
			SurchargeOvertimeDay:   {{Rate: decimal.RequireFromString("0.25")}},
			SurchargeOvertimeNight: {{Rate: decimal.RequireFromString("0.75")}},
			SurchargeNight:         {{Rate: decimal.RequireFromString("0.35")}},
			SurchargeSundayHoliday: {
				{EffectiveFrom: time.Time{}, Rate: decimal.RequireFromString("0.75")},
				{EffectiveFrom: Date(2025, time.July, 1), Rate: decimal.RequireFromString("0.80")},
				{EffectiveFrom: Date(2026, time.July, 1), Rate: decimal.RequireFromString("0.90")},
				{EffectiveFrom: Date(2027, time.July, 1), Rate: decimal.RequireFromString("1.00")},
			},
		},
	}
}

// LegalHourlyDivisor returns the monthly-hours divisor in force on date.
func (t Tables) LegalHourlyDivisor(date time.Time) int {
	day := truncate(date)
	hours := 0
	for _, step := range t.HourlyDivisor {
		if step.EffectiveFrom.After(day) {
			break
		}
		hours = step.Hours
	}
	if hours <= 0 && len(t.HourlyDivisor) > 0 {
		hours = t.HourlyDivisor[0].Hours
	}
	return hours
}

// LegalSurchargeRate returns the premium percentage (as a fraction) for kind on date.
// Sunday overtime kinds combine the Sunday premium with the overtime premium.
func (t Tables) LegalSurchargeRate(kind SurchargeKind, date time.Time) (decimal.Decimal, error) {
	switch kind {
	case SurchargeSundayOvertimeDay:
		return t.combined(SurchargeSundayHoliday, SurchargeOvertimeDay, date)
	case SurchargeSundayOvertimeNight:
		return t.combined(SurchargeSundayHoliday, SurchargeOvertimeNight, date)
	}
	steps, ok := t.Surcharges[kind]
	if !ok || len(steps) == 0 {
		return decimal.Zero, fmt.Errorf("proration: unknown surcharge kind %q", kind)
	}
	day := truncate(date)
	rate := steps[0].Rate
	for _, step := range steps {
		if step.EffectiveFrom.After(day) {
			break
		}
		rate = step.Rate
	}
	return rate, nil
}

func (t Tables) combined(a, b SurchargeKind, date time.Time) (decimal.Decimal, error) {
	ra, err := t.LegalSurchargeRate(a, date)
	if err != nil {
		return decimal.Zero, err
	}
	rb, err := t.LegalSurchargeRate(b, date)
	if err != nil {
		return decimal.Zero, err
	}
	return ra.Add(rb), nil
}

// HourlyRate divides a monthly salary by the legal divisor in force on date.
func (t Tables) HourlyRate(monthlySalary decimal.Decimal, date time.Time) decimal.Decimal {
	divisor := t.LegalHourlyDivisor(date)
	if divisor <= 0 {
		return decimal.Zero
	}
	return monthlySalary.Div(decimal.NewFromInt(int64(divisor)))
}

// SurchargeValue prices hours worked under kind. Overtime pays the ordinary
// hour plus the premium; plain surcharges pay the premium only. The result is
// unrounded.
func (t Tables) SurchargeValue(monthlySalary, hours decimal.Decimal, kind SurchargeKind, date time.Time) (decimal.Decimal, error) {
	rate, err := t.LegalSurchargeRate(kind, date)
	if err != nil {
		return decimal.Zero, err
	}
	factor := rate
	if kind.IsOvertime() {
		factor = decimal.NewFromInt(1).Add(rate)
	}
	return t.HourlyRate(monthlySalary, date).Mul(hours).Mul(factor), nil
}

var defaultTables = DefaultTables()

// LegalHourlyDivisor looks up the statutory divisor on date.
func LegalHourlyDivisor(date time.Time) int {
	return defaultTables.LegalHourlyDivisor(date)
}

// LegalSurchargeRate looks up the statutory premium for kind on date.
func LegalSurchargeRate(kind SurchargeKind, date time.Time) (decimal.Decimal, error) {
	return defaultTables.LegalSurchargeRate(kind, date)
}
