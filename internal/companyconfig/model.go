package companyconfig

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/payroll/internal/proration"
)

// SolidarityBracket applies Rate when the contribution base reaches FromMultiple minimum wages.
type SolidarityBracket struct {
	FromMultiple decimal.Decimal `json:"from_multiple"`
	Rate         decimal.Decimal `json:"rate"`
}

// PayrollConfig carries the statutory parameters used to liquidate a company's payroll.
type PayrollConfig struct {
	CompanyID   uuid.UUID             `json:"company_id"`
	Periodicity proration.Periodicity `json:"periodicity"`

	MinimumWage        decimal.Decimal `json:"minimum_wage"`
	TransportAllowance decimal.Decimal `json:"transport_allowance"`
	// TransportEligibilityMultiple caps eligible salaries at N minimum wages (inclusive).
	TransportEligibilityMultiple decimal.Decimal `json:"transport_eligibility_multiple"`

	HealthRate  decimal.Decimal `json:"health_rate"`
	PensionRate decimal.Decimal `json:"pension_rate"`

	IBCFloorMultiple   decimal.Decimal `json:"ibc_floor_multiple"`
	IBCCeilingMultiple decimal.Decimal `json:"ibc_ceiling_multiple"`
	// IncludeTransportInIBC adds the prorated transport allowance to the contribution base.
	IncludeTransportInIBC bool `json:"include_transport_in_ibc"`

	SolidarityBrackets []SolidarityBracket `json:"solidarity_brackets"`

	// CurrencyPrecision is the number of minor-unit digits kept when rounding outputs.
	CurrencyPrecision int32 `json:"currency_precision"`

	Tables proration.Tables `json:"-"`
}

type legalYear struct {
	minimumWage        int64
	transportAllowance int64
}

var legalYears = map[int]legalYear{
	2024: {minimumWage: 1_300_000, transportAllowance: 162_000},
	2025: {minimumWage: 1_423_500, transportAllowance: 200_000},
}

// Default returns the statutory configuration in force on date. Years past the
// last published decree reuse the most recent one.
func Default(companyID uuid.UUID, date time.Time) PayrollConfig {
	params := legalYears[closestLegalYear(date.Year())]
	return PayrollConfig{
		CompanyID:                    companyID,
		Periodicity:                  proration.PeriodicityMonthly,
		MinimumWage:                  decimal.NewFromInt(params.minimumWage),
		TransportAllowance:           decimal.NewFromInt(params.transportAllowance),
		TransportEligibilityMultiple: decimal.NewFromInt(2),
		HealthRate:                   decimal.RequireFromString("0.04"),
		PensionRate:                  decimal.RequireFromString("0.04"),
		IBCFloorMultiple:             decimal.NewFromInt(1),
		IBCCeilingMultiple:           decimal.NewFromInt(25),
		SolidarityBrackets: []SolidarityBracket{
			{FromMultiple: decimal.NewFromInt(4), Rate: decimal.RequireFromString("0.01")},
			{FromMultiple: decimal.NewFromInt(16), Rate: decimal.RequireFromString("0.012")},
			{FromMultiple: decimal.NewFromInt(17), Rate: decimal.RequireFromString("0.014")},
			{FromMultiple: decimal.NewFromInt(18), Rate: decimal.RequireFromString("0.016")},
			{FromMultiple: decimal.NewFromInt(19), Rate: decimal.RequireFromString("0.018")},
			{FromMultiple: decimal.NewFromInt(20), Rate: decimal.RequireFromString("0.02")},
		},
		CurrencyPrecision: 2,
		Tables:            proration.DefaultTables(),
	}
}

// Validate checks the configuration is usable for computation.
func (c PayrollConfig) Validate() error {
	if !c.MinimumWage.IsPositive() {
		return errors.New("companyconfig: minimum wage must be positive")
	}
	if c.TransportAllowance.IsNegative() {
		return errors.New("companyconfig: transport allowance cannot be negative")
	}
	if c.HealthRate.IsNegative() || c.PensionRate.IsNegative() {
		return errors.New("companyconfig: statutory rates cannot be negative")
	}
	if c.IBCCeilingMultiple.LessThan(c.IBCFloorMultiple) {
		return fmt.Errorf("companyconfig: ceiling multiple %s below floor multiple %s", c.IBCCeilingMultiple, c.IBCFloorMultiple)
	}
	if c.CurrencyPrecision < 0 {
		return errors.New("companyconfig: currency precision cannot be negative")
	}
	if len(c.Tables.HourlyDivisor) == 0 {
		return errors.New("companyconfig: hourly divisor table missing")
	}
	return nil
}

// TransportEligible reports whether salary qualifies for the transport allowance.
func (c PayrollConfig) TransportEligible(salary decimal.Decimal) bool {
	return salary.LessThanOrEqual(c.MinimumWage.Mul(c.TransportEligibilityMultiple))
}

func closestLegalYear(year int) int {
	best, earliest := 0, 0
	for y := range legalYears {
		if earliest == 0 || y < earliest {
			earliest = y
		}
		if y <= year && y > best {
			best = y
		}
	}
	if best == 0 {
		return earliest
	}
	return best
}
