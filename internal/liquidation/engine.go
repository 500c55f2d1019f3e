// Package liquidation computes per-employee payroll records and runs batch
// computation over a period.
package liquidation

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/payroll/internal/companyconfig"
	"github.com/odyssey-erp/payroll/internal/employees"
	"github.com/odyssey-erp/payroll/internal/ibc"
	"github.com/odyssey-erp/payroll/internal/novelties"
	"github.com/odyssey-erp/payroll/internal/proration"
	"github.com/odyssey-erp/payroll/internal/shared"
)

// Input is everything a single employee computation depends on.
type Input struct {
	Employee   employees.Snapshot
	Period     shared.PeriodScope
	Novelties  []novelties.Novelty
	Config     companyconfig.PayrollConfig
	ComputedAt time.Time
}

// Compute derives an employee's payroll for a period. It is pure: identical
// inputs produce identical monetary outputs and hashes. Monetary values are
// rounded to the company's precision only once the whole computation is done.
func Compute(in Input) (Record, error) {
	rec := Record{
		ID:                 uuid.New(),
		PeriodID:           in.Period.ID,
		EmployeeID:         in.Employee.ID,
		CompanyID:          in.Period.CompanyID,
		Status:             StatusOK,
		BaseSalary:         in.Employee.BaseSalary,
		InputsHash:         InputsHash(in),
		NoveltyFingerprint: NoveltyFingerprint(in.Novelties),
		ComputedAt:         in.ComputedAt.UTC(),
	}
	if !in.Employee.BaseSalary.IsPositive() {
		return rec, shared.NewValidationError(in.Period.ID, in.Employee.ID, "missing_base_salary",
			"base salary must be a positive amount")
	}
	cfg := in.Config
	if err := cfg.Validate(); err != nil {
		return rec, shared.NewValidationError(in.Period.ID, in.Employee.ID, "invalid_company_config", err.Error())
	}
	precision := cfg.CurrencyPrecision

	days := proration.WorkedDays(in.Period.Window)
	prorated := ibc.Prorate(in.Employee.BaseSalary, days)
	transport := decimal.Zero
	if cfg.TransportEligible(in.Employee.BaseSalary) {
		transport = ibc.Prorate(cfg.TransportAllowance, days)
	}
	totals := novelties.Aggregate(in.Novelties, novelties.VariantAll)
	gross := prorated.Add(transport).Add(totals.TotalEarnings)

	snap := ibc.Compute(IBCInput(in))

	health := snap.Total.Mul(cfg.HealthRate)
	pension := snap.Total.Mul(cfg.PensionRate)
	solidarity := snap.Total.Mul(SolidarityRate(cfg, snap.Total, days))
	deductions := health.Add(pension).Add(solidarity).Add(totals.TotalDeductions)
	net := gross.Sub(deductions)

	rec.WorkedDays = days
	rec.ProratedSalary = prorated.Round(precision)
	rec.TransportAllowance = transport.Round(precision)
	rec.NoveltyEarnings = totals.TotalEarnings.Round(precision)
	rec.GrossPay = gross.Round(precision)
	rec.Deductions = Deductions{
		Health:     health.Round(precision),
		Pension:    pension.Round(precision),
		Solidarity: solidarity.Round(precision),
		Novelties:  totals.TotalDeductions.Round(precision),
		Total:      deductions.Round(precision),
	}
	rec.NetPay = net.Round(precision)
	rec.IBC = snap.Total
	rec.Snapshot = &snap
	return rec, nil
}

// IBCInput derives the contribution base input of a computation.
func IBCInput(in Input) ibc.Input {
	cfg := in.Config
	days := proration.WorkedDays(in.Period.Window)
	transport := decimal.Zero
	if cfg.IncludeTransportInIBC && cfg.TransportEligible(in.Employee.BaseSalary) {
		transport = ibc.Prorate(cfg.TransportAllowance, days)
	}
	return ibc.Input{
		BaseSalary:         in.Employee.BaseSalary,
		WorkedDays:         days,
		Novelties:          in.Novelties,
		MinimumWage:        cfg.MinimumWage,
		FloorMultiple:      cfg.IBCFloorMultiple,
		CeilingMultiple:    cfg.IBCCeilingMultiple,
		TransportComponent: transport,
		Precision:          cfg.CurrencyPrecision,
		ComputedAt:         in.ComputedAt,
	}
}

// Failed builds the record persisted when Compute rejects an employee.
func Failed(in Input, reason string) Record {
	return Record{
		ID:                 uuid.New(),
		PeriodID:           in.Period.ID,
		EmployeeID:         in.Employee.ID,
		CompanyID:          in.Period.CompanyID,
		Status:             StatusFailed,
		Failure:            reason,
		BaseSalary:         in.Employee.BaseSalary,
		InputsHash:         InputsHash(in),
		NoveltyFingerprint: NoveltyFingerprint(in.Novelties),
		ComputedAt:         in.ComputedAt.UTC(),
	}
}

// SolidarityRate returns the solidarity pension fund rate for a base. The
// base is scaled to its monthly equivalent before comparing brackets.
func SolidarityRate(cfg companyconfig.PayrollConfig, base decimal.Decimal, workedDays int) decimal.Decimal {
	if workedDays <= 0 || !cfg.MinimumWage.IsPositive() {
		return decimal.Zero
	}
	monthly := base.Mul(decimal.NewFromInt(proration.NominalMonthDays)).Div(decimal.NewFromInt(int64(workedDays)))
	multiple := monthly.Div(cfg.MinimumWage)
	rate := decimal.Zero
	best := decimal.Zero
	for _, b := range cfg.SolidarityBrackets {
		if multiple.GreaterThanOrEqual(b.FromMultiple) && b.FromMultiple.GreaterThanOrEqual(best) {
			best = b.FromMultiple
			rate = b.Rate
		}
	}
	return rate
}

type hashedNovelty struct {
	ID           string `json:"id"`
	Type         string `json:"type"`
	Start        string `json:"start,omitempty"`
	End          string `json:"end,omitempty"`
	Hours        string `json:"hours,omitempty"`
	Days         string `json:"days,omitempty"`
	Value        string `json:"value"`
	Constitutive bool   `json:"constitutive"`
}

type hashedInputs struct {
	Employee     string          `json:"employee"`
	Salary       string          `json:"salary"`
	Contract     string          `json:"contract"`
	PeriodStart  string          `json:"period_start"`
	PeriodEnd    string          `json:"period_end"`
	Periodicity  string          `json:"periodicity"`
	Novelties    []hashedNovelty `json:"novelties"`
	MinimumWage  string          `json:"minimum_wage"`
	Transport    string          `json:"transport"`
	TransportMax string          `json:"transport_max"`
	Health       string          `json:"health"`
	Pension      string          `json:"pension"`
	Floor        string          `json:"floor"`
	Ceiling      string          `json:"ceiling"`
	TransportIBC bool            `json:"transport_ibc"`
	Solidarity   []string        `json:"solidarity"`
	Precision    int32           `json:"precision"`
}

// InputsHash fingerprints every value Compute reads, excluding timestamps.
func InputsHash(in Input) string {
	cfg := in.Config
	h := hashedInputs{
		Employee:     in.Employee.ID.String(),
		Salary:       in.Employee.BaseSalary.String(),
		Contract:     in.Employee.ContractType,
		PeriodStart:  in.Period.Window.Start.Format(time.DateOnly),
		PeriodEnd:    in.Period.Window.End.Format(time.DateOnly),
		Periodicity:  string(in.Period.Window.Periodicity),
		Novelties:    canonicalNovelties(in.Novelties),
		MinimumWage:  cfg.MinimumWage.String(),
		Transport:    cfg.TransportAllowance.String(),
		TransportMax: cfg.TransportEligibilityMultiple.String(),
		Health:       cfg.HealthRate.String(),
		Pension:      cfg.PensionRate.String(),
		Floor:        cfg.IBCFloorMultiple.String(),
		Ceiling:      cfg.IBCCeilingMultiple.String(),
		TransportIBC: cfg.IncludeTransportInIBC,
		Precision:    cfg.CurrencyPrecision,
	}
	for _, b := range cfg.SolidarityBrackets {
		h.Solidarity = append(h.Solidarity, b.FromMultiple.String()+"@"+b.Rate.String())
	}
	return digest(h)
}

// NoveltyFingerprint fingerprints only the novelty set of a computation.
func NoveltyFingerprint(items []novelties.Novelty) string {
	return digest(canonicalNovelties(items))
}

func canonicalNovelties(items []novelties.Novelty) []hashedNovelty {
	out := make([]hashedNovelty, 0, len(items))
	for _, n := range items {
		hn := hashedNovelty{
			ID:           n.ID.String(),
			Type:         string(n.Type),
			Value:        n.Value.String(),
			Constitutive: n.Constitutive,
		}
		if n.StartDate != nil {
			hn.Start = n.StartDate.Format(time.DateOnly)
		}
		if n.EndDate != nil {
			hn.End = n.EndDate.Format(time.DateOnly)
		}
		if n.Hours.Valid {
			hn.Hours = n.Hours.Decimal.String()
		}
		if n.Days.Valid {
			hn.Days = n.Days.Decimal.String()
		}
		out = append(out, hn)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func digest(v any) string {
	raw, _ := json.Marshal(v)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
