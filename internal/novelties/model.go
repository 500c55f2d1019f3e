package novelties

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/payroll/internal/proration"
)

// Type enumerates novelty categories.
type Type string

const (
	TypeOvertimeDay    Type = "overtime_day"
	TypeOvertimeNight  Type = "overtime_night"
	TypeNightSurcharge Type = "night_surcharge"
	TypeSundayHoliday  Type = "sunday_holiday"
	TypeBonus          Type = "bonus"
	TypeCommission     Type = "commission"
	TypeVacation       Type = "vacation"
	TypeIncapacity     Type = "incapacity"
	TypePaidLeave      Type = "paid_leave"
	TypeUnpaidLeave    Type = "unpaid_leave"
	TypeAbsence        Type = "absence"
	TypeLoanDeduction  Type = "loan_deduction"
	TypeOtherEarning   Type = "other_earning"
	TypeOtherDeduction Type = "other_deduction"
)

type typeRule struct {
	deduction    bool
	constitutive bool
	surcharge    proration.SurchargeKind
}

var typeRules = map[Type]typeRule{
	TypeOvertimeDay:    {constitutive: true, surcharge: proration.SurchargeOvertimeDay},
	TypeOvertimeNight:  {constitutive: true, surcharge: proration.SurchargeOvertimeNight},
	TypeNightSurcharge: {constitutive: true, surcharge: proration.SurchargeNight},
	TypeSundayHoliday:  {constitutive: true, surcharge: proration.SurchargeSundayHoliday},
	TypeBonus:          {constitutive: true},
	TypeCommission:     {constitutive: true},
	TypeVacation:       {constitutive: true},
	TypeIncapacity:     {constitutive: true},
	TypePaidLeave:      {constitutive: true},
	TypeUnpaidLeave:    {deduction: true, constitutive: true},
	TypeAbsence:        {deduction: true, constitutive: true},
	TypeLoanDeduction:  {deduction: true},
	TypeOtherEarning:   {},
	TypeOtherDeduction: {deduction: true},
}

// IsValid reports whether t is a known novelty type.
func (t Type) IsValid() bool {
	_, ok := typeRules[t]
	return ok
}

// IsDeduction reports whether the type subtracts from pay.
func (t Type) IsDeduction() bool {
	return typeRules[t].deduction
}

// DefaultConstitutive reports whether the type counts toward the contribution base by default.
func (t Type) DefaultConstitutive() bool {
	return typeRules[t].constitutive
}

// SurchargeKind returns the legal surcharge used to price hours, if any.
func (t Type) SurchargeKind() (proration.SurchargeKind, bool) {
	kind := typeRules[t].surcharge
	return kind, kind != ""
}

// Novelty is a dated, typed adjustment to an employee's pay for a period.
type Novelty struct {
	ID           uuid.UUID           `json:"id"`
	CompanyID    uuid.UUID           `json:"company_id"`
	EmployeeID   uuid.UUID           `json:"employee_id"`
	PeriodID     uuid.UUID           `json:"period_id"`
	Type         Type                `json:"type"`
	StartDate    *time.Time          `json:"start_date,omitempty"`
	EndDate      *time.Time          `json:"end_date,omitempty"`
	Hours        decimal.NullDecimal `json:"hours"`
	Days         decimal.NullDecimal `json:"days"`
	Value        decimal.Decimal     `json:"value"`
	Constitutive bool                `json:"constitutive_of_salary"`
	Note         string              `json:"note,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

// SignedValue returns the value with the sign implied by the type.
func (n Novelty) SignedValue() decimal.Decimal {
	if n.Type.IsDeduction() {
		return n.Value.Neg()
	}
	return n.Value
}

// Variant selects which novelties an aggregation considers.
type Variant string

const (
	VariantAll             Variant = "all"
	VariantConstitutive    Variant = "constitutive"
	VariantNonConstitutive Variant = "non_constitutive"
)

// ParseVariant maps user input to a Variant, defaulting to VariantAll.
func ParseVariant(raw string) (Variant, bool) {
	switch Variant(raw) {
	case "", VariantAll:
		return VariantAll, true
	case VariantConstitutive:
		return VariantConstitutive, true
	case VariantNonConstitutive:
		return VariantNonConstitutive, true
	default:
		return "", false
	}
}

func (v Variant) includes(n Novelty) bool {
	switch v {
	case VariantConstitutive:
		return n.Constitutive
	case VariantNonConstitutive:
		return !n.Constitutive
	default:
		return true
	}
}

// Totals summarises a set of novelties.
type Totals struct {
	TotalEarnings   decimal.Decimal `json:"total_earnings"`
	TotalDeductions decimal.Decimal `json:"total_deductions"`
	TotalNet        decimal.Decimal `json:"total_net"`
	HasNovelties    bool            `json:"has_novelties"`
	Count           int             `json:"count"`
}

// Aggregate partitions novelties into earnings and deductions. Deductions are
// reported as positive magnitudes; TotalNet is earnings minus deductions.
func Aggregate(items []Novelty, variant Variant) Totals {
	totals := Totals{TotalEarnings: decimal.Zero, TotalDeductions: decimal.Zero, TotalNet: decimal.Zero}
	for _, n := range items {
		if !variant.includes(n) {
			continue
		}
		totals.Count++
		if n.Type.IsDeduction() {
			totals.TotalDeductions = totals.TotalDeductions.Add(n.Value)
		} else {
			totals.TotalEarnings = totals.TotalEarnings.Add(n.Value)
		}
	}
	totals.HasNovelties = totals.Count > 0
	totals.TotalNet = totals.TotalEarnings.Sub(totals.TotalDeductions)
	return totals
}

// CreateInput carries a new novelty.
type CreateInput struct {
	EmployeeID   uuid.UUID           `validate:"required"`
	PeriodID     uuid.UUID           `validate:"required"`
	Type         Type                `validate:"required"`
	StartDate    *time.Time          `validate:"required_with=EndDate"`
	EndDate      *time.Time          `validate:"required_with=StartDate"`
	Hours        decimal.NullDecimal `validate:"-"`
	Days         decimal.NullDecimal `validate:"-"`
	Value        decimal.Decimal     `validate:"-"`
	Constitutive *bool               `validate:"omitempty"`
	Note         string              `validate:"max=500"`
}

// UpdateInput replaces the mutable fields of an existing novelty.
type UpdateInput struct {
	Type         Type                `validate:"required"`
	StartDate    *time.Time          `validate:"required_with=EndDate"`
	EndDate      *time.Time          `validate:"required_with=StartDate"`
	Hours        decimal.NullDecimal `validate:"-"`
	Days         decimal.NullDecimal `validate:"-"`
	Value        decimal.Decimal     `validate:"-"`
	Constitutive *bool               `validate:"omitempty"`
	Note         string              `validate:"max=500"`
}
