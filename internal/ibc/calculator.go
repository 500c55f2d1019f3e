// Package ibc computes the contribution base (IBC) on which statutory
// social-security percentages are levied.
package ibc

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/payroll/internal/novelties"
	"github.com/odyssey-erp/payroll/internal/proration"
)

// Clamp names the bound applied to the contribution base, if any.
type Clamp string

const (
	ClampNone    Clamp = ""
	ClampFloor   Clamp = "floor"
	ClampCeiling Clamp = "ceiling"
)

// IncludedNovelty records a constitutive novelty that fed the base.
type IncludedNovelty struct {
	ID    uuid.UUID       `json:"id"`
	Type  novelties.Type  `json:"type"`
	Value decimal.Decimal `json:"signed_value"`
}

// Snapshot is the immutable audit record of one IBC computation.
type Snapshot struct {
	BaseSalary         decimal.Decimal     `json:"base_salary"`
	WorkedDays         int                 `json:"worked_days"`
	ProratedBase       decimal.Decimal     `json:"prorated_base"`
	TransportComponent decimal.Decimal     `json:"transport_component"`
	Included           []IncludedNovelty   `json:"included_novelties"`
	ConstitutiveSum    decimal.Decimal     `json:"constitutive_sum"`
	BeforeCaps         decimal.Decimal     `json:"before_caps"`
	Floor              decimal.Decimal     `json:"floor"`
	Ceiling            decimal.Decimal     `json:"ceiling"`
	Total              decimal.Decimal     `json:"total"`
	Clamp              Clamp               `json:"clamp,omitempty"`
	ComputedAt         time.Time           `json:"computed_at"`
	Retroactive        bool                `json:"retroactive"`
	UnknownDelta       decimal.NullDecimal `json:"unknown_delta"`
}

// Input carries everything Compute needs.
type Input struct {
	BaseSalary      decimal.Decimal
	WorkedDays      int
	Novelties       []novelties.Novelty
	MinimumWage     decimal.Decimal
	FloorMultiple   decimal.Decimal
	CeilingMultiple decimal.Decimal
	// TransportComponent is added before caps when the company counts the
	// transport allowance toward the base. Zero otherwise.
	TransportComponent decimal.Decimal
	// Precision is the number of minor-unit digits of the stored total.
	Precision  int32
	ComputedAt time.Time
}

var nominalDays = decimal.NewFromInt(proration.NominalMonthDays)

// Prorate scales a monthly amount to worked days over the nominal month.
func Prorate(monthly decimal.Decimal, workedDays int) decimal.Decimal {
	if workedDays <= 0 {
		return decimal.Zero
	}
	return monthly.Mul(decimal.NewFromInt(int64(workedDays))).Div(nominalDays)
}

// Compute derives the contribution base. The total always lies within
// [Floor, Ceiling]; intermediate values are kept unrounded.
func Compute(in Input) Snapshot {
	days := in.WorkedDays
	if days < 0 {
		days = 0
	}
	snap := Snapshot{
		BaseSalary:         in.BaseSalary,
		WorkedDays:         days,
		ProratedBase:       Prorate(in.BaseSalary, days),
		TransportComponent: in.TransportComponent,
		ConstitutiveSum:    decimal.Zero,
		Included:           []IncludedNovelty{},
		ComputedAt:         in.ComputedAt.UTC(),
	}
	for _, n := range in.Novelties {
		if !n.Constitutive {
			continue
		}
		signed := n.SignedValue()
		snap.ConstitutiveSum = snap.ConstitutiveSum.Add(signed)
		snap.Included = append(snap.Included, IncludedNovelty{ID: n.ID, Type: n.Type, Value: signed})
	}
	snap.BeforeCaps = snap.ProratedBase.Add(snap.TransportComponent).Add(snap.ConstitutiveSum)

	snap.Floor = Prorate(in.MinimumWage.Mul(in.FloorMultiple), days).RoundCeil(in.Precision)
	snap.Ceiling = in.MinimumWage.Mul(in.CeilingMultiple).RoundFloor(in.Precision)
	if snap.Ceiling.LessThan(snap.Floor) {
		snap.Ceiling = snap.Floor
	}
	snap.Total, snap.Clamp = clamp(snap.BeforeCaps.Round(in.Precision), snap.Floor, snap.Ceiling)
	return snap
}

func clamp(v, floor, ceiling decimal.Decimal) (decimal.Decimal, Clamp) {
	switch {
	case v.LessThan(floor):
		return floor, ClampFloor
	case v.GreaterThan(ceiling):
		return ceiling, ClampCeiling
	default:
		return v, ClampNone
	}
}

// Synthesize reconstructs a snapshot for a legacy record that never stored
// one. The stored total stays authoritative; any difference from what the
// current inputs produce is reported as UnknownDelta.
func Synthesize(storedTotal decimal.Decimal, in Input) Snapshot {
	snap := Compute(in)
	snap.Retroactive = true
	snap.UnknownDelta = decimal.NewNullDecimal(storedTotal.Sub(snap.Total))
	snap.Total = storedTotal
	return snap
}

// WithinCaps reports whether the snapshot total respects its bounds.
func (s Snapshot) WithinCaps() bool {
	return !s.Total.LessThan(s.Floor) && !s.Total.GreaterThan(s.Ceiling)
}
