package liquidation

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/payroll/internal/ibc"
)

// Status of a payroll record.
type Status string

const (
	StatusOK     Status = "ok"
	StatusFailed Status = "failed"
)

// Trigger names what caused a record version to be written.
type Trigger string

const (
	TriggerCompute        Trigger = "compute"
	TriggerReliquidation  Trigger = "reliquidation"
	TriggerReconciliation Trigger = "reconciliation"
)

// Deductions breaks down what is withheld from gross pay.
type Deductions struct {
	Health     decimal.Decimal `json:"health"`
	Pension    decimal.Decimal `json:"pension"`
	Solidarity decimal.Decimal `json:"solidarity"`
	Novelties  decimal.Decimal `json:"novelties"`
	Total      decimal.Decimal `json:"total"`
}

// Record is one version of an employee's computed payroll for a period.
// Records are never updated in place except for the stale flag and a
// backfilled snapshot; recomputation appends a new version.
type Record struct {
	ID         uuid.UUID `json:"id"`
	PeriodID   uuid.UUID `json:"period_id"`
	EmployeeID uuid.UUID `json:"employee_id"`
	CompanyID  uuid.UUID `json:"company_id"`
	Version    int       `json:"version"`
	Status     Status    `json:"status"`
	Failure    string    `json:"failure_reason,omitempty"`
	Trigger    Trigger   `json:"trigger"`

	WorkedDays         int             `json:"worked_days"`
	BaseSalary         decimal.Decimal `json:"base_salary"`
	ProratedSalary     decimal.Decimal `json:"prorated_salary"`
	TransportAllowance decimal.Decimal `json:"transport_allowance"`
	NoveltyEarnings    decimal.Decimal `json:"novelty_earnings"`
	GrossPay           decimal.Decimal `json:"gross_pay"`
	Deductions         Deductions      `json:"deductions"`
	NetPay             decimal.Decimal `json:"net_pay"`
	IBC                decimal.Decimal `json:"ibc"`
	Snapshot           *ibc.Snapshot   `json:"ibc_snapshot,omitempty"`

	InputsHash         string `json:"inputs_hash"`
	NoveltyFingerprint string `json:"novelty_fingerprint"`

	IsStale    bool       `json:"is_stale"`
	StaleSince *time.Time `json:"stale_since,omitempty"`
	ComputedAt time.Time  `json:"computed_at"`
}

// Failed reports whether the computation for this version failed.
func (r Record) Failed() bool {
	return r.Status == StatusFailed
}

// SameOutputs reports whether two records carry identical monetary results.
func (r Record) SameOutputs(other Record) bool {
	return r.Status == other.Status &&
		r.WorkedDays == other.WorkedDays &&
		r.GrossPay.Equal(other.GrossPay) &&
		r.IBC.Equal(other.IBC) &&
		r.Deductions.Total.Equal(other.Deductions.Total) &&
		r.NetPay.Equal(other.NetPay)
}
