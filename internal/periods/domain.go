// Package periods owns the payroll period lifecycle: draft creation, close,
// reopen with reliquidation, and cancellation of ghost periods.
package periods

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/payroll/internal/proration"
	"github.com/odyssey-erp/payroll/internal/shared"
)

// Status values mirror the shared constants so other modules can compare
// without importing this package.
const (
	StatusDraft        = shared.PeriodStatusDraft
	StatusClosed       = shared.PeriodStatusClosed
	StatusReopened     = shared.PeriodStatusReopened
	StatusReliquidated = shared.PeriodStatusReliquidated
	StatusCancelled    = shared.PeriodStatusCancelled
)

// Action names a lifecycle transition.
type Action string

const (
	ActionClose  Action = "close"
	ActionReopen Action = "reopen"
	ActionCancel Action = "cancel"
)

// Rules reported in StateConflictError and ValidationError.
const (
	RuleEditablePeriodExists = "editable_period_exists"
	RulePeriodOverlap        = "period_overlap"
	RuleIllegalTransition    = "illegal_transition"
	RuleTransitionInFlight   = "transition_in_flight"
	RuleNotEditable          = "period_not_editable"
	RuleRecordsMissing       = "records_missing"
	RuleRecordsFailed        = "records_failed"
	RuleRecordsStale         = "records_stale"
	RulePeriodHasRecords     = "period_has_records"
	RuleJustificationNeeded  = "justification_required"
	RuleDatesInverted        = "period_dates_inverted"
	RuleUnknownPeriodicity   = "unknown_periodicity"
)

// ErrNotFound is returned when a period does not exist.
var ErrNotFound = fmt.Errorf("periods: %w", shared.ErrNotFound)

// Period is a payroll period of one company.
type Period struct {
	ID                  uuid.UUID             `json:"id"`
	CompanyID           uuid.UUID             `json:"company_id"`
	Name                string                `json:"name"`
	Periodicity         proration.Periodicity `json:"periodicity"`
	StartDate           time.Time             `json:"start_date"`
	EndDate             time.Time             `json:"end_date"`
	Status              string                `json:"status"`
	EmployeeCount       int                   `json:"employee_count"`
	ClosedAt            *time.Time            `json:"closed_at,omitempty"`
	ClosedBy            string                `json:"closed_by,omitempty"`
	ReopenedAt          *time.Time            `json:"reopened_at,omitempty"`
	ReopenedBy          string                `json:"reopened_by,omitempty"`
	ReopenJustification string                `json:"reopen_justification,omitempty"`
	ReopenCount         int                   `json:"reopen_count"`
	CancelledAt         *time.Time            `json:"cancelled_at,omitempty"`
	LastActivityAt      *time.Time            `json:"last_activity_at,omitempty"`
	CreatedAt           time.Time             `json:"created_at"`
	UpdatedAt           time.Time             `json:"updated_at"`
}

// Window returns the proration window of the period.
func (p Period) Window() proration.Window {
	return proration.Window{Start: p.StartDate, End: p.EndDate, Periodicity: p.Periodicity}
}

// Scope returns the view of the period used by collaborating modules.
func (p Period) Scope() shared.PeriodScope {
	return shared.PeriodScope{ID: p.ID, CompanyID: p.CompanyID, Status: p.Status, Window: p.Window()}
}

// Editable reports whether novelties and computations are accepted.
func (p Period) Editable() bool {
	return shared.IsEditableStatus(p.Status)
}

// NextStatus returns the status reached by applying action to current. The
// boolean is false when the transition is not allowed.
func NextStatus(current string, action Action) (string, bool) {
	switch action {
	case ActionClose:
		switch current {
		case StatusDraft:
			return StatusClosed, true
		case StatusReopened:
			return StatusReliquidated, true
		}
	case ActionReopen:
		if shared.IsClosedStatus(current) {
			return StatusReopened, true
		}
	case ActionCancel:
		if current != StatusCancelled && current != "" {
			return StatusCancelled, true
		}
	}
	return "", false
}

// CreateInput captures a new draft period.
type CreateInput struct {
	CompanyID   uuid.UUID `validate:"required"`
	Name        string    `validate:"required,max=120"`
	Periodicity string    `validate:"required"`
	StartDate   time.Time `validate:"required"`
	EndDate     time.Time `validate:"required"`
}

// TransitionInput carries the caller context of close, reopen and cancel.
type TransitionInput struct {
	Actor          string
	Justification  string
	IdempotencyKey string
}
