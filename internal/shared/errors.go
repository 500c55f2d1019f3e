package shared

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation marks bad input such as invalid dates or a missing salary.
	ErrValidation = errors.New("validation failed")
	// ErrStateConflict marks an illegal lifecycle transition.
	ErrStateConflict = errors.New("state conflict")
	// ErrReconciliation marks a recompute that failed for part of the stale set.
	ErrReconciliation = errors.New("reconciliation failed")
)

// ValidationError reports a rejected input for one employee and/or period.
type ValidationError struct {
	EmployeeID uuid.UUID
	PeriodID   uuid.UUID
	Rule       string
	Detail     string
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	b.WriteString("validation: ")
	b.WriteString(e.Rule)
	if e.PeriodID != uuid.Nil {
		fmt.Fprintf(&b, " period=%s", e.PeriodID)
	}
	if e.EmployeeID != uuid.Nil {
		fmt.Fprintf(&b, " employee=%s", e.EmployeeID)
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	return b.String()
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// NewValidationError builds a ValidationError.
func NewValidationError(periodID, employeeID uuid.UUID, rule, detail string) *ValidationError {
	return &ValidationError{PeriodID: periodID, EmployeeID: employeeID, Rule: rule, Detail: detail}
}

// StateConflictError reports a lifecycle rule that blocked the requested operation.
type StateConflictError struct {
	PeriodID uuid.UUID
	Rule     string
	Detail   string
}

func (e *StateConflictError) Error() string {
	msg := fmt.Sprintf("state conflict: %s period=%s", e.Rule, e.PeriodID)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *StateConflictError) Unwrap() error {
	return ErrStateConflict
}

// NewStateConflictError builds a StateConflictError.
func NewStateConflictError(periodID uuid.UUID, rule, detail string) *StateConflictError {
	return &StateConflictError{PeriodID: periodID, Rule: rule, Detail: detail}
}

// EmployeeFailure names an employee whose computation could not complete.
type EmployeeFailure struct {
	EmployeeID uuid.UUID `json:"employee_id"`
	Reason     string    `json:"reason"`
}

// ReconciliationError reports stale records that remain stale after a reconcile pass.
type ReconciliationError struct {
	PeriodID uuid.UUID
	Failures []EmployeeFailure
}

func (e *ReconciliationError) Error() string {
	ids := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		ids = append(ids, f.EmployeeID.String())
	}
	return fmt.Sprintf("reconciliation: %d record(s) still stale period=%s employees=[%s]", len(e.Failures), e.PeriodID, strings.Join(ids, ","))
}

func (e *ReconciliationError) Unwrap() error {
	return ErrReconciliation
}

// IsClientError reports whether err stems from caller input or lifecycle rules.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) || errors.Is(err, ErrStateConflict)
}
