// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/odyssey-erp/payroll/internal/shared"
)

// Sentinel errors for transport-level failures.
var (
	ErrBadRequest  = errors.New("bad request")
	ErrDuplicate   = errors.New("duplicate request")
	ErrMissingPath = errors.New("missing path parameter")
)

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	var (
		validation *shared.ValidationError
		conflict   *shared.StateConflictError
		recon      *shared.ReconciliationError
	)
	switch {
	case errors.As(err, &validation):
		ProblemWith(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error(), map[string]any{
			"rule":        validation.Rule,
			"period_id":   idOrNil(validation.PeriodID),
			"employee_id": idOrNil(validation.EmployeeID),
		})
	case errors.As(err, &conflict):
		ProblemWith(w, http.StatusConflict, "State Conflict", err.Error(), map[string]any{
			"rule":      conflict.Rule,
			"period_id": idOrNil(conflict.PeriodID),
		})
	case errors.As(err, &recon):
		ProblemWith(w, http.StatusConflict, "Reconciliation Failed", err.Error(), map[string]any{
			"period_id": recon.PeriodID.String(),
			"failures":  recon.Failures,
		})
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrDuplicate), errors.Is(err, shared.ErrIdempotencyConflict):
		Problem(w, http.StatusConflict, "Duplicate", err.Error())
	case errors.Is(err, ErrBadRequest), errors.Is(err, ErrMissingPath):
		Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
	case errors.Is(err, shared.ErrValidation):
		Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
	case errors.Is(err, shared.ErrStateConflict):
		Problem(w, http.StatusConflict, "State Conflict", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}

func idOrNil(id uuid.UUID) any {
	if id == uuid.Nil {
		return nil
	}
	return id.String()
}
