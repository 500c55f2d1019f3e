package shared

import (
	"github.com/google/uuid"

	"github.com/odyssey-erp/payroll/internal/proration"
)

// Period statuses reused outside the periods module.
const (
	PeriodStatusDraft        = "draft"
	PeriodStatusClosed       = "closed"
	PeriodStatusReopened     = "reopened"
	PeriodStatusReliquidated = "reliquidated"
	PeriodStatusCancelled    = "cancelled"
)

// PeriodScope is the slice of a payroll period that collaborating modules need
// to validate and compute against it.
type PeriodScope struct {
	ID        uuid.UUID
	CompanyID uuid.UUID
	Status    string
	Window    proration.Window
}

// Editable reports whether the period accepts novelty changes and recomputation.
func (p PeriodScope) Editable() bool {
	return IsEditableStatus(p.Status)
}

// IsEditableStatus reports whether status admits writes.
func IsEditableStatus(status string) bool {
	return status == PeriodStatusDraft || status == PeriodStatusReopened
}

// IsClosedStatus reports whether status belongs to the closed family.
func IsClosedStatus(status string) bool {
	return status == PeriodStatusClosed || status == PeriodStatusReliquidated
}
