package audit

import (
	"time"

	"github.com/google/uuid"
)

// Action enumerates the lifecycle events recorded in the audit trail.
type Action string

const (
	ActionClose          Action = "close"
	ActionReopen         Action = "reopen"
	ActionReliquidation  Action = "reliquidation"
	ActionReconciliation Action = "reconciliation"
	ActionCancel         Action = "cancel"
)

// Entry is one append-only audit record.
type Entry struct {
	ID                uuid.UUID      `json:"id"`
	PeriodID          uuid.UUID      `json:"period_id"`
	CompanyID         uuid.UUID      `json:"company_id"`
	Action            Action         `json:"action"`
	Actor             string         `json:"actor"`
	Justification     string         `json:"justification,omitempty"`
	AffectedEmployees []uuid.UUID    `json:"affected_employees"`
	Trigger           string         `json:"trigger,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
	OccurredAt        time.Time      `json:"occurred_at"`
}

// TimelineFilters narrows a timeline query.
type TimelineFilters struct {
	PeriodID *uuid.UUID
	From     time.Time
	To       time.Time
	Actor    string
	Action   Action
	Page     int
	PageSize int
}

// PagingInfo holds simple pagination metadata.
type PagingInfo struct {
	Page     int  `json:"page"`
	HasNext  bool `json:"has_next"`
	PageSize int  `json:"page_size"`
	PrevPage int  `json:"prev_page,omitempty"`
	NextPage int  `json:"next_page,omitempty"`
}
