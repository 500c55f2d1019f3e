package periods

import (
	"context"

	"github.com/odyssey-erp/payroll/internal/novelties"
)

// ActivityListener stamps the owning period whenever one of its novelties changes.
type ActivityListener struct {
	Service *Service
}

// Name implements novelties.Listener.
func (ActivityListener) Name() string { return "period_activity" }

// OnNoveltyChanged implements novelties.Listener.
func (l ActivityListener) OnNoveltyChanged(ctx context.Context, event novelties.ChangeEvent) ([]novelties.SideEffect, error) {
	if l.Service == nil {
		return nil, nil
	}
	if err := l.Service.Touch(ctx, event.PeriodID); err != nil {
		return nil, err
	}
	return []novelties.SideEffect{{
		Action:     novelties.ActionPeriodTouched,
		EmployeeID: event.EmployeeID,
		PeriodID:   event.PeriodID,
	}}, nil
}
