package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/payroll/internal/vouchers"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskReconcileStale sweeps every stale record past the grace interval.
	TaskReconcileStale = "payroll:reconcile_stale"
	// TaskReconcileEmployee reconciles one employee after a debounce delay.
	TaskReconcileEmployee = "payroll:reconcile_employee"
	// TaskVoucherInvalidate notifies the voucher service about a reopened period.
	TaskVoucherInvalidate = "payroll:voucher_invalidate"
	// TaskBackfillSnapshots attaches retroactive IBC snapshots to legacy records.
	TaskBackfillSnapshots = "payroll:backfill_snapshots"
)

// ReconcileStalePayload optionally narrows the sweep to one period.
type ReconcileStalePayload struct {
	PeriodID *uuid.UUID `json:"period_id,omitempty"`
}

// ReconcileEmployeePayload identifies a debounced reconciliation.
type ReconcileEmployeePayload struct {
	PeriodID   uuid.UUID `json:"period_id"`
	EmployeeID uuid.UUID `json:"employee_id"`
}

// BackfillPayload optionally narrows the backfill to one period.
type BackfillPayload struct {
	PeriodID *uuid.UUID `json:"period_id,omitempty"`
}

// NewReconcileStaleTask builds the sweep task.
func NewReconcileStaleTask(periodID *uuid.UUID) (*asynq.Task, error) {
	body, err := json.Marshal(ReconcileStalePayload{PeriodID: periodID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReconcileStale, body, asynq.Queue(QueueDefault)), nil
}

// ReconcileEmployeeTaskID is the dedupe key of a debounced reconciliation.
func ReconcileEmployeeTaskID(periodID, employeeID uuid.UUID) string {
	return fmt.Sprintf("reconcile:%s:%s", periodID, employeeID)
}

// NewReconcileEmployeeTask builds a debounced reconciliation processed after delay.
func NewReconcileEmployeeTask(periodID, employeeID uuid.UUID, delay time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(ReconcileEmployeePayload{PeriodID: periodID, EmployeeID: employeeID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskReconcileEmployee, body,
		asynq.Queue(QueueDefault),
		asynq.TaskID(ReconcileEmployeeTaskID(periodID, employeeID)),
		asynq.ProcessIn(delay),
		asynq.MaxRetry(3),
	), nil
}

// NewVoucherInvalidateTask builds the voucher notification task.
func NewVoucherInvalidateTask(notice vouchers.Notice) (*asynq.Task, error) {
	body, err := json.Marshal(notice)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskVoucherInvalidate, body, asynq.Queue(QueueDefault), asynq.MaxRetry(10)), nil
}

// NewBackfillTask builds the snapshot backfill task.
func NewBackfillTask(periodID *uuid.UUID) (*asynq.Task, error) {
	body, err := json.Marshal(BackfillPayload{PeriodID: periodID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskBackfillSnapshots, body, asynq.Queue(QueueDefault)), nil
}
