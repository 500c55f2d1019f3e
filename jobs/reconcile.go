package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/payroll/internal/jobs"
	"github.com/odyssey-erp/payroll/internal/shared"
	"github.com/odyssey-erp/payroll/internal/staleness"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// Reconciler is the staleness surface driven by the worker.
type Reconciler interface {
	ReconcileStale(ctx context.Context, periodID *uuid.UUID, trigger string) (staleness.Result, error)
	ReconcileEmployee(ctx context.Context, periodID, employeeID uuid.UUID, trigger string) (staleness.Result, error)
	BackfillSnapshots(ctx context.Context, periodID *uuid.UUID) (int, error)
}

// ReconcileJob runs periodic sweeps, debounced per-employee reconciliations
// and snapshot backfills.
type ReconcileJob struct {
	Reconciler Reconciler
	Logger     *slog.Logger
	Metrics    *jobmetrics.Metrics
}

// NewReconcileJob constructs the job handler.
func NewReconcileJob(reconciler Reconciler, logger *slog.Logger, metrics *jobmetrics.Metrics) *ReconcileJob {
	return &ReconcileJob{Reconciler: reconciler, Logger: logger, Metrics: metrics}
}

// HandleSweep processes TaskReconcileStale. Records that fail stay stale and
// are retried by the next sweep, so partial failures do not fail the task.
func (j *ReconcileJob) HandleSweep(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Reconciler == nil {
		return errors.New("reconcile: handler not configured")
	}
	var payload ReconcileStalePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	tracker := j.metrics().Track(TaskReconcileStale)
	defer func() { resultErr = tracker.End(resultErr) }()

	start := time.Now()
	logger := j.logger(TaskReconcileStale)
	ctx = shared.ContextWithActor(ctx, shared.ActorSystem)
	res, err := j.Reconciler.ReconcileStale(ctx, payload.PeriodID, staleness.TriggerScheduled)
	if err != nil {
		logger.Error("reconcile sweep failed", slog.Any("error", err))
		return err
	}
	if rerr := res.Err(); rerr != nil {
		logger.Warn("reconcile sweep left records stale", slog.Any("error", rerr))
	}
	logger.Info("completed reconcile sweep",
		slog.Int("periods", len(res.Periods)),
		slog.Int("employees_affected", res.EmployeesAffected),
		slog.Int("corrections_applied", res.CorrectionsApplied),
		slog.Duration("duration", time.Since(start)))
	return nil
}

// HandleEmployee processes TaskReconcileEmployee. A failure is returned so
// asynq retries with backoff.
func (j *ReconcileJob) HandleEmployee(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Reconciler == nil {
		return errors.New("reconcile: handler not configured")
	}
	var payload ReconcileEmployeePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.PeriodID == uuid.Nil || payload.EmployeeID == uuid.Nil {
		return asynq.SkipRetry
	}
	tracker := j.metrics().Track(TaskReconcileEmployee)
	defer func() { resultErr = tracker.End(resultErr) }()

	logger := j.logger(TaskReconcileEmployee).With(
		slog.String("period_id", payload.PeriodID.String()),
		slog.String("employee_id", payload.EmployeeID.String()))
	ctx = shared.ContextWithActor(ctx, shared.ActorSystem)
	res, err := j.Reconciler.ReconcileEmployee(ctx, payload.PeriodID, payload.EmployeeID, staleness.TriggerDebounced)
	if err != nil {
		logger.Error("employee reconciliation failed", slog.Any("error", err))
		return err
	}
	if rerr := res.Err(); rerr != nil {
		logger.Warn("employee record still stale", slog.Any("error", rerr))
		return rerr
	}
	logger.Info("employee reconciled", slog.Int("corrections_applied", res.CorrectionsApplied))
	return nil
}

// HandleBackfill processes TaskBackfillSnapshots.
func (j *ReconcileJob) HandleBackfill(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Reconciler == nil {
		return errors.New("backfill: handler not configured")
	}
	var payload BackfillPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	tracker := j.metrics().Track(TaskBackfillSnapshots)
	defer func() { resultErr = tracker.End(resultErr) }()

	filled, err := j.Reconciler.BackfillSnapshots(ctx, payload.PeriodID)
	if err != nil {
		j.logger(TaskBackfillSnapshots).Error("snapshot backfill failed", slog.Any("error", err))
		return err
	}
	j.logger(TaskBackfillSnapshots).Info("snapshot backfill completed", slog.Int("backfilled", filled))
	return nil
}

func (j *ReconcileJob) logger(task string) *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", task))
	}
	return slog.Default().With(slog.String("job", task))
}

func (j *ReconcileJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
