package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/payroll/internal/jobs"
	"github.com/odyssey-erp/payroll/internal/vouchers"
)

// NoticeSender delivers voucher invalidation notices.
type NoticeSender interface {
	Send(ctx context.Context, notice vouchers.Notice) error
}

// VoucherJob delivers queued voucher invalidations.
type VoucherJob struct {
	Sender  NoticeSender
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewVoucherJob constructs the job handler.
func NewVoucherJob(sender NoticeSender, logger *slog.Logger, metrics *jobmetrics.Metrics) *VoucherJob {
	return &VoucherJob{Sender: sender, Logger: logger, Metrics: metrics}
}

// Handle processes TaskVoucherInvalidate.
func (j *VoucherJob) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	if j == nil || j.Sender == nil {
		return errors.New("voucher invalidate: handler not configured")
	}
	var notice vouchers.Notice
	if err := json.Unmarshal(t.Payload(), &notice); err != nil {
		return asynq.SkipRetry
	}
	metrics := j.Metrics
	if metrics == nil {
		metrics = defaultJobMetrics
	}
	tracker := metrics.Track(TaskVoucherInvalidate)
	defer func() { resultErr = tracker.End(resultErr) }()

	if err := j.Sender.Send(ctx, notice); err != nil {
		logger := j.Logger
		if logger == nil {
			logger = slog.Default()
		}
		logger.Warn("voucher invalidation failed",
			slog.String("job", TaskVoucherInvalidate),
			slog.String("period_id", notice.PeriodID.String()),
			slog.Any("error", err))
		return err
	}
	return nil
}
