// Package vouchers tells the payslip service when issued vouchers for a
// period are no longer valid.
package vouchers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Notice is the body posted to the voucher webhook.
type Notice struct {
	PeriodID    uuid.UUID `json:"period_id"`
	Reason      string    `json:"reason"`
	Invalidated time.Time `json:"invalidated_at"`
}

// Notifier posts invalidation notices to a webhook.
type Notifier struct {
	url        string
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time
}

// NewNotifier constructs a notifier. An empty url only logs the notice.
func NewNotifier(url string, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		url: url,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger,
		now:    time.Now,
	}
}

// WithHTTPClient swaps the HTTP client.
func (n *Notifier) WithHTTPClient(c *http.Client) {
	if c != nil {
		n.httpClient = c
	}
}

// WithNow overrides the clock.
func (n *Notifier) WithNow(now func() time.Time) {
	if now != nil {
		n.now = now
	}
}

// InvalidatePeriod posts the notice synchronously.
func (n *Notifier) InvalidatePeriod(ctx context.Context, periodID uuid.UUID, reason string) error {
	return n.Send(ctx, Notice{PeriodID: periodID, Reason: reason, Invalidated: n.now().UTC()})
}

// Send delivers a notice. Non-2xx responses are errors so the caller can retry.
func (n *Notifier) Send(ctx context.Context, notice Notice) error {
	if n.url == "" {
		n.logger.Info("voucher invalidation (no webhook configured)",
			slog.String("period_id", notice.PeriodID.String()),
			slog.String("reason", notice.Reason))
		return nil
	}
	body, err := json.Marshal(notice)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", notice.PeriodID.String()+":"+notice.Invalidated.Format(time.RFC3339Nano))

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("vouchers: post notice: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("vouchers: webhook returned status %d", resp.StatusCode)
	}
	n.logger.Info("voucher invalidation sent",
		slog.String("period_id", notice.PeriodID.String()),
		slog.Int("status", resp.StatusCode))
	return nil
}
