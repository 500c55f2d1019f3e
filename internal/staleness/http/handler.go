package stalenesshttp

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/odyssey-erp/payroll/internal/platform/httpx"
	"github.com/odyssey-erp/payroll/internal/staleness"
)

type reconcileService interface {
	ReconcileStale(ctx context.Context, periodID *uuid.UUID, trigger string) (staleness.Result, error)
	BackfillSnapshots(ctx context.Context, periodID *uuid.UUID) (int, error)
}

// Handler exposes manual reconciliation.
type Handler struct {
	logger  *slog.Logger
	service reconcileService
}

// NewHandler constructs the handler.
func NewHandler(logger *slog.Logger, service reconcileService) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers reconciliation routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/periods/{periodID}/reconcile", h.handleReconcilePeriod)
	r.Post("/reconcile", h.handleReconcileAll)
	r.Post("/snapshots/backfill", h.handleBackfill)
}

type reconcileResponse struct {
	staleness.Result
	Errors []string `json:"errors,omitempty"`
}

func (h *Handler) handleReconcilePeriod(w http.ResponseWriter, r *http.Request) {
	periodID, err := httpx.UUIDParam(r, "periodID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.reconcile(w, r, &periodID)
}

func (h *Handler) handleReconcileAll(w http.ResponseWriter, r *http.Request) {
	h.reconcile(w, r, nil)
}

func (h *Handler) reconcile(w http.ResponseWriter, r *http.Request, periodID *uuid.UUID) {
	res, err := h.service.ReconcileStale(r.Context(), periodID, staleness.TriggerManual)
	if err != nil {
		h.logger.Error("manual reconciliation failed", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	out := reconcileResponse{Result: res}
	for _, p := range res.Periods {
		if p.Error != nil {
			out.Errors = append(out.Errors, p.Error.Error())
		}
	}
	// partial failures are reported in the body; the records stay stale
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) handleBackfill(w http.ResponseWriter, r *http.Request) {
	var periodID *uuid.UUID
	if raw := r.URL.Query().Get("period_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			httpx.RespondError(w, httpx.ErrBadRequest)
			return
		}
		periodID = &id
	}
	filled, err := h.service.BackfillSnapshots(r.Context(), periodID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]int{"backfilled": filled})
}
