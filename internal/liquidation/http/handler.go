package liquidationhttp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/odyssey-erp/payroll/internal/liquidation"
	"github.com/odyssey-erp/payroll/internal/platform/httpx"
	"github.com/odyssey-erp/payroll/internal/shared"
)

type computeService interface {
	ComputePeriod(ctx context.Context, periodID uuid.UUID, opts liquidation.Options) (liquidation.BatchResult, error)
	ComputeEmployee(ctx context.Context, periodID, employeeID uuid.UUID, opts liquidation.Options) (liquidation.Outcome, error)
	Records(ctx context.Context, periodID uuid.UUID) ([]liquidation.Record, error)
	History(ctx context.Context, periodID, employeeID uuid.UUID) ([]liquidation.Record, error)
}

// Handler exposes payroll computation.
type Handler struct {
	logger  *slog.Logger
	service computeService
}

// NewHandler constructs the handler.
func NewHandler(logger *slog.Logger, service computeService) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers computation routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/periods/{periodID}/compute", h.handleComputePeriod)
	r.Get("/periods/{periodID}/records", h.handleRecords)
	r.Post("/periods/{periodID}/employees/{employeeID}/compute", h.handleComputeEmployee)
	r.Get("/periods/{periodID}/employees/{employeeID}/records", h.handleHistory)
}

func (h *Handler) handleComputePeriod(w http.ResponseWriter, r *http.Request) {
	periodID, err := httpx.UUIDParam(r, "periodID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	opts, err := options(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.service.ComputePeriod(r.Context(), periodID, opts)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) handleComputeEmployee(w http.ResponseWriter, r *http.Request) {
	periodID, err := httpx.UUIDParam(r, "periodID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	employeeID, err := httpx.UUIDParam(r, "employeeID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	opts, err := options(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	out, err := h.service.ComputeEmployee(r.Context(), periodID, employeeID, opts)
	if err != nil {
		// the failed version is persisted; report it alongside the rule
		var verr *shared.ValidationError
		if errors.As(err, &verr) && out.Written {
			h.logger.Info("employee computation failed",
				slog.String("period_id", periodID.String()),
				slog.String("employee_id", employeeID.String()),
				slog.String("rule", verr.Rule))
		}
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"record":  out.Record,
		"written": out.Written,
		"changed": out.Changed(),
	})
}

func (h *Handler) handleRecords(w http.ResponseWriter, r *http.Request) {
	periodID, err := httpx.UUIDParam(r, "periodID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	records, err := h.service.Records(r.Context(), periodID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if records == nil {
		records = []liquidation.Record{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"records": records})
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	periodID, err := httpx.UUIDParam(r, "periodID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	employeeID, err := httpx.UUIDParam(r, "employeeID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	records, err := h.service.History(r.Context(), periodID, employeeID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if records == nil {
		records = []liquidation.Record{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"versions": records})
}

func options(r *http.Request) (liquidation.Options, error) {
	opts := liquidation.Options{Trigger: liquidation.TriggerCompute}
	if raw := r.URL.Query().Get("force"); raw != "" {
		force, err := strconv.ParseBool(raw)
		if err != nil {
			return opts, httpx.ErrBadRequest
		}
		opts.Force = force
	}
	return opts, nil
}
