package noveltieshttp

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/payroll/internal/novelties"
	"github.com/odyssey-erp/payroll/internal/platform/httpx"
)

type noveltyService interface {
	Create(ctx context.Context, in novelties.CreateInput) (novelties.Novelty, []novelties.SideEffect, error)
	Update(ctx context.Context, id uuid.UUID, in novelties.UpdateInput) (novelties.Novelty, []novelties.SideEffect, error)
	Delete(ctx context.Context, id uuid.UUID) ([]novelties.SideEffect, error)
	ListByEmployeePeriod(ctx context.Context, employeeID, periodID uuid.UUID) ([]novelties.Novelty, error)
	AggregateTotals(ctx context.Context, employeeID, periodID uuid.UUID, variant novelties.Variant) (novelties.Totals, error)
}

// Handler exposes the novelty ledger as JSON endpoints.
type Handler struct {
	logger    *slog.Logger
	service   noveltyService
	validator *validator.Validate
}

// NewHandler constructs the handler.
func NewHandler(logger *slog.Logger, service noveltyService) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers novelty routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/periods/{periodID}/novelties", h.handleCreate)
	r.Get("/periods/{periodID}/employees/{employeeID}/novelties", h.handleList)
	r.Get("/periods/{periodID}/employees/{employeeID}/totals", h.handleTotals)
	r.Put("/novelties/{noveltyID}", h.handleUpdate)
	r.Delete("/novelties/{noveltyID}", h.handleDelete)
}

type noveltyRequest struct {
	EmployeeID   string           `json:"employee_id" validate:"omitempty,uuid"`
	Type         string           `json:"type" validate:"required"`
	StartDate    string           `json:"start_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	EndDate      string           `json:"end_date,omitempty" validate:"omitempty,datetime=2006-01-02"`
	Hours        *decimal.Decimal `json:"hours,omitempty"`
	Days         *decimal.Decimal `json:"days,omitempty"`
	Value        decimal.Decimal  `json:"value"`
	Constitutive *bool            `json:"constitutive_of_salary,omitempty"`
	Note         string           `json:"note,omitempty" validate:"max=500"`
}

type mutationResponse struct {
	Novelty     *novelties.Novelty     `json:"novelty,omitempty"`
	SideEffects []novelties.SideEffect `json:"side_effects"`
}

func (h *Handler) decode(r *http.Request) (noveltyRequest, error) {
	var req noveltyRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		return req, err
	}
	if err := h.validator.Struct(req); err != nil {
		return req, fmt.Errorf("%w: %v", httpx.ErrBadRequest, err)
	}
	return req, nil
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	periodID, err := httpx.UUIDParam(r, "periodID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	req, err := h.decode(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	employeeID, err := uuid.Parse(req.EmployeeID)
	if err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: employee_id required", httpx.ErrBadRequest))
		return
	}
	start, end := parseDate(req.StartDate), parseDate(req.EndDate)
	n, effects, err := h.service.Create(r.Context(), novelties.CreateInput{
		EmployeeID:   employeeID,
		PeriodID:     periodID,
		Type:         novelties.Type(req.Type),
		StartDate:    start,
		EndDate:      end,
		Hours:        nullable(req.Hours),
		Days:         nullable(req.Days),
		Value:        req.Value,
		Constitutive: req.Constitutive,
		Note:         req.Note,
	})
	if err != nil {
		h.logger.Info("novelty create rejected", slog.String("period_id", periodID.String()), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, mutationResponse{Novelty: &n, SideEffects: effects})
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.UUIDParam(r, "noveltyID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	req, err := h.decode(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	n, effects, err := h.service.Update(r.Context(), id, novelties.UpdateInput{
		Type:         novelties.Type(req.Type),
		StartDate:    parseDate(req.StartDate),
		EndDate:      parseDate(req.EndDate),
		Hours:        nullable(req.Hours),
		Days:         nullable(req.Days),
		Value:        req.Value,
		Constitutive: req.Constitutive,
		Note:         req.Note,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, mutationResponse{Novelty: &n, SideEffects: effects})
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.UUIDParam(r, "noveltyID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	effects, err := h.service.Delete(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, mutationResponse{SideEffects: effects})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	periodID, employeeID, err := scopeParams(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	items, err := h.service.ListByEmployeePeriod(r.Context(), employeeID, periodID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if items == nil {
		items = []novelties.Novelty{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"novelties": items})
}

func (h *Handler) handleTotals(w http.ResponseWriter, r *http.Request) {
	periodID, employeeID, err := scopeParams(r)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	variant, ok := novelties.ParseVariant(r.URL.Query().Get("variant"))
	if !ok {
		httpx.RespondError(w, fmt.Errorf("%w: unknown variant %q", httpx.ErrBadRequest, r.URL.Query().Get("variant")))
		return
	}
	totals, err := h.service.AggregateTotals(r.Context(), employeeID, periodID, variant)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"variant": variant, "totals": totals})
}

func scopeParams(r *http.Request) (uuid.UUID, uuid.UUID, error) {
	periodID, err := httpx.UUIDParam(r, "periodID")
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	employeeID, err := httpx.UUIDParam(r, "employeeID")
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	return periodID, employeeID, nil
}

func parseDate(raw string) *time.Time {
	if raw == "" {
		return nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return nil
	}
	return &t
}

func nullable(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}
