package periodshttp

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/odyssey-erp/payroll/internal/audit"
	"github.com/odyssey-erp/payroll/internal/periods"
	"github.com/odyssey-erp/payroll/internal/platform/httpx"
	"github.com/odyssey-erp/payroll/internal/shared"
)

type periodService interface {
	CreateDraft(ctx context.Context, in periods.CreateInput) (periods.Period, error)
	List(ctx context.Context, companyID uuid.UUID) ([]periods.Period, error)
	Get(ctx context.Context, id uuid.UUID) (periods.Period, error)
	Close(ctx context.Context, id uuid.UUID, in periods.TransitionInput) (periods.CloseResult, error)
	Reopen(ctx context.Context, id uuid.UUID, in periods.TransitionInput) (audit.Entry, error)
	Cancel(ctx context.Context, id uuid.UUID, in periods.TransitionInput) (periods.Period, error)
}

// Handler exposes the period lifecycle.
type Handler struct {
	logger    *slog.Logger
	service   periodService
	validator *validator.Validate
}

// NewHandler constructs the handler.
func NewHandler(logger *slog.Logger, service periodService) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers period routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/companies/{companyID}/periods", h.handleList)
	r.Post("/companies/{companyID}/periods", h.handleCreate)
	r.Get("/periods/{periodID}", h.handleGet)
	r.Post("/periods/{periodID}/close", h.handleClose)
	r.Post("/periods/{periodID}/reopen", h.handleReopen)
	r.Post("/periods/{periodID}/cancel", h.handleCancel)
}

type createRequest struct {
	Name        string `json:"name" validate:"required,max=120"`
	Periodicity string `json:"periodicity" validate:"required,oneof=weekly biweekly monthly"`
	StartDate   string `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate     string `json:"end_date" validate:"required,datetime=2006-01-02"`
}

type transitionRequest struct {
	Justification string `json:"justification" validate:"max=2000"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	companyID, err := httpx.UUIDParam(r, "companyID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req createRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrBadRequest, err))
		return
	}
	start, _ := time.Parse(time.DateOnly, req.StartDate)
	end, _ := time.Parse(time.DateOnly, req.EndDate)
	p, err := h.service.CreateDraft(r.Context(), periods.CreateInput{
		CompanyID:   companyID,
		Name:        req.Name,
		Periodicity: req.Periodicity,
		StartDate:   start,
		EndDate:     end,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, p)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	companyID, err := httpx.UUIDParam(r, "companyID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	items, err := h.service.List(r.Context(), companyID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if items == nil {
		items = []periods.Period{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"periods": items})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.UUIDParam(r, "periodID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	p, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

func (h *Handler) handleClose(w http.ResponseWriter, r *http.Request) {
	id, in, ok := h.transition(w, r)
	if !ok {
		return
	}
	res, err := h.service.Close(r.Context(), id, in)
	if err != nil {
		h.logRejected("close", id, err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

func (h *Handler) handleReopen(w http.ResponseWriter, r *http.Request) {
	id, in, ok := h.transition(w, r)
	if !ok {
		return
	}
	entry, err := h.service.Reopen(r.Context(), id, in)
	if err != nil {
		h.logRejected("reopen", id, err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"audit": entry})
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, in, ok := h.transition(w, r)
	if !ok {
		return
	}
	p, err := h.service.Cancel(r.Context(), id, in)
	if err != nil {
		h.logRejected("cancel", id, err)
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

// transition parses the shared parts of lifecycle requests. An empty body is
// accepted.
func (h *Handler) transition(w http.ResponseWriter, r *http.Request) (uuid.UUID, periods.TransitionInput, bool) {
	id, err := httpx.UUIDParam(r, "periodID")
	if err != nil {
		httpx.RespondError(w, err)
		return uuid.Nil, periods.TransitionInput{}, false
	}
	var req transitionRequest
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.RespondError(w, err)
			return uuid.Nil, periods.TransitionInput{}, false
		}
		if err := h.validator.Struct(req); err != nil {
			httpx.RespondError(w, fmt.Errorf("%w: %v", httpx.ErrBadRequest, err))
			return uuid.Nil, periods.TransitionInput{}, false
		}
	}
	return id, periods.TransitionInput{
		Actor:          shared.ActorFromContext(r.Context()),
		Justification:  req.Justification,
		IdempotencyKey: strings.TrimSpace(r.Header.Get("Idempotency-Key")),
	}, true
}

func (h *Handler) logRejected(action string, id uuid.UUID, err error) {
	level := slog.LevelError
	if shared.IsClientError(err) {
		level = slog.LevelInfo
	}
	h.logger.Log(context.Background(), level, "period transition rejected",
		slog.String("action", action),
		slog.String("period_id", id.String()),
		slog.Any("error", err))
}
