package audithttp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/odyssey-erp/payroll/internal/audit"
	"github.com/odyssey-erp/payroll/internal/platform/httpx"
)

const (
	defaultPageSize   = 20
	maxPageSize       = 50
	maxDateRangeHours = 24 * 400
)

// TimelineService defines the business contract for timeline data.
type TimelineService interface {
	Timeline(ctx context.Context, filters audit.TimelineFilters) (audit.Result, error)
}

// Handler serves the payroll audit trail.
type Handler struct {
	logger  *slog.Logger
	service TimelineService
}

// NewHandler constructs the audit handler.
func NewHandler(logger *slog.Logger, service TimelineService) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

func (h *Handler) handlePeriodTimeline(w http.ResponseWriter, r *http.Request) {
	periodID, err := httpx.UUIDParam(r, "periodID")
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	filters, err := parseFilters(r)
	if err != nil {
		h.handleFilterError(w, err)
		return
	}
	filters.PeriodID = &periodID
	h.respond(w, r, filters)
}

func (h *Handler) handleTimeline(w http.ResponseWriter, r *http.Request) {
	filters, err := parseFilters(r)
	if err != nil {
		h.handleFilterError(w, err)
		return
	}
	h.respond(w, r, filters)
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, filters audit.TimelineFilters) {
	result, err := h.service.Timeline(r.Context(), filters)
	if err != nil {
		h.logger.Error("load audit timeline", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func parseFilters(r *http.Request) (audit.TimelineFilters, error) {
	q := r.URL.Query()
	var filters audit.TimelineFilters
	if v := strings.TrimSpace(q.Get("from")); v != "" {
		from, err := time.Parse(time.DateOnly, v)
		if err != nil {
			return filters, validationError{field: "from"}
		}
		filters.From = from
	}
	if v := strings.TrimSpace(q.Get("to")); v != "" {
		to, err := time.Parse(time.DateOnly, v)
		if err != nil {
			return filters, validationError{field: "to"}
		}
		// inclusive of the whole day
		filters.To = to.Add(24*time.Hour - time.Nanosecond)
	}
	if !filters.From.IsZero() && !filters.To.IsZero() {
		if filters.From.After(filters.To) {
			return filters, validationError{field: "range"}
		}
		if filters.To.Sub(filters.From) > maxDateRangeHours*time.Hour {
			return filters, validationError{field: "range"}
		}
	}

	filters.Page = 1
	if v := strings.TrimSpace(q.Get("page")); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			return filters, validationError{field: "page"}
		}
		filters.Page = parsed
	}
	filters.PageSize = defaultPageSize
	if v := strings.TrimSpace(q.Get("page_size")); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed <= 0 {
			return filters, validationError{field: "page_size"}
		}
		if parsed > maxPageSize {
			parsed = maxPageSize
		}
		filters.PageSize = parsed
	}
	filters.Actor = strings.TrimSpace(q.Get("actor"))
	filters.Action = audit.Action(strings.TrimSpace(q.Get("action")))
	return filters, nil
}

func (h *Handler) handleFilterError(w http.ResponseWriter, err error) {
	var v validationError
	if errors.As(err, &v) {
		httpx.RespondError(w, fmt.Errorf("%w: invalid %s", httpx.ErrBadRequest, v.field))
		return
	}
	httpx.RespondError(w, err)
}

type validationError struct {
	field string
}

func (validationError) Error() string {
	return "validation failed"
}
