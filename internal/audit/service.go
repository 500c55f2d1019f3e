// Package audit keeps the append-only trail of payroll lifecycle actions.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Result wraps a timeline page.
type Result struct {
	Rows   []Entry    `json:"entries"`
	Paging PagingInfo `json:"paging"`
}

// Service records and reads audit entries.
type Service struct {
	repo   Repository
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs the audit service.
func NewService(repo Repository, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Record appends an entry, filling its identifier and timestamp.
func (s *Service) Record(ctx context.Context, e Entry) (Entry, error) {
	if s.repo == nil {
		return Entry{}, fmt.Errorf("audit: repository not configured")
	}
	if e.Action == "" {
		return Entry{}, fmt.Errorf("audit: action required")
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = s.now().UTC()
	}
	if e.AffectedEmployees == nil {
		e.AffectedEmployees = []uuid.UUID{}
	}
	sort.Slice(e.AffectedEmployees, func(i, j int) bool {
		return e.AffectedEmployees[i].String() < e.AffectedEmployees[j].String()
	})
	if err := s.repo.Append(ctx, e); err != nil {
		return Entry{}, fmt.Errorf("audit: append %s for period %s: %w", e.Action, e.PeriodID, err)
	}
	s.logger.Info("payroll audit entry recorded",
		slog.String("period_id", e.PeriodID.String()),
		slog.String("action", string(e.Action)),
		slog.String("actor", e.Actor),
		slog.Int("affected", len(e.AffectedEmployees)))
	return e, nil
}

// Timeline returns audit entries with paging.
func (s *Service) Timeline(ctx context.Context, filters TimelineFilters) (Result, error) {
	if s.repo == nil {
		return Result{}, fmt.Errorf("audit: repository not configured")
	}
	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 50 {
		pageSize = 50
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}
	rows, err := s.repo.List(ctx, Query{
		PeriodID: filters.PeriodID,
		From:     filters.From,
		To:       filters.To,
		Actor:    filters.Actor,
		Action:   string(filters.Action),
		Offset:   (page - 1) * pageSize,
		Limit:    pageSize + 1,
	})
	if err != nil {
		return Result{}, err
	}
	hasNext := len(rows) > pageSize
	if hasNext {
		rows = rows[:pageSize]
	}
	if rows == nil {
		rows = []Entry{}
	}
	paging := PagingInfo{Page: page, PageSize: pageSize, HasNext: hasNext}
	if page > 1 {
		paging.PrevPage = page - 1
	}
	if hasNext {
		paging.NextPage = page + 1
	}
	return Result{Rows: rows, Paging: paging}, nil
}
