package audithttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/odyssey-erp/payroll/internal/audit"
)

type stubTimelineService struct {
	result      audit.Result
	lastFilters audit.TimelineFilters
}

func (s *stubTimelineService) Timeline(ctx context.Context, filters audit.TimelineFilters) (audit.Result, error) {
	s.lastFilters = filters
	return s.result, nil
}

func newRouter(service *stubTimelineService) http.Handler {
	r := chi.NewRouter()
	NewHandler(nil, service).MountRoutes(r)
	return r
}

func TestPeriodTimelineScopesByPeriod(t *testing.T) {
	period := uuid.New()
	service := &stubTimelineService{result: audit.Result{
		Rows:   []audit.Entry{{ID: uuid.New(), PeriodID: period, Action: audit.ActionReopen, Actor: "ana"}},
		Paging: audit.PagingInfo{Page: 1, PageSize: 20},
	}}
	rr := httptest.NewRecorder()
	newRouter(service).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/periods/"+period.String()+"/audit?page_size=5&action=reopen", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if service.lastFilters.PeriodID == nil || *service.lastFilters.PeriodID != period {
		t.Fatalf("expected period filter, got %+v", service.lastFilters)
	}
	if service.lastFilters.PageSize != 5 || service.lastFilters.Action != audit.ActionReopen {
		t.Fatalf("unexpected filters %+v", service.lastFilters)
	}
	var body audit.Result
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Rows) != 1 || body.Rows[0].Actor != "ana" {
		t.Fatalf("unexpected body %+v", body)
	}
}

func TestTimelineClampsPageSize(t *testing.T) {
	service := &stubTimelineService{}
	rr := httptest.NewRecorder()
	newRouter(service).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/audit?page_size=500", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if service.lastFilters.PageSize != maxPageSize {
		t.Fatalf("expected page size %d, got %d", maxPageSize, service.lastFilters.PageSize)
	}
}

func TestTimelineRejectsInvalidRange(t *testing.T) {
	service := &stubTimelineService{}
	rr := httptest.NewRecorder()
	newRouter(service).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/audit?from=2025-03-10&to=2025-03-01", nil))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}

func TestPeriodTimelineRejectsBadID(t *testing.T) {
	service := &stubTimelineService{}
	rr := httptest.NewRecorder()
	newRouter(service).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/periods/not-a-uuid/audit", nil))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
}
