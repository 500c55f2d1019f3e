package periodshttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/payroll/internal/audit"
	"github.com/odyssey-erp/payroll/internal/periods"
	"github.com/odyssey-erp/payroll/internal/shared"
)

type stubService struct {
	created    periods.CreateInput
	transition periods.TransitionInput
	reopenErr  error
}

func (s *stubService) CreateDraft(_ context.Context, in periods.CreateInput) (periods.Period, error) {
	s.created = in
	return periods.Period{ID: uuid.New(), CompanyID: in.CompanyID, Name: in.Name, Status: periods.StatusDraft}, nil
}

func (s *stubService) List(context.Context, uuid.UUID) ([]periods.Period, error) { return nil, nil }

func (s *stubService) Get(_ context.Context, id uuid.UUID) (periods.Period, error) {
	return periods.Period{}, periods.ErrNotFound
}

func (s *stubService) Close(_ context.Context, id uuid.UUID, in periods.TransitionInput) (periods.CloseResult, error) {
	s.transition = in
	return periods.CloseResult{Period: periods.Period{ID: id, Status: periods.StatusClosed}}, nil
}

func (s *stubService) Reopen(_ context.Context, id uuid.UUID, in periods.TransitionInput) (audit.Entry, error) {
	s.transition = in
	if s.reopenErr != nil {
		return audit.Entry{}, s.reopenErr
	}
	return audit.Entry{PeriodID: id, Action: audit.ActionReopen, Justification: in.Justification}, nil
}

func (s *stubService) Cancel(_ context.Context, id uuid.UUID, in periods.TransitionInput) (periods.Period, error) {
	return periods.Period{}, shared.NewStateConflictError(id, periods.RulePeriodHasRecords, "2 records")
}

func serve(svc *stubService, req *http.Request) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	NewHandler(nil, svc).MountRoutes(r)
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	return rr
}

func TestCreatePeriod(t *testing.T) {
	svc := &stubService{}
	company := uuid.New()
	body := `{"name":"2025-03 Q1","periodicity":"biweekly","start_date":"2025-03-01","end_date":"2025-03-15"}`
	rr := serve(svc, httptest.NewRequest(http.MethodPost, "/companies/"+company.String()+"/periods", strings.NewReader(body)))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Equal(t, company, svc.created.CompanyID)
	assert.Equal(t, 15, svc.created.EndDate.Day())
}

func TestCreatePeriodRejectsUnknownPeriodicity(t *testing.T) {
	body := `{"name":"x","periodicity":"daily","start_date":"2025-03-01","end_date":"2025-03-15"}`
	rr := serve(&stubService{}, httptest.NewRequest(http.MethodPost, "/companies/"+uuid.NewString()+"/periods", strings.NewReader(body)))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCloseForwardsActorAndIdempotencyKey(t *testing.T) {
	svc := &stubService{}
	req := httptest.NewRequest(http.MethodPost, "/periods/"+uuid.NewString()+"/close", nil)
	req.Header.Set("Idempotency-Key", "abc")
	req = req.WithContext(shared.ContextWithActor(req.Context(), "ana"))
	rr := serve(svc, req)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ana", svc.transition.Actor)
	assert.Equal(t, "abc", svc.transition.IdempotencyKey)
}

func TestReopenMapsValidationError(t *testing.T) {
	id := uuid.New()
	svc := &stubService{reopenErr: shared.NewValidationError(id, uuid.Nil, periods.RuleJustificationNeeded, "required")}
	rr := serve(svc, httptest.NewRequest(http.MethodPost, "/periods/"+id.String()+"/reopen", strings.NewReader(`{}`)))
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)

	var problem struct {
		Extensions map[string]any `json:"extensions"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &problem))
	assert.Equal(t, periods.RuleJustificationNeeded, problem.Extensions["rule"])
	assert.Equal(t, id.String(), problem.Extensions["period_id"])
}

func TestCancelConflict(t *testing.T) {
	rr := serve(&stubService{}, httptest.NewRequest(http.MethodPost, "/periods/"+uuid.NewString()+"/cancel", nil))
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestGetNotFound(t *testing.T) {
	rr := serve(&stubService{}, httptest.NewRequest(http.MethodGet, "/periods/"+uuid.NewString(), nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
