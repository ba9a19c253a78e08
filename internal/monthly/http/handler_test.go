package monthlyhttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/attendance/internal/attendance"
	"github.com/odyssey-erp/attendance/internal/monthly"
	"github.com/odyssey-erp/attendance/internal/platform/httpx"
	"github.com/odyssey-erp/attendance/internal/shared"
)

type stubService struct {
	getFn       func(ctx context.Context, employeeID, month string) (monthly.MonthlyHours, error)
	aggregateFn func(ctx context.Context, employeeID, month string) (monthly.MonthlyHours, error)
	finalizeFn  func(ctx context.Context, employeeID, month string, actor shared.Actor) (monthly.MonthlyHours, error)
	reopenFn    func(ctx context.Context, employeeID, month string, actor shared.Actor, reason string) (monthly.MonthlyHours, error)
}

func (s *stubService) Get(ctx context.Context, employeeID, month string) (monthly.MonthlyHours, error) {
	return s.getFn(ctx, employeeID, month)
}

func (s *stubService) Aggregate(ctx context.Context, employeeID, month string) (monthly.MonthlyHours, error) {
	return s.aggregateFn(ctx, employeeID, month)
}

func (s *stubService) Finalize(ctx context.Context, employeeID, month string, actor shared.Actor) (monthly.MonthlyHours, error) {
	return s.finalizeFn(ctx, employeeID, month, actor)
}

func (s *stubService) Reopen(ctx context.Context, employeeID, month string, actor shared.Actor, reason string) (monthly.MonthlyHours, error) {
	return s.reopenFn(ctx, employeeID, month, actor, reason)
}

func sampleMonth(employeeID, month string) monthly.MonthlyHours {
	return monthly.MonthlyHours{
		EmployeeID:     employeeID,
		Month:          month,
		State:          monthly.StateOpen,
		Counters:       monthly.Counters{WorkingDays: 2, PresentDays: 1, AbsentDays: 1},
		RequiredHours:  decimal.NewFromInt(16),
		ActualHours:    decimal.NewFromInt(8),
		NetHours:       decimal.NewFromInt(-8),
		DeficitHours:   decimal.NewFromInt(8),
		DeficitDays:    decimal.NewFromInt(1),
		AbsentDates:    []time.Time{time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)},
		Details:        []monthly.DayDetail{{Date: time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), Status: attendance.StatusAbsent, RequiredHours: decimal.NewFromInt(8), ActualHours: decimal.Zero}},
		CoveredThrough: time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC),
		Version:        1,
	}
}

func newRouter(svc Service) http.Handler {
	r := chi.NewRouter()
	r.Use(httpx.Actor)
	NewHandler(nil, svc).MountRoutes(r)
	return r
}

func do(router http.Handler, method, path, role, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(httpx.HeaderActorID, "u-3")
	req.Header.Set(httpx.HeaderActorRole, role)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestGetMonth(t *testing.T) {
	svc := &stubService{getFn: func(_ context.Context, employeeID, month string) (monthly.MonthlyHours, error) {
		if month == "2024-01" {
			return monthly.MonthlyHours{}, monthly.ErrNotFound
		}
		return sampleMonth(employeeID, month), nil
	}}
	router := newRouter(svc)

	rec := do(router, http.MethodGet, "/attendance/months/emp-1/2024-03/", "employee", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "8", body["deficit_hours"])
	require.Equal(t, []any{"2024-03-05"}, body["absent_dates"])
	require.Equal(t, "2024-03-05", body["covered_through"])
	details := body["details"].([]any)
	require.Len(t, details, 1)
	first := details[0].(map[string]any)
	require.Equal(t, "2024-03-05", first["date"])
	require.Equal(t, "ABSENT", first["status"])
	require.Equal(t, "8", first["required_hours"])

	rec = do(router, http.MethodGet, "/attendance/months/emp-1/2024-01/", "employee", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(router, http.MethodGet, "/attendance/months/emp-1/2024-13/", "employee", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAggregateRequiresReviewerRole(t *testing.T) {
	calls := 0
	svc := &stubService{aggregateFn: func(_ context.Context, employeeID, month string) (monthly.MonthlyHours, error) {
		calls++
		if employeeID == "frozen" {
			return sampleMonth(employeeID, month), monthly.ErrFinalized
		}
		return sampleMonth(employeeID, month), nil
	}}
	router := newRouter(svc)

	rec := do(router, http.MethodPost, "/attendance/months/emp-1/2024-03/aggregate", "employee", "")
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Zero(t, calls)

	rec = do(router, http.MethodPost, "/attendance/months/emp-1/2024-03/aggregate", "supervisor", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(router, http.MethodPost, "/attendance/months/frozen/2024-03/aggregate", "hr_manager", "")
	require.Equal(t, http.StatusLocked, rec.Code)
}

func TestFinalizeAndReopen(t *testing.T) {
	var gotActor shared.Actor
	var gotReason string
	svc := &stubService{
		finalizeFn: func(_ context.Context, employeeID, month string, actor shared.Actor) (monthly.MonthlyHours, error) {
			gotActor = actor
			if actor.Role == shared.RoleSupervisor {
				return monthly.MonthlyHours{}, monthly.ErrRoleNotPermitted
			}
			mh := sampleMonth(employeeID, month)
			mh.State = monthly.StateFinalized
			mh.FinalizedBy = actor.ID
			return mh, nil
		},
		reopenFn: func(_ context.Context, employeeID, month string, _ shared.Actor, reason string) (monthly.MonthlyHours, error) {
			gotReason = reason
			if employeeID == "paid" {
				return monthly.MonthlyHours{}, monthly.ErrExecutedProposal
			}
			return sampleMonth(employeeID, month), nil
		},
	}
	router := newRouter(svc)

	rec := do(router, http.MethodPost, "/attendance/months/emp-1/2024-03/finalize", "hr_manager", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, shared.Actor{ID: "u-3", Role: shared.RoleHRManager}, gotActor)
	require.Contains(t, rec.Body.String(), `"state":"finalized"`)

	rec = do(router, http.MethodPost, "/attendance/months/emp-1/2024-03/finalize", "supervisor", "")
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(router, http.MethodPost, "/attendance/months/emp-1/2024-03/reopen", "admin", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(router, http.MethodPost, "/attendance/months/emp-1/2024-03/reopen", "admin", `{"reason":"late sick note"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "late sick note", gotReason)

	rec = do(router, http.MethodPost, "/attendance/months/paid/2024-03/reopen", "admin", `{"reason":"x"}`)
	require.Equal(t, http.StatusLocked, rec.Code)
}
