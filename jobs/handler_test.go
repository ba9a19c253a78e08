package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/attendance/internal/platform/httpx"
)

type stubInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (s stubInspector) GetQueueInfo(string) (*asynq.QueueInfo, error) {
	return s.info, s.err
}

type stubEnqueuer struct {
	daily, monthly []string
}

func (s *stubEnqueuer) EnqueueDaily(_ context.Context, date, trigger string) (*asynq.TaskInfo, error) {
	s.daily = append(s.daily, date+"/"+trigger)
	return &asynq.TaskInfo{ID: "task-1", Type: TaskDailyResolve, Queue: QueueDefault}, nil
}

func (s *stubEnqueuer) EnqueueMonthly(_ context.Context, month, trigger string) (*asynq.TaskInfo, error) {
	s.monthly = append(s.monthly, month+"/"+trigger)
	return &asynq.TaskInfo{ID: "task-2", Type: TaskMonthlyAggregate, Queue: QueueDefault}, nil
}

func newJobsRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(httpx.Actor)
	r.Route("/jobs", h.MountRoutes)
	return r
}

func serve(t *testing.T, router http.Handler, method, path, role, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(httpx.HeaderActorID, "u-1")
	req.Header.Set(httpx.HeaderActorRole, role)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHandlerEnqueueDaily(t *testing.T) {
	enq := &stubEnqueuer{}
	router := newJobsRouter(NewHandler(nil, nil, enq, nil))

	rec := serve(t, router, http.MethodPost, "/jobs/daily", "hr_manager", `{"date":"2024-03-04"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp enqueueResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, enqueueResponse{TaskID: "task-1", Type: TaskDailyResolve, Queue: QueueDefault}, resp)
	require.Equal(t, []string{"2024-03-04/manual"}, enq.daily)

	rec = serve(t, router, http.MethodPost, "/jobs/daily", "admin", "")
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, "/manual", enq.daily[1])
}

func TestHandlerEnqueueMonthly(t *testing.T) {
	enq := &stubEnqueuer{}
	router := newJobsRouter(NewHandler(nil, nil, enq, nil))

	rec := serve(t, router, http.MethodPost, "/jobs/monthly", "admin", `{"month":"previous"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Equal(t, []string{"previous/manual"}, enq.monthly)

	rec = serve(t, router, http.MethodPost, "/jobs/monthly", "admin", `{"month":"March"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Len(t, enq.monthly, 1)
}

func TestHandlerEnqueueRequiresReviewer(t *testing.T) {
	enq := &stubEnqueuer{}
	router := newJobsRouter(NewHandler(nil, nil, enq, nil))

	rec := serve(t, router, http.MethodPost, "/jobs/daily", "supervisor", "")
	require.Equal(t, http.StatusForbidden, rec.Code)
	rec = serve(t, router, http.MethodPost, "/jobs/daily", "system", "")
	require.Equal(t, http.StatusForbidden, rec.Code)
	require.Empty(t, enq.daily)

	noQueue := newJobsRouter(NewHandler(nil, nil, nil, nil))
	rec = serve(t, noQueue, http.MethodPost, "/jobs/daily", "admin", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandlerHealth(t *testing.T) {
	router := newJobsRouter(NewHandler(stubInspector{info: &asynq.QueueInfo{Queue: QueueDefault, Pending: 3, Active: 1, Retry: 2}}, nil, nil, nil))
	rec := serve(t, router, http.MethodGet, "/jobs/health", "employee", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var health queueHealth
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	require.Equal(t, queueHealth{Queue: QueueDefault, Pending: 3, Active: 1, Retry: 2}, health)

	down := newJobsRouter(NewHandler(stubInspector{err: errors.New("redis down")}, nil, nil, nil))
	rec = serve(t, down, http.MethodGet, "/jobs/health", "employee", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHandlerListLogs(t *testing.T) {
	logs := &memLogStore{logs: []JobLog{
		{JobType: TaskDailyResolve, Target: "2024-03-03", Status: JobSuccess},
		{JobType: TaskMonthlyAggregate, Target: "2024-02", Status: JobPartial},
		{JobType: TaskDailyResolve, Target: "2024-03-04", Status: JobPartial},
	}}
	router := newJobsRouter(NewHandler(nil, logs, nil, nil))

	rec := serve(t, router, http.MethodGet, "/jobs/logs?job_type="+TaskDailyResolve+"&limit=5", "hr_manager", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var out []JobLog
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out, 2)
	require.Equal(t, "2024-03-04", out[0].Target)

	rec = serve(t, router, http.MethodGet, "/jobs/logs?limit=zero", "hr_manager", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	empty := newJobsRouter(NewHandler(nil, nil, nil, nil))
	rec = serve(t, empty, http.MethodGet, "/jobs/logs", "hr_manager", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, "[]", rec.Body.String())
}
