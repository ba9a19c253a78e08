package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	attendancehttp "github.com/odyssey-erp/attendance/internal/attendance/http"
	calendarhttp "github.com/odyssey-erp/attendance/internal/calendar/http"
	monthlyhttp "github.com/odyssey-erp/attendance/internal/monthly/http"
	"github.com/odyssey-erp/attendance/internal/observability"
	"github.com/odyssey-erp/attendance/internal/platform/httpx"
	proposalshttp "github.com/odyssey-erp/attendance/internal/proposals/http"
	"github.com/odyssey-erp/attendance/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger            *slog.Logger
	Config            *Config
	AttendanceHandler *attendancehttp.Handler
	MonthlyHandler    *monthlyhttp.Handler
	ProposalsHandler  *proposalshttp.Handler
	CalendarHandler   *calendarhttp.Handler
	JobHandler        *jobs.Handler
	Metrics           *observability.Metrics
}

// NewRouter constructs the chi.Router with the API defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(httpx.Actor)
		if params.AttendanceHandler != nil {
			params.AttendanceHandler.MountRoutes(r)
		}
		if params.MonthlyHandler != nil {
			params.MonthlyHandler.MountRoutes(r)
		}
		if params.ProposalsHandler != nil {
			params.ProposalsHandler.MountRoutes(r)
		}
		if params.CalendarHandler != nil {
			params.CalendarHandler.MountRoutes(r)
		}
		if params.JobHandler != nil {
			r.Route("/jobs", params.JobHandler.MountRoutes)
		}
	})

	return r
}
