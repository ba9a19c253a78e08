package monthlyhttp

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/attendance/internal/attendance"
	"github.com/odyssey-erp/attendance/internal/monthly"
	"github.com/odyssey-erp/attendance/internal/platform/httpx"
	"github.com/odyssey-erp/attendance/internal/shared"
)

// Service is the monthly behaviour exposed over HTTP.
type Service interface {
	Get(ctx context.Context, employeeID, month string) (monthly.MonthlyHours, error)
	Aggregate(ctx context.Context, employeeID, month string) (monthly.MonthlyHours, error)
	Finalize(ctx context.Context, employeeID, month string, actor shared.Actor) (monthly.MonthlyHours, error)
	Reopen(ctx context.Context, employeeID, month string, actor shared.Actor, reason string) (monthly.MonthlyHours, error)
}

// Handler wires month endpoints.
type Handler struct {
	logger  *slog.Logger
	service Service
}

// NewHandler constructs handler.
func NewHandler(logger *slog.Logger, service Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger.With(slog.String("component", "monthly.http")), service: service}
}

// MountRoutes registers routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/attendance/months/{employeeID}/{month}", func(r chi.Router) {
		r.Get("/", h.get)
		r.Post("/aggregate", h.aggregate)
		r.Post("/finalize", h.finalize)
		r.Post("/reopen", h.reopen)
	})
}

type monthResponse struct {
	EmployeeID        string           `json:"employee_id"`
	Month             string           `json:"month"`
	State             monthly.State    `json:"state"`
	Counters          monthly.Counters `json:"counters"`
	RequiredHours     decimal.Decimal  `json:"required_hours"`
	ActualHours       decimal.Decimal  `json:"actual_hours"`
	CompensationHours decimal.Decimal  `json:"compensation_hours"`
	PermissionHours   decimal.Decimal  `json:"permission_hours"`
	NetHours          decimal.Decimal  `json:"net_hours"`
	DeficitHours      decimal.Decimal  `json:"deficit_hours"`
	DeficitDays       decimal.Decimal  `json:"deficit_days"`
	AbsentDates       []string         `json:"absent_dates"`
	Details           []dayDetail      `json:"details"`
	CoveredThrough    string           `json:"covered_through,omitempty"`
	FinalizedAt       *time.Time       `json:"finalized_at,omitempty"`
	FinalizedBy       string           `json:"finalized_by,omitempty"`
	ReopenCount       int              `json:"reopen_count"`
	ComputedAt        time.Time        `json:"computed_at"`
	Version           int              `json:"version"`
}

type dayDetail struct {
	Date              string            `json:"date"`
	Status            attendance.Status `json:"status"`
	RequiredHours     decimal.Decimal   `json:"required_hours"`
	ActualHours       decimal.Decimal   `json:"actual_hours"`
	CompensationHours decimal.Decimal   `json:"compensation_hours"`
	PermissionHours   decimal.Decimal   `json:"permission_hours"`
	LateMinutes       int               `json:"late_minutes"`
	EarlyLeaveMinutes int               `json:"early_leave_minutes"`
}

func toResponse(m monthly.MonthlyHours) monthResponse {
	absent := make([]string, 0, len(m.AbsentDates))
	for _, d := range m.AbsentDates {
		absent = append(absent, shared.FormatDate(d))
	}
	details := make([]dayDetail, 0, len(m.Details))
	for _, d := range m.Details {
		details = append(details, dayDetail{
			Date:              shared.FormatDate(d.Date),
			Status:            d.Status,
			RequiredHours:     d.RequiredHours,
			ActualHours:       d.ActualHours,
			CompensationHours: d.CompensationHours,
			PermissionHours:   d.PermissionHours,
			LateMinutes:       d.LateMinutes,
			EarlyLeaveMinutes: d.EarlyLeaveMinutes,
		})
	}
	out := monthResponse{
		EmployeeID:        m.EmployeeID,
		Month:             m.Month,
		State:             m.State,
		Counters:          m.Counters,
		RequiredHours:     m.RequiredHours,
		ActualHours:       m.ActualHours,
		CompensationHours: m.CompensationHours,
		PermissionHours:   m.PermissionHours,
		NetHours:          m.NetHours,
		DeficitHours:      m.DeficitHours,
		DeficitDays:       m.DeficitDays,
		AbsentDates:       absent,
		Details:           details,
		FinalizedAt:       m.FinalizedAt,
		FinalizedBy:       m.FinalizedBy,
		ReopenCount:       m.ReopenCount,
		ComputedAt:        m.ComputedAt,
		Version:           m.Version,
	}
	if !m.CoveredThrough.IsZero() {
		out.CoveredThrough = shared.FormatDate(m.CoveredThrough)
	}
	return out
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	employeeID, month, ok := h.params(w, r)
	if !ok {
		return
	}
	mh, err := h.service.Get(r.Context(), employeeID, month)
	if err != nil {
		h.fail(w, "get month", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(mh))
}

func (h *Handler) aggregate(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.CurrentActor(r)
	if !ok || !actor.HasAny(shared.RoleSupervisor, shared.RoleHRManager, shared.RoleAdmin) {
		httpx.RespondError(w, shared.ErrForbidden)
		return
	}
	employeeID, month, ok := h.params(w, r)
	if !ok {
		return
	}
	mh, err := h.service.Aggregate(r.Context(), employeeID, month)
	if err != nil {
		h.fail(w, "aggregate month", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(mh))
}

func (h *Handler) finalize(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.CurrentActor(r)
	if !ok {
		httpx.RespondError(w, shared.ErrForbidden)
		return
	}
	employeeID, month, ok := h.params(w, r)
	if !ok {
		return
	}
	mh, err := h.service.Finalize(r.Context(), employeeID, month, actor)
	if err != nil {
		h.fail(w, "finalize month", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(mh))
}

type reopenRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

func (h *Handler) reopen(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.CurrentActor(r)
	if !ok {
		httpx.RespondError(w, shared.ErrForbidden)
		return
	}
	employeeID, month, ok := h.params(w, r)
	if !ok {
		return
	}
	var req reopenRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	mh, err := h.service.Reopen(r.Context(), employeeID, month, actor, req.Reason)
	if err != nil {
		h.fail(w, "reopen month", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(mh))
}

func (h *Handler) params(w http.ResponseWriter, r *http.Request) (string, string, bool) {
	month := chi.URLParam(r, "month")
	if _, _, err := shared.MonthRange(month); err != nil {
		httpx.RespondError(w, err)
		return "", "", false
	}
	return chi.URLParam(r, "employeeID"), month, true
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	h.logger.Warn(op, slog.Any("error", err))
	httpx.RespondError(w, err)
}
