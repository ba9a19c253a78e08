package attendancehttp

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/attendance/internal/attendance"
	"github.com/odyssey-erp/attendance/internal/platform/httpx"
	"github.com/odyssey-erp/attendance/internal/shared"
)

// Service is the attendance behaviour exposed over HTTP.
type Service interface {
	Get(ctx context.Context, employeeID string, date time.Time) (attendance.DailyStatus, error)
	ListRange(ctx context.Context, employeeID string, from, to time.Time) ([]attendance.DailyStatus, error)
	Resolve(ctx context.Context, in attendance.ResolveInput) (attendance.DailyStatus, error)
	Override(ctx context.Context, in attendance.OverrideInput) (attendance.DailyStatus, error)
}

// Handler wires day endpoints.
type Handler struct {
	logger  *slog.Logger
	service Service
}

// NewHandler constructs handler.
func NewHandler(logger *slog.Logger, service Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger.With(slog.String("component", "attendance.http")), service: service}
}

// MountRoutes registers routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/attendance/days/{employeeID}", func(r chi.Router) {
		r.Get("/", h.listDays)
		r.Get("/{date}", h.getDay)
		r.Post("/{date}/recompute", h.recompute)
		r.Post("/{date}/override", h.override)
	})
}

type dayResponse struct {
	EmployeeID        string                  `json:"employee_id"`
	Date              string                  `json:"date"`
	Status            attendance.Status       `json:"status"`
	ReasonCode        attendance.ReasonCode   `json:"reason_code"`
	Reason            string                  `json:"reason"`
	Source            attendance.Source       `json:"source"`
	CheckIn           *time.Time              `json:"check_in,omitempty"`
	CheckOut          *time.Time              `json:"check_out,omitempty"`
	RequiredHours     decimal.Decimal         `json:"required_hours"`
	ActualHours       decimal.Decimal         `json:"actual_hours"`
	CompensationHours decimal.Decimal         `json:"compensation_hours"`
	PermissionHours   decimal.Decimal         `json:"permission_hours"`
	LateMinutes       int                     `json:"late_minutes"`
	EarlyLeaveMinutes int                     `json:"early_leave_minutes"`
	LeaveID           string                  `json:"leave_id,omitempty"`
	MissionID         string                  `json:"mission_id,omitempty"`
	PermissionID      string                  `json:"permission_id,omitempty"`
	HolidayID         string                  `json:"holiday_id,omitempty"`
	PunchIDs          []string                `json:"punch_ids"`
	LockStatus        attendance.LockStatus   `json:"lock_status"`
	LockDeadline      time.Time               `json:"lock_deadline"`
	Trace             attendance.Trace        `json:"trace"`
	TraceText         string                  `json:"trace_text"`
	Corrections       []attendance.Correction `json:"corrections"`
	UpdatedAt         time.Time               `json:"updated_at"`
	Version           int                     `json:"version"`
}

func toResponse(d attendance.DailyStatus) dayResponse {
	punches := d.PunchIDs
	if punches == nil {
		punches = []string{}
	}
	corrections := d.Corrections
	if corrections == nil {
		corrections = []attendance.Correction{}
	}
	return dayResponse{
		EmployeeID:        d.EmployeeID,
		Date:              shared.FormatDate(d.Date),
		Status:            d.Status,
		ReasonCode:        d.ReasonCode,
		Reason:            d.Reason,
		Source:            d.Source,
		CheckIn:           d.CheckIn,
		CheckOut:          d.CheckOut,
		RequiredHours:     d.RequiredHours,
		ActualHours:       d.ActualHours,
		CompensationHours: d.CompensationHours,
		PermissionHours:   d.PermissionHours,
		LateMinutes:       d.LateMinutes,
		EarlyLeaveMinutes: d.EarlyLeaveMinutes,
		LeaveID:           d.LeaveID,
		MissionID:         d.MissionID,
		PermissionID:      d.PermissionID,
		HolidayID:         d.HolidayID,
		PunchIDs:          punches,
		LockStatus:        d.LockStatus,
		LockDeadline:      d.LockDeadline,
		Trace:             d.Trace,
		TraceText:         d.Trace.String(),
		Corrections:       corrections,
		UpdatedAt:         d.UpdatedAt,
		Version:           d.Version,
	}
}

func (h *Handler) listDays(w http.ResponseWriter, r *http.Request) {
	from, err := shared.ParseDate(r.URL.Query().Get("from"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	to, err := shared.ParseDate(r.URL.Query().Get("to"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if to.Before(from) || to.Sub(from) > 92*24*time.Hour {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "range must be ordered and at most 93 days")
		return
	}
	days, err := h.service.ListRange(r.Context(), chi.URLParam(r, "employeeID"), from, to)
	if err != nil {
		h.fail(w, "list days", err)
		return
	}
	out := make([]dayResponse, 0, len(days))
	for _, d := range days {
		out = append(out, toResponse(d))
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) getDay(w http.ResponseWriter, r *http.Request) {
	date, err := shared.ParseDate(chi.URLParam(r, "date"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	day, err := h.service.Get(r.Context(), chi.URLParam(r, "employeeID"), date)
	if err != nil {
		h.fail(w, "get day", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(day))
}

type recomputeRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

func (h *Handler) recompute(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.CurrentActor(r)
	if !ok {
		httpx.RespondError(w, shared.ErrForbidden)
		return
	}
	date, err := shared.ParseDate(chi.URLParam(r, "date"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req recomputeRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if req.Reason == "" {
		req.Reason = "manual recompute"
	}
	day, err := h.service.Resolve(r.Context(), attendance.ResolveInput{
		EmployeeID: chi.URLParam(r, "employeeID"),
		Date:       date,
		Actor:      actor,
		Reason:     req.Reason,
	})
	if err != nil {
		h.fail(w, "recompute day", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(day))
}

type overrideRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
	Status string `json:"status" validate:"max=32"`
}

func (h *Handler) override(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.CurrentActor(r)
	if !ok {
		httpx.RespondError(w, shared.ErrForbidden)
		return
	}
	date, err := shared.ParseDate(chi.URLParam(r, "date"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req overrideRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	in := attendance.OverrideInput{
		EmployeeID: chi.URLParam(r, "employeeID"),
		Date:       date,
		Actor:      actor,
		Reason:     req.Reason,
	}
	if req.Status != "" {
		status, ok := attendance.ParseStatus(req.Status)
		if !ok {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "unknown status "+req.Status)
			return
		}
		in.ForceStatus = &status
	}
	day, err := h.service.Override(r.Context(), in)
	if err != nil {
		h.fail(w, "override day", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(day))
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	h.logger.Warn(op, slog.Any("error", err))
	httpx.RespondError(w, err)
}
