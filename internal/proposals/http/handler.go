package proposalshttp

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/attendance/internal/platform/httpx"
	"github.com/odyssey-erp/attendance/internal/proposals"
	"github.com/odyssey-erp/attendance/internal/shared"
)

// Service is the proposal behaviour exposed over HTTP.
type Service interface {
	Get(ctx context.Context, id uuid.UUID) (proposals.Proposal, error)
	List(ctx context.Context, employeeID string) ([]proposals.Proposal, error)
	Evaluate(ctx context.Context, employeeID, month string) ([]proposals.Proposal, error)
	Approve(ctx context.Context, id uuid.UUID, actor shared.Actor, note string) (proposals.Proposal, error)
	Reject(ctx context.Context, id uuid.UUID, actor shared.Actor, note string) (proposals.Proposal, error)
	Execute(ctx context.Context, id uuid.UUID, actor shared.Actor, note string) (proposals.Proposal, error)
}

// Handler wires proposal endpoints.
type Handler struct {
	logger  *slog.Logger
	service Service
}

// NewHandler constructs handler.
func NewHandler(logger *slog.Logger, service Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger.With(slog.String("component", "proposals.http")), service: service}
}

// MountRoutes registers routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/proposals", func(r chi.Router) {
		r.Get("/employee/{employeeID}", h.list)
		r.Post("/evaluate/{employeeID}/{month}", h.evaluate)
		r.Get("/{id}", h.get)
		r.Post("/{id}/approve", h.transition(h.service.Approve))
		r.Post("/{id}/reject", h.transition(h.service.Reject))
		r.Post("/{id}/execute", h.transition(h.service.Execute))
	})
}

type proposalResponse struct {
	ID              uuid.UUID              `json:"id"`
	EmployeeID      string                 `json:"employee_id"`
	Month           string                 `json:"month"`
	Kind            proposals.Kind         `json:"kind"`
	Category        proposals.Category     `json:"category"`
	Status          proposals.Status       `json:"status"`
	DeficitHours    decimal.Decimal        `json:"deficit_hours"`
	DeficitDays     decimal.Decimal        `json:"deficit_days"`
	Multiplier      decimal.Decimal        `json:"multiplier"`
	DeductionDays   decimal.Decimal        `json:"deduction_days"`
	Occurrences     int                    `json:"occurrences"`
	Level           proposals.Level        `json:"level,omitempty"`
	PriorViolations int                    `json:"prior_violations"`
	EvidenceDates   []string               `json:"evidence_dates"`
	History         []proposals.Transition `json:"history"`
	CreatedAt       time.Time              `json:"created_at"`
	UpdatedAt       time.Time              `json:"updated_at"`
}

func toResponse(p proposals.Proposal) proposalResponse {
	dates := make([]string, 0, len(p.EvidenceDates))
	for _, d := range p.EvidenceDates {
		dates = append(dates, shared.FormatDate(d))
	}
	history := p.History
	if history == nil {
		history = []proposals.Transition{}
	}
	return proposalResponse{
		ID:              p.ID,
		EmployeeID:      p.EmployeeID,
		Month:           p.Month,
		Kind:            p.Kind,
		Category:        p.Category,
		Status:          p.Status,
		DeficitHours:    p.DeficitHours,
		DeficitDays:     p.DeficitDays,
		Multiplier:      p.Multiplier,
		DeductionDays:   p.DeductionDays,
		Occurrences:     p.Occurrences,
		Level:           p.Level,
		PriorViolations: p.PriorViolations,
		EvidenceDates:   dates,
		History:         history,
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
	}
}

func toResponses(ps []proposals.Proposal) []proposalResponse {
	out := make([]proposalResponse, 0, len(ps))
	for _, p := range ps {
		out = append(out, toResponse(p))
	}
	return out
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.id(w, r)
	if !ok {
		return
	}
	p, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, "get proposal", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponse(p))
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	ps, err := h.service.List(r.Context(), chi.URLParam(r, "employeeID"))
	if err != nil {
		h.fail(w, "list proposals", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponses(ps))
}

func (h *Handler) evaluate(w http.ResponseWriter, r *http.Request) {
	actor, ok := httpx.CurrentActor(r)
	if !ok || !actor.HasAny(shared.RoleHRManager, shared.RoleAdmin) {
		httpx.RespondError(w, shared.ErrForbidden)
		return
	}
	month := chi.URLParam(r, "month")
	if _, _, err := shared.MonthRange(month); err != nil {
		httpx.RespondError(w, err)
		return
	}
	ps, err := h.service.Evaluate(r.Context(), chi.URLParam(r, "employeeID"), month)
	if err != nil {
		h.fail(w, "evaluate proposals", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toResponses(ps))
}

type transitionRequest struct {
	Note string `json:"note" validate:"max=500"`
}

type transitionFunc func(ctx context.Context, id uuid.UUID, actor shared.Actor, note string) (proposals.Proposal, error)

func (h *Handler) transition(fn transitionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, ok := httpx.CurrentActor(r)
		if !ok {
			httpx.RespondError(w, shared.ErrForbidden)
			return
		}
		id, ok := h.id(w, r)
		if !ok {
			return
		}
		var req transitionRequest
		if err := httpx.DecodeAndValidate(r, &req); err != nil {
			httpx.RespondError(w, err)
			return
		}
		p, err := fn(r.Context(), id, actor, req.Note)
		if err != nil {
			h.fail(w, "transition proposal", err)
			return
		}
		httpx.JSON(w, http.StatusOK, toResponse(p))
	}
}

func (h *Handler) id(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid proposal id")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	h.logger.Warn(op, slog.Any("error", err))
	httpx.RespondError(w, err)
}
