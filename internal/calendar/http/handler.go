package calendarhttp

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/attendance/internal/attendance"
	"github.com/odyssey-erp/attendance/internal/calendar"
	"github.com/odyssey-erp/attendance/internal/platform/httpx"
	"github.com/odyssey-erp/attendance/internal/shared"
)

// maxFeedBytes bounds an uploaded iCalendar feed.
const maxFeedBytes = 2 << 20

// Service is the calendar behaviour exposed over HTTP.
type Service interface {
	List(ctx context.Context, from, to time.Time) ([]calendar.Holiday, error)
	Add(ctx context.Context, holidays ...calendar.Holiday) error
	ImportICS(ctx context.Context, r io.Reader, kind attendance.HolidayKind, location string) (calendar.ImportResult, error)
}

// Handler wires holiday endpoints.
type Handler struct {
	logger  *slog.Logger
	service Service
}

// NewHandler constructs handler.
func NewHandler(logger *slog.Logger, service Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger.With(slog.String("component", "calendar.http")), service: service}
}

// MountRoutes registers routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/calendar/holidays", func(r chi.Router) {
		r.Get("/", h.list)
		r.Post("/", h.add)
		r.Post("/import", h.importICS)
	})
}

type holidayRequest struct {
	ID       string `json:"id" validate:"required,max=128"`
	Date     string `json:"date" validate:"required,datetime=2006-01-02"`
	Name     string `json:"name" validate:"required,max=200"`
	Kind     string `json:"kind" validate:"required,oneof=OFFICIAL MANUAL"`
	Location string `json:"location" validate:"max=64"`
}

type addRequest struct {
	Holidays []holidayRequest `json:"holidays" validate:"required,min=1,max=366,dive"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
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
	holidays, err := h.service.List(r.Context(), from, to)
	if err != nil {
		h.fail(w, "list holidays", err)
		return
	}
	if holidays == nil {
		holidays = []calendar.Holiday{}
	}
	httpx.JSON(w, http.StatusOK, holidays)
}

func (h *Handler) add(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		httpx.RespondError(w, shared.ErrForbidden)
		return
	}
	var req addRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	entries := make([]calendar.Holiday, 0, len(req.Holidays))
	for _, in := range req.Holidays {
		date, err := shared.ParseDate(in.Date)
		if err != nil {
			httpx.RespondError(w, err)
			return
		}
		entries = append(entries, calendar.Holiday{
			ID:       in.ID,
			Date:     date,
			Name:     in.Name,
			Kind:     attendance.HolidayKind(in.Kind),
			Location: in.Location,
		})
	}
	if err := h.service.Add(r.Context(), entries...); err != nil {
		h.fail(w, "add holidays", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, entries)
}

// importICS accepts a raw text/calendar body. kind defaults to OFFICIAL.
func (h *Handler) importICS(w http.ResponseWriter, r *http.Request) {
	if !h.authorized(r) {
		httpx.RespondError(w, shared.ErrForbidden)
		return
	}
	kind := attendance.HolidayKind(strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("kind"))))
	if kind == "" {
		kind = attendance.HolidayOfficial
	}
	if kind != attendance.HolidayOfficial && kind != attendance.HolidayManual {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "kind must be OFFICIAL or MANUAL")
		return
	}
	body := http.MaxBytesReader(w, r.Body, maxFeedBytes)
	defer body.Close()
	result, err := h.service.ImportICS(r.Context(), body, kind, strings.TrimSpace(r.URL.Query().Get("location")))
	if err != nil {
		h.fail(w, "import holidays", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) authorized(r *http.Request) bool {
	actor, ok := httpx.CurrentActor(r)
	return ok && actor.HasAny(shared.RoleHRManager, shared.RoleAdmin)
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	h.logger.Warn(op, slog.Any("error", err))
	httpx.RespondError(w, err)
}
