package http

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/example/attendance-coordinator/internal/application"
)

type scheduleService interface {
	AssignSchedules(ctx context.Context, params application.AssignSchedulesParams) (int, error)
	AssignPattern(ctx context.Context, params application.AssignPatternParams) (int, error)
	DeleteSchedule(ctx context.Context, principal application.Principal, scheduleID string) error
	ListSchedulesForRoom(ctx context.Context, params application.ListSchedulesParams) ([]application.ScheduleWithUser, error)
	ListUpcomingForUser(ctx context.Context, principal application.Principal, withinDays int) ([]application.ScheduleWithRoom, error)
}

type ScheduleHandler struct {
	service   scheduleService
	responder responder
	logger    *slog.Logger
}

func NewScheduleHandler(service scheduleService, logger *slog.Logger) *ScheduleHandler {
	base := defaultLogger(logger)
	return &ScheduleHandler{service: service, responder: newResponder(base), logger: base}
}

func (h *ScheduleHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	if h == nil {
		return slog.Default()
	}
	return handlerLogger(ctx, h.logger, "ScheduleHandler", operation, attrs...)
}

// ListForRoom handles GET /rooms/{roomID}/schedules?from=&to=.
func (h *ScheduleHandler) ListForRoom(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	query := r.URL.Query()
	from, err := parseDateQuery(query.Get("from"))
	if err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidDate)
		return
	}
	to, err := parseDateQuery(query.Get("to"))
	if err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidDate)
		return
	}

	schedules, err := h.service.ListSchedulesForRoom(r.Context(), application.ListSchedulesParams{
		Principal: principal,
		RoomID:    chi.URLParam(r, "roomID"),
		From:      from,
		To:        to,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, schedulesResponse{Schedules: toScheduleWithUserDTOs(schedules)})
}

// Assign handles POST /rooms/{roomID}/schedules.
func (h *ScheduleHandler) Assign(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	roomID := chi.URLParam(r, "roomID")
	logger := h.log(r.Context(), "Assign", "principal_id", principal.UserID, "room_id", roomID)

	var req assignRequest
	if err := decodeJSON(r, &req); err != nil {
		logger.With("error_kind", "bad_request").WarnContext(r.Context(), "failed to decode assign request", "error", err)
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}
	dates, err := parseDates(req.Dates)
	if err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidDate)
		return
	}

	created, err := h.service.AssignSchedules(r.Context(), application.AssignSchedulesParams{
		Principal: principal,
		RoomID:    roomID,
		UserIDs:   req.UserIDs,
		Dates:     dates,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.InfoContext(r.Context(), "office days assigned", "created", created)
	h.responder.writeJSON(r.Context(), w, http.StatusOK, assignResponse{Created: created})
}

// AssignPattern handles POST /rooms/{roomID}/schedules/pattern.
func (h *ScheduleHandler) AssignPattern(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	roomID := chi.URLParam(r, "roomID")
	logger := h.log(r.Context(), "AssignPattern", "principal_id", principal.UserID, "room_id", roomID)

	var req patternRequest
	if err := decodeJSON(r, &req); err != nil {
		logger.With("error_kind", "bad_request").WarnContext(r.Context(), "failed to decode pattern request", "error", err)
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}
	from, err := application.ParseDate(req.From)
	if err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidDate)
		return
	}
	to, err := application.ParseDate(req.To)
	if err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidDate)
		return
	}
	weekdays, err := parseWeekdays(req.Weekdays)
	if err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}

	created, err := h.service.AssignPattern(r.Context(), application.AssignPatternParams{
		Principal: principal,
		RoomID:    roomID,
		UserIDs:   req.UserIDs,
		Weekdays:  weekdays,
		From:      from,
		To:        to,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.InfoContext(r.Context(), "office day pattern assigned", "created", created)
	h.responder.writeJSON(r.Context(), w, http.StatusOK, assignResponse{Created: created})
}

func (h *ScheduleHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	scheduleID := chi.URLParam(r, "scheduleID")

	if err := h.service.DeleteSchedule(r.Context(), principal, scheduleID); err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.log(r.Context(), "Delete", "principal_id", principal.UserID, "schedule_id", scheduleID).InfoContext(r.Context(), "office day removed")
	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}

// Upcoming handles GET /schedules/upcoming?days=N.
func (h *ScheduleHandler) Upcoming(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	days, err := parseIntQuery(r.URL.Query().Get("days"))
	if err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidQuery)
		return
	}

	schedules, err := h.service.ListUpcomingForUser(r.Context(), principal, days)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, schedulesResponse{Schedules: toScheduleWithRoomDTOs(schedules)})
}

func parseDateQuery(value string) (*time.Time, error) {
	return parseDatePtr(&value)
}

func parseIntQuery(value string) (int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	return strconv.Atoi(value)
}

var weekdayNames = map[string]time.Weekday{
	"sun": time.Sunday, "sunday": time.Sunday,
	"mon": time.Monday, "monday": time.Monday,
	"tue": time.Tuesday, "tuesday": time.Tuesday,
	"wed": time.Wednesday, "wednesday": time.Wednesday,
	"thu": time.Thursday, "thursday": time.Thursday,
	"fri": time.Friday, "friday": time.Friday,
	"sat": time.Saturday, "saturday": time.Saturday,
}

func parseWeekdays(names []string) ([]time.Weekday, error) {
	out := make([]time.Weekday, 0, len(names))
	for _, name := range names {
		day, ok := weekdayNames[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return nil, errInvalidWeekday
		}
		out = append(out, day)
	}
	return out, nil
}

type assignRequest struct {
	UserIDs []string `json:"user_ids"`
	Dates   []string `json:"dates"`
}

type patternRequest struct {
	UserIDs  []string `json:"user_ids"`
	Weekdays []string `json:"weekdays"`
	From     string   `json:"from"`
	To       string   `json:"to"`
}

type assignResponse struct {
	Created int `json:"created"`
}

type schedulesResponse struct {
	Schedules []scheduleDTO `json:"schedules"`
}
