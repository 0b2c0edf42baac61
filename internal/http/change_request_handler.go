package http

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/example/attendance-coordinator/internal/application"
	"github.com/example/attendance-coordinator/internal/persistence"
)

type changeRequestService interface {
	RequestChange(ctx context.Context, params application.RequestChangeParams) (application.ChangeRequest, error)
	ApproveChangeRequest(ctx context.Context, principal application.Principal, requestID string) (application.ChangeRequest, error)
	RejectChangeRequest(ctx context.Context, principal application.Principal, requestID string) (application.ChangeRequest, error)
	ListPendingForAdmin(ctx context.Context, principal application.Principal) ([]application.ChangeRequestDetail, error)
	ListRequestsForUser(ctx context.Context, principal application.Principal, status persistence.RequestStatus) ([]application.ChangeRequestDetail, error)
}

type ChangeRequestHandler struct {
	service   changeRequestService
	responder responder
	logger    *slog.Logger
}

func NewChangeRequestHandler(service changeRequestService, logger *slog.Logger) *ChangeRequestHandler {
	base := defaultLogger(logger)
	return &ChangeRequestHandler{service: service, responder: newResponder(base), logger: base}
}

func (h *ChangeRequestHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	if h == nil {
		return slog.Default()
	}
	return handlerLogger(ctx, h.logger, "ChangeRequestHandler", operation, attrs...)
}

// Create handles POST /rooms/{roomID}/change-requests. A missing original date
// proposes an extra office day; a missing new date proposes dropping one.
func (h *ChangeRequestHandler) Create(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	roomID := chi.URLParam(r, "roomID")
	logger := h.log(r.Context(), "Create", "principal_id", principal.UserID, "room_id", roomID)

	var req changeRequestRequest
	if err := decodeJSON(r, &req); err != nil {
		logger.With("error_kind", "bad_request").WarnContext(r.Context(), "failed to decode change request", "error", err)
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}
	original, err := parseDatePtr(req.OriginalDate)
	if err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidDate)
		return
	}
	proposed, err := parseDatePtr(req.NewDate)
	if err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidDate)
		return
	}

	request, err := h.service.RequestChange(r.Context(), application.RequestChangeParams{
		Principal:    principal,
		RoomID:       roomID,
		OriginalDate: original,
		NewDate:      proposed,
		Reason:       req.Reason,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.With("request_id", request.ID).InfoContext(r.Context(), "change requested")
	h.responder.writeJSON(r.Context(), w, http.StatusCreated, changeRequestResponse{Request: toChangeRequestDTO(request)})
}

func (h *ChangeRequestHandler) Pending(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	requests, err := h.service.ListPendingForAdmin(r.Context(), principal)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, changeRequestsResponse{Requests: toChangeRequestDetailDTOs(requests)})
}

// Mine handles GET /change-requests/mine?status=.
func (h *ChangeRequestHandler) Mine(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	status, err := parseRequestStatus(r.URL.Query().Get("status"))
	if err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}

	requests, err := h.service.ListRequestsForUser(r.Context(), principal, status)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, changeRequestsResponse{Requests: toChangeRequestDetailDTOs(requests)})
}

func (h *ChangeRequestHandler) Approve(w http.ResponseWriter, r *http.Request) {
	h.resolve(w, r, "Approve", func(ctx context.Context, principal application.Principal, id string) (application.ChangeRequest, error) {
		return h.service.ApproveChangeRequest(ctx, principal, id)
	})
}

func (h *ChangeRequestHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.resolve(w, r, "Reject", func(ctx context.Context, principal application.Principal, id string) (application.ChangeRequest, error) {
		return h.service.RejectChangeRequest(ctx, principal, id)
	})
}

type resolveFunc func(ctx context.Context, principal application.Principal, requestID string) (application.ChangeRequest, error)

func (h *ChangeRequestHandler) resolve(w http.ResponseWriter, r *http.Request, operation string, fn resolveFunc) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	requestID := chi.URLParam(r, "requestID")

	request, err := fn(r.Context(), principal, requestID)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.log(r.Context(), operation, "principal_id", principal.UserID, "request_id", requestID).
		InfoContext(r.Context(), "change request resolved", "status", string(request.Status))
	h.responder.writeJSON(r.Context(), w, http.StatusOK, changeRequestResponse{Request: toChangeRequestDTO(request)})
}

func parseRequestStatus(value string) (persistence.RequestStatus, error) {
	switch status := persistence.RequestStatus(strings.ToLower(strings.TrimSpace(value))); status {
	case "":
		return "", nil
	case persistence.RequestPending, persistence.RequestApproved, persistence.RequestRejected:
		return status, nil
	default:
		return "", errUnknownStatusName
	}
}

type changeRequestRequest struct {
	OriginalDate *string `json:"original_date"`
	NewDate      *string `json:"new_date"`
	Reason       string  `json:"reason"`
}

type changeRequestResponse struct {
	Request changeRequestDTO `json:"request"`
}

type changeRequestsResponse struct {
	Requests []changeRequestDTO `json:"requests"`
}
