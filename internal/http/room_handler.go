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

type membershipService interface {
	CreateRoom(ctx context.Context, principal application.Principal, name string) (application.Room, error)
	JoinRoomByCode(ctx context.Context, principal application.Principal, code string) (application.RoomMember, error)
	ApproveMembership(ctx context.Context, principal application.Principal, memberID string) (application.RoomMember, error)
	RejectMembership(ctx context.Context, principal application.Principal, memberID string) error
	ListMembersForRoom(ctx context.Context, principal application.Principal, roomID string, status persistence.MemberStatus) ([]application.MemberWithUser, error)
	ListRoomsForUser(ctx context.Context, principal application.Principal) ([]application.RoomWithMembership, error)
	ListPendingJoinRequests(ctx context.Context, principal application.Principal) ([]application.MemberWithUser, error)
}

// RoomHandler serves rooms and memberships.
type RoomHandler struct {
	service   membershipService
	responder responder
	logger    *slog.Logger
}

func NewRoomHandler(service membershipService, logger *slog.Logger) *RoomHandler {
	base := defaultLogger(logger)
	return &RoomHandler{service: service, responder: newResponder(base), logger: base}
}

func (h *RoomHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	if h == nil {
		return slog.Default()
	}
	return handlerLogger(ctx, h.logger, "RoomHandler", operation, attrs...)
}

func (h *RoomHandler) List(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	rooms, err := h.service.ListRoomsForUser(r.Context(), principal)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, roomsResponse{Rooms: toRoomMembershipDTOs(rooms)})
}

func (h *RoomHandler) Create(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())

	var req createRoomRequest
	if err := decodeJSON(r, &req); err != nil {
		h.log(r.Context(), "Create", "principal_id", principal.UserID, "error_kind", "bad_request").WarnContext(r.Context(), "failed to decode room request", "error", err)
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	room, err := h.service.CreateRoom(r.Context(), principal, req.Name)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.log(r.Context(), "Create", "principal_id", principal.UserID).With("room_id", room.ID).InfoContext(r.Context(), "room created")
	h.responder.writeJSON(r.Context(), w, http.StatusCreated, roomResponse{Room: toRoomDTO(room, true)})
}

func (h *RoomHandler) Join(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())

	var req joinRoomRequest
	if err := decodeJSON(r, &req); err != nil {
		h.log(r.Context(), "Join", "principal_id", principal.UserID, "error_kind", "bad_request").WarnContext(r.Context(), "failed to decode join request", "error", err)
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	member, err := h.service.JoinRoomByCode(r.Context(), principal, req.InviteCode)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.log(r.Context(), "Join", "principal_id", principal.UserID).With("room_id", member.RoomID, "member_id", member.ID).InfoContext(r.Context(), "join requested")
	h.responder.writeJSON(r.Context(), w, http.StatusCreated, memberResponse{Member: toMemberDTO(member)})
}

// Members handles GET /rooms/{roomID}/members?status=pending|active.
func (h *RoomHandler) Members(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	status, err := parseMemberStatus(r.URL.Query().Get("status"))
	if err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, err)
		return
	}

	members, err := h.service.ListMembersForRoom(r.Context(), principal, chi.URLParam(r, "roomID"), status)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, membersResponse{Members: toMemberDTOs(members)})
}

// PendingJoins handles GET /memberships/pending across the rooms the caller administers.
func (h *RoomHandler) PendingJoins(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	members, err := h.service.ListPendingJoinRequests(r.Context(), principal)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.responder.writeJSON(r.Context(), w, http.StatusOK, membersResponse{Members: toMemberDTOs(members)})
}

func (h *RoomHandler) Approve(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	memberID := chi.URLParam(r, "memberID")

	member, err := h.service.ApproveMembership(r.Context(), principal, memberID)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.log(r.Context(), "Approve", "principal_id", principal.UserID, "member_id", memberID).InfoContext(r.Context(), "membership approved")
	h.responder.writeJSON(r.Context(), w, http.StatusOK, memberResponse{Member: toMemberDTO(member)})
}

func (h *RoomHandler) Reject(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	memberID := chi.URLParam(r, "memberID")

	if err := h.service.RejectMembership(r.Context(), principal, memberID); err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.log(r.Context(), "Reject", "principal_id", principal.UserID, "member_id", memberID).InfoContext(r.Context(), "membership rejected")
	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}

func parseMemberStatus(value string) (persistence.MemberStatus, error) {
	switch persistence.MemberStatus(strings.ToLower(strings.TrimSpace(value))) {
	case "":
		return "", nil
	case persistence.MemberPending:
		return persistence.MemberPending, nil
	case persistence.MemberActive:
		return persistence.MemberActive, nil
	default:
		return "", errUnknownStatusName
	}
}

type createRoomRequest struct {
	Name string `json:"name"`
}

type joinRoomRequest struct {
	InviteCode string `json:"invite_code"`
}

type roomResponse struct {
	Room roomDTO `json:"room"`
}

type roomsResponse struct {
	Rooms []roomMembershipDTO `json:"rooms"`
}

type memberResponse struct {
	Member memberDTO `json:"member"`
}

type membersResponse struct {
	Members []memberDTO `json:"members"`
}
