package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/example/attendance-coordinator/internal/persistence"
	"github.com/example/attendance-coordinator/internal/realtime"
)

const (
	maxRoomNameLength  = 100
	inviteCodeAttempts = 5
)

// MembershipStore captures the persistence operations needed by MembershipService.
type MembershipStore interface {
	CreateRoomWithOwner(ctx context.Context, room Room, owner RoomMember) error
	GetRoom(ctx context.Context, id string) (Room, error)
	GetRoomByInviteCode(ctx context.Context, code string) (Room, error)
	GetRooms(ctx context.Context, ids []string) (map[string]Room, error)

	CreateMembership(ctx context.Context, member RoomMember) error
	GetMembership(ctx context.Context, id string) (RoomMember, error)
	FindMembership(ctx context.Context, roomID, userID string) (RoomMember, error)
	ActivateMembership(ctx context.Context, id string) (RoomMember, error)
	DeletePendingMembership(ctx context.Context, id string) error
	ListMemberships(ctx context.Context, filter persistence.MembershipFilter) ([]RoomMember, error)

	GetUsers(ctx context.Context, ids []string) (map[string]User, error)
}

// MembershipService manages rooms and the join workflow.
type MembershipService struct {
	store       MembershipStore
	notifier    Notifier
	publisher   realtime.Publisher
	idGenerator func() string
	inviteCodes func() (string, error)
	now         func() time.Time
	logger      *slog.Logger
}

// NewMembershipService constructs a membership service with the provided dependencies.
func NewMembershipService(store MembershipStore, notifier Notifier, publisher realtime.Publisher, idGenerator func() string, now func() time.Time) *MembershipService {
	return NewMembershipServiceWithLogger(store, notifier, publisher, idGenerator, now, nil)
}

// NewMembershipServiceWithLogger constructs a membership service with a specified logger.
func NewMembershipServiceWithLogger(store MembershipStore, notifier Notifier, publisher realtime.Publisher, idGenerator func() string, now func() time.Time, logger *slog.Logger) *MembershipService {
	if idGenerator == nil {
		idGenerator = func() string { return "" }
	}
	if now == nil {
		now = time.Now
	}
	return &MembershipService{
		store:       store,
		notifier:    notifier,
		publisher:   publisher,
		idGenerator: idGenerator,
		inviteCodes: NewInviteCode,
		now:         now,
		logger:      defaultLogger(logger),
	}
}

func (s *MembershipService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "MembershipService", operation, attrs...)
}

// CreateRoom creates a room with a fresh invite code and makes the caller its active admin.
func (s *MembershipService) CreateRoom(ctx context.Context, principal Principal, name string) (room Room, err error) {
	if s == nil {
		err = fmt.Errorf("MembershipService is nil")
		return
	}
	if s.store == nil {
		err = fmt.Errorf("membership store not configured")
		return
	}

	logger := s.loggerWith(ctx, "CreateRoom", "principal_id", principal.UserID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to create room", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("room_id", room.ID, "invite_code", room.InviteCode).InfoContext(ctx, "room created")
	}()

	if principal.UserID == "" {
		err = ErrUnauthorized
		return
	}

	name = cleanText(name)
	if vErr := validateRoomName(name); vErr.HasErrors() {
		err = vErr
		return
	}

	var owner RoomMember
	for attempt := 0; attempt < inviteCodeAttempts; attempt++ {
		var code string
		code, err = s.inviteCodes()
		if err != nil {
			err = &TransportError{Op: "generate invite code", Err: err}
			return
		}

		now := s.now()
		room = Room{
			ID:         s.idGenerator(),
			Name:       name,
			CreatedBy:  principal.UserID,
			InviteCode: code,
			CreatedAt:  now,
		}
		owner = RoomMember{
			ID:        s.idGenerator(),
			RoomID:    room.ID,
			UserID:    principal.UserID,
			Role:      persistence.RoleAdmin,
			Status:    persistence.MemberActive,
			CreatedAt: now,
		}

		err = s.store.CreateRoomWithOwner(ctx, room, owner)
		if err == nil {
			break
		}
		if !errors.Is(err, persistence.ErrDuplicate) {
			break
		}
		logger.WarnContext(ctx, "invite code collision", "attempt", attempt+1)
	}
	if err != nil {
		err = mapRepoError("create room", err)
		room = Room{}
		return
	}

	publish(ctx, s.publisher, realtime.Change{Collection: realtime.CollectionRooms, Op: realtime.OpCreated, ID: room.ID, RoomID: room.ID, UserID: principal.UserID})
	publish(ctx, s.publisher, memberChange(realtime.OpCreated, owner))
	return
}

// JoinRoomByCode files a pending membership for the room identified by code.
func (s *MembershipService) JoinRoomByCode(ctx context.Context, principal Principal, code string) (member RoomMember, err error) {
	if s == nil {
		err = fmt.Errorf("MembershipService is nil")
		return
	}
	if s.store == nil {
		err = fmt.Errorf("membership store not configured")
		return
	}

	code = strings.ToUpper(strings.TrimSpace(code))
	logger := s.loggerWith(ctx, "JoinRoomByCode", "principal_id", principal.UserID, "invite_code", code)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to join room", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("room_id", member.RoomID, "member_id", member.ID).InfoContext(ctx, "join requested")
	}()

	if principal.UserID == "" {
		err = ErrUnauthorized
		return
	}
	if code == "" {
		err = newValidationError("invite_code", "invite code is required")
		return
	}

	var room Room
	room, err = s.store.GetRoomByInviteCode(ctx, code)
	if err != nil {
		err = mapRepoError("get room by invite code", err)
		return
	}

	_, err = s.store.FindMembership(ctx, room.ID, principal.UserID)
	switch {
	case err == nil:
		err = fmt.Errorf("%w: already a member or pending", ErrConflict)
		return
	case !errors.Is(err, persistence.ErrNotFound):
		err = mapRepoError("find membership", err)
		return
	}

	member = RoomMember{
		ID:        s.idGenerator(),
		RoomID:    room.ID,
		UserID:    principal.UserID,
		Role:      persistence.RoleMember,
		Status:    persistence.MemberPending,
		CreatedAt: s.now(),
	}
	if err = s.store.CreateMembership(ctx, member); err != nil {
		err = mapRepoError("create membership", err)
		member = RoomMember{}
		return
	}

	publish(ctx, s.publisher, memberChange(realtime.OpCreated, member))

	requester := s.displayName(ctx, principal)
	for _, admin := range s.activeAdmins(ctx, logger, room.ID) {
		related := member.ID
		notify(ctx, s.notifier, Notification{
			UserID:    admin.UserID,
			RoomID:    room.ID,
			Type:      persistence.NotificationJoinRequest,
			Message:   fmt.Sprintf("%s asked to join %s", requester, room.Name),
			RelatedID: &related,
		})
	}
	return
}

// ApproveMembership activates a pending membership. Approving an active member is a no-op.
func (s *MembershipService) ApproveMembership(ctx context.Context, principal Principal, memberID string) (member RoomMember, err error) {
	if s == nil {
		err = fmt.Errorf("MembershipService is nil")
		return
	}
	if s.store == nil {
		err = fmt.Errorf("membership store not configured")
		return
	}

	logger := s.loggerWith(ctx, "ApproveMembership", "principal_id", principal.UserID, "member_id", memberID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to approve membership", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("room_id", member.RoomID).InfoContext(ctx, "membership approved")
	}()

	var existing RoomMember
	existing, err = s.store.GetMembership(ctx, memberID)
	if err != nil {
		err = mapRepoError("get membership", err)
		return
	}
	if _, err = requireActiveAdmin(ctx, s.store, existing.RoomID, principal.UserID); err != nil {
		return
	}
	if existing.Status == persistence.MemberActive {
		member = existing
		return
	}

	member, err = s.store.ActivateMembership(ctx, memberID)
	if err != nil {
		err = mapRepoError("activate membership", err)
		return
	}

	publish(ctx, s.publisher, memberChange(realtime.OpUpdated, member))
	related := member.ID
	notify(ctx, s.notifier, Notification{
		UserID:    member.UserID,
		RoomID:    member.RoomID,
		Type:      persistence.NotificationJoinApproved,
		Message:   fmt.Sprintf("Your request to join %s was approved", s.roomName(ctx, member.RoomID)),
		RelatedID: &related,
	})
	return
}

// RejectMembership deletes a pending membership. Rejecting an active member is a conflict.
func (s *MembershipService) RejectMembership(ctx context.Context, principal Principal, memberID string) (err error) {
	if s == nil {
		return fmt.Errorf("MembershipService is nil")
	}
	if s.store == nil {
		return fmt.Errorf("membership store not configured")
	}

	logger := s.loggerWith(ctx, "RejectMembership", "principal_id", principal.UserID, "member_id", memberID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to reject membership", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "membership rejected")
	}()

	existing, err := s.store.GetMembership(ctx, memberID)
	if err != nil {
		return mapRepoError("get membership", err)
	}
	if _, err = requireActiveAdmin(ctx, s.store, existing.RoomID, principal.UserID); err != nil {
		return err
	}
	if existing.Status != persistence.MemberPending {
		return fmt.Errorf("%w: membership is not pending", ErrConflict)
	}

	if err = s.store.DeletePendingMembership(ctx, memberID); err != nil {
		return mapRepoError("delete membership", err)
	}

	publish(ctx, s.publisher, memberChange(realtime.OpDeleted, existing))
	notify(ctx, s.notifier, Notification{
		UserID:  existing.UserID,
		RoomID:  existing.RoomID,
		Type:    persistence.NotificationJoinRejected,
		Message: fmt.Sprintf("Your request to join %s was declined", s.roomName(ctx, existing.RoomID)),
	})
	return nil
}

// ListMembersForRoom lists the room's memberships joined with their users.
// An empty status lists every membership. Entries whose user is missing are skipped.
func (s *MembershipService) ListMembersForRoom(ctx context.Context, principal Principal, roomID string, status persistence.MemberStatus) ([]MemberWithUser, error) {
	if s == nil {
		return nil, fmt.Errorf("MembershipService is nil")
	}
	if s.store == nil {
		return nil, fmt.Errorf("membership store not configured")
	}

	if _, err := requireActiveMember(ctx, s.store, roomID, principal.UserID); err != nil {
		s.loggerWith(ctx, "ListMembersForRoom", "principal_id", principal.UserID, "room_id", roomID).
			WarnContext(ctx, "member listing denied", "error_kind", ErrorKind(err))
		return nil, err
	}

	members, err := s.store.ListMemberships(ctx, persistence.MembershipFilter{RoomIDs: []string{roomID}, Status: status})
	if err != nil {
		return nil, mapRepoError("list memberships", err)
	}
	return s.withUsers(ctx, members)
}

// ListRoomsForUser lists the rooms the caller belongs to or has asked to join.
func (s *MembershipService) ListRoomsForUser(ctx context.Context, principal Principal) ([]RoomWithMembership, error) {
	if s == nil {
		return nil, fmt.Errorf("MembershipService is nil")
	}
	if s.store == nil {
		return nil, fmt.Errorf("membership store not configured")
	}
	if principal.UserID == "" {
		return nil, ErrUnauthorized
	}

	members, err := s.store.ListMemberships(ctx, persistence.MembershipFilter{UserID: principal.UserID})
	if err != nil {
		return nil, mapRepoError("list memberships", err)
	}

	roomIDs := make([]string, 0, len(members))
	for _, m := range members {
		roomIDs = append(roomIDs, m.RoomID)
	}
	rooms, err := s.store.GetRooms(ctx, roomIDs)
	if err != nil {
		return nil, mapRepoError("get rooms", err)
	}

	result := make([]RoomWithMembership, 0, len(members))
	for _, m := range members {
		room, ok := rooms[m.RoomID]
		if !ok {
			continue
		}
		result = append(result, RoomWithMembership{Room: room, Membership: m})
	}
	sort.SliceStable(result, func(i, j int) bool {
		return strings.ToLower(result[i].Room.Name) < strings.ToLower(result[j].Room.Name)
	})
	return result, nil
}

// ListPendingJoinRequests lists pending memberships across the rooms the caller administers.
func (s *MembershipService) ListPendingJoinRequests(ctx context.Context, principal Principal) ([]MemberWithUser, error) {
	if s == nil {
		return nil, fmt.Errorf("MembershipService is nil")
	}
	if s.store == nil {
		return nil, fmt.Errorf("membership store not configured")
	}
	if principal.UserID == "" {
		return nil, ErrUnauthorized
	}

	roomIDs, err := adminRoomIDs(ctx, s.store, principal.UserID)
	if err != nil {
		return nil, err
	}
	if len(roomIDs) == 0 {
		return []MemberWithUser{}, nil
	}

	pending, err := s.store.ListMemberships(ctx, persistence.MembershipFilter{RoomIDs: roomIDs, Status: persistence.MemberPending})
	if err != nil {
		return nil, mapRepoError("list memberships", err)
	}
	return s.withUsers(ctx, pending)
}

func (s *MembershipService) withUsers(ctx context.Context, members []RoomMember) ([]MemberWithUser, error) {
	ids := make([]string, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.UserID)
	}
	users, err := s.store.GetUsers(ctx, ids)
	if err != nil {
		return nil, mapRepoError("get users", err)
	}

	result := make([]MemberWithUser, 0, len(members))
	for _, m := range members {
		user, ok := users[m.UserID]
		if !ok {
			continue
		}
		result = append(result, MemberWithUser{Member: m, User: user})
	}
	return result, nil
}

func (s *MembershipService) activeAdmins(ctx context.Context, logger *slog.Logger, roomID string) []RoomMember {
	admins, err := s.store.ListMemberships(ctx, persistence.MembershipFilter{
		RoomIDs: []string{roomID},
		Role:    persistence.RoleAdmin,
		Status:  persistence.MemberActive,
	})
	if err != nil {
		logger.WarnContext(ctx, "failed to list room admins", "error", err)
		return nil
	}
	return admins
}

func (s *MembershipService) displayName(ctx context.Context, principal Principal) string {
	users, err := s.store.GetUsers(ctx, []string{principal.UserID})
	if err == nil {
		if user, ok := users[principal.UserID]; ok && user.Name != "" {
			return user.Name
		}
	}
	if principal.DisplayName != "" {
		return principal.DisplayName
	}
	return "Someone"
}

func (s *MembershipService) roomName(ctx context.Context, roomID string) string {
	room, err := s.store.GetRoom(ctx, roomID)
	if err != nil || room.Name == "" {
		return "the room"
	}
	return room.Name
}

// membershipLister is the subset of a store needed to resolve administered rooms.
type membershipLister interface {
	ListMemberships(ctx context.Context, filter persistence.MembershipFilter) ([]RoomMember, error)
}

func adminRoomIDs(ctx context.Context, members membershipLister, userID string) ([]string, error) {
	return roomIDsFor(ctx, members, persistence.MembershipFilter{
		UserID: userID,
		Role:   persistence.RoleAdmin,
		Status: persistence.MemberActive,
	})
}

func activeRoomIDs(ctx context.Context, members membershipLister, userID string) ([]string, error) {
	return roomIDsFor(ctx, members, persistence.MembershipFilter{UserID: userID, Status: persistence.MemberActive})
}

func roomIDsFor(ctx context.Context, members membershipLister, filter persistence.MembershipFilter) ([]string, error) {
	list, err := members.ListMemberships(ctx, filter)
	if err != nil {
		return nil, mapRepoError("list memberships", err)
	}
	ids := make([]string, 0, len(list))
	for _, m := range list {
		ids = append(ids, m.RoomID)
	}
	return ids, nil
}

func memberChange(op realtime.Operation, member RoomMember) realtime.Change {
	return realtime.Change{
		Collection: realtime.CollectionMembers,
		Op:         op,
		ID:         member.ID,
		RoomID:     member.RoomID,
		UserID:     member.UserID,
	}
}

func validateRoomName(name string) *ValidationError {
	vErr := &ValidationError{}
	switch {
	case name == "":
		vErr.add("name", "room name is required")
	case utf8.RuneCountInString(name) > maxRoomNameLength:
		vErr.add("name", fmt.Sprintf("room name must be at most %d characters", maxRoomNameLength))
	}
	return vErr
}
