package persistence

import (
	"context"
	"time"
)

// UserRepository stores user profiles.
type UserRepository interface {
	CreateUser(ctx context.Context, user User) error
	GetUser(ctx context.Context, id string) (User, error)
	// GetUsers returns the users that exist among ids keyed by id.
	GetUsers(ctx context.Context, ids []string) (map[string]User, error)
}

// IdentityRepository stores sign-in credentials and revoked tokens.
type IdentityRepository interface {
	CreateIdentity(ctx context.Context, identity Identity) error
	GetIdentity(ctx context.Context, provider, subject string) (Identity, error)
	RevokeToken(ctx context.Context, token RevokedToken) error
	IsTokenRevoked(ctx context.Context, tokenID string) (bool, error)
}

// RoomRepository stores rooms.
type RoomRepository interface {
	// CreateRoomWithOwner persists the room together with its creator's
	// membership. Either both records are written or neither is.
	CreateRoomWithOwner(ctx context.Context, room Room, owner RoomMember) error
	GetRoom(ctx context.Context, id string) (Room, error)
	GetRoomByInviteCode(ctx context.Context, code string) (Room, error)
	GetRooms(ctx context.Context, ids []string) (map[string]Room, error)
}

// MembershipFilter narrows membership queries. Zero fields match everything;
// a non-nil empty RoomIDs matches nothing.
type MembershipFilter struct {
	RoomIDs []string
	UserID  string
	Role    MemberRole
	Status  MemberStatus
}

// MembershipRepository stores room memberships. A user holds at most one
// membership per room.
type MembershipRepository interface {
	CreateMembership(ctx context.Context, member RoomMember) error
	GetMembership(ctx context.Context, id string) (RoomMember, error)
	FindMembership(ctx context.Context, roomID, userID string) (RoomMember, error)
	// ActivateMembership moves a pending membership to active. Activating an
	// already active membership returns it unchanged.
	ActivateMembership(ctx context.Context, id string) (RoomMember, error)
	// DeletePendingMembership removes a membership only while it is pending
	// and returns ErrStaleState otherwise.
	DeletePendingMembership(ctx context.Context, id string) error
	ListMemberships(ctx context.Context, filter MembershipFilter) ([]RoomMember, error)
}

// ScheduleFilter narrows schedule queries. From and To are inclusive days.
type ScheduleFilter struct {
	RoomIDs []string
	UserID  string
	From    *time.Time
	To      *time.Time
}

// ScheduleRepository stores office schedules. A user holds at most one
// schedule per room and day.
type ScheduleRepository interface {
	// CreateSchedulesIfAbsent inserts the schedules whose (room, user, date)
	// is free and returns the ones actually created.
	CreateSchedulesIfAbsent(ctx context.Context, schedules []OfficeSchedule) ([]OfficeSchedule, error)
	GetSchedule(ctx context.Context, id string) (OfficeSchedule, error)
	DeleteSchedule(ctx context.Context, id string) error
	// ListSchedules returns matching schedules ordered by date then user id.
	ListSchedules(ctx context.Context, filter ScheduleFilter) ([]OfficeSchedule, error)
}

// ChangeRequestFilter narrows change request queries.
type ChangeRequestFilter struct {
	RoomIDs []string
	UserID  string
	Status  RequestStatus
}

// Resolution describes the terminal transition of a change request together
// with its schedule effects.
type Resolution struct {
	RequestID  string
	Status     RequestStatus
	ResolvedAt time.Time
	ResolvedBy string
	// Remove deletes the schedule at the key when present.
	Remove *ScheduleKey
	// Add ensures an office schedule exists at its key. An existing schedule
	// at the key is switched to office.
	Add *OfficeSchedule
}

// ResolutionResult reports what a resolution changed.
type ResolutionResult struct {
	Request   ChangeRequest
	RemovedID string
	Added     *OfficeSchedule
}

// ChangeRequestRepository stores change requests.
type ChangeRequestRepository interface {
	CreateChangeRequest(ctx context.Context, request ChangeRequest) error
	GetChangeRequest(ctx context.Context, id string) (ChangeRequest, error)
	// ListChangeRequests returns matching requests oldest first.
	ListChangeRequests(ctx context.Context, filter ChangeRequestFilter) ([]ChangeRequest, error)
	// ResolveChangeRequest applies the resolution only while the request is
	// pending and returns ErrStaleState otherwise.
	ResolveChangeRequest(ctx context.Context, resolution Resolution) (ResolutionResult, error)
}

// NotificationFilter narrows notification queries.
type NotificationFilter struct {
	UserID     string
	UnreadOnly bool
	Limit      int
}

// NotificationRepository stores notifications.
type NotificationRepository interface {
	CreateNotification(ctx context.Context, notification Notification) error
	// ListNotifications returns matching notifications newest first.
	ListNotifications(ctx context.Context, filter NotificationFilter) ([]Notification, error)
	MarkNotificationRead(ctx context.Context, id, userID string) error
}

// Store bundles every repository exposed by a storage backend.
type Store interface {
	UserRepository
	IdentityRepository
	RoomRepository
	MembershipRepository
	ScheduleRepository
	ChangeRequestRepository
	NotificationRepository
	Ping(ctx context.Context) error
	Close() error
}
