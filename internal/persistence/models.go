package persistence

import "time"

// DateLayout is the storage format of calendar days.
const DateLayout = "2006-01-02"

// MemberRole is the role a user holds within a room.
type MemberRole string

const (
	RoleAdmin  MemberRole = "admin"
	RoleMember MemberRole = "member"
)

// MemberStatus tracks whether a membership has been approved.
type MemberStatus string

const (
	MemberPending MemberStatus = "pending"
	MemberActive  MemberStatus = "active"
)

// AttendanceStatus describes where a user works on a scheduled day.
type AttendanceStatus string

const (
	AttendanceOffice AttendanceStatus = "office"
	AttendanceRemote AttendanceStatus = "remote"
)

// RequestStatus tracks the lifecycle of a change request.
type RequestStatus string

const (
	RequestPending  RequestStatus = "pending"
	RequestApproved RequestStatus = "approved"
	RequestRejected RequestStatus = "rejected"
)

// NotificationType classifies notifications delivered to users.
type NotificationType string

const (
	NotificationJoinRequest      NotificationType = "join_request"
	NotificationJoinApproved     NotificationType = "join_approved"
	NotificationJoinRejected     NotificationType = "join_rejected"
	NotificationScheduleRequest  NotificationType = "schedule_request"
	NotificationScheduleApproved NotificationType = "schedule_approved"
	NotificationScheduleRejected NotificationType = "schedule_rejected"
)

// User is the profile of an authenticated person.
type User struct {
	ID        string
	Name      string
	Email     string
	CreatedAt time.Time
}

// Room is a team space that users join with an invite code.
type Room struct {
	ID         string
	Name       string
	CreatedBy  string
	InviteCode string
	CreatedAt  time.Time
}

// RoomMember links a user to a room.
type RoomMember struct {
	ID        string
	RoomID    string
	UserID    string
	Role      MemberRole
	Status    MemberStatus
	CreatedAt time.Time
}

// OfficeSchedule records a user's attendance on a calendar day. Date is
// midnight UTC of the day.
type OfficeSchedule struct {
	ID        string
	RoomID    string
	UserID    string
	Date      time.Time
	Status    AttendanceStatus
	CreatedAt time.Time
}

// ChangeRequest asks a room admin to move, add, or delete an office day.
type ChangeRequest struct {
	ID           string
	RoomID       string
	UserID       string
	OriginalDate *time.Time
	NewDate      *time.Time
	Reason       string
	Status       RequestStatus
	CreatedAt    time.Time
	ResolvedAt   *time.Time
	ResolvedBy   *string
}

// Notification is a message addressed to a single user.
type Notification struct {
	ID        string
	UserID    string
	RoomID    string
	Type      NotificationType
	Message   string
	Read      bool
	CreatedAt time.Time
	RelatedID *string
}

// Identity binds an external or password credential to a user id.
type Identity struct {
	UID          string
	Provider     string
	Subject      string
	Email        string
	DisplayName  string
	PasswordHash string
	CreatedAt    time.Time
}

// RevokedToken marks an issued token id as signed out until it expires.
type RevokedToken struct {
	TokenID   string
	ExpiresAt time.Time
}

// ScheduleKey identifies the single schedule a user may hold in a room on a day.
type ScheduleKey struct {
	RoomID string
	UserID string
	Date   time.Time
}
