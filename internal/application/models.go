package application

import (
	"time"

	"github.com/example/attendance-coordinator/internal/persistence"
)

// Principal represents the authenticated user invoking a service method.
type Principal struct {
	UserID      string
	Email       string
	DisplayName string
}

type (
	User           = persistence.User
	Room           = persistence.Room
	RoomMember     = persistence.RoomMember
	OfficeSchedule = persistence.OfficeSchedule
	ChangeRequest  = persistence.ChangeRequest
	Notification   = persistence.Notification
	Identity       = persistence.Identity
)

// MemberWithUser joins a membership with its user profile.
type MemberWithUser struct {
	Member RoomMember
	User   User
}

// RoomWithMembership pairs a room with the caller's membership in it.
type RoomWithMembership struct {
	Room       Room
	Membership RoomMember
}

// ScheduleWithUser joins a schedule with its user. User is nil when the profile is missing.
type ScheduleWithUser struct {
	Schedule OfficeSchedule
	User     *User
}

// ScheduleWithRoom joins a schedule with its room. Room is nil when the room is missing.
type ScheduleWithRoom struct {
	Schedule OfficeSchedule
	Room     *Room
}

// ChangeRequestDetail joins a change request with its requester and room.
type ChangeRequestDetail struct {
	Request ChangeRequest
	User    *User
	Room    *Room
}

// AssignSchedulesParams wraps the data required to assign office days.
type AssignSchedulesParams struct {
	Principal Principal
	RoomID    string
	UserIDs   []string
	Dates     []time.Time
}

// AssignPatternParams assigns office days on the given weekdays between two dates inclusive.
type AssignPatternParams struct {
	Principal Principal
	RoomID    string
	UserIDs   []string
	Weekdays  []time.Weekday
	From      time.Time
	To        time.Time
}

// ListSchedulesParams filters the schedules of a room. Nil bounds are open.
type ListSchedulesParams struct {
	Principal Principal
	RoomID    string
	From      *time.Time
	To        *time.Time
}

// RequestChangeParams captures a member's proposed change.
type RequestChangeParams struct {
	Principal    Principal
	RoomID       string
	OriginalDate *time.Time
	NewDate      *time.Time
	Reason       string
}

// SignUpParams carries the fields of a password sign-up.
type SignUpParams struct {
	Email    string
	Password string
	Name     string
}

// SignInResult is returned by every successful sign-in flow.
type SignInResult struct {
	Token     string
	ExpiresAt time.Time
	Identity  Identity
	User      User
}
