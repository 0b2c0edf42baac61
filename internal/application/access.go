package application

import (
	"context"
	"errors"

	"github.com/example/attendance-coordinator/internal/persistence"
	"github.com/example/attendance-coordinator/internal/realtime"
)

// MembershipLookup resolves a user's membership in a room.
type MembershipLookup interface {
	FindMembership(ctx context.Context, roomID, userID string) (RoomMember, error)
}

// requireActiveMember returns the caller's membership when it is active.
// A missing or pending membership yields ErrUnauthorized.
func requireActiveMember(ctx context.Context, members MembershipLookup, roomID, userID string) (RoomMember, error) {
	if userID == "" {
		return RoomMember{}, ErrUnauthorized
	}
	member, err := members.FindMembership(ctx, roomID, userID)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return RoomMember{}, ErrUnauthorized
		}
		return RoomMember{}, mapRepoError("find membership", err)
	}
	if member.Status != persistence.MemberActive {
		return RoomMember{}, ErrUnauthorized
	}
	return member, nil
}

// requireActiveAdmin is requireActiveMember restricted to the admin role.
func requireActiveAdmin(ctx context.Context, members MembershipLookup, roomID, userID string) (RoomMember, error) {
	member, err := requireActiveMember(ctx, members, roomID, userID)
	if err != nil {
		return RoomMember{}, err
	}
	if member.Role != persistence.RoleAdmin {
		return RoomMember{}, ErrUnauthorized
	}
	return member, nil
}

// Notifier delivers in-app notifications. Failures are the notifier's concern.
type Notifier interface {
	Notify(ctx context.Context, notification Notification)
}

func notify(ctx context.Context, notifier Notifier, notification Notification) {
	if notifier == nil {
		return
	}
	notifier.Notify(ctx, notification)
}

func publish(ctx context.Context, publisher realtime.Publisher, change realtime.Change) {
	if publisher == nil {
		return
	}
	publisher.Publish(ctx, change)
}
