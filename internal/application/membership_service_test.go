package application_test

import (
	"context"
	"errors"
	"testing"

	"github.com/example/attendance-coordinator/internal/application"
	"github.com/example/attendance-coordinator/internal/persistence"
	"github.com/example/attendance-coordinator/internal/realtime"
	"github.com/example/attendance-coordinator/internal/testfixtures"
)

type env struct {
	store    persistence.Store
	seed     *testfixtures.Seeder
	services *testfixtures.Services
	factory  *testfixtures.ServiceFactory
}

func newEnv(t *testing.T, opts ...testfixtures.ServiceFactoryOption) *env {
	t.Helper()
	harness := testfixtures.NewSQLiteHarness(t)
	factory := testfixtures.NewServiceFactory(opts...)
	services := factory.NewServices(harness.Store)
	t.Cleanup(services.Hub.Close)
	return &env{
		store:    harness.Store,
		seed:     harness.Seeder(t),
		services: services,
		factory:  factory,
	}
}

func (e *env) notificationsFor(t *testing.T, userID string) []persistence.Notification {
	t.Helper()
	list, err := e.store.ListNotifications(context.Background(), persistence.NotificationFilter{UserID: userID})
	if err != nil {
		t.Fatalf("list notifications: %v", err)
	}
	return list
}

func TestMembershipService_CreateRoom(t *testing.T) {
	ctx := context.Background()

	t.Run("creator becomes the single active admin", func(t *testing.T) {
		e := newEnv(t)
		owner := e.seed.User()
		sub := e.services.Hub.Subscribe(realtime.Filter{Collection: realtime.CollectionMembers, UserID: owner.ID}, 4)
		defer sub.Cancel()

		room, err := e.services.Memberships.CreateRoom(ctx, owner.Principal(), "  <b>Design</b> Team ")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if room.Name != "Design Team" {
			t.Fatalf("expected sanitised name, got %q", room.Name)
		}

		members, err := e.store.ListMemberships(ctx, persistence.MembershipFilter{RoomIDs: []string{room.ID}})
		if err != nil {
			t.Fatalf("list memberships: %v", err)
		}
		if len(members) != 1 {
			t.Fatalf("expected exactly one membership, got %d", len(members))
		}
		if members[0].UserID != owner.ID || members[0].Role != persistence.RoleAdmin || members[0].Status != persistence.MemberActive {
			t.Fatalf("expected active admin membership for creator, got %+v", members[0])
		}

		select {
		case change := <-sub.Events():
			if change.Op != realtime.OpCreated || change.RoomID != room.ID {
				t.Fatalf("unexpected change %+v", change)
			}
		default:
			t.Fatalf("expected membership change to be published")
		}
	})

	t.Run("blank name is rejected", func(t *testing.T) {
		e := newEnv(t)
		owner := e.seed.User()

		_, err := e.services.Memberships.CreateRoom(ctx, owner.Principal(), "  <i></i> ")
		var vErr *application.ValidationError
		if !errors.As(err, &vErr) {
			t.Fatalf("expected ValidationError, got %v", err)
		}
		if _, ok := vErr.FieldErrors["name"]; !ok {
			t.Fatalf("expected name error, got %v", vErr.FieldErrors)
		}
	})

	t.Run("anonymous caller is rejected", func(t *testing.T) {
		e := newEnv(t)
		if _, err := e.services.Memberships.CreateRoom(ctx, application.Principal{}, "Room"); !errors.Is(err, application.ErrUnauthorized) {
			t.Fatalf("expected ErrUnauthorized, got %v", err)
		}
	})
}

func TestMembershipService_JoinRoomByCode(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown code", func(t *testing.T) {
		e := newEnv(t)
		user := e.seed.User()

		_, err := e.services.Memberships.JoinRoomByCode(ctx, user.Principal(), "ZZZZZZ")
		if !errors.Is(err, application.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("pending membership and admin notification", func(t *testing.T) {
		e := newEnv(t)
		owner := e.seed.User()
		joiner := e.seed.User(testfixtures.WithUserName("Jules"))
		room := e.seed.Room(owner, testfixtures.WithInviteCode("ABC123"))

		member, err := e.services.Memberships.JoinRoomByCode(ctx, joiner.Principal(), " abc123 ")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if member.RoomID != room.ID || member.Role != persistence.RoleMember || member.Status != persistence.MemberPending {
			t.Fatalf("expected pending member, got %+v", member)
		}

		notes := e.notificationsFor(t, owner.ID)
		if len(notes) != 1 || notes[0].Type != persistence.NotificationJoinRequest {
			t.Fatalf("expected one join request notification, got %+v", notes)
		}
		if notes[0].RelatedID == nil || *notes[0].RelatedID != member.ID {
			t.Fatalf("expected notification to reference membership, got %+v", notes[0])
		}
	})

	t.Run("existing membership conflicts", func(t *testing.T) {
		e := newEnv(t)
		owner := e.seed.User()
		room := e.seed.Room(owner, testfixtures.WithInviteCode("DUP001"))

		if _, err := e.services.Memberships.JoinRoomByCode(ctx, owner.Principal(), room.InviteCode); !errors.Is(err, application.ErrConflict) {
			t.Fatalf("expected ErrConflict for admin, got %v", err)
		}

		joiner := e.seed.User()
		if _, err := e.services.Memberships.JoinRoomByCode(ctx, joiner.Principal(), room.InviteCode); err != nil {
			t.Fatalf("first join failed: %v", err)
		}
		if _, err := e.services.Memberships.JoinRoomByCode(ctx, joiner.Principal(), room.InviteCode); !errors.Is(err, application.ErrConflict) {
			t.Fatalf("expected ErrConflict for second join, got %v", err)
		}
	})
}

func TestMembershipService_ApproveAndReject(t *testing.T) {
	ctx := context.Background()

	t.Run("admin approves pending member", func(t *testing.T) {
		e := newEnv(t)
		owner := e.seed.User()
		joiner := e.seed.User()
		room := e.seed.Room(owner)
		pending := e.seed.Member(room, joiner, testfixtures.AsPending())

		member, err := e.services.Memberships.ApproveMembership(ctx, owner.Principal(), pending.ID)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if member.Status != persistence.MemberActive {
			t.Fatalf("expected active member, got %s", member.Status)
		}

		again, err := e.services.Memberships.ApproveMembership(ctx, owner.Principal(), pending.ID)
		if err != nil || again.Status != persistence.MemberActive {
			t.Fatalf("expected re-approval to be a no-op, got %+v, %v", again, err)
		}

		notes := e.notificationsFor(t, joiner.ID)
		if len(notes) != 1 || notes[0].Type != persistence.NotificationJoinApproved {
			t.Fatalf("expected one approval notification, got %+v", notes)
		}
	})

	t.Run("non-admins cannot approve or reject", func(t *testing.T) {
		e := newEnv(t)
		owner := e.seed.User()
		regular := e.seed.User()
		joiner := e.seed.User()
		room := e.seed.Room(owner)
		e.seed.Member(room, regular)
		pending := e.seed.Member(room, joiner, testfixtures.AsPending())

		if _, err := e.services.Memberships.ApproveMembership(ctx, regular.Principal(), pending.ID); !errors.Is(err, application.ErrUnauthorized) {
			t.Fatalf("expected ErrUnauthorized on approve, got %v", err)
		}
		if err := e.services.Memberships.RejectMembership(ctx, regular.Principal(), pending.ID); !errors.Is(err, application.ErrUnauthorized) {
			t.Fatalf("expected ErrUnauthorized on reject, got %v", err)
		}
		if _, err := e.services.Memberships.ApproveMembership(ctx, joiner.Principal(), pending.ID); !errors.Is(err, application.ErrUnauthorized) {
			t.Fatalf("expected pending member to be refused, got %v", err)
		}
	})

	t.Run("reject deletes pending member", func(t *testing.T) {
		e := newEnv(t)
		owner := e.seed.User()
		joiner := e.seed.User()
		room := e.seed.Room(owner)
		pending := e.seed.Member(room, joiner, testfixtures.AsPending())

		if err := e.services.Memberships.RejectMembership(ctx, owner.Principal(), pending.ID); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, err := e.store.GetMembership(ctx, pending.ID); !errors.Is(err, persistence.ErrNotFound) {
			t.Fatalf("expected membership to be deleted, got %v", err)
		}
		notes := e.notificationsFor(t, joiner.ID)
		if len(notes) != 1 || notes[0].Type != persistence.NotificationJoinRejected {
			t.Fatalf("expected one rejection notification, got %+v", notes)
		}
	})

	t.Run("rejecting an active member conflicts", func(t *testing.T) {
		e := newEnv(t)
		owner := e.seed.User()
		active := e.seed.User()
		room := e.seed.Room(owner)
		member := e.seed.Member(room, active)

		if err := e.services.Memberships.RejectMembership(ctx, owner.Principal(), member.ID); !errors.Is(err, application.ErrConflict) {
			t.Fatalf("expected ErrConflict, got %v", err)
		}
	})

	t.Run("unknown membership", func(t *testing.T) {
		e := newEnv(t)
		owner := e.seed.User()
		if _, err := e.services.Memberships.ApproveMembership(ctx, owner.Principal(), "missing"); !errors.Is(err, application.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestMembershipService_Listings(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	owner := e.seed.User(testfixtures.WithUserName("Olivia"))
	member := e.seed.User(testfixtures.WithUserName("Mona"))
	joiner := e.seed.User(testfixtures.WithUserName("Jules"))
	outsider := e.seed.User()
	room := e.seed.Room(owner, testfixtures.WithRoomName("Beta"))
	other := e.seed.Room(member, testfixtures.WithRoomName("Alpha"))
	e.seed.Member(room, member)
	e.seed.Member(room, joiner, testfixtures.AsPending())
	e.seed.Member(other, owner, testfixtures.AsPending())

	t.Run("members of a room", func(t *testing.T) {
		all, err := e.services.Memberships.ListMembersForRoom(ctx, member.Principal(), room.ID, "")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(all) != 3 {
			t.Fatalf("expected three members, got %d", len(all))
		}

		pending, err := e.services.Memberships.ListMembersForRoom(ctx, owner.Principal(), room.ID, persistence.MemberPending)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(pending) != 1 || pending[0].User.Name != "Jules" {
			t.Fatalf("expected Jules pending, got %+v", pending)
		}
	})

	t.Run("outsiders and pending members cannot list", func(t *testing.T) {
		if _, err := e.services.Memberships.ListMembersForRoom(ctx, outsider.Principal(), room.ID, ""); !errors.Is(err, application.ErrUnauthorized) {
			t.Fatalf("expected ErrUnauthorized, got %v", err)
		}
		if _, err := e.services.Memberships.ListMembersForRoom(ctx, joiner.Principal(), room.ID, ""); !errors.Is(err, application.ErrUnauthorized) {
			t.Fatalf("expected ErrUnauthorized for pending member, got %v", err)
		}
	})

	t.Run("rooms for user sorted by name", func(t *testing.T) {
		rooms, err := e.services.Memberships.ListRoomsForUser(ctx, owner.Principal())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(rooms) != 2 || rooms[0].Room.Name != "Alpha" || rooms[1].Room.Name != "Beta" {
			t.Fatalf("unexpected rooms %+v", rooms)
		}
		if rooms[0].Membership.Status != persistence.MemberPending || rooms[1].Membership.Role != persistence.RoleAdmin {
			t.Fatalf("unexpected memberships %+v", rooms)
		}
	})

	t.Run("pending join requests across administered rooms", func(t *testing.T) {
		pending, err := e.services.Memberships.ListPendingJoinRequests(ctx, member.Principal())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(pending) != 1 || pending[0].User.ID != owner.ID {
			t.Fatalf("expected owner pending in Alpha, got %+v", pending)
		}

		none, err := e.services.Memberships.ListPendingJoinRequests(ctx, outsider.Principal())
		if err != nil || len(none) != 0 {
			t.Fatalf("expected no requests, got %+v, %v", none, err)
		}
	})
}
