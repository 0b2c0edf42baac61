// Package persistencetest holds the behavioural contract every storage
// backend must satisfy. Backends run it from their own tests.
package persistencetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/example/attendance-coordinator/internal/persistence"
)

// OpenFunc returns a fresh, empty store for one subtest.
type OpenFunc func(t *testing.T) persistence.Store

var base = time.Date(2024, time.March, 4, 9, 0, 0, 0, time.UTC)

func day(offset int) time.Time {
	return time.Date(2024, time.March, 4+offset, 0, 0, 0, 0, time.UTC)
}

// Run executes the contract against stores produced by open.
func Run(t *testing.T, open OpenFunc) {
	t.Run("users", func(t *testing.T) { testUsers(t, open(t)) })
	t.Run("identities", func(t *testing.T) { testIdentities(t, open(t)) })
	t.Run("rooms", func(t *testing.T) { testRooms(t, open(t)) })
	t.Run("memberships", func(t *testing.T) { testMemberships(t, open(t)) })
	t.Run("schedules", func(t *testing.T) { testSchedules(t, open(t)) })
	t.Run("change requests", func(t *testing.T) { testChangeRequests(t, open(t)) })
	t.Run("concurrent resolution", func(t *testing.T) { testConcurrentResolution(t, open(t)) })
	t.Run("notifications", func(t *testing.T) { testNotifications(t, open(t)) })
}

func testUsers(t *testing.T, store persistence.Store) {
	ctx := context.Background()
	user := persistence.User{ID: "u1", Name: "Alice", Email: "alice@example.com", CreatedAt: base}
	if err := store.CreateUser(ctx, user); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	if err := store.CreateUser(ctx, user); !errors.Is(err, persistence.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate on second insert, got %v", err)
	}

	got, err := store.GetUser(ctx, "u1")
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if got.Name != "Alice" || got.Email != "alice@example.com" || !got.CreatedAt.Equal(base) {
		t.Fatalf("unexpected user: %+v", got)
	}

	if _, err := store.GetUser(ctx, "missing"); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	users, err := store.GetUsers(ctx, []string{"u1", "missing", "u1"})
	if err != nil {
		t.Fatalf("GetUsers failed: %v", err)
	}
	if len(users) != 1 || users["u1"].Name != "Alice" {
		t.Fatalf("unexpected users: %+v", users)
	}
}

func testIdentities(t *testing.T, store persistence.Store) {
	ctx := context.Background()
	identity := persistence.Identity{
		UID:          "u1",
		Provider:     "password",
		Subject:      "alice@example.com",
		Email:        "alice@example.com",
		PasswordHash: "hash",
		CreatedAt:    base,
	}
	if err := store.CreateIdentity(ctx, identity); err != nil {
		t.Fatalf("CreateIdentity failed: %v", err)
	}
	identity.UID = "u2"
	if err := store.CreateIdentity(ctx, identity); !errors.Is(err, persistence.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	got, err := store.GetIdentity(ctx, "password", "alice@example.com")
	if err != nil {
		t.Fatalf("GetIdentity failed: %v", err)
	}
	if got.UID != "u1" || got.PasswordHash != "hash" {
		t.Fatalf("unexpected identity: %+v", got)
	}
	if _, err := store.GetIdentity(ctx, "google", "alice@example.com"); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	revoked, err := store.IsTokenRevoked(ctx, "jti-1")
	if err != nil || revoked {
		t.Fatalf("expected token not revoked, got %v %v", revoked, err)
	}
	expires := time.Now().Add(time.Hour)
	if err := store.RevokeToken(ctx, persistence.RevokedToken{TokenID: "jti-1", ExpiresAt: expires}); err != nil {
		t.Fatalf("RevokeToken failed: %v", err)
	}
	if err := store.RevokeToken(ctx, persistence.RevokedToken{TokenID: "jti-1", ExpiresAt: expires}); err != nil {
		t.Fatalf("RevokeToken should be idempotent, got %v", err)
	}
	revoked, err = store.IsTokenRevoked(ctx, "jti-1")
	if err != nil || !revoked {
		t.Fatalf("expected token revoked, got %v %v", revoked, err)
	}
}

func seedRoom(t *testing.T, store persistence.Store, roomID, ownerID, code string) persistence.Room {
	t.Helper()
	room := persistence.Room{ID: roomID, Name: "Room " + roomID, CreatedBy: ownerID, InviteCode: code, CreatedAt: base}
	owner := persistence.RoomMember{
		ID:        "m-" + roomID + "-" + ownerID,
		RoomID:    roomID,
		UserID:    ownerID,
		Role:      persistence.RoleAdmin,
		Status:    persistence.MemberActive,
		CreatedAt: base,
	}
	if err := store.CreateRoomWithOwner(context.Background(), room, owner); err != nil {
		t.Fatalf("CreateRoomWithOwner failed: %v", err)
	}
	return room
}

func seedMember(t *testing.T, store persistence.Store, roomID, userID string, status persistence.MemberStatus) persistence.RoomMember {
	t.Helper()
	member := persistence.RoomMember{
		ID:        "m-" + roomID + "-" + userID,
		RoomID:    roomID,
		UserID:    userID,
		Role:      persistence.RoleMember,
		Status:    status,
		CreatedAt: base.Add(time.Minute),
	}
	if err := store.CreateMembership(context.Background(), member); err != nil {
		t.Fatalf("CreateMembership failed: %v", err)
	}
	return member
}

func testRooms(t *testing.T, store persistence.Store) {
	ctx := context.Background()
	seedRoom(t, store, "r1", "owner", "ABC123")

	room, err := store.GetRoomByInviteCode(ctx, "ABC123")
	if err != nil {
		t.Fatalf("GetRoomByInviteCode failed: %v", err)
	}
	if room.ID != "r1" || room.CreatedBy != "owner" {
		t.Fatalf("unexpected room: %+v", room)
	}

	owner, err := store.FindMembership(ctx, "r1", "owner")
	if err != nil {
		t.Fatalf("expected owner membership, got %v", err)
	}
	if owner.Role != persistence.RoleAdmin || owner.Status != persistence.MemberActive {
		t.Fatalf("unexpected owner membership: %+v", owner)
	}

	dup := persistence.Room{ID: "r2", Name: "Other", CreatedBy: "owner", InviteCode: "ABC123", CreatedAt: base}
	dupOwner := persistence.RoomMember{ID: "m-r2", RoomID: "r2", UserID: "owner", Role: persistence.RoleAdmin, Status: persistence.MemberActive, CreatedAt: base}
	if err := store.CreateRoomWithOwner(ctx, dup, dupOwner); !errors.Is(err, persistence.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate for reused invite code, got %v", err)
	}
	if _, err := store.GetRoom(ctx, "r2"); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("room with rejected owner must not exist, got %v", err)
	}
	if _, err := store.GetMembership(ctx, "m-r2"); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("owner of rejected room must not exist, got %v", err)
	}

	rooms, err := store.GetRooms(ctx, []string{"r1", "r2"})
	if err != nil {
		t.Fatalf("GetRooms failed: %v", err)
	}
	if len(rooms) != 1 {
		t.Fatalf("expected 1 room, got %d", len(rooms))
	}
	if _, err := store.GetRoomByInviteCode(ctx, "ZZZZZZ"); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func testMemberships(t *testing.T, store persistence.Store) {
	ctx := context.Background()
	seedRoom(t, store, "r1", "owner", "ROOM01")
	seedRoom(t, store, "r2", "owner", "ROOM02")
	pending := seedMember(t, store, "r1", "u1", persistence.MemberPending)

	again := pending
	again.ID = "other-id"
	if err := store.CreateMembership(ctx, again); !errors.Is(err, persistence.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate for second membership, got %v", err)
	}

	activated, err := store.ActivateMembership(ctx, pending.ID)
	if err != nil {
		t.Fatalf("ActivateMembership failed: %v", err)
	}
	if activated.Status != persistence.MemberActive {
		t.Fatalf("expected active, got %s", activated.Status)
	}
	if _, err := store.ActivateMembership(ctx, pending.ID); err != nil {
		t.Fatalf("re-activation should succeed, got %v", err)
	}
	if _, err := store.ActivateMembership(ctx, "missing"); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := store.DeletePendingMembership(ctx, pending.ID); !errors.Is(err, persistence.ErrStaleState) {
		t.Fatalf("expected ErrStaleState deleting an active membership, got %v", err)
	}
	other := seedMember(t, store, "r2", "u1", persistence.MemberPending)
	if err := store.DeletePendingMembership(ctx, other.ID); err != nil {
		t.Fatalf("DeletePendingMembership failed: %v", err)
	}
	if err := store.DeletePendingMembership(ctx, other.ID); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}

	seedMember(t, store, "r2", "u2", persistence.MemberPending)

	mine, err := store.ListMemberships(ctx, persistence.MembershipFilter{UserID: "u1"})
	if err != nil {
		t.Fatalf("ListMemberships failed: %v", err)
	}
	if len(mine) != 1 || mine[0].RoomID != "r1" {
		t.Fatalf("unexpected memberships for u1: %+v", mine)
	}

	admins, err := store.ListMemberships(ctx, persistence.MembershipFilter{UserID: "owner", Role: persistence.RoleAdmin, Status: persistence.MemberActive})
	if err != nil {
		t.Fatalf("ListMemberships failed: %v", err)
	}
	if len(admins) != 2 {
		t.Fatalf("expected owner to administer 2 rooms, got %d", len(admins))
	}

	pendingInR2, err := store.ListMemberships(ctx, persistence.MembershipFilter{RoomIDs: []string{"r2"}, Status: persistence.MemberPending})
	if err != nil {
		t.Fatalf("ListMemberships failed: %v", err)
	}
	if len(pendingInR2) != 1 || pendingInR2[0].UserID != "u2" {
		t.Fatalf("unexpected pending members: %+v", pendingInR2)
	}

	none, err := store.ListMemberships(ctx, persistence.MembershipFilter{RoomIDs: []string{}})
	if err != nil || len(none) != 0 {
		t.Fatalf("empty room filter must match nothing, got %v %v", none, err)
	}
}

func officeDay(roomID, userID string, date time.Time) persistence.OfficeSchedule {
	return persistence.OfficeSchedule{
		ID:        fmt.Sprintf("s-%s-%s-%s", roomID, userID, date.Format(persistence.DateLayout)),
		RoomID:    roomID,
		UserID:    userID,
		Date:      date,
		Status:    persistence.AttendanceOffice,
		CreatedAt: base,
	}
}

func testSchedules(t *testing.T, store persistence.Store) {
	ctx := context.Background()
	seedRoom(t, store, "r1", "owner", "ROOM01")
	seedRoom(t, store, "r2", "owner", "ROOM02")

	batch := []persistence.OfficeSchedule{
		officeDay("r1", "u1", day(0)),
		officeDay("r1", "u1", day(1)),
		officeDay("r1", "u2", day(0)),
		officeDay("r1", "u2", day(1)),
	}
	created, err := store.CreateSchedulesIfAbsent(ctx, batch)
	if err != nil {
		t.Fatalf("CreateSchedulesIfAbsent failed: %v", err)
	}
	if len(created) != 4 {
		t.Fatalf("expected 4 schedules created, got %d", len(created))
	}

	dup := officeDay("r1", "u1", day(0))
	dup.ID = "another-id"
	created, err = store.CreateSchedulesIfAbsent(ctx, []persistence.OfficeSchedule{dup, officeDay("r2", "u1", day(3))})
	if err != nil {
		t.Fatalf("CreateSchedulesIfAbsent failed: %v", err)
	}
	if len(created) != 1 || created[0].RoomID != "r2" {
		t.Fatalf("expected only the free slot to be created, got %+v", created)
	}

	from, to := day(0), day(1)
	inRoom, err := store.ListSchedules(ctx, persistence.ScheduleFilter{RoomIDs: []string{"r1"}, From: &from, To: &to})
	if err != nil {
		t.Fatalf("ListSchedules failed: %v", err)
	}
	if len(inRoom) != 4 {
		t.Fatalf("expected 4 schedules in r1, got %d", len(inRoom))
	}
	for i := 1; i < len(inRoom); i++ {
		if inRoom[i].Date.Before(inRoom[i-1].Date) {
			t.Fatalf("schedules not ordered by date: %+v", inRoom)
		}
	}

	upcoming, err := store.ListSchedules(ctx, persistence.ScheduleFilter{RoomIDs: []string{"r1", "r2"}, UserID: "u1", From: &to})
	if err != nil {
		t.Fatalf("ListSchedules failed: %v", err)
	}
	if len(upcoming) != 2 || !upcoming[0].Date.Equal(day(1)) || !upcoming[1].Date.Equal(day(3)) {
		t.Fatalf("unexpected upcoming schedules: %+v", upcoming)
	}

	got, err := store.GetSchedule(ctx, batch[0].ID)
	if err != nil {
		t.Fatalf("GetSchedule failed: %v", err)
	}
	if !got.Date.Equal(day(0)) || got.Status != persistence.AttendanceOffice {
		t.Fatalf("unexpected schedule: %+v", got)
	}

	if err := store.DeleteSchedule(ctx, batch[0].ID); err != nil {
		t.Fatalf("DeleteSchedule failed: %v", err)
	}
	if err := store.DeleteSchedule(ctx, batch[0].ID); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func newRequest(id string, original, next *time.Time) persistence.ChangeRequest {
	return persistence.ChangeRequest{
		ID:           id,
		RoomID:       "r1",
		UserID:       "u1",
		OriginalDate: original,
		NewDate:      next,
		Reason:       "doctor",
		Status:       persistence.RequestPending,
		CreatedAt:    base,
	}
}

func testChangeRequests(t *testing.T, store persistence.Store) {
	ctx := context.Background()
	seedRoom(t, store, "r1", "owner", "ROOM01")
	if _, err := store.CreateSchedulesIfAbsent(ctx, []persistence.OfficeSchedule{officeDay("r1", "u1", day(0))}); err != nil {
		t.Fatalf("seed schedule failed: %v", err)
	}

	original, next := day(0), day(2)
	move := newRequest("cr-move", &original, &next)
	if err := store.CreateChangeRequest(ctx, move); err != nil {
		t.Fatalf("CreateChangeRequest failed: %v", err)
	}
	later := newRequest("cr-add", nil, &next)
	later.CreatedAt = base.Add(time.Hour)
	if err := store.CreateChangeRequest(ctx, later); err != nil {
		t.Fatalf("CreateChangeRequest failed: %v", err)
	}

	pending, err := store.ListChangeRequests(ctx, persistence.ChangeRequestFilter{RoomIDs: []string{"r1"}, Status: persistence.RequestPending})
	if err != nil {
		t.Fatalf("ListChangeRequests failed: %v", err)
	}
	if len(pending) != 2 || pending[0].ID != "cr-move" {
		t.Fatalf("expected oldest first, got %+v", pending)
	}
	if pending[1].OriginalDate != nil || pending[1].NewDate == nil || !pending[1].NewDate.Equal(next) {
		t.Fatalf("unexpected add request dates: %+v", pending[1])
	}

	resolvedAt := base.Add(2 * time.Hour)
	add := officeDay("r1", "u1", next)
	result, err := store.ResolveChangeRequest(ctx, persistence.Resolution{
		RequestID:  "cr-move",
		Status:     persistence.RequestApproved,
		ResolvedAt: resolvedAt,
		ResolvedBy: "owner",
		Remove:     &persistence.ScheduleKey{RoomID: "r1", UserID: "u1", Date: original},
		Add:        &add,
	})
	if err != nil {
		t.Fatalf("ResolveChangeRequest failed: %v", err)
	}
	if result.Request.Status != persistence.RequestApproved || result.Request.ResolvedBy == nil || *result.Request.ResolvedBy != "owner" {
		t.Fatalf("unexpected resolved request: %+v", result.Request)
	}
	if result.RemovedID == "" || result.Added == nil {
		t.Fatalf("expected schedule effects, got %+v", result)
	}

	schedules, err := store.ListSchedules(ctx, persistence.ScheduleFilter{RoomIDs: []string{"r1"}, UserID: "u1"})
	if err != nil {
		t.Fatalf("ListSchedules failed: %v", err)
	}
	if len(schedules) != 1 || !schedules[0].Date.Equal(next) {
		t.Fatalf("expected a single schedule at the new date, got %+v", schedules)
	}

	_, err = store.ResolveChangeRequest(ctx, persistence.Resolution{
		RequestID:  "cr-move",
		Status:     persistence.RequestRejected,
		ResolvedAt: resolvedAt,
		ResolvedBy: "owner",
	})
	if !errors.Is(err, persistence.ErrStaleState) {
		t.Fatalf("expected ErrStaleState on second resolution, got %v", err)
	}

	addAgain := officeDay("r1", "u1", next)
	addAgain.ID = "dup-id"
	if _, err := store.ResolveChangeRequest(ctx, persistence.Resolution{
		RequestID:  "cr-add",
		Status:     persistence.RequestApproved,
		ResolvedAt: resolvedAt,
		ResolvedBy: "owner",
		Add:        &addAgain,
	}); err != nil {
		t.Fatalf("approving an add onto an occupied day should succeed, got %v", err)
	}
	schedules, err = store.ListSchedules(ctx, persistence.ScheduleFilter{RoomIDs: []string{"r1"}, UserID: "u1"})
	if err != nil {
		t.Fatalf("ListSchedules failed: %v", err)
	}
	if len(schedules) != 1 {
		t.Fatalf("expected exactly one schedule after idempotent add, got %d", len(schedules))
	}

	if _, err := store.ResolveChangeRequest(ctx, persistence.Resolution{
		RequestID:  "missing",
		Status:     persistence.RequestApproved,
		ResolvedAt: resolvedAt,
	}); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	mine, err := store.ListChangeRequests(ctx, persistence.ChangeRequestFilter{UserID: "u1"})
	if err != nil {
		t.Fatalf("ListChangeRequests failed: %v", err)
	}
	if len(mine) != 2 {
		t.Fatalf("expected 2 requests for u1, got %d", len(mine))
	}
}

func testConcurrentResolution(t *testing.T, store persistence.Store) {
	ctx := context.Background()
	seedRoom(t, store, "r1", "owner", "ROOM01")
	next := day(4)
	if err := store.CreateChangeRequest(ctx, newRequest("cr-1", nil, &next)); err != nil {
		t.Fatalf("CreateChangeRequest failed: %v", err)
	}

	const workers = 4
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			add := officeDay("r1", "u1", next)
			add.ID = fmt.Sprintf("s-%d", i)
			_, err := store.ResolveChangeRequest(ctx, persistence.Resolution{
				RequestID:  "cr-1",
				Status:     persistence.RequestApproved,
				ResolvedAt: base,
				ResolvedBy: "owner",
				Add:        &add,
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, persistence.ErrStaleState):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("expected exactly one resolution to win, got %d", succeeded)
	}
}

func testNotifications(t *testing.T, store persistence.Store) {
	ctx := context.Background()
	related := "cr-1"
	for i, n := range []persistence.Notification{
		{ID: "n1", UserID: "u1", RoomID: "r1", Type: persistence.NotificationJoinApproved, Message: "first", CreatedAt: base},
		{ID: "n2", UserID: "u1", RoomID: "r1", Type: persistence.NotificationScheduleApproved, Message: "second", CreatedAt: base.Add(time.Minute), RelatedID: &related},
		{ID: "n3", UserID: "u2", RoomID: "r1", Type: persistence.NotificationJoinRequest, Message: "other", CreatedAt: base},
	} {
		if err := store.CreateNotification(ctx, n); err != nil {
			t.Fatalf("CreateNotification %d failed: %v", i, err)
		}
	}

	list, err := store.ListNotifications(ctx, persistence.NotificationFilter{UserID: "u1"})
	if err != nil {
		t.Fatalf("ListNotifications failed: %v", err)
	}
	if len(list) != 2 || list[0].ID != "n2" {
		t.Fatalf("expected newest first, got %+v", list)
	}
	if list[0].RelatedID == nil || *list[0].RelatedID != related {
		t.Fatalf("expected related id, got %+v", list[0])
	}

	if err := store.MarkNotificationRead(ctx, "n2", "u1"); err != nil {
		t.Fatalf("MarkNotificationRead failed: %v", err)
	}
	if err := store.MarkNotificationRead(ctx, "n3", "u1"); !errors.Is(err, persistence.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for another user's notification, got %v", err)
	}

	unread, err := store.ListNotifications(ctx, persistence.NotificationFilter{UserID: "u1", UnreadOnly: true})
	if err != nil {
		t.Fatalf("ListNotifications failed: %v", err)
	}
	if len(unread) != 1 || unread[0].ID != "n1" {
		t.Fatalf("unexpected unread notifications: %+v", unread)
	}
}
