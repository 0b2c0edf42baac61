package live

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/attendance-coordinator/internal/application"
	"github.com/example/attendance-coordinator/internal/persistence"
	"github.com/example/attendance-coordinator/internal/realtime"
)

type roomsStub struct {
	mu    sync.Mutex
	rooms []application.RoomWithMembership
	err   error
	calls int
}

func (r *roomsStub) ListRoomsForUser(_ context.Context, _ application.Principal) ([]application.RoomWithMembership, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	return append([]application.RoomWithMembership(nil), r.rooms...), nil
}

func (r *roomsStub) set(rooms ...application.RoomWithMembership) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rooms = rooms
}

func membership(roomID string, role persistence.MemberRole, status persistence.MemberStatus) application.RoomWithMembership {
	return application.RoomWithMembership{
		Room:       application.Room{ID: roomID, Name: roomID},
		Membership: application.RoomMember{ID: roomID + "-m", RoomID: roomID, UserID: "u1", Role: role, Status: status},
	}
}

func nextEvent(t *testing.T, s *Session) Event {
	t.Helper()
	select {
	case ev, ok := <-s.Events():
		require.True(t, ok, "events closed unexpectedly")
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return Event{}
}

func expectView(t *testing.T, s *Session, view View) Event {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case ev, ok := <-s.Events():
			require.True(t, ok, "events closed unexpectedly")
			if ev.View == view {
				return ev
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s event", view)
		}
	}
}

func assertQuiet(t *testing.T, s *Session) {
	t.Helper()
	select {
	case ev := <-s.Events():
		t.Fatalf("unexpected event %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func newStartedSession(t *testing.T, rooms *roomsStub) (*realtime.Hub, *Session) {
	t.Helper()
	hub := realtime.NewHub(nil)
	s := NewSession(hub, rooms, application.Principal{UserID: "u1"}, nil)
	require.NoError(t, s.Start(context.Background()))
	t.Cleanup(func() {
		s.Close()
		hub.Close()
	})
	return hub, s
}

func TestSession_StartSubscribesDerivedViews(t *testing.T) {
	rooms := &roomsStub{}
	rooms.set(
		membership("r-admin", persistence.RoleAdmin, persistence.MemberActive),
		membership("r-member", persistence.RoleMember, persistence.MemberActive),
		membership("r-pending", persistence.RoleMember, persistence.MemberPending),
	)
	hub, s := newStartedSession(t, rooms)
	ctx := context.Background()

	// rooms, notifications, my requests, upcoming, join requests, pending changes
	assert.Equal(t, 6, hub.Len())

	hub.Publish(ctx, realtime.Change{Collection: realtime.CollectionChangeRequests, ID: "cr1", RoomID: "r-admin", UserID: "u2"})
	ev := nextEvent(t, s)
	assert.Equal(t, ViewPendingChanges, ev.View)
	require.NotNil(t, ev.Change)
	assert.Equal(t, "cr1", ev.Change.ID)

	hub.Publish(ctx, realtime.Change{Collection: realtime.CollectionChangeRequests, ID: "cr2", RoomID: "r-member", UserID: "u2"})
	assertQuiet(t, s)

	hub.Publish(ctx, realtime.Change{Collection: realtime.CollectionSchedules, ID: "s1", RoomID: "r-member", UserID: "u1"})
	assert.Equal(t, ViewUpcoming, nextEvent(t, s).View)

	hub.Publish(ctx, realtime.Change{Collection: realtime.CollectionSchedules, ID: "s2", RoomID: "r-pending", UserID: "u1"})
	assertQuiet(t, s)

	hub.Publish(ctx, realtime.Change{Collection: realtime.CollectionNotifications, ID: "n1", UserID: "u1"})
	assert.Equal(t, ViewNotifications, nextEvent(t, s).View)
}

func TestSession_MembershipChangeRederivesAdminViews(t *testing.T) {
	rooms := &roomsStub{}
	rooms.set(membership("r1", persistence.RoleMember, persistence.MemberPending))
	hub, s := newStartedSession(t, rooms)
	ctx := context.Background()

	hub.Publish(ctx, realtime.Change{Collection: realtime.CollectionChangeRequests, ID: "before", RoomID: "r1", UserID: "u2"})
	assertQuiet(t, s)

	rooms.set(membership("r1", persistence.RoleAdmin, persistence.MemberActive))
	hub.Publish(ctx, realtime.Change{Collection: realtime.CollectionMembers, Op: realtime.OpUpdated, ID: "r1-m", RoomID: "r1", UserID: "u1"})

	resync := map[View]bool{}
	deadline := time.After(time.Second)
	for len(resync) < 4 {
		select {
		case ev := <-s.Events():
			resync[ev.View] = true
		case <-deadline:
			t.Fatalf("missing events, got %v", resync)
		}
	}
	assert.True(t, resync[ViewRooms])
	assert.True(t, resync[ViewUpcoming])
	assert.True(t, resync[ViewPendingChanges])

	hub.Publish(ctx, realtime.Change{Collection: realtime.CollectionChangeRequests, ID: "after", RoomID: "r1", UserID: "u2"})
	ev := expectView(t, s, ViewPendingChanges)
	require.NotNil(t, ev.Change)
	assert.Equal(t, "after", ev.Change.ID)
}

func TestSession_ResyncSurvivesFullBuffer(t *testing.T) {
	rooms := &roomsStub{}
	rooms.set(membership("r1", persistence.RoleMember, persistence.MemberPending))
	hub, s := newStartedSession(t, rooms)
	ctx := context.Background()

	for i := 0; i < DefaultBuffer; i++ {
		hub.Publish(ctx, realtime.Change{Collection: realtime.CollectionNotifications, ID: "n", UserID: "u1"})
		require.Eventually(t, func() bool { return len(s.Events()) == i+1 }, time.Second, time.Millisecond)
	}

	rooms.set(membership("r1", persistence.RoleAdmin, persistence.MemberActive))
	hub.Publish(ctx, realtime.Change{Collection: realtime.CollectionMembers, Op: realtime.OpUpdated, ID: "r1-m", RoomID: "r1", UserID: "u1"})
	require.Eventually(t, func() bool {
		rooms.mu.Lock()
		defer rooms.mu.Unlock()
		return rooms.calls == 2
	}, time.Second, time.Millisecond)

	seen := map[View]int{}
	deadline := time.After(time.Second)
	for seen[ViewJoinRequests] == 0 || seen[ViewPendingChanges] == 0 || seen[ViewUpcoming] == 0 {
		select {
		case ev := <-s.Events():
			seen[ev.View]++
		case <-deadline:
			t.Fatalf("resync events lost, saw %v", seen)
		}
	}
	assert.Equal(t, DefaultBuffer, seen[ViewNotifications])
}

func TestSession_SelectRoom(t *testing.T) {
	rooms := &roomsStub{}
	rooms.set(
		membership("r1", persistence.RoleMember, persistence.MemberActive),
		membership("r2", persistence.RoleMember, persistence.MemberActive),
		membership("r3", persistence.RoleMember, persistence.MemberPending),
	)
	hub, s := newStartedSession(t, rooms)
	ctx := context.Background()
	base := hub.Len()

	assert.ErrorIs(t, s.SelectRoom("r3"), application.ErrUnauthorized)
	assert.ErrorIs(t, s.SelectRoom("unknown"), application.ErrUnauthorized)

	require.NoError(t, s.SelectRoom("r1"))
	assert.Equal(t, base+2, hub.Len())
	assert.Equal(t, "r1", s.Selected())

	hub.Publish(ctx, realtime.Change{Collection: realtime.CollectionSchedules, ID: "s1", RoomID: "r1", UserID: "u2"})
	assert.Equal(t, ViewRoomSchedules, nextEvent(t, s).View)

	require.NoError(t, s.SelectRoom("r2"))
	assert.Equal(t, base+2, hub.Len(), "previous room subscriptions are cancelled")

	hub.Publish(ctx, realtime.Change{Collection: realtime.CollectionSchedules, ID: "s2", RoomID: "r1", UserID: "u2"})
	assertQuiet(t, s)

	hub.Publish(ctx, realtime.Change{Collection: realtime.CollectionMembers, ID: "m9", RoomID: "r2", UserID: "u9"})
	assert.Equal(t, ViewRoomMembers, nextEvent(t, s).View)

	require.NoError(t, s.SelectRoom(""))
	assert.Equal(t, base, hub.Len())
}

func TestSession_LosingAccessClearsSelection(t *testing.T) {
	rooms := &roomsStub{}
	rooms.set(membership("r1", persistence.RoleMember, persistence.MemberActive))
	hub, s := newStartedSession(t, rooms)

	require.NoError(t, s.SelectRoom("r1"))
	rooms.set()
	hub.Publish(context.Background(), realtime.Change{Collection: realtime.CollectionMembers, Op: realtime.OpDeleted, ID: "r1-m", RoomID: "r1", UserID: "u1"})

	expectView(t, s, ViewRooms)
	assert.Eventually(t, func() bool { return s.Selected() == "" }, time.Second, 10*time.Millisecond)
}

func TestSession_Close(t *testing.T) {
	hub := realtime.NewHub(nil)
	defer hub.Close()
	s := NewSession(hub, &roomsStub{}, application.Principal{UserID: "u1"}, nil)
	require.NoError(t, s.Start(context.Background()))
	require.NotZero(t, hub.Len())

	s.Close()
	s.Close()
	assert.Equal(t, 0, hub.Len())

	_, ok := <-s.Events()
	assert.False(t, ok, "events closed")
	select {
	case <-s.Done():
	default:
		t.Fatal("done not closed")
	}

	assert.ErrorIs(t, s.SelectRoom("r1"), ErrSessionClosed)
	assert.ErrorIs(t, s.Start(context.Background()), ErrSessionClosed)
}

func TestSession_StartErrors(t *testing.T) {
	hub := realtime.NewHub(nil)
	defer hub.Close()

	anonymous := NewSession(hub, &roomsStub{}, application.Principal{}, nil)
	assert.ErrorIs(t, anonymous.Start(context.Background()), application.ErrUnauthorized)

	boom := errors.New("store down")
	failing := NewSession(hub, &roomsStub{err: boom}, application.Principal{UserID: "u1"}, nil)
	assert.ErrorIs(t, failing.Start(context.Background()), boom)
	failing.Close()
	assert.Equal(t, 0, hub.Len())
}

func TestSameFilter(t *testing.T) {
	a := realtime.Filter{Collection: realtime.CollectionMembers, RoomIDs: []string{"r1"}}
	assert.True(t, sameFilter(a, realtime.Filter{Collection: realtime.CollectionMembers, RoomIDs: []string{"r1"}}))
	assert.False(t, sameFilter(a, realtime.Filter{Collection: realtime.CollectionMembers, RoomIDs: []string{"r2"}}))
	assert.False(t, sameFilter(realtime.Filter{RoomIDs: []string{}}, realtime.Filter{}))
}
