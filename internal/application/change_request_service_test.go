package application_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/example/attendance-coordinator/internal/application"
	"github.com/example/attendance-coordinator/internal/persistence"
	"github.com/example/attendance-coordinator/internal/realtime"
	"github.com/example/attendance-coordinator/internal/testfixtures"
)

type changeRoom struct {
	*env
	admin testfixtures.UserFixture
	user  testfixtures.UserFixture
	room  testfixtures.RoomFixture
}

func newChangeRoom(t *testing.T) *changeRoom {
	t.Helper()
	e := newEnv(t)
	admin := e.seed.User(testfixtures.WithUserName("Ada"))
	user := e.seed.User(testfixtures.WithUserName("Uma"))
	room := e.seed.Room(admin, testfixtures.WithRoomName("Studio"))
	e.seed.Member(room, user)
	return &changeRoom{env: e, admin: admin, user: user, room: room}
}

func (c *changeRoom) request(t *testing.T, original, proposed *time.Time) application.ChangeRequest {
	t.Helper()
	request, err := c.services.ChangeRequests.RequestChange(context.Background(), application.RequestChangeParams{
		Principal:    c.user.Principal(),
		RoomID:       c.room.ID,
		OriginalDate: original,
		NewDate:      proposed,
		Reason:       "dentist",
	})
	if err != nil {
		t.Fatalf("request change: %v", err)
	}
	return request
}

func (c *changeRoom) userSchedules(t *testing.T) []persistence.OfficeSchedule {
	t.Helper()
	list, err := c.store.ListSchedules(context.Background(), persistence.ScheduleFilter{
		RoomIDs: []string{c.room.ID},
		UserID:  c.user.ID,
	})
	if err != nil {
		t.Fatalf("list schedules: %v", err)
	}
	return list
}

func TestChangeRequestService_RequestChange(t *testing.T) {
	ctx := context.Background()

	t.Run("pending request notifies admins", func(t *testing.T) {
		c := newChangeRoom(t)
		sub := c.services.Hub.Subscribe(realtime.Filter{Collection: realtime.CollectionChangeRequests, RoomIDs: []string{c.room.ID}}, 2)
		defer sub.Cancel()

		request := c.request(t, testfixtures.DayPtr(1), testfixtures.DayPtr(2))
		if request.Status != persistence.RequestPending || request.UserID != c.user.ID || request.Reason != "dentist" {
			t.Fatalf("unexpected request %+v", request)
		}

		notes := c.notificationsFor(t, c.admin.ID)
		if len(notes) != 1 || notes[0].Type != persistence.NotificationScheduleRequest {
			t.Fatalf("expected one schedule request notification, got %+v", notes)
		}
		if !strings.Contains(notes[0].Message, "Uma") || !strings.Contains(notes[0].Message, "move 2024-03-05 to 2024-03-06") {
			t.Fatalf("unexpected message %q", notes[0].Message)
		}

		change := <-sub.Events()
		if change.Op != realtime.OpCreated || change.ID != request.ID {
			t.Fatalf("unexpected change %+v", change)
		}
	})

	t.Run("validation", func(t *testing.T) {
		c := newChangeRoom(t)
		tests := map[string]application.RequestChangeParams{
			"no dates":  {},
			"same date": {OriginalDate: testfixtures.DayPtr(1), NewDate: testfixtures.DayPtr(1)},
			"long reason": {
				NewDate: testfixtures.DayPtr(1),
				Reason:  strings.Repeat("x", 501),
			},
		}
		for name, params := range tests {
			t.Run(name, func(t *testing.T) {
				params.Principal = c.user.Principal()
				params.RoomID = c.room.ID
				_, err := c.services.ChangeRequests.RequestChange(ctx, params)
				var vErr *application.ValidationError
				if !errors.As(err, &vErr) {
					t.Fatalf("expected ValidationError, got %v", err)
				}
			})
		}
	})

	t.Run("non-members cannot request", func(t *testing.T) {
		c := newChangeRoom(t)
		outsider := c.seed.User()
		_, err := c.services.ChangeRequests.RequestChange(ctx, application.RequestChangeParams{
			Principal: outsider.Principal(),
			RoomID:    c.room.ID,
			NewDate:   testfixtures.DayPtr(1),
		})
		if !errors.Is(err, application.ErrUnauthorized) {
			t.Fatalf("expected ErrUnauthorized, got %v", err)
		}
	})
}

func TestChangeRequestService_Approve(t *testing.T) {
	ctx := context.Background()

	t.Run("move leaves one office day on the new date", func(t *testing.T) {
		c := newChangeRoom(t)
		original := c.seed.OfficeDay(c.room, c.user, 1)
		request := c.request(t, testfixtures.DayPtr(1), testfixtures.DayPtr(3))

		sub := c.services.Hub.Subscribe(realtime.Filter{Collection: realtime.CollectionSchedules, RoomIDs: []string{c.room.ID}}, 4)
		defer sub.Cancel()

		approved, err := c.services.ChangeRequests.ApproveChangeRequest(ctx, c.admin.Principal(), request.ID)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if approved.Status != persistence.RequestApproved || approved.ResolvedBy == nil || *approved.ResolvedBy != c.admin.ID {
			t.Fatalf("unexpected resolution %+v", approved)
		}
		if approved.ResolvedAt == nil || !approved.ResolvedAt.Equal(testfixtures.ReferenceTime()) {
			t.Fatalf("expected resolved timestamp, got %v", approved.ResolvedAt)
		}

		schedules := c.userSchedules(t)
		if len(schedules) != 1 {
			t.Fatalf("expected exactly one schedule, got %d", len(schedules))
		}
		if !schedules[0].Date.Equal(testfixtures.Day(3)) || schedules[0].Status != persistence.AttendanceOffice {
			t.Fatalf("expected office day on the new date, got %+v", schedules[0])
		}

		deleted := <-sub.Events()
		if deleted.Op != realtime.OpDeleted || deleted.ID != original.ID {
			t.Fatalf("expected deletion of original, got %+v", deleted)
		}
		created := <-sub.Events()
		if created.Op != realtime.OpCreated || created.ID != schedules[0].ID {
			t.Fatalf("expected creation of new day, got %+v", created)
		}

		notes := c.notificationsFor(t, c.user.ID)
		if len(notes) != 1 || notes[0].Type != persistence.NotificationScheduleApproved {
			t.Fatalf("expected approval notification, got %+v", notes)
		}
	})

	t.Run("move onto an already scheduled day keeps a single record", func(t *testing.T) {
		c := newChangeRoom(t)
		c.seed.OfficeDay(c.room, c.user, 1)
		existing := c.seed.OfficeDay(c.room, c.user, 3)
		request := c.request(t, testfixtures.DayPtr(1), testfixtures.DayPtr(3))

		if _, err := c.services.ChangeRequests.ApproveChangeRequest(ctx, c.admin.Principal(), request.ID); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		schedules := c.userSchedules(t)
		if len(schedules) != 1 || schedules[0].ID != existing.ID {
			t.Fatalf("expected the existing day to remain alone, got %+v", schedules)
		}
	})

	t.Run("add creates one schedule and removes nothing", func(t *testing.T) {
		c := newChangeRoom(t)
		c.seed.OfficeDay(c.room, c.user, 1)
		request := c.request(t, nil, testfixtures.DayPtr(4))

		if _, err := c.services.ChangeRequests.ApproveChangeRequest(ctx, c.admin.Principal(), request.ID); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		schedules := c.userSchedules(t)
		if len(schedules) != 2 {
			t.Fatalf("expected two schedules, got %d", len(schedules))
		}
		if !schedules[0].Date.Equal(testfixtures.Day(1)) || !schedules[1].Date.Equal(testfixtures.Day(4)) {
			t.Fatalf("unexpected days %s, %s", schedules[0].Date, schedules[1].Date)
		}
	})

	t.Run("delete removes and creates nothing", func(t *testing.T) {
		c := newChangeRoom(t)
		c.seed.OfficeDay(c.room, c.user, 1)
		c.seed.OfficeDay(c.room, c.user, 2)
		request := c.request(t, testfixtures.DayPtr(1), nil)

		if _, err := c.services.ChangeRequests.ApproveChangeRequest(ctx, c.admin.Principal(), request.ID); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		schedules := c.userSchedules(t)
		if len(schedules) != 1 || !schedules[0].Date.Equal(testfixtures.Day(2)) {
			t.Fatalf("expected only day 2 to remain, got %+v", schedules)
		}
	})

	t.Run("resolving twice conflicts", func(t *testing.T) {
		c := newChangeRoom(t)
		request := c.request(t, nil, testfixtures.DayPtr(4))

		if _, err := c.services.ChangeRequests.ApproveChangeRequest(ctx, c.admin.Principal(), request.ID); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, err := c.services.ChangeRequests.ApproveChangeRequest(ctx, c.admin.Principal(), request.ID); !errors.Is(err, application.ErrConflict) {
			t.Fatalf("expected ErrConflict on second approve, got %v", err)
		}
		if _, err := c.services.ChangeRequests.RejectChangeRequest(ctx, c.admin.Principal(), request.ID); !errors.Is(err, application.ErrConflict) {
			t.Fatalf("expected ErrConflict on reject after approve, got %v", err)
		}
		if got := len(c.userSchedules(t)); got != 1 {
			t.Fatalf("expected a single schedule after repeated resolution, got %d", got)
		}
	})

	t.Run("non-admins cannot resolve", func(t *testing.T) {
		c := newChangeRoom(t)
		request := c.request(t, nil, testfixtures.DayPtr(4))

		if _, err := c.services.ChangeRequests.ApproveChangeRequest(ctx, c.user.Principal(), request.ID); !errors.Is(err, application.ErrUnauthorized) {
			t.Fatalf("expected ErrUnauthorized on approve, got %v", err)
		}
		if _, err := c.services.ChangeRequests.RejectChangeRequest(ctx, c.user.Principal(), request.ID); !errors.Is(err, application.ErrUnauthorized) {
			t.Fatalf("expected ErrUnauthorized on reject, got %v", err)
		}
	})

	t.Run("unknown request", func(t *testing.T) {
		c := newChangeRoom(t)
		if _, err := c.services.ChangeRequests.ApproveChangeRequest(ctx, c.admin.Principal(), "missing"); !errors.Is(err, application.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestChangeRequestService_Reject(t *testing.T) {
	ctx := context.Background()
	c := newChangeRoom(t)
	c.seed.OfficeDay(c.room, c.user, 1)
	request := c.request(t, testfixtures.DayPtr(1), testfixtures.DayPtr(2))

	rejected, err := c.services.ChangeRequests.RejectChangeRequest(ctx, c.admin.Principal(), request.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rejected.Status != persistence.RequestRejected {
		t.Fatalf("expected rejected status, got %s", rejected.Status)
	}

	schedules := c.userSchedules(t)
	if len(schedules) != 1 || !schedules[0].Date.Equal(testfixtures.Day(1)) {
		t.Fatalf("expected schedules untouched, got %+v", schedules)
	}
	notes := c.notificationsFor(t, c.user.ID)
	if len(notes) != 1 || notes[0].Type != persistence.NotificationScheduleRejected {
		t.Fatalf("expected rejection notification, got %+v", notes)
	}
}

func TestChangeRequestService_Listings(t *testing.T) {
	ctx := context.Background()
	c := newChangeRoom(t)
	clock := c.factory.Clock

	first := c.request(t, nil, testfixtures.DayPtr(1))
	clock.Advance(time.Minute)
	second := c.request(t, nil, testfixtures.DayPtr(2))
	clock.Advance(time.Minute)
	resolved := c.request(t, nil, testfixtures.DayPtr(3))
	if _, err := c.services.ChangeRequests.RejectChangeRequest(ctx, c.admin.Principal(), resolved.ID); err != nil {
		t.Fatalf("reject: %v", err)
	}

	pending, err := c.services.ChangeRequests.ListPendingForAdmin(ctx, c.admin.Principal())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(pending) != 2 || pending[0].Request.ID != first.ID || pending[1].Request.ID != second.ID {
		t.Fatalf("expected pending requests oldest first, got %+v", pending)
	}
	if pending[0].User == nil || pending[0].User.Name != "Uma" || pending[0].Room == nil || pending[0].Room.Name != "Studio" {
		t.Fatalf("expected request details, got %+v", pending[0])
	}

	none, err := c.services.ChangeRequests.ListPendingForAdmin(ctx, c.user.Principal())
	if err != nil || len(none) != 0 {
		t.Fatalf("expected nothing for non-admin, got %+v, %v", none, err)
	}

	mine, err := c.services.ChangeRequests.ListRequestsForUser(ctx, c.user.Principal(), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(mine) != 3 || mine[0].Request.ID != resolved.ID {
		t.Fatalf("expected own requests newest first, got %+v", mine)
	}

	onlyPending, err := c.services.ChangeRequests.ListRequestsForUser(ctx, c.user.Principal(), persistence.RequestPending)
	if err != nil || len(onlyPending) != 2 {
		t.Fatalf("expected two pending requests, got %+v, %v", onlyPending, err)
	}
}
