package application_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/example/attendance-coordinator/internal/application"
	"github.com/example/attendance-coordinator/internal/persistence"
	"github.com/example/attendance-coordinator/internal/realtime"
)

func TestNotificationService(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	user := e.seed.User()
	other := e.seed.User()

	sub := e.services.Hub.Subscribe(realtime.Filter{Collection: realtime.CollectionNotifications, UserID: user.ID}, 8)
	defer sub.Cancel()

	for i := 0; i < 3; i++ {
		e.services.Notifications.Notify(ctx, application.Notification{
			UserID:  user.ID,
			Type:    persistence.NotificationJoinApproved,
			Message: "welcome",
		})
		e.factory.Clock.Advance(time.Second)
	}
	e.services.Notifications.Notify(ctx, application.Notification{UserID: other.ID, Type: persistence.NotificationJoinRejected})

	if got := len(sub.Events()); got != 3 {
		t.Fatalf("expected 3 published changes, got %d", got)
	}

	list, err := e.services.Notifications.ListNotifications(ctx, user.Principal(), false, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list) != 3 {
		t.Fatalf("expected 3 notifications, got %d", len(list))
	}
	if !list[0].CreatedAt.After(list[2].CreatedAt) {
		t.Fatalf("expected newest first, got %s then %s", list[0].CreatedAt, list[2].CreatedAt)
	}

	limited, err := e.services.Notifications.ListNotifications(ctx, user.Principal(), false, 2)
	if err != nil || len(limited) != 2 {
		t.Fatalf("expected limit to apply, got %d, %v", len(limited), err)
	}

	t.Run("mark read", func(t *testing.T) {
		if err := e.services.Notifications.MarkRead(ctx, user.Principal(), list[0].ID); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		unread, err := e.services.Notifications.ListNotifications(ctx, user.Principal(), true, 0)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(unread) != 2 {
			t.Fatalf("expected 2 unread, got %d", len(unread))
		}
	})

	t.Run("cannot mark another user's notification", func(t *testing.T) {
		if err := e.services.Notifications.MarkRead(ctx, other.Principal(), list[1].ID); !errors.Is(err, application.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("anonymous caller", func(t *testing.T) {
		if _, err := e.services.Notifications.ListNotifications(ctx, application.Principal{}, false, 0); !errors.Is(err, application.ErrUnauthorized) {
			t.Fatalf("expected ErrUnauthorized, got %v", err)
		}
	})
}
