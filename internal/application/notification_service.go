package application

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/attendance-coordinator/internal/persistence"
	"github.com/example/attendance-coordinator/internal/realtime"
)

// DefaultNotificationLimit caps notification listings when no limit is given.
const DefaultNotificationLimit = 50

// NotificationStore captures the persistence operations needed by NotificationService.
type NotificationStore interface {
	CreateNotification(ctx context.Context, notification Notification) error
	ListNotifications(ctx context.Context, filter persistence.NotificationFilter) ([]Notification, error)
	MarkNotificationRead(ctx context.Context, id, userID string) error
}

// NotificationService records in-app notifications and serves them to their recipients.
type NotificationService struct {
	store       NotificationStore
	publisher   realtime.Publisher
	idGenerator func() string
	now         func() time.Time
	logger      *slog.Logger
}

// NewNotificationService constructs a notification service with the provided dependencies.
func NewNotificationService(store NotificationStore, publisher realtime.Publisher, idGenerator func() string, now func() time.Time) *NotificationService {
	return NewNotificationServiceWithLogger(store, publisher, idGenerator, now, nil)
}

// NewNotificationServiceWithLogger constructs a notification service with a specified logger.
func NewNotificationServiceWithLogger(store NotificationStore, publisher realtime.Publisher, idGenerator func() string, now func() time.Time, logger *slog.Logger) *NotificationService {
	if idGenerator == nil {
		idGenerator = func() string { return "" }
	}
	if now == nil {
		now = time.Now
	}
	return &NotificationService{store: store, publisher: publisher, idGenerator: idGenerator, now: now, logger: defaultLogger(logger)}
}

func (s *NotificationService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "NotificationService", operation, attrs...)
}

// Notify stores a notification. Failures are logged and never surface to the caller.
func (s *NotificationService) Notify(ctx context.Context, notification Notification) {
	if s == nil || s.store == nil {
		return
	}

	notification.ID = s.idGenerator()
	notification.CreatedAt = s.now()
	notification.Read = false

	logger := s.loggerWith(ctx, "Notify",
		"recipient_id", notification.UserID,
		"notification_type", notification.Type,
	)
	if err := s.store.CreateNotification(ctx, notification); err != nil {
		logger.WarnContext(ctx, "failed to store notification", "error", err)
		return
	}
	logger.DebugContext(ctx, "notification stored", "notification_id", notification.ID)

	publish(ctx, s.publisher, realtime.Change{
		Collection: realtime.CollectionNotifications,
		Op:         realtime.OpCreated,
		ID:         notification.ID,
		RoomID:     notification.RoomID,
		UserID:     notification.UserID,
	})
}

// ListNotifications returns the caller's notifications newest first.
func (s *NotificationService) ListNotifications(ctx context.Context, principal Principal, unreadOnly bool, limit int) ([]Notification, error) {
	if s == nil {
		return nil, fmt.Errorf("NotificationService is nil")
	}
	if s.store == nil {
		return nil, fmt.Errorf("notification store not configured")
	}
	if principal.UserID == "" {
		return nil, ErrUnauthorized
	}
	if limit <= 0 {
		limit = DefaultNotificationLimit
	}

	notifications, err := s.store.ListNotifications(ctx, persistence.NotificationFilter{
		UserID:     principal.UserID,
		UnreadOnly: unreadOnly,
		Limit:      limit,
	})
	if err != nil {
		return nil, mapRepoError("list notifications", err)
	}
	return notifications, nil
}

// MarkRead marks one of the caller's notifications as read.
func (s *NotificationService) MarkRead(ctx context.Context, principal Principal, notificationID string) error {
	if s == nil {
		return fmt.Errorf("NotificationService is nil")
	}
	if s.store == nil {
		return fmt.Errorf("notification store not configured")
	}
	if principal.UserID == "" {
		return ErrUnauthorized
	}

	if err := s.store.MarkNotificationRead(ctx, notificationID, principal.UserID); err != nil {
		err = mapRepoError("mark notification read", err)
		s.loggerWith(ctx, "MarkRead", "principal_id", principal.UserID, "notification_id", notificationID).
			ErrorContext(ctx, "failed to mark notification read", "error", err, "error_kind", ErrorKind(err))
		return err
	}

	publish(ctx, s.publisher, realtime.Change{
		Collection: realtime.CollectionNotifications,
		Op:         realtime.OpUpdated,
		ID:         notificationID,
		UserID:     principal.UserID,
	})
	return nil
}
