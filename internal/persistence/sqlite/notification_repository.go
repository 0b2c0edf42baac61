package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/example/attendance-coordinator/internal/persistence"
)

// NotificationRepository implements persistence.NotificationRepository using SQLite
type NotificationRepository struct {
	pool   *ConnectionPool
	mapper ErrorMapper
}

// NewNotificationRepository creates a new SQLite notification repository
func NewNotificationRepository(pool *ConnectionPool) *NotificationRepository {
	return &NotificationRepository{pool: pool}
}

const notificationColumns = `id, user_id, room_id, type, message, read, created_at, related_id`

// CreateNotification inserts a notification.
func (r *NotificationRepository) CreateNotification(ctx context.Context, notification persistence.Notification) error {
	var related sql.NullString
	if notification.RelatedID != nil {
		related = sql.NullString{String: *notification.RelatedID, Valid: true}
	}
	_, err := r.pool.DB().ExecContext(ctx,
		`INSERT INTO notifications (`+notificationColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		notification.ID,
		notification.UserID,
		notification.RoomID,
		string(notification.Type),
		notification.Message,
		notification.Read,
		formatTime(notification.CreatedAt),
		related,
	)
	return r.mapper.MapError(err)
}

// ListNotifications returns a user's notifications newest first.
func (r *NotificationRepository) ListNotifications(ctx context.Context, filter persistence.NotificationFilter) ([]persistence.Notification, error) {
	query := `SELECT ` + notificationColumns + ` FROM notifications WHERE user_id = ?`
	args := []any{filter.UserID}
	if filter.UnreadOnly {
		query += ` AND read = 0`
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := r.pool.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	var notifications []persistence.Notification
	for rows.Next() {
		var n persistence.Notification
		var kind, createdAt string
		var related sql.NullString
		if err := rows.Scan(&n.ID, &n.UserID, &n.RoomID, &kind, &n.Message, &n.Read, &createdAt, &related); err != nil {
			return nil, r.mapper.MapError(err)
		}
		n.Type = persistence.NotificationType(kind)
		if n.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		if related.Valid {
			id := related.String
			n.RelatedID = &id
		}
		notifications = append(notifications, n)
	}
	if err := rows.Err(); err != nil {
		return nil, r.mapper.MapError(err)
	}
	return notifications, nil
}

// MarkNotificationRead flags a notification owned by userID as read.
func (r *NotificationRepository) MarkNotificationRead(ctx context.Context, id, userID string) error {
	result, err := r.pool.DB().ExecContext(ctx, `UPDATE notifications SET read = 1 WHERE id = ? AND user_id = ?`, id, userID)
	if err != nil {
		return r.mapper.MapError(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return persistence.ErrNotFound
	}
	return nil
}
