package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/example/attendance-coordinator/internal/persistence"
)

// ScheduleRepository implements persistence.ScheduleRepository using SQLite
type ScheduleRepository struct {
	pool   *ConnectionPool
	mapper ErrorMapper
}

// NewScheduleRepository creates a new SQLite schedule repository
func NewScheduleRepository(pool *ConnectionPool) *ScheduleRepository {
	return &ScheduleRepository{pool: pool}
}

const scheduleColumns = `id, room_id, user_id, date, status, created_at`

// CreateSchedulesIfAbsent inserts every schedule whose (room, user, date) slot
// is free. The batch is applied in one transaction.
func (r *ScheduleRepository) CreateSchedulesIfAbsent(ctx context.Context, schedules []persistence.OfficeSchedule) ([]persistence.OfficeSchedule, error) {
	if len(schedules) == 0 {
		return nil, nil
	}

	var created []persistence.OfficeSchedule
	err := r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
		created = created[:0]
		for _, schedule := range schedules {
			ok, err := insertScheduleIfAbsent(ctx, tx, schedule)
			if err != nil {
				return r.mapper.MapError(err)
			}
			if ok {
				created = append(created, schedule)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func insertScheduleIfAbsent(ctx context.Context, db execer, schedule persistence.OfficeSchedule) (bool, error) {
	if schedule.ID == "" {
		return false, fmt.Errorf("sqlite: schedule id is required")
	}
	result, err := db.ExecContext(ctx, `
		INSERT INTO office_schedules (`+scheduleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(room_id, user_id, date) DO NOTHING`,
		schedule.ID,
		schedule.RoomID,
		schedule.UserID,
		formatDate(schedule.Date),
		string(schedule.Status),
		formatTime(schedule.CreatedAt),
	)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return affected > 0, nil
}

// GetSchedule retrieves a schedule by ID.
func (r *ScheduleRepository) GetSchedule(ctx context.Context, id string) (persistence.OfficeSchedule, error) {
	if id == "" {
		return persistence.OfficeSchedule{}, persistence.ErrNotFound
	}
	schedule, err := scanSchedule(r.pool.DB().QueryRowContext(ctx, `SELECT `+scheduleColumns+` FROM office_schedules WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return persistence.OfficeSchedule{}, persistence.ErrNotFound
		}
		return persistence.OfficeSchedule{}, r.mapper.MapError(err)
	}
	return schedule, nil
}

// DeleteSchedule removes a schedule by ID.
func (r *ScheduleRepository) DeleteSchedule(ctx context.Context, id string) error {
	result, err := r.pool.DB().ExecContext(ctx, `DELETE FROM office_schedules WHERE id = ?`, id)
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

// ListSchedules returns schedules matching the filter ordered by date then user.
func (r *ScheduleRepository) ListSchedules(ctx context.Context, filter persistence.ScheduleFilter) ([]persistence.OfficeSchedule, error) {
	var clauses []string
	var args []any

	if filter.RoomIDs != nil {
		if len(filter.RoomIDs) == 0 {
			return nil, nil
		}
		var clause string
		clause, args = inClause("room_id", filter.RoomIDs, args)
		clauses = append(clauses, clause)
	}
	if filter.UserID != "" {
		clauses = append(clauses, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.From != nil {
		clauses = append(clauses, "date >= ?")
		args = append(args, formatDate(*filter.From))
	}
	if filter.To != nil {
		clauses = append(clauses, "date <= ?")
		args = append(args, formatDate(*filter.To))
	}

	query := `SELECT ` + scheduleColumns + ` FROM office_schedules`
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY date ASC, user_id ASC, room_id ASC`

	rows, err := r.pool.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	var schedules []persistence.OfficeSchedule
	for rows.Next() {
		schedule, err := scanSchedule(rows)
		if err != nil {
			return nil, r.mapper.MapError(err)
		}
		schedules = append(schedules, schedule)
	}
	if err := rows.Err(); err != nil {
		return nil, r.mapper.MapError(err)
	}
	return schedules, nil
}

func scanSchedule(row rowScanner) (persistence.OfficeSchedule, error) {
	var schedule persistence.OfficeSchedule
	var date, status, createdAt string
	if err := row.Scan(&schedule.ID, &schedule.RoomID, &schedule.UserID, &date, &status, &createdAt); err != nil {
		return persistence.OfficeSchedule{}, err
	}
	schedule.Status = persistence.AttendanceStatus(status)
	var err error
	if schedule.Date, err = parseDate(date); err != nil {
		return persistence.OfficeSchedule{}, err
	}
	if schedule.CreatedAt, err = parseTime(createdAt); err != nil {
		return persistence.OfficeSchedule{}, err
	}
	return schedule, nil
}
