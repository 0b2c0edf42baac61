package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/example/attendance-coordinator/internal/persistence"
)

// ChangeRequestRepository implements persistence.ChangeRequestRepository using SQLite
type ChangeRequestRepository struct {
	pool   *ConnectionPool
	mapper ErrorMapper
}

// NewChangeRequestRepository creates a new SQLite change request repository
func NewChangeRequestRepository(pool *ConnectionPool) *ChangeRequestRepository {
	return &ChangeRequestRepository{pool: pool}
}

const requestColumns = `id, room_id, user_id, original_date, new_date, reason, status, created_at, resolved_at, resolved_by`

// CreateChangeRequest inserts a change request.
func (r *ChangeRequestRepository) CreateChangeRequest(ctx context.Context, request persistence.ChangeRequest) error {
	if request.ID == "" {
		return fmt.Errorf("sqlite: change request id is required")
	}
	var resolvedAt, resolvedBy sql.NullString
	if request.ResolvedAt != nil {
		resolvedAt = sql.NullString{String: formatTime(*request.ResolvedAt), Valid: true}
	}
	if request.ResolvedBy != nil {
		resolvedBy = sql.NullString{String: *request.ResolvedBy, Valid: true}
	}
	_, err := r.pool.DB().ExecContext(ctx,
		`INSERT INTO change_requests (`+requestColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		request.ID,
		request.RoomID,
		request.UserID,
		nullableDate(request.OriginalDate),
		nullableDate(request.NewDate),
		request.Reason,
		string(request.Status),
		formatTime(request.CreatedAt),
		resolvedAt,
		resolvedBy,
	)
	return r.mapper.MapError(err)
}

// GetChangeRequest retrieves a change request by ID.
func (r *ChangeRequestRepository) GetChangeRequest(ctx context.Context, id string) (persistence.ChangeRequest, error) {
	if id == "" {
		return persistence.ChangeRequest{}, persistence.ErrNotFound
	}
	request, err := scanChangeRequest(r.pool.DB().QueryRowContext(ctx, `SELECT `+requestColumns+` FROM change_requests WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return persistence.ChangeRequest{}, persistence.ErrNotFound
		}
		return persistence.ChangeRequest{}, r.mapper.MapError(err)
	}
	return request, nil
}

// ListChangeRequests returns matching requests oldest first.
func (r *ChangeRequestRepository) ListChangeRequests(ctx context.Context, filter persistence.ChangeRequestFilter) ([]persistence.ChangeRequest, error) {
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
	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(filter.Status))
	}

	query := `SELECT ` + requestColumns + ` FROM change_requests`
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := r.pool.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	var requests []persistence.ChangeRequest
	for rows.Next() {
		request, err := scanChangeRequest(rows)
		if err != nil {
			return nil, r.mapper.MapError(err)
		}
		requests = append(requests, request)
	}
	if err := rows.Err(); err != nil {
		return nil, r.mapper.MapError(err)
	}
	return requests, nil
}

// ResolveChangeRequest moves a pending request to its terminal status and
// applies the schedule effects in the same transaction.
func (r *ChangeRequestRepository) ResolveChangeRequest(ctx context.Context, resolution persistence.Resolution) (persistence.ResolutionResult, error) {
	if resolution.Status != persistence.RequestApproved && resolution.Status != persistence.RequestRejected {
		return persistence.ResolutionResult{}, fmt.Errorf("sqlite: %q is not a terminal request status", resolution.Status)
	}

	var result persistence.ResolutionResult
	err := r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
		result = persistence.ResolutionResult{}

		updated, err := tx.ExecContext(ctx, `
			UPDATE change_requests
			SET status = ?, resolved_at = ?, resolved_by = ?
			WHERE id = ? AND status = ?`,
			string(resolution.Status),
			formatTime(resolution.ResolvedAt),
			resolution.ResolvedBy,
			resolution.RequestID,
			string(persistence.RequestPending),
		)
		if err != nil {
			return r.mapper.MapError(err)
		}
		affected, err := updated.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}

		request, err := scanChangeRequest(tx.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM change_requests WHERE id = ?`, resolution.RequestID))
		if err != nil {
			return r.mapper.MapError(err)
		}
		if affected == 0 {
			return persistence.ErrStaleState
		}
		result.Request = request

		if key := resolution.Remove; key != nil {
			var id string
			err := tx.QueryRowContext(ctx,
				`SELECT id FROM office_schedules WHERE room_id = ? AND user_id = ? AND date = ?`,
				key.RoomID, key.UserID, formatDate(key.Date),
			).Scan(&id)
			switch {
			case errors.Is(err, sql.ErrNoRows):
			case err != nil:
				return r.mapper.MapError(err)
			default:
				if _, err := tx.ExecContext(ctx, `DELETE FROM office_schedules WHERE id = ?`, id); err != nil {
					return r.mapper.MapError(err)
				}
				result.RemovedID = id
			}
		}

		if add := resolution.Add; add != nil {
			created, err := insertScheduleIfAbsent(ctx, tx, *add)
			if err != nil {
				return r.mapper.MapError(err)
			}
			if !created {
				if _, err := tx.ExecContext(ctx,
					`UPDATE office_schedules SET status = ? WHERE room_id = ? AND user_id = ? AND date = ?`,
					string(add.Status), add.RoomID, add.UserID, formatDate(add.Date),
				); err != nil {
					return r.mapper.MapError(err)
				}
			}
			stored, err := scanSchedule(tx.QueryRowContext(ctx,
				`SELECT `+scheduleColumns+` FROM office_schedules WHERE room_id = ? AND user_id = ? AND date = ?`,
				add.RoomID, add.UserID, formatDate(add.Date),
			))
			if err != nil {
				return r.mapper.MapError(err)
			}
			result.Added = &stored
		}
		return nil
	})
	if err != nil {
		return persistence.ResolutionResult{}, err
	}
	return result, nil
}

func scanChangeRequest(row rowScanner) (persistence.ChangeRequest, error) {
	var request persistence.ChangeRequest
	var originalDate, newDate, resolvedAt, resolvedBy sql.NullString
	var status, createdAt string
	if err := row.Scan(
		&request.ID,
		&request.RoomID,
		&request.UserID,
		&originalDate,
		&newDate,
		&request.Reason,
		&status,
		&createdAt,
		&resolvedAt,
		&resolvedBy,
	); err != nil {
		return persistence.ChangeRequest{}, err
	}

	request.Status = persistence.RequestStatus(status)
	var err error
	if request.OriginalDate, err = scanNullableDate(originalDate); err != nil {
		return persistence.ChangeRequest{}, err
	}
	if request.NewDate, err = scanNullableDate(newDate); err != nil {
		return persistence.ChangeRequest{}, err
	}
	if request.CreatedAt, err = parseTime(createdAt); err != nil {
		return persistence.ChangeRequest{}, err
	}
	if resolvedAt.Valid {
		t, err := parseTime(resolvedAt.String)
		if err != nil {
			return persistence.ChangeRequest{}, err
		}
		request.ResolvedAt = &t
	}
	if resolvedBy.Valid {
		by := resolvedBy.String
		request.ResolvedBy = &by
	}
	return request, nil
}
