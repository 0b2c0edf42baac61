package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/example/attendance-coordinator/internal/persistence"
)

// MembershipRepository implements persistence.MembershipRepository using SQLite
type MembershipRepository struct {
	pool   *ConnectionPool
	mapper ErrorMapper
}

// NewMembershipRepository creates a new SQLite membership repository
func NewMembershipRepository(pool *ConnectionPool) *MembershipRepository {
	return &MembershipRepository{pool: pool}
}

const memberColumns = `id, room_id, user_id, role, status, created_at`

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertMembership(ctx context.Context, db execer, member persistence.RoomMember) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO room_members (`+memberColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		member.ID, member.RoomID, member.UserID, string(member.Role), string(member.Status), formatTime(member.CreatedAt),
	)
	return err
}

// CreateMembership inserts a membership. A second membership for the same
// room and user fails with persistence.ErrDuplicate.
func (r *MembershipRepository) CreateMembership(ctx context.Context, member persistence.RoomMember) error {
	if member.ID == "" {
		return fmt.Errorf("sqlite: membership id is required")
	}
	return r.mapper.MapError(insertMembership(ctx, r.pool.DB(), member))
}

// GetMembership retrieves a membership by ID.
func (r *MembershipRepository) GetMembership(ctx context.Context, id string) (persistence.RoomMember, error) {
	if id == "" {
		return persistence.RoomMember{}, persistence.ErrNotFound
	}
	return r.getOne(ctx, `SELECT `+memberColumns+` FROM room_members WHERE id = ?`, id)
}

// FindMembership retrieves the membership of a user in a room.
func (r *MembershipRepository) FindMembership(ctx context.Context, roomID, userID string) (persistence.RoomMember, error) {
	return r.getOne(ctx, `SELECT `+memberColumns+` FROM room_members WHERE room_id = ? AND user_id = ?`, roomID, userID)
}

func (r *MembershipRepository) getOne(ctx context.Context, query string, args ...any) (persistence.RoomMember, error) {
	member, err := scanMember(r.pool.DB().QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return persistence.RoomMember{}, persistence.ErrNotFound
		}
		return persistence.RoomMember{}, r.mapper.MapError(err)
	}
	return member, nil
}

// ActivateMembership moves a pending membership to active.
func (r *MembershipRepository) ActivateMembership(ctx context.Context, id string) (persistence.RoomMember, error) {
	var member persistence.RoomMember
	err := r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE room_members SET status = ? WHERE id = ? AND status = ?`,
			string(persistence.MemberActive), id, string(persistence.MemberPending),
		); err != nil {
			return r.mapper.MapError(err)
		}
		var err error
		member, err = scanMember(tx.QueryRowContext(ctx, `SELECT `+memberColumns+` FROM room_members WHERE id = ?`, id))
		return r.mapper.MapError(err)
	})
	if err != nil {
		return persistence.RoomMember{}, err
	}
	return member, nil
}

// DeletePendingMembership removes a membership while it is still pending.
func (r *MembershipRepository) DeletePendingMembership(ctx context.Context, id string) error {
	return r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx,
			`DELETE FROM room_members WHERE id = ? AND status = ?`,
			id, string(persistence.MemberPending),
		)
		if err != nil {
			return r.mapper.MapError(err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if affected > 0 {
			return nil
		}

		var exists int
		err = tx.QueryRowContext(ctx, `SELECT 1 FROM room_members WHERE id = ?`, id).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return persistence.ErrNotFound
		}
		if err != nil {
			return r.mapper.MapError(err)
		}
		return persistence.ErrStaleState
	})
}

// ListMemberships returns memberships matching the filter ordered by creation.
func (r *MembershipRepository) ListMemberships(ctx context.Context, filter persistence.MembershipFilter) ([]persistence.RoomMember, error) {
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
	if filter.Role != "" {
		clauses = append(clauses, "role = ?")
		args = append(args, string(filter.Role))
	}
	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(filter.Status))
	}

	query := `SELECT ` + memberColumns + ` FROM room_members`
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := r.pool.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	var members []persistence.RoomMember
	for rows.Next() {
		member, err := scanMember(rows)
		if err != nil {
			return nil, r.mapper.MapError(err)
		}
		members = append(members, member)
	}
	if err := rows.Err(); err != nil {
		return nil, r.mapper.MapError(err)
	}
	return members, nil
}

func scanMember(row rowScanner) (persistence.RoomMember, error) {
	var member persistence.RoomMember
	var role, status, createdAt string
	if err := row.Scan(&member.ID, &member.RoomID, &member.UserID, &role, &status, &createdAt); err != nil {
		return persistence.RoomMember{}, err
	}
	member.Role = persistence.MemberRole(role)
	member.Status = persistence.MemberStatus(status)
	var err error
	if member.CreatedAt, err = parseTime(createdAt); err != nil {
		return persistence.RoomMember{}, err
	}
	return member, nil
}
