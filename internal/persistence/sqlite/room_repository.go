package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/example/attendance-coordinator/internal/persistence"
)

// RoomRepository implements persistence.RoomRepository using SQLite
type RoomRepository struct {
	pool   *ConnectionPool
	mapper ErrorMapper
}

// NewRoomRepository creates a new SQLite room repository
func NewRoomRepository(pool *ConnectionPool) *RoomRepository {
	return &RoomRepository{pool: pool}
}

const roomColumns = `id, name, created_by, invite_code, created_at`

// CreateRoomWithOwner inserts the room and its owner membership in one transaction.
func (r *RoomRepository) CreateRoomWithOwner(ctx context.Context, room persistence.Room, owner persistence.RoomMember) error {
	if room.ID == "" || owner.ID == "" {
		return fmt.Errorf("sqlite: room and owner ids are required")
	}
	if owner.RoomID != room.ID {
		return fmt.Errorf("sqlite: owner membership references room %q, want %q", owner.RoomID, room.ID)
	}

	return r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO rooms (`+roomColumns+`) VALUES (?, ?, ?, ?, ?)`,
			room.ID, room.Name, room.CreatedBy, room.InviteCode, formatTime(room.CreatedAt),
		); err != nil {
			return r.mapper.MapError(err)
		}
		if err := insertMembership(ctx, tx, owner); err != nil {
			return r.mapper.MapError(err)
		}
		return nil
	})
}

// GetRoom retrieves a room by ID from the database
func (r *RoomRepository) GetRoom(ctx context.Context, id string) (persistence.Room, error) {
	if id == "" {
		return persistence.Room{}, persistence.ErrNotFound
	}
	return r.getOne(ctx, `SELECT `+roomColumns+` FROM rooms WHERE id = ?`, id)
}

// GetRoomByInviteCode retrieves the room that owns the invite code.
func (r *RoomRepository) GetRoomByInviteCode(ctx context.Context, code string) (persistence.Room, error) {
	if code == "" {
		return persistence.Room{}, persistence.ErrNotFound
	}
	return r.getOne(ctx, `SELECT `+roomColumns+` FROM rooms WHERE invite_code = ?`, code)
}

func (r *RoomRepository) getOne(ctx context.Context, query string, arg string) (persistence.Room, error) {
	room, err := scanRoom(r.pool.DB().QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return persistence.Room{}, persistence.ErrNotFound
		}
		return persistence.Room{}, r.mapper.MapError(err)
	}
	return room, nil
}

// GetRooms returns the existing rooms among ids keyed by id.
func (r *RoomRepository) GetRooms(ctx context.Context, ids []string) (map[string]persistence.Room, error) {
	rooms := make(map[string]persistence.Room, len(ids))
	if len(ids) == 0 {
		return rooms, nil
	}

	where, args := inClause("id", uniqueStrings(ids), nil)
	rows, err := r.pool.DB().QueryContext(ctx, `SELECT `+roomColumns+` FROM rooms WHERE `+where, args...)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, r.mapper.MapError(err)
		}
		rooms[room.ID] = room
	}
	if err := rows.Err(); err != nil {
		return nil, r.mapper.MapError(err)
	}
	return rooms, nil
}

func scanRoom(row rowScanner) (persistence.Room, error) {
	var room persistence.Room
	var createdAt string
	if err := row.Scan(&room.ID, &room.Name, &room.CreatedBy, &room.InviteCode, &createdAt); err != nil {
		return persistence.Room{}, err
	}
	var err error
	if room.CreatedAt, err = parseTime(createdAt); err != nil {
		return persistence.Room{}, err
	}
	return room, nil
}
