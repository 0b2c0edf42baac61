package sqlite

import (
	"context"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/example/attendance-coordinator/internal/persistence"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Storage implements persistence.Store on a SQLite database.
type Storage struct {
	*UserRepository
	*IdentityRepository
	*RoomRepository
	*MembershipRepository
	*ScheduleRepository
	*ChangeRequestRepository
	*NotificationRepository

	pool *ConnectionPool
}

var _ persistence.Store = (*Storage)(nil)

// Open connects to the database identified by dsn. Call Migrate before use.
func Open(dsn string) (*Storage, error) {
	pool, err := NewConnectionPool(dsn)
	if err != nil {
		return nil, err
	}
	return &Storage{
		UserRepository:          NewUserRepository(pool),
		IdentityRepository:      NewIdentityRepository(pool),
		RoomRepository:          NewRoomRepository(pool),
		MembershipRepository:    NewMembershipRepository(pool),
		ScheduleRepository:      NewScheduleRepository(pool),
		ChangeRequestRepository: NewChangeRequestRepository(pool),
		NotificationRepository:  NewNotificationRepository(pool),
		pool:                    pool,
	}, nil
}

// Migrate applies every pending schema migration.
func (s *Storage) Migrate(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("sqlite: ping before migrate: %w", err)
	}

	source, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("sqlite: load migrations: %w", err)
	}
	driver, err := sqlitemigrate.WithInstance(s.pool.DB(), &sqlitemigrate.Config{})
	if err != nil {
		return fmt.Errorf("sqlite: migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("sqlite: migrator: %w", err)
	}
	// m.Close would close the shared *sql.DB, so only the source is released.
	defer source.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("sqlite: apply migrations: %w", err)
	}
	return nil
}

// Ping verifies the database is reachable.
func (s *Storage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the underlying connection pool.
func (s *Storage) Close() error {
	return s.pool.Close()
}
