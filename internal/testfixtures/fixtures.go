package testfixtures

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/example/attendance-coordinator/internal/application"
	"github.com/example/attendance-coordinator/internal/persistence"
)

var (
	userCounter   uint64
	roomCounter   uint64
	memberCounter uint64
)

// Monday 2024-03-04 09:00 UTC.
var referenceTime = time.Date(2024, time.March, 4, 9, 0, 0, 0, time.UTC)

// ReferenceTime returns the canonical baseline timestamp used by fixtures.
func ReferenceTime() time.Time {
	return referenceTime
}

// Day returns the calendar day offset days after ReferenceTime, at UTC midnight.
func Day(offset int) time.Time {
	y, m, d := referenceTime.Date()
	return time.Date(y, m, d+offset, 0, 0, 0, 0, time.UTC)
}

// DayPtr is Day returning a pointer.
func DayPtr(offset int) *time.Time {
	day := Day(offset)
	return &day
}

// ----------------------------- User fixtures -----------------------------

// UserFixture represents a deterministic user profile.
type UserFixture struct {
	ID        string
	Name      string
	Email     string
	CreatedAt time.Time
}

// UserOption configures the generated user fixture.
type UserOption func(*UserFixture)

// NewUserFixture returns a deterministic user fixture with optional overrides.
func NewUserFixture(opts ...UserOption) UserFixture {
	idx := atomic.AddUint64(&userCounter, 1)
	id := fmt.Sprintf("user-%03d", idx)
	fixture := UserFixture{
		ID:        id,
		Name:      fmt.Sprintf("User %03d", idx),
		Email:     fmt.Sprintf("%s@example.com", id),
		CreatedAt: referenceTime.Add(time.Duration(idx) * time.Minute),
	}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

// WithUserID overrides the generated user ID.
func WithUserID(id string) UserOption {
	return func(f *UserFixture) {
		f.ID = id
	}
}

// WithUserName overrides the generated name.
func WithUserName(name string) UserOption {
	return func(f *UserFixture) {
		f.Name = name
	}
}

// WithUserEmail overrides the generated email address.
func WithUserEmail(email string) UserOption {
	return func(f *UserFixture) {
		f.Email = email
	}
}

// Persistence returns the fixture as a persistence.User value.
func (f UserFixture) Persistence() persistence.User {
	return persistence.User{ID: f.ID, Name: f.Name, Email: f.Email, CreatedAt: f.CreatedAt}
}

// Principal returns an application.Principal for the fixture.
func (f UserFixture) Principal() application.Principal {
	return application.Principal{UserID: f.ID, Email: f.Email, DisplayName: f.Name}
}

// ----------------------------- Room fixtures -----------------------------

// RoomFixture represents a deterministic room owned by OwnerID.
type RoomFixture struct {
	ID         string
	Name       string
	OwnerID    string
	InviteCode string
	CreatedAt  time.Time
}

// RoomOption configures the generated room fixture.
type RoomOption func(*RoomFixture)

// NewRoomFixture returns a deterministic room fixture with optional overrides.
func NewRoomFixture(ownerID string, opts ...RoomOption) RoomFixture {
	idx := atomic.AddUint64(&roomCounter, 1)
	fixture := RoomFixture{
		ID:         fmt.Sprintf("room-%03d", idx),
		Name:       fmt.Sprintf("Room %03d", idx),
		OwnerID:    ownerID,
		InviteCode: fmt.Sprintf("CODE%02d", idx%100),
		CreatedAt:  referenceTime.Add(time.Duration(idx) * time.Minute),
	}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

// WithRoomID overrides the generated room ID.
func WithRoomID(id string) RoomOption {
	return func(f *RoomFixture) {
		f.ID = id
	}
}

// WithRoomName overrides the generated room name.
func WithRoomName(name string) RoomOption {
	return func(f *RoomFixture) {
		f.Name = name
	}
}

// WithInviteCode overrides the generated invite code.
func WithInviteCode(code string) RoomOption {
	return func(f *RoomFixture) {
		f.InviteCode = code
	}
}

// Persistence returns the room and its owner's active admin membership.
func (f RoomFixture) Persistence() (persistence.Room, persistence.RoomMember) {
	room := persistence.Room{
		ID:         f.ID,
		Name:       f.Name,
		CreatedBy:  f.OwnerID,
		InviteCode: f.InviteCode,
		CreatedAt:  f.CreatedAt,
	}
	owner := persistence.RoomMember{
		ID:        f.ID + "-owner",
		RoomID:    f.ID,
		UserID:    f.OwnerID,
		Role:      persistence.RoleAdmin,
		Status:    persistence.MemberActive,
		CreatedAt: f.CreatedAt,
	}
	return room, owner
}

// --------------------------- Membership fixtures ---------------------------

// MemberOption configures a generated membership.
type MemberOption func(*persistence.RoomMember)

// AsAdmin grants the membership the admin role.
func AsAdmin() MemberOption {
	return func(m *persistence.RoomMember) {
		m.Role = persistence.RoleAdmin
	}
}

// AsPending leaves the membership awaiting approval.
func AsPending() MemberOption {
	return func(m *persistence.RoomMember) {
		m.Status = persistence.MemberPending
	}
}

// NewMember returns an active member membership of userID in roomID.
func NewMember(roomID, userID string, opts ...MemberOption) persistence.RoomMember {
	idx := atomic.AddUint64(&memberCounter, 1)
	member := persistence.RoomMember{
		ID:        fmt.Sprintf("member-%03d", idx),
		RoomID:    roomID,
		UserID:    userID,
		Role:      persistence.RoleMember,
		Status:    persistence.MemberActive,
		CreatedAt: referenceTime,
	}
	for _, opt := range opts {
		opt(&member)
	}
	return member
}

// ------------------------------- Seeding -------------------------------

// Seeder writes fixtures straight into a store, bypassing services.
type Seeder struct {
	tb    testing.TB
	store persistence.Store
}

// NewSeeder returns a seeder for store that fails tb on any write error.
func NewSeeder(tb testing.TB, store persistence.Store) *Seeder {
	return &Seeder{tb: tb, store: store}
}

// User persists a user fixture.
func (s *Seeder) User(opts ...UserOption) UserFixture {
	s.tb.Helper()
	fixture := NewUserFixture(opts...)
	if err := s.store.CreateUser(context.Background(), fixture.Persistence()); err != nil {
		s.tb.Fatalf("seed user: %v", err)
	}
	return fixture
}

// Room persists a room owned by owner.
func (s *Seeder) Room(owner UserFixture, opts ...RoomOption) RoomFixture {
	s.tb.Helper()
	fixture := NewRoomFixture(owner.ID, opts...)
	room, member := fixture.Persistence()
	if err := s.store.CreateRoomWithOwner(context.Background(), room, member); err != nil {
		s.tb.Fatalf("seed room: %v", err)
	}
	return fixture
}

// Member persists a membership of user in room.
func (s *Seeder) Member(room RoomFixture, user UserFixture, opts ...MemberOption) persistence.RoomMember {
	s.tb.Helper()
	member := NewMember(room.ID, user.ID, opts...)
	if err := s.store.CreateMembership(context.Background(), member); err != nil {
		s.tb.Fatalf("seed membership: %v", err)
	}
	return member
}

// OfficeDay persists an office schedule for user in room on Day(offset).
func (s *Seeder) OfficeDay(room RoomFixture, user UserFixture, offset int) persistence.OfficeSchedule {
	s.tb.Helper()
	schedule := persistence.OfficeSchedule{
		ID:        fmt.Sprintf("%s-%s-%d", room.ID, user.ID, offset),
		RoomID:    room.ID,
		UserID:    user.ID,
		Date:      Day(offset),
		Status:    persistence.AttendanceOffice,
		CreatedAt: referenceTime,
	}
	created, err := s.store.CreateSchedulesIfAbsent(context.Background(), []persistence.OfficeSchedule{schedule})
	if err != nil {
		s.tb.Fatalf("seed schedule: %v", err)
	}
	if len(created) != 1 {
		s.tb.Fatalf("seed schedule: day %d already scheduled", offset)
	}
	return created[0]
}
