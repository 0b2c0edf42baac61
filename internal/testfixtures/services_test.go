package testfixtures

import (
	"context"
	"testing"
)

func TestServiceFactoryNewServices(t *testing.T) {
	harness := NewSQLiteHarness(t)
	factory := NewServiceFactory()
	services := factory.NewServices(harness.Store)
	owner := harness.Seeder(t).User()

	room, err := services.Memberships.CreateRoom(context.Background(), owner.Principal(), "Design")
	if err != nil {
		t.Fatalf("CreateRoom returned error: %v", err)
	}

	if room.ID != "id-1" {
		t.Fatalf("expected generated ID id-1, got %q", room.ID)
	}
	if !room.CreatedAt.Equal(factory.Clock.Now()) {
		t.Fatalf("expected timestamp %v, got %v", factory.Clock.Now(), room.CreatedAt)
	}
	// room plus the owner's membership
	if factory.IDGenerator.Issued() != 2 {
		t.Fatalf("expected 2 generated ids, got %d", factory.IDGenerator.Issued())
	}
	if len(room.InviteCode) != 6 {
		t.Fatalf("expected six character invite code, got %q", room.InviteCode)
	}
}

func TestSeeder(t *testing.T) {
	harness := NewSQLiteHarness(t)
	seed := harness.Seeder(t)

	owner := seed.User(WithUserName("Olivia"))
	member := seed.User()
	room := seed.Room(owner)
	seed.Member(room, member, AsPending())
	schedule := seed.OfficeDay(room, owner, 2)

	if !schedule.Date.Equal(Day(2)) {
		t.Fatalf("expected schedule on %v, got %v", Day(2), schedule.Date)
	}

	got, err := harness.Store.FindMembership(context.Background(), room.ID, member.ID)
	if err != nil {
		t.Fatalf("FindMembership returned error: %v", err)
	}
	if got.Status != "pending" {
		t.Fatalf("expected pending membership, got %q", got.Status)
	}
}
