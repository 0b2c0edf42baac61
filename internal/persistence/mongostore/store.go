// Package mongostore implements the persistence contracts on MongoDB.
//
// Uniqueness rules are enforced by unique indexes created in EnsureIndexes.
// Multi-document writes run without transactions. State transitions are
// conditional updates on the document's status, and room creation deletes the
// room again when its owner membership cannot be written.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/example/attendance-coordinator/internal/persistence"
)

const (
	colUsers          = "users"
	colIdentities     = "identities"
	colRevokedTokens  = "revoked_tokens"
	colRooms          = "rooms"
	colMembers        = "room_members"
	colSchedules      = "office_schedules"
	colChangeRequests = "change_requests"
	colNotifications  = "notifications"
)

// Store implements persistence.Store on a MongoDB database.
type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

var _ persistence.Store = (*Store)(nil)

// Open connects to uri, selects database and ensures indexes exist.
func Open(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongostore: connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongostore: ping: %w", err)
	}

	store := &Store{client: client, db: client.Database(database)}
	if err := store.EnsureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return store, nil
}

// EnsureIndexes creates the lookup and uniqueness indexes.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	specs := map[string][]mongo.IndexModel{
		colIdentities: {
			{Keys: bson.D{{Key: "provider", Value: 1}, {Key: "subject", Value: 1}}, Options: options.Index().SetUnique(true).SetName("idx_identity_provider_subject")},
		},
		colRevokedTokens: {
			{Keys: bson.D{{Key: "expires_at", Value: 1}}, Options: options.Index().SetExpireAfterSeconds(0).SetName("idx_revoked_ttl")},
		},
		colRooms: {
			{Keys: bson.D{{Key: "invite_code", Value: 1}}, Options: options.Index().SetUnique(true).SetName("idx_room_invite_code")},
		},
		colMembers: {
			{Keys: bson.D{{Key: "room_id", Value: 1}, {Key: "user_id", Value: 1}}, Options: options.Index().SetUnique(true).SetName("idx_member_room_user")},
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "status", Value: 1}}, Options: options.Index().SetName("idx_member_user_status")},
		},
		colSchedules: {
			{Keys: bson.D{{Key: "room_id", Value: 1}, {Key: "user_id", Value: 1}, {Key: "date", Value: 1}}, Options: options.Index().SetUnique(true).SetName("idx_schedule_room_user_date")},
			{Keys: bson.D{{Key: "room_id", Value: 1}, {Key: "date", Value: 1}}, Options: options.Index().SetName("idx_schedule_room_date")},
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "date", Value: 1}}, Options: options.Index().SetName("idx_schedule_user_date")},
		},
		colChangeRequests: {
			{Keys: bson.D{{Key: "room_id", Value: 1}, {Key: "status", Value: 1}, {Key: "created_at", Value: 1}}, Options: options.Index().SetName("idx_request_room_status")},
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: 1}}, Options: options.Index().SetName("idx_request_user")},
		},
		colNotifications: {
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "read", Value: 1}, {Key: "created_at", Value: -1}}, Options: options.Index().SetName("idx_notification_user")},
		},
	}
	for collection, models := range specs {
		if _, err := s.db.Collection(collection).Indexes().CreateMany(ctx, models); err != nil {
			return fmt.Errorf("mongostore: create indexes on %s: %w", collection, err)
		}
	}
	return nil
}

// DropDatabase removes the store's database. Used by tests.
func (s *Store) DropDatabase(ctx context.Context) error {
	return s.db.Drop(ctx)
}

// Ping verifies the server is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Close disconnects the client.
func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func (s *Store) c(name string) *mongo.Collection {
	return s.db.Collection(name)
}

func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return persistence.ErrNotFound
	case mongo.IsDuplicateKeyError(err):
		return fmt.Errorf("%w: %v", persistence.ErrDuplicate, err)
	}
	return err
}

func formatDate(t time.Time) string {
	return t.UTC().Format(persistence.DateLayout)
}

func parseDate(value string) (time.Time, error) {
	t, err := time.Parse(persistence.DateLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("mongostore: parse date %q: %w", value, err)
	}
	return t, nil
}

func inFilter(ids []string) bson.M {
	return bson.M{"$in": ids}
}
