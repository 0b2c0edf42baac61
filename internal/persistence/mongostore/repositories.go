package mongostore

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/example/attendance-coordinator/internal/persistence"
)

// ---- users ----

func (s *Store) CreateUser(ctx context.Context, user persistence.User) error {
	_, err := s.c(colUsers).InsertOne(ctx, userDoc{ID: user.ID, Name: user.Name, Email: user.Email, CreatedAt: user.CreatedAt})
	return mapError(err)
}

func (s *Store) GetUser(ctx context.Context, id string) (persistence.User, error) {
	var doc userDoc
	if err := s.c(colUsers).FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		return persistence.User{}, mapError(err)
	}
	return doc.record(), nil
}

func (s *Store) GetUsers(ctx context.Context, ids []string) (map[string]persistence.User, error) {
	users := make(map[string]persistence.User, len(ids))
	if len(ids) == 0 {
		return users, nil
	}
	cur, err := s.c(colUsers).Find(ctx, bson.M{"_id": inFilter(ids)})
	if err != nil {
		return nil, mapError(err)
	}
	var docs []userDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, mapError(err)
	}
	for _, doc := range docs {
		users[doc.ID] = doc.record()
	}
	return users, nil
}

// ---- identities ----

func (s *Store) CreateIdentity(ctx context.Context, identity persistence.Identity) error {
	_, err := s.c(colIdentities).InsertOne(ctx, identityDoc{
		Provider:     identity.Provider,
		Subject:      identity.Subject,
		UID:          identity.UID,
		Email:        identity.Email,
		DisplayName:  identity.DisplayName,
		PasswordHash: identity.PasswordHash,
		CreatedAt:    identity.CreatedAt,
	})
	return mapError(err)
}

func (s *Store) GetIdentity(ctx context.Context, provider, subject string) (persistence.Identity, error) {
	var doc identityDoc
	if err := s.c(colIdentities).FindOne(ctx, bson.M{"provider": provider, "subject": subject}).Decode(&doc); err != nil {
		return persistence.Identity{}, mapError(err)
	}
	return doc.record(), nil
}

func (s *Store) RevokeToken(ctx context.Context, token persistence.RevokedToken) error {
	_, err := s.c(colRevokedTokens).UpdateOne(ctx,
		bson.M{"_id": token.TokenID},
		bson.M{"$setOnInsert": bson.M{"expires_at": token.ExpiresAt}},
		options.Update().SetUpsert(true),
	)
	return mapError(err)
}

func (s *Store) IsTokenRevoked(ctx context.Context, tokenID string) (bool, error) {
	n, err := s.c(colRevokedTokens).CountDocuments(ctx, bson.M{"_id": tokenID})
	if err != nil {
		return false, mapError(err)
	}
	return n > 0, nil
}

// ---- rooms ----

// CreateRoomWithOwner inserts the room and then its owner. When the owner
// insert fails the room is deleted again.
func (s *Store) CreateRoomWithOwner(ctx context.Context, room persistence.Room, owner persistence.RoomMember) error {
	if owner.RoomID != room.ID {
		return fmt.Errorf("mongostore: owner membership references room %q, want %q", owner.RoomID, room.ID)
	}
	if _, err := s.c(colRooms).InsertOne(ctx, roomDoc{
		ID:         room.ID,
		Name:       room.Name,
		CreatedBy:  room.CreatedBy,
		InviteCode: room.InviteCode,
		CreatedAt:  room.CreatedAt,
	}); err != nil {
		return mapError(err)
	}

	if _, err := s.c(colMembers).InsertOne(ctx, newMemberDoc(owner)); err != nil {
		insertErr := mapError(err)
		if _, delErr := s.c(colRooms).DeleteOne(context.WithoutCancel(ctx), bson.M{"_id": room.ID}); delErr != nil {
			return errors.Join(insertErr, fmt.Errorf("mongostore: room %s left without owner: %w", room.ID, delErr))
		}
		return insertErr
	}
	return nil
}

func (s *Store) GetRoom(ctx context.Context, id string) (persistence.Room, error) {
	return s.findRoom(ctx, bson.M{"_id": id})
}

func (s *Store) GetRoomByInviteCode(ctx context.Context, code string) (persistence.Room, error) {
	return s.findRoom(ctx, bson.M{"invite_code": code})
}

func (s *Store) findRoom(ctx context.Context, filter bson.M) (persistence.Room, error) {
	var doc roomDoc
	if err := s.c(colRooms).FindOne(ctx, filter).Decode(&doc); err != nil {
		return persistence.Room{}, mapError(err)
	}
	return doc.record(), nil
}

func (s *Store) GetRooms(ctx context.Context, ids []string) (map[string]persistence.Room, error) {
	rooms := make(map[string]persistence.Room, len(ids))
	if len(ids) == 0 {
		return rooms, nil
	}
	cur, err := s.c(colRooms).Find(ctx, bson.M{"_id": inFilter(ids)})
	if err != nil {
		return nil, mapError(err)
	}
	var docs []roomDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, mapError(err)
	}
	for _, doc := range docs {
		rooms[doc.ID] = doc.record()
	}
	return rooms, nil
}

// ---- memberships ----

func (s *Store) CreateMembership(ctx context.Context, member persistence.RoomMember) error {
	_, err := s.c(colMembers).InsertOne(ctx, newMemberDoc(member))
	return mapError(err)
}

func (s *Store) GetMembership(ctx context.Context, id string) (persistence.RoomMember, error) {
	return s.findMember(ctx, bson.M{"_id": id})
}

func (s *Store) FindMembership(ctx context.Context, roomID, userID string) (persistence.RoomMember, error) {
	return s.findMember(ctx, bson.M{"room_id": roomID, "user_id": userID})
}

func (s *Store) findMember(ctx context.Context, filter bson.M) (persistence.RoomMember, error) {
	var doc memberDoc
	if err := s.c(colMembers).FindOne(ctx, filter).Decode(&doc); err != nil {
		return persistence.RoomMember{}, mapError(err)
	}
	return doc.record(), nil
}

func (s *Store) ActivateMembership(ctx context.Context, id string) (persistence.RoomMember, error) {
	if _, err := s.c(colMembers).UpdateOne(ctx,
		bson.M{"_id": id, "status": string(persistence.MemberPending)},
		bson.M{"$set": bson.M{"status": string(persistence.MemberActive)}},
	); err != nil {
		return persistence.RoomMember{}, mapError(err)
	}
	return s.GetMembership(ctx, id)
}

func (s *Store) DeletePendingMembership(ctx context.Context, id string) error {
	res, err := s.c(colMembers).DeleteOne(ctx, bson.M{"_id": id, "status": string(persistence.MemberPending)})
	if err != nil {
		return mapError(err)
	}
	if res.DeletedCount > 0 {
		return nil
	}
	if _, err := s.GetMembership(ctx, id); err != nil {
		return err
	}
	return persistence.ErrStaleState
}

func (s *Store) ListMemberships(ctx context.Context, filter persistence.MembershipFilter) ([]persistence.RoomMember, error) {
	query := bson.M{}
	if filter.RoomIDs != nil {
		if len(filter.RoomIDs) == 0 {
			return nil, nil
		}
		query["room_id"] = inFilter(filter.RoomIDs)
	}
	if filter.UserID != "" {
		query["user_id"] = filter.UserID
	}
	if filter.Role != "" {
		query["role"] = string(filter.Role)
	}
	if filter.Status != "" {
		query["status"] = string(filter.Status)
	}

	cur, err := s.c(colMembers).Find(ctx, query, options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}))
	if err != nil {
		return nil, mapError(err)
	}
	var docs []memberDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, mapError(err)
	}
	members := make([]persistence.RoomMember, 0, len(docs))
	for _, doc := range docs {
		members = append(members, doc.record())
	}
	return members, nil
}

// ---- schedules ----

func scheduleKeyFilter(roomID, userID, date string) bson.M {
	return bson.M{"room_id": roomID, "user_id": userID, "date": date}
}

// upsertSchedule ensures a schedule exists at the slot and reports whether it was inserted.
func (s *Store) upsertSchedule(ctx context.Context, schedule persistence.OfficeSchedule, set bson.M) (bool, error) {
	date := formatDate(schedule.Date)
	onInsert := bson.M{"_id": schedule.ID, "created_at": schedule.CreatedAt}
	update := bson.M{"$setOnInsert": onInsert}
	if set != nil {
		update["$set"] = set
	} else {
		onInsert["status"] = string(schedule.Status)
	}
	res, err := s.c(colSchedules).UpdateOne(ctx,
		scheduleKeyFilter(schedule.RoomID, schedule.UserID, date),
		update,
		options.Update().SetUpsert(true),
	)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return false, nil
		}
		return false, mapError(err)
	}
	return res.UpsertedCount > 0, nil
}

func (s *Store) CreateSchedulesIfAbsent(ctx context.Context, schedules []persistence.OfficeSchedule) ([]persistence.OfficeSchedule, error) {
	var created []persistence.OfficeSchedule
	for _, schedule := range schedules {
		inserted, err := s.upsertSchedule(ctx, schedule, nil)
		if err != nil {
			return created, err
		}
		if inserted {
			created = append(created, schedule)
		}
	}
	return created, nil
}

func (s *Store) GetSchedule(ctx context.Context, id string) (persistence.OfficeSchedule, error) {
	return s.findSchedule(ctx, bson.M{"_id": id})
}

func (s *Store) findSchedule(ctx context.Context, filter bson.M) (persistence.OfficeSchedule, error) {
	var doc scheduleDoc
	if err := s.c(colSchedules).FindOne(ctx, filter).Decode(&doc); err != nil {
		return persistence.OfficeSchedule{}, mapError(err)
	}
	return doc.record()
}

func (s *Store) DeleteSchedule(ctx context.Context, id string) error {
	res, err := s.c(colSchedules).DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return mapError(err)
	}
	if res.DeletedCount == 0 {
		return persistence.ErrNotFound
	}
	return nil
}

func (s *Store) ListSchedules(ctx context.Context, filter persistence.ScheduleFilter) ([]persistence.OfficeSchedule, error) {
	query := bson.M{}
	if filter.RoomIDs != nil {
		if len(filter.RoomIDs) == 0 {
			return nil, nil
		}
		query["room_id"] = inFilter(filter.RoomIDs)
	}
	if filter.UserID != "" {
		query["user_id"] = filter.UserID
	}
	dateRange := bson.M{}
	if filter.From != nil {
		dateRange["$gte"] = formatDate(*filter.From)
	}
	if filter.To != nil {
		dateRange["$lte"] = formatDate(*filter.To)
	}
	if len(dateRange) > 0 {
		query["date"] = dateRange
	}

	sort := bson.D{{Key: "date", Value: 1}, {Key: "user_id", Value: 1}, {Key: "room_id", Value: 1}}
	cur, err := s.c(colSchedules).Find(ctx, query, options.Find().SetSort(sort))
	if err != nil {
		return nil, mapError(err)
	}
	var docs []scheduleDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, mapError(err)
	}
	schedules := make([]persistence.OfficeSchedule, 0, len(docs))
	for _, doc := range docs {
		schedule, err := doc.record()
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, schedule)
	}
	return schedules, nil
}

// ---- change requests ----

func (s *Store) CreateChangeRequest(ctx context.Context, request persistence.ChangeRequest) error {
	_, err := s.c(colChangeRequests).InsertOne(ctx, newRequestDoc(request))
	return mapError(err)
}

func (s *Store) GetChangeRequest(ctx context.Context, id string) (persistence.ChangeRequest, error) {
	var doc requestDoc
	if err := s.c(colChangeRequests).FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		return persistence.ChangeRequest{}, mapError(err)
	}
	return doc.record()
}

func (s *Store) ListChangeRequests(ctx context.Context, filter persistence.ChangeRequestFilter) ([]persistence.ChangeRequest, error) {
	query := bson.M{}
	if filter.RoomIDs != nil {
		if len(filter.RoomIDs) == 0 {
			return nil, nil
		}
		query["room_id"] = inFilter(filter.RoomIDs)
	}
	if filter.UserID != "" {
		query["user_id"] = filter.UserID
	}
	if filter.Status != "" {
		query["status"] = string(filter.Status)
	}

	cur, err := s.c(colChangeRequests).Find(ctx, query, options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}, {Key: "_id", Value: 1}}))
	if err != nil {
		return nil, mapError(err)
	}
	var docs []requestDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, mapError(err)
	}
	requests := make([]persistence.ChangeRequest, 0, len(docs))
	for _, doc := range docs {
		request, err := doc.record()
		if err != nil {
			return nil, err
		}
		requests = append(requests, request)
	}
	return requests, nil
}

// ResolveChangeRequest flips the request out of pending with a conditional
// update. Only the caller that wins the flip applies the schedule effects.
//
// Unlike the sqlite backend this is not atomic: the flip and the schedule
// writes are separate operations. When a schedule write fails the request
// stays resolved without its effect, the error says so, and a retry sees
// ErrStaleState. An admin repairs the schedule with AssignSchedules or
// DeleteSchedule.
func (s *Store) ResolveChangeRequest(ctx context.Context, resolution persistence.Resolution) (persistence.ResolutionResult, error) {
	if resolution.Status != persistence.RequestApproved && resolution.Status != persistence.RequestRejected {
		return persistence.ResolutionResult{}, fmt.Errorf("mongostore: %q is not a terminal request status", resolution.Status)
	}

	var doc requestDoc
	err := s.c(colChangeRequests).FindOneAndUpdate(ctx,
		bson.M{"_id": resolution.RequestID, "status": string(persistence.RequestPending)},
		bson.M{"$set": bson.M{
			"status":      string(resolution.Status),
			"resolved_at": resolution.ResolvedAt,
			"resolved_by": resolution.ResolvedBy,
		}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		if _, getErr := s.GetChangeRequest(ctx, resolution.RequestID); getErr != nil {
			return persistence.ResolutionResult{}, getErr
		}
		return persistence.ResolutionResult{}, persistence.ErrStaleState
	}
	if err != nil {
		return persistence.ResolutionResult{}, mapError(err)
	}

	request, err := doc.record()
	if err != nil {
		return persistence.ResolutionResult{}, err
	}
	result := persistence.ResolutionResult{Request: request}

	if key := resolution.Remove; key != nil {
		var removed scheduleDoc
		err := s.c(colSchedules).FindOneAndDelete(ctx, scheduleKeyFilter(key.RoomID, key.UserID, formatDate(key.Date))).Decode(&removed)
		switch {
		case errors.Is(err, mongo.ErrNoDocuments):
		case err != nil:
			return result, fmt.Errorf("mongostore: request %s resolved but removing schedule failed: %w", request.ID, mapError(err))
		default:
			result.RemovedID = removed.ID
		}
	}

	if add := resolution.Add; add != nil {
		if _, err := s.upsertSchedule(ctx, *add, bson.M{"status": string(add.Status)}); err != nil {
			return result, fmt.Errorf("mongostore: request %s resolved but adding schedule failed: %w", request.ID, err)
		}
		stored, err := s.findSchedule(ctx, scheduleKeyFilter(add.RoomID, add.UserID, formatDate(add.Date)))
		if err != nil {
			return result, err
		}
		result.Added = &stored
	}
	return result, nil
}

// ---- notifications ----

func (s *Store) CreateNotification(ctx context.Context, n persistence.Notification) error {
	_, err := s.c(colNotifications).InsertOne(ctx, notificationDoc{
		ID:        n.ID,
		UserID:    n.UserID,
		RoomID:    n.RoomID,
		Type:      string(n.Type),
		Message:   n.Message,
		Read:      n.Read,
		CreatedAt: n.CreatedAt,
		RelatedID: n.RelatedID,
	})
	return mapError(err)
}

func (s *Store) ListNotifications(ctx context.Context, filter persistence.NotificationFilter) ([]persistence.Notification, error) {
	query := bson.M{"user_id": filter.UserID}
	if filter.UnreadOnly {
		query["read"] = false
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "_id", Value: -1}})
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}
	cur, err := s.c(colNotifications).Find(ctx, query, opts)
	if err != nil {
		return nil, mapError(err)
	}
	var docs []notificationDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, mapError(err)
	}
	out := make([]persistence.Notification, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.record())
	}
	return out, nil
}

func (s *Store) MarkNotificationRead(ctx context.Context, id, userID string) error {
	res, err := s.c(colNotifications).UpdateOne(ctx,
		bson.M{"_id": id, "user_id": userID},
		bson.M{"$set": bson.M{"read": true}},
	)
	if err != nil {
		return mapError(err)
	}
	if res.MatchedCount == 0 {
		return persistence.ErrNotFound
	}
	return nil
}
