package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/example/attendance-coordinator/internal/persistence"
	"github.com/example/attendance-coordinator/internal/realtime"
	"github.com/example/attendance-coordinator/internal/scheduler"
)

const maxReasonLength = 500

// ChangeRequestStore captures the persistence operations needed by ChangeRequestService.
type ChangeRequestStore interface {
	FindMembership(ctx context.Context, roomID, userID string) (RoomMember, error)
	ListMemberships(ctx context.Context, filter persistence.MembershipFilter) ([]RoomMember, error)

	CreateChangeRequest(ctx context.Context, request ChangeRequest) error
	GetChangeRequest(ctx context.Context, id string) (ChangeRequest, error)
	ListChangeRequests(ctx context.Context, filter persistence.ChangeRequestFilter) ([]ChangeRequest, error)
	ResolveChangeRequest(ctx context.Context, resolution persistence.Resolution) (persistence.ResolutionResult, error)

	GetUsers(ctx context.Context, ids []string) (map[string]User, error)
	GetRooms(ctx context.Context, ids []string) (map[string]Room, error)
}

// ChangeRequestService runs the request, approve, and reject workflow for schedule changes.
type ChangeRequestService struct {
	store       ChangeRequestStore
	notifier    Notifier
	publisher   realtime.Publisher
	idGenerator func() string
	now         func() time.Time
	logger      *slog.Logger
}

// NewChangeRequestService constructs a change request service with the provided dependencies.
func NewChangeRequestService(store ChangeRequestStore, notifier Notifier, publisher realtime.Publisher, idGenerator func() string, now func() time.Time) *ChangeRequestService {
	return NewChangeRequestServiceWithLogger(store, notifier, publisher, idGenerator, now, nil)
}

// NewChangeRequestServiceWithLogger constructs a change request service with a specified logger.
func NewChangeRequestServiceWithLogger(store ChangeRequestStore, notifier Notifier, publisher realtime.Publisher, idGenerator func() string, now func() time.Time, logger *slog.Logger) *ChangeRequestService {
	if idGenerator == nil {
		idGenerator = func() string { return "" }
	}
	if now == nil {
		now = time.Now
	}
	return &ChangeRequestService{
		store:       store,
		notifier:    notifier,
		publisher:   publisher,
		idGenerator: idGenerator,
		now:         now,
		logger:      defaultLogger(logger),
	}
}

func (s *ChangeRequestService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "ChangeRequestService", operation, attrs...)
}

// RequestChange files a pending change request for the caller in a room.
// Omitting the original date proposes an extra office day; omitting the new date proposes removing one.
func (s *ChangeRequestService) RequestChange(ctx context.Context, params RequestChangeParams) (request ChangeRequest, err error) {
	if s == nil {
		err = fmt.Errorf("ChangeRequestService is nil")
		return
	}
	if s.store == nil {
		err = fmt.Errorf("change request store not configured")
		return
	}

	logger := s.loggerWith(ctx, "RequestChange",
		"principal_id", params.Principal.UserID,
		"room_id", params.RoomID,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to request change", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("request_id", request.ID).InfoContext(ctx, "change requested")
	}()

	if _, err = requireActiveMember(ctx, s.store, params.RoomID, params.Principal.UserID); err != nil {
		return
	}

	original := normalizeDayPtr(params.OriginalDate)
	proposed := normalizeDayPtr(params.NewDate)
	reason := cleanText(params.Reason)

	vErr := &ValidationError{}
	if _, classifyErr := scheduler.Classify(original, proposed); classifyErr != nil {
		switch {
		case errors.Is(classifyErr, scheduler.ErrNoDates):
			vErr.add("new_date", "provide an original date, a new date, or both")
		case errors.Is(classifyErr, scheduler.ErrSameDate):
			vErr.add("new_date", "new date must differ from the original date")
		}
	}
	if utf8.RuneCountInString(reason) > maxReasonLength {
		vErr.add("reason", fmt.Sprintf("reason must be at most %d characters", maxReasonLength))
	}
	if vErr.HasErrors() {
		err = vErr
		return
	}

	request = ChangeRequest{
		ID:           s.idGenerator(),
		RoomID:       params.RoomID,
		UserID:       params.Principal.UserID,
		OriginalDate: original,
		NewDate:      proposed,
		Reason:       reason,
		Status:       persistence.RequestPending,
		CreatedAt:    s.now(),
	}
	if err = s.store.CreateChangeRequest(ctx, request); err != nil {
		err = mapRepoError("create change request", err)
		request = ChangeRequest{}
		return
	}

	publish(ctx, s.publisher, requestChange(realtime.OpCreated, request))

	admins, listErr := s.store.ListMemberships(ctx, persistence.MembershipFilter{
		RoomIDs: []string{request.RoomID},
		Role:    persistence.RoleAdmin,
		Status:  persistence.MemberActive,
	})
	if listErr != nil {
		logger.WarnContext(ctx, "failed to list room admins", "error", listErr)
		return
	}
	requester := s.userName(ctx, request.UserID, params.Principal.DisplayName)
	for _, admin := range admins {
		related := request.ID
		notify(ctx, s.notifier, Notification{
			UserID:    admin.UserID,
			RoomID:    request.RoomID,
			Type:      persistence.NotificationScheduleRequest,
			Message:   fmt.Sprintf("%s requested a schedule change: %s", requester, describeChange(request)),
			RelatedID: &related,
		})
	}
	return
}

// ApproveChangeRequest approves a pending request and applies its schedule effects atomically.
func (s *ChangeRequestService) ApproveChangeRequest(ctx context.Context, principal Principal, requestID string) (ChangeRequest, error) {
	return s.resolve(ctx, principal, requestID, persistence.RequestApproved)
}

// RejectChangeRequest rejects a pending request without touching schedules.
func (s *ChangeRequestService) RejectChangeRequest(ctx context.Context, principal Principal, requestID string) (ChangeRequest, error) {
	return s.resolve(ctx, principal, requestID, persistence.RequestRejected)
}

func (s *ChangeRequestService) resolve(ctx context.Context, principal Principal, requestID string, status persistence.RequestStatus) (request ChangeRequest, err error) {
	if s == nil {
		err = fmt.Errorf("ChangeRequestService is nil")
		return
	}
	if s.store == nil {
		err = fmt.Errorf("change request store not configured")
		return
	}

	operation := "ApproveChangeRequest"
	if status == persistence.RequestRejected {
		operation = "RejectChangeRequest"
	}
	logger := s.loggerWith(ctx, operation, "principal_id", principal.UserID, "request_id", requestID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to resolve change request", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("status", request.Status).InfoContext(ctx, "change request resolved")
	}()

	var existing ChangeRequest
	existing, err = s.store.GetChangeRequest(ctx, requestID)
	if err != nil {
		err = mapRepoError("get change request", err)
		return
	}
	if _, err = requireActiveAdmin(ctx, s.store, existing.RoomID, principal.UserID); err != nil {
		return
	}
	if existing.Status != persistence.RequestPending {
		err = fmt.Errorf("%w: change request already %s", ErrConflict, existing.Status)
		return
	}

	now := s.now()
	resolution := persistence.Resolution{
		RequestID:  existing.ID,
		Status:     status,
		ResolvedAt: now,
		ResolvedBy: principal.UserID,
	}

	var addedID string
	if status == persistence.RequestApproved {
		var effects scheduler.Effects
		effects, err = scheduler.Plan(existing.OriginalDate, existing.NewDate)
		if err != nil {
			err = fmt.Errorf("plan change request %s: %w", existing.ID, err)
			return
		}
		if effects.Remove != nil {
			resolution.Remove = &persistence.ScheduleKey{RoomID: existing.RoomID, UserID: existing.UserID, Date: *effects.Remove}
		}
		if effects.Add != nil {
			addedID = s.idGenerator()
			resolution.Add = &OfficeSchedule{
				ID:        addedID,
				RoomID:    existing.RoomID,
				UserID:    existing.UserID,
				Date:      *effects.Add,
				Status:    persistence.AttendanceOffice,
				CreatedAt: now,
			}
		}
	}

	var result persistence.ResolutionResult
	result, err = s.store.ResolveChangeRequest(ctx, resolution)
	if err != nil {
		err = mapRepoError("resolve change request", err)
		return
	}
	request = result.Request

	publish(ctx, s.publisher, requestChange(realtime.OpUpdated, request))
	if result.RemovedID != "" {
		publish(ctx, s.publisher, realtime.Change{
			Collection: realtime.CollectionSchedules,
			Op:         realtime.OpDeleted,
			ID:         result.RemovedID,
			RoomID:     request.RoomID,
			UserID:     request.UserID,
		})
	}
	if result.Added != nil {
		op := realtime.OpUpdated
		if result.Added.ID == addedID {
			op = realtime.OpCreated
		}
		publish(ctx, s.publisher, scheduleChange(op, *result.Added))
	}

	kind, verb := persistence.NotificationScheduleApproved, "approved"
	if status == persistence.RequestRejected {
		kind, verb = persistence.NotificationScheduleRejected, "declined"
	}
	related := request.ID
	notify(ctx, s.notifier, Notification{
		UserID:    request.UserID,
		RoomID:    request.RoomID,
		Type:      kind,
		Message:   fmt.Sprintf("Your schedule change (%s) was %s", describeChange(request), verb),
		RelatedID: &related,
	})
	return
}

// ListPendingForAdmin lists pending requests in every room the caller administers, oldest first.
func (s *ChangeRequestService) ListPendingForAdmin(ctx context.Context, principal Principal) ([]ChangeRequestDetail, error) {
	if s == nil {
		return nil, fmt.Errorf("ChangeRequestService is nil")
	}
	if s.store == nil {
		return nil, fmt.Errorf("change request store not configured")
	}
	if principal.UserID == "" {
		return nil, ErrUnauthorized
	}

	roomIDs, err := adminRoomIDs(ctx, s.store, principal.UserID)
	if err != nil {
		return nil, err
	}
	if len(roomIDs) == 0 {
		return []ChangeRequestDetail{}, nil
	}

	requests, err := s.store.ListChangeRequests(ctx, persistence.ChangeRequestFilter{
		RoomIDs: roomIDs,
		Status:  persistence.RequestPending,
	})
	if err != nil {
		return nil, mapRepoError("list change requests", err)
	}
	return s.withDetails(ctx, requests)
}

// ListRequestsForUser lists the caller's own requests newest first. An empty status lists all.
func (s *ChangeRequestService) ListRequestsForUser(ctx context.Context, principal Principal, status persistence.RequestStatus) ([]ChangeRequestDetail, error) {
	if s == nil {
		return nil, fmt.Errorf("ChangeRequestService is nil")
	}
	if s.store == nil {
		return nil, fmt.Errorf("change request store not configured")
	}
	if principal.UserID == "" {
		return nil, ErrUnauthorized
	}

	requests, err := s.store.ListChangeRequests(ctx, persistence.ChangeRequestFilter{UserID: principal.UserID, Status: status})
	if err != nil {
		return nil, mapRepoError("list change requests", err)
	}
	for i, j := 0, len(requests)-1; i < j; i, j = i+1, j-1 {
		requests[i], requests[j] = requests[j], requests[i]
	}
	return s.withDetails(ctx, requests)
}

func (s *ChangeRequestService) withDetails(ctx context.Context, requests []ChangeRequest) ([]ChangeRequestDetail, error) {
	userIDs := make([]string, 0, len(requests))
	roomIDs := make([]string, 0, len(requests))
	for _, r := range requests {
		userIDs = append(userIDs, r.UserID)
		roomIDs = append(roomIDs, r.RoomID)
	}

	users, err := s.store.GetUsers(ctx, userIDs)
	if err != nil {
		return nil, mapRepoError("get users", err)
	}
	rooms, err := s.store.GetRooms(ctx, roomIDs)
	if err != nil {
		return nil, mapRepoError("get rooms", err)
	}

	result := make([]ChangeRequestDetail, 0, len(requests))
	for _, r := range requests {
		detail := ChangeRequestDetail{Request: r}
		if user, ok := users[r.UserID]; ok {
			detail.User = &user
		}
		if room, ok := rooms[r.RoomID]; ok {
			detail.Room = &room
		}
		result = append(result, detail)
	}
	return result, nil
}

func (s *ChangeRequestService) userName(ctx context.Context, userID, fallback string) string {
	users, err := s.store.GetUsers(ctx, []string{userID})
	if err == nil {
		if user, ok := users[userID]; ok && user.Name != "" {
			return user.Name
		}
	}
	if fallback != "" {
		return fallback
	}
	return "A member"
}

func describeChange(request ChangeRequest) string {
	switch {
	case request.OriginalDate != nil && request.NewDate != nil:
		return fmt.Sprintf("move %s to %s", FormatDate(*request.OriginalDate), FormatDate(*request.NewDate))
	case request.NewDate != nil:
		return fmt.Sprintf("add %s", FormatDate(*request.NewDate))
	case request.OriginalDate != nil:
		return fmt.Sprintf("remove %s", FormatDate(*request.OriginalDate))
	}
	return "no dates"
}

func requestChange(op realtime.Operation, request ChangeRequest) realtime.Change {
	return realtime.Change{
		Collection: realtime.CollectionChangeRequests,
		Op:         op,
		ID:         request.ID,
		RoomID:     request.RoomID,
		UserID:     request.UserID,
	}
}
