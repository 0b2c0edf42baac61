package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/example/attendance-coordinator/internal/persistence"
	"github.com/example/attendance-coordinator/internal/realtime"
	"github.com/example/attendance-coordinator/internal/recurrence"
)

// DefaultUpcomingDays is the look-ahead ListUpcomingForUser uses unless WithUpcomingDays changes it.
const DefaultUpcomingDays = 7

const maxAssignments = 5000

// ScheduleStore captures the persistence operations needed by ScheduleService.
type ScheduleStore interface {
	FindMembership(ctx context.Context, roomID, userID string) (RoomMember, error)
	ListMemberships(ctx context.Context, filter persistence.MembershipFilter) ([]RoomMember, error)

	CreateSchedulesIfAbsent(ctx context.Context, schedules []OfficeSchedule) ([]OfficeSchedule, error)
	GetSchedule(ctx context.Context, id string) (OfficeSchedule, error)
	DeleteSchedule(ctx context.Context, id string) error
	ListSchedules(ctx context.Context, filter persistence.ScheduleFilter) ([]OfficeSchedule, error)

	GetUsers(ctx context.Context, ids []string) (map[string]User, error)
	GetRooms(ctx context.Context, ids []string) (map[string]Room, error)
}

// ScheduleService coordinates office-day assignment and listing.
type ScheduleService struct {
	store       ScheduleStore
	publisher   realtime.Publisher
	patterns    *recurrence.Engine
	location    *time.Location
	upcoming    int
	idGenerator func() string
	now         func() time.Time
	logger      *slog.Logger
}

// NewScheduleService constructs a schedule service with the provided dependencies.
func NewScheduleService(store ScheduleStore, publisher realtime.Publisher, location *time.Location, idGenerator func() string, now func() time.Time) *ScheduleService {
	return NewScheduleServiceWithLogger(store, publisher, location, idGenerator, now, nil)
}

// NewScheduleServiceWithLogger constructs a schedule service with a specified logger.
// location decides which calendar day "today" is; nil means UTC.
func NewScheduleServiceWithLogger(store ScheduleStore, publisher realtime.Publisher, location *time.Location, idGenerator func() string, now func() time.Time, logger *slog.Logger) *ScheduleService {
	if location == nil {
		location = time.UTC
	}
	if idGenerator == nil {
		idGenerator = func() string { return "" }
	}
	if now == nil {
		now = time.Now
	}
	return &ScheduleService{
		store:     store,
		publisher: publisher,
		// Pattern bounds arrive as calendar days already.
		patterns:    recurrence.NewEngine(time.UTC),
		location:    location,
		upcoming:    DefaultUpcomingDays,
		idGenerator: idGenerator,
		now:         now,
		logger:      defaultLogger(logger),
	}
}

// WithUpcomingDays changes the look-ahead used when ListUpcomingForUser is given zero days.
func (s *ScheduleService) WithUpcomingDays(days int) *ScheduleService {
	if s != nil && days > 0 {
		s.upcoming = days
	}
	return s
}

func (s *ScheduleService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "ScheduleService", operation, attrs...)
}

// AssignSchedules creates office days for every user and date pair that is not
// already scheduled and returns how many were created.
func (s *ScheduleService) AssignSchedules(ctx context.Context, params AssignSchedulesParams) (created int, err error) {
	if s == nil {
		err = fmt.Errorf("ScheduleService is nil")
		return
	}
	if s.store == nil {
		err = fmt.Errorf("schedule store not configured")
		return
	}

	userIDs := uniqueStrings(params.UserIDs)
	dates := uniqueDays(params.Dates)

	logger := s.loggerWith(ctx, "AssignSchedules",
		"principal_id", params.Principal.UserID,
		"room_id", params.RoomID,
		"user_count", len(userIDs),
		"date_count", len(dates),
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to assign schedules", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("created", created).InfoContext(ctx, "schedules assigned")
	}()

	if _, err = requireActiveAdmin(ctx, s.store, params.RoomID, params.Principal.UserID); err != nil {
		return
	}

	vErr := &ValidationError{}
	if len(userIDs) == 0 {
		vErr.add("user_ids", "select at least one member")
	}
	if len(dates) == 0 {
		vErr.add("dates", "select at least one date")
	}
	if len(userIDs)*len(dates) > maxAssignments {
		vErr.add("dates", fmt.Sprintf("at most %d assignments per request", maxAssignments))
	}
	if vErr.HasErrors() {
		err = vErr
		return
	}

	if err = s.ensureActiveMembers(ctx, params.RoomID, userIDs); err != nil {
		return
	}

	now := s.now()
	schedules := make([]OfficeSchedule, 0, len(userIDs)*len(dates))
	for _, userID := range userIDs {
		for _, day := range dates {
			schedules = append(schedules, OfficeSchedule{
				ID:        s.idGenerator(),
				RoomID:    params.RoomID,
				UserID:    userID,
				Date:      day,
				Status:    persistence.AttendanceOffice,
				CreatedAt: now,
			})
		}
	}

	var inserted []OfficeSchedule
	inserted, err = s.store.CreateSchedulesIfAbsent(ctx, schedules)
	if err != nil {
		err = mapRepoError("create schedules", err)
		return
	}

	for _, schedule := range inserted {
		publish(ctx, s.publisher, scheduleChange(realtime.OpCreated, schedule))
	}
	created = len(inserted)
	return
}

// AssignPattern expands a weekday pattern between two days inclusive and assigns the result.
func (s *ScheduleService) AssignPattern(ctx context.Context, params AssignPatternParams) (int, error) {
	if s == nil {
		return 0, fmt.Errorf("ScheduleService is nil")
	}

	vErr := &ValidationError{}
	if len(params.Weekdays) == 0 {
		vErr.add("weekdays", "select at least one weekday")
	}
	if params.From.IsZero() {
		vErr.add("from", "start date is required")
	}
	if params.To.IsZero() {
		vErr.add("to", "end date is required")
	}
	if !vErr.HasErrors() && normalizeDay(params.To).Before(normalizeDay(params.From)) {
		vErr.add("to", "end date must not be before start date")
	}
	if vErr.HasErrors() {
		return 0, vErr
	}

	to := normalizeDay(params.To)
	days, err := s.patterns.GenerateDays(recurrence.Rule{
		Frequency: recurrence.FrequencyWeekly,
		Weekdays:  params.Weekdays,
		StartsOn:  normalizeDay(params.From),
		EndsOn:    &to,
	}, recurrence.GenerateOptions{})
	if err != nil {
		if errors.Is(err, recurrence.ErrWindowTooLong) {
			return 0, newValidationError("to", fmt.Sprintf("a pattern may span at most %d days", recurrence.MaxSpanDays))
		}
		return 0, err
	}
	if len(days) == 0 {
		return 0, newValidationError("weekdays", "no dates in the range match the selected weekdays")
	}

	return s.AssignSchedules(ctx, AssignSchedulesParams{
		Principal: params.Principal,
		RoomID:    params.RoomID,
		UserIDs:   params.UserIDs,
		Dates:     days,
	})
}

// DeleteSchedule removes a schedule. Only active admins of its room may do so;
// other members file a change request instead.
func (s *ScheduleService) DeleteSchedule(ctx context.Context, principal Principal, scheduleID string) (err error) {
	if s == nil {
		return fmt.Errorf("ScheduleService is nil")
	}
	if s.store == nil {
		return fmt.Errorf("schedule store not configured")
	}

	logger := s.loggerWith(ctx, "DeleteSchedule", "principal_id", principal.UserID, "schedule_id", scheduleID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "failed to delete schedule", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "schedule deleted")
	}()

	schedule, err := s.store.GetSchedule(ctx, scheduleID)
	if err != nil {
		return mapRepoError("get schedule", err)
	}
	if _, err = requireActiveAdmin(ctx, s.store, schedule.RoomID, principal.UserID); err != nil {
		return err
	}
	if err = s.store.DeleteSchedule(ctx, scheduleID); err != nil {
		return mapRepoError("delete schedule", err)
	}

	publish(ctx, s.publisher, scheduleChange(realtime.OpDeleted, schedule))
	return nil
}

// ListSchedulesForRoom lists a room's schedules ordered by date then user name.
func (s *ScheduleService) ListSchedulesForRoom(ctx context.Context, params ListSchedulesParams) ([]ScheduleWithUser, error) {
	if s == nil {
		return nil, fmt.Errorf("ScheduleService is nil")
	}
	if s.store == nil {
		return nil, fmt.Errorf("schedule store not configured")
	}

	if _, err := requireActiveMember(ctx, s.store, params.RoomID, params.Principal.UserID); err != nil {
		return nil, err
	}

	schedules, err := s.store.ListSchedules(ctx, persistence.ScheduleFilter{
		RoomIDs: []string{params.RoomID},
		From:    normalizeDayPtr(params.From),
		To:      normalizeDayPtr(params.To),
	})
	if err != nil {
		return nil, mapRepoError("list schedules", err)
	}

	ids := make([]string, 0, len(schedules))
	for _, schedule := range schedules {
		ids = append(ids, schedule.UserID)
	}
	users, err := s.store.GetUsers(ctx, ids)
	if err != nil {
		return nil, mapRepoError("get users", err)
	}

	result := make([]ScheduleWithUser, 0, len(schedules))
	for _, schedule := range schedules {
		entry := ScheduleWithUser{Schedule: schedule}
		if user, ok := users[schedule.UserID]; ok {
			entry.User = &user
		}
		result = append(result, entry)
	}
	sort.SliceStable(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if !a.Schedule.Date.Equal(b.Schedule.Date) {
			return a.Schedule.Date.Before(b.Schedule.Date)
		}
		return scheduleUserName(a) < scheduleUserName(b)
	})
	return result, nil
}

// ListUpcomingForUser lists the caller's schedules from today through today+withinDays
// across every room they are an active member of. Zero days selects the configured default.
func (s *ScheduleService) ListUpcomingForUser(ctx context.Context, principal Principal, withinDays int) ([]ScheduleWithRoom, error) {
	if s == nil {
		return nil, fmt.Errorf("ScheduleService is nil")
	}
	if s.store == nil {
		return nil, fmt.Errorf("schedule store not configured")
	}
	if principal.UserID == "" {
		return nil, ErrUnauthorized
	}
	if withinDays < 0 {
		return nil, newValidationError("days", "days must not be negative")
	}
	if withinDays == 0 {
		withinDays = s.upcoming
	}

	roomIDs, err := activeRoomIDs(ctx, s.store, principal.UserID)
	if err != nil {
		return nil, err
	}
	if len(roomIDs) == 0 {
		return []ScheduleWithRoom{}, nil
	}

	today := normalizeDay(s.now().In(s.location))
	until := today.AddDate(0, 0, withinDays)
	schedules, err := s.store.ListSchedules(ctx, persistence.ScheduleFilter{
		RoomIDs: roomIDs,
		UserID:  principal.UserID,
		From:    &today,
		To:      &until,
	})
	if err != nil {
		return nil, mapRepoError("list schedules", err)
	}

	rooms, err := s.store.GetRooms(ctx, roomIDs)
	if err != nil {
		return nil, mapRepoError("get rooms", err)
	}

	result := make([]ScheduleWithRoom, 0, len(schedules))
	for _, schedule := range schedules {
		entry := ScheduleWithRoom{Schedule: schedule}
		if room, ok := rooms[schedule.RoomID]; ok {
			entry.Room = &room
		}
		result = append(result, entry)
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Schedule.Date.Before(result[j].Schedule.Date)
	})
	return result, nil
}

func (s *ScheduleService) ensureActiveMembers(ctx context.Context, roomID string, userIDs []string) error {
	members, err := s.store.ListMemberships(ctx, persistence.MembershipFilter{
		RoomIDs: []string{roomID},
		Status:  persistence.MemberActive,
	})
	if err != nil {
		return mapRepoError("list memberships", err)
	}

	active := make(map[string]struct{}, len(members))
	for _, m := range members {
		active[m.UserID] = struct{}{}
	}

	var missing []string
	for _, id := range userIDs {
		if _, ok := active[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return newValidationError("user_ids", "not active members of the room: "+strings.Join(missing, ", "))
	}
	return nil
}

func scheduleUserName(entry ScheduleWithUser) string {
	if entry.User != nil {
		return strings.ToLower(entry.User.Name) + "\x00" + entry.User.ID
	}
	return "\x00" + entry.Schedule.UserID
}

func scheduleChange(op realtime.Operation, schedule OfficeSchedule) realtime.Change {
	return realtime.Change{
		Collection: realtime.CollectionSchedules,
		Op:         op,
		ID:         schedule.ID,
		RoomID:     schedule.RoomID,
		UserID:     schedule.UserID,
	}
}
