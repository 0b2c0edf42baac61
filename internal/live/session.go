// Package live keeps a connected client's views current.
//
// A Session owns every realtime subscription of one connection. The caller's
// memberships decide which rooms are visible; the visible rooms decide the
// upcoming-schedule subscription and, for rooms the caller administers, the
// join-request and change-request subscriptions; the selected room decides
// the room schedule and member subscriptions. Whenever an input changes the
// dependent subscriptions are cancelled before their replacements are created.
package live

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sort"
	"sync"

	"github.com/example/attendance-coordinator/internal/application"
	"github.com/example/attendance-coordinator/internal/persistence"
	"github.com/example/attendance-coordinator/internal/realtime"
)

// View names a client view that must be re-read when an event for it arrives.
type View string

const (
	ViewRooms          View = "rooms"
	ViewNotifications  View = "notifications"
	ViewMyRequests     View = "my_change_requests"
	ViewUpcoming       View = "upcoming"
	ViewJoinRequests   View = "join_requests"
	ViewPendingChanges View = "pending_change_requests"
	ViewRoomSchedules  View = "room_schedules"
	ViewRoomMembers    View = "room_members"
)

// DefaultBuffer is the per-subscription buffer. Events beyond it coalesce.
const DefaultBuffer = 8

// ErrSessionClosed is returned by operations on a closed session.
var ErrSessionClosed = errors.New("live: session closed")

// Event tells the client to refresh View. Change is nil for resynchronisation
// events emitted after a subscription was re-derived.
type Event struct {
	View   View
	Change *realtime.Change
}

// Subscriber hands out realtime subscriptions. *realtime.Hub satisfies it.
type Subscriber interface {
	Subscribe(filter realtime.Filter, buffer int) *realtime.Subscription
}

// RoomLister lists the rooms the caller belongs to.
type RoomLister interface {
	ListRoomsForUser(ctx context.Context, principal application.Principal) ([]application.RoomWithMembership, error)
}

type binding struct {
	filter realtime.Filter
	sub    *realtime.Subscription
}

// Session derives and owns the subscriptions of one connected principal.
type Session struct {
	hub       Subscriber
	rooms     RoomLister
	principal application.Principal
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	out    chan Event
	done   chan struct{}
	wg     sync.WaitGroup

	mu       sync.Mutex
	started  bool
	closed   bool
	bindings map[View]*binding
	resync   map[View]struct{}
	kick     chan struct{}
	active   []string
	admin    []string
	selected string
}

// NewSession returns an idle session. Start must be called before events flow.
func NewSession(hub Subscriber, rooms RoomLister, principal application.Principal, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		hub:       hub,
		rooms:     rooms,
		principal: principal,
		logger:    logger.With("component", "live.Session", "user_id", principal.UserID),
		out:       make(chan Event, DefaultBuffer),
		done:      make(chan struct{}),
		bindings:  make(map[View]*binding),
		resync:    make(map[View]struct{}),
		kick:      make(chan struct{}, 1),
	}
}

// Events streams refresh events. It is closed once the session is closed.
func (s *Session) Events() <-chan Event {
	return s.out
}

// Done is closed when the session closes.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Principal returns the session owner.
func (s *Session) Principal() application.Principal {
	return s.principal
}

// Start subscribes the caller-scoped views and derives the room-scoped ones.
// The session stops deriving when ctx ends; Close still has to be called.
func (s *Session) Start(ctx context.Context) error {
	if s.principal.UserID == "" {
		return application.ErrUnauthorized
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.flushResync()

	me := s.principal.UserID
	s.bindLocked(ViewRooms, realtime.Filter{Collection: realtime.CollectionMembers, UserID: me})
	s.bindLocked(ViewNotifications, realtime.Filter{Collection: realtime.CollectionNotifications, UserID: me})
	s.bindLocked(ViewMyRequests, realtime.Filter{Collection: realtime.CollectionChangeRequests, UserID: me})
	s.mu.Unlock()

	return s.refresh(s.ctx)
}

// SelectRoom points the room-scoped views at roomID. An empty id clears the
// selection. The caller must be an active member of the room.
func (s *Session) SelectRoom(roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSessionClosed
	}
	if roomID == s.selected {
		return nil
	}
	if roomID != "" && !slices.Contains(s.active, roomID) {
		return application.ErrUnauthorized
	}
	s.selectLocked(roomID)
	return nil
}

// Selected returns the selected room id.
func (s *Session) Selected() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selected
}

// Close cancels every subscription and closes Events. It is safe to call repeatedly.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	if s.cancel != nil {
		s.cancel()
	}
	for view, b := range s.bindings {
		b.sub.Cancel()
		delete(s.bindings, view)
	}
	close(s.done)
	s.mu.Unlock()

	s.wg.Wait()
	close(s.out)
	s.logger.Debug("live session closed")
}

// refresh re-reads the caller's rooms and re-derives the dependent subscriptions.
func (s *Session) refresh(ctx context.Context) error {
	rooms, err := s.rooms.ListRoomsForUser(ctx, s.principal)
	if err != nil {
		return err
	}

	active := make([]string, 0, len(rooms))
	admin := make([]string, 0, len(rooms))
	for _, r := range rooms {
		if r.Membership.Status != persistence.MemberActive {
			continue
		}
		active = append(active, r.Room.ID)
		if r.Membership.Role == persistence.RoleAdmin {
			admin = append(admin, r.Room.ID)
		}
	}
	sort.Strings(active)
	sort.Strings(admin)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}

	s.active, s.admin = active, admin
	me := s.principal.UserID
	var resync []View
	if s.rebindLocked(ViewUpcoming, realtime.Filter{Collection: realtime.CollectionSchedules, RoomIDs: active, UserID: me}) {
		resync = append(resync, ViewUpcoming)
	}
	if s.rebindLocked(ViewJoinRequests, realtime.Filter{Collection: realtime.CollectionMembers, RoomIDs: admin}) {
		resync = append(resync, ViewJoinRequests)
	}
	if s.rebindLocked(ViewPendingChanges, realtime.Filter{Collection: realtime.CollectionChangeRequests, RoomIDs: admin}) {
		resync = append(resync, ViewPendingChanges)
	}
	if s.selected != "" && !slices.Contains(active, s.selected) {
		s.logger.Info("selected room no longer accessible", "room_id", s.selected)
		s.selectLocked("")
		resync = append(resync, ViewRoomSchedules, ViewRoomMembers)
	}

	for _, view := range resync {
		s.queueLocked(view)
	}
	return nil
}

func (s *Session) selectLocked(roomID string) {
	s.unbindLocked(ViewRoomSchedules)
	s.unbindLocked(ViewRoomMembers)
	s.selected = roomID
	if roomID == "" {
		return
	}
	rooms := []string{roomID}
	s.bindLocked(ViewRoomSchedules, realtime.Filter{Collection: realtime.CollectionSchedules, RoomIDs: rooms})
	s.bindLocked(ViewRoomMembers, realtime.Filter{Collection: realtime.CollectionMembers, RoomIDs: rooms})
}

// rebindLocked replaces the subscription for view when filter differs from
// the current one and reports whether it did.
func (s *Session) rebindLocked(view View, filter realtime.Filter) bool {
	if b, ok := s.bindings[view]; ok && sameFilter(b.filter, filter) {
		return false
	}
	_, existed := s.bindings[view]
	s.unbindLocked(view)
	s.bindLocked(view, filter)
	return existed
}

func (s *Session) unbindLocked(view View) {
	if b, ok := s.bindings[view]; ok {
		b.sub.Cancel()
		delete(s.bindings, view)
	}
}

func (s *Session) bindLocked(view View, filter realtime.Filter) {
	sub := s.hub.Subscribe(filter, DefaultBuffer)
	s.bindings[view] = &binding{filter: filter, sub: sub}
	s.wg.Add(1)
	go s.forward(view, sub)
}

func (s *Session) forward(view View, sub *realtime.Subscription) {
	defer s.wg.Done()
	for change := range sub.Events() {
		if view == ViewRooms {
			if err := s.refresh(s.ctx); err != nil && !errors.Is(err, ErrSessionClosed) && s.ctx.Err() == nil {
				s.logger.Warn("failed to re-derive room views", "error", err)
			}
		}
		c := change
		select {
		case s.out <- Event{View: view, Change: &c}:
		case <-s.done:
			return
		}
	}
}

// queueLocked marks view for a resync event. Pending resyncs coalesce per
// view and are delivered by flushResync, so a busy client never loses one.
func (s *Session) queueLocked(view View) {
	s.resync[view] = struct{}{}
	select {
	case s.kick <- struct{}{}:
	default:
	}
}

func (s *Session) flushResync() {
	defer s.wg.Done()
	for {
		select {
		case <-s.kick:
		case <-s.done:
			return
		}

		s.mu.Lock()
		views := make([]View, 0, len(s.resync))
		for view := range s.resync {
			views = append(views, view)
		}
		clear(s.resync)
		s.mu.Unlock()
		slices.Sort(views)

		for _, view := range views {
			select {
			case s.out <- Event{View: view}:
			case <-s.done:
				return
			}
		}
	}
}

func sameFilter(a, b realtime.Filter) bool {
	return a.Collection == b.Collection &&
		a.UserID == b.UserID &&
		(a.RoomIDs == nil) == (b.RoomIDs == nil) &&
		slices.Equal(a.RoomIDs, b.RoomIDs)
}
