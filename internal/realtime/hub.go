// Package realtime fans typed change events out to in-process subscribers.
//
// Subscribers receive a coalesced stream: Publish never blocks, and when a
// subscriber's buffer is full the event is dropped because an undelivered
// event for that subscriber is already queued. Consumers treat every event
// as "re-read the affected view", not as a delta to apply.
package realtime

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"
)

// Collection names the record type a change refers to.
type Collection string

const (
	CollectionRooms          Collection = "rooms"
	CollectionMembers        Collection = "room_members"
	CollectionSchedules      Collection = "office_schedules"
	CollectionChangeRequests Collection = "change_requests"
	CollectionNotifications  Collection = "notifications"
)

// Operation is the kind of write that produced a change.
type Operation string

const (
	OpCreated Operation = "created"
	OpUpdated Operation = "updated"
	OpDeleted Operation = "deleted"
)

// Change describes a committed write.
type Change struct {
	Collection Collection `json:"collection"`
	Op         Operation  `json:"op"`
	ID         string     `json:"id"`
	RoomID     string     `json:"room_id,omitempty"`
	UserID     string     `json:"user_id,omitempty"`
	At         time.Time  `json:"at"`
	// Origin identifies the process that published the change. Set by bridges.
	Origin string `json:"origin,omitempty"`
}

// Filter selects the changes a subscription receives. A nil RoomIDs matches
// every room and an empty UserID matches every user.
type Filter struct {
	Collection Collection
	RoomIDs    []string
	UserID     string
}

// Matches reports whether the change passes the filter.
func (f Filter) Matches(c Change) bool {
	if f.Collection != "" && f.Collection != c.Collection {
		return false
	}
	if f.RoomIDs != nil && !slices.Contains(f.RoomIDs, c.RoomID) {
		return false
	}
	if f.UserID != "" && f.UserID != c.UserID {
		return false
	}
	return true
}

// Publisher accepts committed changes.
type Publisher interface {
	Publish(ctx context.Context, change Change)
}

// Hub is an in-process subscription manager.
type Hub struct {
	mu     sync.RWMutex
	subs   map[uint64]*Subscription
	nextID uint64
	closed bool
	logger *slog.Logger
}

// NewHub creates an empty hub.
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{subs: make(map[uint64]*Subscription), logger: logger}
}

// Subscribe registers a subscriber. buffer below 1 is raised to 1. Subscribing
// to a closed hub returns an already cancelled subscription.
func (h *Hub) Subscribe(filter Filter, buffer int) *Subscription {
	if buffer < 1 {
		buffer = 1
	}
	filter.RoomIDs = slices.Clone(filter.RoomIDs)
	sub := &Subscription{hub: h, filter: filter, ch: make(chan Change, buffer)}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		sub.closeLocked()
		return sub
	}
	h.nextID++
	sub.id = h.nextID
	h.subs[sub.id] = sub
	return sub
}

// Publish delivers the change to every matching subscriber without blocking.
func (h *Hub) Publish(ctx context.Context, change Change) {
	if change.At.IsZero() {
		change.At = time.Now().UTC()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	dropped := 0
	for _, sub := range h.subs {
		if !sub.filter.Matches(change) {
			continue
		}
		select {
		case sub.ch <- change:
		default:
			dropped++
		}
	}
	if dropped > 0 {
		h.logger.DebugContext(ctx, "coalesced change for busy subscribers",
			"collection", change.Collection,
			"change_id", change.ID,
			"subscribers", dropped,
		)
	}
}

// Len returns the number of live subscriptions.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

// Close cancels every subscription and rejects new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for id, sub := range h.subs {
		delete(h.subs, id)
		sub.closeLocked()
	}
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[sub.id]; ok {
		delete(h.subs, sub.id)
	}
	sub.closeLocked()
}

// Subscription is a live registration on a Hub.
type Subscription struct {
	id     uint64
	hub    *Hub
	filter Filter
	ch     chan Change
	once   sync.Once
}

// Events returns the channel of matching changes. It is closed on Cancel.
func (s *Subscription) Events() <-chan Change {
	return s.ch
}

// Cancel stops delivery and closes Events. It is safe to call repeatedly.
func (s *Subscription) Cancel() {
	if s == nil {
		return
	}
	s.hub.remove(s)
}

// closeLocked closes the channel once. Callers hold the hub write lock.
func (s *Subscription) closeLocked() {
	s.once.Do(func() { close(s.ch) })
}
