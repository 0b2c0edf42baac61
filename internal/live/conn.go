package live

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/attendance-coordinator/internal/application"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 1024
	sendBuffer     = 16
)

// Client message types.
const (
	MessageSelectRoom = "select_room"
	MessagePing       = "ping"
)

// Server message types.
const (
	MessageEvent  = "event"
	MessageAck    = "ack"
	MessageError  = "error"
	MessageClosed = "closed"
)

// ClientMessage is a command sent by the browser.
type ClientMessage struct {
	ID     int    `json:"id"`
	Type   string `json:"type"`
	RoomID string `json:"room_id,omitempty"`
}

// ServerMessage is pushed to the browser.
type ServerMessage struct {
	ID    int        `json:"id,omitempty"`
	Type  string     `json:"type"`
	Event *WireEvent `json:"event,omitempty"`
	Error string     `json:"error,omitempty"`
}

// WireEvent is the JSON form of Event. Times are epoch milliseconds.
type WireEvent struct {
	View       View   `json:"view"`
	Collection string `json:"collection,omitempty"`
	Op         string `json:"op,omitempty"`
	ID         string `json:"id,omitempty"`
	RoomID     string `json:"room_id,omitempty"`
	At         int64  `json:"at,omitempty"`
}

func toWire(ev Event) *WireEvent {
	w := &WireEvent{View: ev.View}
	if c := ev.Change; c != nil {
		w.Collection = string(c.Collection)
		w.Op = string(c.Op)
		w.ID = c.ID
		w.RoomID = c.RoomID
		w.At = c.At.UnixMilli()
	}
	return w
}

// Conn pumps a Session over a websocket connection.
type Conn struct {
	ws      *websocket.Conn
	session *Session
	logger  *slog.Logger
	send    chan ServerMessage
	stop    chan struct{}
}

// NewConn binds session to ws.
func NewConn(ws *websocket.Conn, session *Session, logger *slog.Logger) *Conn {
	if logger == nil {
		logger = slog.Default()
	}
	return &Conn{
		ws:      ws,
		session: session,
		logger:  logger,
		send:    make(chan ServerMessage, sendBuffer),
		stop:    make(chan struct{}),
	}
}

// Serve runs until the peer disconnects, ctx ends, or the session closes.
// The session and the websocket are closed on return.
func (c *Conn) Serve(ctx context.Context) {
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.write(ctx)
	}()

	c.read()
	close(c.stop)
	c.session.Close()
	<-writerDone
}

func (c *Conn) read() {
	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error { return c.ws.SetReadDeadline(time.Now().Add(pongWait)) })

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.logger.Warn("live read failed", "error", err)
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.queue(ServerMessage{Type: MessageError, Error: "invalid message"})
			continue
		}
		c.handle(msg)
	}
}

func (c *Conn) handle(msg ClientMessage) {
	switch msg.Type {
	case MessageSelectRoom:
		if err := c.session.SelectRoom(msg.RoomID); err != nil {
			c.queue(ServerMessage{ID: msg.ID, Type: MessageError, Error: errorText(err)})
			return
		}
		c.queue(ServerMessage{ID: msg.ID, Type: MessageAck})
	case MessagePing:
		c.queue(ServerMessage{ID: msg.ID, Type: MessageAck})
	default:
		c.queue(ServerMessage{ID: msg.ID, Type: MessageError, Error: "unknown message type"})
	}
}

func (c *Conn) queue(msg ServerMessage) bool {
	select {
	case c.send <- msg:
		return true
	default:
		c.logger.Warn("live send buffer full", "type", msg.Type)
		return false
	}
}

func (c *Conn) write(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	events := c.session.Events()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				c.finish()
				return
			}
			if !c.writeJSON(ServerMessage{Type: MessageEvent, Event: toWire(ev)}) {
				return
			}
		case msg := <-c.send:
			if !c.writeJSON(msg) {
				return
			}
		case <-c.session.Done():
			c.finish()
			return
		case <-ctx.Done():
			c.closeWith(websocket.CloseGoingAway, "server shutting down")
			return
		case <-c.stop:
			return
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Conn) writeJSON(msg ServerMessage) bool {
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteJSON(msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
			c.logger.Warn("live write failed", "error", err)
		}
		return false
	}
	return true
}

// finish tells the peer the session ended and starts the close handshake.
func (c *Conn) finish() {
	c.writeJSON(ServerMessage{Type: MessageClosed})
	c.closeWith(websocket.CloseNormalClosure, "session closed")
}

func (c *Conn) closeWith(code int, text string) {
	_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(writeWait))
}

func errorText(err error) string {
	switch {
	case errors.Is(err, application.ErrUnauthorized):
		return "not a member of this room"
	case errors.Is(err, ErrSessionClosed):
		return "session closed"
	default:
		return "request failed"
	}
}

// AuthWatcher reports sign-in and sign-out events. *application.AuthService satisfies it.
type AuthWatcher interface {
	OnAuthStateChanged(listener func(application.AuthStateChange)) (unsubscribe func())
}

// CloseOnSignOut closes session when its principal signs out. The returned
// function stops watching.
func CloseOnSignOut(auth AuthWatcher, session *Session) (stop func()) {
	uid := session.Principal().UserID
	return auth.OnAuthStateChanged(func(change application.AuthStateChange) {
		if change.State == nil && change.UID == uid {
			go session.Close()
		}
	})
}
