package http

import (
	"context"
	"log/slog"
	"net/http"
	"slices"

	"github.com/gorilla/websocket"

	"github.com/example/attendance-coordinator/internal/live"
)

// LiveHandler upgrades GET /live to a websocket that streams view refresh events.
type LiveHandler struct {
	hub       live.Subscriber
	rooms     live.RoomLister
	auth      live.AuthWatcher
	upgrader  websocket.Upgrader
	responder responder
	logger    *slog.Logger
	serverCtx context.Context
}

// NewLiveHandler builds a LiveHandler. An empty allowedOrigins accepts any origin.
func NewLiveHandler(hub live.Subscriber, rooms live.RoomLister, auth live.AuthWatcher, allowedOrigins []string, logger *slog.Logger) *LiveHandler {
	base := defaultLogger(logger)
	h := &LiveHandler{
		hub:       hub,
		rooms:     rooms,
		auth:      auth,
		responder: newResponder(base),
		logger:    base,
		serverCtx: context.Background(),
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || len(allowedOrigins) == 0 {
				return true
			}
			return slices.Contains(allowedOrigins, origin)
		},
	}
	return h
}

// WithContext ties open connections to ctx; they are closed when it ends.
func (h *LiveHandler) WithContext(ctx context.Context) *LiveHandler {
	if h != nil && ctx != nil {
		h.serverCtx = ctx
	}
	return h
}

func (h *LiveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.hub == nil || h.rooms == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	logger := handlerLogger(r.Context(), h.logger, "LiveHandler", "Serve", "principal_id", principal.UserID)

	session := live.NewSession(h.hub, h.rooms, principal, logger)
	if err := session.Start(r.Context()); err != nil {
		session.Close()
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	if h.auth != nil {
		defer live.CloseOnSignOut(h.auth, session)()
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		session.Close()
		logger.WarnContext(r.Context(), "websocket upgrade failed", "error", err)
		return
	}

	logger.InfoContext(r.Context(), "live session opened")
	live.NewConn(ws, session, logger).Serve(h.serverCtx)
	logger.InfoContext(r.Context(), "live session closed")
}
