package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// RouterConfig wires handlers into the router. Nil handlers leave their routes unmounted.
type RouterConfig struct {
	Verifier       TokenVerifier
	Health         *HealthHandler
	Auth           *AuthHandler
	Users          *UserHandler
	Rooms          *RoomHandler
	Schedules      *ScheduleHandler
	ChangeRequests *ChangeRequestHandler
	Notifications  *NotificationHandler
	Live           *LiveHandler
	Logger         *slog.Logger
	Middleware     []func(http.Handler) http.Handler
}

func NewRouter(cfg RouterConfig) http.Handler {
	logger := defaultLogger(cfg.Logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(logger))
	r.Use(middleware.Recoverer)
	for _, mw := range cfg.Middleware {
		if mw != nil {
			r.Use(mw)
		}
	}

	responder := newResponder(logger)
	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		responder.writeJSON(req.Context(), w, http.StatusNotFound, errorResponse{Message: statusMessage(http.StatusNotFound)})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		responder.writeJSON(req.Context(), w, http.StatusMethodNotAllowed, errorResponse{Message: http.StatusText(http.StatusMethodNotAllowed)})
	})

	if cfg.Health != nil {
		r.Method(http.MethodGet, "/healthz", cfg.Health)
	}

	if cfg.Auth != nil {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/signup", cfg.Auth.SignUp)
			r.Post("/signin", cfg.Auth.SignIn)
			r.Post("/signout", cfg.Auth.SignOut)
			r.Get("/oauth/{provider}", cfg.Auth.OAuthStart)
			r.Get("/oauth/{provider}/callback", cfg.Auth.OAuthCallback)
		})
	}

	if cfg.Verifier == nil {
		return r
	}

	r.Group(func(r chi.Router) {
		r.Use(RequireSession(cfg.Verifier, logger))

		if cfg.Users != nil {
			r.Get("/me", cfg.Users.Me)
		}

		if cfg.Rooms != nil {
			r.Get("/rooms", cfg.Rooms.List)
			r.Post("/rooms", cfg.Rooms.Create)
			r.Post("/rooms/join", cfg.Rooms.Join)
			r.Get("/rooms/{roomID}/members", cfg.Rooms.Members)
			r.Get("/memberships/pending", cfg.Rooms.PendingJoins)
			r.Post("/memberships/{memberID}/approve", cfg.Rooms.Approve)
			r.Post("/memberships/{memberID}/reject", cfg.Rooms.Reject)
		}

		if cfg.Schedules != nil {
			r.Get("/rooms/{roomID}/schedules", cfg.Schedules.ListForRoom)
			r.Post("/rooms/{roomID}/schedules", cfg.Schedules.Assign)
			r.Post("/rooms/{roomID}/schedules/pattern", cfg.Schedules.AssignPattern)
			r.Get("/schedules/upcoming", cfg.Schedules.Upcoming)
			r.Delete("/schedules/{scheduleID}", cfg.Schedules.Delete)
		}

		if cfg.ChangeRequests != nil {
			r.Post("/rooms/{roomID}/change-requests", cfg.ChangeRequests.Create)
			r.Get("/change-requests/pending", cfg.ChangeRequests.Pending)
			r.Get("/change-requests/mine", cfg.ChangeRequests.Mine)
			r.Post("/change-requests/{requestID}/approve", cfg.ChangeRequests.Approve)
			r.Post("/change-requests/{requestID}/reject", cfg.ChangeRequests.Reject)
		}

		if cfg.Notifications != nil {
			r.Get("/notifications", cfg.Notifications.List)
			r.Post("/notifications/{notificationID}/read", cfg.Notifications.MarkRead)
		}

		if cfg.Live != nil {
			r.Method(http.MethodGet, "/live", cfg.Live)
		}
	})

	return r
}
