package testfixtures

import (
	"log/slog"
	"time"

	"github.com/example/attendance-coordinator/internal/application"
	"github.com/example/attendance-coordinator/internal/auth"
	"github.com/example/attendance-coordinator/internal/persistence"
	"github.com/example/attendance-coordinator/internal/realtime"
)

// TokenSecret signs tokens issued by factory-built auth services.
const TokenSecret = "test-token-secret-0123456789abcdef"

// ServiceFactory assists tests with constructing application services using
// deterministic identifiers and clocks.
type ServiceFactory struct {
	Clock       *Clock
	IDGenerator *IDGenerator
	Location    *time.Location
	Logger      *slog.Logger
}

// ServiceFactoryOption configures a ServiceFactory instance.
type ServiceFactoryOption func(*ServiceFactory)

// NewServiceFactory constructs a ServiceFactory with defaults.
func NewServiceFactory(opts ...ServiceFactoryOption) *ServiceFactory {
	factory := &ServiceFactory{
		Clock:       NewClock(time.Time{}),
		IDGenerator: NewIDGenerator("id"),
		Location:    time.UTC,
	}
	for _, opt := range opts {
		opt(factory)
	}
	if factory.Clock == nil {
		factory.Clock = NewClock(time.Time{})
	}
	if factory.IDGenerator == nil {
		factory.IDGenerator = NewIDGenerator("id")
	}
	return factory
}

// WithClock overrides the clock used by the factory.
func WithClock(clock *Clock) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.Clock = clock
	}
}

// WithIDGenerator overrides the identifier generator used by the factory.
func WithIDGenerator(generator *IDGenerator) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.IDGenerator = generator
	}
}

// WithLocation overrides the time zone used to decide "today".
func WithLocation(loc *time.Location) ServiceFactoryOption {
	return func(factory *ServiceFactory) {
		factory.Location = loc
	}
}

// Services bundles every application service wired to one store and hub.
type Services struct {
	Hub            *realtime.Hub
	Tokens         *auth.TokenManager
	Users          *application.UserService
	Auth           *application.AuthService
	Notifications  *application.NotificationService
	Memberships    *application.MembershipService
	Schedules      *application.ScheduleService
	ChangeRequests *application.ChangeRequestService
}

// NewServices wires the application services over store.
// Password hashing uses cheap argon2 parameters.
func (f *ServiceFactory) NewServices(store persistence.Store) *Services {
	idGen := f.IDGenerator.NextFunc()
	now := f.Clock.NowFunc()

	hub := realtime.NewHub(f.Logger)
	tokens, err := auth.NewTokenManager([]byte(TokenSecret), 24*time.Hour, now)
	if err != nil {
		panic(err)
	}

	users := application.NewUserService(store, now)
	notifications := application.NewNotificationServiceWithLogger(store, hub, idGen, now, f.Logger)
	authSvc := application.NewAuthServiceWithLogger(store, users, tokens, idGen, now, f.Logger).
		WithPasswordHasher(auth.NewPasswordHasher(auth.Argon2idParams{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 8, KeyLength: 16}))

	return &Services{
		Hub:            hub,
		Tokens:         tokens,
		Users:          users,
		Auth:           authSvc,
		Notifications:  notifications,
		Memberships:    application.NewMembershipServiceWithLogger(store, notifications, hub, idGen, now, f.Logger),
		Schedules:      application.NewScheduleServiceWithLogger(store, hub, f.Location, idGen, now, f.Logger),
		ChangeRequests: application.NewChangeRequestServiceWithLogger(store, notifications, hub, idGen, now, f.Logger),
	}
}
