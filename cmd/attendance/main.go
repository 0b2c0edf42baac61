package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/example/attendance-coordinator/internal/application"
	"github.com/example/attendance-coordinator/internal/auth"
	"github.com/example/attendance-coordinator/internal/config"
	httptransport "github.com/example/attendance-coordinator/internal/http"
	"github.com/example/attendance-coordinator/internal/persistence"
	"github.com/example/attendance-coordinator/internal/persistence/mongostore"
	"github.com/example/attendance-coordinator/internal/persistence/sqlite"
	"github.com/example/attendance-coordinator/internal/realtime"
	"github.com/example/attendance-coordinator/internal/realtime/redisbridge"
)

const connectTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.New(slog.NewJSONHandler(os.Stderr, nil)).Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server encountered error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	app, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.close(logger)

	if app.bridge != nil {
		go func() {
			if err := app.bridge.Run(ctx); err != nil {
				logger.Error("redis relay stopped", "error", err)
			}
		}()
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           app.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("failed to shutdown server", "error", err)
		}
	}()

	logger.Info("attendance API listening", "addr", server.Addr, "storage", cfg.Storage)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// app holds the wired service and the resources it must release.
type app struct {
	handler http.Handler
	store   persistence.Store
	hub     *realtime.Hub
	redis   *redis.Client
	bridge  *redisbridge.Bridge
}

// newApp opens storage, connects the change feed and builds the HTTP handler.
// Live connections are closed when ctx ends.
func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	a := &app{store: store, hub: realtime.NewHub(logger)}
	var publisher realtime.Publisher = a.hub
	if cfg.RedisAddr != "" {
		a.redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		err := a.redis.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			a.close(logger)
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		a.bridge = redisbridge.New(a.redis, a.hub, cfg.RedisChannel, logger)
		publisher = a.bridge
		logger.Info("relaying changes through redis", "addr", cfg.RedisAddr, "origin", a.bridge.Origin())
	}

	tokens, err := auth.NewTokenManager([]byte(cfg.TokenSecret), cfg.TokenTTL, time.Now)
	if err != nil {
		a.close(logger)
		return nil, err
	}

	idGenerator := uuid.NewString
	now := time.Now

	users := application.NewUserService(store, now)
	notifications := application.NewNotificationServiceWithLogger(store, publisher, idGenerator, now, logger)
	memberships := application.NewMembershipServiceWithLogger(store, notifications, publisher, idGenerator, now, logger)
	schedules := application.NewScheduleServiceWithLogger(store, publisher, cfg.Location, idGenerator, now, logger).
		WithUpcomingDays(cfg.UpcomingDays)
	changeRequests := application.NewChangeRequestServiceWithLogger(store, notifications, publisher, idGenerator, now, logger)
	authService := application.NewAuthServiceWithLogger(store, users, tokens, idGenerator, now, logger)

	cookies := httptransport.CookieSettings{Secure: cfg.SecureCookies, AfterSignIn: cfg.AfterSignInURL}
	if cfg.GoogleEnabled() {
		states := auth.NewStateCodec([]byte(cfg.CookieHashKey), 0)
		authService.WithOAuth(states, auth.NewGoogleProvider(cfg.GoogleClientID, cfg.GoogleClientSecret, cfg.PublicURL))
		cookies.StateTTL = states.TTL()
	}

	a.handler = httptransport.NewRouter(httptransport.RouterConfig{
		Verifier:       authService,
		Health:         httptransport.NewHealthHandler(store, logger),
		Auth:           httptransport.NewAuthHandler(authService, cookies, logger),
		Users:          httptransport.NewUserHandler(users, logger),
		Rooms:          httptransport.NewRoomHandler(memberships, logger),
		Schedules:      httptransport.NewScheduleHandler(schedules, logger),
		ChangeRequests: httptransport.NewChangeRequestHandler(changeRequests, logger),
		Notifications:  httptransport.NewNotificationHandler(notifications, logger),
		Live:           httptransport.NewLiveHandler(a.hub, memberships, authService, cfg.AllowedOrigins, logger).WithContext(ctx),
		Logger:         logger,
	})
	return a, nil
}

func (a *app) close(logger *slog.Logger) {
	if a.hub != nil {
		a.hub.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			logger.Error("failed to close redis client", "error", err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			logger.Error("failed to close storage", "error", err)
		}
	}
}

// openStore connects the configured backend and brings its schema up to date.
func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (persistence.Store, error) {
	switch cfg.Storage {
	case config.StorageSQLite:
		storage, err := sqlite.Open(cfg.SQLiteDSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		if err := storage.Migrate(ctx); err != nil {
			_ = storage.Close()
			return nil, fmt.Errorf("apply migrations: %w", err)
		}
		logger.Info("sqlite storage ready")
		return storage, nil
	case config.StorageMongo:
		connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		defer cancel()
		store, err := mongostore.Open(connectCtx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, err
		}
		logger.Info("mongodb storage ready", "database", cfg.MongoDatabase)
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported storage backend %q", cfg.Storage)
	}
}
