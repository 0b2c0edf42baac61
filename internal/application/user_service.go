package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/example/attendance-coordinator/internal/persistence"
)

// UserRepository captures the persistence operations needed by the user service.
type UserRepository interface {
	CreateUser(ctx context.Context, user User) error
	GetUser(ctx context.Context, id string) (User, error)
}

// UserService provisions and serves user profiles.
type UserService struct {
	users UserRepository
	now   func() time.Time
}

// NewUserService wires dependencies for the user service.
func NewUserService(users UserRepository, now func() time.Time) *UserService {
	if now == nil {
		now = time.Now
	}
	return &UserService{users: users, now: now}
}

// EnsureUser returns the profile for identity.UID, creating it on first sign-in.
// The name falls back to the email local part and then to "User".
func (s *UserService) EnsureUser(ctx context.Context, identity Identity) (User, error) {
	if s == nil {
		return User{}, fmt.Errorf("UserService is nil")
	}
	if s.users == nil {
		return User{}, fmt.Errorf("user repository not configured")
	}
	if identity.UID == "" {
		return User{}, newValidationError("uid", "identity has no uid")
	}

	existing, err := s.users.GetUser(ctx, identity.UID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, persistence.ErrNotFound) {
		return User{}, mapRepoError("get user", err)
	}

	user := User{
		ID:        identity.UID,
		Name:      profileName(identity),
		Email:     strings.ToLower(strings.TrimSpace(identity.Email)),
		CreatedAt: s.now(),
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, persistence.ErrDuplicate) {
			// Provisioned concurrently by another sign-in.
			existing, getErr := s.users.GetUser(ctx, identity.UID)
			if getErr != nil {
				return User{}, mapRepoError("get user", getErr)
			}
			return existing, nil
		}
		return User{}, mapRepoError("create user", err)
	}
	return user, nil
}

// GetProfile returns the caller's profile.
func (s *UserService) GetProfile(ctx context.Context, principal Principal) (User, error) {
	if s == nil {
		return User{}, fmt.Errorf("UserService is nil")
	}
	if s.users == nil {
		return User{}, fmt.Errorf("user repository not configured")
	}
	if principal.UserID == "" {
		return User{}, ErrUnauthorized
	}

	user, err := s.users.GetUser(ctx, principal.UserID)
	if err != nil {
		return User{}, mapRepoError("get user", err)
	}
	return user, nil
}

func profileName(identity Identity) string {
	if name := cleanText(identity.DisplayName); name != "" {
		return name
	}
	email := strings.TrimSpace(identity.Email)
	if at := strings.Index(email, "@"); at > 0 {
		return email[:at]
	}
	return "User"
}
