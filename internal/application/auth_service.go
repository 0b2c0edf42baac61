package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"sync"
	"time"

	"github.com/example/attendance-coordinator/internal/auth"
	"github.com/example/attendance-coordinator/internal/persistence"
)

// ProviderPassword names email and password identities.
const ProviderPassword = "password"

const (
	minPasswordLength = 8
	maxPasswordLength = 128
)

// AuthStore captures the identity persistence needed by the auth service.
type AuthStore interface {
	CreateIdentity(ctx context.Context, identity Identity) error
	GetIdentity(ctx context.Context, provider, subject string) (Identity, error)
	RevokeToken(ctx context.Context, token persistence.RevokedToken) error
	IsTokenRevoked(ctx context.Context, tokenID string) (bool, error)
}

// TokenIssuer signs and parses identity tokens.
type TokenIssuer interface {
	Issue(subject, email, name string) (auth.IssuedToken, error)
	Parse(token string) (auth.Claims, error)
}

// PasswordHasher hashes passwords and verifies them against stored hashes.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(encoded, password string) error
}

// OAuthStateCodec issues and verifies the state bound to an OAuth round trip.
type OAuthStateCodec interface {
	New() (state, cookie string, err error)
	Verify(state, cookie string) error
}

// AuthState describes a signed-in identity.
type AuthState struct {
	UID         string
	DisplayName string
	Email       string
}

// AuthStateChange is emitted to listeners. State is nil when UID signed out.
type AuthStateChange struct {
	UID   string
	State *AuthState
}

// OAuthRedirect carries the provider consent URL and the cookie value binding its state.
type OAuthRedirect struct {
	URL         string
	StateCookie string
}

// AuthService coordinates sign-up, sign-in, sign-out and token verification.
type AuthService struct {
	store       AuthStore
	users       *UserService
	tokens      TokenIssuer
	passwords   PasswordHasher
	states      OAuthStateCodec
	providers   map[string]auth.Provider
	idGenerator func() string
	now         func() time.Time
	logger      *slog.Logger

	mu        sync.Mutex
	nextID    int
	listeners map[int]func(AuthStateChange)
}

// NewAuthService constructs an AuthService with the provided dependencies.
func NewAuthService(store AuthStore, users *UserService, tokens TokenIssuer, idGenerator func() string, now func() time.Time) *AuthService {
	return NewAuthServiceWithLogger(store, users, tokens, idGenerator, now, nil)
}

// NewAuthServiceWithLogger constructs an AuthService with a specified logger.
func NewAuthServiceWithLogger(store AuthStore, users *UserService, tokens TokenIssuer, idGenerator func() string, now func() time.Time, logger *slog.Logger) *AuthService {
	if idGenerator == nil {
		idGenerator = func() string { return "" }
	}
	if now == nil {
		now = time.Now
	}
	return &AuthService{
		store:       store,
		users:       users,
		tokens:      tokens,
		passwords:   auth.NewPasswordHasher(auth.DefaultArgon2idParams),
		providers:   make(map[string]auth.Provider),
		idGenerator: idGenerator,
		now:         now,
		logger:      defaultLogger(logger),
		listeners:   make(map[int]func(AuthStateChange)),
	}
}

// WithPasswordHasher replaces the default argon2id hasher.
func (s *AuthService) WithPasswordHasher(hasher PasswordHasher) *AuthService {
	if hasher != nil {
		s.passwords = hasher
	}
	return s
}

// WithOAuth enables third-party sign-in through providers.
func (s *AuthService) WithOAuth(states OAuthStateCodec, providers ...auth.Provider) *AuthService {
	s.states = states
	for _, p := range providers {
		s.providers[p.Name()] = p
	}
	return s
}

func (s *AuthService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "AuthService", operation, attrs...)
}

// SignUpWithPassword registers an email and password identity and signs it in.
func (s *AuthService) SignUpWithPassword(ctx context.Context, params SignUpParams) (result SignInResult, err error) {
	if err = s.ready(); err != nil {
		return
	}

	email := normalizeEmail(params.Email)
	logger := s.loggerWith(ctx, "SignUpWithPassword", "email", email)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "sign-up failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("user_id", result.User.ID).InfoContext(ctx, "sign-up succeeded")
	}()

	vErr := &ValidationError{}
	if email == "" {
		vErr.add("email", "email is required")
	} else if !isBareAddress(email) {
		vErr.add("email", "email is invalid")
	}
	switch n := len(params.Password); {
	case n < minPasswordLength:
		vErr.add("password", fmt.Sprintf("password must be at least %d characters", minPasswordLength))
	case n > maxPasswordLength:
		vErr.add("password", fmt.Sprintf("password must be at most %d characters", maxPasswordLength))
	}
	if vErr.HasErrors() {
		err = vErr
		return
	}

	_, err = s.store.GetIdentity(ctx, ProviderPassword, email)
	switch {
	case err == nil:
		err = fmt.Errorf("%w: email already registered", ErrConflict)
		return
	case !errors.Is(err, persistence.ErrNotFound):
		err = mapRepoError("get identity", err)
		return
	}

	var hash string
	hash, err = s.passwords.Hash(params.Password)
	if err != nil {
		err = fmt.Errorf("hash password: %w", err)
		return
	}

	identity := Identity{
		UID:          s.idGenerator(),
		Provider:     ProviderPassword,
		Subject:      email,
		Email:        email,
		DisplayName:  cleanText(params.Name),
		PasswordHash: hash,
		CreatedAt:    s.now(),
	}
	if err = s.store.CreateIdentity(ctx, identity); err != nil {
		err = mapRepoError("create identity", err)
		return
	}

	result, err = s.signIn(ctx, identity)
	return
}

// SignInWithPassword verifies an email and password and issues a token.
func (s *AuthService) SignInWithPassword(ctx context.Context, email, password string) (result SignInResult, err error) {
	if err = s.ready(); err != nil {
		return
	}

	email = normalizeEmail(email)
	logger := s.loggerWith(ctx, "SignInWithPassword", "email", email)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "authentication failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("user_id", result.User.ID).InfoContext(ctx, "authentication succeeded")
	}()

	if email == "" || password == "" {
		err = ErrInvalidCredentials
		return
	}

	var identity Identity
	identity, err = s.store.GetIdentity(ctx, ProviderPassword, email)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			err = ErrInvalidCredentials
			return
		}
		err = mapRepoError("get identity", err)
		return
	}

	if verifyErr := s.passwords.Verify(identity.PasswordHash, password); verifyErr != nil {
		err = ErrInvalidCredentials
		return
	}

	result, err = s.signIn(ctx, identity)
	return
}

// OAuthLoginURL starts a provider sign-in. The caller stores StateCookie until the callback.
func (s *AuthService) OAuthLoginURL(ctx context.Context, provider string) (OAuthRedirect, error) {
	if err := s.ready(); err != nil {
		return OAuthRedirect{}, err
	}
	p, ok := s.providers[provider]
	if !ok || s.states == nil {
		return OAuthRedirect{}, fmt.Errorf("%w: sign-in provider %q", ErrNotFound, provider)
	}

	state, cookie, err := s.states.New()
	if err != nil {
		return OAuthRedirect{}, fmt.Errorf("issue oauth state: %w", err)
	}
	s.loggerWith(ctx, "OAuthLoginURL", "provider", provider).DebugContext(ctx, "oauth flow started")
	return OAuthRedirect{URL: p.AuthCodeURL(state), StateCookie: cookie}, nil
}

// CompleteOAuth finishes a provider sign-in, provisioning the identity on first use.
// A verified email that already has a password identity signs into that same user.
func (s *AuthService) CompleteOAuth(ctx context.Context, provider, state, stateCookie, code string) (result SignInResult, err error) {
	if err = s.ready(); err != nil {
		return
	}

	logger := s.loggerWith(ctx, "CompleteOAuth", "provider", provider)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "oauth sign-in failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("user_id", result.User.ID).InfoContext(ctx, "oauth sign-in succeeded")
	}()

	p, ok := s.providers[provider]
	if !ok || s.states == nil {
		err = fmt.Errorf("%w: sign-in provider %q", ErrNotFound, provider)
		return
	}
	if verifyErr := s.states.Verify(state, stateCookie); verifyErr != nil {
		err = fmt.Errorf("%w: %v", ErrInvalidCredentials, verifyErr)
		return
	}
	if strings.TrimSpace(code) == "" {
		err = ErrInvalidCredentials
		return
	}

	external, exchangeErr := p.Exchange(ctx, code)
	if exchangeErr != nil {
		err = &TransportError{Op: "oauth exchange", Err: exchangeErr}
		return
	}

	var identity Identity
	identity, err = s.store.GetIdentity(ctx, provider, external.Subject)
	switch {
	case err == nil:
		result, err = s.signIn(ctx, identity)
		return
	case !errors.Is(err, persistence.ErrNotFound):
		err = mapRepoError("get identity", err)
		return
	}

	email := normalizeEmail(external.Email)
	identity = Identity{
		UID:         s.idGenerator(),
		Provider:    provider,
		Subject:     external.Subject,
		Email:       email,
		DisplayName: external.Name,
		CreatedAt:   s.now(),
	}
	if external.EmailVerified && email != "" {
		if linked, linkErr := s.store.GetIdentity(ctx, ProviderPassword, email); linkErr == nil {
			identity.UID = linked.UID
		}
	}
	if err = s.store.CreateIdentity(ctx, identity); err != nil {
		if !errors.Is(err, persistence.ErrDuplicate) {
			err = mapRepoError("create identity", err)
			return
		}
		// Another callback for the same account won the insert.
		identity, err = s.store.GetIdentity(ctx, provider, external.Subject)
		if err != nil {
			err = mapRepoError("get identity", err)
			return
		}
	}

	result, err = s.signIn(ctx, identity)
	return
}

// SignOut revokes the token until it would have expired.
func (s *AuthService) SignOut(ctx context.Context, token string) error {
	if err := s.ready(); err != nil {
		return err
	}

	claims, err := s.tokens.Parse(strings.TrimSpace(token))
	if err != nil {
		return ErrUnauthenticated
	}

	logger := s.loggerWith(ctx, "SignOut", "user_id", claims.Subject)
	revoked := persistence.RevokedToken{TokenID: claims.ID, ExpiresAt: s.now()}
	if claims.ExpiresAt != nil {
		revoked.ExpiresAt = claims.ExpiresAt.Time
	}
	if err := s.store.RevokeToken(ctx, revoked); err != nil {
		err = mapRepoError("revoke token", err)
		logger.ErrorContext(ctx, "failed to revoke token", "error", err, "error_kind", ErrorKind(err))
		return err
	}

	logger.InfoContext(ctx, "signed out")
	s.emit(AuthStateChange{UID: claims.Subject})
	return nil
}

// VerifyToken validates a token and returns the principal it identifies.
func (s *AuthService) VerifyToken(ctx context.Context, token string) (Principal, error) {
	if err := s.ready(); err != nil {
		return Principal{}, err
	}

	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return Principal{}, ErrUnauthenticated
	}
	claims, err := s.tokens.Parse(trimmed)
	if err != nil {
		return Principal{}, ErrUnauthenticated
	}

	revoked, err := s.store.IsTokenRevoked(ctx, claims.ID)
	if err != nil {
		return Principal{}, mapRepoError("check token revocation", err)
	}
	if revoked {
		return Principal{}, ErrUnauthenticated
	}

	return Principal{UserID: claims.Subject, Email: claims.Email, DisplayName: claims.Name}, nil
}

// OnAuthStateChanged registers listener for sign-in and sign-out events.
// The returned function unregisters it and is safe to call more than once.
func (s *AuthService) OnAuthStateChanged(listener func(AuthStateChange)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = listener
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

func (s *AuthService) emit(change AuthStateChange) {
	s.mu.Lock()
	listeners := make([]func(AuthStateChange), 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.mu.Unlock()

	for _, l := range listeners {
		l(change)
	}
}

func (s *AuthService) signIn(ctx context.Context, identity Identity) (SignInResult, error) {
	user, err := s.users.EnsureUser(ctx, identity)
	if err != nil {
		return SignInResult{}, err
	}

	issued, err := s.tokens.Issue(user.ID, user.Email, user.Name)
	if err != nil {
		return SignInResult{}, fmt.Errorf("issue token: %w", err)
	}

	s.emit(AuthStateChange{
		UID:   user.ID,
		State: &AuthState{UID: user.ID, DisplayName: user.Name, Email: user.Email},
	})
	return SignInResult{Token: issued.Token, ExpiresAt: issued.ExpiresAt, Identity: identity, User: user}, nil
}

func (s *AuthService) ready() error {
	switch {
	case s == nil:
		return fmt.Errorf("AuthService is nil")
	case s.store == nil:
		return fmt.Errorf("identity store not configured")
	case s.tokens == nil:
		return fmt.Errorf("token issuer not configured")
	case s.users == nil:
		return fmt.Errorf("user service not configured")
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// isBareAddress accepts a plain addr-spec only. Display names and angle
// brackets parse as valid RFC 5322 but would be stored as the address.
func isBareAddress(email string) bool {
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Name == "" && addr.Address == email
}
