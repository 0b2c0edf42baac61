package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/securecookie"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// ProviderGoogle names the Google sign-in provider.
const ProviderGoogle = "google"

const googleUserInfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"

// ErrInvalidState is returned when an OAuth callback state does not match its cookie.
var ErrInvalidState = errors.New("auth: invalid oauth state")

// ExternalIdentity is the profile a provider reports after sign-in.
type ExternalIdentity struct {
	Subject       string
	Email         string
	EmailVerified bool
	Name          string
}

// Provider runs an OAuth authorization-code flow.
type Provider interface {
	Name() string
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (ExternalIdentity, error)
}

// GoogleProvider signs users in with Google.
type GoogleProvider struct {
	config      *oauth2.Config
	userInfoURL string
}

// NewGoogleProvider returns a provider redirecting back to publicURL + /auth/oauth/google/callback.
func NewGoogleProvider(clientID, clientSecret, publicURL string) *GoogleProvider {
	return &GoogleProvider{
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			RedirectURL:  publicURL + "/auth/oauth/" + ProviderGoogle + "/callback",
			Scopes: []string{
				"openid",
				"https://www.googleapis.com/auth/userinfo.email",
				"https://www.googleapis.com/auth/userinfo.profile",
			},
			Endpoint: google.Endpoint,
		},
		userInfoURL: googleUserInfoURL,
	}
}

// Name implements Provider.
func (p *GoogleProvider) Name() string { return ProviderGoogle }

// AuthCodeURL implements Provider.
func (p *GoogleProvider) AuthCodeURL(state string) string {
	return p.config.AuthCodeURL(state, oauth2.AccessTypeOnline)
}

type googleUserInfo struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	EmailVerified bool   `json:"verified_email"`
	Name          string `json:"name"`
}

// Exchange trades the code for a token and fetches the user's profile.
func (p *GoogleProvider) Exchange(ctx context.Context, code string) (ExternalIdentity, error) {
	token, err := p.config.Exchange(ctx, code)
	if err != nil {
		return ExternalIdentity{}, fmt.Errorf("exchange code: %w", err)
	}

	resp, err := p.config.Client(ctx, token).Get(p.userInfoURL)
	if err != nil {
		return ExternalIdentity{}, fmt.Errorf("fetch user info: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ExternalIdentity{}, fmt.Errorf("fetch user info: unexpected status code %d", resp.StatusCode)
	}

	var info googleUserInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return ExternalIdentity{}, fmt.Errorf("decode user info: %w", err)
	}
	if info.ID == "" {
		return ExternalIdentity{}, errors.New("user info has no subject")
	}

	return ExternalIdentity{
		Subject:       info.ID,
		Email:         info.Email,
		EmailVerified: info.EmailVerified,
		Name:          info.Name,
	}, nil
}

// StateCookieName is the cookie carrying the signed OAuth state.
const StateCookieName = "attendance_oauth_state"

// StateCodec binds an OAuth state value to a signed, expiring cookie.
type StateCodec struct {
	codec *securecookie.SecureCookie
	ttl   time.Duration
}

// NewStateCodec returns a codec signing with hashKey. A non-positive ttl selects ten minutes.
func NewStateCodec(hashKey []byte, ttl time.Duration) *StateCodec {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	codec := securecookie.New(hashKey, nil)
	codec.MaxAge(int(ttl.Seconds()))
	return &StateCodec{codec: codec, ttl: ttl}
}

// TTL reports how long an issued state stays valid.
func (c *StateCodec) TTL() time.Duration { return c.ttl }

// New returns a random state and the signed cookie value binding it.
func (c *StateCodec) New() (state, cookie string, err error) {
	buf := make([]byte, 24)
	if _, err = rand.Read(buf); err != nil {
		return "", "", err
	}
	state = base64.RawURLEncoding.EncodeToString(buf)
	cookie, err = c.codec.Encode(StateCookieName, state)
	if err != nil {
		return "", "", err
	}
	return state, cookie, nil
}

// Verify checks that cookie was issued by New for state and has not expired.
func (c *StateCodec) Verify(state, cookie string) error {
	if state == "" || cookie == "" {
		return ErrInvalidState
	}
	var bound string
	if err := c.codec.Decode(StateCookieName, cookie, &bound); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidState, err)
	}
	if bound != state {
		return ErrInvalidState
	}
	return nil
}
