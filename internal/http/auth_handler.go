package http

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/example/attendance-coordinator/internal/application"
	"github.com/example/attendance-coordinator/internal/auth"
)

type authService interface {
	SignUpWithPassword(ctx context.Context, params application.SignUpParams) (application.SignInResult, error)
	SignInWithPassword(ctx context.Context, email, password string) (application.SignInResult, error)
	OAuthLoginURL(ctx context.Context, provider string) (application.OAuthRedirect, error)
	CompleteOAuth(ctx context.Context, provider, state, stateCookie, code string) (application.SignInResult, error)
	SignOut(ctx context.Context, token string) error
}

// CookieSettings controls the cookies written by AuthHandler.
type CookieSettings struct {
	Secure bool
	// StateTTL bounds the OAuth state cookie. Zero means ten minutes.
	StateTTL time.Duration
	// AfterSignIn is where OAuth callbacks redirect. Empty means respond with JSON.
	AfterSignIn string
}

type AuthHandler struct {
	service   authService
	cookies   CookieSettings
	responder responder
	logger    *slog.Logger
}

func NewAuthHandler(service authService, cookies CookieSettings, logger *slog.Logger) *AuthHandler {
	if cookies.StateTTL <= 0 {
		cookies.StateTTL = 10 * time.Minute
	}
	base := defaultLogger(logger)
	return &AuthHandler{service: service, cookies: cookies, responder: newResponder(base), logger: base}
}

func (h *AuthHandler) log(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	if h == nil {
		return slog.Default()
	}
	return handlerLogger(ctx, h.logger, "AuthHandler", operation, attrs...)
}

// SignUp handles POST /auth/signup.
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var req signUpRequest
	if err := decodeJSON(r, &req); err != nil {
		h.log(r.Context(), "SignUp", "error_kind", "bad_request").WarnContext(r.Context(), "failed to decode sign-up request", "error", err)
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	result, err := h.service.SignUpWithPassword(r.Context(), application.SignUpParams{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.log(r.Context(), "SignUp", "user_id", result.User.ID).InfoContext(r.Context(), "user registered")
	h.issue(r.Context(), w, http.StatusCreated, result)
}

// SignIn handles POST /auth/signin.
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	var req signInRequest
	if err := decodeJSON(r, &req); err != nil {
		h.log(r.Context(), "SignIn", "error_kind", "bad_request").WarnContext(r.Context(), "failed to decode sign-in request", "error", err)
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	result, err := h.service.SignInWithPassword(r.Context(), req.Email, req.Password)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	h.log(r.Context(), "SignIn", "user_id", result.User.ID).InfoContext(r.Context(), "user authenticated")
	h.issue(r.Context(), w, http.StatusOK, result)
}

// OAuthStart handles GET /auth/oauth/{provider} by redirecting to the provider.
func (h *AuthHandler) OAuthStart(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	provider := chi.URLParam(r, "provider")
	redirect, err := h.service.OAuthLoginURL(r.Context(), provider)
	if err != nil {
		h.log(r.Context(), "OAuthStart", "provider", provider).WarnContext(r.Context(), "oauth start rejected", "error", err, "error_kind", application.ErrorKind(err))
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     auth.StateCookieName,
		Value:    redirect.StateCookie,
		Path:     "/",
		MaxAge:   int(h.cookies.StateTTL / time.Second),
		HttpOnly: true,
		Secure:   h.cookies.Secure,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, redirect.URL, http.StatusFound)
}

// OAuthCallback handles GET /auth/oauth/{provider}/callback.
func (h *AuthHandler) OAuthCallback(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	provider := chi.URLParam(r, "provider")
	logger := h.log(r.Context(), "OAuthCallback", "provider", provider)

	query := r.URL.Query()
	if reason := query.Get("error"); reason != "" {
		logger.WarnContext(r.Context(), "provider declined sign-in", "reason", reason)
		h.responder.writeJSON(r.Context(), w, http.StatusUnauthorized, errorResponse{
			ErrorCode: "AUTH_PROVIDER_DECLINED",
			Message:   "Sign-in was cancelled or declined by the provider.",
		})
		return
	}

	var stateCookie string
	if cookie, err := r.Cookie(auth.StateCookieName); err == nil {
		stateCookie = cookie.Value
	}
	clearCookie(w, auth.StateCookieName, h.cookies.Secure)

	result, err := h.service.CompleteOAuth(r.Context(), provider, query.Get("state"), stateCookie, query.Get("code"))
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	logger.With("user_id", result.User.ID).InfoContext(r.Context(), "oauth sign-in completed")
	if h.cookies.AfterSignIn != "" {
		setSessionCookie(w, result.Token, result.ExpiresAt, h.cookies.Secure)
		http.Redirect(w, r, h.cookies.AfterSignIn, http.StatusSeeOther)
		return
	}
	h.issue(r.Context(), w, http.StatusOK, result)
}

// SignOut handles POST /auth/signout and revokes the presented token.
func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.service == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	token, ok := TokenFromContext(r.Context())
	if !ok {
		token = extractTokenFromRequest(r)
	}
	if strings.TrimSpace(token) == "" {
		h.responder.writeJSON(r.Context(), w, http.StatusUnauthorized, errorResponse{
			ErrorCode: "AUTH_REQUIRED",
			Message:   errMissingToken.Error(),
		})
		return
	}

	if err := h.service.SignOut(r.Context(), token); err != nil {
		if !errors.Is(err, application.ErrUnauthenticated) {
			h.responder.handleServiceError(r.Context(), w, err)
			return
		}
	}

	clearCookie(w, SessionCookieName, h.cookies.Secure)
	h.log(r.Context(), "SignOut").InfoContext(r.Context(), "token revoked")
	h.responder.writeJSON(r.Context(), w, http.StatusNoContent, nil)
}

func (h *AuthHandler) issue(ctx context.Context, w http.ResponseWriter, status int, result application.SignInResult) {
	setSessionCookie(w, result.Token, result.ExpiresAt, h.cookies.Secure)
	h.responder.writeJSON(ctx, w, status, sessionResponse{
		Token:     result.Token,
		ExpiresAt: millis(result.ExpiresAt),
		User:      toUserDTO(result.User),
	})
}

type signUpRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type sessionResponse struct {
	Token     string  `json:"token"`
	ExpiresAt int64   `json:"expires_at"`
	User      userDTO `json:"user"`
}
