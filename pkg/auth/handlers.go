package auth

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/doorstep-crm/doorstep/pkg/contextkeys"
	"github.com/doorstep-crm/doorstep/pkg/httputil"
)

const stateCookieName = "doorstep_oauth_state"

// Handlers provides the login, logout, and identity endpoints
type Handlers struct {
	service *Service
	oidc    *OIDCAuthenticator // nil when OIDC is not configured
}

// NewHandlers creates auth handlers
func NewHandlers(service *Service, oidcAuth *OIDCAuthenticator) *Handlers {
	return &Handlers{service: service, oidc: oidcAuth}
}

// RegisterRoutes registers auth routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/auth/login", h.Login).Methods("GET")
	router.HandleFunc("/auth/callback", h.Callback).Methods("GET")
	router.HandleFunc("/auth/logout", h.Logout).Methods("POST")
	router.HandleFunc("/auth/me", h.Me).Methods("GET")
}

// ExtractBearerToken pulls the bearer token from the Authorization
// header, returning "" when absent or malformed.
func ExtractBearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// Login starts the OIDC authorization code flow
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	if h.oidc == nil {
		httputil.WriteServiceUnavailable(w, "interactive login is not configured")
		return
	}

	stateBytes := make([]byte, 16)
	if _, err := rand.Read(stateBytes); err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	state := base64.RawURLEncoding.EncodeToString(stateBytes)

	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    state,
		Path:     "/auth",
		MaxAge:   300,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.oidc.AuthCodeURL(state), http.StatusFound)
}

// LoginResponse carries the session token back to the client once
type LoginResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Callback finishes the OIDC flow and issues a session
func (h *Handlers) Callback(w http.ResponseWriter, r *http.Request) {
	if h.oidc == nil {
		httputil.WriteServiceUnavailable(w, "interactive login is not configured")
		return
	}

	cookie, err := r.Cookie(stateCookieName)
	if err != nil || cookie.Value == "" || cookie.Value != r.URL.Query().Get("state") {
		httputil.WriteBadRequest(w, "state mismatch")
		return
	}
	http.SetCookie(w, &http.Cookie{Name: stateCookieName, Path: "/auth", MaxAge: -1})

	code := r.URL.Query().Get("code")
	if code == "" {
		httputil.WriteBadRequest(w, "missing authorization code")
		return
	}

	identity, err := h.oidc.Exchange(r.Context(), code)
	if err != nil {
		httputil.WriteUnauthorized(w, "identity verification failed")
		return
	}
	if !identity.Verified {
		httputil.WriteUnauthorized(w, "email address is not verified with the identity provider")
		return
	}

	session, token, err := h.service.LoginWithIdentity(r.Context(), identity.Email, clientIP(r), r.UserAgent())
	if err != nil {
		switch {
		case errors.Is(err, ErrUnknownIdentity):
			httputil.WriteForbidden(w, "no Doorstep account for this identity; ask your organization admin for an invitation")
		case errors.Is(err, ErrUserInactive):
			httputil.WriteForbidden(w, "account is deactivated")
		default:
			httputil.WriteInternalError(w, err)
		}
		return
	}

	httputil.WriteSuccess(w, LoginResponse{Token: token, ExpiresAt: session.ExpiresAt})
}

// Logout revokes the caller's session
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	token := ExtractBearerToken(r)
	if token == "" {
		httputil.WriteUnauthorized(w, "missing bearer token")
		return
	}

	if err := h.service.Logout(r.Context(), token); err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// MeResponse describes the authenticated caller
type MeResponse struct {
	User      *User     `json:"user"`
	ExpiresAt time.Time `json:"session_expires_at"`
}

// Me returns the caller's identity
func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	authCtx, ok := r.Context().Value(contextkeys.AuthKey).(*AuthContext)
	if !ok || authCtx == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	httputil.WriteSuccess(w, MeResponse{
		User:      authCtx.User,
		ExpiresAt: authCtx.Session.ExpiresAt,
	})
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if idx := strings.Index(fwd, ","); idx > 0 {
			return strings.TrimSpace(fwd[:idx])
		}
		return strings.TrimSpace(fwd)
	}
	host := r.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx > 0 {
		return host[:idx]
	}
	return host
}
