package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/doorstep-crm/doorstep/pkg/auth"
	"github.com/doorstep-crm/doorstep/pkg/contextkeys"
	"github.com/doorstep-crm/doorstep/pkg/httputil"
)

// Authenticator resolves a bearer token to a user, session, and
// principal
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*auth.AuthContext, error)
}

// AuthMiddleware authenticates requests via the Authorization header.
// Resolved sessions are cached briefly so a burst of requests from the
// same client costs one session lookup, not one per request. The cache
// TTL bounds how long a revoked session can still pass.
type AuthMiddleware struct {
	service  Authenticator
	cache    *lru.LRU[string, *auth.AuthContext]
	optional bool
}

const (
	authCacheSize = 4096
	authCacheTTL  = 30 * time.Second
)

// NewAuthMiddleware creates authentication middleware. With optional
// set, requests without credentials pass through unauthenticated;
// invalid credentials are still rejected.
func NewAuthMiddleware(service Authenticator, optional bool) *AuthMiddleware {
	return &AuthMiddleware{
		service:  service,
		cache:    lru.NewLRU[string, *auth.AuthContext](authCacheSize, nil, authCacheTTL),
		optional: optional,
	}
}

// ExtractBearerToken pulls the token out of an Authorization header,
// returning "" when the header is absent or not a bearer scheme.
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

// Handler wraps an HTTP handler with authentication
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return m.handle(next, m.optional)
}

// OptionalHandler is Handler with pass-through for missing
// credentials, sharing the same session cache. Presented credentials
// are still validated.
func (m *AuthMiddleware) OptionalHandler(next http.Handler) http.Handler {
	return m.handle(next, true)
}

func (m *AuthMiddleware) handle(next http.Handler, optional bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := ExtractBearerToken(r)
		if token == "" {
			if optional {
				next.ServeHTTP(w, r)
				return
			}
			httputil.WriteUnauthorized(w, "authentication required")
			return
		}

		authCtx, ok := m.cache.Get(token)
		if !ok {
			var err error
			authCtx, err = m.service.Authenticate(r.Context(), token)
			if err != nil {
				if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrUserInactive) || errors.Is(err, auth.ErrNoMembership) {
					httputil.WriteUnauthorized(w, err.Error())
					return
				}
				httputil.WriteInternalError(w, err)
				return
			}
			m.cache.Add(token, authCtx)
		}

		ctx := contextkeys.WithAuth(r.Context(), authCtx)
		ctx = contextkeys.WithPrincipal(ctx, authCtx.Principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Invalidate drops a token from the session cache, used on logout so
// the revocation is immediate rather than waiting out the TTL.
func (m *AuthMiddleware) Invalidate(token string) {
	m.cache.Remove(token)
}
