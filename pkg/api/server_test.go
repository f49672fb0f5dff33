package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doorstep-crm/doorstep/pkg/audit"
	"github.com/doorstep-crm/doorstep/pkg/auth"
	"github.com/doorstep-crm/doorstep/pkg/config"
	"github.com/doorstep-crm/doorstep/pkg/middleware"
	"github.com/doorstep-crm/doorstep/pkg/permissions"
)

type fakeAuthenticator struct {
	sessions map[string]*auth.AuthContext
}

func (f *fakeAuthenticator) Authenticate(ctx context.Context, token string) (*auth.AuthContext, error) {
	authCtx, ok := f.sessions[token]
	if !ok {
		return nil, auth.ErrInvalidToken
	}
	return authCtx, nil
}

type discardLogger struct {
	mu sync.Mutex
}

func (d *discardLogger) Log(ctx context.Context, event *audit.Event) error { return nil }
func (d *discardLogger) Close() error                                      { return nil }

// newServerFixture assembles a server with the permission routes and a
// real resolver over sqlite, behind the bearer-token middleware.
func newServerFixture(t *testing.T) *Server {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	schema := []string{
		`CREATE TABLE capabilities (
			key TEXT PRIMARY KEY,
			category TEXT NOT NULL,
			label TEXT NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT TRUE
		)`,
		`CREATE TABLE role_grants (
			organization_id INTEGER NOT NULL,
			role TEXT NOT NULL,
			capability_key TEXT NOT NULL,
			enabled BOOLEAN NOT NULL DEFAULT FALSE,
			updated_at TIMESTAMP NOT NULL,
			PRIMARY KEY (organization_id, role, capability_key)
		)`,
		`CREATE TABLE user_overrides (
			organization_id INTEGER NOT NULL,
			user_id INTEGER NOT NULL,
			capability_key TEXT NOT NULL,
			enabled BOOLEAN NOT NULL,
			granted_by INTEGER,
			granted_at TIMESTAMP NOT NULL,
			PRIMARY KEY (user_id, capability_key)
		)`,
	}
	for _, stmt := range schema {
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}

	ctx := context.Background()
	store := permissions.NewStore(db)
	catalog, err := permissions.LoadCatalog("does-not-exist.yaml")
	require.NoError(t, err)
	require.NoError(t, catalog.Sync(ctx, store))
	require.NoError(t, store.SeedRoleGrants(ctx, 1, catalog.DefaultGrants(1)))

	resolver := permissions.NewResolver(store, store, store, nil)
	permHandlers := permissions.NewHandlers(resolver, store, catalog, &discardLogger{})

	authenticator := &fakeAuthenticator{sessions: map[string]*auth.AuthContext{
		"manager-token": {
			User:      &auth.User{ID: 1, IsActive: true},
			Session:   &auth.Session{UserID: 1, ExpiresAt: time.Now().Add(time.Hour)},
			Principal: &permissions.Principal{UserID: 1, OrganizationID: 1, Role: permissions.RoleManager},
		},
	}}

	cfg := &config.Config{}
	cfg.Server.CORSAllowedOrigins = []string{"*"}

	return NewServer(cfg, Dependencies{
		Permissions:    permHandlers,
		AuthMiddleware: middleware.NewAuthMiddleware(authenticator, false),
	})
}

func TestServerRequiresAuthentication(t *testing.T) {
	server := newServerFixture(t)

	body, _ := json.Marshal(permissions.CheckCapabilityRequest{Capability: permissions.CapViewLeads})
	req := httptest.NewRequest("POST", "/permissions/check", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestServerAuthenticatedRequest(t *testing.T) {
	server := newServerFixture(t)

	body, _ := json.Marshal(permissions.CheckCapabilityRequest{Capability: permissions.CapViewLeads})
	req := httptest.NewRequest("POST", "/permissions/check", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer manager-token")
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp permissions.CheckCapabilityResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Allowed)
}

func TestServerRejectsBadToken(t *testing.T) {
	server := newServerFixture(t)

	req := httptest.NewRequest("POST", "/permissions/check", bytes.NewReader(nil))
	req.Header.Set("Authorization", "Bearer bogus")
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestServerSetsRequestID(t *testing.T) {
	server := newServerFixture(t)

	req := httptest.NewRequest("POST", "/permissions/check", bytes.NewReader(nil))
	rec := httptest.NewRecorder()
	server.ServeHTTP(rec, req)

	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}
