package auth

import (
	"context"
	"database/sql"
	"io"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doorstep-crm/doorstep/pkg/audit"
	"github.com/doorstep-crm/doorstep/pkg/observability"
	"github.com/doorstep-crm/doorstep/pkg/permissions"
)

type fakeDirectory struct {
	principals map[int64]*permissions.Principal
}

func (f *fakeDirectory) LookupPrincipal(ctx context.Context, userID int64) (*permissions.Principal, error) {
	return f.principals[userID], nil
}

func newAuthFixture(t *testing.T, ttl time.Duration) (*Service, *Store, *fakeDirectory) {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	schema := []string{
		`CREATE TABLE users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			email TEXT NOT NULL UNIQUE,
			full_name TEXT NOT NULL DEFAULT '',
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			is_platform_operator BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			last_login_at TIMESTAMP
		)`,
		`CREATE TABLE sessions (
			token_hash TEXT PRIMARY KEY,
			token_prefix TEXT NOT NULL,
			user_id INTEGER NOT NULL,
			expires_at TIMESTAMP NOT NULL,
			created_at TIMESTAMP NOT NULL,
			last_seen_at TIMESTAMP NOT NULL,
			ip_address TEXT NOT NULL DEFAULT '',
			user_agent TEXT NOT NULL DEFAULT ''
		)`,
	}
	for _, stmt := range schema {
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}

	store := NewStore(db)
	directory := &fakeDirectory{principals: make(map[int64]*permissions.Principal)}
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	service := NewService(store, directory, ttl, audit.NoOpLogger{}, logger)

	return service, store, directory
}

func createTestUser(t *testing.T, store *Store, email string, active bool) *User {
	t.Helper()
	user := &User{Email: email, FullName: "Test User", IsActive: active}
	require.NoError(t, store.CreateUser(context.Background(), user))
	return user
}

func TestLoginWithIdentityIssuesSession(t *testing.T) {
	service, store, directory := newAuthFixture(t, time.Hour)
	ctx := context.Background()

	user := createTestUser(t, store, "agent@acme.test", true)
	directory.principals[user.ID] = &permissions.Principal{
		UserID: user.ID, OrganizationID: 1, Role: permissions.RoleEmployee,
	}

	session, token, err := service.LoginWithIdentity(ctx, "agent@acme.test", "10.0.0.1", "test-agent")
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.Equal(t, user.ID, session.UserID)
	assert.Equal(t, "10.0.0.1", session.IPAddress)

	// The token round-trips into an AuthContext with the principal.
	authCtx, err := service.Authenticate(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, authCtx.User.ID)
	assert.Equal(t, int64(1), authCtx.Principal.OrganizationID)
	assert.Equal(t, permissions.RoleEmployee, authCtx.Principal.Role)

	// Login time was recorded.
	fresh, err := store.GetUserByEmail(ctx, "agent@acme.test")
	require.NoError(t, err)
	assert.NotNil(t, fresh.LastLoginAt)
}

func TestLoginWithIdentityUnknownEmail(t *testing.T) {
	service, _, _ := newAuthFixture(t, time.Hour)

	_, _, err := service.LoginWithIdentity(context.Background(), "stranger@nowhere.test", "", "")
	assert.ErrorIs(t, err, ErrUnknownIdentity)
}

func TestLoginWithIdentityInactiveUser(t *testing.T) {
	service, store, _ := newAuthFixture(t, time.Hour)

	createTestUser(t, store, "gone@acme.test", false)
	_, _, err := service.LoginWithIdentity(context.Background(), "gone@acme.test", "", "")
	assert.ErrorIs(t, err, ErrUserInactive)
}

func TestAuthenticateRejectsGarbage(t *testing.T) {
	service, _, _ := newAuthFixture(t, time.Hour)
	ctx := context.Background()

	_, err := service.Authenticate(ctx, "not-a-token")
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = service.Authenticate(ctx, "dstp_AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA")
	assert.ErrorIs(t, err, ErrInvalidToken, "well-formed but unknown token")
}

func TestAuthenticateExpiredSession(t *testing.T) {
	service, store, directory := newAuthFixture(t, -time.Minute)
	ctx := context.Background()

	user := createTestUser(t, store, "agent@acme.test", true)
	directory.principals[user.ID] = &permissions.Principal{UserID: user.ID, OrganizationID: 1, Role: permissions.RoleEmployee}

	_, token, err := service.IssueSession(ctx, user, "", "")
	require.NoError(t, err)

	_, err = service.Authenticate(ctx, token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	// The expired row was reaped.
	tg := NewTokenGenerator()
	session, err := store.GetSessionByTokenHash(ctx, tg.HashToken(token))
	require.NoError(t, err)
	assert.Nil(t, session)
}

func TestAuthenticateDeactivatedUser(t *testing.T) {
	service, store, directory := newAuthFixture(t, time.Hour)
	ctx := context.Background()

	user := createTestUser(t, store, "agent@acme.test", true)
	directory.principals[user.ID] = &permissions.Principal{UserID: user.ID, OrganizationID: 1, Role: permissions.RoleEmployee}

	_, token, err := service.IssueSession(ctx, user, "", "")
	require.NoError(t, err)
	require.NoError(t, store.SetUserActive(ctx, user.ID, false))

	_, err = service.Authenticate(ctx, token)
	assert.ErrorIs(t, err, ErrUserInactive)
}

func TestAuthenticateOperatorWithoutMembership(t *testing.T) {
	service, store, _ := newAuthFixture(t, time.Hour)
	ctx := context.Background()

	operator := &User{Email: "ops@doorstep.test", IsActive: true, IsPlatformOperator: true}
	require.NoError(t, store.CreateUser(ctx, operator))

	_, token, err := service.IssueSession(ctx, operator, "", "")
	require.NoError(t, err)

	authCtx, err := service.Authenticate(ctx, token)
	require.NoError(t, err)
	assert.True(t, authCtx.Principal.IsPlatformOperator)
	assert.Zero(t, authCtx.Principal.OrganizationID)
}

func TestAuthenticateMemberlessUserRejected(t *testing.T) {
	service, store, _ := newAuthFixture(t, time.Hour)
	ctx := context.Background()

	user := createTestUser(t, store, "orphan@acme.test", true)
	_, token, err := service.IssueSession(ctx, user, "", "")
	require.NoError(t, err)

	_, err = service.Authenticate(ctx, token)
	assert.ErrorIs(t, err, ErrNoMembership)
}

func TestLogoutRevokesSession(t *testing.T) {
	service, store, directory := newAuthFixture(t, time.Hour)
	ctx := context.Background()

	user := createTestUser(t, store, "agent@acme.test", true)
	directory.principals[user.ID] = &permissions.Principal{UserID: user.ID, OrganizationID: 1, Role: permissions.RoleEmployee}

	_, token, err := service.IssueSession(ctx, user, "", "")
	require.NoError(t, err)

	require.NoError(t, service.Logout(ctx, token))
	_, err = service.Authenticate(ctx, token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	// Logout of an already-revoked token is a no-op.
	assert.NoError(t, service.Logout(ctx, token))
}

func TestCleanupExpiredSessions(t *testing.T) {
	service, store, _ := newAuthFixture(t, time.Hour)
	ctx := context.Background()

	user := createTestUser(t, store, "agent@acme.test", true)

	stale := &Session{
		TokenHash:   "stalehash",
		TokenPrefix: "dstp_stale",
		UserID:      user.ID,
		ExpiresAt:   time.Now().Add(-time.Hour),
		CreatedAt:   time.Now().Add(-2 * time.Hour),
		LastSeenAt:  time.Now().Add(-2 * time.Hour),
	}
	require.NoError(t, store.CreateSession(ctx, stale))

	_, liveToken, err := service.IssueSession(ctx, user, "", "")
	require.NoError(t, err)

	require.NoError(t, service.CleanupExpiredSessions(ctx))

	gone, err := store.GetSessionByTokenHash(ctx, "stalehash")
	require.NoError(t, err)
	assert.Nil(t, gone)

	tg := NewTokenGenerator()
	live, err := store.GetSessionByTokenHash(ctx, tg.HashToken(liveToken))
	require.NoError(t, err)
	assert.NotNil(t, live)
}
