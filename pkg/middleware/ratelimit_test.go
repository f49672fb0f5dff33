package middleware

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doorstep-crm/doorstep/pkg/contextkeys"
	"github.com/doorstep-crm/doorstep/pkg/observability"
	"github.com/doorstep-crm/doorstep/pkg/orgs"
	"github.com/doorstep-crm/doorstep/pkg/permissions"
)

type fakeQuotaSource struct {
	limit     int
	recorded  int
	quotasErr error
}

func (f *fakeQuotaSource) GetQuotas(ctx context.Context, orgID int64) (*orgs.OrgQuotas, error) {
	if f.quotasErr != nil {
		return nil, f.quotasErr
	}
	return &orgs.OrgQuotas{OrgID: orgID, APIRateLimitPerHour: f.limit}, nil
}

func (f *fakeQuotaSource) IncrementAPIRequests(ctx context.Context, orgID int64) error {
	f.recorded++
	return nil
}

func newRateLimitFixture(t *testing.T, limit int) (*RateLimitMiddleware, *fakeQuotaSource, http.Handler) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	quotas := &fakeQuotaSource{limit: limit}
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	m := NewRateLimitMiddleware(client, quotas, logger)

	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	return m, quotas, handler
}

func limitedRequest(principal *permissions.Principal) *http.Request {
	req := httptest.NewRequest("GET", "/orgs/1/leads", nil)
	if principal != nil {
		req = req.WithContext(contextkeys.WithPrincipal(req.Context(), principal))
	}
	return req
}

var meteredUser = permissions.Principal{UserID: 7, OrganizationID: 1, Role: permissions.RoleEmployee}

func TestRateLimitUnderLimit(t *testing.T) {
	_, quotas, handler := newRateLimitFixture(t, 10)

	for i := 0; i < 5; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, limitedRequest(&meteredUser))
		require.Equal(t, http.StatusOK, rec.Code)
	}
	assert.Equal(t, 5, quotas.recorded)
}

func TestRateLimitExceeded(t *testing.T) {
	_, quotas, handler := newRateLimitFixture(t, 3)

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, limitedRequest(&meteredUser))
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, limitedRequest(&meteredUser))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	// Throttled requests are not billed as usage.
	assert.Equal(t, 3, quotas.recorded)
}

func TestRateLimitResetReopensWindow(t *testing.T) {
	m, _, handler := newRateLimitFixture(t, 1)

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, limitedRequest(&meteredUser))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, limitedRequest(&meteredUser))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)

	require.NoError(t, m.Reset(context.Background(), 1))

	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, limitedRequest(&meteredUser))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimitSkipsUnauthenticated(t *testing.T) {
	_, quotas, handler := newRateLimitFixture(t, 1)

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, limitedRequest(nil))
		require.Equal(t, http.StatusOK, rec.Code)
	}
	assert.Zero(t, quotas.recorded)
}

func TestRateLimitSkipsOperators(t *testing.T) {
	_, _, handler := newRateLimitFixture(t, 1)

	operator := permissions.Principal{UserID: 100, IsPlatformOperator: true}
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, limitedRequest(&operator))
		require.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestRateLimitFailsOpenOnRedisOutage(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	quotas := &fakeQuotaSource{limit: 10}
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	m := NewRateLimitMiddleware(client, quotas, logger)
	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	mr.Close()

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, limitedRequest(&meteredUser))
	assert.Equal(t, http.StatusOK, rec.Code)
}
