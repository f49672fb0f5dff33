package middleware

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/doorstep-crm/doorstep/pkg/httputil"
	"github.com/doorstep-crm/doorstep/pkg/observability"
	"github.com/doorstep-crm/doorstep/pkg/orgs"
	"github.com/doorstep-crm/doorstep/pkg/permissions"
)

// QuotaSource supplies per-organization API limits and records
// consumption for usage reporting
type QuotaSource interface {
	GetQuotas(ctx context.Context, orgID int64) (*orgs.OrgQuotas, error)
	IncrementAPIRequests(ctx context.Context, orgID int64) error
}

// RateLimitMiddleware enforces each plan's hourly API request limit
// with a fixed window counter in Redis, shared across replicas. Redis
// failures fail open: a throttling outage must not take the API down
// with it.
type RateLimitMiddleware struct {
	redis      *redis.Client
	quotas     QuotaSource
	logger     *observability.Logger
	limitCache *lru.LRU[int64, int]
	window     time.Duration
}

const (
	rateLimitKeyFormat  = "doorstep:ratelimit:org:%d"
	rateLimitCacheSize  = 1024
	rateLimitCacheTTL   = time.Minute
	rateLimitWindowSize = time.Hour
)

// NewRateLimitMiddleware creates the per-organization rate limiter
func NewRateLimitMiddleware(redisClient *redis.Client, quotas QuotaSource, logger *observability.Logger) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		redis:      redisClient,
		quotas:     quotas,
		logger:     logger,
		limitCache: lru.NewLRU[int64, int](rateLimitCacheSize, nil, rateLimitCacheTTL),
		window:     rateLimitWindowSize,
	}
}

// Handler wraps an HTTP handler with rate limiting. Unauthenticated
// requests and platform operators are not metered; tenants are metered
// by organization regardless of which member calls.
func (m *RateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal := permissions.PrincipalFromRequest(r)
		if principal == nil || principal.IsPlatformOperator {
			next.ServeHTTP(w, r)
			return
		}
		orgID := principal.OrganizationID

		limit, err := m.hourlyLimit(r.Context(), orgID)
		if err != nil {
			m.logger.WithError(err).WithField("org_id", orgID).Warn("Failed to load API quota, skipping rate limit")
			next.ServeHTTP(w, r)
			return
		}

		count, ttl, err := m.consume(r.Context(), orgID)
		if err != nil {
			m.logger.WithError(err).Warn("Rate limit backend unavailable, failing open")
			next.ServeHTTP(w, r)
			return
		}

		remaining := int64(limit) - count
		if remaining < 0 {
			remaining = 0
		}
		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", limit))
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", remaining))
		if ttl > 0 {
			w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", time.Now().Add(ttl).Unix()))
		}

		if count > int64(limit) {
			w.Header().Set("Retry-After", fmt.Sprintf("%.0f", ttl.Seconds()))
			httputil.WriteTooManyRequests(w, "API rate limit exceeded for this organization")
			return
		}

		if err := m.quotas.IncrementAPIRequests(r.Context(), orgID); err != nil {
			m.logger.WithError(err).WithField("org_id", orgID).Warn("Failed to record API usage")
		}
		next.ServeHTTP(w, r)
	})
}

func (m *RateLimitMiddleware) hourlyLimit(ctx context.Context, orgID int64) (int, error) {
	if limit, ok := m.limitCache.Get(orgID); ok {
		return limit, nil
	}
	quotas, err := m.quotas.GetQuotas(ctx, orgID)
	if err != nil {
		return 0, err
	}
	m.limitCache.Add(orgID, quotas.APIRateLimitPerHour)
	return quotas.APIRateLimitPerHour, nil
}

// consume bumps the window counter and returns the new count plus the
// time left in the window
func (m *RateLimitMiddleware) consume(ctx context.Context, orgID int64) (int64, time.Duration, error) {
	key := fmt.Sprintf(rateLimitKeyFormat, orgID)

	count, err := m.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to increment rate limit counter: %w", err)
	}
	if count == 1 {
		if err := m.redis.Expire(ctx, key, m.window).Err(); err != nil {
			return 0, 0, fmt.Errorf("failed to set rate limit window: %w", err)
		}
	}

	ttl, err := m.redis.TTL(ctx, key).Result()
	if err != nil {
		ttl = 0
	}
	return count, ttl, nil
}

// Reset clears an organization's window, used by tests and support
// tooling
func (m *RateLimitMiddleware) Reset(ctx context.Context, orgID int64) error {
	m.limitCache.Remove(orgID)
	return m.redis.Del(ctx, fmt.Sprintf(rateLimitKeyFormat, orgID)).Err()
}
