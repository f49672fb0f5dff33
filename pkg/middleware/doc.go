// Package middleware provides the HTTP middleware chain: bearer-token
// authentication with a short-lived session cache, suspended-tenant
// gating, and Redis-backed per-organization rate limiting.
//
// Ordering matters: authentication runs first so the later stages can
// read the principal from the request context.
package middleware
