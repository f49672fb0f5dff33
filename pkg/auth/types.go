package auth

import (
	"errors"
	"time"

	"github.com/doorstep-crm/doorstep/pkg/permissions"
)

// User is a person who can sign in. Organization membership and role
// live in the membership table; IsPlatformOperator marks staff accounts
// with cross-organization access.
type User struct {
	ID                 int64      `json:"id"`
	Email              string     `json:"email"`
	FullName           string     `json:"full_name,omitempty"`
	IsActive           bool       `json:"is_active"`
	IsPlatformOperator bool       `json:"is_platform_operator"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
	LastLoginAt        *time.Time `json:"last_login_at,omitempty"`
}

// Session is a server-side session addressed by the SHA-256 hash of an
// opaque bearer token. The plaintext token is returned once at issue
// time and never stored.
type Session struct {
	TokenHash   string    `json:"-"`
	TokenPrefix string    `json:"token_prefix"`
	UserID      int64     `json:"user_id"`
	ExpiresAt   time.Time `json:"expires_at"`
	CreatedAt   time.Time `json:"created_at"`
	LastSeenAt  time.Time `json:"last_seen_at"`
	IPAddress   string    `json:"ip_address,omitempty"`
	UserAgent   string    `json:"user_agent,omitempty"`
}

// Expired reports whether the session is past its expiry
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// AuthContext is the authenticated request identity: the user, the
// session that authenticated them, and the resolved principal used for
// capability checks.
type AuthContext struct {
	User      *User
	Session   *Session
	Principal *permissions.Principal
}

var (
	// ErrInvalidToken covers malformed, unknown, and revoked tokens
	ErrInvalidToken = errors.New("invalid or expired token")

	// ErrUserInactive marks a deactivated account
	ErrUserInactive = errors.New("user account is deactivated")

	// ErrUnknownIdentity is returned when an identity provider vouches
	// for an email with no matching local account
	ErrUnknownIdentity = errors.New("no account for this identity")

	// ErrNoMembership marks a user without an organization membership
	ErrNoMembership = errors.New("user has no organization membership")
)
