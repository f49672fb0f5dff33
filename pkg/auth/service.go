package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/doorstep-crm/doorstep/pkg/audit"
	"github.com/doorstep-crm/doorstep/pkg/observability"
	"github.com/doorstep-crm/doorstep/pkg/permissions"
)

// Service manages session lifecycle and turns bearer tokens into
// authenticated request identities.
type Service struct {
	store       *Store
	tokens      *TokenGenerator
	principals  permissions.PrincipalDirectory
	sessionTTL  time.Duration
	auditLogger audit.Logger
	logger      *observability.Logger
}

// NewService creates an auth service
func NewService(store *Store, principals permissions.PrincipalDirectory, sessionTTL time.Duration, auditLogger audit.Logger, logger *observability.Logger) *Service {
	return &Service{
		store:       store,
		tokens:      NewTokenGenerator(),
		principals:  principals,
		sessionTTL:  sessionTTL,
		auditLogger: auditLogger,
		logger:      logger,
	}
}

// LoginWithIdentity exchanges a verified external identity (email
// vouched for by the OIDC provider) for a local session. Accounts are
// provisioned through organization invitations, never on first login.
func (s *Service) LoginWithIdentity(ctx context.Context, email, ipAddress, userAgent string) (*Session, string, error) {
	user, err := s.store.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, "", err
	}
	if user == nil {
		s.auditLogin(ctx, nil, email, ipAddress, ErrUnknownIdentity)
		return nil, "", ErrUnknownIdentity
	}
	if !user.IsActive {
		s.auditLogin(ctx, user, email, ipAddress, ErrUserInactive)
		return nil, "", ErrUserInactive
	}

	session, token, err := s.IssueSession(ctx, user, ipAddress, userAgent)
	if err != nil {
		return nil, "", err
	}

	now := time.Now()
	if err := s.store.RecordLogin(ctx, user.ID, now); err != nil {
		s.logger.WithError(err).Warn("Failed to record login time")
	}
	s.auditLogin(ctx, user, email, ipAddress, nil)

	return session, token, nil
}

// IssueSession creates a session for an already-authenticated user and
// returns the plaintext token exactly once.
func (s *Service) IssueSession(ctx context.Context, user *User, ipAddress, userAgent string) (*Session, string, error) {
	if !user.IsActive {
		return nil, "", ErrUserInactive
	}

	token, tokenHash, tokenPrefix, err := s.tokens.GenerateToken()
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate session token: %w", err)
	}

	now := time.Now()
	session := &Session{
		TokenHash:   tokenHash,
		TokenPrefix: tokenPrefix,
		UserID:      user.ID,
		ExpiresAt:   now.Add(s.sessionTTL),
		CreatedAt:   now,
		LastSeenAt:  now,
		IPAddress:   ipAddress,
		UserAgent:   userAgent,
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		return nil, "", err
	}

	return session, token, nil
}

// Authenticate resolves a bearer token into an AuthContext. Malformed,
// unknown, and expired tokens all return ErrInvalidToken.
func (s *Service) Authenticate(ctx context.Context, token string) (*AuthContext, error) {
	if err := s.tokens.ValidateTokenFormat(token); err != nil {
		return nil, ErrInvalidToken
	}

	session, err := s.store.GetSessionByTokenHash(ctx, s.tokens.HashToken(token))
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrInvalidToken
	}

	now := time.Now()
	if session.Expired(now) {
		// Best effort: reap the row so the table does not accumulate
		// dead sessions between cleanup runs.
		if err := s.store.DeleteSession(ctx, session.TokenHash); err != nil {
			s.logger.WithError(err).Warn("Failed to delete expired session")
		}
		return nil, ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, session.UserID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrInvalidToken
	}
	if !user.IsActive {
		return nil, ErrUserInactive
	}

	principal, err := s.principals.LookupPrincipal(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	if principal == nil {
		// Platform operators need no organization membership; everyone
		// else does.
		if !user.IsPlatformOperator {
			return nil, ErrNoMembership
		}
		principal = &permissions.Principal{
			UserID:             user.ID,
			IsPlatformOperator: true,
		}
	}

	if err := s.store.TouchSession(ctx, session.TokenHash, now); err != nil {
		s.logger.WithError(err).Warn("Failed to update session last seen time")
	}

	return &AuthContext{User: user, Session: session, Principal: principal}, nil
}

// Logout revokes the session behind a bearer token. Unknown tokens are
// a no-op so logout is idempotent.
func (s *Service) Logout(ctx context.Context, token string) error {
	if err := s.tokens.ValidateTokenFormat(token); err != nil {
		return nil
	}

	tokenHash := s.tokens.HashToken(token)
	session, err := s.store.GetSessionByTokenHash(ctx, tokenHash)
	if err != nil {
		return err
	}
	if session == nil {
		return nil
	}

	if err := s.store.DeleteSession(ctx, tokenHash); err != nil {
		return err
	}

	event := audit.NewEvent(audit.EventTypeAuthLogout, audit.EventStatusSuccess)
	event.ActorUserID = &session.UserID
	event.ResourceType = audit.ResourceTypeSession
	event.ResourceID = session.TokenPrefix
	event.Message = "user logged out"
	_ = s.auditLogger.Log(ctx, event)

	return nil
}

// RevokeUserSessions deletes every session for a user, used when an
// account is deactivated or suspended.
func (s *Service) RevokeUserSessions(ctx context.Context, userID int64) error {
	return s.store.DeleteSessionsForUser(ctx, userID)
}

// CleanupExpiredSessions removes stale session rows; run it from the
// job scheduler.
func (s *Service) CleanupExpiredSessions(ctx context.Context) error {
	n, err := s.store.DeleteExpiredSessions(ctx, time.Now())
	if err != nil {
		return err
	}
	if n > 0 {
		s.logger.WithField("count", n).Info("Deleted expired sessions")
	}
	return nil
}

func (s *Service) auditLogin(ctx context.Context, user *User, email, ipAddress string, loginErr error) {
	eventType := audit.EventTypeAuthLogin
	status := audit.EventStatusSuccess
	message := "user logged in"
	if loginErr != nil {
		eventType = audit.EventTypeAuthLoginFailed
		status = audit.EventStatusFailure
		message = "login rejected"
	}

	event := audit.NewEvent(eventType, status)
	if user != nil {
		event.ActorUserID = &user.ID
	}
	event.ResourceType = audit.ResourceTypeUser
	event.ResourceID = email
	event.IPAddress = ipAddress
	event.Message = message
	if loginErr != nil {
		event.ErrorMessage = loginErr.Error()
	}
	_ = s.auditLogger.Log(ctx, event)
}
