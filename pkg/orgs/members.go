package orgs

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/doorstep-crm/doorstep/pkg/permissions"
)

const invitationTTL = 7 * 24 * time.Hour

// ListMembers lists all members of an organization with user details
func (s *PostgresService) ListMembers(ctx context.Context, orgID int64) ([]*OrgMember, error) {
	query := `
		SELECT m.organization_id, m.user_id, m.role, m.invited_by, m.joined_at,
		       u.email, u.full_name, u.is_active
		FROM org_members m
		JOIN users u ON u.id = m.user_id
		WHERE m.organization_id = $1
		ORDER BY m.joined_at
	`
	rows, err := s.db.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	var members []*OrgMember
	for rows.Next() {
		m := &OrgMember{}
		var role string
		if err := rows.Scan(
			&m.OrganizationID, &m.UserID, &role, &m.InvitedBy, &m.JoinedAt,
			&m.Email, &m.FullName, &m.IsActive,
		); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		m.Role = permissions.Role(role)
		members = append(members, m)
	}
	return members, rows.Err()
}

// GetMember retrieves one membership
func (s *PostgresService) GetMember(ctx context.Context, orgID, userID int64) (*OrgMember, error) {
	query := `
		SELECT m.organization_id, m.user_id, m.role, m.invited_by, m.joined_at,
		       u.email, u.full_name, u.is_active
		FROM org_members m
		JOIN users u ON u.id = m.user_id
		WHERE m.organization_id = $1 AND m.user_id = $2
	`
	m := &OrgMember{}
	var role string
	err := s.db.QueryRowContext(ctx, query, orgID, userID).Scan(
		&m.OrganizationID, &m.UserID, &role, &m.InvitedBy, &m.JoinedAt,
		&m.Email, &m.FullName, &m.IsActive,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("member: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get member: %w", err)
	}
	m.Role = permissions.Role(role)
	return m, nil
}

// AddMember adds a user to an organization with a role
func (s *PostgresService) AddMember(ctx context.Context, orgID, userID int64, role permissions.Role, invitedBy *int64) error {
	query := `
		INSERT INTO org_members (organization_id, user_id, role, invited_by, joined_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := s.db.ExecContext(ctx, query, orgID, userID, string(role), invitedBy, time.Now()); err != nil {
		return fmt.Errorf("failed to add member: %w", err)
	}
	return nil
}

// UpdateMemberRole changes a member's role. Role changes drop the
// member's permission overrides, since overrides encode diffs against
// the previous role's defaults.
func (s *PostgresService) UpdateMemberRole(ctx context.Context, orgID, userID int64, role permissions.Role) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`UPDATE org_members SET role = $1 WHERE organization_id = $2 AND user_id = $3`,
		string(role), orgID, userID,
	)
	if err != nil {
		return fmt.Errorf("failed to update member role: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("member: %w", ErrNotFound)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM user_overrides WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("failed to clear permission overrides: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit role change: %w", err)
	}
	return nil
}

// RemoveMember removes a user from an organization along with their
// permission overrides.
func (s *PostgresService) RemoveMember(ctx context.Context, orgID, userID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`DELETE FROM org_members WHERE organization_id = $1 AND user_id = $2`, orgID, userID)
	if err != nil {
		return fmt.Errorf("failed to remove member: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("member: %w", ErrNotFound)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM user_overrides WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("failed to clear permission overrides: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit member removal: %w", err)
	}
	return nil
}

// CreateInvitation creates an invitation with a random token
func (s *PostgresService) CreateInvitation(ctx context.Context, invitation *OrgInvitation) error {
	invitation.Token = uuid.NewString()
	invitation.InvitedAt = time.Now()
	invitation.ExpiresAt = invitation.InvitedAt.Add(invitationTTL)

	query := `
		INSERT INTO org_invitations (org_id, email, role, token, invited_by, invited_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id
	`
	err := s.db.QueryRowContext(ctx, query,
		invitation.OrgID, invitation.Email, string(invitation.Role), invitation.Token,
		invitation.InvitedBy, invitation.InvitedAt, invitation.ExpiresAt,
	).Scan(&invitation.ID)
	if err != nil {
		return fmt.Errorf("failed to create invitation: %w", err)
	}
	return nil
}

// GetInvitation retrieves a pending invitation by token
func (s *PostgresService) GetInvitation(ctx context.Context, token string) (*OrgInvitation, error) {
	query := `
		SELECT id, org_id, email, role, token, invited_by, invited_at, expires_at, accepted_at, accepted_by
		FROM org_invitations
		WHERE token = $1
	`
	inv := &OrgInvitation{}
	var role string
	err := s.db.QueryRowContext(ctx, query, token).Scan(
		&inv.ID, &inv.OrgID, &inv.Email, &role, &inv.Token,
		&inv.InvitedBy, &inv.InvitedAt, &inv.ExpiresAt, &inv.AcceptedAt, &inv.AcceptedBy,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("invitation: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get invitation: %w", err)
	}
	inv.Role = permissions.Role(role)
	return inv, nil
}

// ListInvitations lists pending invitations for an organization
func (s *PostgresService) ListInvitations(ctx context.Context, orgID int64) ([]*OrgInvitation, error) {
	query := `
		SELECT id, org_id, email, role, invited_by, invited_at, expires_at, accepted_at, accepted_by
		FROM org_invitations
		WHERE org_id = $1 AND accepted_at IS NULL AND expires_at > $2
		ORDER BY invited_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query, orgID, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to list invitations: %w", err)
	}
	defer rows.Close()

	var invitations []*OrgInvitation
	for rows.Next() {
		inv := &OrgInvitation{}
		var role string
		if err := rows.Scan(
			&inv.ID, &inv.OrgID, &inv.Email, &role,
			&inv.InvitedBy, &inv.InvitedAt, &inv.ExpiresAt, &inv.AcceptedAt, &inv.AcceptedBy,
		); err != nil {
			return nil, fmt.Errorf("failed to scan invitation: %w", err)
		}
		inv.Role = permissions.Role(role)
		invitations = append(invitations, inv)
	}
	return invitations, rows.Err()
}

// AcceptInvitation marks an invitation accepted and adds the membership
func (s *PostgresService) AcceptInvitation(ctx context.Context, token string, userID int64) (*OrgInvitation, error) {
	inv, err := s.GetInvitation(ctx, token)
	if err != nil {
		return nil, err
	}
	if inv.AcceptedAt != nil {
		return nil, fmt.Errorf("invitation has already been accepted")
	}
	if time.Now().After(inv.ExpiresAt) {
		return nil, fmt.Errorf("invitation has expired")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	if _, err := tx.ExecContext(ctx,
		`UPDATE org_invitations SET accepted_at = $1, accepted_by = $2 WHERE id = $3`,
		now, userID, inv.ID,
	); err != nil {
		return nil, fmt.Errorf("failed to accept invitation: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO org_members (organization_id, user_id, role, invited_by, joined_at) VALUES ($1, $2, $3, $4, $5)`,
		inv.OrgID, userID, string(inv.Role), inv.InvitedBy, now,
	); err != nil {
		return nil, fmt.Errorf("failed to add member: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit invitation acceptance: %w", err)
	}

	inv.AcceptedAt = &now
	inv.AcceptedBy = &userID
	return inv, nil
}

// RevokeInvitation deletes a pending invitation
func (s *PostgresService) RevokeInvitation(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM org_invitations WHERE id = $1 AND accepted_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("failed to revoke invitation: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("invitation: %w", ErrNotFound)
	}
	return nil
}

// CleanupExpiredInvitations removes unaccepted invitations past expiry
func (s *PostgresService) CleanupExpiredInvitations(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM org_invitations WHERE accepted_at IS NULL AND expires_at < $1`, time.Now())
	if err != nil {
		return fmt.Errorf("failed to cleanup invitations: %w", err)
	}
	return nil
}

// CountMembers counts current members of an organization
func (s *PostgresService) CountMembers(ctx context.Context, orgID int64) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM org_members WHERE organization_id = $1`, orgID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count members: %w", err)
	}
	return count, nil
}
