package permissions

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Store is the SQL-backed repository for capabilities, role grants, and
// user overrides. It implements Repository, TrustedRepository, and
// PrincipalDirectory.
type Store struct {
	db *sql.DB
}

// NewStore creates a new permission store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// ListActiveCapabilities returns every capability with is_active = true
func (s *Store) ListActiveCapabilities(ctx context.Context) ([]Capability, error) {
	query := `
		SELECT key, category, label, is_active
		FROM capabilities
		WHERE is_active = true
		ORDER BY category, key
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list capabilities: %w", err)
	}
	defer rows.Close()

	var capabilities []Capability
	for rows.Next() {
		var c Capability
		if err := rows.Scan(&c.Key, &c.Category, &c.Label, &c.IsActive); err != nil {
			return nil, fmt.Errorf("failed to scan capability: %w", err)
		}
		capabilities = append(capabilities, c)
	}
	return capabilities, rows.Err()
}

// ListRoleGrants returns all role grant rows for an organization and role
func (s *Store) ListRoleGrants(ctx context.Context, orgID int64, role Role) ([]RoleGrant, error) {
	query := `
		SELECT organization_id, role, capability_key, enabled, updated_at
		FROM role_grants
		WHERE organization_id = $1 AND role = $2
	`

	rows, err := s.db.QueryContext(ctx, query, orgID, string(role))
	if err != nil {
		return nil, fmt.Errorf("failed to list role grants: %w", err)
	}
	defer rows.Close()

	var grants []RoleGrant
	for rows.Next() {
		var g RoleGrant
		var roleStr string
		if err := rows.Scan(&g.OrganizationID, &roleStr, &g.CapabilityKey, &g.Enabled, &g.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan role grant: %w", err)
		}
		g.Role = Role(roleStr)
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

// ListUserOverrides returns all override rows for a user
func (s *Store) ListUserOverrides(ctx context.Context, userID int64) ([]UserOverride, error) {
	query := `
		SELECT organization_id, user_id, capability_key, enabled, granted_by, granted_at
		FROM user_overrides
		WHERE user_id = $1
	`

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list user overrides: %w", err)
	}
	defer rows.Close()

	var overrides []UserOverride
	for rows.Next() {
		var o UserOverride
		if err := rows.Scan(&o.OrganizationID, &o.UserID, &o.CapabilityKey, &o.Enabled, &o.GrantedBy, &o.GrantedAt); err != nil {
			return nil, fmt.Errorf("failed to scan user override: %w", err)
		}
		overrides = append(overrides, o)
	}
	return overrides, rows.Err()
}

// ReplaceUserOverrides deletes all override rows for the user and inserts
// the given rows, inside a single transaction so readers never observe
// the intermediate empty state.
func (s *Store) ReplaceUserOverrides(ctx context.Context, userID int64, overrides []UserOverride) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM user_overrides WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("failed to delete user overrides: %w", err)
	}

	insert := `
		INSERT INTO user_overrides (organization_id, user_id, capability_key, enabled, granted_by, granted_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	for _, o := range overrides {
		if _, err := tx.ExecContext(ctx, insert,
			o.OrganizationID, userID, o.CapabilityKey, o.Enabled, o.GrantedBy, o.GrantedAt,
		); err != nil {
			return fmt.Errorf("failed to insert user override: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit user overrides: %w", err)
	}
	return nil
}

// UpsertRoleGrant creates or updates a role grant row
func (s *Store) UpsertRoleGrant(ctx context.Context, grant RoleGrant) error {
	query := `
		INSERT INTO role_grants (organization_id, role, capability_key, enabled, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (organization_id, role, capability_key)
		DO UPDATE SET enabled = $4, updated_at = $5
	`

	_, err := s.db.ExecContext(ctx, query,
		grant.OrganizationID, string(grant.Role), grant.CapabilityKey, grant.Enabled, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert role grant: %w", err)
	}
	return nil
}

// SeedRoleGrants inserts default grants for a new organization, leaving
// any existing rows untouched.
func (s *Store) SeedRoleGrants(ctx context.Context, orgID int64, grants []RoleGrant) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	insert := `
		INSERT INTO role_grants (organization_id, role, capability_key, enabled, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (organization_id, role, capability_key) DO NOTHING
	`
	now := time.Now()
	for _, g := range grants {
		if _, err := tx.ExecContext(ctx, insert, orgID, string(g.Role), g.CapabilityKey, g.Enabled, now); err != nil {
			return fmt.Errorf("failed to seed role grant: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit role grants: %w", err)
	}
	return nil
}

// UpsertCapability creates or updates a catalog entry
func (s *Store) UpsertCapability(ctx context.Context, c Capability) error {
	query := `
		INSERT INTO capabilities (key, category, label, is_active)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (key)
		DO UPDATE SET category = $2, label = $3, is_active = $4
	`

	_, err := s.db.ExecContext(ctx, query, c.Key, c.Category, c.Label, c.IsActive)
	if err != nil {
		return fmt.Errorf("failed to upsert capability: %w", err)
	}
	return nil
}

// RetireMissingCapabilities soft-retires catalog entries absent from keys.
// Retired keys fail closed in the resolver without deleting grant history.
func (s *Store) RetireMissingCapabilities(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}

	// Build the NOT IN list positionally; key count is small and static.
	placeholders := ""
	args := make([]interface{}, len(keys))
	for i, k := range keys {
		if i > 0 {
			placeholders += ", "
		}
		placeholders += fmt.Sprintf("$%d", i+1)
		args[i] = k
	}

	query := fmt.Sprintf(`UPDATE capabilities SET is_active = false WHERE key NOT IN (%s)`, placeholders)
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to retire capabilities: %w", err)
	}
	return nil
}

// LookupPrincipal resolves a user ID to its principal via the membership
// table. A missing or inactive user returns (nil, nil) so the resolver
// fails closed.
func (s *Store) LookupPrincipal(ctx context.Context, userID int64) (*Principal, error) {
	query := `
		SELECT u.id, m.organization_id, m.role, u.is_platform_operator
		FROM users u
		JOIN org_members m ON m.user_id = u.id
		WHERE u.id = $1 AND u.is_active = true
	`

	var p Principal
	var roleStr string
	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&p.UserID, &p.OrganizationID, &roleStr, &p.IsPlatformOperator,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up principal: %w", err)
	}
	p.Role = Role(roleStr)
	return &p, nil
}
