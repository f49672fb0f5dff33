package orgs

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/doorstep-crm/doorstep/pkg/permissions"
)

// GrantSeeder installs default role grants for a new organization.
// Implemented by the permission store.
type GrantSeeder interface {
	SeedRoleGrants(ctx context.Context, orgID int64, grants []permissions.RoleGrant) error
}

// PostgresService implements organization persistence over PostgreSQL
type PostgresService struct {
	db      *sql.DB
	catalog *permissions.Catalog
	grants  GrantSeeder
}

// NewPostgresService creates a new PostgresService. The catalog and
// grant seeder install each new organization's default permission
// policy at creation time.
func NewPostgresService(db *sql.DB, catalog *permissions.Catalog, grants GrantSeeder) *PostgresService {
	return &PostgresService{db: db, catalog: catalog, grants: grants}
}

// CreateOrganization creates a tenant: the org row, plan quotas, the
// current usage period, and the default role-grant policy from the
// feature catalog. The owner is added as the first super admin member.
func (s *PostgresService) CreateOrganization(ctx context.Context, org *Organization) error {
	if org.Slug == "" {
		org.Slug = generateSlug(org.Name)
	}
	if org.PlanTier == "" {
		org.PlanTier = PlanStarter
	}
	if org.Status == "" {
		org.Status = OrgStatusActive
	}

	settingsJSON, err := json.Marshal(org.Settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	now := time.Now()
	query := `
		INSERT INTO organizations (name, slug, owner_id, plan_tier, status, settings, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		RETURNING id
	`
	err = s.db.QueryRowContext(ctx, query,
		org.Name, org.Slug, org.OwnerID, string(org.PlanTier), string(org.Status), settingsJSON, now,
	).Scan(&org.ID)
	if err != nil {
		return fmt.Errorf("failed to create organization: %w", err)
	}
	org.CreatedAt = now
	org.UpdatedAt = now

	quotas := DefaultQuotas(org.PlanTier)
	quotas.OrgID = org.ID
	if err := s.createQuotas(ctx, quotas); err != nil {
		return fmt.Errorf("failed to create quotas: %w", err)
	}

	if err := s.initializeUsagePeriod(ctx, org.ID); err != nil {
		return fmt.Errorf("failed to initialize usage: %w", err)
	}

	if err := s.grants.SeedRoleGrants(ctx, org.ID, s.catalog.DefaultGrants(org.ID)); err != nil {
		return fmt.Errorf("failed to seed role grants: %w", err)
	}

	if org.OwnerID != nil {
		if err := s.AddMember(ctx, org.ID, *org.OwnerID, permissions.RoleSuperAdmin, nil); err != nil {
			return fmt.Errorf("failed to add owner membership: %w", err)
		}
	}

	return nil
}

// GetOrganization retrieves an organization by ID
func (s *PostgresService) GetOrganization(ctx context.Context, id int64) (*Organization, error) {
	return s.getOrganization(ctx, `WHERE id = $1`, id)
}

// GetOrganizationBySlug retrieves an organization by slug
func (s *PostgresService) GetOrganizationBySlug(ctx context.Context, slug string) (*Organization, error) {
	return s.getOrganization(ctx, `WHERE slug = $1`, slug)
}

func (s *PostgresService) getOrganization(ctx context.Context, where string, arg interface{}) (*Organization, error) {
	query := `
		SELECT id, name, slug, owner_id, plan_tier, status, settings, suspended_at, created_at, updated_at
		FROM organizations
	` + where

	org := &Organization{}
	var settingsJSON []byte
	var planTier, status string
	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&org.ID, &org.Name, &org.Slug, &org.OwnerID, &planTier, &status,
		&settingsJSON, &org.SuspendedAt, &org.CreatedAt, &org.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("organization: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}
	org.PlanTier = PlanTier(planTier)
	org.Status = OrgStatus(status)

	if len(settingsJSON) > 0 {
		if err := json.Unmarshal(settingsJSON, &org.Settings); err != nil {
			return nil, fmt.Errorf("failed to unmarshal settings: %w", err)
		}
	}
	return org, nil
}

// ListOrganizations lists active organizations the user belongs to
func (s *PostgresService) ListOrganizations(ctx context.Context, userID int64) ([]*Organization, error) {
	query := `
		SELECT DISTINCT o.id, o.name, o.slug, o.owner_id, o.plan_tier, o.status,
		       o.settings, o.suspended_at, o.created_at, o.updated_at
		FROM organizations o
		JOIN org_members m ON o.id = m.organization_id
		WHERE m.user_id = $1 AND o.status = 'active'
		ORDER BY o.created_at DESC
	`
	return s.scanOrganizations(ctx, query, userID)
}

// ListAllOrganizations lists every organization regardless of status,
// for the platform control plane.
func (s *PostgresService) ListAllOrganizations(ctx context.Context) ([]*Organization, error) {
	query := `
		SELECT id, name, slug, owner_id, plan_tier, status, settings, suspended_at, created_at, updated_at
		FROM organizations
		ORDER BY created_at DESC
	`
	return s.scanOrganizations(ctx, query)
}

func (s *PostgresService) scanOrganizations(ctx context.Context, query string, args ...interface{}) ([]*Organization, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list organizations: %w", err)
	}
	defer rows.Close()

	var result []*Organization
	for rows.Next() {
		org := &Organization{}
		var settingsJSON []byte
		var planTier, status string
		if err := rows.Scan(
			&org.ID, &org.Name, &org.Slug, &org.OwnerID, &planTier, &status,
			&settingsJSON, &org.SuspendedAt, &org.CreatedAt, &org.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan organization: %w", err)
		}
		org.PlanTier = PlanTier(planTier)
		org.Status = OrgStatus(status)
		if len(settingsJSON) > 0 {
			if err := json.Unmarshal(settingsJSON, &org.Settings); err != nil {
				return nil, fmt.Errorf("failed to unmarshal settings: %w", err)
			}
		}
		result = append(result, org)
	}
	return result, rows.Err()
}

// UpdateOrganization applies a partial update
func (s *PostgresService) UpdateOrganization(ctx context.Context, id int64, updates *UpdateOrgRequest) error {
	setClauses := []string{}
	args := []interface{}{}
	argPos := 1

	if updates.Name != nil {
		setClauses = append(setClauses, fmt.Sprintf("name = $%d", argPos))
		args = append(args, *updates.Name)
		argPos++
	}
	if updates.Settings != nil {
		settingsJSON, err := json.Marshal(updates.Settings)
		if err != nil {
			return fmt.Errorf("failed to marshal settings: %w", err)
		}
		setClauses = append(setClauses, fmt.Sprintf("settings = $%d", argPos))
		args = append(args, settingsJSON)
		argPos++
	}
	if len(setClauses) == 0 {
		return nil
	}

	setClauses = append(setClauses, fmt.Sprintf("updated_at = $%d", argPos))
	args = append(args, time.Now())
	argPos++

	args = append(args, id)
	query := fmt.Sprintf("UPDATE organizations SET %s WHERE id = $%d", strings.Join(setClauses, ", "), argPos)

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update organization: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("organization: %w", ErrNotFound)
	}
	return nil
}

// SetStatus transitions an organization's lifecycle status. Suspension
// stamps suspended_at; reactivation clears it.
func (s *PostgresService) SetStatus(ctx context.Context, id int64, status OrgStatus) error {
	var suspendedAt *time.Time
	if status == OrgStatusSuspended {
		now := time.Now()
		suspendedAt = &now
	}

	query := `UPDATE organizations SET status = $1, suspended_at = $2, updated_at = $3 WHERE id = $4`
	result, err := s.db.ExecContext(ctx, query, string(status), suspendedAt, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update organization status: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("organization: %w", ErrNotFound)
	}
	return nil
}

// SetPlanTier moves an organization to another plan and resets its
// quotas to the new plan's defaults.
func (s *PostgresService) SetPlanTier(ctx context.Context, id int64, tier PlanTier) error {
	query := `UPDATE organizations SET plan_tier = $1, updated_at = $2 WHERE id = $3`
	result, err := s.db.ExecContext(ctx, query, string(tier), time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update plan tier: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("organization: %w", ErrNotFound)
	}
	return s.UpdateQuotas(ctx, id, DefaultQuotas(tier))
}

// DeleteOrganization soft deletes an organization
func (s *PostgresService) DeleteOrganization(ctx context.Context, id int64) error {
	return s.SetStatus(ctx, id, OrgStatusDeleted)
}

func generateSlug(name string) string {
	slug := strings.ToLower(name)
	slug = strings.ReplaceAll(slug, " ", "-")
	slug = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			return r
		}
		return -1
	}, slug)
	return slug
}
