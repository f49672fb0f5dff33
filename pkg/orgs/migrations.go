package orgs

import "github.com/doorstep-crm/doorstep/pkg/permissions"

// GetMigrations returns all organization-layer migrations
func GetMigrations() []permissions.Migration {
	return []permissions.Migration{
		{
			Version:     20,
			Description: "Create organizations table",
			SQL: `
				CREATE TABLE IF NOT EXISTS organizations (
					id BIGSERIAL PRIMARY KEY,
					name VARCHAR(255) NOT NULL,
					slug VARCHAR(255) NOT NULL UNIQUE,
					owner_id BIGINT REFERENCES users(id) ON DELETE SET NULL,
					plan_tier VARCHAR(50) NOT NULL DEFAULT 'starter',
					status VARCHAR(50) NOT NULL DEFAULT 'active',
					settings JSONB,
					suspended_at TIMESTAMP,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_organizations_slug ON organizations(slug);
				CREATE INDEX IF NOT EXISTS idx_organizations_status ON organizations(status);
			`,
		},
		{
			Version:     21,
			Description: "Create org_members table",
			SQL: `
				CREATE TABLE IF NOT EXISTS org_members (
					organization_id BIGINT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
					user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					role VARCHAR(50) NOT NULL,
					invited_by BIGINT REFERENCES users(id) ON DELETE SET NULL,
					joined_at TIMESTAMP NOT NULL DEFAULT NOW(),
					PRIMARY KEY (organization_id, user_id)
				);

				CREATE INDEX IF NOT EXISTS idx_org_members_user ON org_members(user_id);
			`,
		},
		{
			Version:     22,
			Description: "Create org_invitations table",
			SQL: `
				CREATE TABLE IF NOT EXISTS org_invitations (
					id BIGSERIAL PRIMARY KEY,
					org_id BIGINT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
					email VARCHAR(255) NOT NULL,
					role VARCHAR(50) NOT NULL,
					token VARCHAR(64) NOT NULL UNIQUE,
					invited_by BIGINT NOT NULL REFERENCES users(id),
					invited_at TIMESTAMP NOT NULL DEFAULT NOW(),
					expires_at TIMESTAMP NOT NULL,
					accepted_at TIMESTAMP,
					accepted_by BIGINT REFERENCES users(id)
				);

				CREATE INDEX IF NOT EXISTS idx_org_invitations_token ON org_invitations(token);
				CREATE INDEX IF NOT EXISTS idx_org_invitations_org ON org_invitations(org_id);
			`,
		},
		{
			Version:     23,
			Description: "Create org_quotas table",
			SQL: `
				CREATE TABLE IF NOT EXISTS org_quotas (
					id BIGSERIAL PRIMARY KEY,
					org_id BIGINT NOT NULL UNIQUE REFERENCES organizations(id) ON DELETE CASCADE,
					max_members INT NOT NULL,
					max_leads INT NOT NULL,
					max_active_campaigns INT NOT NULL,
					max_call_minutes_per_month INT NOT NULL,
					api_rate_limit_per_hour INT NOT NULL,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW()
				);
			`,
		},
		{
			Version:     24,
			Description: "Create org_usage table",
			SQL: `
				CREATE TABLE IF NOT EXISTS org_usage (
					id BIGSERIAL PRIMARY KEY,
					org_id BIGINT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
					period_start TIMESTAMP NOT NULL,
					period_end TIMESTAMP NOT NULL,
					leads_count INT NOT NULL DEFAULT 0,
					active_campaigns INT NOT NULL DEFAULT 0,
					call_seconds_used BIGINT NOT NULL DEFAULT 0,
					api_requests_count BIGINT NOT NULL DEFAULT 0,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
					UNIQUE (org_id, period_start)
				);

				CREATE INDEX IF NOT EXISTS idx_org_usage_org ON org_usage(org_id);
			`,
		},
	}
}
