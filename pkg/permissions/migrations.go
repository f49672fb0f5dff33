package permissions

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// GetMigrations returns all permission-layer migrations
func GetMigrations() []Migration {
	return []Migration{
		{
			Version:     1,
			Description: "Create capabilities table",
			SQL: `
				CREATE TABLE IF NOT EXISTS capabilities (
					key VARCHAR(100) PRIMARY KEY,
					category VARCHAR(100) NOT NULL,
					label VARCHAR(255) NOT NULL,
					is_active BOOLEAN NOT NULL DEFAULT TRUE
				);

				CREATE INDEX IF NOT EXISTS idx_capabilities_category ON capabilities(category);
			`,
		},
		{
			Version:     2,
			Description: "Create role_grants table",
			SQL: `
				CREATE TABLE IF NOT EXISTS role_grants (
					organization_id BIGINT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
					role VARCHAR(50) NOT NULL,
					capability_key VARCHAR(100) NOT NULL REFERENCES capabilities(key),
					enabled BOOLEAN NOT NULL DEFAULT FALSE,
					updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
					PRIMARY KEY (organization_id, role, capability_key)
				);

				CREATE INDEX IF NOT EXISTS idx_role_grants_org_role ON role_grants(organization_id, role);
			`,
		},
		{
			Version:     3,
			Description: "Create user_overrides table",
			SQL: `
				CREATE TABLE IF NOT EXISTS user_overrides (
					organization_id BIGINT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
					user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					capability_key VARCHAR(100) NOT NULL REFERENCES capabilities(key),
					enabled BOOLEAN NOT NULL,
					granted_by BIGINT REFERENCES users(id) ON DELETE SET NULL,
					granted_at TIMESTAMP NOT NULL DEFAULT NOW(),
					PRIMARY KEY (user_id, capability_key)
				);

				CREATE INDEX IF NOT EXISTS idx_user_overrides_user ON user_overrides(user_id);
				CREATE INDEX IF NOT EXISTS idx_user_overrides_org ON user_overrides(organization_id);
			`,
		},
	}
}
