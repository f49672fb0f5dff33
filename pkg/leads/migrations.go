package leads

import "github.com/doorstep-crm/doorstep/pkg/permissions"

// GetMigrations returns all lead-layer migrations
func GetMigrations() []permissions.Migration {
	return []permissions.Migration{
		{
			Version:     30,
			Description: "Create leads table",
			SQL: `
				CREATE TABLE IF NOT EXISTS leads (
					id BIGSERIAL PRIMARY KEY,
					organization_id BIGINT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
					first_name VARCHAR(100) NOT NULL,
					last_name VARCHAR(100) NOT NULL,
					phone VARCHAR(50) NOT NULL DEFAULT '',
					email VARCHAR(255) NOT NULL DEFAULT '',
					source VARCHAR(50) NOT NULL DEFAULT 'manual',
					status VARCHAR(50) NOT NULL DEFAULT 'new',
					assigned_agent_id BIGINT REFERENCES users(id) ON DELETE SET NULL,
					tags JSONB,
					created_by BIGINT NOT NULL,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
					last_contacted_at TIMESTAMP
				);

				CREATE INDEX IF NOT EXISTS idx_leads_org ON leads(organization_id);
				CREATE INDEX IF NOT EXISTS idx_leads_org_status ON leads(organization_id, status);
				CREATE INDEX IF NOT EXISTS idx_leads_assigned ON leads(assigned_agent_id);
			`,
		},
		{
			Version:     31,
			Description: "Create lead_notes table",
			SQL: `
				CREATE TABLE IF NOT EXISTS lead_notes (
					id BIGSERIAL PRIMARY KEY,
					lead_id BIGINT NOT NULL REFERENCES leads(id) ON DELETE CASCADE,
					author_id BIGINT NOT NULL,
					body TEXT NOT NULL,
					created_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_lead_notes_lead ON lead_notes(lead_id);
			`,
		},
	}
}
