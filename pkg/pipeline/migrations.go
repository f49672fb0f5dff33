package pipeline

import "github.com/doorstep-crm/doorstep/pkg/permissions"

// GetMigrations returns all pipeline-layer migrations
func GetMigrations() []permissions.Migration {
	return []permissions.Migration{
		{
			Version:     40,
			Description: "Create pipeline_stages table",
			SQL: `
				CREATE TABLE IF NOT EXISTS pipeline_stages (
					id BIGSERIAL PRIMARY KEY,
					organization_id BIGINT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
					name VARCHAR(100) NOT NULL,
					position INT NOT NULL,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_pipeline_stages_org ON pipeline_stages(organization_id, position);
			`,
		},
		{
			Version:     41,
			Description: "Create deals table",
			SQL: `
				CREATE TABLE IF NOT EXISTS deals (
					id BIGSERIAL PRIMARY KEY,
					organization_id BIGINT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
					lead_id BIGINT NOT NULL REFERENCES leads(id) ON DELETE CASCADE,
					stage_id BIGINT NOT NULL REFERENCES pipeline_stages(id),
					title VARCHAR(255) NOT NULL,
					value_cents BIGINT NOT NULL DEFAULT 0,
					expected_close_date TIMESTAMP,
					created_by BIGINT NOT NULL,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_deals_org_stage ON deals(organization_id, stage_id);
				CREATE INDEX IF NOT EXISTS idx_deals_lead ON deals(lead_id);
			`,
		},
	}
}
