package campaigns

import "github.com/doorstep-crm/doorstep/pkg/permissions"

// GetMigrations returns all campaign-layer migrations
func GetMigrations() []permissions.Migration {
	return []permissions.Migration{
		{
			Version:     50,
			Description: "Create campaigns table",
			SQL: `
				CREATE TABLE IF NOT EXISTS campaigns (
					id BIGSERIAL PRIMARY KEY,
					organization_id BIGINT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
					name VARCHAR(255) NOT NULL,
					script TEXT NOT NULL DEFAULT '',
					status VARCHAR(20) NOT NULL DEFAULT 'draft',
					target_filter JSONB,
					schedule_start_hour INT NOT NULL DEFAULT 9,
					schedule_end_hour INT NOT NULL DEFAULT 20,
					max_attempts_per_run INT NOT NULL DEFAULT 10,
					created_by BIGINT NOT NULL,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_campaigns_org ON campaigns(organization_id);
				CREATE INDEX IF NOT EXISTS idx_campaigns_status ON campaigns(status);
			`,
		},
		{
			Version:     51,
			Description: "Create voice_agents table",
			SQL: `
				CREATE TABLE IF NOT EXISTS voice_agents (
					id BIGSERIAL PRIMARY KEY,
					campaign_id BIGINT NOT NULL REFERENCES campaigns(id) ON DELETE CASCADE,
					name VARCHAR(100) NOT NULL,
					voice_id VARCHAR(100) NOT NULL,
					weight INT NOT NULL DEFAULT 1,
					created_at TIMESTAMP NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_voice_agents_campaign ON voice_agents(campaign_id);
			`,
		},
		{
			Version:     52,
			Description: "Create call_records table",
			SQL: `
				CREATE TABLE IF NOT EXISTS call_records (
					id BIGSERIAL PRIMARY KEY,
					organization_id BIGINT NOT NULL REFERENCES organizations(id) ON DELETE CASCADE,
					campaign_id BIGINT NOT NULL REFERENCES campaigns(id) ON DELETE CASCADE,
					lead_id BIGINT NOT NULL,
					agent_id BIGINT NOT NULL,
					outcome VARCHAR(20) NOT NULL,
					duration_seconds BIGINT NOT NULL DEFAULT 0,
					transcript TEXT NOT NULL DEFAULT '',
					recording_key VARCHAR(512) NOT NULL DEFAULT '',
					started_at TIMESTAMP NOT NULL
				);

				CREATE INDEX IF NOT EXISTS idx_call_records_campaign ON call_records(campaign_id, started_at);
				CREATE INDEX IF NOT EXISTS idx_call_records_org ON call_records(organization_id);
			`,
		},
	}
}
