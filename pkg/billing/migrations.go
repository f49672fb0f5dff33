package billing

import "github.com/doorstep-crm/doorstep/pkg/permissions"

// GetMigrations returns the billing schema migrations
func GetMigrations() []permissions.Migration {
	return []permissions.Migration{
		{
			Version:     60,
			Description: "Create subscriptions table",
			SQL: `
				CREATE TABLE IF NOT EXISTS subscriptions (
					id BIGSERIAL PRIMARY KEY,
					organization_id BIGINT NOT NULL UNIQUE,
					plan_tier VARCHAR(32) NOT NULL,
					status VARCHAR(32) NOT NULL DEFAULT 'active',
					current_period_start TIMESTAMP NOT NULL,
					current_period_end TIMESTAMP NOT NULL,
					external_customer_id VARCHAR(255) NOT NULL DEFAULT '',
					external_subscription_id VARCHAR(255) NOT NULL DEFAULT '',
					created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
					updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
				);
			`,
		},
		{
			Version:     61,
			Description: "Create payment_methods table",
			SQL: `
				CREATE TABLE IF NOT EXISTS payment_methods (
					id BIGSERIAL PRIMARY KEY,
					organization_id BIGINT NOT NULL,
					kind VARCHAR(32) NOT NULL,
					brand VARCHAR(64) NOT NULL DEFAULT '',
					last4 VARCHAR(4) NOT NULL,
					exp_month INTEGER NOT NULL DEFAULT 0,
					exp_year INTEGER NOT NULL DEFAULT 0,
					is_default BOOLEAN NOT NULL DEFAULT FALSE,
					external_id VARCHAR(255) NOT NULL DEFAULT '',
					created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
				);

				CREATE INDEX IF NOT EXISTS idx_payment_methods_org ON payment_methods(organization_id);
			`,
		},
		{
			Version:     62,
			Description: "Create invoices table",
			SQL: `
				CREATE TABLE IF NOT EXISTS invoices (
					id BIGSERIAL PRIMARY KEY,
					organization_id BIGINT NOT NULL,
					number VARCHAR(64) NOT NULL UNIQUE,
					status VARCHAR(32) NOT NULL DEFAULT 'open',
					period_start TIMESTAMP NOT NULL,
					period_end TIMESTAMP NOT NULL,
					subtotal_cents BIGINT NOT NULL DEFAULT 0,
					total_cents BIGINT NOT NULL DEFAULT 0,
					issued_at TIMESTAMP NOT NULL,
					paid_at TIMESTAMP
				);

				CREATE INDEX IF NOT EXISTS idx_invoices_org ON invoices(organization_id, issued_at);
			`,
		},
		{
			Version:     63,
			Description: "Create invoice_lines table",
			SQL: `
				CREATE TABLE IF NOT EXISTS invoice_lines (
					id BIGSERIAL PRIMARY KEY,
					invoice_id BIGINT NOT NULL,
					description TEXT NOT NULL,
					quantity BIGINT NOT NULL DEFAULT 1,
					unit_cents BIGINT NOT NULL DEFAULT 0,
					amount_cents BIGINT NOT NULL DEFAULT 0
				);

				CREATE INDEX IF NOT EXISTS idx_invoice_lines_invoice ON invoice_lines(invoice_id);
			`,
		},
	}
}
