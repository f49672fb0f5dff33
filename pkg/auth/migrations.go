package auth

import "github.com/doorstep-crm/doorstep/pkg/permissions"

// GetMigrations returns all auth-layer migrations
func GetMigrations() []permissions.Migration {
	return []permissions.Migration{
		{
			Version:     10,
			Description: "Create users table",
			SQL: `
				CREATE TABLE IF NOT EXISTS users (
					id BIGSERIAL PRIMARY KEY,
					email VARCHAR(255) NOT NULL UNIQUE,
					full_name VARCHAR(255) NOT NULL DEFAULT '',
					is_active BOOLEAN NOT NULL DEFAULT TRUE,
					is_platform_operator BOOLEAN NOT NULL DEFAULT FALSE,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
					last_login_at TIMESTAMP
				);

				CREATE INDEX IF NOT EXISTS idx_users_email ON users(email);
			`,
		},
		{
			Version:     11,
			Description: "Create sessions table",
			SQL: `
				CREATE TABLE IF NOT EXISTS sessions (
					token_hash VARCHAR(64) PRIMARY KEY,
					token_prefix VARCHAR(20) NOT NULL,
					user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
					expires_at TIMESTAMP NOT NULL,
					created_at TIMESTAMP NOT NULL DEFAULT NOW(),
					last_seen_at TIMESTAMP NOT NULL DEFAULT NOW(),
					ip_address VARCHAR(45) NOT NULL DEFAULT '',
					user_agent VARCHAR(512) NOT NULL DEFAULT ''
				);

				CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id);
				CREATE INDEX IF NOT EXISTS idx_sessions_expires ON sessions(expires_at);
			`,
		},
	}
}
