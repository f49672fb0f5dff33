package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// DBLogger persists audit events to the audit_logs table
type DBLogger struct {
	db *sql.DB
}

// NewDBLogger creates a database-backed audit logger
func NewDBLogger(db *sql.DB) (*DBLogger, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	return &DBLogger{db: db}, nil
}

// Log writes one event row
func (l *DBLogger) Log(ctx context.Context, event *Event) error {
	var metadataJSON []byte
	if event.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal audit metadata: %w", err)
		}
	}

	query := `
		INSERT INTO audit_logs (timestamp, event_type, status, actor_user_id, organization_id,
			resource_type, resource_id, ip_address, request_id, message, error_message, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := l.db.ExecContext(ctx, query,
		event.Timestamp,
		string(event.EventType),
		string(event.Status),
		event.ActorUserID,
		event.OrganizationID,
		string(event.ResourceType),
		event.ResourceID,
		event.IPAddress,
		event.RequestID,
		event.Message,
		event.ErrorMessage,
		nullableJSON(metadataJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}
	return nil
}

func nullableJSON(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

// Close is a no-op; the pool is owned by the caller
func (l *DBLogger) Close() error { return nil }

// Migration returns the DDL for the audit_logs table
func Migration() string {
	return `
		CREATE TABLE IF NOT EXISTS audit_logs (
			id BIGSERIAL PRIMARY KEY,
			timestamp TIMESTAMP WITH TIME ZONE NOT NULL,
			event_type VARCHAR(100) NOT NULL,
			status VARCHAR(20) NOT NULL,
			actor_user_id BIGINT,
			organization_id BIGINT,
			resource_type VARCHAR(50),
			resource_id VARCHAR(255),
			ip_address VARCHAR(45),
			request_id VARCHAR(100),
			message TEXT,
			error_message TEXT,
			metadata JSONB,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_audit_logs_timestamp ON audit_logs(timestamp DESC);
		CREATE INDEX IF NOT EXISTS idx_audit_logs_event_type ON audit_logs(event_type);
		CREATE INDEX IF NOT EXISTS idx_audit_logs_org ON audit_logs(organization_id);
		CREATE INDEX IF NOT EXISTS idx_audit_logs_actor ON audit_logs(actor_user_id);
	`
}

// List returns recent events for an organization, newest first
func (l *DBLogger) List(ctx context.Context, orgID int64, limit int) ([]Event, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := `
		SELECT id, timestamp, event_type, status, actor_user_id, organization_id,
			resource_type, resource_id, ip_address, request_id, message, error_message, metadata
		FROM audit_logs
		WHERE organization_id = $1
		ORDER BY timestamp DESC
		LIMIT $2
	`

	rows, err := l.db.QueryContext(ctx, query, orgID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit logs: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var eventType, status, resourceType string
		var metadataJSON sql.NullString
		if err := rows.Scan(
			&e.ID, &e.Timestamp, &eventType, &status, &e.ActorUserID, &e.OrganizationID,
			&resourceType, &e.ResourceID, &e.IPAddress, &e.RequestID, &e.Message, &e.ErrorMessage, &metadataJSON,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		e.EventType = EventType(eventType)
		e.Status = EventStatus(status)
		e.ResourceType = ResourceType(resourceType)
		if metadataJSON.Valid && metadataJSON.String != "" {
			if err := json.Unmarshal([]byte(metadataJSON.String), &e.Metadata); err != nil {
				return nil, fmt.Errorf("failed to unmarshal audit metadata: %w", err)
			}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
