package audit

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDBLoggerLog(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	logger, err := NewDBLogger(db)
	require.NoError(t, err)

	actorID := int64(7)
	orgID := int64(3)
	event := &Event{
		Timestamp:      time.Now().UTC(),
		EventType:      EventTypeAuthzOverridesUpdate,
		Status:         EventStatusSuccess,
		ActorUserID:    &actorID,
		OrganizationID: &orgID,
		ResourceType:   ResourceTypePermissions,
		ResourceID:     "9",
		Message:        "overrides replaced",
		Metadata:       map[string]interface{}{"override_count": 2},
	}

	mock.ExpectExec("INSERT INTO audit_logs").
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, logger.Log(context.Background(), event))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBLoggerRequiresDB(t *testing.T) {
	_, err := NewDBLogger(nil)
	assert.Error(t, err)
}

func TestDBLoggerList(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	logger, err := NewDBLogger(db)
	require.NoError(t, err)

	rows := sqlmock.NewRows([]string{
		"id", "timestamp", "event_type", "status", "actor_user_id", "organization_id",
		"resource_type", "resource_id", "ip_address", "request_id", "message", "error_message", "metadata",
	}).AddRow(
		1, time.Now(), "authz.overrides_update", "success", 7, 3,
		"permissions", "9", "10.0.0.1", "req-1", "overrides replaced", "", `{"override_count":2}`,
	)

	mock.ExpectQuery("SELECT (.+) FROM audit_logs WHERE organization_id").
		WithArgs(int64(3), 100).
		WillReturnRows(rows)

	events, err := logger.List(context.Background(), 3, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventTypeAuthzOverridesUpdate, events[0].EventType)
	assert.Equal(t, float64(2), events[0].Metadata["override_count"])
	assert.NoError(t, mock.ExpectationsWereMet())
}
