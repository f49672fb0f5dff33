package orgs

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quotaRows(maxMembers, maxLeads, maxCampaigns, maxMinutes, rateLimit int) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "org_id", "max_members", "max_leads", "max_active_campaigns",
		"max_call_minutes_per_month", "api_rate_limit_per_hour", "created_at", "updated_at",
	}).AddRow(1, 1, maxMembers, maxLeads, maxCampaigns, maxMinutes, rateLimit, time.Now(), time.Now())
}

func usageRows(leads, campaigns int, callSeconds, apiRequests int64) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "org_id", "period_start", "period_end", "leads_count", "active_campaigns",
		"call_seconds_used", "api_requests_count", "created_at", "updated_at",
	}).AddRow(1, 1, now.AddDate(0, 0, -10), now.AddDate(0, 0, 20), leads, campaigns, callSeconds, apiRequests, now, now)
}

func TestDefaultQuotasByTier(t *testing.T) {
	starter := DefaultQuotas(PlanStarter)
	growth := DefaultQuotas(PlanGrowth)
	scale := DefaultQuotas(PlanScale)

	assert.Less(t, starter.MaxLeads, growth.MaxLeads)
	assert.Less(t, growth.MaxLeads, scale.MaxLeads)
	assert.Less(t, starter.MaxCallMinutesPerMonth, scale.MaxCallMinutesPerMonth)

	// Unknown tiers fall back to starter limits.
	assert.Equal(t, starter.MaxMembers, DefaultQuotas(PlanTier("mystery")).MaxMembers)
}

func TestCheckMemberQuotaExceeded(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewPostgresService(db, nil, nil)

	mock.ExpectQuery("SELECT (.+) FROM org_quotas").
		WithArgs(int64(1)).
		WillReturnRows(quotaRows(5, 2500, 2, 500, 5000))
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM org_members").
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(5))

	err = service.CheckMemberQuota(context.Background(), 1)
	require.Error(t, err)
	assert.True(t, IsQuotaExceeded(err))

	quotaErr, ok := err.(*QuotaExceededError)
	require.True(t, ok)
	assert.Equal(t, "members", quotaErr.Resource)
	assert.Equal(t, int64(5), quotaErr.Current)
	assert.Equal(t, int64(5), quotaErr.Limit)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckMemberQuotaOK(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewPostgresService(db, nil, nil)

	mock.ExpectQuery("SELECT (.+) FROM org_quotas").
		WithArgs(int64(1)).
		WillReturnRows(quotaRows(5, 2500, 2, 500, 5000))
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM org_members").
		WithArgs(int64(1)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	assert.NoError(t, service.CheckMemberQuota(context.Background(), 1))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckLeadQuotaExceeded(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewPostgresService(db, nil, nil)

	mock.ExpectQuery("SELECT (.+) FROM org_quotas").
		WithArgs(int64(1)).
		WillReturnRows(quotaRows(5, 2500, 2, 500, 5000))
	mock.ExpectQuery("SELECT (.+) FROM org_usage").
		WithArgs(int64(1), sqlmock.AnyArg()).
		WillReturnRows(usageRows(2500, 0, 0, 0))

	err = service.CheckLeadQuota(context.Background(), 1)
	require.Error(t, err)
	assert.True(t, IsQuotaExceeded(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckCampaignQuota(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewPostgresService(db, nil, nil)

	mock.ExpectQuery("SELECT (.+) FROM org_quotas").
		WithArgs(int64(1)).
		WillReturnRows(quotaRows(5, 2500, 2, 500, 5000))
	mock.ExpectQuery("SELECT (.+) FROM org_usage").
		WithArgs(int64(1), sqlmock.AnyArg()).
		WillReturnRows(usageRows(10, 1, 0, 0))

	assert.NoError(t, service.CheckCampaignQuota(context.Background(), 1))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckCallMinutesExceeded(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewPostgresService(db, nil, nil)

	mock.ExpectQuery("SELECT (.+) FROM org_quotas").
		WithArgs(int64(1)).
		WillReturnRows(quotaRows(5, 2500, 2, 500, 5000))
	mock.ExpectQuery("SELECT (.+) FROM org_usage").
		WithArgs(int64(1), sqlmock.AnyArg()).
		WillReturnRows(usageRows(10, 1, 500*60, 0))

	err = service.CheckCallMinutes(context.Background(), 1)
	require.Error(t, err)
	assert.True(t, IsQuotaExceeded(err))

	quotaErr := err.(*QuotaExceededError)
	assert.Equal(t, "call_minutes", quotaErr.Resource)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAddCallSeconds(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	service := NewPostgresService(db, nil, nil)

	mock.ExpectQuery("SELECT (.+) FROM org_usage").
		WithArgs(int64(1), sqlmock.AnyArg()).
		WillReturnRows(usageRows(10, 1, 120, 0))
	mock.ExpectExec("UPDATE org_usage SET call_seconds_used").
		WithArgs(int64(95), sqlmock.AnyArg(), int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	assert.NoError(t, service.AddCallSeconds(context.Background(), 1, 95))
	assert.NoError(t, mock.ExpectationsWereMet())
}
