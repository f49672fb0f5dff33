package orgs

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// DefaultQuotas returns the plan-derived limits for a tier
func DefaultQuotas(tier PlanTier) *OrgQuotas {
	switch tier {
	case PlanGrowth:
		return &OrgQuotas{
			MaxMembers:             25,
			MaxLeads:               25000,
			MaxActiveCampaigns:     10,
			MaxCallMinutesPerMonth: 5000,
			APIRateLimitPerHour:    25000,
		}
	case PlanScale:
		return &OrgQuotas{
			MaxMembers:             200,
			MaxLeads:               250000,
			MaxActiveCampaigns:     50,
			MaxCallMinutesPerMonth: 50000,
			APIRateLimitPerHour:    100000,
		}
	default:
		return &OrgQuotas{
			MaxMembers:             5,
			MaxLeads:               2500,
			MaxActiveCampaigns:     2,
			MaxCallMinutesPerMonth: 500,
			APIRateLimitPerHour:    5000,
		}
	}
}

func (s *PostgresService) createQuotas(ctx context.Context, quotas *OrgQuotas) error {
	query := `
		INSERT INTO org_quotas (org_id, max_members, max_leads, max_active_campaigns,
		                        max_call_minutes_per_month, api_rate_limit_per_hour, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		RETURNING id
	`
	return s.db.QueryRowContext(ctx, query,
		quotas.OrgID, quotas.MaxMembers, quotas.MaxLeads, quotas.MaxActiveCampaigns,
		quotas.MaxCallMinutesPerMonth, quotas.APIRateLimitPerHour, time.Now(),
	).Scan(&quotas.ID)
}

// GetQuotas retrieves quotas for an organization
func (s *PostgresService) GetQuotas(ctx context.Context, orgID int64) (*OrgQuotas, error) {
	query := `
		SELECT id, org_id, max_members, max_leads, max_active_campaigns,
		       max_call_minutes_per_month, api_rate_limit_per_hour, created_at, updated_at
		FROM org_quotas
		WHERE org_id = $1
	`
	quotas := &OrgQuotas{}
	err := s.db.QueryRowContext(ctx, query, orgID).Scan(
		&quotas.ID, &quotas.OrgID, &quotas.MaxMembers, &quotas.MaxLeads,
		&quotas.MaxActiveCampaigns, &quotas.MaxCallMinutesPerMonth,
		&quotas.APIRateLimitPerHour, &quotas.CreatedAt, &quotas.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("quotas: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get quotas: %w", err)
	}
	return quotas, nil
}

// UpdateQuotas replaces quota limits, used by the platform control plane
func (s *PostgresService) UpdateQuotas(ctx context.Context, orgID int64, quotas *OrgQuotas) error {
	query := `
		UPDATE org_quotas
		SET max_members = $1, max_leads = $2, max_active_campaigns = $3,
		    max_call_minutes_per_month = $4, api_rate_limit_per_hour = $5, updated_at = $6
		WHERE org_id = $7
	`
	result, err := s.db.ExecContext(ctx, query,
		quotas.MaxMembers, quotas.MaxLeads, quotas.MaxActiveCampaigns,
		quotas.MaxCallMinutesPerMonth, quotas.APIRateLimitPerHour, time.Now(), orgID,
	)
	if err != nil {
		return fmt.Errorf("failed to update quotas: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("quotas: %w", ErrNotFound)
	}
	return nil
}

// GetUsage retrieves the current usage period for an organization,
// creating it when none is open.
func (s *PostgresService) GetUsage(ctx context.Context, orgID int64) (*OrgUsage, error) {
	query := `
		SELECT id, org_id, period_start, period_end, leads_count, active_campaigns,
		       call_seconds_used, api_requests_count, created_at, updated_at
		FROM org_usage
		WHERE org_id = $1 AND period_end > $2
		ORDER BY period_start DESC
		LIMIT 1
	`
	usage := &OrgUsage{}
	err := s.db.QueryRowContext(ctx, query, orgID, time.Now()).Scan(
		&usage.ID, &usage.OrgID, &usage.PeriodStart, &usage.PeriodEnd,
		&usage.LeadsCount, &usage.ActiveCampaigns, &usage.CallSecondsUsed,
		&usage.APIRequestsCount, &usage.CreatedAt, &usage.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		if err := s.initializeUsagePeriod(ctx, orgID); err != nil {
			return nil, err
		}
		return s.GetUsage(ctx, orgID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get usage: %w", err)
	}
	return usage, nil
}

// GetUsageHistory retrieves past usage periods, newest first
func (s *PostgresService) GetUsageHistory(ctx context.Context, orgID int64, limit int) ([]*OrgUsage, error) {
	query := `
		SELECT id, org_id, period_start, period_end, leads_count, active_campaigns,
		       call_seconds_used, api_requests_count, created_at, updated_at
		FROM org_usage
		WHERE org_id = $1
		ORDER BY period_start DESC
		LIMIT $2
	`
	rows, err := s.db.QueryContext(ctx, query, orgID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get usage history: %w", err)
	}
	defer rows.Close()

	var usages []*OrgUsage
	for rows.Next() {
		usage := &OrgUsage{}
		if err := rows.Scan(
			&usage.ID, &usage.OrgID, &usage.PeriodStart, &usage.PeriodEnd,
			&usage.LeadsCount, &usage.ActiveCampaigns, &usage.CallSecondsUsed,
			&usage.APIRequestsCount, &usage.CreatedAt, &usage.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan usage: %w", err)
		}
		usages = append(usages, usage)
	}
	return usages, rows.Err()
}

func (s *PostgresService) initializeUsagePeriod(ctx context.Context, orgID int64) error {
	now := time.Now()
	periodStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	periodEnd := periodStart.AddDate(0, 1, 0)

	query := `
		INSERT INTO org_usage (org_id, period_start, period_end, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (org_id, period_start) DO NOTHING
	`
	_, err := s.db.ExecContext(ctx, query, orgID, periodStart, periodEnd, now)
	return err
}

// CheckMemberQuota checks whether the organization can add a member
func (s *PostgresService) CheckMemberQuota(ctx context.Context, orgID int64) error {
	quotas, err := s.GetQuotas(ctx, orgID)
	if err != nil {
		return err
	}
	count, err := s.CountMembers(ctx, orgID)
	if err != nil {
		return err
	}
	if count >= quotas.MaxMembers {
		return &QuotaExceededError{Resource: "members", Current: int64(count), Limit: int64(quotas.MaxMembers)}
	}
	return nil
}

// CheckLeadQuota checks whether the organization can create a lead
func (s *PostgresService) CheckLeadQuota(ctx context.Context, orgID int64) error {
	quotas, err := s.GetQuotas(ctx, orgID)
	if err != nil {
		return err
	}
	usage, err := s.GetUsage(ctx, orgID)
	if err != nil {
		return err
	}
	if usage.LeadsCount >= quotas.MaxLeads {
		return &QuotaExceededError{Resource: "leads", Current: int64(usage.LeadsCount), Limit: int64(quotas.MaxLeads)}
	}
	return nil
}

// CheckCampaignQuota checks whether another campaign may be activated
func (s *PostgresService) CheckCampaignQuota(ctx context.Context, orgID int64) error {
	quotas, err := s.GetQuotas(ctx, orgID)
	if err != nil {
		return err
	}
	usage, err := s.GetUsage(ctx, orgID)
	if err != nil {
		return err
	}
	if usage.ActiveCampaigns >= quotas.MaxActiveCampaigns {
		return &QuotaExceededError{Resource: "active_campaigns", Current: int64(usage.ActiveCampaigns), Limit: int64(quotas.MaxActiveCampaigns)}
	}
	return nil
}

// CheckCallMinutes checks whether the organization has dial minutes left
func (s *PostgresService) CheckCallMinutes(ctx context.Context, orgID int64) error {
	quotas, err := s.GetQuotas(ctx, orgID)
	if err != nil {
		return err
	}
	usage, err := s.GetUsage(ctx, orgID)
	if err != nil {
		return err
	}
	usedMinutes := usage.CallSecondsUsed / 60
	if usedMinutes >= int64(quotas.MaxCallMinutesPerMonth) {
		return &QuotaExceededError{Resource: "call_minutes", Current: usedMinutes, Limit: int64(quotas.MaxCallMinutesPerMonth)}
	}
	return nil
}

// AdjustLeadCount moves the lead counter by delta (negative on delete)
func (s *PostgresService) AdjustLeadCount(ctx context.Context, orgID int64, delta int) error {
	return s.adjustUsage(ctx, orgID, "leads_count", int64(delta))
}

// AdjustActiveCampaigns moves the active campaign counter by delta
func (s *PostgresService) AdjustActiveCampaigns(ctx context.Context, orgID int64, delta int) error {
	return s.adjustUsage(ctx, orgID, "active_campaigns", int64(delta))
}

// AddCallSeconds records completed call time for the current period
func (s *PostgresService) AddCallSeconds(ctx context.Context, orgID int64, seconds int64) error {
	return s.adjustUsage(ctx, orgID, "call_seconds_used", seconds)
}

// IncrementAPIRequests bumps the API request counter
func (s *PostgresService) IncrementAPIRequests(ctx context.Context, orgID int64) error {
	return s.adjustUsage(ctx, orgID, "api_requests_count", 1)
}

func (s *PostgresService) adjustUsage(ctx context.Context, orgID int64, column string, delta int64) error {
	// Column names come from the fixed callers above, never from input.
	usage, err := s.GetUsage(ctx, orgID)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`UPDATE org_usage SET %s = %s + $1, updated_at = $2 WHERE id = $3`, column, column)
	if _, err := s.db.ExecContext(ctx, query, delta, time.Now(), usage.ID); err != nil {
		return fmt.Errorf("failed to adjust usage %s: %w", column, err)
	}
	return nil
}

// UsageSummary is the per-org rollup for the platform control plane
type UsageSummary struct {
	Organization *Organization `json:"organization"`
	Quotas       *OrgQuotas    `json:"quotas"`
	Usage        *OrgUsage     `json:"usage"`
	MemberCount  int           `json:"member_count"`
}
