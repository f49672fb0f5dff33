package campaigns

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// CampaignQuota gates activation on the organization's plan limits.
// Implemented by the orgs service.
type CampaignQuota interface {
	CheckCampaignQuota(ctx context.Context, orgID int64) error
	AdjustActiveCampaigns(ctx context.Context, orgID int64, delta int) error
}

// Service implements campaign persistence over SQL
type Service struct {
	db     *sql.DB
	quotas CampaignQuota
}

// NewService creates a campaign service
func NewService(db *sql.DB, quotas CampaignQuota) *Service {
	return &Service{db: db, quotas: quotas}
}

const campaignColumns = `id, organization_id, name, script, status, target_filter,
	schedule_start_hour, schedule_end_hour, max_attempts_per_run, created_by, created_at, updated_at`

// Create inserts a draft campaign
func (s *Service) Create(ctx context.Context, campaign *Campaign) error {
	campaign.Status = CampaignDraft
	if campaign.ScheduleEndHour == 0 {
		campaign.ScheduleStartHour = 9
		campaign.ScheduleEndHour = 20
	}
	if campaign.MaxAttemptsPerRun <= 0 {
		campaign.MaxAttemptsPerRun = 10
	}

	filterJSON, err := json.Marshal(campaign.TargetFilter)
	if err != nil {
		return fmt.Errorf("failed to marshal target filter: %w", err)
	}

	now := time.Now()
	query := `
		INSERT INTO campaigns (organization_id, name, script, status, target_filter,
		                       schedule_start_hour, schedule_end_hour, max_attempts_per_run,
		                       created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
		RETURNING id
	`
	err = s.db.QueryRowContext(ctx, query,
		campaign.OrganizationID, campaign.Name, campaign.Script, string(campaign.Status),
		filterJSON, campaign.ScheduleStartHour, campaign.ScheduleEndHour,
		campaign.MaxAttemptsPerRun, campaign.CreatedBy, now,
	).Scan(&campaign.ID)
	if err != nil {
		return fmt.Errorf("failed to create campaign: %w", err)
	}
	campaign.CreatedAt = now
	campaign.UpdatedAt = now
	return nil
}

// Get retrieves a campaign scoped to an organization
func (s *Service) Get(ctx context.Context, orgID, campaignID int64) (*Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE organization_id = $1 AND id = $2`

	campaign, err := scanCampaign(s.db.QueryRowContext(ctx, query, orgID, campaignID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get campaign: %w", err)
	}
	return campaign, nil
}

// List returns an organization's campaigns, newest first
func (s *Service) List(ctx context.Context, orgID int64) ([]*Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE organization_id = $1 ORDER BY created_at DESC`
	return s.scanCampaigns(ctx, query, orgID)
}

// ListActive returns every active campaign across all organizations.
// Used by the dispatcher tick.
func (s *Service) ListActive(ctx context.Context) ([]*Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE status = $1 ORDER BY id`
	return s.scanCampaigns(ctx, query, string(CampaignActive))
}

func (s *Service) scanCampaigns(ctx context.Context, query string, args ...interface{}) ([]*Campaign, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list campaigns: %w", err)
	}
	defer rows.Close()

	var campaigns []*Campaign
	for rows.Next() {
		campaign, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan campaign: %w", err)
		}
		campaigns = append(campaigns, campaign)
	}
	return campaigns, rows.Err()
}

// Update applies a partial update; only draft and paused campaigns can
// be edited.
func (s *Service) Update(ctx context.Context, orgID, campaignID int64, updates *UpdateCampaignRequest) error {
	campaign, err := s.Get(ctx, orgID, campaignID)
	if err != nil {
		return err
	}
	if campaign.Status != CampaignDraft && campaign.Status != CampaignPaused {
		return ErrInvalidTransition
	}

	setClauses := []string{}
	args := []interface{}{}
	argPos := 1

	if updates.Name != nil {
		setClauses = append(setClauses, fmt.Sprintf("name = $%d", argPos))
		args = append(args, *updates.Name)
		argPos++
	}
	if updates.Script != nil {
		setClauses = append(setClauses, fmt.Sprintf("script = $%d", argPos))
		args = append(args, *updates.Script)
		argPos++
	}
	if updates.TargetFilter != nil {
		filterJSON, err := json.Marshal(updates.TargetFilter)
		if err != nil {
			return fmt.Errorf("failed to marshal target filter: %w", err)
		}
		setClauses = append(setClauses, fmt.Sprintf("target_filter = $%d", argPos))
		args = append(args, filterJSON)
		argPos++
	}
	if updates.ScheduleStartHour != nil {
		setClauses = append(setClauses, fmt.Sprintf("schedule_start_hour = $%d", argPos))
		args = append(args, *updates.ScheduleStartHour)
		argPos++
	}
	if updates.ScheduleEndHour != nil {
		setClauses = append(setClauses, fmt.Sprintf("schedule_end_hour = $%d", argPos))
		args = append(args, *updates.ScheduleEndHour)
		argPos++
	}
	if updates.MaxAttemptsPerRun != nil {
		setClauses = append(setClauses, fmt.Sprintf("max_attempts_per_run = $%d", argPos))
		args = append(args, *updates.MaxAttemptsPerRun)
		argPos++
	}
	if len(setClauses) == 0 {
		return nil
	}

	setClauses = append(setClauses, fmt.Sprintf("updated_at = $%d", argPos))
	args = append(args, time.Now())
	argPos++

	args = append(args, orgID, campaignID)
	query := fmt.Sprintf("UPDATE campaigns SET %s WHERE organization_id = $%d AND id = $%d",
		strings.Join(setClauses, ", "), argPos, argPos+1)

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to update campaign: %w", err)
	}
	return nil
}

// Activate moves a campaign to active, consuming one slot of the
// organization's campaign quota. The pool must hold at least one
// positive-weight agent.
func (s *Service) Activate(ctx context.Context, orgID, campaignID int64) error {
	campaign, err := s.Get(ctx, orgID, campaignID)
	if err != nil {
		return err
	}
	if campaign.Status != CampaignDraft && campaign.Status != CampaignPaused {
		return ErrInvalidTransition
	}

	agents, err := s.ListAgents(ctx, orgID, campaignID)
	if err != nil {
		return err
	}
	hasWeight := false
	for _, agent := range agents {
		if agent.Weight > 0 {
			hasWeight = true
			break
		}
	}
	if !hasWeight {
		return ErrNoAgents
	}

	if err := s.quotas.CheckCampaignQuota(ctx, orgID); err != nil {
		return err
	}
	if err := s.setStatus(ctx, orgID, campaignID, CampaignActive); err != nil {
		return err
	}
	return s.quotas.AdjustActiveCampaigns(ctx, orgID, 1)
}

// Pause suspends an active campaign and releases its quota slot
func (s *Service) Pause(ctx context.Context, orgID, campaignID int64) error {
	return s.deactivate(ctx, orgID, campaignID, CampaignPaused)
}

// Complete finishes a campaign; completed campaigns cannot be reactivated
func (s *Service) Complete(ctx context.Context, orgID, campaignID int64) error {
	return s.deactivate(ctx, orgID, campaignID, CampaignCompleted)
}

func (s *Service) deactivate(ctx context.Context, orgID, campaignID int64, to CampaignStatus) error {
	campaign, err := s.Get(ctx, orgID, campaignID)
	if err != nil {
		return err
	}
	if campaign.Status != CampaignActive {
		return ErrInvalidTransition
	}
	if err := s.setStatus(ctx, orgID, campaignID, to); err != nil {
		return err
	}
	return s.quotas.AdjustActiveCampaigns(ctx, orgID, -1)
}

func (s *Service) setStatus(ctx context.Context, orgID, campaignID int64, status CampaignStatus) error {
	query := `UPDATE campaigns SET status = $1, updated_at = $2 WHERE organization_id = $3 AND id = $4`
	if _, err := s.db.ExecContext(ctx, query, string(status), time.Now(), orgID, campaignID); err != nil {
		return fmt.Errorf("failed to set campaign status: %w", err)
	}
	return nil
}

// AddAgent adds a voice agent to a campaign's pool
func (s *Service) AddAgent(ctx context.Context, orgID int64, agent *VoiceAgent) error {
	if _, err := s.Get(ctx, orgID, agent.CampaignID); err != nil {
		return err
	}

	now := time.Now()
	query := `INSERT INTO voice_agents (campaign_id, name, voice_id, weight, created_at) VALUES ($1, $2, $3, $4, $5) RETURNING id`
	err := s.db.QueryRowContext(ctx, query, agent.CampaignID, agent.Name, agent.VoiceID, agent.Weight, now).Scan(&agent.ID)
	if err != nil {
		return fmt.Errorf("failed to add voice agent: %w", err)
	}
	agent.CreatedAt = now
	return nil
}

// ListAgents returns a campaign's voice agent pool
func (s *Service) ListAgents(ctx context.Context, orgID, campaignID int64) ([]*VoiceAgent, error) {
	if _, err := s.Get(ctx, orgID, campaignID); err != nil {
		return nil, err
	}

	query := `SELECT id, campaign_id, name, voice_id, weight, created_at FROM voice_agents WHERE campaign_id = $1 ORDER BY id`
	rows, err := s.db.QueryContext(ctx, query, campaignID)
	if err != nil {
		return nil, fmt.Errorf("failed to list voice agents: %w", err)
	}
	defer rows.Close()

	var agents []*VoiceAgent
	for rows.Next() {
		agent := &VoiceAgent{}
		if err := rows.Scan(&agent.ID, &agent.CampaignID, &agent.Name, &agent.VoiceID,
			&agent.Weight, &agent.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan voice agent: %w", err)
		}
		agents = append(agents, agent)
	}
	return agents, rows.Err()
}

// RemoveAgent deletes an agent from the pool
func (s *Service) RemoveAgent(ctx context.Context, orgID, campaignID, agentID int64) error {
	if _, err := s.Get(ctx, orgID, campaignID); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx,
		`DELETE FROM voice_agents WHERE campaign_id = $1 AND id = $2`, campaignID, agentID)
	if err != nil {
		return fmt.Errorf("failed to remove voice agent: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordCall stores one completed dial attempt
func (s *Service) RecordCall(ctx context.Context, record *CallRecord) error {
	query := `
		INSERT INTO call_records (organization_id, campaign_id, lead_id, agent_id, outcome,
		                          duration_seconds, transcript, recording_key, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`
	err := s.db.QueryRowContext(ctx, query,
		record.OrganizationID, record.CampaignID, record.LeadID, record.AgentID,
		string(record.Outcome), record.DurationSeconds, record.Transcript,
		record.RecordingKey, record.StartedAt,
	).Scan(&record.ID)
	if err != nil {
		return fmt.Errorf("failed to record call: %w", err)
	}
	return nil
}

// GetCall retrieves one call record scoped to an organization
func (s *Service) GetCall(ctx context.Context, orgID, callID int64) (*CallRecord, error) {
	query := `
		SELECT id, organization_id, campaign_id, lead_id, agent_id, outcome,
		       duration_seconds, transcript, recording_key, started_at
		FROM call_records WHERE organization_id = $1 AND id = $2
	`
	record := &CallRecord{}
	var outcome string
	err := s.db.QueryRowContext(ctx, query, orgID, callID).Scan(
		&record.ID, &record.OrganizationID, &record.CampaignID, &record.LeadID,
		&record.AgentID, &outcome, &record.DurationSeconds, &record.Transcript,
		&record.RecordingKey, &record.StartedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get call record: %w", err)
	}
	record.Outcome = CallOutcome(outcome)
	return record, nil
}

// ListCalls returns a campaign's call records, newest first
func (s *Service) ListCalls(ctx context.Context, orgID, campaignID int64, limit int) ([]*CallRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := `
		SELECT id, organization_id, campaign_id, lead_id, agent_id, outcome,
		       duration_seconds, transcript, recording_key, started_at
		FROM call_records WHERE organization_id = $1 AND campaign_id = $2
		ORDER BY started_at DESC LIMIT $3
	`
	rows, err := s.db.QueryContext(ctx, query, orgID, campaignID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list call records: %w", err)
	}
	defer rows.Close()

	var records []*CallRecord
	for rows.Next() {
		record := &CallRecord{}
		var outcome string
		if err := rows.Scan(
			&record.ID, &record.OrganizationID, &record.CampaignID, &record.LeadID,
			&record.AgentID, &outcome, &record.DurationSeconds, &record.Transcript,
			&record.RecordingKey, &record.StartedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan call record: %w", err)
		}
		record.Outcome = CallOutcome(outcome)
		records = append(records, record)
	}
	return records, rows.Err()
}

// RecentlyCalledLeadIDs returns leads the campaign already dialed in
// the given window, so a tick does not redial the same person.
func (s *Service) RecentlyCalledLeadIDs(ctx context.Context, campaignID int64, since time.Time) (map[int64]bool, error) {
	query := `SELECT DISTINCT lead_id FROM call_records WHERE campaign_id = $1 AND started_at >= $2`
	rows, err := s.db.QueryContext(ctx, query, campaignID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to list recent calls: %w", err)
	}
	defer rows.Close()

	recent := make(map[int64]bool)
	for rows.Next() {
		var leadID int64
		if err := rows.Scan(&leadID); err != nil {
			return nil, fmt.Errorf("failed to scan lead id: %w", err)
		}
		recent[leadID] = true
	}
	return recent, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCampaign(row rowScanner) (*Campaign, error) {
	campaign := &Campaign{}
	var status string
	var filterJSON []byte
	err := row.Scan(
		&campaign.ID, &campaign.OrganizationID, &campaign.Name, &campaign.Script,
		&status, &filterJSON, &campaign.ScheduleStartHour, &campaign.ScheduleEndHour,
		&campaign.MaxAttemptsPerRun, &campaign.CreatedBy, &campaign.CreatedAt, &campaign.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	campaign.Status = CampaignStatus(status)
	if len(filterJSON) > 0 {
		if err := json.Unmarshal(filterJSON, &campaign.TargetFilter); err != nil {
			return nil, fmt.Errorf("failed to unmarshal target filter: %w", err)
		}
	}
	return campaign, nil
}
