// Package campaigns implements outbound AI calling: campaign
// definitions, weighted voice-agent pools, the cron-driven call
// dispatcher, and call records with recordings.
package campaigns

import (
	"errors"
	"time"

	"github.com/doorstep-crm/doorstep/pkg/leads"
)

// CampaignStatus is the campaign lifecycle state
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignActive    CampaignStatus = "active"
	CampaignPaused    CampaignStatus = "paused"
	CampaignCompleted CampaignStatus = "completed"
)

// CallOutcome is the result of one dial attempt
type CallOutcome string

const (
	OutcomeAnswered  CallOutcome = "answered"
	OutcomeNoAnswer  CallOutcome = "no_answer"
	OutcomeBusy      CallOutcome = "busy"
	OutcomeVoicemail CallOutcome = "voicemail"
	OutcomeFailed    CallOutcome = "failed"
)

// TargetFilter selects which leads a campaign dials
type TargetFilter struct {
	Statuses []leads.LeadStatus `json:"statuses,omitempty"`
	Sources  []leads.LeadSource `json:"sources,omitempty"`
}

// Campaign is one outbound calling campaign. The schedule window is
// expressed in hours of the day, local to the server; calls are only
// dispatched between ScheduleStartHour and ScheduleEndHour.
type Campaign struct {
	ID                int64          `json:"id"`
	OrganizationID    int64          `json:"organization_id"`
	Name              string         `json:"name"`
	Script            string         `json:"script"`
	Status            CampaignStatus `json:"status"`
	TargetFilter      TargetFilter   `json:"target_filter"`
	ScheduleStartHour int            `json:"schedule_start_hour"`
	ScheduleEndHour   int            `json:"schedule_end_hour"`
	MaxAttemptsPerRun int            `json:"max_attempts_per_run"`
	CreatedBy         int64          `json:"created_by"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// VoiceAgent is one synthetic voice in a campaign's pool. Weight sets
// its share of the weighted random pick; zero-weight agents are never
// picked.
type VoiceAgent struct {
	ID         int64     `json:"id"`
	CampaignID int64     `json:"campaign_id"`
	Name       string    `json:"name"`
	VoiceID    string    `json:"voice_id"`
	Weight     int       `json:"weight"`
	CreatedAt  time.Time `json:"created_at"`
}

// CallRecord is one completed dial attempt
type CallRecord struct {
	ID              int64       `json:"id"`
	OrganizationID  int64       `json:"organization_id"`
	CampaignID      int64       `json:"campaign_id"`
	LeadID          int64       `json:"lead_id"`
	AgentID         int64       `json:"agent_id"`
	Outcome         CallOutcome `json:"outcome"`
	DurationSeconds int64       `json:"duration_seconds"`
	Transcript      string      `json:"transcript,omitempty"`
	RecordingKey    string      `json:"recording_key,omitempty"`
	StartedAt       time.Time   `json:"started_at"`
}

// CreateCampaignRequest creates a draft campaign
type CreateCampaignRequest struct {
	Name              string       `json:"name"`
	Script            string       `json:"script"`
	TargetFilter      TargetFilter `json:"target_filter"`
	ScheduleStartHour int          `json:"schedule_start_hour"`
	ScheduleEndHour   int          `json:"schedule_end_hour"`
	MaxAttemptsPerRun int          `json:"max_attempts_per_run"`
}

// UpdateCampaignRequest is a partial update; nil fields are left untouched
type UpdateCampaignRequest struct {
	Name              *string       `json:"name,omitempty"`
	Script            *string       `json:"script,omitempty"`
	TargetFilter      *TargetFilter `json:"target_filter,omitempty"`
	ScheduleStartHour *int          `json:"schedule_start_hour,omitempty"`
	ScheduleEndHour   *int          `json:"schedule_end_hour,omitempty"`
	MaxAttemptsPerRun *int          `json:"max_attempts_per_run,omitempty"`
}

// AddAgentRequest adds a voice agent to a campaign's pool
type AddAgentRequest struct {
	Name    string `json:"name"`
	VoiceID string `json:"voice_id"`
	Weight  int    `json:"weight"`
}

var (
	// ErrNotFound marks a missing campaign, agent, or call record
	ErrNotFound = errors.New("campaign record not found")

	// ErrInvalidTransition rejects a lifecycle change the state machine
	// does not allow (e.g. reactivating a completed campaign)
	ErrInvalidTransition = errors.New("invalid campaign status transition")

	// ErrNoAgents rejects activating a campaign whose pool has no
	// positive-weight agent
	ErrNoAgents = errors.New("campaign has no voice agents with positive weight")
)
