package orgs

import (
	"errors"
	"time"

	"github.com/doorstep-crm/doorstep/pkg/permissions"
)

// PlanTier represents subscription plan tiers
type PlanTier string

const (
	PlanStarter PlanTier = "starter"
	PlanGrowth  PlanTier = "growth"
	PlanScale   PlanTier = "scale"
)

// OrgStatus represents organization lifecycle status
type OrgStatus string

const (
	OrgStatusActive    OrgStatus = "active"
	OrgStatusSuspended OrgStatus = "suspended"
	OrgStatusDeleted   OrgStatus = "deleted"
)

// Organization is one tenant: a brokerage or agency
type Organization struct {
	ID          int64          `json:"id"`
	Name        string         `json:"name"`
	Slug        string         `json:"slug"`
	OwnerID     *int64         `json:"owner_id,omitempty"`
	PlanTier    PlanTier       `json:"plan_tier"`
	Status      OrgStatus      `json:"status"`
	Settings    map[string]any `json:"settings,omitempty"`
	SuspendedAt *time.Time     `json:"suspended_at,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// OrgQuotas represents plan-derived resource limits for an organization
type OrgQuotas struct {
	ID                     int64     `json:"id"`
	OrgID                  int64     `json:"org_id"`
	MaxMembers             int       `json:"max_members"`
	MaxLeads               int       `json:"max_leads"`
	MaxActiveCampaigns     int       `json:"max_active_campaigns"`
	MaxCallMinutesPerMonth int       `json:"max_call_minutes_per_month"`
	APIRateLimitPerHour    int       `json:"api_rate_limit_per_hour"`
	CreatedAt              time.Time `json:"created_at"`
	UpdatedAt              time.Time `json:"updated_at"`
}

// OrgUsage tracks per-month consumption against quotas. Call seconds
// feed metered billing at month end.
type OrgUsage struct {
	ID               int64     `json:"id"`
	OrgID            int64     `json:"org_id"`
	PeriodStart      time.Time `json:"period_start"`
	PeriodEnd        time.Time `json:"period_end"`
	LeadsCount       int       `json:"leads_count"`
	ActiveCampaigns  int       `json:"active_campaigns"`
	CallSecondsUsed  int64     `json:"call_seconds_used"`
	APIRequestsCount int64     `json:"api_requests_count"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// OrgMember is an organization membership joined with user details
type OrgMember struct {
	OrganizationID int64            `json:"organization_id"`
	UserID         int64            `json:"user_id"`
	Role           permissions.Role `json:"role"`
	InvitedBy      *int64           `json:"invited_by,omitempty"`
	JoinedAt       time.Time        `json:"joined_at"`
	Email          string           `json:"email"`
	FullName       string           `json:"full_name,omitempty"`
	IsActive       bool             `json:"is_active"`
}

// OrgInvitation is a pending invitation to join an organization
type OrgInvitation struct {
	ID         int64            `json:"id"`
	OrgID      int64            `json:"org_id"`
	Email      string           `json:"email"`
	Role       permissions.Role `json:"role"`
	Token      string           `json:"token,omitempty"`
	InvitedBy  int64            `json:"invited_by"`
	InvitedAt  time.Time        `json:"invited_at"`
	ExpiresAt  time.Time        `json:"expires_at"`
	AcceptedAt *time.Time       `json:"accepted_at,omitempty"`
	AcceptedBy *int64           `json:"accepted_by,omitempty"`
}

// CreateOrgRequest represents a request to create an organization
type CreateOrgRequest struct {
	Name     string         `json:"name"`
	PlanTier PlanTier       `json:"plan_tier,omitempty"`
	Settings map[string]any `json:"settings,omitempty"`
}

// UpdateOrgRequest represents a request to update an organization
type UpdateOrgRequest struct {
	Name     *string        `json:"name,omitempty"`
	Settings map[string]any `json:"settings,omitempty"`
}

// InviteMemberRequest represents a request to invite a member
type InviteMemberRequest struct {
	Email string           `json:"email"`
	Role  permissions.Role `json:"role"`
}

// ErrNotFound marks a missing organization, member, or invitation
var ErrNotFound = errors.New("not found")

// QuotaExceededError reports a quota violation with the numbers behind it
type QuotaExceededError struct {
	Resource string
	Current  int64
	Limit    int64
}

func (e *QuotaExceededError) Error() string {
	return "quota exceeded for " + e.Resource
}

// IsQuotaExceeded reports whether err is a quota violation
func IsQuotaExceeded(err error) bool {
	var qe *QuotaExceededError
	return errors.As(err, &qe)
}
