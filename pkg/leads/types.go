package leads

import (
	"errors"
	"time"
)

// LeadStatus represents where a lead sits in the contact funnel
type LeadStatus string

const (
	StatusNew         LeadStatus = "new"
	StatusContacted   LeadStatus = "contacted"
	StatusQualified   LeadStatus = "qualified"
	StatusUnqualified LeadStatus = "unqualified"
	StatusConverted   LeadStatus = "converted"
)

// LeadSource records where a lead came from
type LeadSource string

const (
	SourceWebsite  LeadSource = "website"
	SourceReferral LeadSource = "referral"
	SourcePortal   LeadSource = "portal"
	SourceOpenDay  LeadSource = "open_day"
	SourceImport   LeadSource = "import"
	SourceManual   LeadSource = "manual"
)

// Lead is one prospective buyer or seller
type Lead struct {
	ID              int64      `json:"id"`
	OrganizationID  int64      `json:"organization_id"`
	FirstName       string     `json:"first_name"`
	LastName        string     `json:"last_name"`
	Phone           string     `json:"phone,omitempty"`
	Email           string     `json:"email,omitempty"`
	Source          LeadSource `json:"source"`
	Status          LeadStatus `json:"status"`
	AssignedAgentID *int64     `json:"assigned_agent_id,omitempty"`
	Tags            []string   `json:"tags,omitempty"`
	CreatedBy       int64      `json:"created_by"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	LastContactedAt *time.Time `json:"last_contacted_at,omitempty"`
}

// Note is a free-text annotation on a lead
type Note struct {
	ID        int64     `json:"id"`
	LeadID    int64     `json:"lead_id"`
	AuthorID  int64     `json:"author_id"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateLeadRequest is the creation payload
type CreateLeadRequest struct {
	FirstName       string     `json:"first_name"`
	LastName        string     `json:"last_name"`
	Phone           string     `json:"phone,omitempty"`
	Email           string     `json:"email,omitempty"`
	Source          LeadSource `json:"source,omitempty"`
	AssignedAgentID *int64     `json:"assigned_agent_id,omitempty"`
	Tags            []string   `json:"tags,omitempty"`
}

// UpdateLeadRequest is a partial update; nil fields are left untouched
type UpdateLeadRequest struct {
	FirstName *string     `json:"first_name,omitempty"`
	LastName  *string     `json:"last_name,omitempty"`
	Phone     *string     `json:"phone,omitempty"`
	Email     *string     `json:"email,omitempty"`
	Status    *LeadStatus `json:"status,omitempty"`
	Tags      []string    `json:"tags,omitempty"`
}

// ListFilter narrows and pages lead listings
type ListFilter struct {
	Status          LeadStatus
	Source          LeadSource
	AssignedAgentID *int64
	Search          string
	Limit           int
	Offset          int
}

// ErrNotFound marks a missing lead or note
var ErrNotFound = errors.New("lead not found")

// ValidStatus reports whether s is a known lead status
func ValidStatus(s LeadStatus) bool {
	switch s {
	case StatusNew, StatusContacted, StatusQualified, StatusUnqualified, StatusConverted:
		return true
	}
	return false
}
