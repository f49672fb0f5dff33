package pipeline

import (
	"errors"
	"time"
)

// Stage is one column of an organization's kanban board. Positions are
// contiguous from 0 in display order.
type Stage struct {
	ID             int64     `json:"id"`
	OrganizationID int64     `json:"organization_id"`
	Name           string    `json:"name"`
	Position       int       `json:"position"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Deal tracks a lead through the pipeline. Value is stored in cents to
// keep the arithmetic exact.
type Deal struct {
	ID                int64      `json:"id"`
	OrganizationID    int64      `json:"organization_id"`
	LeadID            int64      `json:"lead_id"`
	StageID           int64      `json:"stage_id"`
	Title             string     `json:"title"`
	ValueCents        int64      `json:"value_cents"`
	ExpectedCloseDate *time.Time `json:"expected_close_date,omitempty"`
	CreatedBy         int64      `json:"created_by"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// StageColumn is a stage with its deals, as rendered on the board
type StageColumn struct {
	Stage Stage   `json:"stage"`
	Deals []*Deal `json:"deals"`
}

// CreateStageRequest appends a stage to the board
type CreateStageRequest struct {
	Name string `json:"name"`
}

// RenameStageRequest changes a stage's display name
type RenameStageRequest struct {
	Name string `json:"name"`
}

// ReorderStagesRequest lists every stage ID in the desired order
type ReorderStagesRequest struct {
	StageIDs []int64 `json:"stage_ids"`
}

// CreateDealRequest opens a deal for a lead
type CreateDealRequest struct {
	LeadID            int64      `json:"lead_id"`
	StageID           int64      `json:"stage_id"`
	Title             string     `json:"title"`
	ValueCents        int64      `json:"value_cents"`
	ExpectedCloseDate *time.Time `json:"expected_close_date,omitempty"`
}

// UpdateDealRequest is a partial update; nil fields are left untouched
type UpdateDealRequest struct {
	Title             *string    `json:"title,omitempty"`
	ValueCents        *int64     `json:"value_cents,omitempty"`
	ExpectedCloseDate *time.Time `json:"expected_close_date,omitempty"`
}

// MoveDealRequest moves a deal to another stage
type MoveDealRequest struct {
	StageID int64 `json:"stage_id"`
}

var (
	// ErrNotFound marks a missing stage or deal
	ErrNotFound = errors.New("pipeline record not found")

	// ErrStageInUse rejects deleting a stage that still holds deals
	ErrStageInUse = errors.New("stage still contains deals")

	// ErrStageMismatch rejects a reorder that does not cover exactly the
	// organization's stages
	ErrStageMismatch = errors.New("reorder must list every stage exactly once")
)
