package leads

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// QuotaChecker gates lead creation on the organization's plan limits.
// Implemented by the orgs service.
type QuotaChecker interface {
	CheckLeadQuota(ctx context.Context, orgID int64) error
	AdjustLeadCount(ctx context.Context, orgID int64, delta int) error
}

// Service implements lead persistence over SQL
type Service struct {
	db     *sql.DB
	quotas QuotaChecker
}

// NewService creates a lead service
func NewService(db *sql.DB, quotas QuotaChecker) *Service {
	return &Service{db: db, quotas: quotas}
}

const leadColumns = `id, organization_id, first_name, last_name, phone, email, source, status,
	assigned_agent_id, tags, created_by, created_at, updated_at, last_contacted_at`

// Create inserts a lead after checking the organization's lead quota
func (s *Service) Create(ctx context.Context, lead *Lead) error {
	if err := s.quotas.CheckLeadQuota(ctx, lead.OrganizationID); err != nil {
		return err
	}

	if lead.Source == "" {
		lead.Source = SourceManual
	}
	if lead.Status == "" {
		lead.Status = StatusNew
	}

	tagsJSON, err := json.Marshal(lead.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}

	now := time.Now()
	query := `
		INSERT INTO leads (organization_id, first_name, last_name, phone, email, source, status,
		                   assigned_agent_id, tags, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
		RETURNING id
	`
	err = s.db.QueryRowContext(ctx, query,
		lead.OrganizationID, lead.FirstName, lead.LastName, lead.Phone, lead.Email,
		string(lead.Source), string(lead.Status), lead.AssignedAgentID, tagsJSON,
		lead.CreatedBy, now,
	).Scan(&lead.ID)
	if err != nil {
		return fmt.Errorf("failed to create lead: %w", err)
	}
	lead.CreatedAt = now
	lead.UpdatedAt = now

	if err := s.quotas.AdjustLeadCount(ctx, lead.OrganizationID, 1); err != nil {
		return fmt.Errorf("failed to record lead usage: %w", err)
	}
	return nil
}

// Get retrieves a lead scoped to an organization
func (s *Service) Get(ctx context.Context, orgID, leadID int64) (*Lead, error) {
	query := `SELECT ` + leadColumns + ` FROM leads WHERE organization_id = $1 AND id = $2`

	lead, err := scanLead(s.db.QueryRowContext(ctx, query, orgID, leadID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get lead: %w", err)
	}
	return lead, nil
}

// List returns leads matching the filter, newest first
func (s *Service) List(ctx context.Context, orgID int64, filter ListFilter) ([]*Lead, error) {
	conditions := []string{"organization_id = $1"}
	args := []interface{}{orgID}
	argPos := 2

	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argPos))
		args = append(args, string(filter.Status))
		argPos++
	}
	if filter.Source != "" {
		conditions = append(conditions, fmt.Sprintf("source = $%d", argPos))
		args = append(args, string(filter.Source))
		argPos++
	}
	if filter.AssignedAgentID != nil {
		conditions = append(conditions, fmt.Sprintf("assigned_agent_id = $%d", argPos))
		args = append(args, *filter.AssignedAgentID)
		argPos++
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf(
			"(first_name LIKE $%d OR last_name LIKE $%d OR email LIKE $%d)", argPos, argPos, argPos))
		args = append(args, "%"+filter.Search+"%")
		argPos++
	}

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	args = append(args, limit, filter.Offset)

	query := fmt.Sprintf(
		`SELECT %s FROM leads WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		leadColumns, strings.Join(conditions, " AND "), argPos, argPos+1,
	)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list leads: %w", err)
	}
	defer rows.Close()

	var result []*Lead
	for rows.Next() {
		lead, err := scanLead(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan lead: %w", err)
		}
		result = append(result, lead)
	}
	return result, rows.Err()
}

// Update applies a partial update to a lead
func (s *Service) Update(ctx context.Context, orgID, leadID int64, updates *UpdateLeadRequest) error {
	setClauses := []string{}
	args := []interface{}{}
	argPos := 1

	if updates.FirstName != nil {
		setClauses = append(setClauses, fmt.Sprintf("first_name = $%d", argPos))
		args = append(args, *updates.FirstName)
		argPos++
	}
	if updates.LastName != nil {
		setClauses = append(setClauses, fmt.Sprintf("last_name = $%d", argPos))
		args = append(args, *updates.LastName)
		argPos++
	}
	if updates.Phone != nil {
		setClauses = append(setClauses, fmt.Sprintf("phone = $%d", argPos))
		args = append(args, *updates.Phone)
		argPos++
	}
	if updates.Email != nil {
		setClauses = append(setClauses, fmt.Sprintf("email = $%d", argPos))
		args = append(args, *updates.Email)
		argPos++
	}
	if updates.Status != nil {
		if !ValidStatus(*updates.Status) {
			return fmt.Errorf("invalid lead status %q", *updates.Status)
		}
		setClauses = append(setClauses, fmt.Sprintf("status = $%d", argPos))
		args = append(args, string(*updates.Status))
		argPos++
	}
	if updates.Tags != nil {
		tagsJSON, err := json.Marshal(updates.Tags)
		if err != nil {
			return fmt.Errorf("failed to marshal tags: %w", err)
		}
		setClauses = append(setClauses, fmt.Sprintf("tags = $%d", argPos))
		args = append(args, tagsJSON)
		argPos++
	}
	if len(setClauses) == 0 {
		return nil
	}

	setClauses = append(setClauses, fmt.Sprintf("updated_at = $%d", argPos))
	args = append(args, time.Now())
	argPos++

	args = append(args, orgID, leadID)
	query := fmt.Sprintf("UPDATE leads SET %s WHERE organization_id = $%d AND id = $%d",
		strings.Join(setClauses, ", "), argPos, argPos+1)

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update lead: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// Assign sets or clears the assigned agent
func (s *Service) Assign(ctx context.Context, orgID, leadID int64, agentID *int64) error {
	query := `UPDATE leads SET assigned_agent_id = $1, updated_at = $2 WHERE organization_id = $3 AND id = $4`
	result, err := s.db.ExecContext(ctx, query, agentID, time.Now(), orgID, leadID)
	if err != nil {
		return fmt.Errorf("failed to assign lead: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkContacted stamps the last contact time, called by the dialer
// after a completed call.
func (s *Service) MarkContacted(ctx context.Context, orgID, leadID int64, at time.Time) error {
	query := `
		UPDATE leads SET last_contacted_at = $1, updated_at = $1,
		       status = CASE WHEN status = 'new' THEN 'contacted' ELSE status END
		WHERE organization_id = $2 AND id = $3
	`
	if _, err := s.db.ExecContext(ctx, query, at, orgID, leadID); err != nil {
		return fmt.Errorf("failed to mark lead contacted: %w", err)
	}
	return nil
}

// Delete removes a lead and its notes
func (s *Service) Delete(ctx context.Context, orgID, leadID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM lead_notes WHERE lead_id = $1`, leadID); err != nil {
		return fmt.Errorf("failed to delete lead notes: %w", err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM leads WHERE organization_id = $1 AND id = $2`, orgID, leadID)
	if err != nil {
		return fmt.Errorf("failed to delete lead: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit lead deletion: %w", err)
	}

	if err := s.quotas.AdjustLeadCount(ctx, orgID, -1); err != nil {
		return fmt.Errorf("failed to record lead usage: %w", err)
	}
	return nil
}

// AddNote attaches a note to a lead
func (s *Service) AddNote(ctx context.Context, orgID int64, note *Note) error {
	// Scope check first so notes cannot be attached across tenants.
	if _, err := s.Get(ctx, orgID, note.LeadID); err != nil {
		return err
	}

	now := time.Now()
	query := `INSERT INTO lead_notes (lead_id, author_id, body, created_at) VALUES ($1, $2, $3, $4) RETURNING id`
	err := s.db.QueryRowContext(ctx, query, note.LeadID, note.AuthorID, note.Body, now).Scan(&note.ID)
	if err != nil {
		return fmt.Errorf("failed to add note: %w", err)
	}
	note.CreatedAt = now
	return nil
}

// ListNotes returns a lead's notes, newest first
func (s *Service) ListNotes(ctx context.Context, orgID, leadID int64) ([]*Note, error) {
	if _, err := s.Get(ctx, orgID, leadID); err != nil {
		return nil, err
	}

	query := `SELECT id, lead_id, author_id, body, created_at FROM lead_notes WHERE lead_id = $1 ORDER BY created_at DESC`
	rows, err := s.db.QueryContext(ctx, query, leadID)
	if err != nil {
		return nil, fmt.Errorf("failed to list notes: %w", err)
	}
	defer rows.Close()

	var notes []*Note
	for rows.Next() {
		n := &Note{}
		if err := rows.Scan(&n.ID, &n.LeadID, &n.AuthorID, &n.Body, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan note: %w", err)
		}
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanLead(row rowScanner) (*Lead, error) {
	lead := &Lead{}
	var source, status string
	var tagsJSON []byte
	err := row.Scan(
		&lead.ID, &lead.OrganizationID, &lead.FirstName, &lead.LastName,
		&lead.Phone, &lead.Email, &source, &status,
		&lead.AssignedAgentID, &tagsJSON, &lead.CreatedBy,
		&lead.CreatedAt, &lead.UpdatedAt, &lead.LastContactedAt,
	)
	if err != nil {
		return nil, err
	}
	lead.Source = LeadSource(source)
	lead.Status = LeadStatus(status)
	if len(tagsJSON) > 0 {
		if err := json.Unmarshal(tagsJSON, &lead.Tags); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
		}
	}
	return lead, nil
}
