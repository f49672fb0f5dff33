package pipeline

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Service implements pipeline persistence over SQL
type Service struct {
	db *sql.DB
}

// NewService creates a pipeline service
func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// CreateStage appends a stage at the end of the board
func (s *Service) CreateStage(ctx context.Context, stage *Stage) error {
	now := time.Now()
	query := `
		INSERT INTO pipeline_stages (organization_id, name, position, created_at, updated_at)
		SELECT $1, $2, COALESCE(MAX(position) + 1, 0), $3, $3
		FROM pipeline_stages WHERE organization_id = $1
		RETURNING id, position
	`
	err := s.db.QueryRowContext(ctx, query, stage.OrganizationID, stage.Name, now).
		Scan(&stage.ID, &stage.Position)
	if err != nil {
		return fmt.Errorf("failed to create stage: %w", err)
	}
	stage.CreatedAt = now
	stage.UpdatedAt = now
	return nil
}

// ListStages returns the organization's stages in board order
func (s *Service) ListStages(ctx context.Context, orgID int64) ([]*Stage, error) {
	query := `
		SELECT id, organization_id, name, position, created_at, updated_at
		FROM pipeline_stages WHERE organization_id = $1 ORDER BY position
	`
	rows, err := s.db.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list stages: %w", err)
	}
	defer rows.Close()

	var stages []*Stage
	for rows.Next() {
		stage := &Stage{}
		if err := rows.Scan(&stage.ID, &stage.OrganizationID, &stage.Name,
			&stage.Position, &stage.CreatedAt, &stage.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan stage: %w", err)
		}
		stages = append(stages, stage)
	}
	return stages, rows.Err()
}

// RenameStage changes a stage's display name
func (s *Service) RenameStage(ctx context.Context, orgID, stageID int64, name string) error {
	query := `UPDATE pipeline_stages SET name = $1, updated_at = $2 WHERE organization_id = $3 AND id = $4`
	result, err := s.db.ExecContext(ctx, query, name, time.Now(), orgID, stageID)
	if err != nil {
		return fmt.Errorf("failed to rename stage: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// ReorderStages rewrites board positions. The request must name every
// stage of the organization exactly once.
func (s *Service) ReorderStages(ctx context.Context, orgID int64, stageIDs []int64) error {
	existing, err := s.ListStages(ctx, orgID)
	if err != nil {
		return err
	}
	if len(existing) != len(stageIDs) {
		return ErrStageMismatch
	}
	known := make(map[int64]bool, len(existing))
	for _, stage := range existing {
		known[stage.ID] = true
	}
	seen := make(map[int64]bool, len(stageIDs))
	for _, id := range stageIDs {
		if !known[id] || seen[id] {
			return ErrStageMismatch
		}
		seen[id] = true
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	for position, id := range stageIDs {
		_, err := tx.ExecContext(ctx,
			`UPDATE pipeline_stages SET position = $1, updated_at = $2 WHERE organization_id = $3 AND id = $4`,
			position, now, orgID, id)
		if err != nil {
			return fmt.Errorf("failed to reorder stage %d: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit stage reorder: %w", err)
	}
	return nil
}

// DeleteStage removes an empty stage and closes the position gap
func (s *Service) DeleteStage(ctx context.Context, orgID, stageID int64) error {
	var dealCount int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM deals WHERE organization_id = $1 AND stage_id = $2`,
		orgID, stageID).Scan(&dealCount)
	if err != nil {
		return fmt.Errorf("failed to count stage deals: %w", err)
	}
	if dealCount > 0 {
		return ErrStageInUse
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var position int
	err = tx.QueryRowContext(ctx,
		`SELECT position FROM pipeline_stages WHERE organization_id = $1 AND id = $2`,
		orgID, stageID).Scan(&position)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to load stage: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM pipeline_stages WHERE organization_id = $1 AND id = $2`, orgID, stageID); err != nil {
		return fmt.Errorf("failed to delete stage: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE pipeline_stages SET position = position - 1 WHERE organization_id = $1 AND position > $2`,
		orgID, position); err != nil {
		return fmt.Errorf("failed to close position gap: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit stage deletion: %w", err)
	}
	return nil
}

const dealColumns = `id, organization_id, lead_id, stage_id, title, value_cents,
	expected_close_date, created_by, created_at, updated_at`

// CreateDeal opens a deal in the given stage
func (s *Service) CreateDeal(ctx context.Context, deal *Deal) error {
	if err := s.stageExists(ctx, deal.OrganizationID, deal.StageID); err != nil {
		return err
	}

	now := time.Now()
	query := `
		INSERT INTO deals (organization_id, lead_id, stage_id, title, value_cents,
		                   expected_close_date, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		RETURNING id
	`
	err := s.db.QueryRowContext(ctx, query,
		deal.OrganizationID, deal.LeadID, deal.StageID, deal.Title, deal.ValueCents,
		deal.ExpectedCloseDate, deal.CreatedBy, now,
	).Scan(&deal.ID)
	if err != nil {
		return fmt.Errorf("failed to create deal: %w", err)
	}
	deal.CreatedAt = now
	deal.UpdatedAt = now
	return nil
}

// GetDeal retrieves a deal scoped to an organization
func (s *Service) GetDeal(ctx context.Context, orgID, dealID int64) (*Deal, error) {
	query := `SELECT ` + dealColumns + ` FROM deals WHERE organization_id = $1 AND id = $2`

	deal := &Deal{}
	err := s.db.QueryRowContext(ctx, query, orgID, dealID).Scan(
		&deal.ID, &deal.OrganizationID, &deal.LeadID, &deal.StageID, &deal.Title,
		&deal.ValueCents, &deal.ExpectedCloseDate, &deal.CreatedBy,
		&deal.CreatedAt, &deal.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get deal: %w", err)
	}
	return deal, nil
}

// ListDeals returns an organization's deals, optionally narrowed to one stage
func (s *Service) ListDeals(ctx context.Context, orgID int64, stageID *int64) ([]*Deal, error) {
	query := `SELECT ` + dealColumns + ` FROM deals WHERE organization_id = $1`
	args := []interface{}{orgID}
	if stageID != nil {
		query += ` AND stage_id = $2`
		args = append(args, *stageID)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list deals: %w", err)
	}
	defer rows.Close()

	var deals []*Deal
	for rows.Next() {
		deal := &Deal{}
		if err := rows.Scan(
			&deal.ID, &deal.OrganizationID, &deal.LeadID, &deal.StageID, &deal.Title,
			&deal.ValueCents, &deal.ExpectedCloseDate, &deal.CreatedBy,
			&deal.CreatedAt, &deal.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan deal: %w", err)
		}
		deals = append(deals, deal)
	}
	return deals, rows.Err()
}

// Board returns every stage with its deals, in board order
func (s *Service) Board(ctx context.Context, orgID int64) ([]StageColumn, error) {
	stages, err := s.ListStages(ctx, orgID)
	if err != nil {
		return nil, err
	}
	deals, err := s.ListDeals(ctx, orgID, nil)
	if err != nil {
		return nil, err
	}

	byStage := make(map[int64][]*Deal)
	for _, deal := range deals {
		byStage[deal.StageID] = append(byStage[deal.StageID], deal)
	}

	columns := make([]StageColumn, 0, len(stages))
	for _, stage := range stages {
		column := StageColumn{Stage: *stage, Deals: byStage[stage.ID]}
		if column.Deals == nil {
			column.Deals = []*Deal{}
		}
		columns = append(columns, column)
	}
	return columns, nil
}

// UpdateDeal applies a partial update to a deal
func (s *Service) UpdateDeal(ctx context.Context, orgID, dealID int64, updates *UpdateDealRequest) error {
	setClauses := []string{}
	args := []interface{}{}
	argPos := 1

	if updates.Title != nil {
		setClauses = append(setClauses, fmt.Sprintf("title = $%d", argPos))
		args = append(args, *updates.Title)
		argPos++
	}
	if updates.ValueCents != nil {
		setClauses = append(setClauses, fmt.Sprintf("value_cents = $%d", argPos))
		args = append(args, *updates.ValueCents)
		argPos++
	}
	if updates.ExpectedCloseDate != nil {
		setClauses = append(setClauses, fmt.Sprintf("expected_close_date = $%d", argPos))
		args = append(args, *updates.ExpectedCloseDate)
		argPos++
	}
	if len(setClauses) == 0 {
		return nil
	}

	setClauses = append(setClauses, fmt.Sprintf("updated_at = $%d", argPos))
	args = append(args, time.Now())
	argPos++

	args = append(args, orgID, dealID)
	query := fmt.Sprintf("UPDATE deals SET %s WHERE organization_id = $%d AND id = $%d",
		strings.Join(setClauses, ", "), argPos, argPos+1)

	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update deal: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// MoveDeal moves a deal to another stage on the same board
func (s *Service) MoveDeal(ctx context.Context, orgID, dealID, stageID int64) error {
	if err := s.stageExists(ctx, orgID, stageID); err != nil {
		return err
	}

	query := `UPDATE deals SET stage_id = $1, updated_at = $2 WHERE organization_id = $3 AND id = $4`
	result, err := s.db.ExecContext(ctx, query, stageID, time.Now(), orgID, dealID)
	if err != nil {
		return fmt.Errorf("failed to move deal: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteDeal removes a deal
func (s *Service) DeleteDeal(ctx context.Context, orgID, dealID int64) error {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM deals WHERE organization_id = $1 AND id = $2`, orgID, dealID)
	if err != nil {
		return fmt.Errorf("failed to delete deal: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Service) stageExists(ctx context.Context, orgID, stageID int64) error {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM pipeline_stages WHERE organization_id = $1 AND id = $2`,
		orgID, stageID).Scan(&one)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to check stage: %w", err)
	}
	return nil
}
