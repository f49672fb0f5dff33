package pipeline

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPipelineFixture(t *testing.T) (*Service, *sql.DB) {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	schema := []string{
		`CREATE TABLE pipeline_stages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			organization_id INTEGER NOT NULL,
			name TEXT NOT NULL,
			position INTEGER NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE deals (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			organization_id INTEGER NOT NULL,
			lead_id INTEGER NOT NULL,
			stage_id INTEGER NOT NULL,
			title TEXT NOT NULL,
			value_cents INTEGER NOT NULL DEFAULT 0,
			expected_close_date TIMESTAMP,
			created_by INTEGER NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
	}
	for _, stmt := range schema {
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}

	return NewService(db), db
}

func createTestStage(t *testing.T, service *Service, orgID int64, name string) *Stage {
	t.Helper()
	stage := &Stage{OrganizationID: orgID, Name: name}
	require.NoError(t, service.CreateStage(context.Background(), stage))
	return stage
}

func createTestDeal(t *testing.T, service *Service, orgID, stageID int64, title string, valueCents int64) *Deal {
	t.Helper()
	deal := &Deal{
		OrganizationID: orgID,
		LeadID:         1,
		StageID:        stageID,
		Title:          title,
		ValueCents:     valueCents,
		CreatedBy:      1,
	}
	require.NoError(t, service.CreateDeal(context.Background(), deal))
	return deal
}

func TestCreateStageAppendsPositions(t *testing.T) {
	service, _ := newPipelineFixture(t)

	first := createTestStage(t, service, 1, "Incoming")
	second := createTestStage(t, service, 1, "Viewing booked")
	other := createTestStage(t, service, 2, "Incoming")

	assert.Equal(t, 0, first.Position)
	assert.Equal(t, 1, second.Position)
	assert.Equal(t, 0, other.Position, "positions are per organization")
}

func TestReorderStages(t *testing.T) {
	service, _ := newPipelineFixture(t)
	ctx := context.Background()

	a := createTestStage(t, service, 1, "A")
	b := createTestStage(t, service, 1, "B")
	c := createTestStage(t, service, 1, "C")

	require.NoError(t, service.ReorderStages(ctx, 1, []int64{c.ID, a.ID, b.ID}))

	stages, err := service.ListStages(ctx, 1)
	require.NoError(t, err)
	require.Len(t, stages, 3)
	assert.Equal(t, "C", stages[0].Name)
	assert.Equal(t, "A", stages[1].Name)
	assert.Equal(t, "B", stages[2].Name)
}

func TestReorderStagesRejectsPartialLists(t *testing.T) {
	service, _ := newPipelineFixture(t)
	ctx := context.Background()

	a := createTestStage(t, service, 1, "A")
	b := createTestStage(t, service, 1, "B")

	assert.ErrorIs(t, service.ReorderStages(ctx, 1, []int64{a.ID}), ErrStageMismatch)
	assert.ErrorIs(t, service.ReorderStages(ctx, 1, []int64{a.ID, a.ID}), ErrStageMismatch)
	assert.ErrorIs(t, service.ReorderStages(ctx, 1, []int64{a.ID, b.ID, 404}), ErrStageMismatch)
}

func TestDeleteStageClosesGap(t *testing.T) {
	service, _ := newPipelineFixture(t)
	ctx := context.Background()

	a := createTestStage(t, service, 1, "A")
	b := createTestStage(t, service, 1, "B")
	c := createTestStage(t, service, 1, "C")
	_ = a

	require.NoError(t, service.DeleteStage(ctx, 1, b.ID))

	stages, err := service.ListStages(ctx, 1)
	require.NoError(t, err)
	require.Len(t, stages, 2)
	assert.Equal(t, 0, stages[0].Position)
	assert.Equal(t, 1, stages[1].Position)
	assert.Equal(t, c.ID, stages[1].ID)
}

func TestDeleteStageWithDealsRejected(t *testing.T) {
	service, _ := newPipelineFixture(t)
	ctx := context.Background()

	stage := createTestStage(t, service, 1, "Negotiating")
	createTestDeal(t, service, 1, stage.ID, "Calle Mayor flat", 25_000_00)

	assert.ErrorIs(t, service.DeleteStage(ctx, 1, stage.ID), ErrStageInUse)
}

func TestCreateDealRequiresOwnStage(t *testing.T) {
	service, _ := newPipelineFixture(t)

	otherOrgStage := createTestStage(t, service, 2, "Incoming")

	deal := &Deal{OrganizationID: 1, LeadID: 1, StageID: otherOrgStage.ID, Title: "x", CreatedBy: 1}
	assert.ErrorIs(t, service.CreateDeal(context.Background(), deal), ErrNotFound)
}

func TestMoveDeal(t *testing.T) {
	service, _ := newPipelineFixture(t)
	ctx := context.Background()

	from := createTestStage(t, service, 1, "Incoming")
	to := createTestStage(t, service, 1, "Offer made")
	foreign := createTestStage(t, service, 2, "Incoming")

	deal := createTestDeal(t, service, 1, from.ID, "Calle Mayor flat", 25_000_00)

	require.NoError(t, service.MoveDeal(ctx, 1, deal.ID, to.ID))
	got, err := service.GetDeal(ctx, 1, deal.ID)
	require.NoError(t, err)
	assert.Equal(t, to.ID, got.StageID)

	// The target stage must belong to the same board.
	assert.ErrorIs(t, service.MoveDeal(ctx, 1, deal.ID, foreign.ID), ErrNotFound)
}

func TestUpdateDealPartial(t *testing.T) {
	service, _ := newPipelineFixture(t)
	ctx := context.Background()

	stage := createTestStage(t, service, 1, "Incoming")
	deal := createTestDeal(t, service, 1, stage.ID, "Calle Mayor flat", 25_000_00)

	value := int64(27_500_00)
	closeDate := time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, service.UpdateDeal(ctx, 1, deal.ID, &UpdateDealRequest{
		ValueCents:        &value,
		ExpectedCloseDate: &closeDate,
	}))

	got, err := service.GetDeal(ctx, 1, deal.ID)
	require.NoError(t, err)
	assert.Equal(t, value, got.ValueCents)
	assert.Equal(t, "Calle Mayor flat", got.Title)
	require.NotNil(t, got.ExpectedCloseDate)

	assert.ErrorIs(t, service.UpdateDeal(ctx, 1, 404, &UpdateDealRequest{ValueCents: &value}), ErrNotFound)
}

func TestBoardGroupsDealsByStage(t *testing.T) {
	service, _ := newPipelineFixture(t)
	ctx := context.Background()

	incoming := createTestStage(t, service, 1, "Incoming")
	offers := createTestStage(t, service, 1, "Offer made")

	createTestDeal(t, service, 1, incoming.ID, "Flat A", 10_000_00)
	createTestDeal(t, service, 1, incoming.ID, "Flat B", 12_000_00)
	createTestDeal(t, service, 1, offers.ID, "House C", 40_000_00)

	board, err := service.Board(ctx, 1)
	require.NoError(t, err)
	require.Len(t, board, 2)
	assert.Equal(t, "Incoming", board[0].Stage.Name)
	assert.Len(t, board[0].Deals, 2)
	assert.Len(t, board[1].Deals, 1)
}

func TestDeleteDeal(t *testing.T) {
	service, _ := newPipelineFixture(t)
	ctx := context.Background()

	stage := createTestStage(t, service, 1, "Incoming")
	deal := createTestDeal(t, service, 1, stage.ID, "Flat A", 10_000_00)

	require.NoError(t, service.DeleteDeal(ctx, 1, deal.ID))
	assert.ErrorIs(t, service.DeleteDeal(ctx, 1, deal.ID), ErrNotFound)
}
