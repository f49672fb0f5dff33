package leads

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doorstep-crm/doorstep/pkg/orgs"
)

// fakeQuotas tracks lead usage and can simulate an exhausted plan
type fakeQuotas struct {
	count    int
	limit    int
	adjusted []int
}

func (f *fakeQuotas) CheckLeadQuota(ctx context.Context, orgID int64) error {
	if f.limit > 0 && f.count >= f.limit {
		return &orgs.QuotaExceededError{Resource: "leads", Current: int64(f.count), Limit: int64(f.limit)}
	}
	return nil
}

func (f *fakeQuotas) AdjustLeadCount(ctx context.Context, orgID int64, delta int) error {
	f.count += delta
	f.adjusted = append(f.adjusted, delta)
	return nil
}

func newLeadFixture(t *testing.T) (*Service, *sql.DB, *fakeQuotas) {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	schema := []string{
		`CREATE TABLE leads (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			organization_id INTEGER NOT NULL,
			first_name TEXT NOT NULL,
			last_name TEXT NOT NULL,
			phone TEXT NOT NULL DEFAULT '',
			email TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL DEFAULT 'manual',
			status TEXT NOT NULL DEFAULT 'new',
			assigned_agent_id INTEGER,
			tags BLOB,
			created_by INTEGER NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			last_contacted_at TIMESTAMP
		)`,
		`CREATE TABLE lead_notes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			lead_id INTEGER NOT NULL,
			author_id INTEGER NOT NULL,
			body TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
	}
	for _, stmt := range schema {
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}

	quotas := &fakeQuotas{}
	return NewService(db, quotas), db, quotas
}

func createTestLead(t *testing.T, service *Service, orgID int64, first, last string) *Lead {
	t.Helper()
	lead := &Lead{
		OrganizationID: orgID,
		FirstName:      first,
		LastName:       last,
		Phone:          "+34600111222",
		Email:          first + "@example.test",
		CreatedBy:      1,
	}
	require.NoError(t, service.Create(context.Background(), lead))
	return lead
}

func TestCreateLeadDefaultsAndUsage(t *testing.T) {
	service, _, quotas := newLeadFixture(t)

	lead := &Lead{
		OrganizationID: 1,
		FirstName:      "Nora",
		LastName:       "Vega",
		Tags:           []string{"buyer", "urgent"},
		CreatedBy:      1,
	}
	require.NoError(t, service.Create(context.Background(), lead))

	assert.NotZero(t, lead.ID)
	assert.Equal(t, SourceManual, lead.Source)
	assert.Equal(t, StatusNew, lead.Status)
	assert.Equal(t, []int{1}, quotas.adjusted)

	got, err := service.Get(context.Background(), 1, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, "Nora", got.FirstName)
	assert.Equal(t, []string{"buyer", "urgent"}, got.Tags)
	assert.Nil(t, got.LastContactedAt)
}

func TestCreateLeadQuotaExceeded(t *testing.T) {
	service, _, quotas := newLeadFixture(t)
	quotas.limit = 1
	quotas.count = 1

	lead := &Lead{OrganizationID: 1, FirstName: "Over", LastName: "Limit", CreatedBy: 1}
	err := service.Create(context.Background(), lead)
	assert.True(t, orgs.IsQuotaExceeded(err))
	assert.Empty(t, quotas.adjusted, "a rejected lead records no usage")
}

func TestGetLeadScopedToOrganization(t *testing.T) {
	service, _, _ := newLeadFixture(t)

	lead := createTestLead(t, service, 1, "nora", "vega")

	_, err := service.Get(context.Background(), 2, lead.ID)
	assert.ErrorIs(t, err, ErrNotFound, "another tenant cannot see the lead")
}

func TestListLeadsFilters(t *testing.T) {
	service, _, _ := newLeadFixture(t)
	ctx := context.Background()

	first := createTestLead(t, service, 1, "nora", "vega")
	second := createTestLead(t, service, 1, "pablo", "ruiz")
	createTestLead(t, service, 2, "other", "tenant")

	agentID := int64(7)
	require.NoError(t, service.Assign(ctx, 1, second.ID, &agentID))
	require.NoError(t, service.Update(ctx, 1, first.ID, &UpdateLeadRequest{Status: statusPtr(StatusQualified)}))

	all, err := service.List(ctx, 1, ListFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	qualified, err := service.List(ctx, 1, ListFilter{Status: StatusQualified})
	require.NoError(t, err)
	require.Len(t, qualified, 1)
	assert.Equal(t, first.ID, qualified[0].ID)

	assigned, err := service.List(ctx, 1, ListFilter{AssignedAgentID: &agentID})
	require.NoError(t, err)
	require.Len(t, assigned, 1)
	assert.Equal(t, second.ID, assigned[0].ID)

	byName, err := service.List(ctx, 1, ListFilter{Search: "pab"})
	require.NoError(t, err)
	require.Len(t, byName, 1)
	assert.Equal(t, second.ID, byName[0].ID)
}

func TestUpdateLeadPartial(t *testing.T) {
	service, _, _ := newLeadFixture(t)
	ctx := context.Background()

	lead := createTestLead(t, service, 1, "nora", "vega")

	phone := "+34911222333"
	require.NoError(t, service.Update(ctx, 1, lead.ID, &UpdateLeadRequest{Phone: &phone}))

	got, err := service.Get(ctx, 1, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, phone, got.Phone)
	assert.Equal(t, "nora", got.FirstName, "untouched fields keep their value")

	bad := LeadStatus("bogus")
	assert.Error(t, service.Update(ctx, 1, lead.ID, &UpdateLeadRequest{Status: &bad}))

	assert.ErrorIs(t, service.Update(ctx, 1, 404, &UpdateLeadRequest{Phone: &phone}), ErrNotFound)
}

func TestMarkContactedPromotesNewLeads(t *testing.T) {
	service, _, _ := newLeadFixture(t)
	ctx := context.Background()

	lead := createTestLead(t, service, 1, "nora", "vega")
	at := time.Now()
	require.NoError(t, service.MarkContacted(ctx, 1, lead.ID, at))

	got, err := service.Get(ctx, 1, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusContacted, got.Status)
	require.NotNil(t, got.LastContactedAt)

	// A qualified lead keeps its status on later contacts.
	require.NoError(t, service.Update(ctx, 1, lead.ID, &UpdateLeadRequest{Status: statusPtr(StatusQualified)}))
	require.NoError(t, service.MarkContacted(ctx, 1, lead.ID, at.Add(time.Hour)))
	got, err = service.Get(ctx, 1, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusQualified, got.Status)
}

func TestDeleteLeadRemovesNotesAndUsage(t *testing.T) {
	service, db, quotas := newLeadFixture(t)
	ctx := context.Background()

	lead := createTestLead(t, service, 1, "nora", "vega")
	note := &Note{LeadID: lead.ID, AuthorID: 1, Body: "called, no answer"}
	require.NoError(t, service.AddNote(ctx, 1, note))

	require.NoError(t, service.Delete(ctx, 1, lead.ID))
	assert.Equal(t, []int{1, -1}, quotas.adjusted)

	var count int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM lead_notes WHERE lead_id = ?`, lead.ID).Scan(&count))
	assert.Zero(t, count)

	assert.ErrorIs(t, service.Delete(ctx, 1, lead.ID), ErrNotFound)
}

func TestNotesScopedToOrganization(t *testing.T) {
	service, _, _ := newLeadFixture(t)
	ctx := context.Background()

	lead := createTestLead(t, service, 1, "nora", "vega")

	err := service.AddNote(ctx, 2, &Note{LeadID: lead.ID, AuthorID: 1, Body: "nope"})
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, service.AddNote(ctx, 1, &Note{LeadID: lead.ID, AuthorID: 1, Body: "first contact"}))
	require.NoError(t, service.AddNote(ctx, 1, &Note{LeadID: lead.ID, AuthorID: 1, Body: "sent listing"}))

	notes, err := service.ListNotes(ctx, 1, lead.ID)
	require.NoError(t, err)
	assert.Len(t, notes, 2)

	_, err = service.ListNotes(ctx, 2, lead.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func statusPtr(s LeadStatus) *LeadStatus { return &s }
