package leads

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doorstep-crm/doorstep/pkg/audit"
	"github.com/doorstep-crm/doorstep/pkg/contextkeys"
	"github.com/doorstep-crm/doorstep/pkg/permissions"
)

type recordingLogger struct {
	events []*audit.Event
}

func (r *recordingLogger) Log(ctx context.Context, event *audit.Event) error {
	r.events = append(r.events, event)
	return nil
}

func (r *recordingLogger) Close() error { return nil }

type leadHandlerFixture struct {
	router  *mux.Router
	service *Service
	db      *sql.DB
	quotas  *fakeQuotas
	audit   *recordingLogger
}

// newLeadHandlerFixture wires lead handlers over sqlite with the real
// permission store and resolver. Organization 1 has a manager (user 1)
// and an employee (user 10) with the default catalog policy.
func newLeadHandlerFixture(t *testing.T) *leadHandlerFixture {
	t.Helper()

	service, db, quotas := newLeadFixture(t)
	ctx := context.Background()

	permSchema := []string{
		`CREATE TABLE capabilities (
			key TEXT PRIMARY KEY,
			category TEXT NOT NULL,
			label TEXT NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT TRUE
		)`,
		`CREATE TABLE role_grants (
			organization_id INTEGER NOT NULL,
			role TEXT NOT NULL,
			capability_key TEXT NOT NULL,
			enabled BOOLEAN NOT NULL DEFAULT FALSE,
			updated_at TIMESTAMP NOT NULL,
			PRIMARY KEY (organization_id, role, capability_key)
		)`,
		`CREATE TABLE user_overrides (
			organization_id INTEGER NOT NULL,
			user_id INTEGER NOT NULL,
			capability_key TEXT NOT NULL,
			enabled BOOLEAN NOT NULL,
			granted_by INTEGER,
			granted_at TIMESTAMP NOT NULL,
			PRIMARY KEY (user_id, capability_key)
		)`,
	}
	for _, stmt := range permSchema {
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}

	store := permissions.NewStore(db)
	catalog, err := permissions.LoadCatalog("does-not-exist.yaml")
	require.NoError(t, err)
	require.NoError(t, catalog.Sync(ctx, store))
	require.NoError(t, store.SeedRoleGrants(ctx, 1, catalog.DefaultGrants(1)))

	auditLogger := &recordingLogger{}
	resolver := permissions.NewResolver(store, store, store, nil)
	handlers := NewHandlers(service, resolver, auditLogger)

	router := mux.NewRouter()
	handlers.RegisterRoutes(router)

	return &leadHandlerFixture{router: router, service: service, db: db, quotas: quotas, audit: auditLogger}
}

func (f *leadHandlerFixture) do(t *testing.T, principal *permissions.Principal, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if principal != nil {
		req = req.WithContext(contextkeys.WithPrincipal(req.Context(), principal))
	}

	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

var (
	leadManager  = permissions.Principal{UserID: 1, OrganizationID: 1, Role: permissions.RoleManager}
	leadEmployee = permissions.Principal{UserID: 10, OrganizationID: 1, Role: permissions.RoleEmployee}
)

type deniedEnvelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func TestCreateLeadHandler(t *testing.T) {
	f := newLeadHandlerFixture(t)

	rec := f.do(t, &leadEmployee, "POST", "/orgs/1/leads", CreateLeadRequest{
		FirstName: "Nora",
		LastName:  "Vega",
		Source:    SourceWebsite,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	var lead Lead
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &lead))
	assert.NotZero(t, lead.ID)
	assert.Equal(t, StatusNew, lead.Status)
	assert.Equal(t, int64(10), lead.CreatedBy)

	require.Len(t, f.audit.events, 1)
	assert.Equal(t, audit.EventTypeLeadCreate, f.audit.events[0].EventType)
}

func TestCreateLeadValidation(t *testing.T) {
	f := newLeadHandlerFixture(t)

	rec := f.do(t, &leadEmployee, "POST", "/orgs/1/leads", CreateLeadRequest{LastName: "Vega"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateLeadQuotaConflict(t *testing.T) {
	f := newLeadHandlerFixture(t)
	f.quotas.limit = 1
	f.quotas.count = 1

	rec := f.do(t, &leadEmployee, "POST", "/orgs/1/leads", CreateLeadRequest{FirstName: "Over"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestListLeadsHandler(t *testing.T) {
	f := newLeadHandlerFixture(t)

	createTestLead(t, f.service, 1, "nora", "vega")
	createTestLead(t, f.service, 1, "pablo", "ruiz")

	rec := f.do(t, &leadEmployee, "GET", "/orgs/1/leads", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var leads []*Lead
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &leads))
	assert.Len(t, leads, 2)

	rec = f.do(t, &leadEmployee, "GET", "/orgs/1/leads?search=pablo", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &leads))
	require.Len(t, leads, 1)
	assert.Equal(t, "pablo", leads[0].FirstName)
}

func TestDeleteLeadRequiresCapability(t *testing.T) {
	f := newLeadHandlerFixture(t)

	lead := createTestLead(t, f.service, 1, "nora", "vega")

	// Employees lack delete_leads; the denial is a 200 envelope.
	rec := f.do(t, &leadEmployee, "DELETE", fmt.Sprintf("/orgs/1/leads/%d", lead.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var denied deniedEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &denied))
	assert.False(t, denied.Success)

	// The lead is still there.
	_, err := f.service.Get(context.Background(), 1, lead.ID)
	require.NoError(t, err)

	rec = f.do(t, &leadManager, "DELETE", fmt.Sprintf("/orgs/1/leads/%d", lead.ID), nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	_, err = f.service.Get(context.Background(), 1, lead.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAssignLeadHandler(t *testing.T) {
	f := newLeadHandlerFixture(t)

	lead := createTestLead(t, f.service, 1, "nora", "vega")
	agentID := int64(10)

	// assign_leads defaults to managers only.
	rec := f.do(t, &leadEmployee, "PUT", fmt.Sprintf("/orgs/1/leads/%d/assign", lead.ID), AssignLeadRequest{AgentID: &agentID})
	require.Equal(t, http.StatusOK, rec.Code)
	var denied deniedEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &denied))
	assert.False(t, denied.Success)

	rec = f.do(t, &leadManager, "PUT", fmt.Sprintf("/orgs/1/leads/%d/assign", lead.ID), AssignLeadRequest{AgentID: &agentID})
	require.Equal(t, http.StatusNoContent, rec.Code)

	got, err := f.service.Get(context.Background(), 1, lead.ID)
	require.NoError(t, err)
	require.NotNil(t, got.AssignedAgentID)
	assert.Equal(t, agentID, *got.AssignedAgentID)

	// null unassigns.
	rec = f.do(t, &leadManager, "PUT", fmt.Sprintf("/orgs/1/leads/%d/assign", lead.ID), AssignLeadRequest{})
	require.Equal(t, http.StatusNoContent, rec.Code)
	got, err = f.service.Get(context.Background(), 1, lead.ID)
	require.NoError(t, err)
	assert.Nil(t, got.AssignedAgentID)
}

func TestUpdateLeadHandler(t *testing.T) {
	f := newLeadHandlerFixture(t)

	lead := createTestLead(t, f.service, 1, "nora", "vega")

	status := StatusQualified
	rec := f.do(t, &leadEmployee, "PATCH", fmt.Sprintf("/orgs/1/leads/%d", lead.ID), UpdateLeadRequest{Status: &status})
	require.Equal(t, http.StatusNoContent, rec.Code)

	got, err := f.service.Get(context.Background(), 1, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusQualified, got.Status)

	bad := LeadStatus("bogus")
	rec = f.do(t, &leadEmployee, "PATCH", fmt.Sprintf("/orgs/1/leads/%d", lead.ID), UpdateLeadRequest{Status: &bad})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, &leadEmployee, "PATCH", "/orgs/1/leads/404", UpdateLeadRequest{Status: &status})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLeadNotesHandler(t *testing.T) {
	f := newLeadHandlerFixture(t)

	lead := createTestLead(t, f.service, 1, "nora", "vega")

	rec := f.do(t, &leadEmployee, "POST", fmt.Sprintf("/orgs/1/leads/%d/notes", lead.ID), AddNoteRequest{Body: "called, left voicemail"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(t, &leadEmployee, "POST", fmt.Sprintf("/orgs/1/leads/%d/notes", lead.ID), AddNoteRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, &leadEmployee, "GET", fmt.Sprintf("/orgs/1/leads/%d/notes", lead.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var notes []*Note
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &notes))
	require.Len(t, notes, 1)
	assert.Equal(t, int64(10), notes[0].AuthorID)
}

func TestLeadRoutesRequireAuthAndTenancy(t *testing.T) {
	f := newLeadHandlerFixture(t)

	rec := f.do(t, nil, "GET", "/orgs/1/leads", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	outsider := permissions.Principal{UserID: 20, OrganizationID: 2, Role: permissions.RoleManager}
	rec = f.do(t, &outsider, "GET", "/orgs/1/leads", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
