package permissions

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doorstep-crm/doorstep/pkg/audit"
	"github.com/doorstep-crm/doorstep/pkg/contextkeys"
)

// recordingLogger captures audit events for assertions
type recordingLogger struct {
	events []*audit.Event
}

func (r *recordingLogger) Log(ctx context.Context, event *audit.Event) error {
	r.events = append(r.events, event)
	return nil
}

func (r *recordingLogger) Close() error { return nil }

type handlerFixture struct {
	router   *mux.Router
	store    *Store
	db       *sql.DB
	resolver *Resolver
	audit    *recordingLogger
}

// newHandlerFixture wires handlers over a sqlite store seeded with a
// default catalog, one manager (user 1) and one employee (user 10) in
// organization 1, and an employee (user 20) in organization 2.
func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()

	store, db := newTestStore(t)
	ctx := context.Background()

	catalog, err := LoadCatalog("does-not-exist.yaml")
	require.NoError(t, err)
	require.NoError(t, catalog.Sync(ctx, store))
	require.NoError(t, store.SeedRoleGrants(ctx, 1, catalog.DefaultGrants(1)))
	require.NoError(t, store.SeedRoleGrants(ctx, 2, catalog.DefaultGrants(2)))

	_, err = db.Exec(`INSERT INTO users (id, email) VALUES
		(1, 'mgr@acme.test'), (10, 'agent@acme.test'), (20, 'agent@globex.test')`)
	require.NoError(t, err)
	_, err = db.Exec(`INSERT INTO org_members (organization_id, user_id, role) VALUES
		(1, 1, 'manager'), (1, 10, 'employee'), (2, 20, 'employee')`)
	require.NoError(t, err)

	auditLogger := &recordingLogger{}
	resolver := NewResolver(store, store, store, nil)
	handlers := NewHandlers(resolver, store, catalog, auditLogger)

	router := mux.NewRouter()
	handlers.RegisterRoutes(router)

	return &handlerFixture{router: router, store: store, db: db, resolver: resolver, audit: auditLogger}
}

func (f *handlerFixture) do(t *testing.T, principal *Principal, method, path string, body interface{}) *httptest.ResponseRecorder {
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
	managerPrincipal  = Principal{UserID: 1, OrganizationID: 1, Role: RoleManager}
	employeePrincipal = Principal{UserID: 10, OrganizationID: 1, Role: RoleEmployee}
)

func TestGetUserPermissionsPayload(t *testing.T) {
	f := newHandlerFixture(t)

	rec := f.do(t, &managerPrincipal, "GET", "/orgs/1/members/10/permissions", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp UserPermissionsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	assert.NotEmpty(t, resp.AllFeatures)
	assert.Contains(t, resp.RolePermissions, CapViewLeads)
	assert.NotContains(t, resp.RolePermissions, CapManagePermissions)
	assert.Empty(t, resp.UserPermissions)
	assert.Empty(t, resp.UserPermissionDetails)
	assert.Equal(t, resp.RolePermissions, resp.EffectivePermissions,
		"with no overrides the effective set equals the role defaults")
}

func TestGetUserPermissionsIncludesOverrideDetails(t *testing.T) {
	f := newHandlerFixture(t)

	put := f.do(t, &managerPrincipal, "PUT", "/orgs/1/members/10/permissions", SaveUserOverridesRequest{
		Permissions: []string{CapViewLeads, CapEditLeads, CapMoveDeals, CapViewPipeline, CapStartCalls, CapDeleteLeads},
	})
	require.Equal(t, http.StatusOK, put.Code)

	rec := f.do(t, &managerPrincipal, "GET", "/orgs/1/members/10/permissions", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp UserPermissionsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	assert.Equal(t, []string{CapDeleteLeads}, resp.UserPermissions)
	require.Len(t, resp.UserPermissionDetails, 1)
	assert.Equal(t, CapDeleteLeads, resp.UserPermissionDetails[0].CapabilityKey)
	assert.Contains(t, resp.EffectivePermissions, CapDeleteLeads)
}

func TestGetUserPermissionsDeniedWithoutManagePermissions(t *testing.T) {
	f := newHandlerFixture(t)

	rec := f.do(t, &employeePrincipal, "GET", "/orgs/1/members/10/permissions", nil)
	// Denials arrive as 200 with success=false, not as an HTTP error.
	require.Equal(t, http.StatusOK, rec.Code)

	var resp DeniedEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Success)
	assert.NotEmpty(t, resp.Message)
}

func TestGetUserPermissionsUnknownTarget(t *testing.T) {
	f := newHandlerFixture(t)

	rec := f.do(t, &managerPrincipal, "GET", "/orgs/1/members/404/permissions", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetUserPermissionsRequiresAuth(t *testing.T) {
	f := newHandlerFixture(t)

	rec := f.do(t, nil, "GET", "/orgs/1/members/10/permissions", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

// DeniedEnvelope mirrors the wire shape of a capability denial
type DeniedEnvelope struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func TestSaveUserOverridesReportsDiff(t *testing.T) {
	f := newHandlerFixture(t)

	body := SaveUserOverridesRequest{
		Permissions: []string{CapViewLeads, CapEditLeads, CapMoveDeals, CapViewPipeline, CapStartCalls, CapDeleteLeads},
	}
	rec := f.do(t, &managerPrincipal, "PUT", "/orgs/1/members/10/permissions", body)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp SaveUserOverridesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, 1, resp.OverrideCount, "delete_leads is the only change beyond the employee defaults")

	// An identical repeat writes nothing new.
	repeat := f.do(t, &managerPrincipal, "PUT", "/orgs/1/members/10/permissions", body)
	require.Equal(t, http.StatusOK, repeat.Code)
	require.NoError(t, json.Unmarshal(repeat.Body.Bytes(), &resp))
	assert.Equal(t, 0, resp.OverrideCount)

	require.Len(t, f.audit.events, 2)
	assert.Equal(t, audit.EventTypeAuthzOverridesUpdate, f.audit.events[0].EventType)
	assert.Equal(t, audit.EventStatusSuccess, f.audit.events[0].Status)
}

func TestSaveUserOverridesDeniedWithoutManagePermissions(t *testing.T) {
	f := newHandlerFixture(t)

	rec := f.do(t, &employeePrincipal, "PUT", "/orgs/1/members/10/permissions", SaveUserOverridesRequest{
		Permissions: []string{CapDeleteLeads},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp DeniedEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Success)

	require.Len(t, f.audit.events, 1)
	assert.Equal(t, audit.EventStatusDenied, f.audit.events[0].Status)
}

func TestSaveUserOverridesCrossOrgForbidden(t *testing.T) {
	f := newHandlerFixture(t)

	rec := f.do(t, &managerPrincipal, "PUT", "/orgs/2/members/20/permissions", SaveUserOverridesRequest{
		Permissions: []string{CapDeleteLeads},
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSaveUserOverridesMalformedBody(t *testing.T) {
	f := newHandlerFixture(t)

	req := httptest.NewRequest("PUT", "/orgs/1/members/10/permissions", bytes.NewReader([]byte("{not json")))
	req = req.WithContext(contextkeys.WithPrincipal(req.Context(), &managerPrincipal))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCheckCapability(t *testing.T) {
	f := newHandlerFixture(t)

	rec := f.do(t, &employeePrincipal, "POST", "/permissions/check", CheckCapabilityRequest{Capability: CapViewLeads})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp CheckCapabilityResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.Allowed)

	rec = f.do(t, &employeePrincipal, "POST", "/permissions/check", CheckCapabilityRequest{Capability: CapManagePermissions})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Allowed)
}

func TestCheckCapabilityValidation(t *testing.T) {
	f := newHandlerFixture(t)

	rec := f.do(t, &employeePrincipal, "POST", "/permissions/check", CheckCapabilityRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, nil, "POST", "/permissions/check", CheckCapabilityRequest{Capability: CapViewLeads})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
