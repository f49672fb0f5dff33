package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doorstep-crm/doorstep/pkg/contextkeys"
	"github.com/doorstep-crm/doorstep/pkg/orgs"
	"github.com/doorstep-crm/doorstep/pkg/permissions"
)

type fakePlanDir struct {
	tiers map[int64]orgs.PlanTier
}

func (f *fakePlanDir) SetPlanTier(ctx context.Context, orgID int64, tier orgs.PlanTier) error {
	f.tiers[orgID] = tier
	return nil
}

type billingHandlerFixture struct {
	router  *mux.Router
	service *Service
	planDir *fakePlanDir
	audit   *recordingLogger
}

// newBillingHandlerFixture wires billing handlers over sqlite with the
// real permission store and resolver. manage_billing is granted to no
// role by default; user 1 carries an enabling override, matching how a
// billing admin is set up in practice.
func newBillingHandlerFixture(t *testing.T) *billingHandlerFixture {
	t.Helper()

	service, db := newBillingFixture(t)
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
	require.NoError(t, store.ReplaceUserOverrides(ctx, 1, []permissions.UserOverride{
		{OrganizationID: 1, UserID: 1, CapabilityKey: permissions.CapManageBilling, Enabled: true, GrantedBy: 1, GrantedAt: time.Now()},
	}))

	planDir := &fakePlanDir{tiers: map[int64]orgs.PlanTier{}}
	auditLog := &recordingLogger{}
	resolver := permissions.NewResolver(store, store, store, nil)
	handlers := NewHandlers(service, planDir, resolver, auditLog)

	router := mux.NewRouter()
	handlers.RegisterRoutes(router)

	return &billingHandlerFixture{router: router, service: service, planDir: planDir, audit: auditLog}
}

func (f *billingHandlerFixture) do(t *testing.T, principal *permissions.Principal, method, path string, body interface{}) *httptest.ResponseRecorder {
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
	billingAdmin    = permissions.Principal{UserID: 1, OrganizationID: 1, Role: permissions.RoleManager}
	billingEmployee = permissions.Principal{UserID: 10, OrganizationID: 1, Role: permissions.RoleEmployee}
)

type billingDenied struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func TestGetSubscriptionHandler(t *testing.T) {
	f := newBillingHandlerFixture(t)

	createTestSubscription(t, f.service, 1, orgs.PlanGrowth)

	rec := f.do(t, &billingAdmin, "GET", "/orgs/1/subscription", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var sub Subscription
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sub))
	assert.Equal(t, orgs.PlanGrowth, sub.PlanTier)

	// view_billing is manager-only by default.
	rec = f.do(t, &billingEmployee, "GET", "/orgs/1/subscription", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var denied billingDenied
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &denied))
	assert.False(t, denied.Success)
}

func TestGetSubscriptionMissing(t *testing.T) {
	f := newBillingHandlerFixture(t)

	rec := f.do(t, &billingAdmin, "GET", "/orgs/1/subscription", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestChangePlanHandler(t *testing.T) {
	f := newBillingHandlerFixture(t)

	createTestSubscription(t, f.service, 1, orgs.PlanStarter)

	rec := f.do(t, &billingAdmin, "PUT", "/orgs/1/subscription/plan", ChangePlanRequest{PlanTier: orgs.PlanScale})
	require.Equal(t, http.StatusNoContent, rec.Code)

	sub, err := f.service.GetSubscription(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, orgs.PlanScale, sub.PlanTier)
	// The organization record follows the subscription.
	assert.Equal(t, orgs.PlanScale, f.planDir.tiers[1])

	require.Len(t, f.audit.events, 1)
	assert.Equal(t, "plan changed to scale", f.audit.events[0].Message)
}

func TestChangePlanValidation(t *testing.T) {
	f := newBillingHandlerFixture(t)

	createTestSubscription(t, f.service, 1, orgs.PlanStarter)

	rec := f.do(t, &billingAdmin, "PUT", "/orgs/1/subscription/plan", ChangePlanRequest{PlanTier: "platinum"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChangePlanRequiresManageBilling(t *testing.T) {
	f := newBillingHandlerFixture(t)

	createTestSubscription(t, f.service, 1, orgs.PlanStarter)

	// Managers hold view_billing but not manage_billing by default.
	other := permissions.Principal{UserID: 2, OrganizationID: 1, Role: permissions.RoleManager}
	rec := f.do(t, &other, "PUT", "/orgs/1/subscription/plan", ChangePlanRequest{PlanTier: orgs.PlanGrowth})
	require.Equal(t, http.StatusOK, rec.Code)

	var denied billingDenied
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &denied))
	assert.False(t, denied.Success)

	sub, err := f.service.GetSubscription(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, orgs.PlanStarter, sub.PlanTier)
}

func TestPaymentMethodHandlers(t *testing.T) {
	f := newBillingHandlerFixture(t)

	rec := f.do(t, &billingAdmin, "POST", "/orgs/1/payment-methods", AddPaymentMethodRequest{
		Kind: "card", Brand: "visa", Last4: "4242", ExpMonth: 12, ExpYear: 2028, ExternalID: "pm_1",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var first PaymentMethod
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &first))
	assert.True(t, first.IsDefault)

	rec = f.do(t, &billingAdmin, "POST", "/orgs/1/payment-methods", AddPaymentMethodRequest{
		Kind: "card", Brand: "amex", Last4: "0005", ExternalID: "pm_2",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var second PaymentMethod
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &second))

	rec = f.do(t, &billingAdmin, "PUT", fmt.Sprintf("/orgs/1/payment-methods/%d/default", second.ID), nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	// The old default can go now.
	rec = f.do(t, &billingAdmin, "DELETE", fmt.Sprintf("/orgs/1/payment-methods/%d", first.ID), nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	// The remaining default is the last method, so it can go too.
	rec = f.do(t, &billingAdmin, "DELETE", fmt.Sprintf("/orgs/1/payment-methods/%d", second.ID), nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRemoveDefaultPaymentMethodConflict(t *testing.T) {
	f := newBillingHandlerFixture(t)
	ctx := context.Background()

	first := &PaymentMethod{OrganizationID: 1, Kind: "card", Last4: "4242", ExternalID: "pm_1"}
	second := &PaymentMethod{OrganizationID: 1, Kind: "card", Last4: "0005", ExternalID: "pm_2"}
	require.NoError(t, f.service.AddPaymentMethod(ctx, first))
	require.NoError(t, f.service.AddPaymentMethod(ctx, second))

	rec := f.do(t, &billingAdmin, "DELETE", fmt.Sprintf("/orgs/1/payment-methods/%d", first.ID), nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAddPaymentMethodValidation(t *testing.T) {
	f := newBillingHandlerFixture(t)

	rec := f.do(t, &billingAdmin, "POST", "/orgs/1/payment-methods", AddPaymentMethodRequest{Kind: "card"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInvoiceHandlers(t *testing.T) {
	f := newBillingHandlerFixture(t)
	ctx := context.Background()

	periodStart := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	invoice := testInvoice(1, "INV-202607-0001", periodStart)
	require.NoError(t, f.service.CreateInvoice(ctx, invoice))

	rec := f.do(t, &billingAdmin, "GET", "/orgs/1/invoices", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var invoices []*Invoice
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &invoices))
	require.Len(t, invoices, 1)

	rec = f.do(t, &billingAdmin, "GET", fmt.Sprintf("/orgs/1/invoices/%d", invoice.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var fetched Invoice
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fetched))
	require.Len(t, fetched.Lines, 1)

	rec = f.do(t, &billingAdmin, "GET", "/orgs/1/invoices/999", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBillingRoutesTenancy(t *testing.T) {
	f := newBillingHandlerFixture(t)

	rec := f.do(t, nil, "GET", "/orgs/1/invoices", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	outsider := permissions.Principal{UserID: 20, OrganizationID: 2, Role: permissions.RoleManager}
	rec = f.do(t, &outsider, "GET", "/orgs/1/invoices", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
