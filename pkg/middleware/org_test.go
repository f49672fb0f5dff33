package middleware

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"

	"github.com/doorstep-crm/doorstep/pkg/orgs"
)

type fakeOrgLookup struct {
	calls         int
	organizations map[int64]*orgs.Organization
}

func (f *fakeOrgLookup) GetOrganization(ctx context.Context, id int64) (*orgs.Organization, error) {
	f.calls++
	org, ok := f.organizations[id]
	if !ok {
		return nil, fmt.Errorf("organization: %w", orgs.ErrNotFound)
	}
	return org, nil
}

func newOrgGateRouter(lookup *fakeOrgLookup) (*mux.Router, *OrgGateMiddleware) {
	gate := NewOrgGateMiddleware(lookup)
	router := mux.NewRouter()
	router.Use(gate.Handler)
	router.HandleFunc("/orgs/{id}/leads", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods("GET")
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods("GET")
	return router, gate
}

func TestOrgGateActiveTenant(t *testing.T) {
	lookup := &fakeOrgLookup{organizations: map[int64]*orgs.Organization{
		1: {ID: 1, Status: orgs.OrgStatusActive},
	}}
	router, _ := newOrgGateRouter(lookup)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/orgs/1/leads", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestOrgGateSuspendedTenant(t *testing.T) {
	lookup := &fakeOrgLookup{organizations: map[int64]*orgs.Organization{
		1: {ID: 1, Status: orgs.OrgStatusSuspended},
	}}
	router, _ := newOrgGateRouter(lookup)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/orgs/1/leads", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestOrgGateUnknownTenant(t *testing.T) {
	lookup := &fakeOrgLookup{organizations: map[int64]*orgs.Organization{}}
	router, _ := newOrgGateRouter(lookup)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/orgs/9/leads", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOrgGateSkipsUnscopedRoutes(t *testing.T) {
	lookup := &fakeOrgLookup{organizations: map[int64]*orgs.Organization{}}
	router, _ := newOrgGateRouter(lookup)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, lookup.calls)
}

func TestOrgGateCachesStatus(t *testing.T) {
	lookup := &fakeOrgLookup{organizations: map[int64]*orgs.Organization{
		1: {ID: 1, Status: orgs.OrgStatusActive},
	}}
	router, gate := newOrgGateRouter(lookup)

	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest("GET", "/orgs/1/leads", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
	assert.Equal(t, 1, lookup.calls)

	// Suspension plus invalidation takes effect on the next request.
	lookup.organizations[1].Status = orgs.OrgStatusSuspended
	gate.Invalidate(1)

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest("GET", "/orgs/1/leads", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
}
