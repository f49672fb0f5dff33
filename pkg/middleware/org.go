package middleware

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/doorstep-crm/doorstep/pkg/httputil"
	"github.com/doorstep-crm/doorstep/pkg/orgs"
)

// OrgLookup reads organization records for the status gate
type OrgLookup interface {
	GetOrganization(ctx context.Context, id int64) (*orgs.Organization, error)
}

// OrgGateMiddleware rejects requests to suspended or deleted tenants.
// Suspension already revokes member sessions; this gate closes the
// window where a cached session would otherwise keep working.
type OrgGateMiddleware struct {
	lookup OrgLookup
	cache  *lru.LRU[int64, orgs.OrgStatus]
}

const (
	orgGateCacheSize = 1024
	orgGateCacheTTL  = 30 * time.Second
)

// NewOrgGateMiddleware creates the tenant status gate
func NewOrgGateMiddleware(lookup OrgLookup) *OrgGateMiddleware {
	return &OrgGateMiddleware{
		lookup: lookup,
		cache:  lru.NewLRU[int64, orgs.OrgStatus](orgGateCacheSize, nil, orgGateCacheTTL),
	}
}

// Handler wraps an HTTP handler with the tenant status gate. Routes
// without an {id} path variable pass through untouched.
func (m *OrgGateMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := mux.Vars(r)["id"]
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		orgID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httputil.WriteValidationError(w, "invalid organization id")
			return
		}

		status, ok := m.cache.Get(orgID)
		if !ok {
			org, err := m.lookup.GetOrganization(r.Context(), orgID)
			if errors.Is(err, orgs.ErrNotFound) {
				httputil.WriteNotFoundError(w, "organization not found")
				return
			}
			if err != nil {
				httputil.WriteInternalError(w, err)
				return
			}
			status = org.Status
			m.cache.Add(orgID, status)
		}

		if status != orgs.OrgStatusActive {
			httputil.WriteForbidden(w, "organization is suspended")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Invalidate drops a tenant from the status cache, used right after a
// suspension so the gate closes without waiting out the TTL.
func (m *OrgGateMiddleware) Invalidate(orgID int64) {
	m.cache.Remove(orgID)
}
