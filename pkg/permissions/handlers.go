package permissions

import (
	"errors"
	"net/http"
	"sort"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/doorstep-crm/doorstep/pkg/audit"
	"github.com/doorstep-crm/doorstep/pkg/contextkeys"
	"github.com/doorstep-crm/doorstep/pkg/httputil"
)

// Handlers provides the administrative permission settings surface
type Handlers struct {
	resolver    *Resolver
	store       *Store
	catalog     *Catalog
	auditLogger audit.Logger
}

// NewHandlers creates permission handlers
func NewHandlers(resolver *Resolver, store *Store, catalog *Catalog, auditLogger audit.Logger) *Handlers {
	return &Handlers{
		resolver:    resolver,
		store:       store,
		catalog:     catalog,
		auditLogger: auditLogger,
	}
}

// RegisterRoutes registers permission routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/orgs/{id}/members/{user_id}/permissions", h.GetUserPermissions).Methods("GET")
	router.HandleFunc("/orgs/{id}/members/{user_id}/permissions", h.SaveUserOverrides).Methods("PUT")
	router.HandleFunc("/permissions/check", h.CheckCapability).Methods("POST")
}

// PrincipalFromRequest extracts the authenticated principal placed in the
// request context by the auth middleware
func PrincipalFromRequest(r *http.Request) *Principal {
	v := r.Context().Value(contextkeys.PrincipalKey)
	if v == nil {
		return nil
	}
	p, ok := v.(*Principal)
	if !ok {
		return nil
	}
	return p
}

// UserPermissionsResponse is the admin settings payload
type UserPermissionsResponse struct {
	AllFeatures           []CatalogCategory `json:"allFeatures"`
	RolePermissions       []string          `json:"rolePermissions"`
	UserPermissions       []string          `json:"userPermissions"`
	EffectivePermissions  []string          `json:"effectivePermissions"`
	UserPermissionDetails []UserOverride    `json:"userPermissionDetails"`
}

// GetUserPermissions returns the permission sheet for one member
func (h *Handlers) GetUserPermissions(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	admin := PrincipalFromRequest(r)
	if admin == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	orgID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	targetUserID, ok := httputil.ParsePathInt64OrError(w, r, "user_id")
	if !ok {
		return
	}

	allowed, err := h.resolver.HasCapability(ctx, *admin, CapManagePermissions)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	if !allowed {
		httputil.WriteDenied(w, "you do not have permission to manage permissions")
		return
	}

	target, err := h.store.LookupPrincipal(ctx, targetUserID)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	if target == nil || target.OrganizationID != orgID {
		httputil.WriteNotFoundError(w, "user not found in organization")
		return
	}
	if target.OrganizationID != admin.OrganizationID && !admin.IsPlatformOperator {
		httputil.WriteForbidden(w, "target user belongs to another organization")
		return
	}

	grants, err := h.store.ListRoleGrants(ctx, target.OrganizationID, target.Role)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	overrides, err := h.store.ListUserOverrides(ctx, targetUserID)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	effective, err := h.resolver.GetEffectivePermissions(ctx, *target)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	resp := UserPermissionsResponse{
		AllFeatures:           h.catalog.Categories(),
		RolePermissions:       make([]string, 0),
		UserPermissions:       make([]string, 0),
		EffectivePermissions:  effective.Keys(),
		UserPermissionDetails: overrides,
	}
	for _, g := range grants {
		if g.Enabled {
			resp.RolePermissions = append(resp.RolePermissions, g.CapabilityKey)
		}
	}
	for _, o := range overrides {
		if o.Enabled {
			resp.UserPermissions = append(resp.UserPermissions, o.CapabilityKey)
		}
	}
	sort.Strings(resp.RolePermissions)
	sort.Strings(resp.UserPermissions)
	sort.Strings(resp.EffectivePermissions)

	httputil.WriteSuccess(w, resp)
}

// SaveUserOverridesRequest is the PUT body: the full desired effective
// set for the target user
type SaveUserOverridesRequest struct {
	Permissions []string `json:"permissions"`
}

// SaveUserOverridesResponse confirms the write
type SaveUserOverridesResponse struct {
	Success       bool `json:"success"`
	OverrideCount int  `json:"overrideCount"`
}

// SaveUserOverrides replaces the target user's permission overrides
func (h *Handlers) SaveUserOverrides(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	admin := PrincipalFromRequest(r)
	if admin == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	orgID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	targetUserID, ok := httputil.ParsePathInt64OrError(w, r, "user_id")
	if !ok {
		return
	}
	if admin.OrganizationID != orgID && !admin.IsPlatformOperator {
		httputil.WriteForbidden(w, "organization mismatch")
		return
	}

	var req SaveUserOverridesRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	result, err := h.resolver.SetUserOverrides(ctx, *admin, targetUserID, NewCapabilitySet(req.Permissions...))
	if err != nil {
		h.auditOverrides(r, admin, targetUserID, 0, err)
		switch {
		case errors.Is(err, ErrPermissionDenied):
			httputil.WriteDenied(w, "you do not have permission to manage permissions")
		case errors.Is(err, ErrForbidden):
			httputil.WriteForbidden(w, err.Error())
		default:
			httputil.WriteInternalError(w, err)
		}
		return
	}

	h.auditOverrides(r, admin, targetUserID, result.OverrideCount, nil)
	httputil.WriteSuccess(w, SaveUserOverridesResponse{
		Success:       true,
		OverrideCount: result.OverrideCount,
	})
}

// CheckCapabilityRequest asks whether the caller holds one capability
type CheckCapabilityRequest struct {
	Capability string `json:"capability"`
}

// CheckCapabilityResponse reports the answer
type CheckCapabilityResponse struct {
	Allowed bool `json:"allowed"`
}

// CheckCapability answers a point query for the calling principal
func (h *Handlers) CheckCapability(w http.ResponseWriter, r *http.Request) {
	principal := PrincipalFromRequest(r)
	if principal == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	var req CheckCapabilityRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Capability, "capability") {
		return
	}

	allowed, err := h.resolver.HasCapability(r.Context(), *principal, req.Capability)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, CheckCapabilityResponse{Allowed: allowed})
}

func (h *Handlers) auditOverrides(r *http.Request, admin *Principal, targetUserID int64, count int, opErr error) {
	event := audit.NewEvent(audit.EventTypeAuthzOverridesUpdate, audit.EventStatusSuccess)
	event.ActorUserID = &admin.UserID
	event.OrganizationID = &admin.OrganizationID
	event.ResourceType = audit.ResourceTypePermissions
	event.ResourceID = strconv.FormatInt(targetUserID, 10)
	event.RequestID = contextkeys.GetRequestID(r.Context())
	event.Message = "user permission overrides replaced"
	event.Metadata = map[string]interface{}{"override_count": count}

	if opErr != nil {
		if errors.Is(opErr, ErrForbidden) || errors.Is(opErr, ErrPermissionDenied) {
			event.Status = audit.EventStatusDenied
		} else {
			event.Status = audit.EventStatusFailure
		}
		event.ErrorMessage = opErr.Error()
		event.Message = "user permission override update rejected"
	}

	// Audit failures must not fail the request.
	_ = h.auditLogger.Log(r.Context(), event)
}
