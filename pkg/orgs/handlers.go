package orgs

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/doorstep-crm/doorstep/pkg/audit"
	"github.com/doorstep-crm/doorstep/pkg/auth"
	"github.com/doorstep-crm/doorstep/pkg/httputil"
	"github.com/doorstep-crm/doorstep/pkg/permissions"
)

// Handlers provides organization and membership endpoints
type Handlers struct {
	service     *PostgresService
	resolver    *permissions.Resolver
	users       *auth.Store
	auditLogger audit.Logger
}

// NewHandlers creates organization handlers
func NewHandlers(service *PostgresService, resolver *permissions.Resolver, users *auth.Store, auditLogger audit.Logger) *Handlers {
	return &Handlers{service: service, resolver: resolver, users: users, auditLogger: auditLogger}
}

// RegisterRoutes registers organization routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/orgs", h.CreateOrganization).Methods("POST")
	router.HandleFunc("/orgs/{id}", h.GetOrganization).Methods("GET")
	router.HandleFunc("/orgs/{id}", h.UpdateOrganization).Methods("PATCH")
	router.HandleFunc("/orgs/{id}/members", h.ListMembers).Methods("GET")
	router.HandleFunc("/orgs/{id}/members/{user_id}", h.RemoveMember).Methods("DELETE")
	router.HandleFunc("/orgs/{id}/members/{user_id}/role", h.UpdateMemberRole).Methods("PUT")
	router.HandleFunc("/orgs/{id}/invitations", h.CreateInvitation).Methods("POST")
	router.HandleFunc("/orgs/{id}/invitations", h.ListInvitations).Methods("GET")
	router.HandleFunc("/orgs/{id}/invitations/{invitation_id}", h.RevokeInvitation).Methods("DELETE")
	router.HandleFunc("/orgs/{id}/usage", h.GetUsage).Methods("GET")
	router.HandleFunc("/invitations/{token}/accept", h.AcceptInvitation).Methods("POST")
}

// requireOrgAccess checks the caller belongs to the path org (or is a
// platform operator) and optionally holds a capability. A capability
// miss writes the denial envelope and returns false.
func (h *Handlers) requireOrgAccess(w http.ResponseWriter, r *http.Request, orgID int64, capability string) (*permissions.Principal, bool) {
	principal := permissions.PrincipalFromRequest(r)
	if principal == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return nil, false
	}
	if principal.OrganizationID != orgID && !principal.IsPlatformOperator {
		httputil.WriteForbidden(w, "organization mismatch")
		return nil, false
	}
	if capability != "" {
		allowed, err := h.resolver.HasCapability(r.Context(), *principal, capability)
		if err != nil {
			httputil.WriteInternalError(w, err)
			return nil, false
		}
		if !allowed {
			httputil.WriteDenied(w, "you do not have permission to perform this action")
			return nil, false
		}
	}
	return principal, true
}

// CreateOrganization creates a tenant owned by the caller
func (h *Handlers) CreateOrganization(w http.ResponseWriter, r *http.Request) {
	principal := permissions.PrincipalFromRequest(r)
	if principal == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	var req CreateOrgRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Name, "name") {
		return
	}

	org := &Organization{
		Name:     req.Name,
		OwnerID:  &principal.UserID,
		PlanTier: req.PlanTier,
		Settings: req.Settings,
	}
	if err := h.service.CreateOrganization(r.Context(), org); err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteCreated(w, org)
}

// GetOrganization returns one organization
func (h *Handlers) GetOrganization(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	if _, ok := h.requireOrgAccess(w, r, orgID, ""); !ok {
		return
	}

	org, err := h.service.GetOrganization(r.Context(), orgID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			httputil.WriteNotFoundError(w, "organization not found")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, org)
}

// UpdateOrganization applies a partial update
func (h *Handlers) UpdateOrganization(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	if _, ok := h.requireOrgAccess(w, r, orgID, permissions.CapManageMembers); !ok {
		return
	}

	var req UpdateOrgRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if err := h.service.UpdateOrganization(r.Context(), orgID, &req); err != nil {
		if errors.Is(err, ErrNotFound) {
			httputil.WriteNotFoundError(w, "organization not found")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// ListMembers lists organization members
func (h *Handlers) ListMembers(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	if _, ok := h.requireOrgAccess(w, r, orgID, ""); !ok {
		return
	}

	members, err := h.service.ListMembers(r.Context(), orgID)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, members)
}

// RemoveMember removes a member from the organization
func (h *Handlers) RemoveMember(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	targetUserID, ok := httputil.ParsePathInt64OrError(w, r, "user_id")
	if !ok {
		return
	}
	principal, ok := h.requireOrgAccess(w, r, orgID, permissions.CapManageMembers)
	if !ok {
		return
	}

	org, err := h.service.GetOrganization(r.Context(), orgID)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	if org.OwnerID != nil && *org.OwnerID == targetUserID {
		httputil.WriteConflict(w, "the organization owner cannot be removed")
		return
	}

	if err := h.service.RemoveMember(r.Context(), orgID, targetUserID); err != nil {
		if errors.Is(err, ErrNotFound) {
			httputil.WriteNotFoundError(w, "member not found")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}

	h.auditMember(r, principal, orgID, targetUserID, audit.EventTypeAdminMemberRemove, "member removed")
	httputil.WriteNoContent(w)
}

// UpdateMemberRoleRequest carries the new role
type UpdateMemberRoleRequest struct {
	Role permissions.Role `json:"role"`
}

// UpdateMemberRole changes a member's role
func (h *Handlers) UpdateMemberRole(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	targetUserID, ok := httputil.ParsePathInt64OrError(w, r, "user_id")
	if !ok {
		return
	}
	principal, ok := h.requireOrgAccess(w, r, orgID, permissions.CapManageMembers)
	if !ok {
		return
	}

	var req UpdateMemberRoleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !validRole(req.Role) {
		httputil.WriteValidationError(w, "role must be one of super_admin, manager, employee")
		return
	}

	// Only super admins and platform operators may hand out or demote
	// the super-admin role.
	target, err := h.service.GetMember(r.Context(), orgID, targetUserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			httputil.WriteNotFoundError(w, "member not found")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}
	touchesSuperAdmin := req.Role == permissions.RoleSuperAdmin || target.Role == permissions.RoleSuperAdmin
	if touchesSuperAdmin && principal.Role != permissions.RoleSuperAdmin && !principal.IsPlatformOperator {
		httputil.WriteForbidden(w, "only a super admin can change super admin roles")
		return
	}

	if err := h.service.UpdateMemberRole(r.Context(), orgID, targetUserID, req.Role); err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	h.auditMember(r, principal, orgID, targetUserID, audit.EventTypeAdminMemberRoleChange, "member role changed to "+string(req.Role))
	httputil.WriteNoContent(w)
}

// CreateInvitation invites someone by email
func (h *Handlers) CreateInvitation(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	principal, ok := h.requireOrgAccess(w, r, orgID, permissions.CapManageMembers)
	if !ok {
		return
	}

	var req InviteMemberRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Email, "email") {
		return
	}
	if !validRole(req.Role) || req.Role == permissions.RoleSuperAdmin {
		httputil.WriteValidationError(w, "role must be manager or employee")
		return
	}

	if err := h.service.CheckMemberQuota(r.Context(), orgID); err != nil {
		if IsQuotaExceeded(err) {
			httputil.WriteConflict(w, err.Error())
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}

	invitation := &OrgInvitation{
		OrgID:     orgID,
		Email:     strings.ToLower(strings.TrimSpace(req.Email)),
		Role:      req.Role,
		InvitedBy: principal.UserID,
	}
	if err := h.service.CreateInvitation(r.Context(), invitation); err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteCreated(w, invitation)
}

// ListInvitations lists pending invitations
func (h *Handlers) ListInvitations(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	if _, ok := h.requireOrgAccess(w, r, orgID, permissions.CapManageMembers); !ok {
		return
	}

	invitations, err := h.service.ListInvitations(r.Context(), orgID)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	// Tokens are secrets; listing shows metadata only.
	for _, inv := range invitations {
		inv.Token = ""
	}
	httputil.WriteSuccess(w, invitations)
}

// RevokeInvitation deletes a pending invitation
func (h *Handlers) RevokeInvitation(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	invitationID, ok := httputil.ParsePathInt64OrError(w, r, "invitation_id")
	if !ok {
		return
	}
	if _, ok := h.requireOrgAccess(w, r, orgID, permissions.CapManageMembers); !ok {
		return
	}

	if err := h.service.RevokeInvitation(r.Context(), invitationID); err != nil {
		if errors.Is(err, ErrNotFound) {
			httputil.WriteNotFoundError(w, "invitation not found")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// AcceptInvitationRequest is the acceptance payload. The email must
// match the invitation; a full name provisions the account when no
// user exists yet.
type AcceptInvitationRequest struct {
	Email    string `json:"email"`
	FullName string `json:"full_name,omitempty"`
}

// AcceptInvitation redeems an invitation token, provisioning the user
// account when needed. This endpoint is reachable without a session:
// the token itself is the credential.
func (h *Handlers) AcceptInvitation(w http.ResponseWriter, r *http.Request) {
	token, ok := httputil.ParsePathStringOrError(w, r, "token")
	if !ok {
		return
	}

	var req AcceptInvitationRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Email, "email") {
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))

	invitation, err := h.service.GetInvitation(r.Context(), token)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			httputil.WriteNotFoundError(w, "invitation not found")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}
	if invitation.Email != email {
		httputil.WriteForbidden(w, "invitation was issued to a different email address")
		return
	}

	user, err := h.users.GetUserByEmail(r.Context(), email)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	if user == nil {
		user = &auth.User{Email: email, FullName: req.FullName, IsActive: true}
		if err := h.users.CreateUser(r.Context(), user); err != nil {
			httputil.WriteInternalError(w, err)
			return
		}
	}

	accepted, err := h.service.AcceptInvitation(r.Context(), token, user.ID)
	if err != nil {
		httputil.WriteConflict(w, err.Error())
		return
	}

	event := audit.NewEvent(audit.EventTypeAdminMemberAdd, audit.EventStatusSuccess)
	event.ActorUserID = &user.ID
	event.OrganizationID = &accepted.OrgID
	event.ResourceType = audit.ResourceTypeUser
	event.ResourceID = strconv.FormatInt(user.ID, 10)
	event.Message = "invitation accepted"
	_ = h.auditLogger.Log(r.Context(), event)

	httputil.WriteSuccess(w, accepted)
}

// GetUsage returns the current usage period
func (h *Handlers) GetUsage(w http.ResponseWriter, r *http.Request) {
	orgID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	if _, ok := h.requireOrgAccess(w, r, orgID, permissions.CapViewBilling); !ok {
		return
	}

	usage, err := h.service.GetUsage(r.Context(), orgID)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, usage)
}

func (h *Handlers) auditMember(r *http.Request, actor *permissions.Principal, orgID, targetUserID int64, eventType audit.EventType, message string) {
	event := audit.NewEvent(eventType, audit.EventStatusSuccess)
	event.ActorUserID = &actor.UserID
	event.OrganizationID = &orgID
	event.ResourceType = audit.ResourceTypeUser
	event.ResourceID = strconv.FormatInt(targetUserID, 10)
	event.Message = message
	_ = h.auditLogger.Log(r.Context(), event)
}

func validRole(role permissions.Role) bool {
	switch role {
	case permissions.RoleSuperAdmin, permissions.RoleManager, permissions.RoleEmployee:
		return true
	}
	return false
}
