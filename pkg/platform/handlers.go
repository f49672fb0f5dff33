// Package platform is the operator-only control plane: organization
// suspension, operator flag management, and cross-tenant usage reads.
// Every route requires a platform operator; tenant roles never reach
// these endpoints.
package platform

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/doorstep-crm/doorstep/pkg/audit"
	"github.com/doorstep-crm/doorstep/pkg/auth"
	"github.com/doorstep-crm/doorstep/pkg/httputil"
	"github.com/doorstep-crm/doorstep/pkg/orgs"
	"github.com/doorstep-crm/doorstep/pkg/permissions"
)

// OrgControl is the slice of the orgs service the control plane uses
type OrgControl interface {
	ListAllOrganizations(ctx context.Context) ([]*orgs.Organization, error)
	GetOrganization(ctx context.Context, id int64) (*orgs.Organization, error)
	SetStatus(ctx context.Context, id int64, status orgs.OrgStatus) error
	ListMembers(ctx context.Context, orgID int64) ([]*orgs.OrgMember, error)
	GetUsage(ctx context.Context, orgID int64) (*orgs.OrgUsage, error)
	GetQuotas(ctx context.Context, orgID int64) (*orgs.OrgQuotas, error)
}

// SessionRevoker invalidates a user's live sessions
type SessionRevoker interface {
	RevokeUserSessions(ctx context.Context, userID int64) error
}

// OperatorStore flips the platform operator flag on user accounts
type OperatorStore interface {
	GetUserByID(ctx context.Context, id int64) (*auth.User, error)
	SetPlatformOperator(ctx context.Context, userID int64, operator bool) error
}

// UsageSummary is the cross-tenant view of one organization's
// consumption against its quotas
type UsageSummary struct {
	Organization *orgs.Organization `json:"organization"`
	Usage        *orgs.OrgUsage     `json:"usage"`
	Quotas       *orgs.OrgQuotas    `json:"quotas"`
	MemberCount  int                `json:"member_count"`
}

// SetOperatorRequest grants or revokes the platform operator flag
type SetOperatorRequest struct {
	Operator bool `json:"operator"`
}

// Handlers provides the platform control plane endpoints
type Handlers struct {
	orgControl  OrgControl
	sessions    SessionRevoker
	operators   OperatorStore
	auditLogger audit.Logger
}

// NewHandlers creates platform handlers
func NewHandlers(orgControl OrgControl, sessions SessionRevoker, operators OperatorStore, auditLogger audit.Logger) *Handlers {
	return &Handlers{orgControl: orgControl, sessions: sessions, operators: operators, auditLogger: auditLogger}
}

// RegisterRoutes registers platform routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/platform/orgs", h.ListOrganizations).Methods("GET")
	router.HandleFunc("/platform/orgs/{id}/usage", h.GetUsageSummary).Methods("GET")
	router.HandleFunc("/platform/orgs/{id}/suspend", h.SuspendOrganization).Methods("POST")
	router.HandleFunc("/platform/orgs/{id}/reactivate", h.ReactivateOrganization).Methods("POST")
	router.HandleFunc("/platform/operators/{user_id}", h.SetOperator).Methods("PUT")
}

// authorize admits platform operators only. There is no capability
// check here: operator access is a user flag, not a tenant permission.
func (h *Handlers) authorize(w http.ResponseWriter, r *http.Request) (*permissions.Principal, bool) {
	principal := permissions.PrincipalFromRequest(r)
	if principal == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return nil, false
	}
	if !principal.IsPlatformOperator {
		httputil.WriteForbidden(w, "platform operator access required")
		return nil, false
	}
	return principal, true
}

// ListOrganizations returns every tenant regardless of status
func (h *Handlers) ListOrganizations(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authorize(w, r); !ok {
		return
	}

	organizations, err := h.orgControl.ListAllOrganizations(r.Context())
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, organizations)
}

// GetUsageSummary returns one tenant's usage, quotas, and headcount
func (h *Handlers) GetUsageSummary(w http.ResponseWriter, r *http.Request) {
	if _, ok := h.authorize(w, r); !ok {
		return
	}
	orgID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	org, err := h.orgControl.GetOrganization(r.Context(), orgID)
	if errors.Is(err, orgs.ErrNotFound) {
		httputil.WriteNotFoundError(w, "organization not found")
		return
	}
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	usage, err := h.orgControl.GetUsage(r.Context(), orgID)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	quotas, err := h.orgControl.GetQuotas(r.Context(), orgID)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	members, err := h.orgControl.ListMembers(r.Context(), orgID)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, &UsageSummary{
		Organization: org,
		Usage:        usage,
		Quotas:       quotas,
		MemberCount:  len(members),
	})
}

// SuspendOrganization locks a tenant out: the status flips to
// suspended and every member's sessions are revoked so access ends
// immediately, not at token expiry.
func (h *Handlers) SuspendOrganization(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.authorize(w, r)
	if !ok {
		return
	}
	orgID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	org, err := h.orgControl.GetOrganization(r.Context(), orgID)
	if errors.Is(err, orgs.ErrNotFound) {
		httputil.WriteNotFoundError(w, "organization not found")
		return
	}
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	if org.Status == orgs.OrgStatusSuspended {
		httputil.WriteConflict(w, "organization is already suspended")
		return
	}

	if err := h.orgControl.SetStatus(r.Context(), orgID, orgs.OrgStatusSuspended); err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	members, err := h.orgControl.ListMembers(r.Context(), orgID)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	for _, member := range members {
		if err := h.sessions.RevokeUserSessions(r.Context(), member.UserID); err != nil {
			httputil.WriteInternalError(w, err)
			return
		}
	}

	h.auditOrg(r, principal, orgID, audit.EventTypePlatformOrgSuspend,
		fmt.Sprintf("organization suspended, %d member sessions revoked", len(members)))
	httputil.WriteNoContent(w)
}

// ReactivateOrganization restores a suspended tenant
func (h *Handlers) ReactivateOrganization(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.authorize(w, r)
	if !ok {
		return
	}
	orgID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	org, err := h.orgControl.GetOrganization(r.Context(), orgID)
	if errors.Is(err, orgs.ErrNotFound) {
		httputil.WriteNotFoundError(w, "organization not found")
		return
	}
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	if org.Status != orgs.OrgStatusSuspended {
		httputil.WriteConflict(w, "organization is not suspended")
		return
	}

	if err := h.orgControl.SetStatus(r.Context(), orgID, orgs.OrgStatusActive); err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	h.auditOrg(r, principal, orgID, audit.EventTypePlatformOrgReactivate, "organization reactivated")
	httputil.WriteNoContent(w)
}

// SetOperator grants or revokes the platform operator flag. Revocation
// also revokes the user's sessions so the elevated access dies with
// the flag.
func (h *Handlers) SetOperator(w http.ResponseWriter, r *http.Request) {
	principal, ok := h.authorize(w, r)
	if !ok {
		return
	}
	userID, ok := httputil.ParsePathInt64OrError(w, r, "user_id")
	if !ok {
		return
	}

	var req SetOperatorRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if !req.Operator && userID == principal.UserID {
		httputil.WriteConflict(w, "operators cannot revoke their own access")
		return
	}

	user, err := h.operators.GetUserByID(r.Context(), userID)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	if user == nil {
		httputil.WriteNotFoundError(w, "user not found")
		return
	}

	if err := h.operators.SetPlatformOperator(r.Context(), user.ID, req.Operator); err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	if !req.Operator {
		if err := h.sessions.RevokeUserSessions(r.Context(), user.ID); err != nil {
			httputil.WriteInternalError(w, err)
			return
		}
	}

	event := audit.NewEvent(audit.EventTypePlatformOperatorGrant, audit.EventStatusSuccess)
	event.ActorUserID = &principal.UserID
	event.ResourceType = audit.ResourceTypeUser
	event.ResourceID = strconv.FormatInt(user.ID, 10)
	if req.Operator {
		event.Message = "platform operator access granted"
	} else {
		event.Message = "platform operator access revoked"
	}
	_ = h.auditLogger.Log(r.Context(), event)

	httputil.WriteNoContent(w)
}

func (h *Handlers) auditOrg(r *http.Request, principal *permissions.Principal, orgID int64, eventType audit.EventType, message string) {
	event := audit.NewEvent(eventType, audit.EventStatusSuccess)
	event.ActorUserID = &principal.UserID
	event.OrganizationID = &orgID
	event.ResourceType = audit.ResourceTypeOrganization
	event.ResourceID = strconv.FormatInt(orgID, 10)
	event.Message = message
	_ = h.auditLogger.Log(r.Context(), event)
}
