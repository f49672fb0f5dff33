package permissions

import (
	"context"
	"errors"
	"time"
)

// Role is an organization-level role
type Role string

const (
	// RoleSuperAdmin has every capability; its permissions are not overridable
	RoleSuperAdmin Role = "super_admin"
	// RoleManager runs a team: campaigns, pipeline, member administration
	RoleManager Role = "manager"
	// RoleEmployee is the default agent role
	RoleEmployee Role = "employee"
)

// Capability keys. The authoritative list lives in the feature catalog;
// these constants exist for the keys the code itself checks.
const (
	CapViewLeads         = "view_leads"
	CapEditLeads         = "edit_leads"
	CapDeleteLeads       = "delete_leads"
	CapAssignLeads       = "assign_leads"
	CapViewPipeline      = "view_pipeline"
	CapMoveDeals         = "move_deals"
	CapEditDealValue     = "edit_deal_value"
	CapManageCampaigns   = "manage_campaigns"
	CapStartCalls        = "start_calls"
	CapViewRecordings    = "view_recordings"
	CapViewBilling       = "view_billing"
	CapManageBilling     = "manage_billing"
	CapManageMembers     = "manage_members"
	CapManagePermissions = "manage_permissions"
	CapExportData        = "export_data"
)

// Capability is a named, checkable permission unit
type Capability struct {
	Key      string `json:"key"`
	Category string `json:"category"`
	Label    string `json:"label"`
	IsActive bool   `json:"is_active"`
}

// RoleGrant is the organization-and-role-scoped default for a capability.
// At most one row exists per (organization, role, capability) tuple.
type RoleGrant struct {
	OrganizationID int64     `json:"organization_id"`
	Role           Role      `json:"role"`
	CapabilityKey  string    `json:"capability_key"`
	Enabled        bool      `json:"enabled"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// UserOverride is a user-scoped exception that supersedes the role
// default for one capability. At most one row exists per
// (user, capability) pair, and rows exist only for capabilities that
// differ from the user's role default.
type UserOverride struct {
	OrganizationID int64     `json:"organization_id"`
	UserID         int64     `json:"user_id"`
	CapabilityKey  string    `json:"capability_key"`
	Enabled        bool      `json:"enabled"`
	GrantedBy      int64     `json:"granted_by"`
	GrantedAt      time.Time `json:"granted_at"`
}

// Principal is a user acting within exactly one organization with
// exactly one role. IsPlatformOperator is orthogonal to the role model
// and grants cross-organization bypass.
type Principal struct {
	UserID             int64 `json:"user_id"`
	OrganizationID     int64 `json:"organization_id"`
	Role               Role  `json:"role"`
	IsPlatformOperator bool  `json:"is_platform_operator"`
}

// CapabilitySet is a deduplicated set of capability keys
type CapabilitySet map[string]struct{}

// NewCapabilitySet builds a set from keys
func NewCapabilitySet(keys ...string) CapabilitySet {
	s := make(CapabilitySet, len(keys))
	for _, k := range keys {
		s[k] = struct{}{}
	}
	return s
}

// Has reports set membership
func (s CapabilitySet) Has(key string) bool {
	_, ok := s[key]
	return ok
}

// Keys returns the members in unspecified order
func (s CapabilitySet) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	return keys
}

var (
	// ErrForbidden marks an invalid override target: a cross-organization
	// edit by a non-operator, or an attempt to override a super admin.
	// Distinct from a plain capability denial so the UI can show a
	// specific message.
	ErrForbidden = errors.New("forbidden")

	// ErrPermissionDenied marks a caller that lacks the capability
	// gating the requested operation. Handlers translate this into the
	// 200/success:false envelope, never an HTTP error status.
	ErrPermissionDenied = errors.New("permission denied")
)

// Repository is the read-side persistence contract for the resolver
type Repository interface {
	ListActiveCapabilities(ctx context.Context) ([]Capability, error)
	ListRoleGrants(ctx context.Context, orgID int64, role Role) ([]RoleGrant, error)
	ListUserOverrides(ctx context.Context, userID int64) ([]UserOverride, error)
}

// TrustedRepository extends Repository with the administrative write
// path. It is injected only into the resolver; request handlers are
// never handed this interface, which enforces the trust boundary at the
// type level.
type TrustedRepository interface {
	Repository
	ReplaceUserOverrides(ctx context.Context, userID int64, rows []UserOverride) error
}

// PrincipalDirectory resolves a user ID to its principal. Implemented
// by the membership store; a missing user returns (nil, nil) so the
// resolver can fail closed without leaking existence.
type PrincipalDirectory interface {
	LookupPrincipal(ctx context.Context, userID int64) (*Principal, error)
}
