// Package audit records security-relevant events: authentication,
// permission changes, platform-operator actions, and billing mutations.
package audit

import "time"

// EventType represents the category of audit event
type EventType string

const (
	// Authentication events
	EventTypeAuthLogin       EventType = "auth.login"
	EventTypeAuthLogout      EventType = "auth.logout"
	EventTypeAuthLoginFailed EventType = "auth.login_failed"

	// Authorization events
	EventTypeAuthzOverridesUpdate EventType = "authz.overrides_update"
	EventTypeAuthzRoleGrantUpdate EventType = "authz.role_grant_update"
	EventTypeAuthzAccessDenied    EventType = "authz.access_denied"

	// Data mutation events
	EventTypeLeadCreate EventType = "data.lead_create"
	EventTypeLeadUpdate EventType = "data.lead_update"
	EventTypeLeadDelete EventType = "data.lead_delete"
	EventTypeDealUpdate EventType = "data.deal_update"

	// Campaign events
	EventTypeCampaignCreate EventType = "campaign.create"
	EventTypeCampaignUpdate EventType = "campaign.update"
	EventTypeCallDispatched EventType = "campaign.call_dispatched"

	// Billing events
	EventTypeInvoiceGenerated    EventType = "billing.invoice_generated"
	EventTypeSubscriptionChanged EventType = "billing.subscription_changed"

	// Platform admin events
	EventTypePlatformOrgSuspend    EventType = "platform.org_suspend"
	EventTypePlatformOrgReactivate EventType = "platform.org_reactivate"
	EventTypePlatformOperatorGrant EventType = "platform.operator_grant"
	EventTypeAdminMemberAdd        EventType = "admin.member_add"
	EventTypeAdminMemberRemove     EventType = "admin.member_remove"
	EventTypeAdminMemberRoleChange EventType = "admin.member_role_change"
)

// EventStatus represents the outcome of an audited action
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// ResourceType identifies the kind of resource acted upon
type ResourceType string

const (
	ResourceTypeUser         ResourceType = "user"
	ResourceTypeSession      ResourceType = "session"
	ResourceTypeOrganization ResourceType = "organization"
	ResourceTypeLead         ResourceType = "lead"
	ResourceTypeDeal         ResourceType = "deal"
	ResourceTypeCampaign     ResourceType = "campaign"
	ResourceTypeInvoice      ResourceType = "invoice"
	ResourceTypePermissions  ResourceType = "permissions"
)

// Event is one audit record
type Event struct {
	ID             int64                  `json:"id,omitempty"`
	Timestamp      time.Time              `json:"timestamp"`
	EventType      EventType              `json:"event_type"`
	Status         EventStatus            `json:"status"`
	ActorUserID    *int64                 `json:"actor_user_id,omitempty"`
	OrganizationID *int64                 `json:"organization_id,omitempty"`
	ResourceType   ResourceType           `json:"resource_type,omitempty"`
	ResourceID     string                 `json:"resource_id,omitempty"`
	IPAddress      string                 `json:"ip_address,omitempty"`
	RequestID      string                 `json:"request_id,omitempty"`
	Message        string                 `json:"message,omitempty"`
	ErrorMessage   string                 `json:"error_message,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}
