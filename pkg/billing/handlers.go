package billing

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/doorstep-crm/doorstep/pkg/audit"
	"github.com/doorstep-crm/doorstep/pkg/httputil"
	"github.com/doorstep-crm/doorstep/pkg/orgs"
	"github.com/doorstep-crm/doorstep/pkg/permissions"
)

// PlanDirectory applies plan changes to the organization record so
// quotas track the subscribed tier
type PlanDirectory interface {
	SetPlanTier(ctx context.Context, orgID int64, tier orgs.PlanTier) error
}

// Handlers provides billing endpoints
type Handlers struct {
	service     *Service
	planDir     PlanDirectory
	resolver    *permissions.Resolver
	auditLogger audit.Logger
}

// NewHandlers creates billing handlers
func NewHandlers(service *Service, planDir PlanDirectory, resolver *permissions.Resolver, auditLogger audit.Logger) *Handlers {
	return &Handlers{service: service, planDir: planDir, resolver: resolver, auditLogger: auditLogger}
}

// RegisterRoutes registers billing routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/orgs/{id}/subscription", h.GetSubscription).Methods("GET")
	router.HandleFunc("/orgs/{id}/subscription/plan", h.ChangePlan).Methods("PUT")
	router.HandleFunc("/orgs/{id}/invoices", h.ListInvoices).Methods("GET")
	router.HandleFunc("/orgs/{id}/invoices/{invoice_id}", h.GetInvoice).Methods("GET")
	router.HandleFunc("/orgs/{id}/payment-methods", h.AddPaymentMethod).Methods("POST")
	router.HandleFunc("/orgs/{id}/payment-methods", h.ListPaymentMethods).Methods("GET")
	router.HandleFunc("/orgs/{id}/payment-methods/{method_id}/default", h.SetDefaultPaymentMethod).Methods("PUT")
	router.HandleFunc("/orgs/{id}/payment-methods/{method_id}", h.RemovePaymentMethod).Methods("DELETE")
}

func (h *Handlers) authorize(w http.ResponseWriter, r *http.Request, capability string) (*permissions.Principal, int64, bool) {
	principal := permissions.PrincipalFromRequest(r)
	if principal == nil {
		httputil.WriteUnauthorized(w, "authentication required")
		return nil, 0, false
	}
	orgID, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return nil, 0, false
	}
	if principal.OrganizationID != orgID && !principal.IsPlatformOperator {
		httputil.WriteForbidden(w, "organization mismatch")
		return nil, 0, false
	}

	allowed, err := h.resolver.HasCapability(r.Context(), *principal, capability)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return nil, 0, false
	}
	if !allowed {
		httputil.WriteDenied(w, "you do not have permission to perform this action")
		return nil, 0, false
	}
	return principal, orgID, true
}

// GetSubscription returns the organization's subscription
func (h *Handlers) GetSubscription(w http.ResponseWriter, r *http.Request) {
	_, orgID, ok := h.authorize(w, r, permissions.CapViewBilling)
	if !ok {
		return
	}

	sub, err := h.service.GetSubscription(r.Context(), orgID)
	if errors.Is(err, ErrNotFound) {
		httputil.WriteNotFoundError(w, "no subscription for this organization")
		return
	}
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, sub)
}

// ChangePlan moves the subscription to another tier and resets the
// organization's quotas to the tier defaults
func (h *Handlers) ChangePlan(w http.ResponseWriter, r *http.Request) {
	principal, orgID, ok := h.authorize(w, r, permissions.CapManageBilling)
	if !ok {
		return
	}

	var req ChangePlanRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	switch req.PlanTier {
	case orgs.PlanStarter, orgs.PlanGrowth, orgs.PlanScale:
	default:
		httputil.WriteValidationError(w, "plan_tier must be one of: starter, growth, scale")
		return
	}

	if err := h.service.ChangePlan(r.Context(), orgID, req.PlanTier); err != nil {
		if errors.Is(err, ErrNotFound) {
			httputil.WriteNotFoundError(w, "no subscription for this organization")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}
	if err := h.planDir.SetPlanTier(r.Context(), orgID, req.PlanTier); err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	event := audit.NewEvent(audit.EventTypeSubscriptionChanged, audit.EventStatusSuccess)
	event.OrganizationID = &orgID
	event.ActorUserID = &principal.UserID
	event.ResourceType = audit.ResourceTypeOrganization
	event.ResourceID = strconv.FormatInt(orgID, 10)
	event.Message = fmt.Sprintf("plan changed to %s", req.PlanTier)
	_ = h.auditLogger.Log(r.Context(), event)

	httputil.WriteNoContent(w)
}

// ListInvoices returns the organization's invoices, newest first
func (h *Handlers) ListInvoices(w http.ResponseWriter, r *http.Request) {
	_, orgID, ok := h.authorize(w, r, permissions.CapViewBilling)
	if !ok {
		return
	}

	invoices, err := h.service.ListInvoices(r.Context(), orgID)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, invoices)
}

// GetInvoice returns one invoice with its line items
func (h *Handlers) GetInvoice(w http.ResponseWriter, r *http.Request) {
	_, orgID, ok := h.authorize(w, r, permissions.CapViewBilling)
	if !ok {
		return
	}
	invoiceID, ok := httputil.ParsePathInt64OrError(w, r, "invoice_id")
	if !ok {
		return
	}

	invoice, err := h.service.GetInvoice(r.Context(), orgID, invoiceID)
	if errors.Is(err, ErrNotFound) {
		httputil.WriteNotFoundError(w, "invoice not found")
		return
	}
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, invoice)
}

// AddPaymentMethod stores a gateway-tokenized payment instrument
func (h *Handlers) AddPaymentMethod(w http.ResponseWriter, r *http.Request) {
	_, orgID, ok := h.authorize(w, r, permissions.CapManageBilling)
	if !ok {
		return
	}

	var req AddPaymentMethodRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Kind, "kind") {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Last4, "last4") {
		return
	}
	if !httputil.RequireNonEmpty(w, req.ExternalID, "external_id") {
		return
	}

	method := &PaymentMethod{
		OrganizationID: orgID,
		Kind:           req.Kind,
		Brand:          req.Brand,
		Last4:          req.Last4,
		ExpMonth:       req.ExpMonth,
		ExpYear:        req.ExpYear,
		ExternalID:     req.ExternalID,
	}
	if err := h.service.AddPaymentMethod(r.Context(), method); err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteCreated(w, method)
}

// ListPaymentMethods returns the organization's stored instruments
func (h *Handlers) ListPaymentMethods(w http.ResponseWriter, r *http.Request) {
	_, orgID, ok := h.authorize(w, r, permissions.CapViewBilling)
	if !ok {
		return
	}

	methods, err := h.service.ListPaymentMethods(r.Context(), orgID)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, methods)
}

// SetDefaultPaymentMethod picks the instrument future charges use
func (h *Handlers) SetDefaultPaymentMethod(w http.ResponseWriter, r *http.Request) {
	_, orgID, ok := h.authorize(w, r, permissions.CapManageBilling)
	if !ok {
		return
	}
	methodID, ok := httputil.ParsePathInt64OrError(w, r, "method_id")
	if !ok {
		return
	}

	err := h.service.SetDefaultPaymentMethod(r.Context(), orgID, methodID)
	if errors.Is(err, ErrNotFound) {
		httputil.WriteNotFoundError(w, "payment method not found")
		return
	}
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// RemovePaymentMethod deletes a stored instrument. The default method
// can only be removed when it is the last one left.
func (h *Handlers) RemovePaymentMethod(w http.ResponseWriter, r *http.Request) {
	_, orgID, ok := h.authorize(w, r, permissions.CapManageBilling)
	if !ok {
		return
	}
	methodID, ok := httputil.ParsePathInt64OrError(w, r, "method_id")
	if !ok {
		return
	}

	err := h.service.RemovePaymentMethod(r.Context(), orgID, methodID)
	if errors.Is(err, ErrNotFound) {
		httputil.WriteNotFoundError(w, "payment method not found")
		return
	}
	if errors.Is(err, ErrDefaultMethodInUse) {
		httputil.WriteConflict(w, err.Error())
		return
	}
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}
