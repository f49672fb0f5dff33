package leads

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/doorstep-crm/doorstep/pkg/audit"
	"github.com/doorstep-crm/doorstep/pkg/httputil"
	"github.com/doorstep-crm/doorstep/pkg/orgs"
	"github.com/doorstep-crm/doorstep/pkg/permissions"
)

// Handlers provides lead endpoints
type Handlers struct {
	service     *Service
	resolver    *permissions.Resolver
	auditLogger audit.Logger
}

// NewHandlers creates lead handlers
func NewHandlers(service *Service, resolver *permissions.Resolver, auditLogger audit.Logger) *Handlers {
	return &Handlers{service: service, resolver: resolver, auditLogger: auditLogger}
}

// RegisterRoutes registers lead routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/orgs/{id}/leads", h.CreateLead).Methods("POST")
	router.HandleFunc("/orgs/{id}/leads", h.ListLeads).Methods("GET")
	router.HandleFunc("/orgs/{id}/leads/{lead_id}", h.GetLead).Methods("GET")
	router.HandleFunc("/orgs/{id}/leads/{lead_id}", h.UpdateLead).Methods("PATCH")
	router.HandleFunc("/orgs/{id}/leads/{lead_id}", h.DeleteLead).Methods("DELETE")
	router.HandleFunc("/orgs/{id}/leads/{lead_id}/assign", h.AssignLead).Methods("PUT")
	router.HandleFunc("/orgs/{id}/leads/{lead_id}/notes", h.AddNote).Methods("POST")
	router.HandleFunc("/orgs/{id}/leads/{lead_id}/notes", h.ListNotes).Methods("GET")
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

// CreateLead creates a lead
func (h *Handlers) CreateLead(w http.ResponseWriter, r *http.Request) {
	principal, orgID, ok := h.authorize(w, r, permissions.CapEditLeads)
	if !ok {
		return
	}

	var req CreateLeadRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.FirstName, "first_name") {
		return
	}

	lead := &Lead{
		OrganizationID:  orgID,
		FirstName:       req.FirstName,
		LastName:        req.LastName,
		Phone:           req.Phone,
		Email:           req.Email,
		Source:          req.Source,
		AssignedAgentID: req.AssignedAgentID,
		Tags:            req.Tags,
		CreatedBy:       principal.UserID,
	}
	if err := h.service.Create(r.Context(), lead); err != nil {
		if orgs.IsQuotaExceeded(err) {
			httputil.WriteConflict(w, err.Error())
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}

	h.auditLead(r, principal, lead.ID, audit.EventTypeLeadCreate, "lead created")
	httputil.WriteCreated(w, lead)
}

// ListLeads lists leads with filters
func (h *Handlers) ListLeads(w http.ResponseWriter, r *http.Request) {
	_, orgID, ok := h.authorize(w, r, permissions.CapViewLeads)
	if !ok {
		return
	}

	limit, err := httputil.ParseQueryInt(r, "limit", 50)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	offset, err := httputil.ParseQueryInt(r, "offset", 0)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	filter := ListFilter{
		Status: LeadStatus(httputil.ParseQueryString(r, "status", "")),
		Source: LeadSource(httputil.ParseQueryString(r, "source", "")),
		Search: httputil.ParseQueryString(r, "search", ""),
		Limit:  limit,
		Offset: offset,
	}
	if agent := httputil.ParseQueryString(r, "assigned_to", ""); agent != "" {
		agentID, err := strconv.ParseInt(agent, 10, 64)
		if err != nil {
			httputil.WriteBadRequest(w, "invalid assigned_to")
			return
		}
		filter.AssignedAgentID = &agentID
	}

	result, err := h.service.List(r.Context(), orgID, filter)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	if result == nil {
		result = []*Lead{}
	}
	httputil.WriteSuccess(w, result)
}

// GetLead returns one lead
func (h *Handlers) GetLead(w http.ResponseWriter, r *http.Request) {
	_, orgID, ok := h.authorize(w, r, permissions.CapViewLeads)
	if !ok {
		return
	}
	leadID, ok := httputil.ParsePathInt64OrError(w, r, "lead_id")
	if !ok {
		return
	}

	lead, err := h.service.Get(r.Context(), orgID, leadID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			httputil.WriteNotFoundError(w, "lead not found")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, lead)
}

// UpdateLead applies a partial update
func (h *Handlers) UpdateLead(w http.ResponseWriter, r *http.Request) {
	principal, orgID, ok := h.authorize(w, r, permissions.CapEditLeads)
	if !ok {
		return
	}
	leadID, ok := httputil.ParsePathInt64OrError(w, r, "lead_id")
	if !ok {
		return
	}

	var req UpdateLeadRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Status != nil && !ValidStatus(*req.Status) {
		httputil.WriteValidationError(w, "invalid lead status")
		return
	}

	if err := h.service.Update(r.Context(), orgID, leadID, &req); err != nil {
		if errors.Is(err, ErrNotFound) {
			httputil.WriteNotFoundError(w, "lead not found")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}

	h.auditLead(r, principal, leadID, audit.EventTypeLeadUpdate, "lead updated")
	httputil.WriteNoContent(w)
}

// DeleteLead removes a lead
func (h *Handlers) DeleteLead(w http.ResponseWriter, r *http.Request) {
	principal, orgID, ok := h.authorize(w, r, permissions.CapDeleteLeads)
	if !ok {
		return
	}
	leadID, ok := httputil.ParsePathInt64OrError(w, r, "lead_id")
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), orgID, leadID); err != nil {
		if errors.Is(err, ErrNotFound) {
			httputil.WriteNotFoundError(w, "lead not found")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}

	h.auditLead(r, principal, leadID, audit.EventTypeLeadDelete, "lead deleted")
	httputil.WriteNoContent(w)
}

// AssignLeadRequest sets the assigned agent; null unassigns
type AssignLeadRequest struct {
	AgentID *int64 `json:"agent_id"`
}

// AssignLead assigns or unassigns a lead
func (h *Handlers) AssignLead(w http.ResponseWriter, r *http.Request) {
	principal, orgID, ok := h.authorize(w, r, permissions.CapAssignLeads)
	if !ok {
		return
	}
	leadID, ok := httputil.ParsePathInt64OrError(w, r, "lead_id")
	if !ok {
		return
	}

	var req AssignLeadRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if err := h.service.Assign(r.Context(), orgID, leadID, req.AgentID); err != nil {
		if errors.Is(err, ErrNotFound) {
			httputil.WriteNotFoundError(w, "lead not found")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}

	h.auditLead(r, principal, leadID, audit.EventTypeLeadUpdate, "lead assignment changed")
	httputil.WriteNoContent(w)
}

// AddNoteRequest is the note payload
type AddNoteRequest struct {
	Body string `json:"body"`
}

// AddNote attaches a note to a lead
func (h *Handlers) AddNote(w http.ResponseWriter, r *http.Request) {
	principal, orgID, ok := h.authorize(w, r, permissions.CapEditLeads)
	if !ok {
		return
	}
	leadID, ok := httputil.ParsePathInt64OrError(w, r, "lead_id")
	if !ok {
		return
	}

	var req AddNoteRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Body, "body") {
		return
	}

	note := &Note{LeadID: leadID, AuthorID: principal.UserID, Body: req.Body}
	if err := h.service.AddNote(r.Context(), orgID, note); err != nil {
		if errors.Is(err, ErrNotFound) {
			httputil.WriteNotFoundError(w, "lead not found")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteCreated(w, note)
}

// ListNotes lists a lead's notes
func (h *Handlers) ListNotes(w http.ResponseWriter, r *http.Request) {
	_, orgID, ok := h.authorize(w, r, permissions.CapViewLeads)
	if !ok {
		return
	}
	leadID, ok := httputil.ParsePathInt64OrError(w, r, "lead_id")
	if !ok {
		return
	}

	notes, err := h.service.ListNotes(r.Context(), orgID, leadID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			httputil.WriteNotFoundError(w, "lead not found")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}
	if notes == nil {
		notes = []*Note{}
	}
	httputil.WriteSuccess(w, notes)
}

func (h *Handlers) auditLead(r *http.Request, actor *permissions.Principal, leadID int64, eventType audit.EventType, message string) {
	event := audit.NewEvent(eventType, audit.EventStatusSuccess)
	event.ActorUserID = &actor.UserID
	event.OrganizationID = &actor.OrganizationID
	event.ResourceType = audit.ResourceTypeLead
	event.ResourceID = strconv.FormatInt(leadID, 10)
	event.Message = message
	_ = h.auditLogger.Log(r.Context(), event)
}
