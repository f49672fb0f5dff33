package campaigns

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/doorstep-crm/doorstep/pkg/audit"
	"github.com/doorstep-crm/doorstep/pkg/httputil"
	"github.com/doorstep-crm/doorstep/pkg/orgs"
	"github.com/doorstep-crm/doorstep/pkg/permissions"
	"github.com/doorstep-crm/doorstep/pkg/storage"
)

// Handlers provides campaign endpoints
type Handlers struct {
	service     *Service
	resolver    *permissions.Resolver
	blobs       storage.BlobStore
	auditLogger audit.Logger
}

// NewHandlers creates campaign handlers
func NewHandlers(service *Service, resolver *permissions.Resolver, blobs storage.BlobStore, auditLogger audit.Logger) *Handlers {
	return &Handlers{service: service, resolver: resolver, blobs: blobs, auditLogger: auditLogger}
}

// RegisterRoutes registers campaign routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/orgs/{id}/campaigns", h.CreateCampaign).Methods("POST")
	router.HandleFunc("/orgs/{id}/campaigns", h.ListCampaigns).Methods("GET")
	router.HandleFunc("/orgs/{id}/campaigns/{campaign_id}", h.GetCampaign).Methods("GET")
	router.HandleFunc("/orgs/{id}/campaigns/{campaign_id}", h.UpdateCampaign).Methods("PATCH")
	router.HandleFunc("/orgs/{id}/campaigns/{campaign_id}/activate", h.ActivateCampaign).Methods("POST")
	router.HandleFunc("/orgs/{id}/campaigns/{campaign_id}/pause", h.PauseCampaign).Methods("POST")
	router.HandleFunc("/orgs/{id}/campaigns/{campaign_id}/complete", h.CompleteCampaign).Methods("POST")
	router.HandleFunc("/orgs/{id}/campaigns/{campaign_id}/agents", h.AddAgent).Methods("POST")
	router.HandleFunc("/orgs/{id}/campaigns/{campaign_id}/agents", h.ListAgents).Methods("GET")
	router.HandleFunc("/orgs/{id}/campaigns/{campaign_id}/agents/{agent_id}", h.RemoveAgent).Methods("DELETE")
	router.HandleFunc("/orgs/{id}/campaigns/{campaign_id}/calls", h.ListCalls).Methods("GET")
	router.HandleFunc("/orgs/{id}/calls/{call_id}/recording", h.GetRecording).Methods("GET")
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

// CreateCampaign creates a draft campaign
func (h *Handlers) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	principal, orgID, ok := h.authorize(w, r, permissions.CapManageCampaigns)
	if !ok {
		return
	}

	var req CreateCampaignRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Name, "name") {
		return
	}
	if req.ScheduleStartHour < 0 || req.ScheduleEndHour > 24 || req.ScheduleStartHour >= req.ScheduleEndHour {
		if req.ScheduleStartHour != 0 || req.ScheduleEndHour != 0 {
			httputil.WriteValidationError(w, "schedule window must satisfy 0 <= start < end <= 24")
			return
		}
	}

	campaign := &Campaign{
		OrganizationID:    orgID,
		Name:              req.Name,
		Script:            req.Script,
		TargetFilter:      req.TargetFilter,
		ScheduleStartHour: req.ScheduleStartHour,
		ScheduleEndHour:   req.ScheduleEndHour,
		MaxAttemptsPerRun: req.MaxAttemptsPerRun,
		CreatedBy:         principal.UserID,
	}
	if err := h.service.Create(r.Context(), campaign); err != nil {
		httputil.WriteInternalError(w, err)
		return
	}

	h.auditCampaign(r, principal, campaign.ID, audit.EventTypeCampaignCreate, "campaign created")
	httputil.WriteCreated(w, campaign)
}

// ListCampaigns lists an organization's campaigns
func (h *Handlers) ListCampaigns(w http.ResponseWriter, r *http.Request) {
	_, orgID, ok := h.authorize(w, r, permissions.CapManageCampaigns)
	if !ok {
		return
	}

	campaigns, err := h.service.List(r.Context(), orgID)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	if campaigns == nil {
		campaigns = []*Campaign{}
	}
	httputil.WriteSuccess(w, campaigns)
}

// GetCampaign returns one campaign
func (h *Handlers) GetCampaign(w http.ResponseWriter, r *http.Request) {
	_, orgID, ok := h.authorize(w, r, permissions.CapManageCampaigns)
	if !ok {
		return
	}
	campaignID, ok := httputil.ParsePathInt64OrError(w, r, "campaign_id")
	if !ok {
		return
	}

	campaign, err := h.service.Get(r.Context(), orgID, campaignID)
	if err != nil {
		h.writeCampaignError(w, err)
		return
	}
	httputil.WriteSuccess(w, campaign)
}

// UpdateCampaign applies a partial update to a draft or paused campaign
func (h *Handlers) UpdateCampaign(w http.ResponseWriter, r *http.Request) {
	principal, orgID, ok := h.authorize(w, r, permissions.CapManageCampaigns)
	if !ok {
		return
	}
	campaignID, ok := httputil.ParsePathInt64OrError(w, r, "campaign_id")
	if !ok {
		return
	}

	var req UpdateCampaignRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if err := h.service.Update(r.Context(), orgID, campaignID, &req); err != nil {
		h.writeCampaignError(w, err)
		return
	}

	h.auditCampaign(r, principal, campaignID, audit.EventTypeCampaignUpdate, "campaign updated")
	httputil.WriteNoContent(w)
}

// ActivateCampaign starts dialing
func (h *Handlers) ActivateCampaign(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "campaign activated", h.service.Activate)
}

// PauseCampaign suspends dialing
func (h *Handlers) PauseCampaign(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "campaign paused", h.service.Pause)
}

// CompleteCampaign finishes the campaign
func (h *Handlers) CompleteCampaign(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "campaign completed", h.service.Complete)
}

func (h *Handlers) transition(w http.ResponseWriter, r *http.Request, message string,
	op func(ctx context.Context, orgID, campaignID int64) error) {
	principal, orgID, ok := h.authorize(w, r, permissions.CapManageCampaigns)
	if !ok {
		return
	}
	campaignID, ok := httputil.ParsePathInt64OrError(w, r, "campaign_id")
	if !ok {
		return
	}

	if err := op(r.Context(), orgID, campaignID); err != nil {
		h.writeCampaignError(w, err)
		return
	}

	h.auditCampaign(r, principal, campaignID, audit.EventTypeCampaignUpdate, message)
	httputil.WriteNoContent(w)
}

// writeCampaignError maps service errors onto HTTP responses
func (h *Handlers) writeCampaignError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httputil.WriteNotFoundError(w, "campaign not found")
	case errors.Is(err, ErrInvalidTransition):
		httputil.WriteConflict(w, err.Error())
	case errors.Is(err, ErrNoAgents):
		httputil.WriteValidationError(w, err.Error())
	case orgs.IsQuotaExceeded(err):
		httputil.WriteConflict(w, err.Error())
	default:
		httputil.WriteInternalError(w, err)
	}
}

// AddAgent adds a voice agent to the pool
func (h *Handlers) AddAgent(w http.ResponseWriter, r *http.Request) {
	_, orgID, ok := h.authorize(w, r, permissions.CapManageCampaigns)
	if !ok {
		return
	}
	campaignID, ok := httputil.ParsePathInt64OrError(w, r, "campaign_id")
	if !ok {
		return
	}

	var req AddAgentRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Name, "name") {
		return
	}
	if req.Weight < 0 {
		httputil.WriteValidationError(w, "weight must not be negative")
		return
	}

	agent := &VoiceAgent{CampaignID: campaignID, Name: req.Name, VoiceID: req.VoiceID, Weight: req.Weight}
	if err := h.service.AddAgent(r.Context(), orgID, agent); err != nil {
		h.writeCampaignError(w, err)
		return
	}
	httputil.WriteCreated(w, agent)
}

// ListAgents returns the campaign's agent pool
func (h *Handlers) ListAgents(w http.ResponseWriter, r *http.Request) {
	_, orgID, ok := h.authorize(w, r, permissions.CapManageCampaigns)
	if !ok {
		return
	}
	campaignID, ok := httputil.ParsePathInt64OrError(w, r, "campaign_id")
	if !ok {
		return
	}

	agents, err := h.service.ListAgents(r.Context(), orgID, campaignID)
	if err != nil {
		h.writeCampaignError(w, err)
		return
	}
	if agents == nil {
		agents = []*VoiceAgent{}
	}
	httputil.WriteSuccess(w, agents)
}

// RemoveAgent deletes an agent from the pool
func (h *Handlers) RemoveAgent(w http.ResponseWriter, r *http.Request) {
	_, orgID, ok := h.authorize(w, r, permissions.CapManageCampaigns)
	if !ok {
		return
	}
	campaignID, ok := httputil.ParsePathInt64OrError(w, r, "campaign_id")
	if !ok {
		return
	}
	agentID, ok := httputil.ParsePathInt64OrError(w, r, "agent_id")
	if !ok {
		return
	}

	if err := h.service.RemoveAgent(r.Context(), orgID, campaignID, agentID); err != nil {
		h.writeCampaignError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// ListCalls returns a campaign's call records
func (h *Handlers) ListCalls(w http.ResponseWriter, r *http.Request) {
	_, orgID, ok := h.authorize(w, r, permissions.CapManageCampaigns)
	if !ok {
		return
	}
	campaignID, ok := httputil.ParsePathInt64OrError(w, r, "campaign_id")
	if !ok {
		return
	}

	limit, err := httputil.ParseQueryInt(r, "limit", 100)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	calls, err := h.service.ListCalls(r.Context(), orgID, campaignID, limit)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	if calls == nil {
		calls = []*CallRecord{}
	}
	httputil.WriteSuccess(w, calls)
}

// GetRecording streams a call recording. Gated by view_recordings,
// which only managers hold by default.
func (h *Handlers) GetRecording(w http.ResponseWriter, r *http.Request) {
	_, orgID, ok := h.authorize(w, r, permissions.CapViewRecordings)
	if !ok {
		return
	}
	callID, ok := httputil.ParsePathInt64OrError(w, r, "call_id")
	if !ok {
		return
	}

	record, err := h.service.GetCall(r.Context(), orgID, callID)
	if err != nil {
		h.writeCampaignError(w, err)
		return
	}
	if record.RecordingKey == "" {
		httputil.WriteNotFoundError(w, "call has no recording")
		return
	}

	reader, err := h.blobs.Get(r.Context(), record.RecordingKey)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			httputil.WriteNotFoundError(w, "recording not found")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}
	defer reader.Close()

	w.Header().Set("Content-Type", "audio/wav")
	if _, err := io.Copy(w, reader); err != nil {
		// Headers are already out; nothing useful left to send.
		return
	}
}

func (h *Handlers) auditCampaign(r *http.Request, actor *permissions.Principal, campaignID int64, eventType audit.EventType, message string) {
	event := audit.NewEvent(eventType, audit.EventStatusSuccess)
	event.ActorUserID = &actor.UserID
	event.OrganizationID = &actor.OrganizationID
	event.ResourceType = audit.ResourceTypeCampaign
	event.ResourceID = strconv.FormatInt(campaignID, 10)
	event.Message = message
	_ = h.auditLogger.Log(r.Context(), event)
}
