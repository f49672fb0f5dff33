package pipeline

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/doorstep-crm/doorstep/pkg/audit"
	"github.com/doorstep-crm/doorstep/pkg/httputil"
	"github.com/doorstep-crm/doorstep/pkg/permissions"
)

// Handlers provides pipeline endpoints
type Handlers struct {
	service     *Service
	resolver    *permissions.Resolver
	auditLogger audit.Logger
}

// NewHandlers creates pipeline handlers
func NewHandlers(service *Service, resolver *permissions.Resolver, auditLogger audit.Logger) *Handlers {
	return &Handlers{service: service, resolver: resolver, auditLogger: auditLogger}
}

// RegisterRoutes registers pipeline routes
func (h *Handlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/orgs/{id}/pipeline", h.GetBoard).Methods("GET")
	router.HandleFunc("/orgs/{id}/pipeline/stages", h.CreateStage).Methods("POST")
	router.HandleFunc("/orgs/{id}/pipeline/stages", h.ListStages).Methods("GET")
	router.HandleFunc("/orgs/{id}/pipeline/stages/reorder", h.ReorderStages).Methods("PUT")
	router.HandleFunc("/orgs/{id}/pipeline/stages/{stage_id}", h.RenameStage).Methods("PATCH")
	router.HandleFunc("/orgs/{id}/pipeline/stages/{stage_id}", h.DeleteStage).Methods("DELETE")
	router.HandleFunc("/orgs/{id}/deals", h.CreateDeal).Methods("POST")
	router.HandleFunc("/orgs/{id}/deals", h.ListDeals).Methods("GET")
	router.HandleFunc("/orgs/{id}/deals/{deal_id}", h.GetDeal).Methods("GET")
	router.HandleFunc("/orgs/{id}/deals/{deal_id}", h.UpdateDeal).Methods("PATCH")
	router.HandleFunc("/orgs/{id}/deals/{deal_id}", h.DeleteDeal).Methods("DELETE")
	router.HandleFunc("/orgs/{id}/deals/{deal_id}/move", h.MoveDeal).Methods("PUT")
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

// GetBoard returns the full kanban board
func (h *Handlers) GetBoard(w http.ResponseWriter, r *http.Request) {
	_, orgID, ok := h.authorize(w, r, permissions.CapViewPipeline)
	if !ok {
		return
	}

	board, err := h.service.Board(r.Context(), orgID)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, board)
}

// CreateStage appends a stage to the board
func (h *Handlers) CreateStage(w http.ResponseWriter, r *http.Request) {
	_, orgID, ok := h.authorize(w, r, permissions.CapMoveDeals)
	if !ok {
		return
	}

	var req CreateStageRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Name, "name") {
		return
	}

	stage := &Stage{OrganizationID: orgID, Name: req.Name}
	if err := h.service.CreateStage(r.Context(), stage); err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteCreated(w, stage)
}

// ListStages returns the board's stages in order
func (h *Handlers) ListStages(w http.ResponseWriter, r *http.Request) {
	_, orgID, ok := h.authorize(w, r, permissions.CapViewPipeline)
	if !ok {
		return
	}

	stages, err := h.service.ListStages(r.Context(), orgID)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	if stages == nil {
		stages = []*Stage{}
	}
	httputil.WriteSuccess(w, stages)
}

// ReorderStages rewrites the board order
func (h *Handlers) ReorderStages(w http.ResponseWriter, r *http.Request) {
	_, orgID, ok := h.authorize(w, r, permissions.CapMoveDeals)
	if !ok {
		return
	}

	var req ReorderStagesRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if err := h.service.ReorderStages(r.Context(), orgID, req.StageIDs); err != nil {
		if errors.Is(err, ErrStageMismatch) {
			httputil.WriteValidationError(w, err.Error())
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// RenameStage changes a stage's name
func (h *Handlers) RenameStage(w http.ResponseWriter, r *http.Request) {
	_, orgID, ok := h.authorize(w, r, permissions.CapMoveDeals)
	if !ok {
		return
	}
	stageID, ok := httputil.ParsePathInt64OrError(w, r, "stage_id")
	if !ok {
		return
	}

	var req RenameStageRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Name, "name") {
		return
	}

	if err := h.service.RenameStage(r.Context(), orgID, stageID, req.Name); err != nil {
		if errors.Is(err, ErrNotFound) {
			httputil.WriteNotFoundError(w, "stage not found")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// DeleteStage removes an empty stage
func (h *Handlers) DeleteStage(w http.ResponseWriter, r *http.Request) {
	_, orgID, ok := h.authorize(w, r, permissions.CapMoveDeals)
	if !ok {
		return
	}
	stageID, ok := httputil.ParsePathInt64OrError(w, r, "stage_id")
	if !ok {
		return
	}

	if err := h.service.DeleteStage(r.Context(), orgID, stageID); err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			httputil.WriteNotFoundError(w, "stage not found")
		case errors.Is(err, ErrStageInUse):
			httputil.WriteConflict(w, "move or delete the stage's deals first")
		default:
			httputil.WriteInternalError(w, err)
		}
		return
	}
	httputil.WriteNoContent(w)
}

// CreateDeal opens a deal
func (h *Handlers) CreateDeal(w http.ResponseWriter, r *http.Request) {
	principal, orgID, ok := h.authorize(w, r, permissions.CapMoveDeals)
	if !ok {
		return
	}

	var req CreateDealRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Title, "title") {
		return
	}
	if !httputil.RequirePositive(w, req.LeadID, "lead_id") {
		return
	}
	if !httputil.RequirePositive(w, req.StageID, "stage_id") {
		return
	}

	deal := &Deal{
		OrganizationID:    orgID,
		LeadID:            req.LeadID,
		StageID:           req.StageID,
		Title:             req.Title,
		ValueCents:        req.ValueCents,
		ExpectedCloseDate: req.ExpectedCloseDate,
		CreatedBy:         principal.UserID,
	}
	if err := h.service.CreateDeal(r.Context(), deal); err != nil {
		if errors.Is(err, ErrNotFound) {
			httputil.WriteValidationError(w, "unknown stage")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}

	h.auditDeal(r, principal, deal.ID, "deal created")
	httputil.WriteCreated(w, deal)
}

// ListDeals lists deals, optionally for one stage
func (h *Handlers) ListDeals(w http.ResponseWriter, r *http.Request) {
	_, orgID, ok := h.authorize(w, r, permissions.CapViewPipeline)
	if !ok {
		return
	}

	var stageID *int64
	if raw := httputil.ParseQueryString(r, "stage_id", ""); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			httputil.WriteBadRequest(w, "invalid stage_id")
			return
		}
		stageID = &id
	}

	deals, err := h.service.ListDeals(r.Context(), orgID, stageID)
	if err != nil {
		httputil.WriteInternalError(w, err)
		return
	}
	if deals == nil {
		deals = []*Deal{}
	}
	httputil.WriteSuccess(w, deals)
}

// GetDeal returns one deal
func (h *Handlers) GetDeal(w http.ResponseWriter, r *http.Request) {
	_, orgID, ok := h.authorize(w, r, permissions.CapViewPipeline)
	if !ok {
		return
	}
	dealID, ok := httputil.ParsePathInt64OrError(w, r, "deal_id")
	if !ok {
		return
	}

	deal, err := h.service.GetDeal(r.Context(), orgID, dealID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			httputil.WriteNotFoundError(w, "deal not found")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, deal)
}

// UpdateDeal applies a partial update. A request that changes the deal's
// monetary value is rejected whole unless the caller holds
// edit_deal_value; the other fields in the payload are not applied
// either.
func (h *Handlers) UpdateDeal(w http.ResponseWriter, r *http.Request) {
	principal, orgID, ok := h.authorize(w, r, permissions.CapMoveDeals)
	if !ok {
		return
	}
	dealID, ok := httputil.ParsePathInt64OrError(w, r, "deal_id")
	if !ok {
		return
	}

	var req UpdateDealRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	if req.ValueCents != nil {
		current, err := h.service.GetDeal(r.Context(), orgID, dealID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				httputil.WriteNotFoundError(w, "deal not found")
				return
			}
			httputil.WriteInternalError(w, err)
			return
		}
		if current.ValueCents != *req.ValueCents {
			allowed, err := h.resolver.HasCapability(r.Context(), *principal, permissions.CapEditDealValue)
			if err != nil {
				httputil.WriteInternalError(w, err)
				return
			}
			if !allowed {
				httputil.WriteDenied(w, "you do not have permission to change deal values")
				return
			}
		}
	}

	if err := h.service.UpdateDeal(r.Context(), orgID, dealID, &req); err != nil {
		if errors.Is(err, ErrNotFound) {
			httputil.WriteNotFoundError(w, "deal not found")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}

	h.auditDeal(r, principal, dealID, "deal updated")
	httputil.WriteNoContent(w)
}

// MoveDeal moves a deal to another stage
func (h *Handlers) MoveDeal(w http.ResponseWriter, r *http.Request) {
	principal, orgID, ok := h.authorize(w, r, permissions.CapMoveDeals)
	if !ok {
		return
	}
	dealID, ok := httputil.ParsePathInt64OrError(w, r, "deal_id")
	if !ok {
		return
	}

	var req MoveDealRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequirePositive(w, req.StageID, "stage_id") {
		return
	}

	if err := h.service.MoveDeal(r.Context(), orgID, dealID, req.StageID); err != nil {
		if errors.Is(err, ErrNotFound) {
			httputil.WriteNotFoundError(w, "deal or stage not found")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}

	h.auditDeal(r, principal, dealID, "deal moved")
	httputil.WriteNoContent(w)
}

// DeleteDeal removes a deal
func (h *Handlers) DeleteDeal(w http.ResponseWriter, r *http.Request) {
	principal, orgID, ok := h.authorize(w, r, permissions.CapMoveDeals)
	if !ok {
		return
	}
	dealID, ok := httputil.ParsePathInt64OrError(w, r, "deal_id")
	if !ok {
		return
	}

	if err := h.service.DeleteDeal(r.Context(), orgID, dealID); err != nil {
		if errors.Is(err, ErrNotFound) {
			httputil.WriteNotFoundError(w, "deal not found")
			return
		}
		httputil.WriteInternalError(w, err)
		return
	}

	h.auditDeal(r, principal, dealID, "deal deleted")
	httputil.WriteNoContent(w)
}

func (h *Handlers) auditDeal(r *http.Request, actor *permissions.Principal, dealID int64, message string) {
	event := audit.NewEvent(audit.EventTypeDealUpdate, audit.EventStatusSuccess)
	event.ActorUserID = &actor.UserID
	event.OrganizationID = &actor.OrganizationID
	event.ResourceType = audit.ResourceTypeDeal
	event.ResourceID = strconv.FormatInt(dealID, 10)
	event.Message = message
	_ = h.auditLogger.Log(r.Context(), event)
}
