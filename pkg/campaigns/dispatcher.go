package campaigns

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/doorstep-crm/doorstep/pkg/audit"
	"github.com/doorstep-crm/doorstep/pkg/leads"
	"github.com/doorstep-crm/doorstep/pkg/observability"
	"github.com/doorstep-crm/doorstep/pkg/orgs"
	"github.com/doorstep-crm/doorstep/pkg/storage"
)

// LeadDirectory is the slice of the lead service the dispatcher needs
type LeadDirectory interface {
	List(ctx context.Context, orgID int64, filter leads.ListFilter) ([]*leads.Lead, error)
	MarkContacted(ctx context.Context, orgID, leadID int64, at time.Time) error
}

// CallUsage meters dialed seconds against the organization's plan
type CallUsage interface {
	CheckCallMinutes(ctx context.Context, orgID int64) error
	AddCallSeconds(ctx context.Context, orgID int64, seconds int64) error
}

// redialWindow is how long a lead is left alone after a dial attempt
const redialWindow = 24 * time.Hour

// Dispatcher drives outbound calling: on every tick it scans active
// campaigns, selects due leads, and dials them with bounded
// concurrency.
type Dispatcher struct {
	service   *Service
	leadDir   LeadDirectory
	usage     CallUsage
	dialer    Dialer
	limiter   DialLimiter
	blobs     storage.BlobStore
	audit     audit.Logger
	logger    *observability.Logger
	maxDials  int
	now       func() time.Time
	scheduler *cron.Cron

	mu  sync.Mutex
	rng *rand.Rand
}

// DispatcherConfig wires the dispatcher's collaborators
type DispatcherConfig struct {
	Service     *Service
	Leads       LeadDirectory
	Usage       CallUsage
	Dialer      Dialer
	Limiter     DialLimiter
	Blobs       storage.BlobStore
	AuditLogger audit.Logger
	Logger      *observability.Logger

	// MaxConcurrentDials bounds in-process dial workers per tick
	MaxConcurrentDials int

	// Seed fixes the agent-pick sequence; 0 means time-seeded
	Seed int64
}

// NewDispatcher creates a call dispatcher
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	maxDials := cfg.MaxConcurrentDials
	if maxDials <= 0 {
		maxDials = 8
	}
	return &Dispatcher{
		service:  cfg.Service,
		leadDir:  cfg.Leads,
		usage:    cfg.Usage,
		dialer:   cfg.Dialer,
		limiter:  cfg.Limiter,
		blobs:    cfg.Blobs,
		audit:    cfg.AuditLogger,
		logger:   cfg.Logger,
		maxDials: maxDials,
		now:      time.Now,
		rng:      rand.New(rand.NewSource(seed)),
	}
}

// Start schedules the dispatch tick on the given cron spec and begins
// ticking. Stop with Stop.
func (d *Dispatcher) Start(ctx context.Context, spec string) error {
	d.scheduler = cron.New()
	_, err := d.scheduler.AddFunc(spec, func() {
		if err := d.Tick(ctx); err != nil {
			d.logger.WithError(err).Error("Dispatch tick failed")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule dispatch tick: %w", err)
	}
	d.scheduler.Start()
	d.logger.WithField("spec", spec).Info("Call dispatcher started")
	return nil
}

// Stop halts the tick schedule and waits for a running tick to finish
func (d *Dispatcher) Stop() {
	if d.scheduler != nil {
		<-d.scheduler.Stop().Done()
	}
}

// Tick runs one dispatch pass over every active campaign
func (d *Dispatcher) Tick(ctx context.Context) error {
	campaigns, err := d.service.ListActive(ctx)
	if err != nil {
		return err
	}

	for _, campaign := range campaigns {
		if !d.inScheduleWindow(campaign) {
			continue
		}
		if err := d.usage.CheckCallMinutes(ctx, campaign.OrganizationID); err != nil {
			if orgs.IsQuotaExceeded(err) {
				d.logger.WithFields(map[string]interface{}{
					"campaign_id": campaign.ID,
					"org_id":      campaign.OrganizationID,
				}).Warn("Call minutes exhausted, skipping campaign")
				continue
			}
			return err
		}
		if err := d.dispatchCampaign(ctx, campaign); err != nil {
			d.logger.WithError(err).WithField("campaign_id", campaign.ID).Error("Campaign dispatch failed")
		}
	}
	return nil
}

func (d *Dispatcher) inScheduleWindow(campaign *Campaign) bool {
	hour := d.now().Hour()
	return hour >= campaign.ScheduleStartHour && hour < campaign.ScheduleEndHour
}

func (d *Dispatcher) dispatchCampaign(ctx context.Context, campaign *Campaign) error {
	agents, err := d.service.ListAgents(ctx, campaign.OrganizationID, campaign.ID)
	if err != nil {
		return err
	}

	targets, err := d.selectTargets(ctx, campaign)
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.maxDials)
	for _, lead := range targets {
		lead := lead
		g.Go(func() error {
			acquired, err := d.limiter.Acquire(gctx, campaign.OrganizationID)
			if err != nil {
				return err
			}
			if !acquired {
				return nil
			}
			defer d.limiter.Release(gctx, campaign.OrganizationID)

			return d.placeCall(gctx, campaign, agents, lead)
		})
	}
	return g.Wait()
}

// selectTargets picks the leads due for a call: matching the campaign
// filter, holding a phone number, and not dialed inside the redial
// window. Capped at MaxAttemptsPerRun.
func (d *Dispatcher) selectTargets(ctx context.Context, campaign *Campaign) ([]*leads.Lead, error) {
	recent, err := d.service.RecentlyCalledLeadIDs(ctx, campaign.ID, d.now().Add(-redialWindow))
	if err != nil {
		return nil, err
	}

	statuses := campaign.TargetFilter.Statuses
	if len(statuses) == 0 {
		statuses = []leads.LeadStatus{leads.StatusNew, leads.StatusContacted}
	}

	sources := make(map[leads.LeadSource]bool, len(campaign.TargetFilter.Sources))
	for _, source := range campaign.TargetFilter.Sources {
		sources[source] = true
	}

	var targets []*leads.Lead
	for _, status := range statuses {
		page, err := d.leadDir.List(ctx, campaign.OrganizationID, leads.ListFilter{
			Status: status,
			Limit:  200,
		})
		if err != nil {
			return nil, err
		}
		for _, lead := range page {
			if lead.Phone == "" || recent[lead.ID] {
				continue
			}
			if len(sources) > 0 && !sources[lead.Source] {
				continue
			}
			targets = append(targets, lead)
			if len(targets) >= campaign.MaxAttemptsPerRun {
				return targets, nil
			}
		}
	}
	return targets, nil
}

func (d *Dispatcher) placeCall(ctx context.Context, campaign *Campaign, agents []*VoiceAgent, lead *leads.Lead) error {
	d.mu.Lock()
	agent := PickAgent(agents, d.rng)
	d.mu.Unlock()
	if agent == nil {
		return ErrNoAgents
	}

	startedAt := d.now()
	result, err := d.dialer.Dial(ctx, DialRequest{Lead: lead, Agent: agent, Script: campaign.Script})
	if err != nil {
		return fmt.Errorf("failed to dial lead %d: %w", lead.ID, err)
	}

	record := &CallRecord{
		OrganizationID:  campaign.OrganizationID,
		CampaignID:      campaign.ID,
		LeadID:          lead.ID,
		AgentID:         agent.ID,
		Outcome:         result.Outcome,
		DurationSeconds: result.DurationSeconds,
		Transcript:      result.Transcript,
		StartedAt:       startedAt,
	}

	if len(result.Recording) > 0 {
		key := fmt.Sprintf("orgs/%d/campaigns/%d/calls/%s.wav",
			campaign.OrganizationID, campaign.ID, uuid.NewString())
		if err := d.blobs.Put(ctx, key, bytes.NewReader(result.Recording), "audio/wav"); err != nil {
			return fmt.Errorf("failed to store recording: %w", err)
		}
		record.RecordingKey = key
	}

	if err := d.service.RecordCall(ctx, record); err != nil {
		return err
	}

	if result.DurationSeconds > 0 {
		if err := d.usage.AddCallSeconds(ctx, campaign.OrganizationID, result.DurationSeconds); err != nil {
			return err
		}
	}
	if result.Outcome == OutcomeAnswered || result.Outcome == OutcomeVoicemail {
		if err := d.leadDir.MarkContacted(ctx, campaign.OrganizationID, lead.ID, startedAt); err != nil {
			return err
		}
	}

	event := audit.NewEvent(audit.EventTypeCallDispatched, audit.EventStatusSuccess)
	event.OrganizationID = &campaign.OrganizationID
	event.ResourceType = audit.ResourceTypeCampaign
	event.ResourceID = strconv.FormatInt(campaign.ID, 10)
	event.Message = fmt.Sprintf("dialed lead %d: %s", lead.ID, record.Outcome)
	_ = d.audit.Log(ctx, event)
	return nil
}
