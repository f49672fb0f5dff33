package billing

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/doorstep-crm/doorstep/pkg/audit"
	"github.com/doorstep-crm/doorstep/pkg/observability"
	"github.com/doorstep-crm/doorstep/pkg/orgs"
)

// OrgDirectory is the slice of the orgs service the generator needs
type OrgDirectory interface {
	ListAllOrganizations(ctx context.Context) ([]*orgs.Organization, error)
	CountMembers(ctx context.Context, orgID int64) (int, error)
	GetUsageHistory(ctx context.Context, orgID int64, limit int) ([]*orgs.OrgUsage, error)
}

// InvoiceGenerator produces one invoice per organization per billing
// month: the plan base, a per-seat charge, and metered call minutes
// above the plan's included allowance.
type InvoiceGenerator struct {
	billing   *Service
	orgDir    OrgDirectory
	audit     audit.Logger
	logger    *observability.Logger
	now       func() time.Time
	scheduler *cron.Cron
}

// NewInvoiceGenerator creates the monthly invoice job
func NewInvoiceGenerator(billing *Service, orgDir OrgDirectory, auditLogger audit.Logger, logger *observability.Logger) *InvoiceGenerator {
	return &InvoiceGenerator{
		billing: billing,
		orgDir:  orgDir,
		audit:   auditLogger,
		logger:  logger,
		now:     time.Now,
	}
}

// Start schedules monthly generation on the given cron spec
// (typically "0 2 1 * *": the 1st of the month at 02:00).
func (g *InvoiceGenerator) Start(ctx context.Context, spec string) error {
	g.scheduler = cron.New()
	_, err := g.scheduler.AddFunc(spec, func() {
		if err := g.GenerateForPreviousMonth(ctx); err != nil {
			g.logger.WithError(err).Error("Invoice generation failed")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule invoice generation: %w", err)
	}
	g.scheduler.Start()
	g.logger.WithField("spec", spec).Info("Invoice generator started")
	return nil
}

// Stop halts the schedule
func (g *InvoiceGenerator) Stop() {
	if g.scheduler != nil {
		<-g.scheduler.Stop().Done()
	}
}

// GenerateForPreviousMonth invoices the calendar month before now
func (g *InvoiceGenerator) GenerateForPreviousMonth(ctx context.Context) error {
	now := g.now()
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	return g.Generate(ctx, monthStart.AddDate(0, -1, 0), monthStart)
}

// Generate invoices every active-subscription organization for the
// given period. Organizations already invoiced for the period are
// skipped, so the job is safe to re-run.
func (g *InvoiceGenerator) Generate(ctx context.Context, periodStart, periodEnd time.Time) error {
	organizations, err := g.orgDir.ListAllOrganizations(ctx)
	if err != nil {
		return err
	}

	var failures int
	for _, org := range organizations {
		if org.Status != orgs.OrgStatusActive {
			continue
		}
		if err := g.generateForOrg(ctx, org, periodStart, periodEnd); err != nil {
			if errors.Is(err, ErrAlreadyInvoiced) || errors.Is(err, ErrNotFound) {
				continue
			}
			failures++
			g.logger.WithError(err).WithField("org_id", org.ID).Error("Failed to invoice organization")
		}
	}
	if failures > 0 {
		return fmt.Errorf("invoice generation finished with %d failures", failures)
	}
	return nil
}

func (g *InvoiceGenerator) generateForOrg(ctx context.Context, org *orgs.Organization, periodStart, periodEnd time.Time) error {
	sub, err := g.billing.GetSubscription(ctx, org.ID)
	if err != nil {
		return err
	}
	if sub.Status != SubscriptionActive {
		return nil
	}

	pricing := PricingFor(sub.PlanTier)

	seats, err := g.orgDir.CountMembers(ctx, org.ID)
	if err != nil {
		return err
	}

	callSeconds, err := g.periodCallSeconds(ctx, org.ID, periodStart)
	if err != nil {
		return err
	}

	lines := []*InvoiceLine{
		{
			Description: fmt.Sprintf("%s plan, monthly base", sub.PlanTier),
			Quantity:    1,
			UnitCents:   pricing.BaseCents,
			AmountCents: pricing.BaseCents,
		},
		{
			Description: "Seats",
			Quantity:    int64(seats),
			UnitCents:   pricing.PerSeatCents,
			AmountCents: int64(seats) * pricing.PerSeatCents,
		},
	}

	minutes := MinutesFromSeconds(callSeconds)
	if extra := minutes - pricing.IncludedCallMinutes; extra > 0 {
		lines = append(lines, &InvoiceLine{
			Description: fmt.Sprintf("Call minutes beyond the %d included", pricing.IncludedCallMinutes),
			Quantity:    extra,
			UnitCents:   pricing.PerExtraMinuteCents,
			AmountCents: extra * pricing.PerExtraMinuteCents,
		})
	}

	var subtotal int64
	for _, line := range lines {
		subtotal += line.AmountCents
	}

	number, err := g.nextInvoiceNumber(ctx, periodStart)
	if err != nil {
		return err
	}

	invoice := &Invoice{
		OrganizationID: org.ID,
		Number:         number,
		Status:         InvoiceOpen,
		PeriodStart:    periodStart,
		PeriodEnd:      periodEnd,
		SubtotalCents:  subtotal,
		TotalCents:     subtotal,
		IssuedAt:       g.now(),
		Lines:          lines,
	}
	if err := g.billing.CreateInvoice(ctx, invoice); err != nil {
		return err
	}

	event := audit.NewEvent(audit.EventTypeInvoiceGenerated, audit.EventStatusSuccess)
	event.OrganizationID = &org.ID
	event.ResourceType = audit.ResourceTypeInvoice
	event.ResourceID = strconv.FormatInt(invoice.ID, 10)
	event.Message = fmt.Sprintf("invoice %s issued for %d cents", invoice.Number, invoice.TotalCents)
	_ = g.audit.Log(ctx, event)
	return nil
}

// periodCallSeconds finds the usage row whose period matches the
// invoiced month. A missing row bills zero minutes.
func (g *InvoiceGenerator) periodCallSeconds(ctx context.Context, orgID int64, periodStart time.Time) (int64, error) {
	history, err := g.orgDir.GetUsageHistory(ctx, orgID, 12)
	if err != nil {
		return 0, err
	}
	for _, usage := range history {
		if usage.PeriodStart.Year() == periodStart.Year() && usage.PeriodStart.Month() == periodStart.Month() {
			return usage.CallSecondsUsed, nil
		}
	}
	return 0, nil
}

func (g *InvoiceGenerator) nextInvoiceNumber(ctx context.Context, periodStart time.Time) (string, error) {
	prefix := fmt.Sprintf("INV-%04d%02d-", periodStart.Year(), int(periodStart.Month()))
	issued, err := g.billing.CountInvoicesIssued(ctx, prefix)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s%04d", prefix, issued+1), nil
}
