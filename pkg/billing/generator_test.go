package billing

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doorstep-crm/doorstep/pkg/audit"
	"github.com/doorstep-crm/doorstep/pkg/observability"
	"github.com/doorstep-crm/doorstep/pkg/orgs"
)

type fakeOrgDirectory struct {
	orgs    []*orgs.Organization
	members map[int64]int
	usage   map[int64][]*orgs.OrgUsage
}

func (f *fakeOrgDirectory) ListAllOrganizations(ctx context.Context) ([]*orgs.Organization, error) {
	return f.orgs, nil
}

func (f *fakeOrgDirectory) CountMembers(ctx context.Context, orgID int64) (int, error) {
	return f.members[orgID], nil
}

func (f *fakeOrgDirectory) GetUsageHistory(ctx context.Context, orgID int64, limit int) ([]*orgs.OrgUsage, error) {
	return f.usage[orgID], nil
}

type recordingLogger struct {
	mu     sync.Mutex
	events []*audit.Event
}

func (r *recordingLogger) Log(ctx context.Context, event *audit.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingLogger) Close() error { return nil }

type generatorFixture struct {
	generator *InvoiceGenerator
	service   *Service
	orgDir    *fakeOrgDirectory
	audit     *recordingLogger
}

// newGeneratorFixture stands up two active organizations: org 1 on
// growth with 4 seats, org 2 on starter with 2 seats, plus a suspended
// org 3 that must never be invoiced.
func newGeneratorFixture(t *testing.T) *generatorFixture {
	t.Helper()

	service, _ := newBillingFixture(t)

	createTestSubscription(t, service, 1, orgs.PlanGrowth)
	createTestSubscription(t, service, 2, orgs.PlanStarter)
	createTestSubscription(t, service, 3, orgs.PlanScale)

	july := time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	orgDir := &fakeOrgDirectory{
		orgs: []*orgs.Organization{
			{ID: 1, Name: "Costa Homes", Status: orgs.OrgStatusActive},
			{ID: 2, Name: "Vista Realty", Status: orgs.OrgStatusActive},
			{ID: 3, Name: "Dormant BV", Status: orgs.OrgStatusSuspended},
		},
		members: map[int64]int{1: 4, 2: 2, 3: 9},
		usage: map[int64][]*orgs.OrgUsage{
			// 2100 billable minutes against growth's 2000 included.
			1: {{OrgID: 1, PeriodStart: july, CallSecondsUsed: 2100 * 60}},
			2: {{OrgID: 2, PeriodStart: july, CallSecondsUsed: 90}},
		},
	}

	auditLog := &recordingLogger{}
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	generator := NewInvoiceGenerator(service, orgDir, auditLog, logger)
	generator.now = func() time.Time { return time.Date(2026, 8, 1, 2, 0, 0, 0, time.UTC) }

	return &generatorFixture{generator: generator, service: service, orgDir: orgDir, audit: auditLog}
}

func TestGenerateMonthlyInvoices(t *testing.T) {
	f := newGeneratorFixture(t)
	ctx := context.Background()

	require.NoError(t, f.generator.GenerateForPreviousMonth(ctx))

	invoices, err := f.service.ListInvoices(ctx, 1)
	require.NoError(t, err)
	require.Len(t, invoices, 1)

	invoice, err := f.service.GetInvoice(ctx, 1, invoices[0].ID)
	require.NoError(t, err)
	require.Len(t, invoice.Lines, 3)

	pricing := PricingFor(orgs.PlanGrowth)
	assert.Equal(t, pricing.BaseCents, invoice.Lines[0].AmountCents)
	assert.Equal(t, 4*pricing.PerSeatCents, invoice.Lines[1].AmountCents)
	// 100 minutes over the included allowance.
	assert.Equal(t, int64(100), invoice.Lines[2].Quantity)
	assert.Equal(t, 100*pricing.PerExtraMinuteCents, invoice.Lines[2].AmountCents)
	assert.Equal(t, pricing.BaseCents+4*pricing.PerSeatCents+100*pricing.PerExtraMinuteCents, invoice.TotalCents)

	assert.Equal(t, time.July, invoice.PeriodStart.Month())
	assert.Equal(t, time.August, invoice.PeriodEnd.Month())
}

func TestGenerateWithinIncludedMinutes(t *testing.T) {
	f := newGeneratorFixture(t)
	ctx := context.Background()

	require.NoError(t, f.generator.GenerateForPreviousMonth(ctx))

	invoices, err := f.service.ListInvoices(ctx, 2)
	require.NoError(t, err)
	require.Len(t, invoices, 1)

	invoice, err := f.service.GetInvoice(ctx, 2, invoices[0].ID)
	require.NoError(t, err)
	// Base and seats only, no overage line.
	require.Len(t, invoice.Lines, 2)
	pricing := PricingFor(orgs.PlanStarter)
	assert.Equal(t, pricing.BaseCents+2*pricing.PerSeatCents, invoice.TotalCents)
}

func TestGenerateSkipsSuspendedOrgs(t *testing.T) {
	f := newGeneratorFixture(t)
	ctx := context.Background()

	require.NoError(t, f.generator.GenerateForPreviousMonth(ctx))

	invoices, err := f.service.ListInvoices(ctx, 3)
	require.NoError(t, err)
	assert.Empty(t, invoices)
}

func TestGenerateSkipsInactiveSubscriptions(t *testing.T) {
	f := newGeneratorFixture(t)
	ctx := context.Background()

	require.NoError(t, f.service.SetSubscriptionStatus(ctx, 2, SubscriptionCanceled))
	require.NoError(t, f.generator.GenerateForPreviousMonth(ctx))

	invoices, err := f.service.ListInvoices(ctx, 2)
	require.NoError(t, err)
	assert.Empty(t, invoices)
}

func TestGenerateIsIdempotent(t *testing.T) {
	f := newGeneratorFixture(t)
	ctx := context.Background()

	require.NoError(t, f.generator.GenerateForPreviousMonth(ctx))
	require.NoError(t, f.generator.GenerateForPreviousMonth(ctx))

	invoices, err := f.service.ListInvoices(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, invoices, 1)
}

func TestGenerateSequentialNumbersAndAudit(t *testing.T) {
	f := newGeneratorFixture(t)
	ctx := context.Background()

	require.NoError(t, f.generator.GenerateForPreviousMonth(ctx))

	first, err := f.service.ListInvoices(ctx, 1)
	require.NoError(t, err)
	second, err := f.service.ListInvoices(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, "INV-202607-0001", first[0].Number)
	assert.Equal(t, "INV-202607-0002", second[0].Number)

	require.Len(t, f.audit.events, 2)
	for _, event := range f.audit.events {
		assert.Equal(t, audit.EventTypeInvoiceGenerated, event.EventType)
		assert.Equal(t, audit.ResourceTypeInvoice, event.ResourceType)
	}
}
