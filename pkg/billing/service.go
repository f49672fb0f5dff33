package billing

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/doorstep-crm/doorstep/pkg/orgs"
)

// Service implements billing persistence over SQL
type Service struct {
	db *sql.DB
}

// NewService creates a billing service
func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

const subscriptionColumns = `id, organization_id, plan_tier, status, current_period_start,
	current_period_end, external_customer_id, external_subscription_id, created_at, updated_at`

// CreateSubscription opens a subscription for an organization. The
// first period starts now and runs one month.
func (s *Service) CreateSubscription(ctx context.Context, sub *Subscription) error {
	now := time.Now()
	if sub.CurrentPeriodStart.IsZero() {
		sub.CurrentPeriodStart = now
		sub.CurrentPeriodEnd = now.AddDate(0, 1, 0)
	}
	sub.Status = SubscriptionActive

	query := `
		INSERT INTO subscriptions (organization_id, plan_tier, status, current_period_start,
		                           current_period_end, external_customer_id, external_subscription_id,
		                           created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		RETURNING id
	`
	err := s.db.QueryRowContext(ctx, query,
		sub.OrganizationID, string(sub.PlanTier), string(sub.Status),
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd,
		sub.ExternalCustomerID, sub.ExternalSubscriptionID, now,
	).Scan(&sub.ID)
	if err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}
	sub.CreatedAt = now
	sub.UpdatedAt = now
	return nil
}

// GetSubscription returns the organization's subscription
func (s *Service) GetSubscription(ctx context.Context, orgID int64) (*Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE organization_id = $1`

	sub := &Subscription{}
	var tier, status string
	err := s.db.QueryRowContext(ctx, query, orgID).Scan(
		&sub.ID, &sub.OrganizationID, &tier, &status,
		&sub.CurrentPeriodStart, &sub.CurrentPeriodEnd,
		&sub.ExternalCustomerID, &sub.ExternalSubscriptionID,
		&sub.CreatedAt, &sub.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription: %w", err)
	}
	sub.PlanTier = orgs.PlanTier(tier)
	sub.Status = SubscriptionStatus(status)
	return sub, nil
}

// ChangePlan moves the subscription to another tier, effective now
func (s *Service) ChangePlan(ctx context.Context, orgID int64, tier orgs.PlanTier) error {
	query := `UPDATE subscriptions SET plan_tier = $1, updated_at = $2 WHERE organization_id = $3`
	result, err := s.db.ExecContext(ctx, query, string(tier), time.Now(), orgID)
	if err != nil {
		return fmt.Errorf("failed to change plan: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetSubscriptionStatus updates the lifecycle state
func (s *Service) SetSubscriptionStatus(ctx context.Context, orgID int64, status SubscriptionStatus) error {
	query := `UPDATE subscriptions SET status = $1, updated_at = $2 WHERE organization_id = $3`
	result, err := s.db.ExecContext(ctx, query, string(status), time.Now(), orgID)
	if err != nil {
		return fmt.Errorf("failed to set subscription status: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// AdvancePeriod rolls the subscription into its next billing month
func (s *Service) AdvancePeriod(ctx context.Context, orgID int64) error {
	sub, err := s.GetSubscription(ctx, orgID)
	if err != nil {
		return err
	}

	query := `UPDATE subscriptions SET current_period_start = $1, current_period_end = $2, updated_at = $3 WHERE organization_id = $4`
	if _, err := s.db.ExecContext(ctx, query,
		sub.CurrentPeriodEnd, sub.CurrentPeriodEnd.AddDate(0, 1, 0), time.Now(), orgID); err != nil {
		return fmt.Errorf("failed to advance billing period: %w", err)
	}
	return nil
}

// AddPaymentMethod stores a gateway-tokenized instrument. The first
// method becomes the default.
func (s *Service) AddPaymentMethod(ctx context.Context, method *PaymentMethod) error {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM payment_methods WHERE organization_id = $1`, method.OrganizationID).Scan(&count)
	if err != nil {
		return fmt.Errorf("failed to count payment methods: %w", err)
	}
	method.IsDefault = count == 0

	now := time.Now()
	query := `
		INSERT INTO payment_methods (organization_id, kind, brand, last4, exp_month, exp_year,
		                             is_default, external_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`
	err = s.db.QueryRowContext(ctx, query,
		method.OrganizationID, method.Kind, method.Brand, method.Last4,
		method.ExpMonth, method.ExpYear, method.IsDefault, method.ExternalID, now,
	).Scan(&method.ID)
	if err != nil {
		return fmt.Errorf("failed to add payment method: %w", err)
	}
	method.CreatedAt = now
	return nil
}

// ListPaymentMethods returns the organization's stored instruments
func (s *Service) ListPaymentMethods(ctx context.Context, orgID int64) ([]*PaymentMethod, error) {
	query := `
		SELECT id, organization_id, kind, brand, last4, exp_month, exp_year, is_default, external_id, created_at
		FROM payment_methods WHERE organization_id = $1 ORDER BY is_default DESC, created_at
	`
	rows, err := s.db.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list payment methods: %w", err)
	}
	defer rows.Close()

	var methods []*PaymentMethod
	for rows.Next() {
		method := &PaymentMethod{}
		if err := rows.Scan(&method.ID, &method.OrganizationID, &method.Kind, &method.Brand,
			&method.Last4, &method.ExpMonth, &method.ExpYear, &method.IsDefault,
			&method.ExternalID, &method.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan payment method: %w", err)
		}
		methods = append(methods, method)
	}
	return methods, rows.Err()
}

// SetDefaultPaymentMethod marks one instrument as the default
func (s *Service) SetDefaultPaymentMethod(ctx context.Context, orgID, methodID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`UPDATE payment_methods SET is_default = TRUE WHERE organization_id = $1 AND id = $2`, orgID, methodID)
	if err != nil {
		return fmt.Errorf("failed to set default payment method: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE payment_methods SET is_default = FALSE WHERE organization_id = $1 AND id != $2`, orgID, methodID); err != nil {
		return fmt.Errorf("failed to clear previous default: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit default change: %w", err)
	}
	return nil
}

// RemovePaymentMethod deletes an instrument; the default cannot be
// removed while other methods exist.
func (s *Service) RemovePaymentMethod(ctx context.Context, orgID, methodID int64) error {
	methods, err := s.ListPaymentMethods(ctx, orgID)
	if err != nil {
		return err
	}
	for _, method := range methods {
		if method.ID == methodID && method.IsDefault && len(methods) > 1 {
			return ErrDefaultMethodInUse
		}
	}

	result, err := s.db.ExecContext(ctx,
		`DELETE FROM payment_methods WHERE organization_id = $1 AND id = $2`, orgID, methodID)
	if err != nil {
		return fmt.Errorf("failed to remove payment method: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateInvoice stores an invoice and its lines in one transaction
func (s *Service) CreateInvoice(ctx context.Context, invoice *Invoice) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var existing int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM invoices WHERE organization_id = $1 AND period_start = $2`,
		invoice.OrganizationID, invoice.PeriodStart).Scan(&existing)
	if err != nil {
		return fmt.Errorf("failed to check existing invoices: %w", err)
	}
	if existing > 0 {
		return ErrAlreadyInvoiced
	}

	err = tx.QueryRowContext(ctx, `
		INSERT INTO invoices (organization_id, number, status, period_start, period_end,
		                      subtotal_cents, total_cents, issued_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`,
		invoice.OrganizationID, invoice.Number, string(invoice.Status),
		invoice.PeriodStart, invoice.PeriodEnd,
		invoice.SubtotalCents, invoice.TotalCents, invoice.IssuedAt,
	).Scan(&invoice.ID)
	if err != nil {
		return fmt.Errorf("failed to create invoice: %w", err)
	}

	for _, line := range invoice.Lines {
		line.InvoiceID = invoice.ID
		err := tx.QueryRowContext(ctx, `
			INSERT INTO invoice_lines (invoice_id, description, quantity, unit_cents, amount_cents)
			VALUES ($1, $2, $3, $4, $5)
			RETURNING id
		`, line.InvoiceID, line.Description, line.Quantity, line.UnitCents, line.AmountCents).Scan(&line.ID)
		if err != nil {
			return fmt.Errorf("failed to create invoice line: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit invoice: %w", err)
	}
	return nil
}

// GetInvoice returns one invoice with its lines
func (s *Service) GetInvoice(ctx context.Context, orgID, invoiceID int64) (*Invoice, error) {
	query := `
		SELECT id, organization_id, number, status, period_start, period_end,
		       subtotal_cents, total_cents, issued_at, paid_at
		FROM invoices WHERE organization_id = $1 AND id = $2
	`
	invoice := &Invoice{}
	var status string
	err := s.db.QueryRowContext(ctx, query, orgID, invoiceID).Scan(
		&invoice.ID, &invoice.OrganizationID, &invoice.Number, &status,
		&invoice.PeriodStart, &invoice.PeriodEnd,
		&invoice.SubtotalCents, &invoice.TotalCents, &invoice.IssuedAt, &invoice.PaidAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get invoice: %w", err)
	}
	invoice.Status = InvoiceStatus(status)

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, invoice_id, description, quantity, unit_cents, amount_cents
		 FROM invoice_lines WHERE invoice_id = $1 ORDER BY id`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list invoice lines: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		line := &InvoiceLine{}
		if err := rows.Scan(&line.ID, &line.InvoiceID, &line.Description,
			&line.Quantity, &line.UnitCents, &line.AmountCents); err != nil {
			return nil, fmt.Errorf("failed to scan invoice line: %w", err)
		}
		invoice.Lines = append(invoice.Lines, line)
	}
	return invoice, rows.Err()
}

// ListInvoices returns an organization's invoices, newest first,
// without lines
func (s *Service) ListInvoices(ctx context.Context, orgID int64) ([]*Invoice, error) {
	query := `
		SELECT id, organization_id, number, status, period_start, period_end,
		       subtotal_cents, total_cents, issued_at, paid_at
		FROM invoices WHERE organization_id = $1 ORDER BY issued_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list invoices: %w", err)
	}
	defer rows.Close()

	var invoices []*Invoice
	for rows.Next() {
		invoice := &Invoice{}
		var status string
		if err := rows.Scan(&invoice.ID, &invoice.OrganizationID, &invoice.Number, &status,
			&invoice.PeriodStart, &invoice.PeriodEnd,
			&invoice.SubtotalCents, &invoice.TotalCents, &invoice.IssuedAt, &invoice.PaidAt); err != nil {
			return nil, fmt.Errorf("failed to scan invoice: %w", err)
		}
		invoice.Status = InvoiceStatus(status)
		invoices = append(invoices, invoice)
	}
	return invoices, rows.Err()
}

// MarkInvoicePaid records gateway settlement
func (s *Service) MarkInvoicePaid(ctx context.Context, orgID, invoiceID int64) error {
	now := time.Now()
	query := `UPDATE invoices SET status = $1, paid_at = $2 WHERE organization_id = $3 AND id = $4 AND status = $5`
	result, err := s.db.ExecContext(ctx, query,
		string(InvoicePaid), now, orgID, invoiceID, string(InvoiceOpen))
	if err != nil {
		return fmt.Errorf("failed to mark invoice paid: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// CountInvoicesIssued returns how many invoices exist with the given
// number prefix; used to build sequential invoice numbers.
func (s *Service) CountInvoicesIssued(ctx context.Context, numberPrefix string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM invoices WHERE number LIKE $1`, numberPrefix+"%").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count invoices: %w", err)
	}
	return count, nil
}
