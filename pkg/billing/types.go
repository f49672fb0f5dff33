// Package billing implements subscriptions, payment methods, and
// invoice generation. Charges are computed locally; collection happens
// in an external payment gateway referenced by the external IDs.
package billing

import (
	"errors"
	"time"

	"github.com/doorstep-crm/doorstep/pkg/orgs"
)

// SubscriptionStatus is the subscription lifecycle state
type SubscriptionStatus string

const (
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionPastDue  SubscriptionStatus = "past_due"
	SubscriptionCanceled SubscriptionStatus = "canceled"
)

// InvoiceStatus is the invoice lifecycle state
type InvoiceStatus string

const (
	InvoiceOpen InvoiceStatus = "open"
	InvoicePaid InvoiceStatus = "paid"
	InvoiceVoid InvoiceStatus = "void"
)

// Subscription binds an organization to a plan and a billing period
type Subscription struct {
	ID                     int64              `json:"id"`
	OrganizationID         int64              `json:"organization_id"`
	PlanTier               orgs.PlanTier      `json:"plan_tier"`
	Status                 SubscriptionStatus `json:"status"`
	CurrentPeriodStart     time.Time          `json:"current_period_start"`
	CurrentPeriodEnd       time.Time          `json:"current_period_end"`
	ExternalCustomerID     string             `json:"external_customer_id,omitempty"`
	ExternalSubscriptionID string             `json:"external_subscription_id,omitempty"`
	CreatedAt              time.Time          `json:"created_at"`
	UpdatedAt              time.Time          `json:"updated_at"`
}

// PaymentMethod is a stored payment instrument. Only display metadata
// lives here; the instrument itself stays in the gateway.
type PaymentMethod struct {
	ID             int64     `json:"id"`
	OrganizationID int64     `json:"organization_id"`
	Kind           string    `json:"kind"`
	Brand          string    `json:"brand,omitempty"`
	Last4          string    `json:"last4"`
	ExpMonth       int       `json:"exp_month,omitempty"`
	ExpYear        int       `json:"exp_year,omitempty"`
	IsDefault      bool      `json:"is_default"`
	ExternalID     string    `json:"external_id,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Invoice is one billing period's charges
type Invoice struct {
	ID             int64          `json:"id"`
	OrganizationID int64          `json:"organization_id"`
	Number         string         `json:"number"`
	Status         InvoiceStatus  `json:"status"`
	PeriodStart    time.Time      `json:"period_start"`
	PeriodEnd      time.Time      `json:"period_end"`
	SubtotalCents  int64          `json:"subtotal_cents"`
	TotalCents     int64          `json:"total_cents"`
	IssuedAt       time.Time      `json:"issued_at"`
	PaidAt         *time.Time     `json:"paid_at,omitempty"`
	Lines          []*InvoiceLine `json:"lines,omitempty"`
}

// InvoiceLine is one charge on an invoice
type InvoiceLine struct {
	ID          int64  `json:"id"`
	InvoiceID   int64  `json:"invoice_id"`
	Description string `json:"description"`
	Quantity    int64  `json:"quantity"`
	UnitCents   int64  `json:"unit_cents"`
	AmountCents int64  `json:"amount_cents"`
}

// AddPaymentMethodRequest registers a gateway-tokenized instrument
type AddPaymentMethodRequest struct {
	Kind       string `json:"kind"`
	Brand      string `json:"brand,omitempty"`
	Last4      string `json:"last4"`
	ExpMonth   int    `json:"exp_month,omitempty"`
	ExpYear    int    `json:"exp_year,omitempty"`
	ExternalID string `json:"external_id"`
}

// ChangePlanRequest moves the subscription to another tier
type ChangePlanRequest struct {
	PlanTier orgs.PlanTier `json:"plan_tier"`
}

var (
	// ErrNotFound marks a missing billing record
	ErrNotFound = errors.New("billing record not found")

	// ErrAlreadyInvoiced rejects generating a second invoice for the
	// same organization and period
	ErrAlreadyInvoiced = errors.New("period already invoiced")

	// ErrDefaultMethodInUse rejects removing the default payment
	// method while other methods remain
	ErrDefaultMethodInUse = errors.New("cannot remove the default payment method while others exist")
)
