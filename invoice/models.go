// Package invoice defines invoices and their line items. An invoice
// records what a checkout charged for; its line items reference the
// catalog entries and subscriptions the charge covers.
package invoice

import (
	"crypto/rand"
	"encoding/hex"
	"strconv"
	"time"

	"github.com/xraph/tarif/id"
	"github.com/xraph/tarif/types"
)

// Status is the payment lifecycle state of an invoice.
type Status string

const (
	// StatusPending awaits payment capture.
	StatusPending Status = "pending"

	// StatusPaid is settled. Paid is terminal except for refunds.
	StatusPaid Status = "paid"

	// StatusFailed records a declined capture. Failed invoices may be
	// retried by issuing a new checkout.
	StatusFailed Status = "failed"

	// StatusRefunded is a paid invoice whose payment was returned.
	StatusRefunded Status = "refunded"

	// StatusLapsed is a pending invoice that outlived its TTL.
	StatusLapsed Status = "lapsed"
)

// Terminal reports whether the status admits no further payment events.
func (s Status) Terminal() bool {
	return s == StatusRefunded || s == StatusLapsed
}

// Invoice is the financial record of one checkout. Subtotal is the sum
// of the line net amounts, Amount the sum of the gross; the two differ
// by TaxAmount.
type Invoice struct {
	types.Entity
	ID             id.InvoiceID      `json:"id"`
	Number         string            `json:"number"`
	UserID         string            `json:"user_id"`
	SubscriptionID id.SubscriptionID `json:"subscription_id,omitzero"`
	Status         Status            `json:"status"`
	Currency       string            `json:"currency"`
	Subtotal       types.Money       `json:"subtotal"`
	TaxAmount      types.Money       `json:"tax_amount"`
	Amount         types.Money       `json:"amount"`
	LineItems      []LineItem        `json:"line_items"`
	DueAt          *time.Time        `json:"due_at,omitempty"`
	PaidAt         *time.Time        `json:"paid_at,omitempty"`
	FailedAt       *time.Time        `json:"failed_at,omitempty"`
	RefundedAt     *time.Time        `json:"refunded_at,omitempty"`
	FailureReason  string            `json:"failure_reason,omitempty"`
	PaymentRef     string            `json:"payment_ref,omitempty"`
	CaptureSource  string            `json:"capture_source,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Clone returns a deep copy of the invoice.
func (i *Invoice) Clone() *Invoice {
	c := *i
	c.DueAt = cloneTime(i.DueAt)
	c.PaidAt = cloneTime(i.PaidAt)
	c.FailedAt = cloneTime(i.FailedAt)
	c.RefundedAt = cloneTime(i.RefundedAt)
	if i.LineItems != nil {
		c.LineItems = make([]LineItem, len(i.LineItems))
		for j, li := range i.LineItems {
			c.LineItems[j] = *li.Clone()
		}
	}
	if i.Metadata != nil {
		c.Metadata = make(map[string]string, len(i.Metadata))
		for k, v := range i.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// LineItem is one charge or credit on an invoice. NetAmount is
// UnitAmount times Quantity before tax, GrossAmount is net plus
// TaxAmount; proration credits carry negative amounts.
type LineItem struct {
	ID          id.LineItemID     `json:"id"`
	InvoiceID   id.InvoiceID      `json:"invoice_id"`
	Type        LineItemType      `json:"type"`
	RefID       id.AnyID          `json:"ref_id,omitzero"`
	Description string            `json:"description"`
	Quantity    int64             `json:"quantity"`
	UnitAmount  types.Money       `json:"unit_amount"`
	NetAmount   types.Money       `json:"net_amount"`
	TaxAmount   types.Money       `json:"tax_amount"`
	GrossAmount types.Money       `json:"gross_amount"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Clone returns an independent copy of the line item.
func (li *LineItem) Clone() *LineItem {
	c := *li
	if li.Metadata != nil {
		c.Metadata = make(map[string]string, len(li.Metadata))
		for k, v := range li.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// LineItemType classifies what a line item charges for.
type LineItemType string

const (
	LineItemPlan        LineItemType = "plan"
	LineItemAddOn       LineItemType = "addon"
	LineItemTokenBundle LineItemType = "token_bundle"
	LineItemProration   LineItemType = "proration"
)

// Total sums the line gross amounts in the invoice currency.
func (i *Invoice) Total() types.Money {
	total := types.Zero(i.Currency)
	for _, li := range i.LineItems {
		total = total.Add(li.GrossAmount)
	}
	return total
}

// NetTotal sums the line net amounts in the invoice currency.
func (i *Invoice) NetTotal() types.Money {
	total := types.Zero(i.Currency)
	for _, li := range i.LineItems {
		total = total.Add(li.NetAmount)
	}
	return total
}

// Consistent reports whether the invoice totals equal the sums of its
// line items and net plus tax equals gross on every line. Inconsistent
// invoices must never be persisted.
func (i *Invoice) Consistent() bool {
	for _, li := range i.LineItems {
		if !li.NetAmount.Add(li.TaxAmount).Equal(li.GrossAmount) {
			return false
		}
	}
	if !i.Subtotal.Equal(i.NetTotal()) {
		return false
	}
	if !i.Subtotal.Add(i.TaxAmount).Equal(i.Amount) {
		return false
	}
	return i.Amount.Equal(i.Total())
}

// NewNumber generates a human-readable invoice number of the form
// "INV-<unix-timestamp>-<6 hex chars>".
func NewNumber(now time.Time) string {
	suffix := make([]byte, 3)
	_, _ = rand.Read(suffix)
	return "INV-" + strconv.FormatInt(now.Unix(), 10) + "-" + hex.EncodeToString(suffix)
}
