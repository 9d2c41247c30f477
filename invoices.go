package tarif

import (
	"context"

	"github.com/xraph/tarif/id"
	"github.com/xraph/tarif/invoice"
)

// GetInvoice retrieves an invoice by ID.
func (e *Engine) GetInvoice(ctx context.Context, invID id.InvoiceID) (*invoice.Invoice, error) {
	return e.store.GetInvoice(ctx, invID)
}

// GetInvoiceByNumber retrieves an invoice by its human-readable number.
func (e *Engine) GetInvoiceByNumber(ctx context.Context, number string) (*invoice.Invoice, error) {
	return e.store.GetInvoiceByNumber(ctx, number)
}

// ListInvoices lists a user's invoices.
func (e *Engine) ListInvoices(ctx context.Context, userID string, opts invoice.ListOpts) ([]*invoice.Invoice, error) {
	return e.store.ListInvoices(ctx, userID, opts)
}
