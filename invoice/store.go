package invoice

import (
	"context"
	"time"

	"github.com/xraph/tarif/id"
)

// Store is the invoice persistence interface.
type Store interface {
	Create(ctx context.Context, inv *Invoice) error
	Get(ctx context.Context, invID id.InvoiceID) (*Invoice, error)
	GetByNumber(ctx context.Context, number string) (*Invoice, error)
	ListByUser(ctx context.Context, userID string, opts ListOpts) ([]*Invoice, error)
	Update(ctx context.Context, inv *Invoice) error
	ListPendingBefore(ctx context.Context, cutoff time.Time) ([]*Invoice, error)

	// MarkPaid transitions a pending invoice to paid. It is a
	// compare-and-set: a second call for the same invoice fails with an
	// already-paid error, making payment capture idempotent upstream.
	MarkPaid(ctx context.Context, invID id.InvoiceID, paidAt time.Time, paymentRef, source string) error

	// MarkFailed transitions a pending invoice to failed.
	MarkFailed(ctx context.Context, invID id.InvoiceID, failedAt time.Time, reason string) error
}

// ListOpts filters invoice listings.
type ListOpts struct {
	Status Status
	Start  time.Time
	End    time.Time
	Limit  int
	Offset int
}
