// Package store defines the unified storage interface implemented by
// the memory, sqlite, postgres and mongo backends.
package store

import (
	"context"
	"time"

	"github.com/xraph/tarif/catalog"
	"github.com/xraph/tarif/id"
	"github.com/xraph/tarif/invoice"
	"github.com/xraph/tarif/subscription"
	"github.com/xraph/tarif/token"
)

// Store is the unified storage interface for all Tarif entities.
// Instead of embedding the sub-interfaces, we explicitly declare all
// methods to avoid naming conflicts.
type Store interface {
	// Plan methods
	CreatePlan(ctx context.Context, p *catalog.Plan) error
	GetPlan(ctx context.Context, planID id.PlanID) (*catalog.Plan, error)
	GetPlanBySlug(ctx context.Context, slug string) (*catalog.Plan, error)
	ListPlans(ctx context.Context, opts catalog.ListOpts) ([]*catalog.Plan, error)
	UpdatePlan(ctx context.Context, p *catalog.Plan) error
	ArchivePlan(ctx context.Context, planID id.PlanID) error

	// Category methods
	CreateCategory(ctx context.Context, c *catalog.Category) error
	GetCategory(ctx context.Context, catID id.CategoryID) (*catalog.Category, error)
	ListCategories(ctx context.Context) ([]*catalog.Category, error)
	UpdateCategory(ctx context.Context, c *catalog.Category) error

	// Add-on methods
	CreateAddOn(ctx context.Context, a *catalog.AddOn) error
	GetAddOn(ctx context.Context, addOnID id.AddOnID) (*catalog.AddOn, error)
	ListAddOns(ctx context.Context, opts catalog.ListOpts) ([]*catalog.AddOn, error)
	UpdateAddOn(ctx context.Context, a *catalog.AddOn) error

	// Token bundle methods
	CreateTokenBundle(ctx context.Context, b *catalog.TokenBundle) error
	GetTokenBundle(ctx context.Context, bundleID id.TokenBundleID) (*catalog.TokenBundle, error)
	ListTokenBundles(ctx context.Context, opts catalog.ListOpts) ([]*catalog.TokenBundle, error)
	UpdateTokenBundle(ctx context.Context, b *catalog.TokenBundle) error

	// Subscription methods
	CreateSubscription(ctx context.Context, s *subscription.Subscription) error
	GetSubscription(ctx context.Context, subID id.SubscriptionID) (*subscription.Subscription, error)
	GetLiveSubscription(ctx context.Context, userID string, exclusiveKey id.CategoryID) (*subscription.Subscription, error)
	ListSubscriptions(ctx context.Context, userID string, opts subscription.ListOpts) ([]*subscription.Subscription, error)
	UpdateSubscription(ctx context.Context, s *subscription.Subscription) error
	ListExpiringSubscriptions(ctx context.Context, before time.Time) ([]*subscription.Subscription, error)

	// ExpireSubscription is a compare-and-set: it expires the
	// subscription only if, at write time, its status still occupies an
	// exclusivity slot and its period ended before asOf. It returns
	// false when the guard no longer holds, e.g. the subscription was
	// paused or renewed since it was listed.
	ExpireSubscription(ctx context.Context, subID id.SubscriptionID, asOf time.Time) (bool, error)

	// Add-on subscription methods
	CreateAddOnSub(ctx context.Context, a *subscription.AddOnSubscription) error
	GetAddOnSub(ctx context.Context, addOnSubID id.AddOnSubID) (*subscription.AddOnSubscription, error)
	ListAddOnSubs(ctx context.Context, subID id.SubscriptionID) ([]*subscription.AddOnSubscription, error)
	UpdateAddOnSub(ctx context.Context, a *subscription.AddOnSubscription) error

	// Invoice methods
	CreateInvoice(ctx context.Context, inv *invoice.Invoice) error
	GetInvoice(ctx context.Context, invID id.InvoiceID) (*invoice.Invoice, error)
	GetInvoiceByNumber(ctx context.Context, number string) (*invoice.Invoice, error)
	ListInvoices(ctx context.Context, userID string, opts invoice.ListOpts) ([]*invoice.Invoice, error)
	UpdateInvoice(ctx context.Context, inv *invoice.Invoice) error
	// ListPendingInvoicesBefore returns pending invoices whose due time
	// passed before the cutoff.
	ListPendingInvoicesBefore(ctx context.Context, cutoff time.Time) ([]*invoice.Invoice, error)
	MarkInvoicePaid(ctx context.Context, invID id.InvoiceID, paidAt time.Time, paymentRef, source string) error
	MarkInvoiceFailed(ctx context.Context, invID id.InvoiceID, failedAt time.Time, reason string) error

	// Token ledger methods
	AppendTransaction(ctx context.Context, txn *token.Transaction) error
	AppendDebit(ctx context.Context, txn *token.Transaction) error
	ListTransactions(ctx context.Context, userID string, opts token.ListOpts) ([]*token.Transaction, error)
	TokenBalance(ctx context.Context, userID string) (int64, error)
	CreateBundlePurchase(ctx context.Context, p *token.BundlePurchase) error
	GetBundlePurchase(ctx context.Context, purchaseID id.BundlePurchaseID) (*token.BundlePurchase, error)
	UpdateBundlePurchase(ctx context.Context, p *token.BundlePurchase) error
	ListBundlePurchases(ctx context.Context, userID string) ([]*token.BundlePurchase, error)

	// Atomic pipeline methods
	ApplyCheckout(ctx context.Context, set *CheckoutSet) error
	ApplyCapture(ctx context.Context, set *CaptureSet) error
	ApplyRefund(ctx context.Context, set *RefundSet) error

	// Core methods
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// CheckoutSet is everything one checkout persists. Implementations
// apply all of it atomically or none of it: subscription exclusivity
// is checked before any write, and a conflict aborts the whole set.
type CheckoutSet struct {
	Subscription   *subscription.Subscription
	AddOnSubs      []*subscription.AddOnSubscription
	BundlePurchase *token.BundlePurchase
	Invoice        *invoice.Invoice

	// Transactions holds token grants applied immediately, e.g. for
	// zero-price checkouts that produce no invoice.
	Transactions []*token.Transaction
}

// CaptureSet applies the effects of a successful payment capture.
// The invoice transition is a compare-and-set on the pending status;
// if the invoice was already paid or is terminal, nothing else in the
// set is applied.
type CaptureSet struct {
	InvoiceID  id.InvoiceID
	PaidAt     time.Time
	PaymentRef string
	Source     string

	// Subscription and AddOnSubs carry the post-capture state
	// (activation, renewal, plan switch) to persist with the invoice
	// transition. The subscription write honors the exclusivity
	// invariant like any other.
	Subscription *subscription.Subscription
	AddOnSubs    []*subscription.AddOnSubscription

	// Purchases carries bundle purchases marked completed by this
	// capture, with TokensCredited set.
	Purchases    []*token.BundlePurchase
	Transactions []*token.Transaction
}

// RefundSet reverses a paid invoice. The invoice transition is a
// compare-and-set on the paid status.
type RefundSet struct {
	InvoiceID  id.InvoiceID
	RefundedAt time.Time
	Reason     string

	Subscription *subscription.Subscription
	AddOnSubs    []*subscription.AddOnSubscription

	// Purchases carries bundle purchases marked refunded.
	Purchases []*token.BundlePurchase

	// Debits lists token take-backs. Each debit is clamped at the
	// user's available balance at apply time so the ledger never goes
	// negative; a debit clamped to zero writes no transaction. The
	// clamped amounts are written back into the set so callers observe
	// what was actually applied.
	Debits []*token.Transaction
}
