// Package memory provides an in-memory Store for tests and embedded use.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/xraph/tarif"
	"github.com/xraph/tarif/catalog"
	"github.com/xraph/tarif/id"
	"github.com/xraph/tarif/invoice"
	"github.com/xraph/tarif/store"
	"github.com/xraph/tarif/subscription"
	"github.com/xraph/tarif/token"
)

// Store keeps mutable entities behind clone-on-read and clone-on-write
// boundaries: callers never share a pointer with the maps, so mutating
// a returned record changes nothing until it is written back.
type Store struct {
	mu sync.RWMutex

	plans      map[string]*catalog.Plan
	categories map[string]*catalog.Category
	addOns     map[string]*catalog.AddOn
	bundles    map[string]*catalog.TokenBundle

	subscriptions map[string]*subscription.Subscription
	addOnSubs     map[string]*subscription.AddOnSubscription

	invoices map[string]*invoice.Invoice

	transactions []*token.Transaction
	balances     map[string]int64
	purchases    map[string]*token.BundlePurchase

	closed bool
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		plans:         make(map[string]*catalog.Plan),
		categories:    make(map[string]*catalog.Category),
		addOns:        make(map[string]*catalog.AddOn),
		bundles:       make(map[string]*catalog.TokenBundle),
		subscriptions: make(map[string]*subscription.Subscription),
		addOnSubs:     make(map[string]*subscription.AddOnSubscription),
		invoices:      make(map[string]*invoice.Invoice),
		transactions:  make([]*token.Transaction, 0),
		balances:      make(map[string]int64),
		purchases:     make(map[string]*token.BundlePurchase),
	}
}

// ──────────────────────────────────────────────────
// Plans
// ──────────────────────────────────────────────────

func (s *Store) CreatePlan(_ context.Context, p *catalog.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.plans[p.ID.String()]; exists {
		return tarif.ErrAlreadyExists
	}
	s.plans[p.ID.String()] = p
	return nil
}

func (s *Store) GetPlan(_ context.Context, planID id.PlanID) (*catalog.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if p, ok := s.plans[planID.String()]; ok {
		return p, nil
	}
	return nil, tarif.ErrPlanNotFound
}

func (s *Store) GetPlanBySlug(_ context.Context, slug string) (*catalog.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.plans {
		if p.Slug == slug {
			return p, nil
		}
	}
	return nil, tarif.ErrPlanNotFound
}

func (s *Store) ListPlans(_ context.Context, opts catalog.ListOpts) ([]*catalog.Plan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*catalog.Plan, 0)
	for _, p := range s.plans {
		if opts.Status == "" || p.Status == opts.Status {
			result = append(result, p)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ID.String() < result[j].ID.String()
	})
	return paginate(result, opts.Offset, opts.Limit), nil
}

func (s *Store) UpdatePlan(_ context.Context, p *catalog.Plan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.plans[p.ID.String()]; !exists {
		return tarif.ErrPlanNotFound
	}
	s.plans[p.ID.String()] = p
	return nil
}

func (s *Store) ArchivePlan(_ context.Context, planID id.PlanID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, exists := s.plans[planID.String()]; exists {
		p.Status = catalog.StatusArchived
		return nil
	}
	return tarif.ErrPlanNotFound
}

// ──────────────────────────────────────────────────
// Categories
// ──────────────────────────────────────────────────

func (s *Store) CreateCategory(_ context.Context, c *catalog.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.categories[c.ID.String()]; exists {
		return tarif.ErrAlreadyExists
	}
	s.categories[c.ID.String()] = c
	return nil
}

func (s *Store) GetCategory(_ context.Context, catID id.CategoryID) (*catalog.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if c, ok := s.categories[catID.String()]; ok {
		return c, nil
	}
	return nil, tarif.ErrCategoryNotFound
}

func (s *Store) ListCategories(_ context.Context) ([]*catalog.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*catalog.Category, 0, len(s.categories))
	for _, c := range s.categories {
		result = append(result, c)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ID.String() < result[j].ID.String()
	})
	return result, nil
}

func (s *Store) UpdateCategory(_ context.Context, c *catalog.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.categories[c.ID.String()]; !exists {
		return tarif.ErrCategoryNotFound
	}
	s.categories[c.ID.String()] = c
	return nil
}

// ──────────────────────────────────────────────────
// Add-ons
// ──────────────────────────────────────────────────

func (s *Store) CreateAddOn(_ context.Context, a *catalog.AddOn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.addOns[a.ID.String()]; exists {
		return tarif.ErrAlreadyExists
	}
	s.addOns[a.ID.String()] = a
	return nil
}

func (s *Store) GetAddOn(_ context.Context, addOnID id.AddOnID) (*catalog.AddOn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if a, ok := s.addOns[addOnID.String()]; ok {
		return a, nil
	}
	return nil, tarif.ErrAddOnNotFound
}

func (s *Store) ListAddOns(_ context.Context, opts catalog.ListOpts) ([]*catalog.AddOn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*catalog.AddOn, 0)
	for _, a := range s.addOns {
		if opts.Status == "" || a.Status == opts.Status {
			result = append(result, a)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ID.String() < result[j].ID.String()
	})
	return paginate(result, opts.Offset, opts.Limit), nil
}

func (s *Store) UpdateAddOn(_ context.Context, a *catalog.AddOn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.addOns[a.ID.String()]; !exists {
		return tarif.ErrAddOnNotFound
	}
	s.addOns[a.ID.String()] = a
	return nil
}

// ──────────────────────────────────────────────────
// Token bundles
// ──────────────────────────────────────────────────

func (s *Store) CreateTokenBundle(_ context.Context, b *catalog.TokenBundle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.bundles[b.ID.String()]; exists {
		return tarif.ErrAlreadyExists
	}
	s.bundles[b.ID.String()] = b
	return nil
}

func (s *Store) GetTokenBundle(_ context.Context, bundleID id.TokenBundleID) (*catalog.TokenBundle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if b, ok := s.bundles[bundleID.String()]; ok {
		return b, nil
	}
	return nil, tarif.ErrBundleNotFound
}

func (s *Store) ListTokenBundles(_ context.Context, opts catalog.ListOpts) ([]*catalog.TokenBundle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*catalog.TokenBundle, 0)
	for _, b := range s.bundles {
		if opts.Status == "" || b.Status == opts.Status {
			result = append(result, b)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ID.String() < result[j].ID.String()
	})
	return paginate(result, opts.Offset, opts.Limit), nil
}

func (s *Store) UpdateTokenBundle(_ context.Context, b *catalog.TokenBundle) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.bundles[b.ID.String()]; !exists {
		return tarif.ErrBundleNotFound
	}
	s.bundles[b.ID.String()] = b
	return nil
}

// ──────────────────────────────────────────────────
// Subscriptions
// ──────────────────────────────────────────────────

// conflictingSub reports whether another live subscription holds the
// same (user, exclusive key). Caller must hold the lock.
func (s *Store) conflictingSub(sub *subscription.Subscription) bool {
	if sub.ExclusiveKey.IsNil() || !sub.Status.Occupies() {
		return false
	}
	for _, other := range s.subscriptions {
		if other.ID == sub.ID {
			continue
		}
		if other.UserID == sub.UserID &&
			other.ExclusiveKey == sub.ExclusiveKey &&
			other.Status.Occupies() {
			return true
		}
	}
	return false
}

func (s *Store) CreateSubscription(_ context.Context, sub *subscription.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.createSubscriptionLocked(sub)
}

func (s *Store) createSubscriptionLocked(sub *subscription.Subscription) error {
	if _, exists := s.subscriptions[sub.ID.String()]; exists {
		return tarif.ErrAlreadyExists
	}
	if s.conflictingSub(sub) {
		return tarif.ErrCategoryConflict
	}
	s.subscriptions[sub.ID.String()] = sub.Clone()
	return nil
}

func (s *Store) GetSubscription(_ context.Context, subID id.SubscriptionID) (*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if sub, ok := s.subscriptions[subID.String()]; ok {
		return sub.Clone(), nil
	}
	return nil, tarif.ErrSubscriptionNotFound
}

func (s *Store) GetLiveSubscription(_ context.Context, userID string, exclusiveKey id.CategoryID) (*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, sub := range s.subscriptions {
		if sub.UserID == userID && sub.ExclusiveKey == exclusiveKey && sub.Status.Occupies() {
			return sub.Clone(), nil
		}
	}
	return nil, tarif.ErrNoLiveSubscription
}

func (s *Store) ListSubscriptions(_ context.Context, userID string, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*subscription.Subscription, 0)
	for _, sub := range s.subscriptions {
		if sub.UserID == userID {
			if opts.Status == "" || sub.Status == opts.Status {
				result = append(result, sub.Clone())
			}
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ID.String() < result[j].ID.String()
	})
	return paginate(result, opts.Offset, opts.Limit), nil
}

func (s *Store) UpdateSubscription(_ context.Context, sub *subscription.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.updateSubscriptionLocked(sub)
}

func (s *Store) updateSubscriptionLocked(sub *subscription.Subscription) error {
	if _, exists := s.subscriptions[sub.ID.String()]; !exists {
		return tarif.ErrSubscriptionNotFound
	}
	if s.conflictingSub(sub) {
		return tarif.ErrCategoryConflict
	}
	s.subscriptions[sub.ID.String()] = sub.Clone()
	return nil
}

func (s *Store) ListExpiringSubscriptions(_ context.Context, before time.Time) ([]*subscription.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*subscription.Subscription, 0)
	for _, sub := range s.subscriptions {
		if sub.Status.Live() && sub.Status != subscription.StatusPaused && sub.ExpiresAt.Before(before) {
			result = append(result, sub.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ExpiresAt.Before(result[j].ExpiresAt)
	})
	return result, nil
}

// ExpireSubscription re-checks the expiry guard under the lock, so a
// subscription renewed or paused after it was listed is left alone.
func (s *Store) ExpireSubscription(_ context.Context, subID id.SubscriptionID, asOf time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, exists := s.subscriptions[subID.String()]
	if !exists {
		return false, tarif.ErrSubscriptionNotFound
	}
	if !sub.Status.Occupies() || !sub.ExpiresAt.Before(asOf) {
		return false, nil
	}
	sub.Status = subscription.StatusExpired
	ended := asOf
	sub.EndedAt = &ended
	sub.Touch()
	return true, nil
}

// ──────────────────────────────────────────────────
// Add-on subscriptions
// ──────────────────────────────────────────────────

func (s *Store) CreateAddOnSub(_ context.Context, a *subscription.AddOnSubscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.createAddOnSubLocked(a)
}

func (s *Store) createAddOnSubLocked(a *subscription.AddOnSubscription) error {
	if _, exists := s.addOnSubs[a.ID.String()]; exists {
		return tarif.ErrAlreadyExists
	}
	s.addOnSubs[a.ID.String()] = a.Clone()
	return nil
}

func (s *Store) GetAddOnSub(_ context.Context, addOnSubID id.AddOnSubID) (*subscription.AddOnSubscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if a, ok := s.addOnSubs[addOnSubID.String()]; ok {
		return a.Clone(), nil
	}
	return nil, tarif.ErrSubscriptionNotFound
}

func (s *Store) ListAddOnSubs(_ context.Context, subID id.SubscriptionID) ([]*subscription.AddOnSubscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*subscription.AddOnSubscription, 0)
	for _, a := range s.addOnSubs {
		if a.SubscriptionID == subID {
			result = append(result, a.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ID.String() < result[j].ID.String()
	})
	return result, nil
}

func (s *Store) UpdateAddOnSub(_ context.Context, a *subscription.AddOnSubscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.addOnSubs[a.ID.String()]; !exists {
		return tarif.ErrSubscriptionNotFound
	}
	s.addOnSubs[a.ID.String()] = a.Clone()
	return nil
}

// ──────────────────────────────────────────────────
// Invoices
// ──────────────────────────────────────────────────

func (s *Store) CreateInvoice(_ context.Context, inv *invoice.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.createInvoiceLocked(inv)
}

func (s *Store) createInvoiceLocked(inv *invoice.Invoice) error {
	if _, exists := s.invoices[inv.ID.String()]; exists {
		return tarif.ErrAlreadyExists
	}
	if !inv.Consistent() {
		return tarif.ErrInconsistentInvoice
	}
	s.invoices[inv.ID.String()] = inv.Clone()
	return nil
}

func (s *Store) GetInvoice(_ context.Context, invID id.InvoiceID) (*invoice.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if inv, ok := s.invoices[invID.String()]; ok {
		return inv.Clone(), nil
	}
	return nil, tarif.ErrInvoiceNotFound
}

func (s *Store) GetInvoiceByNumber(_ context.Context, number string) (*invoice.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, inv := range s.invoices {
		if inv.Number == number {
			return inv.Clone(), nil
		}
	}
	return nil, tarif.ErrInvoiceNotFound
}

func (s *Store) ListInvoices(_ context.Context, userID string, opts invoice.ListOpts) ([]*invoice.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*invoice.Invoice, 0)
	for _, inv := range s.invoices {
		if inv.UserID != userID {
			continue
		}
		if opts.Status != "" && inv.Status != opts.Status {
			continue
		}
		if !opts.Start.IsZero() && inv.CreatedAt.Before(opts.Start) {
			continue
		}
		if !opts.End.IsZero() && inv.CreatedAt.After(opts.End) {
			continue
		}
		result = append(result, inv.Clone())
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ID.String() < result[j].ID.String()
	})
	return paginate(result, opts.Offset, opts.Limit), nil
}

func (s *Store) UpdateInvoice(_ context.Context, inv *invoice.Invoice) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.invoices[inv.ID.String()]; !exists {
		return tarif.ErrInvoiceNotFound
	}
	if !inv.Consistent() {
		return tarif.ErrInconsistentInvoice
	}
	s.invoices[inv.ID.String()] = inv.Clone()
	return nil
}

func (s *Store) ListPendingInvoicesBefore(_ context.Context, cutoff time.Time) ([]*invoice.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*invoice.Invoice, 0)
	for _, inv := range s.invoices {
		if inv.Status == invoice.StatusPending && inv.DueAt != nil && inv.DueAt.Before(cutoff) {
			result = append(result, inv.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].DueAt.Before(*result[j].DueAt)
	})
	return result, nil
}

func (s *Store) MarkInvoicePaid(_ context.Context, invID id.InvoiceID, paidAt time.Time, paymentRef, source string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.markInvoicePaidLocked(invID, paidAt, paymentRef, source)
}

func (s *Store) markInvoicePaidLocked(invID id.InvoiceID, paidAt time.Time, paymentRef, source string) error {
	inv, exists := s.invoices[invID.String()]
	if !exists {
		return tarif.ErrInvoiceNotFound
	}
	switch inv.Status {
	case invoice.StatusPaid:
		return tarif.ErrInvoicePaid
	case invoice.StatusPending, invoice.StatusFailed:
		// Failed invoices may still settle on a retried capture.
	default:
		return tarif.ErrInvoiceTerminal
	}
	inv.Status = invoice.StatusPaid
	inv.PaidAt = &paidAt
	inv.PaymentRef = paymentRef
	inv.CaptureSource = source
	inv.Touch()
	return nil
}

func (s *Store) MarkInvoiceFailed(_ context.Context, invID id.InvoiceID, failedAt time.Time, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, exists := s.invoices[invID.String()]
	if !exists {
		return tarif.ErrInvoiceNotFound
	}
	if inv.Status != invoice.StatusPending {
		if inv.Status == invoice.StatusPaid {
			return tarif.ErrInvoicePaid
		}
		return tarif.ErrInvoiceTerminal
	}
	inv.Status = invoice.StatusFailed
	inv.FailedAt = &failedAt
	inv.FailureReason = reason
	inv.Touch()
	return nil
}

// ──────────────────────────────────────────────────
// Token ledger
// ──────────────────────────────────────────────────

// appendTxnLocked stores the transaction and folds it into the
// materialized balance in the same critical section.
func (s *Store) appendTxnLocked(txn *token.Transaction) {
	s.transactions = append(s.transactions, txn.Clone())
	s.balances[txn.UserID] += txn.Amount
}

func (s *Store) AppendTransaction(_ context.Context, txn *token.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.appendTxnLocked(txn)
	return nil
}

func (s *Store) AppendDebit(_ context.Context, txn *token.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.balances[txn.UserID]+txn.Amount < 0 {
		return tarif.ErrInsufficientTokens
	}
	s.appendTxnLocked(txn)
	return nil
}

func (s *Store) ListTransactions(_ context.Context, userID string, opts token.ListOpts) ([]*token.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*token.Transaction, 0)
	for _, txn := range s.transactions {
		if txn.UserID != userID {
			continue
		}
		if opts.Type != "" && txn.Type != opts.Type {
			continue
		}
		result = append(result, txn.Clone())
	}
	return paginate(result, opts.Offset, opts.Limit), nil
}

func (s *Store) TokenBalance(_ context.Context, userID string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.balances[userID], nil
}

func (s *Store) CreateBundlePurchase(_ context.Context, p *token.BundlePurchase) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.createBundlePurchaseLocked(p)
}

func (s *Store) createBundlePurchaseLocked(p *token.BundlePurchase) error {
	if _, exists := s.purchases[p.ID.String()]; exists {
		return tarif.ErrAlreadyExists
	}
	s.purchases[p.ID.String()] = p.Clone()
	return nil
}

func (s *Store) GetBundlePurchase(_ context.Context, purchaseID id.BundlePurchaseID) (*token.BundlePurchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if p, ok := s.purchases[purchaseID.String()]; ok {
		return p.Clone(), nil
	}
	return nil, tarif.ErrPurchaseNotFound
}

func (s *Store) UpdateBundlePurchase(_ context.Context, p *token.BundlePurchase) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.purchases[p.ID.String()]; !exists {
		return tarif.ErrPurchaseNotFound
	}
	s.purchases[p.ID.String()] = p.Clone()
	return nil
}

func (s *Store) ListBundlePurchases(_ context.Context, userID string) ([]*token.BundlePurchase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*token.BundlePurchase, 0)
	for _, p := range s.purchases {
		if p.UserID == userID {
			result = append(result, p.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ID.String() < result[j].ID.String()
	})
	return result, nil
}

// ──────────────────────────────────────────────────
// Atomic pipeline sets
// ──────────────────────────────────────────────────

// ApplyCheckout validates the whole set before touching any map, so a
// failure leaves the store unchanged.
func (s *Store) ApplyCheckout(_ context.Context, set *store.CheckoutSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if set.Subscription != nil {
		if _, exists := s.subscriptions[set.Subscription.ID.String()]; exists {
			return tarif.ErrAlreadyExists
		}
		if s.conflictingSub(set.Subscription) {
			return tarif.ErrCategoryConflict
		}
	}
	for _, a := range set.AddOnSubs {
		if _, exists := s.addOnSubs[a.ID.String()]; exists {
			return tarif.ErrAlreadyExists
		}
	}
	if set.BundlePurchase != nil {
		if _, exists := s.purchases[set.BundlePurchase.ID.String()]; exists {
			return tarif.ErrAlreadyExists
		}
	}
	if set.Invoice != nil {
		if _, exists := s.invoices[set.Invoice.ID.String()]; exists {
			return tarif.ErrAlreadyExists
		}
		if !set.Invoice.Consistent() {
			return tarif.ErrInconsistentInvoice
		}
	}

	if set.Subscription != nil {
		s.subscriptions[set.Subscription.ID.String()] = set.Subscription.Clone()
	}
	for _, a := range set.AddOnSubs {
		s.addOnSubs[a.ID.String()] = a.Clone()
	}
	if set.BundlePurchase != nil {
		s.purchases[set.BundlePurchase.ID.String()] = set.BundlePurchase.Clone()
	}
	if set.Invoice != nil {
		s.invoices[set.Invoice.ID.String()] = set.Invoice.Clone()
	}
	for _, txn := range set.Transactions {
		s.appendTxnLocked(txn)
	}
	return nil
}

// ApplyCapture performs the paid transition first; a lost capture race
// aborts before any subscription or ledger write.
func (s *Store) ApplyCapture(_ context.Context, set *store.CaptureSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if set.Subscription != nil {
		if _, exists := s.subscriptions[set.Subscription.ID.String()]; !exists {
			return tarif.ErrSubscriptionNotFound
		}
		if s.conflictingSub(set.Subscription) {
			return tarif.ErrCategoryConflict
		}
	}
	for _, p := range set.Purchases {
		if _, exists := s.purchases[p.ID.String()]; !exists {
			return tarif.ErrPurchaseNotFound
		}
	}

	if err := s.markInvoicePaidLocked(set.InvoiceID, set.PaidAt, set.PaymentRef, set.Source); err != nil {
		return err
	}

	if set.Subscription != nil {
		s.subscriptions[set.Subscription.ID.String()] = set.Subscription.Clone()
	}
	for _, a := range set.AddOnSubs {
		s.addOnSubs[a.ID.String()] = a.Clone()
	}
	for _, p := range set.Purchases {
		s.purchases[p.ID.String()] = p.Clone()
	}
	for _, txn := range set.Transactions {
		s.appendTxnLocked(txn)
	}
	return nil
}

// ApplyRefund transitions a paid invoice to refunded and claws back
// tokens, clamping each debit at the user's available balance. Clamped
// amounts are written back into the set so callers observe what was
// actually applied.
func (s *Store) ApplyRefund(_ context.Context, set *store.RefundSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	inv, exists := s.invoices[set.InvoiceID.String()]
	if !exists {
		return tarif.ErrInvoiceNotFound
	}
	if inv.Status != invoice.StatusPaid {
		return tarif.ErrInvoiceNotPaid
	}

	if set.Subscription != nil {
		if _, ok := s.subscriptions[set.Subscription.ID.String()]; !ok {
			return tarif.ErrSubscriptionNotFound
		}
	}
	for _, p := range set.Purchases {
		if _, ok := s.purchases[p.ID.String()]; !ok {
			return tarif.ErrPurchaseNotFound
		}
	}

	inv.Status = invoice.StatusRefunded
	inv.RefundedAt = &set.RefundedAt
	if set.Reason != "" {
		if inv.Metadata == nil {
			inv.Metadata = make(map[string]string)
		}
		inv.Metadata["refund_reason"] = set.Reason
	}
	inv.Touch()

	if set.Subscription != nil {
		s.subscriptions[set.Subscription.ID.String()] = set.Subscription.Clone()
	}
	for _, a := range set.AddOnSubs {
		s.addOnSubs[a.ID.String()] = a.Clone()
	}
	for _, p := range set.Purchases {
		s.purchases[p.ID.String()] = p.Clone()
	}

	for _, debit := range set.Debits {
		available := s.balances[debit.UserID]
		amount := debit.Amount
		if -amount > available {
			amount = -available
		}
		debit.Amount = amount
		if amount == 0 {
			continue
		}
		s.appendTxnLocked(debit)
	}
	return nil
}

// ──────────────────────────────────────────────────
// Core
// ──────────────────────────────────────────────────

func (s *Store) Migrate(_ context.Context) error { return nil }

func (s *Store) Ping(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return tarif.ErrStoreClosed
	}
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	return nil
}

func paginate[T any](items []T, offset, limit int) []T {
	start := offset
	if start > len(items) {
		start = len(items)
	}
	end := start + limit
	if limit == 0 || end > len(items) {
		end = len(items)
	}
	return items[start:end]
}
