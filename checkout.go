package tarif

import (
	"context"
	"time"

	"github.com/xraph/tarif/catalog"
	"github.com/xraph/tarif/id"
	"github.com/xraph/tarif/invoice"
	"github.com/xraph/tarif/store"
	"github.com/xraph/tarif/subscription"
	"github.com/xraph/tarif/token"
	"github.com/xraph/tarif/types"
)

// Invoice metadata keys recording what a capture should complete.
const (
	purposeKey      = "purpose"
	purposeCheckout = "checkout"
	purposeUpgrade  = "upgrade"
	purposeRenewal  = "renewal"
)

// CheckoutRequest describes one purchase: a plan subscription, add-ons,
// a token bundle, or any combination priced in a single invoice.
type CheckoutRequest struct {
	UserID string

	// PlanID subscribes the user to a plan. Optional.
	PlanID id.PlanID

	// AddOnIDs attach add-ons to the plan purchased in this checkout,
	// or to SubscriptionID when no plan is purchased.
	AddOnIDs []id.AddOnID

	// SubscriptionID is the existing live subscription add-ons attach
	// to when PlanID is empty.
	SubscriptionID id.SubscriptionID

	// BundleID purchases a token bundle. Optional.
	BundleID id.TokenBundleID

	Metadata map[string]string
}

// CheckoutResult reports what a checkout created. Invoice is nil when
// the total was zero and everything activated immediately.
type CheckoutResult struct {
	Subscription *subscription.Subscription
	AddOnSubs    []*subscription.AddOnSubscription
	Purchase     *token.BundlePurchase
	Invoice      *invoice.Invoice
	Total        types.Money
}

// Checkout prices the requested items, creates the pending records and,
// for a non-zero total, a pending invoice awaiting CapturePayment.
// Zero-total checkouts skip the invoice and activate immediately.
func (e *Engine) Checkout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	if req.UserID == "" {
		return nil, ValidationError{Field: "user_id", Message: "required"}
	}
	if req.PlanID.IsNil() && len(req.AddOnIDs) == 0 && req.BundleID.IsNil() {
		return nil, ValidationError{Field: "request", Message: "nothing to check out"}
	}

	now := e.now()

	var (
		plan      *catalog.Plan
		baseSub   *subscription.Subscription
		newSub    *subscription.Subscription
		addOnSubs []*subscription.AddOnSubscription
		purchase  *token.BundlePurchase
		lines     []invoice.LineItem
		err       error
	)

	invID := id.NewInvoiceID()

	if !req.PlanID.IsNil() {
		plan, err = e.store.GetPlan(ctx, req.PlanID)
		if err != nil {
			return nil, err
		}
		if plan.Status != catalog.StatusActive {
			return nil, ErrPlanArchived
		}

		key, err := e.exclusiveKeyFor(ctx, plan)
		if err != nil {
			return nil, err
		}
		if !key.IsNil() {
			if _, err := e.store.GetLiveSubscription(ctx, req.UserID, key); err == nil {
				return nil, ErrCategoryConflict
			}
		}

		newSub = &subscription.Subscription{
			Entity:       types.NewEntityAt(now),
			ID:           id.NewSubscriptionID(),
			UserID:       req.UserID,
			PlanID:       plan.ID,
			Status:       subscription.StatusPending,
			ExclusiveKey: key,
			Metadata:     req.Metadata,
		}
		baseSub = newSub

		if plan.Price.IsPositive() {
			lines = append(lines, chargeLine(invID, invoice.LineItemPlan, plan.ID, plan.Name, plan.Price))
		}
	} else if len(req.AddOnIDs) > 0 {
		if req.SubscriptionID.IsNil() {
			return nil, ValidationError{Field: "subscription_id", Message: "required to attach add-ons"}
		}
		baseSub, err = e.store.GetSubscription(ctx, req.SubscriptionID)
		if err != nil {
			return nil, err
		}
		if !baseSub.Live(now) {
			return nil, ErrNoLiveSubscription
		}
	}

	for _, addOnID := range req.AddOnIDs {
		addOn, err := e.store.GetAddOn(ctx, addOnID)
		if err != nil {
			return nil, err
		}
		if addOn.Status != catalog.StatusActive {
			return nil, ErrPlanArchived
		}
		if !addOn.CompatibleWith(baseSub.PlanID) {
			return nil, ErrAddOnNotAllowed
		}

		aSub := &subscription.AddOnSubscription{
			Entity:         types.NewEntityAt(now),
			ID:             id.NewAddOnSubID(),
			SubscriptionID: baseSub.ID,
			AddOnID:        addOn.ID,
			UserID:         req.UserID,
			Status:         subscription.StatusPending,
		}
		addOnSubs = append(addOnSubs, aSub)

		if addOn.Price.IsPositive() {
			lines = append(lines, chargeLine(invID, invoice.LineItemAddOn, aSub.ID, addOn.Name, addOn.Price))
		}
	}

	if !req.BundleID.IsNil() {
		bundle, err := e.store.GetTokenBundle(ctx, req.BundleID)
		if err != nil {
			return nil, err
		}
		if bundle.Status != catalog.StatusActive {
			return nil, ErrPlanArchived
		}

		purchase = &token.BundlePurchase{
			Entity:    types.NewEntityAt(now),
			ID:        id.NewBundlePurchaseID(),
			UserID:    req.UserID,
			BundleID:  bundle.ID,
			InvoiceID: invID,
			Tokens:    bundle.Tokens,
			Price:     bundle.Price,
			Status:    token.PurchasePending,
		}

		if bundle.Price.IsPositive() {
			lines = append(lines, chargeLine(invID, invoice.LineItemTokenBundle, purchase.ID, bundle.Name, bundle.Price))
		}
	}

	total, err := e.sumLines(lines)
	if err != nil {
		return nil, err
	}

	if total.IsZero() {
		return e.completeFreeCheckout(ctx, now, newSub, addOnSubs, purchase)
	}

	dueAt := now.Add(e.invoiceTTL)
	inv := &invoice.Invoice{
		Entity:    types.NewEntityAt(now),
		ID:        invID,
		Number:    invoice.NewNumber(now),
		UserID:    req.UserID,
		Status:    invoice.StatusPending,
		Currency:  total.Currency,
		Subtotal:  total,
		TaxAmount: types.Zero(total.Currency),
		Amount:    total,
		LineItems: lines,
		DueAt:     &dueAt,
		Metadata:  map[string]string{purposeKey: purposeCheckout},
	}
	if baseSub != nil {
		inv.SubscriptionID = baseSub.ID
	}
	if !inv.Consistent() {
		return nil, ErrInconsistentInvoice
	}

	set := &store.CheckoutSet{
		Subscription:   newSub,
		AddOnSubs:      addOnSubs,
		BundlePurchase: purchase,
		Invoice:        inv,
	}
	if err := e.store.ApplyCheckout(ctx, set); err != nil {
		return nil, err
	}

	result := &CheckoutResult{
		Subscription: newSub,
		AddOnSubs:    addOnSubs,
		Purchase:     purchase,
		Invoice:      inv,
		Total:        total,
	}

	e.logger.Info("checkout created",
		"user_id", req.UserID,
		"invoice", inv.Number,
		"total", total.String(),
	)
	e.plugins.EmitCheckoutCompleted(ctx, result)

	return result, nil
}

// completeFreeCheckout activates everything immediately: no invoice, no
// capture step, grants credited on the spot.
func (e *Engine) completeFreeCheckout(
	ctx context.Context,
	now time.Time,
	newSub *subscription.Subscription,
	addOnSubs []*subscription.AddOnSubscription,
	purchase *token.BundlePurchase,
) (*CheckoutResult, error) {
	var txns []*token.Transaction

	if newSub != nil {
		plan, err := e.store.GetPlan(ctx, newSub.PlanID)
		if err != nil {
			return nil, err
		}
		newSub.Status = subscription.StatusActive
		newSub.PeriodStart = now
		newSub.ExpiresAt = plan.Period.End(now)

		if plan.TokenGrant > 0 {
			txns = append(txns, e.grantTxn(now, newSub.UserID, token.TypeSubscriptionGrant, plan.TokenGrant, newSub.ID, id.Nil))
		}
	}

	for _, aSub := range addOnSubs {
		addOn, err := e.store.GetAddOn(ctx, aSub.AddOnID)
		if err != nil {
			return nil, err
		}
		aSub.Status = subscription.StatusActive
		aSub.PeriodStart = now
		aSub.ExpiresAt = addOn.Period.End(now)

		if addOn.TokenGrant > 0 {
			txns = append(txns, e.grantTxn(now, aSub.UserID, token.TypeSubscriptionGrant, addOn.TokenGrant, aSub.ID, id.Nil))
		}
	}

	if purchase != nil {
		purchase.InvoiceID = id.Nil
		purchase.Status = token.PurchaseCompleted
		purchase.TokensCredited = true
		completed := now
		purchase.CompletedAt = &completed
		if purchase.Tokens > 0 {
			txns = append(txns, e.grantTxn(now, purchase.UserID, token.TypePurchase, purchase.Tokens, purchase.ID, id.Nil))
		}
	}

	set := &store.CheckoutSet{
		Subscription:   newSub,
		AddOnSubs:      addOnSubs,
		BundlePurchase: purchase,
		Transactions:   txns,
	}
	if err := e.store.ApplyCheckout(ctx, set); err != nil {
		return nil, err
	}

	result := &CheckoutResult{
		Subscription: newSub,
		AddOnSubs:    addOnSubs,
		Purchase:     purchase,
		Total:        types.Zero(e.currency),
	}

	e.plugins.EmitCheckoutCompleted(ctx, result)
	if newSub != nil {
		e.plugins.EmitSubscriptionActivated(ctx, newSub)
	}
	for _, txn := range txns {
		e.plugins.EmitTokensCredited(ctx, txn)
	}

	return result, nil
}

// chargeLine builds a single-quantity untaxed charge: net equals gross
// until a tax rate applies.
func chargeLine(invID id.InvoiceID, typ invoice.LineItemType, refID id.AnyID, desc string, price types.Money) invoice.LineItem {
	return invoice.LineItem{
		ID:          id.NewLineItemID(),
		InvoiceID:   invID,
		Type:        typ,
		RefID:       refID,
		Description: desc,
		Quantity:    1,
		UnitAmount:  price,
		NetAmount:   price,
		TaxAmount:   types.Zero(price.Currency),
		GrossAmount: price,
	}
}

// sumLines totals line gross amounts, rejecting mixed currencies.
func (e *Engine) sumLines(lines []invoice.LineItem) (types.Money, error) {
	total := types.Zero(e.currency)
	for _, li := range lines {
		if li.GrossAmount.IsZero() {
			continue
		}
		if total.IsZero() && total.Currency != li.GrossAmount.Currency {
			total = types.Zero(li.GrossAmount.Currency)
		}
		if li.GrossAmount.Currency != total.Currency {
			return types.Money{}, ErrCurrencyMismatch
		}
		total = total.Add(li.GrossAmount)
	}
	return total, nil
}

// grantTxn builds a credit transaction.
func (e *Engine) grantTxn(now time.Time, userID string, txType token.TransactionType, amount int64, refID id.AnyID, invID id.InvoiceID) *token.Transaction {
	return &token.Transaction{
		Entity:    types.NewEntityAt(now),
		ID:        id.NewTokenTransactionID(),
		UserID:    userID,
		Type:      txType,
		Amount:    amount,
		RefID:     refID,
		InvoiceID: invID,
	}
}
