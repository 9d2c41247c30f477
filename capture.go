package tarif

import (
	"context"
	"errors"
	"fmt"

	"github.com/xraph/tarif/id"
	"github.com/xraph/tarif/invoice"
	"github.com/xraph/tarif/store"
	"github.com/xraph/tarif/subscription"
	"github.com/xraph/tarif/token"
)

// Well-known capture source names.
const (
	SourceCardProcessor = "card_processor"
	SourceBankTransfer  = "bank_transfer"
	SourceManual        = "manual"
)

// CaptureResult reports what a capture settled: the paid invoice plus
// the records the payment activated or extended. A replayed capture
// returns the state from the first settlement with no Transactions,
// since nothing was granted again.
type CaptureResult struct {
	Invoice      *invoice.Invoice
	Subscription *subscription.Subscription
	AddOnSubs    []*subscription.AddOnSubscription
	Transactions []*token.Transaction
}

// CapturePayment settles a pending invoice and applies everything the
// invoice was issued for: activating the checkout's subscription and
// add-ons, completing a plan switch, or extending a renewal, plus the
// token grants. The paid transition is a compare-and-set, so concurrent
// captures of the same invoice settle exactly once; a capture of an
// already-paid invoice is an idempotent replay that returns the prior
// result instead of an error.
func (e *Engine) CapturePayment(ctx context.Context, invID id.InvoiceID, paymentRef, source string) (*CaptureResult, error) {
	inv, err := e.store.GetInvoice(ctx, invID)
	if err != nil {
		return nil, err
	}
	switch inv.Status {
	case invoice.StatusPaid:
		return e.priorCaptureResult(ctx, inv)
	case invoice.StatusPending, invoice.StatusFailed:
	default:
		return nil, ErrInvoiceTerminal
	}

	if source == "" {
		source = SourceManual
	}
	if err := e.validateSource(ctx, source, paymentRef); err != nil {
		return nil, err
	}

	now := e.now()
	set := &store.CaptureSet{
		InvoiceID:  inv.ID,
		PaidAt:     now,
		PaymentRef: paymentRef,
		Source:     source,
	}

	purpose := inv.Metadata[purposeKey]
	switch purpose {
	case purposeCheckout:
		err = e.buildCheckoutCapture(ctx, inv, set)
	case purposeUpgrade:
		err = e.buildUpgradeCapture(ctx, inv, set)
	case purposeRenewal:
		err = e.buildRenewalCapture(ctx, inv, set)
	default:
		err = fmt.Errorf("%w: invoice %s has no purpose", ErrInvalidInput, inv.Number)
	}
	if err != nil {
		return nil, err
	}

	if err := e.store.ApplyCapture(ctx, set); err != nil {
		// A concurrent capture won the paid CAS; replay its result.
		if errors.Is(err, ErrInvoicePaid) {
			settled, gerr := e.store.GetInvoice(ctx, invID)
			if gerr != nil {
				return nil, gerr
			}
			return e.priorCaptureResult(ctx, settled)
		}
		return nil, err
	}

	inv.Status = invoice.StatusPaid
	inv.PaidAt = &now
	inv.PaymentRef = paymentRef
	inv.CaptureSource = source

	e.logger.Info("payment captured",
		"invoice", inv.Number,
		"amount", inv.Amount.String(),
		"source", source,
	)

	e.plugins.EmitPaymentCaptured(ctx, inv)
	if set.Subscription != nil {
		e.plugins.EmitSubscriptionActivated(ctx, set.Subscription)
	}
	for _, txn := range set.Transactions {
		e.plugins.EmitTokensCredited(ctx, txn)
	}

	return &CaptureResult{
		Invoice:      inv,
		Subscription: set.Subscription,
		AddOnSubs:    set.AddOnSubs,
		Transactions: set.Transactions,
	}, nil
}

// priorCaptureResult reassembles the result of an already-settled
// capture from the persisted state.
func (e *Engine) priorCaptureResult(ctx context.Context, inv *invoice.Invoice) (*CaptureResult, error) {
	result := &CaptureResult{Invoice: inv}
	if !inv.SubscriptionID.IsNil() {
		sub, err := e.store.GetSubscription(ctx, inv.SubscriptionID)
		if err != nil {
			return nil, err
		}
		result.Subscription = sub
		addOnSubs, err := e.store.ListAddOnSubs(ctx, sub.ID)
		if err != nil {
			return nil, err
		}
		result.AddOnSubs = addOnSubs
	}
	return result, nil
}

// FailPayment records a declined capture. The invoice moves to failed
// and stays retryable; the pending subscription is untouched until the
// lapse sweep claims it.
func (e *Engine) FailPayment(ctx context.Context, invID id.InvoiceID, reason string) error {
	inv, err := e.store.GetInvoice(ctx, invID)
	if err != nil {
		return err
	}

	now := e.now()
	if err := e.store.MarkInvoiceFailed(ctx, invID, now, reason); err != nil {
		return err
	}

	inv.Status = invoice.StatusFailed
	inv.FailedAt = &now
	inv.FailureReason = reason

	e.logger.Warn("payment failed",
		"invoice", inv.Number,
		"reason", reason,
	)
	e.plugins.EmitPaymentFailed(ctx, inv, reason)

	return nil
}

// validateSource consults registered capture source plugins. When at
// least one source is registered, the named source must exist and
// accept the payment reference; with none registered any source is
// accepted as-is.
func (e *Engine) validateSource(ctx context.Context, source, paymentRef string) error {
	hasAny := false
	for _, p := range e.plugins.List() {
		if _, ok := p.(interface{ SourceName() string }); ok {
			hasAny = true
			break
		}
	}
	if !hasAny {
		return nil
	}

	src := e.plugins.GetCaptureSource(source)
	if src == nil {
		return fmt.Errorf("%w: %s", ErrUnknownSource, source)
	}
	return src.ValidateReference(ctx, paymentRef)
}

// buildCheckoutCapture activates the records a checkout left pending.
func (e *Engine) buildCheckoutCapture(ctx context.Context, inv *invoice.Invoice, set *store.CaptureSet) error {
	now := set.PaidAt

	if !inv.SubscriptionID.IsNil() {
		sub, err := e.store.GetSubscription(ctx, inv.SubscriptionID)
		if err != nil {
			return err
		}

		if sub.Status == subscription.StatusPending {
			plan, err := e.store.GetPlan(ctx, sub.PlanID)
			if err != nil {
				return err
			}

			sub.Status = subscription.StatusActive
			sub.PeriodStart = now
			sub.ExpiresAt = plan.Period.End(now)
			sub.Touch()
			set.Subscription = sub

			if plan.TokenGrant > 0 {
				set.Transactions = append(set.Transactions,
					e.grantTxn(now, sub.UserID, token.TypeSubscriptionGrant, plan.TokenGrant, sub.ID, inv.ID))
			}
		}
	}

	for _, li := range inv.LineItems {
		switch li.Type {
		case invoice.LineItemAddOn:
			aSub, err := e.store.GetAddOnSub(ctx, li.RefID)
			if err != nil {
				return err
			}
			if aSub.Status != subscription.StatusPending {
				continue
			}
			addOn, err := e.store.GetAddOn(ctx, aSub.AddOnID)
			if err != nil {
				return err
			}

			aSub.Status = subscription.StatusActive
			aSub.PeriodStart = now
			aSub.ExpiresAt = addOn.Period.End(now)
			aSub.Touch()
			set.AddOnSubs = append(set.AddOnSubs, aSub)

			if addOn.TokenGrant > 0 {
				set.Transactions = append(set.Transactions,
					e.grantTxn(now, aSub.UserID, token.TypeSubscriptionGrant, addOn.TokenGrant, aSub.ID, inv.ID))
			}

		case invoice.LineItemTokenBundle:
			purchase, err := e.store.GetBundlePurchase(ctx, li.RefID)
			if err != nil {
				return err
			}
			if purchase.Status != token.PurchasePending || purchase.TokensCredited {
				continue
			}

			purchase.Status = token.PurchaseCompleted
			purchase.TokensCredited = true
			completed := now
			purchase.CompletedAt = &completed
			purchase.Touch()
			set.Purchases = append(set.Purchases, purchase)

			if purchase.Tokens > 0 {
				set.Transactions = append(set.Transactions,
					e.grantTxn(now, purchase.UserID, token.TypePurchase, purchase.Tokens, purchase.ID, inv.ID))
			}
		}
	}

	return nil
}

// buildUpgradeCapture completes a pending plan switch: the new plan
// takes effect immediately with a fresh full period and the exclusivity
// key is re-resolved from the new plan's category.
func (e *Engine) buildUpgradeCapture(ctx context.Context, inv *invoice.Invoice, set *store.CaptureSet) error {
	now := set.PaidAt

	sub, err := e.store.GetSubscription(ctx, inv.SubscriptionID)
	if err != nil {
		return err
	}
	if sub.PendingPlanID.IsNil() {
		return fmt.Errorf("%w: subscription %s has no pending plan", ErrInvalidInput, sub.ID)
	}

	newPlan, err := e.store.GetPlan(ctx, sub.PendingPlanID)
	if err != nil {
		return err
	}
	key, err := e.exclusiveKeyFor(ctx, newPlan)
	if err != nil {
		return err
	}

	sub.PlanID = newPlan.ID
	sub.PendingPlanID = id.Nil
	sub.Status = subscription.StatusActive
	sub.ExclusiveKey = key
	sub.PeriodStart = now
	sub.ExpiresAt = newPlan.Period.End(now)
	sub.Touch()
	set.Subscription = sub

	if newPlan.TokenGrant > 0 {
		set.Transactions = append(set.Transactions,
			e.grantTxn(now, sub.UserID, token.TypeSubscriptionGrant, newPlan.TokenGrant, sub.ID, inv.ID))
	}

	return nil
}

// buildRenewalCapture extends the paid period, applying a scheduled
// downgrade if one is waiting. The exclusivity key is re-resolved from
// the plan the renewal lands on.
func (e *Engine) buildRenewalCapture(ctx context.Context, inv *invoice.Invoice, set *store.CaptureSet) error {
	now := set.PaidAt

	sub, err := e.store.GetSubscription(ctx, inv.SubscriptionID)
	if err != nil {
		return err
	}

	planID := sub.PlanID
	if !sub.ScheduledPlanID.IsNil() {
		planID = sub.ScheduledPlanID
	}
	plan, err := e.store.GetPlan(ctx, planID)
	if err != nil {
		return err
	}
	key, err := e.exclusiveKeyFor(ctx, plan)
	if err != nil {
		return err
	}

	// Renew from the current expiry when paid early, from now when the
	// period already lapsed.
	base := sub.ExpiresAt
	if base.Before(now) {
		base = now
	}

	sub.PlanID = plan.ID
	sub.ScheduledPlanID = id.Nil
	sub.Status = subscription.StatusActive
	sub.ExclusiveKey = key
	sub.PeriodStart = base
	sub.ExpiresAt = plan.Period.End(base)
	sub.Touch()
	set.Subscription = sub

	if plan.TokenGrant > 0 {
		set.Transactions = append(set.Transactions,
			e.grantTxn(now, sub.UserID, token.TypeSubscriptionGrant, plan.TokenGrant, sub.ID, inv.ID))
	}

	return nil
}
