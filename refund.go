package tarif

import (
	"context"

	"github.com/xraph/tarif/id"
	"github.com/xraph/tarif/invoice"
	"github.com/xraph/tarif/store"
	"github.com/xraph/tarif/subscription"
	"github.com/xraph/tarif/token"
	"github.com/xraph/tarif/types"
)

// RefundOpts controls how a refund treats the access the invoice paid
// for. The default cancels the subscription, so access continues until
// the already-paid period ends; Immediate revokes it on the spot.
type RefundOpts struct {
	Reason    string
	Immediate bool
}

// RefundPayment reverses a paid invoice inside the refund window.
// Granted tokens are taken back, clamped at whatever balance the user
// still has. The funded subscription is cancelled (renewal stops, paid
// access runs out) unless opts.Immediate asks for instant revocation.
func (e *Engine) RefundPayment(ctx context.Context, invID id.InvoiceID, opts RefundOpts) error {
	inv, err := e.store.GetInvoice(ctx, invID)
	if err != nil {
		return err
	}
	if inv.Status != invoice.StatusPaid {
		return ErrInvoiceNotPaid
	}

	now := e.now()
	if inv.PaidAt != nil && now.Sub(*inv.PaidAt) > e.refundWindow {
		return ErrRefundWindowClosed
	}

	set := &store.RefundSet{
		InvoiceID:  inv.ID,
		RefundedAt: now,
		Reason:     opts.Reason,
	}

	// Stop the subscription the invoice paid for.
	if !inv.SubscriptionID.IsNil() {
		sub, err := e.store.GetSubscription(ctx, inv.SubscriptionID)
		if err != nil {
			return err
		}
		if sub.Status.Live() {
			if opts.Immediate {
				sub.Status = subscription.StatusExpired
				sub.EndedAt = &now
			} else {
				sub.Status = subscription.StatusCancelled
				sub.CancelledAt = &now
				sub.ScheduledPlanID = id.Nil
				sub.PendingPlanID = id.Nil
			}
			sub.Touch()
			set.Subscription = sub

			aSubs, err := e.store.ListAddOnSubs(ctx, sub.ID)
			if err != nil {
				return err
			}
			for _, aSub := range aSubs {
				if !aSub.Status.Live() {
					continue
				}
				if opts.Immediate {
					aSub.Status = subscription.StatusExpired
					aSub.EndedAt = &now
				} else {
					aSub.Status = subscription.StatusCancelled
					aSub.CancelledAt = &now
				}
				aSub.Touch()
				set.AddOnSubs = append(set.AddOnSubs, aSub)
			}
		}
	}

	// Mark bundle purchases funded by this invoice as refunded.
	purchases, err := e.store.ListBundlePurchases(ctx, inv.UserID)
	if err != nil {
		return err
	}
	for _, p := range purchases {
		if p.InvoiceID != inv.ID || p.Status != token.PurchaseCompleted {
			continue
		}
		p.Status = token.PurchaseRefunded
		p.Touch()
		set.Purchases = append(set.Purchases, p)
	}

	// Take back every token grant the invoice credited. The store
	// clamps each debit at the user's available balance.
	txns, err := e.store.ListTransactions(ctx, inv.UserID, token.ListOpts{})
	if err != nil {
		return err
	}
	for _, txn := range txns {
		if txn.InvoiceID != inv.ID || txn.Amount <= 0 {
			continue
		}
		set.Debits = append(set.Debits, &token.Transaction{
			Entity:    types.NewEntityAt(now),
			ID:        id.NewTokenTransactionID(),
			UserID:    txn.UserID,
			Type:      token.TypeRefund,
			Amount:    -txn.Amount,
			RefID:     txn.ID,
			InvoiceID: inv.ID,
			Note:      "refund of " + inv.Number,
		})
	}

	if err := e.store.ApplyRefund(ctx, set); err != nil {
		return err
	}

	inv.Status = invoice.StatusRefunded
	inv.RefundedAt = &now

	e.logger.Info("payment refunded",
		"invoice", inv.Number,
		"amount", inv.Amount.String(),
		"reason", opts.Reason,
		"immediate", opts.Immediate,
	)

	e.plugins.EmitPaymentRefunded(ctx, inv)
	if set.Subscription != nil {
		if opts.Immediate {
			e.plugins.EmitSubscriptionExpired(ctx, set.Subscription)
		} else {
			e.plugins.EmitSubscriptionCancelled(ctx, set.Subscription)
		}
	}
	// The store wrote the clamped amounts back into the set; a debit
	// clamped to zero moved nothing and is not announced.
	for _, debit := range set.Debits {
		if debit.Amount == 0 {
			continue
		}
		e.plugins.EmitTokensDebited(ctx, debit)
	}

	return nil
}
