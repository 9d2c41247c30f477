package tarif

import (
	"context"
	"time"

	"github.com/xraph/tarif/invoice"
	"github.com/xraph/tarif/subscription"
	"github.com/xraph/tarif/token"
)

// sweepWorker periodically expires lapsed subscriptions and voids
// overdue pending invoices.
func (e *Engine) sweepWorker(ctx context.Context) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopChan:
			return
		case <-ticker.C:
			now := e.now()
			if n, err := e.ExpireSubscriptions(ctx, now); err != nil {
				e.logger.Error("expiry sweep failed", "error", err)
			} else if n > 0 {
				e.logger.Debug("expiry sweep", "expired", n)
			}
			if n, err := e.LapseInvoices(ctx, now); err != nil {
				e.logger.Error("lapse sweep failed", "error", err)
			} else if n > 0 {
				e.logger.Debug("lapse sweep", "lapsed", n)
			}
		}
	}
}

// ExpireSubscriptions terminates every live, unpaused subscription
// whose period ended before now. Add-on subscriptions follow their base
// subscription down. Returns how many subscriptions were expired.
func (e *Engine) ExpireSubscriptions(ctx context.Context, now time.Time) (int, error) {
	subs, err := e.store.ListExpiringSubscriptions(ctx, now)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, stale := range subs {
		// The store re-checks the expiry guard at write time, so a
		// renewal captured between the listing and this call pushes
		// expires_at forward and the subscription survives.
		ok, err := e.store.ExpireSubscription(ctx, stale.ID, now)
		if err != nil {
			return expired, err
		}
		if !ok {
			continue
		}
		expired++

		sub, err := e.store.GetSubscription(ctx, stale.ID)
		if err != nil {
			return expired, err
		}

		endedAt := now
		aSubs, err := e.store.ListAddOnSubs(ctx, sub.ID)
		if err != nil {
			return expired, err
		}
		for _, aSub := range aSubs {
			if !aSub.Status.Live() {
				continue
			}
			aSub.Status = subscription.StatusExpired
			aSub.EndedAt = &endedAt
			aSub.Touch()
			if err := e.store.UpdateAddOnSub(ctx, aSub); err != nil {
				return expired, err
			}
		}

		e.plugins.EmitSubscriptionExpired(ctx, sub)
	}

	return expired, nil
}

// LapseInvoices voids pending invoices whose due time has passed. A
// lapsed checkout invoice takes its never-activated pending records
// with it: the subscription, its add-on subscriptions and any bundle
// purchase waiting on the payment. Returns how many invoices lapsed.
func (e *Engine) LapseInvoices(ctx context.Context, now time.Time) (int, error) {
	invs, err := e.store.ListPendingInvoicesBefore(ctx, now)
	if err != nil {
		return 0, err
	}

	lapsed := 0
	for _, inv := range invs {
		inv.Status = invoice.StatusLapsed
		inv.Touch()
		if err := e.store.UpdateInvoice(ctx, inv); err != nil {
			return lapsed, err
		}
		lapsed++

		if inv.Metadata[purposeKey] == purposeCheckout {
			if err := e.lapseCheckoutRecords(ctx, inv, now); err != nil {
				return lapsed, err
			}
		}

		e.plugins.EmitInvoiceLapsed(ctx, inv)
	}

	return lapsed, nil
}

// lapseCheckoutRecords expires the pending records a lapsed checkout
// invoice was supposed to activate.
func (e *Engine) lapseCheckoutRecords(ctx context.Context, inv *invoice.Invoice, now time.Time) error {
	if !inv.SubscriptionID.IsNil() {
		sub, err := e.store.GetSubscription(ctx, inv.SubscriptionID)
		if err == nil && sub.Status == subscription.StatusPending {
			sub.Status = subscription.StatusExpired
			endedAt := now
			sub.EndedAt = &endedAt
			sub.Touch()
			if err := e.store.UpdateSubscription(ctx, sub); err != nil {
				return err
			}
		}
	}

	for _, li := range inv.LineItems {
		switch li.Type {
		case invoice.LineItemAddOn:
			aSub, err := e.store.GetAddOnSub(ctx, li.RefID)
			if err != nil || aSub.Status != subscription.StatusPending {
				continue
			}
			aSub.Status = subscription.StatusExpired
			endedAt := now
			aSub.EndedAt = &endedAt
			aSub.Touch()
			if err := e.store.UpdateAddOnSub(ctx, aSub); err != nil {
				return err
			}

		case invoice.LineItemTokenBundle:
			purchase, err := e.store.GetBundlePurchase(ctx, li.RefID)
			if err != nil || purchase.Status != token.PurchasePending {
				continue
			}
			purchase.Status = token.PurchaseCancelled
			purchase.Touch()
			if err := e.store.UpdateBundlePurchase(ctx, purchase); err != nil {
				return err
			}
		}
	}

	return nil
}
