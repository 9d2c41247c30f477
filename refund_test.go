package tarif_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/xraph/tarif"
	"github.com/xraph/tarif/id"
	"github.com/xraph/tarif/invoice"
	"github.com/xraph/tarif/subscription"
	"github.com/xraph/tarif/token"
)

func TestRefundCancelsWithGraceAccess(t *testing.T) {
	e, clock := newTestEngine(t)
	ctx := context.Background()

	memberships := mustCategory(t, e, "memberships", true, id.Nil)
	plan := mustPlan(t, e, memberships.ID, "pro", 2900, 500)
	addOn := mustAddOn(t, e, "seats", 900, 50, plan.ID)

	res, err := e.Checkout(ctx, tarif.CheckoutRequest{
		UserID:   "u1",
		PlanID:   plan.ID,
		AddOnIDs: []id.AddOnID{addOn.ID},
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.CapturePayment(ctx, res.Invoice.ID, "pay_1", ""); err != nil {
		t.Fatal(err)
	}

	clock.Advance(3 * 24 * time.Hour)

	if err := e.RefundPayment(ctx, res.Invoice.ID, tarif.RefundOpts{Reason: "chargeback"}); err != nil {
		t.Fatal(err)
	}

	inv, err := e.GetInvoice(ctx, res.Invoice.ID)
	if err != nil {
		t.Fatal(err)
	}
	if inv.Status != invoice.StatusRefunded {
		t.Fatalf("invoice status = %s, want refunded", inv.Status)
	}
	if inv.RefundedAt == nil || !inv.RefundedAt.Equal(clock.Now()) {
		t.Fatalf("refunded at = %v, want %v", inv.RefundedAt, clock.Now())
	}

	// Renewal stops but the already-paid period keeps its access.
	sub, err := e.GetSubscription(ctx, res.Subscription.ID)
	if err != nil {
		t.Fatal(err)
	}
	if sub.Status != subscription.StatusCancelled {
		t.Fatalf("subscription status = %s, want cancelled", sub.Status)
	}
	if !sub.Live(clock.Now()) {
		t.Fatal("refunded subscription keeps access until the paid period ends")
	}

	aSubs, err := e.ListAddOnSubs(ctx, sub.ID)
	if err != nil {
		t.Fatal(err)
	}
	for _, aSub := range aSubs {
		if aSub.Status != subscription.StatusCancelled {
			t.Fatalf("add-on status = %s, want cancelled", aSub.Status)
		}
	}

	// Both the plan grant and the add-on grant come back.
	bal, err := e.Balance(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if bal.Tokens != 0 {
		t.Fatalf("balance = %d, want 0 after clawback", bal.Tokens)
	}

	// The exclusive slot stays occupied through the grace period.
	if _, err := e.Checkout(ctx, tarif.CheckoutRequest{UserID: "u1", PlanID: plan.ID}); err != tarif.ErrCategoryConflict {
		t.Fatalf("got %v, want ErrCategoryConflict during grace access", err)
	}
}

func TestRefundImmediateRevocation(t *testing.T) {
	e, clock := newTestEngine(t)
	ctx := context.Background()

	memberships := mustCategory(t, e, "memberships", true, id.Nil)
	plan := mustPlan(t, e, memberships.ID, "pro", 2900, 0)

	res, err := e.Checkout(ctx, tarif.CheckoutRequest{UserID: "u1", PlanID: plan.ID})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.CapturePayment(ctx, res.Invoice.ID, "pay_1", ""); err != nil {
		t.Fatal(err)
	}

	if err := e.RefundPayment(ctx, res.Invoice.ID, tarif.RefundOpts{Reason: "fraud", Immediate: true}); err != nil {
		t.Fatal(err)
	}

	sub, err := e.GetSubscription(ctx, res.Subscription.ID)
	if err != nil {
		t.Fatal(err)
	}
	if sub.Status != subscription.StatusExpired {
		t.Fatalf("subscription status = %s, want expired", sub.Status)
	}
	if sub.Live(clock.Now()) {
		t.Fatal("immediate refund must revoke access on the spot")
	}

	// The exclusive slot frees right away.
	if _, err := e.Checkout(ctx, tarif.CheckoutRequest{UserID: "u1", PlanID: plan.ID}); err != nil {
		t.Fatalf("checkout after immediate refund should succeed, got %v", err)
	}
}

func TestRefundClawbackClampsAtBalance(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	plan := mustPlan(t, e, id.Nil, "pro", 2900, 500)

	res, err := e.Checkout(ctx, tarif.CheckoutRequest{UserID: "u1", PlanID: plan.ID})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.CapturePayment(ctx, res.Invoice.ID, "pay_1", ""); err != nil {
		t.Fatal(err)
	}

	// Spend most of the grant before the refund lands.
	if _, err := e.DebitTokens(ctx, "u1", 420, "api usage"); err != nil {
		t.Fatal(err)
	}

	if err := e.RefundPayment(ctx, res.Invoice.ID, tarif.RefundOpts{}); err != nil {
		t.Fatal(err)
	}

	// Only the remaining 80 can be taken back; the balance never goes
	// negative.
	bal, err := e.Balance(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if bal.Tokens != 0 {
		t.Fatalf("balance = %d, want 0", bal.Tokens)
	}
}

// clawbackRecorder records the refund debit amounts announced to plugins.
type clawbackRecorder struct {
	mu      sync.Mutex
	amounts []int64
}

func (r *clawbackRecorder) Name() string { return "clawback-recorder" }

func (r *clawbackRecorder) OnTokensDebited(_ context.Context, v interface{}) error {
	txn, ok := v.(*token.Transaction)
	if !ok || txn.Type != token.TypeRefund {
		return nil
	}
	r.mu.Lock()
	r.amounts = append(r.amounts, txn.Amount)
	r.mu.Unlock()
	return nil
}

func TestRefundAnnouncesOnlyAppliedClawback(t *testing.T) {
	ctx := context.Background()

	t.Run("ClampedAmount", func(t *testing.T) {
		rec := &clawbackRecorder{}
		e, _ := newTestEngine(t, tarif.WithPlugin(rec))

		plan := mustPlan(t, e, id.Nil, "pro", 2900, 500)
		res, err := e.Checkout(ctx, tarif.CheckoutRequest{UserID: "u1", PlanID: plan.ID})
		if err != nil {
			t.Fatal(err)
		}
		if _, err := e.CapturePayment(ctx, res.Invoice.ID, "pay_1", ""); err != nil {
			t.Fatal(err)
		}
		if _, err := e.DebitTokens(ctx, "u1", 420, "api usage"); err != nil {
			t.Fatal(err)
		}

		if err := e.RefundPayment(ctx, res.Invoice.ID, tarif.RefundOpts{}); err != nil {
			t.Fatal(err)
		}

		// 80 remained, so 80 is what the clawback took and what listeners hear.
		if len(rec.amounts) != 1 || rec.amounts[0] != -80 {
			t.Fatalf("announced debits = %v, want exactly [-80]", rec.amounts)
		}
	})

	t.Run("FullySpentGrantIsSilent", func(t *testing.T) {
		rec := &clawbackRecorder{}
		e, _ := newTestEngine(t, tarif.WithPlugin(rec))

		plan := mustPlan(t, e, id.Nil, "pro", 2900, 500)
		res, err := e.Checkout(ctx, tarif.CheckoutRequest{UserID: "u1", PlanID: plan.ID})
		if err != nil {
			t.Fatal(err)
		}
		if _, err := e.CapturePayment(ctx, res.Invoice.ID, "pay_1", ""); err != nil {
			t.Fatal(err)
		}
		if _, err := e.DebitTokens(ctx, "u1", 500, "api usage"); err != nil {
			t.Fatal(err)
		}

		if err := e.RefundPayment(ctx, res.Invoice.ID, tarif.RefundOpts{}); err != nil {
			t.Fatal(err)
		}

		// Nothing was left to take, so nothing is announced.
		if len(rec.amounts) != 0 {
			t.Fatalf("announced debits = %v, want none", rec.amounts)
		}
	})
}

func TestRefundMarksBundlePurchaseRefunded(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	plan := mustPlan(t, e, id.Nil, "pro", 2900, 0)
	bundle := mustBundle(t, e, "pack", 500, 1000)

	res, err := e.Checkout(ctx, tarif.CheckoutRequest{
		UserID:   "u1",
		PlanID:   plan.ID,
		BundleID: bundle.ID,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.CapturePayment(ctx, res.Invoice.ID, "pay_1", ""); err != nil {
		t.Fatal(err)
	}

	if err := e.RefundPayment(ctx, res.Invoice.ID, tarif.RefundOpts{}); err != nil {
		t.Fatal(err)
	}

	purchases, err := e.ListBundlePurchases(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	var found bool
	for _, p := range purchases {
		if p.InvoiceID == res.Invoice.ID {
			found = true
			if p.Status != token.PurchaseRefunded {
				t.Fatalf("purchase status = %s, want refunded", p.Status)
			}
		}
	}
	if !found {
		t.Fatal("no purchase recorded for the refunded invoice")
	}
}

func TestRefundWindowClosed(t *testing.T) {
	e, clock := newTestEngine(t)
	ctx := context.Background()

	plan := mustPlan(t, e, id.Nil, "pro", 2900, 0)

	res, err := e.Checkout(ctx, tarif.CheckoutRequest{UserID: "u1", PlanID: plan.ID})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.CapturePayment(ctx, res.Invoice.ID, "pay_1", ""); err != nil {
		t.Fatal(err)
	}

	clock.Advance(15 * 24 * time.Hour)

	if err := e.RefundPayment(ctx, res.Invoice.ID, tarif.RefundOpts{Reason: "too late"}); err != tarif.ErrRefundWindowClosed {
		t.Fatalf("got %v, want ErrRefundWindowClosed", err)
	}
}

func TestRefundCustomWindow(t *testing.T) {
	e, clock := newTestEngine(t, tarif.WithRefundWindow(30*24*time.Hour))
	ctx := context.Background()

	plan := mustPlan(t, e, id.Nil, "pro", 2900, 0)

	res, err := e.Checkout(ctx, tarif.CheckoutRequest{UserID: "u1", PlanID: plan.ID})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.CapturePayment(ctx, res.Invoice.ID, "pay_1", ""); err != nil {
		t.Fatal(err)
	}

	clock.Advance(20 * 24 * time.Hour)

	if err := e.RefundPayment(ctx, res.Invoice.ID, tarif.RefundOpts{}); err != nil {
		t.Fatalf("refund inside a widened window should succeed, got %v", err)
	}
}

func TestRefundRequiresPaidInvoice(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	plan := mustPlan(t, e, id.Nil, "pro", 2900, 0)

	res, err := e.Checkout(ctx, tarif.CheckoutRequest{UserID: "u1", PlanID: plan.ID})
	if err != nil {
		t.Fatal(err)
	}

	if err := e.RefundPayment(ctx, res.Invoice.ID, tarif.RefundOpts{}); err != tarif.ErrInvoiceNotPaid {
		t.Fatalf("got %v, want ErrInvoiceNotPaid", err)
	}

	if err := e.RefundPayment(ctx, id.NewInvoiceID(), tarif.RefundOpts{}); err != tarif.ErrInvoiceNotFound {
		t.Fatalf("got %v, want ErrInvoiceNotFound", err)
	}
}
