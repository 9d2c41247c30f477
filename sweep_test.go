package tarif_test

import (
	"context"
	"testing"
	"time"

	"github.com/xraph/tarif"
	"github.com/xraph/tarif/id"
	"github.com/xraph/tarif/invoice"
	"github.com/xraph/tarif/subscription"
	"github.com/xraph/tarif/token"
)

func TestExpireSubscriptions(t *testing.T) {
	e, clock := newTestEngine(t)
	ctx := context.Background()

	plan := mustPlan(t, e, id.Nil, "pro", 2900, 0)
	addOn := mustAddOn(t, e, "seats", 900, 0, plan.ID)

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

	// Still inside the period: nothing to do.
	n, err := e.ExpireSubscriptions(ctx, clock.Now())
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("expired = %d, want 0", n)
	}

	clock.Advance(31 * 24 * time.Hour)

	n, err = e.ExpireSubscriptions(ctx, clock.Now())
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expired = %d, want 1", n)
	}

	sub, err := e.GetSubscription(ctx, res.Subscription.ID)
	if err != nil {
		t.Fatal(err)
	}
	if sub.Status != subscription.StatusExpired {
		t.Fatalf("status = %s, want expired", sub.Status)
	}
	if sub.EndedAt == nil {
		t.Fatal("ended at must be set")
	}

	// The add-on goes down with its base subscription.
	aSubs, err := e.ListAddOnSubs(ctx, sub.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(aSubs) != 1 || aSubs[0].Status != subscription.StatusExpired {
		t.Fatal("add-on subscription must expire with its base")
	}
}

func TestExpirySweepSkipsPaused(t *testing.T) {
	e, clock := newTestEngine(t)
	ctx := context.Background()

	plan := mustPlan(t, e, id.Nil, "pro", 2900, 0)
	sub := activeSub(t, e, "u1", plan.ID)

	if err := e.PauseSubscription(ctx, sub.ID); err != nil {
		t.Fatal(err)
	}

	clock.Advance(60 * 24 * time.Hour)

	n, err := e.ExpireSubscriptions(ctx, clock.Now())
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("expired = %d, want paused subscriptions left alone", n)
	}
}

func TestLapseInvoices(t *testing.T) {
	e, clock := newTestEngine(t)
	ctx := context.Background()

	plan := mustPlan(t, e, id.Nil, "pro", 2900, 0)

	res, err := e.Checkout(ctx, tarif.CheckoutRequest{UserID: "u1", PlanID: plan.ID})
	if err != nil {
		t.Fatal(err)
	}

	// Inside the TTL the invoice stays collectible.
	n, err := e.LapseInvoices(ctx, clock.Now())
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("lapsed = %d, want 0", n)
	}

	clock.Advance(25 * time.Hour)

	n, err = e.LapseInvoices(ctx, clock.Now())
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("lapsed = %d, want 1", n)
	}

	inv, err := e.GetInvoice(ctx, res.Invoice.ID)
	if err != nil {
		t.Fatal(err)
	}
	if inv.Status != invoice.StatusLapsed {
		t.Fatalf("invoice status = %s, want lapsed", inv.Status)
	}

	// The never-activated checkout subscription lapses with it.
	sub, err := e.GetSubscription(ctx, res.Subscription.ID)
	if err != nil {
		t.Fatal(err)
	}
	if sub.Status != subscription.StatusExpired {
		t.Fatalf("subscription status = %s, want expired", sub.Status)
	}

	// A late payment bounces off the voided invoice.
	if _, err := e.CapturePayment(ctx, inv.ID, "pay_late", ""); err != tarif.ErrInvoiceTerminal {
		t.Fatalf("got %v, want ErrInvoiceTerminal", err)
	}
}

func TestLapseCancelsPendingAddOnsAndPurchases(t *testing.T) {
	e, clock := newTestEngine(t)
	ctx := context.Background()

	plan := mustPlan(t, e, id.Nil, "pro", 2900, 0)
	addOn := mustAddOn(t, e, "seats", 900, 0, plan.ID)
	bundle := mustBundle(t, e, "pack", 500, 1000)

	res, err := e.Checkout(ctx, tarif.CheckoutRequest{
		UserID:   "u1",
		PlanID:   plan.ID,
		AddOnIDs: []id.AddOnID{addOn.ID},
		BundleID: bundle.ID,
	})
	if err != nil {
		t.Fatal(err)
	}

	clock.Advance(25 * time.Hour)

	if _, err := e.LapseInvoices(ctx, clock.Now()); err != nil {
		t.Fatal(err)
	}

	// Everything the unpaid checkout left pending is closed out.
	aSubs, err := e.ListAddOnSubs(ctx, res.Subscription.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(aSubs) != 1 || aSubs[0].Status != subscription.StatusExpired {
		t.Fatal("pending add-on subscription must lapse with the invoice")
	}

	purchases, err := e.ListBundlePurchases(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(purchases) != 1 || purchases[0].Status != token.PurchaseCancelled {
		t.Fatalf("purchase must be cancelled when the invoice lapses, got %+v", purchases)
	}

	// No tokens were ever credited.
	bal, err := e.Balance(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if bal.Tokens != 0 {
		t.Fatalf("balance = %d, want 0", bal.Tokens)
	}
}

func TestLapseUsesDueTime(t *testing.T) {
	e, clock := newTestEngine(t)
	ctx := context.Background()

	plan := mustPlan(t, e, id.Nil, "pro", 2900, 0)

	if _, err := e.Checkout(ctx, tarif.CheckoutRequest{UserID: "u1", PlanID: plan.ID}); err != nil {
		t.Fatal(err)
	}

	// Right at the due time the invoice is still collectible; the sweep
	// only claims invoices whose due time has passed.
	clock.Advance(24 * time.Hour)
	n, err := e.LapseInvoices(ctx, clock.Now())
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("lapsed = %d, want 0 at the due instant", n)
	}

	clock.Advance(time.Minute)
	n, err = e.LapseInvoices(ctx, clock.Now())
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("lapsed = %d, want 1 past the due time", n)
	}
}

func TestLapseLeavesRenewalSubscriptionAlive(t *testing.T) {
	e, clock := newTestEngine(t)
	ctx := context.Background()

	plan := mustPlan(t, e, id.Nil, "pro", 2900, 0)
	sub := activeSub(t, e, "u1", plan.ID)

	if _, err := e.RenewSubscription(ctx, sub.ID); err != nil {
		t.Fatal(err)
	}

	clock.Advance(25 * time.Hour)

	if _, err := e.LapseInvoices(ctx, clock.Now()); err != nil {
		t.Fatal(err)
	}

	// Losing a renewal invoice must not touch the already-paid period.
	cur, err := e.GetSubscription(ctx, sub.ID)
	if err != nil {
		t.Fatal(err)
	}
	if cur.Status != subscription.StatusActive {
		t.Fatalf("status = %s, want active", cur.Status)
	}
}

func TestCustomInvoiceTTL(t *testing.T) {
	e, clock := newTestEngine(t, tarif.WithInvoiceTTL(time.Hour))
	ctx := context.Background()

	plan := mustPlan(t, e, id.Nil, "pro", 2900, 0)

	if _, err := e.Checkout(ctx, tarif.CheckoutRequest{UserID: "u1", PlanID: plan.ID}); err != nil {
		t.Fatal(err)
	}

	clock.Advance(2 * time.Hour)

	n, err := e.LapseInvoices(ctx, clock.Now())
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("lapsed = %d, want 1 with a one-hour TTL", n)
	}
}
