package tarif_test

import (
	"context"
	"testing"
	"time"

	"github.com/xraph/tarif"
	"github.com/xraph/tarif/catalog"
	"github.com/xraph/tarif/id"
	"github.com/xraph/tarif/invoice"
	"github.com/xraph/tarif/subscription"
	"github.com/xraph/tarif/token"
	"github.com/xraph/tarif/types"
)

func TestCheckoutValidation(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	if _, err := e.Checkout(ctx, tarif.CheckoutRequest{}); err == nil {
		t.Fatal("expected error for missing user")
	}
	if _, err := e.Checkout(ctx, tarif.CheckoutRequest{UserID: "u1"}); err == nil {
		t.Fatal("expected error for empty checkout")
	}

	addOn := mustAddOn(t, e, "seats", 500, 0)
	_, err := e.Checkout(ctx, tarif.CheckoutRequest{
		UserID:   "u1",
		AddOnIDs: []id.AddOnID{addOn.ID},
	})
	if err == nil {
		t.Fatal("expected error for add-ons without a subscription")
	}
}

func TestCheckoutPaidPlan(t *testing.T) {
	e, clock := newTestEngine(t)
	ctx := context.Background()

	plan := mustPlan(t, e, id.Nil, "pro", 2900, 500)

	res, err := e.Checkout(ctx, tarif.CheckoutRequest{UserID: "u1", PlanID: plan.ID})
	if err != nil {
		t.Fatal(err)
	}

	if res.Invoice == nil {
		t.Fatal("paid checkout must produce an invoice")
	}
	if res.Invoice.Status != invoice.StatusPending {
		t.Fatalf("invoice status = %s, want pending", res.Invoice.Status)
	}
	if !res.Total.Equal(types.EUR(2900)) {
		t.Fatalf("total = %s, want EUR 29.00", res.Total)
	}
	if !res.Invoice.Consistent() {
		t.Fatal("invoice amount must equal the sum of its line items")
	}
	if res.Subscription.Status != subscription.StatusPending {
		t.Fatalf("subscription status = %s, want pending", res.Subscription.Status)
	}

	// Nothing is granted until capture.
	bal, err := e.Balance(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if bal.Tokens != 0 {
		t.Fatalf("balance before capture = %d, want 0", bal.Tokens)
	}

	due := res.Invoice.DueAt
	if due == nil || !due.Equal(clock.Now().Add(24*time.Hour)) {
		t.Fatalf("due at = %v, want checkout time + 24h", due)
	}
}

func TestCheckoutFreePlanActivatesImmediately(t *testing.T) {
	e, clock := newTestEngine(t)
	ctx := context.Background()

	plan := mustPlan(t, e, id.Nil, "free", 0, 100)

	res, err := e.Checkout(ctx, tarif.CheckoutRequest{UserID: "u1", PlanID: plan.ID})
	if err != nil {
		t.Fatal(err)
	}

	if res.Invoice != nil {
		t.Fatal("free checkout must not produce an invoice")
	}
	if res.Subscription.Status != subscription.StatusActive {
		t.Fatalf("subscription status = %s, want active", res.Subscription.Status)
	}
	wantExpiry := clock.Now().Add(catalog.PeriodMonthly.Duration())
	if !res.Subscription.ExpiresAt.Equal(wantExpiry) {
		t.Fatalf("expires at = %v, want %v", res.Subscription.ExpiresAt, wantExpiry)
	}

	bal, err := e.Balance(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if bal.Tokens != 100 {
		t.Fatalf("balance = %d, want the plan grant of 100", bal.Tokens)
	}
}

func TestCheckoutBundleAndAddOnsSingleInvoice(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	plan := mustPlan(t, e, id.Nil, "pro", 2900, 0)
	addOn := mustAddOn(t, e, "priority", 900, 50)
	bundle := mustBundle(t, e, "small-pack", 500, 1000)

	res, err := e.Checkout(ctx, tarif.CheckoutRequest{
		UserID:   "u1",
		PlanID:   plan.ID,
		AddOnIDs: []id.AddOnID{addOn.ID},
		BundleID: bundle.ID,
	})
	if err != nil {
		t.Fatal(err)
	}

	if !res.Total.Equal(types.EUR(4300)) {
		t.Fatalf("total = %s, want EUR 43.00", res.Total)
	}
	if len(res.Invoice.LineItems) != 3 {
		t.Fatalf("line items = %d, want 3", len(res.Invoice.LineItems))
	}
	if len(res.AddOnSubs) != 1 {
		t.Fatalf("add-on subs = %d, want 1", len(res.AddOnSubs))
	}
	if res.Purchase == nil || res.Purchase.Tokens != 1000 {
		t.Fatal("bundle purchase missing or wrong token count")
	}
	if res.Purchase.Status != token.PurchasePending {
		t.Fatalf("purchase status = %s, want pending until capture", res.Purchase.Status)
	}
}

func TestCheckoutInvoiceAmountBreakdown(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	plan := mustPlan(t, e, id.Nil, "pro", 2900, 0)
	addOn := mustAddOn(t, e, "priority", 900, 0)

	res, err := e.Checkout(ctx, tarif.CheckoutRequest{
		UserID:   "u1",
		PlanID:   plan.ID,
		AddOnIDs: []id.AddOnID{addOn.ID},
	})
	if err != nil {
		t.Fatal(err)
	}

	inv := res.Invoice
	if !inv.Subtotal.Equal(types.EUR(3800)) {
		t.Fatalf("subtotal = %s, want EUR 38.00", inv.Subtotal)
	}
	if !inv.TaxAmount.Equal(types.EUR(0)) {
		t.Fatalf("tax = %s, want zero", inv.TaxAmount)
	}
	if !inv.Amount.Equal(types.EUR(3800)) {
		t.Fatalf("amount = %s, want subtotal plus tax", inv.Amount)
	}
	for _, li := range inv.LineItems {
		if !li.NetAmount.Add(li.TaxAmount).Equal(li.GrossAmount) {
			t.Fatalf("line %s: net %s + tax %s != gross %s",
				li.Description, li.NetAmount, li.TaxAmount, li.GrossAmount)
		}
		if !li.UnitAmount.Equal(li.NetAmount) {
			t.Fatalf("line %s: unit %s != net %s for quantity one",
				li.Description, li.UnitAmount, li.NetAmount)
		}
	}
	if !inv.Consistent() {
		t.Fatal("invoice totals must reconcile with the line items")
	}
}

func TestCapturedBundlePurchaseCompletes(t *testing.T) {
	e, clock := newTestEngine(t)
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

	purchases, err := e.ListBundlePurchases(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(purchases) != 1 {
		t.Fatalf("purchases = %d, want 1", len(purchases))
	}
	p := purchases[0]
	if p.Status != token.PurchaseCompleted {
		t.Fatalf("status = %s, want completed", p.Status)
	}
	if !p.TokensCredited {
		t.Fatal("tokens credited flag must be set at capture")
	}
	if p.CompletedAt == nil || !p.CompletedAt.Equal(clock.Now()) {
		t.Fatalf("completed at = %v, want %v", p.CompletedAt, clock.Now())
	}
}

func TestCheckoutAddOnCompatibility(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	basic := mustPlan(t, e, id.Nil, "basic", 0, 0)
	pro := mustPlan(t, e, id.Nil, "pro", 0, 0)
	proOnly := mustAddOn(t, e, "pro-only", 900, 0, pro.ID)

	res, err := e.Checkout(ctx, tarif.CheckoutRequest{UserID: "u1", PlanID: basic.ID})
	if err != nil {
		t.Fatal(err)
	}

	_, err = e.Checkout(ctx, tarif.CheckoutRequest{
		UserID:         "u1",
		SubscriptionID: res.Subscription.ID,
		AddOnIDs:       []id.AddOnID{proOnly.ID},
	})
	if err != tarif.ErrAddOnNotAllowed {
		t.Fatalf("got %v, want ErrAddOnNotAllowed", err)
	}
}

func TestCheckoutCurrencyMismatch(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	plan := mustPlan(t, e, id.Nil, "pro", 2900, 0)
	usd := &catalog.TokenBundle{
		Name:   "usd-pack",
		Slug:   "usd-pack",
		Price:  types.USD(500),
		Tokens: 100,
	}
	if err := e.CreateTokenBundle(ctx, usd); err != nil {
		t.Fatal(err)
	}

	_, err := e.Checkout(ctx, tarif.CheckoutRequest{
		UserID:   "u1",
		PlanID:   plan.ID,
		BundleID: usd.ID,
	})
	if err != tarif.ErrCurrencyMismatch {
		t.Fatalf("got %v, want ErrCurrencyMismatch", err)
	}
}

func TestCategoryExclusivity(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	memberships := mustCategory(t, e, "memberships", true, id.Nil)
	gold := mustPlan(t, e, memberships.ID, "gold", 0, 0)
	silver := mustPlan(t, e, memberships.ID, "silver", 0, 0)

	if _, err := e.Checkout(ctx, tarif.CheckoutRequest{UserID: "u1", PlanID: gold.ID}); err != nil {
		t.Fatal(err)
	}

	// Second live subscription under the same is_single category.
	_, err := e.Checkout(ctx, tarif.CheckoutRequest{UserID: "u1", PlanID: silver.ID})
	if err != tarif.ErrCategoryConflict {
		t.Fatalf("got %v, want ErrCategoryConflict", err)
	}

	// A different user is unaffected.
	if _, err := e.Checkout(ctx, tarif.CheckoutRequest{UserID: "u2", PlanID: silver.ID}); err != nil {
		t.Fatal(err)
	}
}

func TestCategoryExclusivityInheritsFromAncestor(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	root := mustCategory(t, e, "tiers", true, id.Nil)
	monthly := mustCategory(t, e, "monthly", false, root.ID)
	yearly := mustCategory(t, e, "yearly", false, root.ID)

	a := mustPlan(t, e, monthly.ID, "tier-m", 0, 0)
	b := mustPlan(t, e, yearly.ID, "tier-y", 0, 0)

	if _, err := e.Checkout(ctx, tarif.CheckoutRequest{UserID: "u1", PlanID: a.ID}); err != nil {
		t.Fatal(err)
	}

	// Sibling subtree shares the is_single root, so it conflicts.
	_, err := e.Checkout(ctx, tarif.CheckoutRequest{UserID: "u1", PlanID: b.ID})
	if err != tarif.ErrCategoryConflict {
		t.Fatalf("got %v, want ErrCategoryConflict", err)
	}
}

func TestNonSingleCategoryAllowsParallelSubs(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	extras := mustCategory(t, e, "extras", false, id.Nil)
	a := mustPlan(t, e, extras.ID, "extra-a", 0, 0)
	b := mustPlan(t, e, extras.ID, "extra-b", 0, 0)

	if _, err := e.Checkout(ctx, tarif.CheckoutRequest{UserID: "u1", PlanID: a.ID}); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Checkout(ctx, tarif.CheckoutRequest{UserID: "u1", PlanID: b.ID}); err != nil {
		t.Fatal(err)
	}
}

func TestPendingCheckoutsRaceResolvedAtCapture(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	memberships := mustCategory(t, e, "memberships", true, id.Nil)
	gold := mustPlan(t, e, memberships.ID, "gold", 1000, 0)
	silver := mustPlan(t, e, memberships.ID, "silver", 800, 0)

	// Both checkouts succeed while nothing is live yet.
	first, err := e.Checkout(ctx, tarif.CheckoutRequest{UserID: "u1", PlanID: gold.ID})
	if err != nil {
		t.Fatal(err)
	}
	second, err := e.Checkout(ctx, tarif.CheckoutRequest{UserID: "u1", PlanID: silver.ID})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := e.CapturePayment(ctx, first.Invoice.ID, "pay_1", ""); err != nil {
		t.Fatal(err)
	}

	// The loser cannot activate into the occupied category.
	_, err = e.CapturePayment(ctx, second.Invoice.ID, "pay_2", "")
	if err != tarif.ErrCategoryConflict {
		t.Fatalf("got %v, want ErrCategoryConflict", err)
	}

	// The rejected capture leaves nothing behind: the loser stays pending
	// and its invoice uncollected.
	loser, err := e.GetSubscription(ctx, second.Subscription.ID)
	if err != nil {
		t.Fatal(err)
	}
	if loser.Status != subscription.StatusPending {
		t.Fatalf("loser status = %s, want pending", loser.Status)
	}
	if !loser.ExpiresAt.Equal(second.Subscription.ExpiresAt) {
		t.Fatal("rejected capture must not move the loser's expiry")
	}
	losersInv, err := e.GetInvoice(ctx, second.Invoice.ID)
	if err != nil {
		t.Fatal(err)
	}
	if losersInv.Status != invoice.StatusPending {
		t.Fatalf("loser invoice = %s, want pending", losersInv.Status)
	}
}
