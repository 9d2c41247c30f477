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
	"github.com/xraph/tarif/types"
)

func TestStartTrial(t *testing.T) {
	e, clock := newTestEngine(t)
	ctx := context.Background()

	memberships := mustCategory(t, e, "memberships", true, id.Nil)

	withTrial := &catalog.Plan{
		CategoryID: memberships.ID,
		Name:       "pro",
		Slug:       "pro",
		Price:      types.EUR(2900),
		Period:     catalog.PeriodMonthly,
		TrialDays:  14,
	}
	if err := e.CreatePlan(ctx, withTrial); err != nil {
		t.Fatal(err)
	}
	noTrial := mustPlan(t, e, id.Nil, "basic", 900, 0)

	t.Run("NoTrialOffered", func(t *testing.T) {
		if _, err := e.StartTrial(ctx, "u1", noTrial.ID); err == nil {
			t.Fatal("expected error for plan without trial")
		}
	})

	t.Run("TrialStartsWithoutPayment", func(t *testing.T) {
		sub, err := e.StartTrial(ctx, "u1", withTrial.ID)
		if err != nil {
			t.Fatal(err)
		}
		if sub.Status != subscription.StatusTrialing {
			t.Fatalf("status = %s, want trialing", sub.Status)
		}
		wantEnd := clock.Now().AddDate(0, 0, 14)
		if !sub.ExpiresAt.Equal(wantEnd) {
			t.Fatalf("expires at = %v, want %v", sub.ExpiresAt, wantEnd)
		}

		invs, err := e.ListInvoices(ctx, "u1", invoice.ListOpts{})
		if err != nil {
			t.Fatal(err)
		}
		if len(invs) != 0 {
			t.Fatalf("invoices = %d, want none for a trial", len(invs))
		}
	})

	t.Run("TrialHoldsExclusivity", func(t *testing.T) {
		_, err := e.Checkout(ctx, tarif.CheckoutRequest{UserID: "u1", PlanID: withTrial.ID})
		if err != tarif.ErrCategoryConflict {
			t.Fatalf("got %v, want ErrCategoryConflict", err)
		}
	})
}

// activeSub checks out and captures a plan, returning the active
// subscription.
func activeSub(t *testing.T, e *tarif.Engine, userID string, planID id.PlanID) *subscription.Subscription {
	t.Helper()
	ctx := context.Background()

	res, err := e.Checkout(ctx, tarif.CheckoutRequest{UserID: userID, PlanID: planID})
	if err != nil {
		t.Fatal(err)
	}
	if res.Invoice != nil {
		if _, err := e.CapturePayment(ctx, res.Invoice.ID, "pay_setup", ""); err != nil {
			t.Fatal(err)
		}
	}
	sub, err := e.GetSubscription(ctx, res.Subscription.ID)
	if err != nil {
		t.Fatal(err)
	}
	return sub
}

func TestUpgradeMidPeriodProration(t *testing.T) {
	e, clock := newTestEngine(t)
	ctx := context.Background()

	basic := mustPlan(t, e, id.Nil, "basic", 3000, 0)
	pro := mustPlan(t, e, id.Nil, "pro", 6000, 200)

	sub := activeSub(t, e, "u1", basic.ID)

	// Halfway through a 30-day period: 15 whole days unused.
	clock.Advance(15 * 24 * time.Hour)

	inv, err := e.UpgradeSubscription(ctx, sub.ID, pro.ID)
	if err != nil {
		t.Fatal(err)
	}

	// Credit 15/30 of EUR 30.00 = 15.00; due 60.00 - 15.00 = 45.00.
	if !inv.Amount.Equal(types.EUR(4500)) {
		t.Fatalf("upgrade invoice = %s, want EUR 45.00", inv.Amount)
	}
	if len(inv.LineItems) != 2 {
		t.Fatalf("line items = %d, want charge + proration credit", len(inv.LineItems))
	}
	var credit types.Money
	for _, li := range inv.LineItems {
		if li.Type == invoice.LineItemProration {
			credit = li.GrossAmount
		}
	}
	if !credit.Equal(types.EUR(-1500)) {
		t.Fatalf("proration line = %s, want EUR -15.00", credit)
	}

	// The switch waits for capture.
	cur, err := e.GetSubscription(ctx, sub.ID)
	if err != nil {
		t.Fatal(err)
	}
	if cur.PlanID != basic.ID || cur.PendingPlanID != pro.ID {
		t.Fatal("plan must not switch before the upgrade invoice is captured")
	}

	if _, err := e.CapturePayment(ctx, inv.ID, "pay_up", ""); err != nil {
		t.Fatal(err)
	}

	cur, err = e.GetSubscription(ctx, sub.ID)
	if err != nil {
		t.Fatal(err)
	}
	if cur.PlanID != pro.ID || !cur.PendingPlanID.IsNil() {
		t.Fatal("capture must complete the plan switch")
	}
	wantExpiry := clock.Now().Add(catalog.PeriodMonthly.Duration())
	if !cur.ExpiresAt.Equal(wantExpiry) {
		t.Fatalf("upgrade must start a fresh full period: %v, want %v", cur.ExpiresAt, wantExpiry)
	}

	// New plan's grant credits on the switch.
	bal, err := e.Balance(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if bal.Tokens != 200 {
		t.Fatalf("balance = %d, want 200", bal.Tokens)
	}
}

func TestUpgradeGuards(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	basic := mustPlan(t, e, id.Nil, "basic", 3000, 0)
	pro := mustPlan(t, e, id.Nil, "pro", 6000, 0)

	sub := activeSub(t, e, "u1", basic.ID)

	if _, err := e.UpgradeSubscription(ctx, sub.ID, basic.ID); err != tarif.ErrSamePlan {
		t.Fatalf("same plan: got %v, want ErrSamePlan", err)
	}

	proSub := activeSub(t, e, "u2", pro.ID)
	if _, err := e.UpgradeSubscription(ctx, proSub.ID, basic.ID); err != tarif.ErrNotAnUpgrade {
		t.Fatalf("cheaper plan: got %v, want ErrNotAnUpgrade", err)
	}

	if _, err := e.UpgradeSubscription(ctx, sub.ID, pro.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := e.UpgradeSubscription(ctx, sub.ID, pro.ID); err != tarif.ErrSwitchPending {
		t.Fatalf("second switch: got %v, want ErrSwitchPending", err)
	}
}

func TestScheduledDowngradeAppliesAtRenewal(t *testing.T) {
	e, clock := newTestEngine(t)
	ctx := context.Background()

	basic := mustPlan(t, e, id.Nil, "basic", 3000, 100)
	pro := mustPlan(t, e, id.Nil, "pro", 6000, 0)

	sub := activeSub(t, e, "u1", pro.ID)
	firstExpiry := sub.ExpiresAt

	if err := e.ScheduleDowngrade(ctx, sub.ID, basic.ID); err != nil {
		t.Fatal(err)
	}

	// The current period keeps its plan and price.
	cur, err := e.GetSubscription(ctx, sub.ID)
	if err != nil {
		t.Fatal(err)
	}
	if cur.PlanID != pro.ID || cur.ScheduledPlanID != basic.ID {
		t.Fatal("downgrade must wait for renewal")
	}

	clock.Advance(29 * 24 * time.Hour)

	inv, err := e.RenewSubscription(ctx, sub.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !inv.Amount.Equal(types.EUR(3000)) {
		t.Fatalf("renewal invoice = %s, want the downgrade plan's EUR 30.00", inv.Amount)
	}

	if _, err := e.CapturePayment(ctx, inv.ID, "pay_renew", ""); err != nil {
		t.Fatal(err)
	}

	cur, err = e.GetSubscription(ctx, sub.ID)
	if err != nil {
		t.Fatal(err)
	}
	if cur.PlanID != basic.ID || !cur.ScheduledPlanID.IsNil() {
		t.Fatal("renewal capture must apply the scheduled downgrade")
	}
	// Paid early: the new period extends from the old expiry.
	if !cur.ExpiresAt.Equal(firstExpiry.Add(catalog.PeriodMonthly.Duration())) {
		t.Fatalf("expires at = %v, want %v", cur.ExpiresAt, firstExpiry.Add(catalog.PeriodMonthly.Duration()))
	}
	if !cur.PeriodStart.Equal(firstExpiry) {
		t.Fatalf("period start = %v, want the previous expiry %v", cur.PeriodStart, firstExpiry)
	}
}

func TestDowngradeGuards(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	basic := mustPlan(t, e, id.Nil, "basic", 3000, 0)
	pro := mustPlan(t, e, id.Nil, "pro", 6000, 0)

	sub := activeSub(t, e, "u1", basic.ID)
	if err := e.ScheduleDowngrade(ctx, sub.ID, pro.ID); err != tarif.ErrNotADowngrade {
		t.Fatalf("pricier plan: got %v, want ErrNotADowngrade", err)
	}
}

func TestPauseAndResumeExtendsExpiry(t *testing.T) {
	e, clock := newTestEngine(t)
	ctx := context.Background()

	plan := mustPlan(t, e, id.Nil, "pro", 2900, 0)
	sub := activeSub(t, e, "u1", plan.ID)
	origExpiry := sub.ExpiresAt

	if err := e.PauseSubscription(ctx, sub.ID); err != nil {
		t.Fatal(err)
	}

	// A paused subscription keeps access for its remaining days.
	cur, err := e.GetSubscription(ctx, sub.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !cur.Live(clock.Now()) {
		t.Fatal("paused subscription must stay live")
	}

	clock.Advance(10 * 24 * time.Hour)

	if err := e.ResumeSubscription(ctx, sub.ID); err != nil {
		t.Fatal(err)
	}

	cur, err = e.GetSubscription(ctx, sub.ID)
	if err != nil {
		t.Fatal(err)
	}
	if cur.Status != subscription.StatusActive {
		t.Fatalf("status = %s, want active", cur.Status)
	}
	want := origExpiry.Add(10 * 24 * time.Hour)
	if !cur.ExpiresAt.Equal(want) {
		t.Fatalf("expires at = %v, want expiry pushed out by the pause: %v", cur.ExpiresAt, want)
	}

	if err := e.ResumeSubscription(ctx, sub.ID); err != tarif.ErrInvalidTransition {
		t.Fatalf("resuming an active subscription: got %v, want ErrInvalidTransition", err)
	}
}

func TestPausedSubscriptionCannotUpgrade(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	basic := mustPlan(t, e, id.Nil, "basic", 3000, 0)
	pro := mustPlan(t, e, id.Nil, "pro", 6000, 0)

	sub := activeSub(t, e, "u1", basic.ID)
	if err := e.PauseSubscription(ctx, sub.ID); err != nil {
		t.Fatal(err)
	}

	if _, err := e.UpgradeSubscription(ctx, sub.ID, pro.ID); err != tarif.ErrInvalidTransition {
		t.Fatalf("got %v, want ErrInvalidTransition", err)
	}
}

func TestPauseReleasesExclusiveSlot(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	memberships := mustCategory(t, e, "memberships", true, id.Nil)
	gold := mustPlan(t, e, memberships.ID, "gold", 2900, 0)
	silver := mustPlan(t, e, memberships.ID, "silver", 1900, 0)

	sub := activeSub(t, e, "u1", gold.ID)
	if err := e.PauseSubscription(ctx, sub.ID); err != nil {
		t.Fatal(err)
	}

	// While paused the slot is free, so a second subscription in the
	// same single-choice category may be opened.
	other := activeSub(t, e, "u1", silver.ID)
	if other.Status != subscription.StatusActive {
		t.Fatalf("status = %s, want active", other.Status)
	}

	// The slot is taken again, so the paused subscription cannot come back.
	if err := e.ResumeSubscription(ctx, sub.ID); err != tarif.ErrCategoryConflict {
		t.Fatalf("resume with occupied slot: got %v, want ErrCategoryConflict", err)
	}
}

func TestTrialOncePerPlan(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	plan := &catalog.Plan{
		Name:      "pro",
		Slug:      "pro",
		Price:     types.EUR(2900),
		Period:    catalog.PeriodMonthly,
		TrialDays: 7,
	}
	if err := e.CreatePlan(ctx, plan); err != nil {
		t.Fatal(err)
	}

	activeSub(t, e, "u1", plan.ID)

	if _, err := e.StartTrial(ctx, "u1", plan.ID); err != tarif.ErrTrialUsed {
		t.Fatalf("trial after paid subscription: got %v, want ErrTrialUsed", err)
	}
}

func TestCancelKeepsAccessUntilExpiry(t *testing.T) {
	e, clock := newTestEngine(t)
	ctx := context.Background()

	memberships := mustCategory(t, e, "memberships", true, id.Nil)
	plan := mustPlan(t, e, memberships.ID, "gold", 2900, 0)

	sub := activeSub(t, e, "u1", plan.ID)

	if err := e.CancelSubscription(ctx, sub.ID); err != nil {
		t.Fatal(err)
	}

	cur, err := e.GetSubscription(ctx, sub.ID)
	if err != nil {
		t.Fatal(err)
	}
	if cur.Status != subscription.StatusCancelled {
		t.Fatalf("status = %s, want cancelled", cur.Status)
	}
	if !cur.Live(clock.Now()) {
		t.Fatal("cancelled subscription keeps access until the period ends")
	}

	// The exclusive slot stays occupied while access lasts.
	if _, err := e.Checkout(ctx, tarif.CheckoutRequest{UserID: "u1", PlanID: plan.ID}); err != tarif.ErrCategoryConflict {
		t.Fatalf("got %v, want ErrCategoryConflict", err)
	}

	// Past the paid period the expiry sweep finishes the job.
	clock.Advance(31 * 24 * time.Hour)
	n, err := e.ExpireSubscriptions(ctx, clock.Now())
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expired = %d, want 1", n)
	}

	if _, err := e.Checkout(ctx, tarif.CheckoutRequest{UserID: "u1", PlanID: plan.ID}); err != nil {
		t.Fatalf("checkout after expiry should succeed, got %v", err)
	}
}

func TestRenewOneTimePlanRejected(t *testing.T) {
	e, clock := newTestEngine(t)
	ctx := context.Background()

	oneTime := &catalog.Plan{
		Name:   "lifetime",
		Slug:   "lifetime",
		Price:  types.EUR(49900),
		Period: catalog.PeriodOneTime,
	}
	if err := e.CreatePlan(ctx, oneTime); err != nil {
		t.Fatal(err)
	}

	res, err := e.Checkout(ctx, tarif.CheckoutRequest{UserID: "u1", PlanID: oneTime.ID})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.CapturePayment(ctx, res.Invoice.ID, "pay_1", ""); err != nil {
		t.Fatal(err)
	}

	// One-time access does not lapse.
	sub, err := e.GetSubscription(ctx, res.Subscription.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !sub.Live(clock.Now().AddDate(10, 0, 0)) {
		t.Fatal("one-time purchase must stay live indefinitely")
	}

	if _, err := e.RenewSubscription(ctx, res.Subscription.ID); err != tarif.ErrNotRecurring {
		t.Fatalf("got %v, want ErrNotRecurring", err)
	}

	// One-time plans have nothing to prorate, so plan switches are out.
	pricier := mustPlan(t, e, id.Nil, "pricier", 99900, 0)
	if _, err := e.UpgradeSubscription(ctx, res.Subscription.ID, pricier.ID); err != tarif.ErrInvalidTransition {
		t.Fatalf("upgrade from one-time: got %v, want ErrInvalidTransition", err)
	}
}

func TestRenewFreePlanExtendsInPlace(t *testing.T) {
	e, clock := newTestEngine(t)
	ctx := context.Background()

	free := mustPlan(t, e, id.Nil, "free", 0, 100)

	res, err := e.Checkout(ctx, tarif.CheckoutRequest{UserID: "u1", PlanID: free.ID})
	if err != nil {
		t.Fatal(err)
	}
	firstExpiry := res.Subscription.ExpiresAt

	clock.Advance(20 * 24 * time.Hour)

	inv, err := e.RenewSubscription(ctx, res.Subscription.ID)
	if err != nil {
		t.Fatal(err)
	}
	if inv != nil {
		t.Fatal("free renewal must not invoice")
	}

	cur, err := e.GetSubscription(ctx, res.Subscription.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !cur.ExpiresAt.Equal(firstExpiry.Add(catalog.PeriodMonthly.Duration())) {
		t.Fatalf("expires at = %v, want one more period", cur.ExpiresAt)
	}

	bal, err := e.Balance(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if bal.Tokens != 200 {
		t.Fatalf("balance = %d, want checkout grant + renewal grant", bal.Tokens)
	}
}

func TestUpgradeAcrossCategoriesMovesExclusiveSlot(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	memberships := mustCategory(t, e, "memberships", true, id.Nil)
	coaching := mustCategory(t, e, "coaching", true, id.Nil)
	gold := mustPlan(t, e, memberships.ID, "gold", 2900, 0)
	elite := mustPlan(t, e, coaching.ID, "elite", 9900, 0)

	sub := activeSub(t, e, "u1", gold.ID)
	if sub.ExclusiveKey != memberships.ID {
		t.Fatalf("exclusive key = %s, want %s", sub.ExclusiveKey, memberships.ID)
	}

	inv, err := e.UpgradeSubscription(ctx, sub.ID, elite.ID)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.CapturePayment(ctx, inv.ID, "pay_move", ""); err != nil {
		t.Fatal(err)
	}

	cur, err := e.GetSubscription(ctx, sub.ID)
	if err != nil {
		t.Fatal(err)
	}
	if cur.PlanID != elite.ID {
		t.Fatalf("plan = %s, want %s", cur.PlanID, elite.ID)
	}
	if cur.ExclusiveKey != coaching.ID {
		t.Fatalf("exclusive key = %s, want the new category %s", cur.ExclusiveKey, coaching.ID)
	}

	// The old slot is free again; the new one is taken.
	if _, err := e.Checkout(ctx, tarif.CheckoutRequest{UserID: "u1", PlanID: gold.ID}); err != nil {
		t.Fatalf("old category should be free, got %v", err)
	}
	basic := mustPlan(t, e, coaching.ID, "starter", 12900, 0)
	if _, err := e.Checkout(ctx, tarif.CheckoutRequest{UserID: "u1", PlanID: basic.ID}); err != tarif.ErrCategoryConflict {
		t.Fatalf("new category should be occupied, got %v", err)
	}
}

func TestUpgradeIntoOccupiedCategoryConflicts(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	memberships := mustCategory(t, e, "memberships", true, id.Nil)
	coaching := mustCategory(t, e, "coaching", true, id.Nil)
	gold := mustPlan(t, e, memberships.ID, "gold", 2900, 0)
	elite := mustPlan(t, e, coaching.ID, "elite", 9900, 0)
	starter := mustPlan(t, e, coaching.ID, "starter", 4900, 0)

	sub := activeSub(t, e, "u1", gold.ID)
	activeSub(t, e, "u1", starter.ID)

	// The coaching slot is held, so gold cannot move onto it.
	if _, err := e.UpgradeSubscription(ctx, sub.ID, elite.ID); err != tarif.ErrCategoryConflict {
		t.Fatalf("got %v, want ErrCategoryConflict", err)
	}
}
