package tarif_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/xraph/tarif"
	"github.com/xraph/tarif/catalog"
	"github.com/xraph/tarif/id"
	"github.com/xraph/tarif/invoice"
	"github.com/xraph/tarif/subscription"
)

func TestCapturePaymentActivatesCheckout(t *testing.T) {
	e, clock := newTestEngine(t)
	ctx := context.Background()

	plan := mustPlan(t, e, id.Nil, "pro", 2900, 500)
	addOn := mustAddOn(t, e, "priority", 900, 50)
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

	capRes, err := e.CapturePayment(ctx, res.Invoice.ID, "pay_abc", tarif.SourceCardProcessor)
	if err != nil {
		t.Fatal(err)
	}
	if capRes.Invoice == nil || capRes.Subscription == nil {
		t.Fatal("capture result must carry the settled invoice and subscription")
	}
	if len(capRes.AddOnSubs) != 1 {
		t.Fatalf("add-on subs = %d, want 1", len(capRes.AddOnSubs))
	}
	if len(capRes.Transactions) != 3 {
		t.Fatalf("transactions = %d, want plan grant, add-on grant and bundle credit", len(capRes.Transactions))
	}

	inv, err := e.GetInvoice(ctx, res.Invoice.ID)
	if err != nil {
		t.Fatal(err)
	}
	if inv.Status != invoice.StatusPaid {
		t.Fatalf("invoice status = %s, want paid", inv.Status)
	}
	if inv.PaymentRef != "pay_abc" || inv.CaptureSource != tarif.SourceCardProcessor {
		t.Fatalf("payment ref/source not recorded: %q %q", inv.PaymentRef, inv.CaptureSource)
	}

	sub, err := e.GetSubscription(ctx, res.Subscription.ID)
	if err != nil {
		t.Fatal(err)
	}
	if sub.Status != subscription.StatusActive {
		t.Fatalf("subscription status = %s, want active", sub.Status)
	}
	wantExpiry := clock.Now().Add(catalog.PeriodMonthly.Duration())
	if !sub.ExpiresAt.Equal(wantExpiry) {
		t.Fatalf("expires at = %v, want %v", sub.ExpiresAt, wantExpiry)
	}

	// Plan grant, add-on grant and bundle all credit at capture.
	bal, err := e.Balance(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if bal.Tokens != 500+50+1000 {
		t.Fatalf("balance = %d, want 1550", bal.Tokens)
	}
}

func TestCapturePaymentIdempotent(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	plan := mustPlan(t, e, id.Nil, "pro", 2900, 500)
	res, err := e.Checkout(ctx, tarif.CheckoutRequest{UserID: "u1", PlanID: plan.ID})
	if err != nil {
		t.Fatal(err)
	}

	first, err := e.CapturePayment(ctx, res.Invoice.ID, "pay_1", "")
	if err != nil {
		t.Fatal(err)
	}

	// A replay is not an error: it returns the prior settlement.
	replay, err := e.CapturePayment(ctx, res.Invoice.ID, "pay_2", "")
	if err != nil {
		t.Fatalf("second capture: got %v, want idempotent replay", err)
	}
	if replay.Invoice.ID != first.Invoice.ID || replay.Invoice.Status != invoice.StatusPaid {
		t.Fatal("replay must return the settled invoice")
	}
	if replay.Invoice.PaymentRef != "pay_1" {
		t.Fatalf("payment ref = %q, want the first capture's pay_1", replay.Invoice.PaymentRef)
	}
	if replay.Subscription == nil || replay.Subscription.ID != first.Subscription.ID {
		t.Fatal("replay must return the activated subscription")
	}
	if len(replay.Transactions) != 0 {
		t.Fatal("replay must not report fresh grants")
	}

	// The double capture must not double-grant.
	bal, err := e.Balance(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if bal.Tokens != 500 {
		t.Fatalf("balance = %d, want 500", bal.Tokens)
	}
}

func TestCaptureUnknownInvoice(t *testing.T) {
	e, _ := newTestEngine(t)

	_, err := e.CapturePayment(context.Background(), id.NewInvoiceID(), "pay_x", "")
	if err != tarif.ErrInvoiceNotFound {
		t.Fatalf("got %v, want ErrInvoiceNotFound", err)
	}
}

func TestFailPaymentThenRetry(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	plan := mustPlan(t, e, id.Nil, "pro", 2900, 0)
	res, err := e.Checkout(ctx, tarif.CheckoutRequest{UserID: "u1", PlanID: plan.ID})
	if err != nil {
		t.Fatal(err)
	}

	if err := e.FailPayment(ctx, res.Invoice.ID, "card declined"); err != nil {
		t.Fatal(err)
	}

	inv, err := e.GetInvoice(ctx, res.Invoice.ID)
	if err != nil {
		t.Fatal(err)
	}
	if inv.Status != invoice.StatusFailed {
		t.Fatalf("invoice status = %s, want failed", inv.Status)
	}
	if inv.FailureReason != "card declined" {
		t.Fatalf("failure reason = %q", inv.FailureReason)
	}

	// A failed invoice stays payable.
	if _, err := e.CapturePayment(ctx, res.Invoice.ID, "pay_retry", ""); err != nil {
		t.Fatal(err)
	}

	sub, err := e.GetSubscription(ctx, res.Subscription.ID)
	if err != nil {
		t.Fatal(err)
	}
	if sub.Status != subscription.StatusActive {
		t.Fatalf("subscription status = %s, want active after retried capture", sub.Status)
	}
}

// stubSource is a capture-source plugin accepting references with a
// fixed prefix.
type stubSource struct {
	name   string
	prefix string
}

func (s *stubSource) Name() string       { return s.name + "-source" }
func (s *stubSource) SourceName() string { return s.name }

func (s *stubSource) ValidateReference(_ context.Context, ref string) error {
	if !strings.HasPrefix(ref, s.prefix) {
		return errors.New("bad payment reference")
	}
	return nil
}

func TestCaptureSourceValidation(t *testing.T) {
	e, _ := newTestEngine(t,
		tarif.WithPlugin(&stubSource{name: tarif.SourceCardProcessor, prefix: "pay_"}),
	)
	ctx := context.Background()

	plan := mustPlan(t, e, id.Nil, "pro", 2900, 0)

	newInvoice := func(t *testing.T) id.InvoiceID {
		t.Helper()
		res, err := e.Checkout(ctx, tarif.CheckoutRequest{UserID: "u1", PlanID: plan.ID})
		if err != nil {
			t.Fatal(err)
		}
		return res.Invoice.ID
	}

	t.Run("UnknownSourceRejected", func(t *testing.T) {
		_, err := e.CapturePayment(ctx, newInvoice(t), "pay_1", "carrier_pigeon")
		if !errors.Is(err, tarif.ErrUnknownSource) {
			t.Fatalf("got %v, want ErrUnknownSource", err)
		}
	})

	t.Run("BadReferenceRejected", func(t *testing.T) {
		_, err := e.CapturePayment(ctx, newInvoice(t), "nope", tarif.SourceCardProcessor)
		if err == nil {
			t.Fatal("expected reference validation error")
		}
	})

	t.Run("ValidReferenceAccepted", func(t *testing.T) {
		if _, err := e.CapturePayment(ctx, newInvoice(t), "pay_ok", tarif.SourceCardProcessor); err != nil {
			t.Fatal(err)
		}
	})
}
