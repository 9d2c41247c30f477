package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/xraph/tarif"
	"github.com/xraph/tarif/id"
	"github.com/xraph/tarif/invoice"
	"github.com/xraph/tarif/store"
	"github.com/xraph/tarif/store/memory"
	"github.com/xraph/tarif/subscription"
	"github.com/xraph/tarif/token"
	"github.com/xraph/tarif/types"
)

var ts = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newSub(userID string, status subscription.Status, key id.CategoryID) *subscription.Subscription {
	return &subscription.Subscription{
		Entity:       types.NewEntityAt(ts),
		ID:           id.NewSubscriptionID(),
		UserID:       userID,
		PlanID:       id.NewPlanID(),
		Status:       status,
		ExclusiveKey: key,
		PeriodStart:  ts,
		ExpiresAt:    ts.AddDate(0, 1, 0),
	}
}

func newInvoice(userID string, cents int64) *invoice.Invoice {
	invID := id.NewInvoiceID()
	return &invoice.Invoice{
		Entity:    types.NewEntityAt(ts),
		ID:        invID,
		Number:    invoice.NewNumber(ts),
		UserID:    userID,
		Status:    invoice.StatusPending,
		Currency:  "eur",
		Subtotal:  types.EUR(cents),
		TaxAmount: types.EUR(0),
		Amount:    types.EUR(cents),
		LineItems: []invoice.LineItem{{
			ID:          id.NewLineItemID(),
			InvoiceID:   invID,
			Type:        invoice.LineItemPlan,
			Quantity:    1,
			UnitAmount:  types.EUR(cents),
			NetAmount:   types.EUR(cents),
			TaxAmount:   types.EUR(0),
			GrossAmount: types.EUR(cents),
		}},
	}
}

func TestCreateSubscriptionExclusivity(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	key := id.NewCategoryID()

	if err := s.CreateSubscription(ctx, newSub("u1", subscription.StatusActive, key)); err != nil {
		t.Fatal(err)
	}

	t.Run("SameUserSameKeyConflicts", func(t *testing.T) {
		err := s.CreateSubscription(ctx, newSub("u1", subscription.StatusActive, key))
		if err != tarif.ErrCategoryConflict {
			t.Fatalf("got %v, want ErrCategoryConflict", err)
		}
	})

	t.Run("PendingDoesNotOccupy", func(t *testing.T) {
		if err := s.CreateSubscription(ctx, newSub("u1", subscription.StatusPending, key)); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("OtherUserUnaffected", func(t *testing.T) {
		if err := s.CreateSubscription(ctx, newSub("u2", subscription.StatusActive, key)); err != nil {
			t.Fatal(err)
		}
	})

	t.Run("NilKeyUnconstrained", func(t *testing.T) {
		if err := s.CreateSubscription(ctx, newSub("u1", subscription.StatusActive, id.Nil)); err != nil {
			t.Fatal(err)
		}
		if err := s.CreateSubscription(ctx, newSub("u1", subscription.StatusActive, id.Nil)); err != nil {
			t.Fatal(err)
		}
	})
}

func TestMarkInvoicePaidCAS(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	inv := newInvoice("u1", 2900)
	if err := s.CreateInvoice(ctx, inv); err != nil {
		t.Fatal(err)
	}

	if err := s.MarkInvoicePaid(ctx, inv.ID, ts, "pay_1", "manual"); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetInvoice(ctx, inv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != invoice.StatusPaid || got.PaymentRef != "pay_1" {
		t.Fatalf("invoice = %s/%s, want paid/pay_1", got.Status, got.PaymentRef)
	}

	// The second settle must lose.
	if err := s.MarkInvoicePaid(ctx, inv.ID, ts, "pay_2", "manual"); err != tarif.ErrInvoicePaid {
		t.Fatalf("got %v, want ErrInvoicePaid", err)
	}
	got, err = s.GetInvoice(ctx, inv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.PaymentRef != "pay_1" {
		t.Fatal("losing settle must not overwrite the payment reference")
	}
}

func TestMarkInvoicePaidFromFailed(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	inv := newInvoice("u1", 2900)
	if err := s.CreateInvoice(ctx, inv); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkInvoiceFailed(ctx, inv.ID, ts, "card declined"); err != nil {
		t.Fatal(err)
	}

	// A failed invoice stays collectible.
	if err := s.MarkInvoicePaid(ctx, inv.ID, ts, "pay_retry", "manual"); err != nil {
		t.Fatal(err)
	}
}

func TestCreateInvoiceConsistency(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	inv := newInvoice("u1", 2900)
	inv.Amount = types.EUR(100) // does not match the line items
	if err := s.CreateInvoice(ctx, inv); err != tarif.ErrInconsistentInvoice {
		t.Fatalf("got %v, want ErrInconsistentInvoice", err)
	}
}

func TestAppendDebitGuard(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	credit := &token.Transaction{
		Entity: types.NewEntityAt(ts),
		ID:     id.NewTokenTransactionID(),
		UserID: "u1",
		Type:   token.TypeBonus,
		Amount: 10,
	}
	if err := s.AppendTransaction(ctx, credit); err != nil {
		t.Fatal(err)
	}

	debit := &token.Transaction{
		Entity: types.NewEntityAt(ts),
		ID:     id.NewTokenTransactionID(),
		UserID: "u1",
		Type:   token.TypeUsage,
		Amount: -11,
	}
	if err := s.AppendDebit(ctx, debit); err != tarif.ErrInsufficientTokens {
		t.Fatalf("got %v, want ErrInsufficientTokens", err)
	}

	bal, err := s.TokenBalance(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if bal != 10 {
		t.Fatalf("balance = %d, want the rejected debit to leave it at 10", bal)
	}
}

func TestApplyRefundClampsDebits(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	inv := newInvoice("u1", 2900)
	if err := s.CreateInvoice(ctx, inv); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkInvoicePaid(ctx, inv.ID, ts, "pay_1", "manual"); err != nil {
		t.Fatal(err)
	}

	grant := &token.Transaction{
		Entity:    types.NewEntityAt(ts),
		ID:        id.NewTokenTransactionID(),
		UserID:    "u1",
		Type:      token.TypeSubscriptionGrant,
		Amount:    500,
		InvoiceID: inv.ID,
	}
	if err := s.AppendTransaction(ctx, grant); err != nil {
		t.Fatal(err)
	}
	spend := &token.Transaction{
		Entity: types.NewEntityAt(ts),
		ID:     id.NewTokenTransactionID(),
		UserID: "u1",
		Type:   token.TypeUsage,
		Amount: -450,
	}
	if err := s.AppendDebit(ctx, spend); err != nil {
		t.Fatal(err)
	}

	set := &store.RefundSet{
		InvoiceID:  inv.ID,
		RefundedAt: ts,
		Debits: []*token.Transaction{{
			Entity:    types.NewEntityAt(ts),
			ID:        id.NewTokenTransactionID(),
			UserID:    "u1",
			Type:      token.TypeRefund,
			Amount:    -500,
			InvoiceID: inv.ID,
		}},
	}
	if err := s.ApplyRefund(ctx, set); err != nil {
		t.Fatal(err)
	}

	bal, err := s.TokenBalance(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if bal != 0 {
		t.Fatalf("balance = %d, want the clawback clamped at 0", bal)
	}
	if set.Debits[0].Amount != -50 {
		t.Fatalf("set debit = %d, want the clamped -50 written back", set.Debits[0].Amount)
	}

	got, err := s.GetInvoice(ctx, inv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != invoice.StatusRefunded {
		t.Fatalf("status = %s, want refunded", got.Status)
	}
}

func TestApplyRefundRequiresPaid(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	inv := newInvoice("u1", 2900)
	if err := s.CreateInvoice(ctx, inv); err != nil {
		t.Fatal(err)
	}

	set := &store.RefundSet{InvoiceID: inv.ID, RefundedAt: ts}
	if err := s.ApplyRefund(ctx, set); err != tarif.ErrInvoiceNotPaid {
		t.Fatalf("got %v, want ErrInvoiceNotPaid", err)
	}
}

func TestExpireSubscriptionCAS(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	sub := newSub("u1", subscription.StatusActive, id.NewCategoryID())
	if err := s.CreateSubscription(ctx, sub); err != nil {
		t.Fatal(err)
	}

	now := sub.ExpiresAt.Add(time.Hour)

	ok, err := s.ExpireSubscription(ctx, sub.ID, now)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("stale subscription must expire")
	}
	got, err := s.GetSubscription(ctx, sub.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != subscription.StatusExpired {
		t.Fatalf("status = %s, want expired", got.Status)
	}
	if got.EndedAt == nil || !got.EndedAt.Equal(now) {
		t.Fatalf("ended at = %v, want %v", got.EndedAt, now)
	}

	t.Run("AlreadyExpiredIsNoOp", func(t *testing.T) {
		ok, err := s.ExpireSubscription(ctx, sub.ID, now)
		if err != nil {
			t.Fatal(err)
		}
		if ok {
			t.Fatal("expired subscription must not expire again")
		}
	})

	t.Run("RenewedSubscriptionSurvives", func(t *testing.T) {
		renewed := newSub("u1", subscription.StatusActive, id.NewCategoryID())
		renewed.ExpiresAt = now.AddDate(0, 1, 0)
		if err := s.CreateSubscription(ctx, renewed); err != nil {
			t.Fatal(err)
		}
		ok, err := s.ExpireSubscription(ctx, renewed.ID, now)
		if err != nil {
			t.Fatal(err)
		}
		if ok {
			t.Fatal("a subscription renewed past the cutoff must not expire")
		}
	})

	t.Run("UnknownSubscription", func(t *testing.T) {
		if _, err := s.ExpireSubscription(ctx, id.NewSubscriptionID(), now); err != tarif.ErrSubscriptionNotFound {
			t.Fatalf("got %v, want ErrSubscriptionNotFound", err)
		}
	})
}

func TestReadsReturnCopies(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	sub := newSub("u1", subscription.StatusActive, id.NewCategoryID())
	if err := s.CreateSubscription(ctx, sub); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetSubscription(ctx, sub.ID)
	if err != nil {
		t.Fatal(err)
	}
	got.Status = subscription.StatusCancelled
	got.ExpiresAt = got.ExpiresAt.AddDate(1, 0, 0)

	again, err := s.GetSubscription(ctx, sub.ID)
	if err != nil {
		t.Fatal(err)
	}
	if again.Status != subscription.StatusActive {
		t.Fatal("mutating a returned subscription must not change the store")
	}
	if !again.ExpiresAt.Equal(sub.ExpiresAt) {
		t.Fatal("mutating a returned expiry must not change the store")
	}

	inv := newInvoice("u1", 2900)
	if err := s.CreateInvoice(ctx, inv); err != nil {
		t.Fatal(err)
	}
	fetched, err := s.GetInvoice(ctx, inv.ID)
	if err != nil {
		t.Fatal(err)
	}
	fetched.LineItems[0].Description = "tampered"
	fetched, err = s.GetInvoice(ctx, inv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if fetched.LineItems[0].Description == "tampered" {
		t.Fatal("mutating returned line items must not change the store")
	}
}

func TestGetLiveSubscription(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	key := id.NewCategoryID()

	sub := newSub("u1", subscription.StatusActive, key)
	if err := s.CreateSubscription(ctx, sub); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetLiveSubscription(ctx, "u1", key)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != sub.ID {
		t.Fatalf("got %s, want %s", got.ID, sub.ID)
	}

	if _, err := s.GetLiveSubscription(ctx, "u2", key); err != tarif.ErrNoLiveSubscription {
		t.Fatalf("other user: got %v, want ErrNoLiveSubscription", err)
	}

	sub.Status = subscription.StatusExpired
	if err := s.UpdateSubscription(ctx, sub); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetLiveSubscription(ctx, "u1", key); err != tarif.ErrNoLiveSubscription {
		t.Fatalf("expired: got %v, want ErrNoLiveSubscription", err)
	}
}
