// Package tarif provides a composable subscription billing engine for Go applications.
//
// Tarif is designed as a library, not a service. Import it directly into your Go
// application and wire your payment processor's webhooks to its capture pipeline.
// It provides:
//
//   - A plan catalog with a category tree, add-ons and token bundles
//   - A checkout pipeline producing pending invoices settled by payment capture
//   - Subscription lifecycle management (trial, pause, cancel, expiry)
//   - Day-based proration for mid-period plan upgrades
//   - Scheduled downgrades applied at renewal
//   - An append-only token ledger with balance-guarded debits
//   - Refunds with automatic token claw-back
//
// # Quick Start
//
// Create an engine with your preferred store:
//
//	import (
//	    "github.com/xraph/tarif"
//	    "github.com/xraph/tarif/store/postgres"
//	)
//
//	// Initialize store
//	store, err := postgres.New(databaseURL)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Create engine
//	engine := tarif.New(store)
//
//	// Start the engine (begins background sweeps)
//	if err := engine.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer engine.Stop()
//
// # Core Concepts
//
// Plans define what a subscription costs and grants:
//
//	plan := &catalog.Plan{
//	    Name:       "Pro",
//	    Price:      tarif.EUR(2999),
//	    Period:     catalog.PeriodMonthly,
//	    TokenGrant: 500,
//	}
//
// Checkout prices a purchase and issues a pending invoice:
//
//	result, err := engine.Checkout(ctx, tarif.CheckoutRequest{
//	    UserID: "user-1",
//	    PlanID: plan.ID,
//	})
//
// Capture settles the invoice and activates what it paid for:
//
//	capture, err := engine.CapturePayment(ctx, result.Invoice.ID, "pi_123", tarif.SourceCardProcessor)
//
// Tokens accumulate on an append-only ledger:
//
//	balance, err := engine.Balance(ctx, "user-1")
//	_, err = engine.DebitTokens(ctx, "user-1", 50, "report generation")
//
// # Exclusive Categories
//
// Categories form a tree. A category marked is_single makes every plan
// under its subtree mutually exclusive per user: a user can hold at
// most one live subscription across all of them. Conflicting checkouts
// fail with ErrCategoryConflict; use UpgradeSubscription or
// ScheduleDowngrade to move between plans instead.
package tarif
