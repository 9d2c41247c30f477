package tarif

import (
	"context"
	"errors"

	"github.com/xraph/tarif/catalog"
	"github.com/xraph/tarif/id"
	"github.com/xraph/tarif/invoice"
	"github.com/xraph/tarif/subscription"
	"github.com/xraph/tarif/token"
	"github.com/xraph/tarif/types"
)

// GetSubscription retrieves a subscription by ID.
func (e *Engine) GetSubscription(ctx context.Context, subID id.SubscriptionID) (*subscription.Subscription, error) {
	return e.store.GetSubscription(ctx, subID)
}

// ListSubscriptions lists a user's subscriptions.
func (e *Engine) ListSubscriptions(ctx context.Context, userID string, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	return e.store.ListSubscriptions(ctx, userID, opts)
}

// ListAddOnSubs lists the add-on subscriptions attached to a base
// subscription.
func (e *Engine) ListAddOnSubs(ctx context.Context, subID id.SubscriptionID) ([]*subscription.AddOnSubscription, error) {
	return e.store.ListAddOnSubs(ctx, subID)
}

// StartTrial begins a trial subscription without payment. The plan must
// offer a trial, and exclusivity applies as for any other subscription.
func (e *Engine) StartTrial(ctx context.Context, userID string, planID id.PlanID) (*subscription.Subscription, error) {
	if userID == "" {
		return nil, ValidationError{Field: "user_id", Message: "required"}
	}

	plan, err := e.store.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	if plan.Status != catalog.StatusActive {
		return nil, ErrPlanArchived
	}
	if !plan.HasTrial() {
		return nil, ValidationError{Field: "plan_id", Message: "plan has no trial"}
	}

	// One trial per user per plan: any prior subscription to the plan,
	// live or not, makes the user ineligible.
	prior, err := e.store.ListSubscriptions(ctx, userID, subscription.ListOpts{})
	if err != nil {
		return nil, err
	}
	for _, p := range prior {
		if p.PlanID == plan.ID {
			return nil, ErrTrialUsed
		}
	}

	key, err := e.exclusiveKeyFor(ctx, plan)
	if err != nil {
		return nil, err
	}

	now := e.now()
	trialEnd := now.AddDate(0, 0, plan.TrialDays)

	sub := &subscription.Subscription{
		Entity:       types.NewEntityAt(now),
		ID:           id.NewSubscriptionID(),
		UserID:       userID,
		PlanID:       plan.ID,
		Status:       subscription.StatusTrialing,
		ExclusiveKey: key,
		PeriodStart:  now,
		ExpiresAt:    trialEnd,
		TrialEnd:     &trialEnd,
	}

	if err := e.store.CreateSubscription(ctx, sub); err != nil {
		return nil, err
	}

	e.logger.Info("trial started",
		"user_id", userID,
		"plan", plan.Slug,
		"trial_end", trialEnd,
	)
	e.plugins.EmitTrialStarted(ctx, sub)

	return sub, nil
}

// UpgradeSubscription moves a live subscription to a more expensive
// plan. It issues a pending invoice for the new plan's price minus the
// prorated unused value of the old plan; the switch takes effect when
// that invoice is captured.
func (e *Engine) UpgradeSubscription(ctx context.Context, subID id.SubscriptionID, newPlanID id.PlanID) (*invoice.Invoice, error) {
	sub, err := e.store.GetSubscription(ctx, subID)
	if err != nil {
		return nil, err
	}

	now := e.now()
	if !sub.Live(now) {
		return nil, ErrNoLiveSubscription
	}
	if sub.Status == subscription.StatusPaused {
		return nil, ErrInvalidTransition
	}
	if !sub.PendingPlanID.IsNil() || !sub.ScheduledPlanID.IsNil() {
		return nil, ErrSwitchPending
	}
	if sub.PlanID == newPlanID {
		return nil, ErrSamePlan
	}

	oldPlan, err := e.store.GetPlan(ctx, sub.PlanID)
	if err != nil {
		return nil, err
	}
	// One-time plans have no period to prorate against.
	if !oldPlan.IsRecurring() {
		return nil, ErrInvalidTransition
	}
	newPlan, err := e.store.GetPlan(ctx, newPlanID)
	if err != nil {
		return nil, err
	}
	if newPlan.Status != catalog.StatusActive {
		return nil, ErrPlanArchived
	}
	if newPlan.Price.Currency != oldPlan.Price.Currency {
		return nil, ErrCurrencyMismatch
	}
	if !newPlan.Price.GreaterThan(oldPlan.Price) {
		return nil, ErrNotAnUpgrade
	}

	// A plan in a different exclusive subtree must not land on a slot
	// another live subscription already holds.
	newKey, err := e.exclusiveKeyFor(ctx, newPlan)
	if err != nil {
		return nil, err
	}
	if !newKey.IsNil() && newKey != sub.ExclusiveKey {
		if _, err := e.store.GetLiveSubscription(ctx, sub.UserID, newKey); err == nil {
			return nil, ErrCategoryConflict
		} else if !errors.Is(err, ErrNoLiveSubscription) {
			return nil, err
		}
	}

	pro := prorate(sub, oldPlan, newPlan, now)

	invID := id.NewInvoiceID()
	lines := []invoice.LineItem{
		chargeLine(invID, invoice.LineItemPlan, newPlan.ID, newPlan.Name, newPlan.Price),
	}
	if pro.Credit.IsPositive() {
		lines = append(lines,
			chargeLine(invID, invoice.LineItemProration, oldPlan.ID, "Unused time on "+oldPlan.Name, pro.Credit.Negate()))
	}

	dueAt := now.Add(e.invoiceTTL)
	inv := &invoice.Invoice{
		Entity:         types.NewEntityAt(now),
		ID:             invID,
		Number:         invoice.NewNumber(now),
		UserID:         sub.UserID,
		SubscriptionID: sub.ID,
		Status:         invoice.StatusPending,
		Currency:       pro.Due.Currency,
		Subtotal:       pro.Due,
		TaxAmount:      types.Zero(pro.Due.Currency),
		Amount:         pro.Due,
		LineItems:      lines,
		DueAt:          &dueAt,
		Metadata:       map[string]string{purposeKey: purposeUpgrade},
	}
	if !inv.Consistent() {
		return nil, ErrInconsistentInvoice
	}

	sub.PendingPlanID = newPlan.ID
	sub.Touch()
	if err := e.store.UpdateSubscription(ctx, sub); err != nil {
		return nil, err
	}
	if err := e.store.CreateInvoice(ctx, inv); err != nil {
		// Roll the marker back so the subscription is not stuck.
		sub.PendingPlanID = id.Nil
		_ = e.store.UpdateSubscription(ctx, sub) //nolint:errcheck // best-effort rollback
		return nil, err
	}

	e.logger.Info("upgrade invoiced",
		"subscription", sub.ID.String(),
		"from", oldPlan.Slug,
		"to", newPlan.Slug,
		"due", pro.Due.String(),
	)

	return inv, nil
}

// ScheduleDowngrade marks a live subscription to move to a cheaper plan
// at its next renewal. No money moves now; the current period keeps the
// value already paid for.
func (e *Engine) ScheduleDowngrade(ctx context.Context, subID id.SubscriptionID, newPlanID id.PlanID) error {
	sub, err := e.store.GetSubscription(ctx, subID)
	if err != nil {
		return err
	}

	now := e.now()
	if !sub.Live(now) {
		return ErrNoLiveSubscription
	}
	if !sub.PendingPlanID.IsNil() || !sub.ScheduledPlanID.IsNil() {
		return ErrSwitchPending
	}
	if sub.PlanID == newPlanID {
		return ErrSamePlan
	}

	oldPlan, err := e.store.GetPlan(ctx, sub.PlanID)
	if err != nil {
		return err
	}
	if !oldPlan.IsRecurring() {
		return ErrInvalidTransition
	}
	newPlan, err := e.store.GetPlan(ctx, newPlanID)
	if err != nil {
		return err
	}
	if newPlan.Status != catalog.StatusActive {
		return ErrPlanArchived
	}
	if !newPlan.Price.LessThan(oldPlan.Price) {
		return ErrNotADowngrade
	}

	sub.ScheduledPlanID = newPlan.ID
	sub.Touch()
	if err := e.store.UpdateSubscription(ctx, sub); err != nil {
		return err
	}

	e.logger.Info("downgrade scheduled",
		"subscription", sub.ID.String(),
		"to", newPlan.Slug,
		"at_renewal", sub.ExpiresAt,
	)

	return nil
}

// RenewSubscription issues a renewal invoice for the subscription's
// plan, or for the scheduled downgrade plan if one is waiting. Capture
// extends the paid period from the current expiry.
func (e *Engine) RenewSubscription(ctx context.Context, subID id.SubscriptionID) (*invoice.Invoice, error) {
	sub, err := e.store.GetSubscription(ctx, subID)
	if err != nil {
		return nil, err
	}

	switch sub.Status {
	case subscription.StatusActive, subscription.StatusTrialing:
	default:
		return nil, ErrInvalidTransition
	}
	if !sub.PendingPlanID.IsNil() {
		return nil, ErrSwitchPending
	}

	planID := sub.PlanID
	if !sub.ScheduledPlanID.IsNil() {
		planID = sub.ScheduledPlanID
	}
	plan, err := e.store.GetPlan(ctx, planID)
	if err != nil {
		return nil, err
	}
	if !plan.IsRecurring() {
		return nil, ErrNotRecurring
	}

	now := e.now()

	if plan.IsFree() {
		// Nothing to invoice: extend in place and grant tokens.
		key, err := e.exclusiveKeyFor(ctx, plan)
		if err != nil {
			return nil, err
		}
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
		if err := e.store.UpdateSubscription(ctx, sub); err != nil {
			return nil, err
		}
		if plan.TokenGrant > 0 {
			txn := e.grantTxn(now, sub.UserID, token.TypeSubscriptionGrant, plan.TokenGrant, sub.ID, id.Nil)
			if err := e.store.AppendTransaction(ctx, txn); err != nil {
				return nil, err
			}
			e.plugins.EmitTokensCredited(ctx, txn)
		}
		e.plugins.EmitSubscriptionActivated(ctx, sub)
		return nil, nil
	}

	invID := id.NewInvoiceID()
	dueAt := now.Add(e.invoiceTTL)
	inv := &invoice.Invoice{
		Entity:         types.NewEntityAt(now),
		ID:             invID,
		Number:         invoice.NewNumber(now),
		UserID:         sub.UserID,
		SubscriptionID: sub.ID,
		Status:         invoice.StatusPending,
		Currency:       plan.Price.Currency,
		Subtotal:       plan.Price,
		TaxAmount:      types.Zero(plan.Price.Currency),
		Amount:         plan.Price,
		LineItems: []invoice.LineItem{
			chargeLine(invID, invoice.LineItemPlan, plan.ID, plan.Name+" renewal", plan.Price),
		},
		DueAt:    &dueAt,
		Metadata: map[string]string{purposeKey: purposeRenewal},
	}

	if err := e.store.CreateInvoice(ctx, inv); err != nil {
		return nil, err
	}

	e.logger.Info("renewal invoiced",
		"subscription", sub.ID.String(),
		"plan", plan.Slug,
		"amount", plan.Price.String(),
	)

	return inv, nil
}

// PauseSubscription suspends an active subscription. The remaining paid
// time is frozen and restored on resume.
func (e *Engine) PauseSubscription(ctx context.Context, subID id.SubscriptionID) error {
	sub, err := e.store.GetSubscription(ctx, subID)
	if err != nil {
		return err
	}
	if !subscription.CanTransition(sub.Status, subscription.StatusPaused) {
		return ErrInvalidTransition
	}

	now := e.now()
	sub.Status = subscription.StatusPaused
	sub.PausedAt = &now
	sub.Touch()

	return e.store.UpdateSubscription(ctx, sub)
}

// ResumeSubscription reactivates a paused subscription, pushing the
// expiry out by however long the pause lasted.
func (e *Engine) ResumeSubscription(ctx context.Context, subID id.SubscriptionID) error {
	sub, err := e.store.GetSubscription(ctx, subID)
	if err != nil {
		return err
	}
	if sub.Status != subscription.StatusPaused || sub.PausedAt == nil {
		return ErrInvalidTransition
	}

	// Pausing released the exclusive slot, so something else may have
	// claimed it in the meantime.
	if !sub.ExclusiveKey.IsNil() {
		if _, err := e.store.GetLiveSubscription(ctx, sub.UserID, sub.ExclusiveKey); err == nil {
			return ErrCategoryConflict
		} else if !errors.Is(err, ErrNoLiveSubscription) {
			return err
		}
	}

	now := e.now()
	paused := now.Sub(*sub.PausedAt)

	sub.Status = subscription.StatusActive
	sub.ExpiresAt = sub.ExpiresAt.Add(paused)
	sub.PausedAt = nil
	sub.Touch()

	if err := e.store.UpdateSubscription(ctx, sub); err != nil {
		return err
	}

	e.logger.Info("subscription resumed",
		"subscription", sub.ID.String(),
		"paused_for", paused,
		"expires_at", sub.ExpiresAt,
	)
	e.plugins.EmitSubscriptionActivated(ctx, sub)

	return nil
}

// CancelSubscription records the user opting out. Access continues
// until the paid period lapses; the expiry sweep then finishes the job.
func (e *Engine) CancelSubscription(ctx context.Context, subID id.SubscriptionID) error {
	sub, err := e.store.GetSubscription(ctx, subID)
	if err != nil {
		return err
	}
	if !subscription.CanTransition(sub.Status, subscription.StatusCancelled) {
		return ErrInvalidTransition
	}

	now := e.now()
	sub.Status = subscription.StatusCancelled
	sub.CancelledAt = &now
	sub.ScheduledPlanID = id.Nil
	sub.PendingPlanID = id.Nil
	sub.Touch()

	if err := e.store.UpdateSubscription(ctx, sub); err != nil {
		return err
	}

	e.logger.Info("subscription cancelled",
		"subscription", sub.ID.String(),
		"access_until", sub.ExpiresAt,
	)
	e.plugins.EmitSubscriptionCancelled(ctx, sub)

	return nil
}
