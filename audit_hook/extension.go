// Package audithook bridges Tarif lifecycle events to an audit trail backend.
//
// It defines a local Recorder interface so the package does not import
// Chronicle directly. Callers inject a RecorderFunc adapter that bridges
// to Chronicle at wiring time.
package audithook

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/xraph/tarif/invoice"
	"github.com/xraph/tarif/plugin"
	"github.com/xraph/tarif/subscription"
	"github.com/xraph/tarif/token"
)

// Compile-time interface checks.
var (
	_ plugin.Plugin                  = (*Extension)(nil)
	_ plugin.OnCheckoutCompleted     = (*Extension)(nil)
	_ plugin.OnPaymentCaptured       = (*Extension)(nil)
	_ plugin.OnPaymentFailed         = (*Extension)(nil)
	_ plugin.OnPaymentRefunded       = (*Extension)(nil)
	_ plugin.OnInvoiceLapsed         = (*Extension)(nil)
	_ plugin.OnTrialStarted          = (*Extension)(nil)
	_ plugin.OnSubscriptionActivated = (*Extension)(nil)
	_ plugin.OnSubscriptionCancelled = (*Extension)(nil)
	_ plugin.OnSubscriptionExpired   = (*Extension)(nil)
	_ plugin.OnTokensCredited        = (*Extension)(nil)
	_ plugin.OnTokensDebited         = (*Extension)(nil)
)

// Recorder is the interface that audit backends must implement.
// This matches chronicle.Emitter but is defined locally so that the
// audit_hook package does not import Chronicle directly — callers inject
// the concrete *chronicle.Chronicle at wiring time.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is a local representation of an audit event.
// It mirrors chronicle/audit.Event but avoids a module dependency.
type AuditEvent struct {
	Action     string         `json:"action"`
	Resource   string         `json:"resource"`
	Category   string         `json:"category"`
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// Extension bridges Tarif lifecycle events to an audit trail backend.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements plugin.Plugin.
func (e *Extension) Name() string { return "audit-hook" }

// ──────────────────────────────────────────────────
// Checkout and payment hooks
// ──────────────────────────────────────────────────

// OnCheckoutCompleted implements plugin.OnCheckoutCompleted.
func (e *Extension) OnCheckoutCompleted(ctx context.Context, _ interface{}) error {
	return e.record(ctx, ActionCheckoutCompleted, SeverityInfo, OutcomeSuccess,
		ResourceCheckout, "", CategoryBilling, nil,
		"event", "checkout_completed",
	)
}

// OnPaymentCaptured implements plugin.OnPaymentCaptured.
func (e *Extension) OnPaymentCaptured(ctx context.Context, inv interface{}) error {
	id, meta := invoiceDetails(inv)
	return e.record(ctx, ActionPaymentCaptured, SeverityInfo, OutcomeSuccess,
		ResourceInvoice, id, CategoryPayment, nil, meta...)
}

// OnPaymentFailed implements plugin.OnPaymentFailed.
func (e *Extension) OnPaymentFailed(ctx context.Context, inv interface{}, reason string) error {
	id, meta := invoiceDetails(inv)
	meta = append(meta, "failure_reason", reason)
	return e.record(ctx, ActionPaymentFailed, SeverityError, OutcomeFailure,
		ResourceInvoice, id, CategoryPayment, nil, meta...)
}

// OnPaymentRefunded implements plugin.OnPaymentRefunded.
func (e *Extension) OnPaymentRefunded(ctx context.Context, inv interface{}) error {
	id, meta := invoiceDetails(inv)
	return e.record(ctx, ActionPaymentRefunded, SeverityWarning, OutcomeSuccess,
		ResourceInvoice, id, CategoryPayment, nil, meta...)
}

// OnInvoiceLapsed implements plugin.OnInvoiceLapsed.
func (e *Extension) OnInvoiceLapsed(ctx context.Context, inv interface{}) error {
	id, meta := invoiceDetails(inv)
	return e.record(ctx, ActionInvoiceLapsed, SeverityWarning, OutcomeFailure,
		ResourceInvoice, id, CategoryPayment, nil, meta...)
}

// ──────────────────────────────────────────────────
// Subscription lifecycle hooks
// ──────────────────────────────────────────────────

// OnTrialStarted implements plugin.OnTrialStarted.
func (e *Extension) OnTrialStarted(ctx context.Context, sub interface{}) error {
	id, meta := subscriptionDetails(sub)
	return e.record(ctx, ActionTrialStarted, SeverityInfo, OutcomeSuccess,
		ResourceSubscription, id, CategorySubscription, nil, meta...)
}

// OnSubscriptionActivated implements plugin.OnSubscriptionActivated.
func (e *Extension) OnSubscriptionActivated(ctx context.Context, sub interface{}) error {
	id, meta := subscriptionDetails(sub)
	return e.record(ctx, ActionSubscriptionActivated, SeverityInfo, OutcomeSuccess,
		ResourceSubscription, id, CategorySubscription, nil, meta...)
}

// OnSubscriptionCancelled implements plugin.OnSubscriptionCancelled.
func (e *Extension) OnSubscriptionCancelled(ctx context.Context, sub interface{}) error {
	id, meta := subscriptionDetails(sub)
	return e.record(ctx, ActionSubscriptionCancelled, SeverityInfo, OutcomeSuccess,
		ResourceSubscription, id, CategorySubscription, nil, meta...)
}

// OnSubscriptionExpired implements plugin.OnSubscriptionExpired.
func (e *Extension) OnSubscriptionExpired(ctx context.Context, sub interface{}) error {
	id, meta := subscriptionDetails(sub)
	return e.record(ctx, ActionSubscriptionExpired, SeverityInfo, OutcomeSuccess,
		ResourceSubscription, id, CategorySubscription, nil, meta...)
}

// ──────────────────────────────────────────────────
// Token ledger hooks
// ──────────────────────────────────────────────────

// OnTokensCredited implements plugin.OnTokensCredited.
func (e *Extension) OnTokensCredited(ctx context.Context, txn interface{}) error {
	id, meta := transactionDetails(txn)
	return e.record(ctx, ActionTokensCredited, SeverityInfo, OutcomeSuccess,
		ResourceTokens, id, CategoryTokens, nil, meta...)
}

// OnTokensDebited implements plugin.OnTokensDebited.
func (e *Extension) OnTokensDebited(ctx context.Context, txn interface{}) error {
	id, meta := transactionDetails(txn)
	return e.record(ctx, ActionTokensDebited, SeverityInfo, OutcomeSuccess,
		ResourceTokens, id, CategoryTokens, nil, meta...)
}

// ──────────────────────────────────────────────────
// Internal helpers
// ──────────────────────────────────────────────────

// invoiceDetails extracts the resource ID and metadata pairs from an
// invoice payload. Unknown payload types yield empty details.
func invoiceDetails(v interface{}) (string, []any) {
	inv, ok := v.(*invoice.Invoice)
	if !ok || inv == nil {
		return "", nil
	}
	return inv.ID.String(), []any{
		"invoice_number", inv.Number,
		"user_id", inv.UserID,
		"amount", inv.Amount.Amount,
		"currency", inv.Currency,
		"payment_source", inv.CaptureSource,
	}
}

// subscriptionDetails extracts the resource ID and metadata pairs from a
// subscription payload.
func subscriptionDetails(v interface{}) (string, []any) {
	sub, ok := v.(*subscription.Subscription)
	if !ok || sub == nil {
		return "", nil
	}
	return sub.ID.String(), []any{
		"user_id", sub.UserID,
		"plan_id", sub.PlanID.String(),
		"status", string(sub.Status),
	}
}

// transactionDetails extracts the resource ID and metadata pairs from a
// token transaction payload.
func transactionDetails(v interface{}) (string, []any) {
	txn, ok := v.(*token.Transaction)
	if !ok || txn == nil {
		return "", nil
	}
	return txn.ID.String(), []any{
		"user_id", txn.UserID,
		"type", string(txn.Type),
		"amount", txn.Amount,
	}
}

// record builds and sends an audit event if the action is enabled.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
