// Package observability provides a metrics extension for Tarif that records
// lifecycle event counts through a caller-supplied MetricFactory, such as
// the Forge application's metrics collector.
package observability

import (
	"context"

	"github.com/xraph/tarif/invoice"
	"github.com/xraph/tarif/plugin"
	"github.com/xraph/tarif/token"
)

// Ensure MetricsExtension implements required interfaces.
var (
	_ plugin.Plugin                  = (*MetricsExtension)(nil)
	_ plugin.OnInit                  = (*MetricsExtension)(nil)
	_ plugin.OnCheckoutCompleted     = (*MetricsExtension)(nil)
	_ plugin.OnPaymentCaptured       = (*MetricsExtension)(nil)
	_ plugin.OnPaymentFailed         = (*MetricsExtension)(nil)
	_ plugin.OnPaymentRefunded       = (*MetricsExtension)(nil)
	_ plugin.OnInvoiceLapsed         = (*MetricsExtension)(nil)
	_ plugin.OnTrialStarted          = (*MetricsExtension)(nil)
	_ plugin.OnSubscriptionActivated = (*MetricsExtension)(nil)
	_ plugin.OnSubscriptionCancelled = (*MetricsExtension)(nil)
	_ plugin.OnSubscriptionExpired   = (*MetricsExtension)(nil)
	_ plugin.OnTokensCredited        = (*MetricsExtension)(nil)
	_ plugin.OnTokensDebited         = (*MetricsExtension)(nil)
)

// Counter interface for metric counters.
type Counter interface {
	Inc()
	Add(float64)
}

// Histogram interface for metric histograms.
type Histogram interface {
	Observe(float64)
}

// MetricFactory creates metrics.
type MetricFactory interface {
	Counter(name string) Counter
	Histogram(name string) Histogram
}

// MetricsExtension records system-wide lifecycle metrics.
// Register it as a Tarif plugin to automatically track billing metrics.
type MetricsExtension struct {
	factory MetricFactory

	// Checkout metrics
	CheckoutCompleted Counter

	// Payment metrics
	PaymentCaptured Counter
	PaymentFailed   Counter
	PaymentRefunded Counter
	InvoiceLapsed   Counter
	InvoiceTotal    Histogram

	// Subscription metrics
	TrialStarted          Counter
	SubscriptionActivated Counter
	SubscriptionCancelled Counter
	SubscriptionExpired   Counter

	// Token metrics
	TokensCredited Counter
	TokensDebited  Counter
	TokenTxnSize   Histogram

	// Error metrics
	StoreErrors  Counter
	PluginErrors Counter
}

// NewMetricsExtension creates a MetricsExtension with the provided MetricFactory.
// Use app.Metrics() in forge extensions.
func NewMetricsExtension(factory MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		factory: factory,

		// Checkout metrics
		CheckoutCompleted: factory.Counter("tarif.checkout.completed"),

		// Payment metrics
		PaymentCaptured: factory.Counter("tarif.payment.captured"),
		PaymentFailed:   factory.Counter("tarif.payment.failed"),
		PaymentRefunded: factory.Counter("tarif.payment.refunded"),
		InvoiceLapsed:   factory.Counter("tarif.invoice.lapsed"),
		InvoiceTotal:    factory.Histogram("tarif.invoice.total_amount"),

		// Subscription metrics
		TrialStarted:          factory.Counter("tarif.trial.started"),
		SubscriptionActivated: factory.Counter("tarif.subscription.activated"),
		SubscriptionCancelled: factory.Counter("tarif.subscription.cancelled"),
		SubscriptionExpired:   factory.Counter("tarif.subscription.expired"),

		// Token metrics
		TokensCredited: factory.Counter("tarif.tokens.credited"),
		TokensDebited:  factory.Counter("tarif.tokens.debited"),
		TokenTxnSize:   factory.Histogram("tarif.tokens.txn_size"),

		// Error metrics
		StoreErrors:  factory.Counter("tarif.store.errors"),
		PluginErrors: factory.Counter("tarif.plugin.errors"),
	}
}

// Name implements plugin.Plugin.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnInit implements plugin.OnInit.
func (m *MetricsExtension) OnInit(_ context.Context, _ interface{}) error {
	// No initialization needed
	return nil
}

// ──────────────────────────────────────────────────
// Checkout and payment hooks
// ──────────────────────────────────────────────────

// OnCheckoutCompleted implements plugin.OnCheckoutCompleted.
func (m *MetricsExtension) OnCheckoutCompleted(_ context.Context, _ interface{}) error {
	m.CheckoutCompleted.Inc()
	return nil
}

// OnPaymentCaptured implements plugin.OnPaymentCaptured.
func (m *MetricsExtension) OnPaymentCaptured(_ context.Context, v interface{}) error {
	m.PaymentCaptured.Inc()
	if inv, ok := v.(*invoice.Invoice); ok {
		m.InvoiceTotal.Observe(float64(inv.Amount.Amount))
	}
	return nil
}

// OnPaymentFailed implements plugin.OnPaymentFailed.
func (m *MetricsExtension) OnPaymentFailed(_ context.Context, _ interface{}, _ string) error {
	m.PaymentFailed.Inc()
	return nil
}

// OnPaymentRefunded implements plugin.OnPaymentRefunded.
func (m *MetricsExtension) OnPaymentRefunded(_ context.Context, _ interface{}) error {
	m.PaymentRefunded.Inc()
	return nil
}

// OnInvoiceLapsed implements plugin.OnInvoiceLapsed.
func (m *MetricsExtension) OnInvoiceLapsed(_ context.Context, _ interface{}) error {
	m.InvoiceLapsed.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Subscription lifecycle hooks
// ──────────────────────────────────────────────────

// OnTrialStarted implements plugin.OnTrialStarted.
func (m *MetricsExtension) OnTrialStarted(_ context.Context, _ interface{}) error {
	m.TrialStarted.Inc()
	return nil
}

// OnSubscriptionActivated implements plugin.OnSubscriptionActivated.
func (m *MetricsExtension) OnSubscriptionActivated(_ context.Context, _ interface{}) error {
	m.SubscriptionActivated.Inc()
	return nil
}

// OnSubscriptionCancelled implements plugin.OnSubscriptionCancelled.
func (m *MetricsExtension) OnSubscriptionCancelled(_ context.Context, _ interface{}) error {
	m.SubscriptionCancelled.Inc()
	return nil
}

// OnSubscriptionExpired implements plugin.OnSubscriptionExpired.
func (m *MetricsExtension) OnSubscriptionExpired(_ context.Context, _ interface{}) error {
	m.SubscriptionExpired.Inc()
	return nil
}

// ──────────────────────────────────────────────────
// Token ledger hooks
// ──────────────────────────────────────────────────

// OnTokensCredited implements plugin.OnTokensCredited.
func (m *MetricsExtension) OnTokensCredited(_ context.Context, v interface{}) error {
	m.TokensCredited.Inc()
	if txn, ok := v.(*token.Transaction); ok {
		m.TokenTxnSize.Observe(float64(txn.Amount))
	}
	return nil
}

// OnTokensDebited implements plugin.OnTokensDebited.
func (m *MetricsExtension) OnTokensDebited(_ context.Context, v interface{}) error {
	m.TokensDebited.Inc()
	if txn, ok := v.(*token.Transaction); ok {
		m.TokenTxnSize.Observe(float64(txn.Amount))
	}
	return nil
}
