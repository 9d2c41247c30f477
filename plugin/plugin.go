// Package plugin provides an extensible plugin system for Tarif.
// Plugins can hook into various lifecycle events to extend functionality.
package plugin

import (
	"context"
)

// Plugin is the base interface that all plugins must implement.
type Plugin interface {
	Name() string
}

// ──────────────────────────────────────────────────
// Lifecycle hooks
// ──────────────────────────────────────────────────

// OnInit is called when the plugin is initialized.
type OnInit interface {
	Plugin
	OnInit(ctx context.Context, engine interface{}) error
}

// OnShutdown is called when the plugin is shutting down.
type OnShutdown interface {
	Plugin
	OnShutdown(ctx context.Context) error
}

// ──────────────────────────────────────────────────
// Checkout and payment hooks
// ──────────────────────────────────────────────────

// OnCheckoutCompleted is called after a checkout persists its records.
type OnCheckoutCompleted interface {
	Plugin
	OnCheckoutCompleted(ctx context.Context, result interface{}) error
}

// OnPaymentCaptured is called when a pending invoice settles.
type OnPaymentCaptured interface {
	Plugin
	OnPaymentCaptured(ctx context.Context, inv interface{}) error
}

// OnPaymentFailed is called when a payment capture is declined.
type OnPaymentFailed interface {
	Plugin
	OnPaymentFailed(ctx context.Context, inv interface{}, reason string) error
}

// OnPaymentRefunded is called when a paid invoice is refunded.
type OnPaymentRefunded interface {
	Plugin
	OnPaymentRefunded(ctx context.Context, inv interface{}) error
}

// OnInvoiceLapsed is called when a pending invoice outlives its TTL.
type OnInvoiceLapsed interface {
	Plugin
	OnInvoiceLapsed(ctx context.Context, inv interface{}) error
}

// ──────────────────────────────────────────────────
// Subscription lifecycle hooks
// ──────────────────────────────────────────────────

// OnTrialStarted is called when a trial subscription begins.
type OnTrialStarted interface {
	Plugin
	OnTrialStarted(ctx context.Context, sub interface{}) error
}

// OnSubscriptionActivated is called when a subscription becomes active,
// including renewals and plan switches.
type OnSubscriptionActivated interface {
	Plugin
	OnSubscriptionActivated(ctx context.Context, sub interface{}) error
}

// OnSubscriptionCancelled is called when a user opts out.
type OnSubscriptionCancelled interface {
	Plugin
	OnSubscriptionCancelled(ctx context.Context, sub interface{}) error
}

// OnSubscriptionExpired is called when a subscription reaches its
// terminal state.
type OnSubscriptionExpired interface {
	Plugin
	OnSubscriptionExpired(ctx context.Context, sub interface{}) error
}

// ──────────────────────────────────────────────────
// Token ledger hooks
// ──────────────────────────────────────────────────

// OnTokensCredited is called when tokens are added to a user's ledger.
type OnTokensCredited interface {
	Plugin
	OnTokensCredited(ctx context.Context, txn interface{}) error
}

// OnTokensDebited is called when tokens are removed from a user's ledger.
type OnTokensDebited interface {
	Plugin
	OnTokensDebited(ctx context.Context, txn interface{}) error
}

// ──────────────────────────────────────────────────
// Capture sources
// ──────────────────────────────────────────────────

// CaptureSource identifies where a payment confirmation came from,
// e.g. a card processor webhook, a bank transfer reconciliation job,
// or a manual back-office action. Registered sources are consulted to
// validate payment references before capture is applied.
type CaptureSource interface {
	Plugin

	// SourceName is the identifier recorded on the invoice, such as
	// "card_processor", "bank_transfer" or "manual".
	SourceName() string

	// ValidateReference checks a payment reference for authenticity.
	ValidateReference(ctx context.Context, paymentRef string) error
}
