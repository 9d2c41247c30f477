package audithook

// Action constants for audit events.
const (
	// Checkout actions
	ActionCheckoutCompleted = "checkout.completed"

	// Payment actions
	ActionPaymentCaptured = "payment.captured"
	ActionPaymentFailed   = "payment.failed"
	ActionPaymentRefunded = "payment.refunded"
	ActionInvoiceLapsed   = "invoice.lapsed"

	// Subscription actions
	ActionTrialStarted          = "trial.started"
	ActionSubscriptionActivated = "subscription.activated"
	ActionSubscriptionCancelled = "subscription.cancelled"
	ActionSubscriptionExpired   = "subscription.expired"

	// Token actions
	ActionTokensCredited = "tokens.credited"
	ActionTokensDebited  = "tokens.debited"
)

// Resource constants for audit events.
const (
	ResourceCheckout     = "checkout"
	ResourceInvoice      = "invoice"
	ResourceSubscription = "subscription"
	ResourceTokens       = "tokens"
)

// Category constants for audit events.
const (
	CategoryBilling      = "billing"
	CategorySubscription = "subscription"
	CategoryPayment      = "payment"
	CategoryTokens       = "tokens"
)

// Severity levels for audit events.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// Outcome values for audit events.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomePartial = "partial"
)
