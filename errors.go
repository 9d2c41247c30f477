package tarif

import (
	"errors"
	"fmt"
)

// Sentinel errors for common failure scenarios.
var (
	// General errors
	ErrNotFound      = errors.New("tarif: not found")
	ErrAlreadyExists = errors.New("tarif: already exists")
	ErrInvalidInput  = errors.New("tarif: invalid input")

	// Catalog errors
	ErrPlanNotFound     = errors.New("tarif: plan not found")
	ErrPlanArchived     = errors.New("tarif: plan is archived")
	ErrCategoryNotFound = errors.New("tarif: category not found")
	ErrAddOnNotFound    = errors.New("tarif: add-on not found")
	ErrAddOnNotAllowed  = errors.New("tarif: add-on not allowed for plan")
	ErrBundleNotFound   = errors.New("tarif: token bundle not found")
	ErrCurrencyMismatch = errors.New("tarif: checkout items have mixed currencies")

	// Subscription errors
	ErrSubscriptionNotFound = errors.New("tarif: subscription not found")
	ErrNoLiveSubscription   = errors.New("tarif: no live subscription")
	ErrCategoryConflict     = errors.New("tarif: conflicting live subscription in exclusive category")
	ErrInvalidTransition    = errors.New("tarif: invalid subscription status transition")
	ErrSamePlan             = errors.New("tarif: subscription is already on this plan")
	ErrSwitchPending        = errors.New("tarif: a plan switch is already pending")
	ErrNotRecurring         = errors.New("tarif: plan does not renew")
	ErrNotAnUpgrade         = errors.New("tarif: target plan is not more expensive")
	ErrTrialUsed            = errors.New("tarif: user already had a subscription to this plan")
	ErrNotADowngrade        = errors.New("tarif: target plan is not cheaper")

	// Invoice errors
	ErrInvoiceNotFound     = errors.New("tarif: invoice not found")
	ErrInvoicePaid         = errors.New("tarif: invoice already paid")
	ErrInvoiceNotPaid      = errors.New("tarif: invoice is not paid")
	ErrInvoiceTerminal     = errors.New("tarif: invoice is in a terminal state")
	ErrInconsistentInvoice = errors.New("tarif: invoice amount does not match line items")
	ErrRefundWindowClosed  = errors.New("tarif: refund window has closed")
	ErrUnknownSource       = errors.New("tarif: unknown capture source")

	// Token errors
	ErrInsufficientTokens  = errors.New("tarif: insufficient token balance")
	ErrTransactionNotFound = errors.New("tarif: token transaction not found")
	ErrPurchaseNotFound    = errors.New("tarif: bundle purchase not found")

	// Store errors
	ErrStoreNotReady     = errors.New("tarif: store not ready")
	ErrStoreClosed       = errors.New("tarif: store is closed")
	ErrTransactionFailed = errors.New("tarif: transaction failed")
	ErrMigrationFailed   = errors.New("tarif: migration failed")
)

// ValidationError represents a validation failure with details.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("tarif: validation failed for %s: %s", e.Field, e.Message)
}

// IsNotFound returns true if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrPlanNotFound) ||
		errors.Is(err, ErrCategoryNotFound) ||
		errors.Is(err, ErrAddOnNotFound) ||
		errors.Is(err, ErrBundleNotFound) ||
		errors.Is(err, ErrSubscriptionNotFound) ||
		errors.Is(err, ErrInvoiceNotFound) ||
		errors.Is(err, ErrTransactionNotFound) ||
		errors.Is(err, ErrPurchaseNotFound)
}

// IsConflict returns true if the error signals a state conflict the
// caller can resolve by re-reading and retrying with fresh state.
func IsConflict(err error) bool {
	return errors.Is(err, ErrCategoryConflict) ||
		errors.Is(err, ErrAlreadyExists) ||
		errors.Is(err, ErrInvoicePaid) ||
		errors.Is(err, ErrSwitchPending)
}

// IsRetryable returns true if the error is temporary and the operation
// can be retried unchanged.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStoreNotReady) ||
		errors.Is(err, ErrTransactionFailed)
}
