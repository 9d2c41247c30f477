package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
	"time"
)

// Registry manages all registered plugins and provides efficient dispatch.
// It uses type-cached discovery for O(1) dispatch performance.
type Registry struct {
	mu      sync.RWMutex
	plugins []Plugin
	logger  *slog.Logger

	// Type-cached plugin lists for efficient dispatch
	onInit                  []OnInit
	onShutdown              []OnShutdown
	onCheckoutCompleted     []OnCheckoutCompleted
	onPaymentCaptured       []OnPaymentCaptured
	onPaymentFailed         []OnPaymentFailed
	onPaymentRefunded       []OnPaymentRefunded
	onInvoiceLapsed         []OnInvoiceLapsed
	onTrialStarted          []OnTrialStarted
	onSubscriptionActivated []OnSubscriptionActivated
	onSubscriptionCancelled []OnSubscriptionCancelled
	onSubscriptionExpired   []OnSubscriptionExpired
	onTokensCredited        []OnTokensCredited
	onTokensDebited         []OnTokensDebited
	captureSources          map[string]CaptureSource
}

// NewRegistry creates a new plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		logger:         slog.Default(),
		captureSources: make(map[string]CaptureSource),
	}
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(logger *slog.Logger) *Registry {
	r.logger = logger
	return r
}

// Register adds a plugin to the registry and caches its interfaces.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Check for duplicate
	for _, existing := range r.plugins {
		if existing.Name() == p.Name() {
			return fmt.Errorf("plugin: duplicate registration: %s", p.Name())
		}
	}

	r.plugins = append(r.plugins, p)

	// Type-switch to cache interfaces
	if v, ok := p.(OnInit); ok {
		r.onInit = append(r.onInit, v)
	}
	if v, ok := p.(OnShutdown); ok {
		r.onShutdown = append(r.onShutdown, v)
	}
	if v, ok := p.(OnCheckoutCompleted); ok {
		r.onCheckoutCompleted = append(r.onCheckoutCompleted, v)
	}
	if v, ok := p.(OnPaymentCaptured); ok {
		r.onPaymentCaptured = append(r.onPaymentCaptured, v)
	}
	if v, ok := p.(OnPaymentFailed); ok {
		r.onPaymentFailed = append(r.onPaymentFailed, v)
	}
	if v, ok := p.(OnPaymentRefunded); ok {
		r.onPaymentRefunded = append(r.onPaymentRefunded, v)
	}
	if v, ok := p.(OnInvoiceLapsed); ok {
		r.onInvoiceLapsed = append(r.onInvoiceLapsed, v)
	}
	if v, ok := p.(OnTrialStarted); ok {
		r.onTrialStarted = append(r.onTrialStarted, v)
	}
	if v, ok := p.(OnSubscriptionActivated); ok {
		r.onSubscriptionActivated = append(r.onSubscriptionActivated, v)
	}
	if v, ok := p.(OnSubscriptionCancelled); ok {
		r.onSubscriptionCancelled = append(r.onSubscriptionCancelled, v)
	}
	if v, ok := p.(OnSubscriptionExpired); ok {
		r.onSubscriptionExpired = append(r.onSubscriptionExpired, v)
	}
	if v, ok := p.(OnTokensCredited); ok {
		r.onTokensCredited = append(r.onTokensCredited, v)
	}
	if v, ok := p.(OnTokensDebited); ok {
		r.onTokensDebited = append(r.onTokensDebited, v)
	}
	if v, ok := p.(CaptureSource); ok {
		r.captureSources[v.SourceName()] = v
	}

	r.logger.Info("plugin registered",
		"name", p.Name(),
		"interfaces", r.getImplementedInterfaces(p),
	)

	return nil
}

// getImplementedInterfaces returns a list of interfaces implemented by the plugin.
func (r *Registry) getImplementedInterfaces(p Plugin) []string {
	var interfaces []string
	v := reflect.TypeOf(p)

	// Check each interface
	checkInterface := func(iface reflect.Type, name string) {
		if v.Implements(iface) {
			interfaces = append(interfaces, name)
		}
	}

	// List all interfaces to check
	checkInterface(reflect.TypeOf((*OnInit)(nil)).Elem(), "OnInit")
	checkInterface(reflect.TypeOf((*OnShutdown)(nil)).Elem(), "OnShutdown")
	checkInterface(reflect.TypeOf((*OnCheckoutCompleted)(nil)).Elem(), "OnCheckoutCompleted")
	checkInterface(reflect.TypeOf((*OnPaymentCaptured)(nil)).Elem(), "OnPaymentCaptured")
	checkInterface(reflect.TypeOf((*OnPaymentRefunded)(nil)).Elem(), "OnPaymentRefunded")
	checkInterface(reflect.TypeOf((*OnSubscriptionActivated)(nil)).Elem(), "OnSubscriptionActivated")
	checkInterface(reflect.TypeOf((*OnSubscriptionExpired)(nil)).Elem(), "OnSubscriptionExpired")
	checkInterface(reflect.TypeOf((*OnTokensCredited)(nil)).Elem(), "OnTokensCredited")
	checkInterface(reflect.TypeOf((*CaptureSource)(nil)).Elem(), "CaptureSource")

	return interfaces
}

// Get returns a plugin by name.
func (r *Registry) Get(name string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.Name() == name {
			return p
		}
	}
	return nil
}

// List returns all registered plugins.
func (r *Registry) List() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Plugin, len(r.plugins))
	copy(result, r.plugins)
	return result
}

// Count returns the number of registered plugins.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}

// GetCaptureSource returns a capture source by name, or nil.
func (r *Registry) GetCaptureSource(name string) CaptureSource {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.captureSources[name]
}

// ──────────────────────────────────────────────────
// Event emission methods
// ──────────────────────────────────────────────────

// EmitInit calls OnInit for all plugins that implement it.
func (r *Registry) EmitInit(ctx context.Context, engine interface{}) {
	r.mu.RLock()
	plugins := r.onInit
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnInit(ctx, engine)
		}); err != nil {
			r.logger.Warn("plugin OnInit failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitShutdown calls OnShutdown for all plugins that implement it.
func (r *Registry) EmitShutdown(ctx context.Context) {
	r.mu.RLock()
	plugins := r.onShutdown
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnShutdown(ctx)
		}); err != nil {
			r.logger.Warn("plugin OnShutdown failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitCheckoutCompleted emits a checkout completed event.
func (r *Registry) EmitCheckoutCompleted(ctx context.Context, result interface{}) {
	r.mu.RLock()
	plugins := r.onCheckoutCompleted
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnCheckoutCompleted(ctx, result)
		}); err != nil {
			r.logger.Warn("plugin OnCheckoutCompleted failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitPaymentCaptured emits a payment captured event.
func (r *Registry) EmitPaymentCaptured(ctx context.Context, inv interface{}) {
	r.mu.RLock()
	plugins := r.onPaymentCaptured
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnPaymentCaptured(ctx, inv)
		}); err != nil {
			r.logger.Warn("plugin OnPaymentCaptured failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitPaymentFailed emits a payment failed event.
func (r *Registry) EmitPaymentFailed(ctx context.Context, inv interface{}, reason string) {
	r.mu.RLock()
	plugins := r.onPaymentFailed
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnPaymentFailed(ctx, inv, reason)
		}); err != nil {
			r.logger.Warn("plugin OnPaymentFailed failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitPaymentRefunded emits a payment refunded event.
func (r *Registry) EmitPaymentRefunded(ctx context.Context, inv interface{}) {
	r.mu.RLock()
	plugins := r.onPaymentRefunded
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnPaymentRefunded(ctx, inv)
		}); err != nil {
			r.logger.Warn("plugin OnPaymentRefunded failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitInvoiceLapsed emits an invoice lapsed event.
func (r *Registry) EmitInvoiceLapsed(ctx context.Context, inv interface{}) {
	r.mu.RLock()
	plugins := r.onInvoiceLapsed
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnInvoiceLapsed(ctx, inv)
		}); err != nil {
			r.logger.Warn("plugin OnInvoiceLapsed failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitTrialStarted emits a trial started event.
func (r *Registry) EmitTrialStarted(ctx context.Context, sub interface{}) {
	r.mu.RLock()
	plugins := r.onTrialStarted
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnTrialStarted(ctx, sub)
		}); err != nil {
			r.logger.Warn("plugin OnTrialStarted failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitSubscriptionActivated emits a subscription activated event.
func (r *Registry) EmitSubscriptionActivated(ctx context.Context, sub interface{}) {
	r.mu.RLock()
	plugins := r.onSubscriptionActivated
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnSubscriptionActivated(ctx, sub)
		}); err != nil {
			r.logger.Warn("plugin OnSubscriptionActivated failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitSubscriptionCancelled emits a subscription cancelled event.
func (r *Registry) EmitSubscriptionCancelled(ctx context.Context, sub interface{}) {
	r.mu.RLock()
	plugins := r.onSubscriptionCancelled
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnSubscriptionCancelled(ctx, sub)
		}); err != nil {
			r.logger.Warn("plugin OnSubscriptionCancelled failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitSubscriptionExpired emits a subscription expired event.
func (r *Registry) EmitSubscriptionExpired(ctx context.Context, sub interface{}) {
	r.mu.RLock()
	plugins := r.onSubscriptionExpired
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnSubscriptionExpired(ctx, sub)
		}); err != nil {
			r.logger.Warn("plugin OnSubscriptionExpired failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitTokensCredited emits a tokens credited event.
func (r *Registry) EmitTokensCredited(ctx context.Context, txn interface{}) {
	r.mu.RLock()
	plugins := r.onTokensCredited
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnTokensCredited(ctx, txn)
		}); err != nil {
			r.logger.Warn("plugin OnTokensCredited failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// EmitTokensDebited emits a tokens debited event.
func (r *Registry) EmitTokensDebited(ctx context.Context, txn interface{}) {
	r.mu.RLock()
	plugins := r.onTokensDebited
	r.mu.RUnlock()

	for _, p := range plugins {
		if err := r.callWithTimeout(ctx, p.Name(), func() error {
			return p.OnTokensDebited(ctx, txn)
		}); err != nil {
			r.logger.Warn("plugin OnTokensDebited failed",
				"plugin", p.Name(),
				"error", err,
			)
		}
	}
}

// callWithTimeout calls a plugin function with a timeout.
// Plugins should never block the billing pipeline.
func (r *Registry) callWithTimeout(ctx context.Context, pluginName string, fn func() error) error {
	done := make(chan error, 1)

	go func() {
		done <- fn()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		return fmt.Errorf("plugin timeout: %s", pluginName)
	case <-ctx.Done():
		return ctx.Err()
	}
}
