// Package tarif is an embeddable subscription billing engine: plan
// catalog, checkout, invoices, payment capture, proration, and a token
// ledger, backed by a pluggable store.
package tarif

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/xraph/tarif/catalog"
	"github.com/xraph/tarif/id"
	"github.com/xraph/tarif/plugin"
	"github.com/xraph/tarif/store"
	"github.com/xraph/tarif/types"
)

// Engine is the main billing engine.
type Engine struct {
	store   store.Store
	plugins *plugin.Registry
	logger  *slog.Logger

	// Background workers
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// Configuration
	clock         func() time.Time
	currency      string
	invoiceTTL    time.Duration
	refundWindow  time.Duration
	sweepInterval time.Duration
}

// New creates a new Engine instance.
func New(s store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:         s,
		plugins:       plugin.NewRegistry(),
		logger:        slog.Default(),
		stopChan:      make(chan struct{}),
		clock:         time.Now,
		currency:      types.DefaultCurrency,
		invoiceTTL:    24 * time.Hour,
		refundWindow:  14 * 24 * time.Hour,
		sweepInterval: time.Minute,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Option configures an Engine instance.
type Option func(*Engine)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
		e.plugins.WithLogger(logger)
	}
}

// WithPlugin registers a plugin.
func WithPlugin(p plugin.Plugin) Option {
	return func(e *Engine) {
		_ = e.plugins.Register(p) //nolint:errcheck // best-effort plugin registration during init
	}
}

// WithClock overrides the time source. Intended for tests and replay.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		e.clock = clock
	}
}

// WithCurrency sets the default currency for zero-amount results.
func WithCurrency(currency string) Option {
	return func(e *Engine) {
		e.currency = currency
	}
}

// WithInvoiceTTL sets how long a pending invoice stays payable before
// the lapse sweep voids it.
func WithInvoiceTTL(ttl time.Duration) Option {
	return func(e *Engine) {
		e.invoiceTTL = ttl
	}
}

// WithRefundWindow sets how long after capture a payment stays
// refundable.
func WithRefundWindow(window time.Duration) Option {
	return func(e *Engine) {
		e.refundWindow = window
	}
}

// WithSweepInterval sets how often the background sweep runs.
func WithSweepInterval(interval time.Duration) Option {
	return func(e *Engine) {
		e.sweepInterval = interval
	}
}

// Start migrates the store, initializes plugins and begins the
// background sweep worker.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.store.Migrate(ctx); err != nil {
		return err
	}

	e.plugins.EmitInit(ctx, e)

	e.wg.Add(1)
	go e.sweepWorker(ctx)

	e.logger.Info("tarif engine started",
		"invoice_ttl", e.invoiceTTL,
		"refund_window", e.refundWindow,
		"sweep_interval", e.sweepInterval,
	)

	return nil
}

// Stop shuts down the Engine. Safe to call more than once; subsequent
// calls return nil without touching the store again.
func (e *Engine) Stop() error {
	var err error
	e.stopOnce.Do(func() {
		close(e.stopChan)
		e.wg.Wait()

		ctx := context.Background()
		e.plugins.EmitShutdown(ctx)

		err = e.store.Close()
	})
	return err
}

// now returns the engine's current time in UTC.
func (e *Engine) now() time.Time {
	return e.clock().UTC()
}

// ──────────────────────────────────────────────────
// Catalog Management
// ──────────────────────────────────────────────────

// CreatePlan registers a new tarif plan.
func (e *Engine) CreatePlan(ctx context.Context, p *catalog.Plan) error {
	if p.ID.IsNil() {
		p.ID = id.NewPlanID()
	}
	if p.Status == "" {
		p.Status = catalog.StatusActive
	}
	if !p.Period.Valid() {
		return ValidationError{Field: "period", Message: "unknown billing period"}
	}
	p.Entity = types.NewEntityAt(e.now())

	return e.store.CreatePlan(ctx, p)
}

// GetPlan retrieves a plan by ID.
func (e *Engine) GetPlan(ctx context.Context, planID id.PlanID) (*catalog.Plan, error) {
	return e.store.GetPlan(ctx, planID)
}

// GetPlanBySlug retrieves a plan by slug.
func (e *Engine) GetPlanBySlug(ctx context.Context, slug string) (*catalog.Plan, error) {
	return e.store.GetPlanBySlug(ctx, slug)
}

// ListPlans lists plans matching opts.
func (e *Engine) ListPlans(ctx context.Context, opts catalog.ListOpts) ([]*catalog.Plan, error) {
	return e.store.ListPlans(ctx, opts)
}

// UpdatePlan replaces a plan definition. Existing subscriptions keep
// their terms until the next renewal.
func (e *Engine) UpdatePlan(ctx context.Context, p *catalog.Plan) error {
	if !p.Period.Valid() {
		return ValidationError{Field: "period", Message: "unknown billing period"}
	}
	p.Touch()
	return e.store.UpdatePlan(ctx, p)
}

// ArchivePlan removes a plan from sale without touching live
// subscriptions.
func (e *Engine) ArchivePlan(ctx context.Context, planID id.PlanID) error {
	return e.store.ArchivePlan(ctx, planID)
}

// CreateCategory registers a plan category.
func (e *Engine) CreateCategory(ctx context.Context, c *catalog.Category) error {
	if c.ID.IsNil() {
		c.ID = id.NewCategoryID()
	}
	c.Entity = types.NewEntityAt(e.now())

	if !c.ParentID.IsNil() {
		if _, err := e.store.GetCategory(ctx, c.ParentID); err != nil {
			return err
		}
	}
	return e.store.CreateCategory(ctx, c)
}

// GetCategory retrieves a category by ID.
func (e *Engine) GetCategory(ctx context.Context, catID id.CategoryID) (*catalog.Category, error) {
	return e.store.GetCategory(ctx, catID)
}

// ListCategories lists the whole category tree.
func (e *Engine) ListCategories(ctx context.Context) ([]*catalog.Category, error) {
	return e.store.ListCategories(ctx)
}

// CreateAddOn registers an add-on.
func (e *Engine) CreateAddOn(ctx context.Context, a *catalog.AddOn) error {
	if a.ID.IsNil() {
		a.ID = id.NewAddOnID()
	}
	if a.Status == "" {
		a.Status = catalog.StatusActive
	}
	if !a.Period.Valid() {
		return ValidationError{Field: "period", Message: "unknown billing period"}
	}
	a.Entity = types.NewEntityAt(e.now())

	return e.store.CreateAddOn(ctx, a)
}

// GetAddOn retrieves an add-on by ID.
func (e *Engine) GetAddOn(ctx context.Context, addOnID id.AddOnID) (*catalog.AddOn, error) {
	return e.store.GetAddOn(ctx, addOnID)
}

// ListAddOns lists add-ons matching opts.
func (e *Engine) ListAddOns(ctx context.Context, opts catalog.ListOpts) ([]*catalog.AddOn, error) {
	return e.store.ListAddOns(ctx, opts)
}

// CreateTokenBundle registers a token bundle.
func (e *Engine) CreateTokenBundle(ctx context.Context, b *catalog.TokenBundle) error {
	if b.ID.IsNil() {
		b.ID = id.NewTokenBundleID()
	}
	if b.Status == "" {
		b.Status = catalog.StatusActive
	}
	if b.Tokens <= 0 {
		return ValidationError{Field: "tokens", Message: "bundle must grant tokens"}
	}
	b.Entity = types.NewEntityAt(e.now())

	return e.store.CreateTokenBundle(ctx, b)
}

// GetTokenBundle retrieves a token bundle by ID.
func (e *Engine) GetTokenBundle(ctx context.Context, bundleID id.TokenBundleID) (*catalog.TokenBundle, error) {
	return e.store.GetTokenBundle(ctx, bundleID)
}

// ListTokenBundles lists token bundles matching opts.
func (e *Engine) ListTokenBundles(ctx context.Context, opts catalog.ListOpts) ([]*catalog.TokenBundle, error) {
	return e.store.ListTokenBundles(ctx, opts)
}

// ──────────────────────────────────────────────────
// Category resolution
// ──────────────────────────────────────────────────

// exclusiveKeyFor resolves the exclusivity key for a plan: the ID of
// the is_single category closest to the root above the plan's category.
func (e *Engine) exclusiveKeyFor(ctx context.Context, p *catalog.Plan) (id.CategoryID, error) {
	if p.CategoryID.IsNil() {
		return id.Nil, nil
	}

	cats, err := e.store.ListCategories(ctx)
	if err != nil {
		return id.Nil, err
	}

	byID := make(map[id.CategoryID]*catalog.Category, len(cats))
	for _, c := range cats {
		byID[c.ID] = c
	}

	chain, err := catalog.AncestorChain(p.CategoryID, byID)
	if err != nil {
		return id.Nil, err
	}

	key, _ := catalog.ExclusiveRoot(chain)
	return key, nil
}
