package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/pgdriver"
	"github.com/xraph/grove/migrate"

	tarif "github.com/xraph/tarif"
	"github.com/xraph/tarif/catalog"
	"github.com/xraph/tarif/id"
	"github.com/xraph/tarif/invoice"
	tarifstore "github.com/xraph/tarif/store"
	"github.com/xraph/tarif/subscription"
	"github.com/xraph/tarif/token"
)

// compile-time interface check
var _ tarifstore.Store = (*Store)(nil)

// Store implements store.Store using PostgreSQL via Grove ORM. Queries
// run against pg, which is either the root connection or, inside
// runInTx, a single transaction.
type Store struct {
	db   *grove.DB
	root *pgdriver.PgDB
	pg   pgdriver.IDB
}

// New creates a new PostgreSQL store backed by Grove ORM.
func New(db *grove.DB) *Store {
	root := pgdriver.Unwrap(db)
	return &Store{
		db:   db,
		root: root,
		pg:   root,
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// runInTx calls fn with a store whose queries all run inside one
// transaction. The transaction commits when fn returns nil and rolls
// back otherwise.
func (s *Store) runInTx(ctx context.Context, fn func(ctx context.Context, tx *Store) error) error {
	return s.root.RunInTx(ctx, nil, func(ctx context.Context, tx pgdriver.Tx) error {
		return fn(ctx, &Store{db: s.db, root: s.root, pg: tx})
	})
}

// Migrate creates the required tables and indexes using the grove orchestrator.
func (s *Store) Migrate(ctx context.Context) error {
	executor, err := migrate.NewExecutorFor(s.root)
	if err != nil {
		return fmt.Errorf("tarif/postgres: create migration executor: %w", err)
	}
	orch := migrate.NewOrchestrator(executor, Migrations)
	if _, err := orch.Migrate(ctx); err != nil {
		return fmt.Errorf("tarif/postgres: migration failed: %w", err)
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ==================== Plan Store ====================

func (s *Store) CreatePlan(ctx context.Context, p *catalog.Plan) error {
	m := toPlanModel(p)
	_, err := s.pg.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) GetPlan(ctx context.Context, planID id.PlanID) (*catalog.Plan, error) {
	m := new(planModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", planID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, tarif.ErrPlanNotFound
		}
		return nil, err
	}
	return fromPlanModel(m)
}

func (s *Store) GetPlanBySlug(ctx context.Context, slug string) (*catalog.Plan, error) {
	m := new(planModel)
	err := s.pg.NewSelect(m).
		Where("slug = $1", slug).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, tarif.ErrPlanNotFound
		}
		return nil, err
	}
	return fromPlanModel(m)
}

func (s *Store) ListPlans(ctx context.Context, opts catalog.ListOpts) ([]*catalog.Plan, error) {
	var models []planModel
	q := s.pg.NewSelect(&models)

	argIdx := 0
	if opts.Status != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("status = $%d", argIdx), string(opts.Status))
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*catalog.Plan, len(models))
	for i := range models {
		p, err := fromPlanModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = p
	}
	return result, nil
}

func (s *Store) UpdatePlan(ctx context.Context, p *catalog.Plan) error {
	m := toPlanModel(p)
	m.UpdatedAt = now()
	res, err := s.pg.NewUpdate(m).WherePK().Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return tarif.ErrPlanNotFound
	}
	return nil
}

func (s *Store) ArchivePlan(ctx context.Context, planID id.PlanID) error {
	t := now()
	res, err := s.pg.NewUpdate((*planModel)(nil)).
		Set("status = $1", string(catalog.StatusArchived)).
		Set("updated_at = $2", t).
		Where("id = $3", planID.String()).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return tarif.ErrPlanNotFound
	}
	return nil
}

// ==================== Category Store ====================

func (s *Store) CreateCategory(ctx context.Context, c *catalog.Category) error {
	m := toCategoryModel(c)
	_, err := s.pg.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) GetCategory(ctx context.Context, catID id.CategoryID) (*catalog.Category, error) {
	m := new(categoryModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", catID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, tarif.ErrCategoryNotFound
		}
		return nil, err
	}
	return fromCategoryModel(m)
}

func (s *Store) ListCategories(ctx context.Context) ([]*catalog.Category, error) {
	var models []categoryModel
	err := s.pg.NewSelect(&models).
		OrderExpr("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]*catalog.Category, len(models))
	for i := range models {
		c, err := fromCategoryModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = c
	}
	return result, nil
}

func (s *Store) UpdateCategory(ctx context.Context, c *catalog.Category) error {
	m := toCategoryModel(c)
	m.UpdatedAt = now()
	res, err := s.pg.NewUpdate(m).WherePK().Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return tarif.ErrCategoryNotFound
	}
	return nil
}

// ==================== Add-on Store ====================

func (s *Store) CreateAddOn(ctx context.Context, a *catalog.AddOn) error {
	m := toAddOnModel(a)
	_, err := s.pg.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) GetAddOn(ctx context.Context, addOnID id.AddOnID) (*catalog.AddOn, error) {
	m := new(addOnModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", addOnID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, tarif.ErrAddOnNotFound
		}
		return nil, err
	}
	return fromAddOnModel(m)
}

func (s *Store) ListAddOns(ctx context.Context, opts catalog.ListOpts) ([]*catalog.AddOn, error) {
	var models []addOnModel
	q := s.pg.NewSelect(&models)

	argIdx := 0
	if opts.Status != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("status = $%d", argIdx), string(opts.Status))
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*catalog.AddOn, len(models))
	for i := range models {
		a, err := fromAddOnModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = a
	}
	return result, nil
}

func (s *Store) UpdateAddOn(ctx context.Context, a *catalog.AddOn) error {
	m := toAddOnModel(a)
	m.UpdatedAt = now()
	res, err := s.pg.NewUpdate(m).WherePK().Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return tarif.ErrAddOnNotFound
	}
	return nil
}

// ==================== Token Bundle Store ====================

func (s *Store) CreateTokenBundle(ctx context.Context, b *catalog.TokenBundle) error {
	m := toTokenBundleModel(b)
	_, err := s.pg.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) GetTokenBundle(ctx context.Context, bundleID id.TokenBundleID) (*catalog.TokenBundle, error) {
	m := new(tokenBundleModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", bundleID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, tarif.ErrBundleNotFound
		}
		return nil, err
	}
	return fromTokenBundleModel(m)
}

func (s *Store) ListTokenBundles(ctx context.Context, opts catalog.ListOpts) ([]*catalog.TokenBundle, error) {
	var models []tokenBundleModel
	q := s.pg.NewSelect(&models)

	argIdx := 0
	if opts.Status != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("status = $%d", argIdx), string(opts.Status))
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at ASC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*catalog.TokenBundle, len(models))
	for i := range models {
		b, err := fromTokenBundleModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = b
	}
	return result, nil
}

func (s *Store) UpdateTokenBundle(ctx context.Context, b *catalog.TokenBundle) error {
	m := toTokenBundleModel(b)
	m.UpdatedAt = now()
	res, err := s.pg.NewUpdate(m).WherePK().Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return tarif.ErrBundleNotFound
	}
	return nil
}

// ==================== Subscription Store ====================

func (s *Store) CreateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	if sub.Status.Occupies() && !sub.ExclusiveKey.IsNil() {
		if err := s.checkExclusive(ctx, sub); err != nil {
			return err
		}
	}
	m := toSubscriptionModel(sub)
	_, err := s.pg.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) GetSubscription(ctx context.Context, subID id.SubscriptionID) (*subscription.Subscription, error) {
	m := new(subscriptionModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", subID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, tarif.ErrSubscriptionNotFound
		}
		return nil, err
	}
	return fromSubscriptionModel(m)
}

func (s *Store) GetLiveSubscription(ctx context.Context, userID string, exclusiveKey id.CategoryID) (*subscription.Subscription, error) {
	m := new(subscriptionModel)
	err := s.pg.NewSelect(m).
		Where("user_id = $1", userID).
		Where("exclusive_key = $2", exclusiveKey.String()).
		Where("status IN ($3, $4, $5)",
			string(subscription.StatusTrialing),
			string(subscription.StatusActive),
			string(subscription.StatusCancelled)).
		Where("expires_at > $6", now()).
		OrderExpr("created_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, tarif.ErrNoLiveSubscription
		}
		return nil, err
	}
	return fromSubscriptionModel(m)
}

func (s *Store) ListSubscriptions(ctx context.Context, userID string, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	var models []subscriptionModel
	q := s.pg.NewSelect(&models).
		Where("user_id = $1", userID)

	argIdx := 1
	if opts.Status != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("status = $%d", argIdx), string(opts.Status))
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at DESC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*subscription.Subscription, len(models))
	for i := range models {
		sub, err := fromSubscriptionModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = sub
	}
	return result, nil
}

func (s *Store) UpdateSubscription(ctx context.Context, sub *subscription.Subscription) error {
	m := toSubscriptionModel(sub)
	m.UpdatedAt = now()
	res, err := s.pg.NewUpdate(m).WherePK().Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return tarif.ErrSubscriptionNotFound
	}
	return nil
}

func (s *Store) ListExpiringSubscriptions(ctx context.Context, before time.Time) ([]*subscription.Subscription, error) {
	var models []subscriptionModel
	err := s.pg.NewSelect(&models).
		Where("status IN ($1, $2, $3)",
			string(subscription.StatusTrialing),
			string(subscription.StatusActive),
			string(subscription.StatusCancelled)).
		Where("expires_at < $4", before).
		OrderExpr("expires_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]*subscription.Subscription, len(models))
	for i := range models {
		sub, err := fromSubscriptionModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = sub
	}
	return result, nil
}

// ExpireSubscription moves a stale subscription to expired. The update
// is a compare-and-set on both the occupying status and the expiry, so
// a renewal that landed after the sweep listed the subscription keeps
// it alive and the sweep reports false.
func (s *Store) ExpireSubscription(ctx context.Context, subID id.SubscriptionID, asOf time.Time) (bool, error) {
	res, err := s.pg.NewUpdate((*subscriptionModel)(nil)).
		Set("status = $1", string(subscription.StatusExpired)).
		Set("ended_at = $2", asOf).
		Set("updated_at = $3", now()).
		Where("id = $4", subID.String()).
		Where("status IN ($5, $6, $7)",
			string(subscription.StatusTrialing),
			string(subscription.StatusActive),
			string(subscription.StatusCancelled)).
		Where("expires_at < $8", asOf).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if rows == 0 {
		if _, err := s.GetSubscription(ctx, subID); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

// checkExclusive returns ErrCategoryConflict when another live
// subscription of the same user holds the same exclusive key. The
// partial unique index on (user_id, exclusive_key) backstops this
// check against concurrent writers.
func (s *Store) checkExclusive(ctx context.Context, sub *subscription.Subscription) error {
	existing, err := s.GetLiveSubscription(ctx, sub.UserID, sub.ExclusiveKey)
	if err != nil {
		if errors.Is(err, tarif.ErrNoLiveSubscription) {
			return nil
		}
		return err
	}
	if existing.ID != sub.ID {
		return tarif.ErrCategoryConflict
	}
	return nil
}

// ==================== Add-on Subscription Store ====================

func (s *Store) CreateAddOnSub(ctx context.Context, a *subscription.AddOnSubscription) error {
	m := toAddOnSubModel(a)
	_, err := s.pg.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) GetAddOnSub(ctx context.Context, addOnSubID id.AddOnSubID) (*subscription.AddOnSubscription, error) {
	m := new(addOnSubModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", addOnSubID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, tarif.ErrSubscriptionNotFound
		}
		return nil, err
	}
	return fromAddOnSubModel(m)
}

func (s *Store) ListAddOnSubs(ctx context.Context, subID id.SubscriptionID) ([]*subscription.AddOnSubscription, error) {
	var models []addOnSubModel
	err := s.pg.NewSelect(&models).
		Where("subscription_id = $1", subID.String()).
		OrderExpr("created_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]*subscription.AddOnSubscription, len(models))
	for i := range models {
		a, err := fromAddOnSubModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = a
	}
	return result, nil
}

func (s *Store) UpdateAddOnSub(ctx context.Context, a *subscription.AddOnSubscription) error {
	m := toAddOnSubModel(a)
	m.UpdatedAt = now()
	res, err := s.pg.NewUpdate(m).WherePK().Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return tarif.ErrSubscriptionNotFound
	}
	return nil
}

// ==================== Invoice Store ====================

func (s *Store) CreateInvoice(ctx context.Context, inv *invoice.Invoice) error {
	if !inv.Consistent() {
		return tarif.ErrInconsistentInvoice
	}
	m := toInvoiceModel(inv)
	_, err := s.pg.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) GetInvoice(ctx context.Context, invID id.InvoiceID) (*invoice.Invoice, error) {
	m := new(invoiceModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", invID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, tarif.ErrInvoiceNotFound
		}
		return nil, err
	}
	return fromInvoiceModel(m)
}

func (s *Store) GetInvoiceByNumber(ctx context.Context, number string) (*invoice.Invoice, error) {
	m := new(invoiceModel)
	err := s.pg.NewSelect(m).
		Where("number = $1", number).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, tarif.ErrInvoiceNotFound
		}
		return nil, err
	}
	return fromInvoiceModel(m)
}

func (s *Store) ListInvoices(ctx context.Context, userID string, opts invoice.ListOpts) ([]*invoice.Invoice, error) {
	var models []invoiceModel
	q := s.pg.NewSelect(&models).
		Where("user_id = $1", userID)

	argIdx := 1
	if opts.Status != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("status = $%d", argIdx), string(opts.Status))
	}
	if !opts.Start.IsZero() {
		argIdx++
		q = q.Where(fmt.Sprintf("created_at >= $%d", argIdx), opts.Start)
	}
	if !opts.End.IsZero() {
		argIdx++
		q = q.Where(fmt.Sprintf("created_at <= $%d", argIdx), opts.End)
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at DESC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*invoice.Invoice, len(models))
	for i := range models {
		inv, err := fromInvoiceModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = inv
	}
	return result, nil
}

func (s *Store) UpdateInvoice(ctx context.Context, inv *invoice.Invoice) error {
	if !inv.Consistent() {
		return tarif.ErrInconsistentInvoice
	}
	m := toInvoiceModel(inv)
	m.UpdatedAt = now()
	res, err := s.pg.NewUpdate(m).WherePK().Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return tarif.ErrInvoiceNotFound
	}
	return nil
}

func (s *Store) ListPendingInvoicesBefore(ctx context.Context, cutoff time.Time) ([]*invoice.Invoice, error) {
	var models []invoiceModel
	err := s.pg.NewSelect(&models).
		Where("status = $1", string(invoice.StatusPending)).
		Where("due_at IS NOT NULL").
		Where("due_at < $2", cutoff).
		OrderExpr("due_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]*invoice.Invoice, len(models))
	for i := range models {
		inv, err := fromInvoiceModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = inv
	}
	return result, nil
}

// MarkInvoicePaid is a compare-and-set: the update only matches pending
// or failed invoices, so a second capture of the same invoice reports
// ErrInvoicePaid instead of double-settling.
func (s *Store) MarkInvoicePaid(ctx context.Context, invID id.InvoiceID, paidAt time.Time, paymentRef, source string) error {
	t := now()
	res, err := s.pg.NewUpdate((*invoiceModel)(nil)).
		Set("status = $1", string(invoice.StatusPaid)).
		Set("paid_at = $2", paidAt).
		Set("payment_ref = $3", paymentRef).
		Set("capture_source = $4", source).
		Set("updated_at = $5", t).
		Where("id = $6", invID.String()).
		Where("status IN ($7, $8)", string(invoice.StatusPending), string(invoice.StatusFailed)).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return s.classifyPaidMiss(ctx, invID)
	}
	return nil
}

// classifyPaidMiss resolves why a paid CAS matched no rows.
func (s *Store) classifyPaidMiss(ctx context.Context, invID id.InvoiceID) error {
	inv, err := s.GetInvoice(ctx, invID)
	if err != nil {
		return err
	}
	if inv.Status == invoice.StatusPaid {
		return tarif.ErrInvoicePaid
	}
	return tarif.ErrInvoiceTerminal
}

func (s *Store) MarkInvoiceFailed(ctx context.Context, invID id.InvoiceID, failedAt time.Time, reason string) error {
	t := now()
	res, err := s.pg.NewUpdate((*invoiceModel)(nil)).
		Set("status = $1", string(invoice.StatusFailed)).
		Set("failed_at = $2", failedAt).
		Set("failure_reason = $3", reason).
		Set("updated_at = $4", t).
		Where("id = $5", invID.String()).
		Where("status = $6", string(invoice.StatusPending)).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return s.classifyPaidMiss(ctx, invID)
	}
	return nil
}

// ==================== Token Ledger Store ====================

func (s *Store) AppendTransaction(ctx context.Context, txn *token.Transaction) error {
	return s.runInTx(ctx, func(ctx context.Context, tx *Store) error {
		return tx.appendTxn(ctx, txn)
	})
}

// AppendDebit spends tokens with the balance guard pushed into the
// database: the conditional update only matches while the materialized
// balance stays non-negative, so concurrent debits cannot overdraw.
func (s *Store) AppendDebit(ctx context.Context, txn *token.Transaction) error {
	return s.runInTx(ctx, func(ctx context.Context, tx *Store) error {
		return tx.appendDebit(ctx, txn)
	})
}

// appendTxn inserts a ledger row and moves the materialized balance by
// the same amount. Callers hold a transaction.
func (s *Store) appendTxn(ctx context.Context, txn *token.Transaction) error {
	m := toTransactionModel(txn)
	if _, err := s.pg.NewInsert(m).Exec(ctx); err != nil {
		return err
	}
	return s.bumpBalance(ctx, txn.UserID, txn.Amount)
}

// appendDebit is the guarded variant of appendTxn for negative amounts.
func (s *Store) appendDebit(ctx context.Context, txn *token.Transaction) error {
	res, err := s.pg.NewUpdate((*tokenBalanceModel)(nil)).
		Set("balance = balance + $1", txn.Amount).
		Set("updated_at = $2", now()).
		Where("user_id = $3", txn.UserID).
		Where("balance + $4 >= 0", txn.Amount).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	// No row moved: the user either has no balance row at all or not
	// enough tokens; both mean the debit would overdraw.
	if rows == 0 {
		return tarif.ErrInsufficientTokens
	}
	m := toTransactionModel(txn)
	_, err = s.pg.NewInsert(m).Exec(ctx)
	return err
}

// bumpBalance adds delta to the user's materialized balance, creating
// the row on first contact.
func (s *Store) bumpBalance(ctx context.Context, userID string, delta int64) error {
	res, err := s.pg.NewUpdate((*tokenBalanceModel)(nil)).
		Set("balance = balance + $1", delta).
		Set("updated_at = $2", now()).
		Where("user_id = $3", userID).
		Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		m := &tokenBalanceModel{UserID: userID, Balance: delta, UpdatedAt: now()}
		_, err = s.pg.NewInsert(m).Exec(ctx)
	}
	return err
}

func (s *Store) ListTransactions(ctx context.Context, userID string, opts token.ListOpts) ([]*token.Transaction, error) {
	var models []transactionModel
	q := s.pg.NewSelect(&models).
		Where("user_id = $1", userID)

	argIdx := 1
	if opts.Type != "" {
		argIdx++
		q = q.Where(fmt.Sprintf("type = $%d", argIdx), string(opts.Type))
	}
	if opts.Limit > 0 {
		q = q.Limit(opts.Limit)
	}
	if opts.Offset > 0 {
		q = q.Offset(opts.Offset)
	}
	q = q.OrderExpr("created_at DESC")

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}

	result := make([]*token.Transaction, len(models))
	for i := range models {
		txn, err := fromTransactionModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = txn
	}
	return result, nil
}

// TokenBalance reads the materialized balance; a user with no ledger
// activity has no row and reports zero.
func (s *Store) TokenBalance(ctx context.Context, userID string) (int64, error) {
	var total int64
	err := s.pg.NewRaw(`
		SELECT COALESCE(SUM(balance), 0) FROM tarif_token_balances
		WHERE user_id = $1
	`, userID).Scan(ctx, &total)
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Store) CreateBundlePurchase(ctx context.Context, p *token.BundlePurchase) error {
	m := toBundlePurchaseModel(p)
	_, err := s.pg.NewInsert(m).Exec(ctx)
	return err
}

func (s *Store) GetBundlePurchase(ctx context.Context, purchaseID id.BundlePurchaseID) (*token.BundlePurchase, error) {
	m := new(bundlePurchaseModel)
	err := s.pg.NewSelect(m).
		Where("id = $1", purchaseID.String()).
		Scan(ctx)
	if err != nil {
		if isNoRows(err) {
			return nil, tarif.ErrPurchaseNotFound
		}
		return nil, err
	}
	return fromBundlePurchaseModel(m)
}

func (s *Store) UpdateBundlePurchase(ctx context.Context, p *token.BundlePurchase) error {
	m := toBundlePurchaseModel(p)
	m.UpdatedAt = now()
	res, err := s.pg.NewUpdate(m).WherePK().Exec(ctx)
	if err != nil {
		return err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return tarif.ErrPurchaseNotFound
	}
	return nil
}

func (s *Store) ListBundlePurchases(ctx context.Context, userID string) ([]*token.BundlePurchase, error) {
	var models []bundlePurchaseModel
	err := s.pg.NewSelect(&models).
		Where("user_id = $1", userID).
		OrderExpr("created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]*token.BundlePurchase, len(models))
	for i := range models {
		p, err := fromBundlePurchaseModel(&models[i])
		if err != nil {
			return nil, err
		}
		result[i] = p
	}
	return result, nil
}

// ==================== Atomic pipeline ====================

// ApplyCheckout persists the whole checkout set in one transaction.
// Invariant-bearing writes go first: the subscription insert trips the
// exclusivity index before any invoice or ledger row lands.
func (s *Store) ApplyCheckout(ctx context.Context, set *tarifstore.CheckoutSet) error {
	if set.Invoice != nil && !set.Invoice.Consistent() {
		return tarif.ErrInconsistentInvoice
	}
	return s.runInTx(ctx, func(ctx context.Context, tx *Store) error {
		if set.Subscription != nil {
			if err := tx.CreateSubscription(ctx, set.Subscription); err != nil {
				return err
			}
		}
		for _, a := range set.AddOnSubs {
			if err := tx.CreateAddOnSub(ctx, a); err != nil {
				return err
			}
		}
		if set.BundlePurchase != nil {
			if err := tx.CreateBundlePurchase(ctx, set.BundlePurchase); err != nil {
				return err
			}
		}
		if set.Invoice != nil {
			if err := tx.CreateInvoice(ctx, set.Invoice); err != nil {
				return err
			}
		}
		for _, txn := range set.Transactions {
			if err := tx.appendTxn(ctx, txn); err != nil {
				return err
			}
		}
		return nil
	})
}

// ApplyCapture settles a capture atomically. The paid CAS goes first;
// when it loses, the transaction rolls back with nothing written, so a
// concurrent winner's records stay untouched.
func (s *Store) ApplyCapture(ctx context.Context, set *tarifstore.CaptureSet) error {
	return s.runInTx(ctx, func(ctx context.Context, tx *Store) error {
		if set.Subscription != nil && set.Subscription.Status.Occupies() && !set.Subscription.ExclusiveKey.IsNil() {
			if err := tx.checkExclusive(ctx, set.Subscription); err != nil {
				return err
			}
		}
		if err := tx.MarkInvoicePaid(ctx, set.InvoiceID, set.PaidAt, set.PaymentRef, set.Source); err != nil {
			return err
		}
		if set.Subscription != nil {
			if err := tx.UpdateSubscription(ctx, set.Subscription); err != nil {
				return err
			}
		}
		for _, a := range set.AddOnSubs {
			if err := tx.UpdateAddOnSub(ctx, a); err != nil {
				return err
			}
		}
		for _, p := range set.Purchases {
			if err := tx.UpdateBundlePurchase(ctx, p); err != nil {
				return err
			}
		}
		for _, txn := range set.Transactions {
			if err := tx.appendTxn(ctx, txn); err != nil {
				return err
			}
		}
		return nil
	})
}

// ApplyRefund transitions a paid invoice to refunded and claws back
// tokens in one transaction, clamping each debit at the user's
// available balance. The clamped amounts are written back into the set
// so callers observe what was actually applied.
func (s *Store) ApplyRefund(ctx context.Context, set *tarifstore.RefundSet) error {
	return s.runInTx(ctx, func(ctx context.Context, tx *Store) error {
		t := now()
		res, err := tx.pg.NewUpdate((*invoiceModel)(nil)).
			Set("status = $1", string(invoice.StatusRefunded)).
			Set("refunded_at = $2", set.RefundedAt).
			Set("updated_at = $3", t).
			Where("id = $4", set.InvoiceID.String()).
			Where("status = $5", string(invoice.StatusPaid)).
			Exec(ctx)
		if err != nil {
			return err
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			if _, err := tx.GetInvoice(ctx, set.InvoiceID); err != nil {
				return err
			}
			return tarif.ErrInvoiceNotPaid
		}

		if set.Reason != "" {
			inv, err := tx.GetInvoice(ctx, set.InvoiceID)
			if err != nil {
				return err
			}
			if inv.Metadata == nil {
				inv.Metadata = make(map[string]string)
			}
			inv.Metadata["refund_reason"] = set.Reason
			if err := tx.UpdateInvoice(ctx, inv); err != nil {
				return err
			}
		}

		if set.Subscription != nil {
			if err := tx.UpdateSubscription(ctx, set.Subscription); err != nil {
				return err
			}
		}
		for _, a := range set.AddOnSubs {
			if err := tx.UpdateAddOnSub(ctx, a); err != nil {
				return err
			}
		}
		for _, p := range set.Purchases {
			if err := tx.UpdateBundlePurchase(ctx, p); err != nil {
				return err
			}
		}

		for _, debit := range set.Debits {
			available, err := tx.TokenBalance(ctx, debit.UserID)
			if err != nil {
				return err
			}
			if -debit.Amount > available {
				debit.Amount = -available
			}
			if debit.Amount == 0 {
				continue
			}
			if err := tx.appendTxn(ctx, debit); err != nil {
				return err
			}
		}
		return nil
	})
}

// ==================== Helpers ====================

// now returns the current UTC time.
func now() time.Time {
	return time.Now().UTC()
}

// isNoRows checks for the standard sql.ErrNoRows sentinel.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
