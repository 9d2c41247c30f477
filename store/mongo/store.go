package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/xraph/grove"
	"github.com/xraph/grove/drivers/mongodriver"

	tarif "github.com/xraph/tarif"
	"github.com/xraph/tarif/catalog"
	"github.com/xraph/tarif/id"
	"github.com/xraph/tarif/invoice"
	tarifstore "github.com/xraph/tarif/store"
	"github.com/xraph/tarif/subscription"
	"github.com/xraph/tarif/token"
)

// Collection name constants.
const (
	colPlans         = "tarif_plans"
	colCategories    = "tarif_categories"
	colAddOns        = "tarif_addons"
	colBundles       = "tarif_token_bundles"
	colSubscriptions = "tarif_subscriptions"
	colAddOnSubs     = "tarif_addon_subscriptions"
	colInvoices      = "tarif_invoices"
	colTransactions  = "tarif_token_transactions"
	colPurchases     = "tarif_bundle_purchases"
	colBalances      = "tarif_token_balances"
)

// compile-time interface check
var _ tarifstore.Store = (*Store)(nil)

// Store implements store.Store using MongoDB via Grove ORM.
type Store struct {
	db  *grove.DB
	mdb *mongodriver.MongoDB
}

// New creates a new MongoDB store backed by Grove ORM.
func New(db *grove.DB) *Store {
	return &Store{
		db:  db,
		mdb: mongodriver.Unwrap(db),
	}
}

// DB returns the underlying grove database for direct access.
func (s *Store) DB() *grove.DB { return s.db }

// runInTx executes fn inside one session transaction so multi-document
// writes commit or roll back together. Requires a replica set or
// sharded deployment, as all MongoDB transactions do.
func (s *Store) runInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	sess, err := s.mdb.Client().StartSession()
	if err != nil {
		return fmt.Errorf("tarif/mongo: start session: %w", err)
	}
	defer sess.EndSession(ctx)

	_, err = sess.WithTransaction(ctx, func(ctx context.Context) (interface{}, error) {
		return nil, fn(ctx)
	})
	return err
}

// Migrate creates indexes for all tarif collections.
func (s *Store) Migrate(ctx context.Context) error {
	indexes := migrationIndexes()

	for col, models := range indexes {
		if len(models) == 0 {
			continue
		}
		_, err := s.mdb.Collection(col).Indexes().CreateMany(ctx, models)
		if err != nil {
			return fmt.Errorf("tarif/mongo: migrate %s indexes: %w", col, err)
		}
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
	_, err := s.mdb.NewInsert(m).Exec(ctx)
	if err != nil {
		return fmt.Errorf("tarif/mongo: create plan: %w", err)
	}
	return nil
}

func (s *Store) GetPlan(ctx context.Context, planID id.PlanID) (*catalog.Plan, error) {
	var m planModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": planID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, tarif.ErrPlanNotFound
		}
		return nil, fmt.Errorf("tarif/mongo: get plan: %w", err)
	}
	return fromPlanModel(&m)
}

func (s *Store) GetPlanBySlug(ctx context.Context, slug string) (*catalog.Plan, error) {
	var m planModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"slug": slug}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, tarif.ErrPlanNotFound
		}
		return nil, fmt.Errorf("tarif/mongo: get plan by slug: %w", err)
	}
	return fromPlanModel(&m)
}

func (s *Store) ListPlans(ctx context.Context, opts catalog.ListOpts) ([]*catalog.Plan, error) {
	var models []planModel

	filter := bson.M{}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "created_at", Value: 1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("tarif/mongo: list plans: %w", err)
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

	res, err := s.mdb.NewUpdate(m).
		Filter(bson.M{"_id": m.ID}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("tarif/mongo: update plan: %w", err)
	}
	if res.MatchedCount() == 0 {
		return tarif.ErrPlanNotFound
	}
	return nil
}

func (s *Store) ArchivePlan(ctx context.Context, planID id.PlanID) error {
	t := now()
	res, err := s.mdb.NewUpdate((*planModel)(nil)).
		Filter(bson.M{"_id": planID.String()}).
		Set("status", string(catalog.StatusArchived)).
		Set("updated_at", t).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("tarif/mongo: archive plan: %w", err)
	}
	if res.MatchedCount() == 0 {
		return tarif.ErrPlanNotFound
	}
	return nil
}

// ==================== Category Store ====================

func (s *Store) CreateCategory(ctx context.Context, c *catalog.Category) error {
	m := toCategoryModel(c)
	_, err := s.mdb.NewInsert(m).Exec(ctx)
	if err != nil {
		return fmt.Errorf("tarif/mongo: create category: %w", err)
	}
	return nil
}

func (s *Store) GetCategory(ctx context.Context, catID id.CategoryID) (*catalog.Category, error) {
	var m categoryModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": catID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, tarif.ErrCategoryNotFound
		}
		return nil, fmt.Errorf("tarif/mongo: get category: %w", err)
	}
	return fromCategoryModel(&m)
}

func (s *Store) ListCategories(ctx context.Context) ([]*catalog.Category, error) {
	var models []categoryModel
	err := s.mdb.NewFind(&models).
		Filter(bson.M{}).
		Sort(bson.D{{Key: "created_at", Value: 1}}).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("tarif/mongo: list categories: %w", err)
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

	res, err := s.mdb.NewUpdate(m).
		Filter(bson.M{"_id": m.ID}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("tarif/mongo: update category: %w", err)
	}
	if res.MatchedCount() == 0 {
		return tarif.ErrCategoryNotFound
	}
	return nil
}

// ==================== Add-on Store ====================

func (s *Store) CreateAddOn(ctx context.Context, a *catalog.AddOn) error {
	m := toAddOnModel(a)
	_, err := s.mdb.NewInsert(m).Exec(ctx)
	if err != nil {
		return fmt.Errorf("tarif/mongo: create add-on: %w", err)
	}
	return nil
}

func (s *Store) GetAddOn(ctx context.Context, addOnID id.AddOnID) (*catalog.AddOn, error) {
	var m addOnModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": addOnID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, tarif.ErrAddOnNotFound
		}
		return nil, fmt.Errorf("tarif/mongo: get add-on: %w", err)
	}
	return fromAddOnModel(&m)
}

func (s *Store) ListAddOns(ctx context.Context, opts catalog.ListOpts) ([]*catalog.AddOn, error) {
	var models []addOnModel

	filter := bson.M{}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "created_at", Value: 1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("tarif/mongo: list add-ons: %w", err)
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

	res, err := s.mdb.NewUpdate(m).
		Filter(bson.M{"_id": m.ID}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("tarif/mongo: update add-on: %w", err)
	}
	if res.MatchedCount() == 0 {
		return tarif.ErrAddOnNotFound
	}
	return nil
}

// ==================== Token Bundle Store ====================

func (s *Store) CreateTokenBundle(ctx context.Context, b *catalog.TokenBundle) error {
	m := toTokenBundleModel(b)
	_, err := s.mdb.NewInsert(m).Exec(ctx)
	if err != nil {
		return fmt.Errorf("tarif/mongo: create token bundle: %w", err)
	}
	return nil
}

func (s *Store) GetTokenBundle(ctx context.Context, bundleID id.TokenBundleID) (*catalog.TokenBundle, error) {
	var m tokenBundleModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": bundleID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, tarif.ErrBundleNotFound
		}
		return nil, fmt.Errorf("tarif/mongo: get token bundle: %w", err)
	}
	return fromTokenBundleModel(&m)
}

func (s *Store) ListTokenBundles(ctx context.Context, opts catalog.ListOpts) ([]*catalog.TokenBundle, error) {
	var models []tokenBundleModel

	filter := bson.M{}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "created_at", Value: 1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("tarif/mongo: list token bundles: %w", err)
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

	res, err := s.mdb.NewUpdate(m).
		Filter(bson.M{"_id": m.ID}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("tarif/mongo: update token bundle: %w", err)
	}
	if res.MatchedCount() == 0 {
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
	_, err := s.mdb.NewInsert(m).Exec(ctx)
	if err != nil {
		return fmt.Errorf("tarif/mongo: create subscription: %w", err)
	}
	return nil
}

func (s *Store) GetSubscription(ctx context.Context, subID id.SubscriptionID) (*subscription.Subscription, error) {
	var m subscriptionModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": subID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, tarif.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("tarif/mongo: get subscription: %w", err)
	}
	return fromSubscriptionModel(&m)
}

func (s *Store) GetLiveSubscription(ctx context.Context, userID string, exclusiveKey id.CategoryID) (*subscription.Subscription, error) {
	var m subscriptionModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{
			"user_id":       userID,
			"exclusive_key": exclusiveKey.String(),
			"status": bson.M{"$in": []string{
				string(subscription.StatusTrialing),
				string(subscription.StatusActive),
				string(subscription.StatusCancelled),
			}},
			"expires_at": bson.M{"$gt": now()},
		}).
		Sort(bson.D{{Key: "created_at", Value: -1}}).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, tarif.ErrNoLiveSubscription
		}
		return nil, fmt.Errorf("tarif/mongo: get live subscription: %w", err)
	}
	return fromSubscriptionModel(&m)
}

func (s *Store) ListSubscriptions(ctx context.Context, userID string, opts subscription.ListOpts) ([]*subscription.Subscription, error) {
	var models []subscriptionModel

	filter := bson.M{"user_id": userID}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "created_at", Value: -1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("tarif/mongo: list subscriptions: %w", err)
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

	res, err := s.mdb.NewUpdate(m).
		Filter(bson.M{"_id": m.ID}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("tarif/mongo: update subscription: %w", err)
	}
	if res.MatchedCount() == 0 {
		return tarif.ErrSubscriptionNotFound
	}
	return nil
}

func (s *Store) ListExpiringSubscriptions(ctx context.Context, before time.Time) ([]*subscription.Subscription, error) {
	var models []subscriptionModel
	err := s.mdb.NewFind(&models).
		Filter(bson.M{
			"status": bson.M{"$in": []string{
				string(subscription.StatusTrialing),
				string(subscription.StatusActive),
				string(subscription.StatusCancelled),
			}},
			"expires_at": bson.M{"$lt": before},
		}).
		Sort(bson.D{{Key: "expires_at", Value: 1}}).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("tarif/mongo: list expiring subscriptions: %w", err)
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
	res, err := s.mdb.NewUpdate((*subscriptionModel)(nil)).
		Filter(bson.M{
			"_id": subID.String(),
			"status": bson.M{"$in": []string{
				string(subscription.StatusTrialing),
				string(subscription.StatusActive),
				string(subscription.StatusCancelled),
			}},
			"expires_at": bson.M{"$lt": asOf},
		}).
		Set("status", string(subscription.StatusExpired)).
		Set("ended_at", asOf).
		Set("updated_at", now()).
		Exec(ctx)
	if err != nil {
		return false, fmt.Errorf("tarif/mongo: expire subscription: %w", err)
	}
	if res.MatchedCount() == 0 {
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
	_, err := s.mdb.NewInsert(m).Exec(ctx)
	if err != nil {
		return fmt.Errorf("tarif/mongo: create add-on subscription: %w", err)
	}
	return nil
}

func (s *Store) GetAddOnSub(ctx context.Context, addOnSubID id.AddOnSubID) (*subscription.AddOnSubscription, error) {
	var m addOnSubModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": addOnSubID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, tarif.ErrSubscriptionNotFound
		}
		return nil, fmt.Errorf("tarif/mongo: get add-on subscription: %w", err)
	}
	return fromAddOnSubModel(&m)
}

func (s *Store) ListAddOnSubs(ctx context.Context, subID id.SubscriptionID) ([]*subscription.AddOnSubscription, error) {
	var models []addOnSubModel
	err := s.mdb.NewFind(&models).
		Filter(bson.M{"subscription_id": subID.String()}).
		Sort(bson.D{{Key: "created_at", Value: 1}}).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("tarif/mongo: list add-on subscriptions: %w", err)
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

	res, err := s.mdb.NewUpdate(m).
		Filter(bson.M{"_id": m.ID}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("tarif/mongo: update add-on subscription: %w", err)
	}
	if res.MatchedCount() == 0 {
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
	_, err := s.mdb.NewInsert(m).Exec(ctx)
	if err != nil {
		return fmt.Errorf("tarif/mongo: create invoice: %w", err)
	}
	return nil
}

func (s *Store) GetInvoice(ctx context.Context, invID id.InvoiceID) (*invoice.Invoice, error) {
	var m invoiceModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": invID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, tarif.ErrInvoiceNotFound
		}
		return nil, fmt.Errorf("tarif/mongo: get invoice: %w", err)
	}
	return fromInvoiceModel(&m)
}

func (s *Store) GetInvoiceByNumber(ctx context.Context, number string) (*invoice.Invoice, error) {
	var m invoiceModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"number": number}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, tarif.ErrInvoiceNotFound
		}
		return nil, fmt.Errorf("tarif/mongo: get invoice by number: %w", err)
	}
	return fromInvoiceModel(&m)
}

func (s *Store) ListInvoices(ctx context.Context, userID string, opts invoice.ListOpts) ([]*invoice.Invoice, error) {
	var models []invoiceModel

	filter := bson.M{"user_id": userID}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}
	created := bson.M{}
	if !opts.Start.IsZero() {
		created["$gte"] = opts.Start
	}
	if !opts.End.IsZero() {
		created["$lte"] = opts.End
	}
	if len(created) > 0 {
		filter["created_at"] = created
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "created_at", Value: -1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("tarif/mongo: list invoices: %w", err)
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

	res, err := s.mdb.NewUpdate(m).
		Filter(bson.M{"_id": m.ID}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("tarif/mongo: update invoice: %w", err)
	}
	if res.MatchedCount() == 0 {
		return tarif.ErrInvoiceNotFound
	}
	return nil
}

func (s *Store) ListPendingInvoicesBefore(ctx context.Context, cutoff time.Time) ([]*invoice.Invoice, error) {
	var models []invoiceModel
	err := s.mdb.NewFind(&models).
		Filter(bson.M{
			"status": string(invoice.StatusPending),
			"due_at": bson.M{"$lt": cutoff},
		}).
		Sort(bson.D{{Key: "due_at", Value: 1}}).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("tarif/mongo: list pending invoices: %w", err)
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

// MarkInvoicePaid is a compare-and-set: the filter only matches pending
// or failed invoices, so a second capture of the same invoice reports
// ErrInvoicePaid instead of double-settling.
func (s *Store) MarkInvoicePaid(ctx context.Context, invID id.InvoiceID, paidAt time.Time, paymentRef, source string) error {
	t := now()
	res, err := s.mdb.NewUpdate((*invoiceModel)(nil)).
		Filter(bson.M{
			"_id": invID.String(),
			"status": bson.M{"$in": []string{
				string(invoice.StatusPending),
				string(invoice.StatusFailed),
			}},
		}).
		Set("status", string(invoice.StatusPaid)).
		Set("paid_at", paidAt).
		Set("payment_ref", paymentRef).
		Set("capture_source", source).
		Set("updated_at", t).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("tarif/mongo: mark invoice paid: %w", err)
	}
	if res.MatchedCount() == 0 {
		return s.classifyPaidMiss(ctx, invID)
	}
	return nil
}

// classifyPaidMiss resolves why a paid CAS matched no documents.
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
	res, err := s.mdb.NewUpdate((*invoiceModel)(nil)).
		Filter(bson.M{
			"_id":    invID.String(),
			"status": string(invoice.StatusPending),
		}).
		Set("status", string(invoice.StatusFailed)).
		Set("failed_at", failedAt).
		Set("failure_reason", reason).
		Set("updated_at", t).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("tarif/mongo: mark invoice failed: %w", err)
	}
	if res.MatchedCount() == 0 {
		return s.classifyPaidMiss(ctx, invID)
	}
	return nil
}

// ==================== Token Ledger Store ====================

func (s *Store) AppendTransaction(ctx context.Context, txn *token.Transaction) error {
	return s.runInTx(ctx, func(ctx context.Context) error {
		return s.appendTxn(ctx, txn)
	})
}

// AppendDebit spends tokens with the balance guard pushed into the
// database: the conditional update only matches while the materialized
// balance stays non-negative, so concurrent debits cannot overdraw.
func (s *Store) AppendDebit(ctx context.Context, txn *token.Transaction) error {
	return s.runInTx(ctx, func(ctx context.Context) error {
		return s.appendDebit(ctx, txn)
	})
}

// appendTxn inserts a ledger document and moves the materialized
// balance by the same amount. Callers hold a transaction.
func (s *Store) appendTxn(ctx context.Context, txn *token.Transaction) error {
	m := toTransactionModel(txn)
	if _, err := s.mdb.NewInsert(m).Exec(ctx); err != nil {
		return fmt.Errorf("tarif/mongo: append transaction: %w", err)
	}
	return s.bumpBalance(ctx, txn.UserID, txn.Amount)
}

// appendDebit is the guarded variant of appendTxn for negative amounts.
func (s *Store) appendDebit(ctx context.Context, txn *token.Transaction) error {
	res, err := s.mdb.Collection(colBalances).UpdateOne(ctx,
		bson.M{
			"_id":     txn.UserID,
			"balance": bson.M{"$gte": -txn.Amount},
		},
		bson.M{
			"$inc": bson.M{"balance": txn.Amount},
			"$set": bson.M{"updated_at": now()},
		})
	if err != nil {
		return fmt.Errorf("tarif/mongo: append debit: %w", err)
	}
	// No document moved: the user either has no balance document at all
	// or not enough tokens; both mean the debit would overdraw.
	if res.MatchedCount == 0 {
		return tarif.ErrInsufficientTokens
	}
	m := toTransactionModel(txn)
	if _, err := s.mdb.NewInsert(m).Exec(ctx); err != nil {
		return fmt.Errorf("tarif/mongo: append debit: %w", err)
	}
	return nil
}

// bumpBalance adds delta to the user's materialized balance, creating
// the document on first contact.
func (s *Store) bumpBalance(ctx context.Context, userID string, delta int64) error {
	_, err := s.mdb.Collection(colBalances).UpdateOne(ctx,
		bson.M{"_id": userID},
		bson.M{
			"$inc": bson.M{"balance": delta},
			"$set": bson.M{"updated_at": now()},
		},
		options.UpdateOne().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("tarif/mongo: bump balance: %w", err)
	}
	return nil
}

func (s *Store) ListTransactions(ctx context.Context, userID string, opts token.ListOpts) ([]*token.Transaction, error) {
	var models []transactionModel

	filter := bson.M{"user_id": userID}
	if opts.Type != "" {
		filter["type"] = string(opts.Type)
	}

	q := s.mdb.NewFind(&models).
		Filter(filter).
		Sort(bson.D{{Key: "created_at", Value: -1}})

	if opts.Limit > 0 {
		q = q.Limit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		q = q.Skip(int64(opts.Offset))
	}

	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("tarif/mongo: list transactions: %w", err)
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
// activity has no document and reports zero.
func (s *Store) TokenBalance(ctx context.Context, userID string) (int64, error) {
	var m tokenBalanceModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": userID}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("tarif/mongo: token balance: %w", err)
	}
	return m.Balance, nil
}

func (s *Store) CreateBundlePurchase(ctx context.Context, p *token.BundlePurchase) error {
	m := toBundlePurchaseModel(p)
	_, err := s.mdb.NewInsert(m).Exec(ctx)
	if err != nil {
		return fmt.Errorf("tarif/mongo: create bundle purchase: %w", err)
	}
	return nil
}

func (s *Store) GetBundlePurchase(ctx context.Context, purchaseID id.BundlePurchaseID) (*token.BundlePurchase, error) {
	var m bundlePurchaseModel
	err := s.mdb.NewFind(&m).
		Filter(bson.M{"_id": purchaseID.String()}).
		Scan(ctx)
	if err != nil {
		if isNoDocuments(err) {
			return nil, tarif.ErrPurchaseNotFound
		}
		return nil, fmt.Errorf("tarif/mongo: get bundle purchase: %w", err)
	}
	return fromBundlePurchaseModel(&m)
}

func (s *Store) UpdateBundlePurchase(ctx context.Context, p *token.BundlePurchase) error {
	m := toBundlePurchaseModel(p)
	m.UpdatedAt = now()

	res, err := s.mdb.NewUpdate(m).
		Filter(bson.M{"_id": m.ID}).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("tarif/mongo: update bundle purchase: %w", err)
	}
	if res.MatchedCount() == 0 {
		return tarif.ErrPurchaseNotFound
	}
	return nil
}

func (s *Store) ListBundlePurchases(ctx context.Context, userID string) ([]*token.BundlePurchase, error) {
	var models []bundlePurchaseModel
	err := s.mdb.NewFind(&models).
		Filter(bson.M{"user_id": userID}).
		Sort(bson.D{{Key: "created_at", Value: -1}}).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("tarif/mongo: list bundle purchases: %w", err)
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
// exclusivity index before any invoice or ledger document lands.
func (s *Store) ApplyCheckout(ctx context.Context, set *tarifstore.CheckoutSet) error {
	if set.Invoice != nil && !set.Invoice.Consistent() {
		return tarif.ErrInconsistentInvoice
	}
	return s.runInTx(ctx, func(ctx context.Context) error {
		if set.Subscription != nil {
			if err := s.CreateSubscription(ctx, set.Subscription); err != nil {
				return err
			}
		}
		for _, a := range set.AddOnSubs {
			if err := s.CreateAddOnSub(ctx, a); err != nil {
				return err
			}
		}
		if set.BundlePurchase != nil {
			if err := s.CreateBundlePurchase(ctx, set.BundlePurchase); err != nil {
				return err
			}
		}
		if set.Invoice != nil {
			if err := s.CreateInvoice(ctx, set.Invoice); err != nil {
				return err
			}
		}
		for _, txn := range set.Transactions {
			if err := s.appendTxn(ctx, txn); err != nil {
				return err
			}
		}
		return nil
	})
}

// ApplyCapture settles a capture atomically. The paid CAS goes first;
// when it loses, the transaction aborts with nothing written, so a
// concurrent winner's records stay untouched.
func (s *Store) ApplyCapture(ctx context.Context, set *tarifstore.CaptureSet) error {
	return s.runInTx(ctx, func(ctx context.Context) error {
		if set.Subscription != nil && set.Subscription.Status.Occupies() && !set.Subscription.ExclusiveKey.IsNil() {
			if err := s.checkExclusive(ctx, set.Subscription); err != nil {
				return err
			}
		}
		if err := s.MarkInvoicePaid(ctx, set.InvoiceID, set.PaidAt, set.PaymentRef, set.Source); err != nil {
			return err
		}
		if set.Subscription != nil {
			if err := s.UpdateSubscription(ctx, set.Subscription); err != nil {
				return err
			}
		}
		for _, a := range set.AddOnSubs {
			if err := s.UpdateAddOnSub(ctx, a); err != nil {
				return err
			}
		}
		for _, p := range set.Purchases {
			if err := s.UpdateBundlePurchase(ctx, p); err != nil {
				return err
			}
		}
		for _, txn := range set.Transactions {
			if err := s.appendTxn(ctx, txn); err != nil {
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
	return s.runInTx(ctx, func(ctx context.Context) error {
		t := now()
		res, err := s.mdb.NewUpdate((*invoiceModel)(nil)).
			Filter(bson.M{
				"_id":    set.InvoiceID.String(),
				"status": string(invoice.StatusPaid),
			}).
			Set("status", string(invoice.StatusRefunded)).
			Set("refunded_at", set.RefundedAt).
			Set("updated_at", t).
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("tarif/mongo: mark invoice refunded: %w", err)
		}
		if res.MatchedCount() == 0 {
			if _, err := s.GetInvoice(ctx, set.InvoiceID); err != nil {
				return err
			}
			return tarif.ErrInvoiceNotPaid
		}

		if set.Reason != "" {
			inv, err := s.GetInvoice(ctx, set.InvoiceID)
			if err != nil {
				return err
			}
			if inv.Metadata == nil {
				inv.Metadata = make(map[string]string)
			}
			inv.Metadata["refund_reason"] = set.Reason
			if err := s.UpdateInvoice(ctx, inv); err != nil {
				return err
			}
		}

		if set.Subscription != nil {
			if err := s.UpdateSubscription(ctx, set.Subscription); err != nil {
				return err
			}
		}
		for _, a := range set.AddOnSubs {
			if err := s.UpdateAddOnSub(ctx, a); err != nil {
				return err
			}
		}
		for _, p := range set.Purchases {
			if err := s.UpdateBundlePurchase(ctx, p); err != nil {
				return err
			}
		}

		for _, debit := range set.Debits {
			available, err := s.TokenBalance(ctx, debit.UserID)
			if err != nil {
				return err
			}
			if -debit.Amount > available {
				debit.Amount = -available
			}
			if debit.Amount == 0 {
				continue
			}
			if err := s.appendTxn(ctx, debit); err != nil {
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

// isNoDocuments checks if an error wraps mongo.ErrNoDocuments.
func isNoDocuments(err error) bool {
	return errors.Is(err, mongo.ErrNoDocuments)
}

// migrationIndexes returns the index definitions for all tarif collections.
func migrationIndexes() map[string][]mongo.IndexModel {
	occupyingStatuses := []string{
		string(subscription.StatusTrialing),
		string(subscription.StatusActive),
		string(subscription.StatusCancelled),
	}

	return map[string][]mongo.IndexModel{
		colPlans: {
			{
				Keys:    bson.D{{Key: "slug", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "category_id", Value: 1}, {Key: "status", Value: 1}}},
		},
		colCategories: {
			{
				Keys:    bson.D{{Key: "slug", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		colAddOns: {
			{
				Keys:    bson.D{{Key: "slug", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "status", Value: 1}}},
		},
		colBundles: {
			{
				Keys:    bson.D{{Key: "slug", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
		},
		colSubscriptions: {
			{
				Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "exclusive_key", Value: 1}},
				Options: options.Index().SetUnique(true).SetPartialFilterExpression(bson.M{
					"status":        bson.M{"$in": occupyingStatuses},
					"exclusive_key": bson.M{"$gt": ""},
				}),
			},
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}}},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "expires_at", Value: 1}}},
		},
		colAddOnSubs: {
			{Keys: bson.D{{Key: "subscription_id", Value: 1}}},
			{Keys: bson.D{{Key: "user_id", Value: 1}}},
		},
		colInvoices: {
			{
				Keys:    bson.D{{Key: "number", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}}},
			{Keys: bson.D{{Key: "status", Value: 1}, {Key: "due_at", Value: 1}}},
			{Keys: bson.D{{Key: "subscription_id", Value: 1}}},
		},
		colTransactions: {
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}}},
			{Keys: bson.D{{Key: "invoice_id", Value: 1}}},
		},
		colPurchases: {
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "created_at", Value: -1}}},
			{Keys: bson.D{{Key: "invoice_id", Value: 1}}},
		},
	}
}
