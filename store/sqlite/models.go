package sqlite

import (
	"encoding/json"
	"time"

	"github.com/xraph/grove"

	"github.com/xraph/tarif/catalog"
	"github.com/xraph/tarif/id"
	"github.com/xraph/tarif/invoice"
	"github.com/xraph/tarif/subscription"
	"github.com/xraph/tarif/token"
	"github.com/xraph/tarif/types"
)

// parseOptional parses an ID column that may be empty. Empty strings map
// to id.Nil so optional references round-trip cleanly.
func parseOptional(s string, prefix id.Prefix) (id.ID, error) {
	if s == "" {
		return id.Nil, nil
	}
	return id.ParseWithPrefix(s, prefix)
}

// ==================== Plan models ====================

type planModel struct {
	grove.BaseModel `grove:"table:tarif_plans"`

	ID          string            `grove:"id,pk"`
	CategoryID  string            `grove:"category_id"`
	Name        string            `grove:"name"`
	Slug        string            `grove:"slug"`
	Description string            `grove:"description"`
	Status      string            `grove:"status"`
	PriceCents  int64             `grove:"price_cents"`
	Currency    string            `grove:"currency"`
	Period      string            `grove:"period"`
	TrialDays   int               `grove:"trial_days"`
	TokenGrant  int64             `grove:"token_grant"`
	Features    json.RawMessage   `grove:"features,type:json"`
	Metadata    map[string]string `grove:"metadata,type:json"`
	CreatedAt   time.Time         `grove:"created_at"`
	UpdatedAt   time.Time         `grove:"updated_at"`
}

func toPlanModel(p *catalog.Plan) *planModel {
	features, _ := json.Marshal(p.Features) //nolint:errcheck // best-effort

	return &planModel{
		ID:          p.ID.String(),
		CategoryID:  p.CategoryID.String(),
		Name:        p.Name,
		Slug:        p.Slug,
		Description: p.Description,
		Status:      string(p.Status),
		PriceCents:  p.Price.Amount,
		Currency:    p.Price.Currency,
		Period:      string(p.Period),
		TrialDays:   p.TrialDays,
		TokenGrant:  p.TokenGrant,
		Features:    features,
		Metadata:    p.Metadata,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}

func fromPlanModel(m *planModel) (*catalog.Plan, error) {
	planID, err := id.ParsePlanID(m.ID)
	if err != nil {
		return nil, err
	}
	catID, err := parseOptional(m.CategoryID, id.PrefixCategory)
	if err != nil {
		return nil, err
	}

	var features map[string]any
	if len(m.Features) > 0 && string(m.Features) != "null" {
		_ = json.Unmarshal(m.Features, &features) //nolint:errcheck // best-effort
	}

	return &catalog.Plan{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:          planID,
		CategoryID:  catID,
		Name:        m.Name,
		Slug:        m.Slug,
		Description: m.Description,
		Status:      catalog.Status(m.Status),
		Price:       types.Money{Amount: m.PriceCents, Currency: m.Currency},
		Period:      catalog.BillingPeriod(m.Period),
		TrialDays:   m.TrialDays,
		TokenGrant:  m.TokenGrant,
		Features:    features,
		Metadata:    m.Metadata,
	}, nil
}

// ==================== Category models ====================

type categoryModel struct {
	grove.BaseModel `grove:"table:tarif_categories"`

	ID        string            `grove:"id,pk"`
	ParentID  string            `grove:"parent_id"`
	Name      string            `grove:"name"`
	Slug      string            `grove:"slug"`
	IsSingle  bool              `grove:"is_single"`
	Metadata  map[string]string `grove:"metadata,type:json"`
	CreatedAt time.Time         `grove:"created_at"`
	UpdatedAt time.Time         `grove:"updated_at"`
}

func toCategoryModel(c *catalog.Category) *categoryModel {
	return &categoryModel{
		ID:        c.ID.String(),
		ParentID:  c.ParentID.String(),
		Name:      c.Name,
		Slug:      c.Slug,
		IsSingle:  c.IsSingle,
		Metadata:  c.Metadata,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

func fromCategoryModel(m *categoryModel) (*catalog.Category, error) {
	catID, err := id.ParseCategoryID(m.ID)
	if err != nil {
		return nil, err
	}
	parentID, err := parseOptional(m.ParentID, id.PrefixCategory)
	if err != nil {
		return nil, err
	}

	return &catalog.Category{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:       catID,
		ParentID: parentID,
		Name:     m.Name,
		Slug:     m.Slug,
		IsSingle: m.IsSingle,
		Metadata: m.Metadata,
	}, nil
}

// ==================== Add-on models ====================

type addOnModel struct {
	grove.BaseModel `grove:"table:tarif_addons"`

	ID          string            `grove:"id,pk"`
	Name        string            `grove:"name"`
	Slug        string            `grove:"slug"`
	Description string            `grove:"description"`
	Status      string            `grove:"status"`
	PriceCents  int64             `grove:"price_cents"`
	Currency    string            `grove:"currency"`
	Period      string            `grove:"period"`
	TokenGrant  int64             `grove:"token_grant"`
	PlanIDs     json.RawMessage   `grove:"plan_ids,type:json"`
	Metadata    map[string]string `grove:"metadata,type:json"`
	CreatedAt   time.Time         `grove:"created_at"`
	UpdatedAt   time.Time         `grove:"updated_at"`
}

func toAddOnModel(a *catalog.AddOn) *addOnModel {
	planIDs := make([]string, len(a.PlanIDs))
	for i, pid := range a.PlanIDs {
		planIDs[i] = pid.String()
	}
	raw, _ := json.Marshal(planIDs) //nolint:errcheck // best-effort

	return &addOnModel{
		ID:          a.ID.String(),
		Name:        a.Name,
		Slug:        a.Slug,
		Description: a.Description,
		Status:      string(a.Status),
		PriceCents:  a.Price.Amount,
		Currency:    a.Price.Currency,
		Period:      string(a.Period),
		TokenGrant:  a.TokenGrant,
		PlanIDs:     raw,
		Metadata:    a.Metadata,
		CreatedAt:   a.CreatedAt,
		UpdatedAt:   a.UpdatedAt,
	}
}

func fromAddOnModel(m *addOnModel) (*catalog.AddOn, error) {
	addOnID, err := id.ParseAddOnID(m.ID)
	if err != nil {
		return nil, err
	}

	var rawIDs []string
	if len(m.PlanIDs) > 0 && string(m.PlanIDs) != "null" {
		_ = json.Unmarshal(m.PlanIDs, &rawIDs) //nolint:errcheck // best-effort
	}
	var planIDs []id.PlanID
	for _, s := range rawIDs {
		pid, err := id.ParsePlanID(s)
		if err != nil {
			return nil, err
		}
		planIDs = append(planIDs, pid)
	}

	return &catalog.AddOn{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:          addOnID,
		Name:        m.Name,
		Slug:        m.Slug,
		Description: m.Description,
		Status:      catalog.Status(m.Status),
		Price:       types.Money{Amount: m.PriceCents, Currency: m.Currency},
		Period:      catalog.BillingPeriod(m.Period),
		TokenGrant:  m.TokenGrant,
		PlanIDs:     planIDs,
		Metadata:    m.Metadata,
	}, nil
}

// ==================== Token bundle models ====================

type tokenBundleModel struct {
	grove.BaseModel `grove:"table:tarif_token_bundles"`

	ID          string            `grove:"id,pk"`
	Name        string            `grove:"name"`
	Slug        string            `grove:"slug"`
	Description string            `grove:"description"`
	Status      string            `grove:"status"`
	PriceCents  int64             `grove:"price_cents"`
	Currency    string            `grove:"currency"`
	Tokens      int64             `grove:"tokens"`
	Metadata    map[string]string `grove:"metadata,type:json"`
	CreatedAt   time.Time         `grove:"created_at"`
	UpdatedAt   time.Time         `grove:"updated_at"`
}

func toTokenBundleModel(b *catalog.TokenBundle) *tokenBundleModel {
	return &tokenBundleModel{
		ID:          b.ID.String(),
		Name:        b.Name,
		Slug:        b.Slug,
		Description: b.Description,
		Status:      string(b.Status),
		PriceCents:  b.Price.Amount,
		Currency:    b.Price.Currency,
		Tokens:      b.Tokens,
		Metadata:    b.Metadata,
		CreatedAt:   b.CreatedAt,
		UpdatedAt:   b.UpdatedAt,
	}
}

func fromTokenBundleModel(m *tokenBundleModel) (*catalog.TokenBundle, error) {
	bundleID, err := id.ParseTokenBundleID(m.ID)
	if err != nil {
		return nil, err
	}

	return &catalog.TokenBundle{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:          bundleID,
		Name:        m.Name,
		Slug:        m.Slug,
		Description: m.Description,
		Status:      catalog.Status(m.Status),
		Price:       types.Money{Amount: m.PriceCents, Currency: m.Currency},
		Tokens:      m.Tokens,
		Metadata:    m.Metadata,
	}, nil
}

// ==================== Subscription models ====================

type subscriptionModel struct {
	grove.BaseModel `grove:"table:tarif_subscriptions"`

	ID              string            `grove:"id,pk"`
	UserID          string            `grove:"user_id"`
	PlanID          string            `grove:"plan_id"`
	Status          string            `grove:"status"`
	ExclusiveKey    string            `grove:"exclusive_key"`
	PeriodStart     time.Time         `grove:"period_start"`
	ExpiresAt       time.Time         `grove:"expires_at"`
	TrialEnd        *time.Time        `grove:"trial_end"`
	PausedAt        *time.Time        `grove:"paused_at"`
	CancelledAt     *time.Time        `grove:"cancelled_at"`
	EndedAt         *time.Time        `grove:"ended_at"`
	PendingPlanID   string            `grove:"pending_plan_id"`
	ScheduledPlanID string            `grove:"scheduled_plan_id"`
	Metadata        map[string]string `grove:"metadata,type:json"`
	CreatedAt       time.Time         `grove:"created_at"`
	UpdatedAt       time.Time         `grove:"updated_at"`
}

func toSubscriptionModel(s *subscription.Subscription) *subscriptionModel {
	return &subscriptionModel{
		ID:              s.ID.String(),
		UserID:          s.UserID,
		PlanID:          s.PlanID.String(),
		Status:          string(s.Status),
		ExclusiveKey:    s.ExclusiveKey.String(),
		PeriodStart:     s.PeriodStart,
		ExpiresAt:       s.ExpiresAt,
		TrialEnd:        s.TrialEnd,
		PausedAt:        s.PausedAt,
		CancelledAt:     s.CancelledAt,
		EndedAt:         s.EndedAt,
		PendingPlanID:   s.PendingPlanID.String(),
		ScheduledPlanID: s.ScheduledPlanID.String(),
		Metadata:        s.Metadata,
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
	}
}

func fromSubscriptionModel(m *subscriptionModel) (*subscription.Subscription, error) {
	subID, err := id.ParseSubscriptionID(m.ID)
	if err != nil {
		return nil, err
	}
	planID, err := id.ParsePlanID(m.PlanID)
	if err != nil {
		return nil, err
	}
	exclusiveKey, err := parseOptional(m.ExclusiveKey, id.PrefixCategory)
	if err != nil {
		return nil, err
	}
	pendingPlanID, err := parseOptional(m.PendingPlanID, id.PrefixPlan)
	if err != nil {
		return nil, err
	}
	scheduledPlanID, err := parseOptional(m.ScheduledPlanID, id.PrefixPlan)
	if err != nil {
		return nil, err
	}

	return &subscription.Subscription{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:              subID,
		UserID:          m.UserID,
		PlanID:          planID,
		Status:          subscription.Status(m.Status),
		ExclusiveKey:    exclusiveKey,
		PeriodStart:     m.PeriodStart,
		ExpiresAt:       m.ExpiresAt,
		TrialEnd:        m.TrialEnd,
		PausedAt:        m.PausedAt,
		CancelledAt:     m.CancelledAt,
		EndedAt:         m.EndedAt,
		PendingPlanID:   pendingPlanID,
		ScheduledPlanID: scheduledPlanID,
		Metadata:        m.Metadata,
	}, nil
}

// ==================== Add-on subscription models ====================

type addOnSubModel struct {
	grove.BaseModel `grove:"table:tarif_addon_subscriptions"`

	ID             string     `grove:"id,pk"`
	SubscriptionID string     `grove:"subscription_id"`
	AddOnID        string     `grove:"addon_id"`
	UserID         string     `grove:"user_id"`
	Status         string     `grove:"status"`
	PeriodStart    time.Time  `grove:"period_start"`
	ExpiresAt      time.Time  `grove:"expires_at"`
	CancelledAt    *time.Time `grove:"cancelled_at"`
	EndedAt        *time.Time `grove:"ended_at"`
	CreatedAt      time.Time  `grove:"created_at"`
	UpdatedAt      time.Time  `grove:"updated_at"`
}

func toAddOnSubModel(a *subscription.AddOnSubscription) *addOnSubModel {
	return &addOnSubModel{
		ID:             a.ID.String(),
		SubscriptionID: a.SubscriptionID.String(),
		AddOnID:        a.AddOnID.String(),
		UserID:         a.UserID,
		Status:         string(a.Status),
		PeriodStart:    a.PeriodStart,
		ExpiresAt:      a.ExpiresAt,
		CancelledAt:    a.CancelledAt,
		EndedAt:        a.EndedAt,
		CreatedAt:      a.CreatedAt,
		UpdatedAt:      a.UpdatedAt,
	}
}

func fromAddOnSubModel(m *addOnSubModel) (*subscription.AddOnSubscription, error) {
	addOnSubID, err := id.ParseAddOnSubID(m.ID)
	if err != nil {
		return nil, err
	}
	subID, err := id.ParseSubscriptionID(m.SubscriptionID)
	if err != nil {
		return nil, err
	}
	addOnID, err := id.ParseAddOnID(m.AddOnID)
	if err != nil {
		return nil, err
	}

	return &subscription.AddOnSubscription{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:             addOnSubID,
		SubscriptionID: subID,
		AddOnID:        addOnID,
		UserID:         m.UserID,
		Status:         subscription.Status(m.Status),
		PeriodStart:    m.PeriodStart,
		ExpiresAt:      m.ExpiresAt,
		CancelledAt:    m.CancelledAt,
		EndedAt:        m.EndedAt,
	}, nil
}

// ==================== Invoice models ====================

type invoiceModel struct {
	grove.BaseModel `grove:"table:tarif_invoices"`

	ID             string            `grove:"id,pk"`
	Number         string            `grove:"number"`
	UserID         string            `grove:"user_id"`
	SubscriptionID string            `grove:"subscription_id"`
	Status         string            `grove:"status"`
	Currency       string            `grove:"currency"`
	AmountCents    int64             `grove:"amount_cents"`
	SubtotalCents  int64             `grove:"subtotal_cents"`
	TaxCents       int64             `grove:"tax_cents"`
	LineItems      json.RawMessage   `grove:"line_items,type:json"`
	DueAt          *time.Time        `grove:"due_at"`
	PaidAt         *time.Time        `grove:"paid_at"`
	FailedAt       *time.Time        `grove:"failed_at"`
	RefundedAt     *time.Time        `grove:"refunded_at"`
	FailureReason  string            `grove:"failure_reason"`
	PaymentRef     string            `grove:"payment_ref"`
	CaptureSource  string            `grove:"capture_source"`
	Metadata       map[string]string `grove:"metadata,type:json"`
	CreatedAt      time.Time         `grove:"created_at"`
	UpdatedAt      time.Time         `grove:"updated_at"`
}

func toInvoiceModel(inv *invoice.Invoice) *invoiceModel {
	lineItems, _ := json.Marshal(inv.LineItems) //nolint:errcheck // best-effort

	return &invoiceModel{
		ID:             inv.ID.String(),
		Number:         inv.Number,
		UserID:         inv.UserID,
		SubscriptionID: inv.SubscriptionID.String(),
		Status:         string(inv.Status),
		Currency:       inv.Currency,
		AmountCents:    inv.Amount.Amount,
		SubtotalCents:  inv.Subtotal.Amount,
		TaxCents:       inv.TaxAmount.Amount,
		LineItems:      lineItems,
		DueAt:          inv.DueAt,
		PaidAt:         inv.PaidAt,
		FailedAt:       inv.FailedAt,
		RefundedAt:     inv.RefundedAt,
		FailureReason:  inv.FailureReason,
		PaymentRef:     inv.PaymentRef,
		CaptureSource:  inv.CaptureSource,
		Metadata:       inv.Metadata,
		CreatedAt:      inv.CreatedAt,
		UpdatedAt:      inv.UpdatedAt,
	}
}

func fromInvoiceModel(m *invoiceModel) (*invoice.Invoice, error) {
	invID, err := id.ParseInvoiceID(m.ID)
	if err != nil {
		return nil, err
	}
	subID, err := parseOptional(m.SubscriptionID, id.PrefixSubscription)
	if err != nil {
		return nil, err
	}

	var lineItems []invoice.LineItem
	if len(m.LineItems) > 0 && string(m.LineItems) != "null" {
		_ = json.Unmarshal(m.LineItems, &lineItems) //nolint:errcheck // best-effort
	}

	return &invoice.Invoice{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:             invID,
		Number:         m.Number,
		UserID:         m.UserID,
		SubscriptionID: subID,
		Status:         invoice.Status(m.Status),
		Currency:       m.Currency,
		Amount:         types.Money{Amount: m.AmountCents, Currency: m.Currency},
		Subtotal:       types.Money{Amount: m.SubtotalCents, Currency: m.Currency},
		TaxAmount:      types.Money{Amount: m.TaxCents, Currency: m.Currency},
		LineItems:      lineItems,
		DueAt:          m.DueAt,
		PaidAt:         m.PaidAt,
		FailedAt:       m.FailedAt,
		RefundedAt:     m.RefundedAt,
		FailureReason:  m.FailureReason,
		PaymentRef:     m.PaymentRef,
		CaptureSource:  m.CaptureSource,
		Metadata:       m.Metadata,
	}, nil
}

// ==================== Token ledger models ====================

type transactionModel struct {
	grove.BaseModel `grove:"table:tarif_token_transactions"`

	ID        string    `grove:"id,pk"`
	UserID    string    `grove:"user_id"`
	Type      string    `grove:"type"`
	Amount    int64     `grove:"amount"`
	RefID     string    `grove:"ref_id"`
	InvoiceID string    `grove:"invoice_id"`
	Note      string    `grove:"note"`
	CreatedAt time.Time `grove:"created_at"`
	UpdatedAt time.Time `grove:"updated_at"`
}

func toTransactionModel(t *token.Transaction) *transactionModel {
	return &transactionModel{
		ID:        t.ID.String(),
		UserID:    t.UserID,
		Type:      string(t.Type),
		Amount:    t.Amount,
		RefID:     t.RefID.String(),
		InvoiceID: t.InvoiceID.String(),
		Note:      t.Note,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
}

func fromTransactionModel(m *transactionModel) (*token.Transaction, error) {
	txnID, err := id.ParseTokenTransactionID(m.ID)
	if err != nil {
		return nil, err
	}
	var refID id.AnyID
	if m.RefID != "" {
		refID, err = id.ParseAny(m.RefID)
		if err != nil {
			return nil, err
		}
	}
	invID, err := parseOptional(m.InvoiceID, id.PrefixInvoice)
	if err != nil {
		return nil, err
	}

	return &token.Transaction{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:        txnID,
		UserID:    m.UserID,
		Type:      token.TransactionType(m.Type),
		Amount:    m.Amount,
		RefID:     refID,
		InvoiceID: invID,
		Note:      m.Note,
	}, nil
}

// ==================== Bundle purchase models ====================

type bundlePurchaseModel struct {
	grove.BaseModel `grove:"table:tarif_bundle_purchases"`

	ID             string     `grove:"id,pk"`
	UserID         string     `grove:"user_id"`
	BundleID       string     `grove:"bundle_id"`
	InvoiceID      string     `grove:"invoice_id"`
	Tokens         int64      `grove:"tokens"`
	PriceCents     int64      `grove:"price_cents"`
	Currency       string     `grove:"currency"`
	Status         string     `grove:"status"`
	TokensCredited bool       `grove:"tokens_credited"`
	CompletedAt    *time.Time `grove:"completed_at"`
	CreatedAt      time.Time  `grove:"created_at"`
	UpdatedAt      time.Time  `grove:"updated_at"`
}

func toBundlePurchaseModel(p *token.BundlePurchase) *bundlePurchaseModel {
	return &bundlePurchaseModel{
		ID:             p.ID.String(),
		UserID:         p.UserID,
		BundleID:       p.BundleID.String(),
		InvoiceID:      p.InvoiceID.String(),
		Tokens:         p.Tokens,
		PriceCents:     p.Price.Amount,
		Currency:       p.Price.Currency,
		Status:         string(p.Status),
		TokensCredited: p.TokensCredited,
		CompletedAt:    p.CompletedAt,
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
	}
}

func fromBundlePurchaseModel(m *bundlePurchaseModel) (*token.BundlePurchase, error) {
	purchaseID, err := id.ParseBundlePurchaseID(m.ID)
	if err != nil {
		return nil, err
	}
	bundleID, err := id.ParseTokenBundleID(m.BundleID)
	if err != nil {
		return nil, err
	}
	invID, err := parseOptional(m.InvoiceID, id.PrefixInvoice)
	if err != nil {
		return nil, err
	}

	return &token.BundlePurchase{
		Entity: types.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:             purchaseID,
		UserID:         m.UserID,
		BundleID:       bundleID,
		InvoiceID:      invID,
		Tokens:         m.Tokens,
		Price:          types.Money{Amount: m.PriceCents, Currency: m.Currency},
		Status:         token.PurchaseStatus(m.Status),
		TokensCredited: m.TokensCredited,
		CompletedAt:    m.CompletedAt,
	}, nil
}

// ==================== Token balance models ====================

type tokenBalanceModel struct {
	grove.BaseModel `grove:"table:tarif_token_balances"`

	UserID    string    `grove:"user_id,pk"`
	Balance   int64     `grove:"balance"`
	UpdatedAt time.Time `grove:"updated_at"`
}
