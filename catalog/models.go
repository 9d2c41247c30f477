// Package catalog defines the purchasable offering: tarif plans, the
// category tree that organizes them, add-ons, and token bundles.
package catalog

import (
	"time"

	"github.com/xraph/tarif/id"
	"github.com/xraph/tarif/types"
)

// BillingPeriod is the recurrence interval of a plan.
type BillingPeriod string

const (
	PeriodWeekly    BillingPeriod = "weekly"
	PeriodMonthly   BillingPeriod = "monthly"
	PeriodQuarterly BillingPeriod = "quarterly"
	PeriodYearly    BillingPeriod = "yearly"
	PeriodOneTime   BillingPeriod = "one_time"
)

// Days returns the fixed length of one billing period in days.
// One-time plans have no recurring period and return 0.
func (p BillingPeriod) Days() int {
	switch p {
	case PeriodWeekly:
		return 7
	case PeriodMonthly:
		return 30
	case PeriodQuarterly:
		return 90
	case PeriodYearly:
		return 365
	default:
		return 0
	}
}

// Duration returns the period length as a time.Duration.
func (p BillingPeriod) Duration() time.Duration {
	return time.Duration(p.Days()) * 24 * time.Hour
}

// End returns when access starting at start runs out. One-time periods
// never lapse; a hundred-year horizon stands in for "forever" so expiry
// comparisons need no special case.
func (p BillingPeriod) End(start time.Time) time.Time {
	if p == PeriodOneTime {
		return start.AddDate(100, 0, 0)
	}
	return start.Add(p.Duration())
}

// Valid reports whether p is a known billing period.
func (p BillingPeriod) Valid() bool {
	switch p {
	case PeriodWeekly, PeriodMonthly, PeriodQuarterly, PeriodYearly, PeriodOneTime:
		return true
	}
	return false
}

// Status is the lifecycle state of a catalog entry.
type Status string

const (
	StatusActive   Status = "active"
	StatusArchived Status = "archived"
	StatusDraft    Status = "draft"
)

// Plan is a purchasable tarif plan. Price is the recurring charge per
// billing period in minor units; a zero price makes the plan free.
type Plan struct {
	types.Entity
	ID          id.PlanID         `json:"id"`
	CategoryID  id.CategoryID     `json:"category_id"`
	Name        string            `json:"name"`
	Slug        string            `json:"slug"`
	Description string            `json:"description"`
	Status      Status            `json:"status"`
	Price       types.Money       `json:"price"`
	Period      BillingPeriod     `json:"period"`
	TrialDays   int               `json:"trial_days"`
	TokenGrant  int64             `json:"token_grant"`
	Features    map[string]any    `json:"features,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// IsFree reports whether the plan charges nothing per period.
func (p *Plan) IsFree() bool {
	return p.Price.IsZero()
}

// IsRecurring reports whether the plan renews on a fixed period.
func (p *Plan) IsRecurring() bool {
	return p.Period != PeriodOneTime
}

// HasTrial reports whether the plan offers a trial period.
func (p *Plan) HasTrial() bool {
	return p.TrialDays > 0
}

// Category is a node in the plan category tree. Categories with IsSingle
// set enforce that a user holds at most one live subscription across all
// plans under that category subtree.
type Category struct {
	types.Entity
	ID       id.CategoryID     `json:"id"`
	ParentID id.CategoryID     `json:"parent_id,omitzero"`
	Name     string            `json:"name"`
	Slug     string            `json:"slug"`
	IsSingle bool              `json:"is_single"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// IsRoot reports whether the category has no parent.
func (c *Category) IsRoot() bool {
	return c.ParentID.IsNil()
}

// AddOn is a recurring extra attachable to a subscription. When PlanIDs
// is non-empty the add-on may only be attached to subscriptions on one
// of the listed plans; an empty list means any plan.
type AddOn struct {
	types.Entity
	ID          id.AddOnID        `json:"id"`
	Name        string            `json:"name"`
	Slug        string            `json:"slug"`
	Description string            `json:"description"`
	Status      Status            `json:"status"`
	Price       types.Money       `json:"price"`
	Period      BillingPeriod     `json:"period"`
	TokenGrant  int64             `json:"token_grant"`
	PlanIDs     []id.PlanID       `json:"plan_ids,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// CompatibleWith reports whether the add-on may be attached to a
// subscription on the given plan.
func (a *AddOn) CompatibleWith(planID id.PlanID) bool {
	if len(a.PlanIDs) == 0 {
		return true
	}
	for _, allowed := range a.PlanIDs {
		if allowed == planID {
			return true
		}
	}
	return false
}

// TokenBundle is a one-time purchasable pack of tokens.
type TokenBundle struct {
	types.Entity
	ID          id.TokenBundleID  `json:"id"`
	Name        string            `json:"name"`
	Slug        string            `json:"slug"`
	Description string            `json:"description"`
	Status      Status            `json:"status"`
	Price       types.Money       `json:"price"`
	Tokens      int64             `json:"tokens"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}
