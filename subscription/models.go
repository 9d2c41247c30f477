// Package subscription defines subscription and add-on subscription
// records and their lifecycle state machines.
package subscription

import (
	"time"

	"github.com/xraph/tarif/id"
	"github.com/xraph/tarif/types"
)

// Status is the lifecycle state of a subscription.
type Status string

const (
	// StatusPending is the placeholder state between checkout and
	// payment capture. A pending subscription grants nothing.
	StatusPending Status = "pending"

	// StatusTrialing is an active trial that has not been paid for.
	StatusTrialing Status = "trialing"

	// StatusActive is a paid, live subscription.
	StatusActive Status = "active"

	// StatusPaused suspends the subscription; the remaining paid time
	// is preserved and restored on resume.
	StatusPaused Status = "paused"

	// StatusCancelled means the user opted out; access continues until
	// the paid period ends, then the subscription expires.
	StatusCancelled Status = "cancelled"

	// StatusExpired is terminal.
	StatusExpired Status = "expired"
)

// Live reports whether the status grants access. Cancelled subscriptions
// stay live until their period lapses.
func (s Status) Live() bool {
	switch s {
	case StatusTrialing, StatusActive, StatusPaused, StatusCancelled:
		return true
	}
	return false
}

// Occupies reports whether the status counts toward category
// exclusivity. Paused subscriptions keep their frozen access but
// release the slot; resuming re-checks it.
func (s Status) Occupies() bool {
	switch s {
	case StatusTrialing, StatusActive, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusExpired
}

// validTransitions enumerates the allowed status edges.
var validTransitions = map[Status][]Status{
	StatusPending:   {StatusActive, StatusTrialing, StatusExpired},
	StatusTrialing:  {StatusActive, StatusCancelled, StatusExpired},
	StatusActive:    {StatusPaused, StatusCancelled, StatusExpired},
	StatusPaused:    {StatusActive, StatusCancelled, StatusExpired},
	StatusCancelled: {StatusExpired},
	StatusExpired:   {},
}

// CanTransition reports whether a subscription may move from one status
// to another.
func CanTransition(from, to Status) bool {
	for _, allowed := range validTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Subscription is a user's hold on a tarif plan.
//
// ExclusiveKey is the ID of the highest is_single category above the
// plan's category, or nil when the plan is not under an exclusive
// subtree. Stores enforce at most one live subscription per
// (user, exclusive key) pair.
type Subscription struct {
	types.Entity
	ID              id.SubscriptionID `json:"id"`
	UserID          string            `json:"user_id"`
	PlanID          id.PlanID         `json:"plan_id"`
	Status          Status            `json:"status"`
	ExclusiveKey    id.CategoryID     `json:"exclusive_key,omitzero"`
	PeriodStart     time.Time         `json:"period_start"`
	ExpiresAt       time.Time         `json:"expires_at"`
	TrialEnd        *time.Time        `json:"trial_end,omitempty"`
	PausedAt        *time.Time        `json:"paused_at,omitempty"`
	CancelledAt     *time.Time        `json:"cancelled_at,omitempty"`
	EndedAt         *time.Time        `json:"ended_at,omitempty"`
	PendingPlanID   id.PlanID         `json:"pending_plan_id,omitzero"`
	ScheduledPlanID id.PlanID         `json:"scheduled_plan_id,omitzero"`
	Metadata        map[string]string `json:"metadata,omitempty"`
}

// Live reports whether the subscription currently grants access as of
// the given instant.
func (s *Subscription) Live(now time.Time) bool {
	if !s.Status.Live() {
		return false
	}
	if s.Status == StatusPaused {
		return true
	}
	return now.Before(s.ExpiresAt)
}

// Remaining returns the unelapsed portion of the current period. It is
// zero when the period has already lapsed.
func (s *Subscription) Remaining(now time.Time) time.Duration {
	if !now.Before(s.ExpiresAt) {
		return 0
	}
	return s.ExpiresAt.Sub(now)
}

// AddOnSubscription attaches an add-on to a base subscription. Its
// lifecycle is subordinate: it cannot outlive the base subscription.
type AddOnSubscription struct {
	types.Entity
	ID             id.AddOnSubID     `json:"id"`
	SubscriptionID id.SubscriptionID `json:"subscription_id"`
	AddOnID        id.AddOnID        `json:"addon_id"`
	UserID         string            `json:"user_id"`
	Status         Status            `json:"status"`
	PeriodStart    time.Time         `json:"period_start"`
	ExpiresAt      time.Time         `json:"expires_at"`
	CancelledAt    *time.Time        `json:"cancelled_at,omitempty"`
	EndedAt        *time.Time        `json:"ended_at,omitempty"`
}

// Clone returns a deep copy of the subscription.
func (s *Subscription) Clone() *Subscription {
	c := *s
	c.TrialEnd = cloneTime(s.TrialEnd)
	c.PausedAt = cloneTime(s.PausedAt)
	c.CancelledAt = cloneTime(s.CancelledAt)
	c.EndedAt = cloneTime(s.EndedAt)
	if s.Metadata != nil {
		c.Metadata = make(map[string]string, len(s.Metadata))
		for k, v := range s.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// Clone returns a deep copy of the add-on subscription.
func (a *AddOnSubscription) Clone() *AddOnSubscription {
	c := *a
	c.CancelledAt = cloneTime(a.CancelledAt)
	c.EndedAt = cloneTime(a.EndedAt)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
