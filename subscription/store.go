package subscription

import (
	"context"
	"time"

	"github.com/xraph/tarif/id"
)

// Store is the subscription persistence interface.
//
// Implementations must enforce the exclusivity invariant: at most one
// live subscription per (user, exclusive key) pair. Create and Update
// return a conflict error when a write would violate it.
type Store interface {
	Create(ctx context.Context, s *Subscription) error
	Get(ctx context.Context, subID id.SubscriptionID) (*Subscription, error)
	GetLive(ctx context.Context, userID string, exclusiveKey id.CategoryID) (*Subscription, error)
	ListByUser(ctx context.Context, userID string, opts ListOpts) ([]*Subscription, error)
	Update(ctx context.Context, s *Subscription) error
	ListExpiring(ctx context.Context, before time.Time) ([]*Subscription, error)

	CreateAddOnSub(ctx context.Context, a *AddOnSubscription) error
	GetAddOnSub(ctx context.Context, addOnSubID id.AddOnSubID) (*AddOnSubscription, error)
	ListAddOnSubs(ctx context.Context, subID id.SubscriptionID) ([]*AddOnSubscription, error)
	UpdateAddOnSub(ctx context.Context, a *AddOnSubscription) error
}

// ListOpts filters subscription listings.
type ListOpts struct {
	Status Status
	Limit  int
	Offset int
}
