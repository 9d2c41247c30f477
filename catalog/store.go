package catalog

import (
	"context"

	"github.com/xraph/tarif/id"
)

// Store is the catalog persistence interface.
type Store interface {
	CreatePlan(ctx context.Context, p *Plan) error
	GetPlan(ctx context.Context, planID id.PlanID) (*Plan, error)
	GetPlanBySlug(ctx context.Context, slug string) (*Plan, error)
	ListPlans(ctx context.Context, opts ListOpts) ([]*Plan, error)
	UpdatePlan(ctx context.Context, p *Plan) error
	ArchivePlan(ctx context.Context, planID id.PlanID) error

	CreateCategory(ctx context.Context, c *Category) error
	GetCategory(ctx context.Context, catID id.CategoryID) (*Category, error)
	ListCategories(ctx context.Context) ([]*Category, error)
	UpdateCategory(ctx context.Context, c *Category) error

	CreateAddOn(ctx context.Context, a *AddOn) error
	GetAddOn(ctx context.Context, addOnID id.AddOnID) (*AddOn, error)
	ListAddOns(ctx context.Context, opts ListOpts) ([]*AddOn, error)
	UpdateAddOn(ctx context.Context, a *AddOn) error

	CreateTokenBundle(ctx context.Context, b *TokenBundle) error
	GetTokenBundle(ctx context.Context, bundleID id.TokenBundleID) (*TokenBundle, error)
	ListTokenBundles(ctx context.Context, opts ListOpts) ([]*TokenBundle, error)
	UpdateTokenBundle(ctx context.Context, b *TokenBundle) error
}

// ListOpts filters catalog listings.
type ListOpts struct {
	Status Status
	Limit  int
	Offset int
}
