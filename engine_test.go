package tarif_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/xraph/tarif"
	"github.com/xraph/tarif/catalog"
	"github.com/xraph/tarif/id"
	"github.com/xraph/tarif/store/memory"
	"github.com/xraph/tarif/types"
)

// fakeClock is a mutable time source for deterministic engine tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var testStart = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

// newTestEngine builds an engine on a fresh memory store with a fake
// clock. The engine is not started, so no sweep worker runs; sweeps are
// invoked directly where a test needs them.
func newTestEngine(t *testing.T, opts ...tarif.Option) (*tarif.Engine, *fakeClock) {
	t.Helper()

	clock := newFakeClock(testStart)
	base := []tarif.Option{
		tarif.WithClock(clock.Now),
		tarif.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	e := tarif.New(memory.New(), append(base, opts...)...)
	return e, clock
}

func mustCategory(t *testing.T, e *tarif.Engine, name string, isSingle bool, parent id.CategoryID) *catalog.Category {
	t.Helper()

	c := &catalog.Category{
		Name:     name,
		Slug:     name,
		IsSingle: isSingle,
		ParentID: parent,
	}
	if err := e.CreateCategory(context.Background(), c); err != nil {
		t.Fatalf("create category %s: %v", name, err)
	}
	return c
}

func mustPlan(t *testing.T, e *tarif.Engine, cat id.CategoryID, slug string, cents int64, tokenGrant int64) *catalog.Plan {
	t.Helper()

	p := &catalog.Plan{
		CategoryID: cat,
		Name:       slug,
		Slug:       slug,
		Price:      types.EUR(cents),
		Period:     catalog.PeriodMonthly,
		TokenGrant: tokenGrant,
	}
	if err := e.CreatePlan(context.Background(), p); err != nil {
		t.Fatalf("create plan %s: %v", slug, err)
	}
	return p
}

func mustAddOn(t *testing.T, e *tarif.Engine, slug string, cents int64, tokenGrant int64, planIDs ...id.PlanID) *catalog.AddOn {
	t.Helper()

	a := &catalog.AddOn{
		Name:       slug,
		Slug:       slug,
		Price:      types.EUR(cents),
		Period:     catalog.PeriodMonthly,
		TokenGrant: tokenGrant,
		PlanIDs:    planIDs,
	}
	if err := e.CreateAddOn(context.Background(), a); err != nil {
		t.Fatalf("create add-on %s: %v", slug, err)
	}
	return a
}

func mustBundle(t *testing.T, e *tarif.Engine, slug string, cents int64, tokens int64) *catalog.TokenBundle {
	t.Helper()

	b := &catalog.TokenBundle{
		Name:   slug,
		Slug:   slug,
		Price:  types.EUR(cents),
		Tokens: tokens,
	}
	if err := e.CreateTokenBundle(context.Background(), b); err != nil {
		t.Fatalf("create bundle %s: %v", slug, err)
	}
	return b
}

func TestCatalogValidation(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	t.Run("PlanRequiresValidPeriod", func(t *testing.T) {
		err := e.CreatePlan(ctx, &catalog.Plan{
			Name:   "bad",
			Slug:   "bad",
			Price:  types.EUR(100),
			Period: catalog.BillingPeriod("fortnightly"),
		})
		if err == nil {
			t.Fatal("expected validation error for unknown period")
		}
	})

	t.Run("BundleMustGrantTokens", func(t *testing.T) {
		err := e.CreateTokenBundle(ctx, &catalog.TokenBundle{
			Name:  "empty",
			Slug:  "empty",
			Price: types.EUR(500),
		})
		if err == nil {
			t.Fatal("expected validation error for zero-token bundle")
		}
	})

	t.Run("CategoryParentMustExist", func(t *testing.T) {
		err := e.CreateCategory(ctx, &catalog.Category{
			Name:     "orphan",
			Slug:     "orphan",
			ParentID: id.NewCategoryID(),
		})
		if err == nil {
			t.Fatal("expected error for missing parent category")
		}
	})

	t.Run("SlugLookup", func(t *testing.T) {
		p := mustPlan(t, e, id.Nil, "starter", 990, 0)
		got, err := e.GetPlanBySlug(ctx, "starter")
		if err != nil {
			t.Fatal(err)
		}
		if got.ID != p.ID {
			t.Fatalf("slug lookup returned %s, want %s", got.ID, p.ID)
		}
	})
}

func TestStopIsIdempotent(t *testing.T) {
	e := tarif.New(memory.New(),
		tarif.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		tarif.WithSweepInterval(time.Hour),
	)
	if err := e.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	if err := e.Stop(); err != nil {
		t.Fatal(err)
	}
	// Stopping again must be a no-op, not a close of a closed channel.
	if err := e.Stop(); err != nil {
		t.Fatal(err)
	}
}

func TestArchivedPlanNotPurchasable(t *testing.T) {
	e, _ := newTestEngine(t)
	ctx := context.Background()

	p := mustPlan(t, e, id.Nil, "legacy", 1000, 0)
	if err := e.ArchivePlan(ctx, p.ID); err != nil {
		t.Fatal(err)
	}

	_, err := e.Checkout(ctx, tarif.CheckoutRequest{UserID: "u1", PlanID: p.ID})
	if err != tarif.ErrPlanArchived {
		t.Fatalf("got %v, want ErrPlanArchived", err)
	}

	if _, err := e.StartTrial(ctx, "u1", p.ID); err != tarif.ErrPlanArchived {
		t.Fatalf("trial on archived plan: got %v, want ErrPlanArchived", err)
	}
}
