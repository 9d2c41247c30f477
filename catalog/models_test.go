package catalog

import (
	"testing"

	"github.com/xraph/tarif/id"
	"github.com/xraph/tarif/types"
)

func TestBillingPeriodDays(t *testing.T) {
	tests := []struct {
		period BillingPeriod
		want   int
	}{
		{PeriodWeekly, 7},
		{PeriodMonthly, 30},
		{PeriodQuarterly, 90},
		{PeriodYearly, 365},
		{PeriodOneTime, 0},
	}

	for _, tt := range tests {
		t.Run(string(tt.period), func(t *testing.T) {
			if got := tt.period.Days(); got != tt.want {
				t.Errorf("Days() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestPlanPredicates(t *testing.T) {
	free := &Plan{Price: types.EUR(0), Period: PeriodMonthly, TrialDays: 0}
	if !free.IsFree() {
		t.Error("zero-price plan should be free")
	}
	if !free.IsRecurring() {
		t.Error("monthly plan should be recurring")
	}
	if free.HasTrial() {
		t.Error("plan without trial days should not have a trial")
	}

	paid := &Plan{Price: types.EUR(2999), Period: PeriodOneTime, TrialDays: 14}
	if paid.IsFree() {
		t.Error("priced plan should not be free")
	}
	if paid.IsRecurring() {
		t.Error("one-time plan should not be recurring")
	}
	if !paid.HasTrial() {
		t.Error("plan with trial days should have a trial")
	}
}

func TestAddOnCompatibleWith(t *testing.T) {
	planA := id.NewPlanID()
	planB := id.NewPlanID()

	unrestricted := &AddOn{}
	if !unrestricted.CompatibleWith(planA) {
		t.Error("add-on without plan restriction should be compatible with any plan")
	}

	restricted := &AddOn{PlanIDs: []id.PlanID{planA}}
	if !restricted.CompatibleWith(planA) {
		t.Error("add-on should be compatible with a listed plan")
	}
	if restricted.CompatibleWith(planB) {
		t.Error("add-on should not be compatible with an unlisted plan")
	}
}

func TestAncestorChain(t *testing.T) {
	root := &Category{ID: id.NewCategoryID(), Name: "Memberships", IsSingle: true}
	mid := &Category{ID: id.NewCategoryID(), ParentID: root.ID, Name: "Pro Tier"}
	leaf := &Category{ID: id.NewCategoryID(), ParentID: mid.ID, Name: "Pro Annual", IsSingle: true}

	byID := map[id.CategoryID]*Category{
		root.ID: root,
		mid.ID:  mid,
		leaf.ID: leaf,
	}

	chain, err := AncestorChain(leaf.ID, byID)
	if err != nil {
		t.Fatalf("AncestorChain error: %v", err)
	}
	if len(chain) != 3 {
		t.Fatalf("chain length = %d, want 3", len(chain))
	}
	if chain[0].ID != leaf.ID || chain[2].ID != root.ID {
		t.Error("chain should be ordered leaf-first")
	}

	t.Run("missing parent fails", func(t *testing.T) {
		orphan := &Category{ID: id.NewCategoryID(), ParentID: id.NewCategoryID()}
		if _, err := AncestorChain(orphan.ID, map[id.CategoryID]*Category{orphan.ID: orphan}); err == nil {
			t.Error("expected error for missing parent")
		}
	})

	t.Run("cycle fails", func(t *testing.T) {
		a := &Category{ID: id.NewCategoryID()}
		b := &Category{ID: id.NewCategoryID(), ParentID: a.ID}
		a.ParentID = b.ID

		cyclic := map[id.CategoryID]*Category{a.ID: a, b.ID: b}
		if _, err := AncestorChain(a.ID, cyclic); err == nil {
			t.Error("expected error for category cycle")
		}
	})
}

func TestExclusiveRoot(t *testing.T) {
	root := &Category{ID: id.NewCategoryID(), IsSingle: true}
	mid := &Category{ID: id.NewCategoryID(), ParentID: root.ID, IsSingle: true}
	leaf := &Category{ID: id.NewCategoryID(), ParentID: mid.ID}

	// Highest exclusive ancestor wins, not the nearest.
	got, ok := ExclusiveRoot([]*Category{leaf, mid, root})
	if !ok {
		t.Fatal("expected an exclusive root")
	}
	if got != root.ID {
		t.Errorf("ExclusiveRoot = %s, want root %s", got, root.ID)
	}

	t.Run("no exclusive ancestor", func(t *testing.T) {
		plain := &Category{ID: id.NewCategoryID()}
		if _, ok := ExclusiveRoot([]*Category{plain}); ok {
			t.Error("expected no exclusive root for non-single chain")
		}
	})
}
