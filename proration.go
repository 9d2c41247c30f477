package tarif

import (
	"time"

	"github.com/xraph/tarif/catalog"
	"github.com/xraph/tarif/subscription"
	"github.com/xraph/tarif/types"
)

// Proration is the outcome of pricing a mid-period plan switch.
// Credit is the unused value of the old plan, Charge the full price of
// the new plan, and Due the amount to invoice (never negative).
type Proration struct {
	Credit        types.Money
	Charge        types.Money
	Due           types.Money
	RemainingDays int
	PeriodDays    int
}

// prorate prices a switch from the subscription's current plan to a new
// plan at the given instant. The unused value is day-based: whole days
// remaining over whole days in the old plan's period, rounded down.
func prorate(sub *subscription.Subscription, oldPlan, newPlan *catalog.Plan, now time.Time) Proration {
	periodDays := oldPlan.Period.Days()
	remainingDays := int(sub.Remaining(now).Hours() / 24)
	if remainingDays > periodDays {
		remainingDays = periodDays
	}

	credit := types.Zero(oldPlan.Price.Currency)
	if periodDays > 0 && remainingDays > 0 {
		credit = oldPlan.Price.Scale(int64(remainingDays), int64(periodDays))
	}

	charge := newPlan.Price
	due := charge.Subtract(credit)
	if due.IsNegative() {
		due = types.Zero(charge.Currency)
	}

	return Proration{
		Credit:        credit,
		Charge:        charge,
		Due:           due,
		RemainingDays: remainingDays,
		PeriodDays:    periodDays,
	}
}
