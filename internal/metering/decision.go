package metering

import (
	"fmt"

	"github.com/sprintiq/sprinthia-gate/internal/analysis"
	"github.com/sprintiq/sprinthia-gate/internal/tier"
)

// InsufficientSpikesError is the only user-facing admission failure: the
// tier quota is exhausted and the spike balance cannot cover the overage.
type InsufficientSpikesError struct {
	Required  int
	Available int
}

func (e *InsufficientSpikesError) Error() string {
	return fmt.Sprintf("insufficient spikes: need %d, have %d", e.Required, e.Available)
}

// Decision is the outcome of admitting one analysis request, expressed as the
// exact set of mutations to apply. Exactly one of {nothing, one window
// increment, one spike debit} is set; never an increment and a debit together.
type Decision struct {
	Via              string // analysis.AdmittedViaQuota or analysis.AdmittedViaLedger
	CostSpikes       int
	IncrementWeekly  bool
	IncrementMonthly bool
}

// Decide applies the tier policy to the account's current window counts and
// spike balance. It is pure: callers apply the returned mutations atomically
// with the reads that informed them.
//
// Star always admits free of charge with no bookkeeping. Pro is gated on the
// weekly quota, free on the monthly quota; past the gating quota the request
// falls through to the spike overage path.
func Decide(t tier.Tier, limits tier.Limits, weeklyUsed, monthlyUsed, spikeBalance int) (Decision, error) {
	switch t {
	case tier.Star:
		return Decision{Via: analysis.AdmittedViaQuota}, nil
	case tier.Pro:
		if limits.WithinWeekly(weeklyUsed) {
			return Decision{Via: analysis.AdmittedViaQuota, IncrementWeekly: true}, nil
		}
	case tier.Free:
		if limits.WithinMonthly(monthlyUsed) {
			return Decision{Via: analysis.AdmittedViaQuota, IncrementMonthly: true}, nil
		}
	default:
		return Decision{}, fmt.Errorf("unknown subscription tier %q", t)
	}

	// Overage: quota exhausted, spend spikes or reject.
	if spikeBalance < limits.OverageCostSpikes {
		return Decision{}, &InsufficientSpikesError{
			Required:  limits.OverageCostSpikes,
			Available: spikeBalance,
		}
	}
	return Decision{Via: analysis.AdmittedViaLedger, CostSpikes: limits.OverageCostSpikes}, nil
}
