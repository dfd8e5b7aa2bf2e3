package tier

import "fmt"

// Tier is the subscription level of an account. It is owned by the external
// billing system; this service only reads it.
type Tier string

const (
	Free Tier = "free"
	Pro  Tier = "pro"
	Star Tier = "star"
)

// Unlimited marks a quota with no cap.
const Unlimited = -1

// Limits is the metering policy for one tier. Pro is gated on the weekly
// quota, free on the monthly quota; once the gating quota is exhausted each
// further analysis costs OverageCostSpikes.
type Limits struct {
	WeeklyQuota       int
	MonthlyQuota      int
	OverageCostSpikes int
}

// Unlimited-aware quota check.
func (l Limits) WithinWeekly(used int) bool {
	return l.WeeklyQuota == Unlimited || used < l.WeeklyQuota
}

func (l Limits) WithinMonthly(used int) bool {
	return l.MonthlyQuota == Unlimited || used < l.MonthlyQuota
}

type Policy struct {
	limits map[Tier]Limits
}

// NewPolicy builds the tier table from the configured quota values.
// Star is always unlimited and never charges spikes.
func NewPolicy(freeMonthlyQuota, proWeeklyQuota, overageCostSpikes int) Policy {
	return Policy{limits: map[Tier]Limits{
		Free: {WeeklyQuota: 0, MonthlyQuota: freeMonthlyQuota, OverageCostSpikes: overageCostSpikes},
		Pro:  {WeeklyQuota: proWeeklyQuota, MonthlyQuota: Unlimited, OverageCostSpikes: overageCostSpikes},
		Star: {WeeklyQuota: Unlimited, MonthlyQuota: Unlimited, OverageCostSpikes: 0},
	}}
}

// Default returns the production policy: free = 1/month, pro = 5/week,
// overage = 10 spikes.
func Default() Policy {
	return NewPolicy(1, 5, 10)
}

// LimitsFor resolves the limits for a tier. An unknown tier is a data error
// and fails loudly rather than silently defaulting to free-tier limits.
func (p Policy) LimitsFor(t Tier) (Limits, error) {
	l, ok := p.limits[t]
	if !ok {
		return Limits{}, fmt.Errorf("unknown subscription tier %q", t)
	}
	return l, nil
}

func Parse(s string) (Tier, error) {
	switch Tier(s) {
	case Free, Pro, Star:
		return Tier(s), nil
	}
	return "", fmt.Errorf("unknown subscription tier %q", s)
}
