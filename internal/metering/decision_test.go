package metering

import (
	"errors"
	"testing"

	"github.com/sprintiq/sprinthia-gate/internal/analysis"
	"github.com/sprintiq/sprinthia-gate/internal/tier"
)

func limitsFor(t *testing.T, tr tier.Tier) tier.Limits {
	t.Helper()
	l, err := tier.Default().LimitsFor(tr)
	if err != nil {
		t.Fatalf("LimitsFor(%s) failed: %v", tr, err)
	}
	return l
}

func TestDecide_FreeFirstOfMonth(t *testing.T) {
	d, err := Decide(tier.Free, limitsFor(t, tier.Free), 0, 0, 0)
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	if d.Via != analysis.AdmittedViaQuota || d.CostSpikes != 0 {
		t.Errorf("Expected free quota admission at cost 0, got %+v", d)
	}
	if !d.IncrementMonthly || d.IncrementWeekly {
		t.Errorf("Free quota admission must increment only the monthly count, got %+v", d)
	}
}

func TestDecide_FreeExhaustedNoBalance(t *testing.T) {
	_, err := Decide(tier.Free, limitsFor(t, tier.Free), 0, 1, 0)
	var insufficient *InsufficientSpikesError
	if !errors.As(err, &insufficient) {
		t.Fatalf("Expected InsufficientSpikesError, got %v", err)
	}
	if insufficient.Required != 10 || insufficient.Available != 0 {
		t.Errorf("Expected required=10 available=0, got %+v", insufficient)
	}
}

func TestDecide_FreeExhaustedWithBalance(t *testing.T) {
	d, err := Decide(tier.Free, limitsFor(t, tier.Free), 0, 1, 10)
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	if d.Via != analysis.AdmittedViaLedger || d.CostSpikes != 10 {
		t.Errorf("Expected ledger admission at cost 10, got %+v", d)
	}
	if d.IncrementWeekly || d.IncrementMonthly {
		t.Errorf("Overage admission must not touch window counts, got %+v", d)
	}
}

func TestDecide_ProWithinWeekly(t *testing.T) {
	d, err := Decide(tier.Pro, limitsFor(t, tier.Pro), 4, 99, 0)
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	if d.Via != analysis.AdmittedViaQuota || !d.IncrementWeekly || d.IncrementMonthly {
		t.Errorf("Expected weekly quota admission, got %+v", d)
	}
}

func TestDecide_ProExhaustedFallsToOverage(t *testing.T) {
	d, err := Decide(tier.Pro, limitsFor(t, tier.Pro), 5, 0, 100)
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	if d.Via != analysis.AdmittedViaLedger || d.CostSpikes != 10 {
		t.Errorf("Expected ledger admission at cost 10, got %+v", d)
	}
}

func TestDecide_StarNeverMeters(t *testing.T) {
	// Any usage history, zero balance: star always admits with no mutation.
	d, err := Decide(tier.Star, limitsFor(t, tier.Star), 10000, 10000, 0)
	if err != nil {
		t.Fatalf("Decide failed: %v", err)
	}
	if d.Via != analysis.AdmittedViaQuota || d.CostSpikes != 0 {
		t.Errorf("Expected free star admission, got %+v", d)
	}
	if d.IncrementWeekly || d.IncrementMonthly {
		t.Errorf("Star admission must not touch window counts, got %+v", d)
	}
}

func TestDecide_UnknownTier(t *testing.T) {
	_, err := Decide(tier.Tier("platinum"), tier.Limits{}, 0, 0, 0)
	if err == nil {
		t.Fatal("Expected error for unknown tier, got nil")
	}
	var insufficient *InsufficientSpikesError
	if errors.As(err, &insufficient) {
		t.Error("Unknown tier must not be reported as an insufficient-credit rejection")
	}
}

func TestDecide_ExactBalanceAdmits(t *testing.T) {
	d, err := Decide(tier.Free, limitsFor(t, tier.Free), 0, 1, 10)
	if err != nil {
		t.Fatalf("Balance exactly equal to the cost must admit: %v", err)
	}
	if d.CostSpikes != 10 {
		t.Errorf("Expected cost 10, got %d", d.CostSpikes)
	}
}
