package jitterest

import "testing"

func TestZeroUntilConsecutivePair(t *testing.T) {
	e := New()
	if got := e.GetJitterEstimateMs(); got != 0 {
		t.Fatalf("fresh estimator: got %v, want 0", got)
	}
	e.Update(1, 1000)
	if got := e.GetJitterEstimateMs(); got != 0 {
		t.Fatalf("single sample: got %v, want 0", got)
	}
}

func TestReorderedSequenceDropped(t *testing.T) {
	e := New()
	e.Update(1, 1000)
	e.Update(5, 2000) // not consecutive — dropped, not penalized
	if got := e.GetJitterEstimateMs(); got != 0 {
		t.Fatalf("non-consecutive pair should not move jitter, got %v", got)
	}
}

func TestConsecutivePairUpdatesJitter(t *testing.T) {
	e := New()
	e.Update(1, 0)
	e.Update(2, 20) // on-time arrival, delta == 20ms, jitter grows from 0
	got := e.GetJitterEstimateMs()
	if got <= 0 {
		t.Fatalf("expected jitter to move off zero, got %v", got)
	}

	// Steady 20ms arrivals should converge jitter toward a stable small value
	// relative to the delta once the two deltas start matching.
	for i := uint64(3); i < 50; i++ {
		e.Update(i, float64(i-1)*20)
	}
	if got := e.GetJitterEstimateMs(); got < 0 {
		t.Fatalf("jitter must never go negative, got %v", got)
	}
}

func TestIrregularArrivalsGrowJitter(t *testing.T) {
	e := New()
	arrival := 0.0
	e.Update(1, arrival)
	gaps := []float64{20, 20, 100, 20, 150, 20}
	for i, gap := range gaps {
		arrival += gap
		e.Update(uint64(i+2), arrival)
	}
	if got := e.GetJitterEstimateMs(); got <= 0 {
		t.Fatalf("irregular gaps should produce positive jitter, got %v", got)
	}
}
