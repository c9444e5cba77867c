package metrics

import (
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestPerformanceMetrics_FirstSampleInitializes(t *testing.T) {
	m := NewPerformanceMetrics(0, 0, 0, 0, 0)
	m.UpdateResponseTime(250)
	snap := m.Snapshot()
	if snap.AvgResponseTimeMs != 250 {
		t.Fatalf("expected first sample to initialize avg, got %v", snap.AvgResponseTimeMs)
	}

	m.UpdateSuccess(true)
	snap = m.Snapshot()
	if snap.SuccessRate != 1.0 {
		t.Fatalf("expected first success sample to initialize success_rate to 1.0, got %v", snap.SuccessRate)
	}
}

func TestPerformanceMetrics_EMAConverges(t *testing.T) {
	m := NewPerformanceMetrics(0, 0, 0, 0, 0)
	m.UpdateResponseTime(100)
	for i := 0; i < 200; i++ {
		m.UpdateResponseTime(500)
	}
	snap := m.Snapshot()
	if math.Abs(snap.AvgResponseTimeMs-500) > 1 {
		t.Fatalf("expected EMA to converge near 500, got %v", snap.AvgResponseTimeMs)
	}
}

func TestPerformanceMetrics_SuccessRateClampedAndErrorRateAdditive(t *testing.T) {
	m := NewPerformanceMetrics(0, 0, 0, 0, 0)
	for i := 0; i < 50; i++ {
		m.UpdateSuccess(true)
	}
	snap := m.Snapshot()
	if snap.SuccessRate > 1.0 || snap.SuccessRate < 0 {
		t.Fatalf("success_rate out of [0,1]: %v", snap.SuccessRate)
	}

	m2 := NewPerformanceMetrics(0, 0, 0, 0, 0)
	m2.UpdateSuccess(false)
	m2.UpdateSuccess(false)
	snap2 := m2.Snapshot()
	if snap2.ErrorRate <= 0 || snap2.ErrorRate > 1 {
		t.Fatalf("expected error_rate in (0,1] after two failures, got %v", snap2.ErrorRate)
	}

	// Decays toward 0 with successes, never goes negative.
	for i := 0; i < 100; i++ {
		m2.UpdateSuccess(true)
	}
	snap3 := m2.Snapshot()
	if snap3.ErrorRate < 0 {
		t.Fatalf("error_rate must not go negative, got %v", snap3.ErrorRate)
	}
}

func TestPerformanceMetrics_CostScoreCeiling(t *testing.T) {
	cheap := NewPerformanceMetrics(0, 0, 0.001, 0.001, 0)
	expensive := NewPerformanceMetrics(0, 0, 15, 15, 0)
	freeForm := NewPerformanceMetrics(0, 0, 30, 30, 0)

	if cheap.Snapshot().CostScore <= expensive.Snapshot().CostScore {
		t.Fatalf("cheaper provider must have a higher cost_score")
	}
	if freeForm.Snapshot().CostScore < 0 {
		t.Fatalf("cost_score must floor at 0 above the ceiling, got %v", freeForm.Snapshot().CostScore)
	}
}

func TestPerformanceMetrics_PerformanceScorePureFunction(t *testing.T) {
	m := NewPerformanceMetrics(0, 0, 0, 0, 0)
	m.UpdateResponseTime(1000)
	m.UpdateSuccess(true)

	snap1 := m.Snapshot()
	snap2 := m.Snapshot()
	if snap1.PerformanceScore != snap2.PerformanceScore {
		t.Fatalf("performance_score must be a pure function of state, got %v then %v", snap1.PerformanceScore, snap2.PerformanceScore)
	}
}

// Property test for spec §8: "For any two providers, cost_score monotonically
// decreases as total cost per token increases."
func TestProperty_CostScoreMonotonicInTotalCost(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("higher total cost per token never yields a higher cost_score", prop.ForAll(
		func(costA, delta float64) bool {
			higherCost := costA + delta
			lowerMetrics := NewPerformanceMetrics(0, 0, costA/2, costA/2, 0)
			higherMetrics := NewPerformanceMetrics(0, 0, higherCost/2, higherCost/2, 0)
			return lowerMetrics.Snapshot().CostScore >= higherMetrics.Snapshot().CostScore
		},
		gen.Float64Range(0, 20),
		gen.Float64Range(0, 20),
	))

	properties.TestingRun(t)
}
