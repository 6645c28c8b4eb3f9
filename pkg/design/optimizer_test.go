package design

import "testing"

func TestPowerGrowsWithSampleSize(t *testing.T) {
	small := Power(0.4, 20, 0.05)
	large := Power(0.4, 200, 0.05)
	if large <= small {
		t.Fatalf("power should grow with n: %v vs %v", small, large)
	}
	if small < 0 || large > 1 {
		t.Fatalf("power outside [0,1]: %v, %v", small, large)
	}
}

func TestPowerMatchesKnownValue(t *testing.T) {
	// es=0.5, n=64 per group is the textbook ~80% power design
	power := Power(0.5, 64, 0.05)
	if power < 0.75 || power > 0.85 {
		t.Fatalf("expected ~0.8 power, got %v", power)
	}
}

func TestOptimizeReturnsSortedDiverseCandidates(t *testing.T) {
	candidates, err := Optimize(200, Options{PoolSize: 12, PickK: 3, Seed: 5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(candidates) == 0 || len(candidates) > 3 {
		t.Fatalf("expected between 1 and 3 candidates, got %d", len(candidates))
	}
	for i := 1; i < len(candidates); i++ {
		if candidates[i].Score > candidates[i-1].Score {
			t.Fatalf("candidates not sorted by score: %v", candidates)
		}
	}
	for _, c := range candidates {
		if c.SampleSize < 20 {
			t.Fatalf("sample size below floor: %v", c)
		}
		if c.Score < 0 || c.Score > 1 {
			t.Fatalf("score outside [0,1]: %v", c)
		}
	}
}

func TestOptimizeIsDeterministicPerSeed(t *testing.T) {
	first, err := Optimize(200, Options{Seed: 9})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := Optimize(200, Options{Seed: 9})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("candidate counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("candidate %d differs: %+v vs %+v", i, first[i], second[i])
		}
	}
}
