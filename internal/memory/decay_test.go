package memory

import (
	"math"
	"testing"
)

func TestDecayConfidence_HalfLifePoint(t *testing.T) {
	// At exactly one half-life, decayed = floor + (initial-floor)*0.5.
	got := DecayConfidence(1.0, 48, 48)
	want := decayFloor + (1.0-decayFloor)*0.5
	if math.Abs(got-want) > 1e-10 {
		t.Fatalf("decay at half-life = %v, want %v", got, want)
	}
}

func TestEffectiveConfidence_StandardHalfLife(t *testing.T) {
	// Standard tier, episodic kind: one half-life of 48h halves the
	// distance to the floor.
	got := EffectiveConfidence(KindEpisodic, TierStandard, 1.0, 48)
	want := decayFloor + (1.0-decayFloor)*0.5
	if math.Abs(got-want) > 1e-10 {
		t.Fatalf("effective = %v, want %v", got, want)
	}
}

func TestEffectiveConfidence_Bounds(t *testing.T) {
	kinds := []RecordKind{KindSemantic, KindEpisodic, KindProcedural}
	tiers := []Tier{TierPinned, TierStandard, TierEphemeral}
	elapsed := []float64{0, 1, 24, 720, 1e6}
	initials := []float64{0.1, 0.5, 1.0}

	for _, k := range kinds {
		for _, tier := range tiers {
			for _, e := range elapsed {
				for _, c := range initials {
					got := EffectiveConfidence(k, tier, c, e)
					if got < decayFloor-1e-12 && got < c {
						t.Fatalf("%s/%s elapsed=%v initial=%v: %v below floor", k, tier, e, c, got)
					}
					if got > c+1e-12 {
						t.Fatalf("%s/%s elapsed=%v initial=%v: %v above initial", k, tier, e, c, got)
					}
				}
			}
		}
	}
}

func TestEffectiveConfidence_PinnedNeverDecays(t *testing.T) {
	for _, elapsed := range []float64{0, 1, 1000, 1e9} {
		got := EffectiveConfidence(KindEpisodic, TierPinned, 0.8, elapsed)
		if got != 0.8 {
			t.Fatalf("pinned at elapsed=%v: %v, want 0.8", elapsed, got)
		}
	}
}

func TestDecayConfidence_EdgeCases(t *testing.T) {
	if got := DecayConfidence(0.9, -5, 48); got != 0.9 {
		t.Fatalf("negative elapsed = %v, want initial", got)
	}
	if got := DecayConfidence(0.9, 0, 48); got != 0.9 {
		t.Fatalf("zero elapsed = %v, want initial", got)
	}
	if got := DecayConfidence(0.9, 10, 0); got != decayFloor {
		t.Fatalf("zero half-life = %v, want floor", got)
	}
	if got := DecayConfidence(0.9, 10, math.Inf(1)); got != 0.9 {
		t.Fatalf("infinite half-life = %v, want initial", got)
	}
	// Large elapsed converges to the floor.
	if got := DecayConfidence(1.0, 1e9, 48); math.Abs(got-decayFloor) > 1e-9 {
		t.Fatalf("large elapsed = %v, want ~%v", got, decayFloor)
	}
}

func TestRecencyScore(t *testing.T) {
	if got := RecencyScore(0, 48); got != 1.0 {
		t.Fatalf("zero elapsed = %v, want 1", got)
	}
	if got := RecencyScore(48, 48); math.Abs(got-0.5) > 1e-10 {
		t.Fatalf("one half-life = %v, want 0.5", got)
	}
	if got := RecencyScore(10, 0); got != 0 {
		t.Fatalf("zero half-life = %v, want 0", got)
	}
	if got := RecencyScore(10, math.Inf(1)); got != 1.0 {
		t.Fatalf("infinite half-life = %v, want 1", got)
	}
}

func TestCombinedRelevance(t *testing.T) {
	if got := CombinedRelevance(0.8, 0.4, 0.5); math.Abs(got-0.6) > 1e-10 {
		t.Fatalf("combined = %v, want 0.6", got)
	}
	// Clamping of wild inputs.
	if got := CombinedRelevance(5, -1, 0.5); got < 0 || got > 1 {
		t.Fatalf("combined not clamped: %v", got)
	}
	if got := CombinedRelevance(1, 0, 1); got != 1 {
		t.Fatalf("alpha=1 ignores recency: %v", got)
	}
	if got := CombinedRelevance(1, 0, 0); got != 0 {
		t.Fatalf("alpha=0 ignores decayed: %v", got)
	}
}

func TestTierMultiplier(t *testing.T) {
	if !math.IsInf(TierMultiplier(TierPinned), 1) {
		t.Fatal("pinned multiplier should be +Inf")
	}
	if TierMultiplier(TierStandard) != 1.0 {
		t.Fatal("standard multiplier should be 1.0")
	}
	if TierMultiplier(TierEphemeral) != 0.25 {
		t.Fatal("ephemeral multiplier should be 0.25")
	}
}

func TestDefaultHalfLife(t *testing.T) {
	cases := []struct {
		kind RecordKind
		want float64
	}{
		{KindSemantic, 720},
		{KindEpisodic, 48},
		{KindProcedural, 168},
	}
	for _, tc := range cases {
		if got := DefaultHalfLife(tc.kind); got != tc.want {
			t.Fatalf("%s half-life = %v, want %v", tc.kind, got, tc.want)
		}
	}
}
