package service

import (
	"math"
	"testing"
	"time"

	"github.com/Harshitk-cp/scholae/internal/domain"
)

func floatEq(a, b float64) bool {
	return math.Abs(a-b) < 0.0001
}

func TestStrengthModel_Stability(t *testing.T) {
	m := DefaultStrengthModel()

	if got := m.Stability(0); got != DefaultBaseStability {
		t.Errorf("Stability(0) = %v, want %v", got, DefaultBaseStability)
	}
	prev := m.Stability(0)
	for _, n := range []int{1, 2, 5, 20, 100} {
		s := m.Stability(n)
		if s <= prev {
			t.Errorf("Stability(%d) = %v, not greater than %v", n, s, prev)
		}
		prev = s
	}
	if m.Stability(-3) != m.Stability(0) {
		t.Error("negative access count should be treated as zero")
	}

	zero := StrengthModel{}
	if zero.Stability(0) != DefaultBaseStability {
		t.Error("zero-value model should fall back to the default base stability")
	}
}

func TestStrengthModel_Retention(t *testing.T) {
	m := DefaultStrengthModel()

	tests := []struct {
		name    string
		elapsed time.Duration
		want    float64
	}{
		{"no time passed", 0, 1},
		{"negative elapsed", -time.Hour, 1},
		{"one stability period", DefaultBaseStability, math.Exp(-1)},
		{"two stability periods", 2 * DefaultBaseStability, math.Exp(-2)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := m.Retention(tt.elapsed, 0); !floatEq(got, tt.want) {
				t.Errorf("Retention(%v) = %f, want %f", tt.elapsed, got, tt.want)
			}
		})
	}
}

func TestStrength_DecaysMonotonically(t *testing.T) {
	m := DefaultStrengthModel()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rec := domain.MemoryRecord{LastAccessedAt: start, BaseStrength: 1}

	prev := m.Strength(rec, start)
	if !floatEq(prev, 1) {
		t.Fatalf("strength at access time = %f, want 1", prev)
	}
	for day := 1; day <= 120; day++ {
		s := m.Strength(rec, start.Add(time.Duration(day)*24*time.Hour))
		if s > prev {
			t.Fatalf("strength rose on day %d: %f > %f", day, s, prev)
		}
		if s < 0 || s > 1 {
			t.Fatalf("strength %f outside [0,1] on day %d", s, day)
		}
		prev = s
	}
}

func TestStrength_AccessSlowsDecay(t *testing.T) {
	m := DefaultStrengthModel()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	later := start.Add(20 * 24 * time.Hour)

	fresh := domain.MemoryRecord{LastAccessedAt: start, BaseStrength: 1}
	rehearsed := domain.MemoryRecord{LastAccessedAt: start, BaseStrength: 1, AccessCount: 8}

	if m.Strength(rehearsed, later) <= m.Strength(fresh, later) {
		t.Errorf("rehearsed record should retain more strength: %f <= %f",
			m.Strength(rehearsed, later), m.Strength(fresh, later))
	}
}

func TestStrength_BaseStrengthScales(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		base float64
		want float64
	}{
		{0, 1},
		{0.4, 0.4},
		{1, 1},
		{3, 1},
	}
	for _, tt := range tests {
		rec := domain.MemoryRecord{LastAccessedAt: now, BaseStrength: tt.base}
		if got := ComputeStrength(rec, now); !floatEq(got, tt.want) {
			t.Errorf("base %v: strength = %f, want %f", tt.base, got, tt.want)
		}
	}
}
