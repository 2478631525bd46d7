package service

import (
	"math"
	"time"

	"github.com/Harshitk-cp/scholae/internal/domain"
)

const (
	// DefaultBaseStability is S for a record that has never been re-read.
	DefaultBaseStability = 30 * 24 * time.Hour

	DefaultStableThreshold = 0.7
	DefaultPruneThreshold  = 0.2
)

// StrengthModel implements forgetting-curve retention:
//
//	S = base × (1 + ln(1 + access_count))
//	R = exp(-elapsed / S)
//
// Strength is R scaled by the record's base strength.
type StrengthModel struct {
	BaseStability time.Duration
}

func DefaultStrengthModel() StrengthModel {
	return StrengthModel{BaseStability: DefaultBaseStability}
}

// Stability grows monotonically with the number of accesses.
func (m StrengthModel) Stability(accessCount int) time.Duration {
	base := m.BaseStability
	if base <= 0 {
		base = DefaultBaseStability
	}
	if accessCount < 0 {
		accessCount = 0
	}
	return time.Duration(float64(base) * (1 + math.Log1p(float64(accessCount))))
}

// Retention returns exp(-elapsed/S). Negative elapsed counts as zero.
func (m StrengthModel) Retention(elapsed time.Duration, accessCount int) float64 {
	if elapsed < 0 {
		elapsed = 0
	}
	return math.Exp(-float64(elapsed) / float64(m.Stability(accessCount)))
}

// Strength computes the read-time strength of rec at now.
func (m StrengthModel) Strength(rec domain.MemoryRecord, now time.Time) float64 {
	return baseStrength(rec) * m.Retention(now.Sub(rec.LastAccessedAt), rec.AccessCount)
}

// ComputeStrength uses the default model.
func ComputeStrength(rec domain.MemoryRecord, now time.Time) float64 {
	return DefaultStrengthModel().Strength(rec, now)
}

// baseStrength treats an unset (zero) base strength as full strength.
func baseStrength(rec domain.MemoryRecord) float64 {
	b := rec.BaseStrength
	switch {
	case b <= 0:
		return 1
	case b > 1:
		return 1
	}
	return b
}
