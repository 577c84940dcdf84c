package engine

import "math"

// Decay parameters.
//
//   - urgency = importance * exp(-rate * ageDays) + accessCount * accessBoost
//   - clamped to [0, ceiling]
//   - a full recompute from permanent attributes, so a missed or repeated
//     sweep converges to the same value
//   - importance never changes; only urgency decays
type DecayParams struct {
	Rate        float64
	AccessBoost float64
	Ceiling     float64
}

// Urgency computes the decayed, access-boosted urgency of a memory.
func (p DecayParams) Urgency(importance, ageDays float64, accessCount int) float64 {
	if ageDays < 0 {
		ageDays = 0
	}
	u := importance*math.Exp(-p.Rate*ageDays) + float64(accessCount)*p.AccessBoost
	return clamp(u, 0, p.Ceiling)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
