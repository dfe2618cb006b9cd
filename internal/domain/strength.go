package domain

// StrengthBand buckets a memory's current decay strength into the coarse
// health states reported by Decay and Health.
type StrengthBand string

const (
	BandStrong    StrengthBand = "strong"
	BandHealthy   StrengthBand = "healthy"
	BandWeakening StrengthBand = "weakening"
	BandCritical  StrengthBand = "critical"
	BandDead      StrengthBand = "dead"
)

// Band thresholds, applied top-down. A strength equal to a boundary lands in
// the higher band.
const (
	StrongThreshold    = 0.7
	HealthyThreshold   = 0.3
	WeakeningThreshold = 0.15
	CriticalThreshold  = 0.05
)

// BandForStrength maps a strength in [0,1] to its band.
func BandForStrength(strength float64) StrengthBand {
	switch {
	case strength >= StrongThreshold:
		return BandStrong
	case strength >= HealthyThreshold:
		return BandHealthy
	case strength >= WeakeningThreshold:
		return BandWeakening
	case strength >= CriticalThreshold:
		return BandCritical
	default:
		return BandDead
	}
}
