package domain

import "testing"

func TestBandForStrength(t *testing.T) {
	tests := []struct {
		name     string
		strength float64
		want     StrengthBand
	}{
		{"strong - 1.0", 1.0, BandStrong},
		{"strong - 0.85", 0.85, BandStrong},
		{"strong boundary - 0.7", 0.7, BandStrong},
		{"healthy - 0.69", 0.69, BandHealthy},
		{"healthy - 0.5", 0.5, BandHealthy},
		{"healthy boundary - 0.3", 0.3, BandHealthy},
		{"weakening - 0.29", 0.29, BandWeakening},
		{"weakening boundary - 0.15", 0.15, BandWeakening},
		{"critical - 0.14", 0.14, BandCritical},
		{"critical boundary - 0.05", 0.05, BandCritical},
		{"dead - 0.04", 0.04, BandDead},
		{"dead - 0.0", 0.0, BandDead},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BandForStrength(tt.strength)
			if got != tt.want {
				t.Errorf("BandForStrength(%v) = %v, want %v", tt.strength, got, tt.want)
			}
		})
	}
}
