package services

import (
	"math"
)

// Soil moisture calibration: ln(pct) = slope*adc + intercept, least-squares
// fit over nine measured points.
const (
	SoilCalLogSlope     = -0.00258653
	SoilCalLogIntercept = 4.91733458

	// Measured range. Codes outside it are extrapolated.
	SoilCalADCMin = 390.0 // wettest point, 55.99% measured, 49.83% on the curve
	SoilCalADCMax = 822.0 // driest point, 18.31% measured, 16.30% on the curve
)

// SoilADCToPct converts a raw soil ADC code to moisture percent, clamped to
// [0, 100]. It is monotonically non-increasing in adc. NaN maps to 0.
func SoilADCToPct(adc float64) float64 {
	if math.IsNaN(adc) {
		return 0
	}
	pct := math.Exp(SoilCalLogSlope*adc + SoilCalLogIntercept)
	return math.Max(0, math.Min(100, pct))
}

// SoilADCInRange reports whether adc lies inside the measured calibration range.
func SoilADCInRange(adc float64) bool {
	return adc >= SoilCalADCMin && adc <= SoilCalADCMax
}

func roundTenth(v float64) float64 {
	return math.Round(v*10) / 10
}
