// Package units provides shared constants and conversions for sensor units.
//
// Canonical storage units are meters, m/s and m/s². Raw sensor payloads
// arrive in centimeters (ultrasonic distance), g (accelerometer axes) and
// mph (GPS speed); conversion happens once at the ingestion boundary.
package units

import (
	"fmt"
	"math"
)

// Unit constants for display conversion
const (
	MPS  = "mps"
	MPH  = "mph"
	KMPH = "kmph"
	KPH  = "kph"
)

// Gravity is standard gravity in m/s², used to convert accelerometer g
// readings and g-denominated thresholds to a common unit.
const Gravity = 9.80665

// ValidUnits contains all valid display unit values
var ValidUnits = []string{MPS, MPH, KMPH, KPH}

// IsValid checks if the given unit is in the list of valid units
func IsValid(unit string) bool {
	for _, validUnit := range ValidUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// GetValidUnitsString returns a comma-separated string of valid units for error messages
func GetValidUnitsString() string {
	return "mps, mph, kmph, kph"
}

// MetersFromCentimeters converts an ultrasonic distance reading to meters.
// Negative input indicates a sensor fault and is rejected.
func MetersFromCentimeters(cm float64) (float64, error) {
	if cm < 0 {
		return 0, fmt.Errorf("distance cannot be negative: %f cm", cm)
	}
	return cm / 100, nil
}

// GForceMagnitude returns the Euclidean norm of the three accelerometer
// axis readings. Always non-negative; out-of-range axis values are not
// clamped.
func GForceMagnitude(x, y, z float64) float64 {
	return math.Sqrt(x*x + y*y + z*z)
}

// MPHToMPS converts miles per hour to meters per second.
func MPHToMPS(mph float64) float64 {
	return mph * 0.44704
}

// MPSToMPH converts meters per second to miles per hour.
func MPSToMPH(mps float64) float64 {
	return mps * 2.2369362920544
}

// GToMPS2 converts an acceleration in g to m/s².
func GToMPS2(g float64) float64 {
	return g * Gravity
}

// ConvertSpeed converts a speed from meters per second to the target units
// Database stores speeds in m/s (meters per second)
func ConvertSpeed(speedMPS float64, targetUnits string) float64 {
	switch targetUnits {
	case MPS:
		return speedMPS
	case MPH:
		return speedMPS * 2.2369362920544
	case KMPH, KPH:
		return speedMPS * 3.6
	default:
		return speedMPS
	}
}
