// Package light classifies ambient lighting from a photoresistor reading.
package light

// Condition is a coarse categorical proxy for ambient lighting.
type Condition string

const (
	Day   Condition = "day"
	Night Condition = "night"
	Dawn  Condition = "dawn"
	Dusk  Condition = "dusk"
)

// Classification thresholds on the 0-100 light level scale. These must
// match the embedded client's calibration.
const (
	nightBelow = 20
	dayAtLeast = 60
)

// Classify maps a light level (0-100) and the local hour of day (0-23) to a
// Condition. A single light reading cannot tell dawn from dusk, so the local
// clock hour breaks the tie: before noon is dawn, noon onward is dusk.
//
// Known limitation: this heuristic assumes ordinary diurnal lighting. It
// gives wrong answers under polar midnight-sun conditions, and it trusts
// the caller's local hour for timezone/DST correctness.
func Classify(level, hour int) Condition {
	switch {
	case level < nightBelow:
		return Night
	case level >= dayAtLeast:
		return Day
	case hour < 12:
		return Dawn
	default:
		return Dusk
	}
}
