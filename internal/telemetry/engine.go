package telemetry

import (
	"time"

	"github.com/google/uuid"

	"github.com/theronlindsay/AutomotiveIoT/internal/config"
	"github.com/theronlindsay/AutomotiveIoT/internal/light"
	"github.com/theronlindsay/AutomotiveIoT/internal/timeutil"
	"github.com/theronlindsay/AutomotiveIoT/internal/units"
)

// Severity is the ordinal classification of a harsh-braking event.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Severity band thresholds in g. The low gate is configurable; the medium
// and high bands are fixed multiples of standard gravity.
const (
	severityMediumG = 0.5
	severityHighG   = 0.7
)

// Event kinds, matching the endpoint names the embedded client posts to.
const (
	EventKindHarshBraking   = "harsh_braking"
	EventKindFollowDistance = "follow_distance"
)

// SpeedSnapshot is the per-reading record. Exactly one is produced per
// accepted reading whether or not any event fired.
type SpeedSnapshot struct {
	ID             string          `json:"id"`
	Timestamp      time.Time       `json:"timestamp"`
	SpeedMPH       *float64        `json:"speed_mph"`
	AccelMagnitude float64         `json:"accel_magnitude"`
	LightCondition light.Condition `json:"light_condition"`
	SpeedLimitMPH  *float64        `json:"speed_limit,omitempty"`
	IsSpeeding     bool            `json:"is_speeding"`
}

// HarshBrakingEvent is produced when the authoritative deceleration exceeds
// the configured threshold.
type HarshBrakingEvent struct {
	ID               string          `json:"id"`
	Timestamp        time.Time       `json:"timestamp"`
	DecelerationMPS2 float64         `json:"deceleration_mps2"`
	SpeedBeforeMPH   *float64        `json:"speed_before"`
	SpeedAfterMPH    *float64        `json:"speed_after"`
	Severity         Severity        `json:"severity"`
	LightCondition   light.Condition `json:"light_condition"`
}

// FollowDistanceViolation is produced when the measured distance is below
// the safe-distance threshold.
type FollowDistanceViolation struct {
	ID                string          `json:"id"`
	Timestamp         time.Time       `json:"timestamp"`
	DistanceM         float64         `json:"distance"`
	SpeedMPH          *float64        `json:"current_speed"`
	RequiredDistanceM float64         `json:"required_distance"`
	DurationSeconds   *float64        `json:"duration,omitempty"`
	LightCondition    light.Condition `json:"light_condition"`
}

// DerivedEvent wraps one classified event with its kind tag for persistence
// and for the gateway response.
type DerivedEvent struct {
	Kind           string                   `json:"kind"`
	HarshBraking   *HarshBrakingEvent       `json:"harsh_braking,omitempty"`
	FollowDistance *FollowDistanceViolation `json:"follow_distance,omitempty"`
}

// Derivation is one derivation unit: the snapshot plus the events derived
// from the same reading. The caller persists it as a whole.
type Derivation struct {
	Snapshot SpeedSnapshot  `json:"snapshot"`
	Events   []DerivedEvent `json:"events"`
}

// Engine derives safety events from raw readings. It performs no I/O and
// runs in bounded time; persistence is the caller's job.
type Engine struct {
	state *MotionState
	cfg   *config.Thresholds
	clock timeutil.Clock
}

// NewEngine creates an Engine around the given motion state, thresholds and
// clock. The clock is injected so light classification and staleness
// arithmetic are deterministic in tests.
func NewEngine(state *MotionState, cfg *config.Thresholds, clock timeutil.Clock) *Engine {
	return &Engine{
		state: state,
		cfg:   cfg,
		clock: clock,
	}
}

// Ingest validates and converts one raw reading, derives zero or more
// classified events plus exactly one snapshot, and advances the motion
// baseline. A rejected reading mutates no state and produces no records.
func (e *Engine) Ingest(r *RawReading) (*Derivation, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}

	distanceM, err := units.MetersFromCentimeters(*r.DistanceCM)
	if err != nil {
		// Validate already rejects negative distances; this is unreachable
		// but kept as a second line of the same typed error.
		return nil, ErrInvalidReading
	}

	now := e.clock.Now().In(e.cfg.GetLocation())
	condition := light.Classify(*r.LightLevel, now.Hour())
	magnitude := units.GForceMagnitude(*r.AccX, *r.AccY, *r.AccZ)

	violating := distanceM < e.cfg.GetFollowDistanceThresholdM()

	// Single atomic exchange against the baseline. Everything derived below
	// reads prev, never the live state.
	prev, hasPrev := e.state.Observe(Sample{
		SpeedMPH:  r.SpeedMPH,
		AccX:      *r.AccX,
		AccY:      *r.AccY,
		AccZ:      *r.AccZ,
		DistanceM: distanceM,
		Violating: violating,
		Timestamp: now,
	})
	fresh := !hasPrev || now.Sub(prev.Timestamp) > e.cfg.GetStalenessWindow()

	var events []DerivedEvent

	if violating {
		v := &FollowDistanceViolation{
			ID:                uuid.NewString(),
			Timestamp:         now,
			DistanceM:         distanceM,
			SpeedMPH:          r.SpeedMPH,
			RequiredDistanceM: e.cfg.GetFollowDistanceThresholdM(),
			LightCondition:    condition,
		}
		if !fresh && prev.Violating {
			duration := now.Sub(prev.Timestamp).Seconds()
			v.DurationSeconds = &duration
		}
		events = append(events, DerivedEvent{Kind: EventKindFollowDistance, FollowDistance: v})
	}

	// Braking detection needs a usable baseline: a first reading or one
	// separated by more than the staleness window never produces an event,
	// regardless of accelerometer values.
	if !fresh {
		if ev := e.detectHarshBraking(r, prev, now, condition); ev != nil {
			events = append(events, DerivedEvent{Kind: EventKindHarshBraking, HarshBraking: ev})
		}
	}

	snapshot := SpeedSnapshot{
		ID:             uuid.NewString(),
		Timestamp:      now,
		SpeedMPH:       r.SpeedMPH,
		AccelMagnitude: magnitude,
		LightCondition: condition,
	}
	if limit := e.cfg.GetSpeedLimitMPH(); limit > 0 {
		snapshot.SpeedLimitMPH = &limit
		snapshot.IsSpeeding = r.SpeedMPH != nil && *r.SpeedMPH > limit
	}

	return &Derivation{Snapshot: snapshot, Events: events}, nil
}

// detectHarshBraking computes the two candidate decelerations in m/s² and
// takes the larger magnitude as authoritative: the GPS speed delta over
// elapsed time, and the negated longitudinal accelerometer axis. Both are
// converted to m/s² before comparison so differently scaled signals are
// never mixed.
func (e *Engine) detectHarshBraking(r *RawReading, prev Sample, now time.Time, condition light.Condition) *HarshBrakingEvent {
	elapsed := now.Sub(prev.Timestamp).Seconds()
	if elapsed <= 0 {
		return nil
	}

	var speedDecel float64
	if r.SpeedMPH != nil && prev.SpeedMPH != nil {
		speedDecel = units.MPHToMPS(*prev.SpeedMPH-*r.SpeedMPH) / elapsed
	}

	// The accelerometer X axis is longitudinal, forward-positive, so braking
	// reads negative.
	accelDecel := units.GToMPS2(-*r.AccX)

	decel := speedDecel
	if accelDecel > decel {
		decel = accelDecel
	}

	if decel <= units.GToMPS2(e.cfg.GetHarshBrakeThresholdG()) {
		return nil
	}

	return &HarshBrakingEvent{
		ID:               uuid.NewString(),
		Timestamp:        now,
		DecelerationMPS2: decel,
		SpeedBeforeMPH:   prev.SpeedMPH,
		SpeedAfterMPH:    r.SpeedMPH,
		Severity:         classifySeverity(decel),
		LightCondition:   condition,
	}
}

// classifySeverity buckets a deceleration (m/s²) into low/medium/high.
// Severity saturates at high for arbitrarily large magnitudes.
func classifySeverity(decelMPS2 float64) Severity {
	switch {
	case decelMPS2 >= units.GToMPS2(severityHighG):
		return SeverityHigh
	case decelMPS2 >= units.GToMPS2(severityMediumG):
		return SeverityMedium
	default:
		return SeverityLow
	}
}
