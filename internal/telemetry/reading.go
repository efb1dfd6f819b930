// Package telemetry implements the sensor-event derivation pipeline: it
// turns raw, irregularly-timed Arduino readings into speed snapshots and
// classified safety events, keeping only the previous accepted reading as
// state.
package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Typed ingestion errors. The gateway maps both to a rejected request.
var (
	// ErrMissingData indicates a required raw field is absent.
	ErrMissingData = errors.New("missing data")

	// ErrInvalidReading indicates a present field is outside the physically
	// possible range.
	ErrInvalidReading = errors.New("invalid reading")
)

// RawReading is the wire format produced by the embedded client: a flat
// JSON object. Required fields are pointers so absence is distinguishable
// from zero and validated once at the boundary.
type RawReading struct {
	DistanceCM *float64 `json:"distance_cm"`
	LightLevel *int     `json:"light_level"`
	AccX       *float64 `json:"accX"`
	AccY       *float64 `json:"accY"`
	AccZ       *float64 `json:"accZ"`

	// SpeedMPH is optional; the sensor may not have a GPS fix.
	SpeedMPH *float64 `json:"speed_mph,omitempty"`
}

// ParseRawReading decodes a raw JSON payload into a RawReading without
// validating it. Use Validate before handing the reading to the engine.
func ParseRawReading(data []byte) (*RawReading, error) {
	var r RawReading
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidReading, err)
	}
	return &r, nil
}

// Validate checks required fields are present and present fields are in
// physically possible range. It reports the first problem found.
func (r *RawReading) Validate() error {
	if r.DistanceCM == nil {
		return fmt.Errorf("%w: distance_cm is required", ErrMissingData)
	}
	if r.LightLevel == nil {
		return fmt.Errorf("%w: light_level is required", ErrMissingData)
	}
	if r.AccX == nil || r.AccY == nil || r.AccZ == nil {
		return fmt.Errorf("%w: accX, accY and accZ are required", ErrMissingData)
	}
	if *r.DistanceCM < 0 {
		return fmt.Errorf("%w: distance_cm %f is negative", ErrInvalidReading, *r.DistanceCM)
	}
	if *r.LightLevel < 0 || *r.LightLevel > 100 {
		return fmt.Errorf("%w: light_level %d outside 0-100", ErrInvalidReading, *r.LightLevel)
	}
	if r.SpeedMPH != nil && *r.SpeedMPH < 0 {
		return fmt.Errorf("%w: speed_mph %f is negative", ErrInvalidReading, *r.SpeedMPH)
	}
	return nil
}
