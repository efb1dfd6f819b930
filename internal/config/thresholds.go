package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/theronlindsay/AutomotiveIoT/internal/units"
)

// DefaultConfigPath is the path to the canonical threshold defaults file.
const DefaultConfigPath = "config/thresholds.defaults.json"

// Thresholds represents the tuning parameters of the derivation engine and
// the display settings of the API. Fields are pointers so a partial JSON
// file only overrides what it specifies; the Get* accessors supply defaults.
type Thresholds struct {
	// Engine params
	HarshBrakeThresholdG     *float64 `json:"harsh_brake_threshold_g,omitempty"`
	FollowDistanceThresholdM *float64 `json:"follow_distance_threshold_m,omitempty"`
	StalenessWindowSeconds   *float64 `json:"staleness_window_seconds,omitempty"`

	// Speeding check. Zero disables the snapshot speeding flag.
	SpeedLimitMPH *float64 `json:"speed_limit_mph,omitempty"`

	// Display params
	Units    *string `json:"units,omitempty"`
	Timezone *string `json:"timezone,omitempty"`
}

// EmptyThresholds returns a Thresholds with all fields set to nil.
// Use LoadThresholds to load actual values from a config file.
func EmptyThresholds() *Thresholds {
	return &Thresholds{}
}

// LoadThresholds loads a Thresholds config from a JSON file.
// The file is validated to ensure it has a .json extension and is under the
// max file size. Fields omitted from the JSON file retain their default
// values, so partial configs are safe.
func LoadThresholds(path string) (*Thresholds, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyThresholds()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *Thresholds) Validate() error {
	if c.HarshBrakeThresholdG != nil && *c.HarshBrakeThresholdG <= 0 {
		return fmt.Errorf("harsh_brake_threshold_g must be positive, got %f", *c.HarshBrakeThresholdG)
	}
	if c.FollowDistanceThresholdM != nil && *c.FollowDistanceThresholdM <= 0 {
		return fmt.Errorf("follow_distance_threshold_m must be positive, got %f", *c.FollowDistanceThresholdM)
	}
	if c.StalenessWindowSeconds != nil && *c.StalenessWindowSeconds <= 0 {
		return fmt.Errorf("staleness_window_seconds must be positive, got %f", *c.StalenessWindowSeconds)
	}
	if c.SpeedLimitMPH != nil && *c.SpeedLimitMPH < 0 {
		return fmt.Errorf("speed_limit_mph must be non-negative, got %f", *c.SpeedLimitMPH)
	}
	if c.Units != nil && !units.IsValid(*c.Units) {
		return fmt.Errorf("units must be one of %s, got %q", units.GetValidUnitsString(), *c.Units)
	}
	if c.Timezone != nil && *c.Timezone != "" {
		if _, err := time.LoadLocation(*c.Timezone); err != nil {
			return fmt.Errorf("invalid timezone %q: %w", *c.Timezone, err)
		}
	}
	return nil
}

// GetHarshBrakeThresholdG returns the minimum deceleration, in g, that
// counts as a harsh braking event.
func (c *Thresholds) GetHarshBrakeThresholdG() float64 {
	if c.HarshBrakeThresholdG == nil {
		return 0.3 // default: ≈2.94 m/s²
	}
	return *c.HarshBrakeThresholdG
}

// GetFollowDistanceThresholdM returns the minimum safe following distance
// in meters. Readings below it produce a violation record.
func (c *Thresholds) GetFollowDistanceThresholdM() float64 {
	if c.FollowDistanceThresholdM == nil {
		return 9.0 // default
	}
	return *c.FollowDistanceThresholdM
}

// GetStalenessWindow returns the maximum elapsed time between two readings
// for them to be meaningfully compared. Beyond it the new reading becomes a
// fresh baseline and no derivative is computed.
func (c *Thresholds) GetStalenessWindow() time.Duration {
	if c.StalenessWindowSeconds == nil {
		return 5 * time.Second // default
	}
	return time.Duration(*c.StalenessWindowSeconds * float64(time.Second))
}

// GetSpeedLimitMPH returns the configured speed limit in mph, or 0 when the
// speeding check is disabled.
func (c *Thresholds) GetSpeedLimitMPH() float64 {
	if c.SpeedLimitMPH == nil {
		return 0 // default: speeding check disabled
	}
	return *c.SpeedLimitMPH
}

// GetUnits returns the display units for API responses.
func (c *Thresholds) GetUnits() string {
	if c.Units == nil || !units.IsValid(*c.Units) {
		return units.MPH // default
	}
	return *c.Units
}

// GetLocation returns the time.Location used to derive the local hour of
// day for light classification. Falls back to the process-local timezone.
func (c *Thresholds) GetLocation() *time.Location {
	if c.Timezone == nil || *c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(*c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}
