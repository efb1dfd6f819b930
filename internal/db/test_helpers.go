package db

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/theronlindsay/AutomotiveIoT/internal/light"
	"github.com/theronlindsay/AutomotiveIoT/internal/telemetry"
)

// Helper functions for creating pointer values
func fPtr(v float64) *float64 { return &v }

// newTestDB opens a migrated database in a per-test temp dir.
func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewDB failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// testSnapshot builds a daytime snapshot at ts with the given speed.
func testSnapshot(ts time.Time, speed *float64) telemetry.SpeedSnapshot {
	return telemetry.SpeedSnapshot{
		ID:             uuid.NewString(),
		Timestamp:      ts,
		SpeedMPH:       speed,
		AccelMagnitude: 1.0,
		LightCondition: light.Day,
	}
}

func testBrakingEvent(ts time.Time) telemetry.HarshBrakingEvent {
	return telemetry.HarshBrakingEvent{
		ID:               uuid.NewString(),
		Timestamp:        ts,
		DecelerationMPS2: 5.4,
		SpeedBeforeMPH:   fPtr(42),
		SpeedAfterMPH:    fPtr(30),
		Severity:         telemetry.SeverityMedium,
		LightCondition:   light.Dusk,
	}
}

func testFollowViolation(ts time.Time) telemetry.FollowDistanceViolation {
	return telemetry.FollowDistanceViolation{
		ID:                uuid.NewString(),
		Timestamp:         ts,
		DistanceM:         4.2,
		SpeedMPH:          fPtr(25),
		RequiredDistanceM: 9.0,
		LightCondition:    light.Night,
	}
}
