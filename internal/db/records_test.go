package db

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theronlindsay/AutomotiveIoT/internal/light"
	"github.com/theronlindsay/AutomotiveIoT/internal/telemetry"
)

func TestRecordDerivationSnapshotOnly(t *testing.T) {
	db := newTestDB(t)
	ts := time.Date(2024, 6, 1, 14, 30, 0, 0, time.UTC)

	d := &telemetry.Derivation{Snapshot: testSnapshot(ts, fPtr(35.5))}
	require.NoError(t, db.RecordDerivation(d))

	snapshots, err := db.Snapshots(RecordFilter{})
	require.NoError(t, err)
	require.Len(t, snapshots, 1)

	got := snapshots[0]
	assert.Equal(t, d.Snapshot.ID, got.ID)
	assert.True(t, got.Timestamp.Equal(ts))
	require.NotNil(t, got.SpeedMPH)
	assert.Equal(t, 35.5, *got.SpeedMPH)
	assert.Equal(t, light.Day, got.LightCondition)
	assert.False(t, got.IsSpeeding)
}

func TestRecordDerivationWithEvents(t *testing.T) {
	db := newTestDB(t)
	ts := time.Date(2024, 6, 1, 22, 0, 0, 0, time.UTC)

	braking := testBrakingEvent(ts)
	violation := testFollowViolation(ts)
	d := &telemetry.Derivation{
		Snapshot: testSnapshot(ts, fPtr(30)),
		Events: []telemetry.DerivedEvent{
			{Kind: telemetry.EventKindHarshBraking, HarshBraking: &braking},
			{Kind: telemetry.EventKindFollowDistance, FollowDistance: &violation},
		},
	}
	require.NoError(t, db.RecordDerivation(d))

	events, err := db.BrakingEvents(RecordFilter{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, braking.ID, events[0].ID)
	assert.Equal(t, telemetry.SeverityMedium, events[0].Severity)
	require.NotNil(t, events[0].SpeedBeforeMPH)
	assert.Equal(t, 42.0, *events[0].SpeedBeforeMPH)

	violations, err := db.FollowViolations(RecordFilter{})
	require.NoError(t, err)
	require.Len(t, violations, 1)
	assert.Equal(t, violation.ID, violations[0].ID)
	assert.Equal(t, 9.0, violations[0].RequiredDistanceM)
	assert.Nil(t, violations[0].DurationSeconds)
}

// Timestamps are stored at millisecond precision, so a millisecond-aligned
// event must come back exactly as written.
func TestBrakingEventRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ts := time.Date(2024, 6, 1, 17, 45, 12, 250*int(time.Millisecond), time.UTC)

	braking := testBrakingEvent(ts)
	d := &telemetry.Derivation{
		Snapshot: testSnapshot(ts, fPtr(30)),
		Events: []telemetry.DerivedEvent{
			{Kind: telemetry.EventKindHarshBraking, HarshBraking: &braking},
		},
	}
	require.NoError(t, db.RecordDerivation(d))

	events, err := db.BrakingEvents(RecordFilter{})
	require.NoError(t, err)
	require.Len(t, events, 1)
	if diff := cmp.Diff(braking, events[0]); diff != "" {
		t.Errorf("braking event round trip mismatch (-want +got):\n%s", diff)
	}
}

// A derivation with an unknown event kind must roll back entirely: no
// snapshot row without its event rows.
func TestRecordDerivationIsAtomic(t *testing.T) {
	db := newTestDB(t)
	ts := time.Now()

	d := &telemetry.Derivation{
		Snapshot: testSnapshot(ts, nil),
		Events:   []telemetry.DerivedEvent{{Kind: "bogus"}},
	}
	require.Error(t, db.RecordDerivation(d))

	snapshots, err := db.Snapshots(RecordFilter{})
	require.NoError(t, err)
	assert.Empty(t, snapshots)
}

func TestNullableFieldsRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ts := time.Now()

	duration := 2.5
	violation := testFollowViolation(ts)
	violation.SpeedMPH = nil
	violation.DurationSeconds = &duration

	d := &telemetry.Derivation{
		Snapshot: testSnapshot(ts, nil),
		Events: []telemetry.DerivedEvent{
			{Kind: telemetry.EventKindFollowDistance, FollowDistance: &violation},
		},
	}
	require.NoError(t, db.RecordDerivation(d))

	snapshots, err := db.Snapshots(RecordFilter{})
	require.NoError(t, err)
	require.Len(t, snapshots, 1)
	assert.Nil(t, snapshots[0].SpeedMPH)

	violations, err := db.FollowViolations(RecordFilter{})
	require.NoError(t, err)
	require.Len(t, violations, 1)
	assert.Nil(t, violations[0].SpeedMPH)
	require.NotNil(t, violations[0].DurationSeconds)
	assert.Equal(t, 2.5, *violations[0].DurationSeconds)
}

func TestSnapshotsRangeFilter(t *testing.T) {
	db := newTestDB(t)
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 10; i++ {
		d := &telemetry.Derivation{Snapshot: testSnapshot(base.Add(time.Duration(i)*time.Hour), fPtr(float64(20+i)))}
		require.NoError(t, db.RecordDerivation(d))
	}

	// Hours 3..6 inclusive.
	snapshots, err := db.Snapshots(RecordFilter{
		Since: base.Add(3 * time.Hour),
		Until: base.Add(6 * time.Hour),
	})
	require.NoError(t, err)
	require.Len(t, snapshots, 4)
	// Newest first.
	assert.Equal(t, 26.0, *snapshots[0].SpeedMPH)
	assert.Equal(t, 23.0, *snapshots[3].SpeedMPH)
}

func TestSnapshotsLimit(t *testing.T) {
	db := newTestDB(t)
	base := time.Now()

	for i := 0; i < 5; i++ {
		d := &telemetry.Derivation{Snapshot: testSnapshot(base.Add(time.Duration(i)*time.Second), nil)}
		require.NoError(t, db.RecordDerivation(d))
	}

	snapshots, err := db.Snapshots(RecordFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, snapshots, 2)
}

func TestPurgeSnapshotsBefore(t *testing.T) {
	db := newTestDB(t)
	now := time.Now()

	old := &telemetry.Derivation{Snapshot: testSnapshot(now.AddDate(0, 0, -60), nil)}
	recent := &telemetry.Derivation{Snapshot: testSnapshot(now, nil)}
	require.NoError(t, db.RecordDerivation(old))
	require.NoError(t, db.RecordDerivation(recent))

	deleted, err := db.PurgeSnapshotsBefore(now.AddDate(0, 0, -30))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	snapshots, err := db.Snapshots(RecordFilter{})
	require.NoError(t, err)
	require.Len(t, snapshots, 1)
	assert.Equal(t, recent.Snapshot.ID, snapshots[0].ID)
}

func TestMigrateVersionAndDown(t *testing.T) {
	db := newTestDB(t)

	version, dirty, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.False(t, dirty)
	assert.Equal(t, uint(1), version)

	require.NoError(t, db.MigrateDown())

	// Tables are gone after rolling back the init migration.
	_, err = db.Snapshots(RecordFilter{})
	assert.Error(t, err)
}
