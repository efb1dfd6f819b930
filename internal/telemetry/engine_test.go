package telemetry

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/theronlindsay/AutomotiveIoT/internal/config"
	"github.com/theronlindsay/AutomotiveIoT/internal/light"
	"github.com/theronlindsay/AutomotiveIoT/internal/timeutil"
)

// noonUTC keeps light classification out of the dawn/dusk bands unless a
// test wants them.
var noonUTC = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func testConfig(t *testing.T) *config.Thresholds {
	t.Helper()
	tz := "UTC"
	return &config.Thresholds{Timezone: &tz}
}

func newTestEngine(t *testing.T) (*Engine, *timeutil.MockClock) {
	t.Helper()
	clock := timeutil.NewMockClock(noonUTC)
	return NewEngine(NewMotionState(), testConfig(t), clock), clock
}

// reading builds a calm cruising reading: safe distance, daylight, sensor
// flat at 1g vertical.
func reading(distanceCM float64, speedMPH *float64) *RawReading {
	return &RawReading{
		DistanceCM: f(distanceCM),
		LightLevel: i(80),
		AccX:       f(0.0),
		AccY:       f(0.0),
		AccZ:       f(1.0),
		SpeedMPH:   speedMPH,
	}
}

func TestIngestAlwaysEmitsOneSnapshot(t *testing.T) {
	engine, _ := newTestEngine(t)

	d, err := engine.Ingest(reading(5000, f(30)))
	require.NoError(t, err)

	assert.NotEmpty(t, d.Snapshot.ID)
	assert.Equal(t, noonUTC, d.Snapshot.Timestamp)
	assert.Equal(t, 30.0, *d.Snapshot.SpeedMPH)
	assert.InDelta(t, 1.0, d.Snapshot.AccelMagnitude, 0.0001)
	assert.Equal(t, light.Day, d.Snapshot.LightCondition)
	assert.Empty(t, d.Events)
}

func TestIngestSnapshotWithoutSpeed(t *testing.T) {
	engine, _ := newTestEngine(t)

	d, err := engine.Ingest(reading(5000, nil))
	require.NoError(t, err)
	assert.Nil(t, d.Snapshot.SpeedMPH)
	assert.False(t, d.Snapshot.IsSpeeding)
}

func TestIngestRejectsMissingData(t *testing.T) {
	engine, _ := newTestEngine(t)

	r := reading(5000, f(30))
	r.LightLevel = nil

	d, err := engine.Ingest(r)
	assert.Nil(t, d)
	assert.ErrorIs(t, err, ErrMissingData)
}

func TestIngestRejectsNegativeDistance(t *testing.T) {
	engine, _ := newTestEngine(t)

	d, err := engine.Ingest(reading(-5, f(30)))
	assert.Nil(t, d)
	assert.ErrorIs(t, err, ErrInvalidReading)
}

// A rejected reading must leave the baseline untouched: a valid reading
// after an invalid one behaves as if the invalid call never happened.
func TestIngestRejectionDoesNotMutateState(t *testing.T) {
	engine, clock := newTestEngine(t)

	_, err := engine.Ingest(reading(5000, f(60)))
	require.NoError(t, err)

	clock.Advance(500 * time.Millisecond)
	bad := reading(5000, f(0))
	bad.AccX = nil
	_, err = engine.Ingest(bad)
	require.Error(t, err)

	// 60 -> 20 mph over 1s against the original baseline.
	clock.Advance(500 * time.Millisecond)
	d, err := engine.Ingest(reading(5000, f(20)))
	require.NoError(t, err)
	require.Len(t, d.Events, 1)

	ev := d.Events[0]
	require.Equal(t, EventKindHarshBraking, ev.Kind)
	assert.Equal(t, 60.0, *ev.HarshBraking.SpeedBeforeMPH)
	assert.Equal(t, 20.0, *ev.HarshBraking.SpeedAfterMPH)
}

func TestFollowDistanceViolation(t *testing.T) {
	engine, _ := newTestEngine(t)

	// 4.2m < 9m threshold
	d, err := engine.Ingest(reading(420, f(25)))
	require.NoError(t, err)
	require.Len(t, d.Events, 1)

	ev := d.Events[0]
	require.Equal(t, EventKindFollowDistance, ev.Kind)
	v := ev.FollowDistance
	assert.InDelta(t, 4.2, v.DistanceM, 0.0001)
	assert.Equal(t, 25.0, *v.SpeedMPH)
	assert.Equal(t, 9.0, v.RequiredDistanceM)
	assert.Nil(t, v.DurationSeconds)
}

func TestNoViolationAtThreshold(t *testing.T) {
	engine, _ := newTestEngine(t)

	// exactly 9m is not a violation
	d, err := engine.Ingest(reading(900, f(25)))
	require.NoError(t, err)
	assert.Empty(t, d.Events)
}

func TestSustainedViolationReportsDuration(t *testing.T) {
	engine, clock := newTestEngine(t)

	_, err := engine.Ingest(reading(400, f(25)))
	require.NoError(t, err)

	clock.Advance(2 * time.Second)
	d, err := engine.Ingest(reading(380, f(25)))
	require.NoError(t, err)
	require.Len(t, d.Events, 1)

	v := d.Events[0].FollowDistance
	require.NotNil(t, v.DurationSeconds)
	assert.InDelta(t, 2.0, *v.DurationSeconds, 0.0001)
}

func TestViolationAfterGapHasNoDuration(t *testing.T) {
	engine, clock := newTestEngine(t)

	_, err := engine.Ingest(reading(400, f(25)))
	require.NoError(t, err)

	clock.Advance(30 * time.Second)
	d, err := engine.Ingest(reading(380, f(25)))
	require.NoError(t, err)
	require.Len(t, d.Events, 1)
	assert.Nil(t, d.Events[0].FollowDistance.DurationSeconds)
}

func TestFirstReadingNeverTriggersBraking(t *testing.T) {
	engine, _ := newTestEngine(t)

	// Violent accelerometer values on the very first reading.
	r := reading(5000, f(0))
	r.AccX = f(-3.0)

	d, err := engine.Ingest(r)
	require.NoError(t, err)
	assert.Empty(t, d.Events)
}

func TestHarshBrakingFromSpeedDelta(t *testing.T) {
	engine, clock := newTestEngine(t)

	_, err := engine.Ingest(reading(5000, f(60)))
	require.NoError(t, err)

	clock.Advance(time.Second)
	d, err := engine.Ingest(reading(5000, f(20)))
	require.NoError(t, err)
	require.Len(t, d.Events, 1)

	ev := d.Events[0]
	require.Equal(t, EventKindHarshBraking, ev.Kind)
	b := ev.HarshBraking
	assert.Equal(t, 60.0, *b.SpeedBeforeMPH)
	assert.Equal(t, 20.0, *b.SpeedAfterMPH)
	// 40 mph over 1s = 17.88 m/s², well above the 0.7g high band.
	assert.InDelta(t, 17.88, b.DecelerationMPS2, 0.01)
	assert.Equal(t, SeverityHigh, b.Severity)
}

func TestHarshBrakingFromAccelerometer(t *testing.T) {
	engine, clock := newTestEngine(t)

	_, err := engine.Ingest(reading(5000, nil))
	require.NoError(t, err)

	// No speed on either reading: the accelerometer signal alone decides.
	clock.Advance(time.Second)
	r := reading(5000, nil)
	r.AccX = f(-0.55)
	d, err := engine.Ingest(r)
	require.NoError(t, err)
	require.Len(t, d.Events, 1)

	b := d.Events[0].HarshBraking
	assert.InDelta(t, 5.3937, b.DecelerationMPS2, 0.001)
	assert.Equal(t, SeverityMedium, b.Severity)
	assert.Nil(t, b.SpeedBeforeMPH)
	assert.Nil(t, b.SpeedAfterMPH)
}

func TestLargerMagnitudeSignalWins(t *testing.T) {
	engine, clock := newTestEngine(t)

	_, err := engine.Ingest(reading(5000, f(31)))
	require.NoError(t, err)

	// Speed delta says 1 mph/s (0.447 m/s²); accelerometer says 0.9g.
	clock.Advance(time.Second)
	r := reading(5000, f(30))
	r.AccX = f(-0.9)
	d, err := engine.Ingest(r)
	require.NoError(t, err)
	require.Len(t, d.Events, 1)

	b := d.Events[0].HarshBraking
	assert.InDelta(t, 8.826, b.DecelerationMPS2, 0.001)
	assert.Equal(t, SeverityHigh, b.Severity)
}

func TestSeverityBands(t *testing.T) {
	tests := []struct {
		name     string
		accX     float64
		severity Severity
	}{
		{"just above low threshold", -0.35, SeverityLow},
		{"medium band", -0.55, SeverityMedium},
		{"high band", -0.75, SeverityHigh},
		{"saturates at high", -50.0, SeverityHigh},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine, clock := newTestEngine(t)

			_, err := engine.Ingest(reading(5000, nil))
			require.NoError(t, err)

			clock.Advance(time.Second)
			r := reading(5000, nil)
			r.AccX = f(tt.accX)
			d, err := engine.Ingest(r)
			require.NoError(t, err)
			require.Len(t, d.Events, 1)
			assert.Equal(t, tt.severity, d.Events[0].HarshBraking.Severity)
		})
	}
}

func TestBelowThresholdNoEventButBaselineAdvances(t *testing.T) {
	engine, clock := newTestEngine(t)

	_, err := engine.Ingest(reading(5000, f(30)))
	require.NoError(t, err)

	clock.Advance(time.Second)
	d, err := engine.Ingest(reading(5000, f(29)))
	require.NoError(t, err)
	assert.Empty(t, d.Events)

	// The gentle reading became the new baseline: deltas are computed
	// against 29 mph, not 30.
	clock.Advance(time.Second)
	d, err = engine.Ingest(reading(5000, f(9)))
	require.NoError(t, err)
	require.Len(t, d.Events, 1)
	assert.Equal(t, 29.0, *d.Events[0].HarshBraking.SpeedBeforeMPH)
}

func TestStaleBaselineSkipsBraking(t *testing.T) {
	engine, clock := newTestEngine(t)

	_, err := engine.Ingest(reading(5000, f(60)))
	require.NoError(t, err)

	// 6s later the baseline is stale: the delta alone would far exceed the
	// threshold, but no event may fire.
	clock.Advance(6 * time.Second)
	d, err := engine.Ingest(reading(5000, f(0)))
	require.NoError(t, err)
	assert.Empty(t, d.Events)

	// The stale reading still became the fresh baseline.
	clock.Advance(time.Second)
	d, err = engine.Ingest(reading(5000, f(0)))
	require.NoError(t, err)
	assert.Empty(t, d.Events)
}

func TestExactlyAtStalenessWindowStillCompares(t *testing.T) {
	engine, clock := newTestEngine(t)

	_, err := engine.Ingest(reading(5000, f(60)))
	require.NoError(t, err)

	clock.Advance(5 * time.Second)
	d, err := engine.Ingest(reading(5000, f(10)))
	require.NoError(t, err)
	require.Len(t, d.Events, 1)
	assert.Equal(t, EventKindHarshBraking, d.Events[0].Kind)
}

func TestDawnDuskClassificationUsesClockHour(t *testing.T) {
	engine, clock := newTestEngine(t)

	r := reading(5000, nil)
	r.LightLevel = i(40)

	clock.Set(time.Date(2024, 6, 1, 6, 0, 0, 0, time.UTC))
	d, err := engine.Ingest(r)
	require.NoError(t, err)
	assert.Equal(t, light.Dawn, d.Snapshot.LightCondition)

	clock.Set(time.Date(2024, 6, 1, 18, 0, 0, 0, time.UTC))
	d, err = engine.Ingest(r)
	require.NoError(t, err)
	assert.Equal(t, light.Dusk, d.Snapshot.LightCondition)
}

func TestSpeedingFlag(t *testing.T) {
	limit := 55.0
	tz := "UTC"
	cfg := &config.Thresholds{SpeedLimitMPH: &limit, Timezone: &tz}
	engine := NewEngine(NewMotionState(), cfg, timeutil.NewMockClock(noonUTC))

	d, err := engine.Ingest(reading(5000, f(70)))
	require.NoError(t, err)
	assert.True(t, d.Snapshot.IsSpeeding)
	require.NotNil(t, d.Snapshot.SpeedLimitMPH)
	assert.Equal(t, 55.0, *d.Snapshot.SpeedLimitMPH)

	d, err = engine.Ingest(reading(5000, f(40)))
	require.NoError(t, err)
	assert.False(t, d.Snapshot.IsSpeeding)

	// No speed reading: never flagged.
	d, err = engine.Ingest(reading(5000, nil))
	require.NoError(t, err)
	assert.False(t, d.Snapshot.IsSpeeding)
}

// N concurrent ingest calls each produce exactly one snapshot, and braking
// events never exceed the number of usable baselines (no double counting or
// lost updates under concurrent baseline replacement).
func TestIngestConcurrent(t *testing.T) {
	const n = 50
	engine, _ := newTestEngine(t)

	var mu sync.Mutex
	snapshots := make(map[string]bool)
	brakingCount := 0

	var wg sync.WaitGroup
	for k := 0; k < n; k++ {
		wg.Add(1)
		go func(k int) {
			defer wg.Done()
			speed := 60.0 - float64(k)
			d, err := engine.Ingest(reading(5000, &speed))
			if err != nil {
				t.Errorf("Ingest failed: %v", err)
				return
			}
			mu.Lock()
			defer mu.Unlock()
			snapshots[d.Snapshot.ID] = true
			for _, ev := range d.Events {
				if ev.Kind == EventKindHarshBraking {
					brakingCount++
				}
			}
		}(k)
	}
	wg.Wait()

	if len(snapshots) != n {
		t.Errorf("got %d distinct snapshots, want %d", len(snapshots), n)
	}
	// One call wins the empty baseline and cannot produce a braking event.
	if brakingCount > n-1 {
		t.Errorf("braking events = %d, want at most %d", brakingCount, n-1)
	}
}

func TestIngestDistanceAndBrakingTogether(t *testing.T) {
	engine, clock := newTestEngine(t)

	_, err := engine.Ingest(reading(400, f(60)))
	require.NoError(t, err)

	clock.Advance(time.Second)
	d, err := engine.Ingest(reading(350, f(20)))
	require.NoError(t, err)
	require.Len(t, d.Events, 2)

	kinds := map[string]bool{}
	for _, ev := range d.Events {
		kinds[ev.Kind] = true
	}
	assert.True(t, kinds[EventKindFollowDistance])
	assert.True(t, kinds[EventKindHarshBraking])
}

func TestIngestErrorTaxonomy(t *testing.T) {
	engine, _ := newTestEngine(t)

	missing := &RawReading{}
	_, err := engine.Ingest(missing)
	if !errors.Is(err, ErrMissingData) {
		t.Errorf("empty reading error = %v, want ErrMissingData", err)
	}
}
