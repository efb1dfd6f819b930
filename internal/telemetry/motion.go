package telemetry

import (
	"sync"
	"time"
)

// Sample is one accepted reading, kept as the baseline for derivative
// computation against the next reading.
type Sample struct {
	// SpeedMPH is nil when the sensor reported no speed.
	SpeedMPH *float64

	// AccX, AccY, AccZ are the raw accelerometer axes in g.
	AccX, AccY, AccZ float64

	// DistanceM and Violating carry the follow-distance state forward so a
	// sustained violation can report its duration.
	DistanceM float64
	Violating bool

	// Timestamp is the reception time, not the embedded device clock.
	Timestamp time.Time
}

// MotionState holds the single most recent accepted reading. One instance
// per ingesting process; the engine is its only reader and writer.
type MotionState struct {
	mu   sync.Mutex
	last *Sample
}

// NewMotionState returns an empty MotionState. The first Observe call will
// report no previous sample.
func NewMotionState() *MotionState {
	return &MotionState{}
}

// Observe atomically replaces the baseline with s and returns the sample
// that was current before the replacement. ok is false when there was no
// baseline (first reading after start). The read-then-write is a single
// critical section so two concurrent readings can never both win the
// baseline race.
func (m *MotionState) Observe(s Sample) (prev Sample, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.last != nil {
		prev, ok = *m.last, true
	}
	copied := s
	m.last = &copied
	return prev, ok
}
