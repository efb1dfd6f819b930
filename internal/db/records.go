package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/theronlindsay/AutomotiveIoT/internal/light"
	"github.com/theronlindsay/AutomotiveIoT/internal/telemetry"
)

// RecordFilter bounds a range query. Zero times mean unbounded; Limit 0
// falls back to a sane default.
type RecordFilter struct {
	Since time.Time
	Until time.Time
	Limit int
}

const defaultQueryLimit = 500

func (f RecordFilter) limit() int {
	if f.Limit <= 0 {
		return defaultQueryLimit
	}
	return f.Limit
}

// where builds the shared timestamp-range predicate and its arguments.
func (f RecordFilter) where() (string, []any) {
	clause := "WHERE 1=1"
	var args []any
	if !f.Since.IsZero() {
		clause += " AND timestamp >= ?"
		args = append(args, f.Since.UnixMilli())
	}
	if !f.Until.IsZero() {
		clause += " AND timestamp <= ?"
		args = append(args, f.Until.UnixMilli())
	}
	args = append(args, f.limit())
	return clause, args
}

func nullFloat(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}

// RecordDerivation persists one derivation unit (the snapshot plus all its
// events) in a single transaction so a reading is never partially stored.
func (db *DB) RecordDerivation(d *telemetry.Derivation) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := insertSnapshot(tx, &d.Snapshot); err != nil {
		return err
	}
	for _, ev := range d.Events {
		switch ev.Kind {
		case telemetry.EventKindHarshBraking:
			if err := insertBrakingEvent(tx, ev.HarshBraking); err != nil {
				return err
			}
		case telemetry.EventKindFollowDistance:
			if err := insertFollowViolation(tx, ev.FollowDistance); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unknown event kind %q", ev.Kind)
		}
	}

	return tx.Commit()
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func insertSnapshot(e execer, s *telemetry.SpeedSnapshot) error {
	_, err := e.Exec(
		`INSERT INTO speed_snapshots (
			id, timestamp, speed_mph, accel_magnitude, light_condition,
			speed_limit_mph, is_speeding
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.Timestamp.UnixMilli(), nullFloat(s.SpeedMPH), s.AccelMagnitude,
		string(s.LightCondition), nullFloat(s.SpeedLimitMPH), s.IsSpeeding,
	)
	if err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}
	return nil
}

func insertBrakingEvent(e execer, b *telemetry.HarshBrakingEvent) error {
	_, err := e.Exec(
		`INSERT INTO harsh_braking_events (
			id, timestamp, deceleration_mps2, speed_before_mph,
			speed_after_mph, severity, light_condition
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.Timestamp.UnixMilli(), b.DecelerationMPS2,
		nullFloat(b.SpeedBeforeMPH), nullFloat(b.SpeedAfterMPH),
		string(b.Severity), string(b.LightCondition),
	)
	if err != nil {
		return fmt.Errorf("failed to insert harsh braking event: %w", err)
	}
	return nil
}

func insertFollowViolation(e execer, v *telemetry.FollowDistanceViolation) error {
	_, err := e.Exec(
		`INSERT INTO follow_distance_violations (
			id, timestamp, distance_m, speed_mph, required_distance_m,
			duration_seconds, light_condition
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.Timestamp.UnixMilli(), v.DistanceM, nullFloat(v.SpeedMPH),
		v.RequiredDistanceM, nullFloat(v.DurationSeconds), string(v.LightCondition),
	)
	if err != nil {
		return fmt.Errorf("failed to insert follow distance violation: %w", err)
	}
	return nil
}

// Snapshots returns snapshot rows matching the filter, newest first.
func (db *DB) Snapshots(f RecordFilter) ([]telemetry.SpeedSnapshot, error) {
	clause, args := f.where()
	rows, err := db.Query(fmt.Sprintf(
		`SELECT id, timestamp, speed_mph, accel_magnitude, light_condition,
			speed_limit_mph, is_speeding
		FROM speed_snapshots %s ORDER BY timestamp DESC LIMIT ?`, clause), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []telemetry.SpeedSnapshot
	for rows.Next() {
		var s telemetry.SpeedSnapshot
		var ts int64
		var speed, limit sql.NullFloat64
		var condition string
		if err := rows.Scan(&s.ID, &ts, &speed, &s.AccelMagnitude, &condition, &limit, &s.IsSpeeding); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		s.Timestamp = time.UnixMilli(ts).UTC()
		s.SpeedMPH = floatPtr(speed)
		s.SpeedLimitMPH = floatPtr(limit)
		s.LightCondition = light.Condition(condition)
		snapshots = append(snapshots, s)
	}
	return snapshots, rows.Err()
}

// BrakingEvents returns harsh braking rows matching the filter, newest first.
func (db *DB) BrakingEvents(f RecordFilter) ([]telemetry.HarshBrakingEvent, error) {
	clause, args := f.where()
	rows, err := db.Query(fmt.Sprintf(
		`SELECT id, timestamp, deceleration_mps2, speed_before_mph,
			speed_after_mph, severity, light_condition
		FROM harsh_braking_events %s ORDER BY timestamp DESC LIMIT ?`, clause), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query harsh braking events: %w", err)
	}
	defer rows.Close()

	var events []telemetry.HarshBrakingEvent
	for rows.Next() {
		var b telemetry.HarshBrakingEvent
		var ts int64
		var before, after sql.NullFloat64
		var severity, condition string
		if err := rows.Scan(&b.ID, &ts, &b.DecelerationMPS2, &before, &after, &severity, &condition); err != nil {
			return nil, fmt.Errorf("failed to scan harsh braking event: %w", err)
		}
		b.Timestamp = time.UnixMilli(ts).UTC()
		b.SpeedBeforeMPH = floatPtr(before)
		b.SpeedAfterMPH = floatPtr(after)
		b.Severity = telemetry.Severity(severity)
		b.LightCondition = light.Condition(condition)
		events = append(events, b)
	}
	return events, rows.Err()
}

// FollowViolations returns follow distance rows matching the filter, newest
// first.
func (db *DB) FollowViolations(f RecordFilter) ([]telemetry.FollowDistanceViolation, error) {
	clause, args := f.where()
	rows, err := db.Query(fmt.Sprintf(
		`SELECT id, timestamp, distance_m, speed_mph, required_distance_m,
			duration_seconds, light_condition
		FROM follow_distance_violations %s ORDER BY timestamp DESC LIMIT ?`, clause), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query follow distance violations: %w", err)
	}
	defer rows.Close()

	var violations []telemetry.FollowDistanceViolation
	for rows.Next() {
		var v telemetry.FollowDistanceViolation
		var ts int64
		var speed, duration sql.NullFloat64
		var condition string
		if err := rows.Scan(&v.ID, &ts, &v.DistanceM, &speed, &v.RequiredDistanceM, &duration, &condition); err != nil {
			return nil, fmt.Errorf("failed to scan follow distance violation: %w", err)
		}
		v.Timestamp = time.UnixMilli(ts).UTC()
		v.SpeedMPH = floatPtr(speed)
		v.DurationSeconds = floatPtr(duration)
		v.LightCondition = light.Condition(condition)
		violations = append(violations, v)
	}
	return violations, rows.Err()
}

// PurgeSnapshotsBefore deletes snapshot rows older than cutoff and returns
// the number deleted. Admin-only; snapshots are otherwise immutable.
func (db *DB) PurgeSnapshotsBefore(cutoff time.Time) (int64, error) {
	result, err := db.Exec("DELETE FROM speed_snapshots WHERE timestamp < ?", cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to purge snapshots: %w", err)
	}
	return result.RowsAffected()
}
