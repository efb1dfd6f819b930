package db

import (
	"fmt"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"
)

// DailyRollup summarises one local day of snapshot speeds. Speeds are in
// mph as stored; the API converts for display.
type DailyRollup struct {
	Date          string  `json:"date"` // YYYY-MM-DD
	Count         int     `json:"count"`
	BrakingEvents int     `json:"braking_events"`
	MaxSpeed      float64 `json:"max_speed"`
	P50Speed      float64 `json:"p50_speed"`
	P85Speed      float64 `json:"p85_speed"`
	P98Speed      float64 `json:"p98_speed"`
}

// SnapshotRollup aggregates per-day speed percentiles over the trailing
// number of days. Snapshots without a speed reading are counted but do not
// contribute to the percentiles.
func (db *DB) SnapshotRollup(days int, loc *time.Location) ([]DailyRollup, error) {
	if days < 1 {
		days = 1
	}
	since := time.Now().In(loc).AddDate(0, 0, -days)

	rows, err := db.Query(
		"SELECT timestamp, speed_mph FROM speed_snapshots WHERE timestamp >= ? ORDER BY timestamp ASC",
		since.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots for rollup: %w", err)
	}
	defer rows.Close()

	type bucket struct {
		count  int
		speeds []float64
	}
	buckets := make(map[string]*bucket)
	for rows.Next() {
		var ts int64
		var speed *float64
		if err := rows.Scan(&ts, &speed); err != nil {
			return nil, fmt.Errorf("failed to scan rollup row: %w", err)
		}
		day := time.UnixMilli(ts).In(loc).Format("2006-01-02")
		b := buckets[day]
		if b == nil {
			b = &bucket{}
			buckets[day] = b
		}
		b.count++
		if speed != nil {
			b.speeds = append(b.speeds, *speed)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	braking, err := db.brakingCountsByDay(since, loc)
	if err != nil {
		return nil, err
	}

	var rollups []DailyRollup
	for day, b := range buckets {
		r := DailyRollup{Date: day, Count: b.count, BrakingEvents: braking[day]}
		if len(b.speeds) > 0 {
			sort.Float64s(b.speeds)
			r.MaxSpeed = b.speeds[len(b.speeds)-1]
			r.P50Speed = stat.Quantile(0.50, stat.Empirical, b.speeds, nil)
			r.P85Speed = stat.Quantile(0.85, stat.Empirical, b.speeds, nil)
			r.P98Speed = stat.Quantile(0.98, stat.Empirical, b.speeds, nil)
		}
		rollups = append(rollups, r)
	}
	sort.Slice(rollups, func(i, j int) bool { return rollups[i].Date < rollups[j].Date })

	return rollups, nil
}

func (db *DB) brakingCountsByDay(since time.Time, loc *time.Location) (map[string]int, error) {
	rows, err := db.Query(
		"SELECT timestamp FROM harsh_braking_events WHERE timestamp >= ?",
		since.UnixMilli(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query braking events for rollup: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var ts int64
		if err := rows.Scan(&ts); err != nil {
			return nil, fmt.Errorf("failed to scan braking timestamp: %w", err)
		}
		counts[time.UnixMilli(ts).In(loc).Format("2006-01-02")]++
	}
	return counts, rows.Err()
}
