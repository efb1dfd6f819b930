package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/theronlindsay/AutomotiveIoT/internal/db"
	"github.com/theronlindsay/AutomotiveIoT/internal/httputil"
	"github.com/theronlindsay/AutomotiveIoT/internal/telemetry"
)

// renderSpeedChart renders a quick HTML line chart of recent snapshot speeds
// with harsh braking events overlaid as a scatter. This is a debugging-only
// endpoint (no auth) for eyeballing a drive without the dashboard.
// Query params:
//   - limit (optional; default 500) number of most recent snapshots
func (s *Server) renderSpeedChart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	limit := 500
	if l := r.URL.Query().Get("limit"); l != "" {
		if v, err := strconv.Atoi(l); err == nil && v > 0 && v <= 10000 {
			limit = v
		}
	}

	snapshots, err := s.db.Snapshots(db.RecordFilter{Limit: limit})
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to retrieve snapshots: %v", err))
		return
	}
	if len(snapshots) == 0 {
		httputil.NotFound(w, "no snapshots recorded yet")
		return
	}

	events, err := s.db.BrakingEvents(db.RecordFilter{Limit: limit})
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to retrieve braking events: %v", err))
		return
	}

	// Snapshots come back newest first; the chart wants chronological order.
	loc := s.cfg.GetLocation()
	axis := make([]string, 0, len(snapshots))
	speeds := make([]opts.LineData, 0, len(snapshots))
	for i := len(snapshots) - 1; i >= 0; i-- {
		snap := snapshots[i]
		axis = append(axis, snap.Timestamp.In(loc).Format("15:04:05"))
		if snap.SpeedMPH != nil {
			speeds = append(speeds, opts.LineData{Value: s.convertMPH(*snap.SpeedMPH)})
		} else {
			speeds = append(speeds, opts.LineData{Value: nil})
		}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Drive Speed History", Theme: "dark", Width: "1200px", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Speed History",
			Subtitle: fmt.Sprintf("snapshots=%d braking=%d units=%s", len(snapshots), len(events), s.cfg.GetUnits()),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "time"}),
		charts.WithYAxisOpts(opts.YAxis{Name: fmt.Sprintf("speed (%s)", s.cfg.GetUnits())}),
	)

	line.SetXAxis(axis)
	line.AddSeries("speed", speeds, charts.WithLineChartOpts(opts.LineChart{Smooth: opts.Bool(true), ConnectNulls: opts.Bool(true)}))
	line.AddSeries("braking", brakingMarkers(snapshots, events))

	var buf bytes.Buffer
	if err := line.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// brakingMarkers builds a sparse series aligned to the snapshot axis: the
// deceleration magnitude at snapshots where a braking event fired, nil
// everywhere else.
func brakingMarkers(snapshots []telemetry.SpeedSnapshot, events []telemetry.HarshBrakingEvent) []opts.LineData {
	byTime := make(map[int64]float64, len(events))
	for _, ev := range events {
		byTime[ev.Timestamp.UnixMilli()] = ev.DecelerationMPS2
	}

	markers := make([]opts.LineData, 0, len(snapshots))
	for i := len(snapshots) - 1; i >= 0; i-- {
		if decel, ok := byTime[snapshots[i].Timestamp.UnixMilli()]; ok {
			markers = append(markers, opts.LineData{Value: decel, Symbol: "triangle", SymbolSize: 12})
		} else {
			markers = append(markers, opts.LineData{Value: nil})
		}
	}
	return markers
}
