// Package api exposes the sensor gateway and record query endpoints over
// HTTP. Speeds are stored in mph; list handlers convert to the configured
// display units at the edge.
package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/theronlindsay/AutomotiveIoT/internal/config"
	"github.com/theronlindsay/AutomotiveIoT/internal/db"
	"github.com/theronlindsay/AutomotiveIoT/internal/httputil"
	"github.com/theronlindsay/AutomotiveIoT/internal/monitoring"
	"github.com/theronlindsay/AutomotiveIoT/internal/serialmux"
	"github.com/theronlindsay/AutomotiveIoT/internal/telemetry"
	"github.com/theronlindsay/AutomotiveIoT/internal/units"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// maxPayloadBytes bounds a single sensor payload. Real Arduino lines are
// under 200 bytes; anything bigger is garbage.
const maxPayloadBytes = 64 * 1024

type Server struct {
	m      serialmux.SerialMuxInterface
	engine *telemetry.Engine
	db     *db.DB
	cfg    *config.Thresholds
}

func NewServer(m serialmux.SerialMuxInterface, engine *telemetry.Engine, database *db.DB, cfg *config.Thresholds) *Server {
	return &Server{
		m:      m,
		engine: engine,
		db:     database,
		cfg:    cfg,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/arduino/sensor-data", s.ingestSensorData)
	mux.HandleFunc("/api/snapshots", s.listSnapshots)
	mux.HandleFunc("/api/harsh-braking", s.listBrakingEvents)
	mux.HandleFunc("/api/follow-distance", s.listFollowViolations)
	mux.HandleFunc("/api/stats", s.showSnapshotStats)
	mux.HandleFunc("/api/config", s.showConfig)
	mux.HandleFunc("/api/command", s.sendCommandHandler)
	mux.HandleFunc("/report/chart", s.renderSpeedChart)
	return mux
}

// convertMPH converts a stored mph value to the configured display units.
func (s *Server) convertMPH(mph float64) float64 {
	return units.ConvertSpeed(units.MPHToMPS(mph), s.cfg.GetUnits())
}

func (s *Server) convertMPHPtr(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := s.convertMPH(*p)
	return &v
}

// ingestSensorData is the device-facing gateway: it accepts one flat JSON
// payload, runs the derivation engine, and persists the snapshot plus any
// derived events as one unit. Responses stay in raw mph since the caller is
// the embedded client, not the dashboard.
func (s *Server) ingestSensorData(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
	if err != nil {
		httputil.BadRequest(w, "failed to read request body")
		return
	}

	reading, err := telemetry.ParseRawReading(body)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	derivation, err := s.engine.Ingest(reading)
	if err != nil {
		if errors.Is(err, telemetry.ErrMissingData) || errors.Is(err, telemetry.ErrInvalidReading) {
			httputil.BadRequest(w, err.Error())
			return
		}
		httputil.InternalServerError(w, "failed to process reading")
		return
	}

	if err := s.db.RecordDerivation(derivation); err != nil {
		monitoring.Logf("failed to record derivation: %v", err)
		httputil.InternalServerError(w, "failed to store reading")
		return
	}

	httputil.WriteJSONCreated(w, derivation)
}

// recordFilterFromQuery parses the shared limit/since/until query params.
// Timestamps are RFC3339.
func recordFilterFromQuery(r *http.Request) (db.RecordFilter, error) {
	var f db.RecordFilter
	q := r.URL.Query()

	if l := q.Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 1 {
			return f, fmt.Errorf("invalid 'limit' parameter %q", l)
		}
		f.Limit = n
	}
	if since := q.Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			return f, fmt.Errorf("invalid 'since' parameter %q", since)
		}
		f.Since = t
	}
	if until := q.Get("until"); until != "" {
		t, err := time.Parse(time.RFC3339, until)
		if err != nil {
			return f, fmt.Errorf("invalid 'until' parameter %q", until)
		}
		f.Until = t
	}
	return f, nil
}

// snapshotAPI controls the dashboard wire format for snapshots: speed fields
// carry the configured display units rather than the raw mph column.
type snapshotAPI struct {
	ID             string    `json:"id"`
	Timestamp      time.Time `json:"timestamp"`
	Speed          *float64  `json:"speed"`
	AccelMagnitude float64   `json:"accel_magnitude"`
	LightCondition string    `json:"light_condition"`
	SpeedLimit     *float64  `json:"speed_limit,omitempty"`
	IsSpeeding     bool      `json:"is_speeding"`
}

type brakingEventAPI struct {
	ID               string    `json:"id"`
	Timestamp        time.Time `json:"timestamp"`
	DecelerationMPS2 float64   `json:"deceleration_mps2"`
	SpeedBefore      *float64  `json:"speed_before"`
	SpeedAfter       *float64  `json:"speed_after"`
	Severity         string    `json:"severity"`
	LightCondition   string    `json:"light_condition"`
}

type followViolationAPI struct {
	ID               string    `json:"id"`
	Timestamp        time.Time `json:"timestamp"`
	Distance         float64   `json:"distance"`
	CurrentSpeed     *float64  `json:"current_speed"`
	RequiredDistance float64   `json:"required_distance"`
	Duration         *float64  `json:"duration,omitempty"`
	LightCondition   string    `json:"light_condition"`
}

// recordList is the envelope for the list endpoints so clients know which
// units the speed fields are in.
type recordList struct {
	Units   string `json:"units"`
	Count   int    `json:"count"`
	Records any    `json:"records"`
}

func (s *Server) listSnapshots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	filter, err := recordFilterFromQuery(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	snapshots, err := s.db.Snapshots(filter)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to retrieve snapshots: %v", err))
		return
	}

	records := make([]snapshotAPI, len(snapshots))
	for i, snap := range snapshots {
		records[i] = snapshotAPI{
			ID:             snap.ID,
			Timestamp:      snap.Timestamp,
			Speed:          s.convertMPHPtr(snap.SpeedMPH),
			AccelMagnitude: snap.AccelMagnitude,
			LightCondition: string(snap.LightCondition),
			SpeedLimit:     s.convertMPHPtr(snap.SpeedLimitMPH),
			IsSpeeding:     snap.IsSpeeding,
		}
	}
	httputil.WriteJSONOK(w, recordList{Units: s.cfg.GetUnits(), Count: len(records), Records: records})
}

func (s *Server) listBrakingEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	filter, err := recordFilterFromQuery(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	events, err := s.db.BrakingEvents(filter)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to retrieve harsh braking events: %v", err))
		return
	}

	records := make([]brakingEventAPI, len(events))
	for i, ev := range events {
		records[i] = brakingEventAPI{
			ID:               ev.ID,
			Timestamp:        ev.Timestamp,
			DecelerationMPS2: ev.DecelerationMPS2,
			SpeedBefore:      s.convertMPHPtr(ev.SpeedBeforeMPH),
			SpeedAfter:       s.convertMPHPtr(ev.SpeedAfterMPH),
			Severity:         string(ev.Severity),
			LightCondition:   string(ev.LightCondition),
		}
	}
	httputil.WriteJSONOK(w, recordList{Units: s.cfg.GetUnits(), Count: len(records), Records: records})
}

func (s *Server) listFollowViolations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	filter, err := recordFilterFromQuery(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	violations, err := s.db.FollowViolations(filter)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to retrieve follow distance violations: %v", err))
		return
	}

	records := make([]followViolationAPI, len(violations))
	for i, v := range violations {
		records[i] = followViolationAPI{
			ID:               v.ID,
			Timestamp:        v.Timestamp,
			Distance:         v.DistanceM,
			CurrentSpeed:     s.convertMPHPtr(v.SpeedMPH),
			RequiredDistance: v.RequiredDistanceM,
			Duration:         v.DurationSeconds,
			LightCondition:   string(v.LightCondition),
		}
	}
	httputil.WriteJSONOK(w, recordList{Units: s.cfg.GetUnits(), Count: len(records), Records: records})
}

func (s *Server) showSnapshotStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	days := 1 // default value
	if d := r.URL.Query().Get("days"); d != "" {
		parsedDays, err := strconv.Atoi(d)
		if err != nil || parsedDays < 1 {
			httputil.BadRequest(w, "invalid 'days' parameter")
			return
		}
		days = parsedDays
	}

	stats, err := s.db.SnapshotRollup(days, s.cfg.GetLocation())
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to retrieve snapshot stats: %v", err))
		return
	}

	// Apply unit conversion to all speed values
	for i := range stats {
		stats[i].MaxSpeed = s.convertMPH(stats[i].MaxSpeed)
		stats[i].P50Speed = s.convertMPH(stats[i].P50Speed)
		stats[i].P85Speed = s.convertMPH(stats[i].P85Speed)
		stats[i].P98Speed = s.convertMPH(stats[i].P98Speed)
	}

	httputil.WriteJSONOK(w, stats)
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	cfg := map[string]interface{}{
		"units":                       s.cfg.GetUnits(),
		"harsh_brake_threshold_g":     s.cfg.GetHarshBrakeThresholdG(),
		"follow_distance_threshold_m": s.cfg.GetFollowDistanceThresholdM(),
		"staleness_window_seconds":    s.cfg.GetStalenessWindow().Seconds(),
		"speed_limit_mph":             s.cfg.GetSpeedLimitMPH(),
	}
	httputil.WriteJSONOK(w, cfg)
}

func (s *Server) sendCommandHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	command := r.FormValue("command")
	if command == "" {
		httputil.BadRequest(w, "missing 'command' parameter")
		return
	}

	if err := s.m.SendCommand(command); err != nil {
		httputil.InternalServerError(w, "failed to send command")
		return
	}
	io.WriteString(w, "Command sent successfully")
}
