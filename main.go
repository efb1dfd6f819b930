package main

import (
	"context"
	"embed"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/theronlindsay/AutomotiveIoT/internal/api"
	"github.com/theronlindsay/AutomotiveIoT/internal/config"
	"github.com/theronlindsay/AutomotiveIoT/internal/db"
	"github.com/theronlindsay/AutomotiveIoT/internal/serialmux"
	"github.com/theronlindsay/AutomotiveIoT/internal/telemetry"
	"github.com/theronlindsay/AutomotiveIoT/internal/timeutil"
)

var (
	//go:embed static/*
	staticFiles embed.FS
	devMode     = flag.Bool("dev", false, "Run in dev mode (mock serial feed, local static files)")
	listen      = flag.String("listen", ":8080", "Listen address")
	dbFile      = flag.String("db", "sensor_data.db", "Path to the sqlite database")
	configFile  = flag.String("config", "", "Path to a thresholds JSON file (optional)")
	serialPort  = flag.String("serial", "/dev/ttyACM0", "Arduino serial port")
	fixtures    = flag.String("fixtures", "fixtures.txt", "Fixture payloads replayed in dev mode")
)

// handlePayload routes one serial line. Sensor payloads are JSON objects;
// anything else is sketch debug output and only logged.
func handlePayload(engine *telemetry.Engine, database *db.DB, payload string) error {
	if !strings.HasPrefix(payload, "{") {
		log.Printf("serial: %s", payload)
		return nil
	}

	reading, err := telemetry.ParseRawReading([]byte(payload))
	if err != nil {
		return err
	}

	derivation, err := engine.Ingest(reading)
	if err != nil {
		return err
	}

	if err := database.RecordDerivation(derivation); err != nil {
		return err
	}

	for _, ev := range derivation.Events {
		switch ev.Kind {
		case telemetry.EventKindHarshBraking:
			log.Printf("harsh braking: %.2f m/s2 (%s)", ev.HarshBraking.DecelerationMPS2, ev.HarshBraking.Severity)
		case telemetry.EventKindFollowDistance:
			log.Printf("follow distance violation: %.2fm (required %.2fm)", ev.FollowDistance.DistanceM, ev.FollowDistance.RequiredDistanceM)
		}
	}
	return nil
}

func loadConfig() *config.Thresholds {
	path := *configFile
	if path == "" {
		if _, err := os.Stat(config.DefaultConfigPath); err != nil {
			return config.EmptyThresholds()
		}
		path = config.DefaultConfigPath
	}
	cfg, err := config.LoadThresholds(path)
	if err != nil {
		log.Fatalf("failed to load config %q: %v", path, err)
	}
	return cfg
}

// Main
func main() {
	flag.Parse()

	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	cfg := loadConfig()

	var m serialmux.SerialMuxInterface
	if *devMode {
		data, err := os.ReadFile(*fixtures)
		if err != nil {
			log.Fatalf("failed to open fixtures file: %v", err)
		}
		m = serialmux.NewMockSerialMux(data)
	} else {
		var err error
		m, err = serialmux.NewRealSerialMux(*serialPort)
		if err != nil {
			log.Fatalf("failed to open serial port %q: %v", *serialPort, err)
		}
	}
	defer m.Close()

	// Sync the device clock; the sketch resets when the port opens.
	if err := m.Initialize(); err != nil {
		log.Printf("failed to initialize serial device: %v", err)
	}

	database, err := db.NewDB(*dbFile)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	engine := telemetry.NewEngine(telemetry.NewMotionState(), cfg, timeutil.RealClock{})

	// Create a wait group for the HTTP server, serial monitor, and event
	// handler routines
	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// run the monitor routine to manage IO on the serial port
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := m.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("failed to monitor serial port: %v", err)
		}
		log.Print("monitor routine terminated")
	}()

	// subscribe to the serial port messages and pass them to the derivation
	// engine
	wg.Add(1)
	go func() {
		defer wg.Done()
		id, c := m.Subscribe()
		defer m.Unsubscribe(id)
		for {
			select {
			case payload := <-c:
				if err := handlePayload(engine, database, payload); err != nil {
					log.Printf("error handling payload: %v", err)
				}
			case <-ctx.Done():
				log.Printf("subscribe routine terminated")
				return
			}
		}
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := http.NewServeMux()

		// mount the admin debugging routes (accessible only in dev mode or
		// over Tailscale)
		database.AttachAdminRoutes(mux)

		// mount the API and report handlers; the api mux carries full paths
		apiMux := api.NewServer(m, engine, database, cfg).ServeMux()
		mux.Handle("/api/", apiMux)
		mux.Handle("/report/", apiMux)

		// read static files from the embedded filesystem in production or
		// from the local ./static in dev for easier iteration without
		// restarting the server
		var staticHandler http.Handler
		if *devMode {
			staticHandler = http.FileServer(http.Dir("./static"))
		} else {
			staticHandler = http.FileServer(http.FS(staticFiles))
		}
		mux.Handle("/", staticHandler)

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		// Start server in a goroutine so it doesn't block
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		// Wait for context cancellation to shut down server
		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
		}

		log.Printf("HTTP server routine stopped")
	}()

	// Wait for all goroutines to finish
	wg.Wait()
	log.Printf("Graceful shutdown complete")
}
