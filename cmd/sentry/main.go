// Command sentry is the turret control daemon: it owns the serial line, runs
// the video and scanning loops and serves the control API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/psg-sentry/sentry/internal/api"
	"github.com/psg-sentry/sentry/internal/calibration"
	"github.com/psg-sentry/sentry/internal/config"
	"github.com/psg-sentry/sentry/internal/controls"
	"github.com/psg-sentry/sentry/internal/dispatcher"
	"github.com/psg-sentry/sentry/internal/events"
	"github.com/psg-sentry/sentry/internal/handlers"
	"github.com/psg-sentry/sentry/internal/logging"
	"github.com/psg-sentry/sentry/internal/monitor"
	intOtel "github.com/psg-sentry/sentry/internal/otel"
	"github.com/psg-sentry/sentry/internal/scanner"
	"github.com/psg-sentry/sentry/internal/turret"
	"github.com/psg-sentry/sentry/pkg/core"

	"github.com/rs/zerolog"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// BuildDate can be set at build time via ldflags
var (
	CurrentVersion string = "0.0.1"
	BuildDate      string = "unknown"
)

const shutdownTimeout = 10 * time.Second

// daemon holds every long-lived component so shutdown can stop them in order.
type daemon struct {
	sessionStart time.Time
	logFile      *os.File
	slogManager  *logging.SlogManager
	logger       *slog.Logger
	otelProvider *intOtel.Provider

	calibration *calibration.Store
	controls    *controls.Store
	bus         *events.Bus
	controller  *turret.Controller
	scanner     *scanner.Scanner
	telemetry   *telemetry
	video       *videoPipeline
	hub         *api.Hub
	server      *api.Server
	monitor     *monitor.Service
	dispatcher  *dispatcher.Dispatcher

	hubCancel context.CancelFunc

	// set once the controller exists; log records and the bus read it from
	// other goroutines
	turretRef atomic.Pointer[turret.Controller]
}

func main() {
	configDir := flag.String("config", ".", "Directory containing "+config.FileName)
	listPorts := flag.Bool("list-ports", false, "List serial ports and exit")
	flag.Parse()

	if *listPorts {
		ports, err := turret.ListPorts()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to list serial ports: %v\n", err)
			os.Exit(1)
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return
	}

	d := &daemon{sessionStart: time.Now()}
	if err := d.start(*configDir); err != nil {
		d.logger.Error("Failed to start", "error", err)
		d.shutdown()
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		d.logger.Info("Received shutdown signal", "signal", sig.String())
	case err := <-d.server.Errors():
		d.logger.Error("HTTP server stopped", "error", err)
	}

	d.shutdown()
}

func (d *daemon) start(configDir string) error {
	d.setupLogging(configDir)
	d.logger.Info("Starting sentry", "version", CurrentVersion, "buildDate", BuildDate)

	d.calibration = calibration.NewStore(config.GetString("calibration.file"), d.logger)
	if err := d.calibration.Load(); err != nil {
		d.logger.Warn("Failed to load calibration, starting uncalibrated", "error", err)
	}
	d.controls = controls.New(d.logger)

	// the bus applies the always-fire override, which the controller owns
	d.bus = events.NewBus(func() bool {
		c := d.turretRef.Load()
		return c != nil && c.IsAlwaysFire()
	}, d.logger)

	var err error
	d.dispatcher, err = dispatcher.New(logging.NewDispatcherLogger(d.logger))
	if err != nil {
		return fmt.Errorf("failed to create dispatcher: %w", err)
	}

	d.telemetry, err = d.startTelemetry()
	if err != nil {
		return err
	}

	serial := config.GetSerialConfig()
	device := turret.OpenDevice(serial.Port, serial.BaudRate, d.logger)
	d.controller, err = turret.New(device,
		turret.WithPublisher(d.bus),
		turret.WithRecorder(d.telemetry.worker),
		turret.WithLogger(d.logger),
	)
	if err != nil {
		return fmt.Errorf("failed to create turret controller: %w", err)
	}
	d.turretRef.Store(d.controller)
	d.controller.Start()

	scan := config.GetScanConfig()
	d.scanner = scanner.New(d.controller, d.calibration, scanner.Config{
		PauseBeforeResuming: scan.PauseBeforeResuming,
		Spacing:             scan.Spacing,
		Increment:           scan.Increment,
	}, d.logger)
	d.scanner.Start()

	d.video, err = d.startVideo()
	if err != nil {
		return err
	}

	svc := handlers.NewService(handlers.Dependencies{
		Calibration: d.calibration,
		Controls:    d.controls,
		Turret:      d.controller,
		Scanner:     d.scanner,
		Camera:      d.video.processor,
		Recorder:    d.telemetry.worker,
		History:     d.telemetry.history,
		Logger:      d.logger,
	})

	d.monitor = monitor.NewService(monitor.Dependencies{
		Turret:     d.controller,
		Scanner:    func() string { return d.scanner.State().String() },
		Calibrated: d.calibration.IsCalibrated,
		Controls:   d.controls.Get,
		Events:     d.bus.Stats,
		Telemetry:  d.telemetry.worker.Stats,
		Commands:   d.dispatcher.Stats,
		Frames:     d.video.mailbox.Dropped,
		Path:       config.GetString("monitor.statusFile"),
		Interval:   config.GetDuration("monitor.interval"),
		Logger:     d.logger,
	})
	if err := d.monitor.Start(); err != nil {
		d.logger.Warn("Failed to start status monitor", "error", err)
	}

	d.hub = api.NewHub(d.bus, d.logger)
	var hubCtx context.Context
	hubCtx, d.hubCancel = context.WithCancel(context.Background())
	go d.hub.Run(hubCtx)

	d.server = api.NewServer(api.Dependencies{
		Service: svc,
		Hub:     d.hub,
		Video:   d.video.processor,
		Status:  func() any { return d.monitor.Snapshot() },
		Address: config.GetString("http.address"),
		Logger:  d.logger,
	})
	d.server.Start()
	d.logger.Info("Control API listening", "address", config.GetString("http.address"))
	return nil
}

// setupLogging starts on stdout, then moves to the session log file once the
// config says where it lives.
func (d *daemon) setupLogging(configDir string) {
	d.slogManager = logging.NewSlogManager()
	d.slogManager.Setup(logging.Options{Level: "info"})
	d.logger = d.slogManager.Logger()

	if err := config.Load(configDir); err != nil {
		d.logger.Warn("Failed to load config, using defaults!", "error", err)
	} else {
		d.logger.Info("Loaded config", "dir", configDir)
	}

	logsDir := config.GetString("logsDir")
	file, logPath, err := logging.OpenSessionLog(logsDir, logging.ServiceName, d.sessionStart)
	if err != nil {
		d.logger.Error("Failed to create/open log file!", "error", err, "path", logPath)
	} else {
		d.logFile = file
	}

	otelCfg := config.GetOTelConfig()
	var otelLogProvider *sdklog.LoggerProvider
	if otelCfg.Enabled {
		var logWriter io.Writer = os.Stdout
		if d.logFile != nil {
			logWriter = d.logFile
		}
		cfg := intOtel.FromConfig(otelCfg, logWriter)
		cfg.ServiceVersion = CurrentVersion
		d.otelProvider, err = intOtel.New(cfg)
		if err != nil {
			d.logger.Error("Failed to initialize OTel provider", "error", err)
		} else {
			otelLogProvider = d.otelProvider.LoggerProvider()
			d.logger.Info("OTel provider initialized", "endpoint", otelCfg.Endpoint)
		}
	}

	opts := logging.Options{
		Level:    config.GetString("logLevel"),
		Provider: otelLogProvider,
		Context: logging.TurretContext(func() core.TurretStatus {
			c := d.turretRef.Load()
			if c == nil {
				return core.TurretStatus{}
			}
			return c.Status()
		}),
	}
	if d.logFile != nil {
		opts.File = io.MultiWriter(os.Stdout, d.logFile)
	}
	if config.GetBool("graylog.enabled") {
		w, err := logging.NewGraylogWriter(config.GetString("graylog.address"), logging.ServiceName)
		if err != nil {
			d.logger.Error("Failed to connect to Graylog", "error", err)
		} else {
			opts.Graylog = w
		}
	}

	d.slogManager.Setup(opts)
	d.logger = d.slogManager.Logger()
	slog.SetDefault(d.logger)
	d.logger.Info("Logging to file", "path", logPath)

	removed, err := logging.PruneSessionLogs(logsDir, logging.ServiceName, config.GetInt("logKeep"))
	if err != nil {
		d.logger.Warn("Failed to prune old session logs", "error", err)
	} else if len(removed) > 0 {
		d.logger.Info("Pruned old session logs", "count", len(removed))
	}
}

// managerLogger is the zerolog logger handed to the database and influx
// managers. It writes to the same places as slog.
func (d *daemon) managerLogger() zerolog.Logger {
	writers := []io.Writer{zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}}
	if d.logFile != nil {
		writers = append(writers, zerolog.ConsoleWriter{Out: d.logFile, TimeFormat: time.RFC3339, NoColor: true})
	}
	level, err := zerolog.ParseLevel(config.GetString("logLevel"))
	if err != nil {
		level = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(level).
		With().Timestamp().Str("service", logging.ServiceName).Logger()
}

// shutdown stops components in dependency order. Safe to call on a partly
// started daemon.
func (d *daemon) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if d.server != nil {
		if err := d.server.Shutdown(ctx); err != nil {
			d.logger.Error("Failed to stop HTTP server", "error", err)
		}
	}
	if d.scanner != nil {
		d.scanner.Terminate()
	}
	if d.video != nil {
		d.video.stop()
	}
	if d.controller != nil {
		d.controller.Terminate()
	}
	if d.bus != nil {
		d.bus.Terminate()
	}
	if d.hubCancel != nil {
		d.hubCancel()
		<-d.hub.Done()
	}
	if d.monitor != nil {
		d.monitor.Stop()
	}
	if d.dispatcher != nil {
		d.dispatcher.Close()
	}
	if d.telemetry != nil {
		d.telemetry.stop()
	}
	if d.otelProvider != nil {
		if err := d.otelProvider.Shutdown(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			d.logger.Error("Failed to shut down OTel provider", "error", err)
		}
	}
	if d.slogManager != nil {
		_ = d.slogManager.Flush(ctx)
	}

	d.logger.Info("Sentry stopped")
	if d.logFile != nil {
		d.logFile.Close()
	}
}

// dataPath resolves name against the directory of the session log files when
// it is relative.
func dataPath(name string) string {
	if name == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(config.GetString("logsDir"), name)
}
