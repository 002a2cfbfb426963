package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/psg-sentry/sentry/internal/config"
	"github.com/psg-sentry/sentry/internal/emitter"
	"github.com/psg-sentry/sentry/internal/influx"
	"github.com/psg-sentry/sentry/internal/storage"
	"github.com/psg-sentry/sentry/internal/worker"
)

// telemetry is the history pipeline: dispatcher handlers feed the worker,
// which flushes to the storage backend, InfluxDB and MQTT.
type telemetry struct {
	backend storage.Backend
	history storage.Reader
	influx  *influx.Manager
	mqtt    *emitter.MQTTEmitter
	worker  *worker.Manager
	cancel  context.CancelFunc
	logger  *slog.Logger
}

func (d *daemon) startTelemetry() (*telemetry, error) {
	storageCfg := config.GetStorageConfig()

	backend, err := storage.NewBackend(storageCfg, d.managerLogger())
	if err != nil {
		return nil, fmt.Errorf("failed to create storage backend: %w", err)
	}
	if err := backend.Init(); err != nil {
		backend.Close()
		return nil, fmt.Errorf("failed to initialize storage backend: %w", err)
	}
	d.logger.Info("Storage backend initialized", "type", storageCfg.Type)

	t := &telemetry{backend: backend, logger: d.logger}
	if r, ok := backend.(storage.Reader); ok {
		t.history = r
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel

	deps := worker.Dependencies{Logger: d.logger}

	influxCfg := config.GetInfluxConfig()
	if influxCfg.Enabled {
		backupPath := dataPath(fmt.Sprintf("influx_%s.lp.gz", d.sessionStart.Format("20060102_150405")))
		t.influx = influx.NewManager(influxCfg, d.managerLogger(), backupPath)
		if err := t.influx.Connect(ctx); err != nil {
			d.logger.Error("Failed to set up InfluxDB, metrics disabled", "error", err)
		} else {
			deps.Metrics = t.influx
		}
	}

	mqttCfg := config.GetMQTTConfig()
	if mqttCfg.Enabled {
		t.mqtt = emitter.NewMQTTEmitter(mqttCfg, d.logger)
		if err := t.mqtt.Connect(ctx); err != nil {
			// the client keeps retrying in the background
			d.logger.Warn("MQTT broker not reachable yet", "error", err)
		}
		deps.Broadcaster = t.mqtt
	}

	tc := config.GetTelemetryConfig()
	t.worker = worker.NewManager(deps, backend, worker.NewQueues(tc.QueueLimit))
	t.worker.RegisterHandlers(d.dispatcher, tc.BufferSize)
	t.worker.Start(ctx, tc.FlushInterval)

	return t, nil
}

// stop flushes what is queued and closes every sink. The dispatcher must be
// closed first.
func (t *telemetry) stop() {
	if err := t.worker.Stop(); err != nil {
		t.logger.Error("Final telemetry flush failed", "error", err)
	}
	t.cancel()

	if err := t.backend.Close(); err != nil {
		t.logger.Error("Failed to close storage backend", "error", err)
	}
	if t.influx != nil {
		if err := t.influx.Close(); err != nil && !errors.Is(err, influx.ErrDisabled) {
			t.logger.Error("Failed to close InfluxDB", "error", err)
		}
	}
	if t.mqtt != nil {
		t.mqtt.Disconnect()
	}
}
