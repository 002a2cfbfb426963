// Package config loads sentry.cfg.json through viper and exposes typed views
// of each section.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// FileName is the configuration document looked up in the config directory.
const FileName = "sentry.cfg.json"

// MemoryConfig holds in-memory/JSON storage backend settings
type MemoryConfig struct {
	OutputDir      string `json:"outputDir" mapstructure:"outputDir"`
	CompressOutput bool   `json:"compressOutput" mapstructure:"compressOutput"`
}

// DatabaseConfig holds postgres connection settings for the database backend.
type DatabaseConfig struct {
	Host     string `json:"host" mapstructure:"host"`
	Port     string `json:"port" mapstructure:"port"`
	Username string `json:"username" mapstructure:"username"`
	Password string `json:"password" mapstructure:"password"`
	Database string `json:"database" mapstructure:"database"`
}

// SQLiteConfig controls the in-memory sqlite fallback.
type SQLiteConfig struct {
	Path         string        `json:"path" mapstructure:"path"`
	DumpInterval time.Duration `json:"dumpInterval" mapstructure:"dumpInterval"`
}

// StorageConfig selects and configures the history backend.
type StorageConfig struct {
	Type     string         `json:"type" mapstructure:"type"`
	Memory   MemoryConfig   `json:"memory" mapstructure:"memory"`
	Database DatabaseConfig `json:"database" mapstructure:"database"`
	SQLite   SQLiteConfig   `json:"sqlite" mapstructure:"sqlite"`
}

// OTelConfig holds OpenTelemetry settings.
type OTelConfig struct {
	Enabled      bool          `json:"enabled" mapstructure:"enabled"`
	ServiceName  string        `json:"serviceName" mapstructure:"serviceName"`
	BatchTimeout time.Duration `json:"batchTimeout" mapstructure:"batchTimeout"`
	Endpoint     string        `json:"endpoint" mapstructure:"endpoint"`
	Insecure     bool          `json:"insecure" mapstructure:"insecure"`
}

// SerialConfig names the turret's serial line. An empty port runs simulated.
type SerialConfig struct {
	Port     string `json:"port" mapstructure:"port"`
	BaudRate int    `json:"baudRate" mapstructure:"baudRate"`
}

// ScanConfig holds the idle scanner timings.
type ScanConfig struct {
	PauseBeforeResuming time.Duration `json:"pauseBeforeResuming" mapstructure:"pauseBeforeResuming"`
	Spacing             time.Duration `json:"spacing" mapstructure:"spacing"`
	Increment           int           `json:"increment" mapstructure:"increment"`
}

// VideoConfig configures the frame source and processor.
type VideoConfig struct {
	Source        string        `json:"source" mapstructure:"source"`
	ImageDir      string        `json:"imageDir" mapstructure:"imageDir"`
	FPS           int           `json:"fps" mapstructure:"fps"`
	Width         int           `json:"width" mapstructure:"width"`
	ReadTimeout   time.Duration `json:"readTimeout" mapstructure:"readTimeout"`
	JPEGQuality   int           `json:"jpegQuality" mapstructure:"jpegQuality"`
	CameraFile    string        `json:"cameraFile" mapstructure:"cameraFile"`
	DetectionFile string        `json:"detectionFile" mapstructure:"detectionFile"`
	RecordDir     string        `json:"recordDir" mapstructure:"recordDir"`
}

// MQTTConfig configures the status emitter and keypoint subscription.
type MQTTConfig struct {
	Enabled        bool   `json:"enabled" mapstructure:"enabled"`
	Broker         string `json:"broker" mapstructure:"broker"`
	ClientID       string `json:"clientId" mapstructure:"clientId"`
	TopicPrefix    string `json:"topicPrefix" mapstructure:"topicPrefix"`
	KeypointsTopic string `json:"keypointsTopic" mapstructure:"keypointsTopic"`
	FramesTopic    string `json:"framesTopic" mapstructure:"framesTopic"`
	QoS            byte   `json:"qos" mapstructure:"qos"`
}

// InfluxConfig configures the time-series sink.
type InfluxConfig struct {
	Enabled  bool   `json:"enabled" mapstructure:"enabled"`
	Protocol string `json:"protocol" mapstructure:"protocol"`
	Host     string `json:"host" mapstructure:"host"`
	Port     string `json:"port" mapstructure:"port"`
	Token    string `json:"token" mapstructure:"token"`
	Org      string `json:"org" mapstructure:"org"`
	Bucket   string `json:"bucket" mapstructure:"bucket"`
}

// TelemetryConfig sizes the dispatcher buffers and the flush cadence.
type TelemetryConfig struct {
	FlushInterval time.Duration `json:"flushInterval" mapstructure:"flushInterval"`
	BufferSize    int           `json:"bufferSize" mapstructure:"bufferSize"`
	QueueLimit    int           `json:"queueLimit" mapstructure:"queueLimit"`
}

// Load reads configuration from JSON file and sets default values.
// configDir is the directory containing the config file. Defaults stay in
// effect when the file is missing; the returned error then wraps
// viper.ConfigFileNotFoundError.
func Load(configDir string) error {
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./sentrylogs")
	viper.SetDefault("logKeep", 20)

	viper.SetDefault("http.address", ":5000")
	viper.SetDefault("api.serverUrl", "http://localhost:5000")

	viper.SetDefault("calibration.file", "calibration.json")

	viper.SetDefault("serial.port", "")
	viper.SetDefault("serial.baudRate", 9600)

	viper.SetDefault("scan.pauseBeforeResuming", "2s")
	viper.SetDefault("scan.spacing", "700ms")
	viper.SetDefault("scan.increment", 10)

	viper.SetDefault("video.source", "mailbox")
	viper.SetDefault("video.imageDir", "")
	viper.SetDefault("video.fps", 10)
	viper.SetDefault("video.width", 0)
	viper.SetDefault("video.readTimeout", "1s")
	viper.SetDefault("video.jpegQuality", 80)
	viper.SetDefault("video.cameraFile", "camera.json")
	viper.SetDefault("video.detectionFile", "detection.yaml")
	viper.SetDefault("video.recordDir", "")

	viper.SetDefault("storage.type", "memory")
	viper.SetDefault("storage.memory.outputDir", "./recordings")
	viper.SetDefault("storage.memory.compressOutput", true)
	viper.SetDefault("storage.database.host", "localhost")
	viper.SetDefault("storage.database.port", "5432")
	viper.SetDefault("storage.database.username", "postgres")
	viper.SetDefault("storage.database.password", "postgres")
	viper.SetDefault("storage.database.database", "sentry")
	viper.SetDefault("storage.sqlite.path", "./recordings/sentry.db")
	viper.SetDefault("storage.sqlite.dumpInterval", "3m")

	viper.SetDefault("telemetry.flushInterval", "1s")
	viper.SetDefault("telemetry.bufferSize", 1000)
	viper.SetDefault("telemetry.queueLimit", 10000)

	viper.SetDefault("monitor.statusFile", "status.json")
	viper.SetDefault("monitor.interval", "1s")

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.token", "supersecrettoken")
	viper.SetDefault("influx.org", "sentry")
	viper.SetDefault("influx.bucket", "turret")

	viper.SetDefault("mqtt.enabled", false)
	viper.SetDefault("mqtt.broker", "tcp://localhost:1883")
	viper.SetDefault("mqtt.clientId", "sentry")
	viper.SetDefault("mqtt.topicPrefix", "sentry")
	viper.SetDefault("mqtt.keypointsTopic", "sentry/keypoints")
	viper.SetDefault("mqtt.framesTopic", "sentry/frames")
	viper.SetDefault("mqtt.qos", 0)

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.serviceName", "sentry")
	viper.SetDefault("otel.batchTimeout", "5s")
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)

	viper.SetConfigName(FileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	err := viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("error reading config file: %w", err)
	}

	return nil
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// GetDuration returns a duration config value.
func GetDuration(key string) time.Duration {
	return viper.GetDuration(key)
}

// GetStorageConfig returns the storage section.
func GetStorageConfig() StorageConfig {
	return StorageConfig{
		Type: viper.GetString("storage.type"),
		Memory: MemoryConfig{
			OutputDir:      viper.GetString("storage.memory.outputDir"),
			CompressOutput: viper.GetBool("storage.memory.compressOutput"),
		},
		Database: DatabaseConfig{
			Host:     viper.GetString("storage.database.host"),
			Port:     viper.GetString("storage.database.port"),
			Username: viper.GetString("storage.database.username"),
			Password: viper.GetString("storage.database.password"),
			Database: viper.GetString("storage.database.database"),
		},
		SQLite: SQLiteConfig{
			Path:         viper.GetString("storage.sqlite.path"),
			DumpInterval: viper.GetDuration("storage.sqlite.dumpInterval"),
		},
	}
}

// GetOTelConfig returns the otel section.
func GetOTelConfig() OTelConfig {
	return OTelConfig{
		Enabled:      viper.GetBool("otel.enabled"),
		ServiceName:  viper.GetString("otel.serviceName"),
		BatchTimeout: viper.GetDuration("otel.batchTimeout"),
		Endpoint:     viper.GetString("otel.endpoint"),
		Insecure:     viper.GetBool("otel.insecure"),
	}
}

// GetSerialConfig returns the serial section.
func GetSerialConfig() SerialConfig {
	return SerialConfig{
		Port:     viper.GetString("serial.port"),
		BaudRate: viper.GetInt("serial.baudRate"),
	}
}

// GetScanConfig returns the scan section.
func GetScanConfig() ScanConfig {
	return ScanConfig{
		PauseBeforeResuming: viper.GetDuration("scan.pauseBeforeResuming"),
		Spacing:             viper.GetDuration("scan.spacing"),
		Increment:           viper.GetInt("scan.increment"),
	}
}

// GetVideoConfig returns the video section.
func GetVideoConfig() VideoConfig {
	return VideoConfig{
		Source:        viper.GetString("video.source"),
		ImageDir:      viper.GetString("video.imageDir"),
		FPS:           viper.GetInt("video.fps"),
		Width:         viper.GetInt("video.width"),
		ReadTimeout:   viper.GetDuration("video.readTimeout"),
		JPEGQuality:   viper.GetInt("video.jpegQuality"),
		CameraFile:    viper.GetString("video.cameraFile"),
		DetectionFile: viper.GetString("video.detectionFile"),
		RecordDir:     viper.GetString("video.recordDir"),
	}
}

// GetMQTTConfig returns the mqtt section.
func GetMQTTConfig() MQTTConfig {
	return MQTTConfig{
		Enabled:        viper.GetBool("mqtt.enabled"),
		Broker:         viper.GetString("mqtt.broker"),
		ClientID:       viper.GetString("mqtt.clientId"),
		TopicPrefix:    viper.GetString("mqtt.topicPrefix"),
		KeypointsTopic: viper.GetString("mqtt.keypointsTopic"),
		FramesTopic:    viper.GetString("mqtt.framesTopic"),
		QoS:            byte(viper.GetUint("mqtt.qos")),
	}
}

// GetInfluxConfig returns the influx section.
func GetInfluxConfig() InfluxConfig {
	return InfluxConfig{
		Enabled:  viper.GetBool("influx.enabled"),
		Protocol: viper.GetString("influx.protocol"),
		Host:     viper.GetString("influx.host"),
		Port:     viper.GetString("influx.port"),
		Token:    viper.GetString("influx.token"),
		Org:      viper.GetString("influx.org"),
		Bucket:   viper.GetString("influx.bucket"),
	}
}

// GetTelemetryConfig returns the telemetry section.
func GetTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		FlushInterval: viper.GetDuration("telemetry.flushInterval"),
		BufferSize:    viper.GetInt("telemetry.bufferSize"),
		QueueLimit:    viper.GetInt("telemetry.queueLimit"),
	}
}
