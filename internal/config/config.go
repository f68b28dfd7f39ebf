package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/BrandonDHaskell/Argus/internal/argus/types"
	"github.com/BrandonDHaskell/Argus/internal/argus/zone"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// DefaultPath is used when ARGUS_CONFIG is unset.
const DefaultPath = "./config/argus.yaml"

type Config struct {
	HTTPAddr         string `yaml:"http_addr"`
	GRPCAddr         string `yaml:"grpc_addr"`
	Env              string `yaml:"env"`     // "dev" | "prod"
	DBPath           string `yaml:"db_path"` // e.g. "./data/argus.db"
	ShutdownTimeoutS int    `yaml:"shutdown_timeout_s"`

	Camera    CameraConfig    `yaml:"camera"`
	Detector  DetectorConfig  `yaml:"detector"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Motion    MotionConfig    `yaml:"motion"`
	Zones     []ZoneConfig    `yaml:"zones"`
	Tamper    TamperConfig    `yaml:"tamper"`
	Behavior  BehaviorConfig  `yaml:"behavior"`
	Recording RecordingConfig `yaml:"recording"`
	Storage   StorageConfig   `yaml:"storage"`
	Alerts    AlertsConfig    `yaml:"alerts"`
	Events    EventsConfig    `yaml:"events"`
}

type CameraConfig struct {
	Input          string `yaml:"input"` // rtsp URL, file or /dev/videoN
	Width          int    `yaml:"width"`
	Height         int    `yaml:"height"`
	FPS            int    `yaml:"fps"`
	FFmpeg         string `yaml:"ffmpeg"`
	Finite         bool   `yaml:"finite"` // file input: stop at end of stream
	SourceTimeoutS int    `yaml:"source_timeout_s"`
}

type DetectorConfig struct {
	Command     string   `yaml:"command"`
	Args        []string `yaml:"args"`
	Confidence  float64  `yaml:"confidence"`
	Classes     []int    `yaml:"classes"`
	TimeoutS    int      `yaml:"timeout_s"`
	JPEGQuality int      `yaml:"jpeg_quality"`
}

type PipelineConfig struct {
	FrameSkip        int `yaml:"frame_skip"`
	MaintenanceEvery int `yaml:"maintenance_every"`
}

type MotionConfig struct {
	Threshold    float64 `yaml:"threshold"`
	PixelDelta   float64 `yaml:"pixel_delta"`
	LearningRate float64 `yaml:"learning_rate"`
}

// ZoneConfig is one monitored region. Points are pixels unless Normalized,
// in which case they are fractions of the frame size.
type ZoneConfig struct {
	Name        string      `yaml:"name"`
	Points      [][]float64 `yaml:"points"`
	Normalized  bool        `yaml:"normalized"`
	Sensitivity float64     `yaml:"sensitivity"`
	Enabled     *bool       `yaml:"enabled"`
}

type TamperConfig struct {
	BrightnessThreshold float64 `yaml:"brightness_threshold"`
	RelativeDrop        float64 `yaml:"relative_drop"`
	MovementThreshold   float64 `yaml:"movement_threshold"`
	CheckIntervalS      float64 `yaml:"check_interval_s"`
}

type BehaviorConfig struct {
	SlotMinutes        int     `yaml:"slot_minutes"`
	LearningPeriodDays int     `yaml:"learning_period_days"`
	MinSamples         int     `yaml:"min_samples"`
	ZThreshold         float64 `yaml:"anomaly_z_threshold"`
	ProfilePath        string  `yaml:"profile_path"`
}

type RecordingConfig struct {
	Dir          string `yaml:"dir"`
	PreBufferS   int    `yaml:"pre_buffer_s"`
	PostBufferS  int    `yaml:"post_buffer_s"`
	MaxDurationS int    `yaml:"max_duration_s"`
}

type StorageConfig struct {
	MaxGB             float64 `yaml:"max_gb"`
	RetainFraction    float64 `yaml:"retain_fraction"`
	MinRetentionHours int     `yaml:"min_retention_hours"`
	SweepIntervalS    int     `yaml:"sweep_interval_s"`
}

type AlertsConfig struct {
	CooldownS int        `yaml:"cooldown_s"`
	MQTT      MQTTConfig `yaml:"mqtt"`
}

type MQTTConfig struct {
	Broker      string `yaml:"broker"` // host:port, empty disables MQTT
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         byte   `yaml:"qos"`
}

type EventsConfig struct {
	RetentionDays      int `yaml:"retention_days"` // 0 = keep forever
	PruneIntervalHours int `yaml:"prune_interval_hours"`
	AppendTimeoutMS    int `yaml:"append_timeout_ms"`
}

func Default() Config {
	return Config{
		HTTPAddr:         ":8080",
		GRPCAddr:         ":9090",
		Env:              "dev",
		DBPath:           "./data/argus.db",
		ShutdownTimeoutS: 10,
		Camera: CameraConfig{
			Width:          1280,
			Height:         720,
			FPS:            10,
			FFmpeg:         "ffmpeg",
			SourceTimeoutS: 10,
		},
		Detector: DetectorConfig{
			Confidence:  0.5,
			Classes:     []int{0},
			TimeoutS:    5,
			JPEGQuality: 80,
		},
		Pipeline: PipelineConfig{FrameSkip: 1, MaintenanceEvery: 300},
		Motion:   MotionConfig{Threshold: 0.02, PixelDelta: 25, LearningRate: 0.05},
		Tamper: TamperConfig{
			BrightnessThreshold: 20,
			RelativeDrop:        0.7,
			MovementThreshold:   0.15,
			CheckIntervalS:      1,
		},
		Behavior: BehaviorConfig{
			SlotMinutes:        30,
			LearningPeriodDays: 7,
			MinSamples:         10,
			ZThreshold:         2.5,
			ProfilePath:        "./data/behavior_profile.msgpack",
		},
		Recording: RecordingConfig{
			Dir:          "./recordings",
			PreBufferS:   5,
			PostBufferS:  10,
			MaxDurationS: 300,
		},
		Storage: StorageConfig{
			MaxGB:             32,
			RetainFraction:    0.8,
			MinRetentionHours: 24,
			SweepIntervalS:    300,
		},
		Alerts: AlertsConfig{
			CooldownS: 60,
			MQTT:      MQTTConfig{ClientID: "argus", TopicPrefix: "argus/alerts", QoS: 1},
		},
		Events: EventsConfig{RetentionDays: 30, PruneIntervalHours: 6, AppendTimeoutMS: 2000},
	}
}

// Path returns the config file location from ARGUS_CONFIG.
func Path() string {
	return getenvDefault("ARGUS_CONFIG", DefaultPath)
}

// Load starts from Default, overlays the YAML file at path if it exists,
// applies environment overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.HTTPAddr = getenvDefault("ARGUS_HTTP_ADDR", c.HTTPAddr)
	c.GRPCAddr = getenvDefault("ARGUS_GRPC_ADDR", c.GRPCAddr)
	c.DBPath = getenvDefault("ARGUS_DB_PATH", c.DBPath)
	c.Camera.Input = getenvDefault("ARGUS_CAMERA_INPUT", c.Camera.Input)
	c.Recording.Dir = getenvDefault("ARGUS_RECORDINGS_DIR", c.Recording.Dir)
	c.Alerts.MQTT.Broker = getenvDefault("ARGUS_MQTT_BROKER", c.Alerts.MQTT.Broker)
	c.Events.RetentionDays = getenvInt("ARGUS_EVENT_RETENTION_DAYS", c.Events.RetentionDays)

	if args := splitCSV(os.Getenv("ARGUS_DETECTOR_CMD")); len(args) > 0 {
		c.Detector.Command, c.Detector.Args = args[0], args[1:]
	}

	c.Env = strings.ToLower(getenvDefault("ARGUS_ENV", c.Env))
	if c.Env != "dev" && c.Env != "prod" {
		// fail-soft: treat unknown as dev
		c.Env = "dev"
	}
}

// Validate rejects settings the pipeline cannot start with. Fields where
// 0 has a meaning (cooldown_s, pre_buffer_s, min_retention_hours,
// retention_days) accept it; every other count or duration must be
// positive.
func (c Config) Validate() error {
	bad := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
	}
	positive := []struct {
		name string
		v    float64
	}{
		{"shutdown_timeout_s", float64(c.ShutdownTimeoutS)},
		{"camera.fps", float64(c.Camera.FPS)},
		{"camera.source_timeout_s", float64(c.Camera.SourceTimeoutS)},
		{"detector.timeout_s", float64(c.Detector.TimeoutS)},
		{"pipeline.frame_skip", float64(c.Pipeline.FrameSkip)},
		{"pipeline.maintenance_every", float64(c.Pipeline.MaintenanceEvery)},
		{"motion.pixel_delta", c.Motion.PixelDelta},
		{"tamper.brightness_threshold", c.Tamper.BrightnessThreshold},
		{"tamper.check_interval_s", c.Tamper.CheckIntervalS},
		{"behavior.learning_period_days", float64(c.Behavior.LearningPeriodDays)},
		{"behavior.min_samples", float64(c.Behavior.MinSamples)},
		{"behavior.anomaly_z_threshold", c.Behavior.ZThreshold},
		{"recording.post_buffer_s", float64(c.Recording.PostBufferS)},
		{"recording.max_duration_s", float64(c.Recording.MaxDurationS)},
		{"storage.max_gb", c.Storage.MaxGB},
		{"storage.sweep_interval_s", float64(c.Storage.SweepIntervalS)},
		{"events.prune_interval_hours", float64(c.Events.PruneIntervalHours)},
		{"events.append_timeout_ms", float64(c.Events.AppendTimeoutMS)},
	}
	for _, f := range positive {
		if f.v <= 0 {
			return bad("%s must be positive", f.name)
		}
	}
	notNegative := []struct {
		name string
		v    int
	}{
		{"recording.pre_buffer_s", c.Recording.PreBufferS},
		{"storage.min_retention_hours", c.Storage.MinRetentionHours},
		{"alerts.cooldown_s", c.Alerts.CooldownS},
		{"events.retention_days", c.Events.RetentionDays},
	}
	for _, f := range notNegative {
		if f.v < 0 {
			return bad("%s must not be negative", f.name)
		}
	}

	switch {
	case c.Camera.Input == "":
		return bad("camera.input is required")
	case c.Camera.Width <= 0 || c.Camera.Height <= 0:
		return bad("camera size %dx%d", c.Camera.Width, c.Camera.Height)
	case c.Detector.Command == "":
		return bad("detector.command is required")
	case c.Detector.Confidence <= 0 || c.Detector.Confidence > 1:
		return bad("detector.confidence %v outside (0,1]", c.Detector.Confidence)
	case c.Detector.JPEGQuality < 1 || c.Detector.JPEGQuality > 100:
		return bad("detector.jpeg_quality %d outside [1,100]", c.Detector.JPEGQuality)
	case c.Motion.Threshold <= 0 || c.Motion.Threshold > 1:
		return bad("motion.threshold %v outside (0,1]", c.Motion.Threshold)
	case c.Motion.LearningRate <= 0 || c.Motion.LearningRate > 1:
		return bad("motion.learning_rate %v outside (0,1]", c.Motion.LearningRate)
	case c.Tamper.RelativeDrop <= 0 || c.Tamper.RelativeDrop > 1:
		return bad("tamper.relative_drop %v outside (0,1]", c.Tamper.RelativeDrop)
	case c.Tamper.MovementThreshold <= 0 || c.Tamper.MovementThreshold > 1:
		return bad("tamper.movement_threshold %v outside (0,1]", c.Tamper.MovementThreshold)
	case c.Behavior.SlotMinutes <= 0 || 24*60%c.Behavior.SlotMinutes != 0:
		return bad("behavior.slot_minutes %d must divide a day", c.Behavior.SlotMinutes)
	case c.Recording.Dir == "":
		return bad("recording.dir is required")
	case c.Storage.RetainFraction <= 0 || c.Storage.RetainFraction > 1:
		return bad("storage.retain_fraction %v outside (0,1]", c.Storage.RetainFraction)
	case c.Alerts.MQTT.QoS > 2:
		return bad("alerts.mqtt.qos %d outside [0,2]", c.Alerts.MQTT.QoS)
	}
	if _, err := c.ZoneDefinitions(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// ZoneDefinitions converts the configured zones to pixel coordinates of the
// camera stream and validates them.
func (c Config) ZoneDefinitions() ([]types.ZoneDefinition, error) {
	out := make([]types.ZoneDefinition, 0, len(c.Zones))
	for _, zc := range c.Zones {
		poly := make([]types.Point, len(zc.Points))
		for i, p := range zc.Points {
			if len(p) != 2 {
				return nil, fmt.Errorf("%w: zone %q point #%d needs [x, y]", zone.ErrInvalidZone, zc.Name, i)
			}
			poly[i] = types.Point{X: p[0], Y: p[1]}
		}
		if zc.Normalized {
			poly = zone.Scale(poly, c.Camera.Width, c.Camera.Height)
		}
		sens := zc.Sensitivity
		if sens == 0 {
			sens = 1
		}
		out = append(out, types.ZoneDefinition{
			Name:        zc.Name,
			Polygon:     poly,
			Sensitivity: sens,
			Enabled:     zc.Enabled == nil || *zc.Enabled,
		})
	}
	if err := zone.Validate(out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c Config) StorageMaxBytes() int64 {
	return int64(c.Storage.MaxGB * (1 << 30))
}

func getenvDefault(key, def string) string {
	v := os.Getenv(key)
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}

func splitCSV(v string) []string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
