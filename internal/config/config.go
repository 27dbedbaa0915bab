// Package config loads the per-process configuration envelope from the
// environment (with optional .env support) plus an optional YAML file of
// static camera presets.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the process-wide configuration envelope (SPEC_FULL §6).
type Config struct {
	// Core processing plane.
	MaxConcurrentJobs     int
	RTSPReconnectAttempts int
	RTSPReconnectDelay    time.Duration
	RTSPFPSCap            float64
	RTSPWidth             int
	RTSPHeight            int
	JPEGQuality           int
	TrackIoUMin           float64
	TrackMissMax          int
	TrackHistoryLen       int
	CrossingThresholdPx   float64
	MinDetConf            float64
	JobRetentionMinutes   int
	ControlQueueCap       int

	// Ambient / domain wiring.
	HTTPAddr           string
	GRPCHealthAddr     string
	DetectorURL        string
	DetectorTimeout    time.Duration
	DBPath             string
	LogLevel           string
	LogFormat          string
	CameraPresetsFile  string
	JournalPath        string
	DrainTimeout       time.Duration
	WatchdogGrace      time.Duration
}

// CameraPreset is one statically pre-configured RTSP camera, loaded at
// startup so operators don't have to re-POST it after every restart.
type CameraPreset struct {
	CameraID   string  `yaml:"camera_id"`
	RTSPURL    string  `yaml:"rtsp_url"`
	LineP1X    float64 `yaml:"line_p1_x"`
	LineP1Y    float64 `yaml:"line_p1_y"`
	LineP2X    float64 `yaml:"line_p2_x"`
	LineP2Y    float64 `yaml:"line_p2_y"`
	Reversal   string  `yaml:"reversal_policy"`
	AutoStart  bool    `yaml:"auto_start"`
}

type presetsFile struct {
	Cameras []CameraPreset `yaml:"cameras"`
}

// Load reads a .env file if present (real environment variables always
// win), then builds a Config from the environment, applying spec defaults
// for anything unset.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		MaxConcurrentJobs:     getEnvInt("MAX_CONCURRENT_JOBS", 4),
		RTSPReconnectAttempts: getEnvInt("RTSP_RECONNECT_ATTEMPTS", 3),
		RTSPReconnectDelay:    getEnvDuration("RTSP_RECONNECT_DELAY_S", 5*time.Second),
		RTSPFPSCap:            getEnvFloat("RTSP_FPS_CAP", 0),
		RTSPWidth:             getEnvInt("RTSP_WIDTH", 1280),
		RTSPHeight:            getEnvInt("RTSP_HEIGHT", 720),
		JPEGQuality:           getEnvInt("JPEG_QUALITY", 85),
		TrackIoUMin:           getEnvFloat("TRACK_IOU_MIN", 0.3),
		TrackMissMax:          getEnvInt("TRACK_MISS_MAX", 30),
		TrackHistoryLen:       getEnvInt("TRACK_HISTORY_LEN", 30),
		CrossingThresholdPx:   getEnvFloat("CROSSING_THRESHOLD_PX", 5),
		MinDetConf:            getEnvFloat("MIN_DET_CONF", 0.3),
		JobRetentionMinutes:   getEnvInt("JOB_RETENTION_MINUTES", 30),
		ControlQueueCap:       getEnvInt("CONTROL_QUEUE_CAP", 8),

		HTTPAddr:          getEnv("HTTP_ADDR", ":8080"),
		GRPCHealthAddr:    getEnv("GRPC_HEALTH_ADDR", ":9090"),
		DetectorURL:       getEnv("DETECTOR_URL", "http://localhost:9001/detect"),
		DetectorTimeout:   getEnvMillis("DETECTOR_TIMEOUT_MS", 2*time.Second),
		DBPath:            getEnv("DB_PATH", "./data/events.db"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		LogFormat:         getEnv("LOG_FORMAT", "json"),
		CameraPresetsFile: getEnv("CAMERA_PRESETS_FILE", ""),
		JournalPath:       getEnv("JOURNAL_PATH", "./data/event-journal.ndjson"),
		DrainTimeout:      getEnvDuration("DRAIN_TIMEOUT_S", 15*time.Second),
		WatchdogGrace:     getEnvDuration("WATCHDOG_GRACE_S", 10*time.Second),
	}

	if cfg.MaxConcurrentJobs <= 0 {
		return nil, fmt.Errorf("config: MAX_CONCURRENT_JOBS must be positive")
	}
	return cfg, nil
}

// LoadCameraPresets reads the optional YAML camera presets file. Returns an
// empty slice, not an error, if no file is configured.
func LoadCameraPresets(path string) ([]CameraPreset, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read camera presets: %w", err)
	}
	var pf presetsFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("config: parse camera presets: %w", err)
	}
	return pf.Cameras, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return time.Duration(secs * float64(time.Second))
}

func getEnvMillis(key string, fallback time.Duration) time.Duration {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return fallback
	}
	ms, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return time.Duration(ms * float64(time.Millisecond))
}
