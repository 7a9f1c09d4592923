package config

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var defaultsYAML []byte

type Config struct {
	Database  DatabaseConfig
	Legacy    LegacyConfig
	Rollcall  RollcallConfig
	Embedding EmbeddingConfig
	Camera    CameraConfig
	Reference ReferenceConfig
	Matching  MatchingConfig
	Capture   CaptureConfig
	Sync      SyncConfig
	Schedule  ScheduleConfig
	Web       WebConfig
	Log       LogConfig
}

type DatabaseConfig struct {
	URL          string // PostgreSQL connection URL
	MaxOpenConns int    // Maximum open connections (default 25)
	MaxIdleConns int    // Maximum idle connections (default 5)
}

// LegacyConfig points at the school information system database (MariaDB),
// used read-only as a roster and schedule source.
type LegacyConfig struct {
	DatabaseURL string // MariaDB DSN (e.g., sis:secret@tcp(mariadb:3306)/sis?parseTime=true)
}

// RollcallConfig configures the remote roster/attendance API.
type RollcallConfig struct {
	URL   string
	Token string
}

type EmbeddingConfig struct {
	URL string // defaults to http://localhost:8000
}

type CameraConfig struct {
	SnapshotURL  string // IP camera JPEG snapshot endpoint
	FrameDir     string // directory of frames replayed in order (for demos and tests)
	MaxImageSize int
}

type ReferenceConfig struct {
	Dir string // base directory for reference images when no remote API is configured
}

type MatchingConfig struct {
	PresenceThreshold float64 `yaml:"presence_threshold"`
	DrawThreshold     float64 `yaml:"draw_threshold"`
	Metric            string  `yaml:"metric"`
	HNSWMinStudents   int     `yaml:"hnsw_min_students"`
}

type CaptureConfig struct {
	Tick         time.Duration `yaml:"tick"`
	MaxImageSize int           `yaml:"max_image_size"`
}

type SyncConfig struct {
	FlushTimeout     time.Duration `yaml:"flush_timeout"`
	SessionRetention time.Duration `yaml:"session_retention"`
}

type ScheduleConfig struct {
	Timezone string // IANA name; empty means the local zone
}

type WebConfig struct {
	Port           int
	Host           string
	APIToken       string   // optional bearer token required on /api/v1 routes
	AllowedOrigins []string // browser origins allowed by CORS besides loopback
}

type LogConfig struct {
	Level  string // debug, info, warn, error
	Format string // json or console
}

// tuning mirrors the layout of defaults.yaml.
type tuning struct {
	Matching MatchingConfig `yaml:"matching"`
	Capture  CaptureConfig  `yaml:"capture"`
	Sync     SyncConfig     `yaml:"sync"`
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads a positive float environment variable, falling back to defaultVal.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 {
		return f
	}
	return defaultVal
}

// envDuration reads a positive duration environment variable, falling back to defaultVal.
func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return defaultVal
}

// envString reads an environment variable, falling back to defaultVal when empty.
func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

// envList reads a comma-separated environment variable, skipping empty items.
func envList(key string) []string {
	var out []string
	for item := range strings.SplitSeq(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func Load() *Config {
	var t tuning
	if err := yaml.Unmarshal(defaultsYAML, &t); err != nil {
		// This is an embedded file so this error should never happen in practice
		panic("failed to unmarshal embedded defaults.yaml: " + err.Error())
	}

	return &Config{
		Database: DatabaseConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", 5),
		},
		Legacy: LegacyConfig{
			DatabaseURL: os.Getenv("LEGACY_DATABASE_URL"),
		},
		Rollcall: RollcallConfig{
			URL:   os.Getenv("ROLLCALL_API_URL"),
			Token: os.Getenv("ROLLCALL_API_TOKEN"),
		},
		Embedding: EmbeddingConfig{
			URL: os.Getenv("EMBEDDING_URL"),
		},
		Camera: CameraConfig{
			SnapshotURL:  os.Getenv("CAMERA_SNAPSHOT_URL"),
			FrameDir:     os.Getenv("CAMERA_FRAME_DIR"),
			MaxImageSize: envInt("CAMERA_MAX_IMAGE_SIZE", t.Capture.MaxImageSize),
		},
		Reference: ReferenceConfig{
			Dir: os.Getenv("REFERENCE_IMAGE_DIR"),
		},
		Matching: MatchingConfig{
			PresenceThreshold: envFloat("PRESENCE_THRESHOLD", t.Matching.PresenceThreshold),
			DrawThreshold:     envFloat("DRAW_THRESHOLD", t.Matching.DrawThreshold),
			Metric:            envString("DISTANCE_METRIC", t.Matching.Metric),
			HNSWMinStudents:   envInt("HNSW_MIN_STUDENTS", t.Matching.HNSWMinStudents),
		},
		Capture: CaptureConfig{
			Tick:         envDuration("CAPTURE_TICK", t.Capture.Tick),
			MaxImageSize: t.Capture.MaxImageSize,
		},
		Sync: SyncConfig{
			FlushTimeout:     envDuration("FLUSH_TIMEOUT", t.Sync.FlushTimeout),
			SessionRetention: envDuration("SESSION_RETENTION", t.Sync.SessionRetention),
		},
		Schedule: ScheduleConfig{
			Timezone: os.Getenv("SCHEDULE_TIMEZONE"),
		},
		Web: WebConfig{
			Port:           envInt("WEB_PORT", 8080),
			Host:           envString("WEB_HOST", "0.0.0.0"),
			APIToken:       os.Getenv("WEB_API_TOKEN"),
			AllowedOrigins: envList("WEB_ALLOWED_ORIGINS"),
		},
		Log: LogConfig{
			Level:  envString("LOG_LEVEL", "info"),
			Format: envString("LOG_FORMAT", "json"),
		},
	}
}

// Validate checks the tuning knobs for consistency.
func (c *Config) Validate() error {
	m := c.Matching
	if m.PresenceThreshold <= 0 {
		return errors.New("presence threshold must be positive")
	}
	if m.DrawThreshold <= m.PresenceThreshold {
		return fmt.Errorf("draw threshold %.3f must be greater than presence threshold %.3f",
			m.DrawThreshold, m.PresenceThreshold)
	}
	if m.Metric != "euclidean" && m.Metric != "cosine" {
		return fmt.Errorf("unknown distance metric %q", m.Metric)
	}
	if c.Capture.Tick <= 0 {
		return errors.New("capture tick must be positive")
	}
	if _, err := c.Schedule.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves the schedule timezone.
func (c *ScheduleConfig) Location() (*time.Location, error) {
	if c.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("loading schedule timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}
