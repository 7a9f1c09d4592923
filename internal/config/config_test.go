package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := Load()

	if cfg.Matching.PresenceThreshold != 0.48 {
		t.Errorf("expected presence threshold 0.48, got %f", cfg.Matching.PresenceThreshold)
	}
	if cfg.Matching.DrawThreshold != 0.8 {
		t.Errorf("expected draw threshold 0.8, got %f", cfg.Matching.DrawThreshold)
	}
	if cfg.Matching.Metric != "euclidean" {
		t.Errorf("expected euclidean metric, got %q", cfg.Matching.Metric)
	}
	if cfg.Capture.Tick != 300*time.Millisecond {
		t.Errorf("expected 300ms tick, got %v", cfg.Capture.Tick)
	}
	if cfg.Sync.FlushTimeout != 10*time.Second {
		t.Errorf("expected 10s flush timeout, got %v", cfg.Sync.FlushTimeout)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected defaults to validate, got %v", err)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PRESENCE_THRESHOLD", "0.4")
	t.Setenv("DRAW_THRESHOLD", "0.7")
	t.Setenv("DISTANCE_METRIC", "cosine")
	t.Setenv("CAPTURE_TICK", "1s")
	t.Setenv("DATABASE_MAX_OPEN_CONNS", "7")
	t.Setenv("WEB_PORT", "9090")
	t.Setenv("WEB_ALLOWED_ORIGINS", " https://school.example,, https://other.example ")

	cfg := Load()

	if cfg.Matching.PresenceThreshold != 0.4 {
		t.Errorf("expected 0.4, got %f", cfg.Matching.PresenceThreshold)
	}
	if cfg.Matching.DrawThreshold != 0.7 {
		t.Errorf("expected 0.7, got %f", cfg.Matching.DrawThreshold)
	}
	if cfg.Matching.Metric != "cosine" {
		t.Errorf("expected cosine, got %q", cfg.Matching.Metric)
	}
	if cfg.Capture.Tick != time.Second {
		t.Errorf("expected 1s, got %v", cfg.Capture.Tick)
	}
	if cfg.Database.MaxOpenConns != 7 {
		t.Errorf("expected 7, got %d", cfg.Database.MaxOpenConns)
	}
	if cfg.Web.Port != 9090 {
		t.Errorf("expected 9090, got %d", cfg.Web.Port)
	}
	if got := cfg.Web.AllowedOrigins; len(got) != 2 || got[0] != "https://school.example" || got[1] != "https://other.example" {
		t.Errorf("unexpected allowed origins %q", got)
	}
}

func TestLoad_InvalidEnvFallsBack(t *testing.T) {
	t.Setenv("PRESENCE_THRESHOLD", "not-a-number")
	t.Setenv("CAPTURE_TICK", "-5s")
	t.Setenv("DATABASE_MAX_IDLE_CONNS", "0")

	cfg := Load()

	if cfg.Matching.PresenceThreshold != 0.48 {
		t.Errorf("expected fallback 0.48, got %f", cfg.Matching.PresenceThreshold)
	}
	if cfg.Capture.Tick != 300*time.Millisecond {
		t.Errorf("expected fallback 300ms, got %v", cfg.Capture.Tick)
	}
	if cfg.Database.MaxIdleConns != 5 {
		t.Errorf("expected fallback 5, got %d", cfg.Database.MaxIdleConns)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"draw below presence", func(c *Config) { c.Matching.DrawThreshold = 0.3 }, true},
		{"draw equals presence", func(c *Config) { c.Matching.DrawThreshold = c.Matching.PresenceThreshold }, true},
		{"unknown metric", func(c *Config) { c.Matching.Metric = "manhattan" }, true},
		{"zero tick", func(c *Config) { c.Capture.Tick = 0 }, true},
		{"bad timezone", func(c *Config) { c.Schedule.Timezone = "Mars/Olympus" }, true},
		{"utc timezone", func(c *Config) { c.Schedule.Timezone = "UTC" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Load()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
