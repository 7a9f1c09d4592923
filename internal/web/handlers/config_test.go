package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kozaktomas/rollcall/internal/config"
)

func TestNewConfigHandler(t *testing.T) {
	cfg := &config.Config{}

	handler := NewConfigHandler(cfg)

	if handler == nil {
		t.Fatal("expected non-nil handler")
		return
	}

	if handler.config != cfg {
		t.Error("expected handler to hold reference to config")
	}
}

func TestConfigHandler_Get(t *testing.T) {
	cfg := &config.Config{
		Matching: config.MatchingConfig{PresenceThreshold: 0.48, DrawThreshold: 0.8, Metric: "euclidean", HNSWMinStudents: 64},
		Capture:  config.CaptureConfig{Tick: 300 * time.Millisecond},
		Camera:   config.CameraConfig{FrameDir: "/frames", MaxImageSize: 1280},
		Rollcall: config.RollcallConfig{URL: "https://sis.example/api", Token: "secret-token"},
		Schedule: config.ScheduleConfig{Timezone: "Europe/Prague"},
	}
	handler := NewConfigHandler(cfg)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/config", nil)
	recorder := httptest.NewRecorder()
	handler.Get(recorder, req)

	if recorder.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, recorder.Code)
	}
	if ct := recorder.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected Content-Type 'application/json', got '%s'", ct)
	}
	if body := recorder.Body.String(); strings.Contains(body, "secret-token") {
		t.Error("config response must not include secrets")
	}

	resp := decodeBody[ConfigResponse](t, recorder)
	if resp.Matching.PresenceThreshold != 0.48 || resp.Matching.DrawThreshold != 0.8 {
		t.Errorf("unexpected thresholds %+v", resp.Matching)
	}
	if resp.Capture.Source != "directory" || resp.Capture.Tick != "300ms" {
		t.Errorf("unexpected capture info %+v", resp.Capture)
	}
	if resp.Timezone != "Europe/Prague" {
		t.Errorf("unexpected timezone %q", resp.Timezone)
	}
	found := false
	for _, b := range resp.Backends {
		if b.Name == "rollcall" {
			found = b.Available
		}
	}
	if !found {
		t.Error("expected rollcall backend to be reported available")
	}
}
