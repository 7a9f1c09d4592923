package handlers

import (
	"net/http"

	"github.com/kozaktomas/rollcall/internal/config"
	"github.com/kozaktomas/rollcall/internal/database"
)

// ConfigHandler handles configuration endpoints
type ConfigHandler struct {
	config *config.Config
}

// NewConfigHandler creates a new config handler
func NewConfigHandler(cfg *config.Config) *ConfigHandler {
	return &ConfigHandler{
		config: cfg,
	}
}

// ConfigResponse represents the configuration response
type ConfigResponse struct {
	Matching  MatchingInfo  `json:"matching"`
	Capture   CaptureInfo   `json:"capture"`
	Backends  []BackendInfo `json:"backends"`
	Timezone  string        `json:"timezone"`
	Retention string        `json:"session_retention"`
}

// MatchingInfo describes the classifier settings.
type MatchingInfo struct {
	PresenceThreshold float64 `json:"presence_threshold"`
	DrawThreshold     float64 `json:"draw_threshold"`
	Metric            string  `json:"metric"`
	HNSWMinStudents   int     `json:"hnsw_min_students"`
}

// CaptureInfo describes the capture loop settings.
type CaptureInfo struct {
	Source       string `json:"source"` // "snapshot", "directory" or "none"
	Tick         string `json:"tick"`
	MaxImageSize int    `json:"max_image_size"`
	Embedding    bool   `json:"embedding_service"`
}

// BackendInfo represents a configured collaborator backend
type BackendInfo struct {
	Name      string `json:"name"`
	Available bool   `json:"available"`
}

// Get returns the effective configuration without secrets.
func (h *ConfigHandler) Get(w http.ResponseWriter, r *http.Request) {
	c := h.config
	source := "none"
	switch {
	case c.Camera.SnapshotURL != "":
		source = "snapshot"
	case c.Camera.FrameDir != "":
		source = "directory"
	}
	tz := c.Schedule.Timezone
	if tz == "" {
		tz = "Local"
	}

	response := ConfigResponse{
		Matching: MatchingInfo{
			PresenceThreshold: c.Matching.PresenceThreshold,
			DrawThreshold:     c.Matching.DrawThreshold,
			Metric:            c.Matching.Metric,
			HNSWMinStudents:   c.Matching.HNSWMinStudents,
		},
		Capture: CaptureInfo{
			Source:       source,
			Tick:         c.Capture.Tick.String(),
			MaxImageSize: c.Camera.MaxImageSize,
			Embedding:    c.Embedding.URL != "",
		},
		Backends: []BackendInfo{
			{Name: "postgres", Available: database.IsInitialized()},
			{Name: "legacy", Available: c.Legacy.DatabaseURL != ""},
			{Name: "rollcall", Available: c.Rollcall.URL != ""},
			{Name: "reference_dir", Available: c.Reference.Dir != ""},
		},
		Timezone:  tz,
		Retention: c.Sync.SessionRetention.String(),
	}

	respondJSON(w, http.StatusOK, response)
}
