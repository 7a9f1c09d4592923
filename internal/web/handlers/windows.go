package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/kozaktomas/rollcall/internal/attendance"
)

// WindowsHandler serves the weekly schedule of a subject.
type WindowsHandler struct {
	roster attendance.RosterSource
	loc    *time.Location
	clock  func() time.Time
	logger *zap.Logger
}

// NewWindowsHandler creates a new windows handler.
func NewWindowsHandler(roster attendance.RosterSource, loc *time.Location, logger *zap.Logger) *WindowsHandler {
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WindowsHandler{roster: roster, loc: loc, clock: time.Now, logger: logger}
}

// WindowView is a scheduled window and whether it is open right now.
type WindowView struct {
	attendance.SessionWindow
	Active bool `json:"active"`
}

// List returns the windows of a subject, optionally filtered by ?section=.
func (h *WindowsHandler) List(w http.ResponseWriter, r *http.Request) {
	subjectID := chi.URLParam(r, "subjectId")
	if subjectID == "" {
		respondError(w, http.StatusBadRequest, "missing subject ID")
		return
	}
	section := 0
	if raw := r.URL.Query().Get("section"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid section")
			return
		}
		section = n
	}

	windows, err := h.roster.FetchSessionWindows(r.Context(), subjectID)
	if err != nil {
		h.logger.Error("failed to fetch session windows", zap.String("subject", sanitizeForLog(subjectID)), zap.Error(err))
		respondError(w, http.StatusBadGateway, "failed to fetch session windows")
		return
	}

	now := h.clock().In(h.loc)
	out := make([]WindowView, 0, len(windows))
	for _, win := range windows {
		if section != 0 && win.Section != section {
			continue
		}
		out = append(out, WindowView{SessionWindow: win, Active: win.Contains(now)})
	}
	respondJSON(w, http.StatusOK, out)
}
