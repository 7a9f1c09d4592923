package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/kozaktomas/rollcall/internal/attendance"
	"github.com/kozaktomas/rollcall/internal/session"
)

// SessionsHandler handles session lifecycle and marking endpoints.
type SessionsHandler struct {
	manager *session.Manager
	clock   func() time.Time
	loc     *time.Location
	logger  *zap.Logger
}

// NewSessionsHandler creates a new sessions handler. loc is used to default
// the session date to today.
func NewSessionsHandler(manager *session.Manager, loc *time.Location, logger *zap.Logger) *SessionsHandler {
	if loc == nil {
		loc = time.Local
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionsHandler{manager: manager, clock: time.Now, loc: loc, logger: logger}
}

// CreateSessionRequest opens (or returns) the session of a section and date.
type CreateSessionRequest struct {
	SubjectID string `json:"subject_id" validate:"required"`
	Section   int    `json:"section" validate:"gte=1"`
	Date      string `json:"date,omitempty" validate:"omitempty,datetime=2006-01-02"` // defaults to today
}

// StartRequest starts a session.
type StartRequest struct {
	Force bool `json:"force"`
}

// MarkRequest is an operator mark. Student may be an ID or a display name.
type MarkRequest struct {
	StudentID string `json:"student_id" validate:"required_without=Student"`
	Student   string `json:"student,omitempty" validate:"required_without=StudentID"`
	Status    string `json:"status" validate:"required"`
}

// sessionInfo is the list entry of a session.
type sessionInfo struct {
	ID        string                `json:"id"`
	Key       attendance.SessionKey `json:"key"`
	State     string                `json:"state"`
	CreatedAt time.Time             `json:"created_at"`
}

func (h *SessionsHandler) lookup(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	id := chi.URLParam(r, "id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "missing session ID")
		return nil, false
	}
	s, ok := h.manager.Get(id)
	if !ok {
		respondError(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	return s, true
}

// List returns all retained sessions.
func (h *SessionsHandler) List(w http.ResponseWriter, r *http.Request) {
	sessions := h.manager.List()
	out := make([]sessionInfo, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, sessionInfo{ID: s.ID, Key: s.Key, State: string(s.State()), CreatedAt: s.CreatedAt})
	}
	respondJSON(w, http.StatusOK, out)
}

// Create opens the session of a section. It is idempotent per subject, section and date.
func (h *SessionsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	key := attendance.SessionKey{SubjectID: req.SubjectID, Section: req.Section, Date: req.Date}
	if key.Date == "" {
		key.Date = h.clock().In(h.loc).Format(attendance.DateLayout)
	}
	if err := key.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	s, created, err := h.manager.Open(r.Context(), key)
	if err != nil {
		h.logger.Error("failed to open session", zap.String("session", sanitizeForLog(key.String())), zap.Error(err))
		respondError(w, http.StatusBadGateway, fmt.Sprintf("failed to open session: %v", err))
		return
	}
	summary, err := s.Summary(r.Context())
	if err != nil {
		respondError(w, statusForError(err), err.Error())
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	respondJSON(w, status, summary)
}

// Get returns the summary of a session.
func (h *SessionsHandler) Get(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	summary, err := s.Summary(r.Context())
	if err != nil {
		respondError(w, statusForError(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

// Start moves a session Live. Outside a scheduled window the start is
// rejected with 409 unless force is set.
func (h *SessionsHandler) Start(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var req StartRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	// Start outlives the request: the capture device is opened here.
	report, err := s.Start(context.WithoutCancel(r.Context()), req.Force)
	if err != nil {
		respondJSON(w, statusForError(err), map[string]any{
			"error":   err.Error(),
			"windows": s.Windows(),
		})
		return
	}
	respondJSON(w, http.StatusOK, report)
}

// End ends a session. A failed final flush answers 502 with the report;
// the session is ended anyway and the batch can be retried via Flush.
func (h *SessionsHandler) End(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	report, err := s.End(context.WithoutCancel(r.Context()))
	if err != nil {
		var pf *attendance.PersistenceFailure
		if errors.As(err, &pf) {
			respondJSON(w, http.StatusBadGateway, map[string]any{
				"error":  err.Error(),
				"report": report,
			})
			return
		}
		respondError(w, statusForError(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, report)
}

// Mark applies an operator mark.
func (h *SessionsHandler) Mark(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	var req MarkRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	status, err := attendance.ParseStatus(req.Status)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	studentID := req.StudentID
	if studentID == "" && req.Student != "" {
		st, found := s.ResolveStudent(req.Student)
		if !found {
			respondError(w, http.StatusNotFound, fmt.Sprintf("no single student matches %q", req.Student))
			return
		}
		studentID = st.StudentID
	}
	if studentID == "" {
		respondError(w, http.StatusBadRequest, "student_id is required")
		return
	}

	change, err := s.ManualMark(r.Context(), studentID, status)
	if err != nil {
		respondError(w, statusForError(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, change)
}

// Snapshot returns the current status of every student.
func (h *SessionsHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	snap, err := s.Snapshot(r.Context())
	if err != nil {
		respondError(w, statusForError(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

// Live reports whether a session is Live.
func (h *SessionsHandler) Live(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"live":  s.IsLive(),
		"state": s.State(),
	})
}

// Flush pushes pending records now, e.g. after a failed final flush.
func (h *SessionsHandler) Flush(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	res, err := s.RetryFlush(context.WithoutCancel(r.Context()))
	if err != nil {
		respondJSON(w, statusForError(err), map[string]any{
			"error":  err.Error(),
			"result": res,
		})
		return
	}
	respondJSON(w, http.StatusOK, res)
}
