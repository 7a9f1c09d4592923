package session

import (
	"context"
	"time"

	"github.com/kozaktomas/rollcall/internal/attendance"
	"github.com/kozaktomas/rollcall/internal/lifecycle"
	"github.com/kozaktomas/rollcall/internal/syncer"
)

// StudentView is one roster line of a summary.
type StudentView struct {
	StudentID     string            `json:"student_id"`
	DisplayName   string            `json:"display_name"`
	Status        attendance.Status `json:"status"`
	HasDescriptor bool              `json:"has_descriptor"`
}

// Summary is a read-only view of a session for display.
type Summary struct {
	ID           string                     `json:"id"`
	Key          attendance.SessionKey      `json:"key"`
	State        lifecycle.State            `json:"state"`
	CreatedAt    time.Time                  `json:"created_at"`
	StartedAt    *time.Time                 `json:"started_at,omitempty"`
	EndedAt      *time.Time                 `json:"ended_at,omitempty"`
	Forced       bool                       `json:"forced"`
	AutoCapture  bool                       `json:"auto_capture"`
	CaptureError string                     `json:"capture_error,omitempty"`
	Frames       int64                      `json:"frames"`
	AutoMatches  int64                      `json:"auto_matches"`
	Counts       map[attendance.Status]int  `json:"counts"`
	Students     []StudentView              `json:"students"`
	NoReference  []string                   `json:"no_reference,omitempty"`
	LoadFailures map[string]string          `json:"load_failures,omitempty"`
	Pending      []attendance.Record        `json:"pending"`
	LastSync     *syncer.Result             `json:"last_sync,omitempty"`
	LastSyncErr  string                     `json:"last_sync_error,omitempty"`
	Windows      []attendance.SessionWindow `json:"windows"`
}

// Summary builds a display view of the session.
func (s *Session) Summary(ctx context.Context) (Summary, error) {
	snap, err := s.reconciler.Snapshot(ctx)
	if err != nil {
		return Summary{}, err
	}

	started, ended, forced := s.lifecycle.Times()
	sum := Summary{
		ID:          s.ID,
		Key:         s.Key,
		State:       s.lifecycle.State(),
		CreatedAt:   s.CreatedAt,
		Forced:      forced,
		Frames:      s.frames.Load(),
		AutoMatches: s.matches.Load(),
		Counts:      make(map[attendance.Status]int),
		NoReference: s.set.NoReference(),
		Pending:     s.dispatcher.Pending(),
		Windows:     s.lifecycle.Windows(),
	}
	if !started.IsZero() {
		sum.StartedAt = &started
	}
	if !ended.IsZero() {
		sum.EndedAt = &ended
	}

	s.mu.Lock()
	sum.AutoCapture = s.autoCapture
	if s.captureErr != nil {
		sum.CaptureError = s.captureErr.Error()
	}
	s.mu.Unlock()

	names := make(map[string]string, len(s.students))
	for _, st := range s.students {
		if _, ok := names[st.StudentID]; !ok {
			names[st.StudentID] = st.DisplayName
		}
	}
	for _, id := range s.reconciler.Order() {
		status := snap[id]
		sum.Counts[status]++
		sum.Students = append(sum.Students, StudentView{
			StudentID:     id,
			DisplayName:   names[id],
			Status:        status,
			HasDescriptor: s.set.Has(id),
		})
	}

	if failures := s.set.Failures(); len(failures) > 0 {
		sum.LoadFailures = make(map[string]string, len(failures))
		for _, f := range failures {
			sum.LoadFailures[f.StudentID] = f.Err.Error()
		}
	}

	if last := s.dispatcher.LastResult(); !last.At.IsZero() {
		sum.LastSync = &last
		if last.Err != nil {
			sum.LastSyncErr = last.Err.Error()
		}
	}
	return sum, nil
}
