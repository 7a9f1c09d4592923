package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/kozaktomas/rollcall/internal/attendance"
	"github.com/kozaktomas/rollcall/internal/database/mock"
	"github.com/kozaktomas/rollcall/internal/session"
)

var (
	testKey = attendance.SessionKey{SubjectID: "MATH101", Section: 1, Date: "2026-10-12"}
	// Monday inside the 08:00-09:30 window
	inWindow  = time.Date(2026, 10, 12, 8, 15, 0, 0, time.UTC)
	outWindow = time.Date(2026, 10, 12, 18, 0, 0, 0, time.UTC)
)

// newTestCollaborator creates a mock with two students and one Monday window.
func newTestCollaborator() *mock.MockCollaborator {
	c := mock.NewMockCollaborator()
	c.SetRoster(testKey.SubjectID, testKey.Section,
		attendance.EnrolledStudent{StudentID: "S1", DisplayName: "Ana Nováková", Descriptor: []float32{0, 0}},
		attendance.EnrolledStudent{StudentID: "S2", DisplayName: "Ben Svoboda"},
	)
	c.AddWindow(attendance.SessionWindow{
		SubjectID: testKey.SubjectID, Section: testKey.Section,
		Weekday: time.Monday, Start: 8 * 60, End: 9*60 + 30,
	})
	return c
}

func newTestManager(t *testing.T, c *mock.MockCollaborator, now time.Time) *session.Manager {
	t.Helper()
	m := session.NewManager(session.Deps{
		Roster:   c,
		Store:    c,
		Location: time.UTC,
		Clock:    func() time.Time { return now },
		Logger:   zap.NewNop(),
	}, session.Options{}, time.Hour)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		m.Shutdown(ctx)
	})
	return m
}

// requestWithChiParams creates a request with chi URL parameters
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// jsonRequest builds a request with a JSON body.
func jsonRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// decodeBody decodes a recorder body into T.
func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
	return v
}

// openTestSession opens testKey through the handler and returns its ID.
func openTestSession(t *testing.T, h *SessionsHandler) string {
	t.Helper()
	rec := httptest.NewRecorder()
	h.Create(rec, jsonRequest(t, http.MethodPost, "/api/v1/sessions", CreateSessionRequest{
		SubjectID: testKey.SubjectID, Section: testKey.Section, Date: testKey.Date,
	}))
	if rec.Code != http.StatusCreated && rec.Code != http.StatusOK {
		t.Fatalf("create session: status %d body %s", rec.Code, rec.Body.String())
	}
	resp := decodeBody[map[string]any](t, rec)
	id, _ := resp["id"].(string)
	if id == "" {
		t.Fatalf("no session id in %v", resp)
	}
	return id
}
