package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kozaktomas/rollcall/internal/attendance"
	"github.com/kozaktomas/rollcall/internal/reconcile"
)

func TestSessionsHandler_CreateIsIdempotent(t *testing.T) {
	h := NewSessionsHandler(newTestManager(t, newTestCollaborator(), inWindow), time.UTC, nil)

	req := CreateSessionRequest{SubjectID: testKey.SubjectID, Section: testKey.Section, Date: testKey.Date}
	first := httptest.NewRecorder()
	h.Create(first, jsonRequest(t, http.MethodPost, "/api/v1/sessions", req))
	if first.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", first.Code, first.Body.String())
	}
	second := httptest.NewRecorder()
	h.Create(second, jsonRequest(t, http.MethodPost, "/api/v1/sessions", req))
	if second.Code != http.StatusOK {
		t.Fatalf("expected 200 for existing session, got %d", second.Code)
	}

	a := decodeBody[map[string]any](t, first)
	b := decodeBody[map[string]any](t, second)
	if a["id"] != b["id"] {
		t.Errorf("expected same session, got %v and %v", a["id"], b["id"])
	}
	if a["state"] != "scheduled" {
		t.Errorf("expected scheduled state, got %v", a["state"])
	}
}

func TestSessionsHandler_CreateValidation(t *testing.T) {
	h := NewSessionsHandler(newTestManager(t, newTestCollaborator(), inWindow), time.UTC, nil)

	tests := []struct {
		name string
		body any
		want int
	}{
		{"missing subject", CreateSessionRequest{Section: 1, Date: testKey.Date}, http.StatusBadRequest},
		{"bad section", CreateSessionRequest{SubjectID: "MATH101", Section: 0, Date: testKey.Date}, http.StatusBadRequest},
		{"bad date", CreateSessionRequest{SubjectID: "MATH101", Section: 1, Date: "12.10.2026"}, http.StatusBadRequest},
		{"unknown roster", CreateSessionRequest{SubjectID: "NOPE", Section: 1, Date: testKey.Date}, http.StatusBadGateway},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.Create(rec, jsonRequest(t, http.MethodPost, "/api/v1/sessions", tc.body))
			if rec.Code != tc.want {
				t.Errorf("expected %d, got %d: %s", tc.want, rec.Code, rec.Body.String())
			}
		})
	}

	rec := httptest.NewRecorder()
	h.Create(rec, httptest.NewRequest(http.MethodPost, "/api/v1/sessions", strings.NewReader("{not json")))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed JSON, got %d", rec.Code)
	}
}

func TestSessionsHandler_CreateDefaultsDateToToday(t *testing.T) {
	h := NewSessionsHandler(newTestManager(t, newTestCollaborator(), inWindow), time.UTC, nil)
	h.clock = func() time.Time { return inWindow }

	rec := httptest.NewRecorder()
	h.Create(rec, jsonRequest(t, http.MethodPost, "/api/v1/sessions", CreateSessionRequest{SubjectID: testKey.SubjectID, Section: 1}))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeBody[map[string]any](t, rec)
	key, _ := resp["key"].(map[string]any)
	if key["date"] != testKey.Date {
		t.Errorf("expected date %s, got %v", testKey.Date, key["date"])
	}
}

func TestSessionsHandler_NotFound(t *testing.T) {
	h := NewSessionsHandler(newTestManager(t, newTestCollaborator(), inWindow), time.UTC, nil)

	handlers := map[string]http.HandlerFunc{
		"Get":      h.Get,
		"Start":    h.Start,
		"End":      h.End,
		"Mark":     h.Mark,
		"Snapshot": h.Snapshot,
		"Live":     h.Live,
		"Flush":    h.Flush,
	}
	for name, fn := range handlers {
		t.Run(name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := requestWithChiParams(jsonRequest(t, http.MethodPost, "/", map[string]any{}), map[string]string{"id": "missing"})
			fn(rec, req)
			if rec.Code != http.StatusNotFound {
				t.Errorf("expected 404, got %d", rec.Code)
			}
		})
	}
}

func TestSessionsHandler_StartOutsideWindow(t *testing.T) {
	h := NewSessionsHandler(newTestManager(t, newTestCollaborator(), outWindow), time.UTC, nil)
	id := openTestSession(t, h)
	params := map[string]string{"id": id}

	rec := httptest.NewRecorder()
	h.Start(rec, requestWithChiParams(jsonRequest(t, http.MethodPost, "/", StartRequest{}), params))
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody[map[string]any](t, rec)
	if body["error"] != attendance.ErrOutsideScheduledWindow.Error() {
		t.Errorf("unexpected error %v", body["error"])
	}
	if windows, _ := body["windows"].([]any); len(windows) != 1 {
		t.Errorf("expected the section's window in the response, got %v", body["windows"])
	}

	rec = httptest.NewRecorder()
	h.Live(rec, requestWithChiParams(httptest.NewRequest(http.MethodGet, "/", nil), params))
	if live := decodeBody[map[string]any](t, rec); live["live"] != false {
		t.Errorf("session must stay scheduled, got %v", live)
	}

	rec = httptest.NewRecorder()
	h.Start(rec, requestWithChiParams(jsonRequest(t, http.MethodPost, "/", StartRequest{Force: true}), params))
	if rec.Code != http.StatusOK {
		t.Fatalf("forced start: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	report := decodeBody[map[string]any](t, rec)
	if report["forced"] != true {
		t.Errorf("expected forced start, got %v", report)
	}
}

func TestSessionsHandler_FullFlow(t *testing.T) {
	c := newTestCollaborator()
	h := NewSessionsHandler(newTestManager(t, c, inWindow), time.UTC, nil)
	id := openTestSession(t, h)
	params := map[string]string{"id": id}

	rec := httptest.NewRecorder()
	h.Start(rec, requestWithChiParams(jsonRequest(t, http.MethodPost, "/", nil), params))
	if rec.Code != http.StatusOK {
		t.Fatalf("start: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.Start(rec, requestWithChiParams(jsonRequest(t, http.MethodPost, "/", nil), params))
	if rec.Code != http.StatusConflict {
		t.Errorf("second start: expected 409, got %d", rec.Code)
	}

	// Mark by display name, ignoring diacritics.
	rec = httptest.NewRecorder()
	h.Mark(rec, requestWithChiParams(jsonRequest(t, http.MethodPost, "/", MarkRequest{Student: "ana novakova", Status: "present"}), params))
	if rec.Code != http.StatusOK {
		t.Fatalf("mark: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	change := decodeBody[reconcile.Change](t, rec)
	if change.StudentID != "S1" || change.To != attendance.StatusPresent {
		t.Errorf("unexpected change %+v", change)
	}

	markTests := []struct {
		name string
		req  MarkRequest
		want int
	}{
		{"bad status", MarkRequest{StudentID: "S2", Status: "late"}, http.StatusBadRequest},
		{"unset not allowed", MarkRequest{StudentID: "S2", Status: "unset"}, http.StatusBadRequest},
		{"unknown student", MarkRequest{StudentID: "S9", Status: "present"}, http.StatusNotFound},
		{"unknown name", MarkRequest{Student: "Nobody", Status: "present"}, http.StatusNotFound},
		{"no student", MarkRequest{Status: "present"}, http.StatusBadRequest},
	}
	for _, tc := range markTests {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.Mark(rec, requestWithChiParams(jsonRequest(t, http.MethodPost, "/", tc.req), params))
			if rec.Code != tc.want {
				t.Errorf("expected %d, got %d: %s", tc.want, rec.Code, rec.Body.String())
			}
		})
	}

	rec = httptest.NewRecorder()
	h.Snapshot(rec, requestWithChiParams(httptest.NewRequest(http.MethodGet, "/", nil), params))
	snap := decodeBody[map[string]attendance.Status](t, rec)
	if snap["S1"] != attendance.StatusPresent || snap["S2"] != attendance.StatusUnset {
		t.Errorf("unexpected snapshot %v", snap)
	}

	rec = httptest.NewRecorder()
	h.End(rec, requestWithChiParams(jsonRequest(t, http.MethodPost, "/", nil), params))
	if rec.Code != http.StatusOK {
		t.Fatalf("end: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	stored := c.Attendance(testKey)
	if stored["S1"] != attendance.StatusPresent || stored["S2"] != attendance.StatusAbsent {
		t.Errorf("unexpected persisted attendance %v", stored)
	}

	rec = httptest.NewRecorder()
	h.Mark(rec, requestWithChiParams(jsonRequest(t, http.MethodPost, "/", MarkRequest{StudentID: "S2", Status: "excused"}), params))
	if rec.Code != http.StatusConflict {
		t.Errorf("mark after end: expected 409, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	h.End(rec, requestWithChiParams(jsonRequest(t, http.MethodPost, "/", nil), params))
	if rec.Code != http.StatusConflict {
		t.Errorf("second end: expected 409, got %d", rec.Code)
	}
}

func TestSessionsHandler_EndFlushFailureThenRetry(t *testing.T) {
	c := newTestCollaborator()
	h := NewSessionsHandler(newTestManager(t, c, inWindow), time.UTC, nil)
	id := openTestSession(t, h)
	params := map[string]string{"id": id}

	rec := httptest.NewRecorder()
	h.Start(rec, requestWithChiParams(jsonRequest(t, http.MethodPost, "/", nil), params))
	if rec.Code != http.StatusOK {
		t.Fatalf("start: %d", rec.Code)
	}

	c.SetPersistError(errors.New("database unavailable"))
	rec = httptest.NewRecorder()
	h.End(rec, requestWithChiParams(jsonRequest(t, http.MethodPost, "/", nil), params))
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("end: expected 502, got %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody[map[string]any](t, rec)
	if _, ok := body["report"]; !ok {
		t.Errorf("expected end report in failure response, got %v", body)
	}

	rec = httptest.NewRecorder()
	h.Live(rec, requestWithChiParams(httptest.NewRequest(http.MethodGet, "/", nil), params))
	if live := decodeBody[map[string]any](t, rec); live["state"] != "ended" {
		t.Errorf("session must be ended despite the flush failure, got %v", live)
	}

	rec = httptest.NewRecorder()
	h.Flush(rec, requestWithChiParams(jsonRequest(t, http.MethodPost, "/", nil), params))
	if rec.Code != http.StatusBadGateway {
		t.Errorf("flush while store is down: expected 502, got %d", rec.Code)
	}

	c.SetPersistError(nil)
	rec = httptest.NewRecorder()
	h.Flush(rec, requestWithChiParams(jsonRequest(t, http.MethodPost, "/", nil), params))
	if rec.Code != http.StatusOK {
		t.Fatalf("retry flush: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := c.Attendance(testKey); len(got) != 2 {
		t.Errorf("expected both students persisted after retry, got %v", got)
	}
}

func TestSessionsHandler_List(t *testing.T) {
	h := NewSessionsHandler(newTestManager(t, newTestCollaborator(), inWindow), time.UTC, nil)
	id := openTestSession(t, h)

	rec := httptest.NewRecorder()
	h.List(rec, httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil))
	list := decodeBody[[]map[string]any](t, rec)
	if len(list) != 1 || list[0]["id"] != id {
		t.Errorf("unexpected list %v", list)
	}
}

func TestStatusForError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{attendance.ErrInvalidStatus, http.StatusBadRequest},
		{fmt.Errorf("wrapped: %w", attendance.ErrUnknownStudent), http.StatusNotFound},
		{attendance.ErrOutsideScheduledWindow, http.StatusConflict},
		{attendance.ErrSessionAlreadyLive, http.StatusConflict},
		{attendance.ErrSessionNotLive, http.StatusConflict},
		{attendance.ErrSessionEnded, http.StatusConflict},
		{&attendance.PersistenceFailure{Pending: 2, Err: errors.New("down")}, http.StatusBadGateway},
		{reconcile.ErrClosed, http.StatusGone},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range tests {
		if got := statusForError(tc.err); got != tc.want {
			t.Errorf("statusForError(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}
