package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/kozaktomas/rollcall/internal/lifecycle"
	"github.com/kozaktomas/rollcall/internal/session"
)

// setupSSEConnection sets the event-stream headers. On failure it writes an
// error response and returns false.
func setupSSEConnection(w http.ResponseWriter) (http.Flusher, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "streaming not supported")
		return nil, false
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	return flusher, true
}

// sendSSEEvent writes one event and flushes it.
func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data any) {
	jsonData, _ := json.Marshal(data)
	_, _ = io.WriteString(w, "event: "+eventType+"\n")
	_, _ = io.WriteString(w, "data: ")
	_, _ = io.Copy(w, bytes.NewReader(jsonData))
	_, _ = io.WriteString(w, "\n\n")
	flusher.Flush()
}

// Events streams session events as Server-Sent Events. The first event is a
// "summary" of the session; the stream ends when the session ends, the
// client disconnects or the session is dropped.
func (h *SessionsHandler) Events(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}
	summary, err := s.Summary(r.Context())
	if err != nil {
		respondError(w, statusForError(err), err.Error())
		return
	}
	flusher, ok := setupSSEConnection(w)
	if !ok {
		return
	}

	eventCh := s.Events().AddListener()
	defer s.Events().RemoveListener(eventCh)

	sendSSEEvent(w, flusher, "summary", summary)
	if summary.State == lifecycle.StateEnded {
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-eventCh:
			if !ok {
				return
			}
			sendSSEEvent(w, flusher, event.Type, event)
			if isTerminal(event) {
				return
			}
		}
	}
}

// isTerminal reports whether no further events follow.
func isTerminal(e session.Event) bool {
	return e.Type == session.EventState && e.Message == string(lifecycle.StateEnded)
}
