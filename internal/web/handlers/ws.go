package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/kozaktomas/rollcall/internal/attendance"
	"github.com/kozaktomas/rollcall/internal/session"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = wsPongWait * 9 / 10
)

// upgrader accepts any origin: the token middleware already guards the route.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// wsMessage is a client message on the session socket.
type wsMessage struct {
	Type      string `json:"type"` // "mark"
	StudentID string `json:"student_id,omitempty"`
	Student   string `json:"student,omitempty"`
	Status    string `json:"status,omitempty"`
}

// wsReply answers a client message.
type wsReply struct {
	Type   string `json:"type"` // "ack" or "error"
	Error  string `json:"error,omitempty"`
	Change any    `json:"change,omitempty"`
}

// WebSocket streams session events over a WebSocket and accepts manual marks
// from the client. The first message is the session summary.
func (h *SessionsHandler) WebSocket(w http.ResponseWriter, r *http.Request) {
	s, ok := h.lookup(w, r)
	if !ok {
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	eventCh := s.Events().AddListener()
	defer s.Events().RemoveListener(eventCh)

	summary, err := s.Summary(r.Context())
	if err != nil {
		_ = conn.WriteJSON(wsReply{Type: "error", Error: err.Error()})
		return
	}
	if err := writeWS(conn, session.Event{Type: "summary", Data: summary, At: time.Now()}); err != nil {
		return
	}

	replies := make(chan wsReply, 8)
	done := make(chan struct{})
	go h.readWS(conn, s, replies, done)

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case reply := <-replies:
			if err := writeWS(conn, reply); err != nil {
				return
			}
		case event, ok := <-eventCh:
			if !ok {
				return
			}
			if err := writeWS(conn, event); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readWS handles client messages until the connection fails.
func (h *SessionsHandler) readWS(conn *websocket.Conn, s *session.Session, replies chan<- wsReply, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket closed", zap.Error(err))
			}
			return
		}
		reply := h.handleWSMessage(s, msg)
		select {
		case replies <- reply:
		default:
			h.logger.Warn("dropping websocket reply, client too slow")
		}
	}
}

func (h *SessionsHandler) handleWSMessage(s *session.Session, msg wsMessage) wsReply {
	if msg.Type != "mark" {
		return wsReply{Type: "error", Error: "unknown message type " + msg.Type}
	}
	status, err := attendance.ParseStatus(msg.Status)
	if err != nil {
		return wsReply{Type: "error", Error: err.Error()}
	}
	id := msg.StudentID
	if id == "" {
		st, ok := s.ResolveStudent(msg.Student)
		if !ok {
			return wsReply{Type: "error", Error: "no single student matches " + msg.Student}
		}
		id = st.StudentID
	}
	ctx, cancel := context.WithTimeout(context.Background(), wsWriteWait)
	defer cancel()
	change, err := s.ManualMark(ctx, id, status)
	if err != nil {
		return wsReply{Type: "error", Error: err.Error()}
	}
	return wsReply{Type: "ack", Change: change}
}

func writeWS(conn *websocket.Conn, v any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteJSON(v)
}
