package hub

import (
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"notehub/internal/domain"
)

// ─────────────────────────────────────────────────────────────
// Session (one websocket connection and its state machine)
// ─────────────────────────────────────────────────────────────

type SessionState int

const (
	StateConnecting SessionState = iota
	StateAuthenticating
	StateJoined
	StateActive
	StateLeft
	StateDisconnected
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
	sendBuffer     = 64
)

// wsConn is the slice of *websocket.Conn the session uses, so tests can
// drive a session without a network socket.
type wsConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(string) error)
	Close() error
}

// session is one connected client. All fields except send are owned by
// the hub's dispatch goroutine once the session is registered.
type session struct {
	id       string
	hub      *Hub
	conn     wsConn
	identity domain.Identity
	state    SessionState
	pages    map[string]bool
	send     chan []byte
}

func newSession(h *Hub, conn wsConn) *session {
	return &session{
		id:    uuid.New().String(),
		hub:   h,
		conn:  conn,
		state: StateConnecting,
		pages: make(map[string]bool),
		send:  make(chan []byte, sendBuffer),
	}
}

// enqueue hands a frame to the write pump. A session whose buffer is
// full is too far behind to be useful; the frame is dropped and the
// slow consumer resyncs from a snapshot on its next join.
func (s *session) enqueue(data []byte) {
	select {
	case s.send <- data:
	default:
		log.Printf("hub: session %s send buffer full, dropping frame", s.id)
	}
}

func (s *session) readPump() {
	defer s.hub.disconnect(s)
	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("hub: session %s read: %v", s.id, err)
			}
			return
		}
		msg, err := decodeMessage(data)
		if err != nil {
			log.Printf("hub: session %s sent malformed frame: %v", s.id, err)
			continue
		}
		s.hub.dispatch(s, msg)
	}
}

func (s *session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()
	for {
		select {
		case data, ok := <-s.send:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Page access is enforced per join, not per origin.
	CheckOrigin: func(*http.Request) bool { return true },
}

// ServeWS upgrades an HTTP request to a websocket session. The optional
// bearer credential rides in the `token` query parameter; an invalid
// one degrades to a guest identity rather than failing the handshake.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("hub: upgrade: %v", err)
		return
	}
	s := newSession(h, conn)
	s.state = StateAuthenticating
	s.identity = h.auth.Authenticate(r.Context(), r.URL.Query().Get("token"))
	h.register <- s
	go s.writePump()
	go s.readPump()
}
