package ws

import (
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"messaging-service/internal/models"
)

// ConnInfo carries the identity and tracing context captured at handshake
// time, for the lifetime events published about the connection.
type ConnInfo struct {
	ConnID      string
	UserID      int
	DeviceID    string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}

// Session is one websocket connection joined to one room. Writes are
// serialized through the session's own mutex; the hub may broadcast from
// many goroutines at once.
type Session struct {
	conn *websocket.Conn
	room models.RoomRef
	info ConnInfo

	writeMu sync.Mutex
}

const writeWait = 5 * time.Second

// NewSession wraps an upgraded connection for a room.
func NewSession(conn *websocket.Conn, room models.RoomRef, info ConnInfo) *Session {
	return &Session{conn: conn, room: room, info: info}
}

// UserID returns the authenticated user behind this session.
func (s *Session) UserID() int { return s.info.UserID }

// write delivers one frame with a bounded deadline. A slow or dead peer
// fails the write instead of stalling the broadcast.
func (s *Session) write(payload []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.TextMessage, payload)
}

func (s *Session) close() {
	_ = s.conn.Close()
}

func newConnID() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return ""
	}
	return hex.EncodeToString(buf)
}
