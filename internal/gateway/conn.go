package gateway

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeTimeout = 10 * time.Second
	pingInterval = 30 * time.Second
	pongTimeout  = 60 * time.Second

	// maxPendingWriteBytes is not referenced; the dropIfSlow decision in
	// internal/rpc.Send compares PendingWriteBytes against rpc's own
	// dropIfSlowThresholdBytes (1 MiB).
	maxPendingWriteBytes = 4 << 20
)

// wsSender adapts a gorilla/websocket connection to internal/rpc.Sender.
// All writes go through writeMu since gorilla/websocket forbids concurrent
// writers on the same connection.
type wsSender struct {
	conn *websocket.Conn

	writeMu sync.Mutex
	// pending counts the bytes of Send calls that have not returned,
	// including those still waiting for writeMu.
	pending atomic.Int64
}

func newWSSender(conn *websocket.Conn) *wsSender {
	return &wsSender{conn: conn}
}

func (s *wsSender) Send(data []byte) error {
	s.pending.Add(int64(len(data)))
	defer s.pending.Add(-int64(len(data)))

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

func (s *wsSender) PendingWriteBytes() int {
	return int(s.pending.Load())
}

func (s *wsSender) ping() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteMessage(websocket.PingMessage, nil)
}

func (s *wsSender) close() error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.Close()
}
