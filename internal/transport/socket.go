// Package transport supplies the two concrete connection kinds the
// connection manager races: a gorilla/websocket-backed SocketConn and a
// quic-go/webtransport-go-backed DatagramConn.
package transport

import (
	"context"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const writeTimeout = 5 * time.Second

// SocketConn wraps a gorilla/websocket connection as a
// connmgr.Transport: binary-framed PacketWrapper messages in both
// directions, one Send at a time.
type SocketConn struct {
	conn *websocket.Conn

	writeMu sync.Mutex

	recvMu sync.RWMutex
	recv   func([]byte)

	connected atomic.Bool
	closeOnce sync.Once
}

// DialSocket opens a client-side websocket connection to url.
func DialSocket(ctx context.Context, url string) (*SocketConn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return newSocketConn(conn), nil
}

// AcceptSocket wraps a server-side websocket connection already upgraded
// from an HTTP request (e.g. via websocket.Upgrader.Upgrade).
func AcceptSocket(w http.ResponseWriter, r *http.Request, upgrader *websocket.Upgrader) (*SocketConn, error) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	return newSocketConn(conn), nil
}

func newSocketConn(conn *websocket.Conn) *SocketConn {
	s := &SocketConn{conn: conn}
	s.connected.Store(true)
	go s.readLoop()
	return s
}

func (s *SocketConn) readLoop() {
	defer func() {
		s.connected.Store(false)
		_ = s.conn.Close()
	}()
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			log.Printf("[transport] socket read error: %v", err)
			return
		}
		s.recvMu.RLock()
		cb := s.recv
		s.recvMu.RUnlock()
		if cb != nil {
			cb(data)
		}
	}
}

// Send writes one binary frame. Safe for concurrent use.
func (s *SocketConn) Send(b []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteMessage(websocket.BinaryMessage, b)
}

// OnRecv registers the callback invoked for every inbound frame.
func (s *SocketConn) OnRecv(cb func([]byte)) {
	s.recvMu.Lock()
	s.recv = cb
	s.recvMu.Unlock()
}

// IsConnected reports whether the underlying socket is still open.
func (s *SocketConn) IsConnected() bool { return s.connected.Load() }

// Close closes the underlying websocket connection.
func (s *SocketConn) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.connected.Store(false)
		err = s.conn.Close()
	})
	return err
}
