package transport

import (
	"context"
	"crypto/tls"
	"encoding/binary"
	"io"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quic-go/quic-go"
	"github.com/quic-go/webtransport-go"
)

const dialTimeout = 10 * time.Second

// DatagramConn wraps a WebTransport session as a connmgr.Transport: a
// reliable stream carries length-prefixed PacketWrapper frames (control
// and media), mirroring the teacher's control-stream usage, while the
// connection manager's RTT probes ride the same reliable stream rather
// than the session's unreliable datagrams — PacketWrapper framing needs
// delivery, not just speed, for the echo round trip to resolve.
type DatagramConn struct {
	session *webtransport.Session
	stream  *webtransport.Stream

	writeMu sync.Mutex

	recvMu sync.RWMutex
	recv   func([]byte)

	connected atomic.Bool
	closeOnce sync.Once
}

// DialDatagram opens a client-side WebTransport session to addr (a
// "host:port" without scheme) and opens the control stream.
func DialDatagram(ctx context.Context, addr string, insecureSkipVerify bool) (*DatagramConn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	d := webtransport.Dialer{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: insecureSkipVerify},
		QUICConfig: &quic.Config{
			EnableDatagrams:                  true,
			EnableStreamResetPartialDelivery: true,
		},
	}
	_, sess, err := d.Dial(dialCtx, "https://"+addr, http.Header{})
	if err != nil {
		return nil, err
	}
	stream, err := sess.OpenStream()
	if err != nil {
		sess.CloseWithError(0, "failed to open control stream")
		return nil, err
	}
	return newDatagramConn(sess, stream), nil
}

// AcceptDatagram wraps a server-side WebTransport session already
// established by an upgraded HTTP request, accepting its first (control)
// stream from the client.
func AcceptDatagram(ctx context.Context, sess *webtransport.Session) (*DatagramConn, error) {
	stream, err := sess.AcceptStream(ctx)
	if err != nil {
		return nil, err
	}
	return newDatagramConn(sess, stream), nil
}

func newDatagramConn(sess *webtransport.Session, stream *webtransport.Stream) *DatagramConn {
	d := &DatagramConn{session: sess, stream: stream}
	d.connected.Store(true)
	go d.readLoop()
	return d
}

// readLoop reads length-prefixed frames off the control stream: a
// uint32 big-endian length followed by that many payload bytes.
func (d *DatagramConn) readLoop() {
	defer func() {
		d.connected.Store(false)
		d.session.CloseWithError(0, "read loop exited")
	}()
	var lenBuf [4]byte
	for {
		if _, err := io.ReadFull(d.stream, lenBuf[:]); err != nil {
			log.Printf("[transport] datagram stream closed: %v", err)
			return
		}
		n := decodeFrameLength(lenBuf[:])
		payload := make([]byte, n)
		if _, err := io.ReadFull(d.stream, payload); err != nil {
			log.Printf("[transport] datagram stream read error: %v", err)
			return
		}
		d.recvMu.RLock()
		cb := d.recv
		d.recvMu.RUnlock()
		if cb != nil {
			cb(payload)
		}
	}
}

// Send writes one length-prefixed frame to the control stream.
func (d *DatagramConn) Send(b []byte) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	header, payload := encodeFrame(b)
	if _, err := d.stream.Write(header); err != nil {
		return err
	}
	_, err := d.stream.Write(payload)
	return err
}

// encodeFrame splits b into its 4-byte big-endian length header and the
// payload itself, split out for unit testing without a live stream.
func encodeFrame(b []byte) (header, payload []byte) {
	header = make([]byte, 4)
	binary.BigEndian.PutUint32(header, uint32(len(b)))
	return header, b
}

// decodeFrameLength reads the 4-byte big-endian length prefix.
func decodeFrameLength(header []byte) uint32 {
	return binary.BigEndian.Uint32(header)
}

// OnRecv registers the callback invoked for every inbound frame.
func (d *DatagramConn) OnRecv(cb func([]byte)) {
	d.recvMu.Lock()
	d.recv = cb
	d.recvMu.Unlock()
}

// IsConnected reports whether the underlying session is still open.
func (d *DatagramConn) IsConnected() bool { return d.connected.Load() }

// Close tears down the WebTransport session.
func (d *DatagramConn) Close() error {
	var err error
	d.closeOnce.Do(func() {
		d.connected.Store(false)
		err = d.session.CloseWithError(0, "closed")
	})
	return err
}
