package main

import (
	"context"
	"crypto/tls"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/quic-go/quic-go/http3"
	"github.com/quic-go/webtransport-go"

	"github.com/security-union/videocall-rs-sub001/internal/room"
	"github.com/security-union/videocall-rs-sub001/internal/transport"
)

const connPollInterval = 500 * time.Millisecond

// Server hosts the relay's two transports — a WebSocket endpoint and a
// WebTransport endpoint — behind a single echo router, both landing
// accepted connections in the same internal/room.Room.
type Server struct {
	addr        string
	tlsConfig   *tls.Config
	room        *room.Room
	idleTimeout time.Duration

	echo     *echo.Echo
	wt       *webtransport.Server
	upgrader websocket.Upgrader
}

// NewServer builds a Server that will listen on addr once Run is called.
func NewServer(addr string, tlsConfig *tls.Config, rm *room.Room, idleTimeout time.Duration) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		addr:        addr,
		tlsConfig:   tlsConfig,
		room:        rm,
		idleTimeout: idleTimeout,
		echo:        e,
		upgrader:    websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }},
	}

	s.wt = &webtransport.Server{
		H3: http3.Server{
			Addr:      addr,
			TLSConfig: tlsConfig,
			Handler:   e,
		},
		CheckOrigin: func(_ *http.Request) bool { return true },
	}

	e.GET("/ws", s.handleWS)
	e.GET("/wt", s.handleWT)
	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	return s
}

func (s *Server) handleWS(c echo.Context) error {
	conn, err := transport.AcceptSocket(c.Response(), c.Request(), &s.upgrader)
	if err != nil {
		log.Printf("[server] websocket upgrade failed: %v", err)
		return err
	}
	s.serveConn(c.Request().Context(), conn)
	return nil
}

func (s *Server) handleWT(c echo.Context) error {
	sess, err := s.wt.Upgrade(c.Response(), c.Request())
	if err != nil {
		log.Printf("[server] webtransport upgrade failed: %v", err)
		return err
	}
	conn, err := transport.AcceptDatagram(c.Request().Context(), sess)
	if err != nil {
		log.Printf("[server] webtransport control stream failed: %v", err)
		return err
	}
	s.serveConn(c.Request().Context(), conn)
	return nil
}

// roomConn is the subset of transport.SocketConn / transport.DatagramConn
// a relay client needs: outbound send, inbound dispatch, and liveness.
type roomConn interface {
	Send([]byte) error
	OnRecv(func([]byte))
	IsConnected() bool
	Close() error
}

// serveConn registers conn in the room under a fresh client id and blocks
// until the connection goes down, then unregisters it.
func (s *Server) serveConn(ctx context.Context, conn roomConn) {
	id := uuid.NewString()
	client := &room.Client{ID: id, Sender: conn}
	s.room.AddClient(client)
	conn.OnRecv(func(b []byte) { s.room.HandleInbound(id, b) })

	defer func() {
		s.room.RemoveClient(id)
		conn.Close()
	}()

	ticker := time.NewTicker(connPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !conn.IsConnected() {
				return
			}
		}
	}
}

// Run starts both the echo-routed WebSocket listener and the WebTransport
// (QUIC/HTTP3) listener, blocking until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	httpSrv := &http.Server{
		Addr:              s.addr,
		Handler:           s.echo,
		TLSConfig:         s.tlsConfig,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       s.idleTimeout,
	}

	errCh := make(chan error, 2)

	go func() {
		log.Printf("[server] websocket listening on %s", s.addr)
		err := httpSrv.ListenAndServeTLS("", "")
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	go func() {
		log.Printf("[server] webtransport listening on %s", s.addr)
		err := s.wt.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Printf("[server] http shutdown: %v", err)
		}
		if err := s.wt.Close(); err != nil {
			log.Printf("[server] webtransport shutdown: %v", err)
		}
	}()

	if err := <-errCh; err != nil {
		return err
	}
	return <-errCh
}
