package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestSocketConnRoundTrip(t *testing.T) {
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}

	serverConnCh := make(chan *SocketConn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := AcceptSocket(w, r, &upgrader)
		if err != nil {
			t.Errorf("AcceptSocket: %v", err)
			return
		}
		serverConnCh <- conn
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, err := DialSocket(context.Background(), url)
	if err != nil {
		t.Fatalf("DialSocket: %v", err)
	}
	defer client.Close()

	server := <-serverConnCh
	defer server.Close()

	received := make(chan []byte, 1)
	server.OnRecv(func(b []byte) { received <- b })

	if err := client.Send([]byte("hello")); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case got := <-received:
		if string(got) != "hello" {
			t.Errorf("received %q, want %q", got, "hello")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for server to receive frame")
	}

	if !client.IsConnected() || !server.IsConnected() {
		t.Fatalf("both ends should report connected")
	}
}

func TestSocketConnIsConnectedFalseAfterClose(t *testing.T) {
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	serverConnCh := make(chan *SocketConn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, _ := AcceptSocket(w, r, &upgrader)
		serverConnCh <- conn
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, err := DialSocket(context.Background(), url)
	if err != nil {
		t.Fatalf("DialSocket: %v", err)
	}
	<-serverConnCh

	if err := client.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if client.IsConnected() {
		t.Fatalf("client should report disconnected after Close")
	}
}
