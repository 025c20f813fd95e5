package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"time"

	"github.com/security-union/videocall-rs-sub001/internal/config"
	"github.com/security-union/videocall-rs-sub001/internal/room"
)

func main() {
	cfg := config.Load()

	addr := flag.String("addr", ":8443", "HTTPS/WebSocket/WebTransport listen address")
	idleTimeout := flag.Duration("idle-timeout", 30*time.Second, "HTTP idle timeout")
	certValidity := flag.Duration("cert-validity", 24*time.Hour, "self-signed TLS certificate validity")
	targetFPS := flag.Float64("target-fps", cfg.BitrateTargetFPS, "target frame rate used to seed each sender's bitrate controller")
	baseKbps := flag.Float64("base-kbps", cfg.BitrateBaseKbps, "base encoder bitrate used to seed each sender's bitrate controller")
	flag.Parse()

	tlsConfig, fingerprint, err := generateTLSConfig(*certValidity, *addr)
	if err != nil {
		log.Fatalf("[server] %v", err)
	}
	log.Printf("[server] TLS certificate fingerprint: %s", fingerprint)

	rm := room.New(*targetFPS, *baseKbps)
	srv := NewServer(*addr, tlsConfig, rm, *idleTimeout)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		log.Println("[server] shutting down...")
		cancel()
	}()

	if err := srv.Run(ctx); err != nil {
		log.Fatalf("[server] %v", err)
	}
}
