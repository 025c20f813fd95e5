// Package room is the minimum external harness needed to exercise the
// core connection/jitter/bitrate components over real transports: a
// client map, PacketWrapper demultiplexing by packet_type, RTT-echo, and
// fan-out of DIAGNOSTICS packets to each sender's bitrate controller. It
// implements no meeting CRUD, auth, or persistence.
package room

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/security-union/videocall-rs-sub001/internal/bitrate"
	"github.com/security-union/videocall-rs-sub001/internal/protocol"
)

// Sender is the minimal outbound capability a room needs from a
// transport connection — satisfied by both transport.SocketConn and
// transport.DatagramConn.
type Sender interface {
	Send(b []byte) error
}

// Client is one connected peer's room-level identity and transport.
type Client struct {
	ID     string
	Sender Sender
}

// Room demultiplexes inbound PacketWrapper envelopes across connected
// clients: echoing RTT media packets verbatim, fanning MEDIA packets to
// every other client, and feeding DIAGNOSTICS packets to the named
// sender's bitrate.Controller.
type Room struct {
	mu       sync.RWMutex
	clients  map[string]*Client
	bitrates map[string]*bitrate.Controller

	targetFPS float64
	baseKbps  float64
}

// New creates an empty Room. Every sender's bitrate.Controller is
// created lazily on its first diagnostics packet, targeting targetFPS
// frames/sec at baseKbps.
func New(targetFPS, baseKbps float64) *Room {
	return &Room{
		clients:   make(map[string]*Client),
		bitrates:  make(map[string]*bitrate.Controller),
		targetFPS: targetFPS,
		baseKbps:  baseKbps,
	}
}

// AddClient registers a connected client.
func (r *Room) AddClient(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clients[c.ID] = c
}

// RemoveClient unregisters a client, e.g. on disconnect.
func (r *Room) RemoveClient(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.clients, id)
}

// ClientCount reports how many clients are currently registered.
func (r *Room) ClientCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// HandleInbound demultiplexes one raw frame received from senderID.
func (r *Room) HandleInbound(senderID string, raw []byte) {
	var wrapper protocol.PacketWrapper
	if err := json.Unmarshal(raw, &wrapper); err != nil {
		log.Printf("[room] malformed packet from %s: %v", senderID, err)
		return
	}
	wrapper.SenderID = senderID

	switch wrapper.PacketType {
	case protocol.PacketMedia:
		r.handleMedia(senderID, wrapper, raw)
	case protocol.PacketDiagnostics:
		r.handleDiagnostics(senderID, wrapper)
	case protocol.PacketControl, protocol.PacketRTTResponse:
		r.fanOut(senderID, raw)
	}
}

func (r *Room) handleMedia(senderID string, wrapper protocol.PacketWrapper, raw []byte) {
	var media protocol.MediaPacket
	if err := json.Unmarshal(wrapper.Payload, &media); err != nil {
		log.Printf("[room] malformed media packet from %s: %v", senderID, err)
		return
	}

	if media.MediaType == protocol.RTT {
		r.echo(senderID, raw)
		return
	}

	out, err := json.Marshal(wrapper)
	if err != nil {
		return
	}
	r.fanOut(senderID, out)
}

// echo writes the RTT probe straight back to its sender, verbatim, per
// spec.md §6 ("Server must echo verbatim").
func (r *Room) echo(senderID string, raw []byte) {
	r.mu.RLock()
	c, ok := r.clients[senderID]
	r.mu.RUnlock()
	if !ok {
		return
	}
	if err := c.Sender.Send(raw); err != nil {
		log.Printf("[room] rtt echo to %s failed: %v", senderID, err)
	}
}

func (r *Room) handleDiagnostics(senderID string, wrapper protocol.PacketWrapper) {
	var diag protocol.DiagnosticsPacket
	if err := json.Unmarshal(wrapper.Payload, &diag); err != nil {
		log.Printf("[room] malformed diagnostics packet from %s: %v", senderID, err)
		return
	}

	// The new setpoint is consumed by whatever owns the named sender's
	// encoder; this room has no encoder of its own to drive.
	r.controllerFor(diag.TargetID).ProcessDiagnosticsPacket(diag, int64(diag.TimestampMs))
}

func (r *Room) controllerFor(senderID string) *bitrate.Controller {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.bitrates[senderID]
	if !ok {
		c = bitrate.New(r.targetFPS, r.baseKbps)
		r.bitrates[senderID] = c
	}
	return c
}

// BitrateFor returns the current bitrate controller for senderID, for
// callers that need to read its target bitrate directly.
func (r *Room) BitrateFor(senderID string) *bitrate.Controller {
	return r.controllerFor(senderID)
}

// fanOut forwards raw to every client except the sender.
func (r *Room) fanOut(senderID string, raw []byte) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, c := range r.clients {
		if id == senderID {
			continue
		}
		if err := c.Sender.Send(raw); err != nil {
			log.Printf("[room] fan-out to %s failed: %v", id, err)
		}
	}
}
