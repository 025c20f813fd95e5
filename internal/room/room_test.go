package room

import (
	"encoding/json"
	"testing"

	"github.com/security-union/videocall-rs-sub001/internal/protocol"
)

type fakeSender struct {
	sent [][]byte
}

func (f *fakeSender) Send(b []byte) error {
	f.sent = append(f.sent, b)
	return nil
}

func wrap(t *testing.T, pt protocol.PacketType, senderID string, payload any) []byte {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	raw, err := json.Marshal(protocol.PacketWrapper{PacketType: pt, SenderID: senderID, Payload: body})
	if err != nil {
		t.Fatalf("marshal wrapper: %v", err)
	}
	return raw
}

func TestRTTProbeEchoesVerbatimToSender(t *testing.T) {
	r := New(30, 500)
	senderOut := &fakeSender{}
	r.AddClient(&Client{ID: "alice", Sender: senderOut})

	raw := wrap(t, protocol.PacketMedia, "alice", protocol.MediaPacket{MediaType: protocol.RTT, TimestampMs: 12345})
	r.HandleInbound("alice", raw)

	if len(senderOut.sent) != 1 {
		t.Fatalf("expected exactly one echo back to sender, got %d", len(senderOut.sent))
	}
	var wrapper protocol.PacketWrapper
	if err := json.Unmarshal(senderOut.sent[0], &wrapper); err != nil {
		t.Fatalf("unmarshal echo: %v", err)
	}
	var media protocol.MediaPacket
	if err := json.Unmarshal(wrapper.Payload, &media); err != nil {
		t.Fatalf("unmarshal echoed media: %v", err)
	}
	if media.TimestampMs != 12345 {
		t.Fatalf("echoed timestamp = %v, want 12345", media.TimestampMs)
	}
}

func TestNonRTTMediaFansOutToOthersNotSender(t *testing.T) {
	r := New(30, 500)
	alice := &fakeSender{}
	bob := &fakeSender{}
	r.AddClient(&Client{ID: "alice", Sender: alice})
	r.AddClient(&Client{ID: "bob", Sender: bob})

	raw := wrap(t, protocol.PacketMedia, "alice", protocol.MediaPacket{MediaType: protocol.Video, Sequence: 1})
	r.HandleInbound("alice", raw)

	if len(alice.sent) != 0 {
		t.Fatalf("sender should not receive its own media back, got %d sends", len(alice.sent))
	}
	if len(bob.sent) != 1 {
		t.Fatalf("bob should receive the fanned-out media, got %d sends", len(bob.sent))
	}
}

func TestDiagnosticsRoutesToNamedSenderController(t *testing.T) {
	r := New(30, 500)
	r.AddClient(&Client{ID: "receiver1", Sender: &fakeSender{}})

	diag := protocol.DiagnosticsPacket{
		SenderID:    "receiver1",
		TargetID:    "broadcaster1",
		Video:       &protocol.VideoMetrics{FPSReceived: 30},
		TimestampMs: 0,
	}
	raw := wrap(t, protocol.PacketDiagnostics, "receiver1", diag)
	r.HandleInbound("receiver1", raw)

	if r.BitrateFor("broadcaster1").PeerCount() != 1 {
		t.Fatalf("diagnostics should register a peer on broadcaster1's controller")
	}
	if r.BitrateFor("someone-else").PeerCount() != 0 {
		t.Fatalf("a different sender's controller should be untouched")
	}
}

func TestRemoveClientStopsFanOut(t *testing.T) {
	r := New(30, 500)
	alice := &fakeSender{}
	bob := &fakeSender{}
	r.AddClient(&Client{ID: "alice", Sender: alice})
	r.AddClient(&Client{ID: "bob", Sender: bob})
	r.RemoveClient("bob")

	raw := wrap(t, protocol.PacketMedia, "alice", protocol.MediaPacket{MediaType: protocol.Audio})
	r.HandleInbound("alice", raw)

	if len(bob.sent) != 0 {
		t.Fatalf("removed client should not receive fan-out")
	}
	if r.ClientCount() != 1 {
		t.Fatalf("client count = %d, want 1", r.ClientCount())
	}
}
