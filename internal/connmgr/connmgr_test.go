package connmgr

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/security-union/videocall-rs-sub001/internal/protocol"
)

// fakeTransport is an in-memory Transport whose RTT is fully controlled
// by the test: every sent RTT probe is echoed back after forcedRTTMs.
type fakeTransport struct {
	mu          sync.Mutex
	connected   bool
	closed      bool
	forcedRTTMs float64
	recv        func([]byte)
	manager     *Manager // set by the harness so echoes can be delivered synchronously
}

func (f *fakeTransport) Send(b []byte) error {
	var wrapper protocol.PacketWrapper
	if err := json.Unmarshal(b, &wrapper); err != nil {
		return err
	}
	if wrapper.PacketType != protocol.PacketMedia {
		return nil
	}
	var media protocol.MediaPacket
	if err := json.Unmarshal(wrapper.Payload, &media); err != nil {
		return err
	}
	if media.MediaType != protocol.RTT {
		return nil
	}
	// Echo back after forcedRTTMs, as if the server responded instantly
	// and the test is simulating network delay via the timestamp itself.
	echo := protocol.MediaPacket{MediaType: protocol.RTT, TimestampMs: media.TimestampMs}
	payload, _ := json.Marshal(echo)
	echoWrapper := protocol.PacketWrapper{PacketType: protocol.PacketMedia, SenderID: wrapper.SenderID, Payload: payload}
	raw, _ := json.Marshal(echoWrapper)
	f.mu.Lock()
	cb := f.recv
	f.mu.Unlock()
	if cb != nil {
		cb(raw)
	}
	return nil
}

func (f *fakeTransport) OnRecv(cb func([]byte)) {
	f.mu.Lock()
	f.recv = cb
	f.mu.Unlock()
}

func (f *fakeTransport) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.connected = false
	return nil
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{connected: true}
}

// forceRTTSamples records RTT samples on c directly, bypassing the
// probe/echo cycle, so the test controls the resulting average RTT rather
// than relying on wall-clock timing of the Send echo.
func forceRTTSamples(m *Manager, c *candidate, rtts ...float64) {
	for _, rtt := range rtts {
		c.recordRTT(rtt)
	}
}

func TestElectionPicksMinRTT(t *testing.T) {
	ta := newFakeTransport()
	tb := newFakeTransport()
	tc := newFakeTransport()
	m := New("user@example.com", []CandidateSpec{
		{URL: "ws://a", Kind: protocol.Socket, Transport: ta},
		{URL: "ws://b", Kind: protocol.Socket, Transport: tb},
		{URL: "wt://c", Kind: protocol.DatagramTransport, Transport: tc},
	}, 300*time.Millisecond, 50*time.Millisecond)

	forceRTTSamples(m, m.candidates[0], 50)
	forceRTTSamples(m, m.candidates[1], 20)
	forceRTTSamples(m, m.candidates[2], 80)

	m.Start(0)
	m.Tick(300)

	state := m.GetConnectionState()
	if state.Phase != PhaseConnected {
		t.Fatalf("phase = %v, want Connected", state.Phase)
	}
	if m.electedID != m.candidates[1].id {
		t.Fatalf("elected %s, want candidate b (lowest RTT)", m.electedID)
	}
	if !ta.closed || !tc.closed {
		t.Fatalf("losing candidates should be closed")
	}
	if tb.closed {
		t.Fatalf("winning candidate must not be closed")
	}
}

func TestSingleCandidateShortensElectionWindow(t *testing.T) {
	ta := newFakeTransport()
	m := New("user@example.com", []CandidateSpec{
		{URL: "ws://only", Kind: protocol.Socket, Transport: ta},
	}, 3*time.Second, 50*time.Millisecond)

	if m.electionDuration != singleCandidateDuration {
		t.Fatalf("election duration = %v, want the single-candidate fast path of %v", m.electionDuration, singleCandidateDuration)
	}

	forceRTTSamples(m, m.candidates[0], 10)
	m.Start(0)
	m.Tick(100)

	if m.GetConnectionState().Phase != PhaseConnected {
		t.Fatalf("single candidate should elect within its shortened window")
	}
}

func TestNoConnectedCandidatesFails(t *testing.T) {
	ta := newFakeTransport()
	ta.connected = false
	m := New("user@example.com", []CandidateSpec{
		{URL: "ws://a", Kind: protocol.Socket, Transport: ta},
	}, 100*time.Millisecond, 50*time.Millisecond)

	m.Start(0)
	m.Tick(100)

	state := m.GetConnectionState()
	if state.Phase != PhaseFailed {
		t.Fatalf("phase = %v, want Failed", state.Phase)
	}
	if state.FailureReason == "" {
		t.Fatalf("failure reason should be populated")
	}
}

func TestMutationOperationsRequireElected(t *testing.T) {
	ta := newFakeTransport()
	m := New("user@example.com", []CandidateSpec{
		{URL: "ws://a", Kind: protocol.Socket, Transport: ta},
	}, 3*time.Second, 50*time.Millisecond)

	if err := m.SetVideoEnabled(true); err != ErrNoActiveConnection {
		t.Fatalf("expected ErrNoActiveConnection before election, got %v", err)
	}
	if _, err := m.electedCandidate(); err != ErrNoActiveConnection {
		t.Fatalf("expected ErrNoActiveConnection, got %v", err)
	}
}

func TestNoteConnectionLostReconnectsThenFails(t *testing.T) {
	ta := newFakeTransport()
	m := New("user@example.com", []CandidateSpec{
		{URL: "ws://a", Kind: protocol.Socket, Transport: ta},
	}, 100*time.Millisecond, 50*time.Millisecond)
	forceRTTSamples(m, m.candidates[0], 10)
	m.Start(0)
	m.Tick(100)
	if m.GetConnectionState().Phase != PhaseConnected {
		t.Fatalf("precondition: must be connected before testing loss")
	}

	for i := 0; i <= defaultMaxAttempts; i++ {
		m.NoteConnectionLost()
		if i < defaultMaxAttempts {
			if m.GetConnectionState().Phase != PhaseReconnecting {
				t.Fatalf("attempt %d: phase = %v, want Reconnecting", i, m.GetConnectionState().Phase)
			}
		}
	}
	if m.GetConnectionState().Phase != PhaseFailed {
		t.Fatalf("after exhausting attempts, phase = %v, want Failed", m.GetConnectionState().Phase)
	}
}

func TestInboundMediaCallbackSkipsOwnRTTEchoes(t *testing.T) {
	ta := newFakeTransport()
	m := New("user@example.com", []CandidateSpec{
		{URL: "ws://a", Kind: protocol.Socket, Transport: ta},
	}, 3*time.Second, 50*time.Millisecond)

	var received []protocol.MediaPacket
	m.OnInboundMedia(func(p protocol.MediaPacket) { received = append(received, p) })

	m.Tick(0)  // sends an RTT probe, which the fake transport echoes synchronously onto the queue
	m.Tick(10) // drains the queued echo from the previous tick

	if len(received) != 0 {
		t.Fatalf("RTT echoes must never reach onInboundMedia, got %d", len(received))
	}
	if _, ok := m.candidates[0].averageRTT(); !ok {
		t.Fatalf("the echoed probe should have produced an RTT sample once drained")
	}
}
