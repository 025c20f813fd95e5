// Package connmgr races a set of transport candidates by RTT, elects the
// lowest-latency survivor, and reconnects on its later loss. It owns no
// media semantics of its own — it forwards inbound frames and exposes
// send/enable operations that are only valid once a candidate has been
// elected.
package connmgr

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/security-union/videocall-rs-sub001/internal/protocol"
)

// ErrNoActiveConnection is returned by mutation operations and SendPacket
// when no candidate has been elected yet.
var ErrNoActiveConnection = errors.New("no active connection")

const (
	defaultElectionDuration = 3 * time.Second
	defaultProbeInterval    = 200 * time.Millisecond
	singleCandidateDuration = 100 * time.Millisecond
	rttRingSize             = 10
	defaultMaxAttempts      = 3
)

// Transport is the collaborator interface a connection candidate
// satisfies: SocketConn and DatagramConn both implement it.
type Transport interface {
	Send(b []byte) error
	OnRecv(cb func([]byte))
	IsConnected() bool
	Close() error
}

// callbackSlot is a small mutex-guarded function holder: readers always
// observe the latest registered callback, writers swap it wholesale.
// Generalizes the teacher's one-field-per-callback pattern into a single
// reusable shape (spec.md §9).
type callbackSlot[T any] struct {
	mu sync.RWMutex
	fn func(T)
}

func (s *callbackSlot[T]) set(fn func(T)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fn = fn
}

func (s *callbackSlot[T]) call(v T) {
	s.mu.RLock()
	fn := s.fn
	s.mu.RUnlock()
	if fn != nil {
		fn(v)
	}
}

// State is the outward-reported connection state.
type State struct {
	Phase            Phase
	TestedCount      int
	TotalCount       int
	URL              string
	RTTMs            float64
	Kind             protocol.ConnectionKind
	ReconnectAttempt int
	ReconnectMax     int
	FailureReason    string
	LastKnownServer  string
}

// Phase is the closed sum of outward connection manager phases.
type Phase int

const (
	PhaseTesting Phase = iota
	PhaseConnected
	PhaseReconnecting
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseTesting:
		return "Testing"
	case PhaseConnected:
		return "Connected"
	case PhaseReconnecting:
		return "Reconnecting"
	default:
		return "Failed"
	}
}

// candidate is one eagerly-created connection under test or already elected.
type candidate struct {
	id        string
	url       string
	kind      protocol.ConnectionKind
	transport Transport

	mu          sync.Mutex
	rttRing     []float64
	pendingSend map[int64]struct{} // sent t_send values awaiting a matching echo
	closed      bool
}

func (c *candidate) averageRTT() (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.rttRing) == 0 {
		return 0, false
	}
	var sum float64
	for _, v := range c.rttRing {
		sum += v
	}
	return sum / float64(len(c.rttRing)), true
}

func (c *candidate) recordRTT(v float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rttRing = append(c.rttRing, v)
	if len(c.rttRing) > rttRingSize {
		c.rttRing = c.rttRing[len(c.rttRing)-rttRingSize:]
	}
}

// Manager races candidates by RTT and reports one elected connection.
type Manager struct {
	userEmail string

	electionDuration time.Duration
	probeInterval    time.Duration
	maxAttempts      int

	mu         sync.Mutex
	candidates []*candidate
	electedID  string
	attempt    int
	phase      Phase
	failReason string
	lastServer string

	rttQueue   chan rttResponse
	stopProbe  chan struct{}
	electionAt time.Time

	onInboundMedia callbackSlot[protocol.MediaPacket]
	onStateChanged callbackSlot[State]
	peerMonitor    callbackSlot[string]
}

type rttResponse struct {
	connectionID string
	tSendMs      float64
}

// CandidateSpec names one transport candidate's URL/kind/Transport before
// the manager takes ownership of it.
type CandidateSpec struct {
	URL       string
	Kind      protocol.ConnectionKind
	Transport Transport
}

// New constructs all connections eagerly; the election clock starts when
// Start (or Run) is called. Each candidate is assigned an id of the form "ws_i" or "wt_i" per spec.md §4.7.
func New(userEmail string, specs []CandidateSpec, electionDuration, probeInterval time.Duration) *Manager {
	if electionDuration <= 0 {
		electionDuration = defaultElectionDuration
	}
	if probeInterval <= 0 {
		probeInterval = defaultProbeInterval
	}
	if len(specs) == 1 {
		electionDuration = singleCandidateDuration
	}

	m := &Manager{
		userEmail:        userEmail,
		electionDuration: electionDuration,
		probeInterval:    probeInterval,
		maxAttempts:      defaultMaxAttempts,
		phase:            PhaseTesting,
		rttQueue:         make(chan rttResponse, 64),
		stopProbe:        make(chan struct{}),
	}

	socketN, datagramN := 0, 0
	for _, spec := range specs {
		var id string
		if spec.Kind == protocol.Socket {
			id = idFor("ws", &socketN)
		} else {
			id = idFor("wt", &datagramN)
		}
		c := &candidate{
			id:          id,
			url:         spec.URL,
			kind:        spec.Kind,
			transport:   spec.Transport,
			pendingSend: make(map[int64]struct{}),
		}
		m.wireInbound(c)
		m.candidates = append(m.candidates, c)
	}

	m.electionAt = time.Time{} // caller invokes Start to begin wall-clock timers
	return m
}

func idFor(prefix string, counter *int) string {
	id := prefix + "_" + strconv.Itoa(*counter)
	*counter++
	return id
}

// wireInbound wraps a candidate's raw Transport.OnRecv so RTT-echo
// packets addressed to our own email are intercepted onto the shared
// response queue and never reach onInboundMedia.
func (m *Manager) wireInbound(c *candidate) {
	c.transport.OnRecv(func(raw []byte) {
		var wrapper protocol.PacketWrapper
		if err := json.Unmarshal(raw, &wrapper); err != nil {
			return
		}
		switch wrapper.PacketType {
		case protocol.PacketMedia:
			var media protocol.MediaPacket
			if err := json.Unmarshal(wrapper.Payload, &media); err != nil {
				return
			}
			if media.MediaType == protocol.RTT && wrapper.SenderID == m.userEmail {
				select {
				case m.rttQueue <- rttResponse{connectionID: c.id, tSendMs: media.TimestampMs}:
				default:
				}
				return
			}
			m.onInboundMedia.call(media)
		case protocol.PacketDiagnostics, protocol.PacketControl, protocol.PacketRTTResponse:
			// Non-media envelopes are outside this manager's concern;
			// callers with a separate diagnostics/control path consume
			// the raw PacketWrapper at a higher layer.
		}
	})
}

// OnInboundMedia registers the callback invoked for every media packet,
// other than echoes of this user's own RTT probes, received on the
// elected (or, during testing, any) connection.
func (m *Manager) OnInboundMedia(fn func(protocol.MediaPacket)) { m.onInboundMedia.set(fn) }

// OnStateChanged registers the callback invoked whenever the manager's
// outward state transitions.
func (m *Manager) OnStateChanged(fn func(State)) { m.onStateChanged.set(fn) }

// OnPeerMonitor registers a callback invoked with free-form peer health text.
func (m *Manager) OnPeerMonitor(fn func(string)) { m.peerMonitor.set(fn) }

// Start begins the probe cadence and arms the election-completion timer.
// nowMs is the wall-clock time Start is called, so tests can drive the
// manager without real sleeps.
func (m *Manager) Start(nowMs int64) {
	m.mu.Lock()
	m.electionAt = time.UnixMilli(nowMs)
	m.mu.Unlock()
	m.reportState()
}

// Tick drains the RTT response queue, sends a probe to every connected
// candidate still under test, and — once the election duration has
// elapsed — completes the election. Call it at the manager's probe
// cadence; it is idempotent with respect to wall time.
func (m *Manager) Tick(nowMs int64) {
	m.drainRTTResponses(nowMs)

	m.mu.Lock()
	phase := m.phase
	m.mu.Unlock()

	if phase != PhaseTesting {
		return
	}

	for _, c := range m.candidates {
		if !c.transport.IsConnected() {
			continue
		}
		c.mu.Lock()
		c.pendingSend[nowMs] = struct{}{}
		c.mu.Unlock()
		probe := protocol.MediaPacket{MediaType: protocol.RTT, TimestampMs: float64(nowMs)}
		payload, _ := json.Marshal(probe)
		wrapper := protocol.PacketWrapper{PacketType: protocol.PacketMedia, SenderID: m.userEmail, Payload: payload}
		raw, _ := json.Marshal(wrapper)
		_ = c.transport.Send(raw)
	}

	m.mu.Lock()
	elapsed := time.UnixMilli(nowMs).Sub(m.electionAt)
	m.mu.Unlock()
	if elapsed >= m.electionDuration {
		m.completeElection()
	}
}

func (m *Manager) drainRTTResponses(nowMs int64) {
	for {
		select {
		case resp := <-m.rttQueue:
			for _, c := range m.candidates {
				if c.id != resp.connectionID {
					continue
				}
				c.mu.Lock()
				_, known := c.pendingSend[int64(resp.tSendMs)]
				if known {
					delete(c.pendingSend, int64(resp.tSendMs))
				}
				c.mu.Unlock()
				if known {
					c.recordRTT(float64(nowMs) - resp.tSendMs)
				}
			}
		default:
			return
		}
	}
}

func (m *Manager) completeElection() {
	type scored struct {
		c   *candidate
		rtt float64
	}
	var eligible []scored
	for _, c := range m.candidates {
		if !c.transport.IsConnected() {
			continue
		}
		avg, ok := c.averageRTT()
		if !ok {
			continue
		}
		eligible = append(eligible, scored{c: c, rtt: avg})
	}

	if len(eligible) == 0 {
		m.setFailed("no valid connections")
		return
	}

	sort.SliceStable(eligible, func(i, j int) bool { return eligible[i].rtt < eligible[j].rtt })
	winner := eligible[0]

	m.mu.Lock()
	m.electedID = winner.c.id
	m.phase = PhaseConnected
	m.mu.Unlock()

	for _, c := range m.candidates {
		if c.id != winner.c.id {
			c.mu.Lock()
			if !c.closed {
				_ = c.transport.Close()
				c.closed = true
			}
			c.mu.Unlock()
		}
	}
	m.reportState()
}

func (m *Manager) setFailed(reason string) {
	m.mu.Lock()
	m.phase = PhaseFailed
	m.failReason = reason
	m.mu.Unlock()
	m.reportState()
}

// NoteConnectionLost transitions the manager to Reconnecting (up to
// maxAttempts) or terminal Failed, in response to the elected
// connection's transport reporting loss.
func (m *Manager) NoteConnectionLost() {
	m.mu.Lock()
	if m.phase != PhaseConnected && m.phase != PhaseReconnecting {
		m.mu.Unlock()
		return
	}
	m.attempt++
	if m.attempt > m.maxAttempts {
		m.phase = PhaseFailed
		m.failReason = "reconnection attempts exhausted"
		m.mu.Unlock()
		m.reportState()
		return
	}
	m.phase = PhaseReconnecting
	m.mu.Unlock()
	m.reportState()
}

func (m *Manager) reportState() {
	m.mu.Lock()
	s := State{
		Phase:            m.phase,
		TotalCount:       len(m.candidates),
		ReconnectAttempt: m.attempt,
		ReconnectMax:     m.maxAttempts,
		FailureReason:    m.failReason,
		LastKnownServer:  m.lastServer,
	}
	tested := 0
	for _, c := range m.candidates {
		if _, ok := c.averageRTT(); ok {
			tested++
		}
	}
	s.TestedCount = tested

	if m.phase == PhaseConnected {
		for _, c := range m.candidates {
			if c.id == m.electedID {
				s.URL = c.url
				s.Kind = c.kind
				avg, _ := c.averageRTT()
				s.RTTMs = avg
				break
			}
		}
	}
	m.mu.Unlock()
	m.onStateChanged.call(s)
}

// IsConnected reports whether the manager has an elected connection.
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase == PhaseConnected
}

// GetConnectionState returns the current outward state snapshot.
func (m *Manager) GetConnectionState() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := State{
		Phase:            m.phase,
		TestedCount:      m.testedCountLocked(),
		TotalCount:       len(m.candidates),
		ReconnectAttempt: m.attempt,
		ReconnectMax:     m.maxAttempts,
		FailureReason:    m.failReason,
		LastKnownServer:  m.lastServer,
	}
	if m.phase == PhaseConnected {
		for _, c := range m.candidates {
			if c.id == m.electedID {
				s.URL = c.url
				s.Kind = c.kind
				s.RTTMs, _ = c.averageRTT()
				break
			}
		}
	}
	return s
}

func (m *Manager) testedCountLocked() int {
	n := 0
	for _, c := range m.candidates {
		if _, ok := c.averageRTT(); ok {
			n++
		}
	}
	return n
}

// GetRTTMeasurements returns the current average RTT per candidate id.
func (m *Manager) GetRTTMeasurements() map[string]float64 {
	out := make(map[string]float64, len(m.candidates))
	for _, c := range m.candidates {
		if avg, ok := c.averageRTT(); ok {
			out[c.id] = avg
		}
	}
	return out
}

// SendPacket JSON-encodes wrapper and sends it over the elected
// connection. Valid only once Elected.
func (m *Manager) SendPacket(wrapper protocol.PacketWrapper) error {
	c, err := m.electedCandidate()
	if err != nil {
		return err
	}
	raw, err := json.Marshal(wrapper)
	if err != nil {
		return err
	}
	return c.transport.Send(raw)
}

func (m *Manager) electedCandidate() (*candidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase != PhaseConnected {
		return nil, ErrNoActiveConnection
	}
	for _, c := range m.candidates {
		if c.id == m.electedID {
			return c, nil
		}
	}
	return nil, ErrNoActiveConnection
}

// Run starts the manager's real-time event loop: Start followed by a
// Tick on every probeInterval, until ctx is cancelled. Tests drive the
// manager directly through Start/Tick instead, with synthetic timestamps.
func (m *Manager) Run(ctx context.Context) {
	m.Start(time.Now().UnixMilli())
	ticker := time.NewTicker(m.probeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Tick(time.Now().UnixMilli())
		}
	}
}

// SetVideoEnabled, SetAudioEnabled, and SetScreenEnabled are mutation
// operations valid only in Elected: they return ErrNoActiveConnection
// before election and nil after it. The enabled value is not stored or
// forwarded by the manager.
func (m *Manager) SetVideoEnabled(enabled bool) error  { return m.requireElected() }
func (m *Manager) SetAudioEnabled(enabled bool) error  { return m.requireElected() }
func (m *Manager) SetScreenEnabled(enabled bool) error { return m.requireElected() }

func (m *Manager) requireElected() error {
	if !m.IsConnected() {
		return ErrNoActiveConnection
	}
	return nil
}
