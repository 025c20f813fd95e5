// Package bitrate implements the encoder bitrate controller: it fuses a
// stream of per-receiver diagnostics into a single target bitrate for the
// sender, reacting to the worst-performing receiver (a lowest-common-
// denominator policy) through a PID control loop.
package bitrate

import (
	"github.com/security-union/videocall-rs-sub001/internal/protocol"
)

const (
	windowMs             = 10_000
	inactiveTimeoutMs    = 25_000
	defaultThrottleMs    = 1000
	minHistoryForControl = 3

	kp = 0.2
	ki = 0.05
	kd = 0.02

	pidDeadband = 0.5
	pidOutMin   = 0.0
	pidOutMax   = 50.0

	pidOutputScale = 3000.0
)

type windowEntry struct {
	arrivalMs int64
	pkt       protocol.DiagnosticsPacket
}

type peerWindow struct {
	entries      []windowEntry
	lastUpdateMs int64
}

func (w *peerWindow) insert(now int64, pkt protocol.DiagnosticsPacket) {
	w.entries = append(w.entries, windowEntry{arrivalMs: now, pkt: pkt})
	w.lastUpdateMs = now
	w.evict(now)
}

// evict is the cheap lazy cleanup: drop entries older than the window,
// run on every insertion rather than on a separate timer.
func (w *peerWindow) evict(now int64) {
	cut := 0
	for cut < len(w.entries) && now-w.entries[cut].arrivalMs > windowMs {
		cut++
	}
	if cut > 0 {
		w.entries = w.entries[cut:]
	}
}

// minFPS returns the smallest received FPS observed in the window, taken
// from Video.FPSReceived or, for packets without video stats, from
// Audio.FPSReceived.
func (w *peerWindow) minFPS() (float64, bool) {
	if len(w.entries) == 0 {
		return 0, false
	}
	min := -1.0
	for _, e := range w.entries {
		fps := fpsOf(e.pkt)
		if min < 0 || fps < min {
			min = fps
		}
	}
	return min, true
}

func fpsOf(pkt protocol.DiagnosticsPacket) float64 {
	if pkt.Video != nil {
		return float64(pkt.Video.FPSReceived)
	}
	if pkt.Audio != nil {
		return float64(pkt.Audio.FPSReceived)
	}
	return 0
}

// fpsStddev returns the population standard deviation of FPS samples in
// the window, feeding the bitrate formula's jitter_factor.
func (w *peerWindow) fpsStddev() float64 {
	n := len(w.entries)
	if n == 0 {
		return 0
	}
	var sum float64
	for _, e := range w.entries {
		sum += fpsOf(e.pkt)
	}
	mean := sum / float64(n)
	var variance float64
	for _, e := range w.entries {
		d := fpsOf(e.pkt) - mean
		variance += d * d
	}
	variance /= float64(n)
	return sqrt(variance)
}

func (w *peerWindow) latest() protocol.DiagnosticsPacket {
	return w.entries[len(w.entries)-1].pkt
}

// PID is a standard proportional-integral-derivative controller with a
// deadband and clamped anti-windup output, matching the encoder bitrate
// controller's error-correction loop.
type PID struct {
	integral  float64
	prevError float64
	haveLast  bool
}

// Step advances the controller by one sample, returning the clamped
// output for errorVal measured over dt seconds.
func (p *PID) Step(errorVal, dt float64) float64 {
	if errorVal > -pidDeadband && errorVal < pidDeadband {
		errorVal = 0
	}

	proposedIntegral := p.integral + errorVal*dt
	derivative := 0.0
	if p.haveLast && dt > 0 {
		derivative = (errorVal - p.prevError) / dt
	}

	output := kp*errorVal + ki*proposedIntegral + kd*derivative
	clamped := clamp(output, pidOutMin, pidOutMax)

	// Anti-windup: only commit the integral accumulation when the
	// unclamped output did not saturate.
	if clamped == output {
		p.integral = proposedIntegral
	}
	p.prevError = errorVal
	p.haveLast = true
	return clamped
}

// Controller is a single sender's encoder bitrate controller, tracking
// one sliding window per receiving peer.
type Controller struct {
	peers map[string]*peerWindow

	targetFPS   float64
	baseKbps    float64
	throttleMs  int64
	pid         *PID
	history     int
	lastTickMs  int64
	lastCorrMs  int64
	haveLastCorr bool
}

// New creates a Controller targeting targetFPS frames/sec at an ideal
// bitrate of baseKbps.
func New(targetFPS, baseKbps float64) *Controller {
	return &Controller{
		peers:      make(map[string]*peerWindow),
		targetFPS:  targetFPS,
		baseKbps:   baseKbps,
		throttleMs: defaultThrottleMs,
		pid:        &PID{},
	}
}

// ProcessDiagnosticsPacket folds in one receiver's diagnostics and, if
// not throttled and history has matured, returns a new target bitrate.
// A false second return means the caller should retain its previous
// setpoint — either because a correction isn't due yet or because the
// controller is still warming up.
func (c *Controller) ProcessDiagnosticsPacket(pkt protocol.DiagnosticsPacket, nowMs int64) (float64, bool) {
	c.dropInactive(nowMs)

	w, ok := c.peers[pkt.SenderID]
	if !ok {
		w = &peerWindow{}
		c.peers[pkt.SenderID] = w
	}
	w.insert(nowMs, pkt)
	c.history++

	if c.haveLastCorr && nowMs-c.lastCorrMs < c.throttleMs {
		return 0, false
	}
	if c.history < minHistoryForControl {
		return 0, false
	}

	worstPeer, worstFPS, found := c.worstPeer()
	if !found {
		return 0, false
	}

	dt := 0.0
	if c.lastTickMs != 0 {
		dt = float64(nowMs-c.lastTickMs) / 1000.0
	}
	c.lastTickMs = nowMs

	errorVal := c.targetFPS - worstFPS
	pidOutput := c.pid.Step(errorVal, dt)

	afterPID := c.baseKbps - pidOutput*pidOutputScale

	stddev := c.peers[worstPeer].fpsStddev()
	jitterFactor := 5 * stddev / c.targetFPS
	if jitterFactor > 1.0 {
		jitterFactor = 1.0
	}
	afterJitter := afterPID * (1 - 0.9*jitterFactor)

	final := clamp(afterJitter, 0.1*c.baseKbps, 1.5*c.baseKbps)

	if hints := c.peers[worstPeer].latest().QualityHints; hints.TargetBitrateKbps > 0 && hints.TargetBitrateKbps < final {
		final = hints.TargetBitrateKbps
	}

	c.lastCorrMs = nowMs
	c.haveLastCorr = true
	return final, true
}

// worstPeer finds the peer with the lowest windowed min-FPS — the
// lowest-common-denominator policy.
func (c *Controller) worstPeer() (string, float64, bool) {
	var worstID string
	worstFPS := -1.0
	found := false
	for id, w := range c.peers {
		fps, ok := w.minFPS()
		if !ok {
			continue
		}
		if !found || fps < worstFPS {
			worstID, worstFPS, found = id, fps, true
		}
	}
	return worstID, worstFPS, found
}

func (c *Controller) dropInactive(nowMs int64) {
	for id, w := range c.peers {
		if nowMs-w.lastUpdateMs > inactiveTimeoutMs {
			delete(c.peers, id)
		}
	}
}

// PeerCount returns the number of peers currently tracked.
func (c *Controller) PeerCount() int { return len(c.peers) }

// PeerIDs returns the ids of all peers currently tracked.
func (c *Controller) PeerIDs() []string {
	ids := make([]string, 0, len(c.peers))
	for id := range c.peers {
		ids = append(ids, id)
	}
	return ids
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func sqrt(v float64) float64 {
	if v <= 0 {
		return 0
	}
	x := v
	for i := 0; i < 16; i++ {
		x = 0.5 * (x + v/x)
	}
	return x
}
