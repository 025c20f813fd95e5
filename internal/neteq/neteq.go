// Package neteq implements a NetEQ-style audio jitter buffer engine: it
// produces one 10ms PCM frame per call, choosing among Normal, Accelerate,
// FastAccelerate, PreemptiveExpand, and Expand based on how the buffered
// audio span compares to the adaptive target delay. Merge and ComfortNoise
// are named Operations that GetAudio never selects; Cng frames come only
// from the separate ComfortNoise method.
package neteq

import (
	"math/rand"

	"github.com/security-union/videocall-rs-sub001/internal/audiobuffer"
	"github.com/security-union/videocall-rs-sub001/internal/protocol"
	"github.com/security-union/videocall-rs-sub001/internal/q14"
	"github.com/security-union/videocall-rs-sub001/internal/timestretch"
)

// Operation identifies which decision branch produced a frame.
type Operation int

const (
	Normal Operation = iota
	Accelerate
	FastAccelerate
	PreemptiveExpand
	Expand
	Merge
	ComfortNoise
)

func (o Operation) String() string {
	switch o {
	case Normal:
		return "normal"
	case Accelerate:
		return "accelerate"
	case FastAccelerate:
		return "fast_accelerate"
	case PreemptiveExpand:
		return "preemptive_expand"
	case Expand:
		return "expand"
	case Merge:
		return "merge"
	case ComfortNoise:
		return "comfort_noise"
	default:
		return "unknown"
	}
}

const (
	fastAccelerateThresholdMs = 40
	accelerateThresholdMs     = 20
	preemptiveThresholdMs     = 10
	maxConsecutiveExpands     = 100
)

// Decoder turns one buffered audio packet into PCM samples. A bypass
// decoder for tests may hand back the packet's raw payload reinterpreted
// as samples.
type Decoder interface {
	Decode(pkt protocol.AudioPacket) []float32
}

// Engine is a single remote peer's NetEQ playout engine. Not safe for
// concurrent use — GetAudio is expected to be called from one audio
// callback thread, per the spec's per-stream ownership model.
type Engine struct {
	buffer       *audiobuffer.Buffer
	decoder      Decoder
	stats        *q14.Stats
	sampleRate   int
	frameSamples int

	fastAccelerateEnabled bool

	consecutiveExpands             uint64
	removedSamplesForAcceleration  uint64
	insertedSamplesForDeceleration uint64
	concealmentEvents              uint64
	concealedSamples               uint64

	frameMs float64
	nowMs   float64 // simulated playout clock, advanced one frame per GetAudio call

	lastFrame []float32 // most recent decoded frame, used as Expand's extrapolation seed
}

// New creates an Engine backed by buffer and decoder, producing
// frameMs-long frames at sampleRate.
func New(buffer *audiobuffer.Buffer, decoder Decoder, sampleRate int, frameMs float64, fastAccelerateEnabled bool) *Engine {
	return &Engine{
		buffer:                buffer,
		decoder:               decoder,
		stats:                 q14.NewStats(),
		sampleRate:            sampleRate,
		frameSamples:          int(float64(sampleRate) * frameMs / 1000),
		fastAccelerateEnabled: fastAccelerateEnabled,
		frameMs:               frameMs,
	}
}

// InsertPacket hands one arrived packet to the backing jitter buffer,
// first recording it against the reorder statistics so out-of-order
// arrivals are tracked regardless of whether the buffer ultimately
// accepts or discards the packet.
func (e *Engine) InsertPacket(pkt protocol.AudioPacket, arrivalTimeMs int64) {
	e.stats.Reorder.Observe(pkt.Header.Timestamp)
	e.buffer.Insert(pkt, arrivalTimeMs)
}

// SetMinimumDelay forwards to the backing buffer's delay manager.
func (e *Engine) SetMinimumDelay(minDelayMs float64) { e.buffer.SetMinimumDelay(minDelayMs) }

// SetMaximumDelay forwards to the backing buffer's delay manager.
func (e *Engine) SetMaximumDelay(maxDelayMs float64) { e.buffer.SetMaximumDelay(maxDelayMs) }

// Flush discards all buffered packets and catastrophic-state counters,
// for callers that need to force a clean slate (e.g. after a
// connection-manager failover hands the engine a new packet source).
// Unlike the internal flush used mid-stream on an excessive expand run,
// this one does clear the buffer — there is no in-flight packet to lose.
func (e *Engine) Flush() {
	e.buffer.Flush()
	e.consecutiveExpands = 0
	e.lastFrame = nil
	e.nowMs = 0
}

// GetAudio decides an operation and produces exactly one 10ms frame.
// It never returns an error: every branch, including catastrophic expand
// runs, resolves to a valid frame.
func (e *Engine) GetAudio() protocol.AudioFrame {
	e.nowMs += e.frameMs

	if e.buffer.Len() == 0 {
		return e.doExpand()
	}

	cur := e.buffer.BufferedDurationMs()
	tgt := e.buffer.TargetDelayMs()

	switch {
	case cur > tgt+fastAccelerateThresholdMs && e.fastAccelerateEnabled:
		return e.doAccelerate(FastAccelerate, 2.0)
	case cur > tgt+accelerateThresholdMs:
		return e.doAccelerate(Accelerate, 1.5)
	case cur+preemptiveThresholdMs < tgt:
		return e.doPreemptiveExpand()
	case e.consecutiveExpands > maxConsecutiveExpands:
		e.flush()
		return e.doNormal()
	default:
		return e.doNormal()
	}
}

func (e *Engine) doNormal() protocol.AudioFrame {
	pkt, arrivalMs, ok := e.buffer.PopWithArrival()
	if !ok {
		return e.doExpand()
	}
	e.stats.WaitingTime.Add(e.nowMs - float64(arrivalMs))
	samples := e.decoder.Decode(pkt)
	e.consecutiveExpands = 0
	e.stats.ExpandRate.Add(0, 1)
	e.lastFrame = samples
	return e.frame(samples, protocol.SpeechNormal, true)
}

func (e *Engine) doAccelerate(op Operation, oversizeFactor float64) protocol.AudioFrame {
	pkt, arrivalMs, ok := e.buffer.PopWithArrival()
	if !ok {
		return e.doExpand()
	}
	e.stats.WaitingTime.Add(e.nowMs - float64(arrivalMs))
	decoded := e.decoder.Decode(pkt)
	oversized := make([]float32, int(float64(len(decoded))*oversizeFactor))
	copy(oversized, decoded)

	target := make([]float32, e.frameSamples)
	res := timestretch.Accelerate(oversized, target, e.sampleRate, op == FastAccelerate)
	if !res.NoStretch {
		e.removedSamplesForAcceleration += uint64(len(oversized) - len(target))
	}
	e.stats.AccelerateRate.Add(1, 1)
	e.consecutiveExpands = 0
	e.lastFrame = target
	return e.frame(target, protocol.SpeechNormal, true)
}

func (e *Engine) doPreemptiveExpand() protocol.AudioFrame {
	pkt, arrivalMs, ok := e.buffer.PopWithArrival()
	if !ok {
		return e.doExpand()
	}
	e.stats.WaitingTime.Add(e.nowMs - float64(arrivalMs))
	decoded := e.decoder.Decode(pkt)

	target := make([]float32, e.frameSamples)
	res := timestretch.PreemptiveExpand(decoded, target, e.sampleRate)
	if !res.NoStretch {
		e.insertedSamplesForDeceleration += uint64(len(target) - len(decoded))
	}
	e.stats.PreemptiveRate.Add(1, 1)
	e.consecutiveExpands = 0
	e.lastFrame = target
	return e.frame(target, protocol.SpeechNormal, true)
}

// doExpand synthesizes a concealment frame when no packet is available:
// the last decoded frame repeated at 10% amplitude, or silence if nothing
// has been decoded yet. It does not extrapolate.
func (e *Engine) doExpand() protocol.AudioFrame {
	e.consecutiveExpands++
	e.concealmentEvents++
	e.concealedSamples += uint64(e.frameSamples)
	e.stats.ExpandRate.Add(1, 1)

	samples := make([]float32, e.frameSamples)
	for i := range samples {
		seed := float32(0)
		if len(e.lastFrame) > 0 {
			seed = e.lastFrame[i%len(e.lastFrame)] * 0.1
		}
		samples[i] = seed
	}
	return e.frame(samples, protocol.SpeechExpand, false)
}

// ComfortNoise emits quiet synthetic noise, used during prolonged silence
// when the far end has signaled a CNG transition rather than real loss.
func (e *Engine) ComfortNoise() protocol.AudioFrame {
	samples := make([]float32, e.frameSamples)
	for i := range samples {
		samples[i] = (rand.Float32()*2 - 1) * 0.001
	}
	return e.frame(samples, protocol.SpeechCng, false)
}

// flush resets catastrophic-state counters after an excessive expand run.
// The queued packet buffer is left intact — a packet that has just
// arrived is exactly what ends the run, so discarding it would be
// self-defeating.
func (e *Engine) flush() {
	e.consecutiveExpands = 0
	e.lastFrame = nil
}

func (e *Engine) frame(samples []float32, speechType protocol.SpeechType, vad bool) protocol.AudioFrame {
	return protocol.AudioFrame{
		Samples:    samples,
		SpeechType: speechType,
		VAD:        vad,
	}
}

// Stats returns a snapshot of the Q14 statistics accumulated so far.
func (e *Engine) Stats() q14.Snapshot { return e.stats.Snapshot() }

func (e *Engine) ConsecutiveExpands() uint64 { return e.consecutiveExpands }
func (e *Engine) ConcealmentEvents() uint64  { return e.concealmentEvents }
func (e *Engine) ConcealedSamples() uint64   { return e.concealedSamples }
func (e *Engine) RemovedSamplesForAcceleration() uint64 {
	return e.removedSamplesForAcceleration
}
func (e *Engine) InsertedSamplesForDeceleration() uint64 {
	return e.insertedSamplesForDeceleration
}
