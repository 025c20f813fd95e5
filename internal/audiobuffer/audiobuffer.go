// Package audiobuffer holds arrived audio packets in timestamp order and
// tracks a target playout delay distinct from the buffer's current span,
// so the NetEQ engine can decide whether to stretch, compress, or play
// packets as-is.
package audiobuffer

import (
	"sort"

	"github.com/security-union/videocall-rs-sub001/internal/protocol"
)

const (
	defaultMinDelayMs = 20.0
	jitterRingSize    = 64

	// samplesPerMs approximates the 48kHz Opus default used throughout
	// this package for timestamp-to-millisecond conversions.
	samplesPerMs = 48.0
	// lateThresholdMs is how far behind the last-decoded timestamp a
	// newly arrived packet may be before it is discarded as too late to
	// ever play out in order.
	lateThresholdMs = 1000.0
)

// bufEntry pairs a buffered packet with the wall-clock time it arrived,
// needed to compute NetEQ's waiting-time statistics at decode.
type bufEntry struct {
	pkt       protocol.AudioPacket
	arrivalMs int64
}

// Buffer holds packets ordered by RTP timestamp and reports the
// smallest-timestamp packet for decode.
type Buffer struct {
	entries        []bufEntry
	maxPending     int
	bufferFlushes  uint64
	lateDrops      uint64
	duplicateDrops uint64
	delay          *DelayManager

	haveLastDecoded      bool
	lastDecodedTimestamp uint32
}

// New creates a Buffer bounded at maxPending packets, with a delay
// manager clamped to [minDelayMs, maxDelayMs]. maxDelayMs of 0 means
// unclamped above the minimum.
func New(maxPending int, minDelayMs, maxDelayMs float64) *Buffer {
	return &Buffer{
		entries:    make([]bufEntry, 0, maxPending),
		maxPending: maxPending,
		delay:      NewDelayManager(minDelayMs, maxDelayMs),
	}
}

// Insert adds a packet in timestamp order, sampling the delay manager's
// inter-arrival jitter first. A packet whose timestamp exactly matches one
// already buffered or the most recently decoded one is discarded as a
// duplicate (earlier decoded timestamps are not remembered); a
// packet older than the last decoded timestamp by more than one second is
// discarded as too late to play out. If the buffer is at capacity it
// attempts a smart flush (dropping everything older than the current
// target delay); if that fails to reclaim space, it falls back to a full
// flush and counts it.
func (b *Buffer) Insert(pkt protocol.AudioPacket, arrivalTimeMs int64) {
	if b.haveLastDecoded {
		diff := int32(pkt.Header.Timestamp - b.lastDecodedTimestamp)
		if diff < 0 && float64(-diff)/samplesPerMs > lateThresholdMs {
			b.lateDrops++
			return
		}
		if pkt.Header.Timestamp == b.lastDecodedTimestamp {
			b.duplicateDrops++
			return
		}
	}

	if len(b.entries) >= b.maxPending {
		b.smartFlush(arrivalTimeMs)
		if len(b.entries) >= b.maxPending {
			b.entries = b.entries[:0]
			b.bufferFlushes++
			b.delay.Reset()
		}
	}

	idx := sort.Search(len(b.entries), func(i int) bool {
		return tsAfterOrEqual(b.entries[i].pkt.Header.Timestamp, pkt.Header.Timestamp)
	})
	if idx < len(b.entries) && b.entries[idx].pkt.Header.Timestamp == pkt.Header.Timestamp {
		b.duplicateDrops++
		return
	}

	b.delay.Observe(pkt.Header.Timestamp, arrivalTimeMs)

	b.entries = append(b.entries, bufEntry{})
	copy(b.entries[idx+1:], b.entries[idx:])
	b.entries[idx] = bufEntry{pkt: pkt, arrivalMs: arrivalTimeMs}
}

// smartFlush drops every buffered packet whose implied age (relative to
// the newest packet's timestamp) exceeds the current target delay.
func (b *Buffer) smartFlush(nowMs int64) {
	if len(b.entries) == 0 {
		return
	}
	newest := b.entries[len(b.entries)-1].pkt.Header.Timestamp
	targetMs := b.delay.TargetDelayMs()

	kept := b.entries[:0]
	for _, e := range b.entries {
		ageMs := float64(int32(newest-e.pkt.Header.Timestamp)) / samplesPerMs
		if ageMs <= targetMs {
			kept = append(kept, e)
		}
	}
	b.entries = kept
}

// Pop removes and returns the smallest-timestamp packet for decode.
func (b *Buffer) Pop() (protocol.AudioPacket, bool) {
	pkt, _, ok := b.PopWithArrival()
	return pkt, ok
}

// PopWithArrival removes and returns the smallest-timestamp packet along
// with the wall-clock time it arrived, so callers can compute how long it
// waited in the buffer before decode.
func (b *Buffer) PopWithArrival() (protocol.AudioPacket, int64, bool) {
	if len(b.entries) == 0 {
		return protocol.AudioPacket{}, 0, false
	}
	e := b.entries[0]
	b.entries = b.entries[1:]
	b.lastDecodedTimestamp = e.pkt.Header.Timestamp
	b.haveLastDecoded = true
	return e.pkt, e.arrivalMs, true
}

// Peek returns the smallest-timestamp packet without removing it.
func (b *Buffer) Peek() (protocol.AudioPacket, bool) {
	if len(b.entries) == 0 {
		return protocol.AudioPacket{}, false
	}
	return b.entries[0].pkt, true
}

// Len returns the number of packets currently buffered.
func (b *Buffer) Len() int { return len(b.entries) }

// BufferedDurationMs returns the total playback duration represented by
// currently buffered packets — the NetEQ engine's current_buffer_span_ms.
func (b *Buffer) BufferedDurationMs() float64 {
	var total float64
	for _, e := range b.entries {
		total += e.pkt.DurationMs
	}
	return total
}

// BufferFlushesCount returns the lifetime count of full (non-smart) flushes.
func (b *Buffer) BufferFlushesCount() uint64 { return b.bufferFlushes }

// LateDropsCount returns the lifetime count of packets discarded for
// arriving more than a second behind the last decoded timestamp.
func (b *Buffer) LateDropsCount() uint64 { return b.lateDrops }

// DuplicateDropsCount returns the lifetime count of packets discarded for
// matching a timestamp already buffered or the most recently decoded one.
func (b *Buffer) DuplicateDropsCount() uint64 { return b.duplicateDrops }

// TargetDelayMs returns the delay manager's current target.
func (b *Buffer) TargetDelayMs() float64 { return b.delay.TargetDelayMs() }

// SetMinimumDelay forwards to the delay manager, for callers (e.g. the
// neteq-player CLI's --min-delay-ms flag) that need to raise the floor
// above the buffer's construction-time default.
func (b *Buffer) SetMinimumDelay(minDelayMs float64) { b.delay.SetMinimumDelay(minDelayMs) }

// SetMaximumDelay forwards to the delay manager's ceiling.
func (b *Buffer) SetMaximumDelay(maxDelayMs float64) { b.delay.SetMaximumDelay(maxDelayMs) }

// Flush discards every buffered packet and resets the delay manager and
// last-decoded timestamp, for callers that need to force a clean slate
// (e.g. after a connection-manager failover hands the engine a new packet
// source).
func (b *Buffer) Flush() {
	b.entries = b.entries[:0]
	b.delay.Reset()
	b.haveLastDecoded = false
}

// tsAfterOrEqual reports whether a is at or after b, accounting for RTP
// timestamp wraparound via signed difference.
func tsAfterOrEqual(a, b uint32) bool {
	return int32(a-b) >= 0
}

// DelayManager estimates a target playout delay from the 95th percentile
// of recent inter-arrival jitter samples (deviation of actual arrival gap
// from the RTP-timestamp-implied gap).
type DelayManager struct {
	minDelayMs float64
	maxDelayMs float64 // 0 means unclamped above the minimum

	haveLast      bool
	lastTimestamp uint32
	lastArrivalMs int64
	sampleRateHz  float64

	ring []float64
	next int
	full bool

	targetDelayMs float64
}

// NewDelayManager creates a DelayManager. Assumes 48kHz audio, matching
// the protocol's Opus default.
func NewDelayManager(minDelayMs, maxDelayMs float64) *DelayManager {
	if minDelayMs <= 0 {
		minDelayMs = defaultMinDelayMs
	}
	return &DelayManager{
		minDelayMs:    minDelayMs,
		maxDelayMs:    maxDelayMs,
		sampleRateHz:  48000,
		ring:          make([]float64, jitterRingSize),
		targetDelayMs: minDelayMs,
	}
}

// Observe samples one packet's arrival, updating the jitter ring and
// recomputing the target delay.
func (d *DelayManager) Observe(timestamp uint32, arrivalMs int64) {
	if !d.haveLast {
		d.lastTimestamp = timestamp
		d.lastArrivalMs = arrivalMs
		d.haveLast = true
		return
	}

	expectedGapMs := float64(int32(timestamp-d.lastTimestamp)) / d.sampleRateHz * 1000
	actualGapMs := float64(arrivalMs - d.lastArrivalMs)
	jitter := actualGapMs - expectedGapMs
	if jitter < 0 {
		jitter = -jitter
	}

	d.ring[d.next] = jitter
	d.next = (d.next + 1) % jitterRingSize
	if d.next == 0 {
		d.full = true
	}

	d.lastTimestamp = timestamp
	d.lastArrivalMs = arrivalMs

	d.recompute()
}

func (d *DelayManager) recompute() {
	q := d.quantile95()
	target := d.minDelayMs
	if q > target {
		target = q
	}
	if d.maxDelayMs > 0 && target > d.maxDelayMs {
		target = d.maxDelayMs
	}
	d.targetDelayMs = target
}

func (d *DelayManager) quantile95() float64 {
	n := d.next
	if d.full {
		n = jitterRingSize
	}
	if n == 0 {
		return 0
	}
	samples := make([]float64, n)
	copy(samples, d.ring[:n])
	sort.Float64s(samples)
	idx := int(float64(n-1) * 0.95)
	return samples[idx]
}

// TargetDelayMs returns the current target delay, in [minDelayMs, maxDelayMs].
func (d *DelayManager) TargetDelayMs() float64 { return d.targetDelayMs }

// SetMinimumDelay changes the floor applied by recompute, re-clamping the
// current target immediately rather than waiting for the next Observe.
func (d *DelayManager) SetMinimumDelay(minDelayMs float64) {
	d.minDelayMs = minDelayMs
	d.recompute()
}

// SetMaximumDelay changes the ceiling applied by recompute. 0 means
// unclamped above the minimum.
func (d *DelayManager) SetMaximumDelay(maxDelayMs float64) {
	d.maxDelayMs = maxDelayMs
	d.recompute()
}

// Reset clears jitter history and falls back to the minimum delay,
// called after a buffer flush invalidates prior timing assumptions.
func (d *DelayManager) Reset() {
	d.haveLast = false
	d.next = 0
	d.full = false
	d.targetDelayMs = d.minDelayMs
}
