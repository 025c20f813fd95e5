// Package videojitter reorders encoded video frames, paces them by an
// adaptive playout delay, and forwards contiguous runs to a decoder. It
// never emits a Delta frame without a prior Key frame in the same run,
// and never reconstructs a gap — it waits for the next Key.
package videojitter

import (
	"sort"

	"github.com/security-union/videocall-rs-sub001/internal/jitterest"
	"github.com/security-union/videocall-rs-sub001/internal/protocol"
)

const (
	// MaxPending bounds the number of frames held awaiting release.
	MaxPending = 200

	minDelayMs       = 10.0
	maxDelayMs       = 500.0
	jitterMultiplier = 3.0
	smooth           = 0.99
)

// Decoder is the collaborator that consumes released frames. decode may
// suspend (treated as send-to-queue by the caller); the jitter buffer
// applies MaxPending to protect memory regardless of decoder backpressure.
type Decoder interface {
	Decode(frame protocol.FrameBuffer)
}

// Buffer is a per-stream video jitter buffer. Not safe for concurrent use;
// a single goroutine must own Insert/Poll per the spec's cooperative
// scheduling model.
type Buffer struct {
	pending map[uint64]protocol.FrameBuffer
	order   []uint64 // kept sorted; exploited by the release scan

	lastDecodedSeq  uint64
	haveLastDecoded bool
	targetPlayoutMs float64
	droppedCount    uint64
	decoder         Decoder
	estimator       *jitterest.Estimator
}

// New creates a video jitter buffer that forwards released frames to decoder.
func New(decoder Decoder) *Buffer {
	return &Buffer{
		pending:         make(map[uint64]protocol.FrameBuffer),
		targetPlayoutMs: minDelayMs,
		decoder:         decoder,
		estimator:       jitterest.New(),
	}
}

// Insert adds one arrived frame and runs the release scan against the
// frame's own arrival time. Call Poll separately on a timer to release
// frames whose wait simply elapsed without a new arrival.
func (b *Buffer) Insert(frame protocol.FrameFingerprint, arrivalTimeMs int64) {
	fb := protocol.FrameBuffer{FrameFingerprint: frame, ArrivalTimeMs: arrivalTimeMs}

	if b.haveLastDecoded && fb.Sequence <= b.lastDecodedSeq {
		return // already-decoded or duplicate-of-decoded — discard
	}
	if _, exists := b.pending[fb.Sequence]; exists {
		return // duplicate pending — idempotent
	}

	if len(b.pending) >= MaxPending {
		if fb.FrameType != protocol.Key {
			return // reject: full and not a recovery point
		}
		b.droppedCount += uint64(len(b.pending))
		b.pending = make(map[uint64]protocol.FrameBuffer)
		b.order = b.order[:0]
	}

	b.estimator.Update(fb.Sequence, float64(arrivalTimeMs))
	target := smooth*b.targetPlayoutMs + (1-smooth)*clamp(b.estimator.GetJitterEstimateMs()*jitterMultiplier, minDelayMs, maxDelayMs)
	b.targetPlayoutMs = clamp(target, minDelayMs, maxDelayMs)

	b.insertOrdered(fb)
	b.releaseScan(arrivalTimeMs)
}

func (b *Buffer) insertOrdered(fb protocol.FrameBuffer) {
	b.pending[fb.Sequence] = fb
	idx := sort.Search(len(b.order), func(i int) bool { return b.order[i] >= fb.Sequence })
	b.order = append(b.order, 0)
	copy(b.order[idx+1:], b.order[idx:])
	b.order[idx] = fb.Sequence
}

func (b *Buffer) removeSeq(seq uint64) {
	delete(b.pending, seq)
	idx := sort.Search(len(b.order), func(i int) bool { return b.order[i] >= seq })
	if idx < len(b.order) && b.order[idx] == seq {
		b.order = append(b.order[:idx], b.order[idx+1:]...)
	}
}

// smallestKeySeqAbove returns the smallest pending Key frame seq > seq,
// or (0, false) if there is none.
func (b *Buffer) smallestKeySeqAbove(seq uint64) (uint64, bool) {
	idx := sort.Search(len(b.order), func(i int) bool { return b.order[i] > seq })
	for ; idx < len(b.order); idx++ {
		if b.pending[b.order[idx]].FrameType == protocol.Key {
			return b.order[idx], true
		}
	}
	return 0, false
}

func (b *Buffer) smallestKeySeq() (uint64, bool) {
	for _, seq := range b.order {
		if b.pending[seq].FrameType == protocol.Key {
			return seq, true
		}
	}
	return 0, false
}

// releaseScan repeatedly picks a candidate and releases it while it has
// waited at least targetPlayoutMs, per spec.md 4.2.
func (b *Buffer) releaseScan(nowMs int64) {
	for {
		candidate, ok := b.nextCandidate()
		if !ok {
			return
		}
		fb := b.pending[candidate]
		if float64(nowMs-fb.ArrivalTimeMs) < b.targetPlayoutMs {
			return // too early
		}

		gapRecoveryOrFirstKey := false
		if !b.haveLastDecoded {
			gapRecoveryOrFirstKey = true
		} else if candidate != b.lastDecodedSeq+1 {
			gapRecoveryOrFirstKey = true
		}

		b.removeSeq(candidate)
		b.decoder.Decode(fb)
		b.lastDecodedSeq = candidate
		b.haveLastDecoded = true

		if gapRecoveryOrFirstKey {
			b.dropBelow(candidate)
		}
	}
}

func (b *Buffer) nextCandidate() (uint64, bool) {
	if b.haveLastDecoded {
		if _, ok := b.pending[b.lastDecodedSeq+1]; ok {
			return b.lastDecodedSeq + 1, true
		}
		return b.smallestKeySeqAbove(b.lastDecodedSeq)
	}
	return b.smallestKeySeq()
}

// dropBelow discards all pending frames with seq < boundary, counting them.
func (b *Buffer) dropBelow(boundary uint64) {
	var drop []uint64
	for _, seq := range b.order {
		if seq >= boundary {
			break
		}
		drop = append(drop, seq)
	}
	for _, seq := range drop {
		b.removeSeq(seq)
		b.droppedCount++
	}
}

// Poll re-runs the release scan against the current time without
// inserting a new frame — used by a timer tick when no frames have
// arrived recently but the playout delay has now elapsed.
func (b *Buffer) Poll(nowMs int64) {
	b.releaseScan(nowMs)
}

// GetJitterEstimateMs returns the current jitter estimate.
func (b *Buffer) GetJitterEstimateMs() float64 { return b.estimator.GetJitterEstimateMs() }

// GetTargetPlayoutDelayMs returns the current adaptive playout target.
func (b *Buffer) GetTargetPlayoutDelayMs() float64 { return b.targetPlayoutMs }

// GetDroppedFramesCount returns the lifetime count of dropped frames.
func (b *Buffer) GetDroppedFramesCount() uint64 { return b.droppedCount }

// IsWaitingForKeyframe reports whether no frame has been decoded yet.
func (b *Buffer) IsWaitingForKeyframe() bool { return !b.haveLastDecoded }

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
