package videojitter

import (
	"testing"

	"github.com/security-union/videocall-rs-sub001/internal/protocol"
)

type fakeDecoder struct {
	seqs []uint64
}

func (f *fakeDecoder) Decode(frame protocol.FrameBuffer) {
	f.seqs = append(f.seqs, frame.Sequence)
}

func frame(seq uint64, ft protocol.FrameType, ts float64) protocol.FrameFingerprint {
	return protocol.FrameFingerprint{Sequence: seq, FrameType: ft, TimestampMs: ts}
}

func TestVideoInOrder(t *testing.T) {
	d := &fakeDecoder{}
	b := New(d)

	b.Insert(frame(1, protocol.Key, 1000), 1000)
	b.Insert(frame(2, protocol.Delta, 1010), 1010)
	b.Insert(frame(3, protocol.Delta, 1020), 1020)
	b.Poll(1100)

	if len(d.seqs) != 3 || d.seqs[0] != 1 || d.seqs[1] != 2 || d.seqs[2] != 3 {
		t.Fatalf("expected [1 2 3], got %v", d.seqs)
	}
	if b.GetDroppedFramesCount() != 0 {
		t.Fatalf("dropped = %d, want 0", b.GetDroppedFramesCount())
	}
}

func TestVideoOutOfOrder(t *testing.T) {
	d := &fakeDecoder{}
	b := New(d)

	b.Insert(frame(3, protocol.Delta, 1000), 1000)
	b.Insert(frame(1, protocol.Key, 1000), 1000)
	b.Insert(frame(2, protocol.Delta, 1000), 1000)
	b.Poll(1100)

	if len(d.seqs) != 3 || d.seqs[0] != 1 || d.seqs[1] != 2 || d.seqs[2] != 3 {
		t.Fatalf("expected [1 2 3], got %v", d.seqs)
	}
}

func TestVideoGapRecovery(t *testing.T) {
	d := &fakeDecoder{}
	b := New(d)

	b.Insert(frame(1, protocol.Key, 1000), 1000)
	b.Poll(1100)
	if len(d.seqs) != 1 || d.seqs[0] != 1 {
		t.Fatalf("expected [1] emitted after first poll, got %v", d.seqs)
	}

	b.Insert(frame(3, protocol.Key, 1200), 1200)
	b.Poll(1300)

	if len(d.seqs) != 2 || d.seqs[1] != 3 {
		t.Fatalf("expected seq 3 emitted, got %v", d.seqs)
	}
	if b.GetDroppedFramesCount() != 0 {
		t.Fatalf("dropped = %d, want 0 (seq 2 was never queued)", b.GetDroppedFramesCount())
	}
}

func TestDeltaNeverEmittedWithoutPriorKey(t *testing.T) {
	d := &fakeDecoder{}
	b := New(d)

	b.Insert(frame(1, protocol.Delta, 1000), 1000)
	b.Insert(frame(2, protocol.Delta, 1010), 1010)
	b.Poll(5000)

	if len(d.seqs) != 0 {
		t.Fatalf("no key has ever arrived; nothing should be emitted, got %v", d.seqs)
	}
	if !b.IsWaitingForKeyframe() {
		t.Fatalf("should still be waiting for a keyframe")
	}
}

func TestGapRecoveryDropsStalePending(t *testing.T) {
	d := &fakeDecoder{}
	b := New(d)

	// Key1 is released first; Key4 then arrives with seqs 2 and 3 still
	// missing, so it is released by gap recovery. A Delta seq 2 arriving
	// after that is stale and must be discarded.
	b.Insert(frame(1, protocol.Key, 0), 0)
	b.Poll(100) // releases seq 1 immediately; nothing else pending yet

	b.Insert(frame(4, protocol.Key, 1000), 1000)
	b.Poll(1100) // gap recovery: seq 2,3 never contiguous, so seq4 releases

	if len(d.seqs) != 2 || d.seqs[0] != 1 || d.seqs[1] != 4 {
		t.Fatalf("expected [1 4], got %v", d.seqs)
	}

	// A very late, already-passed duplicate must be silently discarded,
	// not reconstructed, and must not move last_decoded_seq backwards.
	b.Insert(frame(2, protocol.Delta, 1000), 1500)
	b.Poll(1600)
	if len(d.seqs) != 2 {
		t.Fatalf("late frame behind last_decoded_seq must be discarded, got %v", d.seqs)
	}
}

func TestDuplicateInsertIdempotent(t *testing.T) {
	d := &fakeDecoder{}
	b := New(d)

	b.Insert(frame(1, protocol.Key, 1000), 1000)
	b.Insert(frame(1, protocol.Key, 1000), 1000) // duplicate
	b.Poll(1100)

	if len(d.seqs) != 1 {
		t.Fatalf("duplicate insert should not double-emit, got %v", d.seqs)
	}
}

func TestPlayoutDelayBounded(t *testing.T) {
	d := &fakeDecoder{}
	b := New(d)

	ts := int64(0)
	for i := uint64(1); i <= 50; i++ {
		ts += int64(10 + (i%7)*30) // irregular arrivals
		b.Insert(frame(i, protocol.Key, float64(ts)), ts)
		target := b.GetTargetPlayoutDelayMs()
		if target < minDelayMs || target > maxDelayMs {
			t.Fatalf("target %v out of bounds [%v,%v]", target, minDelayMs, maxDelayMs)
		}
	}
}

func TestIsWaitingForKeyframe(t *testing.T) {
	d := &fakeDecoder{}
	b := New(d)
	if !b.IsWaitingForKeyframe() {
		t.Fatalf("fresh buffer should be waiting for a keyframe")
	}
	b.Insert(frame(1, protocol.Key, 1000), 1000)
	b.Poll(1100)
	if b.IsWaitingForKeyframe() {
		t.Fatalf("after decoding a key frame, should no longer be waiting")
	}
}

func TestMaxPendingDropsOnKeyKeepsIncoming(t *testing.T) {
	d := &fakeDecoder{}
	b := New(d)

	// Fill pending with deltas that can never release (no prior key).
	for i := uint64(2); i < uint64(2+MaxPending); i++ {
		b.Insert(frame(i, protocol.Delta, 0), 0)
	}
	if len(b.pending) != MaxPending {
		t.Fatalf("pending = %d, want %d", len(b.pending), MaxPending)
	}

	// One more delta beyond the cap should be rejected outright.
	b.Insert(frame(999999, protocol.Delta, 0), 0)
	if len(b.pending) != MaxPending {
		t.Fatalf("rejected delta should not grow pending: got %d", len(b.pending))
	}

	// A key frame forces a flush-and-keep.
	b.Insert(frame(1, protocol.Key, 0), 0)
	if _, ok := b.pending[1]; !ok {
		t.Fatalf("key frame must survive the flush")
	}
	if b.GetDroppedFramesCount() == 0 {
		t.Fatalf("flush should have counted dropped frames")
	}
}
