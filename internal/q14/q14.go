// Package q14 defines the Q14 fixed-point format used to carry rate-like
// counters (expand_rate, accelerate_rate, preemptive_rate) on the wire and
// in the UI, plus the rolling-rate, waiting-time, and reorder statistics
// that the NetEQ engine owns.
package q14

import "sort"

// Value is a Q14 fixed-point integer: round(ratio * 16384), ratio in [0,1].
type Value uint32

const scale = 16384

// ToFloat converts a Q14 value back to its [0,1] ratio.
func (v Value) ToFloat() float64 {
	return float64(v) / scale
}

// ToPerMille converts a Q14 value to parts-per-thousand.
func (v Value) ToPerMille() float64 {
	return float64(v) / 16.384
}

// FromFloat clamps ratio to [0,1] and converts it to Q14, rounding to the
// nearest integer.
func FromFloat(ratio float64) Value {
	scaled := ratio * scale
	if scaled < 0 {
		scaled = 0
	}
	if scaled > scale {
		scaled = scale
	}
	return Value(scaled + 0.5)
}

// RollingRate accumulates a numerator/denominator pair and recomputes its
// Q14 rate on every update — used for expand_rate, accelerate_rate, and
// preemptive_rate.
type RollingRate struct {
	numerator   uint64
	denominator uint64
	rate        Value
}

// Add adds num to the numerator and denom to the denominator, then
// recomputes the Q14 rate.
func (r *RollingRate) Add(num, denom uint64) {
	r.numerator += num
	r.denominator += denom
	if r.denominator == 0 {
		r.rate = 0
		return
	}
	r.rate = FromFloat(float64(r.numerator) / float64(r.denominator))
}

// Rate returns the current Q14 rate.
func (r *RollingRate) Rate() Value { return r.rate }

// Numerator and Denominator expose the raw cumulative sample counts.
func (r *RollingRate) Numerator() uint64   { return r.numerator }
func (r *RollingRate) Denominator() uint64 { return r.denominator }

const waitingRingSize = 100

// WaitingTimeStats maintains a bounded ring of per-packet arrival delays
// (ms) and exposes min/max/mean/median over the ring's current contents.
type WaitingTimeStats struct {
	ring []float64
	next int
	full bool
}

// NewWaitingTimeStats returns an empty WaitingTimeStats.
func NewWaitingTimeStats() *WaitingTimeStats {
	return &WaitingTimeStats{ring: make([]float64, waitingRingSize)}
}

// Add records one waiting-time sample.
func (w *WaitingTimeStats) Add(delayMs float64) {
	w.ring[w.next] = delayMs
	w.next = (w.next + 1) % waitingRingSize
	if w.next == 0 {
		w.full = true
	}
}

func (w *WaitingTimeStats) samples() []float64 {
	if w.full {
		out := make([]float64, waitingRingSize)
		copy(out, w.ring)
		return out
	}
	out := make([]float64, w.next)
	copy(out, w.ring[:w.next])
	return out
}

// Min, Max, Mean, Median return 0 when no samples have been recorded yet.
func (w *WaitingTimeStats) Min() float64 {
	s := w.samples()
	if len(s) == 0 {
		return 0
	}
	m := s[0]
	for _, v := range s[1:] {
		if v < m {
			m = v
		}
	}
	return m
}

func (w *WaitingTimeStats) Max() float64 {
	s := w.samples()
	if len(s) == 0 {
		return 0
	}
	m := s[0]
	for _, v := range s[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

func (w *WaitingTimeStats) Mean() float64 {
	s := w.samples()
	if len(s) == 0 {
		return 0
	}
	var sum float64
	for _, v := range s {
		sum += v
	}
	return sum / float64(len(s))
}

func (w *WaitingTimeStats) Median() float64 {
	s := w.samples()
	if len(s) == 0 {
		return 0
	}
	sort.Float64s(s)
	mid := len(s) / 2
	if len(s)%2 == 0 {
		return (s[mid-1] + s[mid]) / 2
	}
	return s[mid]
}

// ReorderStats tracks packet ordering quality: reordered count, total
// received, max reorder distance, and the derived reorder rate in
// parts-per-myriad. Observe takes RTP timestamps, so the distance is in
// RTP timestamp units, not sequence-number units.
type ReorderStats struct {
	lastTimestamp       uint32
	haveLast            bool
	reorderedPackets    uint64
	totalPacketsReceived uint64
	maxReorderDistance  uint32
}

// Observe records the arrival of a packet with the given (timestamp-wrap
// aware) RTP timestamp, updating the reorder counters.
func (r *ReorderStats) Observe(timestamp uint32) {
	r.totalPacketsReceived++
	if !r.haveLast {
		r.lastTimestamp = timestamp
		r.haveLast = true
		return
	}
	// Wrap-aware signed distance: positive means forward progress.
	dist := int32(timestamp - r.lastTimestamp)
	if dist < 0 {
		r.reorderedPackets++
		distance := uint32(-dist)
		if distance > r.maxReorderDistance {
			r.maxReorderDistance = distance
		}
		return
	}
	r.lastTimestamp = timestamp
}

func (r *ReorderStats) ReorderedPackets() uint64     { return r.reorderedPackets }
func (r *ReorderStats) TotalPacketsReceived() uint64 { return r.totalPacketsReceived }
func (r *ReorderStats) MaxReorderDistance() uint32   { return r.maxReorderDistance }

// ReorderRatePermyriad returns reordered/total * 10000, or 0 if nothing has
// been observed yet.
func (r *ReorderStats) ReorderRatePermyriad() float64 {
	if r.totalPacketsReceived == 0 {
		return 0
	}
	return float64(r.reorderedPackets) / float64(r.totalPacketsReceived) * 10000
}

// Stats is the full Q14 statistics surface a NetEQ engine owns. Readers
// observe a snapshot (Snapshot); only the owning engine mutates it.
type Stats struct {
	ExpandRate     RollingRate
	AccelerateRate RollingRate
	PreemptiveRate RollingRate
	WaitingTime    *WaitingTimeStats
	Reorder        ReorderStats
}

// NewStats returns a zero-valued, ready-to-use Stats.
func NewStats() *Stats {
	return &Stats{WaitingTime: NewWaitingTimeStats()}
}

// Snapshot is an immutable point-in-time copy of Stats, safe to hand to
// readers outside the owning engine.
type Snapshot struct {
	ExpandRate          Value
	AccelerateRate      Value
	PreemptiveRate      Value
	WaitingTimeMinMs    float64
	WaitingTimeMaxMs    float64
	WaitingTimeMeanMs   float64
	WaitingTimeMedianMs float64
	ReorderedPackets    uint64
	TotalPackets        uint64
	MaxReorderDistance  uint32
	ReorderRatePermyriad float64
}

// Snapshot captures the current statistics.
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		ExpandRate:           s.ExpandRate.Rate(),
		AccelerateRate:       s.AccelerateRate.Rate(),
		PreemptiveRate:       s.PreemptiveRate.Rate(),
		WaitingTimeMinMs:     s.WaitingTime.Min(),
		WaitingTimeMaxMs:     s.WaitingTime.Max(),
		WaitingTimeMeanMs:    s.WaitingTime.Mean(),
		WaitingTimeMedianMs:  s.WaitingTime.Median(),
		ReorderedPackets:     s.Reorder.ReorderedPackets(),
		TotalPackets:         s.Reorder.TotalPacketsReceived(),
		MaxReorderDistance:   s.Reorder.MaxReorderDistance(),
		ReorderRatePermyriad: s.Reorder.ReorderRatePermyriad(),
	}
}
