// Package jitterest maintains a running estimate of absolute inter-arrival
// time variation between consecutively numbered packets, following RFC
// 3550's jitter formula (a first-order IIR with gain 1/16).
package jitterest

// gain is the EWMA weight applied to each new delta sample (alpha ~= 1/16,
// matching RFC 3550's jitter estimator).
const gain = 1.0 / 16.0

// Estimator tracks inter-arrival jitter for one stream. Zero value is
// ready to use.
type Estimator struct {
	lastSeq      uint64
	lastArrival  float64
	haveLast     bool
	jitter       float64
}

// New returns a ready-to-use Estimator.
func New() *Estimator {
	return &Estimator{}
}

// Update feeds one packet's sequence number and arrival time (ms) into the
// estimator. Only pairs with consecutive sequence numbers participate;
// reordered or skipped sequences are dropped, not penalized.
func (e *Estimator) Update(sequence uint64, arrivalTimeMs float64) {
	if !e.haveLast {
		e.lastSeq = sequence
		e.lastArrival = arrivalTimeMs
		e.haveLast = true
		return
	}

	if sequence != e.lastSeq+1 {
		// Not a consecutive pair — drop the sample, keep waiting for one.
		e.lastSeq = sequence
		e.lastArrival = arrivalTimeMs
		return
	}

	delta := arrivalTimeMs - e.lastArrival
	if delta < 0 {
		delta = -delta
	}

	e.jitter += (absFloat(delta-e.jitter) - e.jitter) * gain

	e.lastSeq = sequence
	e.lastArrival = arrivalTimeMs
}

// GetJitterEstimateMs returns the current smoothed jitter estimate in
// milliseconds.
func (e *Estimator) GetJitterEstimateMs() float64 {
	return e.jitter
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
