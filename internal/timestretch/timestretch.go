// Package timestretch shrinks or grows a block of audio samples without
// pitch distortion, by splicing at a similar region with a short
// crossfade. It backs the NetEQ engine's Accelerate, FastAccelerate, and
// PreemptiveExpand operations.
package timestretch

// Result reports what an Accelerate/Expand call did.
type Result struct {
	// SamplesConsumed is how many input samples the caller should advance
	// its read pointer by.
	SamplesConsumed int
	// NoStretch is true when input was simply copied through: the buffer
	// was too small to safely operate on, or (Accelerate in normal mode)
	// no low-energy window long enough to remove was found.
	NoStretch bool
}

// minOverlapSamples is the floor on overlap length regardless of sample rate.
const minOverlapSamples = 32

// overlapLength returns the crossfade window length for sampleRate,
// approximately 3ms, never below minOverlapSamples.
func overlapLength(sampleRate int) int {
	n := sampleRate * 3 / 1000
	if n < minOverlapSamples {
		return minOverlapSamples
	}
	return n
}

// Accelerate removes samples from input to fit output (len(output) <
// len(input)), preferring a removal window inside a low-energy region so
// the drop is inaudible. In fastMode, up to 40% of the output length may
// be removed (20% in normal mode), and a forced removal at the lowest-
// energy sub-window is used if no low-energy run is long enough.
func Accelerate(input, output []float32, sampleRate int, fastMode bool) Result {
	overlap := overlapLength(sampleRate)
	if len(output) <= 2*overlap || len(input) <= len(output) {
		copy(output, input[:min(len(input), len(output))])
		return Result{SamplesConsumed: len(output), NoStretch: true}
	}

	maxRatio := 0.20
	if fastMode {
		maxRatio = 0.40
	}
	maxRemove := int(float64(len(output)) * maxRatio)
	if cap := len(input) - len(output); cap < maxRemove {
		maxRemove = cap
	}
	if maxRemove < overlap {
		copy(output, input[:len(output)])
		return Result{SamplesConsumed: len(output), NoStretch: true}
	}

	removeLen, pos, found := findLowEnergyWindow(input, overlap, maxRemove)
	if !found {
		if !fastMode {
			copy(output, input[:len(output)])
			return Result{SamplesConsumed: len(output), NoStretch: true}
		}
		// Fast mode: force removal at the lowest-mean-energy sub-window
		// of the minimum viable length.
		removeLen = overlap
		pos = lowestEnergySubwindow(input, overlap, len(input)-len(output))
	}

	consumed := spliceRemove(input, output, pos, removeLen, overlap)
	return Result{SamplesConsumed: consumed}
}

// PreemptiveExpand inserts samples into input to fill output (len(output)
// > len(input)), by finding the addition length and position that
// maximize normalized cross-correlation of a repeatable window, then
// crossfading the duplicate in.
func PreemptiveExpand(input, output []float32, sampleRate int) Result {
	overlap := overlapLength(sampleRate)
	if len(output) <= 2*overlap || len(output) <= len(input) {
		n := min(len(input), len(output))
		copy(output, input[:n])
		return Result{SamplesConsumed: n, NoStretch: true}
	}

	maxAdd := int(float64(len(output)) / (1 + 1/0.25)) // ~20%
	if maxAdd < overlap {
		n := min(len(input), len(output))
		copy(output, input[:n])
		return Result{SamplesConsumed: n, NoStretch: true}
	}
	if cap := len(output) - len(input); cap > 0 && maxAdd > cap {
		// Never add more than is needed to fill output exactly.
		maxAdd = cap
	}

	addLen, pos := bestCorrelationWindow(input, overlap, maxAdd)

	consumed := spliceInsert(input, output, pos, addLen, overlap)
	return Result{SamplesConsumed: consumed}
}

// findLowEnergyWindow scans input for the longest run (up to maxLen,
// at least minLen) whose samples stay under an energy threshold,
// returning its start position.
func findLowEnergyWindow(input []float32, minLen, maxLen int) (length, pos int, found bool) {
	if len(input) < minLen {
		return 0, 0, false
	}
	threshold := meanEnergy(input) * 0.5

	bestLen, bestPos := 0, 0
	runStart := -1
	for i, s := range input {
		e := s * s
		if e <= threshold {
			if runStart < 0 {
				runStart = i
			}
			runLen := i - runStart + 1
			if runLen > bestLen {
				bestLen, bestPos = runLen, runStart
			}
		} else {
			runStart = -1
		}
	}

	if bestLen < minLen {
		return 0, 0, false
	}
	if bestLen > maxLen {
		bestLen = maxLen
	}
	return bestLen, bestPos, true
}

func lowestEnergySubwindow(input []float32, windowLen, searchLimit int) int {
	if searchLimit <= 0 || searchLimit > len(input)-windowLen {
		searchLimit = len(input) - windowLen
	}
	if searchLimit < 0 {
		return 0
	}
	bestPos := 0
	bestEnergy := float32(-1)
	var sum float32
	for i := 0; i < windowLen && i < len(input); i++ {
		sum += input[i] * input[i]
	}
	bestEnergy = sum / float32(windowLen)
	for pos := 1; pos <= searchLimit; pos++ {
		sum += input[pos+windowLen-1]*input[pos+windowLen-1] - input[pos-1]*input[pos-1]
		e := sum / float32(windowLen)
		if e < bestEnergy {
			bestEnergy, bestPos = e, pos
		}
	}
	return bestPos
}

func meanEnergy(input []float32) float32 {
	if len(input) == 0 {
		return 0
	}
	var sum float32
	for _, s := range input {
		sum += s * s
	}
	return sum / float32(len(input))
}

// spliceRemove drops removeLen samples starting at pos from input,
// crossfading the overlap samples straddling the removal, and writes the
// result into output. Returns samples consumed from input.
func spliceRemove(input, output []float32, pos, removeLen, overlap int) int {
	n := copy(output, input[:pos])
	fadeOutStart := pos
	fadeInStart := pos + removeLen
	for i := 0; i < overlap && fadeInStart+i < len(input) && fadeOutStart+i < len(input); i++ {
		w := float32(i) / float32(overlap)
		blended := input[fadeOutStart+i]*(1-w) + input[fadeInStart+i]*w
		if n < len(output) {
			output[n] = blended
			n++
		}
	}
	i := fadeInStart + overlap
	for ; i < len(input) && n < len(output); i++ {
		output[n] = input[i]
		n++
	}
	if i > len(input) {
		i = len(input)
	}
	return i // index just past the last input sample read, removed span included
}

// spliceInsert duplicates addLen samples starting at pos, crossfading the
// overlap boundary, to grow input into output.
func spliceInsert(input, output []float32, pos, addLen, overlap int) int {
	n := copy(output, input[:pos+addLen])
	fadeStart := pos + addLen
	for i := 0; i < overlap && n < len(output) && fadeStart+i < len(input); i++ {
		w := float32(i) / float32(overlap)
		orig := input[fadeStart+i]
		dup := input[pos+i]
		output[n] = orig*(1-w) + dup*w
		n++
	}
	for i := pos + overlap; i < len(input) && n < len(output); i++ {
		output[n] = input[i]
		n++
	}
	return len(input)
}

// bestCorrelationWindow finds the (addLen, pos) in [overlap, maxAdd] that
// maximizes normalized cross-correlation between the window at pos and
// the window immediately preceding it — i.e. the most "repeatable"
// region to duplicate.
func bestCorrelationWindow(input []float32, overlap, maxAdd int) (addLen, pos int) {
	bestScore := float32(-1)
	addLen, pos = overlap, 0

	for length := overlap; length <= maxAdd && length <= len(input)/2; length++ {
		for p := 0; p+2*length <= len(input); p += length {
			score := normalizedCorrelation(input[p:p+length], input[p+length:p+2*length])
			if score > bestScore {
				bestScore, addLen, pos = score, length, p
			}
		}
	}
	return addLen, pos
}

func normalizedCorrelation(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return -1
	}
	var dot, na, nb float32
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / sqrt32(na*nb)
}

func sqrt32(v float32) float32 {
	// Newton's method, a handful of iterations is plenty for this use.
	if v <= 0 {
		return 0
	}
	x := v
	for i := 0; i < 8; i++ {
		x = 0.5 * (x + v/x)
	}
	return x
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
