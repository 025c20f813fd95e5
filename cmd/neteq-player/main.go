package main

import (
	"flag"
	"log"
	"math/rand"
	"time"

	"github.com/security-union/videocall-rs-sub001/internal/audiobuffer"
	"github.com/security-union/videocall-rs-sub001/internal/neteq"
)

const frameMs = 10.0

func main() {
	wavPath := flag.String("wav-path", "", "input WAV file (mono, 16-bit PCM)")
	outPath := flag.String("out-path", "out.wav", "output WAV file for decoded/concealed audio")
	reorderWindowMs := flag.Float64("reorder-window-ms", 0, "reorder packets within this many milliseconds (0 disables)")
	maxJitterMs := flag.Float64("max-jitter-ms", 0, "perturb each packet's arrival time by up to this many milliseconds (0 disables)")
	minDelayMs := flag.Float64("min-delay-ms", 20, "minimum jitter buffer target delay")
	volume := flag.Float64("volume", 1.0, "output gain applied to decoded PCM")
	noNetEQ := flag.Bool("no-neteq", false, "bypass NetEQ and play buffered packets back in RTP timestamp order with no concealment")
	fastAccelerate := flag.Bool("fast-accelerate", true, "enable the larger FastAccelerate time-stretch ratio")
	flag.Parse()

	if *wavPath == "" {
		log.Fatal("[neteq-player] --wav-path is required")
	}
	// Clamp rather than reject: these are recommended ranges, not hard
	// protocol limits.
	*volume = clampFloat(*volume, 0.0, 2.0)
	*reorderWindowMs = clampFloat(*reorderWindowMs, 0, 200)
	*maxJitterMs = clampFloat(*maxJitterMs, 0, 500)

	wav, err := loadWAV(*wavPath)
	if err != nil {
		log.Fatalf("[neteq-player] load %s: %v", *wavPath, err)
	}
	log.Printf("[neteq-player] loaded %s: %d Hz, %d samples (%.1fs)",
		*wavPath, wav.SampleRate, len(wav.Samples), float64(len(wav.Samples))/float64(wav.SampleRate))

	packets := chunkToPackets(wav, frameMs)
	windowPackets := int(*reorderWindowMs / frameMs)
	packets = reorderWithinWindows(packets, windowPackets)

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	arrivals := scheduleArrivals(packets, frameMs, *maxJitterMs, rng)

	buffer := audiobuffer.New(200, *minDelayMs, 0)
	var out []int16
	decoder := pcmDecoder{}

	if *noNetEQ {
		for _, a := range arrivals {
			buffer.Insert(a.Packet, a.ArrivalMs)
		}
		for {
			pkt, ok := buffer.Pop()
			if !ok {
				break
			}
			for _, s := range decoder.Decode(pkt) {
				out = append(out, scaleSample(s, *volume))
			}
		}
	} else {
		engine := neteq.New(buffer, decoder, wav.SampleRate, frameMs, *fastAccelerate)
		engine.SetMinimumDelay(*minDelayMs)
		for _, a := range arrivals {
			engine.InsertPacket(a.Packet, a.ArrivalMs)
		}

		frames := len(packets) + int(*minDelayMs/frameMs) + 20
		for i := 0; i < frames && buffer.Len() > 0; i++ {
			f := engine.GetAudio()
			for _, s := range f.Samples {
				out = append(out, scaleSample(s, *volume))
			}
		}

		log.Printf("[neteq-player] concealment events=%d concealed samples=%d removed(accel)=%d inserted(expand)=%d",
			engine.ConcealmentEvents(), engine.ConcealedSamples(),
			engine.RemovedSamplesForAcceleration(), engine.InsertedSamplesForDeceleration())
	}

	if err := writeWAV(*outPath, wav.SampleRate, out); err != nil {
		log.Fatalf("[neteq-player] write %s: %v", *outPath, err)
	}
	log.Printf("[neteq-player] wrote %s (%d samples)", *outPath, len(out))
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func scaleSample(s float32, volume float64) int16 {
	v := float64(s) * volume
	if v > 1 {
		v = 1
	} else if v < -1 {
		v = -1
	}
	return int16(v * 32767.0)
}
