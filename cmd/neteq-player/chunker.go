package main

import (
	"math/rand"

	"github.com/pion/rtp"
	"github.com/security-union/videocall-rs-sub001/internal/protocol"
)

// chunkToPackets splits w into frameMs-long AudioPackets with monotonic
// RTP timestamps and sequence numbers, mirroring how a real sender would
// frame a capture device's output.
func chunkToPackets(w *wavFile, frameMs float64) []protocol.AudioPacket {
	frameSamples := int(float64(w.SampleRate) * frameMs / 1000)
	if frameSamples <= 0 {
		return nil
	}

	var packets []protocol.AudioPacket
	var seq uint16
	var ts uint32
	for start := 0; start < len(w.Samples); start += frameSamples {
		end := start + frameSamples
		if end > len(w.Samples) {
			end = len(w.Samples)
		}
		chunk := w.Samples[start:end]
		payload := make([]byte, len(chunk)*2)
		for i, s := range chunk {
			payload[2*i] = byte(uint16(s))
			payload[2*i+1] = byte(uint16(s) >> 8)
		}

		packets = append(packets, protocol.AudioPacket{
			Header: rtp.Header{
				SequenceNumber: seq,
				Timestamp:      ts,
			},
			Payload:    payload,
			SampleRate: w.SampleRate,
			Channels:   1,
			DurationMs: frameMs * float64(len(chunk)) / float64(frameSamples),
		})
		seq++
		ts += uint32(frameSamples)
	}
	return packets
}

// reorderWithinWindows reverses packet order inside each consecutive block
// of windowPackets packets, simulating the worst-case reordering a window
// of that size can produce without dropping anything.
func reorderWithinWindows(packets []protocol.AudioPacket, windowPackets int) []protocol.AudioPacket {
	if windowPackets <= 1 {
		return packets
	}
	out := make([]protocol.AudioPacket, len(packets))
	copy(out, packets)
	for start := 0; start < len(out); start += windowPackets {
		end := start + windowPackets
		if end > len(out) {
			end = len(out)
		}
		for i, j := start, end-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out
}

// arrival pairs a packet with the wall-clock time (ms, relative to stream
// start) it is delivered to the jitter buffer.
type arrival struct {
	Packet    protocol.AudioPacket
	ArrivalMs int64
}

// scheduleArrivals assigns each packet an ideal arrival time (index *
// frameMs) perturbed by up to ±maxJitterMs, then sorts by arrival so the
// buffer sees packets in the order a real socket would deliver them.
func scheduleArrivals(packets []protocol.AudioPacket, frameMs, maxJitterMs float64, rng *rand.Rand) []arrival {
	out := make([]arrival, len(packets))
	for i, p := range packets {
		ideal := float64(i) * frameMs
		jitter := 0.0
		if maxJitterMs > 0 {
			jitter = (rng.Float64()*2 - 1) * maxJitterMs
		}
		arrivalMs := ideal + jitter
		if arrivalMs < 0 {
			arrivalMs = 0
		}
		out[i] = arrival{Packet: p, ArrivalMs: int64(arrivalMs)}
	}
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j].ArrivalMs < out[j-1].ArrivalMs; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}
