package main

import "github.com/security-union/videocall-rs-sub001/internal/protocol"

// pcmDecoder treats an AudioPacket's payload as raw little-endian int16
// PCM and converts it to the engine's float32 domain, standing in for a
// real codec since this tool exercises jitter-buffer and NetEQ behavior
// against known input, not codec correctness.
type pcmDecoder struct{}

func (pcmDecoder) Decode(pkt protocol.AudioPacket) []float32 {
	out := make([]float32, len(pkt.Payload)/2)
	for i := range out {
		lo := pkt.Payload[2*i]
		hi := pkt.Payload[2*i+1]
		sample := int16(uint16(lo) | uint16(hi)<<8)
		out[i] = float32(sample) / 32768.0
	}
	return out
}

// encodePCM converts engine output samples back to little-endian int16 PCM.
func encodePCM(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		v := int16(s * 32767.0)
		out[2*i] = byte(uint16(v))
		out[2*i+1] = byte(uint16(v) >> 8)
	}
	return out
}
