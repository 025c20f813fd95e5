package main

import (
	"testing"

	"github.com/security-union/videocall-rs-sub001/internal/protocol"
)

func TestPcmDecoderRoundTripsThroughEncodePCM(t *testing.T) {
	original := []int16{0, 16000, -16000, 32767, -32768}
	payload := make([]byte, len(original)*2)
	for i, s := range original {
		payload[2*i] = byte(uint16(s))
		payload[2*i+1] = byte(uint16(s) >> 8)
	}

	decoded := pcmDecoder{}.Decode(protocol.AudioPacket{Payload: payload})
	if len(decoded) != len(original) {
		t.Fatalf("got %d samples, want %d", len(decoded), len(original))
	}

	reencoded := encodePCM(decoded)
	for i, want := range original {
		got := int16(uint16(reencoded[2*i]) | uint16(reencoded[2*i+1])<<8)
		if diff := int(got) - int(want); diff < -1 || diff > 1 {
			t.Errorf("sample %d round-tripped to %d, want ~%d", i, got, want)
		}
	}
}

func TestScaleSampleClampsToInt16Range(t *testing.T) {
	if got := scaleSample(1.0, 2.0); got != 32767 {
		t.Errorf("scaleSample(1.0, 2.0) = %d, want clamp to 32767", got)
	}
	if got := scaleSample(-1.0, 2.0); got != -32767 {
		t.Errorf("scaleSample(-1.0, 2.0) = %d, want clamp to -32767", got)
	}
}

func TestClampFloatClampsToRange(t *testing.T) {
	if got := clampFloat(3.0, 0, 2.0); got != 2.0 {
		t.Errorf("clampFloat(3.0, 0, 2.0) = %v, want 2.0", got)
	}
	if got := clampFloat(-1.0, 0, 2.0); got != 0 {
		t.Errorf("clampFloat(-1.0, 0, 2.0) = %v, want 0", got)
	}
	if got := clampFloat(1.5, 0, 2.0); got != 1.5 {
		t.Errorf("clampFloat(1.5, 0, 2.0) = %v, want 1.5 (unchanged)", got)
	}
}
