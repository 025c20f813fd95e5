package transport

import (
	"bytes"
	"testing"
)

func TestEncodeFrameHeaderLength(t *testing.T) {
	payload := []byte("a diagnostics packet")
	header, body := encodeFrame(payload)
	if len(header) != 4 {
		t.Fatalf("header length = %d, want 4", len(header))
	}
	if decodeFrameLength(header) != uint32(len(payload)) {
		t.Fatalf("decoded length = %d, want %d", decodeFrameLength(header), len(payload))
	}
	if !bytes.Equal(body, payload) {
		t.Fatalf("body mismatch")
	}
}

func TestEncodeFrameEmptyPayload(t *testing.T) {
	header, body := encodeFrame(nil)
	if decodeFrameLength(header) != 0 {
		t.Fatalf("expected zero length for empty payload")
	}
	if len(body) != 0 {
		t.Fatalf("expected empty body")
	}
}
