// Package protocol defines the wire and domain types shared by every
// component of the receive path and sender-side rate control: frame
// fingerprints, audio packets, connection kinds, and the diagnostic
// and control envelopes exchanged with peers. It holds data only — no
// behavior — mirroring the split the teacher keeps between its
// protocol.go and the packages that act on it.
package protocol

import "github.com/pion/rtp"

// FrameType distinguishes self-decodable frames from differentially
// coded ones.
type FrameType uint8

const (
	Delta FrameType = iota
	Key
)

func (t FrameType) String() string {
	if t == Key {
		return "Key"
	}
	return "Delta"
}

// FrameFingerprint identifies one encoded video frame. Sequences increase
// monotonically per stream; a gap denotes loss.
type FrameFingerprint struct {
	Sequence    uint64
	FrameType   FrameType
	TimestampMs float64
	Payload     []byte
}

// FrameBuffer is a FrameFingerprint annotated with its arrival time on a
// monotonic clock (milliseconds since process start, or any consistent
// origin — only deltas between FrameBuffers are meaningful). Immutable
// once created.
type FrameBuffer struct {
	FrameFingerprint
	ArrivalTimeMs int64
}

// SpeechType classifies the content of a decoded 10ms audio frame.
type SpeechType uint8

const (
	SpeechNormal SpeechType = iota
	SpeechCng
	SpeechExpand
	SpeechMusic
)

func (s SpeechType) String() string {
	switch s {
	case SpeechCng:
		return "Cng"
	case SpeechExpand:
		return "Expand"
	case SpeechMusic:
		return "Music"
	default:
		return "Normal"
	}
}

// AudioPacket is one arrived RTP-framed audio packet. Header reuses
// pion/rtp's field layout (SequenceNumber, Timestamp, SSRC, PayloadType,
// Marker) since it matches the spec's rtp_header exactly.
type AudioPacket struct {
	Header     rtp.Header
	Payload    []byte
	SampleRate int
	Channels   int
	DurationMs float64
}

// AudioFrame is one 10ms block of decoder output.
type AudioFrame struct {
	Samples    []float32 // interleaved
	SpeechType SpeechType
	VAD        bool
}

// ConnectionKind is a closed sum of transport kinds the connection
// manager can race.
type ConnectionKind uint8

const (
	Socket ConnectionKind = iota
	DatagramTransport
)

func (k ConnectionKind) String() string {
	if k == DatagramTransport {
		return "DatagramTransport"
	}
	return "Socket"
}

// MediaType is a closed sum of payloads carried in a MediaPacket.
type MediaType uint8

const (
	Video MediaType = iota
	Audio
	Screen
	RTT
)

func (m MediaType) String() string {
	switch m {
	case Video:
		return "VIDEO"
	case Audio:
		return "AUDIO"
	case Screen:
		return "SCREEN"
	case RTT:
		return "RTT"
	default:
		return "UNKNOWN"
	}
}

// MediaPacket is the payload of a MEDIA PacketWrapper.
type MediaPacket struct {
	MediaType   MediaType `json:"media_type"`
	Sequence    uint64    `json:"sequence"`
	TimestampMs float64   `json:"timestamp_ms"`
	FrameType   string    `json:"frame_type,omitempty"` // "Key" | "Delta", video/screen only
	Data        []byte    `json:"data"`
	DurationMs  float64   `json:"duration_ms"`
}

// PacketType is a closed sum of envelope kinds on the wire.
type PacketType uint8

const (
	PacketMedia PacketType = iota
	PacketRTTResponse
	PacketDiagnostics
	PacketControl
)

func (p PacketType) String() string {
	switch p {
	case PacketMedia:
		return "MEDIA"
	case PacketRTTResponse:
		return "RTT_RESPONSE"
	case PacketDiagnostics:
		return "DIAGNOSTICS"
	default:
		return "CONTROL"
	}
}

// PacketWrapper is the length-delimited typed envelope every transport
// frame carries. Encryption is transparent to this layer: Payload here
// is always the post-decrypt bytes.
type PacketWrapper struct {
	PacketType PacketType `json:"packet_type"`
	SenderID   string     `json:"sender_id"`
	Payload    []byte     `json:"payload"`
}

// VideoMetrics is the video-specific portion of a DiagnosticsPacket.
type VideoMetrics struct {
	FPSReceived  float32 `json:"fps_received"`
	Width        int     `json:"width"`
	Height       int     `json:"height"`
	BitrateKbps  float32 `json:"bitrate_kbps"`
	FreezeCount  int     `json:"freeze_count"`
}

// AudioMetrics is the audio-specific portion of a DiagnosticsPacket.
type AudioMetrics struct {
	FPSReceived float32 `json:"fps_received"`
	BitrateKbps float32 `json:"bitrate_kbps"`
	SampleRate  int     `json:"sample_rate"`
	Channels    int     `json:"channels"`
	PacketsLost int     `json:"packets_lost"`
}

// QualityHints carries receiver-side preferences back to the sender.
type QualityHints struct {
	TargetBitrateKbps float64 `json:"target_bitrate_kbps"`
}

// DiagnosticsPacket flows from a receiver back to the sender of the
// stream it describes, to drive the bitrate controller.
type DiagnosticsPacket struct {
	SenderID              string        `json:"sender_id"`
	TargetID              string        `json:"target_id"`
	MediaType             MediaType     `json:"media_type"`
	TimestampMs           float64       `json:"timestamp_ms"`
	PacketLossPercent     float32       `json:"packet_loss_percent"`
	MedianLatencyMs       float64       `json:"median_latency_ms"`
	JitterMs              float64       `json:"jitter_ms"`
	EstimatedBandwidthKbps float64      `json:"estimated_bandwidth_kbps"`
	RoundTripTimeMs       float64       `json:"round_trip_time_ms"`
	Video                 *VideoMetrics `json:"video,omitempty"`
	Audio                 *AudioMetrics `json:"audio,omitempty"`
	QualityHints          QualityHints  `json:"quality_hints"`
}

// RTTProbe is the payload of a MediaPacket with MediaType=RTT: the
// sender's wall-clock send timestamp, echoed verbatim by the peer.
type RTTProbe struct {
	SendTimestampMs float64
}

// DecodedFrame is the output of a video Decodable.
type DecodedFrame struct {
	Sequence uint64
	Width    int
	Height   int
	Data     []byte
}
