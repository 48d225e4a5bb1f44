// Package relay bridges one inbound telephony media stream to one outbound
// inference connection per call, and feeds inference results back into the
// call state machine.
package relay

// Frame is one message on the telephony media stream. The provider frames
// every message as JSON with an event discriminator; exactly one of Start,
// Media, or Stop is populated to match it.
type Frame struct {
	Event     string      `json:"event"` // "start" | "media" | "stop"
	StreamSID string      `json:"streamSid,omitempty"`
	Start     *StartFrame `json:"start,omitempty"`
	Media     *MediaFrame `json:"media,omitempty"`
	Stop      *StopFrame  `json:"stop,omitempty"`
}

// StartFrame opens a media stream. CustomParameters carries arbitrary
// caller-supplied metadata; the detection strategies put the local call id
// there so correlation can succeed on the first frame.
type StartFrame struct {
	StreamSID        string            `json:"streamSid"`
	CallSID          string            `json:"callSid"`
	MediaFormat      MediaFormat       `json:"mediaFormat"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
}

// MediaFormat describes the audio payload encoding of a stream.
type MediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

// MediaFrame carries one chunk of base64-encoded audio.
type MediaFrame struct {
	Track     string `json:"track"`
	Chunk     string `json:"chunk"`
	Timestamp string `json:"timestamp"`
	Payload   string `json:"payload"`
}

// StopFrame closes a media stream.
type StopFrame struct {
	CallSID string `json:"callSid"`
}

// Result kinds emitted by the inference backend.
const (
	ResultKindPrediction = "prediction"
	ResultKindFinal      = "final"
)

// Result is one classification message from the inference backend.
type Result struct {
	Event      string  `json:"event"` // "prediction" | "final"
	Label      string  `json:"label"` // "human" | "machine"
	Confidence float64 `json:"confidence"`
}
