package realtime

// Client → server message types.
const (
	msgStart         = "start"
	msgStop          = "stop"
	msgPlaybackEnded = "playback_ended"
	msgMicError      = "mic_error"
	msgPing          = "ping"
)

// Server → client message types.
const (
	msgPhase = "phase"
	msgAudio = "audio"
	msgPong  = "pong"
	msgError = "error"
)

// clientMessage is any text frame sent by the browser. Binary frames carry
// PCM16LE mono samples for the open capture.
type clientMessage struct {
	Type       string `json:"type"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Message    string `json:"message,omitempty"`
}

type phaseMessage struct {
	Type    string `json:"type"`
	Phase   string `json:"phase"`
	Caption string `json:"caption,omitempty"`
}

// audioMessage announces the binary frame that follows it.
type audioMessage struct {
	Type  string `json:"type"`
	Bytes int    `json:"bytes"`
}
