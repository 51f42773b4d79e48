// Package voice runs the hands-free turn loop: listen until the speaker goes
// quiet, transcribe, send the transcript as a turn, speak the reply, listen
// again.
package voice

import "time"

// Phase is the controller's externally visible state.
type Phase string

const (
	PhaseIdle         Phase = "idle"
	PhaseListening    Phase = "listening"
	PhaseTranscribing Phase = "transcribing"
	PhaseThinking     Phase = "thinking"
	PhaseSpeaking     Phase = "speaking"
	PhaseError        Phase = "error"
)

// PhaseEvent is emitted on every phase change.
type PhaseEvent struct {
	Phase   Phase     `json:"phase"`
	Caption string    `json:"caption"`
	At      time.Time `json:"at"`
}
