package voice

import (
	"context"

	"github.com/ashureev/tripdesk/internal/conversation"
)

// Capture is one exclusively owned microphone stream. Frames is closed when
// the stream ends on its own. Close releases the stream and may be called
// more than once.
type Capture interface {
	Frames() <-chan []int16
	SampleRate() int
	Close() error
}

// Source opens a fresh Capture for each listening cycle.
type Source interface {
	Open(ctx context.Context) (Capture, error)
}

// Transcriber turns recorded audio into text. An empty result means no speech.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, filename string) (string, error)
}

// Synthesizer turns text into playable audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Player plays audio and blocks until playback has finished.
type Player interface {
	Play(ctx context.Context, audio []byte) error
}

// Store is the part of the conversation store the loop drives.
type Store interface {
	SendMessage(ctx context.Context, content string) (conversation.Turn, bool)
	Snapshot() conversation.State
	Language() string
}

var _ Store = (*conversation.Store)(nil)
