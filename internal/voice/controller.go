package voice

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ashureev/tripdesk/internal/conversation"
	"github.com/ashureev/tripdesk/internal/i18n"
)

// ErrAlreadyRunning is returned when Run is called on a running controller.
var ErrAlreadyRunning = errors.New("voice controller already running")

const recordingFilename = "recording.wav"

// Config holds the loop's timings and thresholds.
type Config struct {
	SettleDelay      time.Duration
	SilenceThreshold float64
	SilenceDuration  time.Duration
	RetryDelay       time.Duration
	MaxUtterance     time.Duration
	FFTSize          int
}

// DefaultConfig returns the standard timings.
func DefaultConfig() Config {
	return Config{
		SettleDelay:      500 * time.Millisecond,
		SilenceThreshold: 10,
		SilenceDuration:  2 * time.Second,
		RetryDelay:       time.Second,
		MaxUtterance:     60 * time.Second,
		FFTSize:          DefaultFFTSize,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.SettleDelay < 0 {
		c.SettleDelay = 0
	}
	if c.SilenceThreshold <= 0 {
		c.SilenceThreshold = d.SilenceThreshold
	}
	if c.SilenceDuration <= 0 {
		c.SilenceDuration = d.SilenceDuration
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = d.RetryDelay
	}
	if c.MaxUtterance <= 0 {
		c.MaxUtterance = d.MaxUtterance
	}
	if c.FFTSize <= 0 {
		c.FFTSize = d.FFTSize
	}
	return c
}

// Deps are the controller's collaborators.
type Deps struct {
	Store       Store
	Transcriber Transcriber
	Synthesizer Synthesizer
	Source      Source
	Player      Player
	Logger      *slog.Logger
}

// Controller is the voice turn loop for one session. Run drives it; every
// phase change is published on Events.
type Controller struct {
	deps     Deps
	cfg      Config
	meter    *EnergyMeter
	ring     *PCMBuffer
	detector *SilenceDetector

	events  chan PhaseEvent
	stop    chan struct{}
	running atomic.Bool

	mu         sync.Mutex
	phase      Phase
	seen       map[string]struct{} // assistant message ids never to be read out again
	lastSpoken string
	loc        *i18n.Localizer
}

// NewController creates an idle controller.
func NewController(deps Deps, cfg Config) *Controller {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	return &Controller{
		deps:     deps,
		cfg:      cfg,
		meter:    NewEnergyMeter(cfg.FFTSize),
		detector: NewSilenceDetector(cfg.SilenceThreshold),
		events:   make(chan PhaseEvent, 1),
		stop:     make(chan struct{}, 1),
		phase:    PhaseIdle,
		seen:     make(map[string]struct{}),
	}
}

// Events delivers phase changes. A reader that falls behind only sees the
// newest one.
func (c *Controller) Events() <-chan PhaseEvent {
	return c.events
}

// Phase returns the current phase.
func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// LastSpoken returns the id of the last assistant message handed to speech.
func (c *Controller) LastSpoken() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSpoken
}

// StopListening ends the current listening cycle as if silence had been
// detected. It has no effect in other phases.
func (c *Controller) StopListening() {
	select {
	case c.stop <- struct{}{}:
	default:
	}
}

// Run drives the loop until ctx is done. Transcription and synthesis failures
// never end the loop.
func (c *Controller) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer c.running.Store(false)
	defer c.setPhase(PhaseIdle, "")

	// Replies that existed before activation are not read out.
	c.markExisting(c.deps.Store.Snapshot())

	if !sleep(ctx, c.cfg.SettleDelay) {
		return nil
	}

	caption := i18n.KeyListening
	for {
		samples, rate, ok := c.listen(ctx, caption)
		caption = i18n.KeyListening
		if ctx.Err() != nil {
			return nil
		}
		if !ok {
			continue
		}
		if len(samples) == 0 {
			caption = i18n.KeyNoSpeech
			if !sleep(ctx, c.cfg.RetryDelay) {
				return nil
			}
			continue
		}

		text, key := c.transcribe(ctx, samples, rate)
		if ctx.Err() != nil {
			return nil
		}
		if text == "" {
			caption = key
			continue
		}

		turn, ok := c.think(ctx, text)
		if !ok {
			return nil
		}

		next, ok := c.speak(ctx, turn)
		if !ok {
			return nil
		}
		if next != "" {
			caption = next
		}
	}
}

// listen records one utterance. ok is false when the capture could not be
// opened or ctx ended.
func (c *Controller) listen(ctx context.Context, caption string) (samples []int16, rate int, ok bool) {
	// Drop a stop request left over from an earlier phase.
	select {
	case <-c.stop:
	default:
	}

	c.setPhase(PhaseListening, caption)

	capture, err := c.deps.Source.Open(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, 0, false
		}
		c.deps.Logger.Warn("Failed to open audio capture", "error", err)
		c.setPhase(PhaseError, i18n.KeyMicError)
		sleep(ctx, c.cfg.RetryDelay)
		return nil, 0, false
	}
	defer func() {
		if err := capture.Close(); err != nil {
			c.deps.Logger.Debug("Failed to close audio capture", "error", err)
		}
	}()

	rate = capture.SampleRate()
	ring := c.recorder(rate)
	detector := c.detector
	detector.Reset()

	timer := time.NewTimer(c.cfg.SilenceDuration)
	timer.Stop()
	defer timer.Stop()
	var silence <-chan time.Time

	frames := capture.Frames()
	for {
		select {
		case <-ctx.Done():
			return nil, 0, false
		case <-c.stop:
			c.deps.Logger.Debug("Listening stopped manually", "samples", ring.Len(), "silence_armed", detector.Armed())
			return ring.Samples(), rate, true
		case <-silence:
			c.deps.Logger.Debug("Silence detected", "samples", ring.Len())
			return ring.Samples(), rate, true
		case frame, open := <-frames:
			if !open {
				return ring.Samples(), rate, true
			}
			ring.Write(frame)
			switch detector.Observe(c.meter.Level(frame)) {
			case TransitionArm:
				timer.Reset(c.cfg.SilenceDuration)
				silence = timer.C
			case TransitionCancel:
				timer.Stop()
				silence = nil
			}
		}
	}
}

// recorder returns an empty ring sized for rate, reusing the previous one
// when the size matches.
func (c *Controller) recorder(rate int) *PCMBuffer {
	if c.ring != nil && c.ring.Capacity() == pcmCapacity(rate, c.cfg.MaxUtterance) {
		c.ring.Reset()
		return c.ring
	}
	c.ring = NewPCMBuffer(rate, c.cfg.MaxUtterance)
	return c.ring
}

// transcribe returns the transcript, or "" with the caption to show next.
func (c *Controller) transcribe(ctx context.Context, samples []int16, rate int) (string, string) {
	c.setPhase(PhaseTranscribing, i18n.KeyTranscribing)

	text, err := c.deps.Transcriber.Transcribe(ctx, EncodeWAV(samples, rate), recordingFilename)
	if err != nil {
		if ctx.Err() == nil {
			c.deps.Logger.Warn("Transcription failed", "error", err)
		}
		return "", i18n.KeyTranscriptionFailed
	}
	if text == "" {
		c.deps.Logger.Debug("No speech in recording", "samples", len(samples))
		return "", i18n.KeyNoSpeech
	}
	return text, ""
}

// think sends the transcript as a turn. The turn keeps running if ctx ends
// first; think then returns false.
func (c *Controller) think(ctx context.Context, text string) (conversation.Turn, bool) {
	c.setPhase(PhaseThinking, i18n.KeyThinking)

	done := make(chan conversation.Turn, 1)
	go func() {
		turn, _ := c.deps.Store.SendMessage(context.WithoutCancel(ctx), text)
		done <- turn
	}()

	select {
	case turn := <-done:
		return turn, true
	case <-ctx.Done():
		return conversation.Turn{}, false
	}
}

// speak reads out the assistant reply of turn unless it was already seen.
// Failed and dropped turns have nothing to read. It returns the caption for
// the next listening phase, and false when ctx ended.
func (c *Controller) speak(ctx context.Context, turn conversation.Turn) (string, bool) {
	if turn.Failed || turn.Dropped {
		return "", true
	}
	msg := turn.Reply
	if msg.Role != conversation.RoleAssistant || msg.ID == "" || !c.markSpoken(msg.ID) {
		return "", true
	}

	c.setPhase(PhaseSpeaking, i18n.KeySpeaking)

	audio, err := c.deps.Synthesizer.Synthesize(ctx, msg.Content)
	if err != nil {
		if ctx.Err() != nil {
			return "", false
		}
		c.deps.Logger.Warn("Speech synthesis failed", "message_id", msg.ID, "error", err)
		return i18n.KeySpeechFailed, true
	}
	if err := c.deps.Player.Play(ctx, audio); err != nil && ctx.Err() == nil {
		c.deps.Logger.Warn("Playback failed", "message_id", msg.ID, "error", err)
	}
	return "", ctx.Err() == nil
}

// markSpoken records id as spoken. It reports false if it already was seen.
func (c *Controller) markSpoken(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.seen[id]; ok {
		return false
	}
	c.seen[id] = struct{}{}
	c.lastSpoken = id
	return true
}

// markExisting records every assistant message in st as seen.
func (c *Controller) markExisting(st conversation.State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, conv := range st.Conversations {
		for _, m := range conv.Messages {
			if m.Role == conversation.RoleAssistant {
				c.seen[m.ID] = struct{}{}
			}
		}
	}
}

// localizer follows the store's language, which may change while running.
func (c *Controller) localizer() *i18n.Localizer {
	lang := c.deps.Store.Language()
	if c.loc == nil || c.loc.Language() != i18n.Normalize(lang) {
		c.loc = i18n.New(lang)
	}
	return c.loc
}

func (c *Controller) setPhase(p Phase, captionKey string) {
	ev := PhaseEvent{Phase: p, At: time.Now()}

	c.mu.Lock()
	c.phase = p
	if captionKey != "" {
		ev.Caption = c.localizer().Text(captionKey)
	}
	c.mu.Unlock()

	c.deps.Logger.Debug("Voice phase changed", "phase", p)

	select {
	case c.events <- ev:
		return
	default:
	}
	// Replace the stale undelivered event.
	select {
	case <-c.events:
	default:
	}
	select {
	case c.events <- ev:
	default:
	}
}

// sleep waits for d or ctx, reporting whether the full wait elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
