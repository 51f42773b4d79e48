package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/tripdesk/internal/voice"
	"github.com/coder/websocket"
)

const (
	writeTimeout       = 10 * time.Second
	frameBuffer        = 256
	minSampleRate      = 8000
	maxSampleRate      = 48000
	defaultPlaybackCap = 2 * time.Minute
)

var (
	errMicUnavailable = errors.New("microphone unavailable")
	errConnClosed     = errors.New("voice connection closed")
)

// voiceConn is one browser's end of the voice loop. It is the loop's audio
// Source and Player; the browser owns the actual microphone and speaker.
type voiceConn struct {
	ws          *websocket.Conn
	defaultRate int
	playbackCap time.Duration
	logger      *slog.Logger

	writeMu sync.Mutex

	starts   chan clientMessage // start or mic_error, latest wins
	playback chan struct{}
	closed   chan struct{}
	once     sync.Once

	mu      sync.Mutex
	current *capture
}

func newVoiceConn(ws *websocket.Conn, defaultRate int, logger *slog.Logger) *voiceConn {
	return &voiceConn{
		ws:          ws,
		defaultRate: defaultRate,
		playbackCap: defaultPlaybackCap,
		logger:      logger,
		starts:      make(chan clientMessage, 1),
		playback:    make(chan struct{}, 1),
		closed:      make(chan struct{}),
	}
}

// Open waits for the browser to report that its microphone is running.
func (c *voiceConn) Open(ctx context.Context) (voice.Capture, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.closed:
		return nil, errConnClosed
	case msg := <-c.starts:
		if msg.Type == msgMicError {
			if msg.Message != "" {
				return nil, fmt.Errorf("%w: %s", errMicUnavailable, msg.Message)
			}
			return nil, errMicUnavailable
		}
		rate := msg.SampleRate
		if rate < minSampleRate || rate > maxSampleRate {
			rate = c.defaultRate
		}
		capt := &capture{conn: c, rate: rate, frames: make(chan []int16, frameBuffer)}
		c.mu.Lock()
		if c.current != nil {
			c.current.closeLocked()
		}
		c.current = capt
		c.mu.Unlock()
		return capt, nil
	}
}

// Play sends synthesized audio and blocks until the browser reports the end
// of playback.
func (c *voiceConn) Play(ctx context.Context, audio []byte) error {
	select {
	case <-c.playback:
	default:
	}

	c.writeMu.Lock()
	err := c.writeJSONLocked(audioMessage{Type: msgAudio, Bytes: len(audio)})
	if err == nil {
		wctx, cancel := context.WithTimeout(ctx, writeTimeout)
		err = c.ws.Write(wctx, websocket.MessageBinary, audio)
		cancel()
	}
	c.writeMu.Unlock()
	if err != nil {
		return fmt.Errorf("send audio: %w", err)
	}

	t := time.NewTimer(c.playbackCap)
	defer t.Stop()
	select {
	case <-c.playback:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.closed:
		return errConnClosed
	case <-t.C:
		return errors.New("playback not acknowledged")
	}
}

func (c *voiceConn) sendPhase(ev voice.PhaseEvent) error {
	return c.writeJSON(phaseMessage{Type: msgPhase, Phase: string(ev.Phase), Caption: ev.Caption})
}

func (c *voiceConn) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.writeJSONLocked(v)
}

func (c *voiceConn) writeJSONLocked(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return c.ws.Write(ctx, websocket.MessageText, data)
}

// offerStart hands a start or mic_error message to the next Open.
func (c *voiceConn) offerStart(msg clientMessage) {
	select {
	case c.starts <- msg:
		return
	default:
	}
	select {
	case <-c.starts:
	default:
	}
	select {
	case c.starts <- msg:
	default:
	}
}

func (c *voiceConn) playbackEnded() {
	select {
	case c.playback <- struct{}{}:
	default:
	}
}

// pushFrame routes samples to the open capture. Frames with no capture open
// are dropped.
func (c *voiceConn) pushFrame(data []byte) {
	samples := voice.DecodePCM16(data)
	if len(samples) == 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return
	}
	select {
	case c.current.frames <- samples:
	default:
		c.logger.Debug("Dropping audio frame, capture is behind", "samples", len(samples))
	}
}

// shutdown ends the open capture and releases any waiter.
func (c *voiceConn) shutdown() {
	c.once.Do(func() {
		close(c.closed)
		c.mu.Lock()
		if c.current != nil {
			c.current.closeLocked()
			c.current = nil
		}
		c.mu.Unlock()
	})
}

// capture is one listening cycle's view of the browser microphone.
type capture struct {
	conn   *voiceConn
	rate   int
	frames chan []int16
	done   bool
}

func (p *capture) Frames() <-chan []int16 { return p.frames }
func (p *capture) SampleRate() int        { return p.rate }

func (p *capture) Close() error {
	p.conn.mu.Lock()
	defer p.conn.mu.Unlock()
	p.closeLocked()
	if p.conn.current == p {
		p.conn.current = nil
	}
	return nil
}

func (p *capture) closeLocked() {
	if p.done {
		return
	}
	p.done = true
	close(p.frames)
}

var (
	_ voice.Source = (*voiceConn)(nil)
	_ voice.Player = (*voiceConn)(nil)
)
