package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
)

// SpeechClient calls the backend's speech-to-text and text-to-speech endpoints.
type SpeechClient struct {
	*HTTPTransport
}

// NewSpeechClient shares the live transport's HTTP client and base URL.
func NewSpeechClient(t *HTTPTransport) *SpeechClient {
	return &SpeechClient{HTTPTransport: t}
}

type sttResponseBody struct {
	Text string `json:"text"`
}

// Transcribe uploads audio to POST /voice/stt and returns the transcript.
// An empty transcript means no speech was detected; it is not an error.
func (c *SpeechClient) Transcribe(ctx context.Context, audio []byte, filename string) (string, error) {
	const op = "transcribe"

	if filename == "" {
		filename = "recording.wav"
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", unexpected(op, fmt.Errorf("create form file: %w", err))
	}
	if _, err := part.Write(audio); err != nil {
		return "", unexpected(op, fmt.Errorf("write form file: %w", err))
	}
	if err := mw.Close(); err != nil {
		return "", unexpected(op, fmt.Errorf("close multipart writer: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("voice", "stt"), &buf)
	if err != nil {
		return "", unexpected(op, fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	data, err := c.do(op, req, maxResponseSize)
	if err != nil {
		return "", err
	}

	var body sttResponseBody
	if err := json.Unmarshal(data, &body); err != nil {
		return "", unexpected(op, fmt.Errorf("decode response: %w", err))
	}
	return strings.TrimSpace(body.Text), nil
}

// Synthesize posts text to POST /voice/tts and returns the raw audio bytes.
func (c *SpeechClient) Synthesize(ctx context.Context, text string) ([]byte, error) {
	const op = "synthesize"

	payload, err := json.Marshal(map[string]string{"text": text})
	if err != nil {
		return nil, unexpected(op, fmt.Errorf("marshal request: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("voice", "tts"), bytes.NewReader(payload))
	if err != nil {
		return nil, unexpected(op, fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	audio, err := c.do(op, req, maxAudioSize)
	if err != nil {
		return nil, err
	}
	if len(audio) == 0 {
		return nil, unexpected(op, fmt.Errorf("empty audio response"))
	}
	return audio, nil
}

func (c *SpeechClient) do(op string, req *http.Request, limit int64) ([]byte, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, classify(op, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Debug("failed to close response body", "error", closeErr)
		}
	}()

	data, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, classify(op, fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, serverError(op, resp.StatusCode, extractDetail(data))
	}
	return data, nil
}
