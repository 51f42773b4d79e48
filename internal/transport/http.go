package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	// DefaultRequestTimeout bounds every backend call. Expiry is reported as
	// KindNetworkUnreachable.
	DefaultRequestTimeout = 30 * time.Second

	// maxResponseSize caps JSON bodies read from the backend.
	maxResponseSize = 4 << 20
	// maxAudioSize caps synthesized audio downloads.
	maxAudioSize = 32 << 20
)

var errEmptyBaseURL = errors.New("backend base URL is empty")

// HTTPConfig holds configuration for the live backend client.
type HTTPConfig struct {
	BaseURL        string
	RequestTimeout time.Duration
	HTTPClient     *http.Client
}

// DefaultHTTPConfig returns defaults for everything but the base URL.
func DefaultHTTPConfig(baseURL string) HTTPConfig {
	return HTTPConfig{
		BaseURL:        baseURL,
		RequestTimeout: DefaultRequestTimeout,
	}
}

// HTTPTransport talks to the orchestration backend's JSON API.
type HTTPTransport struct {
	base   *url.URL
	client *http.Client
	logger *slog.Logger
}

// NewHTTPTransport creates a live transport.
func NewHTTPTransport(cfg HTTPConfig, logger *slog.Logger) (*HTTPTransport, error) {
	if logger == nil {
		logger = slog.Default()
	}
	base, err := parseBaseURL(cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.RequestTimeout
		if timeout <= 0 {
			timeout = DefaultRequestTimeout
		}
		client = &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        50,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		}
	}
	return &HTTPTransport{base: base, client: client, logger: logger}, nil
}

func parseBaseURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errEmptyBaseURL
	}
	u, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse backend URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("backend URL must be http or https, got %q", u.Scheme)
	}
	return u, nil
}

func (t *HTTPTransport) endpoint(path ...string) string {
	u := *t.base
	segs := make([]string, 0, len(path))
	for _, p := range path {
		segs = append(segs, url.PathEscape(p))
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/" + strings.Join(segs, "/")
	return u.String()
}

type chatRequestBody struct {
	Message        string `json:"message"`
	CustomerID     string `json:"customer_id"`
	ConversationID string `json:"conversation_id,omitempty"`
	Language       string `json:"language,omitempty"`
}

type chatResponseBody struct {
	ConversationID   string   `json:"conversation_id"`
	Message          string   `json:"message"`
	Intent           string   `json:"intent"`
	AgentUsed        string   `json:"agent_used"`
	CurrentState     string   `json:"current_state"`
	Suggestions      []string `json:"suggestions"`
	ProcessingTimeMs int64    `json:"processing_time_ms"`
}

// SendTurn posts one turn to POST /chat.
func (t *HTTPTransport) SendTurn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	const op = "send turn"

	payload, err := json.Marshal(chatRequestBody{
		Message:        req.Message,
		CustomerID:     req.CustomerID,
		ConversationID: req.ConversationID,
		Language:       req.Language,
	})
	if err != nil {
		return nil, unexpected(op, fmt.Errorf("marshal request: %w", err))
	}

	var body chatResponseBody
	start := time.Now()
	if err := t.doJSON(ctx, op, http.MethodPost, t.endpoint("chat"), payload, &body); err != nil {
		t.logger.Warn("Backend turn failed", "conversation_id", req.ConversationID, "error", err)
		return nil, err
	}
	if body.ConversationID == "" {
		return nil, unexpected(op, errors.New("response has no conversation_id"))
	}

	t.logger.Debug("Backend turn completed",
		"conversation_id", body.ConversationID,
		"agent_used", body.AgentUsed,
		"intent", body.Intent,
		"round_trip", time.Since(start),
		"processing_time_ms", body.ProcessingTimeMs,
	)

	return &TurnResult{
		ConversationID:   body.ConversationID,
		ReplyText:        body.Message,
		Intent:           body.Intent,
		AgentUsed:        body.AgentUsed,
		CurrentState:     body.CurrentState,
		Suggestions:      body.Suggestions,
		ProcessingTimeMs: body.ProcessingTimeMs,
	}, nil
}

type healthResponseBody struct {
	Status string `json:"status"`
	MCP    *struct {
		Status         string `json:"status"`
		ToolsAvailable int    `json:"tools_available"`
	} `json:"mcp"`
}

// FetchHealth queries GET /chat/health.
func (t *HTTPTransport) FetchHealth(ctx context.Context) Health {
	var body healthResponseBody
	if err := t.doJSON(ctx, "health", http.MethodGet, t.endpoint("chat", "health"), nil, &body); err != nil {
		t.logger.Debug("Backend health check failed", "error", err)
		return Health{Healthy: false}
	}
	h := Health{Healthy: body.Status == "healthy"}
	if body.MCP != nil {
		tools := body.MCP.ToolsAvailable
		h.ToolsAvailable = &tools
	}
	return h
}

// zonelessLayout is how the backend serializes naive UTC datetimes.
const zonelessLayout = "2006-01-02T15:04:05.999999999"

// backendTime decodes RFC 3339 timestamps as well as zone-less ones, which
// are taken as UTC. null and "" decode to the zero time.
type backendTime struct {
	time.Time
}

func (b *backendTime) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		b.Time = time.Time{}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("timestamp: %w", err)
	}
	t, err := parseBackendTime(s)
	if err != nil {
		return err
	}
	b.Time = t
	return nil
}

func parseBackendTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation(zonelessLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("timestamp %q: %w", s, err)
	}
	return t, nil
}

type historyResponseBody struct {
	ConversationID string `json:"conversation_id"`
	Messages       []struct {
		Role      string      `json:"role"`
		Content   string      `json:"content"`
		Timestamp backendTime `json:"timestamp"`
		AgentType string      `json:"agent_type"`
	} `json:"messages"`
	CreatedAt backendTime `json:"created_at"`
	UpdatedAt backendTime `json:"updated_at"`
}

// FetchHistory loads GET /chat/history/{id}.
func (t *HTTPTransport) FetchHistory(ctx context.Context, conversationID string) (*History, error) {
	const op = "fetch history"

	var body historyResponseBody
	if err := t.doJSON(ctx, op, http.MethodGet, t.endpoint("chat", "history", conversationID), nil, &body); err != nil {
		return nil, err
	}

	h := &History{
		ConversationID: body.ConversationID,
		CreatedAt:      body.CreatedAt.Time,
		UpdatedAt:      body.UpdatedAt.Time,
		Messages:       make([]HistoryMessage, 0, len(body.Messages)),
	}
	if h.ConversationID == "" {
		h.ConversationID = conversationID
	}
	for _, m := range body.Messages {
		h.Messages = append(h.Messages, HistoryMessage{
			Role:      m.Role,
			Content:   m.Content,
			Timestamp: m.Timestamp.Time,
			AgentType: m.AgentType,
		})
	}
	return h, nil
}

// doJSON performs a request and decodes a JSON success body into out.
func (t *HTTPTransport) doJSON(ctx context.Context, op, method, target string, payload []byte, out any) error {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reqBody)
	if err != nil {
		return unexpected(op, fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return classify(op, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			t.logger.Debug("failed to close response body", "error", closeErr)
		}
	}()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return classify(op, fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return serverError(op, resp.StatusCode, extractDetail(data))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return unexpected(op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// extractDetail pulls a human-readable message out of an error body.
// FastAPI uses "detail"; other layers use "error" or "message".
func extractDetail(data []byte) string {
	var body map[string]any
	if err := json.Unmarshal(data, &body); err == nil {
		for _, key := range []string{"detail", "error", "message"} {
			if s, ok := body[key].(string); ok && s != "" {
				return s
			}
		}
		return ""
	}
	text := strings.TrimSpace(string(data))
	if len(text) > 200 {
		text = text[:200]
	}
	return text
}
