package transport

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/ashureev/tripdesk/internal/i18n"
	"github.com/ashureev/tripdesk/internal/idgen"
)

//go:embed mock_responses.toml
var defaultMockTable []byte

// DefaultMockDelay keeps mock replies on the same timescale as real ones.
const DefaultMockDelay = 800 * time.Millisecond

const mockIDPrefix = "mock"

// ResponseTable is the keyword-to-reply table behind the mock responder.
type ResponseTable struct {
	FailureKeyword string         `toml:"failure_keyword"`
	Fallback       ResponseRule   `toml:"fallback"`
	Rules          []ResponseRule `toml:"rules"`
}

// ResponseRule maps keywords to a canned reply.
type ResponseRule struct {
	Intent      string            `toml:"intent"`
	Agent       string            `toml:"agent"`
	Keywords    []string          `toml:"keywords"`
	Replies     map[string]string `toml:"replies"`
	Suggestions []string          `toml:"suggestions"`
}

func (r ResponseRule) reply(lang string) string {
	if s, ok := r.Replies[lang]; ok && s != "" {
		return s
	}
	return r.Replies["en"]
}

// ParseResponseTable decodes a TOML response table.
func ParseResponseTable(data []byte) (*ResponseTable, error) {
	var table ResponseTable
	if _, err := toml.Decode(string(data), &table); err != nil {
		return nil, fmt.Errorf("decode response table: %w", err)
	}
	if table.Fallback.reply("en") == "" {
		return nil, errors.New("response table has no english fallback reply")
	}
	for i := range table.Rules {
		for j, kw := range table.Rules[i].Keywords {
			table.Rules[i].Keywords[j] = strings.ToLower(kw)
		}
	}
	return &table, nil
}

// DefaultResponseTable returns the embedded table.
func DefaultResponseTable() *ResponseTable {
	table, err := ParseResponseTable(defaultMockTable)
	if err != nil {
		panic("transport: embedded mock table is invalid: " + err.Error())
	}
	return table
}

// Classify returns the first rule whose keyword occurs in content, or the fallback.
func (t *ResponseTable) Classify(content string) ResponseRule {
	padded := " " + strings.ToLower(content) + " "
	for _, rule := range t.Rules {
		for _, kw := range rule.Keywords {
			if kw != "" && strings.Contains(padded, kw) {
				return rule
			}
		}
	}
	return t.Fallback
}

// MockConfig holds configuration for the synthetic responder.
type MockConfig struct {
	Delay time.Duration
	Table *ResponseTable
	Now   func() time.Time
}

// MockTransport synthesizes replies locally. It honors the same result and
// error contract as HTTPTransport, including assigning server ids.
type MockTransport struct {
	cfg    MockConfig
	ids    idgen.Generator
	logger *slog.Logger

	mu      sync.Mutex
	history map[string]*History
}

// NewMockTransport creates the synthetic responder.
func NewMockTransport(cfg MockConfig, logger *slog.Logger) *MockTransport {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Table == nil {
		cfg.Table = DefaultResponseTable()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &MockTransport{
		cfg:     cfg,
		ids:     idgen.Generator{Now: cfg.Now},
		logger:  logger,
		history: make(map[string]*History),
	}
}

// SendTurn waits the configured delay and answers from the response table.
func (m *MockTransport) SendTurn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	const op = "send turn"
	start := m.cfg.Now()

	if m.cfg.Delay > 0 {
		timer := time.NewTimer(m.cfg.Delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, &Error{Kind: KindNetworkUnreachable, Op: op, Err: ctx.Err()}
		case <-timer.C:
		}
	}

	if kw := m.cfg.Table.FailureKeyword; kw != "" && strings.Contains(strings.ToLower(req.Message), kw) {
		return nil, serverError(op, http.StatusServiceUnavailable, "simulated backend failure")
	}

	lang := i18n.Normalize(req.Language)
	rule := m.cfg.Table.Classify(req.Message)

	convID := req.ConversationID
	if !m.known(convID) {
		convID = m.ids.New(mockIDPrefix)
	}

	reply := rule.reply(lang)
	m.record(convID, req.Message, reply, rule.Agent)

	m.logger.Debug("Mock turn answered", "conversation_id", convID, "intent", rule.Intent)

	return &TurnResult{
		ConversationID:   convID,
		ReplyText:        reply,
		Intent:           rule.Intent,
		AgentUsed:        rule.Agent,
		CurrentState:     strings.ToUpper(rule.Agent),
		Suggestions:      append([]string(nil), rule.Suggestions...),
		ProcessingTimeMs: m.cfg.Now().Sub(start).Milliseconds(),
	}, nil
}

// FetchHealth always reports healthy; the tool count is the number of rules.
func (m *MockTransport) FetchHealth(context.Context) Health {
	tools := len(m.cfg.Table.Rules)
	return Health{Healthy: true, ToolsAvailable: &tools}
}

// FetchHistory returns the turns the mock has answered for a server id.
func (m *MockTransport) FetchHistory(_ context.Context, conversationID string) (*History, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.history[conversationID]
	if !ok {
		return nil, serverError("fetch history", http.StatusNotFound, "Conversation not found")
	}
	out := *h
	out.Messages = append([]HistoryMessage(nil), h.Messages...)
	return &out, nil
}

func (m *MockTransport) known(id string) bool {
	if id == "" || strings.HasPrefix(id, idgen.ConversationPrefix+"_") {
		return false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.history[id]
	return ok
}

func (m *MockTransport) record(convID, userText, reply, agent string) {
	now := m.cfg.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.history[convID]
	if !ok {
		h = &History{ConversationID: convID, CreatedAt: now}
		m.history[convID] = h
	}
	h.Messages = append(h.Messages,
		HistoryMessage{Role: "user", Content: userText, Timestamp: now},
		HistoryMessage{Role: "assistant", Content: reply, Timestamp: now, AgentType: agent},
	)
	h.UpdatedAt = now
}
