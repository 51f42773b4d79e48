package transport

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMock() *MockTransport {
	return NewMockTransport(MockConfig{}, nil)
}

func TestDefaultResponseTableParses(t *testing.T) {
	t.Parallel()

	table := DefaultResponseTable()
	assert.Equal(t, "#fail", table.FailureKeyword)
	assert.NotEmpty(t, table.Fallback.reply("en"))
	assert.NotEmpty(t, table.Rules)
	for _, rule := range table.Rules {
		assert.NotEmpty(t, rule.reply("en"), "rule %s", rule.Intent)
		assert.NotEmpty(t, rule.reply("tr"), "rule %s", rule.Intent)
	}
}

func TestParseResponseTableRequiresFallback(t *testing.T) {
	t.Parallel()

	_, err := ParseResponseTable([]byte(`failure_keyword = "x"`))
	require.Error(t, err)

	_, err = ParseResponseTable([]byte(`not = [valid`))
	require.Error(t, err)
}

func TestClassify(t *testing.T) {
	t.Parallel()

	table := DefaultResponseTable()
	cases := map[string]string{
		"Hello there":                   "greeting",
		"I need a FLIGHT to Ankara":     "flight_search",
		"any hotel near the beach?":     "hotel_search",
		"cancel my reservation please":  "booking_management",
		"what is the baggage allowance": "policy_question",
		"tell me a joke":                "general",
	}
	for in, want := range cases {
		assert.Equal(t, want, table.Classify(in).Intent, "input %q", in)
	}
}

func TestMockAssignsServerIDForClientIDs(t *testing.T) {
	t.Parallel()

	m := newTestMock()
	ctx := context.Background()

	first, err := m.SendTurn(ctx, TurnRequest{Message: "hello", ConversationID: "conv_abc_123"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(first.ConversationID, "mock_"), first.ConversationID)

	empty, err := m.SendTurn(ctx, TurnRequest{Message: "hello"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(empty.ConversationID, "mock_"))
	assert.NotEqual(t, first.ConversationID, empty.ConversationID)

	again, err := m.SendTurn(ctx, TurnRequest{Message: "flights?", ConversationID: first.ConversationID})
	require.NoError(t, err)
	assert.Equal(t, first.ConversationID, again.ConversationID, "known server id must be kept")
	assert.Equal(t, "flight_search", again.Intent)
	assert.Equal(t, "action", again.AgentUsed)
	assert.Equal(t, "ACTION", again.CurrentState)
}

func TestMockRepliesInRequestedLanguage(t *testing.T) {
	t.Parallel()

	m := newTestMock()
	res, err := m.SendTurn(context.Background(), TurnRequest{Message: "merhaba", Language: "tr-TR"})
	require.NoError(t, err)
	assert.Equal(t, "Merhaba! Nereye seyahat etmek istersiniz?", res.ReplyText)

	res, err = m.SendTurn(context.Background(), TurnRequest{Message: "hello", Language: "de"})
	require.NoError(t, err)
	assert.Equal(t, "Hello! Where would you like to travel?", res.ReplyText)
}

func TestMockFailureKeyword(t *testing.T) {
	t.Parallel()

	_, err := newTestMock().SendTurn(context.Background(), TurnRequest{Message: "please #FAIL now"})
	te := AsError(err)
	require.NotNil(t, te)
	assert.Equal(t, KindServerError, te.Kind)
	assert.Equal(t, http.StatusServiceUnavailable, te.Status)
}

func TestMockDelayHonorsContext(t *testing.T) {
	t.Parallel()

	m := NewMockTransport(MockConfig{Delay: time.Minute}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := m.SendTurn(ctx, TurnRequest{Message: "hello"})
	assert.True(t, IsKind(err, KindNetworkUnreachable), "got %v", err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestMockHistory(t *testing.T) {
	t.Parallel()

	m := newTestMock()
	ctx := context.Background()

	res, err := m.SendTurn(ctx, TurnRequest{Message: "hotel in Bodrum"})
	require.NoError(t, err)
	_, err = m.SendTurn(ctx, TurnRequest{Message: "baggage?", ConversationID: res.ConversationID})
	require.NoError(t, err)

	h, err := m.FetchHistory(ctx, res.ConversationID)
	require.NoError(t, err)
	require.Len(t, h.Messages, 4)
	assert.Equal(t, "user", h.Messages[0].Role)
	assert.Equal(t, "hotel in Bodrum", h.Messages[0].Content)
	assert.Equal(t, "assistant", h.Messages[1].Role)
	assert.Equal(t, "info", h.Messages[3].AgentType)

	_, err = m.FetchHistory(ctx, "mock_unknown")
	te := AsError(err)
	require.NotNil(t, te)
	assert.Equal(t, http.StatusNotFound, te.Status)
}

func TestMockHealth(t *testing.T) {
	t.Parallel()

	m := newTestMock()
	h := m.FetchHealth(context.Background())
	assert.True(t, h.Healthy)
	require.NotNil(t, h.ToolsAvailable)
	assert.Equal(t, len(DefaultResponseTable().Rules), *h.ToolsAvailable)
}
