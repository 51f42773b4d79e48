package api

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/tripdesk/internal/config"
	"github.com/ashureev/tripdesk/internal/conversation"
	"github.com/ashureev/tripdesk/internal/identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendMessageRunsTurn(t *testing.T) {
	t.Parallel()

	a := newTestAPI(t, nil)
	rec := a.do(http.MethodPost, "/api/messages", `{"content":"  I need a flight to Izmir  "}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	got := decode[sendMessageResponse](t, rec)
	assert.False(t, got.Turn.Failed)
	assert.True(t, strings.HasPrefix(got.Turn.ConversationID, "mock_"), got.Turn.ConversationID)
	assert.Equal(t, "I need a flight to Izmir", got.Turn.User.Content)
	assert.Equal(t, "flight_search", got.Turn.Reply.Intent)

	st := got.State
	assert.Equal(t, got.Turn.ConversationID, st.ActiveConversationID)
	assert.False(t, st.IsTyping)
	require.Len(t, st.Conversations, 1)
	msgs := st.Conversations[0].Messages
	require.Len(t, msgs, 2)
	assert.Equal(t, conversation.RoleUser, msgs[0].Role)
	assert.Equal(t, conversation.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "I need a flight to Izmir", st.Conversations[0].Title)
}

func TestSendMessageBlankIsIgnored(t *testing.T) {
	t.Parallel()

	a := newTestAPI(t, nil)
	assert.Equal(t, http.StatusNoContent, a.do(http.MethodPost, "/api/messages", `{"content":"   "}`).Code)

	st := decode[conversation.State](t, a.do(http.MethodGet, "/api/state", ""))
	assert.Empty(t, st.Conversations)
}

func TestSendMessageFailureIsReportedInState(t *testing.T) {
	t.Parallel()

	a := newTestAPI(t, nil)
	rec := a.do(http.MethodPost, "/api/messages", `{"content":"please #FAIL"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	got := decode[sendMessageResponse](t, rec)
	assert.True(t, got.Turn.Failed)
	assert.Contains(t, got.State.Error, "503")
	msgs := got.State.Conversations[0].Messages
	require.Len(t, msgs, 2)
	assert.Equal(t, conversation.RoleSystem, msgs[1].Role)

	assert.Equal(t, http.StatusNoContent, a.do(http.MethodDelete, "/api/error", "").Code)
	st := decode[conversation.State](t, a.do(http.MethodGet, "/api/state", ""))
	assert.Empty(t, st.Error)
}

func TestClearErrorWithoutSessionCreatesNothing(t *testing.T) {
	t.Parallel()

	a := newTestAPI(t, nil)
	assert.Equal(t, http.StatusNoContent, a.do(http.MethodDelete, "/api/error", "").Code)
	assert.Zero(t, a.sessions.Len())
}

func TestSendMessageAsync(t *testing.T) {
	t.Parallel()

	a := newTestAPI(t, nil)
	rec := a.do(http.MethodPost, "/api/messages", `{"content":"hello","async":true}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	s, ok := a.sessions.Lookup(a.cookie.Value, identity.DefaultSessionIDValue)
	require.True(t, ok)
	require.Eventually(t, func() bool {
		st := s.Snapshot()
		return len(st.Conversations) == 1 && len(st.Conversations[0].Messages) == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSendMessageIsRateLimitedPerCustomer(t *testing.T) {
	t.Parallel()

	a := newTestAPI(t, func(c *config.Config) { c.RateLimit.RequestsPerWindow = 1 })
	require.Equal(t, http.StatusOK, a.do(http.MethodPost, "/api/messages", `{"content":"hotel"}`).Code)

	rec := a.do(http.MethodPost, "/api/messages", `{"content":"hotel again"}`, identity.SessionHeaderName, "tab-2")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code, "switching tabs does not reset the limit")
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestConversationLifecycle(t *testing.T) {
	t.Parallel()

	a := newTestAPI(t, nil)

	rec := a.do(http.MethodPost, "/api/conversations", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	first := decode[conversation.Conversation](t, rec)
	assert.Equal(t, "New conversation", first.Title)
	assert.True(t, first.IsActive)

	second := decode[conversation.Conversation](t, a.do(http.MethodPost, "/api/conversations", ""))

	st := decode[conversation.State](t, a.do(http.MethodPut, "/api/conversations/active", `{"id":"`+first.ID+`"}`))
	assert.Equal(t, first.ID, st.ActiveConversationID)
	require.Len(t, st.Conversations, 2)
	assert.Equal(t, second.ID, st.Conversations[0].ID, "newest first")

	assert.Equal(t, http.StatusNoContent, a.do(http.MethodDelete, "/api/conversations/"+first.ID, "").Code)
	assert.Equal(t, http.StatusNoContent, a.do(http.MethodDelete, "/api/conversations/"+first.ID, "").Code, "idempotent")

	st = decode[conversation.State](t, a.do(http.MethodGet, "/api/state", ""))
	assert.Empty(t, st.ActiveConversationID)
	require.Len(t, st.Conversations, 1)
	assert.Equal(t, second.ID, st.Conversations[0].ID)

	st = decode[conversation.State](t, a.do(http.MethodPut, "/api/conversations/active", `{"id":""}`))
	assert.Empty(t, st.ActiveConversationID)
}

func TestListConversationsSearch(t *testing.T) {
	t.Parallel()

	a := newTestAPI(t, nil)
	require.Equal(t, http.StatusOK, a.do(http.MethodPost, "/api/messages", `{"content":"Find me a HOTEL in Rome"}`).Code)
	a.do(http.MethodPost, "/api/conversations", "")
	require.Equal(t, http.StatusOK, a.do(http.MethodPost, "/api/messages", `{"content":"baggage policy"}`).Code)

	type list struct {
		Conversations []conversation.Conversation `json:"conversations"`
	}
	all := decode[list](t, a.do(http.MethodGet, "/api/conversations", ""))
	assert.Len(t, all.Conversations, 2)

	hits := decode[list](t, a.do(http.MethodGet, "/api/conversations?q=hotel", ""))
	require.Len(t, hits.Conversations, 1)
	assert.Equal(t, "Find me a HOTEL in Rome", hits.Conversations[0].Title)

	none := decode[list](t, a.do(http.MethodGet, "/api/conversations?q=zanzibar", ""))
	assert.Empty(t, none.Conversations)
}

func TestTabsHaveSeparateState(t *testing.T) {
	t.Parallel()

	a := newTestAPI(t, nil)
	a.do(http.MethodPost, "/api/conversations", "", identity.SessionHeaderName, "tab-1")

	one := decode[conversation.State](t, a.do(http.MethodGet, "/api/state", "", identity.SessionHeaderName, "tab-1"))
	two := decode[conversation.State](t, a.do(http.MethodGet, "/api/state?session_id=tab-2", ""))
	assert.Len(t, one.Conversations, 1)
	assert.Empty(t, two.Conversations)
}

func TestLoadHistory(t *testing.T) {
	t.Parallel()

	a := newTestAPI(t, nil)
	sent := decode[sendMessageResponse](t, a.do(http.MethodPost, "/api/messages", `{"content":"cancel my booking"}`))
	id := sent.Turn.ConversationID

	rec := a.do(http.MethodPost, "/api/conversations/"+id+"/history", "", identity.SessionHeaderName, "tab-2")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	conv := decode[conversation.Conversation](t, rec)
	assert.Equal(t, id, conv.ID)
	require.Len(t, conv.Messages, 2)
	assert.Equal(t, "cancel my booking", conv.Messages[0].Content)

	st := decode[conversation.State](t, a.do(http.MethodGet, "/api/state", "", identity.SessionHeaderName, "tab-2"))
	assert.Equal(t, id, st.ActiveConversationID)

	rec = a.do(http.MethodPost, "/api/conversations/mock_missing/history", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
