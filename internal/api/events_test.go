package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/tripdesk/internal/conversation"
	"github.com/ashureev/tripdesk/internal/identity"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sseEvent struct {
	id    string
	event string
	data  string
	retry string
}

func readEvent(t *testing.T, r *bufio.Reader) sseEvent {
	t.Helper()
	var ev sseEvent
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		if line == "" {
			return ev
		}
		key, value, _ := strings.Cut(line, ": ")
		switch key {
		case "id":
			ev.id = value
		case "event":
			ev.event = value
		case "data":
			ev.data = value
		case "retry":
			ev.retry = value
		}
	}
}

func openEvents(t *testing.T, srv *httptest.Server, cookie *http.Cookie, lastEventID string) (*http.Response, *bufio.Reader) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events", nil)
	require.NoError(t, err)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	if lastEventID != "" {
		req.Header.Set("Last-Event-ID", lastEventID)
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))
	return resp, bufio.NewReader(resp.Body)
}

func customerCookie(resp *http.Response) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == identity.CustomerCookieName {
			return c
		}
	}
	return nil
}

func TestEventsStreamSnapshots(t *testing.T) {
	t.Parallel()

	a := newTestAPI(t, nil)
	srv := httptest.NewServer(a.handler)
	t.Cleanup(srv.Close)

	resp, r := openEvents(t, srv, nil, "")
	cookie := customerCookie(resp)
	require.NotNil(t, cookie)

	assert.Equal(t, "5000", readEvent(t, r).retry)
	connected := readEvent(t, r)
	assert.Equal(t, "connected", connected.event)
	assert.Contains(t, connected.data, identity.DefaultSessionIDValue)

	initial := readEvent(t, r)
	assert.Equal(t, "state", initial.event)
	version, err := strconv.ParseUint(initial.id, 10, 64)
	require.NoError(t, err)
	assert.NotZero(t, version)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/conversations", nil)
	require.NoError(t, err)
	req.AddCookie(cookie)
	created, err := srv.Client().Do(req)
	require.NoError(t, err)
	_ = created.Body.Close()
	require.Equal(t, http.StatusCreated, created.StatusCode)

	// Keepalive pings may interleave with state events.
	next := readEvent(t, r)
	for next.event == "ping" {
		next = readEvent(t, r)
	}
	assert.Equal(t, "state", next.event)
	assert.Equal(t, strconv.FormatUint(version+1, 10), next.id)

	var st conversation.State
	require.NoError(t, json.Unmarshal([]byte(next.data), &st))
	assert.Len(t, st.Conversations, 1)
	assert.Equal(t, st.Conversations[0].ID, st.ActiveConversationID)
}

func TestEventsSkipsStateClientAlreadyHas(t *testing.T) {
	t.Parallel()

	a := newTestAPI(t, nil)
	srv := httptest.NewServer(a.handler)
	t.Cleanup(srv.Close)

	a.do(http.MethodPost, "/api/conversations", "")
	require.NotNil(t, a.cookie)
	s, ok := a.sessions.Lookup(a.cookie.Value, identity.DefaultSessionIDValue)
	require.True(t, ok)
	version := strconv.FormatUint(s.Snapshot().Version, 10)

	_, r := openEvents(t, srv, a.cookie, version)
	readEvent(t, r) // retry
	readEvent(t, r) // connected
	assert.Equal(t, "ping", readEvent(t, r).event, "current version is not resent")
}

func TestEventsResendAfterSessionIsRecreated(t *testing.T) {
	t.Parallel()

	a := newTestAPI(t, nil)
	srv := httptest.NewServer(a.handler)
	t.Cleanup(srv.Close)

	a.do(http.MethodPost, "/api/conversations", "")
	require.NotNil(t, a.cookie)
	s, ok := a.sessions.Lookup(a.cookie.Value, identity.DefaultSessionIDValue)
	require.True(t, ok)
	version := strconv.FormatUint(s.Snapshot().Version, 10)
	require.Len(t, a.sessions.EvictIdle(-time.Hour), 1)

	_, r := openEvents(t, srv, a.cookie, version)
	readEvent(t, r) // retry
	readEvent(t, r) // connected
	st := readEvent(t, r)
	assert.Equal(t, "state", st.event, "a fresh store is never mistaken for the old one")
	assert.NotEqual(t, version, st.id)
}

func TestEventsHoldSessionOpen(t *testing.T) {
	t.Parallel()

	a := newTestAPI(t, nil)
	srv := httptest.NewServer(a.handler)
	t.Cleanup(srv.Close)

	resp, r := openEvents(t, srv, nil, "")
	readEvent(t, r)
	readEvent(t, r)
	readEvent(t, r)

	cookie := customerCookie(resp)
	require.NotNil(t, cookie)
	assert.Empty(t, a.sessions.EvictIdle(-time.Hour), "streaming session is held")
	_, ok := a.sessions.Lookup(cookie.Value, identity.DefaultSessionIDValue)
	assert.True(t, ok)
}
