// Package transport performs the request/response exchanges with the travel
// orchestration backend, or with a local synthetic responder when no backend
// is configured.
package transport

import (
	"context"
	"time"
)

// TurnRequest is one conversational turn sent to the backend.
type TurnRequest struct {
	Message        string
	CustomerID     string
	ConversationID string // empty when the conversation has no id yet
	Language       string
}

// TurnResult is the backend's answer to a turn.
// ConversationID is authoritative and may differ from the request's id.
type TurnResult struct {
	ConversationID   string
	ReplyText        string
	Intent           string
	AgentUsed        string
	CurrentState     string
	Suggestions      []string
	ProcessingTimeMs int64
}

// Health is the liveness indicator for the backend.
type Health struct {
	Healthy        bool `json:"healthy"`
	ToolsAvailable *int `json:"tools_available,omitempty"`
}

// HistoryMessage is one message of a backend-held transcript.
type HistoryMessage struct {
	Role      string
	Content   string
	Timestamp time.Time
	AgentType string
}

// History is a backend-held conversation transcript.
type History struct {
	ConversationID string
	Messages       []HistoryMessage
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Transport is the capability the conversation store depends on.
// Implementations must return *Error for every failure.
type Transport interface {
	// SendTurn performs one turn. It never mutates local state.
	SendTurn(ctx context.Context, req TurnRequest) (*TurnResult, error)

	// FetchHealth reports backend liveness. Failures collapse to Healthy=false.
	FetchHealth(ctx context.Context) Health

	// FetchHistory loads a backend-held transcript.
	FetchHistory(ctx context.Context, conversationID string) (*History, error)
}

// Mode names the transport variant selected at startup.
type Mode string

const (
	// ModeLive talks to the orchestration backend over HTTP.
	ModeLive Mode = "live"
	// ModeMock synthesizes replies locally.
	ModeMock Mode = "mock"
)

// Ensure implementations satisfy Transport.
var (
	_ Transport = (*HTTPTransport)(nil)
	_ Transport = (*MockTransport)(nil)
)
