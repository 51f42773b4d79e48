// Package conversation owns the per-session conversation state and the
// turn-taking protocol against the orchestration backend.
package conversation

import (
	"strings"
	"time"
	"unicode/utf8"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// ParseRole maps a backend role string to a Role. Unknown roles are system.
func ParseRole(s string) Role {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleUser:
		return RoleUser
	case RoleAssistant:
		return RoleAssistant
	default:
		return RoleSystem
	}
}

// Message is one immutable transcript entry.
type Message struct {
	ID               string    `json:"id"`
	Role             Role      `json:"role"`
	Content          string    `json:"content"`
	Timestamp        time.Time `json:"timestamp"`
	AgentType        string    `json:"agent_type,omitempty"`
	ProcessingTimeMs int64     `json:"processing_time_ms,omitempty"`
	Intent           string    `json:"intent,omitempty"`
	Suggestions      []string  `json:"suggestions,omitempty"`
}

func (m Message) clone() Message {
	if m.Suggestions != nil {
		m.Suggestions = append([]string(nil), m.Suggestions...)
	}
	return m
}

const (
	titleLength   = 30
	previewLength = 50
)

// truncate returns at most n runes of s.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

// Title derives a conversation title from a user message.
func Title(content string) string {
	return truncate(strings.TrimSpace(content), titleLength)
}

// Preview derives a conversation preview from a user message.
func Preview(content string) string {
	return truncate(strings.TrimSpace(content), previewLength)
}
