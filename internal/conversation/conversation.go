package conversation

import (
	"strings"
	"time"
)

// Conversation is a value copy of one conversation. The store never hands out
// references to its own records.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Preview   string    `json:"preview"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	IsActive  bool      `json:"is_active"`
}

func (c Conversation) clone() Conversation {
	msgs := make([]Message, len(c.Messages))
	for i, m := range c.Messages {
		msgs[i] = m.clone()
	}
	c.Messages = msgs
	return c
}

// withMessage returns a copy of c with m appended. The receiver's message
// slice is never written to, so earlier copies stay valid.
func (c Conversation) withMessage(m Message) Conversation {
	if m.Role == RoleUser {
		if _, ok := c.LastMessage(RoleUser); !ok {
			c.Title = Title(m.Content)
		}
		c.Preview = Preview(m.Content)
	}
	msgs := make([]Message, len(c.Messages), len(c.Messages)+1)
	copy(msgs, c.Messages)
	c.Messages = append(msgs, m)
	c.UpdatedAt = m.Timestamp
	return c
}

// LastMessage returns the most recent message with the given role.
func (c Conversation) LastMessage(role Role) (Message, bool) {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Role == role {
			return c.Messages[i], true
		}
	}
	return Message{}, false
}

// matches reports whether the lower-cased query occurs in the title, the
// preview or any message.
func (c Conversation) matches(query string) bool {
	if strings.Contains(strings.ToLower(c.Title), query) ||
		strings.Contains(strings.ToLower(c.Preview), query) {
		return true
	}
	for _, m := range c.Messages {
		if strings.Contains(strings.ToLower(m.Content), query) {
			return true
		}
	}
	return false
}
