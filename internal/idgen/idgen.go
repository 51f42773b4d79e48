// Package idgen produces client-side identifiers for conversations and messages.
package idgen

import (
	"encoding/hex"
	"io"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const (
	// ConversationPrefix marks ids minted locally before the backend confirms a conversation.
	ConversationPrefix = "conv"
	// MessagePrefix marks message ids.
	MessagePrefix = "msg"

	randomHexLen = 12
)

// Generator builds ids of the form <prefix>_<base36 unix-millis>_<random hex>.
// The zero value is ready to use.
type Generator struct {
	// Now overrides the wall clock. Nil means time.Now.
	Now func() time.Time
	// Rand overrides the random source. Nil means crypto/rand via uuid.
	Rand io.Reader

	fallback atomic.Uint64
}

// New returns a fresh identifier with the given prefix.
func (g *Generator) New(prefix string) string {
	now := time.Now
	if g.Now != nil {
		now = g.Now
	}
	ts := strconv.FormatInt(now().UnixMilli(), 36)
	return prefix + "_" + ts + "_" + g.random()
}

// Conversation returns a new conversation id.
func (g *Generator) Conversation() string {
	return g.New(ConversationPrefix)
}

// Message returns a new message id.
func (g *Generator) Message() string {
	return g.New(MessagePrefix)
}

func (g *Generator) random() string {
	var (
		id  uuid.UUID
		err error
	)
	if g.Rand != nil {
		id, err = uuid.NewRandomFromReader(g.Rand)
	} else {
		id, err = uuid.NewRandom()
	}
	if err != nil {
		// Entropy exhausted; a process-local counter still keeps ids distinct.
		n := g.fallback.Add(1)
		s := strconv.FormatUint(n, 16)
		for len(s) < randomHexLen {
			s = "0" + s
		}
		return s
	}
	return hex.EncodeToString(id[:])[:randomHexLen]
}
