package idgen

import (
	"bytes"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var idPattern = regexp.MustCompile(`^conv_[0-9a-z]+_[0-9a-f]{12}$`)

func TestGeneratorFormat(t *testing.T) {
	t.Parallel()

	fixed := time.UnixMilli(1_700_000_000_000)
	g := &Generator{Now: func() time.Time { return fixed }}

	id := g.Conversation()
	require.Regexp(t, idPattern, id)

	parts := strings.Split(id, "_")
	require.Len(t, parts, 3)
	assert.Equal(t, "loyw3v28", parts[1])
}

func TestGeneratorUniqueWithinSession(t *testing.T) {
	t.Parallel()

	g := &Generator{}
	seen := make(map[string]struct{}, 5000)
	for i := 0; i < 5000; i++ {
		id := g.Message()
		_, dup := seen[id]
		require.False(t, dup, "duplicate id %s", id)
		seen[id] = struct{}{}
	}
}

func TestGeneratorDeterministicRandomSource(t *testing.T) {
	t.Parallel()

	fixed := time.UnixMilli(0)
	g := &Generator{
		Now:  func() time.Time { return fixed },
		Rand: bytes.NewReader(bytes.Repeat([]byte{0xab}, 16)),
	}
	assert.Equal(t, "msg_0_abababababab", g.Message())
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("no entropy") }

func TestGeneratorFallsBackWhenRandomFails(t *testing.T) {
	t.Parallel()

	g := &Generator{Rand: failingReader{}}
	a := g.Message()
	b := g.Message()
	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasSuffix(a, "_000000000001"), a)
}
