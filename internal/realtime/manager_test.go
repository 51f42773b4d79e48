package realtime

import (
	"strconv"
	"sync"
	"testing"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
)

func TestSessionManagerRegister(t *testing.T) {
	t.Parallel()

	sm := NewSessionManager()
	conn := &websocket.Conn{}
	sm.Register("cust_1", "tab-1", conn)

	assert.Same(t, conn, sm.GetActive("cust_1", "tab-1"))
	assert.Nil(t, sm.GetActive("cust_1", "tab-2"))
	assert.Equal(t, 1, sm.Len())
}

func TestSessionManagerUnregister(t *testing.T) {
	t.Parallel()

	sm := NewSessionManager()
	conn := &websocket.Conn{}
	sm.Register("cust_1", "tab-1", conn)
	sm.Unregister("cust_1", "tab-1", conn)

	assert.Nil(t, sm.GetActive("cust_1", "tab-1"))
	assert.Zero(t, sm.Len())
}

func TestSessionManagerUnregisterStale(t *testing.T) {
	t.Parallel()

	sm := NewSessionManager()
	conn1 := &websocket.Conn{}
	conn2 := &websocket.Conn{}
	sm.Register("cust_1", "tab-1", conn1)
	sm.Register("cust_1", "tab-2", conn2)

	sm.Unregister("cust_1", "tab-2", conn1)
	assert.Same(t, conn2, sm.GetActive("cust_1", "tab-2"), "only the current connection unregisters")

	sm.Unregister("cust_1", "tab-1", conn1)
	assert.Same(t, conn2, sm.GetActive("cust_1", "tab-2"))
	assert.Equal(t, 1, sm.Len())
}

func TestSessionManagerConcurrentAccess(t *testing.T) {
	t.Parallel()

	sm := NewSessionManager()
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			sm.Register("cust_1", "tab-"+strconv.Itoa(i), &websocket.Conn{})
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			sm.GetActive("cust_1", "tab-"+strconv.Itoa(i))
		}
	}()
	wg.Wait()
	assert.Equal(t, 1000, sm.Len())
}
