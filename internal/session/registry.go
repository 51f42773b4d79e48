// Package session keeps one conversation store per browser tab.
package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/tripdesk/internal/conversation"
)

// Factory builds the store for a new session.
type Factory func(customerID, language string) *conversation.Store

// Key identifies one tab of one customer.
type Key struct {
	CustomerID string
	SessionID  string
}

type entry struct {
	store    *conversation.Store
	lastUsed time.Time
	holds    int
}

// Registry manages the live conversation stores, keyed by customer and tab.
type Registry struct {
	newStore Factory
	now      func() time.Time

	mu     sync.RWMutex
	active map[string]map[string]*entry
}

// NewRegistry creates an empty registry.
func NewRegistry(newStore Factory) *Registry {
	return &Registry{
		newStore: newStore,
		now:      time.Now,
		active:   make(map[string]map[string]*entry),
	}
}

// Get returns the store for customer/session, creating it with language on
// first use.
func (r *Registry) Get(customerID, sessionID, language string) *conversation.Store {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getLocked(customerID, sessionID, language).store
}

// Acquire is Get for long-lived connections. The session is not evicted
// until release is called.
func (r *Registry) Acquire(customerID, sessionID, language string) (*conversation.Store, func()) {
	r.mu.Lock()
	e := r.getLocked(customerID, sessionID, language)
	e.holds++
	r.mu.Unlock()

	var once sync.Once
	return e.store, func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			e.holds--
			e.lastUsed = r.now()
		})
	}
}

func (r *Registry) getLocked(customerID, sessionID, language string) *entry {
	sessions, ok := r.active[customerID]
	if !ok {
		sessions = make(map[string]*entry)
		r.active[customerID] = sessions
	}
	e, ok := sessions[sessionID]
	if !ok {
		e = &entry{store: r.newStore(customerID, language)}
		sessions[sessionID] = e
		slog.Info("Conversation session created", "customer_id", customerID, "session_id", sessionID, "language", language)
	}
	e.lastUsed = r.now()
	return e
}

// Lookup returns an existing store without creating or touching it.
func (r *Registry) Lookup(customerID, sessionID string) (*conversation.Store, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if sessions, ok := r.active[customerID]; ok {
		if e, ok := sessions[sessionID]; ok {
			return e.store, true
		}
	}
	return nil, false
}

// SetLanguage switches every open session of a customer to lang.
func (r *Registry) SetLanguage(customerID, lang string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, e := range r.active[customerID] {
		e.store.SetLanguage(lang)
	}
}

// EvictIdle removes sessions unused for longer than ttl. Sessions that are
// held, or have a turn in flight, are kept.
func (r *Registry) EvictIdle(ttl time.Duration) []Key {
	cutoff := r.now().Add(-ttl)

	r.mu.Lock()
	defer r.mu.Unlock()

	var evicted []Key
	for cid, sessions := range r.active {
		for sid, e := range sessions {
			if e.holds > 0 || !e.lastUsed.Before(cutoff) {
				continue
			}
			if e.store.Snapshot().IsTyping {
				continue
			}
			delete(sessions, sid)
			evicted = append(evicted, Key{CustomerID: cid, SessionID: sid})
			slog.Info("Conversation session evicted", "customer_id", cid, "session_id", sid)
		}
		if len(sessions) == 0 {
			delete(r.active, cid)
		}
	}
	return evicted
}

// CloseCustomer drops every session of a customer and returns their keys.
func (r *Registry) CloseCustomer(customerID string) []Key {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessions, ok := r.active[customerID]
	if !ok {
		return nil
	}
	closed := make([]Key, 0, len(sessions))
	for sid := range sessions {
		closed = append(closed, Key{CustomerID: customerID, SessionID: sid})
		slog.Info("Conversation session closed", "customer_id", customerID, "session_id", sid)
	}
	delete(r.active, customerID)
	return closed
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, sessions := range r.active {
		n += len(sessions)
	}
	return n
}
