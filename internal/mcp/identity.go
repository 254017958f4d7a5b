// ABOUTME: Session identity map binding MCP session IDs to registered agents.
// ABOUTME: Bounded LRU so abandoned sessions cannot grow the map forever.

package mcp

import (
	"container/list"
	"sync"
)

// identityCap bounds the number of live session bindings.
const identityCap = 1000

// Identity is the caller resolved from a registered MCP session.
type Identity struct {
	AgentName   string `json:"agent_name"`
	UserID      string `json:"user_id"`
	WorkspaceID string `json:"workspace_id"`
}

type identityEntry struct {
	sessionID string
	identity  Identity
}

// identityMap is an LRU map of sessionID → Identity. The register tool
// binds entries; every lookup refreshes recency.
type identityMap struct {
	mu    sync.Mutex
	cap   int
	order *list.List // front = most recently used
	items map[string]*list.Element
}

func newIdentityMap(capacity int) *identityMap {
	return &identityMap{
		cap:   capacity,
		order: list.New(),
		items: make(map[string]*list.Element),
	}
}

// Bind associates a session with an identity, evicting the least recently
// used binding when over capacity.
func (m *identityMap) Bind(sessionID string, id Identity) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if el, ok := m.items[sessionID]; ok {
		el.Value.(*identityEntry).identity = id
		m.order.MoveToFront(el)
		return
	}

	m.items[sessionID] = m.order.PushFront(&identityEntry{sessionID: sessionID, identity: id})
	for m.order.Len() > m.cap {
		oldest := m.order.Back()
		m.order.Remove(oldest)
		delete(m.items, oldest.Value.(*identityEntry).sessionID)
	}
}

// Lookup returns the identity bound to a session, refreshing its recency.
func (m *identityMap) Lookup(sessionID string) (Identity, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	el, ok := m.items[sessionID]
	if !ok {
		return Identity{}, false
	}
	m.order.MoveToFront(el)
	return el.Value.(*identityEntry).identity, true
}

// Unbind drops a session's binding, if any.
func (m *identityMap) Unbind(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if el, ok := m.items[sessionID]; ok {
		m.order.Remove(el)
		delete(m.items, sessionID)
	}
}

// Len reports the number of live bindings.
func (m *identityMap) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}
