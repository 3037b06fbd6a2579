package realtime

import (
	"sort"
	"sync"
)

// Presence tracks which users currently have a live connection. The hub only
// talks to this interface, so a shared store can replace the in-memory one
// when more than one server instance runs.
type Presence interface {
	Register(userID string)
	Unregister(userID string)
	IsOnline(userID string) bool
	Snapshot() []string
}

// MemoryPresence is process-local presence.
type MemoryPresence struct {
	mu     sync.RWMutex
	online map[string]struct{}
}

func NewMemoryPresence() *MemoryPresence {
	return &MemoryPresence{online: make(map[string]struct{})}
}

func (p *MemoryPresence) Register(userID string) {
	p.mu.Lock()
	p.online[userID] = struct{}{}
	p.mu.Unlock()
}

func (p *MemoryPresence) Unregister(userID string) {
	p.mu.Lock()
	delete(p.online, userID)
	p.mu.Unlock()
}

func (p *MemoryPresence) IsOnline(userID string) bool {
	p.mu.RLock()
	_, ok := p.online[userID]
	p.mu.RUnlock()
	return ok
}

// Snapshot returns the online user ids, sorted.
func (p *MemoryPresence) Snapshot() []string {
	p.mu.RLock()
	ids := make([]string, 0, len(p.online))
	for id := range p.online {
		ids = append(ids, id)
	}
	p.mu.RUnlock()
	sort.Strings(ids)
	return ids
}
