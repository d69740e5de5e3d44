package session

import (
	"sync"

	"github.com/forgelab/spawn-orchestrator/internal/models"
)

// Hub fans out live state snapshots for one spawn session. Publishing
// is fire-and-forget broadcast and never blocks the actor; observers
// joining late receive the current snapshot rather than historical
// deltas.
type Hub struct {
	mu          sync.Mutex
	subscribers map[chan models.Snapshot]struct{}
	current     models.Snapshot
}

// NewHub creates a hub holding the initial idle snapshot for a spawn
func NewHub(spawnID string) *Hub {
	return &Hub{
		subscribers: make(map[chan models.Snapshot]struct{}),
		current: models.Snapshot{
			SpawnID: spawnID,
			Status:  models.StatusIdle,
			Files:   map[string]string{},
		},
	}
}

// Subscribe registers an observer and delivers the current snapshot
// immediately. The returned cancel func must be called when the
// observer disconnects.
func (h *Hub) Subscribe() (<-chan models.Snapshot, func()) {
	ch := make(chan models.Snapshot, 16)

	h.mu.Lock()
	h.subscribers[ch] = struct{}{}
	ch <- h.current
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.subscribers[ch]; ok {
			delete(h.subscribers, ch)
			close(ch)
		}
	}

	return ch, cancel
}

// Publish broadcasts a snapshot to every subscriber. A slow observer's
// full buffer drops the snapshot for that observer only; it will catch
// up on the next publish.
func (h *Hub) Publish(snap models.Snapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.current = snap
	for ch := range h.subscribers {
		select {
		case ch <- snap:
		default:
		}
	}
}

// Current returns the latest published snapshot
func (h *Hub) Current() models.Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current
}

// SubscriberCount reports the number of attached observers
func (h *Hub) SubscriberCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subscribers)
}
