package session

import (
	"sync"

	"github.com/google/uuid"

	"github.com/forgelab/spawn-orchestrator/internal/engine"
	"github.com/forgelab/spawn-orchestrator/internal/metrics"
)

// Manager is the registry of live session actors keyed by spawn id
type Manager struct {
	mu     sync.RWMutex
	actors map[uuid.UUID]*Actor

	extractor *engine.SpecExtractor
	loop      *engine.BuildLoop
	store     SpawnStore
	manifests ManifestStore
	metrics   *metrics.SpawnMetrics
}

// NewManager creates a session manager with the shared dependencies
// every actor receives
func NewManager(extractor *engine.SpecExtractor, loop *engine.BuildLoop, store SpawnStore, manifests ManifestStore, m *metrics.SpawnMetrics) *Manager {
	return &Manager{
		actors:    make(map[uuid.UUID]*Actor),
		extractor: extractor,
		loop:      loop,
		store:     store,
		manifests: manifests,
		metrics:   m,
	}
}

// Create starts a fresh actor under a new spawn id
func (m *Manager) Create() *Actor {
	id := uuid.New()

	m.mu.Lock()
	defer m.mu.Unlock()

	a := NewActor(id, m.extractor, m.loop, m.store, m.manifests, m.metrics)
	m.actors[id] = a
	return a
}

// Get returns the live actor for a spawn id, or nil if none exists
func (m *Manager) Get(id uuid.UUID) *Actor {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.actors[id]
}

// Shutdown stops all live actors
func (m *Manager) Shutdown() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, a := range m.actors {
		a.Stop()
		delete(m.actors, id)
	}
}
