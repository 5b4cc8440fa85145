package wizard

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"go.uber.org/zap"

	"github.com/pitabwire/inkline/internal/flow"
	"github.com/pitabwire/inkline/internal/kvstore"
	"github.com/pitabwire/inkline/internal/observability"
	"github.com/pitabwire/inkline/model"
)

// DefaultMaxOpen bounds the open containers when no limit is configured.
const DefaultMaxOpen = 10000

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithMaxOpen caps the number of containers held in memory. The least
// recently opened container is flushed and dropped when the cap is reached.
func WithMaxOpen(n int) ManagerOption {
	return func(m *Manager) {
		if n > 0 {
			m.maxOpen = n
		}
	}
}

// WithIdleTimeout drops containers not opened for d. Zero keeps them until
// they are evicted by size or closed.
func WithIdleTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) { m.idleTimeout = d }
}

type openEntry struct {
	c        *Container
	lastUsed time.Time
}

// Manager owns one Container per (flow, subject) pair. Containers are
// rehydrated from the store on first Open and written back on every change.
// Dropping a container never loses data: its writer flushes first and the
// next Open rehydrates from the store.
type Manager struct {
	flows       *flow.Registry
	rules       *flow.Rules
	store       kvstore.Store
	metrics     *observability.Metrics
	logger      *zap.Logger
	maxOpen     int
	idleTimeout time.Duration
	now         func() time.Time

	mu         sync.Mutex
	containers *simplelru.LRU[string, *openEntry]
	// evicted collects containers dropped under mu; they are shut down
	// after mu is released because shutdown waits on the store.
	evicted []*Container
}

// NewManager creates a session manager. store and metrics may be nil, in
// which case sessions live only in memory.
func NewManager(
	flows *flow.Registry,
	rules *flow.Rules,
	store kvstore.Store,
	metrics *observability.Metrics,
	logger *zap.Logger,
	opts ...ManagerOption,
) *Manager {
	if rules == nil {
		rules = flow.NewRules()
	}
	m := &Manager{
		flows:   flows,
		rules:   rules,
		store:   store,
		metrics: metrics,
		logger:  logger,
		maxOpen: DefaultMaxOpen,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	// Only fails for a non-positive size, which maxOpen never is.
	m.containers, _ = simplelru.NewLRU[string, *openEntry](m.maxOpen, func(_ string, e *openEntry) {
		m.evicted = append(m.evicted, e.c)
	})
	return m
}

// Open returns the container for flowID and subjectID, creating it or
// rehydrating it from the store. A store read failure is logged and an empty
// session is returned.
func (m *Manager) Open(ctx context.Context, flowID, subjectID string) (*Container, error) {
	def, ok := m.flows.Get(flowID)
	if !ok {
		return nil, model.NewNotFoundError(fmt.Sprintf("flow %q not found", flowID))
	}
	key := model.SessionKey(flowID, subjectID)

	m.mu.Lock()
	if e, ok := m.containers.Get(key); ok {
		e.lastUsed = m.now()
		m.mu.Unlock()
		return e.c, nil
	}
	m.mu.Unlock()

	var saved model.WizardSession
	found := false
	if m.store != nil {
		var err error
		found, err = kvstore.GetJSON(ctx, m.store, key, &saved)
		if err != nil {
			m.logger.Warn("wizard session read failed",
				zap.String("flow_id", flowID),
				zap.String("key", key),
				zap.Error(err),
			)
			m.metrics.RecordPersistFailure(flowID)
			found = false
		}
	}

	c := NewContainer(def, subjectID, m.rules)
	c.metrics = m.metrics
	c.logger = m.logger
	if found {
		c.restore(saved)
	}

	m.mu.Lock()
	if e, ok := m.containers.Get(key); ok {
		e.lastUsed = m.now()
		m.mu.Unlock()
		return e.c, nil
	}
	if m.store != nil {
		c.persist = newPersister(m.store, key, flowID, m.logger, m.metrics)
	}
	m.containers.Add(key, &openEntry{c: c, lastUsed: m.now()})
	evicted := m.takeEvictedLocked()
	m.mu.Unlock()

	m.shutdownAll(evicted)
	m.metrics.SessionOpened(flowID)
	m.logger.Debug("wizard session opened",
		zap.String("flow_id", flowID),
		zap.Bool("rehydrated", found),
	)
	return c, nil
}

// Close flushes and drops the in-memory container for flowID and subjectID.
// The persisted copy is kept.
func (m *Manager) Close(flowID, subjectID string) {
	m.mu.Lock()
	m.containers.Remove(model.SessionKey(flowID, subjectID))
	evicted := m.takeEvictedLocked()
	m.mu.Unlock()

	m.shutdownAll(evicted)
}

// CloseAll flushes and drops every container. Used on server shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	m.containers.Purge()
	evicted := m.takeEvictedLocked()
	m.mu.Unlock()

	m.shutdownAll(evicted)
}

// CloseIdle drops every container not opened within the idle timeout and
// returns how many were dropped.
func (m *Manager) CloseIdle() int {
	if m.idleTimeout <= 0 {
		return 0
	}
	cutoff := m.now().Add(-m.idleTimeout)

	m.mu.Lock()
	// Keys are ordered oldest first and Open is the only access, so the
	// scan stops at the first recently used entry.
	for _, key := range m.containers.Keys() {
		e, ok := m.containers.Peek(key)
		if !ok {
			continue
		}
		if e.lastUsed.After(cutoff) {
			break
		}
		m.containers.Remove(key)
	}
	evicted := m.takeEvictedLocked()
	m.mu.Unlock()

	m.shutdownAll(evicted)
	return len(evicted)
}

// Run sweeps idle containers until ctx is done.
func (m *Manager) Run(ctx context.Context) {
	if m.idleTimeout <= 0 {
		return
	}
	ticker := time.NewTicker(max(m.idleTimeout/2, time.Millisecond))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.CloseIdle(); n > 0 {
				m.logger.Debug("idle wizard sessions closed", zap.Int("count", n))
			}
		}
	}
}

// Len returns the number of open containers.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.containers.Len()
}

func (m *Manager) takeEvictedLocked() []*Container {
	out := m.evicted
	m.evicted = nil
	return out
}

func (m *Manager) shutdownAll(cs []*Container) {
	for _, c := range cs {
		if c.persist != nil {
			c.persist.close()
		}
		m.metrics.SessionClosed(c.def.ID)
	}
}
