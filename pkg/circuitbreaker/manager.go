package circuitbreaker

import (
	"sort"
	"sync"
	"time"
)

// Well-known dependency names
const (
	Identity = "identity"
	Payment  = "payment"
)

// DefaultConfigs returns the default per-dependency thresholds
func DefaultConfigs() map[string]Config {
	return map[string]Config{
		Identity: {FailureThreshold: 5, Timeout: 60 * time.Second},
		Payment:  {FailureThreshold: 3, Timeout: 120 * time.Second},
	}
}

// Option configures a Manager
type Option func(*Manager)

// WithClock overrides the time source of every breaker the manager creates
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// WithStateChangeHook registers a callback invoked on every state transition
func WithStateChangeHook(fn func(name string, from, to State)) Option {
	return func(m *Manager) {
		m.onStateChange = fn
	}
}

// Manager owns one breaker per dependency name
type Manager struct {
	mu            sync.Mutex
	configs       map[string]Config
	breakers      map[string]*Breaker
	now           func() time.Time
	onStateChange func(name string, from, to State)
}

// NewManager creates a manager. Names without an explicit config use the
// defaults from DefaultConfigs, or the Breaker defaults for unknown names.
func NewManager(configs map[string]Config, opts ...Option) *Manager {
	merged := DefaultConfigs()
	for name, cfg := range configs {
		merged[name] = cfg
	}

	m := &Manager{
		configs:  merged,
		breakers: make(map[string]*Breaker),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Get returns the breaker for name, creating it on first use
func (m *Manager) Get(name string) *Breaker {
	m.mu.Lock()
	defer m.mu.Unlock()

	if b, ok := m.breakers[name]; ok {
		return b
	}

	b := New(name, m.configs[name])
	b.now = m.now
	b.onStateChange = m.onStateChange
	m.breakers[name] = b
	return b
}

// Reset resets the named breaker. It reports false when no such breaker exists.
func (m *Manager) Reset(name string) bool {
	m.mu.Lock()
	b, ok := m.breakers[name]
	m.mu.Unlock()

	if !ok {
		return false
	}
	b.Reset()
	return true
}

// ResetAll resets every breaker
func (m *Manager) ResetAll() {
	m.mu.Lock()
	breakers := make([]*Breaker, 0, len(m.breakers))
	for _, b := range m.breakers {
		breakers = append(breakers, b)
	}
	m.mu.Unlock()

	for _, b := range breakers {
		b.Reset()
	}
}

// Snapshot returns the status of every breaker sorted by name
func (m *Manager) Snapshot() []Status {
	m.mu.Lock()
	breakers := make([]*Breaker, 0, len(m.breakers))
	for _, b := range m.breakers {
		breakers = append(breakers, b)
	}
	m.mu.Unlock()

	statuses := make([]Status, 0, len(breakers))
	for _, b := range breakers {
		statuses = append(statuses, b.Status())
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Name < statuses[j].Name })
	return statuses
}
