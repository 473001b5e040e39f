package session

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"

	"docqa/internal/telemetry"
)

// Manager keeps sessions isolated per conversation. Idle sessions expire
// and their index handles are released on eviction.
type Manager struct {
	cache     *cache.Cache
	defaults  Config
	telemetry telemetry.Recorder
}

// NewManager creates a registry whose sessions expire after ttl of
// inactivity. A ttl of zero never expires.
func NewManager(defaults Config, rec telemetry.Recorder, ttl time.Duration) *Manager {
	exp := ttl
	if ttl <= 0 {
		exp = cache.NoExpiration
	}
	if rec == nil {
		rec = telemetry.NewGuard(telemetry.Nop{}, nil)
	}
	m := &Manager{cache: cache.New(exp, 10*time.Minute), defaults: defaults, telemetry: rec}
	m.cache.OnEvicted(m.evicted)
	return m
}

// evicted resets an expired or ended session the way ResetIndex does. A busy
// session records reset_index once its operation applies the queued reset.
func (m *Manager) evicted(_ string, v interface{}) {
	s, ok := v.(*Session)
	if !ok {
		return
	}
	if ev, _, deferred := s.requestReset(); !deferred {
		m.telemetry.Record(context.Background(), ev)
	}
}

// Start creates a session with the default config and records session_start.
func (m *Manager) Start(ctx context.Context) *Session {
	s := New(m.defaults)
	m.cache.Set(s.id, s, cache.DefaultExpiration)
	m.telemetry.Record(ctx, s.event(telemetry.EventSessionStart, map[string]any{
		"model":                m.defaults.Model,
		"embedding_model":      m.defaults.EmbeddingModel,
		"similarity_threshold": m.defaults.Threshold,
	}))
	return s
}

// Get returns the session and refreshes its expiry.
func (m *Manager) Get(id string) (*Session, bool) {
	x, found := m.cache.Get(id)
	if !found {
		return nil, false
	}
	s := x.(*Session)
	m.cache.Set(id, s, cache.DefaultExpiration)
	return s, true
}

// End removes the session and releases its index.
func (m *Manager) End(id string) {
	m.cache.Delete(id)
}

func (m *Manager) Count() int { return m.cache.ItemCount() }
