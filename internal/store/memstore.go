package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemStore is an in-memory Store implementation satisfying the same
// interface as the Postgres-backed store, used by package tests and by
// internal/supervisor's end-to-end tests so neither needs a live database.
type MemStore struct {
	cache *Cache

	mu       sync.Mutex
	agents   map[string]Agent
	sessions map[string]Session
	// active indexes the one active Session per (userID, ingress).
	active   map[string]string
	messages map[string][]Message
	nextID   map[string]int64
}

// NewMemStore constructs an empty MemStore. Put agents into it via PutAgent
// before sessions reference them.
func NewMemStore() *MemStore {
	return &MemStore{
		cache:    NewCache(defaultContextTTL),
		agents:   make(map[string]Agent),
		sessions: make(map[string]Session),
		active:   make(map[string]string),
		messages: make(map[string][]Message),
		nextID:   make(map[string]int64),
	}
}

// PutAgent registers or replaces an Agent record.
func (m *MemStore) PutAgent(a Agent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.agents[a.ID] = a
}

// UpsertAgent registers or replaces an Agent record. It has the same effect
// as PutAgent; the ctx/error signature exists so MemStore satisfies the same
// agent-seeding shape as store/postgres.Store for startup wiring that seeds
// agents from the configuration file into either backend.
func (m *MemStore) UpsertAgent(ctx context.Context, a Agent) error {
	m.PutAgent(a)
	return nil
}

func activeKey(userID string, ingress IngressKind) string {
	return string(ingress) + "\x00" + userID
}

func (m *MemStore) GetOrCreateSession(ctx context.Context, userID, agentID string, ingress IngressKind) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := activeKey(userID, ingress)
	if id, ok := m.active[key]; ok {
		if sess, ok := m.sessions[id]; ok && sess.Active {
			return sess, nil
		}
	}

	sess := Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		AgentID:   agentID,
		Ingress:   ingress,
		StartedAt: time.Now(),
		Active:    true,
		Metadata:  map[string]string{},
	}
	m.sessions[sess.ID] = sess
	m.active[key] = sess.ID
	return sess, nil
}

func (m *MemStore) GetContext(ctx context.Context, sessionID string, limit int) ([]Message, error) {
	return m.cache.GetOrFill(sessionID, func() ([]Message, error) {
		m.mu.Lock()
		defer m.mu.Unlock()
		all := m.messages[sessionID]
		if limit <= 0 || len(all) <= limit {
			out := make([]Message, len(all))
			copy(out, all)
			return out, nil
		}
		out := make([]Message, limit)
		copy(out, all[len(all)-limit:])
		return out, nil
	})
}

func (m *MemStore) AppendMessage(ctx context.Context, sessionID string, role Role, text string, incomplete bool, lat *Latencies) (Message, error) {
	m.mu.Lock()
	m.nextID[sessionID]++
	msg := Message{
		ID:         m.nextID[sessionID],
		SessionID:  sessionID,
		Role:       role,
		Text:       text,
		Timestamp:  time.Now(),
		Incomplete: incomplete,
		Latencies:  lat,
	}
	m.messages[sessionID] = append(m.messages[sessionID], msg)
	m.mu.Unlock()

	m.cache.Invalidate(sessionID)
	return msg, nil
}

func (m *MemStore) GetAgentConfig(ctx context.Context, sessionID string) (Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		return Agent{}, ErrNotFound
	}
	agent, ok := m.agents[sess.AgentID]
	if !ok {
		return Agent{}, ErrNotFound
	}
	return agent, nil
}

func (m *MemStore) EndSession(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	sess, ok := m.sessions[sessionID]
	if ok {
		sess.Active = false
		sess.EndedAt = time.Now()
		m.sessions[sessionID] = sess
		delete(m.active, activeKey(sess.UserID, sess.Ingress))
	}
	m.mu.Unlock()

	m.cache.Delete(sessionID)
	return nil
}

var _ Store = (*MemStore)(nil)
