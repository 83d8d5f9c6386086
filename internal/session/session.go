// Package session assembles the per-cohort editing session: the cohort
// model, the execution service and the chat service, wired together over a
// shared store. Sessions are owned by a bounded manager so an instance can
// serve many concurrent editors without leaking abandoned state.
package session

import (
	"context"
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/phenex-cohort-server/internal/chat"
	"github.com/phenex-cohort-server/internal/cohort"
	"github.com/phenex-cohort-server/internal/execution"
)

// Backend bundles the external capabilities a session needs.
type Backend interface {
	cohort.Store
	execution.Runner
	chat.Suggester
}

// Composite assembles a Backend from independent parts, e.g. a local SQLite
// store paired with the remote execution backend.
func Composite(store cohort.Store, runner execution.Runner, suggester chat.Suggester) Backend {
	return &composite{Store: store, Runner: runner, Suggester: suggester}
}

type composite struct {
	cohort.Store
	execution.Runner
	chat.Suggester
}

// Session is one user's editing context for one cohort.
type Session struct {
	ID        string
	Model     *cohort.Model
	Execution *execution.Service
	Chat      *chat.Service
}

// Manager creates and caches sessions keyed by cohort id. Eviction from the
// bounded cache drops the in-memory editing state; the cohort itself lives
// in the store and reloads on next access.
type Manager struct {
	mu       sync.Mutex
	log      *logrus.Logger
	backend  Backend
	sessions *lru.Cache[string, *Session]
}

// NewManager creates a session manager holding at most limit live sessions.
func NewManager(backend Backend, limit int, log *logrus.Logger) (*Manager, error) {
	if limit <= 0 {
		limit = 256
	}
	sessions, err := lru.NewWithEvict[string, *Session](limit, func(id string, _ *Session) {
		log.WithField("cohort_id", id).Info("Session evicted")
	})
	if err != nil {
		return nil, fmt.Errorf("creating session cache: %w", err)
	}
	return &Manager{
		log:      log,
		backend:  backend,
		sessions: sessions,
	}, nil
}

// Get returns the live session for a cohort, loading it on first access.
func (m *Manager) Get(ctx context.Context, cohortID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions.Get(cohortID); ok {
		return s, nil
	}

	s := m.newSession(cohortID)
	if _, err := s.Model.Load(ctx, cohortID); err != nil {
		return nil, err
	}
	m.sessions.Add(cohortID, s)
	return s, nil
}

// Create starts a session around a brand new cohort.
func (m *Manager) Create(name string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.newSession("")
	c := s.Model.CreateNew(name)
	s.ID = c.ID
	m.sessions.Add(c.ID, s)
	return s
}

// Drop removes a session, e.g. after its cohort is deleted.
func (m *Manager) Drop(cohortID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions.Remove(cohortID)
}

// Len reports the number of live sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions.Len()
}

func (m *Manager) newSession(cohortID string) *Session {
	model := cohort.NewModel(m.backend, m.log)
	return &Session{
		ID:        cohortID,
		Model:     model,
		Execution: execution.NewService(model, m.backend, m.log),
		Chat:      chat.NewService(model, m.backend, m.log),
	}
}
