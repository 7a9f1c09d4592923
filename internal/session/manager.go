package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/kozaktomas/rollcall/internal/attendance"
	"github.com/kozaktomas/rollcall/internal/constants"
)

// Manager keeps the sessions of a process. Each SessionKey maps to at most
// one retained session; ended sessions are pruned after the retention period.
type Manager struct {
	deps      Deps
	opts      Options
	retention time.Duration
	logger    *zap.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
	byKey    map[attendance.SessionKey]string

	cron *cron.Cron
}

// NewManager creates a session manager.
func NewManager(deps Deps, opts Options, retention time.Duration) *Manager {
	if retention <= 0 {
		retention = constants.DefaultSessionRetention
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		deps:      deps,
		opts:      opts,
		retention: retention,
		logger:    logger,
		sessions:  make(map[string]*Session),
		byKey:     make(map[attendance.SessionKey]string),
	}
}

// Open returns the retained session of key, opening it if needed. The bool
// reports whether a new session was created.
func (m *Manager) Open(ctx context.Context, key attendance.SessionKey) (*Session, bool, error) {
	if s, ok := m.lookupKey(key); ok {
		return s, false, nil
	}

	s, err := Open(ctx, key, m.deps, m.opts)
	if err != nil {
		return nil, false, err
	}

	m.mu.Lock()
	if id, ok := m.byKey[key]; ok {
		// lost a concurrent Open for the same key
		existing := m.sessions[id]
		m.mu.Unlock()
		s.Close()
		return existing, false, nil
	}
	m.sessions[s.ID] = s
	m.byKey[key] = s.ID
	m.mu.Unlock()

	return s, true, nil
}

func (m *Manager) lookupKey(key attendance.SessionKey) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byKey[key]
	if !ok {
		return nil, false
	}
	return m.sessions[id], true
}

// Get returns a session by ID.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// List returns all retained sessions, oldest first.
func (m *Manager) List() []*Session {
	m.mu.RLock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Prune drops sessions that ended more than the retention period before now.
// An expired session whose records are still unsynced gets one more flush
// and is kept while that flush fails.
func (m *Manager) Prune(now time.Time) int {
	var expired []*Session
	m.mu.RLock()
	for _, s := range m.sessions {
		ended := s.EndedAt()
		if ended.IsZero() || now.Sub(ended) < m.retention {
			continue
		}
		expired = append(expired, s)
	}
	m.mu.RUnlock()

	timeout := m.opts.FlushTimeout
	if timeout <= 0 {
		timeout = constants.DefaultFlushTimeout
	}

	dropped := 0
	for _, s := range expired {
		if len(s.dispatcher.Pending()) > 0 {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			_, err := s.RetryFlush(ctx)
			cancel()
			if n := len(s.dispatcher.Pending()); n > 0 {
				m.logger.Warn("keeping ended session with unsynced records",
					zap.String("session_id", s.ID), zap.Int("pending", n), zap.Error(err))
				continue
			}
		}

		m.mu.Lock()
		if m.sessions[s.ID] != s {
			m.mu.Unlock()
			continue
		}
		delete(m.sessions, s.ID)
		if m.byKey[s.Key] == s.ID {
			delete(m.byKey, s.Key)
		}
		m.mu.Unlock()

		s.Close()
		dropped++
	}
	if dropped > 0 {
		m.logger.Info("pruned ended sessions", zap.Int("count", dropped))
	}
	return dropped
}

// StartJanitor schedules Prune on spec (cron syntax, "" means the default).
func (m *Manager) StartJanitor(spec string) error {
	if spec == "" {
		spec = constants.JanitorSchedule
	}
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	if _, err := c.AddFunc(spec, func() {
		m.Prune(time.Now())
	}); err != nil {
		return err
	}
	c.Start()

	m.mu.Lock()
	m.cron = c
	m.mu.Unlock()
	m.logger.Info("session janitor started", zap.String("schedule", spec), zap.Duration("retention", m.retention))
	return nil
}

// Shutdown ends every live session, then closes all sessions and stops the janitor.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	c := m.cron
	m.cron = nil
	m.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}

	var errs []error
	for _, s := range m.List() {
		if s.IsLive() {
			if _, err := s.End(ctx); err != nil {
				errs = append(errs, err)
				m.logger.Error("failed to end session on shutdown", zap.String("session_id", s.ID), zap.Error(err))
			}
		}
		s.Close()
	}
	return errors.Join(errs...)
}
