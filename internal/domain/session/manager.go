package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/scriptflow/internal/domain/cache"
	"github.com/GriffinCanCode/scriptflow/internal/domain/element"
	"github.com/GriffinCanCode/scriptflow/internal/domain/script"
	"github.com/GriffinCanCode/scriptflow/internal/domain/watcher"
	"github.com/GriffinCanCode/scriptflow/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/scriptflow/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/scriptflow/internal/shared/id"
)

var (
	ErrTooManySessions = errors.New("session limit reached")
	ErrSessionInUse    = errors.New("session is attached to another connection")
	ErrManagerClosed   = errors.New("session manager closed")
)

// Invalidator is implemented by sources that cache compiled programs
type Invalidator interface {
	Invalidate()
}

// ManagerConfig holds what every session shares
type ManagerConfig struct {
	Source        script.Source
	Cache         cache.Store
	Registry      *element.Registry
	FlushInterval time.Duration
	RunOnSave     bool
	GracePeriod   time.Duration // How long a detached session waits for a reconnect
	MaxSessions   int           // Zero means unlimited
	CloseTimeout  time.Duration
	ServerVersion string
	Features      map[string]bool
	Logger        *zap.Logger
	Metrics       *monitoring.Metrics
	Tracer        *tracing.Tracer
}

type entry struct {
	session *Session
	expiry  *time.Timer
}

// Manager owns every live session. Sessions are created on connect, kept
// for a grace period after their transport drops and torn down afterwards.
type Manager struct {
	config ManagerConfig
	logger *zap.Logger
	ctx    context.Context

	mu       sync.RWMutex
	sessions map[id.SessionID]*entry
	closed   bool
}

// NewManager creates a manager. Sessions inherit ctx.
func NewManager(ctx context.Context, cfg ManagerConfig) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = 5 * time.Second
	}
	return &Manager{
		config:   cfg,
		logger:   cfg.Logger,
		ctx:      ctx,
		sessions: make(map[id.SessionID]*entry),
	}
}

// Connect attaches t to the session named by requested when it is still
// alive and detached, or to a new session otherwise. It reports whether an
// existing session was resumed.
func (m *Manager) Connect(requested string, t Transport) (*Session, bool, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, false, ErrManagerClosed
	}

	if requested != "" {
		sid, err := id.ParseSessionID(requested)
		if err != nil {
			m.logger.Debug("ignoring malformed session id", zap.String("session_id", requested))
		} else if e, ok := m.sessions[sid]; ok {
			if e.session.Attached() {
				m.mu.Unlock()
				return nil, false, ErrSessionInUse
			}
			if e.expiry != nil {
				e.expiry.Stop()
				e.expiry = nil
			}
			err := e.session.Attach(t, true)
			m.mu.Unlock()
			if err != nil {
				return nil, false, err
			}
			if m.config.Metrics != nil {
				m.config.Metrics.IncSessionsResumed()
			}
			return e.session, true, nil
		}
	}

	if m.config.MaxSessions > 0 && len(m.sessions) >= m.config.MaxSessions {
		m.mu.Unlock()
		return nil, false, ErrTooManySessions
	}

	s := New(Config{
		Source:        m.config.Source,
		Cache:         m.config.Cache,
		Registry:      m.config.Registry,
		FlushInterval: m.config.FlushInterval,
		RunOnSave:     m.config.RunOnSave,
		ServerVersion: m.config.ServerVersion,
		Features:      m.config.Features,
		Logger:        m.logger,
		Metrics:       m.config.Metrics,
		Tracer:        m.config.Tracer,
	})
	m.sessions[s.ID()] = &entry{session: s}
	count := len(m.sessions)
	m.mu.Unlock()

	s.Start(m.ctx)
	if m.config.Metrics != nil {
		m.config.Metrics.IncSessionsTotal()
		m.config.Metrics.SetSessionsActive(count)
	}
	m.logger.Info("session created", zap.String("session_id", s.ID().String()))

	if err := s.Attach(t, false); err != nil {
		m.remove(s.ID())
		return nil, false, err
	}
	return s, false, nil
}

// Disconnect detaches t from its session and schedules the session's
// teardown after the grace period.
func (m *Manager) Disconnect(sid id.SessionID, t Transport) {
	m.mu.Lock()
	e, ok := m.sessions[sid]
	if !ok || !e.session.Detach(t) {
		m.mu.Unlock()
		return
	}

	if m.config.GracePeriod <= 0 {
		m.mu.Unlock()
		m.remove(sid)
		return
	}

	e.expiry = time.AfterFunc(m.config.GracePeriod, func() { m.expire(sid) })
	m.mu.Unlock()
}

// expire removes a session whose transport never came back
func (m *Manager) expire(sid id.SessionID) {
	if m.take(sid, func(e *entry) bool { return e.expiry != nil && !e.session.Attached() }) {
		m.logger.Info("session expired", zap.String("session_id", sid.String()))
	}
}

func (m *Manager) remove(sid id.SessionID) {
	m.take(sid, func(*entry) bool { return true })
}

// take deletes the session when cond holds and closes it
func (m *Manager) take(sid id.SessionID, cond func(*entry) bool) bool {
	m.mu.Lock()
	e, ok := m.sessions[sid]
	if !ok || !cond(e) {
		m.mu.Unlock()
		return false
	}
	delete(m.sessions, sid)
	if e.expiry != nil {
		e.expiry.Stop()
	}
	count := len(m.sessions)
	m.mu.Unlock()

	if m.config.Metrics != nil {
		m.config.Metrics.SetSessionsActive(count)
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.config.CloseTimeout)
	defer cancel()
	if err := e.session.Close(ctx); err != nil {
		m.logger.Warn("session close", zap.String("session_id", sid.String()), zap.Error(err))
	}
	return true
}

// Get returns a live session
func (m *Manager) Get(sid id.SessionID) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.sessions[sid]
	if !ok {
		return nil, false
	}
	return e.session, true
}

// List summarizes live sessions, oldest first
func (m *Manager) List() []Info {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, e := range m.sessions {
		sessions = append(sessions, e.session)
	}
	m.mu.RUnlock()

	infos := make([]Info, len(sessions))
	for i, s := range sessions {
		infos[i] = s.Info()
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// Count returns the number of live sessions
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// ScriptChanged is the watcher callback: it drops the compiled program once
// and notifies every session.
func (m *Manager) ScriptChanged(change watcher.Change) {
	if inv, ok := m.config.Source.(Invalidator); ok {
		inv.Invalidate()
	}
	if m.config.Metrics != nil {
		m.config.Metrics.IncScriptReloads()
	}

	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, e := range m.sessions {
		sessions = append(sessions, e.session)
	}
	m.mu.RUnlock()

	m.logger.Info("script changed", zap.Strings("paths", change.Paths), zap.Int("sessions", len(sessions)))
	for _, s := range sessions {
		s.ScriptChanged()
	}
}

// Shutdown closes every session
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	entries := make([]*entry, 0, len(m.sessions))
	for sid, e := range m.sessions {
		if e.expiry != nil {
			e.expiry.Stop()
		}
		entries = append(entries, e)
		delete(m.sessions, sid)
	}
	m.mu.Unlock()

	if m.config.Metrics != nil {
		m.config.Metrics.SetSessionsActive(0)
	}

	var wg sync.WaitGroup
	errs := make([]error, len(entries))
	for i, e := range entries {
		wg.Add(1)
		go func(i int, s *Session) {
			defer wg.Done()
			errs[i] = s.Close(ctx)
		}(i, e.session)
	}
	wg.Wait()

	return errors.Join(errs...)
}
