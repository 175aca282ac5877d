package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ailijian/AgentlyFormat/internal/eventbus"
	"github.com/ailijian/AgentlyFormat/internal/format/completer"
	"github.com/ailijian/AgentlyFormat/internal/formaterr"
)

// Option customizes one session at Create time.
type Option func(*Config)

// WithStrategy fixes the session's non-adaptive default strategy.
func WithStrategy(s completer.Strategy) Option {
	return func(c *Config) { c.DefaultStrategy = s }
}

// WithSchemaHook installs a schema hook for this session only.
func WithSchemaHook(hook completer.SchemaHook) Option {
	return func(c *Config) { c.SchemaHook = hook }
}

// Manager owns the concurrent session map and the background TTL sweep
// (spec §5, §6 Manager interface).
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	cfg      Config
	logger   *slog.Logger

	group  *errgroup.Group
	cancel context.CancelFunc
}

// New builds a Manager and starts its TTL sweep goroutine, tracked via
// errgroup the way the teacher tracks background work (see
// goroutine_tracker.go) so Manager.Shutdown can wait for a clean stop.
func New(cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(ctx)

	m := &Manager{
		sessions: make(map[string]*Session),
		cfg:      cfg,
		logger:   logger,
		group:    g,
		cancel:   cancel,
	}
	m.group.Go(func() error {
		m.runTTLSweep(gctx)
		return nil
	})
	return m
}

// Create allocates a new session under id (a fresh uuid if id is empty)
// and registers it in the map, subject to MaxSessions.
func (m *Manager) Create(_ context.Context, id string, opts ...Option) (*Session, error) {
	if id == "" {
		id = uuid.NewString()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[id]; exists {
		return nil, formaterr.New(formaterr.KindBadPath, "session id already in use").WithPath(id)
	}
	if m.cfg.MaxSessions > 0 && len(m.sessions) >= m.cfg.MaxSessions {
		return nil, formaterr.ErrCapacityExceeded
	}

	cfg := m.cfg
	for _, opt := range opts {
		opt(&cfg)
	}

	sess := newSession(id, cfg)
	m.sessions[id] = sess
	return sess, nil
}

// Get returns the session registered under id, if any.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Ingest appends chunk to session id's parser and runs the diff/coalesce/
// publish pipeline (spec §6 Manager interface).
func (m *Manager) Ingest(ctx context.Context, id string, chunk []byte, isFinal bool) (ProgressReport, error) {
	sess, ok := m.Get(id)
	if !ok {
		return ProgressReport{}, formaterr.ErrNotFound.WithPath(id)
	}
	return sess.ingest(ctx, chunk, isFinal)
}

// Finalize runs the completer over residual bytes and emits the terminal
// Complete event (spec §6 Manager interface).
func (m *Manager) Finalize(ctx context.Context, id string) (completer.Result, error) {
	sess, ok := m.Get(id)
	if !ok {
		return completer.Result{}, formaterr.ErrNotFound.WithPath(id)
	}
	return sess.finalize(ctx)
}

// Close tears down session id immediately, outside the TTL sweep.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return formaterr.ErrNotFound.WithPath(id)
	}
	return sess.close()
}

// Subscribe registers callback on session id's event bus, scoped to
// filter (spec §6 Manager interface; callback is threaded through
// explicitly since a subscription is useless without one).
func (m *Manager) Subscribe(id string, filter eventbus.Filter, callback eventbus.Callback) (eventbus.Subscription, error) {
	sess, ok := m.Get(id)
	if !ok {
		return eventbus.Subscription{}, formaterr.ErrNotFound.WithPath(id)
	}
	return sess.Subscribe(filter, callback), nil
}

// runTTLSweep scans the session map every CleanupPeriod and expires any
// session whose LastActivity exceeds SessionTTL (spec §5, grounded on
// ttl.sessionCleaner's scheduled, error-accumulating cascade).
func (m *Manager) runTTLSweep(ctx context.Context) {
	period := m.cfg.CleanupPeriod
	if period <= 0 {
		period = time.Minute
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweepOnce()
		}
	}
}

// sweepOnce expires every session past its TTL (finalize, then close) and
// ticks the coalescer of every still-live session, continuing past any
// one session's finalize or close error the way DeleteSessionWithCascade
// continues past a phase failure (spec §5).
func (m *Manager) sweepOnce() {
	now := time.Now()
	ttl := m.cfg.SessionTTL
	if ttl <= 0 {
		ttl = time.Hour
	}

	m.mu.RLock()
	live := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		live = append(live, s)
	}
	m.mu.RUnlock()

	for _, s := range live {
		if s.expired(ttl, now) {
			if _, err := s.finalize(context.Background()); err != nil {
				m.logger.Debug("session manager: finalize of expired session failed", "session_id", s.ID, "error", err)
			}
			if err := m.Close(s.ID); err != nil {
				m.logger.Warn("session manager: failed to expire session", "session_id", s.ID, "error", err)
			} else {
				m.logger.Debug("session manager: expired session past TTL", "session_id", s.ID)
			}
			continue
		}
		s.tick()
	}
}

// Shutdown stops the TTL sweep and closes every live session.
func (m *Manager) Shutdown() error {
	m.cancel()
	_ = m.group.Wait()

	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	var firstErr error
	for _, id := range ids {
		if err := m.Close(id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
