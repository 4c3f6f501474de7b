package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"otodom-stats/utils"
)

// HealthLimits bound the lifetime of one browser session. Zero disables a
// limit.
type HealthLimits struct {
	MemoryWarnMB     int
	MemoryCriticalMB int
	MaxPages         int
	MaxAge           time.Duration
}

// Session is one live browser plus its bookkeeping. It is owned by the
// Manager; callers hold it for at most one task.
type Session struct {
	ID        string
	Engine    string
	CreatedAt time.Time

	browser Browser
	pages   atomic.Int64
	closed  atomic.Bool
	// retired is set by a failed health check; guarded by Manager.mu.
	retired string
}

// PagesServed counts successful navigations made through the session.
func (s *Session) PagesServed() int { return int(s.pages.Load()) }

// PID of the browser process, 0 when unknown.
func (s *Session) PID() int { return s.browser.PID() }

// Closed reports whether the manager has torn the session down.
func (s *Session) Closed() bool { return s.closed.Load() }

// NewPage opens a tab. Navigations on it count toward PagesServed.
func (s *Session) NewPage(ctx context.Context) (Page, error) {
	if s.closed.Load() {
		return nil, ErrSessionClosed
	}
	p, err := s.browser.NewPage(ctx)
	if err != nil {
		if s.closed.Load() {
			return nil, fmt.Errorf("%w: %v", ErrSessionClosed, err)
		}
		return nil, err
	}
	return &countingPage{Page: p, session: s}, nil
}

type countingPage struct {
	Page
	session *Session
}

func (p *countingPage) Navigate(ctx context.Context, url string) error {
	if p.session.closed.Load() {
		return ErrSessionClosed
	}
	if err := p.Page.Navigate(ctx, url); err != nil {
		return err
	}
	p.session.pages.Add(1)
	return nil
}

// Manager owns the single browser session of the process and recycles it
// when a health limit is exceeded.
type Manager struct {
	mu      sync.Mutex
	engines []Engine
	limits  HealthLimits
	probe   MemoryProbe
	now     func() time.Time
	logger  *utils.Logger
	current *Session
}

// NewManager returns a manager that tries engines in order on launch.
func NewManager(engines []Engine, limits HealthLimits, logger *utils.Logger) *Manager {
	return &Manager{
		engines: engines,
		limits:  limits,
		probe:   DefaultMemoryProbe,
		now:     time.Now,
		logger:  logger,
	}
}

// WithMemoryProbe replaces the memory probe.
func (m *Manager) WithMemoryProbe(p MemoryProbe) *Manager {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.probe = p
	return m
}

// WithClock replaces the clock used for session age.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
	return m
}

// AcquireSession returns the current session if it is healthy. Otherwise it
// tears the old one down and launches a replacement with the first engine
// that starts. It fails with ErrAllEnginesFailed when none does.
func (m *Manager) AcquireSession(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != nil {
		reason := m.unhealthyReason()
		if reason == "" {
			return m.current, nil
		}
		m.logger.Info("[session] Recycling session %s: %s", m.current.ID, reason)
		m.teardown()
	}

	var errs []error
	for _, engine := range m.engines {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		b, err := engine.Launch(ctx)
		if err != nil {
			m.logger.Warn("[session] Engine %s failed to launch: %v", engine.Name(), err)
			errs = append(errs, fmt.Errorf("%s: %w", engine.Name(), err))
			continue
		}

		m.current = &Session{
			ID:        uuid.NewString(),
			Engine:    engine.Name(),
			CreatedAt: m.now(),
			browser:   b,
		}
		m.logger.Info("[session] Launched %s session %s (pid %d)", engine.Name(), m.current.ID, b.PID())
		return m.current, nil
	}

	if len(errs) == 0 {
		return nil, ErrAllEnginesFailed
	}
	return nil, fmt.Errorf("%w: %w", ErrAllEnginesFailed, errors.Join(errs...))
}

// Release marks the end of one task's use of the session. Usage is
// serialized, so no refcount is kept; the session stays up until a health
// check retires it.
func (m *Manager) Release(s *Session) {
	if s == nil {
		return
	}
	m.logger.Debug("[session] Released session %s (%d pages served)", s.ID, s.PagesServed())
}

// CheckHealth reports whether the current session may serve another task.
// It returns false when there is no session.
func (m *Manager) CheckHealth(ctx context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return false
	}
	reason := m.unhealthyReason()
	if reason != "" {
		m.logger.Warn("[session] Session %s unhealthy: %s", m.current.ID, reason)
		m.current.retired = reason
		return false
	}
	return true
}

// unhealthyReason returns why the current session must be recycled, or ""
// when it is fine. Caller holds mu.
func (m *Manager) unhealthyReason() string {
	s := m.current
	if s.closed.Load() {
		return "closed"
	}
	if s.retired != "" {
		return s.retired
	}
	if m.limits.MaxPages > 0 && s.PagesServed() >= m.limits.MaxPages {
		return fmt.Sprintf("served %d pages (limit %d)", s.PagesServed(), m.limits.MaxPages)
	}
	if m.limits.MaxAge > 0 {
		if age := m.now().Sub(s.CreatedAt); age >= m.limits.MaxAge {
			return fmt.Sprintf("age %v exceeds %v", age.Round(time.Second), m.limits.MaxAge)
		}
	}

	if m.probe == nil {
		return ""
	}
	bytes, err := m.probe(s.PID())
	if err != nil {
		m.logger.Debug("[session] Memory probe failed: %v", err)
		return ""
	}
	mb := int(bytes / (1024 * 1024))
	if m.limits.MemoryCriticalMB > 0 && mb >= m.limits.MemoryCriticalMB {
		return fmt.Sprintf("memory %dMB over critical %dMB", mb, m.limits.MemoryCriticalMB)
	}
	if m.limits.MemoryWarnMB > 0 && mb >= m.limits.MemoryWarnMB {
		m.logger.Warn("[session] Session %s memory %dMB over warning threshold %dMB",
			s.ID, mb, m.limits.MemoryWarnMB)
	}
	return ""
}

// CheckMemory probes the session's browser between pages. Over the
// critical threshold the session is retired and ErrMemoryExceeded returned,
// so the running task stops early instead of waiting for the next acquire.
func (m *Manager) CheckMemory(s *Session) error {
	m.mu.Lock()
	probe := m.probe
	m.mu.Unlock()
	if s == nil || probe == nil || m.limits.MemoryCriticalMB <= 0 {
		return nil
	}
	bytes, err := probe(s.PID())
	if err != nil {
		m.logger.Debug("[session] Memory probe failed: %v", err)
		return nil
	}
	mb := int(bytes / (1024 * 1024))
	if mb < m.limits.MemoryCriticalMB {
		return nil
	}

	reason := fmt.Sprintf("memory %dMB over critical %dMB", mb, m.limits.MemoryCriticalMB)
	m.mu.Lock()
	s.retired = reason
	m.mu.Unlock()
	m.logger.Warn("[session] Session %s unhealthy: %s", s.ID, reason)
	return fmt.Errorf("%w: %dMB (limit %dMB)", ErrMemoryExceeded, mb, m.limits.MemoryCriticalMB)
}

// Invalidate tears down the current session unconditionally. Used after an
// interrupted task, whose browser state cannot be trusted.
func (m *Manager) Invalidate(reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return
	}
	m.logger.Warn("[session] Invalidating session %s: %s", m.current.ID, reason)
	m.teardown()
}

// Current returns the live session without health checking it.
func (m *Manager) Current() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Close shuts the browser down.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current == nil {
		return nil
	}
	err := m.current.browser.Close()
	m.current.closed.Store(true)
	m.current = nil
	return err
}

func (m *Manager) teardown() {
	s := m.current
	m.current = nil
	s.closed.Store(true)
	if err := s.browser.Close(); err != nil {
		m.logger.Warn("[session] Closing session %s: %v", s.ID, err)
	}
}
