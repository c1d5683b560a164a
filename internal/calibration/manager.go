package calibration

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"mavgcs/internal/bus"
)

// Manager hands out sessions and enforces the one-live-session-per-kind rule:
// starting a new session cancels the previous non-terminal one for that kind,
// tearing its listeners down before the new session attaches.
type Manager struct {
	logger  *slog.Logger
	bus     bus.MessageBus
	invoker CommandSender
	opts    Options

	mu     sync.Mutex
	active map[Kind]*Session
}

func NewManager(logger *slog.Logger, b bus.MessageBus, invoker CommandSender, opts Options) *Manager {
	if logger == nil {
		logger = slog.Default().With("component", "calibration")
	}
	return &Manager{
		logger:  logger,
		bus:     b,
		invoker: invoker,
		opts:    opts,
		active:  make(map[Kind]*Session),
	}
}

func (m *Manager) Start(ctx context.Context, kind Kind) (*Session, error) {
	if kind == KindMotor {
		return nil, fmt.Errorf("motor test needs explicit parameters; use StartMotorTest")
	}

	session, err := New(kind, m.logger, m.bus, m.invoker, m.opts)
	if err != nil {
		return nil, err
	}
	return m.install(ctx, session)
}

func (m *Manager) StartMotorTest(ctx context.Context, motor int, throttlePct float64, duration time.Duration) (*Session, error) {
	session, err := NewMotorTest(m.logger, m.bus, m.invoker, m.opts, motor, throttlePct, duration)
	if err != nil {
		return nil, err
	}
	return m.install(ctx, session)
}

// Active returns the latest session for the kind, terminal or not.
func (m *Manager) Active(kind Kind) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.active[kind]
	return session, ok
}

func (m *Manager) install(ctx context.Context, session *Session) (*Session, error) {
	kind := session.Kind()

	m.mu.Lock()
	previous := m.active[kind]
	m.active[kind] = session
	m.mu.Unlock()

	if previous != nil && !previous.State().Phase.Terminal() {
		m.logger.Info("cancelling previous calibration session", "kind", string(kind))
		previous.Cancel()
	}

	if err := session.Start(ctx); err != nil {
		return nil, err
	}
	return session, nil
}
