package relay

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/appresence/appresence/internal/config"
	"github.com/appresence/appresence/internal/sdk"
)

// ErrNotConnected is returned for operations that require a live
// presence session.
var ErrNotConnected = fmt.Errorf("no presence session established")

type sessionState int

const (
	stateIdle sessionState = iota
	stateConnecting
	stateReady
)

// Manager owns the single presence session slot. At most one session is
// live at any time, bound to one client identity, and at most one login
// attempt is in flight system-wide.
type Manager struct {
	connector sdk.Connector
	cfg       config.RelayConfig
	log       zerolog.Logger

	mu            sync.Mutex
	state         sessionState
	clientID      string
	conn          sdk.Conn
	lastUpdate    time.Time
	cleared       bool
	everConnected bool

	nowFn func() time.Time
}

func NewManager(connector sdk.Connector, cfg config.RelayConfig, logger zerolog.Logger) *Manager {
	return &Manager{
		connector: connector,
		cfg:       cfg,
		log:       logger.With().Str("component", "session-manager").Logger(),
		cleared:   true,
		nowFn:     time.Now,
	}
}

// EnsureSession makes the session slot Ready and bound to clientID.
// Ready with a matching identity is a cache hit. While another login is
// in flight the caller waits and re-checks rather than starting a
// second concurrent login.
func (m *Manager) EnsureSession(ctx context.Context, clientID string) error {
	if clientID == "" {
		return fmt.Errorf("client ID is required")
	}

	for {
		m.mu.Lock()
		if m.state == stateReady && m.clientID == clientID {
			m.mu.Unlock()
			return nil
		}

		if m.state == stateConnecting {
			m.mu.Unlock()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(m.cfg.LoginPoll):
			}
			continue
		}

		// Claim the slot. The old connection, if any, is torn down
		// before the new login; teardown errors are ignored.
		old := m.conn
		oldID := m.clientID
		m.state = stateConnecting
		m.conn = nil
		m.mu.Unlock()

		if old != nil {
			m.log.Info().Str("old_client_id", oldID).Str("new_client_id", clientID).Msg("switching presence session")
			_ = old.Close()
		}

		conn, err := m.connector.Login(ctx, clientID)

		m.mu.Lock()
		if err != nil {
			m.state = stateIdle
			m.clientID = ""
			m.mu.Unlock()
			return fmt.Errorf("presence login failed: %w", err)
		}

		m.state = stateReady
		m.clientID = clientID
		m.conn = conn
		m.lastUpdate = time.Time{}
		m.cleared = true
		m.everConnected = true
		m.mu.Unlock()

		m.log.Info().Str("client_id", clientID).Msg("presence session ready")
		return nil
	}
}

// SetActivity publishes a details-only activity on the current session.
func (m *Manager) SetActivity(ctx context.Context, details string, startTimestamp int64) error {
	m.mu.Lock()
	if m.state != stateReady {
		m.mu.Unlock()
		return ErrNotConnected
	}
	conn := m.conn
	m.mu.Unlock()

	if err := conn.SetActivity(ctx, sdk.Activity{Details: details, StartTimestamp: startTimestamp}); err != nil {
		return err
	}

	m.mu.Lock()
	m.lastUpdate = m.nowFn()
	m.cleared = false
	m.mu.Unlock()
	return nil
}

// ClearActivity removes the displayed activity. A repeated clear while
// already cleared is a no-op that still succeeds.
func (m *Manager) ClearActivity(ctx context.Context) error {
	m.mu.Lock()
	if m.state != stateReady {
		m.mu.Unlock()
		return ErrNotConnected
	}
	if m.cleared {
		m.mu.Unlock()
		return nil
	}
	conn := m.conn
	m.mu.Unlock()

	if err := conn.Clear(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	m.cleared = true
	m.lastUpdate = time.Time{}
	m.mu.Unlock()
	return nil
}

// Run drives the staleness sweep until the context is cancelled.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.Shutdown()
			return
		case <-ticker.C:
			m.sweepOnce(ctx)
		}
	}
}

// sweepOnce clears the presence when no update arrived within the
// staleness timeout. Resetting lastUpdate after a successful clear
// guarantees at most one clear per stale period; a failed clear leaves
// the state untouched so the next tick retries.
func (m *Manager) sweepOnce(ctx context.Context) {
	m.mu.Lock()
	stale := m.state == stateReady && !m.lastUpdate.IsZero() &&
		m.nowFn().Sub(m.lastUpdate) >= m.cfg.StaleAfter
	conn := m.conn
	m.mu.Unlock()

	if !stale {
		return
	}

	m.log.Info().Msg("presence stale, clearing")

	clearCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.Clear(clearCtx); err != nil {
		m.log.Warn().Err(err).Msg("stale clear failed")
		return
	}

	m.mu.Lock()
	m.cleared = true
	m.lastUpdate = time.Time{}
	m.mu.Unlock()
}

// Shutdown tears down any live session.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	conn := m.conn
	m.conn = nil
	m.state = stateIdle
	m.clientID = ""
	m.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
}

// Connected reports whether a session is Ready.
func (m *Manager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == stateReady
}

// CurrentClientID returns the identity of the live session, or "".
func (m *Manager) CurrentClientID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != stateReady {
		return ""
	}
	return m.clientID
}

// EverConnected reports whether any session was established since start.
func (m *Manager) EverConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.everConnected
}
