// Package transport owns the single realtime connection to the chat backend
// and the store-and-forward fallback used while that connection is down.
//
// The core invariant: the realtime channel and the fallback poller are never
// active at the same time. The poller starts only when the socket is not
// connected and stops on the next Connected transition, so no message can be
// delivered twice through two simultaneously live paths.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"github.com/primeautohub/chatwidget/internal/chat"
	"github.com/primeautohub/chatwidget/internal/logger"
	"github.com/primeautohub/chatwidget/internal/metrics"
)

// ErrNotConnected is returned when an outbound frame is requested while the
// realtime channel is down. Callers fall back to the HTTP path.
var ErrNotConnected = errors.New("realtime channel not connected")

// State is the realtime connection state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// MessageFetcher is the read side of the store-and-forward path.
// *api.Client satisfies it.
type MessageFetcher interface {
	GetMessages(ctx context.Context, sessionID string) ([]chat.Message, error)
}

// Config bounds the manager's retry and timing behavior.
type Config struct {
	WebSocketURL         string
	PollInterval         time.Duration
	ReconnectMinDelay    time.Duration
	ReconnectMaxDelay    time.Duration
	ReconnectMaxAttempts int
	TypingResetWindow    time.Duration
}

func (c *Config) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.ReconnectMinDelay <= 0 {
		c.ReconnectMinDelay = time.Second
	}
	if c.ReconnectMaxDelay <= 0 {
		c.ReconnectMaxDelay = 30 * time.Second
	}
	if c.ReconnectMaxAttempts <= 0 {
		c.ReconnectMaxAttempts = 10
	}
	if c.TypingResetWindow <= 0 {
		c.TypingResetWindow = time.Second
	}
}

// Manager owns exactly one realtime connection at a time and the fallback
// poller for the attached session.
//
// Lifecycle: construct, set callbacks, Attach(ctx, sessionID). On socket
// loss the manager reconnects with capped exponential backoff for a finite
// attempt budget; once exhausted it stays Disconnected (the poller keeps
// running) until the next explicit Attach.
//
// Thread-safety: all exported methods are safe for concurrent use.
type Manager struct {
	cfg     Config
	fetcher MessageFetcher
	dialer  *websocket.Dialer
	logger  *logger.Logger

	// Callbacks, set before Attach. All are optional.
	OnMessages    func([]chat.Message)
	OnPeerTyping  func(bool)
	OnStateChange func(State)

	mu        sync.Mutex
	state     State
	conn      *websocket.Conn
	sessionID string
	pollStop  chan struct{}
	attachGen int
	closed    bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	writeMu sync.Mutex

	typingMu     sync.Mutex
	typingTimer  *time.Timer
	typingActive bool
}

// NewManager creates a transport manager. fetcher powers the fallback
// poller and must not be nil.
func NewManager(cfg Config, fetcher MessageFetcher, logger *logger.Logger) *Manager {
	cfg.applyDefaults()
	return &Manager{
		cfg:     cfg,
		fetcher: fetcher,
		dialer:  websocket.DefaultDialer,
		logger:  logger.WithComponent("transport"),
		state:   StateDisconnected,
	}
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connected reports whether the realtime channel is currently usable.
func (m *Manager) Connected() bool {
	return m.State() == StateConnected
}

// Attach binds the manager to a session and starts connecting. A second
// Attach (page-reload equivalent, or a new session superseding the old one)
// tears down the previous connection and resets the retry budget.
func (m *Manager) Attach(ctx context.Context, sessionID string) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}

	// Supersede any previous attachment.
	if m.cancel != nil {
		m.cancel()
	}
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	m.stopPollerLocked()

	m.sessionID = sessionID
	m.attachGen++
	gen := m.attachGen
	m.ctx, m.cancel = context.WithCancel(ctx)
	runCtx := m.ctx
	m.mu.Unlock()

	m.logger.Info("attaching to session", slog.String("session_id", sessionID))

	m.wg.Add(1)
	go m.connectLoop(runCtx, gen, sessionID)
}

// connectLoop dials the realtime channel, with capped exponential backoff
// between failed attempts, until connected, cancelled, or out of budget.
// While disconnected the fallback poller runs.
func (m *Manager) connectLoop(ctx context.Context, gen int, sessionID string) {
	defer m.wg.Done()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = m.cfg.ReconnectMinDelay
	bo.MaxInterval = m.cfg.ReconnectMaxDelay
	bo.MaxElapsedTime = 0 // the attempt budget bounds us, not wall time
	bo.Reset()

	failures := 0
	for {
		if ctx.Err() != nil {
			return
		}

		m.setState(gen, StateConnecting)
		metrics.ReconnectAttempts.Inc()

		conn, _, err := m.dialer.DialContext(ctx, m.cfg.WebSocketURL, nil)
		if err != nil {
			failures++
			m.setState(gen, StateDisconnected)
			m.startPoller(ctx, gen, sessionID)

			if failures >= m.cfg.ReconnectMaxAttempts {
				m.logger.Warn("reconnect budget exhausted, staying on fallback polling",
					slog.String("session_id", sessionID),
					slog.Int("attempts", failures))
				return
			}

			delay := bo.NextBackOff()
			m.logger.Debug("realtime dial failed, retrying",
				slog.String("error", err.Error()),
				slog.Duration("delay", delay),
				slog.Int("attempt", failures))

			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}

		if !m.adoptConn(gen, conn) {
			conn.Close()
			return
		}

		// Connected: declare the session binding, then silence the poller.
		if err := m.writeFrame(EventJoinSession, JoinPayload{
			SessionID: sessionID,
			UserType:  string(chat.SenderClient),
		}); err != nil {
			m.logger.Error("failed to send join declaration", slog.String("error", err.Error()))
		}

		m.setState(gen, StateConnected)
		m.stopPoller()
		failures = 0
		bo.Reset()

		m.logger.Info("realtime channel connected", slog.String("session_id", sessionID))

		m.readLoop(ctx, conn)

		if ctx.Err() != nil {
			return
		}

		m.setState(gen, StateDisconnected)
		m.startPoller(ctx, gen, sessionID)
		m.logger.Warn("realtime channel lost, polling until reconnected",
			slog.String("session_id", sessionID))
	}
}

// adoptConn installs the freshly dialed connection unless the attachment
// was superseded or the manager closed meanwhile.
func (m *Manager) adoptConn(gen int, conn *websocket.Conn) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || gen != m.attachGen {
		return false
	}
	m.conn = conn
	return true
}

// readLoop consumes frames until the connection drops. Malformed frames and
// low-level errors are logged, never fatal to the session.
func (m *Manager) readLoop(ctx context.Context, conn *websocket.Conn) {
	defer func() {
		conn.Close()
		m.mu.Lock()
		if m.conn == conn {
			m.conn = nil
		}
		m.mu.Unlock()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				m.logger.Debug("realtime read failed", slog.String("error", err.Error()))
			}
			return
		}

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			m.logger.Warn("dropping malformed realtime frame", slog.String("error", err.Error()))
			continue
		}

		switch frame.Event {
		case EventNewMessage:
			var msg chat.Message
			if err := json.Unmarshal(frame.Data, &msg); err != nil {
				m.logger.Warn("dropping malformed message payload", slog.String("error", err.Error()))
				continue
			}
			metrics.MessagesMerged.WithLabelValues("realtime").Inc()
			if m.OnMessages != nil {
				m.OnMessages([]chat.Message{msg})
			}

		case EventUserTyping:
			var typing TypingPayload
			if err := json.Unmarshal(frame.Data, &typing); err != nil {
				continue
			}
			if typing.UserType == string(chat.SenderAdmin) && m.OnPeerTyping != nil {
				m.OnPeerTyping(typing.IsTyping)
			}

		default:
			m.logger.Debug("ignoring realtime event", slog.String("event", frame.Event))
		}
	}
}

// SendMessage pushes a visitor message over the realtime channel. The
// caller falls back to the HTTP send path when this returns an error.
func (m *Manager) SendMessage(msg chat.Message) error {
	m.mu.Lock()
	connected := m.state == StateConnected && m.conn != nil
	m.mu.Unlock()

	if !connected {
		return ErrNotConnected
	}
	return m.writeFrame(EventSendMessage, msg)
}

// Typing reports a keystroke. typing=true goes out immediately on the first
// keystroke of a burst; typing=false follows automatically once no further
// keystroke arrives within the reset window. A single pending timer is
// rescheduled, never stacked.
func (m *Manager) Typing() {
	m.mu.Lock()
	sessionID := m.sessionID
	connected := m.state == StateConnected && m.conn != nil
	m.mu.Unlock()

	if !connected || sessionID == "" {
		return
	}

	m.typingMu.Lock()
	defer m.typingMu.Unlock()

	if !m.typingActive {
		m.typingActive = true
		m.emitTyping(sessionID, true)
	}

	if m.typingTimer == nil {
		m.typingTimer = time.AfterFunc(m.cfg.TypingResetWindow, m.typingExpired)
	} else {
		m.typingTimer.Reset(m.cfg.TypingResetWindow)
	}
}

func (m *Manager) typingExpired() {
	m.mu.Lock()
	sessionID := m.sessionID
	m.mu.Unlock()

	m.typingMu.Lock()
	defer m.typingMu.Unlock()

	if !m.typingActive {
		return
	}
	m.typingActive = false
	m.emitTyping(sessionID, false)
}

// emitTyping writes a typing frame; failures are logged only.
func (m *Manager) emitTyping(sessionID string, isTyping bool) {
	err := m.writeFrame(EventTyping, TypingPayload{
		SessionID: sessionID,
		UserType:  string(chat.SenderClient),
		IsTyping:  isTyping,
	})
	if err != nil {
		m.logger.Debug("failed to emit typing indicator", slog.String("error", err.Error()))
	}
}

// startPoller launches the fallback poller unless the channel is connected
// or a poller is already running.
func (m *Manager) startPoller(ctx context.Context, gen int, sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || gen != m.attachGen || m.state == StateConnected || m.pollStop != nil {
		return
	}

	stop := make(chan struct{})
	m.pollStop = stop

	m.wg.Add(1)
	go m.pollLoop(ctx, stop, sessionID)

	m.logger.Info("fallback poller started",
		slog.String("session_id", sessionID),
		slog.Duration("interval", m.cfg.PollInterval))
}

// pollLoop re-fetches the session's messages at a fixed interval. Fetch
// failures are silently retried on the next cycle; the timeline is left
// unchanged rather than cleared.
func (m *Manager) pollLoop(ctx context.Context, stop chan struct{}, sessionID string) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			batch, err := m.fetcher.GetMessages(ctx, sessionID)
			if err != nil {
				metrics.PollCycles.WithLabelValues("error").Inc()
				m.logger.Debug("poll cycle failed", slog.String("error", err.Error()))
				continue
			}
			metrics.PollCycles.WithLabelValues("ok").Inc()
			if m.OnMessages != nil {
				m.OnMessages(batch)
			}
		}
	}
}

func (m *Manager) stopPoller() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopPollerLocked()
}

func (m *Manager) stopPollerLocked() {
	if m.pollStop != nil {
		close(m.pollStop)
		m.pollStop = nil
		m.logger.Debug("fallback poller stopped")
	}
}

// setState publishes a state transition unless the attachment it belongs to
// was superseded.
func (m *Manager) setState(gen int, next State) {
	m.mu.Lock()
	if m.closed || gen != m.attachGen || m.state == next {
		m.mu.Unlock()
		return
	}
	m.state = next
	cb := m.OnStateChange
	m.mu.Unlock()

	metrics.TransportState.Set(float64(next))
	if cb != nil {
		cb(next)
	}
}

// Close tears the manager down: realtime connection, fallback poller and
// the pending typing timer all stop. No timer or socket survives Close.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.state = StateDisconnected
	if m.cancel != nil {
		m.cancel()
	}
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	m.stopPollerLocked()
	m.mu.Unlock()

	m.typingMu.Lock()
	if m.typingTimer != nil {
		m.typingTimer.Stop()
		m.typingTimer = nil
	}
	m.typingActive = false
	m.typingMu.Unlock()

	m.wg.Wait()
	m.logger.Info("transport closed")
}

// writeFrame serializes writes so concurrent senders never interleave on
// the shared connection.
func (m *Manager) writeFrame(event string, payload interface{}) error {
	frame, err := NewFrame(event, payload)
	if err != nil {
		return err
	}

	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	return conn.WriteJSON(frame)
}
