package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"StreamChat/internal/config"
	"StreamChat/internal/protocol"
)

// Status is the observable connection state.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)

var (
	// ErrNotConnected is returned when a send is attempted without an
	// open transport.
	ErrNotConnected = errors.New("not connected to server")

	// ErrBusy is returned when a send is attempted while a response is
	// still streaming.
	ErrBusy = errors.New("a response is still streaming")
)

// Conn is the subset of a WebSocket connection the manager uses. It is
// satisfied by *websocket.Conn and by test fakes.
type Conn interface {
	ReadMessage() (messageType int, data []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Dialer opens a transport to the relay server.
type Dialer interface {
	Dial(url string) (Conn, error)
}

type wsDialer struct{}

func (wsDialer) Dial(url string) (Conn, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Callbacks notify the UI layer. All callbacks are invoked sequentially;
// nil callbacks are skipped.
type Callbacks struct {
	// StatusChanged fires on every connection state transition.
	StatusChanged func(Status)

	// Chunk fires for each streamed fragment of the in-progress message.
	Chunk func(text string)

	// TurnComplete fires when a model turn is finalized.
	TurnComplete func(msg Message)

	// Banner fires with a user-visible, dismissible error message.
	Banner func(text string)

	// MessagesChanged fires whenever the active message list changes for
	// any other reason (user message appended, streaming message
	// removed, conversation switched).
	MessagesChanged func()
}

// Manager owns at most one live transport to the relay server, reconnects
// on loss with bounded attempts, and routes inbound events through the
// reassembler into the conversation store.
type Manager struct {
	cfg       config.ClientConfig
	dialer    Dialer
	logger    *slog.Logger
	callbacks Callbacks

	mu              sync.Mutex
	conn            Conn
	gen             int // incremented per transport; stale pumps are ignored
	status          Status
	attempts        int
	awaiting        bool // chat sent, stream not yet finished
	lastError       string
	serverSessionID string
	reconnectTimer  *time.Timer
	closed          bool

	// UI notifications are queued under the mutex and delivered by
	// notifyLoop, so transitions are observed in the order they happened.
	pending []func()
	wake    chan struct{}
	done    chan struct{}

	reasm *Reassembler
	convs *ConvStore
}

// NewManager creates a manager over the given conversation store. The
// default dialer opens gorilla WebSocket connections.
func NewManager(cfg config.ClientConfig, convs *ConvStore, logger *slog.Logger, callbacks Callbacks) *Manager {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = config.DefaultReconnectDelay
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = config.DefaultMaxReconnects
	}
	m := &Manager{
		cfg:       cfg,
		dialer:    wsDialer{},
		logger:    logger,
		callbacks: callbacks,
		status:    StatusDisconnected,
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
		reasm:     NewReassembler(),
		convs:     convs,
	}
	m.reasm.SetMessages(convs.Current())
	go m.notifyLoop()
	return m
}

// SetDialer replaces the transport dialer. Used by tests.
func (m *Manager) SetDialer(d Dialer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dialer = d
}

// Status returns the current connection state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// LastError returns the most recent user-visible connection error.
func (m *Manager) LastError() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastError
}

// ServerSessionID returns the id assigned by the server at handshake.
func (m *Manager) ServerSessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.serverSessionID
}

// Messages returns a copy of the active conversation's message list.
func (m *Manager) Messages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reasm.Messages()
}

// Connect opens a transport unless one is already open.
func (m *Manager) Connect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.conn != nil || m.status == StatusConnecting {
		return
	}
	m.connectLocked()
}

// Reconnect is the explicit user-triggered recovery from the terminal
// error state. It resets the retry counter.
func (m *Manager) Reconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.conn != nil {
		return
	}
	m.attempts = 0
	m.lastError = ""
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	m.connectLocked()
}

// connectLocked starts a dial for a new transport generation. The caller
// holds the mutex.
func (m *Manager) connectLocked() {
	m.gen++
	gen := m.gen
	m.setStatusLocked(StatusConnecting)
	go m.dial(gen)
}

// dial opens the transport and adopts it unless a newer generation has
// superseded this attempt. The generation check guarantees two live
// transports never coexist.
func (m *Manager) dial(gen int) {
	conn, err := m.dialer.Dial(m.cfg.ServerURL)

	m.mu.Lock()
	if m.closed || gen != m.gen {
		m.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}

	if err != nil {
		m.logger.Warn("connect failed", "url", m.cfg.ServerURL, "error", err)
		m.setStatusLocked(StatusError)
		m.scheduleReconnectLocked()
		m.mu.Unlock()
		return
	}

	m.conn = conn
	m.attempts = 0
	m.lastError = ""
	m.setStatusLocked(StatusConnected)
	m.mu.Unlock()

	m.logger.Info("connected", "url", m.cfg.ServerURL)
	go m.readPump(gen, conn)
}

// readPump reads inbound frames until the transport fails.
func (m *Manager) readPump(gen int, conn Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			m.handleClose(gen, err)
			return
		}
		m.handleInbound(gen, data)
	}
}

// handleClose runs the disconnect path: drop the transport, clear the
// awaiting flag, and schedule a bounded reconnect.
func (m *Manager) handleClose(gen int, cause error) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	m.awaiting = false
	dropped := m.reasm.DropStreaming()
	if dropped {
		m.syncLocked()
	}
	m.setStatusLocked(StatusDisconnected)
	closed := m.closed
	if !closed {
		m.scheduleReconnectLocked()
	}
	m.mu.Unlock()

	if !closed {
		m.logger.Info("disconnected", "error", cause)
	}
	if dropped && m.callbacks.MessagesChanged != nil {
		m.callbacks.MessagesChanged()
	}
}

// scheduleReconnectLocked arms the retry timer, or enters the terminal
// error state once attempts are exhausted. The caller holds the mutex.
func (m *Manager) scheduleReconnectLocked() {
	if m.attempts >= m.cfg.MaxReconnectAttempts {
		m.lastError = "Failed to reconnect. Please check if the server is running."
		m.setStatusLocked(StatusError)
		if m.callbacks.Banner != nil {
			text := m.lastError
			m.queueLocked(func() { m.callbacks.Banner(text) })
		}
		return
	}

	m.reconnectTimer = time.AfterFunc(m.cfg.ReconnectDelay, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.closed || m.conn != nil {
			return
		}
		m.attempts++
		m.logger.Info("reconnection attempt",
			"attempt", m.attempts, "max", m.cfg.MaxReconnectAttempts)
		m.connectLocked()
	})
}

// handleInbound decodes one server event and applies it.
func (m *Manager) handleInbound(gen int, data []byte) {
	msg, err := protocol.DecodeServerMessage(data)
	if err != nil {
		m.logger.Warn("failed to parse message", "error", err)
		return
	}

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}

	switch msg.Type {
	case protocol.TypeConnected:
		m.serverSessionID = msg.SessionID
		m.mu.Unlock()
		m.logger.Info("session established", "session_id", msg.SessionID)
		return

	case protocol.TypeAPIKeySet:
		m.mu.Unlock()
		m.logger.Info("API key acknowledged")
		return

	case protocol.TypeMessageReceived:
		m.mu.Unlock()
		return
	}

	errText, changed := m.reasm.Apply(msg)
	if msg.Type == protocol.TypeStreamEnd || msg.Type == protocol.TypeError {
		m.awaiting = false
	}
	if changed {
		m.syncLocked()
	}

	var finalMsg Message
	if msg.Type == protocol.TypeStreamEnd {
		msgs := m.reasm.Messages()
		if len(msgs) > 0 {
			finalMsg = msgs[len(msgs)-1]
		}
	}
	m.mu.Unlock()

	switch msg.Type {
	case protocol.TypeStreamChunk:
		if changed && m.callbacks.Chunk != nil {
			m.callbacks.Chunk(msg.Content)
		}
	case protocol.TypeStreamEnd:
		if m.callbacks.TurnComplete != nil {
			m.callbacks.TurnComplete(finalMsg)
		}
	case protocol.TypeError:
		if m.callbacks.Banner != nil {
			m.callbacks.Banner(errText)
		}
		if changed && m.callbacks.MessagesChanged != nil {
			m.callbacks.MessagesChanged()
		}
	}
}

// SendPrompt sends one chat request. It is rejected locally without a
// round-trip when the transport is not open or a response is still
// streaming.
func (m *Manager) SendPrompt(content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.status != StatusConnected || m.conn == nil {
		return ErrNotConnected
	}
	if m.awaiting || m.reasm.Streaming() {
		return ErrBusy
	}

	userMsg := Message{
		ID:        uuid.NewString(),
		Content:   content,
		Role:      RoleUser,
		Timestamp: time.Now(),
	}
	m.reasm.AppendUser(userMsg)
	m.syncLocked()

	payload := protocol.ClientMessage{
		Type:    protocol.TypeChat,
		Content: content,
		APIKey:  m.convs.APIKey(),
	}
	if err := m.writeLocked(payload); err != nil {
		return err
	}
	m.awaiting = true
	return nil
}

// SetAPIKey persists the credential and, when connected, stores it on the
// server session as well.
func (m *Manager) SetAPIKey(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.convs.SetAPIKey(key); err != nil {
		return err
	}
	if m.status != StatusConnected || m.conn == nil {
		return nil
	}
	return m.writeLocked(protocol.ClientMessage{
		Type:   protocol.TypeSetAPIKey,
		APIKey: key,
	})
}

// NewConversation starts an empty conversation and makes it active.
func (m *Manager) NewConversation() (Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conv, err := m.convs.StartNew()
	if err != nil {
		return Conversation{}, err
	}
	m.reasm.SetMessages(nil)
	return conv, nil
}

// SwitchConversation makes the target conversation active and replaces the
// in-memory message list with its stored messages.
func (m *Manager) SwitchConversation(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	messages, err := m.convs.Switch(id)
	if err != nil {
		return err
	}
	m.reasm.SetMessages(messages)
	return nil
}

// DeleteConversation removes a conversation, keeping the active selection
// consistent.
func (m *Manager) DeleteConversation(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	messages, err := m.convs.Delete(id)
	if err != nil {
		return err
	}
	m.reasm.SetMessages(messages)
	return nil
}

// ClearConversation empties the active conversation.
func (m *Manager) ClearConversation() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.convs.Clear(); err != nil {
		return err
	}
	m.reasm.SetMessages(nil)
	return nil
}

// Conversations lists all stored conversations, newest first.
func (m *Manager) Conversations() []Conversation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.convs.Conversations()
}

// CurrentConversationID returns the active conversation id.
func (m *Manager) CurrentConversationID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.convs.CurrentID()
}

// Close tears down the manager: no further reconnects are attempted.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	if m.reconnectTimer != nil {
		m.reconnectTimer.Stop()
		m.reconnectTimer = nil
	}
	if m.conn != nil {
		m.conn.Close()
		m.conn = nil
	}
	m.setStatusLocked(StatusDisconnected)
	close(m.done)
	return nil
}

// syncLocked persists the active conversation's message list. The caller
// holds the mutex.
func (m *Manager) syncLocked() {
	if err := m.convs.SyncMessages(m.reasm.Messages()); err != nil {
		m.logger.Error("failed to save conversations", "error", err)
	}
}

// writeLocked marshals and sends one client message. The caller holds the
// mutex.
func (m *Manager) writeLocked(msg protocol.ClientMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	if err := m.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

// setStatusLocked transitions the connection state and notifies the UI.
// The caller holds the mutex.
func (m *Manager) setStatusLocked(status Status) {
	if m.status == status {
		return
	}
	m.status = status
	if m.callbacks.StatusChanged != nil {
		m.queueLocked(func() { m.callbacks.StatusChanged(status) })
	}
}

// queueLocked enqueues one UI notification. The caller holds the mutex.
func (m *Manager) queueLocked(cb func()) {
	m.pending = append(m.pending, cb)
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// notifyLoop delivers queued notifications one at a time and in order. It
// drains remaining notifications after Close, then exits.
func (m *Manager) notifyLoop() {
	for {
		m.mu.Lock()
		for len(m.pending) == 0 {
			closed := m.closed
			m.mu.Unlock()
			if closed {
				return
			}
			select {
			case <-m.wake:
			case <-m.done:
			}
			m.mu.Lock()
		}
		cb := m.pending[0]
		m.pending = m.pending[1:]
		m.mu.Unlock()
		cb()
	}
}
