// Package server implements the WebSocket relay: it accepts connections,
// tracks one session per connection, and streams model turns back to the
// client as the provider produces them.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"StreamChat/internal/cache"
	"StreamChat/internal/config"
	"StreamChat/internal/protocol"
	"StreamChat/internal/provider"
)

// ShutdownTimeout is the maximum time to wait for graceful shutdown.
const ShutdownTimeout = 10 * time.Second

// Server accepts WebSocket connections and runs one relay per connection.
type Server struct {
	cfg      config.ServerConfig
	provider provider.Provider
	registry *Registry
	cache    *cache.Cache

	logger *slog.Logger
	tracer trace.Tracer
	meter  metric.Meter

	upgrader websocket.Upgrader
}

// New creates a server relaying chat requests to the given provider.
func New(cfg config.ServerConfig, p provider.Provider, logger *slog.Logger, tracer trace.Tracer, meter metric.Meter) *Server {
	s := &Server{
		cfg:      cfg,
		provider: p,
		registry: NewRegistry(),
		logger:   logger,
		tracer:   tracer,
		meter:    meter,
		upgrader: websocket.Upgrader{
			// The relay performs no cookie-based auth, so any origin
			// may connect.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	if cfg.CacheEnabled {
		s.cache = cache.New()
	}
	return s
}

// Registry returns the server's session registry.
func (s *Server) Registry() *Registry {
	return s.registry
}

// Handler returns the HTTP handler serving the WebSocket endpoint at /ws.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWS)
	return mux
}

// Run starts the server and blocks until the context is cancelled, then
// shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", s.cfg.Addr, "provider", s.cfg.Provider)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	}
}

// handleWS upgrades the connection, registers a session, and pumps inbound
// messages through the relay until the connection goes away.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	sess := s.registry.Add()
	wc := &wsConn{conn: conn}

	// Cancelled when the read loop ends; an in-flight exchange observes
	// this and abandons without committing history.
	ctx, cancel := context.WithCancel(r.Context())

	defer func() {
		cancel()
		s.registry.Remove(sess.ID)
		conn.Close()
		s.logger.Info("client disconnected", "session_id", sess.ID)
	}()

	s.logger.Info("client connected", "session_id", sess.ID, "remote", r.RemoteAddr)
	s.countConnections(ctx)

	relay := NewRelay(
		sess, wc.Send, s.provider, s.cache,
		s.cfg.DefaultAPIKey, s.cfg.ProviderTimeout,
		s.logger, s.tracer, s.meter,
	)

	if err := wc.Send(protocol.Connected(sess.ID)); err != nil {
		return
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("read error", "session_id", sess.ID, "error", err)
			}
			return
		}
		relay.HandleMessage(ctx, data)
	}
}

func (s *Server) countConnections(ctx context.Context) {
	counter, err := s.meter.Int64Counter(
		"chat.connections",
		metric.WithDescription("Accepted WebSocket connections"),
	)
	if err == nil {
		counter.Add(ctx, 1)
	}
}

// wsConn serializes writes to one WebSocket connection. The relay's
// exchange goroutine and the read loop both send through it.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

// Send writes one protocol message as a JSON text frame.
func (c *wsConn) Send(msg protocol.ServerMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}
