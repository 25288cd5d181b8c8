package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"StreamChat/internal/cache"
	"StreamChat/internal/protocol"
	"StreamChat/internal/provider"
)

// User-facing error texts. Exchange failures deliberately do not echo
// backend error details to the client.
const (
	errTextGenerate  = "Failed to generate response. Please check your API key."
	errTextBusy      = "A response is already being generated for this connection."
	errTextMalformed = "Invalid message format"
)

// Relay is the per-connection protocol state machine. It converts one
// inbound chat request into one outbound streamed model turn and keeps the
// session history authoritative.
//
// At most one exchange is in flight per connection; a chat request arriving
// while another is streaming is rejected with an error event.
type Relay struct {
	sess          *Session
	send          func(protocol.ServerMessage) error
	provider      provider.Provider
	respCache     *cache.Cache // nil when caching is disabled
	defaultAPIKey string
	timeout       time.Duration

	logger *slog.Logger
	tracer trace.Tracer
	meter  metric.Meter

	mu        sync.Mutex
	streaming bool
}

// NewRelay creates the relay for one connection. send delivers a message to
// the client and must be safe for concurrent use.
func NewRelay(
	sess *Session,
	send func(protocol.ServerMessage) error,
	p provider.Provider,
	respCache *cache.Cache,
	defaultAPIKey string,
	timeout time.Duration,
	logger *slog.Logger,
	tracer trace.Tracer,
	meter metric.Meter,
) *Relay {
	return &Relay{
		sess:          sess,
		send:          send,
		provider:      p,
		respCache:     respCache,
		defaultAPIKey: defaultAPIKey,
		timeout:       timeout,
		logger:        logger,
		tracer:        tracer,
		meter:         meter,
	}
}

// HandleMessage processes one inbound payload. Malformed payloads produce a
// generic error event without altering connection state. Chat requests run
// in their own goroutine so that requests arriving mid-stream can be
// rejected instead of silently queueing on the transport.
func (r *Relay) HandleMessage(ctx context.Context, data []byte) {
	msg, err := protocol.DecodeClientMessage(data)
	if err != nil {
		r.logger.Warn("message parsing error", "session_id", r.sess.ID, "error", err)
		r.sendEvent(protocol.ExchangeError("", errTextMalformed))
		return
	}

	switch msg.Type {
	case protocol.TypeSetAPIKey:
		r.handleSetAPIKey(msg)
	case protocol.TypeChat:
		r.handleChat(ctx, msg)
	}
}

// handleSetAPIKey stores a credential on the session. It is accepted only
// while no exchange is streaming and does not change connection state.
func (r *Relay) handleSetAPIKey(msg protocol.ClientMessage) {
	r.mu.Lock()
	busy := r.streaming
	r.mu.Unlock()
	if busy {
		r.sendEvent(protocol.ExchangeError("", errTextBusy))
		return
	}

	r.sess.SetAPIKey(msg.APIKey)
	r.logger.Info("API key set", "session_id", r.sess.ID)
	r.sendEvent(protocol.APIKeySet(true))
}

// handleChat begins one exchange, or rejects it if one is already in
// flight.
func (r *Relay) handleChat(ctx context.Context, msg protocol.ClientMessage) {
	if !r.begin() {
		r.logger.Warn("chat rejected, exchange in flight", "session_id", r.sess.ID)
		r.sendEvent(protocol.ExchangeError("", errTextBusy))
		return
	}

	go func() {
		defer r.end()
		r.runExchange(ctx, msg.Content, msg.APIKey)
	}()
}

func (r *Relay) begin() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.streaming {
		return false
	}
	r.streaming = true
	return true
}

func (r *Relay) end() {
	r.mu.Lock()
	r.streaming = false
	r.mu.Unlock()
}

// Streaming reports whether an exchange is currently in flight.
func (r *Relay) Streaming() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.streaming
}

// resolveAPIKey applies the credential precedence: request-level over
// session-stored over server default.
func (r *Relay) resolveAPIKey(requestKey string) string {
	if key := strings.TrimSpace(requestKey); key != "" {
		return key
	}
	if key := strings.TrimSpace(r.sess.APIKey()); key != "" {
		return key
	}
	return strings.TrimSpace(r.defaultAPIKey)
}

// runExchange drives one full exchange: acknowledge, stream, finalize.
// History gains either exactly two turns on success or none on failure.
func (r *Relay) runExchange(ctx context.Context, content, requestKey string) {
	messageID := uuid.NewString()
	start := time.Now()

	ctx, span := r.tracer.Start(ctx, "chat_exchange",
		trace.WithAttributes(attribute.String("message.id", messageID)))
	defer span.End()

	r.logger.Info("chat request", "session_id", r.sess.ID, "message_id", messageID)

	if err := r.sendEvent(protocol.MessageReceived(messageID)); err != nil {
		return
	}
	if err := r.sendEvent(protocol.StreamStart(messageID)); err != nil {
		return
	}

	history := r.sess.History()
	apiKey := r.resolveAPIKey(requestKey)

	var cacheKey string
	if r.respCache != nil {
		cacheKey = cache.Key(history, content)
		if cached, ok := r.respCache.Get(cacheKey); ok {
			r.logger.Info("cache hit", "session_id", r.sess.ID, "message_id", messageID)
			// Replayed as a single fragment so the client sees the
			// same event sequence as a live stream.
			if err := r.sendEvent(protocol.StreamChunk(messageID, cached)); err != nil {
				return
			}
			r.recordChunks(ctx, 1)
			r.finish(messageID, content, cached, start)
			return
		}
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	stream, err := r.provider.Stream(ctx, history, content, apiKey)
	if err != nil {
		r.fail(messageID, err)
		return
	}
	defer stream.Close()

	var full strings.Builder
	chunks := 0
	for {
		fragment, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			r.fail(messageID, err)
			return
		}
		full.WriteString(fragment)
		chunks++
		if err := r.sendEvent(protocol.StreamChunk(messageID, fragment)); err != nil {
			// Connection gone: abandon the exchange without committing.
			return
		}
	}

	if r.respCache != nil {
		r.respCache.Put(cacheKey, full.String())
	}
	r.recordChunks(ctx, chunks)
	r.finish(messageID, content, full.String(), start)
}

// finish commits both turns and emits the authoritative final text.
func (r *Relay) finish(messageID, userText, modelText string, start time.Time) {
	r.sess.AppendExchange(userText, modelText)
	if err := r.sendEvent(protocol.StreamEnd(messageID, modelText)); err != nil {
		return
	}

	duration := time.Since(start)
	histogram, err := r.meter.Float64Histogram(
		"chat.exchange.duration",
		metric.WithDescription("Exchange duration in milliseconds"),
	)
	if err == nil {
		histogram.Record(context.Background(), float64(duration.Milliseconds()))
	}

	r.logger.Info("response complete",
		"session_id", r.sess.ID,
		"message_id", messageID,
		"duration_ms", duration.Milliseconds())
}

// fail reports an exchange failure. Session history is left unmutated.
func (r *Relay) fail(messageID string, err error) {
	r.logger.Error("streaming error",
		"session_id", r.sess.ID, "message_id", messageID, "error", err)
	r.sendEvent(protocol.ExchangeError(messageID, errTextGenerate))
}

func (r *Relay) recordChunks(ctx context.Context, n int) {
	counter, err := r.meter.Int64Counter(
		"chat.stream.chunks",
		metric.WithDescription("Fragments forwarded to clients"),
	)
	if err == nil {
		counter.Add(ctx, int64(n))
	}
}

func (r *Relay) sendEvent(msg protocol.ServerMessage) error {
	if err := r.send(msg); err != nil {
		r.logger.Warn("failed to send event",
			"session_id", r.sess.ID, "type", msg.Type, "error", err)
		return err
	}
	return nil
}
