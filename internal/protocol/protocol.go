// Package protocol defines the JSON messages exchanged between the chat
// client and the relay server. One JSON object per WebSocket text frame.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Client to server message types.
const (
	TypeSetAPIKey = "set_api_key"
	TypeChat      = "chat"
)

// Server to client message types.
const (
	TypeConnected       = "connected"
	TypeAPIKeySet       = "api_key_set"
	TypeMessageReceived = "message_received"
	TypeStreamStart     = "stream_start"
	TypeStreamChunk     = "stream_chunk"
	TypeStreamEnd       = "stream_end"
	TypeError           = "error"
)

var (
	// ErrMalformed indicates a payload that is not a JSON object.
	ErrMalformed = errors.New("malformed message")

	// ErrUnknownType indicates a payload whose type field is missing or
	// not part of the protocol.
	ErrUnknownType = errors.New("unknown message type")
)

// ClientMessage is a message sent by the client.
type ClientMessage struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
	APIKey  string `json:"apiKey,omitempty"`
}

// ServerMessage is a message sent by the server.
type ServerMessage struct {
	Type        string `json:"type"`
	SessionID   string `json:"sessionId,omitempty"`
	Success     *bool  `json:"success,omitempty"`
	MessageID   string `json:"messageId,omitempty"`
	Content     string `json:"content,omitempty"`
	FullContent string `json:"fullContent,omitempty"`
	Error       string `json:"error,omitempty"`
}

// DecodeClientMessage parses an inbound client payload.
func DecodeClientMessage(data []byte) (ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return ClientMessage{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	switch msg.Type {
	case TypeSetAPIKey, TypeChat:
		return msg, nil
	default:
		return ClientMessage{}, fmt.Errorf("%w: %q", ErrUnknownType, msg.Type)
	}
}

// DecodeServerMessage parses an inbound server payload.
func DecodeServerMessage(data []byte) (ServerMessage, error) {
	var msg ServerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return ServerMessage{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	switch msg.Type {
	case TypeConnected, TypeAPIKeySet, TypeMessageReceived,
		TypeStreamStart, TypeStreamChunk, TypeStreamEnd, TypeError:
		return msg, nil
	default:
		return ServerMessage{}, fmt.Errorf("%w: %q", ErrUnknownType, msg.Type)
	}
}

// Connected builds the handshake message sent after a client connects.
func Connected(sessionID string) ServerMessage {
	return ServerMessage{Type: TypeConnected, SessionID: sessionID}
}

// APIKeySet builds the acknowledgment of a credential-set request.
func APIKeySet(success bool) ServerMessage {
	return ServerMessage{Type: TypeAPIKeySet, Success: &success}
}

// MessageReceived builds the acknowledgment of a chat request.
func MessageReceived(messageID string) ServerMessage {
	return ServerMessage{Type: TypeMessageReceived, MessageID: messageID}
}

// StreamStart marks the begin of a model turn.
func StreamStart(messageID string) ServerMessage {
	return ServerMessage{Type: TypeStreamStart, MessageID: messageID}
}

// StreamChunk carries one fragment of a model turn.
func StreamChunk(messageID, content string) ServerMessage {
	return ServerMessage{Type: TypeStreamChunk, MessageID: messageID, Content: content}
}

// StreamEnd carries the authoritative complete text of a model turn.
func StreamEnd(messageID, fullContent string) ServerMessage {
	return ServerMessage{Type: TypeStreamEnd, MessageID: messageID, FullContent: fullContent}
}

// ExchangeError builds an error event scoped to one exchange. An empty
// messageID reports a failure that is not tied to any exchange, such as a
// malformed payload.
func ExchangeError(messageID, text string) ServerMessage {
	return ServerMessage{Type: TypeError, MessageID: messageID, Error: text}
}
