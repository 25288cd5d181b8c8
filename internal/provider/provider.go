// Package provider adapts generative-language backends to a single streaming
// contract: given ordered prior turns and a new prompt, produce text
// fragments until the turn is complete.
package provider

import (
	"context"
	"errors"
)

// Roles of a stored conversation turn.
const (
	RoleUser  = "user"
	RoleModel = "model"
)

var (
	// ErrNoCredential indicates that no API key could be resolved for a
	// backend that requires one.
	ErrNoCredential = errors.New("no API key provided")

	// ErrStreamClosed is returned by Next after Close.
	ErrStreamClosed = errors.New("stream closed")
)

// Turn is one role-tagged utterance in a conversation history.
type Turn struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// Stream is a lazily-produced, finite, non-restartable sequence of text
// fragments. Next returns io.EOF once the turn is complete. Close abandons
// the stream; it is safe to call after EOF.
type Stream interface {
	Next() (string, error)
	Close() error
}

// Provider produces one streamed model turn from prior history and a prompt.
// The apiKey is the credential resolved by the caller; backends that need
// none ignore it.
type Provider interface {
	Stream(ctx context.Context, history []Turn, prompt, apiKey string) (Stream, error)
}
