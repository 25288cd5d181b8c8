package client

import (
	"time"

	"StreamChat/internal/protocol"
)

// Reassembler folds inbound protocol events into the ordered message list
// of the active conversation, including the in-progress streaming message.
// It is not safe for concurrent use; the connection manager serializes
// access.
type Reassembler struct {
	messages []Message
}

// NewReassembler creates a reassembler over an empty message list.
func NewReassembler() *Reassembler {
	return &Reassembler{}
}

// Messages returns a copy of the current message list.
func (r *Reassembler) Messages() []Message {
	out := make([]Message, len(r.messages))
	copy(out, r.messages)
	return out
}

// SetMessages replaces the message list, e.g. when switching conversations.
func (r *Reassembler) SetMessages(messages []Message) {
	r.messages = make([]Message, len(messages))
	copy(r.messages, messages)
}

// AppendUser appends a locally created user message.
func (r *Reassembler) AppendUser(msg Message) {
	r.messages = append(r.messages, msg)
}

// Streaming reports whether the most recent message is still streaming.
func (r *Reassembler) Streaming() bool {
	if len(r.messages) == 0 {
		return false
	}
	last := r.messages[len(r.messages)-1]
	return last.Role == RoleAI && last.IsStreaming
}

// Apply projects one server event onto the message list. It returns the
// user-visible error text for error events (empty otherwise) and whether
// the message list changed.
func (r *Reassembler) Apply(msg protocol.ServerMessage) (errText string, changed bool) {
	switch msg.Type {
	case protocol.TypeStreamStart:
		r.messages = append(r.messages, Message{
			ID:          msg.MessageID,
			Content:     "",
			Role:        RoleAI,
			Timestamp:   time.Now(),
			IsStreaming: true,
		})
		return "", true

	case protocol.TypeStreamChunk:
		// A chunk with no live streaming message is a protocol
		// violation; it is dropped rather than crashing or corrupting
		// a finalized message.
		if !r.Streaming() {
			return "", false
		}
		r.messages[len(r.messages)-1].Content += msg.Content
		return "", true

	case protocol.TypeStreamEnd:
		if len(r.messages) == 0 {
			return "", false
		}
		last := &r.messages[len(r.messages)-1]
		if last.Role != RoleAI {
			return "", false
		}
		// The full content is authoritative even if it diverges from
		// the concatenated chunks.
		last.IsStreaming = false
		if msg.FullContent != "" {
			last.Content = msg.FullContent
		}
		return "", true

	case protocol.TypeError:
		text := msg.Error
		if text == "" {
			text = "An error occurred"
		}
		// A failed exchange leaves no partial assistant message.
		if r.Streaming() {
			r.messages = r.messages[:len(r.messages)-1]
			return text, true
		}
		return text, false
	}

	return "", false
}

// DropStreaming removes a live streaming message, used when the connection
// is lost mid-exchange.
func (r *Reassembler) DropStreaming() bool {
	if !r.Streaming() {
		return false
	}
	r.messages = r.messages[:len(r.messages)-1]
	return true
}
