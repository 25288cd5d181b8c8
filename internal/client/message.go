// Package client implements the chat client: a reconnecting WebSocket
// connection manager, the reassembly of streamed fragments into messages,
// and a persisted multi-conversation store.
package client

import (
	"time"
)

// Roles of a client-side message.
const (
	RoleUser = "user"
	RoleAI   = "ai"
)

// Sentinel titles for conversations without a derivable title.
const (
	TitleNew     = "New Chat"
	TitleCleared = "Cleared Chat"
)

// titleLimit is the maximum title length derived from the first user
// message, in runes.
const titleLimit = 30

// Message is a single chat message. Content is mutable while IsStreaming is
// set and immutable once the stream ends.
type Message struct {
	ID          string    `json:"id"`
	Content     string    `json:"content"`
	Role        string    `json:"role"`
	Timestamp   time.Time `json:"timestamp"`
	IsStreaming bool      `json:"isStreaming,omitempty"`
}

// Conversation groups an ordered list of messages under one title and id.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// deriveTitle builds a conversation title from the first user message,
// truncated with an ellipsis marker.
func deriveTitle(messages []Message) string {
	for _, msg := range messages {
		if msg.Role != RoleUser || msg.Content == "" {
			continue
		}
		runes := []rune(msg.Content)
		if len(runes) <= titleLimit {
			return msg.Content
		}
		return string(runes[:titleLimit]) + "..."
	}
	return ""
}
