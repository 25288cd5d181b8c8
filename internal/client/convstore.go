package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"StreamChat/internal/store"
)

// Fixed key names in the durable store.
const (
	keySessions       = "chat_sessions"
	keyCurrentSession = "current_session_id"
	keyAPIKey         = "gemini_api_key"
)

// ErrUnknownConversation is returned when a conversation id does not exist.
var ErrUnknownConversation = errors.New("unknown conversation")

// ConvStore is the durable mapping from conversation id to conversation
// record plus the currently-active id. Conversations are kept newest first.
// Every mutation rewrites the backing store. It is not safe for concurrent
// use; the connection manager serializes access.
type ConvStore struct {
	kv            store.KV
	conversations []Conversation
	currentID     string
	apiKey        string
}

// OpenConvStore loads persisted state from the key-value store.
func OpenConvStore(kv store.KV) (*ConvStore, error) {
	s := &ConvStore{kv: kv}

	if data, err := kv.Get(keySessions); err == nil {
		if err := json.Unmarshal(data, &s.conversations); err != nil {
			return nil, fmt.Errorf("failed to load conversations: %w", err)
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	if data, err := kv.Get(keyCurrentSession); err == nil {
		s.currentID = string(data)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	if data, err := kv.Get(keyAPIKey); err == nil {
		s.apiKey = string(data)
	} else if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	// A crash mid-stream can persist a trailing message still flagged as
	// streaming. It is dropped on load, the same as on a lost connection;
	// a stale flag would otherwise block every future prompt.
	dropped := false
	for i := range s.conversations {
		conv := &s.conversations[i]
		if n := len(conv.Messages); n > 0 && conv.Messages[n-1].IsStreaming {
			conv.Messages = conv.Messages[:n-1]
			dropped = true
		}
	}

	// A stale active id pointing at a removed conversation is cleared
	// rather than left dangling.
	if s.currentID != "" && s.find(s.currentID) == nil {
		s.currentID = ""
	}

	if dropped {
		if err := s.persist(); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// Conversations returns a copy of all conversations, newest first.
func (s *ConvStore) Conversations() []Conversation {
	out := make([]Conversation, len(s.conversations))
	copy(out, s.conversations)
	return out
}

// CurrentID returns the active conversation id, or empty when none is
// active.
func (s *ConvStore) CurrentID() string {
	return s.currentID
}

// Current returns the messages of the active conversation.
func (s *ConvStore) Current() []Message {
	conv := s.find(s.currentID)
	if conv == nil {
		return nil
	}
	out := make([]Message, len(conv.Messages))
	copy(out, conv.Messages)
	return out
}

// APIKey returns the persisted provider credential, if any.
func (s *ConvStore) APIKey() string {
	return s.apiKey
}

// SetAPIKey persists the provider credential. An empty key removes it.
func (s *ConvStore) SetAPIKey(key string) error {
	s.apiKey = key
	if key == "" {
		return s.kv.Remove(keyAPIKey)
	}
	return s.kv.Set(keyAPIKey, []byte(key))
}

// StartNew creates an empty conversation, makes it active, and persists it.
func (s *ConvStore) StartNew() (Conversation, error) {
	now := time.Now()
	conv := Conversation{
		ID:        uuid.NewString(),
		Title:     TitleNew,
		Messages:  []Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.conversations = append([]Conversation{conv}, s.conversations...)
	s.currentID = conv.ID
	if err := s.persist(); err != nil {
		return Conversation{}, err
	}
	return conv, nil
}

// Switch makes the target conversation active and returns its stored
// messages.
func (s *ConvStore) Switch(id string) ([]Message, error) {
	conv := s.find(id)
	if conv == nil {
		return nil, ErrUnknownConversation
	}
	s.currentID = id
	if err := s.persist(); err != nil {
		return nil, err
	}
	out := make([]Message, len(conv.Messages))
	copy(out, conv.Messages)
	return out, nil
}

// Delete removes a conversation. If it was active, the most recently
// created remaining conversation becomes active, or none when none remain.
// It returns the messages of the conversation active afterwards.
func (s *ConvStore) Delete(id string) ([]Message, error) {
	if s.find(id) == nil {
		return nil, ErrUnknownConversation
	}

	remaining := s.conversations[:0]
	for _, conv := range s.conversations {
		if conv.ID != id {
			remaining = append(remaining, conv)
		}
	}
	s.conversations = remaining

	if s.currentID == id {
		s.currentID = ""
		mostRecent := -1
		for i, conv := range s.conversations {
			if mostRecent < 0 || conv.CreatedAt.After(s.conversations[mostRecent].CreatedAt) {
				mostRecent = i
			}
		}
		if mostRecent >= 0 {
			s.currentID = s.conversations[mostRecent].ID
		}
	}

	if err := s.persist(); err != nil {
		return nil, err
	}
	return s.Current(), nil
}

// Clear empties the active conversation's message list and resets its title
// to the cleared sentinel, without deleting the conversation.
func (s *ConvStore) Clear() error {
	conv := s.find(s.currentID)
	if conv == nil {
		return ErrUnknownConversation
	}
	conv.Title = TitleCleared
	conv.Messages = []Message{}
	conv.UpdatedAt = time.Now()
	return s.persist()
}

// SyncMessages stores the in-memory message list of the active conversation
// and rewrites the durable store. The title is re-derived from the first
// user message.
func (s *ConvStore) SyncMessages(messages []Message) error {
	conv := s.find(s.currentID)
	if conv == nil || len(messages) == 0 {
		return nil
	}
	conv.Messages = make([]Message, len(messages))
	copy(conv.Messages, messages)
	if title := deriveTitle(messages); title != "" {
		conv.Title = title
	}
	conv.UpdatedAt = time.Now()
	return s.persist()
}

func (s *ConvStore) find(id string) *Conversation {
	for i := range s.conversations {
		if s.conversations[i].ID == id {
			return &s.conversations[i]
		}
	}
	return nil
}

// persist rewrites the conversation list and active id.
func (s *ConvStore) persist() error {
	data, err := json.Marshal(s.conversations)
	if err != nil {
		return fmt.Errorf("failed to marshal conversations: %w", err)
	}
	if err := s.kv.Set(keySessions, data); err != nil {
		return err
	}
	if s.currentID == "" {
		return s.kv.Remove(keyCurrentSession)
	}
	return s.kv.Set(keyCurrentSession, []byte(s.currentID))
}
