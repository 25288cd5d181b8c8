package client

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"StreamChat/internal/store"
)

func newTestConvStore(t *testing.T) (*ConvStore, store.KV) {
	t.Helper()
	kv := store.NewMemory()
	s, err := OpenConvStore(kv)
	require.NoError(t, err)
	return s, kv
}

func TestStartNewBecomesActiveNewestFirst(t *testing.T) {
	s, _ := newTestConvStore(t)

	first, err := s.StartNew()
	require.NoError(t, err)
	second, err := s.StartNew()
	require.NoError(t, err)

	assert.Equal(t, second.ID, s.CurrentID())
	convs := s.Conversations()
	require.Len(t, convs, 2)
	assert.Equal(t, second.ID, convs[0].ID)
	assert.Equal(t, first.ID, convs[1].ID)
	assert.Equal(t, TitleNew, convs[0].Title)
}

func TestTitleDerivation(t *testing.T) {
	s, _ := newTestConvStore(t)
	_, err := s.StartNew()
	require.NoError(t, err)

	require.NoError(t, s.SyncMessages([]Message{
		{ID: "u1", Content: "How do goroutines work?", Role: RoleUser, Timestamp: time.Now()},
	}))
	assert.Equal(t, "How do goroutines work?", s.Conversations()[0].Title)

	long := strings.Repeat("é", 40)
	require.NoError(t, s.SyncMessages([]Message{
		{ID: "u1", Content: long, Role: RoleUser, Timestamp: time.Now()},
	}))
	title := s.Conversations()[0].Title
	assert.Equal(t, strings.Repeat("é", 30)+"...", title)

	// A conversation holding only model messages keeps its title.
	require.NoError(t, s.SyncMessages([]Message{
		{ID: "a1", Content: "unprompted", Role: RoleAI, Timestamp: time.Now()},
	}))
	assert.Equal(t, title, s.Conversations()[0].Title)
}

func TestSwitch(t *testing.T) {
	s, _ := newTestConvStore(t)
	first, err := s.StartNew()
	require.NoError(t, err)
	require.NoError(t, s.SyncMessages([]Message{
		{ID: "u1", Content: "in first", Role: RoleUser, Timestamp: time.Now()},
	}))
	_, err = s.StartNew()
	require.NoError(t, err)

	messages, err := s.Switch(first.ID)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "in first", messages[0].Content)
	assert.Equal(t, first.ID, s.CurrentID())

	_, err = s.Switch("no-such-id")
	assert.ErrorIs(t, err, ErrUnknownConversation)
}

func TestDeleteActivatesMostRecentlyCreated(t *testing.T) {
	s, _ := newTestConvStore(t)
	first, err := s.StartNew()
	require.NoError(t, err)
	second, err := s.StartNew()
	require.NoError(t, err)
	third, err := s.StartNew()
	require.NoError(t, err)

	// Deleting the active conversation activates the most recently
	// created of the rest.
	_, err = s.Delete(third.ID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, s.CurrentID())

	// Deleting an inactive conversation leaves the selection alone.
	_, err = s.Delete(first.ID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, s.CurrentID())

	// Deleting the last conversation leaves none active.
	_, err = s.Delete(second.ID)
	require.NoError(t, err)
	assert.Empty(t, s.CurrentID())
	assert.Empty(t, s.Conversations())

	_, err = s.Delete("gone")
	assert.ErrorIs(t, err, ErrUnknownConversation)
}

func TestClearKeepsConversation(t *testing.T) {
	s, _ := newTestConvStore(t)
	conv, err := s.StartNew()
	require.NoError(t, err)
	require.NoError(t, s.SyncMessages([]Message{
		{ID: "u1", Content: "hello", Role: RoleUser, Timestamp: time.Now()},
	}))

	require.NoError(t, s.Clear())

	convs := s.Conversations()
	require.Len(t, convs, 1)
	assert.Equal(t, conv.ID, convs[0].ID)
	assert.Equal(t, TitleCleared, convs[0].Title)
	assert.Empty(t, convs[0].Messages)
	assert.Equal(t, conv.ID, s.CurrentID())
}

func TestPersistenceRoundTrip(t *testing.T) {
	s, kv := newTestConvStore(t)
	conv, err := s.StartNew()
	require.NoError(t, err)
	require.NoError(t, s.SyncMessages([]Message{
		{ID: "u1", Content: "remember me", Role: RoleUser, Timestamp: time.Now()},
	}))
	require.NoError(t, s.SetAPIKey("secret"))

	reopened, err := OpenConvStore(kv)
	require.NoError(t, err)
	assert.Equal(t, conv.ID, reopened.CurrentID())
	assert.Equal(t, "secret", reopened.APIKey())
	require.Len(t, reopened.Current(), 1)
	assert.Equal(t, "remember me", reopened.Current()[0].Content)
	assert.Equal(t, "remember me", reopened.Conversations()[0].Title)
}

func TestStaleStreamingMessageDroppedOnLoad(t *testing.T) {
	s, kv := newTestConvStore(t)
	_, err := s.StartNew()
	require.NoError(t, err)
	require.NoError(t, s.SyncMessages([]Message{
		{ID: "u1", Content: "Hi", Role: RoleUser, Timestamp: time.Now()},
		{ID: "m1", Content: "half a resp", Role: RoleAI, Timestamp: time.Now(), IsStreaming: true},
	}))

	// A process that died mid-stream persisted the streaming flag; a
	// fresh load drops the partial message, same as a lost connection.
	reopened, err := OpenConvStore(kv)
	require.NoError(t, err)
	msgs := reopened.Current()
	require.Len(t, msgs, 1)
	assert.Equal(t, RoleUser, msgs[0].Role)

	// The sanitized list is rewritten, not just held in memory.
	again, err := OpenConvStore(kv)
	require.NoError(t, err)
	require.Len(t, again.Current(), 1)
}

func TestStaleActiveIDCleared(t *testing.T) {
	kv := store.NewMemory()
	require.NoError(t, kv.Set("current_session_id", []byte("dangling")))

	s, err := OpenConvStore(kv)
	require.NoError(t, err)
	assert.Empty(t, s.CurrentID())
	assert.Nil(t, s.Current())
}

func TestSetAPIKeyEmptyRemoves(t *testing.T) {
	s, kv := newTestConvStore(t)
	require.NoError(t, s.SetAPIKey("secret"))
	require.NoError(t, s.SetAPIKey(""))

	_, err := kv.Get("gemini_api_key")
	assert.ErrorIs(t, err, store.ErrNotFound)

	reopened, err := OpenConvStore(kv)
	require.NoError(t, err)
	assert.Empty(t, reopened.APIKey())
}
