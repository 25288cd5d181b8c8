package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kv.db")

	kv, err := OpenSQLite(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })

	_, err = kv.Get("chat_sessions")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, kv.Set("chat_sessions", []byte(`[]`)))
	value, err := kv.Get("chat_sessions")
	require.NoError(t, err)
	assert.Equal(t, []byte(`[]`), value)

	require.NoError(t, kv.Set("chat_sessions", []byte(`[{"id":"a"}]`)))
	value, err = kv.Get("chat_sessions")
	require.NoError(t, err)
	assert.Equal(t, []byte(`[{"id":"a"}]`), value)

	require.NoError(t, kv.Remove("chat_sessions"))
	_, err = kv.Get("chat_sessions")
	require.ErrorIs(t, err, ErrNotFound)

	// Removing a missing key is not an error.
	require.NoError(t, kv.Remove("missing"))
}

func TestSQLiteSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kv.db")

	kv, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, kv.Set("current_session_id", []byte("abc")))
	require.NoError(t, kv.Close())

	reopened, err := OpenSQLite(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	value, err := reopened.Get("current_session_id")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), value)
}

func TestMemoryIsolatesStoredBytes(t *testing.T) {
	kv := NewMemory()

	original := []byte("value")
	require.NoError(t, kv.Set("k", original))
	original[0] = 'X'

	got, err := kv.Get("k")
	require.NoError(t, err)
	assert.Equal(t, []byte("value"), got)

	got[0] = 'Y'
	again, err := kv.Get("k")
	require.NoError(t, err)
	assert.Equal(t, []byte("value"), again)
}
