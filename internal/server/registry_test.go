package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"StreamChat/internal/provider"
)

func TestRegistryLifecycle(t *testing.T) {
	reg := NewRegistry()
	assert.Equal(t, 0, reg.Count())

	a := reg.Add()
	b := reg.Add()
	require.NotEmpty(t, a.ID)
	require.NotEmpty(t, b.ID)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, 2, reg.Count())

	reg.Remove(a.ID)
	assert.Equal(t, 1, reg.Count())

	// Removing twice is harmless.
	reg.Remove(a.ID)
	assert.Equal(t, 1, reg.Count())
}

func TestSessionAppendsTurnsInPairs(t *testing.T) {
	sess := NewRegistry().Add()
	assert.Empty(t, sess.History())

	sess.AppendExchange("Hi", "Hello there")
	history := sess.History()
	require.Len(t, history, 2)
	assert.Equal(t, provider.Turn{Role: provider.RoleUser, Text: "Hi"}, history[0])
	assert.Equal(t, provider.Turn{Role: provider.RoleModel, Text: "Hello there"}, history[1])

	// History returns a copy; mutating it does not touch the session.
	history[0].Text = "tampered"
	assert.Equal(t, "Hi", sess.History()[0].Text)
}

func TestSessionAPIKey(t *testing.T) {
	sess := NewRegistry().Add()
	assert.Empty(t, sess.APIKey())
	sess.SetAPIKey("Y")
	assert.Equal(t, "Y", sess.APIKey())
}
