package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeClientMessage(t *testing.T) {
	msg, err := DecodeClientMessage([]byte(`{"type":"chat","content":"Hi","apiKey":"X"}`))
	require.NoError(t, err)
	assert.Equal(t, TypeChat, msg.Type)
	assert.Equal(t, "Hi", msg.Content)
	assert.Equal(t, "X", msg.APIKey)

	msg, err = DecodeClientMessage([]byte(`{"type":"set_api_key","apiKey":"Y"}`))
	require.NoError(t, err)
	assert.Equal(t, TypeSetAPIKey, msg.Type)
	assert.Equal(t, "Y", msg.APIKey)
}

func TestDecodeClientMessageMalformed(t *testing.T) {
	_, err := DecodeClientMessage([]byte(`{not json`))
	require.ErrorIs(t, err, ErrMalformed)

	_, err = DecodeClientMessage([]byte(`{"type":"subscribe"}`))
	require.ErrorIs(t, err, ErrUnknownType)

	_, err = DecodeClientMessage([]byte(`{"content":"no type"}`))
	require.ErrorIs(t, err, ErrUnknownType)
}

func TestDecodeServerMessage(t *testing.T) {
	msg, err := DecodeServerMessage([]byte(`{"type":"stream_chunk","messageId":"m1","content":"He"}`))
	require.NoError(t, err)
	assert.Equal(t, TypeStreamChunk, msg.Type)
	assert.Equal(t, "m1", msg.MessageID)
	assert.Equal(t, "He", msg.Content)

	_, err = DecodeServerMessage([]byte(`"just a string"`))
	require.ErrorIs(t, err, ErrMalformed)

	_, err = DecodeServerMessage([]byte(`{"type":"pong"}`))
	require.ErrorIs(t, err, ErrUnknownType)
}

func TestAPIKeySetCarriesExplicitFalse(t *testing.T) {
	data, err := json.Marshal(APIKeySet(false))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"success":false`)

	decoded, err := DecodeServerMessage(data)
	require.NoError(t, err)
	require.NotNil(t, decoded.Success)
	assert.False(t, *decoded.Success)
}

func TestBuildersRoundTrip(t *testing.T) {
	for _, msg := range []ServerMessage{
		Connected("s1"),
		MessageReceived("m1"),
		StreamStart("m1"),
		StreamChunk("m1", "llo "),
		StreamEnd("m1", "Hello there"),
		ExchangeError("m1", "boom"),
		ExchangeError("", "Invalid message format"),
	} {
		data, err := json.Marshal(msg)
		require.NoError(t, err)
		decoded, err := DecodeServerMessage(data)
		require.NoError(t, err)
		assert.Equal(t, msg, decoded)
	}
}
