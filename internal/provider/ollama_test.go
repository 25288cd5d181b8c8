package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOllamaStreamsFragmentsInOrder(t *testing.T) {
	var gotReq OllamaChatRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		for _, content := range []string{"He", "llo ", "there"} {
			fmt.Fprintf(w, `{"message":{"role":"assistant","content":%q},"done":false}`+"\n", content)
		}
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":""},"done":true}`)
	}))
	t.Cleanup(srv.Close)

	o := NewOllama("llama3:latest", srv.URL)
	history := []Turn{
		{Role: RoleUser, Text: "Hi"},
		{Role: RoleModel, Text: "Hey"},
	}

	stream, err := o.Stream(context.Background(), history, "Hello?", "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = stream.Close() })

	var fragments []string
	for {
		fragment, err := stream.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		fragments = append(fragments, fragment)
	}
	assert.Equal(t, []string{"He", "llo ", "there"}, fragments)

	// Next keeps returning EOF once the turn is complete.
	_, err = stream.Next()
	assert.Equal(t, io.EOF, err)

	// The model role maps onto Ollama's assistant role and the prompt is
	// the final user message.
	require.Len(t, gotReq.Messages, 3)
	assert.Equal(t, "user", gotReq.Messages[0]["role"])
	assert.Equal(t, "assistant", gotReq.Messages[1]["role"])
	assert.Equal(t, map[string]string{"role": "user", "content": "Hello?"}, gotReq.Messages[2])
	assert.True(t, gotReq.Stream)
}

func TestOllamaFinalLineMayCarryContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"tail"},"done":true}`)
	}))
	t.Cleanup(srv.Close)

	stream, err := NewOllama("", srv.URL).Stream(context.Background(), nil, "Hi", "")
	require.NoError(t, err)
	t.Cleanup(func() { _ = stream.Close() })

	fragment, err := stream.Next()
	require.NoError(t, err)
	assert.Equal(t, "tail", fragment)

	_, err = stream.Next()
	assert.Equal(t, io.EOF, err)
}

func TestOllamaAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	t.Cleanup(srv.Close)

	_, err := NewOllama("", srv.URL).Stream(context.Background(), nil, "Hi", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestOllamaNextAfterClose(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"message":{"role":"assistant","content":"x"},"done":false}`)
	}))
	t.Cleanup(srv.Close)

	stream, err := NewOllama("", srv.URL).Stream(context.Background(), nil, "Hi", "")
	require.NoError(t, err)
	require.NoError(t, stream.Close())

	_, err = stream.Next()
	require.ErrorIs(t, err, ErrStreamClosed)
}

func TestGeminiRequiresCredential(t *testing.T) {
	_, err := NewGemini("").Stream(context.Background(), nil, "Hi", "")
	require.ErrorIs(t, err, ErrNoCredential)
}
