package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultOllamaModel is the model used when none is configured.
const DefaultOllamaModel = "llama3:latest"

// DefaultOllamaURL is the chat endpoint of a locally running Ollama.
const DefaultOllamaURL = "http://localhost:11434/api/chat"

// OllamaChatRequest represents the request body for the Ollama chat API.
type OllamaChatRequest struct {
	Model    string              `json:"model"`
	Messages []map[string]string `json:"messages"`
	Stream   bool                `json:"stream"`
}

// OllamaChatResponse represents one line of the Ollama streaming response.
type OllamaChatResponse struct {
	Model     string `json:"model"`
	CreatedAt string `json:"created_at"`
	Message   struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done bool `json:"done"`
}

// Ollama streams model turns from a local Ollama server. It requires no
// credential; the apiKey argument is ignored.
type Ollama struct {
	model      string
	url        string
	httpClient *http.Client
}

// NewOllama creates an Ollama provider. Empty model and url select the
// defaults.
func NewOllama(model, url string) *Ollama {
	if model == "" {
		model = DefaultOllamaModel
	}
	if url == "" {
		url = DefaultOllamaURL
	}
	return &Ollama{
		model:      model,
		url:        url,
		httpClient: &http.Client{Timeout: 10 * time.Minute},
	}
}

// Stream starts one streamed Ollama turn. Fragments arrive as one JSON
// object per line until a line with done=true.
func (o *Ollama) Stream(ctx context.Context, history []Turn, prompt, _ string) (Stream, error) {
	reqMessages := make([]map[string]string, 0, len(history)+1)
	for _, turn := range history {
		role := turn.Role
		if role == RoleModel {
			role = "assistant"
		}
		reqMessages = append(reqMessages, map[string]string{
			"role":    role,
			"content": turn.Text,
		})
	}
	reqMessages = append(reqMessages, map[string]string{
		"role":    RoleUser,
		"content": prompt,
	})

	reqBody := OllamaChatRequest{
		Model:    o.model,
		Messages: reqMessages,
		Stream:   true,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", o.url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("content-type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, fmt.Errorf("API error: %s - %s", resp.Status, string(body))
	}

	return &ollamaStream{body: resp.Body, scanner: bufio.NewScanner(resp.Body)}, nil
}

// ollamaStream decodes line-delimited JSON fragments out of the response
// body.
type ollamaStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	done    bool
	closed  bool
}

func (s *ollamaStream) Next() (string, error) {
	if s.closed {
		return "", ErrStreamClosed
	}
	if s.done {
		return "", io.EOF
	}
	for s.scanner.Scan() {
		line := bytes.TrimSpace(s.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var chunk OllamaChatResponse
		if err := json.Unmarshal(line, &chunk); err != nil {
			return "", fmt.Errorf("failed to unmarshal chunk: %w", err)
		}
		if chunk.Done {
			s.done = true
			if chunk.Message.Content != "" {
				return chunk.Message.Content, nil
			}
			return "", io.EOF
		}
		if chunk.Message.Content != "" {
			return chunk.Message.Content, nil
		}
	}
	if err := s.scanner.Err(); err != nil {
		return "", fmt.Errorf("failed to read stream: %w", err)
	}
	s.done = true
	return "", io.EOF
}

func (s *ollamaStream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	return s.body.Close()
}
