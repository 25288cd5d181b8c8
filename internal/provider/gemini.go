package provider

import (
	"context"
	"fmt"
	"io"
	"iter"

	"google.golang.org/genai"
)

// DefaultGeminiModel is the model used when none is configured.
const DefaultGeminiModel = "gemini-2.5-flash"

// Gemini streams model turns from the Gemini API.
type Gemini struct {
	model string
}

// NewGemini creates a Gemini provider for the given model. An empty model
// selects DefaultGeminiModel.
func NewGemini(model string) *Gemini {
	if model == "" {
		model = DefaultGeminiModel
	}
	return &Gemini{model: model}
}

// Stream starts one streamed Gemini turn. The client is created per call
// because the API key can differ per exchange.
func (g *Gemini) Stream(ctx context.Context, history []Turn, prompt, apiKey string) (Stream, error) {
	if apiKey == "" {
		return nil, ErrNoCredential
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	contents := make([]*genai.Content, 0, len(history)+1)
	for _, turn := range history {
		role := genai.RoleUser
		if turn.Role == RoleModel {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(turn.Text, genai.Role(role)))
	}
	contents = append(contents, genai.NewContentFromText(prompt, genai.RoleUser))

	next, stop := iter.Pull2(client.Models.GenerateContentStream(ctx, g.model, contents, nil))
	return &geminiStream{next: next, stop: stop}, nil
}

// geminiStream pulls fragments out of the SDK's push iterator.
type geminiStream struct {
	next   func() (*genai.GenerateContentResponse, error, bool)
	stop   func()
	closed bool
}

func (s *geminiStream) Next() (string, error) {
	if s.closed {
		return "", ErrStreamClosed
	}
	for {
		resp, err, ok := s.next()
		if !ok {
			return "", io.EOF
		}
		if err != nil {
			return "", fmt.Errorf("gemini stream: %w", err)
		}
		// Responses without text (safety metadata, usage-only chunks)
		// are skipped rather than surfaced as empty fragments.
		if text := resp.Text(); text != "" {
			return text, nil
		}
	}
}

func (s *geminiStream) Close() error {
	if !s.closed {
		s.closed = true
		s.stop()
	}
	return nil
}
