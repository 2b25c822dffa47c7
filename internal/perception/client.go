// Package perception is the boundary to remote language models. Callers
// build a ChatRequest of system instruction plus role-tagged messages and
// receive the first completion as text.
package perception

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Provider represents an LLM provider.
type Provider string

const (
	ProviderTogether Provider = "together"
	ProviderOpenAI   Provider = "openai"
	ProviderGemini   Provider = "gemini"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// PartType discriminates content parts.
type PartType string

const (
	PartText  PartType = "text"
	PartImage PartType = "image"
)

// ContentPart is one element of a multimodal message.
type ContentPart struct {
	Type     PartType
	Text     string
	MIMEType string
	Data     []byte
}

// TextPart builds a text part.
func TextPart(text string) ContentPart {
	return ContentPart{Type: PartText, Text: text}
}

// ImagePart builds an inline image part.
func ImagePart(mimeType string, data []byte) ContentPart {
	return ContentPart{Type: PartImage, MIMEType: mimeType, Data: data}
}

// Message is a single chat message. When Parts is non-empty Text is ignored.
type Message struct {
	Role  string
	Text  string
	Parts []ContentPart
}

// ChatRequest is one model call.
type ChatRequest struct {
	System   string
	Messages []Message
	// Model overrides the client's configured model when set.
	Model string
}

// LLMClient defines the interface for LLM providers.
type LLMClient interface {
	Chat(ctx context.Context, req ChatRequest) (string, error)
	Model() string
}

var (
	// ErrNoAPIKey is returned before any network traffic when no key is set.
	ErrNoAPIKey = errors.New("API key not configured")
	// ErrEmptyResponse is returned when the model produced no text.
	ErrEmptyResponse = errors.New("no completion returned")
)

// APIError is a non-2xx response from a provider.
type APIError struct {
	Provider   Provider
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s API request failed with status %d: %s", e.Provider, e.StatusCode, truncateBody(e.Body))
}

// Retryable reports whether the status is worth another attempt.
func (e *APIError) Retryable() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

func truncateBody(s string) string {
	s = strings.TrimSpace(s)
	const max = 500
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}

func validateRequest(req ChatRequest) error {
	if len(req.Messages) == 0 {
		return fmt.Errorf("chat request has no messages")
	}
	for i, m := range req.Messages {
		if m.Role != RoleUser && m.Role != RoleAssistant {
			return fmt.Errorf("message %d: unsupported role %q", i, m.Role)
		}
		for _, p := range m.Parts {
			if p.Type == PartImage && len(p.Data) == 0 {
				return fmt.Errorf("message %d: empty image part", i)
			}
		}
	}
	return nil
}
