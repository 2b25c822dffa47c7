package perception

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"dataanalyst/internal/logging"
)

// OpenAIConfig holds configuration for an OpenAI-compatible chat
// completions endpoint (OpenAI, Together and friends).
type OpenAIConfig struct {
	Provider     Provider
	APIKey       string
	BaseURL      string
	Model        string
	Timeout      time.Duration
	Temperature  float64
	MaxTokens    int
	MaxRetries   int
	RetryBackoff time.Duration
}

// DefaultTogetherConfig returns defaults for Together's endpoint.
func DefaultTogetherConfig(apiKey string) OpenAIConfig {
	return OpenAIConfig{
		Provider:     ProviderTogether,
		APIKey:       apiKey,
		BaseURL:      "https://api.together.xyz/v1",
		Model:        "meta-llama/Llama-4-Maverick-17B-128E-Instruct-FP8",
		Timeout:      120 * time.Second,
		Temperature:  0.1,
		MaxTokens:    2048,
		RetryBackoff: time.Second,
	}
}

// DefaultOpenAIConfig returns defaults for api.openai.com.
func DefaultOpenAIConfig(apiKey string) OpenAIConfig {
	return OpenAIConfig{
		Provider:     ProviderOpenAI,
		APIKey:       apiKey,
		BaseURL:      "https://api.openai.com/v1",
		Model:        "gpt-4o",
		Timeout:      120 * time.Second,
		Temperature:  0.1,
		MaxTokens:    2048,
		RetryBackoff: time.Second,
	}
}

// OpenAIClient implements LLMClient over /chat/completions.
type OpenAIClient struct {
	config     OpenAIConfig
	httpClient *http.Client
}

// NewOpenAIClientWithConfig creates a new client with custom config.
func NewOpenAIClientWithConfig(config OpenAIConfig) *OpenAIClient {
	if config.Provider == "" {
		config.Provider = ProviderOpenAI
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	return &OpenAIClient{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// Model returns the configured model.
func (c *OpenAIClient) Model() string { return c.config.Model }

// openAIRequest is the wire request. Message content is either a string or
// a list of typed parts.
type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature"`
}

type openAIMessage struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"`
}

type openAIPart struct {
	Type     string          `json:"type"`
	Text     string          `json:"text,omitempty"`
	ImageURL *openAIImageURL `json:"image_url,omitempty"`
}

type openAIImageURL struct {
	URL string `json:"url"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func buildOpenAIMessages(system string, msgs []Message) []openAIMessage {
	out := make([]openAIMessage, 0, len(msgs)+1)
	if strings.TrimSpace(system) != "" {
		out = append(out, openAIMessage{Role: "system", Content: system})
	}
	for _, m := range msgs {
		if len(m.Parts) == 0 {
			out = append(out, openAIMessage{Role: m.Role, Content: m.Text})
			continue
		}
		parts := make([]openAIPart, 0, len(m.Parts))
		for _, p := range m.Parts {
			switch p.Type {
			case PartImage:
				uri := "data:" + p.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(p.Data)
				parts = append(parts, openAIPart{Type: "image_url", ImageURL: &openAIImageURL{URL: uri}})
			default:
				parts = append(parts, openAIPart{Type: "text", Text: p.Text})
			}
		}
		out = append(out, openAIMessage{Role: m.Role, Content: parts})
	}
	return out
}

// Chat sends the conversation and returns the first choice's text.
func (c *OpenAIClient) Chat(ctx context.Context, req ChatRequest) (string, error) {
	if c.config.APIKey == "" {
		logging.PerceptionError("[%s] Chat: API key not configured", c.config.Provider)
		return "", ErrNoAPIKey
	}
	if err := validateRequest(req); err != nil {
		return "", err
	}

	model := c.config.Model
	if req.Model != "" {
		model = req.Model
	}

	body, err := json.Marshal(openAIRequest{
		Model:       model,
		Messages:    buildOpenAIMessages(req.System, req.Messages),
		MaxTokens:   c.config.MaxTokens,
		Temperature: c.config.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	startTime := time.Now()
	logging.PerceptionDebug("[%s] Chat: model=%s messages=%d request_bytes=%d",
		c.config.Provider, model, len(req.Messages), len(body))

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.config.RetryBackoff * time.Duration(1<<uint(attempt-1))
			logging.PerceptionWarn("[%s] Chat: retry %d/%d in %s after: %v",
				c.config.Provider, attempt, c.config.MaxRetries, backoff, lastErr)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		text, err := c.do(ctx, body)
		if err == nil {
			logging.Perception("[%s] Chat: completed in %v response_len=%d",
				c.config.Provider, time.Since(startTime), len(text))
			return text, nil
		}
		lastErr = err

		var apiErr *APIError
		if !errors.As(err, &apiErr) || !apiErr.Retryable() {
			break
		}
	}

	logging.PerceptionError("[%s] Chat: failed after %v: %v", c.config.Provider, time.Since(startTime), lastErr)
	return "", lastErr
}

func (c *OpenAIClient) do(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", &APIError{Provider: c.config.Provider, StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var parsed openAIResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("API error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	return parsed.Choices[0].Message.Content, nil
}
