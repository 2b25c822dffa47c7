package perception

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"

	"dataanalyst/internal/logging"
)

// GeminiConfig holds configuration for the Gemini client.
type GeminiConfig struct {
	APIKey      string
	BaseURL     string // empty means the public endpoint
	Model       string
	Timeout     time.Duration
	Temperature float64
	MaxTokens   int
}

// DefaultGeminiConfig returns sensible defaults.
func DefaultGeminiConfig(apiKey string) GeminiConfig {
	return GeminiConfig{
		APIKey:      apiKey,
		Model:       "gemini-2.5-flash",
		Timeout:     120 * time.Second,
		Temperature: 0.1,
		MaxTokens:   2048,
	}
}

// GeminiClient implements LLMClient with the Google GenAI SDK.
type GeminiClient struct {
	config GeminiConfig
	client *genai.Client
}

// NewGeminiClient creates a Gemini client. The SDK client is built eagerly
// so a bad configuration fails at startup.
func NewGeminiClient(ctx context.Context, config GeminiConfig) (*GeminiClient, error) {
	if config.APIKey == "" {
		return nil, ErrNoAPIKey
	}

	cc := &genai.ClientConfig{
		APIKey:     config.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: config.Timeout},
	}
	if config.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: config.BaseURL}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &GeminiClient{config: config, client: client}, nil
}

// Model returns the configured model.
func (c *GeminiClient) Model() string { return c.config.Model }

// Chat sends the conversation through GenerateContent.
func (c *GeminiClient) Chat(ctx context.Context, req ChatRequest) (string, error) {
	if err := validateRequest(req); err != nil {
		return "", err
	}

	model := c.config.Model
	if req.Model != "" {
		model = req.Model
	}

	genCfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(float32(c.config.Temperature)),
	}
	if c.config.MaxTokens > 0 {
		genCfg.MaxOutputTokens = int32(c.config.MaxTokens)
	}
	if strings.TrimSpace(req.System) != "" {
		genCfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}

	startTime := time.Now()
	logging.PerceptionDebug("[Gemini] Chat: model=%s messages=%d", model, len(req.Messages))

	resp, err := c.client.Models.GenerateContent(ctx, model, geminiContents(req.Messages), genCfg)
	if err != nil {
		logging.PerceptionError("[Gemini] Chat: failed after %v: %v", time.Since(startTime), err)
		return "", fmt.Errorf("gemini generate content: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return "", ErrEmptyResponse
	}
	logging.Perception("[Gemini] Chat: completed in %v response_len=%d", time.Since(startTime), len(text))
	return text, nil
}

func geminiContents(msgs []Message) []*genai.Content {
	contents := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		role := genai.Role(genai.RoleUser)
		if m.Role == RoleAssistant {
			role = genai.RoleModel
		}

		if len(m.Parts) == 0 {
			contents = append(contents, genai.NewContentFromText(m.Text, role))
			continue
		}
		parts := make([]*genai.Part, 0, len(m.Parts))
		for _, p := range m.Parts {
			switch p.Type {
			case PartImage:
				parts = append(parts, genai.NewPartFromBytes(p.Data, p.MIMEType))
			default:
				parts = append(parts, genai.NewPartFromText(p.Text))
			}
		}
		contents = append(contents, genai.NewContentFromParts(parts, role))
	}
	return contents
}
