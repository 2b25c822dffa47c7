package perception

import (
	"context"
	"fmt"
	"time"

	"dataanalyst/internal/config"
	"dataanalyst/internal/logging"
)

// NewClientFromConfig creates an LLM client for the configured provider.
// Empty fields in the llm section fall back to the provider defaults.
func NewClientFromConfig(ctx context.Context, cfg *config.Config) (LLMClient, error) {
	lc := cfg.LLM
	timeout := cfg.GetLLMTimeout()

	switch Provider(lc.Provider) {
	case ProviderTogether, ProviderOpenAI:
		oc := DefaultTogetherConfig(lc.APIKey)
		if Provider(lc.Provider) == ProviderOpenAI {
			oc = DefaultOpenAIConfig(lc.APIKey)
		}
		if lc.BaseURL != "" {
			oc.BaseURL = lc.BaseURL
		}
		if lc.Model != "" {
			oc.Model = lc.Model
		}
		if lc.MaxTokens > 0 {
			oc.MaxTokens = lc.MaxTokens
		}
		oc.Temperature = lc.Temperature
		oc.Timeout = timeoutOr(timeout, oc.Timeout)
		oc.MaxRetries = lc.MaxRetries
		logging.PerceptionDebug("using %s client: base=%s model=%s", oc.Provider, oc.BaseURL, oc.Model)
		return NewOpenAIClientWithConfig(oc), nil

	case ProviderGemini:
		gc := DefaultGeminiConfig(lc.APIKey)
		gc.BaseURL = lc.BaseURL
		if lc.Model != "" {
			gc.Model = lc.Model
		}
		if lc.MaxTokens > 0 {
			gc.MaxTokens = lc.MaxTokens
		}
		gc.Temperature = lc.Temperature
		gc.Timeout = timeoutOr(timeout, gc.Timeout)
		logging.PerceptionDebug("using gemini client: model=%s", gc.Model)
		return NewGeminiClient(ctx, gc)

	default:
		return nil, fmt.Errorf("unknown provider: %s", lc.Provider)
	}
}

func timeoutOr(d, def time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return def
}
