package orchestrator

import (
	"context"
	"log/slog"
	"time"

	"github.com/ativo-labs/ativo/internal/llm"
)

const (
	// FallbackProviderID marks results produced by the degraded path.
	FallbackProviderID = "fallback"

	// fallbackTokens is the fixed nominal cost charged for a canned
	// response.
	fallbackTokens = 50

	// defaultTokenEstimate is used when a provider answers without
	// usage accounting.
	defaultTokenEstimate = 100

	// defaultDispatchTimeout bounds the provider call so a stalled
	// provider degrades like a transport error instead of blocking
	// the serving path.
	defaultDispatchTimeout = 120 * time.Second
)

// ProviderProfile is the static configuration of one provider.
// Immutable at runtime.
type ProviderProfile struct {
	ID          string  `json:"id"`
	BaseURL     string  `json:"base_url,omitempty"`
	APIKey      string  `json:"api_key,omitempty"`
	Model       string  `json:"model"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	// Style picks the wire adapter: "chat" (chat-completions) or
	// "messages" (Anthropic message API).
	Style string `json:"style,omitempty"`
}

// Dispatcher issues the single outbound provider call and normalizes
// the outcome. Dispatch never fails: provider errors are logged and
// replaced by the mode's canned advisory response.
type Dispatcher struct {
	providers map[string]llm.Provider
	profiles  map[string]ProviderProfile
	fallbacks map[Mode]string
	timeout   time.Duration
}

// NewDispatcher builds a dispatcher over the given providers, keyed by
// profile id.
func NewDispatcher(providers map[string]llm.Provider, profiles map[string]ProviderProfile, fallbacks map[Mode]string, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = defaultDispatchTimeout
	}
	return &Dispatcher{
		providers: providers,
		profiles:  profiles,
		fallbacks: fallbacks,
		timeout:   timeout,
	}
}

// Dispatch calls the provider identified by providerID with the
// assembled prompt. The result is either fully populated from the
// provider response or fully populated from the fallback path — the
// caller never sees a provider error.
func (d *Dispatcher) Dispatch(ctx context.Context, providerID, prompt string, mode Mode) DispatchResult {
	resp, err := d.call(ctx, providerID, prompt)
	if err != nil {
		slog.Warn("provider call failed, serving fallback",
			"provider", providerID,
			"mode", string(mode),
			"error", err,
		)
		return d.fallback(mode)
	}

	tokens := resp.TotalTokens()
	if tokens <= 0 {
		tokens = defaultTokenEstimate
	}

	return DispatchResult{
		Content:    resp.Content,
		ProviderID: providerID,
		TokensUsed: tokens,
		ModelName:  resp.Model,
	}
}

// call is the success/failure branch point: it returns the normalized
// provider response or a single error covering transport failures,
// non-success statuses, timeouts, and malformed payloads alike.
func (d *Dispatcher) call(ctx context.Context, providerID, prompt string) (*llm.CompletionResponse, error) {
	provider, ok := d.providers[providerID]
	if !ok {
		return nil, &llm.ProviderError{Message: "no provider configured", Provider: providerID}
	}
	profile := d.profiles[providerID]

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	resp, err := provider.Complete(ctx, llm.CompletionRequest{
		Messages:    []llm.Message{{Role: "user", Content: prompt}},
		Model:       profile.Model,
		MaxTokens:   profile.MaxTokens,
		Temperature: profile.Temperature,
	})
	if err != nil {
		return nil, err
	}
	if resp.Content == "" {
		return nil, &llm.ProviderError{Message: "empty completion", Provider: providerID}
	}
	return resp, nil
}

// fallback produces the degraded, mode-appropriate result.
func (d *Dispatcher) fallback(mode Mode) DispatchResult {
	content := d.fallbacks[mode]
	if content == "" {
		content = d.fallbacks[ModeConsulta]
	}
	return DispatchResult{
		Content:    content,
		ProviderID: FallbackProviderID,
		TokensUsed: fallbackTokens,
		ModelName:  FallbackProviderID,
	}
}
