// Package llm provides the LLM provider interface and the concrete
// adapters for each configured model endpoint.
package llm

import "context"

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"` // system, user, assistant
	Content string `json:"content"`
}

// CompletionRequest holds parameters for an LLM completion.
type CompletionRequest struct {
	Messages    []Message `json:"messages"`
	Model       string    `json:"model,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
	System      string    `json:"system,omitempty"` // Anthropic-style system prompt
}

// CompletionResponse holds the LLM's response, normalized across
// provider wire shapes.
type CompletionResponse struct {
	Content      string `json:"content"`
	Model        string `json:"model"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
	StopReason   string `json:"stop_reason"`
}

// TotalTokens returns the provider-reported token usage, or 0 when the
// provider did not include usage accounting.
func (r *CompletionResponse) TotalTokens() int {
	return r.InputTokens + r.OutputTokens
}

// Provider is the interface for LLM providers.
type Provider interface {
	// Name returns the provider identifier (e.g., "claude", "deepseek").
	Name() string

	// Complete sends a completion request and returns the response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
}

// ProviderError represents an LLM provider error.
type ProviderError struct {
	Message    string
	StatusCode int
	Provider   string
}

func (e *ProviderError) Error() string {
	if e.Provider != "" {
		return e.Provider + ": " + e.Message
	}
	return e.Message
}
