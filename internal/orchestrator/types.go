// Package orchestrator implements the response orchestration core: it
// decides which provider answers a chat message, assembles the prompt
// deterministically, degrades to a canned response when the provider
// fails, and meters credit consumption.
package orchestrator

import (
	"context"
	"time"
)

// Turn is one prior message of the conversation, read-only input to
// context assembly.
type Turn struct {
	Role    string `json:"role"` // user, assistant
	Content string `json:"content"`
}

// Snippet is a ranked excerpt from the knowledge store.
type Snippet struct {
	Title       string  `json:"title"`
	Content     string  `json:"content"`
	Category    string  `json:"category"`
	Subcategory string  `json:"subcategory"`
	Relevance   float64 `json:"relevance"`
}

// DispatchResult is the uniform outcome of one dispatch. It is always
// fully populated — either from a provider response or from the
// fallback path, never a mix.
type DispatchResult struct {
	Content    string `json:"content"`
	ProviderID string `json:"provider_id"`
	TokensUsed int    `json:"tokens_used"`
	ModelName  string `json:"model_name"`
}

// Plan is a billing plan tier.
type Plan string

const (
	PlanFree      Plan = "free"
	PlanBasic     Plan = "basic"
	PlanPremium   Plan = "premium"
	PlanUnlimited Plan = "unlimited"
)

// Metered reports whether messages on this plan consume credits.
func (p Plan) Metered() bool {
	return p == PlanFree || p == PlanBasic
}

// Account is a user's credit account, owned by the external store.
type Account struct {
	UserID  string
	Plan    Plan
	Credits int
}

// UsageRecord is one append-only audit entry per answered message.
type UsageRecord struct {
	UserID     string
	ProviderID string
	TokensUsed int
	Timestamp  time.Time
}

// KnowledgeStore is the external snippet store. Query matches each
// pattern as a substring against title, content, and tags; results come
// back ordered by relevance descending.
type KnowledgeStore interface {
	Query(ctx context.Context, patterns []string) ([]Snippet, error)
}

// AccountStore is the external credit-account store.
type AccountStore interface {
	GetAccount(ctx context.Context, userID string) (*Account, error)
	DecrementCredit(ctx context.Context, userID string) error
}

// AuditSink receives usage records.
type AuditSink interface {
	Record(ctx context.Context, rec UsageRecord) error
}
