package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/ativo-labs/ativo/internal/llm"
)

// Config is the immutable configuration of the core: provider profiles,
// mode instruction templates, fallback texts, and the selector policy.
// Injected at construction so tests can swap in alternate provider sets.
type Config struct {
	Profiles        []ProviderProfile
	Instructions    map[Mode]string
	Fallbacks       map[Mode]string
	Policy          SelectorPolicy
	DispatchTimeout time.Duration
}

// Orchestrator executes the full per-message flow: keyword extraction,
// knowledge retrieval, context assembly, provider selection, dispatch,
// and usage metering.
type Orchestrator struct {
	cfg        Config
	retriever  *Retriever
	dispatcher *Dispatcher
	meter      *Meter
}

// New wires the core. providers is keyed by profile id and must cover
// every id the selector policy can return.
func New(cfg Config, providers map[string]llm.Provider, store KnowledgeStore, semantic SemanticSearcher, accounts AccountStore, audit AuditSink) (*Orchestrator, error) {
	profiles := make(map[string]ProviderProfile, len(cfg.Profiles))
	for _, p := range cfg.Profiles {
		profiles[p.ID] = p
	}
	for _, id := range []string{cfg.Policy.Code, cfg.Policy.Analysis, cfg.Policy.Reasoning, cfg.Policy.Default} {
		if _, ok := providers[id]; !ok {
			return nil, fmt.Errorf("selector policy references unconfigured provider %q", id)
		}
	}

	return &Orchestrator{
		cfg:        cfg,
		retriever:  NewRetriever(store, semantic),
		dispatcher: NewDispatcher(providers, profiles, cfg.Fallbacks, cfg.DispatchTimeout),
		meter:      NewMeter(accounts, audit),
	}, nil
}

// GenerateResponse answers one chat message. The caller has already
// validated the mode and message size; an unknown mode here is
// programmer error. Provider failure never surfaces — the worst case is
// the mode's canned advisory text with provider id "fallback".
func (o *Orchestrator) GenerateResponse(ctx context.Context, message string, mode Mode, userID string, history []Turn) (DispatchResult, error) {
	instruction, ok := o.cfg.Instructions[mode]
	if !ok {
		return DispatchResult{}, fmt.Errorf("no instruction template for mode %q", mode)
	}

	keywords := ExtractKeywords(message)
	snippets := o.retriever.Search(ctx, keywords, mode)
	prompt := BuildContext(instruction, snippets, history, message)
	providerID := SelectProvider(message, mode, o.cfg.Policy)
	result := o.dispatcher.Dispatch(ctx, providerID, prompt, mode)

	o.meter.Meter(ctx, userID, result.ProviderID, result.TokensUsed)

	return result, nil
}
