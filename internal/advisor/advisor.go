// Package advisor implements the advisory backend service: it wires the
// stores and providers into the orchestration core and exposes the chat
// flow over HTTP and (optionally) Matrix.
package advisor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ativo-labs/ativo/internal/channel/matrix"
	"github.com/ativo-labs/ativo/internal/llm"
	"github.com/ativo-labs/ativo/internal/orchestrator"
	"github.com/ativo-labs/ativo/pkg/accounts"
	"github.com/ativo-labs/ativo/pkg/channel"
	"github.com/ativo-labs/ativo/pkg/knowledge"
	"github.com/ativo-labs/ativo/pkg/quotes"
	"github.com/ativo-labs/ativo/pkg/semantic"
)

// Advisor is the main backend process.
type Advisor struct {
	kb     *knowledge.Store
	config *Config
	orch   *orchestrator.Orchestrator
	events *EventBus

	accounts *accounts.Store // nil when metering is unconfigured
	quotes   *quotes.Cache   // nil when quotes are unconfigured
	matrix   *matrix.Channel // nil when the channel is disabled

	// Semantic retrieval (optional, requires pgvector + TEI)
	semStore *semantic.Store
	semSync  *semantic.SyncWorker

	// Per-room advisory mode for the Matrix channel
	roomModes  map[string]orchestrator.Mode
	roomModeMu sync.Mutex

	startedAt time.Time
	healthy   bool
}

// New creates the advisor service.
func New(kb *knowledge.Store, cfg *Config) (*Advisor, error) {
	a := &Advisor{
		kb:        kb,
		config:    cfg,
		events:    NewEventBus(),
		roomModes: make(map[string]orchestrator.Mode),
		startedAt: time.Now(),
	}

	// Build one provider per configured profile
	providers := make(map[string]llm.Provider)
	profiles := make([]orchestrator.ProviderProfile, 0, 3)
	for _, pc := range []ProviderConfig{cfg.Providers.Code, cfg.Providers.Analysis, cfg.Providers.Reasoning} {
		if _, ok := providers[pc.ID]; ok {
			continue // roles may share one profile
		}
		providers[pc.ID] = newProvider(pc)
		profiles = append(profiles, orchestrator.ProviderProfile{
			ID:          pc.ID,
			BaseURL:     pc.BaseURL,
			Model:       pc.Model,
			MaxTokens:   pc.MaxTokens,
			Temperature: pc.Temperature,
			Style:       pc.Style,
		})
		slog.Info("LLM provider configured",
			"provider", pc.ID,
			"style", pc.Style,
			"model", pc.Model,
		)
	}

	// Account store (optional — without it metering is disabled)
	var acctStore orchestrator.AccountStore = noopAccounts{}
	var audit orchestrator.AuditSink = noopAccounts{}
	if cfg.Accounts.PostgresURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		store, err := accounts.NewStore(ctx, cfg.Accounts.PostgresURL)
		if err == nil {
			err = store.Init(ctx)
		}
		cancel()
		if err != nil {
			slog.Warn("account store unavailable, metering disabled", "error", err)
		} else {
			a.accounts = store
			acctStore = accountsAdapter{store}
			audit = accountsAdapter{store}
		}
	} else {
		slog.Info("no accounts postgres URL configured, metering disabled")
	}

	// Semantic retrieval (optional)
	var searcher orchestrator.SemanticSearcher
	if cfg.Knowledge.Semantic.Enabled && cfg.Knowledge.Semantic.PostgresURL != "" && cfg.Knowledge.Semantic.TEIURL != "" {
		searcher = a.initSemantic()
	} else if cfg.Knowledge.Semantic.Enabled {
		slog.Warn("semantic retrieval enabled but missing config",
			"has_pg_url", cfg.Knowledge.Semantic.PostgresURL != "",
			"has_tei_url", cfg.Knowledge.Semantic.TEIURL != "",
		)
	}

	timeout, _ := time.ParseDuration(cfg.DispatchTimeout)
	orchCfg := orchestrator.Config{
		Profiles:     profiles,
		Instructions: mergeModeTexts(defaultInstructions, cfg.Instructions),
		Fallbacks:    mergeModeTexts(defaultFallbacks, cfg.Fallbacks),
		Policy: orchestrator.SelectorPolicy{
			Code:      cfg.Providers.Code.ID,
			Analysis:  cfg.Providers.Analysis.ID,
			Reasoning: cfg.Providers.Reasoning.ID,
			Default:   cfg.Providers.Code.ID,
		},
		DispatchTimeout: timeout,
	}

	orch, err := orchestrator.New(orchCfg, providers, knowledgeAdapter{kb}, searcher, acctStore, audit)
	if err != nil {
		return nil, fmt.Errorf("create orchestrator: %w", err)
	}
	a.orch = orch

	// Market quotes (optional)
	if cfg.Quotes.Enabled && cfg.Quotes.BaseURL != "" {
		ttl, _ := time.ParseDuration(cfg.Quotes.TTL)
		fetcher := quotes.NewHTTPFetcher(cfg.Quotes.BaseURL, cfg.Quotes.APIKey)
		a.quotes = quotes.NewCache(fetcher, ttl, cfg.Quotes.Capacity)
		slog.Info("quote cache configured", "url", cfg.Quotes.BaseURL, "ttl", ttl)
	}

	// Matrix channel (optional)
	if cfg.Matrix.Enabled {
		a.matrix = matrix.New(matrix.Config{
			Homeserver:   cfg.Matrix.Homeserver,
			UserID:       cfg.Matrix.UserID,
			Password:     cfg.Matrix.Password,
			ServerName:   cfg.Matrix.ServerName,
			AllowedUsers: cfg.Matrix.AllowedUsers,
			DataDir:      cfg.Matrix.DataDir,
		})
	}

	return a, nil
}

// newProvider builds the wire adapter for one profile.
func newProvider(pc ProviderConfig) llm.Provider {
	if pc.Style == "messages" {
		return llm.NewAnthropic(pc.ID, pc.APIKey, pc.Model)
	}
	return llm.NewOpenAICompat(pc.ID, pc.BaseURL, pc.APIKey, pc.Model)
}

// initSemantic connects pgvector and TEI, returning the hybrid searcher
// or nil when the backend is unavailable.
func (a *Advisor) initSemantic() orchestrator.SemanticSearcher {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store, err := semantic.NewStore(ctx, a.config.Knowledge.Semantic.PostgresURL)
	if err != nil {
		slog.Warn("semantic retrieval unavailable, pgvector connection failed", "error", err)
		return nil
	}
	if err := store.Init(ctx); err != nil {
		slog.Warn("semantic retrieval unavailable, schema init failed", "error", err)
		store.Close()
		return nil
	}

	tei := semantic.NewTEIClient(a.config.Knowledge.Semantic.TEIURL)

	syncInterval := 30 * time.Second
	if a.config.Knowledge.Semantic.SyncInterval != "" {
		if parsed, err := time.ParseDuration(a.config.Knowledge.Semantic.SyncInterval); err == nil {
			syncInterval = parsed
		}
	}

	a.semStore = store
	a.semSync = semantic.NewSyncWorker(a.kb, store, tei, syncInterval, a.config.Knowledge.Semantic.BatchSize)

	slog.Info("semantic retrieval initialized",
		"postgres", a.config.Knowledge.Semantic.PostgresURL,
		"tei", a.config.Knowledge.Semantic.TEIURL,
	)
	return semanticAdapter{semantic.NewSearcher(a.kb, store, tei)}
}

// Run starts the service. Blocks until ctx is cancelled.
func (a *Advisor) Run(ctx context.Context) error {
	slog.Info("advisor running",
		"name", a.config.Name,
		"addr", a.config.HTTP.Addr,
		"matrix", a.matrix != nil,
	)

	if a.semSync != nil {
		go a.semSync.Run(ctx)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.serveHTTP(ctx)
	}()

	if a.matrix != nil {
		go func() {
			slog.Info("starting matrix channel")
			if err := a.matrix.Start(ctx, a.onChannelMessage); err != nil {
				errCh <- fmt.Errorf("matrix channel: %w", err)
			}
		}()
	}

	a.healthy = true

	select {
	case <-ctx.Done():
		slog.Info("context cancelled, shutting down")
	case err := <-errCh:
		if err != nil && ctx.Err() == nil {
			return err
		}
	}

	a.healthy = false
	if a.matrix != nil {
		a.matrix.Stop()
	}
	if a.accounts != nil {
		a.accounts.Close()
	}
	if a.semStore != nil {
		a.semStore.Close()
	}

	slog.Info("advisor shutting down")
	return nil
}

// --- HTTP API ---

func (a *Advisor) serveHTTP(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", a.handleHealth)
	mux.HandleFunc("/v1/chat", a.handleChat)
	mux.HandleFunc("/v1/quote", a.handleQuote)
	mux.HandleFunc("/v1/events", a.handleEvents)

	srv := &http.Server{Addr: a.config.HTTP.Addr, Handler: mux}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()

	slog.Info("API listening", "addr", a.config.HTTP.Addr,
		"endpoints", []string{"/health", "/v1/chat", "/v1/quote", "/v1/events"})
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

func (a *Advisor) handleHealth(w http.ResponseWriter, r *http.Request) {
	if a.healthy {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status":"ok","uptime":"%s"}`, time.Since(a.startedAt).Round(time.Second))
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, `{"status":"starting"}`)
	}
}

// chatRequest is the JSON body of POST /v1/chat.
type chatRequest struct {
	Message        string `json:"message"`
	Mode           string `json:"mode"`
	UserID         string `json:"user_id,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// chatResponse is the JSON response of POST /v1/chat.
type chatResponse struct {
	Content    string `json:"content"`
	ProviderID string `json:"provider_id"`
	TokensUsed int    `json:"tokens_used"`
	ModelName  string `json:"model_name"`
}

// handleChat validates the caller's input and runs the orchestration
// pipeline. Invalid mode and oversized messages are rejected here —
// the core assumes validated input.
func (a *Advisor) handleChat(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		fmt.Fprint(w, `{"error":"method not allowed"}`)
		return
	}

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"invalid JSON body"}`)
		return
	}

	if strings.TrimSpace(req.Message) == "" {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"message is required"}`)
		return
	}
	if len(req.Message) > a.config.HTTP.MaxMessageLen {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, `{"error":"message exceeds %d bytes"}`, a.config.HTTP.MaxMessageLen)
		return
	}
	mode, err := orchestrator.ParseMode(req.Mode)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprintf(w, `{"error":%q}`, err.Error())
		return
	}

	result, err := a.respond(r.Context(), req.Message, mode, req.UserID, req.ConversationID)
	if err != nil {
		slog.Error("chat pipeline failed", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		fmt.Fprint(w, `{"error":"internal error"}`)
		return
	}

	json.NewEncoder(w).Encode(chatResponse{
		Content:    result.Content,
		ProviderID: result.ProviderID,
		TokensUsed: result.TokensUsed,
		ModelName:  result.ModelName,
	})
}

// respond is the shared pipeline entry for HTTP and Matrix: load
// history, run the core, persist the new turns.
func (a *Advisor) respond(ctx context.Context, message string, mode orchestrator.Mode, userID, conversationID string) (orchestrator.DispatchResult, error) {
	start := time.Now()
	a.events.Publish(Event{Type: EventChat, Role: "user", Content: message})

	var history []orchestrator.Turn
	if conversationID != "" {
		turns, err := a.kb.RecentTurns(ctx, conversationID, 5)
		if err != nil {
			slog.Warn("history load failed, continuing without it", "conversation", conversationID, "error", err)
		}
		for _, t := range turns {
			history = append(history, orchestrator.Turn{Role: t.Role, Content: t.Content})
		}
	}

	result, err := a.orch.GenerateResponse(ctx, message, mode, userID, history)
	if err != nil {
		return orchestrator.DispatchResult{}, err
	}

	if conversationID != "" {
		if err := a.kb.AppendTurn(ctx, conversationID, "user", message); err != nil {
			slog.Warn("append user turn failed", "error", err)
		}
		if err := a.kb.AppendTurn(ctx, conversationID, "assistant", result.Content); err != nil {
			slog.Warn("append assistant turn failed", "error", err)
		}
	}

	a.events.Publish(Event{Type: EventChat, Role: "assistant", Content: result.Content})
	a.events.Publish(Event{Type: EventUsage, Provider: result.ProviderID, Tokens: result.TokensUsed})

	slog.Info("message answered",
		"mode", string(mode),
		"provider", result.ProviderID,
		"tokens", result.TokensUsed,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return result, nil
}

// handleQuote serves cached market quotes.
func (a *Advisor) handleQuote(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if a.quotes == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, `{"error":"quotes not configured"}`)
		return
	}

	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":"missing required parameter: symbol"}`)
		return
	}

	q, err := a.quotes.Get(r.Context(), strings.ToUpper(symbol))
	if err != nil {
		slog.Warn("quote fetch failed", "symbol", symbol, "error", err)
		w.WriteHeader(http.StatusBadGateway)
		fmt.Fprint(w, `{"error":"quote unavailable"}`)
		return
	}

	json.NewEncoder(w).Encode(q)
}

// handleEvents streams the event bus over SSE.
func (a *Advisor) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// Hydrate with recent events
	for _, e := range a.events.Recent(50) {
		fmt.Fprintf(w, "data: %s\n\n", e.MarshalEvent())
	}
	flusher.Flush()

	ch, done := a.events.Subscribe()
	defer a.events.Unsubscribe(done)

	for {
		select {
		case <-r.Context().Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", e.MarshalEvent())
			flusher.Flush()
		}
	}
}

// --- Matrix channel ---

// onChannelMessage handles an incoming Matrix message. The room's mode
// defaults to consulta and is switched with "/modo <mode>".
func (a *Advisor) onChannelMessage(ctx context.Context, msg channel.Message) error {
	if cmd, ok := strings.CutPrefix(msg.Content, "/modo"); ok {
		return a.handleModeCommand(ctx, msg, strings.TrimSpace(cmd))
	}

	if len(msg.Content) > a.config.HTTP.MaxMessageLen {
		return a.matrix.Send(ctx, channel.Response{
			RoomID:  msg.RoomID,
			Content: fmt.Sprintf("Mensagem muito longa (máximo %d caracteres).", a.config.HTTP.MaxMessageLen),
		})
	}

	a.roomModeMu.Lock()
	mode, ok := a.roomModes[msg.RoomID]
	a.roomModeMu.Unlock()
	if !ok {
		mode = orchestrator.ModeConsulta
	}

	result, err := a.respond(ctx, msg.Content, mode, msg.SenderID, msg.RoomID)
	if err != nil {
		return err
	}

	return a.matrix.Send(ctx, channel.Response{
		RoomID:  msg.RoomID,
		Content: result.Content,
	})
}

func (a *Advisor) handleModeCommand(ctx context.Context, msg channel.Message, arg string) error {
	mode, err := orchestrator.ParseMode(arg)
	if err != nil {
		modes := make([]string, 0, 4)
		for _, m := range orchestrator.Modes() {
			modes = append(modes, string(m))
		}
		return a.matrix.Send(ctx, channel.Response{
			RoomID:  msg.RoomID,
			Content: "Modos disponíveis: " + strings.Join(modes, ", "),
		})
	}

	a.roomModeMu.Lock()
	a.roomModes[msg.RoomID] = mode
	a.roomModeMu.Unlock()

	return a.matrix.Send(ctx, channel.Response{
		RoomID:  msg.RoomID,
		Content: "Modo alterado para " + string(mode) + ".",
	})
}

// --- Store adapters ---

// knowledgeAdapter exposes the SQLite store under the core's interface.
type knowledgeAdapter struct {
	kb *knowledge.Store
}

func (ka knowledgeAdapter) Query(ctx context.Context, patterns []string) ([]orchestrator.Snippet, error) {
	snippets, err := ka.kb.Query(ctx, patterns)
	if err != nil {
		return nil, err
	}
	return toCoreSnippets(snippets), nil
}

// semanticAdapter exposes the hybrid searcher under the core's interface.
type semanticAdapter struct {
	searcher *semantic.Searcher
}

func (sa semanticAdapter) Search(ctx context.Context, query string, limit int) ([]orchestrator.Snippet, error) {
	snippets, err := sa.searcher.Search(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	return toCoreSnippets(snippets), nil
}

func toCoreSnippets(snippets []knowledge.Snippet) []orchestrator.Snippet {
	out := make([]orchestrator.Snippet, 0, len(snippets))
	for _, sn := range snippets {
		out = append(out, orchestrator.Snippet{
			Title:       sn.Title,
			Content:     sn.Content,
			Category:    sn.Category,
			Subcategory: sn.Subcategory,
			Relevance:   sn.Relevance,
		})
	}
	return out
}

// accountsAdapter exposes the Postgres store under the core's
// interfaces. A missing account row is a normal condition, not an
// error: the meter simply skips the credit charge.
type accountsAdapter struct {
	store *accounts.Store
}

func (aa accountsAdapter) GetAccount(ctx context.Context, userID string) (*orchestrator.Account, error) {
	acct, err := aa.store.GetAccount(ctx, userID)
	if errors.Is(err, accounts.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &orchestrator.Account{
		UserID:  acct.UserID,
		Plan:    orchestrator.Plan(acct.Plan),
		Credits: acct.Credits,
	}, nil
}

func (aa accountsAdapter) DecrementCredit(ctx context.Context, userID string) error {
	return aa.store.DecrementCredit(ctx, userID)
}

func (aa accountsAdapter) Record(ctx context.Context, rec orchestrator.UsageRecord) error {
	return aa.store.Record(ctx, accounts.UsageRecord{
		UserID:     rec.UserID,
		ProviderID: rec.ProviderID,
		TokensUsed: rec.TokensUsed,
		Timestamp:  rec.Timestamp,
	})
}

// noopAccounts disables metering when no account store is configured.
type noopAccounts struct{}

func (noopAccounts) GetAccount(ctx context.Context, userID string) (*orchestrator.Account, error) {
	return nil, nil
}

func (noopAccounts) DecrementCredit(ctx context.Context, userID string) error { return nil }

func (noopAccounts) Record(ctx context.Context, rec orchestrator.UsageRecord) error { return nil }

// mergeModeTexts overlays config-provided texts on the built-in
// defaults.
func mergeModeTexts(defaults map[orchestrator.Mode]string, overrides map[string]string) map[orchestrator.Mode]string {
	merged := make(map[orchestrator.Mode]string, len(defaults))
	for m, text := range defaults {
		merged[m] = text
	}
	for raw, text := range overrides {
		if mode, err := orchestrator.ParseMode(raw); err == nil {
			merged[mode] = text
		}
	}
	return merged
}
