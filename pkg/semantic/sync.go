package semantic

import (
	"context"
	"crypto/md5"
	"fmt"
	"log/slog"
	"time"

	"github.com/ativo-labs/ativo/pkg/knowledge"
)

// SyncWorker keeps pgvector embeddings in sync with the SQLite snippet
// store. It polls for un-embedded or stale snippets and processes them
// in batches.
type SyncWorker struct {
	kb        *knowledge.Store
	store     *Store
	tei       *TEIClient
	interval  time.Duration
	batchSize int
}

// NewSyncWorker creates a new background sync worker.
func NewSyncWorker(kb *knowledge.Store, store *Store, tei *TEIClient, interval time.Duration, batchSize int) *SyncWorker {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 32
	}
	return &SyncWorker{
		kb:        kb,
		store:     store,
		tei:       tei,
		interval:  interval,
		batchSize: batchSize,
	}
}

// Run starts the sync loop. Blocks until ctx is cancelled.
func (w *SyncWorker) Run(ctx context.Context) {
	slog.Info("snippet embedding sync started",
		"interval", w.interval,
		"batch_size", w.batchSize,
	)

	// Initial backfill on startup
	if embedded, err := w.SyncOnce(ctx); err != nil {
		slog.Warn("initial embedding sync failed", "error", err)
	} else if embedded > 0 {
		slog.Info("initial embedding sync complete", "embedded", embedded)
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("snippet embedding sync stopping")
			return
		case <-ticker.C:
			if embedded, err := w.SyncOnce(ctx); err != nil {
				slog.Warn("embedding sync cycle failed", "error", err)
			} else if embedded > 0 {
				slog.Info("embedding sync cycle", "embedded", embedded)
			}
		}
	}
}

// SyncOnce runs a single sync cycle: diff snippet hashes against the
// embedded set, then embed and store whatever is new or stale.
func (w *SyncWorker) SyncOnce(ctx context.Context) (int, error) {
	refs, err := w.kb.AllSnippetRefs(ctx)
	if err != nil {
		return 0, fmt.Errorf("get snippet refs: %w", err)
	}

	embedded, err := w.store.GetEmbedded(ctx)
	if err != nil {
		return 0, fmt.Errorf("get embedded: %w", err)
	}

	var toEmbed []knowledge.SnippetRef
	for _, ref := range refs {
		existingHash, exists := embedded[ref.ID]
		if !exists || existingHash != ref.ContentHash {
			toEmbed = append(toEmbed, ref)
		}
	}

	if len(toEmbed) == 0 {
		return 0, nil
	}

	slog.Info("snippets need embedding",
		"total", len(refs),
		"already_embedded", len(embedded),
		"to_embed", len(toEmbed),
	)

	totalEmbedded := 0
	for i := 0; i < len(toEmbed); i += w.batchSize {
		end := i + w.batchSize
		if end > len(toEmbed) {
			end = len(toEmbed)
		}
		batch := toEmbed[i:end]

		ids := make([]int64, len(batch))
		for j, ref := range batch {
			ids[j] = ref.ID
		}
		snippets, err := w.kb.SnippetsByIDs(ctx, ids)
		if err != nil {
			slog.Warn("fetch batch snippets failed", "error", err, "batch_start", i)
			continue
		}

		texts := make([]string, len(snippets))
		snippetIDs := make([]int64, len(snippets))
		hashes := make([]string, len(snippets))
		for j, sn := range snippets {
			texts[j] = sn.Title + "\n" + sn.Content
			snippetIDs[j] = sn.ID
			hashes[j] = ContentHash(texts[j])
		}

		embeddings, err := w.tei.EmbedDocuments(ctx, texts)
		if err != nil {
			slog.Warn("embed batch failed", "error", err, "batch_start", i, "batch_size", len(texts))
			continue
		}

		if err := w.store.InsertBatch(ctx, snippetIDs, embeddings, hashes); err != nil {
			slog.Warn("store batch failed", "error", err, "batch_start", i)
			continue
		}

		totalEmbedded += len(embeddings)
	}

	return totalEmbedded, nil
}

// ContentHash computes an MD5 hash of content for staleness detection.
func ContentHash(content string) string {
	return fmt.Sprintf("%x", md5.Sum([]byte(content)))
}
