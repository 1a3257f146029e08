// Package quotes provides a bounded cache over an external market-data
// endpoint. Quotes are a collaborator of the chat flow, not part of it:
// the HTTP API exposes them directly and nothing in the orchestration
// core depends on this package.
package quotes

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// Quote is one market quote.
type Quote struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Change    float64   `json:"change"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Fetcher retrieves a live quote for a symbol.
type Fetcher interface {
	Fetch(ctx context.Context, symbol string) (Quote, error)
}

// HTTPFetcher fetches quotes from a JSON HTTP endpoint.
type HTTPFetcher struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPFetcher creates a fetcher for the given quote endpoint.
func NewHTTPFetcher(baseURL, apiKey string) *HTTPFetcher {
	return &HTTPFetcher{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Fetch retrieves one quote.
func (f *HTTPFetcher) Fetch(ctx context.Context, symbol string) (Quote, error) {
	u := f.baseURL + "/quote?symbol=" + url.QueryEscape(symbol)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return Quote{}, fmt.Errorf("create quote request: %w", err)
	}
	if f.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+f.apiKey)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return Quote{}, fmt.Errorf("quote request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return Quote{}, fmt.Errorf("quote endpoint returned %d: %s", resp.StatusCode, string(body))
	}

	var q Quote
	if err := json.NewDecoder(resp.Body).Decode(&q); err != nil {
		return Quote{}, fmt.Errorf("decode quote: %w", err)
	}
	q.Symbol = symbol
	q.FetchedAt = time.Now().UTC()
	return q, nil
}

// Cache is a capacity- and TTL-bounded quote cache. Thread-safe. When
// the cache is full, the stalest entry is evicted.
type Cache struct {
	fetcher  Fetcher
	ttl      time.Duration
	capacity int

	mu      sync.Mutex
	entries map[string]Quote
}

// NewCache creates a cache in front of a fetcher.
func NewCache(fetcher Fetcher, ttl time.Duration, capacity int) *Cache {
	if ttl <= 0 {
		ttl = 15 * time.Second
	}
	if capacity <= 0 {
		capacity = 256
	}
	return &Cache{
		fetcher:  fetcher,
		ttl:      ttl,
		capacity: capacity,
		entries:  make(map[string]Quote),
	}
}

// Get returns a quote, served from cache while fresh.
func (c *Cache) Get(ctx context.Context, symbol string) (Quote, error) {
	c.mu.Lock()
	q, ok := c.entries[symbol]
	c.mu.Unlock()
	if ok && time.Since(q.FetchedAt) < c.ttl {
		return q, nil
	}

	fresh, err := c.fetcher.Fetch(ctx, symbol)
	if err != nil {
		// Serve the stale entry rather than nothing
		if ok {
			return q, nil
		}
		return Quote{}, err
	}

	c.mu.Lock()
	if len(c.entries) >= c.capacity {
		c.evictStalest()
	}
	c.entries[symbol] = fresh
	c.mu.Unlock()

	return fresh, nil
}

// Len returns the number of cached quotes.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// evictStalest removes the oldest entry. Caller holds the lock.
func (c *Cache) evictStalest() {
	var stalest string
	var stalestAt time.Time
	first := true
	for sym, q := range c.entries {
		if first || q.FetchedAt.Before(stalestAt) {
			stalest = sym
			stalestAt = q.FetchedAt
			first = false
		}
	}
	if stalest != "" {
		delete(c.entries, stalest)
	}
}
