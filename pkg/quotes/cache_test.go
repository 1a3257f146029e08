package quotes

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// fakeFetcher counts calls and can be told to fail.
type fakeFetcher struct {
	price float64
	err   error
	calls int
}

func (f *fakeFetcher) Fetch(ctx context.Context, symbol string) (Quote, error) {
	f.calls++
	if f.err != nil {
		return Quote{}, f.err
	}
	return Quote{Symbol: symbol, Price: f.price, FetchedAt: time.Now()}, nil
}

func TestCacheServesFresh(t *testing.T) {
	f := &fakeFetcher{price: 128500}
	c := NewCache(f, time.Minute, 10)

	q1, err := c.Get(context.Background(), "WINFUT")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	q2, err := c.Get(context.Background(), "WINFUT")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	if f.calls != 1 {
		t.Errorf("fetcher called %d times, want 1", f.calls)
	}
	if q1.Price != q2.Price {
		t.Errorf("cache returned different prices: %v, %v", q1.Price, q2.Price)
	}
}

func TestCacheExpiry(t *testing.T) {
	f := &fakeFetcher{price: 100}
	c := NewCache(f, 10*time.Millisecond, 10)

	if _, err := c.Get(context.Background(), "PETR4"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if _, err := c.Get(context.Background(), "PETR4"); err != nil {
		t.Fatalf("Get: %v", err)
	}

	if f.calls != 2 {
		t.Errorf("fetcher called %d times, want 2 after expiry", f.calls)
	}
}

func TestCacheServesStaleOnFetchFailure(t *testing.T) {
	f := &fakeFetcher{price: 42}
	c := NewCache(f, 10*time.Millisecond, 10)

	if _, err := c.Get(context.Background(), "VALE3"); err != nil {
		t.Fatalf("Get: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	f.err = errors.New("endpoint down")
	q, err := c.Get(context.Background(), "VALE3")
	if err != nil {
		t.Fatalf("Get: stale entry should be served, got error %v", err)
	}
	if q.Price != 42 {
		t.Errorf("Price = %v, want the stale 42", q.Price)
	}
}

func TestCacheMissWithFailingFetcher(t *testing.T) {
	f := &fakeFetcher{err: errors.New("endpoint down")}
	c := NewCache(f, time.Minute, 10)

	if _, err := c.Get(context.Background(), "ITUB4"); err == nil {
		t.Fatal("expected error when fetch fails with no cached entry")
	}
}

func TestCacheCapacity(t *testing.T) {
	f := &fakeFetcher{price: 1}
	c := NewCache(f, time.Minute, 3)

	for i := 0; i < 5; i++ {
		sym := fmt.Sprintf("SYM%d", i)
		if _, err := c.Get(context.Background(), sym); err != nil {
			t.Fatalf("Get(%s): %v", sym, err)
		}
	}

	if got := c.Len(); got > 3 {
		t.Errorf("Len = %d, want at most the capacity 3", got)
	}
}

func TestHTTPFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("symbol"); got != "WINFUT" {
			t.Errorf("symbol = %q, want WINFUT", got)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer secret" {
			t.Errorf("Authorization = %q", got)
		}
		fmt.Fprint(w, `{"price": 128500.0, "change": -0.42}`)
	}))
	defer srv.Close()

	f := NewHTTPFetcher(srv.URL, "secret")
	q, err := f.Fetch(context.Background(), "WINFUT")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if q.Symbol != "WINFUT" || q.Price != 128500.0 || q.Change != -0.42 {
		t.Errorf("quote = %+v", q)
	}
	if q.FetchedAt.IsZero() {
		t.Error("FetchedAt not set")
	}
}

func TestHTTPFetcherErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such symbol", http.StatusNotFound)
	}))
	defer srv.Close()

	f := NewHTTPFetcher(srv.URL, "")
	if _, err := f.Fetch(context.Background(), "NOPE"); err == nil {
		t.Fatal("expected error for non-200 response")
	}
}
