package adapter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alpaca-lotto/internal/storage"
)

func TestPriceClientFetchesQuote(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("ids"); got != "usd-coin" {
			t.Errorf("expected ids=usd-coin, got %s", got)
		}
		if got := r.URL.Query().Get("vs_currencies"); got != "usd" {
			t.Errorf("expected vs_currencies=usd, got %s", got)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"usd-coin":{"usd":0.9998}}`))
	}))
	defer server.Close()

	client := NewPriceClient(server.URL, "", nil)
	price, err := client.TokenPriceUSD(context.Background(), "USDC")
	if err != nil {
		t.Fatalf("TokenPriceUSD failed: %v", err)
	}
	if !price.Equal(decimal.RequireFromString("0.9998")) {
		t.Errorf("expected 0.9998, got %s", price)
	}
}

func TestPriceClientMapsSymbols(t *testing.T) {
	cases := map[string]string{
		"ETH":     "ethereum",
		"WETH":    "ethereum",
		"USDT":    "tether",
		"WBTC":    "wrapped-bitcoin",
		"ALPACA":  "alpaca-finance",
		"UNKNOWN": "unknown",
	}
	for symbol, coinID := range cases {
		if got := symbolToCoinID(symbol); got != coinID {
			t.Errorf("%s: expected %s, got %s", symbol, coinID, got)
		}
	}
}

func TestPriceClientSendsAPIKey(t *testing.T) {
	var gotKey atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey.Store(r.Header.Get("x-cg-api-key"))
		w.Write([]byte(`{"ethereum":{"usd":3500}}`))
	}))
	defer server.Close()

	client := NewPriceClient(server.URL, "test-key", nil)
	if _, err := client.TokenPriceUSD(context.Background(), "ETH"); err != nil {
		t.Fatalf("TokenPriceUSD failed: %v", err)
	}
	if gotKey.Load() != "test-key" {
		t.Errorf("expected api key header, got %v", gotKey.Load())
	}
}

func TestPriceClientCachesQuotes(t *testing.T) {
	var hits atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(`{"dai":{"usd":1.0001}}`))
	}))
	defer server.Close()

	cache := storage.NewPriceCache(time.Minute)
	client := NewPriceClient(server.URL, "", cache)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		price, err := client.TokenPriceUSD(ctx, "DAI")
		if err != nil {
			t.Fatalf("TokenPriceUSD failed: %v", err)
		}
		if !price.Equal(decimal.RequireFromString("1.0001")) {
			t.Errorf("expected 1.0001, got %s", price)
		}
	}

	if hits.Load() != 1 {
		t.Errorf("expected 1 upstream fetch, got %d", hits.Load())
	}
}

func TestPriceClientUpstreamErrors(t *testing.T) {
	t.Run("http error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "upstream exploded", http.StatusInternalServerError)
		}))
		defer server.Close()

		client := NewPriceClient(server.URL, "", nil)
		if _, err := client.TokenPriceUSD(context.Background(), "ETH"); err == nil {
			t.Error("expected error for 500 response")
		}
	})

	t.Run("missing quote", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{}`))
		}))
		defer server.Close()

		client := NewPriceClient(server.URL, "", nil)
		if _, err := client.TokenPriceUSD(context.Background(), "ETH"); err == nil {
			t.Error("expected error for empty quote")
		}
	})

	t.Run("non-positive price", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"ethereum":{"usd":0}}`))
		}))
		defer server.Close()

		client := NewPriceClient(server.URL, "", nil)
		if _, err := client.TokenPriceUSD(context.Background(), "ETH"); err == nil {
			t.Error("expected error for zero price")
		}
	})
}
