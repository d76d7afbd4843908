package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alpaca-lotto/internal/logging"
	"github.com/alpaca-lotto/internal/storage"
)

// defaultPriceAPIURL is the CoinGecko simple-price API
const defaultPriceAPIURL = "https://api.coingecko.com/api/v3"

// PriceClient fetches token USD prices for the optimizer. Lookups go through
// the in-memory price cache; concurrent misses for the same symbol share one
// upstream request.
type PriceClient struct {
	apiKey     string
	httpClient *http.Client
	baseURL    string
	cache      *storage.PriceCache
	logger     *logging.Logger
}

// NewPriceClient creates a price API client. An empty baseURL selects the
// default public endpoint.
func NewPriceClient(baseURL, apiKey string, cache *storage.PriceCache) *PriceClient {
	if baseURL == "" {
		baseURL = defaultPriceAPIURL
	}
	return &PriceClient{
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    strings.TrimRight(baseURL, "/"),
		cache:      cache,
		logger:     logging.GetGlobalLogger().WithField("component", "price_client"),
	}
}

// symbolToCoinID maps token symbols onto price API coin ids. Unknown symbols
// fall through to their lowercased form.
func symbolToCoinID(symbol string) string {
	switch strings.ToUpper(symbol) {
	case "ETH", "WETH":
		return "ethereum"
	case "USDC":
		return "usd-coin"
	case "USDT":
		return "tether"
	case "DAI":
		return "dai"
	case "WBTC":
		return "wrapped-bitcoin"
	case "ARB":
		return "arbitrum"
	case "OP":
		return "optimism"
	case "MATIC", "POL":
		return "matic-network"
	case "ALPACA":
		return "alpaca-finance"
	default:
		return strings.ToLower(symbol)
	}
}

// TokenPriceUSD returns the USD price for a token symbol, served from cache
// when fresh
func (c *PriceClient) TokenPriceUSD(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if c.cache == nil {
		return c.fetchPrice(ctx, symbol)
	}
	return c.cache.Get(ctx, symbol, c.fetchPrice)
}

// fetchPrice reads one price from the upstream API
func (c *PriceClient) fetchPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	coinID := symbolToCoinID(symbol)
	reqURL := fmt.Sprintf("%s/simple/price?ids=%s&vs_currencies=usd",
		c.baseURL, url.QueryEscape(coinID))

	req, err := http.NewRequestWithContext(ctx, "GET", reqURL, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-cg-api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to fetch price: %w", err)
	}

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to read price response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("price API error: status=%d, body=%s", resp.StatusCode, string(body))
	}

	// Response shape: {"<coin-id>":{"usd":1234.56}}
	var priceResp map[string]map[string]json.Number
	if err := json.Unmarshal(body, &priceResp); err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse price response: %w", err)
	}

	quote, ok := priceResp[coinID]
	if !ok {
		return decimal.Zero, fmt.Errorf("price API returned no quote for %s (%s)", symbol, coinID)
	}
	raw, ok := quote["usd"]
	if !ok {
		return decimal.Zero, fmt.Errorf("price API returned no usd quote for %s", symbol)
	}

	price, err := decimal.NewFromString(raw.String())
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid price %q for %s: %w", raw.String(), symbol, err)
	}
	if price.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("price API returned non-positive price %s for %s", price, symbol)
	}

	c.logger.WithFields(map[string]interface{}{
		"symbol": symbol,
		"coinId": coinID,
		"price":  price.String(),
	}).Debug("Fetched token price")

	return price, nil
}
