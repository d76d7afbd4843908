package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alpaca-lotto/internal/logging"
)

// defaultGasOracleURL is the Etherscan-compatible gas tracker API
const defaultGasOracleURL = "https://api.etherscan.io/v2/api"

// defaultPurchaseGasUnits approximates the gas a sponsored ticket purchase
// burns, smart-account overhead included
const defaultPurchaseGasUnits = 180000

// gasQuoteTTL bounds how long one oracle quote is reused. Gas prices move per
// block, so quotes older than a few blocks are stale anyway.
const gasQuoteTTL = 15 * time.Second

// ethPriceSource converts the oracle's gwei quote into USD
type ethPriceSource interface {
	TokenPriceUSD(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// GasOracleClient reads the current gas price from an Etherscan-style gas
// tracker and converts it into the USD reference estimate the optimizer ranks
// tokens against.
type GasOracleClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	limiter    *tokenBucket
	ethPrice   ethPriceSource
	gasUnits   int64
	logger     *logging.Logger

	mu       sync.Mutex
	quote    decimal.Decimal
	quotedAt time.Time
}

// tokenBucket is a minimal token bucket limiter for the oracle's free tier
type tokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
}

func newTokenBucket(requestsPerSecond float64) *tokenBucket {
	return &tokenBucket{
		tokens:     requestsPerSecond,
		maxTokens:  requestsPerSecond,
		refillRate: requestsPerSecond,
		lastRefill: time.Now(),
	}
}

func (b *tokenBucket) wait() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	b.tokens += now.Sub(b.lastRefill).Seconds() * b.refillRate
	if b.tokens > b.maxTokens {
		b.tokens = b.maxTokens
	}
	b.lastRefill = now

	if b.tokens < 1 {
		waitTime := time.Duration((1 - b.tokens) / b.refillRate * float64(time.Second))
		b.mu.Unlock()
		time.Sleep(waitTime)
		b.mu.Lock()
		b.tokens = 0
		b.lastRefill = time.Now()
		return
	}
	b.tokens--
}

// NewGasOracleClient creates a gas tracker client. An empty baseURL selects
// the default public endpoint.
func NewGasOracleClient(baseURL, apiKey string, ethPrice ethPriceSource) *GasOracleClient {
	// Free tier allows 5 requests per second
	const requestsPerSecond = 5.0

	if baseURL == "" {
		baseURL = defaultGasOracleURL
	}
	return &GasOracleClient{
		apiKey:     apiKey,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		limiter:    newTokenBucket(requestsPerSecond),
		ethPrice:   ethPrice,
		gasUnits:   defaultPurchaseGasUnits,
		logger:     logging.GetGlobalLogger().WithField("component", "gas_oracle_client"),
	}
}

// SetGasUnits overrides the gas-units assumption behind the USD estimate
func (c *GasOracleClient) SetGasUnits(units int64) {
	if units > 0 {
		c.gasUnits = units
	}
}

// gasOracleResponse represents the gas tracker API envelope
type gasOracleResponse struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

// gasOracleResult represents the gas tracker quote
type gasOracleResult struct {
	SafeGasPrice    string `json:"SafeGasPrice"`
	ProposeGasPrice string `json:"ProposeGasPrice"`
	FastGasPrice    string `json:"FastGasPrice"`
	SuggestBaseFee  string `json:"suggestBaseFee"`
}

// ReferenceGasUSD returns the USD cost of one sponsored purchase at the
// oracle's proposed gas price. Quotes are reused within gasQuoteTTL.
func (c *GasOracleClient) ReferenceGasUSD(ctx context.Context) (decimal.Decimal, error) {
	c.mu.Lock()
	if !c.quotedAt.IsZero() && time.Since(c.quotedAt) < gasQuoteTTL {
		quote := c.quote
		c.mu.Unlock()
		return quote, nil
	}
	c.mu.Unlock()

	gasGwei, err := c.fetchProposedGasPrice(ctx)
	if err != nil {
		return decimal.Zero, err
	}

	ethUSD, err := c.ethPrice.TokenPriceUSD(ctx, "ETH")
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to price gas quote: %w", err)
	}

	// gwei * gasUnits / 1e9 = ETH burned; multiply by ETH/USD
	usd := gasGwei.
		Mul(decimal.NewFromInt(c.gasUnits)).
		Mul(ethUSD).
		Div(decimal.New(1, 9))

	c.mu.Lock()
	c.quote = usd
	c.quotedAt = time.Now()
	c.mu.Unlock()

	c.logger.WithFields(map[string]interface{}{
		"gasGwei":  gasGwei.String(),
		"gasUnits": c.gasUnits,
		"ethUsd":   ethUSD.String(),
		"usd":      usd.String(),
	}).Debug("Refreshed gas reference estimate")

	return usd, nil
}

// fetchProposedGasPrice reads the ProposeGasPrice quote in gwei
func (c *GasOracleClient) fetchProposedGasPrice(ctx context.Context) (decimal.Decimal, error) {
	c.limiter.wait()

	reqURL := fmt.Sprintf("%s?chainid=1&module=gastracker&action=gasoracle&apikey=%s", c.baseURL, c.apiKey)

	body, err := c.doRequest(ctx, reqURL)
	if err != nil {
		return decimal.Zero, err
	}

	var oracleResp gasOracleResponse
	if err := json.Unmarshal(body, &oracleResp); err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse gas oracle response: %w", err)
	}
	if oracleResp.Status != "1" {
		return decimal.Zero, fmt.Errorf("gas oracle error: %s (%s)", oracleResp.Message, string(oracleResp.Result))
	}

	var result gasOracleResult
	if err := json.Unmarshal(oracleResp.Result, &result); err != nil {
		return decimal.Zero, fmt.Errorf("failed to parse gas oracle result: %w", err)
	}

	gasGwei, err := decimal.NewFromString(result.ProposeGasPrice)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid gas price %q: %w", result.ProposeGasPrice, err)
	}
	if gasGwei.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("gas oracle returned non-positive price %s", gasGwei)
	}

	return gasGwei, nil
}

// doRequest performs one HTTP GET with retry on rate limiting (429)
func (c *GasOracleClient) doRequest(ctx context.Context, url string) ([]byte, error) {
	const maxRetries = 3
	baseDelay := 1 * time.Second

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("failed to make request: %w", err)
			if attempt < maxRetries {
				delay := baseDelay * time.Duration(1<<uint(attempt))
				if delay > 30*time.Second {
					delay = 30 * time.Second
				}
				select {
				case <-time.After(delay):
					continue
				case <-ctx.Done():
					return nil, fmt.Errorf("context cancelled: %w", ctx.Err())
				}
			}
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("rate limited (429)")
			if attempt < maxRetries {
				delay := baseDelay * time.Duration(1<<uint(attempt))
				if retryAfter := resp.Header.Get("Retry-After"); retryAfter != "" {
					if seconds, err := strconv.Atoi(retryAfter); err == nil {
						delay = time.Duration(seconds) * time.Second
					}
				}
				if delay > 30*time.Second {
					delay = 30 * time.Second
				}
				c.logger.Warnf("Gas oracle rate limited (attempt %d/%d), retrying in %v", attempt+1, maxRetries+1, delay)
				select {
				case <-time.After(delay):
					continue
				case <-ctx.Done():
					return nil, fmt.Errorf("context cancelled: %w", ctx.Err())
				}
			}
			continue
		}

		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("HTTP error: %d - %s", resp.StatusCode, string(body))
		}

		return body, nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}
