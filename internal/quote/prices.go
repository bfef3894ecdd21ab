// Package quote implements the external price and sports-result feed
// clients. Both are plain HTTP JSON APIs with bounded timeouts; feed
// unavailability is surfaced as the domain sentinel errors and never
// silently defaulted.
package quote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/wagerforge/wagerd/internal/domain"
)

// PriceClient fetches spot prices from a Coingecko-style endpoint:
// GET {base}/simple/price?ids=<id>&vs_currencies=usd
// -> {"<id>": {"usd": 12345.67}}
type PriceClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *slog.Logger
}

// NewPriceClient creates a PriceClient for the given base URL. The timeout
// bounds every request; zero defaults to 10 seconds.
func NewPriceClient(baseURL, apiKey string, timeout time.Duration, logger *slog.Logger) *PriceClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &PriceClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
		logger:  logger.With(slog.String("component", "price_feed")),
	}
}

// symbolIDs maps common ticker symbols to the feed's coin identifiers.
var symbolIDs = map[string]string{
	"BTC":   "bitcoin",
	"ETH":   "ethereum",
	"SOL":   "solana",
	"DOGE":  "dogecoin",
	"ADA":   "cardano",
	"XRP":   "ripple",
	"DOT":   "polkadot",
	"AVAX":  "avalanche-2",
	"LINK":  "chainlink",
	"MATIC": "matic-network",
}

// coinID resolves a ticker symbol to the feed identifier, falling back to
// the lowercased symbol for coins not in the map.
func coinID(symbol string) string {
	if id, ok := symbolIDs[strings.ToUpper(symbol)]; ok {
		return id
	}
	return strings.ToLower(symbol)
}

// PriceOf returns the current USD price for the given token symbol.
func (c *PriceClient) PriceOf(ctx context.Context, symbol string) (float64, error) {
	id := coinID(symbol)

	u := fmt.Sprintf("%s/simple/price?ids=%s&vs_currencies=usd", c.baseURL, url.QueryEscape(id))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: build request: %v", domain.ErrQuoteUnavailable, err)
	}
	if c.apiKey != "" {
		req.Header.Set("x-api-key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", domain.ErrQuoteUnavailable, symbol, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, fmt.Errorf("%w: %s: status %d: %s", domain.ErrQuoteUnavailable, symbol, resp.StatusCode, string(body))
	}

	var payload map[string]map[string]float64
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return 0, fmt.Errorf("%w: %s: decode: %v", domain.ErrQuoteUnavailable, symbol, err)
	}

	price, ok := payload[id]["usd"]
	if !ok || price <= 0 {
		return 0, fmt.Errorf("%w: no usd price for %s", domain.ErrQuoteUnavailable, symbol)
	}

	c.logger.DebugContext(ctx, "price fetched",
		slog.String("symbol", symbol),
		slog.Float64("price", price),
	)
	return price, nil
}

// CachedQuoteSource is a read-through cache in front of a QuoteSource. Cache
// hits within the freshness window skip the feed; fetches populate the cache
// best-effort.
type CachedQuoteSource struct {
	source domain.QuoteSource
	cache  domain.PriceCache
	maxAge time.Duration
	logger *slog.Logger
}

// NewCachedQuoteSource wraps source with the given cache. maxAge bounds how
// stale a cached price may be before the feed is consulted again.
func NewCachedQuoteSource(source domain.QuoteSource, cache domain.PriceCache, maxAge time.Duration, logger *slog.Logger) *CachedQuoteSource {
	return &CachedQuoteSource{
		source: source,
		cache:  cache,
		maxAge: maxAge,
		logger: logger.With(slog.String("component", "quote_cache")),
	}
}

// PriceOf returns a cached price when fresh enough, otherwise fetches from
// the underlying source and updates the cache.
func (c *CachedQuoteSource) PriceOf(ctx context.Context, symbol string) (float64, error) {
	if c.maxAge > 0 {
		price, ts, err := c.cache.GetPrice(ctx, symbol)
		if err == nil && time.Since(ts) <= c.maxAge {
			return price, nil
		}
		if err != nil && !errors.Is(err, domain.ErrNotFound) {
			c.logger.WarnContext(ctx, "price cache read failed",
				slog.String("symbol", symbol),
				slog.String("error", err.Error()),
			)
		}
	}

	price, err := c.source.PriceOf(ctx, symbol)
	if err != nil {
		return 0, err
	}

	if cacheErr := c.cache.SetPrice(ctx, symbol, price, time.Now().UTC()); cacheErr != nil {
		c.logger.WarnContext(ctx, "price cache write failed",
			slog.String("symbol", symbol),
			slog.String("error", cacheErr.Error()),
		)
	}
	return price, nil
}

// Compile-time interface checks.
var (
	_ domain.QuoteSource = (*PriceClient)(nil)
	_ domain.QuoteSource = (*CachedQuoteSource)(nil)
)
