package external

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/kjannette/botdash-backend/internal/httputil"
)

const DefaultPriceURL = "https://api.binance.com/api/v3/ticker/price"

// PriceClient reads spot prices for trading pairs from a Binance-style ticker endpoint.
type PriceClient struct {
	baseURL    string
	httpClient *http.Client
	retry      httputil.Policy
}

func NewPriceClient(baseURL string) *PriceClient {
	if baseURL == "" {
		baseURL = DefaultPriceURL
	}
	return &PriceClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		retry: httputil.Policy{
			Upstream:   "prices",
			Attempts:   3,
			Backoff:    2 * time.Second,
			MaxBackoff: 10 * time.Second,
		},
	}
}

// GetPrices returns the last price per pair. Pairs the exchange does not list
// are absent from the result.
func (c *PriceClient) GetPrices(ctx context.Context, pairs []string) (map[string]float64, error) {
	out := make(map[string]float64, len(pairs))
	if len(pairs) == 0 {
		return out, nil
	}

	symbols, _ := json.Marshal(pairs)
	u := c.baseURL + "?symbols=" + url.QueryEscape(string(symbols))

	var tickers []struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	err := c.retry.JSON(ctx, c.httpClient, func() (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	}, &tickers)
	if err != nil {
		return nil, fmt.Errorf("price fetch: %w", err)
	}

	for _, t := range tickers {
		p, err := strconv.ParseFloat(t.Price, 64)
		if err != nil || p <= 0 {
			log.Warnf("skipping invalid price %q for %s", t.Price, t.Symbol)
			continue
		}
		out[t.Symbol] = p
	}
	return out, nil
}
