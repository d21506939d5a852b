package market

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// MaxAggTradesLimit is the largest page the aggTrades endpoint serves.
const MaxAggTradesLimit = 1000

// MarketDataClient wraps the public spot market data endpoints.
type MarketDataClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewMarketDataClient(testnet bool) *MarketDataClient {
	base := "https://api.binance.com"
	if testnet {
		base = "https://testnet.binance.vision"
	}
	return NewMarketDataClientWithBase(base)
}

// NewMarketDataClientWithBase points the client at an arbitrary host.
func NewMarketDataClientWithBase(base string) *MarketDataClient {
	return &MarketDataClient{
		baseURL:    base,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Ping checks connectivity.
func (c *MarketDataClient) Ping(ctx context.Context) error {
	_, err := c.do(ctx, "/api/v3/ping", nil)
	return err
}

// ServerTime fetches Binance server time (milliseconds).
func (c *MarketDataClient) ServerTime(ctx context.Context) (int64, error) {
	body, err := c.do(ctx, "/api/v3/time", nil)
	if err != nil {
		return 0, err
	}
	var resp struct {
		ServerTime int64 `json:"serverTime"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, err
	}
	return resp.ServerTime, nil
}

// AggTrades fetches one page of compressed trades starting at fromID.
// limit is clamped to [1, MaxAggTradesLimit].
func (c *MarketDataClient) AggTrades(ctx context.Context, symbol string, fromID uint64, limit int) ([]AggTrade, error) {
	if limit < 1 {
		limit = 1
	}
	if limit > MaxAggTradesLimit {
		limit = MaxAggTradesLimit
	}
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("fromId", strconv.FormatUint(fromID, 10))
	params.Set("limit", strconv.Itoa(limit))

	body, err := c.do(ctx, "/api/v3/aggTrades", params)
	if err != nil {
		return nil, err
	}
	var raw []aggTradeMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode aggTrades: %w", err)
	}
	out := make([]AggTrade, 0, len(raw))
	for _, r := range raw {
		t, err := r.toAggTrade()
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (c *MarketDataClient) do(ctx context.Context, path string, params url.Values) ([]byte, error) {
	u := c.baseURL + path
	if params != nil {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(res.Body)
	if res.StatusCode >= 300 {
		return nil, fmt.Errorf("binance market data %s status %d: %s", path, res.StatusCode, string(body))
	}
	return body, nil
}
