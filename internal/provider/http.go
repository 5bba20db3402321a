package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync/atomic"
	"time"

	"github.com/copyclaw-trading/copyclaw/internal/gate"
	"github.com/copyclaw-trading/copyclaw/internal/wallet"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// HTTP provider — structured trade/market data, funneled through the gate
// ---------------------------------------------------------------------------

// HTTPConfig configures the data provider client.
type HTTPConfig struct {
	BaseURL    string        `yaml:"base_url"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

// DefaultHTTPConfig returns provider defaults.
func DefaultHTTPConfig() HTTPConfig {
	return HTTPConfig{
		Timeout:    10 * time.Second,
		MaxRetries: 3,
	}
}

// HTTPProvider fetches structured trade records over the provider's REST API.
// Every call acquires a credential from the gate; 429/5xx responses retry
// with a fresh credential and capped exponential backoff.
type HTTPProvider struct {
	config     HTTPConfig
	gate       *gate.Gate
	httpClient *http.Client

	requestCount atomic.Int64
	errorCount   atomic.Int64
}

// NewHTTPProvider creates a gate-backed provider client.
func NewHTTPProvider(config HTTPConfig, g *gate.Gate) *HTTPProvider {
	if config.Timeout <= 0 {
		config.Timeout = DefaultHTTPConfig().Timeout
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = DefaultHTTPConfig().MaxRetries
	}
	return &HTTPProvider{
		config:     config,
		gate:       g,
		httpClient: &http.Client{Timeout: config.Timeout},
	}
}

// tradeEvent is the provider's already-parsed swap event shape.
type tradeEvent struct {
	Wallet      string  `json:"wallet"`
	Token       string  `json:"token"`
	Side        string  `json:"side"`
	AmountSOL   float64 `json:"amount_sol"`
	AmountToken float64 `json:"amount_token"`
	Price       float64 `json:"price"`
	Timestamp   int64   `json:"timestamp"`
}

func (e tradeEvent) toRecord() wallet.TradeRecord {
	return wallet.TradeRecord{
		Wallet:      e.Wallet,
		Token:       e.Token,
		Side:        wallet.Side(e.Side),
		AmountSOL:   decimal.NewFromFloat(e.AmountSOL),
		AmountToken: decimal.NewFromFloat(e.AmountToken),
		Price:       decimal.NewFromFloat(e.Price),
		Timestamp:   time.Unix(e.Timestamp, 0).UTC(),
	}
}

// TradeHistory fetches the full trade history for a wallet.
func (p *HTTPProvider) TradeHistory(ctx context.Context, address string) ([]wallet.TradeRecord, error) {
	body, err := p.get(ctx, "/v0/wallets/"+url.PathEscape(address)+"/trades", nil)
	if err != nil {
		return nil, err
	}

	var events []tradeEvent
	if err := json.Unmarshal(body, &events); err != nil {
		return nil, fmt.Errorf("provider: parse trade history: %w", err)
	}
	return toRecords(events), nil
}

// RecentTransactions fetches the wallet's latest transactions only.
func (p *HTTPProvider) RecentTransactions(ctx context.Context, address string) ([]wallet.TradeRecord, error) {
	body, err := p.get(ctx, "/v0/wallets/"+url.PathEscape(address)+"/transactions",
		url.Values{"limit": {"25"}})
	if err != nil {
		return nil, err
	}

	var events []tradeEvent
	if err := json.Unmarshal(body, &events); err != nil {
		return nil, fmt.Errorf("provider: parse recent transactions: %w", err)
	}
	return toRecords(events), nil
}

// WalletBalance fetches the wallet's SOL balance.
func (p *HTTPProvider) WalletBalance(ctx context.Context, address string) (decimal.Decimal, error) {
	body, err := p.get(ctx, "/v0/wallets/"+url.PathEscape(address)+"/balance", nil)
	if err != nil {
		return decimal.Zero, err
	}

	var resp struct {
		SOL float64 `json:"sol"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return decimal.Zero, fmt.Errorf("provider: parse balance: %w", err)
	}
	return decimal.NewFromFloat(resp.SOL), nil
}

// TokenMarket fetches price, liquidity and market cap for a token.
func (p *HTTPProvider) TokenMarket(ctx context.Context, token string) (TokenMarket, error) {
	body, err := p.get(ctx, "/v0/tokens/"+url.PathEscape(token)+"/market", nil)
	if err != nil {
		return TokenMarket{}, err
	}

	var resp struct {
		PriceUSD     float64 `json:"price_usd"`
		LiquidityUSD float64 `json:"liquidity_usd"`
		MarketCapUSD float64 `json:"market_cap_usd"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return TokenMarket{}, fmt.Errorf("provider: parse token market: %w", err)
	}
	return TokenMarket{
		Token:        token,
		PriceUSD:     decimal.NewFromFloat(resp.PriceUSD),
		LiquidityUSD: resp.LiquidityUSD,
		MarketCapUSD: resp.MarketCapUSD,
	}, nil
}

// get performs one rate-limited GET with retry. A 429 or 5xx burns the
// attempt and the next one runs on a fresh credential; exhausting retries is
// a soft failure for the caller to skip.
func (p *HTTPProvider) get(ctx context.Context, path string, query url.Values) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= p.config.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * time.Second
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		cred, err := p.gate.Acquire(ctx)
		if err != nil {
			return nil, err
		}

		reqURL := p.config.BaseURL + path
		q := url.Values{}
		for k, vs := range query {
			q[k] = vs
		}
		q.Set("api-key", cred.Key)
		reqURL += "?" + q.Encode()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, fmt.Errorf("provider: create request: %w", err)
		}

		p.requestCount.Add(1)
		resp, err := p.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("provider: %s: %w", path, err)
			p.errorCount.Add(1)
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("provider: %s read response: %w", path, err)
			p.errorCount.Add(1)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("provider: %s HTTP %d", path, resp.StatusCode)
			p.errorCount.Add(1)
			log.Debug().Int("status", resp.StatusCode).Int("key", cred.Index).
				Str("path", path).Msg("provider: transient error, rotating credential")
			continue
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("provider: %s HTTP %d: %s", path, resp.StatusCode, string(body))
		}

		return body, nil
	}
	return nil, fmt.Errorf("provider: %s failed after %d attempts: %w",
		path, p.config.MaxRetries+1, lastErr)
}

// post performs one rate-limited POST. No retries: a swap must not be
// submitted twice.
func (p *HTTPProvider) post(ctx context.Context, path string, payload any) ([]byte, error) {
	cred, err := p.gate.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("provider: marshal payload: %w", err)
	}

	reqURL := p.config.BaseURL + path + "?api-key=" + url.QueryEscape(cred.Key)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("provider: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	p.requestCount.Add(1)
	resp, err := p.httpClient.Do(req)
	if err != nil {
		p.errorCount.Add(1)
		return nil, fmt.Errorf("provider: %s: %w", path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		p.errorCount.Add(1)
		return nil, fmt.Errorf("provider: %s read response: %w", path, err)
	}
	if resp.StatusCode != http.StatusOK {
		p.errorCount.Add(1)
		return nil, fmt.Errorf("provider: %s HTTP %d: %s", path, resp.StatusCode, string(respBody))
	}
	return respBody, nil
}

func toRecords(events []tradeEvent) []wallet.TradeRecord {
	records := make([]wallet.TradeRecord, 0, len(events))
	for _, e := range events {
		records = append(records, e.toRecord())
	}
	return records
}

// ProviderStats reports HTTP client counters.
type ProviderStats struct {
	Requests int64 `json:"requests"`
	Errors   int64 `json:"errors"`
}

func (p *HTTPProvider) Stats() ProviderStats {
	return ProviderStats{
		Requests: p.requestCount.Load(),
		Errors:   p.errorCount.Load(),
	}
}
