package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Swap executor — buy/sell submission over the provider's swap endpoint
// ---------------------------------------------------------------------------

// ExecutorConfig configures the swap executor.
type ExecutorConfig struct {
	SlippageBps int `yaml:"slippage_bps"`
}

// HTTPExecutor submits swaps through the provider API and prices tokens in
// SOL via the market endpoint and the cached SOL/USD rate.
type HTTPExecutor struct {
	config   ExecutorConfig
	provider *HTTPProvider
	prices   *PriceService
}

// Compile-time interface check.
var _ SwapExecutor = (*HTTPExecutor)(nil)

// NewHTTPExecutor creates a swap executor sharing the provider's gate and
// HTTP client.
func NewHTTPExecutor(config ExecutorConfig, p *HTTPProvider, prices *PriceService) *HTTPExecutor {
	if config.SlippageBps <= 0 {
		config.SlippageBps = 100
	}
	return &HTTPExecutor{config: config, provider: p, prices: prices}
}

type swapResponse struct {
	Signature string `json:"signature"`
	Error     string `json:"error"`
}

// ExecuteBuy swaps amountSOL into the token and returns the transaction
// signature. Non-positive slippageBps falls back to the configured default.
func (e *HTTPExecutor) ExecuteBuy(ctx context.Context, token string, amountSOL decimal.Decimal, slippageBps int) (string, error) {
	payload := map[string]any{
		"token":        token,
		"amount_sol":   amountSOL.InexactFloat64(),
		"slippage_bps": e.slippage(slippageBps),
	}
	return e.submit(ctx, "/v0/swaps/buy", payload)
}

// ExecuteSell swaps percent of the held token amount back into SOL.
func (e *HTTPExecutor) ExecuteSell(ctx context.Context, token string, percent float64, slippageBps int) (string, error) {
	payload := map[string]any{
		"token":        token,
		"percent":      percent,
		"slippage_bps": e.slippage(slippageBps),
	}
	return e.submit(ctx, "/v0/swaps/sell", payload)
}

func (e *HTTPExecutor) slippage(slippageBps int) int {
	if slippageBps <= 0 {
		return e.config.SlippageBps
	}
	return slippageBps
}

func (e *HTTPExecutor) submit(ctx context.Context, path string, payload map[string]any) (string, error) {
	body, err := e.provider.post(ctx, path, payload)
	if err != nil {
		return "", err
	}

	var resp swapResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("provider: parse swap response: %w", err)
	}
	if resp.Error != "" {
		return "", fmt.Errorf("provider: swap rejected: %s", resp.Error)
	}
	if resp.Signature == "" {
		return "", fmt.Errorf("provider: swap response missing signature")
	}
	return resp.Signature, nil
}

// TokenPrice returns the token price in SOL, derived from the USD market
// price and the cached SOL/USD rate.
func (e *HTTPExecutor) TokenPrice(ctx context.Context, token string) (decimal.Decimal, error) {
	body, err := e.provider.get(ctx, "/v0/tokens/"+url.PathEscape(token)+"/market", nil)
	if err != nil {
		return decimal.Zero, err
	}

	var resp struct {
		PriceUSD float64 `json:"price_usd"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return decimal.Zero, fmt.Errorf("provider: parse token market: %w", err)
	}
	if resp.PriceUSD <= 0 {
		return decimal.Zero, fmt.Errorf("provider: no price for %s", token)
	}

	solUSD, err := e.prices.SOLPriceUSD(ctx)
	if err != nil {
		return decimal.Zero, fmt.Errorf("provider: sol price: %w", err)
	}
	if !solUSD.IsPositive() {
		return decimal.Zero, fmt.Errorf("provider: non-positive sol price")
	}
	return decimal.NewFromFloat(resp.PriceUSD).Div(solUSD), nil
}
