package provider

import (
	"context"

	"github.com/copyclaw-trading/copyclaw/internal/wallet"
	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Provider interfaces — the narrow capabilities the core consumes
// ---------------------------------------------------------------------------

// TokenMarket is the market context for one token.
type TokenMarket struct {
	Token        string          `json:"token"`
	PriceUSD     decimal.Decimal `json:"price_usd"`
	LiquidityUSD float64         `json:"liquidity_usd"`
	MarketCapUSD float64         `json:"market_cap_usd"`
}

// DataProvider yields structured trade records and wallet/token context. The
// upstream payload parser is a black box behind this interface; every
// implementation is expected to be rate-limited through the acquisition gate.
type DataProvider interface {
	TradeHistory(ctx context.Context, address string) ([]wallet.TradeRecord, error)
	RecentTransactions(ctx context.Context, address string) ([]wallet.TradeRecord, error)
	WalletBalance(ctx context.Context, address string) (decimal.Decimal, error)
	TokenMarket(ctx context.Context, token string) (TokenMarket, error)
}

// SwapExecutor submits buys and sells. Fire-and-forget once confirmed; the
// caller owns retries and timeouts, and widens slippageBps on each retry.
type SwapExecutor interface {
	ExecuteBuy(ctx context.Context, token string, amountSOL decimal.Decimal, slippageBps int) (string, error)
	ExecuteSell(ctx context.Context, token string, percent float64, slippageBps int) (string, error)
	TokenPrice(ctx context.Context, token string) (decimal.Decimal, error)
}
