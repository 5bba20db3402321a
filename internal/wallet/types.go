package wallet

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Wallet domain types — trade records and derived metric snapshots
// ---------------------------------------------------------------------------

// Side is the direction of a trade record.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

func (s Side) String() string { return string(s) }

// TradeRecord is one buy or sell event for a wallet/token pair, produced by
// the upstream transaction parser. Immutable once recorded.
type TradeRecord struct {
	Wallet      string          `json:"wallet"`
	Token       string          `json:"token"`
	Side        Side            `json:"side"`
	AmountSOL   decimal.Decimal `json:"amount_sol"`
	AmountToken decimal.Decimal `json:"amount_token"`
	Price       decimal.Decimal `json:"price"`
	Timestamp   time.Time       `json:"timestamp"`
}

// Validate rejects malformed records at the boundary, before they reach
// scoring. Upstream payloads are not trusted.
func (r TradeRecord) Validate() error {
	if r.Wallet == "" {
		return fmt.Errorf("trade record: empty wallet")
	}
	if r.Token == "" {
		return fmt.Errorf("trade record: empty token")
	}
	if r.Side != SideBuy && r.Side != SideSell {
		return fmt.Errorf("trade record: invalid side %q", r.Side)
	}
	if r.Timestamp.IsZero() {
		return fmt.Errorf("trade record: zero timestamp")
	}
	if r.AmountSOL.IsNegative() {
		return fmt.Errorf("trade record: negative SOL amount")
	}
	return nil
}

// FilterValid drops malformed records and returns the survivors plus the
// number dropped.
func FilterValid(records []TradeRecord) ([]TradeRecord, int) {
	valid := make([]TradeRecord, 0, len(records))
	dropped := 0
	for _, r := range records {
		if err := r.Validate(); err != nil {
			dropped++
			continue
		}
		valid = append(valid, r)
	}
	return valid, dropped
}

// Metrics is the derived performance snapshot for one wallet. Recomputed
// wholesale each discovery cycle; the previous snapshot is replaced.
type Metrics struct {
	Wallet     string          `json:"wallet"`
	BalanceSOL decimal.Decimal `json:"balance_sol"`

	TotalTrades  int `json:"total_trades"`
	ClosedTrades int `json:"closed_trades"`
	Trades30d    int `json:"trades_30d"`

	ROIPerTrade      float64 `json:"roi_per_trade"`
	TotalROI         float64 `json:"total_roi"`
	WinRate          float64 `json:"win_rate"`
	TradeFrequency   float64 `json:"trade_frequency"` // trades per day
	X10Ratio         float64 `json:"x10_ratio"`
	X20Ratio         float64 `json:"x20_ratio"`
	X50Ratio         float64 `json:"x50_ratio"`
	X100Ratio        float64 `json:"x100_ratio"`
	ProfitTokenRatio float64 `json:"profit_token_ratio"`
	MedianHoldTime   float64 `json:"median_hold_time_sec"`
	AvgBuySizeSOL    float64 `json:"avg_buy_size_sol"`
	BES              float64 `json:"bes"`

	ClusterID    int     `json:"cluster_id"`
	ClusterLabel string  `json:"cluster_label"`
	Priority     float64 `json:"priority_score"`
	Tier         string  `json:"tier"`

	ComputedAt time.Time `json:"computed_at"`
}
