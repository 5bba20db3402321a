package trader

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/copyclaw-trading/copyclaw/internal/signal"
)

// ---------------------------------------------------------------------------
// Exit rules — priority-ordered evaluation of an open position
// ---------------------------------------------------------------------------

const (
	ReasonStopLoss    = "STOP_LOSS"
	ReasonTakeProfit1 = "TAKE_PROFIT_1"
	ReasonTakeProfit2 = "TAKE_PROFIT_2"
	ReasonStagnation  = "STAGNATION"
	ReasonManual      = "MANUAL"
	ReasonShutdown    = "SHUTDOWN"
)

// ExitConfig holds the staged-exit thresholds, all multiples of entry price.
type ExitConfig struct {
	StopLossMult  float64 `yaml:"stop_loss_mult"`  // full close at or below
	TP1Mult       float64 `yaml:"tp1_mult"`        // first take-profit trigger
	TP1SellPct    float64 `yaml:"tp1_sell_pct"`    // % of original sold at TP1
	TP2Mult       float64 `yaml:"tp2_mult"`        // second take-profit trigger
	TP2SellPct    float64 `yaml:"tp2_sell_pct"`    // % of remainder sold at TP2
	MomentumMult  float64 `yaml:"momentum_mult"`   // at or above, hold the runner
	StagnationPct float64 `yaml:"stagnation_pct"`  // band half-width, % of anchor
	StagnationFor time.Duration `yaml:"stagnation_for"` // time in band before exit
}

// DefaultExitConfig returns the standard staged-exit ladder.
func DefaultExitConfig() ExitConfig {
	return ExitConfig{
		StopLossMult:  0.80,
		TP1Mult:       1.50,
		TP1SellPct:    50,
		TP2Mult:       2.00,
		TP2SellPct:    50,
		MomentumMult:  2.20,
		StagnationPct: 2.0,
		StagnationFor: 10 * time.Minute,
	}
}

// ExitDecision is the outcome of one evaluation pass. SellPct is a percent
// of the REMAINING holding.
type ExitDecision struct {
	ShouldSell  bool
	SellPct     float64
	Reason      string
	IsFullClose bool
}

// Evaluate runs the exit chain against the position's CurrentPrice. Rules are
// checked in strict priority order; the first match wins. It mutates only the
// stagnation anchor; exit flags are set when the sell confirms, not here.
func (cfg ExitConfig) Evaluate(pos *Position, now time.Time) ExitDecision {
	if !pos.Active() || pos.RemainingPct <= 0 {
		return ExitDecision{}
	}

	price := pos.CurrentPrice
	entry := pos.EntryPrice
	if entry.IsZero() {
		return ExitDecision{}
	}
	mult, _ := price.Div(entry).Float64()

	// 1. Stop-loss outranks everything, including pending take-profits.
	if mult <= cfg.StopLossMult {
		return ExitDecision{ShouldSell: true, SellPct: 100, Reason: ReasonStopLoss, IsFullClose: true}
	}

	// 2. TP1: sell half the original size, once.
	if !pos.TP1Fired && mult >= cfg.TP1Mult {
		return ExitDecision{ShouldSell: true, SellPct: cfg.TP1SellPct, Reason: ReasonTakeProfit1}
	}

	// 3. TP2: sell half the remainder, once, only after TP1.
	if pos.TP1Fired && !pos.TP2Fired && mult >= cfg.TP2Mult {
		return ExitDecision{ShouldSell: true, SellPct: cfg.TP2SellPct, Reason: ReasonTakeProfit2}
	}

	// 4. Runner management after TP2.
	if pos.TP2Fired {
		// Momentum hold: while the runner is surging above the momentum
		// line it rides, and the stagnation clock does not run. Below the
		// line the price can stagnate, including at the TP2 level itself.
		if mult >= cfg.MomentumMult {
			pos.StagnationAnchor = price
			pos.StagnationSince = now
			return ExitDecision{}
		}
		if pos.StagnationAnchor.IsZero() {
			pos.StagnationAnchor = price
			pos.StagnationSince = now
			return ExitDecision{}
		}
		band := pos.StagnationAnchor.Mul(decimal.NewFromFloat(cfg.StagnationPct / 100.0))
		drift := price.Sub(pos.StagnationAnchor).Abs()
		if drift.GreaterThan(band) {
			// Price broke out of the band; restart the clock here.
			pos.StagnationAnchor = price
			pos.StagnationSince = now
			return ExitDecision{}
		}
		if now.Sub(pos.StagnationSince) >= cfg.StagnationFor {
			return ExitDecision{ShouldSell: true, SellPct: 100, Reason: ReasonStagnation, IsFullClose: true}
		}
	}

	return ExitDecision{}
}

// ---------------------------------------------------------------------------
// Entry guard
// ---------------------------------------------------------------------------

// EntryConfig gates which signals become positions and how they are sized.
type EntryConfig struct {
	MinSourceBES    float64 `yaml:"min_source_bes"`
	MinLiquidityUSD float64 `yaml:"min_liquidity_usd"`
	MinLast5WinRate float64 `yaml:"min_last5_win_rate"`
	MaxPositions    int     `yaml:"max_positions"`
	BalanceSpendPct float64 `yaml:"balance_spend_pct"` // % of balance per entry
}

// DefaultEntryConfig returns the standard entry gate.
func DefaultEntryConfig() EntryConfig {
	return EntryConfig{
		MinSourceBES:    1000,
		MinLiquidityUSD: 50_000,
		MinLast5WinRate: 0.80,
		MaxPositions:    3,
		BalanceSpendPct: 70,
	}
}

// CheckEntry applies the entry conditions to a claimed signal. openCount and
// hasToken reflect engine state captured in the same critical section that
// will open the position. A nil error means enter.
func (cfg EntryConfig) CheckEntry(sig signal.Signal, openCount int, hasToken bool) error {
	if sig.SourceBES <= cfg.MinSourceBES {
		return fmt.Errorf("source BES %.1f below %.1f", sig.SourceBES, cfg.MinSourceBES)
	}
	if sig.LiquidityUSD < cfg.MinLiquidityUSD {
		return fmt.Errorf("liquidity $%.0f below $%.0f", sig.LiquidityUSD, cfg.MinLiquidityUSD)
	}
	if sig.Last5WinRate < cfg.MinLast5WinRate {
		return fmt.Errorf("last-5 win rate %.2f below %.2f", sig.Last5WinRate, cfg.MinLast5WinRate)
	}
	if openCount >= cfg.MaxPositions {
		return fmt.Errorf("position limit reached (%d)", cfg.MaxPositions)
	}
	if hasToken {
		return fmt.Errorf("already holding %s", sig.Token)
	}
	return nil
}

// EntrySize is the SOL to spend for one entry at the current balance.
func (cfg EntryConfig) EntrySize(balance decimal.Decimal) decimal.Decimal {
	return balance.Mul(decimal.NewFromFloat(cfg.BalanceSpendPct / 100.0))
}
